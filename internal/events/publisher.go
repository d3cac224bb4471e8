// Package events defines the outbound balance-changed notification
// collaborator. Publishing is best-effort and fire-and-forget: a failure
// here never rolls back an already-committed ledger write.
package events

import (
	"time"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/models"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/utils"
)

// BucketDelta is one bucket-level movement inside a balance change.
type BucketDelta struct {
	Bucket models.BalanceState `json:"bucket"`
	Amount int64               `json:"amount"`
}

// BalanceChanged describes a committed ledger mutation for downstream
// consumers (wallet cache, notification fan-out).
type BalanceChanged struct {
	AccountID   string             `json:"accountId"`
	AccountType models.AccountType `json:"accountType"`
	Deltas      []BucketDelta      `json:"deltas"`
	Reason      models.Reason      `json:"reason"`
	RequestID   string             `json:"requestId"`
	OccurredAt  time.Time          `json:"occurredAt"`
}

// TotalDelta is the net change across all buckets (zero for pure bucket
// moves such as a reservation hold).
func (e BalanceChanged) TotalDelta() int64 {
	var total int64
	for _, d := range e.Deltas {
		total += d.Amount
	}
	return total
}

// Publisher delivers balance-changed events to interested collaborators.
type Publisher interface {
	PublishBalanceChanged(evt BalanceChanged)
}

// LogPublisher writes events to the application log. It stands in where
// no message broker is wired up.
type LogPublisher struct {
	logger *utils.Logger
}

func NewLogPublisher(logger *utils.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishBalanceChanged(evt BalanceChanged) {
	p.logger.Info("balance changed: account=%s type=%s reason=%s delta=%d requestId=%s",
		evt.AccountID, evt.AccountType, evt.Reason, evt.TotalDelta(), evt.RequestID)
}

// Fanout delivers each event to every wrapped publisher in order.
type Fanout []Publisher

func (f Fanout) PublishBalanceChanged(evt BalanceChanged) {
	for _, p := range f {
		p.PublishBalanceChanged(evt)
	}
}
