package models

import (
	"fmt"
	"strings"
)

// BucketTransition is a semantic move of points between balance buckets.
// A zero From means the entry credits or debits a single bucket directly.
type BucketTransition struct {
	From BalanceState
	To   BalanceState
}

// The complete allow-list of legal bucket moves:
//
//	available -> escrow   points held by a reservation
//	escrow    -> available hold released or expired
//	escrow    -> earned   hold committed, points settle as earnings
//	earned    -> available earnings redeemed back to spendable balance
//
// Everything else is illegal. In particular earned -> escrow (earnings can
// never be re-held) and available -> earned (earning must settle through
// escrow) are rejected.
var legalTransitions = map[BucketTransition]bool{
	{From: BalanceAvailable, To: BalanceEscrow}: true,
	{From: BalanceEscrow, To: BalanceAvailable}: true,
	{From: BalanceEscrow, To: BalanceEarned}:    true,
	{From: BalanceEarned, To: BalanceAvailable}: true,
}

// Legal reports whether the transition is on the allow-list.
func (t BucketTransition) Legal() bool {
	return legalTransitions[t]
}

func (t BucketTransition) String() string {
	return fmt.Sprintf("%s->%s", t.From, t.To)
}

// ParseTransition parses a "from->to" state transition string. Direct
// single-bucket encodings such as "available+100" are not transitions and
// return an error here; callers handle them separately.
func ParseTransition(s string) (BucketTransition, error) {
	parts := strings.Split(s, "->")
	if len(parts) != 2 {
		return BucketTransition{}, fmt.Errorf("malformed state transition %q", s)
	}
	from := BalanceState(strings.TrimSpace(parts[0]))
	to := BalanceState(strings.TrimSpace(parts[1]))
	if !from.Valid() || !to.Valid() {
		return BucketTransition{}, fmt.Errorf("unknown balance bucket in transition %q", s)
	}
	return BucketTransition{From: from, To: to}, nil
}

// DirectTransition encodes a single-bucket credit or debit, e.g.
// "available+100" or "available-30".
func DirectTransition(bucket BalanceState, amount int64) string {
	if amount < 0 {
		return fmt.Sprintf("%s%d", bucket, amount)
	}
	return fmt.Sprintf("%s+%d", bucket, amount)
}
