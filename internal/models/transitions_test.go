package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionAllowList(t *testing.T) {
	legal := []BucketTransition{
		{From: BalanceAvailable, To: BalanceEscrow},
		{From: BalanceEscrow, To: BalanceAvailable},
		{From: BalanceEscrow, To: BalanceEarned},
		{From: BalanceEarned, To: BalanceAvailable},
	}
	for _, tr := range legal {
		assert.True(t, tr.Legal(), tr.String())
	}

	illegal := []BucketTransition{
		{From: BalanceEarned, To: BalanceEscrow},
		{From: BalanceAvailable, To: BalanceEarned},
		{From: BalanceAvailable, To: BalanceAvailable},
		{From: BalanceEarned, To: BalanceEarned},
	}
	for _, tr := range illegal {
		assert.False(t, tr.Legal(), tr.String())
	}
}

func TestParseTransition(t *testing.T) {
	tr, err := ParseTransition("available->escrow")
	require.NoError(t, err)
	assert.Equal(t, BucketTransition{From: BalanceAvailable, To: BalanceEscrow}, tr)
	assert.Equal(t, "available->escrow", tr.String())

	_, err = ParseTransition("available+100")
	assert.Error(t, err)

	_, err = ParseTransition("available->nowhere")
	assert.Error(t, err)
}

func TestDirectTransition(t *testing.T) {
	assert.Equal(t, "available+100", DirectTransition(BalanceAvailable, 100))
	assert.Equal(t, "available-30", DirectTransition(BalanceAvailable, -30))
	assert.Equal(t, "earned+5", DirectTransition(BalanceEarned, 5))
}

func TestReservationStatusTerminal(t *testing.T) {
	assert.False(t, ReservationActive.Terminal())
	assert.True(t, ReservationCommitted.Terminal())
	assert.True(t, ReservationReleased.Terminal())
	assert.True(t, ReservationExpired.Terminal())
}
