package domain

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProposal(t *testing.T) *MatchProposal {
	t.Helper()
	buyer := newTestParticipant("alice", SideBuy, "100", "1.00", 0.9)
	seller := newTestParticipant("bob", SideSell, "80", "1.00", 0.8)
	return NewMatchProposal("MTC-1", buyer, seller, decimal.RequireFromString("1.00"), 0.95, time.Now())
}

func TestNewMatchProposal_Snapshots(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	buyer := newTestParticipant("alice", SideBuy, "100", "1.00", 0.9)
	seller := newTestParticipant("bob", SideSell, "80", "1.00", 0.8)

	p := NewMatchProposal("MTC-1", buyer, seller, decimal.RequireFromString("1.00"), 0.95, now)

	assert.Equal(t, ProposalStatusProposed, p.Status)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("80")), "amount is min of both sides")
	assert.InDelta(t, 0.8, p.TrustScore, 1e-9, "trust is min of both sides")
	assert.Equal(t, now.Add(ProposalResponseWindow), p.ExpiresAt)

	// Snapshots must not track later mutations of the live participant.
	buyer.TrustScore = 0.1
	assert.InDelta(t, 0.9, p.ParticipantA.TrustScore, 1e-9)
}

func TestProposal_AcceptLifecycle(t *testing.T) {
	ctx := context.Background()
	p := newTestProposal(t)

	require.NoError(t, p.Accept(ctx, "alice"))
	assert.Equal(t, ProposalStatusAccepted, p.Status)
	assert.True(t, p.Terminal())

	// Second accept reports the terminal state instead of a duplicate transition.
	assert.ErrorIs(t, p.Accept(ctx, "bob"), ErrProposalNotActive)
	assert.Equal(t, ProposalStatusAccepted, p.Status)
}

func TestProposal_RejectRecordsRejecter(t *testing.T) {
	ctx := context.Background()
	p := newTestProposal(t)

	require.NoError(t, p.Reject(ctx, "bob"))
	assert.Equal(t, ProposalStatusRejected, p.Status)
	assert.Equal(t, "bob", p.RejectedBy)

	assert.ErrorIs(t, p.Accept(ctx, "alice"), ErrProposalNotActive)
}

func TestProposal_StrangerNotAuthorized(t *testing.T) {
	ctx := context.Background()
	p := newTestProposal(t)

	assert.ErrorIs(t, p.Accept(ctx, "mallory"), ErrNotAuthorized)
	assert.ErrorIs(t, p.Reject(ctx, "mallory"), ErrNotAuthorized)
	assert.Equal(t, ProposalStatusProposed, p.Status)
}

func TestProposal_Expire(t *testing.T) {
	ctx := context.Background()
	p := newTestProposal(t)

	assert.False(t, p.Due(p.CreatedAt.Add(29*time.Second)))
	assert.True(t, p.Due(p.CreatedAt.Add(30*time.Second)))

	require.NoError(t, p.Expire(ctx))
	assert.Equal(t, ProposalStatusExpired, p.Status)
	assert.False(t, p.Due(p.CreatedAt.Add(time.Minute)), "terminal proposals are never due again")

	assert.ErrorIs(t, p.Accept(ctx, "alice"), ErrProposalNotActive)
	assert.ErrorIs(t, p.Expire(ctx), ErrProposalNotActive)
}

func TestProposal_OtherParty(t *testing.T) {
	p := newTestProposal(t)

	assert.Equal(t, "bob", p.OtherParty("alice").UserID)
	assert.Equal(t, "alice", p.OtherParty("bob").UserID)
	assert.True(t, p.IsParty("alice"))
	assert.False(t, p.IsParty("mallory"))
}
