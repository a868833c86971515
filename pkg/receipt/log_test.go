package receipt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caster-net/caster/pkg/models"
)

func newTestReceipt(sessionID uuid.UUID, tool string) *models.Receipt {
	return &models.Receipt{
		ID:        uuid.New(),
		SessionID: sessionID,
		UID:       42,
		Tool:      tool,
		IssuedAt:  time.Now().UTC(),
		Outcome:   models.OutcomeOK,
		Policy:    models.PolicyReferenceable,
	}
}

func TestLogAppendAndGet(t *testing.T) {
	log := NewLog()
	sessionID := uuid.New()
	r := newTestReceipt(sessionID, "search_web")

	require.NoError(t, log.Append(r))

	got, ok := log.Get(r.ID)
	require.True(t, ok)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, 1, log.Len())
}

func TestLogRejectsDuplicateID(t *testing.T) {
	log := NewLog()
	r := newTestReceipt(uuid.New(), "search_web")

	require.NoError(t, log.Append(r))
	assert.ErrorIs(t, log.Append(r), ErrDuplicateReceipt)
}

func TestLogSessionScopedLookup(t *testing.T) {
	log := NewLog()
	sessionA := uuid.New()
	sessionB := uuid.New()
	r := newTestReceipt(sessionA, "search_web")
	require.NoError(t, log.Append(r))

	// Visible under the owning session.
	got, ok := log.GetForSession(sessionA, r.ID)
	require.True(t, ok)
	assert.Equal(t, r.ID, got.ID)

	// Invisible under any other session.
	_, ok = log.GetForSession(sessionB, r.ID)
	assert.False(t, ok)
}

func TestLogBySessionPreservesAppendOrder(t *testing.T) {
	log := NewLog()
	sessionID := uuid.New()

	first := newTestReceipt(sessionID, "search_web")
	second := newTestReceipt(sessionID, "search_x")
	third := newTestReceipt(sessionID, "llm_chat")
	for _, r := range []*models.Receipt{first, second, third} {
		require.NoError(t, log.Append(r))
	}

	receipts := log.BySession(sessionID)
	require.Len(t, receipts, 3)
	assert.Equal(t, first.ID, receipts[0].ID)
	assert.Equal(t, second.ID, receipts[1].ID)
	assert.Equal(t, third.ID, receipts[2].ID)
}

func TestLogClearSession(t *testing.T) {
	log := NewLog()
	keep := uuid.New()
	clear := uuid.New()

	require.NoError(t, log.Append(newTestReceipt(keep, "search_web")))
	cleared := newTestReceipt(clear, "search_web")
	require.NoError(t, log.Append(cleared))
	require.NoError(t, log.Append(newTestReceipt(clear, "search_x")))

	n := log.ClearSession(clear)
	assert.Equal(t, 2, n)
	assert.Empty(t, log.BySession(clear))
	assert.Len(t, log.BySession(keep), 1)

	// Cleared receipts are gone from the id index too.
	_, ok := log.Get(cleared.ID)
	assert.False(t, ok)
}

func TestLogClearUnknownSessionIsNoop(t *testing.T) {
	log := NewLog()
	assert.Equal(t, 0, log.ClearSession(uuid.New()))
}
