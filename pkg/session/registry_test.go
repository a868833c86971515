package session

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caster-net/caster/pkg/models"
)

func newTestSession() *models.Session {
	now := time.Now().UTC()
	return &models.Session{
		ID:        uuid.New(),
		UID:       7,
		ClaimID:   "claim-1",
		IssuedAt:  now,
		ExpiresAt: now.Add(10 * time.Minute),
		BudgetUSD: 0.05,
		Status:    models.SessionActive,
	}
}

func TestRegistryCreateGet(t *testing.T) {
	reg := NewRegistry()
	s := newTestSession()

	require.NoError(t, reg.Create(s))

	got, err := reg.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, models.SessionActive, got.Status)
}

func TestRegistryCreateDuplicate(t *testing.T) {
	reg := NewRegistry()
	s := newTestSession()

	require.NoError(t, reg.Create(s))
	assert.ErrorIs(t, reg.Create(s), ErrDuplicateSession)
}

func TestRegistryGetUnknown(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryReturnsClones(t *testing.T) {
	reg := NewRegistry()
	s := newTestSession()
	require.NoError(t, reg.Create(s))

	got, err := reg.Get(s.ID)
	require.NoError(t, err)
	got.Usage.TotalCostUSD = 999 // mutating the copy must not leak back

	again, err := reg.Get(s.ID)
	require.NoError(t, err)
	assert.Zero(t, again.Usage.TotalCostUSD)
}

func TestRegistryUpdate(t *testing.T) {
	reg := NewRegistry()
	s := newTestSession()
	require.NoError(t, reg.Create(s))

	s.Usage.TotalCostUSD = 0.01
	require.NoError(t, reg.Update(s))

	got, err := reg.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.01, got.Usage.TotalCostUSD)
}

func TestRegistryUpdateUnknown(t *testing.T) {
	reg := NewRegistry()
	assert.ErrorIs(t, reg.Update(newTestSession()), ErrNotFound)
}

func TestRegistryTransitionMonotonic(t *testing.T) {
	reg := NewRegistry()
	s := newTestSession()
	require.NoError(t, reg.Create(s))

	updated, err := reg.Transition(s.ID, models.SessionCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, updated.Status)

	// Terminal → different terminal is rejected.
	_, err = reg.Transition(s.ID, models.SessionError)
	assert.ErrorIs(t, err, ErrTerminalStatus)

	// Terminal → same terminal is a no-op.
	updated, err = reg.Transition(s.ID, models.SessionCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, updated.Status)
}

func TestRegistryDelete(t *testing.T) {
	reg := NewRegistry()
	s := newTestSession()
	require.NoError(t, reg.Create(s))

	reg.Delete(s.ID)
	_, err := reg.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Idempotent.
	reg.Delete(s.ID)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := newTestSession()
			require.NoError(t, reg.Create(s))
			_, err := reg.Get(s.ID)
			require.NoError(t, err)
			s.Usage.TotalCostUSD = 0.001
			require.NoError(t, reg.Update(s))
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, reg.Len())
}

func TestRegistryMutate(t *testing.T) {
	reg := NewRegistry()
	s := newTestSession()
	require.NoError(t, reg.Create(s))

	t.Run("applies the mutation atomically", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := reg.Mutate(s.ID, func(live *models.Session) error {
					live.Usage.TotalCostUSD += 0.001
					return nil
				})
				require.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := reg.Get(s.ID)
		require.NoError(t, err)
		assert.InDelta(t, 0.05, got.Usage.TotalCostUSD, 1e-9)
	})

	t.Run("fn error aborts", func(t *testing.T) {
		before, err := reg.Get(s.ID)
		require.NoError(t, err)

		_, err = reg.Mutate(s.ID, func(live *models.Session) error {
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		after, err := reg.Get(s.ID)
		require.NoError(t, err)
		assert.Equal(t, before.Usage.TotalCostUSD, after.Usage.TotalCostUSD)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := reg.Mutate(uuid.New(), func(*models.Session) error { return nil })
		require.ErrorIs(t, err, ErrNotFound)
	})
}
