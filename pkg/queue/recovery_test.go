package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caster-net/caster/pkg/models"
)

type fakeRecoveryStore struct {
	orphans    int64
	orphansErr error
	received   []*models.Batch
	listErr    error
	marked     bool
}

func (f *fakeRecoveryStore) MarkOrphansInterrupted(context.Context) (int64, error) {
	f.marked = true
	return f.orphans, f.orphansErr
}

func (f *fakeRecoveryStore) ListReceived(context.Context) ([]*models.Batch, error) {
	return f.received, f.listErr
}

func TestRecoverStartupStateRequeuesReceived(t *testing.T) {
	store := &fakeRecoveryStore{
		orphans: 2,
		received: []*models.Batch{
			{ID: "b-1", CutoffAt: time.Now().Add(time.Hour)},
			{ID: "b-2", CutoffAt: time.Now().Add(-time.Hour)},
		},
	}
	inbox := NewInbox(4)

	require.NoError(t, RecoverStartupState(context.Background(), store, inbox, testLogger()))

	assert.True(t, store.marked)
	assert.Equal(t, 2, inbox.Len(), "past-cutoff batches are requeued too")
}

func TestRecoverStartupStateOrphanFailureIsFatal(t *testing.T) {
	store := &fakeRecoveryStore{orphansErr: errors.New("db down")}
	err := RecoverStartupState(context.Background(), store, NewInbox(1), testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orphaned")
}

func TestRecoverStartupStateFullInboxIsNotFatal(t *testing.T) {
	store := &fakeRecoveryStore{
		received: []*models.Batch{{ID: "b-1"}, {ID: "b-2"}},
	}
	inbox := NewInbox(1)

	require.NoError(t, RecoverStartupState(context.Background(), store, inbox, testLogger()))
	assert.Equal(t, 1, inbox.Len(), "overflow stays RECEIVED in the ledger")
}
