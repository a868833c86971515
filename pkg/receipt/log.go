package receipt

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/caster-net/caster/pkg/models"
)

var (
	// ErrDuplicateReceipt indicates an append with an already-recorded id.
	ErrDuplicateReceipt = errors.New("duplicate receipt id")
)

// Log is the process-global, append-only store of tool call receipts,
// indexed by receipt id and by session id. Receipts are immutable once
// appended; callers must not mutate returned records.
type Log struct {
	mu        sync.RWMutex
	byID      map[uuid.UUID]*models.Receipt
	bySession map[uuid.UUID][]*models.Receipt
}

// NewLog creates an empty receipt log.
func NewLog() *Log {
	return &Log{
		byID:      make(map[uuid.UUID]*models.Receipt),
		bySession: make(map[uuid.UUID][]*models.Receipt),
	}
}

// Append records a receipt. The receipt becomes visible to readers only
// after Append returns.
func (l *Log) Append(r *models.Receipt) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[r.ID]; exists {
		return ErrDuplicateReceipt
	}
	l.byID[r.ID] = r
	l.bySession[r.SessionID] = append(l.bySession[r.SessionID], r)
	return nil
}

// Get returns the receipt with the given id.
func (l *Log) Get(id uuid.UUID) (*models.Receipt, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.byID[id]
	return r, ok
}

// GetForSession returns the receipt only if it was recorded under the given
// session. This is the lookup citation hydration must use: receipts from
// other sessions are invisible.
func (l *Log) GetForSession(sessionID, receiptID uuid.UUID) (*models.Receipt, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.byID[receiptID]
	if !ok || r.SessionID != sessionID {
		return nil, false
	}
	return r, true
}

// BySession returns the session's receipts in append order.
func (l *Log) BySession(sessionID uuid.UUID) []*models.Receipt {
	l.mu.RLock()
	defer l.mu.RUnlock()

	receipts := l.bySession[sessionID]
	out := make([]*models.Receipt, len(receipts))
	copy(out, receipts)
	return out
}

// ClearSession drops all receipts recorded under the session and returns
// how many were removed.
func (l *Log) ClearSession(sessionID uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	receipts := l.bySession[sessionID]
	for _, r := range receipts {
		delete(l.byID, r.ID)
	}
	delete(l.bySession, sessionID)
	return len(receipts)
}

// Len returns the total number of recorded receipts.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.byID)
}
