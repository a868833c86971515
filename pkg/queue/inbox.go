// Package queue runs batches: a bounded inbox feeds a single background
// worker, which schedules each batch's candidates sequentially, records
// exactly one outcome per (candidate, claim), and forwards the finished
// batch to the platform and the chain.
package queue

import (
	"errors"

	"github.com/caster-net/caster/pkg/models"
)

// ErrInboxFull indicates the inbox is at capacity; the caller should
// surface backpressure rather than block intake.
var ErrInboxFull = errors.New("batch inbox full")

// defaultInboxCapacity bounds how many accepted batches may wait for the
// worker. Intake rows are durable, so a full inbox loses nothing: startup
// recovery requeues batches still in RECEIVED.
const defaultInboxCapacity = 16

// Inbox is the bounded hand-off between batch intake and the worker.
type Inbox struct {
	ch chan *models.Batch
}

// NewInbox creates an inbox. capacity below 1 uses the default.
func NewInbox(capacity int) *Inbox {
	if capacity < 1 {
		capacity = defaultInboxCapacity
	}
	return &Inbox{ch: make(chan *models.Batch, capacity)}
}

// Enqueue hands a batch to the worker without blocking.
func (i *Inbox) Enqueue(batch *models.Batch) error {
	select {
	case i.ch <- batch:
		return nil
	default:
		return ErrInboxFull
	}
}

// Len returns how many batches are waiting.
func (i *Inbox) Len() int {
	return len(i.ch)
}
