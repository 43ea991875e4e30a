package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MattCruikshank/templatebot/internal/errors"
	"github.com/MattCruikshank/templatebot/internal/models"
)

// Waiter hands incoming messages to conversations waiting for a reply.
type Waiter struct {
	mu      sync.Mutex
	pending []*Pending
}

// Pending is a registered wait for one author in one channel.
type Pending struct {
	waiter    *Waiter
	authorID  string
	channelID string
	ch        chan models.Message
}

// NewWaiter creates a Waiter.
func NewWaiter() *Waiter {
	return &Waiter{}
}

// Expect registers a wait for the next message from authorID in channelID.
// Registering before prompting the user means a fast reply is not lost.
func (w *Waiter) Expect(authorID, channelID string) *Pending {
	p := &Pending{
		waiter:    w,
		authorID:  authorID,
		channelID: channelID,
		ch:        make(chan models.Message, 1),
	}
	w.mu.Lock()
	w.pending = append(w.pending, p)
	w.mu.Unlock()
	return p
}

// Dispatch delivers msg to the oldest wait it matches and reports whether
// it was consumed. Messages that match no wait are left alone.
func (w *Waiter) Dispatch(msg models.Message) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, p := range w.pending {
		if p.authorID != msg.Author.ID || p.channelID != msg.ChannelID {
			continue
		}
		w.pending = append(w.pending[:i], w.pending[i+1:]...)
		p.ch <- msg
		return true
	}
	return false
}

// Len returns the number of waits in progress.
func (w *Waiter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Wait is Expect followed by Pending.Wait.
func (w *Waiter) Wait(ctx context.Context, authorID, channelID string, timeout time.Duration) (models.Message, error) {
	return w.Expect(authorID, channelID).Wait(ctx, timeout)
}

// Wait blocks until the reply arrives, ctx is done or timeout elapses. A
// timeout of zero or less waits on ctx alone. The wait is removed on
// return.
func (p *Pending) Wait(ctx context.Context, timeout time.Duration) (models.Message, error) {
	defer p.Cancel()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case msg := <-p.ch:
		return msg, nil
	case <-expired:
		return models.Message{}, fmt.Errorf("no reply after %s: %w", timeout, errors.ErrTimeout)
	case <-ctx.Done():
		return models.Message{}, fmt.Errorf("%w: %w", errors.ErrCanceled, ctx.Err())
	}
}

// Cancel removes the wait. It is safe to call more than once.
func (p *Pending) Cancel() {
	w := p.waiter
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, q := range w.pending {
		if q == p {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			return
		}
	}
}
