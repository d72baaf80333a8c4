// Package typing implements the typing indicator: debounced local sends and
// remote typing state that expires on its own.
package typing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultQuietPeriod is how long the local "typing" state survives
	// without a new edge before an implicit stop is sent.
	DefaultQuietPeriod = 2000 * time.Millisecond

	sendTimeout = 5 * time.Second
)

// Sender delivers the local typing state to the server.
type Sender interface {
	SetTyping(ctx context.Context, conversationID int64, isTyping bool) error
}

// Indicator is the two-state (idle, typing) machine for one conversation.
// Network traffic happens only on state edges, from a single worker. Edges
// that flip back while a send is in flight collapse into the latest state,
// so a slow server never blocks the caller.
type Indicator struct {
	mu             sync.Mutex
	conversationID int64
	typing         bool
	timer          Timer
	gen            uint64
	closed         bool

	quiet     time.Duration
	afterFunc AfterFunc
	sender    Sender
	wake      chan struct{}
	done      chan struct{}
	logger    *zap.Logger
}

// IndicatorOption customizes an Indicator.
type IndicatorOption func(*Indicator)

// WithQuietPeriod overrides DefaultQuietPeriod.
func WithQuietPeriod(d time.Duration) IndicatorOption {
	return func(i *Indicator) { i.quiet = d }
}

// WithAfterFunc replaces the timer source.
func WithAfterFunc(fn AfterFunc) IndicatorOption {
	return func(i *Indicator) { i.afterFunc = fn }
}

// NewIndicator starts the send worker for conversationID.
func NewIndicator(conversationID int64, sender Sender, logger *zap.Logger, opts ...IndicatorOption) *Indicator {
	i := &Indicator{
		conversationID: conversationID,
		quiet:          DefaultQuietPeriod,
		afterFunc:      RealAfterFunc,
		sender:         sender,
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
		logger:         logger.With(zap.Int64("conversation_id", conversationID)),
	}
	for _, opt := range opts {
		opt(i)
	}

	go i.run()
	return i
}

// Update feeds the current "is typing" value, typically whether the compose
// field is non-empty. Repeating the current state is a no-op.
func (i *Indicator) Update(isTyping bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed || isTyping == i.typing {
		return
	}

	i.typing = isTyping
	if isTyping {
		i.arm()
	} else {
		i.disarm()
	}
	i.signal()
}

// ForceStop flips to idle immediately, used when a message is sent.
func (i *Indicator) ForceStop() {
	i.Update(false)
}

// Typing returns the local state.
func (i *Indicator) Typing() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.typing
}

// Close sends a final stop if needed and waits for pending sends to drain.
func (i *Indicator) Close() {
	i.ForceStop()

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	close(i.wake)
	i.mu.Unlock()

	<-i.done
}

// arm must be called with mu held.
func (i *Indicator) arm() {
	i.disarm()
	gen := i.gen
	i.timer = i.afterFunc(i.quiet, func() { i.expire(gen) })
}

// disarm must be called with mu held.
func (i *Indicator) disarm() {
	i.gen++
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
}

func (i *Indicator) expire(gen uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()

	// a newer edge superseded this timer
	if i.closed || gen != i.gen || !i.typing {
		return
	}

	i.logger.Debug("Typing quiet period elapsed")
	i.typing = false
	i.timer = nil
	i.gen++
	i.signal()
}

// signal must be called with mu held and the indicator open. It never blocks.
func (i *Indicator) signal() {
	select {
	case i.wake <- struct{}{}:
	default:
	}
}

func (i *Indicator) run() {
	defer close(i.done)

	var sent bool
	for {
		_, open := <-i.wake

		i.mu.Lock()
		want := i.typing
		i.mu.Unlock()

		if want != sent {
			sent = want
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			err := i.sender.SetTyping(ctx, i.conversationID, want)
			cancel()

			if err != nil {
				i.logger.Debug("Typing indicator not delivered", zap.Bool("is_typing", want), zap.Error(err))
			}
		}

		if !open {
			return
		}
	}
}
