package sender

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/qrxfer/chunk"
	"github.com/sirupsen/logrus"
)

// ErrInvalidInterval indicates a non-positive autoplay interval.
var ErrInvalidInterval = errors.New("autoplay interval must be positive")

// Autoplay advances a Session by one record per interval until stopped.
// At most one run is active at a time: Start cancels the previous run first.
type Autoplay struct {
	session *Session

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	callbackMu sync.RWMutex
	onAdvance  func(chunk.Record)
}

// NewAutoplay creates a stopped autoplay driver for session.
func NewAutoplay(session *Session) *Autoplay {
	return &Autoplay{session: session}
}

// OnAdvance sets a callback invoked with each record the timer moves to.
// The callback runs on the autoplay goroutine and must not call Start or
// Stop.
func (a *Autoplay) OnAdvance(callback func(chunk.Record)) {
	a.callbackMu.Lock()
	defer a.callbackMu.Unlock()
	a.onAdvance = callback
}

// Start cancels any running autoplay and begins a new one. The run also ends
// when ctx is cancelled.
func (a *Autoplay) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	if a.session.Len() == 0 {
		return ErrEmptySession
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done

	logrus.WithFields(logrus.Fields{
		"function":    "Start",
		"transfer_id": a.session.TransferID(),
		"interval":    interval,
	}).Info("Starting autoplay")

	go a.run(runCtx, interval, done)
	return nil
}

// Stop cancels the running autoplay and waits for its goroutine to exit, so
// no advance happens after Stop returns. Stopping a stopped autoplay is a
// no-op.
func (a *Autoplay) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

// Running reports whether an autoplay run is active.
func (a *Autoplay) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done == nil {
		return false
	}
	select {
	case <-a.done:
		return false
	default:
		return true
	}
}

func (a *Autoplay) stopLocked() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
	a.cancel = nil
	a.done = nil

	logrus.WithFields(logrus.Fields{
		"function":    "Stop",
		"transfer_id": a.session.TransferID(),
		"cursor":      a.session.Cursor(),
	}).Debug("Autoplay stopped")
}

func (a *Autoplay) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick and a cancel can be ready together; cancel wins.
			if ctx.Err() != nil {
				return
			}
			record, err := a.session.Advance(1)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "run",
					"error":    err.Error(),
				}).Error("Autoplay advance failed")
				return
			}

			a.callbackMu.RLock()
			callback := a.onAdvance
			a.callbackMu.RUnlock()
			if callback != nil {
				callback(record)
			}
		}
	}
}
