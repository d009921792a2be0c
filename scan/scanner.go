package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/opd-ai/qrxfer/receiver"
	"github.com/sirupsen/logrus"
)

// ErrClosed indicates an operation on a closed scanner.
var ErrClosed = errors.New("scanner closed")

// ErrAlreadyRunning indicates a second concurrent call to Run.
var ErrAlreadyRunning = errors.New("scanner already running")

const (
	// DefaultDebounceWindow drops repeats of the same frame within one second.
	DefaultDebounceWindow = time.Second
	// DefaultProgressInterval coalesces progress notifications.
	DefaultProgressInterval = 100 * time.Millisecond
	// queueSize bounds decoded frames waiting for the worker.
	queueSize = 64
)

// Acceptor consumes decoded payloads. *receiver.Buffer implements it.
type Acceptor interface {
	AcceptChunk(payload string) (receiver.Outcome, error)
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type defaultTimeProvider struct{}

func (defaultTimeProvider) Now() time.Time                  { return time.Now() }
func (defaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Event is the result of one frame that reached the acceptor.
type Event struct {
	Outcome receiver.Outcome
	Err     error
}

// Stats counts frames by fate.
type Stats struct {
	Submitted  int `json:"submitted"`
	Debounced  int `json:"debounced"`
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

// frame is one queued item: a payload, or a barrier when flushed is set.
type frame struct {
	payload string
	flushed chan struct{}
}

// Scanner is the single consumer between a symbol decoder and an Acceptor.
// Decoders may Submit from any goroutine; one worker started by Run hands
// frames to the acceptor in arrival order.
type Scanner struct {
	acceptor Acceptor
	window   time.Duration

	frames    chan frame
	closed    chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	running      bool
	timeProvider TimeProvider
	lastPayload  string
	lastTime     time.Time
	stats        Stats

	callbackMu sync.RWMutex
	onOutcome  func(Event)
	onProgress func(receiver.Outcome)

	progressMu sync.Mutex
	debouncer  func(f func())
	pending    *receiver.Outcome
	pendingSeq uint64
	seq        uint64

	// deliverMu orders callbacks; an outcome older than delivered is dropped.
	deliverMu sync.Mutex
	delivered uint64
}

// NewScanner creates a scanner feeding acceptor. A non-positive window
// disables identical-frame debouncing.
func NewScanner(acceptor Acceptor, window time.Duration) *Scanner {
	s := &Scanner{
		acceptor:     acceptor,
		window:       window,
		frames:       make(chan frame, queueSize),
		closed:       make(chan struct{}),
		timeProvider: defaultTimeProvider{},
	}
	s.debouncer = debounce.New(DefaultProgressInterval)
	return s
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (s *Scanner) SetTimeProvider(tp TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeProvider = tp
}

// SetProgressInterval changes the coalescing interval for OnProgress.
func (s *Scanner) SetProgressInterval(interval time.Duration) {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	s.debouncer = debounce.New(interval)
}

// OnOutcome sets a callback invoked on the worker for every frame that
// reached the acceptor, accepted or not.
func (s *Scanner) OnOutcome(callback func(Event)) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onOutcome = callback
}

// OnProgress sets a callback for accepted chunks. Bursts are coalesced and
// only the latest outcome is delivered; completion is always delivered.
func (s *Scanner) OnProgress(callback func(receiver.Outcome)) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onProgress = callback
}

// Submit queues a decoded payload. It blocks while the queue is full.
func (s *Scanner) Submit(ctx context.Context, payload string) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	select {
	case s.frames <- frame{payload: payload}:
		return nil
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every frame submitted before it has been processed.
// It needs a running worker.
func (s *Scanner) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.frames <- frame{flushed: done}:
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes frames until ctx is cancelled or Close is called.
func (s *Scanner) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.flushProgress()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"window":   s.window,
	}).Info("Scanner started")

	for {
		select {
		case <-ctx.Done():
			logrus.WithFields(logrus.Fields{
				"function": "Run",
			}).Info("Scanner stopped by context")
			return ctx.Err()
		case <-s.closed:
			logrus.WithFields(logrus.Fields{
				"function": "Run",
			}).Info("Scanner closed")
			return nil
		case f := <-s.frames:
			if f.flushed != nil {
				close(f.flushed)
				continue
			}
			s.process(f.payload)
		}
	}
}

// Close stops the worker. Pending frames are discarded. Close is idempotent.
func (s *Scanner) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}

// Stats returns a snapshot of the frame counters.
func (s *Scanner) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Scanner) process(payload string) {
	s.mu.Lock()
	s.stats.Submitted++
	now := s.timeProvider.Now()
	if s.window > 0 && payload == s.lastPayload && now.Sub(s.lastTime) < s.window {
		s.stats.Debounced++
		s.mu.Unlock()
		return
	}
	s.lastPayload = payload
	s.lastTime = now
	s.mu.Unlock()

	outcome, err := s.acceptor.AcceptChunk(payload)

	s.mu.Lock()
	switch {
	case err == nil:
		s.stats.Accepted++
	case errors.Is(err, receiver.ErrDuplicateChunk):
		s.stats.Duplicates++
	default:
		s.stats.Rejected++
	}
	s.mu.Unlock()

	if err != nil && !errors.Is(err, receiver.ErrDuplicateChunk) {
		logrus.WithFields(logrus.Fields{
			"function": "process",
			"error":    err.Error(),
		}).Debug("Frame rejected")
	}

	s.callbackMu.RLock()
	onOutcome := s.onOutcome
	s.callbackMu.RUnlock()
	if onOutcome != nil {
		onOutcome(Event{Outcome: outcome, Err: err})
	}

	if err == nil {
		s.notifyProgress(outcome)
	}
}

func (s *Scanner) notifyProgress(outcome receiver.Outcome) {
	s.progressMu.Lock()
	s.seq++
	seq := s.seq
	if outcome.IsComplete {
		s.pending = nil
		s.progressMu.Unlock()
		s.deliverProgress(seq, outcome)
		return
	}
	s.pending = &outcome
	s.pendingSeq = seq
	debounced := s.debouncer
	s.progressMu.Unlock()

	debounced(s.flushProgress)
}

// flushProgress delivers the pending outcome, if any.
func (s *Scanner) flushProgress() {
	s.progressMu.Lock()
	pending, seq := s.pending, s.pendingSeq
	s.pending = nil
	s.progressMu.Unlock()

	if pending != nil {
		s.deliverProgress(seq, *pending)
	}
}

// deliverProgress runs the progress callback unless a newer outcome was
// already delivered.
func (s *Scanner) deliverProgress(seq uint64, outcome receiver.Outcome) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if seq <= s.delivered {
		return
	}
	s.delivered = seq

	s.callbackMu.RLock()
	onProgress := s.onProgress
	s.callbackMu.RUnlock()
	if onProgress != nil {
		onProgress(outcome)
	}
}
