package receiver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/qrxfer/chunk"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Re-exported chunk errors so callers can match every per-chunk outcome
// against this package.
var (
	ErrMalformedChunk   = chunk.ErrMalformedChunk
	ErrChecksumMismatch = chunk.ErrChecksumMismatch
	ErrDecode           = chunk.ErrDecode
)

// ErrDuplicateChunk indicates a record whose key is already buffered. It is
// benign: repeated scans of the same symbol are expected.
var ErrDuplicateChunk = errors.New("duplicate chunk")

// ErrForeignTransfer indicates a record from a transfer other than the one
// latched by the buffer.
var ErrForeignTransfer = errors.New("chunk belongs to another transfer")

// ErrMetadataConflict indicates a record of the latched transfer whose
// totalChunks disagrees with the latched value.
var ErrMetadataConflict = errors.New("chunk metadata conflicts with transfer")

// State is the externally visible receiver state.
type State uint8

const (
	// StateIdle indicates no record has been accepted since creation or reset.
	StateIdle State = iota
	// StateReceiving indicates a transfer is latched and incomplete.
	StateReceiving
	// StateComplete indicates every chunk of the latched transfer is buffered.
	StateComplete
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ForeignPolicy decides what happens to a valid record of another transfer.
type ForeignPolicy uint8

const (
	// ForeignReject rejects it with ErrForeignTransfer and keeps the buffer.
	ForeignReject ForeignPolicy = iota
	// ForeignReplace discards the buffer and starts a new session with it.
	ForeignReplace
)

// Metadata is the transfer identity latched from the first accepted record.
type Metadata struct {
	TransferID  string `json:"transferId"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mimetype"`
	TotalChunks int    `json:"totalChunks"`
}

// Key identifies one buffered record.
type Key struct {
	TransferID string
	ChunkIndex int
}

// Outcome reports the buffer after one AcceptChunk call. It is filled for
// rejected records too, with Accepted false.
type Outcome struct {
	Accepted      bool `json:"accepted"`
	IsFirstChunk  bool `json:"isFirstChunk"`
	AcceptedCount int  `json:"acceptedCount"`
	TotalChunks   int  `json:"totalChunks"`
	IsComplete    bool `json:"isComplete"`
}

// identity is the tagged session state: idle or active with metadata.
type identity interface {
	metadata() (Metadata, bool)
}

type idle struct{}

func (idle) metadata() (Metadata, bool) { return Metadata{}, false }

type active struct {
	meta Metadata
}

func (a active) metadata() (Metadata, bool) { return a.meta, true }

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Buffer accumulates the records of one incoming transfer.
type Buffer struct {
	mu            sync.Mutex
	identity      identity
	chunks        map[Key]chunk.Record
	gapPolicy     GapPolicy
	foreignPolicy ForeignPolicy
	timeProvider  TimeProvider
	lastAccept    time.Time
}

// NewBuffer creates an idle buffer with GapFailClosed and ForeignReject.
func NewBuffer() *Buffer {
	logrus.WithFields(logrus.Fields{
		"function": "NewBuffer",
	}).Debug("Creating receive buffer")

	tp := DefaultTimeProvider{}
	return &Buffer{
		identity:     idle{},
		chunks:       make(map[Key]chunk.Record),
		timeProvider: tp,
		lastAccept:   tp.Now(),
	}
}

// SetGapPolicy selects how Reconstruct treats missing chunks within tolerance.
func (b *Buffer) SetGapPolicy(policy GapPolicy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gapPolicy = policy
}

// SetForeignPolicy selects how records of another transfer are handled.
func (b *Buffer) SetForeignPolicy(policy ForeignPolicy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.foreignPolicy = policy
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (b *Buffer) SetTimeProvider(tp TimeProvider) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeProvider = tp
	b.lastAccept = tp.Now()
}

// AcceptChunk validates one decoded payload and buffers it. Validation runs
// in a fixed order and the first failing step decides the returned error:
// parse, duplicate key, transfer identity, checksum. Nothing is mutated
// unless every step passes.
func (b *Buffer) AcceptChunk(payload string) (Outcome, error) {
	record, err := chunk.Parse(payload)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "AcceptChunk",
			"error":    err.Error(),
		}).Debug("Rejected malformed chunk")
		return b.outcomeLocked(false, false), err
	}

	key := Key{TransferID: record.TransferID, ChunkIndex: record.ChunkIndex}
	if _, exists := b.chunks[key]; exists {
		logrus.WithFields(logrus.Fields{
			"function":    "AcceptChunk",
			"transfer_id": record.TransferID,
			"chunk_index": record.ChunkIndex,
		}).Debug("Ignoring duplicate chunk")
		return b.outcomeLocked(false, false), fmt.Errorf("%w: index %d", ErrDuplicateChunk, record.ChunkIndex)
	}

	replace, err := b.checkIdentityLocked(record)
	if err != nil {
		return b.outcomeLocked(false, false), err
	}

	if _, err := record.Verify(); err != nil {
		if errors.Is(err, chunk.ErrDecode) {
			err = fmt.Errorf("%w: %v", ErrMalformedChunk, err)
		}
		logrus.WithFields(logrus.Fields{
			"function":    "AcceptChunk",
			"transfer_id": record.TransferID,
			"chunk_index": record.ChunkIndex,
			"error":       err.Error(),
		}).Warn("Rejected chunk with invalid data")
		return b.outcomeLocked(false, false), err
	}

	if replace {
		old, _ := b.identity.metadata()
		logrus.WithFields(logrus.Fields{
			"function":        "AcceptChunk",
			"old_transfer_id": old.TransferID,
			"new_transfer_id": record.TransferID,
			"dropped_chunks":  len(b.chunks),
		}).Warn("Replacing buffered transfer with a new one")
		b.resetLocked()
	}

	isFirst := false
	if _, latched := b.identity.metadata(); !latched {
		b.identity = active{meta: Metadata{
			TransferID:  record.TransferID,
			Filename:    record.Filename,
			MimeType:    record.MimeType,
			TotalChunks: record.TotalChunks,
		}}
		isFirst = true

		logrus.WithFields(logrus.Fields{
			"function":     "AcceptChunk",
			"transfer_id":  record.TransferID,
			"file_name":    record.Filename,
			"mime_type":    record.MimeType,
			"total_chunks": record.TotalChunks,
		}).Info("Initialized transfer info from first chunk")
	}

	b.chunks[key] = record
	b.lastAccept = b.timeProvider.Now()

	outcome := b.outcomeLocked(true, isFirst)
	logrus.WithFields(logrus.Fields{
		"function":       "AcceptChunk",
		"transfer_id":    record.TransferID,
		"chunk_index":    record.ChunkIndex,
		"accepted_count": outcome.AcceptedCount,
		"total_chunks":   outcome.TotalChunks,
		"complete":       outcome.IsComplete,
	}).Debug("Chunk accepted")

	return outcome, nil
}

// checkIdentityLocked compares record against the latched identity. It
// reports whether accepting record requires replacing the current session.
func (b *Buffer) checkIdentityLocked(record chunk.Record) (bool, error) {
	meta, latched := b.identity.metadata()
	if !latched {
		return false, nil
	}

	if record.TransferID != meta.TransferID {
		if b.foreignPolicy == ForeignReplace {
			return true, nil
		}
		logrus.WithFields(logrus.Fields{
			"function":            "AcceptChunk",
			"transfer_id":         meta.TransferID,
			"foreign_transfer_id": record.TransferID,
		}).Warn("Rejected chunk from another transfer")
		return false, fmt.Errorf("%w: got %s, receiving %s", ErrForeignTransfer, record.TransferID, meta.TransferID)
	}

	if record.TotalChunks != meta.TotalChunks {
		logrus.WithFields(logrus.Fields{
			"function":     "AcceptChunk",
			"transfer_id":  meta.TransferID,
			"total_chunks": meta.TotalChunks,
			"record_total": record.TotalChunks,
			"record_index": record.ChunkIndex,
		}).Warn("Rejected chunk with conflicting totalChunks")
		return false, fmt.Errorf("%w: totalChunks %d, latched %d", ErrMetadataConflict, record.TotalChunks, meta.TotalChunks)
	}

	return false, nil
}

func (b *Buffer) outcomeLocked(accepted, isFirst bool) Outcome {
	meta, _ := b.identity.metadata()
	count := len(b.chunks)
	return Outcome{
		Accepted:      accepted,
		IsFirstChunk:  isFirst,
		AcceptedCount: count,
		TotalChunks:   meta.TotalChunks,
		IsComplete:    meta.TotalChunks > 0 && count == meta.TotalChunks,
	}
}

// State returns the current receiver state.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	meta, latched := b.identity.metadata()
	switch {
	case !latched:
		return StateIdle
	case len(b.chunks) == meta.TotalChunks:
		return StateComplete
	default:
		return StateReceiving
	}
}

// Metadata returns the latched identity, or false while idle.
func (b *Buffer) Metadata() (Metadata, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.identity.metadata()
}

// AcceptedCount returns the number of distinct buffered chunks.
func (b *Buffer) AcceptedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// IsComplete reports whether every chunk of the latched transfer is buffered.
func (b *Buffer) IsComplete() bool {
	return b.State() == StateComplete
}

// Progress returns the integer percentage of chunks received, 0 while idle.
func (b *Buffer) Progress() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	meta, _ := b.identity.metadata()
	if meta.TotalChunks <= 0 {
		return 0
	}
	progress := len(b.chunks) * 100 / meta.TotalChunks
	if progress > 100 {
		return 100
	}
	return progress
}

// MissingChunks returns the absent indices of the latched transfer in
// ascending order.
func (b *Buffer) MissingChunks() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.missingLocked()
}

func (b *Buffer) missingLocked() []int {
	meta, latched := b.identity.metadata()
	if !latched {
		return nil
	}

	missing := make([]int, 0, meta.TotalChunks-len(b.chunks))
	for i := 0; i < meta.TotalChunks; i++ {
		if _, ok := b.chunks[Key{TransferID: meta.TransferID, ChunkIndex: i}]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// ReceivedChunks returns the buffered indices in ascending order.
func (b *Buffer) ReceivedChunks() []int {
	b.mu.Lock()
	keys := maps.Keys(b.chunks)
	b.mu.Unlock()

	indices := make([]int, 0, len(keys))
	for _, k := range keys {
		indices = append(indices, k.ChunkIndex)
	}
	slices.Sort(indices)
	return indices
}

// SinceLastAccept returns the time since the last accepted chunk, or since
// creation or reset if none. Callers use it to give up on a stalled transfer.
func (b *Buffer) SinceLastAccept() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeProvider.Since(b.lastAccept)
}

// Reset discards every buffered chunk and the latched identity.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	meta, _ := b.identity.metadata()
	logrus.WithFields(logrus.Fields{
		"function":       "Reset",
		"transfer_id":    meta.TransferID,
		"dropped_chunks": len(b.chunks),
	}).Info("Resetting receiver")

	b.resetLocked()
}

func (b *Buffer) resetLocked() {
	b.identity = idle{}
	b.chunks = make(map[Key]chunk.Record)
	b.lastAccept = b.timeProvider.Now()
}
