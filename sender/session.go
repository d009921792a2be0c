// Package sender holds the display side of a transfer: the ordered record
// sequence of one encoded file and the cursor that selects the symbol on
// screen.
package sender

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/qrxfer/chunk"
	"github.com/sirupsen/logrus"
)

// ErrInvalidIndex indicates a cursor position outside [0, Len()).
var ErrInvalidIndex = errors.New("invalid chunk index")

// ErrEmptySession indicates navigation on a session without records.
var ErrEmptySession = errors.New("session has no chunks")

// Session is an immutable record sequence plus a cursor. The cursor is the
// only mutable state and every access to it is serialized, so manual steps
// and the autoplay timer never race.
type Session struct {
	records []chunk.Record

	mu     sync.Mutex
	cursor int
}

// NewSession creates a session over records with the cursor at 0. The slice
// is copied.
func NewSession(records []chunk.Record) *Session {
	s := &Session{records: append([]chunk.Record(nil), records...)}

	fields := logrus.Fields{
		"function":     "NewSession",
		"total_chunks": len(s.records),
	}
	if len(s.records) > 0 {
		fields["transfer_id"] = s.records[0].TransferID
		fields["file_name"] = s.records[0].Filename
	}
	logrus.WithFields(fields).Info("Sender session ready")

	return s
}

// Len returns the number of records.
func (s *Session) Len() int {
	return len(s.records)
}

// TransferID returns the transfer id shared by all records, or "" for an
// empty session.
func (s *Session) TransferID() string {
	if len(s.records) == 0 {
		return ""
	}
	return s.records[0].TransferID
}

// Cursor returns the index of the current record.
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Current returns the record under the cursor.
func (s *Session) Current() (chunk.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) == 0 {
		return chunk.Record{}, ErrEmptySession
	}
	return s.records[s.cursor], nil
}

// ChunkAt returns the record at index without moving the cursor.
func (s *Session) ChunkAt(index int) (chunk.Record, error) {
	if err := s.checkIndex(index); err != nil {
		return chunk.Record{}, err
	}
	return s.records[index], nil
}

// SetCursor moves the cursor to index. Out-of-range indices leave the cursor
// unchanged.
func (s *Session) SetCursor(index int) error {
	if err := s.checkIndex(index); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "SetCursor",
			"index":        index,
			"total_chunks": len(s.records),
		}).Warn("Attempted to set invalid chunk index")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = index
	return nil
}

// Advance moves the cursor by delta, wrapping modulo Len() in both
// directions, and returns the new current record. An empty session returns
// ErrEmptySession and does nothing.
func (s *Session) Advance(delta int) (chunk.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.records)
	if n == 0 {
		return chunk.Record{}, ErrEmptySession
	}

	s.cursor = ((s.cursor+delta)%n + n) % n
	return s.records[s.cursor], nil
}

func (s *Session) checkIndex(index int) error {
	if index < 0 || index >= len(s.records) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidIndex, index, len(s.records))
	}
	return nil
}
