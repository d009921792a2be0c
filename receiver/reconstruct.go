package receiver

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrNotStarted indicates a reconstruction request before any chunk was accepted.
var ErrNotStarted = errors.New("no transfer in progress")

// ErrTooManyMissingChunks indicates more missing chunks than Tolerance allows.
var ErrTooManyMissingChunks = errors.New("too many missing chunks")

// ErrIncomplete indicates missing chunks within tolerance under GapFailClosed.
var ErrIncomplete = errors.New("transfer incomplete")

// maxTolerance caps the number of chunks a reconstruction may skip.
const maxTolerance = 3

// GapPolicy decides how Reconstruct treats missing chunks within tolerance.
type GapPolicy uint8

const (
	// GapFailClosed refuses to reconstruct while any chunk is missing.
	GapFailClosed GapPolicy = iota
	// GapBestEffort concatenates the present chunks and reports the gaps.
	GapBestEffort
)

// String returns the policy name.
func (p GapPolicy) String() string {
	switch p {
	case GapFailClosed:
		return "fail-closed"
	case GapBestEffort:
		return "best-effort"
	default:
		return fmt.Sprintf("gap-policy(%d)", uint8(p))
	}
}

// ParseGapPolicy maps "fail-closed" and "best-effort" to a GapPolicy.
func ParseGapPolicy(s string) (GapPolicy, error) {
	switch s {
	case "fail-closed", "":
		return GapFailClosed, nil
	case "best-effort":
		return GapBestEffort, nil
	default:
		return GapFailClosed, fmt.Errorf("unknown gap policy %q", s)
	}
}

// Result is a reconstructed file.
type Result struct {
	Metadata Metadata
	Data     []byte
	// Missing lists skipped indices; always empty under GapFailClosed.
	Missing []int
}

// Tolerance returns how many chunks of a transfer of total chunks may be
// missing at reconstruction: min(3, floor(total/10)).
func Tolerance(total int) int {
	t := total / 10
	if t > maxTolerance {
		return maxTolerance
	}
	return t
}

// Reconstruct concatenates the buffered chunks in ascending index order.
// The buffer is left unchanged whatever the outcome.
func (b *Buffer) Reconstruct() (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	meta, latched := b.identity.metadata()
	if !latched {
		return Result{}, ErrNotStarted
	}

	missing := b.missingLocked()
	tolerance := Tolerance(meta.TotalChunks)

	logger := logrus.WithFields(logrus.Fields{
		"function":     "Reconstruct",
		"transfer_id":  meta.TransferID,
		"total_chunks": meta.TotalChunks,
		"missing":      len(missing),
		"tolerance":    tolerance,
		"gap_policy":   b.gapPolicy.String(),
	})

	if len(missing) > tolerance {
		logger.Warn("Too many missing chunks to reconstruct")
		return Result{}, fmt.Errorf("%w: %d missing, %d tolerated", ErrTooManyMissingChunks, len(missing), tolerance)
	}
	if len(missing) > 0 && b.gapPolicy == GapFailClosed {
		logger.Warn("Refusing to reconstruct with missing chunks")
		return Result{}, fmt.Errorf("%w: missing %v", ErrIncomplete, missing)
	}

	var out bytes.Buffer
	for i := 0; i < meta.TotalChunks; i++ {
		record, ok := b.chunks[Key{TransferID: meta.TransferID, ChunkIndex: i}]
		if !ok {
			continue
		}
		raw, err := record.Bytes()
		if err != nil {
			logger.WithField("chunk_index", i).Error("Failed to decode buffered chunk")
			return Result{}, fmt.Errorf("chunk %d: %w", i, err)
		}
		out.Write(raw)
	}

	if len(missing) > 0 {
		logger.WithField("missing_chunks", missing).Warn("Reconstructed file with gaps")
	} else {
		logger.WithField("size", out.Len()).Info("File reconstructed")
	}

	return Result{
		Metadata: meta,
		Data:     out.Bytes(),
		Missing:  missing,
	}, nil
}
