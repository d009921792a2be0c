// Package limits provides centralized size limits for qrxfer chunk records.
// This ensures consistent validation across the encoder, the receive buffer
// and the storage layer.
package limits

import (
	"errors"
	"fmt"
)

const (
	// DefaultChunkSize is the raw byte count carried by one record unless the
	// caller picks another size (1KB, as the sender screen defaults to).
	DefaultChunkSize = 1024

	// MinChunkSize is the smallest usable chunk size.
	MinChunkSize = 1

	// MaxChunkSize is the maximum raw chunk size accepted by the encoder.
	// A single QR symbol holds at most 2953 bytes, so anything near this
	// value can only be displayed through a custom visual encoder.
	MaxChunkSize = 65536

	// MaxPayloadSize is the absolute maximum length of a decoded payload
	// handed to the receiver. This prevents memory exhaustion from a hostile
	// or garbled symbol (1MB limit).
	MaxPayloadSize = 1024 * 1024

	// MaxFileNameLength is the maximum file name length in bytes.
	// The value (255) matches typical filesystem limits.
	MaxFileNameLength = 255

	// MaxTotalChunks bounds the chunk count a record may announce, so a
	// corrupted totalChunks value cannot make MissingChunks allocate
	// without limit.
	MaxTotalChunks = 1 << 20
)

var (
	// ErrEmpty indicates an empty value was provided
	ErrEmpty = errors.New("empty value")

	// ErrTooLarge indicates a value exceeds its maximum size
	ErrTooLarge = errors.New("value too large")

	// ErrOutOfRange indicates a numeric setting outside its allowed range
	ErrOutOfRange = errors.New("value out of range")
)

// ValidateChunkSize validates a chunk size against [MinChunkSize, MaxChunkSize].
func ValidateChunkSize(size int) error {
	if size < MinChunkSize || size > MaxChunkSize {
		return fmt.Errorf("%w: chunk size %d not in [%d, %d]", ErrOutOfRange, size, MinChunkSize, MaxChunkSize)
	}
	return nil
}

// ValidatePayload validates a decoded payload against MaxPayloadSize.
// Returns an error with context if the payload is empty or exceeds the limit.
func ValidatePayload(payload string) error {
	if len(payload) == 0 {
		return ErrEmpty
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds limit %d", ErrTooLarge, len(payload), MaxPayloadSize)
	}
	return nil
}

// ValidateFileName validates a file name length against MaxFileNameLength.
func ValidateFileName(name string) error {
	if len(name) == 0 {
		return ErrEmpty
	}
	if len(name) > MaxFileNameLength {
		return fmt.Errorf("%w: file name length %d exceeds limit %d", ErrTooLarge, len(name), MaxFileNameLength)
	}
	return nil
}

// ValidateTotalChunks validates an announced chunk count.
func ValidateTotalChunks(total int) error {
	if total < 1 || total > MaxTotalChunks {
		return fmt.Errorf("%w: total chunks %d not in [1, %d]", ErrOutOfRange, total, MaxTotalChunks)
	}
	return nil
}
