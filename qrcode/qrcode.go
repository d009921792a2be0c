// Package qrcode renders chunk payloads as QR symbols.
package qrcode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	goqrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the default PNG edge length in pixels.
const DefaultSize = 800

// DefaultLevel is the default error-correction level. It is the highest
// level whose capacity holds a record of limits.DefaultChunkSize raw bytes.
const DefaultLevel = LevelM

// ErrInvalidLevel indicates an unknown error-correction level name.
var ErrInvalidLevel = errors.New("invalid error correction level")

// ErrInvalidSize indicates a non-positive image size.
var ErrInvalidSize = errors.New("invalid image size")

// ErrRender indicates that the payload could not be encoded as a symbol,
// typically because it exceeds the capacity at the chosen level.
var ErrRender = errors.New("failed to render symbol")

// Level is a QR error-correction level.
type Level string

// Error-correction levels, from about 7% to about 30% recoverable.
const (
	LevelL Level = "L"
	LevelM Level = "M"
	LevelQ Level = "Q"
	LevelH Level = "H"
)

// ParseLevel accepts L, M, Q or H in either case.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToUpper(strings.TrimSpace(s))); l {
	case LevelL, LevelM, LevelQ, LevelH:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
}

func (l Level) recovery() (goqrcode.RecoveryLevel, error) {
	switch l {
	case LevelL:
		return goqrcode.Low, nil
	case LevelM:
		return goqrcode.Medium, nil
	case LevelQ:
		return goqrcode.High, nil
	case LevelH:
		return goqrcode.Highest, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, string(l))
	}
}

// capacity is the byte-mode capacity of a version 40 symbol per level.
var capacity = map[Level]int{
	LevelL: 2953,
	LevelM: 2331,
	LevelQ: 1663,
	LevelH: 1273,
}

// Capacity returns the largest payload in bytes a symbol at level can hold,
// or 0 for an unknown level.
func Capacity(level Level) int {
	return capacity[level]
}

// Fits reports whether payload can be rendered at level.
func Fits(payload string, level Level) bool {
	return len(payload) <= Capacity(level)
}

func newSymbol(payload string, level Level) (*goqrcode.QRCode, error) {
	recovery, err := level.recovery()
	if err != nil {
		return nil, err
	}
	if !Fits(payload, level) {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds level %s capacity of %d",
			ErrRender, len(payload), level, Capacity(level))
	}
	q, err := goqrcode.New(payload, recovery)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":       "newSymbol",
			"payload_length": len(payload),
			"level":          string(level),
			"error":          err.Error(),
		}).Warn("Payload does not fit in a symbol")
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return q, nil
}

// Render encodes payload as a size x size PNG image.
func Render(payload string, level Level, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	q, err := newSymbol(payload, level)
	if err != nil {
		return nil, err
	}
	png, err := q.PNG(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return png, nil
}

// WriteFile renders payload and writes the PNG to path.
func WriteFile(path, payload string, level Level, size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	q, err := newSymbol(payload, level)
	if err != nil {
		return err
	}
	if err := q.WriteFile(size, path); err != nil {
		return fmt.Errorf("%w: %v", ErrRender, err)
	}
	return nil
}

// Terminal renders payload with Unicode half blocks for display in a
// terminal. inverse swaps dark and light for dark-on-light terminals.
func Terminal(payload string, level Level, inverse bool) (string, error) {
	q, err := newSymbol(payload, level)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(inverse), nil
}
