package qrxfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opd-ai/qrxfer/limits"
	"github.com/opd-ai/qrxfer/qrcode"
	"github.com/opd-ai/qrxfer/receiver"
	"github.com/opd-ai/qrxfer/scan"
)

// ErrInvalidOptions indicates an option outside its allowed range.
var ErrInvalidOptions = errors.New("invalid options")

// DefaultDisplayDelay is the default autoplay interval.
const DefaultDisplayDelay = time.Second

// Options contains the configuration of an Instance.
type Options struct {
	// Sender
	ChunkSize       int
	DisplayDelay    time.Duration
	ErrorCorrection string
	QRSize          int

	// Receiver
	DebounceWindow   time.Duration
	ProgressInterval time.Duration
	GapPolicy        receiver.GapPolicy
	ForeignPolicy    receiver.ForeignPolicy
	OutputDir        string
}

// NewOptions returns the default options.
func NewOptions() *Options {
	return &Options{
		ChunkSize:        limits.DefaultChunkSize,
		DisplayDelay:     DefaultDisplayDelay,
		ErrorCorrection:  string(qrcode.DefaultLevel),
		QRSize:           qrcode.DefaultSize,
		DebounceWindow:   scan.DefaultDebounceWindow,
		ProgressInterval: scan.DefaultProgressInterval,
		GapPolicy:        receiver.GapFailClosed,
		ForeignPolicy:    receiver.ForeignReject,
		OutputDir:        defaultOutputDir(),
	}
}

// defaultOutputDir is ~/Downloads, or ./downloads without a home directory.
func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "downloads"
	}
	return filepath.Join(home, "Downloads")
}

// Validate checks every option and returns the first violation.
func (o *Options) Validate() error {
	if err := limits.ValidateChunkSize(o.ChunkSize); err != nil {
		return fmt.Errorf("%w: chunk size: %v", ErrInvalidOptions, err)
	}
	if o.DisplayDelay <= 0 {
		return fmt.Errorf("%w: display delay must be positive, got %v", ErrInvalidOptions, o.DisplayDelay)
	}
	if _, err := qrcode.ParseLevel(o.ErrorCorrection); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if o.QRSize <= 0 {
		return fmt.Errorf("%w: QR size must be positive, got %d", ErrInvalidOptions, o.QRSize)
	}
	if o.DebounceWindow < 0 {
		return fmt.Errorf("%w: debounce window must not be negative, got %v", ErrInvalidOptions, o.DebounceWindow)
	}
	if o.ProgressInterval <= 0 {
		return fmt.Errorf("%w: progress interval must be positive, got %v", ErrInvalidOptions, o.ProgressInterval)
	}
	if o.GapPolicy > receiver.GapBestEffort {
		return fmt.Errorf("%w: unknown gap policy %d", ErrInvalidOptions, o.GapPolicy)
	}
	if o.ForeignPolicy > receiver.ForeignReplace {
		return fmt.Errorf("%w: unknown foreign policy %d", ErrInvalidOptions, o.ForeignPolicy)
	}
	if o.OutputDir == "" {
		return fmt.Errorf("%w: output directory is empty", ErrInvalidOptions)
	}
	return nil
}

func (o *Options) level() qrcode.Level {
	level, err := qrcode.ParseLevel(o.ErrorCorrection)
	if err != nil {
		return qrcode.DefaultLevel
	}
	return level
}
