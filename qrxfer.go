package qrxfer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/qrxfer/chunk"
	"github.com/opd-ai/qrxfer/qrcode"
	"github.com/opd-ai/qrxfer/receiver"
	"github.com/opd-ai/qrxfer/scan"
	"github.com/opd-ai/qrxfer/sender"
	"github.com/opd-ai/qrxfer/storage"
	"github.com/sirupsen/logrus"
)

// ErrEmptyFile indicates a selected file with no content.
var ErrEmptyFile = errors.New("file is empty")

// ErrNoFileSelected indicates a sender operation before any file was selected.
var ErrNoFileSelected = errors.New("no file selected")

// ErrChunkTooLarge indicates that records at the configured chunk size do not
// fit in a symbol at the configured error-correction level.
var ErrChunkTooLarge = errors.New("chunk does not fit in a symbol")

// ErrClosed indicates use of a closed instance.
var ErrClosed = errors.New("instance closed")

// Instance holds one sender session and one receiver session.
type Instance struct {
	options   *Options
	buffer    *receiver.Buffer
	scanner   *scan.Scanner
	publisher *storage.Publisher

	scanCancel context.CancelFunc
	scanDone   chan struct{}

	mu        sync.Mutex
	session   *sender.Session
	autoplay  *sender.Autoplay
	onAdvance func(chunk.Record)
	closed    bool
}

// New creates an instance and starts its scan worker. A nil options uses
// NewOptions.
func New(options *Options) (*Instance, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	buffer := receiver.NewBuffer()
	buffer.SetGapPolicy(options.GapPolicy)
	buffer.SetForeignPolicy(options.ForeignPolicy)

	scanner := scan.NewScanner(buffer, options.DebounceWindow)
	scanner.SetProgressInterval(options.ProgressInterval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := scanner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithFields(logrus.Fields{
				"function": "New",
				"error":    err.Error(),
			}).Error("Scan worker exited")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function":         "New",
		"chunk_size":       options.ChunkSize,
		"display_delay":    options.DisplayDelay,
		"error_correction": options.ErrorCorrection,
		"gap_policy":       options.GapPolicy.String(),
		"output_dir":       options.OutputDir,
	}).Info("Instance created")

	return &Instance{
		options:    options,
		buffer:     buffer,
		scanner:    scanner,
		publisher:  storage.NewPublisher(options.OutputDir),
		scanCancel: cancel,
		scanDone:   done,
	}, nil
}

// Options returns the options the instance was created with.
func (i *Instance) Options() Options {
	return *i.options
}

// SelectFile encodes data and makes it the current sender session, replacing
// any previous one and stopping its autoplay. On error the current session
// is kept.
func (i *Instance) SelectFile(data []byte, filename, mimetype string) (*sender.Session, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	records, err := chunk.Encode(data, filename, mimetype, i.options.ChunkSize)
	if err != nil {
		return nil, err
	}
	return i.install(records)
}

// SelectPath reads and encodes the file at path. The MIME type is derived
// from the file extension.
func (i *Instance) SelectPath(path string) (*sender.Session, error) {
	records, err := chunk.EncodeFile(path, "", i.options.ChunkSize)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}
	return i.install(records)
}

func (i *Instance) install(records []chunk.Record) (*sender.Session, error) {
	level := i.options.level()
	for _, record := range records {
		if payload := record.Payload(); !qrcode.Fits(payload, level) {
			return nil, fmt.Errorf("%w: chunk %d is a %d byte payload, level %s holds %d",
				ErrChunkTooLarge, record.ChunkIndex, len(payload), level, qrcode.Capacity(level))
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil, ErrClosed
	}
	if i.autoplay != nil {
		i.autoplay.Stop()
	}

	i.session = sender.NewSession(records)
	i.autoplay = sender.NewAutoplay(i.session)
	i.autoplay.OnAdvance(i.onAdvance)
	return i.session, nil
}

// Session returns the current sender session, or nil.
func (i *Instance) Session() *sender.Session {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.session
}

// OnAdvance sets a callback for records reached by autoplay. It carries over
// to sessions selected later. The callback runs on the autoplay goroutine
// and must not call back into the Instance.
func (i *Instance) OnAdvance(callback func(chunk.Record)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onAdvance = callback
	if i.autoplay != nil {
		i.autoplay.OnAdvance(callback)
	}
}

// Next stops autoplay and moves to the following record, wrapping at the end.
func (i *Instance) Next() (chunk.Record, error) {
	return i.navigate(func(s *sender.Session) (chunk.Record, error) {
		return s.Advance(1)
	})
}

// Previous stops autoplay and moves to the preceding record, wrapping at 0.
func (i *Instance) Previous() (chunk.Record, error) {
	return i.navigate(func(s *sender.Session) (chunk.Record, error) {
		return s.Advance(-1)
	})
}

// Goto stops autoplay and moves to index.
func (i *Instance) Goto(index int) (chunk.Record, error) {
	return i.navigate(func(s *sender.Session) (chunk.Record, error) {
		if err := s.SetCursor(index); err != nil {
			return chunk.Record{}, err
		}
		return s.Current()
	})
}

func (i *Instance) navigate(step func(*sender.Session) (chunk.Record, error)) (chunk.Record, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.session == nil {
		return chunk.Record{}, ErrNoFileSelected
	}
	i.autoplay.Stop()
	return step(i.session)
}

// Current returns the record under the cursor.
func (i *Instance) Current() (chunk.Record, error) {
	session := i.Session()
	if session == nil {
		return chunk.Record{}, ErrNoFileSelected
	}
	return session.Current()
}

// CurrentSymbol renders the current record as a PNG image.
func (i *Instance) CurrentSymbol() ([]byte, chunk.Record, error) {
	record, err := i.Current()
	if err != nil {
		return nil, chunk.Record{}, err
	}
	png, err := qrcode.Render(record.Payload(), i.options.level(), i.options.QRSize)
	if err != nil {
		return nil, chunk.Record{}, err
	}
	return png, record, nil
}

// StartAutoplay advances the sender every DisplayDelay until stopped, a
// manual navigation, a new file, or ctx is cancelled.
func (i *Instance) StartAutoplay(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.session == nil {
		return ErrNoFileSelected
	}
	return i.autoplay.Start(ctx, i.options.DisplayDelay)
}

// StopAutoplay stops the sender autoplay. No advance happens after it returns.
func (i *Instance) StopAutoplay() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.autoplay != nil {
		i.autoplay.Stop()
	}
}

// Autoplaying reports whether sender autoplay is running.
func (i *Instance) Autoplaying() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.autoplay != nil && i.autoplay.Running()
}

// Receiver returns the receive buffer.
func (i *Instance) Receiver() *receiver.Buffer {
	return i.buffer
}

// Scanner returns the scan worker feeding the receive buffer.
func (i *Instance) Scanner() *scan.Scanner {
	return i.scanner
}

// OnProgress sets a coalesced receive progress callback.
func (i *Instance) OnProgress(callback func(receiver.Outcome)) {
	i.scanner.OnProgress(callback)
}

// Scan queues one decoded symbol payload for the receiver.
func (i *Instance) Scan(ctx context.Context, payload string) error {
	return i.scanner.Submit(ctx, payload)
}

// Flush waits until every payload passed to Scan so far has been processed.
func (i *Instance) Flush(ctx context.Context) error {
	return i.scanner.Flush(ctx)
}

// Save reconstructs the received file and publishes it to OutputDir. The
// receive buffer is kept; call ResetReceiver to start a new transfer.
func (i *Instance) Save() (string, receiver.Result, error) {
	result, err := i.buffer.Reconstruct()
	if err != nil {
		return "", receiver.Result{}, err
	}

	path, err := i.publisher.Publish(result.Metadata, result.Data)
	if err != nil {
		return "", result, err
	}

	if len(result.Missing) > 0 {
		logrus.WithFields(logrus.Fields{
			"function":       "Save",
			"path":           path,
			"missing_chunks": result.Missing,
		}).Warn("Saved file is missing chunks")
	}
	return path, result, nil
}

// ResetReceiver discards the receive buffer.
func (i *Instance) ResetReceiver() {
	i.buffer.Reset()
}

// Close stops autoplay and the scan worker. Close is idempotent.
func (i *Instance) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	if i.autoplay != nil {
		i.autoplay.Stop()
	}
	i.mu.Unlock()

	i.scanCancel()
	err := i.scanner.Close()
	<-i.scanDone

	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Instance closed")
	return err
}
