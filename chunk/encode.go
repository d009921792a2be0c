package chunk

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/qrxfer/limits"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultFilename is announced when the source has no usable name.
	DefaultFilename = "unknown_file"

	// DefaultMimeType is announced when the source type is unknown.
	DefaultMimeType = "application/octet-stream"

	// transferIDRandomLength is the number of hex digits of randomness in a transfer id.
	transferIDRandomLength = 12
)

// now is swapped by tests that need a fixed clock.
var now = time.Now

// NewTransferID returns a fresh transfer id of the form
// "transfer-<unix millis>-<random hex>".
func NewTransferID() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("transfer-%d-%s", now().UnixMilli(), random[:transferIDRandomLength])
}

// Encode splits data into ceil(len(data)/chunkSize) records under a new
// transfer id. Empty input yields no records and no error.
func Encode(data []byte, filename, mimetype string, chunkSize int) ([]Record, error) {
	if err := limits.ValidateChunkSize(chunkSize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChunkSize, err)
	}

	if filename == "" {
		filename = DefaultFilename
	}
	if mimetype == "" {
		mimetype = DefaultMimeType
	}

	totalChunks := (len(data) + chunkSize - 1) / chunkSize
	if totalChunks > 0 {
		if err := limits.ValidateTotalChunks(totalChunks); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Encode",
				"file_name":  filename,
				"file_size":  len(data),
				"chunk_size": chunkSize,
			}).Warn("File splits into too many chunks")
			return nil, fmt.Errorf("%w: %v", ErrTooManyChunks, err)
		}
	}

	transferID := NewTransferID()

	logrus.WithFields(logrus.Fields{
		"function":     "Encode",
		"transfer_id":  transferID,
		"file_name":    filename,
		"mime_type":    mimetype,
		"file_size":    len(data),
		"chunk_size":   chunkSize,
		"total_chunks": totalChunks,
	}).Info("Encoding file into chunks")

	records := make([]Record, 0, totalChunks)
	for index := 0; index < totalChunks; index++ {
		start := index * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		records = append(records, NewRecord(transferID, filename, mimetype, totalChunks, index, data[start:end]))
	}

	return records, nil
}

// EncodeReader reads r to the end and encodes its contents. The whole
// sequence is materialized before it is returned.
func EncodeReader(r io.Reader, filename, mimetype string, chunkSize int) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "EncodeReader",
			"file_name": filename,
			"error":     err.Error(),
		}).Error("Failed to read source")
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return Encode(data, filename, mimetype, chunkSize)
}

// EncodeFile encodes the file at path. The announced filename is the base
// name of path; when mimetype is empty it is derived from the extension.
func EncodeFile(path, mimetype string, chunkSize int) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "EncodeFile",
			"file_name": path,
			"error":     err.Error(),
		}).Error("Failed to open source file")
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()

	if mimetype == "" {
		mimetype = MimeTypeFor(path)
	}
	return EncodeReader(f, filepath.Base(path), mimetype, chunkSize)
}

// MimeTypeFor guesses a MIME type from the extension of name, without
// parameters. Unknown extensions map to DefaultMimeType.
func MimeTypeFor(name string) string {
	typ := mime.TypeByExtension(filepath.Ext(name))
	if typ == "" {
		return DefaultMimeType
	}
	mediaType, _, err := mime.ParseMediaType(typ)
	if err != nil {
		return DefaultMimeType
	}
	return mediaType
}
