package chunk

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opd-ai/qrxfer/limits"
	"github.com/sirupsen/logrus"
)

// ErrMalformedChunk indicates a payload that is not a well-formed record.
var ErrMalformedChunk = errors.New("malformed chunk")

// ErrChecksumMismatch indicates that a record's data does not hash to its checksum.
var ErrChecksumMismatch = errors.New("chunk checksum mismatch")

// ErrDecode indicates that a record's data field is not valid base64.
var ErrDecode = errors.New("chunk data decode failed")

// ErrIO indicates that the file being encoded could not be read.
var ErrIO = errors.New("file read failed")

// ErrInvalidChunkSize indicates a chunk size outside the allowed range.
var ErrInvalidChunkSize = errors.New("invalid chunk size")

// ErrTooManyChunks indicates a file that splits into more records than a
// receiver accepts.
var ErrTooManyChunks = errors.New("too many chunks")

// checksumLength is the length of a hex encoded MD5 digest.
const checksumLength = md5.Size * 2

// Record is one self-describing fragment of a file.
//
// Data holds the standard (padded, unwrapped) base64 encoding of the raw
// chunk bytes and Checksum the lowercase hex MD5 of those raw bytes, never
// of the base64 text. The JSON field names are the wire contract shared with
// every other implementation of the protocol.
type Record struct {
	TransferID  string `json:"id"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mimetype"`
	TotalChunks int    `json:"totalChunks"`
	ChunkIndex  int    `json:"chunkIndex"`
	Data        string `json:"data"`
	Checksum    string `json:"checksum"`
}

// wireRecord mirrors Record with pointer fields so absent keys can be told
// apart from zero values.
type wireRecord struct {
	ID          *string `json:"id"`
	Filename    *string `json:"filename"`
	MimeType    *string `json:"mimetype"`
	TotalChunks *int    `json:"totalChunks"`
	ChunkIndex  *int    `json:"chunkIndex"`
	Data        *string `json:"data"`
	Checksum    *string `json:"checksum"`
}

// Checksum returns the lowercase hex MD5 digest of raw.
func Checksum(raw []byte) string {
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// NewRecord builds a record for one raw piece of a file. The checksum and
// the base64 text are both derived from raw.
func NewRecord(transferID, filename, mimetype string, totalChunks, chunkIndex int, raw []byte) Record {
	return Record{
		TransferID:  transferID,
		Filename:    filename,
		MimeType:    mimetype,
		TotalChunks: totalChunks,
		ChunkIndex:  chunkIndex,
		Data:        base64.StdEncoding.EncodeToString(raw),
		Checksum:    Checksum(raw),
	}
}

// Marshal returns the JSON text payload handed to the visual encoder.
func (r Record) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("failed to marshal chunk %d: %w", r.ChunkIndex, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Payload is Marshal as a string. Records built by NewRecord always marshal.
func (r Record) Payload() string {
	data, err := r.Marshal()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Payload",
			"transfer_id": r.TransferID,
			"chunk_index": r.ChunkIndex,
			"error":       err.Error(),
		}).Error("Failed to marshal chunk record")
		return ""
	}
	return string(data)
}

// Parse decodes a payload read back from a symbol. All seven fields must be
// present; filename and mimetype may be empty strings. The data field is
// not decoded here, see Verify.
func Parse(payload string) (Record, error) {
	if err := limits.ValidatePayload(payload); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}

	var w wireRecord
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}

	if err := w.validate(); err != nil {
		return Record{}, err
	}

	return Record{
		TransferID:  *w.ID,
		Filename:    *w.Filename,
		MimeType:    *w.MimeType,
		TotalChunks: *w.TotalChunks,
		ChunkIndex:  *w.ChunkIndex,
		Data:        *w.Data,
		Checksum:    *w.Checksum,
	}, nil
}

// validate checks presence and shape of every field.
func (w *wireRecord) validate() error {
	switch {
	case w.ID == nil || *w.ID == "":
		return fmt.Errorf("%w: missing id", ErrMalformedChunk)
	case w.Filename == nil:
		return fmt.Errorf("%w: missing filename", ErrMalformedChunk)
	case w.MimeType == nil:
		return fmt.Errorf("%w: missing mimetype", ErrMalformedChunk)
	case w.TotalChunks == nil:
		return fmt.Errorf("%w: missing totalChunks", ErrMalformedChunk)
	case w.ChunkIndex == nil:
		return fmt.Errorf("%w: missing chunkIndex", ErrMalformedChunk)
	case w.Data == nil || *w.Data == "":
		return fmt.Errorf("%w: missing data", ErrMalformedChunk)
	case w.Checksum == nil:
		return fmt.Errorf("%w: missing checksum", ErrMalformedChunk)
	}

	if err := limits.ValidateTotalChunks(*w.TotalChunks); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}
	if *w.ChunkIndex < 0 || *w.ChunkIndex >= *w.TotalChunks {
		return fmt.Errorf("%w: chunkIndex %d not in [0, %d)", ErrMalformedChunk, *w.ChunkIndex, *w.TotalChunks)
	}
	if !isHexDigest(*w.Checksum) {
		return fmt.Errorf("%w: checksum %q is not a hex MD5 digest", ErrMalformedChunk, *w.Checksum)
	}
	return nil
}

func isHexDigest(s string) bool {
	if len(s) != checksumLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Bytes decodes the raw chunk bytes from Data.
func (r Record) Bytes() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d: %v", ErrDecode, r.ChunkIndex, err)
	}
	return raw, nil
}

// Verify decodes Data and checks it against Checksum, which must be the
// lower-case hex digest.
func (r Record) Verify() ([]byte, error) {
	raw, err := r.Bytes()
	if err != nil {
		return nil, err
	}

	calculated := Checksum(raw)
	if calculated != r.Checksum {
		return nil, fmt.Errorf("%w: chunk %d: calculated %s, expected %s",
			ErrChecksumMismatch, r.ChunkIndex, calculated, r.Checksum)
	}
	return raw, nil
}
