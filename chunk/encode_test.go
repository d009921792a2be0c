package chunk

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"testing/iotest"
	"time"

	"github.com/opd-ai/qrxfer/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

// reassemble decodes a complete record sequence in index order.
func reassemble(t *testing.T, records []Record) []byte {
	t.Helper()
	var out bytes.Buffer
	for i, r := range records {
		require.Equal(t, i, r.ChunkIndex)
		raw, err := r.Verify()
		require.NoError(t, err)
		out.Write(raw)
	}
	return out.Bytes()
}

func TestEncode_ChunkCountsAndSizes(t *testing.T) {
	for _, chunkSize := range []int{1, 3, 16, 1024} {
		for _, n := range []int{0, 1, 2, 15, 16, 17, 1023, 1024, 1025, 5000} {
			t.Run(fmt.Sprintf("size=%d/n=%d", chunkSize, n), func(t *testing.T) {
				records, err := Encode(randomBytes(t, n), "f.bin", "application/octet-stream", chunkSize)
				require.NoError(t, err)

				want := (n + chunkSize - 1) / chunkSize
				require.Len(t, records, want)

				for i, r := range records {
					raw, err := r.Bytes()
					require.NoError(t, err)
					assert.Equal(t, want, r.TotalChunks)
					assert.Equal(t, i, r.ChunkIndex)
					if i < want-1 {
						assert.Len(t, raw, chunkSize)
					} else {
						assert.Len(t, raw, n-chunkSize*(want-1))
					}
				}
			})
		}
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	for _, chunkSize := range []int{1, 16, 200, 1024, 4096} {
		for _, n := range []int{0, 1, 199, 200, 201, 999999} {
			if testing.Short() && n == 999999 && chunkSize < 200 {
				continue
			}
			t.Run(fmt.Sprintf("size=%d/n=%d", chunkSize, n), func(t *testing.T) {
				data := randomBytes(t, n)
				records, err := Encode(data, "f.bin", "", chunkSize)
				require.NoError(t, err)
				assert.Equal(t, data, reassemble(t, records))
			})
		}
	}
}

func TestEncode_TenThousandBytes(t *testing.T) {
	data := randomBytes(t, 10000)
	records, err := Encode(data, "scan.jpg", "image/jpeg", 1024)
	require.NoError(t, err)
	require.Len(t, records, 10)

	for i := 0; i < 9; i++ {
		raw, err := records[i].Bytes()
		require.NoError(t, err)
		assert.Len(t, raw, 1024)
	}
	last, err := records[9].Bytes()
	require.NoError(t, err)
	assert.Len(t, last, 784)
}

func TestEncode_EmptyInput(t *testing.T) {
	records, err := Encode(nil, "empty.txt", "text/plain", 1024)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestEncode_InvalidChunkSize(t *testing.T) {
	for _, size := range []int{0, -1, 65537} {
		_, err := Encode([]byte("data"), "f", "", size)
		assert.ErrorIs(t, err, ErrInvalidChunkSize, "chunk size %d", size)
	}
}

func TestEncode_TooManyChunks(t *testing.T) {
	records, err := Encode(make([]byte, limits.MaxTotalChunks+1), "big.bin", "", 1)
	assert.ErrorIs(t, err, ErrTooManyChunks)
	assert.Nil(t, records)
}

func TestEncode_SharedIdentity(t *testing.T) {
	records, err := Encode(randomBytes(t, 50), "", "", 10)
	require.NoError(t, err)

	for _, r := range records {
		assert.Equal(t, records[0].TransferID, r.TransferID)
		assert.Equal(t, DefaultFilename, r.Filename)
		assert.Equal(t, DefaultMimeType, r.MimeType)
	}
}

func TestEncode_FreshTransferIDPerCall(t *testing.T) {
	data := []byte("same file, different transfers")
	first, err := Encode(data, "a.txt", "text/plain", 8)
	require.NoError(t, err)
	second, err := Encode(data, "a.txt", "text/plain", 8)
	require.NoError(t, err)

	assert.NotEqual(t, first[0].TransferID, second[0].TransferID)
}

func TestNewTransferID_Format(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now = func() time.Time { return fixed }
	defer func() { now = time.Now }()

	id := NewTransferID()
	pattern := fmt.Sprintf(`^transfer-%d-[0-9a-f]{12}$`, fixed.UnixMilli())
	assert.Regexp(t, regexp.MustCompile(pattern), id)

	// Same millisecond, still unique.
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewTransferID()
		require.False(t, seen[id], "duplicate transfer id %s", id)
		seen[id] = true
	}
}

func TestEncodeReader_ReadFailure(t *testing.T) {
	_, err := EncodeReader(iotest.ErrReader(os.ErrClosed), "f", "", 16)
	assert.ErrorIs(t, err, ErrIO)
}

func TestEncodeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.html")
	data := []byte("<p>line one</p>\n<p>line two</p>\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	records, err := EncodeFile(path, "", 4)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	assert.Equal(t, "notes.html", records[0].Filename)
	assert.Equal(t, "text/html", records[0].MimeType)
	assert.Equal(t, data, reassemble(t, records))
}

func TestEncodeFile_Missing(t *testing.T) {
	_, err := EncodeFile(filepath.Join(t.TempDir(), "nope.bin"), "", 16)
	assert.ErrorIs(t, err, ErrIO)
}

func TestMimeTypeFor(t *testing.T) {
	assert.Equal(t, "application/json", MimeTypeFor("a.json"))
	assert.Equal(t, "image/png", MimeTypeFor("photo.PNG"))
	assert.Equal(t, DefaultMimeType, MimeTypeFor("archive.unknownext"))
	assert.Equal(t, DefaultMimeType, MimeTypeFor("Makefile"))
}
