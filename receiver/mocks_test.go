package receiver

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/opd-ai/qrxfer/chunk"
	"github.com/stretchr/testify/require"
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	currentTime time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	return m.currentTime
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.currentTime.Sub(t)
}

func (m *mockTimeProvider) advance(d time.Duration) {
	m.currentTime = m.currentTime.Add(d)
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{
		currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

// encodePayloads encodes data and returns the records with their payloads.
func encodePayloads(t *testing.T, data []byte, chunkSize int) ([]chunk.Record, []string) {
	t.Helper()
	records, err := chunk.Encode(data, "payload.bin", "application/octet-stream", chunkSize)
	require.NoError(t, err)

	payloads := make([]string, len(records))
	for i, r := range records {
		payloads[i] = r.Payload()
		require.NotEmpty(t, payloads[i])
	}
	return records, payloads
}

// acceptAllExcept feeds every payload whose index is not in skip.
func acceptAllExcept(t *testing.T, b *Buffer, payloads []string, skip ...int) {
	t.Helper()
	skipped := make(map[int]bool, len(skip))
	for _, i := range skip {
		skipped[i] = true
	}
	for i, p := range payloads {
		if skipped[i] {
			continue
		}
		_, err := b.AcceptChunk(p)
		require.NoError(t, err, "chunk %d", i)
	}
}
