package receiver

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/qrxfer/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_IdleState(t *testing.T) {
	b := NewBuffer()

	assert.Equal(t, StateIdle, b.State())
	assert.Equal(t, 0, b.Progress())
	assert.Nil(t, b.MissingChunks())
	assert.Empty(t, b.ReceivedChunks())
	assert.False(t, b.IsComplete())

	_, latched := b.Metadata()
	assert.False(t, latched)
}

func TestBuffer_AnyPermutationReconstructs(t *testing.T) {
	data := randomBytes(t, 1234)
	_, payloads := encodePayloads(t, data, 100)
	require.Len(t, payloads, 13)

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 5; round++ {
		b := NewBuffer()
		order := rng.Perm(len(payloads))

		for n, i := range order {
			outcome, err := b.AcceptChunk(payloads[i])
			require.NoError(t, err)
			assert.True(t, outcome.Accepted)
			assert.Equal(t, n == 0, outcome.IsFirstChunk)
			assert.Equal(t, n+1, outcome.AcceptedCount)
			assert.Equal(t, 13, outcome.TotalChunks)
			assert.Equal(t, n == len(order)-1, outcome.IsComplete)
		}

		result, err := b.Reconstruct()
		require.NoError(t, err)
		assert.Equal(t, data, result.Data)
		assert.Empty(t, result.Missing)
		assert.Equal(t, "payload.bin", result.Metadata.Filename)
	}
}

func TestBuffer_ReverseOrder(t *testing.T) {
	data := randomBytes(t, 10000)
	_, payloads := encodePayloads(t, data, 1024)
	require.Len(t, payloads, 10)

	b := NewBuffer()
	for i := len(payloads) - 1; i >= 0; i-- {
		outcome, err := b.AcceptChunk(payloads[i])
		require.NoError(t, err)
		accepted := len(payloads) - i
		assert.Equal(t, accepted, outcome.AcceptedCount)
		assert.Equal(t, i == 0, outcome.IsComplete, "after %d acceptances", accepted)
		assert.Equal(t, i == 0, b.IsComplete())
	}

	result, err := b.Reconstruct()
	require.NoError(t, err)
	assert.Equal(t, data, result.Data)
	assert.Empty(t, result.Missing)
}

func TestBuffer_DuplicateIsIdempotent(t *testing.T) {
	_, payloads := encodePayloads(t, randomBytes(t, 300), 100)
	b := NewBuffer()

	first, err := b.AcceptChunk(payloads[1])
	require.NoError(t, err)
	assert.True(t, first.IsFirstChunk)

	for i := 0; i < 3; i++ {
		outcome, err := b.AcceptChunk(payloads[1])
		assert.ErrorIs(t, err, ErrDuplicateChunk)
		assert.False(t, outcome.Accepted)
		assert.False(t, outcome.IsFirstChunk)
		assert.Equal(t, 1, outcome.AcceptedCount)
		assert.Equal(t, 3, outcome.TotalChunks)
	}
	assert.Equal(t, 1, b.AcceptedCount())
	assert.Equal(t, 33, b.Progress())
}

func TestBuffer_ChecksumMismatchRejected(t *testing.T) {
	records, payloads := encodePayloads(t, randomBytes(t, 300), 100)
	b := NewBuffer()
	_, err := b.AcceptChunk(payloads[0])
	require.NoError(t, err)

	tampered := records[1]
	tampered.Checksum = chunk.Checksum([]byte("something else"))

	outcome, err := b.AcceptChunk(tampered.Payload())
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.False(t, outcome.Accepted)
	assert.Equal(t, 1, b.AcceptedCount())

	// The genuine record for the same index is still accepted afterwards.
	_, err = b.AcceptChunk(payloads[1])
	assert.NoError(t, err)
}

func TestBuffer_FirstChunkInvalidDoesNotLatch(t *testing.T) {
	records, _ := encodePayloads(t, randomBytes(t, 300), 100)
	b := NewBuffer()

	tampered := records[0]
	tampered.Checksum = chunk.Checksum(nil)
	_, err := b.AcceptChunk(tampered.Payload())
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	assert.Equal(t, StateIdle, b.State())
	_, latched := b.Metadata()
	assert.False(t, latched)
}

func TestBuffer_UndecodableDataIsMalformed(t *testing.T) {
	records, _ := encodePayloads(t, randomBytes(t, 30), 100)
	bad := records[0]
	bad.Data = "not base64!!"

	b := NewBuffer()
	_, err := b.AcceptChunk(bad.Payload())
	assert.ErrorIs(t, err, ErrMalformedChunk)
	assert.Equal(t, StateIdle, b.State())
}

func TestBuffer_MalformedPayload(t *testing.T) {
	b := NewBuffer()
	for _, payload := range []string{"", "https://example.com", `{"id":"x"}`} {
		outcome, err := b.AcceptChunk(payload)
		assert.ErrorIs(t, err, ErrMalformedChunk)
		assert.False(t, outcome.Accepted)
	}
	assert.Equal(t, StateIdle, b.State())
}

func TestBuffer_ForeignReject(t *testing.T) {
	_, first := encodePayloads(t, randomBytes(t, 300), 100)
	_, second := encodePayloads(t, randomBytes(t, 300), 100)

	b := NewBuffer()
	_, err := b.AcceptChunk(first[0])
	require.NoError(t, err)

	outcome, err := b.AcceptChunk(second[1])
	assert.ErrorIs(t, err, ErrForeignTransfer)
	assert.False(t, outcome.Accepted)
	assert.Equal(t, 1, outcome.AcceptedCount)
	assert.Equal(t, []int{0}, b.ReceivedChunks())
}

func TestBuffer_ForeignReplace(t *testing.T) {
	firstRecords, first := encodePayloads(t, randomBytes(t, 1000), 100)
	secondRecords, second := encodePayloads(t, randomBytes(t, 300), 100)

	b := NewBuffer()
	b.SetForeignPolicy(ForeignReplace)

	acceptAllExcept(t, b, first, 5, 6, 7, 8, 9)
	assert.Equal(t, 5, b.AcceptedCount())

	// An invalid foreign record never disturbs the session.
	tampered := secondRecords[0]
	tampered.Checksum = chunk.Checksum(nil)
	_, err := b.AcceptChunk(tampered.Payload())
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, 5, b.AcceptedCount())

	outcome, err := b.AcceptChunk(second[2])
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
	assert.True(t, outcome.IsFirstChunk)
	assert.Equal(t, 1, outcome.AcceptedCount)
	assert.Equal(t, 3, outcome.TotalChunks)

	meta, latched := b.Metadata()
	require.True(t, latched)
	assert.Equal(t, secondRecords[0].TransferID, meta.TransferID)
	assert.NotEqual(t, firstRecords[0].TransferID, meta.TransferID)
	assert.Equal(t, []int{0, 1}, b.MissingChunks())
}

func TestBuffer_MetadataConflict(t *testing.T) {
	records, payloads := encodePayloads(t, randomBytes(t, 300), 100)
	b := NewBuffer()
	_, err := b.AcceptChunk(payloads[0])
	require.NoError(t, err)

	for _, policy := range []ForeignPolicy{ForeignReject, ForeignReplace} {
		b.SetForeignPolicy(policy)
		conflicting := chunk.NewRecord(records[0].TransferID, "payload.bin", "application/octet-stream", 4, 3, []byte("x"))

		outcome, err := b.AcceptChunk(conflicting.Payload())
		assert.ErrorIs(t, err, ErrMetadataConflict)
		assert.False(t, outcome.Accepted)
		assert.Equal(t, 3, outcome.TotalChunks)
	}
	assert.Equal(t, 1, b.AcceptedCount())
}

func TestBuffer_ResetStartsNewSession(t *testing.T) {
	_, first := encodePayloads(t, randomBytes(t, 1000), 100)
	_, second := encodePayloads(t, randomBytes(t, 1000), 100)

	b := NewBuffer()
	acceptAllExcept(t, b, first, 1, 3, 5, 7, 9)
	assert.Equal(t, 50, b.Progress())
	assert.Equal(t, StateReceiving, b.State())

	b.Reset()
	assert.Equal(t, StateIdle, b.State())
	assert.Equal(t, 0, b.AcceptedCount())

	outcome, err := b.AcceptChunk(second[4])
	require.NoError(t, err)
	assert.True(t, outcome.IsFirstChunk)
	assert.Equal(t, 1, outcome.AcceptedCount)
	assert.Equal(t, 10, b.Progress())
}

func TestBuffer_StateAndProgress(t *testing.T) {
	_, payloads := encodePayloads(t, randomBytes(t, 300), 100)
	b := NewBuffer()

	want := []int{33, 66, 100}
	for i, p := range payloads {
		_, err := b.AcceptChunk(p)
		require.NoError(t, err)
		assert.Equal(t, want[i], b.Progress())
		if i < len(payloads)-1 {
			assert.Equal(t, StateReceiving, b.State())
		}
	}
	assert.Equal(t, StateComplete, b.State())
	assert.True(t, b.IsComplete())
	assert.Equal(t, "complete", b.State().String())
	assert.Empty(t, b.MissingChunks())
	assert.Equal(t, []int{0, 1, 2}, b.ReceivedChunks())
}

func TestBuffer_MissingAndReceivedSorted(t *testing.T) {
	_, payloads := encodePayloads(t, randomBytes(t, 1000), 100)
	b := NewBuffer()

	for _, i := range []int{9, 2, 7, 0, 4} {
		_, err := b.AcceptChunk(payloads[i])
		require.NoError(t, err)
	}

	assert.Equal(t, []int{0, 2, 4, 7, 9}, b.ReceivedChunks())
	assert.Equal(t, []int{1, 3, 5, 6, 8}, b.MissingChunks())
}

func TestBuffer_SinceLastAccept(t *testing.T) {
	_, payloads := encodePayloads(t, randomBytes(t, 300), 100)
	mockTime := newMockTimeProvider()

	b := NewBuffer()
	b.SetTimeProvider(mockTime)

	mockTime.advance(5 * time.Second)
	assert.Equal(t, 5*time.Second, b.SinceLastAccept())

	_, err := b.AcceptChunk(payloads[0])
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), b.SinceLastAccept())

	mockTime.advance(30 * time.Second)
	_, err = b.AcceptChunk(payloads[0])
	assert.ErrorIs(t, err, ErrDuplicateChunk)
	assert.Equal(t, 30*time.Second, b.SinceLastAccept(), "rejected chunks do not refresh the timer")

	b.Reset()
	assert.Equal(t, time.Duration(0), b.SinceLastAccept())
}

func TestBuffer_ConcurrentAccept(t *testing.T) {
	data := randomBytes(t, 5000)
	_, payloads := encodePayloads(t, data, 50)

	b := NewBuffer()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, p := range payloads {
				_, _ = b.AcceptChunk(p)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, len(payloads), b.AcceptedCount())
	result, err := b.Reconstruct()
	require.NoError(t, err)
	assert.Equal(t, data, result.Data)
}
