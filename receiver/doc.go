// Package receiver accumulates the chunk records of one incoming transfer
// and reassembles the file once enough of them have arrived.
//
// # Accepting Chunks
//
// Every decoded symbol payload is handed to AcceptChunk. Validation runs in a
// fixed order and the first failing step decides the error:
//
//	parse      -> ErrMalformedChunk
//	duplicate  -> ErrDuplicateChunk
//	identity   -> ErrForeignTransfer, ErrMetadataConflict
//	checksum   -> ErrChecksumMismatch
//
// A rejected payload never changes the buffer. Rejections are expected
// during a scan (repeated frames, glare, a second sender in view) and
// callers should log and continue:
//
//	buf := receiver.NewBuffer()
//	outcome, err := buf.AcceptChunk(payload)
//	if errors.Is(err, receiver.ErrDuplicateChunk) {
//	    // already have it
//	}
//	if outcome.IsComplete {
//	    result, err := buf.Reconstruct()
//	    ...
//	}
//
// # Transfer Identity
//
// The first accepted record latches the transfer id, filename, MIME type and
// chunk count. Under ForeignReject (the default) records of any other
// transfer are refused until Reset. Under ForeignReplace a valid record of
// another transfer discards the buffer and starts over with it.
//
// # States
//
//	StateIdle       // nothing accepted since creation or Reset
//	StateReceiving  // identity latched, chunks missing
//	StateComplete   // every index present
//
// # Reconstruction
//
// Reconstruct concatenates chunks by ascending index. Up to Tolerance(total)
// chunks, min(3, total/10), may be missing. Under GapFailClosed (the
// default) any missing chunk still yields ErrIncomplete; under GapBestEffort
// the present chunks are joined and Result.Missing names the gaps. The
// buffer is never modified by Reconstruct.
//
// # Deterministic Testing
//
// SetTimeProvider replaces the clock used by SinceLastAccept:
//
//	buf.SetTimeProvider(mockTime)
//	mockTime.Advance(30 * time.Second)
//	stalled := buf.SinceLastAccept() > 20*time.Second
//
// # Thread Safety
//
// All Buffer methods are safe for concurrent use.
package receiver
