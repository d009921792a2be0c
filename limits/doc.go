// Package limits provides centralized size constants and validation functions
// for qrxfer. Every component that accepts a size from a user or from a
// scanned symbol checks it here, so the encoder and the receiver agree on
// what a well-formed transfer looks like.
//
// # Size Hierarchy
//
//   - DefaultChunkSize (1024 bytes): raw bytes per record unless configured.
//
//   - MaxChunkSize (65536 bytes): the encoder refuses larger chunks. Real QR
//     symbols top out at 2953 bytes at the lowest error-correction level, and
//     base64 plus the JSON envelope inflate a chunk by roughly 40%.
//
//   - MaxPayloadSize (1MB): the absolute maximum for a decoded payload. All
//     camera-decoded text should be validated against this limit before
//     parsing.
//
//   - MaxTotalChunks: the largest chunk count a record may announce.
//
// # Validation Functions
//
// Each validation function returns a sentinel wrapped with context:
//
//	if err := limits.ValidateChunkSize(size); err != nil {
//	    // errors.Is(err, limits.ErrOutOfRange)
//	}
//
//	if err := limits.ValidatePayload(text); err != nil {
//	    // ErrEmpty or ErrTooLarge
//	}
package limits
