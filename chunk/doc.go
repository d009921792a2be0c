// Package chunk implements the qrxfer chunk record: the wire representation
// of one file fragment, its JSON codec and checksum rules, and the encoder
// that splits a file into an ordered record sequence.
//
// # Wire Format
//
// Each record is a JSON object with exactly these keys:
//
//	{
//	    "id":          "transfer-1760000000000-4f0c2a9be1d3",
//	    "filename":    "report.pdf",
//	    "mimetype":    "application/pdf",
//	    "totalChunks": 10,
//	    "chunkIndex":  3,
//	    "data":        "<standard base64, no line wrapping>",
//	    "checksum":    "<lowercase hex MD5 of the raw bytes>"
//	}
//
// The checksum is computed over the raw chunk bytes, never over their base64
// text, so decoding data and hashing it reproduces checksum exactly. Any
// independent implementation that follows these rules interoperates.
//
// # Encoding
//
//	records, err := chunk.Encode(data, "report.pdf", "application/pdf", limits.DefaultChunkSize)
//	for _, r := range records {
//	    payload := r.Payload() // hand to the visual encoder
//	}
//
// Every call generates a fresh transfer id, so two encodes of the same file
// never share keys on the receiving side. An empty input yields zero records.
//
// # Decoding
//
//	rec, err := chunk.Parse(text)  // ErrMalformedChunk
//	raw, err := rec.Verify()       // ErrDecode, ErrChecksumMismatch
//
// # Errors
//
//	var (
//	    ErrMalformedChunk    // missing or malformed fields
//	    ErrChecksumMismatch  // data does not hash to checksum
//	    ErrDecode            // data is not valid base64
//	    ErrIO                // source could not be read
//	    ErrInvalidChunkSize  // chunk size outside limits
//	)
package chunk
