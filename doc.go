// Package qrxfer moves files between devices through a sequence of QR
// symbols, with no network in between.
//
// The sender splits a file into self-describing chunk records and shows
// them one at a time. The receiver scans the symbols in any order, checks
// every record against its MD5 checksum and rebuilds the file once enough
// chunks have arrived.
//
// # Getting Started
//
// Create an instance, select a file and cycle through its symbols:
//
//	inst, err := qrxfer.New(qrxfer.NewOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close()
//
//	session, err := inst.SelectPath("report.pdf")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d symbols\n", session.Len())
//
//	inst.OnAdvance(func(r chunk.Record) {
//	    show(r.Payload())
//	})
//	inst.StartAutoplay(ctx)
//
// On the receiving device, feed every decoded symbol to Scan and save once
// the buffer is complete:
//
//	inst.OnProgress(func(o receiver.Outcome) {
//	    if o.IsComplete {
//	        path, _, err := inst.Save()
//	        ...
//	    }
//	})
//	for text := range decodedFrames {
//	    inst.Scan(ctx, text)
//	}
//
// # Core Types
//
//   - [Instance]: one sender session and one receiver session
//   - [Options]: chunk size, display delay, error correction, gap policy
//
// # Packages
//
//   - chunk: record wire format, checksums and file encoding
//   - sender: record cursor and autoplay
//   - receiver: chunk validation, buffering and reconstruction
//   - scan: single-consumer frame worker with debouncing
//   - storage: atomic publish into the output directory
//   - qrcode: PNG and terminal rendering of payloads
//   - httpapi: HTTP surface for browser-based sender and scanner pages
//
// # Wire Format
//
// Every symbol carries one JSON object:
//
//	{"id":"transfer-1700000000000-3f2a9c1b7d4e","filename":"report.pdf",
//	 "mimetype":"application/pdf","totalChunks":12,"chunkIndex":0,
//	 "data":"JVBERi0xLjQK...","checksum":"9e107d9d372bb6826bd81d3542a419d6"}
//
// data is standard base64 of the raw chunk bytes and checksum is the hex
// MD5 of those raw bytes.
//
// # Thread Safety
//
// Instance methods are safe for concurrent use. Scanned payloads are
// processed by a single worker in arrival order.
package qrxfer
