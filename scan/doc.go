// Package scan connects a symbol decoder to a receive buffer.
//
// A camera loop decodes the same symbol many times per second. Scanner
// queues the decoded payloads, drops a payload identical to the previous
// one when it arrives within the debounce window, and hands the rest to the
// buffer from a single worker goroutine:
//
//	buf := receiver.NewBuffer()
//	sc := scan.NewScanner(buf, scan.DefaultDebounceWindow)
//	sc.OnProgress(func(o receiver.Outcome) {
//	    fmt.Printf("%d/%d\n", o.AcceptedCount, o.TotalChunks)
//	})
//	go sc.Run(ctx)
//
//	for text := range decoded {
//	    if err := sc.Submit(ctx, text); err != nil {
//	        break
//	    }
//	}
//
// Progress callbacks are coalesced; the outcome that completes the transfer
// is always delivered.
package scan
