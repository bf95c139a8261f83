// Package tcpserver accepts job protocol connections and bridges each socket
// to the runtime loop. Every connection gets a reader and a writer goroutine
// that exchange bytes with the loop through bounded buffers, so the core only
// ever sees non-blocking reads and writes.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: config.Default()})
//	s := tcpserver.New(rt, nil)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":11300")
package tcpserver
