// Package runtime owns a tubed instance: the core job server, the single
// goroutine that drives it, and the config it was built from. Front-ends
// (the job protocol listener, the HTTP and gRPC admin servers) reach the
// core only through a Runtime.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: config.Default()})
//	defer rt.Close()
//	// Health
//	_ = rt.CheckHealth(context.Background())
//	// Stats
//	snap, _ := rt.Snapshot(context.Background())
//	fmt.Println(snap.Server.TotalJobs)
package runtime
