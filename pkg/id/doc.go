// Package id allocates job identifiers.
//
// # Format
//
// A job ID is an unsigned 64-bit integer. IDs start at 1 and increase by one
// for every job created in the process; 0 is never handed out and is used by
// callers to mean "no job".
//
// # Monotonicity
//
// The Generator guarantees strictly increasing IDs per process, so an ID is
// never reused even after its job is deleted. Parse reads the decimal form
// accepted on the wire.
//
// Usage
//
//	g := id.NewGenerator()
//	jobID := g.Next()       // 1, 2, 3, ...
//	_ = jobID.String()      // decimal form, as written on the wire
//	back, _ := id.Parse("1") // back == jobID
package id
