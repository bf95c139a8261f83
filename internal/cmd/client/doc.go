// Package client provides the job protocol commands of the `tubed` CLI.
//
// Every command opens one connection, runs its requests and closes it, so
// reservation-bound operations (release, bury, touch) are only offered as
// follow-ups of `reserve`.
//
// # Address configuration
//
// The server address comes from --addr, then TUBED_ADDR, then
// 127.0.0.1:11300. The health command reads --grpc, then TUBED_GRPC.
//
// Usage
//
//	tubed put --tube emails --pri 10 --ttr 30s --data '{"to":"a@b.c"}'
//	tubed put --tube emails --file job.json
//	echo hello | tubed put
//
//	tubed reserve --watch emails --timeout 5s --then delete
//	tubed reserve --then bury --pri 100
//
//	tubed peek 42
//	tubed peek --buried --tube emails
//	tubed kick 10 --tube emails
//	tubed kick-job 42
//	tubed delete 42
//
//	tubed stats
//	tubed stats-tube emails -o json
//	tubed stats-job 42
//	tubed list-tubes
//	tubed pause-tube emails 60s
//
//	# gRPC health probe; exits non-zero unless SERVING
//	tubed health --grpc 127.0.0.1:50051
package client
