// Package protocol implements the tubed wire format.
//
// Requests are CRLF-terminated ASCII lines whose first word names the
// command. Parse turns one line into a Command carrying already validated
// arguments; the core never looks at raw command text. Replies are built from
// the constants and helpers in reply.go. Job-bearing replies are a header line
// followed by the job body, which carries its own trailing CRLF.
//
// Client provides the other side of the conversation for the CLI and tests.
package protocol
