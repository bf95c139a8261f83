package protocol

import (
	"errors"
	"strconv"
)

// Fixed replies, CRLF included.
const (
	ReplyDeleted        = "DELETED\r\n"
	ReplyReleased       = "RELEASED\r\n"
	ReplyBuried         = "BURIED\r\n"
	ReplyTouched        = "TOUCHED\r\n"
	ReplyKickedJob      = "KICKED\r\n"
	ReplyPaused         = "PAUSED\r\n"
	ReplyNotIgnored     = "NOT_IGNORED\r\n"
	ReplyNotFound       = "NOT_FOUND\r\n"
	ReplyDeadlineSoon   = "DEADLINE_SOON\r\n"
	ReplyTimedOut       = "TIMED_OUT\r\n"
	ReplyBadFormat      = "BAD_FORMAT\r\n"
	ReplyUnknownCommand = "UNKNOWN_COMMAND\r\n"
	ReplyExpectedCRLF   = "EXPECTED_CRLF\r\n"
	ReplyJobTooBig      = "JOB_TOO_BIG\r\n"
	ReplyOutOfMemory    = "OUT_OF_MEMORY\r\n"
	ReplyInternalError  = "INTERNAL_ERROR\r\n"
	ReplyDraining       = "DRAINING\r\n"
)

// Words that prefix a job body.
const (
	WordReserved = "RESERVED"
	WordFound    = "FOUND"
	WordOK       = "OK"
)

// CRLF terminates every line and every job body.
const CRLF = "\r\n"

func Inserted(id uint64) string { return "INSERTED " + strconv.FormatUint(id, 10) + CRLF }

// BuriedID is the reply to a put whose job could not be queued and was buried instead.
func BuriedID(id uint64) string { return "BURIED " + strconv.FormatUint(id, 10) + CRLF }

func Using(tube string) string { return "USING " + tube + CRLF }

func Watching(n int) string { return "WATCHING " + strconv.Itoa(n) + CRLF }

func Kicked(n int) string { return "KICKED " + strconv.Itoa(n) + CRLF }

// JobHeader builds "<word> <id> <bytes>\r\n". bytes excludes the body's CRLF.
func JobHeader(word string, id uint64, bytes int) string {
	return word + " " + strconv.FormatUint(id, 10) + " " + strconv.Itoa(bytes) + CRLF
}

// OK builds the header of a data reply whose body is n bytes long, CRLF excluded.
func OK(n int) string { return WordOK + " " + strconv.Itoa(n) + CRLF }

// ErrorReply maps a Parse error to its wire reply.
func ErrorReply(err error) string {
	if errors.Is(err, ErrUnknownCommand) {
		return ReplyUnknownCommand
	}
	return ReplyBadFormat
}
