package protocol

import (
	"bytes"
	"errors"
	"strconv"
	"time"

	"github.com/rzbill/tubed/pkg/id"
)

// MaxLineSize is the longest request line accepted, CRLF included.
const MaxLineSize = 224

// MaxTubeNameLen bounds tube names.
const MaxTubeNameLen = 200

var (
	// ErrBadFormat marks a known command with missing, extra or malformed arguments.
	ErrBadFormat = errors.New("protocol: bad format")
	// ErrUnknownCommand marks a line whose first word is not a command.
	ErrUnknownCommand = errors.New("protocol: unknown command")
)

// Kind identifies a request.
type Kind int

const (
	KindUnknown Kind = iota
	KindPut
	KindPeek
	KindPeekReady
	KindPeekDelayed
	KindPeekBuried
	KindReserve
	KindReserveWithTimeout
	KindDelete
	KindRelease
	KindBury
	KindKick
	KindKickJob
	KindTouch
	KindStats
	KindStatsJob
	KindStatsTube
	KindUse
	KindWatch
	KindIgnore
	KindListTubes
	KindListTubeUsed
	KindListTubesWatched
	KindPauseTube
	KindQuit
)

var kindNames = map[Kind]string{
	KindPut:                "put",
	KindPeek:               "peek",
	KindPeekReady:          "peek-ready",
	KindPeekDelayed:        "peek-delayed",
	KindPeekBuried:         "peek-buried",
	KindReserve:            "reserve",
	KindReserveWithTimeout: "reserve-with-timeout",
	KindDelete:             "delete",
	KindRelease:            "release",
	KindBury:               "bury",
	KindKick:               "kick",
	KindKickJob:            "kick-job",
	KindTouch:              "touch",
	KindStats:              "stats",
	KindStatsJob:           "stats-job",
	KindStatsTube:          "stats-tube",
	KindUse:                "use",
	KindWatch:              "watch",
	KindIgnore:             "ignore",
	KindListTubes:          "list-tubes",
	KindListTubeUsed:       "list-tube-used",
	KindListTubesWatched:   "list-tubes-watched",
	KindPauseTube:          "pause-tube",
	KindQuit:               "quit",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

// String returns the command word.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Command is a parsed request. Only the fields relevant to Kind are set.
type Command struct {
	Kind    Kind
	ID      uint64
	Pri     uint32
	Delay   time.Duration
	TTR     time.Duration
	Timeout time.Duration
	Bytes   int64 // declared body size without the trailing CRLF
	Bound   uint32
	Tube    string
}

// arity is the number of arguments each command takes.
var arity = map[Kind]int{
	KindPut:                4,
	KindPeek:               1,
	KindReserveWithTimeout: 1,
	KindDelete:             1,
	KindRelease:            3,
	KindBury:               2,
	KindKick:               1,
	KindKickJob:            1,
	KindTouch:              1,
	KindStatsJob:           1,
	KindStatsTube:          1,
	KindUse:                1,
	KindWatch:              1,
	KindIgnore:             1,
	KindPauseTube:          2,
}

// Parse decodes a request line. The line must not include the trailing CRLF.
func Parse(line []byte) (Command, error) {
	if bytes.IndexByte(line, 0) >= 0 {
		return Command{}, ErrBadFormat
	}
	word := line
	rest := []byte(nil)
	if i := bytes.IndexByte(line, ' '); i >= 0 {
		word, rest = line[:i], line[i:]
	}
	kind, ok := kindsByName[string(word)]
	if !ok {
		return Command{}, ErrUnknownCommand
	}
	cmd := Command{Kind: kind}

	n := arity[kind]
	if n == 0 {
		// commands without arguments must match exactly
		if rest != nil {
			return Command{}, ErrBadFormat
		}
		return cmd, nil
	}
	args := fields(rest)
	if len(args) != n {
		return Command{}, ErrBadFormat
	}

	var err error
	switch kind {
	case KindPut:
		if cmd.Pri, err = readU32(args[0]); err != nil {
			break
		}
		if cmd.Delay, err = readSeconds(args[1]); err != nil {
			break
		}
		if cmd.TTR, err = readSeconds(args[2]); err != nil {
			break
		}
		var size uint32
		size, err = readU32(args[3])
		cmd.Bytes = int64(size)
	case KindPeek, KindDelete, KindKickJob, KindTouch, KindStatsJob:
		cmd.ID, err = readID(args[0])
	case KindReserveWithTimeout:
		cmd.Timeout, err = readSeconds(args[0])
	case KindRelease:
		if cmd.ID, err = readID(args[0]); err != nil {
			break
		}
		if cmd.Pri, err = readU32(args[1]); err != nil {
			break
		}
		cmd.Delay, err = readSeconds(args[2])
	case KindBury:
		if cmd.ID, err = readID(args[0]); err != nil {
			break
		}
		cmd.Pri, err = readU32(args[1])
	case KindKick:
		cmd.Bound, err = readU32(args[0])
	case KindStatsTube, KindUse, KindWatch, KindIgnore:
		cmd.Tube, err = readTube(args[0])
	case KindPauseTube:
		if cmd.Tube, err = readTube(args[0]); err != nil {
			break
		}
		cmd.Delay, err = readSeconds(args[1])
	}
	if err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// fields splits on runs of spaces. Tabs and other whitespace are not separators.
func fields(b []byte) []string {
	var out []string
	for len(b) > 0 {
		for len(b) > 0 && b[0] == ' ' {
			b = b[1:]
		}
		if len(b) == 0 {
			break
		}
		i := bytes.IndexByte(b, ' ')
		if i < 0 {
			i = len(b)
		}
		out = append(out, string(b[:i]))
		b = b[i:]
	}
	return out
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func readU32(s string) (uint32, error) {
	if !digits(s) {
		return 0, ErrBadFormat
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, ErrBadFormat
	}
	return uint32(v), nil
}

func readID(s string) (uint64, error) {
	v, err := id.Parse(s)
	if err != nil {
		return 0, ErrBadFormat
	}
	return uint64(v), nil
}

func readSeconds(s string) (time.Duration, error) {
	v, err := readU32(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}

func readTube(s string) (string, error) {
	if !ValidTubeName(s) {
		return "", ErrBadFormat
	}
	return s, nil
}

// ValidTubeName reports whether name may be used as a tube name.
func ValidTubeName(name string) bool {
	if len(name) == 0 || len(name) > MaxTubeNameLen || name[0] == '-' {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !nameChar(name[i]) {
			return false
		}
	}
	return true
}

func nameChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '-', '+', '/', ';', '.', '$', '_', '(', ')':
		return true
	}
	return false
}
