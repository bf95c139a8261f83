package protocol

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	cases := []struct {
		line string
		want Command
	}{
		{"put 10 0 5 5", Command{Kind: KindPut, Pri: 10, TTR: 5 * time.Second, Bytes: 5}},
		{"put 4294967295 2 1 0", Command{Kind: KindPut, Pri: 4294967295, Delay: 2 * time.Second, TTR: time.Second}},
		{"reserve", Command{Kind: KindReserve}},
		{"reserve-with-timeout 0", Command{Kind: KindReserveWithTimeout}},
		{"reserve-with-timeout 3", Command{Kind: KindReserveWithTimeout, Timeout: 3 * time.Second}},
		{"delete 18446744073709551615", Command{Kind: KindDelete, ID: 18446744073709551615}},
		{"release 3 7 9", Command{Kind: KindRelease, ID: 3, Pri: 7, Delay: 9 * time.Second}},
		{"bury 3 7", Command{Kind: KindBury, ID: 3, Pri: 7}},
		{"kick 100", Command{Kind: KindKick, Bound: 100}},
		{"kick-job 4", Command{Kind: KindKickJob, ID: 4}},
		{"touch 1", Command{Kind: KindTouch, ID: 1}},
		{"peek 1", Command{Kind: KindPeek, ID: 1}},
		{"peek-ready", Command{Kind: KindPeekReady}},
		{"peek-delayed", Command{Kind: KindPeekDelayed}},
		{"peek-buried", Command{Kind: KindPeekBuried}},
		{"stats", Command{Kind: KindStats}},
		{"stats-job 2", Command{Kind: KindStatsJob, ID: 2}},
		{"stats-tube default", Command{Kind: KindStatsTube, Tube: "default"}},
		{"use emails", Command{Kind: KindUse, Tube: "emails"}},
		{"watch a+b/c;d.e$f_g(h)", Command{Kind: KindWatch, Tube: "a+b/c;d.e$f_g(h)"}},
		{"ignore default", Command{Kind: KindIgnore, Tube: "default"}},
		{"list-tubes", Command{Kind: KindListTubes}},
		{"list-tube-used", Command{Kind: KindListTubeUsed}},
		{"list-tubes-watched", Command{Kind: KindListTubesWatched}},
		{"pause-tube default 30", Command{Kind: KindPauseTube, Tube: "default", Delay: 30 * time.Second}},
		{"quit", Command{Kind: KindQuit}},
		{"put  1   2 3 4", Command{Kind: KindPut, Pri: 1, Delay: 2 * time.Second, TTR: 3 * time.Second, Bytes: 4}},
	}
	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			got, err := Parse([]byte(tc.line))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"put",
		"put 1 2 3",
		"put 1 2 3 4 5",
		"put -1 0 1 1",
		"put 1 0 1 +2",
		"put 4294967296 0 1 1",
		"put 1 0 1 1x",
		"reserve ",
		"reserve 1",
		"stats extra",
		"quit now",
		"delete",
		"delete 18446744073709551616",
		"use -leading",
		"use bad!name",
		"watch " + strings.Repeat("a", MaxTubeNameLen+1),
		"pause-tube default",
		"peek\x001",
		"list-tubes ",
	}
	for _, line := range bad {
		_, err := Parse([]byte(line))
		assert.ErrorIs(t, err, ErrBadFormat, "line %q", line)
	}

	for _, line := range []string{"", "PUT 1 2 3 4", "frobnicate", "reserve-with-timeout", "list"} {
		_, err := Parse([]byte(line))
		if line == "reserve-with-timeout" {
			assert.ErrorIs(t, err, ErrBadFormat)
			continue
		}
		assert.ErrorIs(t, err, ErrUnknownCommand, "line %q", line)
	}
}

func TestValidTubeName(t *testing.T) {
	assert.True(t, ValidTubeName("default"))
	assert.True(t, ValidTubeName(strings.Repeat("x", MaxTubeNameLen)))
	assert.True(t, ValidTubeName("a-b"))
	assert.False(t, ValidTubeName(""))
	assert.False(t, ValidTubeName("-a"))
	assert.False(t, ValidTubeName("a b"))
	assert.False(t, ValidTubeName("tab\t"))
}

func TestReplies(t *testing.T) {
	assert.Equal(t, "INSERTED 7\r\n", Inserted(7))
	assert.Equal(t, "BURIED 7\r\n", BuriedID(7))
	assert.Equal(t, "RESERVED 1 5\r\n", JobHeader(WordReserved, 1, 5))
	assert.Equal(t, "OK 12\r\n", OK(12))
	assert.Equal(t, "WATCHING 2\r\n", Watching(2))
	assert.Equal(t, "KICKED 0\r\n", Kicked(0))
	assert.Equal(t, ReplyUnknownCommand, ErrorReply(ErrUnknownCommand))
	assert.Equal(t, ReplyBadFormat, ErrorReply(errors.New("x")))
	assert.Equal(t, "reserve-with-timeout", KindReserveWithTimeout.String())
}

func TestClientReadsBodies(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	c := NewClient(cli)
	defer c.Close()

	go func() {
		buf := make([]byte, 256)
		// put 10 0 5 5\r\nhello\r\n arrives in one or more writes
		var got string
		for !strings.HasSuffix(got, "hello\r\n") {
			n, err := srv.Read(buf)
			if err != nil {
				return
			}
			got += string(buf[:n])
		}
		_, _ = srv.Write([]byte("INSERTED 1\r\n"))
		n, _ := srv.Read(buf)
		_ = n
		_, _ = srv.Write([]byte("RESERVED 1 5\r\nhello\r\n"))
		n, _ = srv.Read(buf)
		_ = n
		_, _ = srv.Write([]byte("NOT_FOUND\r\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := c.Put(ctx, 10, 0, 5*time.Second, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	id, body, err := c.Reserve(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, "hello", string(body))

	err = c.Delete(ctx, 9)
	var re *ReplyError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "NOT_FOUND", re.Word)
}
