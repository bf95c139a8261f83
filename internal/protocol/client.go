package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Reply is one server response. Body is set for RESERVED, FOUND and OK and
// excludes the trailing CRLF.
type Reply struct {
	Word string
	Args []string
	Body []byte
}

// ReplyError is returned by the typed Client helpers when the server answers
// with something other than the success word.
type ReplyError struct {
	Word string
}

func (e *ReplyError) Error() string { return "tubed: " + e.Word }

// Client speaks the wire protocol over a single connection. It is safe for
// concurrent use; requests are serialized.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to a tubed server.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, r: bufio.NewReader(conn)}
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Do sends line (without CRLF) and, when body is non-nil, the body followed by
// CRLF, then reads one reply.
func (c *Client) Do(ctx context.Context, line string, body []byte) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	bufs := net.Buffers{[]byte(line + CRLF)}
	if body != nil {
		bufs = append(bufs, body, []byte(CRLF))
	}
	if _, err := bufs.WriteTo(c.conn); err != nil {
		return nil, c.ctxErr(ctx, err)
	}
	rep, err := c.readReply()
	if err != nil {
		return nil, c.ctxErr(ctx, err)
	}
	return rep, nil
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) readReply() (*Reply, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	parts := strings.Split(line, " ")
	rep := &Reply{Word: parts[0], Args: parts[1:]}

	size := -1
	switch rep.Word {
	case WordReserved, WordFound:
		if len(rep.Args) == 2 {
			size, err = strconv.Atoi(rep.Args[1])
		}
	case WordOK:
		if len(rep.Args) == 1 {
			size, err = strconv.Atoi(rep.Args[0])
		}
	}
	if err != nil {
		return nil, fmt.Errorf("malformed reply %q: %w", line, err)
	}
	if size >= 0 {
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return nil, err
		}
		rep.Body = buf[:size]
	}
	return rep, nil
}

func (c *Client) expect(ctx context.Context, word, line string, body []byte) (*Reply, error) {
	rep, err := c.Do(ctx, line, body)
	if err != nil {
		return nil, err
	}
	if rep.Word != word {
		return rep, &ReplyError{Word: rep.Word}
	}
	return rep, nil
}

func firstUint(rep *Reply) (uint64, error) {
	if len(rep.Args) == 0 {
		return 0, fmt.Errorf("reply %s: missing argument", rep.Word)
	}
	return strconv.ParseUint(rep.Args[0], 10, 64)
}

// Put stores body in the used tube and returns the new job id.
func (c *Client) Put(ctx context.Context, pri uint32, delay, ttr time.Duration, body []byte) (uint64, error) {
	line := fmt.Sprintf("put %d %d %d %d", pri, int(delay/time.Second), int(ttr/time.Second), len(body))
	if body == nil {
		body = []byte{}
	}
	rep, err := c.expect(ctx, "INSERTED", line, body)
	if err != nil {
		return 0, err
	}
	return firstUint(rep)
}

// Use selects the tube Put writes to.
func (c *Client) Use(ctx context.Context, tube string) error {
	_, err := c.expect(ctx, "USING", "use "+tube, nil)
	return err
}

// Watch adds tube to the watch list and returns the new count.
func (c *Client) Watch(ctx context.Context, tube string) (int, error) {
	rep, err := c.expect(ctx, "WATCHING", "watch "+tube, nil)
	if err != nil {
		return 0, err
	}
	n, err := firstUint(rep)
	return int(n), err
}

// Ignore removes tube from the watch list and returns the new count.
func (c *Client) Ignore(ctx context.Context, tube string) (int, error) {
	rep, err := c.expect(ctx, "WATCHING", "ignore "+tube, nil)
	if err != nil {
		return 0, err
	}
	n, err := firstUint(rep)
	return int(n), err
}

// Reserve blocks until a job is available. A negative timeout waits forever.
func (c *Client) Reserve(ctx context.Context, timeout time.Duration) (uint64, []byte, error) {
	line := "reserve"
	if timeout >= 0 {
		line = fmt.Sprintf("reserve-with-timeout %d", int(timeout/time.Second))
	}
	rep, err := c.expect(ctx, WordReserved, line, nil)
	if err != nil {
		return 0, nil, err
	}
	id, err := firstUint(rep)
	return id, rep.Body, err
}

// Delete removes a job.
func (c *Client) Delete(ctx context.Context, id uint64) error {
	_, err := c.expect(ctx, "DELETED", "delete "+strconv.FormatUint(id, 10), nil)
	return err
}

// Release puts a reserved job back.
func (c *Client) Release(ctx context.Context, id uint64, pri uint32, delay time.Duration) error {
	_, err := c.expect(ctx, "RELEASED", fmt.Sprintf("release %d %d %d", id, pri, int(delay/time.Second)), nil)
	return err
}

// Bury buries a reserved job.
func (c *Client) Bury(ctx context.Context, id uint64, pri uint32) error {
	_, err := c.expect(ctx, "BURIED", fmt.Sprintf("bury %d %d", id, pri), nil)
	return err
}

// Touch extends a reservation.
func (c *Client) Touch(ctx context.Context, id uint64) error {
	_, err := c.expect(ctx, "TOUCHED", "touch "+strconv.FormatUint(id, 10), nil)
	return err
}

// Kick moves up to bound buried (or else delayed) jobs in the used tube to ready.
func (c *Client) Kick(ctx context.Context, bound uint32) (int, error) {
	rep, err := c.expect(ctx, "KICKED", fmt.Sprintf("kick %d", bound), nil)
	if err != nil {
		return 0, err
	}
	n, err := firstUint(rep)
	return int(n), err
}

// Peek runs one of the peek commands and returns the job id and body.
func (c *Client) Peek(ctx context.Context, line string) (uint64, []byte, error) {
	rep, err := c.expect(ctx, WordFound, line, nil)
	if err != nil {
		return 0, nil, err
	}
	id, err := firstUint(rep)
	return id, rep.Body, err
}

// Data runs a command answered with an OK body (stats, list-tubes, ...).
func (c *Client) Data(ctx context.Context, line string) ([]byte, error) {
	rep, err := c.expect(ctx, WordOK, line, nil)
	if err != nil {
		return nil, err
	}
	return rep.Body, nil
}

// KickJob moves a single buried or delayed job to ready.
func (c *Client) KickJob(ctx context.Context, id uint64) error {
	_, err := c.expect(ctx, "KICKED", "kick-job "+strconv.FormatUint(id, 10), nil)
	return err
}

// PauseTube holds back reservations from tube for delay.
func (c *Client) PauseTube(ctx context.Context, tube string, delay time.Duration) error {
	_, err := c.expect(ctx, "PAUSED", fmt.Sprintf("pause-tube %s %d", tube, int(delay/time.Second)), nil)
	return err
}
