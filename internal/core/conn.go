package core

import (
	"bytes"
	"container/list"
	"errors"
	"time"

	"github.com/rzbill/tubed/internal/protocol"
	logpkg "github.com/rzbill/tubed/pkg/log"
)

// ConnState is the protocol state of a connection.
type ConnState int

const (
	StateWantCommand ConnState = iota
	StateWantData
	StateSendWord
	StateSendJob
	StateWait
	StateBitBucket
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateWantCommand:
		return "want-command"
	case StateWantData:
		return "want-data"
	case StateSendWord:
		return "send-word"
	case StateSendJob:
		return "send-job"
	case StateWait:
		return "wait"
	case StateBitBucket:
		return "bit-bucket"
	default:
		return "closed"
	}
}

const readChunk = 4096

// Conn is one client connection.
type Conn struct {
	ID  uint64
	srv *Server
	t   Transport
	log logpkg.Logger

	state    ConnState
	interest Interest
	// registered is false until the first Register call so the initial
	// interest is always reported.
	registered bool
	scheduled  bool

	in        []byte // received, not yet consumed
	skipLine  bool   // discarding the rest of an over-long line
	inJob     *Job
	inJobRead int64
	bucket    int64  // bytes left to discard in StateBitBucket
	deferred  string // reply sent once the bit bucket drains

	out     [][]byte
	outSent int
	outJob  *Job

	use      *Tube
	watch    []*Tube
	reserved *list.List
	soonest  *Job

	waiting      bool
	hasTimeout   bool
	waitDeadline time.Time
	wakeAt       time.Time
	wakePos      int

	producer bool
	worker   bool
}

func newConn(s *Server, cid uint64, t Transport) *Conn {
	c := &Conn{
		ID:       cid,
		srv:      s,
		t:        t,
		log:      s.log.With(logpkg.Uint64(logpkg.ConnKey, cid)),
		state:    StateWantCommand,
		reserved: list.New(),
		wakePos:  -1,
	}
	c.use = s.defTube
	s.increfTube(c.use)
	c.use.usingCnt++
	c.watch = []*Tube{s.defTube}
	s.increfTube(s.defTube)
	s.defTube.watchingCnt++
	return c
}

// State returns the protocol state.
func (c *Conn) State() ConnState { return c.state }

// Waiting reports whether the connection is blocked in reserve.
func (c *Conn) Waiting() bool { return c.waiting }

// Transport returns the byte stream the connection was accepted with.
func (c *Conn) Transport() Transport { return c.t }

func connLess(a, b *Conn) bool {
	if !a.wakeAt.Equal(b.wakeAt) {
		return a.wakeAt.Before(b.wakeAt)
	}
	return a.ID < b.ID
}

func (c *Conn) setInterest(i Interest) {
	if c.registered && i == c.interest {
		return
	}
	c.interest = i
	c.registered = true
	if c.srv.events == nil {
		return
	}
	if err := c.srv.events.Register(c, i); err != nil {
		c.log.Warn("register interest failed", logpkg.Err(err))
		c.close()
	}
}

// readAvailable pulls bytes from the transport while the connection wants
// input, running the state machine after each read.
func (c *Conn) readAvailable() {
	buf := make([]byte, readChunk)
	for c.wantsInput() {
		n, err := c.t.Read(buf)
		if n > 0 {
			c.in = append(c.in, buf[:n]...)
			c.process()
		}
		if errors.Is(err, ErrWouldBlock) {
			return
		}
		if err != nil {
			if c.state != StateClosed {
				c.log.Debug("read failed", logpkg.Err(err))
				c.close()
			}
			return
		}
		if n == 0 {
			return
		}
	}
}

func (c *Conn) wantsInput() bool {
	switch c.state {
	case StateWantCommand, StateWantData, StateBitBucket:
		return true
	}
	return false
}

// consume drops n bytes from the front of the input buffer.
func (c *Conn) consume(n int) {
	c.in = c.in[n:]
	if len(c.in) == 0 {
		c.in = nil
	}
}

// fillExtraData hands buffered bytes to an incoming job body or the bit
// bucket. It is a no-op in any other state or with nothing buffered.
func (c *Conn) fillExtraData() {
	if len(c.in) == 0 {
		return
	}
	switch c.state {
	case StateWantData:
		need := int64(len(c.inJob.Body)) - c.inJobRead
		n := min(need, int64(len(c.in)))
		copy(c.inJob.Body[c.inJobRead:], c.in[:n])
		c.inJobRead += n
		c.consume(int(n))
	case StateBitBucket:
		n := min(c.bucket, int64(len(c.in)))
		c.bucket -= n
		c.consume(int(n))
	}
}

// process advances the state machine as far as buffered input and the
// transport allow.
func (c *Conn) process() {
	for {
		switch c.state {
		case StateWantCommand:
			if !c.nextCommand() {
				c.setInterest(InterestRead)
				return
			}
		case StateWantData:
			c.fillExtraData()
			if c.inJobRead < int64(len(c.inJob.Body)) {
				c.setInterest(InterestRead)
				return
			}
			c.srv.finishPut(c)
		case StateBitBucket:
			c.fillExtraData()
			if c.bucket > 0 {
				c.setInterest(InterestRead)
				return
			}
			c.reply(c.deferred)
			c.deferred = ""
		case StateSendWord, StateSendJob:
			done, err := c.flush()
			if err != nil {
				c.log.Debug("write failed", logpkg.Err(err))
				c.close()
				return
			}
			if !done {
				c.setInterest(InterestWrite)
				return
			}
			c.resetOutput()
		case StateWait:
			c.setInterest(InterestNone)
			return
		case StateClosed:
			return
		}
	}
}

// nextCommand extracts and runs one request line. It reports false when no
// complete line is buffered.
func (c *Conn) nextCommand() bool {
	if c.skipLine {
		i := bytes.Index(c.in, []byte(protocol.CRLF))
		if i < 0 {
			// keep a trailing CR in case the LF is next
			if n := len(c.in); n > 0 && c.in[n-1] == '\r' {
				c.consume(n - 1)
			} else {
				c.consume(n)
			}
			return false
		}
		c.consume(i + 2)
		c.skipLine = false
	}
	i := bytes.Index(c.in, []byte(protocol.CRLF))
	if i < 0 || i+2 > protocol.MaxLineSize {
		if i < 0 && len(c.in) < protocol.MaxLineSize {
			return false
		}
		if i < 0 {
			c.skipLine = true
			c.consume(len(c.in))
		} else {
			c.consume(i + 2)
		}
		c.log.Debug("request line too long")
		c.reply(protocol.ReplyBadFormat)
		return true
	}
	line := make([]byte, i)
	copy(line, c.in[:i])
	c.consume(i + 2)
	c.srv.dispatch(c, line)
	c.fillExtraData()
	return true
}

// reply queues a single-line response.
func (c *Conn) reply(msg string) {
	if c.state == StateClosed {
		return
	}
	c.out = [][]byte{[]byte(msg)}
	c.outSent = 0
	c.outJob = nil
	c.state = StateSendWord
	c.srv.schedule(c)
}

// replyJob queues a header followed by j's body. j is either reserved by c or
// a copy owned by the reply.
func (c *Conn) replyJob(word string, j *Job) {
	if c.state == StateClosed {
		return
	}
	c.out = [][]byte{[]byte(protocol.JobHeader(word, j.ID, j.BodyLen())), j.Body}
	c.outSent = 0
	c.outJob = j
	c.state = StateSendJob
	c.srv.schedule(c)
}

// replyData queues an OK header and a synthetic body.
func (c *Conn) replyData(body []byte) {
	if c.state == StateClosed {
		return
	}
	c.out = [][]byte{[]byte(protocol.OK(len(body))), body, []byte(protocol.CRLF)}
	c.outSent = 0
	c.outJob = nil
	c.state = StateSendJob
	c.srv.schedule(c)
}

// skip discards n incoming bytes and then sends msg.
func (c *Conn) skip(n int64, msg string) {
	c.bucket = n
	c.deferred = msg
	c.state = StateBitBucket
}

func (c *Conn) outLen() int {
	n := 0
	for _, b := range c.out {
		n += len(b)
	}
	return n
}

// flush writes pending output and reports whether all of it went out.
func (c *Conn) flush() (bool, error) {
	total := c.outLen()
	for c.outSent < total {
		bufs := make([][]byte, 0, len(c.out))
		off := c.outSent
		for _, b := range c.out {
			if off >= len(b) {
				off -= len(b)
				continue
			}
			bufs = append(bufs, b[off:])
			off = 0
		}
		n, err := c.t.Writev(bufs)
		c.outSent += n
		if errors.Is(err, ErrWouldBlock) {
			return c.outSent >= total, nil
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

func (c *Conn) resetOutput() {
	if c.outJob != nil && c.outJob.State == JobCopy {
		c.srv.releaseCopy(c.outJob)
	}
	c.out = nil
	c.outSent = 0
	c.outJob = nil
	c.state = StateWantCommand
}

func (c *Conn) setProducer() {
	if !c.producer {
		c.producer = true
		c.srv.stats.curProducers++
	}
}

func (c *Conn) setWorker() {
	if !c.worker {
		c.worker = true
		c.srv.stats.curWorkers++
	}
}

// isWatching reports whether t is in the watch set.
func (c *Conn) isWatching(t *Tube) bool {
	for _, w := range c.watch {
		if w == t {
			return true
		}
	}
	return false
}

// soonestJob returns the reserved job with the earliest deadline.
func (c *Conn) soonestJob() *Job {
	if c.soonest != nil {
		return c.soonest
	}
	for e := c.reserved.Front(); e != nil; e = e.Next() {
		j := e.Value.(*Job)
		if c.soonest == nil || j.DeadlineAt.Before(c.soonest.DeadlineAt) {
			c.soonest = j
		}
	}
	return c.soonest
}

// deadlineSoon reports whether a reservation expires within SafetyMargin of now.
func (c *Conn) deadlineSoon(now time.Time) bool {
	j := c.soonestJob()
	return j != nil && !now.Before(j.DeadlineAt.Add(-SafetyMargin))
}

// hasReadyJob reports whether any watched tube has a ready job.
func (c *Conn) hasReadyJob() bool {
	for _, t := range c.watch {
		if t.ready.Len() > 0 {
			return true
		}
	}
	return false
}

// findReserved returns the job with id jid if c holds its reservation.
func (c *Conn) findReserved(jid uint64) *Job {
	j := c.srv.Find(jid)
	if j == nil || j.State != JobReserved || j.reserver != c {
		return nil
	}
	return j
}

// close releases everything the connection holds.
func (c *Conn) close() {
	if c.state == StateClosed {
		return
	}
	s := c.srv
	c.state = StateClosed
	c.stopWaiting()

	for c.reserved.Len() > 0 {
		j := c.reserved.Front().Value.(*Job)
		s.unreserve(c, j)
		s.requeue(j)
	}
	if c.inJob != nil {
		s.destroyJob(c.inJob)
		c.inJob = nil
	}
	if c.outJob != nil && c.outJob.State == JobCopy {
		s.releaseCopy(c.outJob)
	}
	c.outJob = nil
	c.out = nil
	c.in = nil

	c.use.usingCnt--
	s.decrefTube(c.use)
	for _, t := range c.watch {
		t.watchingCnt--
		s.decrefTube(t)
	}
	c.watch = nil

	if c.wakePos >= 0 {
		s.wake.Remove(c.wakePos)
	}
	if c.producer {
		s.stats.curProducers--
	}
	if c.worker {
		s.stats.curWorkers--
	}
	delete(s.conns, c)
	if err := c.t.Close(); err != nil {
		c.log.Debug("transport close failed", logpkg.Err(err))
	}
	c.log.Debug("connection closed")
	s.processQueue(s.clock())
}
