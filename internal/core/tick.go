package core

import (
	"time"

	"github.com/rzbill/tubed/internal/protocol"
)

// OnTick promotes due delayed jobs, handles every connection whose wake time
// has passed and then dispatches.
func (s *Server) OnTick(now time.Time) {
	for _, t := range s.tubes {
		s.promoteDelayed(t, now)
	}

	var due []*Conn
	for s.wake.Len() > 0 {
		c, _ := s.wake.Peek()
		if c.wakeAt.After(now) {
			break
		}
		s.wake.Pop()
		due = append(due, c)
	}
	for _, c := range due {
		if c.state != StateClosed {
			s.connTimeout(c, now)
		}
	}

	s.processQueue(now)
	s.runPending()
}

func (s *Server) promoteDelayed(t *Tube, now time.Time) {
	for t.delay.Len() > 0 {
		j, _ := t.delay.Peek()
		if j.DeadlineAt.After(now) {
			return
		}
		t.removeDelayed(j)
		j.DeadlineAt = time.Time{}
		if err := t.pushReady(j); err != nil {
			s.bury(j)
		}
	}
}

// connTimeout handles a connection that reached its wake time.
func (s *Server) connTimeout(c *Conn, now time.Time) {
	if c.waiting && !c.hasTimeout && c.deadlineSoon(now) {
		c.stopWaiting()
		c.reply(protocol.ReplyDeadlineSoon)
	}

	for e := c.reserved.Front(); e != nil; {
		next := e.Next()
		j := e.Value.(*Job)
		if !j.DeadlineAt.After(now) {
			j.Timeouts++
			s.stats.timeouts++
			c.log.Debug("reservation timed out", logJob(j))
			if c.outJob == j {
				cp := s.copyJob(j)
				c.outJob = cp
				if len(c.out) > 1 {
					c.out[1] = cp.Body
				}
			}
			s.unreserve(c, j)
			s.requeue(j)
		}
		e = next
	}

	if c.waiting && c.hasTimeout && !now.Before(c.waitDeadline) {
		c.stopWaiting()
		c.reply(protocol.ReplyTimedOut)
	}
	s.updateWake(c)
}

// updateWake recomputes when c next needs attention and repositions it in
// the wake heap, or drops it when nothing is pending.
func (s *Server) updateWake(c *Conn) {
	if c.wakePos >= 0 {
		s.wake.Remove(c.wakePos)
	}
	if c.state == StateClosed {
		return
	}
	var at time.Time
	has := false
	if j := c.soonestJob(); j != nil {
		at = j.DeadlineAt
		if c.waiting && !c.hasTimeout {
			at = at.Add(-SafetyMargin)
		}
		has = true
	}
	if c.waiting && c.hasTimeout && (!has || c.waitDeadline.Before(at)) {
		at = c.waitDeadline
		has = true
	}
	if !has {
		return
	}
	c.wakeAt = at
	_, _ = s.wake.Insert(c)
}

// NextWake returns the earliest time any connection needs a tick, and false
// when none is scheduled. Delayed jobs are not included.
func (s *Server) NextWake() (time.Time, bool) {
	c, ok := s.wake.Peek()
	if !ok {
		return time.Time{}, false
	}
	return c.wakeAt, true
}
