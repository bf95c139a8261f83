package core

import (
	"time"

	"github.com/rzbill/tubed/internal/protocol"
	logpkg "github.com/rzbill/tubed/pkg/log"
)

// enqueue makes j ready, or delayed when delay is positive. It fails only when
// the target heap is full; j is then left unlinked.
func (s *Server) enqueue(j *Job, delay time.Duration) error {
	if delay > 0 {
		j.DeadlineAt = s.clock().Add(delay)
		return j.tube.pushDelayed(j)
	}
	j.DeadlineAt = time.Time{}
	return j.tube.pushReady(j)
}

// bury moves an unlinked job to the end of its tube's buried list.
func (s *Server) bury(j *Job) {
	j.tube.pushBuried(j)
	j.Buries++
}

// requeue returns an unlinked job to ready, burying it when that fails.
func (s *Server) requeue(j *Job) {
	if err := s.enqueue(j, 0); err != nil {
		s.log.Debug("requeue failed, burying", logJob(j), logpkg.Err(err))
		s.bury(j)
	}
}

// reserveJob hands a ready job, already removed from its heap, to c.
func (s *Server) reserveJob(c *Conn, j *Job, now time.Time) {
	j.DeadlineAt = now.Add(j.TTR)
	j.Reserves++
	j.State = JobReserved
	j.reserver = c
	j.elem = c.reserved.PushBack(j)
	j.tube.reserved++
	if c.soonest == nil || j.DeadlineAt.Before(c.soonest.DeadlineAt) {
		c.soonest = j
	}
	c.log.Debug("job reserved", logJob(j), logTube(j.tube))
	c.replyJob(protocol.WordReserved, j)
	s.updateWake(c)
}

// unreserve detaches a reserved job from c without queueing it anywhere.
func (s *Server) unreserve(c *Conn, j *Job) {
	c.reserved.Remove(j.elem)
	j.elem = nil
	j.reserver = nil
	j.tube.reserved--
	if c.soonest == j {
		c.soonest = nil
	}
	s.updateWake(c)
}

// kick moves up to n jobs from t's buried list, or when it is empty from its
// delay heap, into the ready heap.
func (s *Server) kick(t *Tube, n int) int {
	kicked := 0
	if t.HasBuried() {
		for kicked < n && t.buried.Len() > 0 {
			if !s.kickJob(t.buried.Front().Value.(*Job)) {
				break
			}
			kicked++
		}
		return kicked
	}
	for kicked < n && t.delay.Len() > 0 {
		j, _ := t.delay.Peek()
		if !s.kickJob(j) {
			break
		}
		kicked++
	}
	return kicked
}

// kickJob moves a single buried or delayed job to ready.
func (s *Server) kickJob(j *Job) bool {
	t := j.tube
	switch j.State {
	case JobBuried:
		t.removeBuried(j)
		if err := t.pushReady(j); err != nil {
			t.pushBuried(j)
			return false
		}
	case JobDelayed:
		t.removeDelayed(j)
		if err := t.pushReady(j); err != nil {
			if err := t.pushDelayed(j); err != nil {
				s.log.Warn("kick failed to restore delayed job, burying", logJob(j), logpkg.Err(err))
				s.bury(j)
			}
			return false
		}
		j.DeadlineAt = time.Time{}
	default:
		return false
	}
	j.Kicks++
	return true
}

// waitFor blocks c in reserve on every watched tube.
func (s *Server) waitFor(c *Conn) {
	c.state = StateWait
	c.waiting = true
	s.stats.curWaiting++
	for _, t := range c.watch {
		t.waiting.add(c)
	}
}

// stopWaiting takes c off every waiting set. The caller picks the next state.
func (c *Conn) stopWaiting() {
	if !c.waiting {
		return
	}
	c.waiting = false
	c.srv.stats.curWaiting--
	for _, t := range c.watch {
		t.waiting.remove(c)
	}
}

func (s *Server) cmdReserve(c *Conn, now time.Time) {
	c.setWorker()
	if c.deadlineSoon(now) && !c.hasReadyJob() {
		c.reply(protocol.ReplyDeadlineSoon)
		return
	}
	s.waitFor(c)
	s.processQueue(now)
	if c.waiting && c.hasTimeout && !now.Before(c.waitDeadline) {
		c.stopWaiting()
		c.reply(protocol.ReplyTimedOut)
	}
	s.updateWake(c)
}

// nextEligibleJob picks, across tubes that are unpaused and have a waiter,
// the ready head with the lowest (priority, id).
func (s *Server) nextEligibleJob(now time.Time) *Job {
	var best *Job
	for _, t := range s.tubes {
		if t.paused {
			if t.unpauseAt.After(now) {
				continue
			}
			t.paused = false
		}
		if t.waiting.len() == 0 {
			continue
		}
		j, ok := t.ready.Peek()
		if !ok {
			continue
		}
		if best == nil || readyLess(j, best) {
			best = j
		}
	}
	return best
}

// processQueue matches ready jobs with waiting connections until no tube has both.
func (s *Server) processQueue(now time.Time) {
	for {
		j := s.nextEligibleJob(now)
		if j == nil {
			return
		}
		t := j.tube
		t.removeReady(j)
		c := t.waiting.take()
		c.stopWaiting()
		s.reserveJob(c, j, now)
	}
}
