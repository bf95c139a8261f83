package core

import (
	"github.com/rzbill/tubed/internal/protocol"
	logpkg "github.com/rzbill/tubed/pkg/log"
)

// dispatch runs one request line for c.
func (s *Server) dispatch(c *Conn, line []byte) {
	cmd, err := protocol.Parse(line)
	if err != nil {
		c.log.Debug("bad request", logpkg.Str("line", string(line)), logpkg.Err(err))
		c.reply(protocol.ErrorReply(err))
		return
	}
	s.stats.cmds[cmd.Kind]++
	c.log.Debug("request", logpkg.Str("cmd", cmd.Kind.String()))

	now := s.clock()
	switch cmd.Kind {
	case protocol.KindPut:
		s.cmdPut(c, cmd)
	case protocol.KindPeek:
		s.replyPeek(c, s.Find(cmd.ID))
	case protocol.KindPeekReady:
		j, _ := c.use.ready.Peek()
		s.replyPeek(c, j)
	case protocol.KindPeekDelayed:
		j, _ := c.use.delay.Peek()
		s.replyPeek(c, j)
	case protocol.KindPeekBuried:
		var j *Job
		if e := c.use.buried.Front(); e != nil {
			j = e.Value.(*Job)
		}
		s.replyPeek(c, j)
	case protocol.KindReserve:
		c.hasTimeout = false
		s.cmdReserve(c, now)
	case protocol.KindReserveWithTimeout:
		c.hasTimeout = true
		c.waitDeadline = now.Add(cmd.Timeout)
		s.cmdReserve(c, now)
	case protocol.KindDelete:
		s.cmdDelete(c, cmd.ID)
	case protocol.KindRelease:
		s.cmdRelease(c, cmd)
	case protocol.KindBury:
		j := c.findReserved(cmd.ID)
		if j == nil {
			c.reply(protocol.ReplyNotFound)
			return
		}
		s.unreserve(c, j)
		j.Pri = cmd.Pri
		s.bury(j)
		c.reply(protocol.ReplyBuried)
	case protocol.KindKick:
		n := s.kick(c.use, int(cmd.Bound))
		c.reply(protocol.Kicked(n))
		s.processQueue(now)
	case protocol.KindKickJob:
		j := s.Find(cmd.ID)
		if j == nil || !s.kickJob(j) {
			c.reply(protocol.ReplyNotFound)
			return
		}
		c.reply(protocol.ReplyKickedJob)
		s.processQueue(now)
	case protocol.KindTouch:
		j := c.findReserved(cmd.ID)
		if j == nil {
			c.reply(protocol.ReplyNotFound)
			return
		}
		j.DeadlineAt = now.Add(j.TTR)
		c.soonest = nil
		s.updateWake(c)
		c.reply(protocol.ReplyTouched)
	case protocol.KindStats:
		s.replyYAML(c, s.serverStatsDoc(now))
	case protocol.KindStatsJob:
		j := s.Find(cmd.ID)
		if j == nil {
			c.reply(protocol.ReplyNotFound)
			return
		}
		s.replyYAML(c, jobStatsDoc(j, now))
	case protocol.KindStatsTube:
		t := s.FindTube(cmd.Tube)
		if t == nil {
			c.reply(protocol.ReplyNotFound)
			return
		}
		s.replyYAML(c, tubeStatsDoc(t, now))
	case protocol.KindListTubes:
		names := make([]string, 0, len(s.tubes))
		for _, t := range s.tubes {
			names = append(names, t.Name)
		}
		s.replyYAML(c, names)
	case protocol.KindListTubeUsed:
		c.reply(protocol.Using(c.use.Name))
	case protocol.KindListTubesWatched:
		names := make([]string, 0, len(c.watch))
		for _, t := range c.watch {
			names = append(names, t.Name)
		}
		s.replyYAML(c, names)
	case protocol.KindUse:
		s.cmdUse(c, cmd.Tube)
	case protocol.KindWatch:
		s.cmdWatch(c, cmd.Tube)
	case protocol.KindIgnore:
		s.cmdIgnore(c, cmd.Tube)
	case protocol.KindPauseTube:
		t := s.FindTube(cmd.Tube)
		if t == nil {
			c.reply(protocol.ReplyNotFound)
			return
		}
		t.pause(now, cmd.Delay)
		c.reply(protocol.ReplyPaused)
	case protocol.KindQuit:
		c.close()
	}
}

func (s *Server) cmdPut(c *Conn, cmd protocol.Command) {
	size := cmd.Bytes + 2
	if cmd.Bytes > s.opts.MaxJobSize {
		c.skip(size, protocol.ReplyJobTooBig)
		return
	}
	if s.draining {
		c.skip(size, protocol.ReplyDraining)
		return
	}
	if s.opts.MaxJobs > 0 && len(s.jobs) >= s.opts.MaxJobs {
		s.log.Warn("job limit reached; refusing put", logpkg.Int("jobs", len(s.jobs)))
		c.skip(size, protocol.ReplyOutOfMemory)
		return
	}
	ttr := cmd.TTR
	if ttr < MinTTR {
		ttr = MinTTR
	}
	c.setProducer()
	c.inJob = s.createJob(cmd.Pri, cmd.Delay, ttr, size, c.use)
	c.inJobRead = 0
	c.state = StateWantData
}

// finishPut runs once the whole body of c's incoming job is buffered.
func (s *Server) finishPut(c *Conn) {
	j := c.inJob
	c.inJob = nil
	c.inJobRead = 0
	if n := len(j.Body); j.Body[n-2] != '\r' || j.Body[n-1] != '\n' {
		s.destroyJob(j)
		c.reply(protocol.ReplyExpectedCRLF)
		return
	}
	s.stats.totalJobs++
	j.tube.totalJobs++
	if err := s.enqueue(j, j.Delay); err != nil {
		s.log.Debug("put overflow, burying", logJob(j), logTube(j.tube), logpkg.Err(err))
		s.bury(j)
		c.reply(protocol.BuriedID(j.ID))
		return
	}
	c.reply(protocol.Inserted(j.ID))
	s.processQueue(s.clock())
}

func (s *Server) replyPeek(c *Conn, j *Job) {
	if j == nil {
		c.reply(protocol.ReplyNotFound)
		return
	}
	c.replyJob(protocol.WordFound, s.copyJob(j))
}

func (s *Server) cmdDelete(c *Conn, jid uint64) {
	j := s.Find(jid)
	if j == nil {
		c.reply(protocol.ReplyNotFound)
		return
	}
	switch {
	case j.State == JobReserved && j.reserver == c:
		s.unreserve(c, j)
	case j.State == JobReady:
		j.tube.removeReady(j)
	case j.State == JobBuried:
		j.tube.removeBuried(j)
	case j.State == JobDelayed:
		j.tube.removeDelayed(j)
	default:
		c.reply(protocol.ReplyNotFound)
		return
	}
	j.tube.deleteCnt++
	s.destroyJob(j)
	c.reply(protocol.ReplyDeleted)
}

func (s *Server) cmdRelease(c *Conn, cmd protocol.Command) {
	j := c.findReserved(cmd.ID)
	if j == nil {
		c.reply(protocol.ReplyNotFound)
		return
	}
	s.unreserve(c, j)
	j.Pri = cmd.Pri
	j.Delay = cmd.Delay
	j.Releases++
	if err := s.enqueue(j, cmd.Delay); err != nil {
		s.bury(j)
		c.reply(protocol.ReplyBuried)
		return
	}
	c.reply(protocol.ReplyReleased)
	s.processQueue(s.clock())
}

func (s *Server) cmdUse(c *Conn, name string) {
	t, err := s.findOrCreateTube(name)
	if err != nil {
		c.reply(protocol.ReplyBadFormat)
		return
	}
	if t != c.use {
		s.increfTube(t)
		t.usingCnt++
		c.use.usingCnt--
		s.decrefTube(c.use)
		c.use = t
	}
	c.reply(protocol.Using(t.Name))
}

func (s *Server) cmdWatch(c *Conn, name string) {
	t, err := s.findOrCreateTube(name)
	if err != nil {
		c.reply(protocol.ReplyBadFormat)
		return
	}
	if !c.isWatching(t) {
		s.increfTube(t)
		t.watchingCnt++
		c.watch = append(c.watch, t)
	}
	c.reply(protocol.Watching(len(c.watch)))
}

// cmdIgnore refuses only to drop the last watched tube; ignoring a tube that
// is not watched just reports the count.
func (s *Server) cmdIgnore(c *Conn, name string) {
	for i, t := range c.watch {
		if t.Name != name {
			continue
		}
		if len(c.watch) < 2 {
			c.reply(protocol.ReplyNotIgnored)
			return
		}
		c.watch = append(c.watch[:i], c.watch[i+1:]...)
		t.watchingCnt--
		s.decrefTube(t)
		break
	}
	c.reply(protocol.Watching(len(c.watch)))
}
