package core

import "fmt"

// CheckInvariants verifies that every registered job lives in exactly one
// place matching its state, that heap positions and per-tube counters agree
// with the queues, and that tube reference counts match their holders. It
// walks the whole state graph and is meant for tests and debugging.
func (s *Server) CheckInvariants() error {
	places := make(map[*Job]int, len(s.jobs))
	refs := make(map[*Tube]int, len(s.tubes))
	refs[s.defTube]++

	for _, t := range s.tubes {
		urgent := 0
		for i := 0; i < t.ready.Len(); i++ {
			j := t.ready.At(i)
			if j.State != JobReady || j.heapPos != i || j.tube != t {
				return fmt.Errorf("job %d in ready heap of %s has state %s pos %d", j.ID, t.Name, j.State, j.heapPos)
			}
			if j.Pri < UrgentThreshold {
				urgent++
			}
			places[j]++
		}
		if urgent != t.urgent {
			return fmt.Errorf("tube %s urgent count %d, want %d", t.Name, t.urgent, urgent)
		}
		for i := 0; i < t.delay.Len(); i++ {
			j := t.delay.At(i)
			if j.State != JobDelayed || j.heapPos != i || j.tube != t {
				return fmt.Errorf("job %d in delay heap of %s has state %s pos %d", j.ID, t.Name, j.State, j.heapPos)
			}
			places[j]++
		}
		for e := t.buried.Front(); e != nil; e = e.Next() {
			j := e.Value.(*Job)
			if j.State != JobBuried || j.elem != e || j.tube != t {
				return fmt.Errorf("job %d in buried list of %s has state %s", j.ID, t.Name, j.State)
			}
			places[j]++
		}
		for _, c := range t.waiting.items {
			if !c.waiting || !c.isWatching(t) {
				return fmt.Errorf("conn %d waiting on %s without watching it", c.ID, t.Name)
			}
		}
	}

	reservedPerTube := make(map[*Tube]int)
	copies := 0
	for c := range s.conns {
		refs[c.use]++
		if len(c.watch) == 0 {
			return fmt.Errorf("conn %d watches nothing", c.ID)
		}
		for _, t := range c.watch {
			refs[t]++
			if c.waiting != t.waiting.contains(c) {
				return fmt.Errorf("conn %d waiting=%v disagrees with tube %s", c.ID, c.waiting, t.Name)
			}
		}
		for e := c.reserved.Front(); e != nil; e = e.Next() {
			j := e.Value.(*Job)
			if j.State != JobReserved || j.reserver != c || j.elem != e {
				return fmt.Errorf("job %d reserved by conn %d has state %s", j.ID, c.ID, j.State)
			}
			reservedPerTube[j.tube]++
			places[j]++
		}
		if c.inJob != nil && c.inJob.State != JobInvalid {
			return fmt.Errorf("conn %d incoming job %d has state %s", c.ID, c.inJob.ID, c.inJob.State)
		}
		if c.outJob != nil && c.outJob.State == JobCopy {
			refs[c.outJob.tube]++
			copies++
		}
		if needsWake(c) != (c.wakePos >= 0) {
			return fmt.Errorf("conn %d wake heap membership wrong (pos %d)", c.ID, c.wakePos)
		}
	}

	if copies != s.copies {
		return fmt.Errorf("%d job copies outstanding, %d attached to connections", s.copies, copies)
	}

	for jid, j := range s.jobs {
		if j.ID != jid {
			return fmt.Errorf("job %d registered under %d", j.ID, jid)
		}
		refs[j.tube]++
		want := 1
		if j.State == JobInvalid {
			want = 0
		}
		if got := places[j]; got != want {
			return fmt.Errorf("job %d (%s) found in %d places", j.ID, j.State, got)
		}
	}
	for j := range places {
		if s.jobs[j.ID] != j {
			return fmt.Errorf("job %d queued but not registered", j.ID)
		}
	}

	for _, t := range s.tubes {
		if t.reserved != reservedPerTube[t] {
			return fmt.Errorf("tube %s reserved count %d, want %d", t.Name, t.reserved, reservedPerTube[t])
		}
		if t.refs != refs[t] {
			return fmt.Errorf("tube %s refs %d, want %d", t.Name, t.refs, refs[t])
		}
		if t.refs <= 0 {
			return fmt.Errorf("tube %s kept with %d refs", t.Name, t.refs)
		}
	}
	for t := range refs {
		if s.FindTube(t.Name) != t {
			return fmt.Errorf("tube %s referenced but not registered", t.Name)
		}
	}
	return nil
}

func needsWake(c *Conn) bool {
	return c.reserved.Len() > 0 || (c.waiting && c.hasTimeout)
}
