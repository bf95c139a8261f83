package core

import (
	"container/list"
	"time"

	"github.com/rzbill/tubed/internal/heap"
	"github.com/rzbill/tubed/internal/protocol"
)

// DefaultTubeName is the tube every connection starts out using and watching.
const DefaultTubeName = "default"

// Tube is a named queue.
type Tube struct {
	Name string

	refs    int
	ready   *heap.Heap[*Job]
	delay   *heap.Heap[*Job]
	buried  *list.List
	waiting waitSet

	urgent   int
	reserved int

	totalJobs   uint64
	usingCnt    int
	watchingCnt int
	deleteCnt   uint64
	pauseCnt    uint64

	paused     bool
	pauseDelay time.Duration
	unpauseAt  time.Time
}

func newTube(name string, limit int) *Tube {
	return &Tube{
		Name:   name,
		ready:  heap.New(readyLess, heap.WithRecord(recordJobPos), heap.WithLimit[*Job](limit)),
		delay:  heap.New(delayLess, heap.WithRecord(recordJobPos), heap.WithLimit[*Job](limit)),
		buried: list.New(),
	}
}

// HasBuried reports whether any job is buried in t.
func (t *Tube) HasBuried() bool { return t.buried.Len() > 0 }

// Paused reports whether dispatch from t is suspended at now.
func (t *Tube) Paused(now time.Time) bool { return t.paused && t.unpauseAt.After(now) }

func (t *Tube) pause(now time.Time, d time.Duration) {
	t.paused = true
	t.pauseDelay = d
	t.unpauseAt = now.Add(d)
	t.pauseCnt++
}

func (t *Tube) pushReady(j *Job) error {
	if _, err := t.ready.Insert(j); err != nil {
		return err
	}
	j.State = JobReady
	if j.Pri < UrgentThreshold {
		t.urgent++
	}
	return nil
}

func (t *Tube) removeReady(j *Job) {
	t.ready.Remove(j.heapPos)
	if j.Pri < UrgentThreshold {
		t.urgent--
	}
}

func (t *Tube) pushDelayed(j *Job) error {
	if _, err := t.delay.Insert(j); err != nil {
		return err
	}
	j.State = JobDelayed
	return nil
}

func (t *Tube) removeDelayed(j *Job) { t.delay.Remove(j.heapPos) }

func (t *Tube) pushBuried(j *Job) {
	j.State = JobBuried
	j.elem = t.buried.PushBack(j)
}

func (t *Tube) removeBuried(j *Job) {
	t.buried.Remove(j.elem)
	j.elem = nil
}

// waitSet is the set of connections blocked in reserve on a tube. take hands
// out members with a rotating cursor, which is fair over time but not FIFO.
type waitSet struct {
	items []*Conn
	last  int
}

func (w *waitSet) len() int { return len(w.items) }

func (w *waitSet) contains(c *Conn) bool {
	for _, x := range w.items {
		if x == c {
			return true
		}
	}
	return false
}

func (w *waitSet) add(c *Conn) {
	if !w.contains(c) {
		w.items = append(w.items, c)
	}
}

func (w *waitSet) remove(c *Conn) bool {
	for i, x := range w.items {
		if x == c {
			n := len(w.items) - 1
			w.items[i] = w.items[n]
			w.items[n] = nil
			w.items = w.items[:n]
			return true
		}
	}
	return false
}

func (w *waitSet) take() *Conn {
	if len(w.items) == 0 {
		return nil
	}
	w.last = w.last % len(w.items)
	c := w.items[w.last]
	w.remove(c)
	w.last++
	return c
}

// FindTube scans the registry in creation order.
func (s *Server) FindTube(name string) *Tube {
	for _, t := range s.tubes {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// findOrCreateTube returns the named tube, creating it unreferenced when missing.
// Callers take their own reference.
func (s *Server) findOrCreateTube(name string) (*Tube, error) {
	if t := s.FindTube(name); t != nil {
		return t, nil
	}
	if !protocol.ValidTubeName(name) {
		return nil, protocol.ErrBadFormat
	}
	t := newTube(name, s.opts.MaxJobsPerTube)
	s.tubes = append(s.tubes, t)
	s.log.Debug("tube created", logTube(t))
	return t, nil
}

func (s *Server) increfTube(t *Tube) { t.refs++ }

// decrefTube drops a reference and destroys t when none remain.
func (s *Server) decrefTube(t *Tube) {
	t.refs--
	if t.refs > 0 {
		return
	}
	for i, x := range s.tubes {
		if x == t {
			copy(s.tubes[i:], s.tubes[i+1:])
			s.tubes[len(s.tubes)-1] = nil
			s.tubes = s.tubes[:len(s.tubes)-1]
			break
		}
	}
	s.log.Debug("tube destroyed", logTube(t))
}
