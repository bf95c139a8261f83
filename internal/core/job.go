package core

import (
	"container/list"
	"time"
)

// UrgentThreshold: ready jobs with a priority below it count as urgent.
const UrgentThreshold = 1024

// MinTTR is the smallest time-to-run a job can have.
const MinTTR = time.Second

// JobState is where a job currently lives.
type JobState int

const (
	JobInvalid JobState = iota // body still arriving
	JobReady
	JobReserved
	JobBuried
	JobDelayed
	JobCopy // detached snapshot used for output
)

func (s JobState) String() string {
	switch s {
	case JobReady:
		return "ready"
	case JobReserved:
		return "reserved"
	case JobBuried:
		return "buried"
	case JobDelayed:
		return "delayed"
	case JobCopy:
		return "copy"
	default:
		return "invalid"
	}
}

// Job is a unit of work. Body holds the payload followed by CRLF.
type Job struct {
	ID         uint64
	Pri        uint32
	Delay      time.Duration
	TTR        time.Duration
	Body       []byte
	State      JobState
	CreatedAt  time.Time
	DeadlineAt time.Time

	Reserves uint32
	Timeouts uint32
	Releases uint32
	Buries   uint32
	Kicks    uint32

	tube     *Tube
	reserver *Conn
	elem     *list.Element // in the reserver's reserved list or the tube's buried list
	heapPos  int
}

// BodyLen is the payload size as reported on the wire, CRLF excluded.
func (j *Job) BodyLen() int { return len(j.Body) - 2 }

func readyLess(a, b *Job) bool {
	if a.Pri != b.Pri {
		return a.Pri < b.Pri
	}
	return a.ID < b.ID
}

func delayLess(a, b *Job) bool {
	if !a.DeadlineAt.Equal(b.DeadlineAt) {
		return a.DeadlineAt.Before(b.DeadlineAt)
	}
	return a.ID < b.ID
}

func recordJobPos(j *Job, i int) { j.heapPos = i }

// createJob allocates a job in tube and registers it in the Invalid state.
// bodySize includes the trailing CRLF.
func (s *Server) createJob(pri uint32, delay, ttr time.Duration, bodySize int64, t *Tube) *Job {
	j := &Job{
		ID:        uint64(s.ids.Next()),
		Pri:       pri,
		Delay:     delay,
		TTR:       ttr,
		Body:      make([]byte, bodySize),
		State:     JobInvalid,
		CreatedAt: s.clock(),
		tube:      t,
		heapPos:   -1,
	}
	s.increfTube(t)
	s.jobs[j.ID] = j
	return j
}

// Find returns a live job. Jobs whose body is still arriving are not visible.
func (s *Server) Find(jid uint64) *Job {
	j := s.jobs[jid]
	if j == nil || j.State == JobInvalid {
		return nil
	}
	return j
}

// destroyJob unregisters j. It must already be unlinked from every queue.
func (s *Server) destroyJob(j *Job) {
	if j.State != JobCopy {
		delete(s.jobs, j.ID)
	}
	s.decrefTube(j.tube)
	j.tube = nil
	j.State = JobInvalid
}

// copyJob returns an unregistered deep copy of j in the Copy state.
func (s *Server) copyJob(j *Job) *Job {
	cp := *j
	cp.Body = append([]byte(nil), j.Body...)
	cp.State = JobCopy
	cp.reserver = nil
	cp.elem = nil
	cp.heapPos = -1
	s.increfTube(cp.tube)
	s.copies++
	return &cp
}

// releaseCopy drops a copy made by copyJob.
func (s *Server) releaseCopy(j *Job) {
	if j == nil || j.State != JobCopy {
		return
	}
	s.copies--
	s.destroyJob(j)
}
