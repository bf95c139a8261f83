package core

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzbill/tubed/internal/protocol"
	logpkg "github.com/rzbill/tubed/pkg/log"
)

type serverStats struct {
	cmds         [protocol.KindQuit + 1]uint64
	timeouts     uint64
	totalJobs    uint64
	totalConns   uint64
	curProducers int
	curWorkers   int
	curWaiting   int
}

// JobStats is the stats-job document.
type JobStats struct {
	ID       uint64 `yaml:"id"`
	Tube     string `yaml:"tube"`
	State    string `yaml:"state"`
	Pri      uint32 `yaml:"pri"`
	Age      int64  `yaml:"age"`
	Delay    int64  `yaml:"delay"`
	TTR      int64  `yaml:"ttr"`
	TimeLeft int64  `yaml:"time-left"`
	Reserves uint32 `yaml:"reserves"`
	Timeouts uint32 `yaml:"timeouts"`
	Releases uint32 `yaml:"releases"`
	Buries   uint32 `yaml:"buries"`
	Kicks    uint32 `yaml:"kicks"`
}

// TubeStats is the stats-tube document.
type TubeStats struct {
	Name                string `yaml:"name" json:"name"`
	CurrentJobsUrgent   int    `yaml:"current-jobs-urgent" json:"currentJobsUrgent"`
	CurrentJobsReady    int    `yaml:"current-jobs-ready" json:"currentJobsReady"`
	CurrentJobsReserved int    `yaml:"current-jobs-reserved" json:"currentJobsReserved"`
	CurrentJobsDelayed  int    `yaml:"current-jobs-delayed" json:"currentJobsDelayed"`
	CurrentJobsBuried   int    `yaml:"current-jobs-buried" json:"currentJobsBuried"`
	TotalJobs           uint64 `yaml:"total-jobs" json:"totalJobs"`
	CurrentUsing        int    `yaml:"current-using" json:"currentUsing"`
	CurrentWatching     int    `yaml:"current-watching" json:"currentWatching"`
	CurrentWaiting      int    `yaml:"current-waiting" json:"currentWaiting"`
	CmdDelete           uint64 `yaml:"cmd-delete" json:"cmdDelete"`
	CmdPauseTube        uint64 `yaml:"cmd-pause-tube" json:"cmdPauseTube"`
	Pause               int64  `yaml:"pause" json:"pause"`
	PauseTimeLeft       int64  `yaml:"pause-time-left" json:"pauseTimeLeft"`
}

// ServerStats is the stats document.
type ServerStats struct {
	CurrentJobsUrgent     int    `yaml:"current-jobs-urgent" json:"currentJobsUrgent"`
	CurrentJobsReady      int    `yaml:"current-jobs-ready" json:"currentJobsReady"`
	CurrentJobsReserved   int    `yaml:"current-jobs-reserved" json:"currentJobsReserved"`
	CurrentJobsDelayed    int    `yaml:"current-jobs-delayed" json:"currentJobsDelayed"`
	CurrentJobsBuried     int    `yaml:"current-jobs-buried" json:"currentJobsBuried"`
	CmdPut                uint64 `yaml:"cmd-put" json:"cmdPut"`
	CmdPeek               uint64 `yaml:"cmd-peek" json:"cmdPeek"`
	CmdPeekReady          uint64 `yaml:"cmd-peek-ready" json:"cmdPeekReady"`
	CmdPeekDelayed        uint64 `yaml:"cmd-peek-delayed" json:"cmdPeekDelayed"`
	CmdPeekBuried         uint64 `yaml:"cmd-peek-buried" json:"cmdPeekBuried"`
	CmdReserve            uint64 `yaml:"cmd-reserve" json:"cmdReserve"`
	CmdReserveWithTimeout uint64 `yaml:"cmd-reserve-with-timeout" json:"cmdReserveWithTimeout"`
	CmdDelete             uint64 `yaml:"cmd-delete" json:"cmdDelete"`
	CmdRelease            uint64 `yaml:"cmd-release" json:"cmdRelease"`
	CmdUse                uint64 `yaml:"cmd-use" json:"cmdUse"`
	CmdWatch              uint64 `yaml:"cmd-watch" json:"cmdWatch"`
	CmdIgnore             uint64 `yaml:"cmd-ignore" json:"cmdIgnore"`
	CmdBury               uint64 `yaml:"cmd-bury" json:"cmdBury"`
	CmdKick               uint64 `yaml:"cmd-kick" json:"cmdKick"`
	CmdKickJob            uint64 `yaml:"cmd-kick-job" json:"cmdKickJob"`
	CmdTouch              uint64 `yaml:"cmd-touch" json:"cmdTouch"`
	CmdStats              uint64 `yaml:"cmd-stats" json:"cmdStats"`
	CmdStatsJob           uint64 `yaml:"cmd-stats-job" json:"cmdStatsJob"`
	CmdStatsTube          uint64 `yaml:"cmd-stats-tube" json:"cmdStatsTube"`
	CmdListTubes          uint64 `yaml:"cmd-list-tubes" json:"cmdListTubes"`
	CmdListTubeUsed       uint64 `yaml:"cmd-list-tube-used" json:"cmdListTubeUsed"`
	CmdListTubesWatched   uint64 `yaml:"cmd-list-tubes-watched" json:"cmdListTubesWatched"`
	CmdPauseTube          uint64 `yaml:"cmd-pause-tube" json:"cmdPauseTube"`
	JobTimeouts           uint64 `yaml:"job-timeouts" json:"jobTimeouts"`
	TotalJobs             uint64 `yaml:"total-jobs" json:"totalJobs"`
	MaxJobSize            int64  `yaml:"max-job-size" json:"maxJobSize"`
	CurrentTubes          int    `yaml:"current-tubes" json:"currentTubes"`
	CurrentConnections    int    `yaml:"current-connections" json:"currentConnections"`
	CurrentProducers      int    `yaml:"current-producers" json:"currentProducers"`
	CurrentWorkers        int    `yaml:"current-workers" json:"currentWorkers"`
	CurrentWaiting        int    `yaml:"current-waiting" json:"currentWaiting"`
	TotalConnections      uint64 `yaml:"total-connections" json:"totalConnections"`
	PID                   int    `yaml:"pid" json:"pid"`
	Version               string `yaml:"version" json:"version"`
	Uptime                int64  `yaml:"uptime" json:"uptime"`
	Draining              bool   `yaml:"draining" json:"draining"`
	ID                    string `yaml:"id" json:"id"`
	Hostname              string `yaml:"hostname" json:"hostname"`
}

// Snapshot is a point-in-time copy of server and per-tube statistics.
type Snapshot struct {
	Server ServerStats `json:"server"`
	Tubes  []TubeStats `json:"tubes"`
}

func seconds(d time.Duration) int64 { return int64(d / time.Second) }

func jobStatsDoc(j *Job, now time.Time) JobStats {
	st := JobStats{
		ID:       j.ID,
		Tube:     j.tube.Name,
		State:    j.State.String(),
		Pri:      j.Pri,
		Age:      seconds(now.Sub(j.CreatedAt)),
		Delay:    seconds(j.Delay),
		TTR:      seconds(j.TTR),
		Reserves: j.Reserves,
		Timeouts: j.Timeouts,
		Releases: j.Releases,
		Buries:   j.Buries,
		Kicks:    j.Kicks,
	}
	if j.State == JobReserved || j.State == JobDelayed {
		if left := j.DeadlineAt.Sub(now); left > 0 {
			st.TimeLeft = seconds(left)
		}
	}
	return st
}

func tubeStatsDoc(t *Tube, now time.Time) TubeStats {
	st := TubeStats{
		Name:                t.Name,
		CurrentJobsUrgent:   t.urgent,
		CurrentJobsReady:    t.ready.Len(),
		CurrentJobsReserved: t.reserved,
		CurrentJobsDelayed:  t.delay.Len(),
		CurrentJobsBuried:   t.buried.Len(),
		TotalJobs:           t.totalJobs,
		CurrentUsing:        t.usingCnt,
		CurrentWatching:     t.watchingCnt,
		CurrentWaiting:      t.waiting.len(),
		CmdDelete:           t.deleteCnt,
		CmdPauseTube:        t.pauseCnt,
	}
	if t.Paused(now) {
		st.Pause = seconds(t.pauseDelay)
		st.PauseTimeLeft = seconds(t.unpauseAt.Sub(now))
	}
	return st
}

func (s *Server) serverStatsDoc(now time.Time) ServerStats {
	k := &s.stats.cmds
	st := ServerStats{
		CmdPut:                k[protocol.KindPut],
		CmdPeek:               k[protocol.KindPeek],
		CmdPeekReady:          k[protocol.KindPeekReady],
		CmdPeekDelayed:        k[protocol.KindPeekDelayed],
		CmdPeekBuried:         k[protocol.KindPeekBuried],
		CmdReserve:            k[protocol.KindReserve],
		CmdReserveWithTimeout: k[protocol.KindReserveWithTimeout],
		CmdDelete:             k[protocol.KindDelete],
		CmdRelease:            k[protocol.KindRelease],
		CmdUse:                k[protocol.KindUse],
		CmdWatch:              k[protocol.KindWatch],
		CmdIgnore:             k[protocol.KindIgnore],
		CmdBury:               k[protocol.KindBury],
		CmdKick:               k[protocol.KindKick],
		CmdKickJob:            k[protocol.KindKickJob],
		CmdTouch:              k[protocol.KindTouch],
		CmdStats:              k[protocol.KindStats],
		CmdStatsJob:           k[protocol.KindStatsJob],
		CmdStatsTube:          k[protocol.KindStatsTube],
		CmdListTubes:          k[protocol.KindListTubes],
		CmdListTubeUsed:       k[protocol.KindListTubeUsed],
		CmdListTubesWatched:   k[protocol.KindListTubesWatched],
		CmdPauseTube:          k[protocol.KindPauseTube],
		JobTimeouts:           s.stats.timeouts,
		TotalJobs:             s.stats.totalJobs,
		MaxJobSize:            s.opts.MaxJobSize,
		CurrentTubes:          len(s.tubes),
		CurrentConnections:    len(s.conns),
		CurrentProducers:      s.stats.curProducers,
		CurrentWorkers:        s.stats.curWorkers,
		CurrentWaiting:        s.stats.curWaiting,
		TotalConnections:      s.stats.totalConns,
		PID:                   os.Getpid(),
		Version:               s.opts.Version,
		Uptime:                seconds(now.Sub(s.startedAt)),
		Draining:              s.draining,
		ID:                    s.instanceID,
		Hostname:              s.hostname,
	}
	for _, t := range s.tubes {
		st.CurrentJobsUrgent += t.urgent
		st.CurrentJobsReady += t.ready.Len()
		st.CurrentJobsReserved += t.reserved
		st.CurrentJobsDelayed += t.delay.Len()
		st.CurrentJobsBuried += t.buried.Len()
	}
	return st
}

// Snapshot collects the current statistics. It must run on the loop goroutine.
func (s *Server) Snapshot() Snapshot {
	now := s.clock()
	snap := Snapshot{Server: s.serverStatsDoc(now)}
	for _, t := range s.tubes {
		snap.Tubes = append(snap.Tubes, tubeStatsDoc(t, now))
	}
	return snap
}

// replyYAML renders v as a YAML document and sends it as an OK body.
func (s *Server) replyYAML(c *Conn, v any) {
	body, err := yaml.Marshal(v)
	if err != nil {
		c.log.Error("render stats", logpkg.Err(err))
		c.reply(protocol.ReplyInternalError)
		return
	}
	c.replyData(append([]byte("---\n"), body...))
}
