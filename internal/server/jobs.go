package server

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync/atomic"
	"time"

	"github.com/nataliia-kulatska/gadget/internal/config"
	apperrors "github.com/nataliia-kulatska/gadget/internal/errors"
	"github.com/nataliia-kulatska/gadget/internal/optimization"
	"github.com/nataliia-kulatska/gadget/internal/runner"
	"github.com/nataliia-kulatska/gadget/internal/store"
)

// Job states reported by the service.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// StartRequest starts a calibration. ID is optional unless Resume is set.
type StartRequest struct {
	ID     string     `json:"id,omitempty"`
	Resume bool       `json:"resume,omitempty"`
	Job    config.Job `json:"job"`
}

// JobView is the externally visible state of a calibration job.
type JobView struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Algorithm   string         `json:"algorithm"`
	Objective   string         `json:"objective"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     *time.Time     `json:"end_time,omitempty"`
	LastUpdated time.Time      `json:"last_update"`
	Error       string         `json:"error,omitempty"`
	Result      *runner.Result `json:"result,omitempty"`
	// CurrentBest is the latest checkpoint of a running job.
	CurrentBest *Best `json:"current_best,omitempty"`
}

// Best is a checkpointed point in model units.
type Best struct {
	Names  []string  `json:"names,omitempty"`
	Values []float64 `json:"values"`
	Score  float64   `json:"score"`
}

// jobState tracks one calibration. Fields are guarded by Server.jobsMu.
type jobState struct {
	view   JobView
	cancel context.CancelFunc
	done   chan struct{}
}

var idSeq atomic.Uint64

func newJobID() string {
	return fmt.Sprintf("cal_%d_%d", time.Now().UnixNano(), idSeq.Add(1))
}

// Start validates the request and launches the calibration in its own
// goroutine.
func (s *Server) Start(req StartRequest) (JobView, error) {
	const op = "Server.Start"

	id := req.ID
	if id == "" {
		if req.Resume {
			return JobView{}, apperrors.New("resume requires an id").WithOperation(op).WithKind(apperrors.KindInvalid)
		}
		id = newJobID()
	}
	if !validID.MatchString(id) {
		return JobView{}, apperrors.Errorf("invalid job id %q", id).WithOperation(op).WithKind(apperrors.KindInvalid)
	}

	job := &req.Job
	if req.Resume {
		resumed, cp, err := s.runner.Resume(id, job)
		if err != nil {
			kind := apperrors.KindInvalid
			if apperrors.Is(err, store.ErrNotFound) {
				kind = apperrors.KindNotFound
			}
			return JobView{}, apperrors.Wrap(err, "cannot resume").WithOperation(op).WithKind(kind)
		}
		s.logger.Info("Resuming calibration", map[string]interface{}{
			"job_id": id,
			"score":  cp.Score,
		})
		job = resumed
	}

	run, err := s.runner.Prepare(id, job)
	if err != nil {
		return JobView{}, apperrors.Wrap(err, "invalid job").WithOperation(op).WithKind(apperrors.KindInvalid)
	}

	s.jobsMu.Lock()
	if existing, ok := s.jobs[id]; ok && existing.view.Status == StatusRunning {
		s.jobsMu.Unlock()
		return JobView{}, apperrors.Errorf("job %q is already running", id).WithOperation(op).WithKind(apperrors.KindConflict)
	}
	if s.closed {
		s.jobsMu.Unlock()
		return JobView{}, apperrors.New("server is shutting down").WithOperation(op).WithKind(apperrors.KindUnavailable)
	}
	select {
	case s.slots <- struct{}{}:
	default:
		s.jobsMu.Unlock()
		return JobView{}, apperrors.Errorf("all %d job slots are busy", cap(s.slots)).WithOperation(op).WithKind(apperrors.KindUnavailable)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	state := &jobState{
		view: JobView{
			ID:          id,
			Status:      StatusRunning,
			Algorithm:   run.Algorithm,
			Objective:   job.Objective,
			StartTime:   now,
			LastUpdated: now,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.jobs[id] = state
	s.wg.Add(1)
	s.jobsMu.Unlock()

	s.logger.Info("Calibration started", map[string]interface{}{
		"job_id":    id,
		"algorithm": run.Algorithm,
	})
	go s.execute(ctx, state, run)

	return s.snapshot(state), nil
}

// execute runs a prepared job and records its outcome.
func (s *Server) execute(ctx context.Context, state *jobState, run *runner.Run) {
	defer s.wg.Done()
	defer close(state.done)
	defer func() { <-s.slots }()
	defer state.cancel()

	res, err := run.Execute(ctx)

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	now := time.Now()
	v := &state.view
	v.EndTime = &now
	v.LastUpdated = now
	switch {
	case err != nil:
		v.Status = StatusFailed
		v.Error = err.Error()
	case res.Report.Status == optimization.Interrupted:
		v.Status = StatusCancelled
		v.Result = res
	case res.Report.Status == optimization.Failure:
		v.Status = StatusFailed
		v.Error = res.Report.Message
		v.Result = res
	default:
		v.Status = StatusCompleted
		v.Result = res
	}

	fields := map[string]interface{}{
		"job_id": v.ID,
		"status": v.Status,
	}
	if res != nil {
		fields["search_status"] = res.Report.Status.String()
		fields["evaluations"] = res.Report.Evaluations
	}
	if v.Status == StatusFailed {
		s.logger.Error("Calibration failed", fields)
		return
	}
	s.logger.Info("Calibration finished", fields)
}

// Status returns the state of a job.
func (s *Server) Status(id string) (JobView, error) {
	s.jobsMu.RLock()
	state, ok := s.jobs[id]
	var view JobView
	if ok {
		view = s.snapshotLocked(state)
	}
	s.jobsMu.RUnlock()

	if !ok {
		return JobView{}, apperrors.Errorf("calibration %q not found", id).WithOperation("Server.Status").WithKind(apperrors.KindNotFound)
	}
	if view.Status == StatusRunning && s.runner.Store != nil {
		if cp, err := s.runner.Store.Load(id); err == nil {
			view.CurrentBest = &Best{Names: cp.Names, Values: cp.Best, Score: cp.Score}
		}
	}
	return view, nil
}

// List returns every known job, newest first.
func (s *Server) List() []JobView {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	out := make([]JobView, 0, len(s.jobs))
	for _, state := range s.jobs {
		out = append(out, s.snapshotLocked(state))
	}
	sortViews(out)
	return out
}

// Cancel interrupts a running job. The job reaches StatusCancelled once the
// search has returned its best point.
func (s *Server) Cancel(id string) error {
	const op = "Server.Cancel"

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	state, ok := s.jobs[id]
	if !ok {
		return apperrors.Errorf("calibration %q not found", id).WithOperation(op).WithKind(apperrors.KindNotFound)
	}
	if state.view.Status != StatusRunning {
		return apperrors.Errorf("cannot cancel calibration with status: %s", state.view.Status).WithOperation(op).WithKind(apperrors.KindConflict)
	}
	state.cancel()
	state.view.LastUpdated = time.Now()

	s.logger.Info("Calibration cancellation requested", map[string]interface{}{
		"job_id": id,
	})
	return nil
}

// Wait blocks until the job has finished or ctx is done.
func (s *Server) Wait(ctx context.Context, id string) (JobView, error) {
	s.jobsMu.RLock()
	state, ok := s.jobs[id]
	s.jobsMu.RUnlock()
	if !ok {
		return JobView{}, apperrors.Errorf("calibration %q not found", id).WithOperation("Server.Wait").WithKind(apperrors.KindNotFound)
	}

	select {
	case <-state.done:
	case <-ctx.Done():
		return JobView{}, ctx.Err()
	}
	return s.Status(id)
}

func (s *Server) snapshot(state *jobState) JobView {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	return s.snapshotLocked(state)
}

func (s *Server) snapshotLocked(state *jobState) JobView {
	v := state.view
	if v.EndTime != nil {
		end := *v.EndTime
		v.EndTime = &end
	}
	return v
}

func sortViews(views []JobView) {
	sort.Slice(views, func(i, j int) bool {
		if views[i].StartTime.Equal(views[j].StartTime) {
			return views[i].ID > views[j].ID
		}
		return views[i].StartTime.After(views[j].StartTime)
	})
}
