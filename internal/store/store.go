// Package store persists the best point of each calibration job so an
// interrupted run can be resumed from it.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a requested checkpoint does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing checkpoint.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	if e.JobID != "" {
		return "checkpoint not found: " + e.JobID
	}
	return "checkpoint not found"
}

// Is matches any *NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// Checkpoint is the persisted best point of a job, in model (unscaled)
// coordinates.
type Checkpoint struct {
	JobID     string    `json:"job_id"`
	Algorithm string    `json:"algorithm,omitempty"`
	Names     []string  `json:"names,omitempty"`
	Best      []float64 `json:"best"`
	Score     float64   `json:"score"`
	// Updates counts how many improvements were written for the job.
	Updates   int       `json:"updates"`
	Timestamp time.Time `json:"timestamp"`
}

// FSStore keeps checkpoints under <dir>/jobs/<id>/best.json.
type FSStore struct {
	baseDir string
	logger  *zap.Logger
	now     func() time.Time
}

// NewFSStore creates the base directory if needed. A nil logger disables
// logging.
func NewFSStore(baseDir string, logger *zap.Logger) (*FSStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{
		baseDir: baseDir,
		logger:  logger.Named("store"),
		now:     time.Now,
	}, nil
}

func (s *FSStore) jobDir(jobID string) string {
	return filepath.Join(s.baseDir, "jobs", jobID)
}

func (s *FSStore) checkpointPath(jobID string) string {
	return filepath.Join(s.jobDir(jobID), "best.json")
}

func validID(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("job id cannot be empty")
	}
	if jobID != filepath.Base(jobID) || jobID == "." || jobID == ".." {
		return fmt.Errorf("invalid job id %q", jobID)
	}
	return nil
}

// Save atomically writes the checkpoint of its job.
func (s *FSStore) Save(cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if err := validID(cp.JobID); err != nil {
		return err
	}

	dir := s.jobDir(cp.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "best-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint file: %w", err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		if werr == nil {
			werr = cerr
		}
		return fmt.Errorf("failed to write temp checkpoint file: %w", werr)
	}
	if err := os.Rename(tmp.Name(), s.checkpointPath(cp.JobID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("job_id", cp.JobID),
		zap.Float64("score", cp.Score),
	)
	return nil
}

// Load returns the checkpoint of jobID.
func (s *FSStore) Load(jobID string) (*Checkpoint, error) {
	if err := validID(jobID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.checkpointPath(jobID))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{JobID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	return &cp, nil
}

// List returns every readable checkpoint ordered by job id. Corrupt
// checkpoints are logged and skipped.
func (s *FSStore) List() ([]*Checkpoint, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "jobs"))
	if os.IsNotExist(err) {
		return []*Checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	out := make([]*Checkpoint, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		cp, err := s.Load(entry.Name())
		if err != nil {
			if _, missing := err.(*NotFoundError); !missing {
				s.logger.Warn("skipping unreadable checkpoint",
					zap.String("job_id", entry.Name()),
					zap.Error(err),
				)
			}
			continue
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out, nil
}

// Delete removes the job directory and everything in it.
func (s *FSStore) Delete(jobID string) error {
	if err := validID(jobID); err != nil {
		return err
	}
	dir := s.jobDir(jobID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{JobID: jobID}
	} else if err != nil {
		return fmt.Errorf("failed to stat job directory: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove job directory: %w", err)
	}
	return nil
}

// Recorder adapts the store to optimization.BestStore for one job.
type Recorder struct {
	store     *FSStore
	jobID     string
	algorithm string
	names     []string

	mu      sync.Mutex
	updates int
}

// Recorder returns a BestStore writing the checkpoint of jobID. names labels
// the coordinates and may be nil.
func (s *FSStore) Recorder(jobID, algorithm string, names []string) *Recorder {
	return &Recorder{
		store:     s,
		jobID:     jobID,
		algorithm: algorithm,
		names:     append([]string(nil), names...),
	}
}

// StoreBest implements optimization.BestStore.
func (r *Recorder) StoreBest(score float64, x []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := &Checkpoint{
		JobID:     r.jobID,
		Algorithm: r.algorithm,
		Names:     r.names,
		Best:      append([]float64(nil), x...),
		Score:     score,
		Updates:   r.updates + 1,
		Timestamp: r.store.now().UTC(),
	}
	if err := r.store.Save(cp); err != nil {
		return err
	}
	r.updates++
	return nil
}

// Updates returns how many checkpoints the recorder has written.
func (r *Recorder) Updates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}
