package optimization

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Status is the termination code of a search. Positive values mean the
// search stopped on a convergence criterion, zero means a budget ran out and
// negative values signal failure.
type Status int

const (
	// Failure marks a degenerate objective (zero or NaN score).
	Failure Status = -1
	// MaxEvaluations means the evaluation or iteration budget was exhausted.
	MaxEvaluations Status = 0
	// Converged means the convergence criterion of the algorithm was met.
	Converged Status = 1
	// AccuracyTooSmall means the finite-difference step fell below its floor.
	AccuracyTooSmall Status = 2
	// Interrupted means the caller cancelled the run.
	Interrupted Status = 3
	// Running is the status of a search in progress. It never appears in a Report.
	Running Status = 4
)

var statusNames = map[Status]string{
	Failure:          "failure",
	MaxEvaluations:   "max-evaluations",
	Converged:        "converged",
	AccuracyTooSmall: "accuracy-too-small",
	Interrupted:      "interrupted",
	Running:          "running",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return 0, NewErrorf("unknown status %q", name).WithOperation("ParseStatus")
}

// MarshalJSON encodes the status by name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either the name or the numeric code.
func (s *Status) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err == nil {
		*s = Status(code)
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return WrapError(err, "status must be a string or an integer")
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Report is the immutable result of a search.
type Report struct {
	Algorithm   string    `json:"algorithm"`
	Best        []float64 `json:"best"`
	Score       float64   `json:"score"`
	Evaluations int       `json:"evaluations"`
	Iterations  int       `json:"iterations"`
	Status      Status    `json:"status"`

	// Restarts counts Hessian resets (BFGS).
	Restarts int `json:"restarts,omitempty"`
	// SmallestEigenvalue of the final inverse Hessian approximation (BFGS).
	SmallestEigenvalue float64 `json:"smallest_eigenvalue"`
	// GradientAccuracy is the final finite-difference step fraction (BFGS).
	GradientAccuracy float64 `json:"gradient_accuracy,omitempty"`
	// StepLength is the final pattern step length (Hooke-Jeeves).
	StepLength float64 `json:"step_length,omitempty"`
	// BoundHits is the total number of bound violations (Hooke-Jeeves).
	BoundHits int `json:"bound_hits,omitempty"`
	// LowerHits and UpperHits count violations per coordinate.
	LowerHits []int `json:"lower_hits,omitempty"`
	UpperHits []int `json:"upper_hits,omitempty"`

	Message string `json:"message,omitempty"`
}

// Converged reports whether the run stopped on its convergence criterion.
func (r *Report) Converged() bool {
	return r != nil && r.Status == Converged
}

// MarshalJSON encodes a non-finite score as null.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	out := struct {
		plain
		Score *float64 `json:"score"`
	}{plain: plain(r)}
	if !math.IsNaN(r.Score) && !math.IsInf(r.Score, 0) {
		score := r.Score
		out.Score = &score
	}
	return json.Marshal(out)
}
