// Package status reports pipeline progress for external monitoring.
package status

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/google/uuid"
)

const (
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// Sink receives run and step transitions.
type Sink interface {
	StartRun() string
	StartStep(step string)
	EndStep(step string, counts map[string]any) time.Duration
	EndRun(err error)
}

// Snapshot is the document written to the status file.
type Snapshot struct {
	RunID          string         `json:"run_id"`
	Step           string         `json:"step"`
	Status         string         `json:"status"`
	ElapsedSec     float64        `json:"elapsed_sec"`
	StepElapsedSec float64        `json:"step_elapsed_sec"`
	Counts         map[string]any `json:"counts,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// FileSink writes the latest Snapshot to a JSON file and logs every transition.
// An empty path only logs.
type FileSink struct {
	path string
	log  *slog.Logger
	now  func() time.Time

	mu        sync.Mutex
	runID     string
	runStart  time.Time
	stepStart time.Time
}

// NewFileSink creates a sink writing to path.
func NewFileSink(path string, log *slog.Logger) *FileSink {
	return &FileSink{path: path, log: logger.OrDiscard(log), now: time.Now}
}

// StartRun resets the timers, assigns a run id and returns it.
func (s *FileSink) StartRun() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = uuid.NewString()
	s.runStart = s.now()
	s.stepStart = s.runStart
	s.write("start", StateRunning, map[string]any{}, "")
	return s.runID
}

// StartStep marks the beginning of a stage.
func (s *FileSink) StartStep(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepStart = s.now()
	s.write(step, StateRunning, nil, "")
	s.log.Info("step started", slog.String("step", step), slog.String("run_id", s.runID))
}

// EndStep records a finished stage with its counts and returns the stage duration.
func (s *FileSink) EndStep(step string, counts map[string]any) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := s.now().Sub(s.stepStart)
	s.write(step, StateDone, counts, "")
	s.log.Info("step done", slog.String("step", step), slog.Duration("elapsed", elapsed), slog.Any("counts", counts))
	return elapsed
}

// EndRun records the run outcome. A nil err means success.
func (s *FileSink) EndRun(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, msg := StateDone, ""
	if err != nil {
		state, msg = StateFailed, err.Error()
	}
	s.write("end", state, nil, msg)
	s.log.Info("pipeline finished",
		slog.String("status", state),
		slog.String("run_id", s.runID),
		slog.Duration("elapsed", s.now().Sub(s.runStart)))
}

func (s *FileSink) write(step, state string, counts map[string]any, errMsg string) {
	if s.path == "" {
		return
	}
	now := s.now()
	snap := Snapshot{
		RunID:          s.runID,
		Step:           step,
		Status:         state,
		ElapsedSec:     seconds(now, s.runStart),
		StepElapsedSec: seconds(now, s.stepStart),
		Counts:         counts,
		Error:          errMsg,
	}
	if err := writeAtomic(s.path, snap); err != nil {
		s.log.Debug("could not write status file", slog.String("path", s.path), slog.Any("err", err))
	}
}

func seconds(now, since time.Time) float64 {
	if since.IsZero() {
		return 0
	}
	return math.Round(now.Sub(since).Seconds()*10) / 10
}

func writeAtomic(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".run_status-*.json")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp status file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}

// Nop discards every transition.
type Nop struct{}

func (Nop) StartRun() string { return "" }

func (Nop) StartStep(string) {}

func (Nop) EndStep(string, map[string]any) time.Duration { return 0 }

func (Nop) EndRun(error) {}
