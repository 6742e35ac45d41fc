// Package record tracks the recording state machine per room and keeps
// concurrent operators from fighting over the same recorder.
package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/FamiliaDusu/Ogaac-test/internal/apperr"
	"github.com/FamiliaDusu/Ogaac-test/internal/switcher"
	"github.com/FamiliaDusu/Ogaac-test/pkg/logging"
)

// State is the tracked recording lifecycle state of one room.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// Device is the slice of a room connection the tracker drives.
type Device interface {
	RecordStatus(ctx context.Context) (switcher.RecordStatus, error)
	StartRecord(ctx context.Context) error
	StopRecord(ctx context.Context) (string, error)
	PauseRecord(ctx context.Context) error
	ResumeRecord(ctx context.Context) error
}

// Op is the tracked state of one room's recorder.
type Op struct {
	State          State     `json:"state"`
	At             time.Time `json:"at"`
	LastOutputPath string    `json:"lastOutputPath,omitempty"`
	LastError      string    `json:"lastError,omitempty"`
}

// Timings controls the settle and poll cadence. Tests shrink these.
type Timings struct {
	SettleDelay         time.Duration
	PollInterval        time.Duration
	PollAttempts        int
	StatusRetries       int
	StatusRetryInterval time.Duration
}

// DefaultTimings matches how long a recorder realistically takes to spin
// up: half a second of settle, then up to ten seconds of polling.
func DefaultTimings() Timings {
	return Timings{
		SettleDelay:         500 * time.Millisecond,
		PollInterval:        250 * time.Millisecond,
		PollAttempts:        40,
		StatusRetries:       6,
		StatusRetryInterval: 250 * time.Millisecond,
	}
}

// StartResult reports the outcome of a start request.
type StartResult struct {
	Started    bool
	Already    bool
	InProgress bool
	Status     switcher.RecordStatus
}

// StopResult reports the outcome of a stop request.
type StopResult struct {
	Stopped    bool
	Already    bool
	InProgress bool
	OutputPath string
}

// ToggleResult reports the outcome of a pause or resume request.
type ToggleResult struct {
	Applied bool
	Already bool
}

// StatusResult pairs the live device status with the tracked state.
type StatusResult struct {
	Status switcher.RecordStatus
	Op     Op
}

// Tracker owns the per-room recording state. State survives restarts
// through a small journal file.
type Tracker struct {
	logger      logging.Logger
	timings     Timings
	journalPath string

	mu  sync.Mutex
	ops map[string]*Op
}

// NewTracker creates a tracker, reloading state from journalPath when
// the file exists. journalPath may be empty to disable persistence.
func NewTracker(journalPath string, timings Timings, logger logging.Logger) *Tracker {
	t := &Tracker{
		logger:      logger,
		timings:     timings,
		journalPath: journalPath,
		ops:         make(map[string]*Op),
	}
	t.loadJournal()
	return t
}

// Size returns how many rooms have tracked state.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}

// Ops returns a snapshot of all tracked room states.
func (t *Tracker) Ops() map[string]Op {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Op, len(t.ops))
	for room, op := range t.ops {
		out[room] = *op
	}
	return out
}

// Start begins recording in a room. Repeated requests while a start is
// in flight report InProgress; requests against an already recording
// room report Already.
func (t *Tracker) Start(ctx context.Context, room string, dev Device) (StartResult, error) {
	t.mu.Lock()
	op := t.opLocked(room)
	switch op.State {
	case StateStarting, StateStopping:
		t.mu.Unlock()
		return StartResult{InProgress: true}, nil
	case StateActive:
		seenAt := op.At
		t.mu.Unlock()
		status, err := dev.RecordStatus(ctx)
		if err != nil {
			return StartResult{}, fmt.Errorf("verify recording state: %w", err)
		}
		if status.OutputActive {
			return StartResult{Already: true, Status: status}, nil
		}
		// Tracked active but the device disagrees; restart below.
		t.mu.Lock()
		// Another caller may have won the restart while the lock was
		// released for the verification read.
		if op.State == StateStarting || op.State == StateStopping {
			t.mu.Unlock()
			return StartResult{InProgress: true}, nil
		}
		if op.State == StateActive && !op.At.Equal(seenAt) {
			t.mu.Unlock()
			status, err := dev.RecordStatus(ctx)
			if err != nil {
				return StartResult{}, fmt.Errorf("verify recording state: %w", err)
			}
			return StartResult{Already: true, Status: status}, nil
		}
	}
	t.setLocked(room, StateStarting, "", "")
	t.mu.Unlock()

	if err := dev.StartRecord(ctx); err != nil && !switcher.IsAlreadyActive(err) {
		t.set(room, StateError, "", err.Error())
		return StartResult{}, fmt.Errorf("start recording: %w", err)
	}

	if err := sleepCtx(ctx, t.timings.SettleDelay); err != nil {
		t.set(room, StateError, "", err.Error())
		return StartResult{}, err
	}

	for attempt := 0; attempt < t.timings.PollAttempts; attempt++ {
		status, err := dev.RecordStatus(ctx)
		if err == nil && status.Progressing() {
			t.set(room, StateActive, "", "")
			return StartResult{Started: true, Status: status}, nil
		}
		if err != nil {
			t.logger.WithError(err).WithFields(logging.Fields{"room": room}).Debug("Record status poll failed")
		}
		if err := sleepCtx(ctx, t.timings.PollInterval); err != nil {
			t.set(room, StateError, "", err.Error())
			return StartResult{}, err
		}
	}

	t.set(room, StateError, "", "recording did not become active")
	return StartResult{}, apperr.New(apperr.DeviceTimeout, "recording did not become active in time")
}

// Stop ends recording in a room. Stopping an idle room reports Already.
func (t *Tracker) Stop(ctx context.Context, room string, dev Device) (StopResult, error) {
	t.mu.Lock()
	op := t.opLocked(room)
	if op.State == StateStopping || op.State == StateStarting {
		t.mu.Unlock()
		return StopResult{InProgress: true}, nil
	}
	t.mu.Unlock()

	status, err := dev.RecordStatus(ctx)
	if err != nil {
		return StopResult{}, fmt.Errorf("verify recording state: %w", err)
	}
	if !status.OutputActive {
		t.set(room, StateIdle, "", "")
		return StopResult{Already: true}, nil
	}

	t.set(room, StateStopping, "", "")

	outputPath, err := dev.StopRecord(ctx)
	if err != nil {
		if switcher.IsAlreadyInactive(err) {
			t.set(room, StateIdle, "", "")
			return StopResult{Already: true}, nil
		}
		t.set(room, StateError, "", err.Error())
		return StopResult{}, fmt.Errorf("stop recording: %w", err)
	}

	for attempt := 0; attempt < t.timings.PollAttempts; attempt++ {
		status, err := dev.RecordStatus(ctx)
		if err == nil && !status.OutputActive {
			t.set(room, StateIdle, outputPath, "")
			return StopResult{Stopped: true, OutputPath: outputPath}, nil
		}
		if err := sleepCtx(ctx, t.timings.PollInterval); err != nil {
			t.set(room, StateError, outputPath, err.Error())
			return StopResult{}, err
		}
	}

	t.set(room, StateError, outputPath, "recording did not stop")
	return StopResult{}, apperr.New(apperr.DeviceTimeout, "recording did not stop in time")
}

// Pause pauses recording. Rejections meaning the recorder was already
// paused, idle, or cannot pause count as Already rather than failures.
func (t *Tracker) Pause(ctx context.Context, room string, dev Device) (ToggleResult, error) {
	return t.toggle(ctx, room, dev.PauseRecord, "pause recording")
}

// Resume resumes a paused recording with the same idempotency rules as
// Pause.
func (t *Tracker) Resume(ctx context.Context, room string, dev Device) (ToggleResult, error) {
	return t.toggle(ctx, room, dev.ResumeRecord, "resume recording")
}

func (t *Tracker) toggle(ctx context.Context, room string, call func(context.Context) error, what string) (ToggleResult, error) {
	if err := call(ctx); err != nil {
		if switcher.IsAlreadyActive(err) || switcher.IsAlreadyInactive(err) {
			return ToggleResult{Already: true}, nil
		}
		return ToggleResult{}, fmt.Errorf("%s: %w", what, err)
	}
	return ToggleResult{Applied: true}, nil
}

// Status reads the live recorder status and reconciles the tracked
// state with it. An active recorder that still reports zero bytes is
// re-read a few times before being believed.
func (t *Tracker) Status(ctx context.Context, room string, dev Device) (StatusResult, error) {
	status, err := dev.RecordStatus(ctx)
	if err != nil {
		return StatusResult{}, fmt.Errorf("read recording status: %w", err)
	}
	for attempt := 0; attempt < t.timings.StatusRetries && status.OutputActive && status.OutputBytes == 0 && status.OutputDuration == 0; attempt++ {
		if err := sleepCtx(ctx, t.timings.StatusRetryInterval); err != nil {
			return StatusResult{}, err
		}
		status, err = dev.RecordStatus(ctx)
		if err != nil {
			return StatusResult{}, fmt.Errorf("read recording status: %w", err)
		}
	}

	t.mu.Lock()
	op := t.opLocked(room)
	switch {
	case status.OutputActive && op.State != StateStopping:
		t.setStateLocked(op, StateActive, "", "")
	case !status.OutputActive && (op.State == StateActive || op.State == StateError):
		t.setStateLocked(op, StateIdle, "", "")
	}
	snapshot := *t.opLocked(room)
	t.mu.Unlock()

	return StatusResult{Status: status, Op: snapshot}, nil
}

func (t *Tracker) opLocked(room string) *Op {
	op, ok := t.ops[room]
	if !ok {
		op = &Op{State: StateIdle, At: time.Now().UTC()}
		t.ops[room] = op
	}
	return op
}

func (t *Tracker) set(room string, state State, outputPath, lastError string) {
	t.mu.Lock()
	t.setLocked(room, state, outputPath, lastError)
	t.mu.Unlock()
}

func (t *Tracker) setLocked(room string, state State, outputPath, lastError string) {
	t.setStateLocked(t.opLocked(room), state, outputPath, lastError)
}

func (t *Tracker) setStateLocked(op *Op, state State, outputPath, lastError string) {
	op.State = state
	op.At = time.Now().UTC()
	if outputPath != "" {
		op.LastOutputPath = outputPath
	}
	op.LastError = lastError
	t.persistLocked()
}

// persistLocked writes the journal. Failures are logged and swallowed;
// losing tracked state is recoverable, failing operator requests over
// it is not.
func (t *Tracker) persistLocked() {
	if t.journalPath == "" {
		return
	}
	data, err := json.MarshalIndent(t.ops, "", "  ")
	if err != nil {
		t.logger.WithError(err).Warn("Cannot encode record state journal")
		return
	}
	tmp := t.journalPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		t.logger.WithError(err).Warn("Cannot write record state journal")
		return
	}
	if err := os.Rename(tmp, t.journalPath); err != nil {
		t.logger.WithError(err).Warn("Cannot replace record state journal")
	}
}

func (t *Tracker) loadJournal() {
	if t.journalPath == "" {
		return
	}
	data, err := os.ReadFile(t.journalPath)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		t.logger.WithError(err).Warn("Cannot read record state journal")
		return
	}
	var ops map[string]*Op
	if err := json.Unmarshal(data, &ops); err != nil {
		t.logger.WithError(err).Warn("Cannot parse record state journal, starting clean")
		return
	}
	// Transitions cannot survive a restart; demote them so the next
	// request re-verifies against the device.
	for room, op := range ops {
		if op.State == StateStarting || op.State == StateStopping {
			op.State = StateError
			op.LastError = "interrupted by restart"
		}
		t.ops[room] = op
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
