// Package execution tracks the output and lifecycle of one code run on the
// project's sandbox, driven by inbound protocol events.
package execution

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/byteforge/forgelive/internal/ws"
)

type State string

const (
	StateIdle          State = "IDLE"
	StateStarted       State = "STARTED"
	StateAwaitingInput State = "AWAITING_INPUT"
	StateCompleted     State = "COMPLETED"
	StateErrored       State = "ERRORED"
)

// Finished reports whether the run has reached a terminal state.
func (s State) Finished() bool { return s == StateCompleted || s == StateErrored }

// Log markers written by the tracker.
const (
	StartMarker = "Execution started..."
	InputMarker = "Program is waiting for input..."
)

func errorLine(msg string) string { return "Error: " + msg }

func exitLine(code *int) string {
	if code == nil {
		return "Execution completed with exit code: unknown"
	}
	return fmt.Sprintf("Execution completed with exit code: %d", *code)
}

// Snapshot is a copy of the tracker's state.
type Snapshot struct {
	State         State
	Running       bool
	AwaitingInput bool
	ExitCode      *int
	Lines         []string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Text joins the output log the way a terminal would show it.
func (s Snapshot) Text() string {
	if len(s.Lines) == 0 {
		return ""
	}
	return strings.Join(s.Lines, "\n") + "\n"
}

// Tracker holds the state of the current run. A new EXECUTION_STARTED always
// resets it; nothing else does.
type Tracker struct {
	// OnLine is called for every line appended to the log.
	OnLine func(line string)
	// OnFinish is called once when a run reaches COMPLETED or ERRORED.
	OnFinish func(Snapshot)

	log *slog.Logger
	now func() time.Time

	mu         sync.Mutex
	state      State
	awaiting   bool
	exitCode   *int
	lines      []string
	startedAt  time.Time
	finishedAt time.Time
}

func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{log: logger, now: time.Now, state: StateIdle}
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Running reports whether a run is in progress, including while it waits
// for input.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runningLocked()
}

func (t *Tracker) runningLocked() bool {
	return t.state == StateStarted || t.state == StateAwaitingInput
}

func (t *Tracker) AwaitingInput() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.awaiting
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{
		State:         t.state,
		Running:       t.runningLocked(),
		AwaitingInput: t.awaiting,
		Lines:         append([]string(nil), t.lines...),
		StartedAt:     t.startedAt,
		FinishedAt:    t.finishedAt,
	}
	if t.exitCode != nil {
		c := *t.exitCode
		s.ExitCode = &c
	}
	return s
}

// InputSent records that the caller sent stdin to a run waiting for it. The
// run goes back to STARTED until the server asks again.
func (t *Tracker) InputSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateAwaitingInput {
		t.state = StateStarted
	}
	t.awaiting = false
}

// HandleEvent advances the state machine. Events unrelated to execution are
// ignored.
func (t *Tracker) HandleEvent(ev ws.Event) error {
	t.mu.Lock()
	var (
		added    []string
		finished bool
	)
	appendLine := func(s string) {
		t.lines = append(t.lines, s)
		added = append(added, s)
	}

	switch e := ev.(type) {
	case *ws.ExecutionStarted:
		t.state = StateStarted
		t.awaiting = false
		t.exitCode = nil
		t.lines = nil
		t.startedAt = t.now()
		t.finishedAt = time.Time{}
		appendLine(StartMarker)

	case *ws.Output:
		if !t.runningLocked() {
			t.log.Debug("output outside a run", "state", t.state)
		}
		appendLine(e.Message)

	case *ws.InputRequired:
		if t.runningLocked() {
			t.state = StateAwaitingInput
			t.awaiting = true
		}
		appendLine(InputMarker)

	case *ws.CompileError:
		appendLine("Compilation error: " + e.Message)

	case *ws.ExecutionStopped:
		if e.Message != "" {
			appendLine(e.Message)
		}
		t.finishLocked(StateCompleted, nil)
		finished = true

	case *ws.ExecutionCompleted:
		if e.Error != "" {
			appendLine(errorLine(e.Error))
		}
		appendLine(exitLine(e.ExitCode))
		t.finishLocked(StateCompleted, e.ExitCode)
		finished = true

	case *ws.ErrorEvent:
		appendLine(errorLine(e.Message))
		appendLine(exitLine(e.ExitCode))
		t.finishLocked(StateErrored, e.ExitCode)
		finished = true

	default:
		t.mu.Unlock()
		return nil
	}

	onLine, onFinish := t.OnLine, t.OnFinish
	var snap Snapshot
	if finished {
		snap = t.snapshotLocked()
	}
	t.mu.Unlock()

	if onLine != nil {
		for _, l := range added {
			onLine(l)
		}
	}
	if finished && onFinish != nil {
		onFinish(snap)
	}
	return nil
}

func (t *Tracker) finishLocked(s State, code *int) {
	t.state = s
	t.awaiting = false
	t.exitCode = nil
	if code != nil {
		c := *code
		t.exitCode = &c
	}
	t.finishedAt = t.now()
}
