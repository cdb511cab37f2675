package submission

import (
	"sync"

	"safe-bite/src/pkg/util"
)

type Stage int

const (
	Ready Stage = iota
	Uploading
	Analyzing
	Syncing
)

func (s Stage) String() string {
	switch s {
	case Ready:
		return "ready"
	case Uploading:
		return "uploading"
	case Analyzing:
		return "analyzing"
	case Syncing:
		return "syncing"
	}
	return "unknown"
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is how a submission ended. Empty while one is in flight.
type Status string

const (
	Succeeded  Status = "succeeded"
	Cancelled  Status = "cancelled"
	Failed     Status = "failed"
	LookupMiss Status = "lookup_miss"
	Busy       Status = "busy"
)

// Progress is what the capture screen shows.
type Progress struct {
	Stage    Stage   `json:"stage"`
	Fraction float64 `json:"fraction"` // upload progress, 0..1
	Status   Status  `json:"status,omitempty"`
}

/*
Callbacks observe a submission. Any of them may be nil. They are called from
the goroutine running the submission, never while the tracker is locked.
*/
type Callbacks struct {
	OnStage    func(stage Stage)
	OnProgress func(fraction float64)
	OnSuccess  func()
	OnFailure  func(outcome Outcome)
}

type tracker struct {
	mu        sync.Mutex
	progress  Progress
	callbacks Callbacks
}

func (t *tracker) get() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// start resets the tracker for a new submission.
func (t *tracker) start() {
	t.mu.Lock()
	t.progress = Progress{Stage: Ready}
	t.mu.Unlock()
}

func (t *tracker) setStage(stage Stage) {
	t.mu.Lock()
	if t.progress.Stage == stage {
		t.mu.Unlock()
		return
	}
	t.progress.Stage = stage
	if stage != Uploading {
		t.progress.Fraction = 0
	}
	t.mu.Unlock()

	if t.callbacks.OnStage != nil {
		t.callbacks.OnStage(stage)
	}
}

/*
setFraction clamps fraction into [0,1] and records it. Reaching 1 means the
upload is done and the remote side is working, so the stage moves to Analyzing.
*/
func (t *tracker) setFraction(fraction float64) {
	fraction = util.ClampFraction(fraction)

	t.mu.Lock()
	if t.progress.Stage != Uploading {
		t.mu.Unlock()
		return
	}
	t.progress.Fraction = fraction
	t.mu.Unlock()

	if t.callbacks.OnProgress != nil {
		t.callbacks.OnProgress(fraction)
	}
	if fraction >= 1 {
		t.setStage(Analyzing)
	}
}

// finish records a terminal status and puts the stage back to Ready.
func (t *tracker) finish(status Status) {
	t.mu.Lock()
	t.progress = Progress{Stage: Ready, Status: status}
	t.mu.Unlock()
}
