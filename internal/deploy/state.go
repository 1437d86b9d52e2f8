package deploy

import "fmt"

// State is the position of a run in the deployment state machine.
type State string

const (
	StateIdle          State = "idle"
	StateArtifactReady State = "artifact_ready"
	StateTargetCreated State = "target_created"
	StateUploading     State = "uploading"
	StateUploaded      State = "uploaded"
	StateActivating    State = "activating"
	StateLive          State = "live"
	StateFailed        State = "failed"
)

// Stage names the step that failed.
type Stage string

const (
	StagePackage      Stage = "package"
	StageCreateTarget Stage = "create-target"
	StageUpload       Stage = "upload"
	StageActivate     Stage = "activate"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateLive || s == StateFailed
}

// next lists the only successful successor of each non-terminal state.
var next = map[State]State{
	StateIdle:          StateArtifactReady,
	StateArtifactReady: StateTargetCreated,
	StateTargetCreated: StateUploading,
	StateUploading:     StateUploaded,
	StateUploaded:      StateActivating,
	StateActivating:    StateLive,
}

func isAllowedTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return next[from] == to
}

// stageFor returns the failure stage attributed to a failure in state s.
func stageFor(s State) Stage {
	switch s {
	case StateIdle:
		return StagePackage
	case StateArtifactReady:
		return StageCreateTarget
	case StateTargetCreated, StateUploading:
		return StageUpload
	default:
		return StageActivate
	}
}

// transitionError reports an attempt to leave a state along an edge the
// machine does not have.
type transitionError struct {
	From, To State
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("disallowed transition: %s -> %s", e.From, e.To)
}
