// Package session keeps the per-session audit journal.
//
// Each session has one append-only JSONL file. The journal is an
// operational record for the history view; nothing reads it back to
// restore state.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/shipper/internal/deploy"
	"github.com/vinayprograms/shipper/internal/workspace"
)

// Event types
const (
	EventToolCall    = "tool_call"    // Tool invocation accepted
	EventToolResult  = "tool_result"  // Tool completed
	EventDeployStage = "deploy_stage" // Deployment run transition
)

// maxArgLen bounds string arguments kept in the journal.
const maxArgLen = 256

// Event is one journal line.
type Event struct {
	SeqID     uint64    `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Session   string    `json:"session"`

	// Links tool_call to its tool_result (the call id).
	CorrelationID string `json:"corr_id,omitempty"`

	Tool string                 `json:"tool,omitempty"`
	Args map[string]interface{} `json:"args,omitempty"` // sanitized

	Success    *bool  `json:"success,omitempty"` // nil = in progress
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	Meta *EventMeta `json:"meta,omitempty"`
}

// EventMeta carries deployment details for deploy_stage events.
type EventMeta struct {
	Provider string `json:"provider,omitempty"`
	RunID    string `json:"run_id,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Note     string `json:"note,omitempty"`
	TargetID string `json:"target_id,omitempty"`
	URL      string `json:"url,omitempty"`
	Stage    string `json:"stage,omitempty"`
}

// Journal appends events to <dir>/<session>.jsonl.
type Journal struct {
	dir string

	mu  sync.Mutex
	seq map[string]uint64 // last sequence id per session
}

// NewJournal creates a journal rooted at dir.
func NewJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &Journal{dir: dir, seq: make(map[string]uint64)}, nil
}

// Dir returns the journal directory.
func (j *Journal) Dir() string {
	return j.dir
}

// Append writes event to the session's journal and returns its sequence id.
func (j *Journal) Append(sessionID string, event Event) (uint64, error) {
	if err := workspace.ValidateSessionID(sessionID); err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	last, ok := j.seq[sessionID]
	if !ok {
		// First write this process: continue from what is on disk.
		existing, err := j.load(sessionID)
		if err != nil && !os.IsNotExist(err) {
			return 0, err
		}
		if n := len(existing); n > 0 {
			last = existing[n-1].SeqID
		}
	}

	event.SeqID = last + 1
	event.Session = sessionID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	f, err := os.OpenFile(j.path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open session journal: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return 0, err
	}

	j.seq[sessionID] = event.SeqID
	return event.SeqID, nil
}

// Load reads every event of a session in order. A session without a
// journal yields no events.
func (j *Journal) Load(sessionID string) ([]Event, error) {
	if err := workspace.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	events, err := j.load(sessionID)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return events, err
}

func (j *Journal) load(sessionID string) ([]Event, error) {
	f, err := os.Open(j.path(sessionID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	// bufio.Reader rather than Scanner: no line length limit.
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var evt Event
			if perr := json.Unmarshal(trimmed, &evt); perr != nil {
				return nil, fmt.Errorf("failed to parse journal line: %w", perr)
			}
			events = append(events, evt)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading journal: %w", err)
		}
	}
	return events, nil
}

// Sessions lists sessions that have a journal, sorted.
func (j *Journal) Sessions() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			ids = append(ids, strings.TrimSuffix(e.Name(), ".jsonl"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (j *Journal) path(sessionID string) string {
	return filepath.Join(j.dir, sessionID+".jsonl")
}

// Path returns the journal file of a session. The file may not exist yet.
func (j *Journal) Path(sessionID string) (string, error) {
	if err := workspace.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return j.path(sessionID), nil
}

// DeployObserver records every run transition as a deploy_stage event.
// Journal write errors are dropped; the run itself is unaffected.
func (j *Journal) DeployObserver() deploy.Observer {
	return deploy.ObserverFunc(func(run *deploy.Run, tr deploy.Transition) {
		meta := &EventMeta{
			Provider: run.Provider,
			RunID:    run.ID,
			From:     string(tr.From),
			To:       string(tr.To),
			Note:     tr.Note,
			TargetID: run.TargetID(),
			URL:      run.URL,
		}
		evt := Event{Type: EventDeployStage, Timestamp: tr.At, CorrelationID: run.ID, Meta: meta}
		switch tr.To {
		case deploy.StateLive:
			evt.Success = Bool(true)
		case deploy.StateFailed:
			evt.Success = Bool(false)
			if run.Failure != nil {
				meta.Stage = string(run.Failure.Stage)
				evt.ErrorKind = string(run.Failure.Code)
				evt.Error = run.Failure.Reason
			}
		}
		j.Append(run.Session, evt)
	})
}

// SanitizeArgs copies args with long strings truncated.
func SanitizeArgs(args map[string]interface{}) map[string]interface{} {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && len(s) > maxArgLen {
			v = fmt.Sprintf("%s... (%d bytes)", s[:maxArgLen], len(s))
		}
		out[k] = v
	}
	return out
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}
