// Package events publishes deployment progress to external subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/shipper/internal/deploy"
	"github.com/vinayprograms/shipper/internal/logging"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "shipper.deploy"

// Event is one deployment transition as seen by subscribers.
type Event struct {
	RunID    string    `json:"run_id"`
	Provider string    `json:"provider"`
	Session  string    `json:"session"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Note     string    `json:"note,omitempty"`
	TargetID string    `json:"target_id,omitempty"`
	URL      string    `json:"url,omitempty"`
	Stage    string    `json:"stage,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher delivers events somewhere.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// NATSPublisher publishes events to "<subject>.<provider>".
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL            string
	Subject        string
	ConnectTimeout time.Duration
}

// NewNATSPublisher connects to NATS.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("shipper"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: cfg.Subject}, nil
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(event *Event) string {
	return p.subject + "." + event.Provider
}

func (p *NATSPublisher) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.Subject(event), data)
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }
func (Nop) Close() error                          { return nil }

// Memory keeps published events in order.
type Memory struct {
	mu     sync.Mutex
	events []*Event
}

func (m *Memory) Publish(_ context.Context, event *Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Events returns everything published so far.
func (m *Memory) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

// FromTransition builds the event for one transition of run.
func FromTransition(run *deploy.Run, tr deploy.Transition) *Event {
	e := &Event{
		RunID:    run.ID,
		Provider: run.Provider,
		Session:  run.Session,
		From:     string(tr.From),
		To:       string(tr.To),
		Note:     tr.Note,
		TargetID: run.TargetID(),
		URL:      run.URL,
		At:       tr.At,
	}
	if run.Failure != nil {
		e.Stage = string(run.Failure.Stage)
		e.Reason = run.Failure.Reason
	}
	return e
}

// DeployObserver forwards every transition to pub. Publish errors are
// logged and never affect the run.
func DeployObserver(pub Publisher, logger *logging.Logger) deploy.Observer {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("events")
	return deploy.ObserverFunc(func(run *deploy.Run, tr deploy.Transition) {
		if err := pub.Publish(context.Background(), FromTransition(run, tr)); err != nil {
			logger.Warn("event publish failed", map[string]interface{}{
				"run_id": run.ID,
				"to":     string(tr.To),
				"error":  err.Error(),
			})
		}
	})
}
