package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/princinho/racebackend/logger"
)

const (
	SubjectVisitAccepted = "race.visit.accepted"
	SubjectTimesDeleted  = "race.times.deleted"
	SubjectCourseDeleted = "race.course.deleted"
	SubjectUserDeleted   = "race.user.deleted"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type VisitAccepted struct {
	Course     string    `json:"course"`
	UserEmail  string    `json:"user_email"`
	Checkpoint int       `json:"checkpoint"`
	CapturedAt time.Time `json:"captured_at"`
	Improved   bool      `json:"improved"`
}

type TimesDeleted struct {
	Course    string `json:"course"`
	UserEmail string `json:"user_email"`
	Removed   int64  `json:"removed"`
}

type CourseDeleted struct {
	Course string `json:"course"`
}

type UserDeleted struct {
	UserEmail string `json:"user_email"`
}

type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("racebackend"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

func (n *NATSPublisher) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	logger.WithContext(ctx).WithField("subject", subject).Debug("publishing event")
	return n.conn.Publish(subject, payload)
}

func (n *NATSPublisher) Close() error {
	return n.conn.Drain()
}

// Nop drops every event. Used when NATS_URL is unset.
type Nop struct{}

func (Nop) Publish(context.Context, string, interface{}) error { return nil }
func (Nop) Close() error                                       { return nil }

// PublishBestEffort logs instead of failing the caller.
func PublishBestEffort(ctx context.Context, p Publisher, subject string, data interface{}) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, subject, data); err != nil {
		logger.WithContext(ctx).WithError(err).WithField("subject", subject).Warn("event publish failed")
	}
}
