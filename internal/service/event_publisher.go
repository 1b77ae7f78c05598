package service

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATS subjects published by the attempt and grading services. Downstream
// result/certificate consumers subscribe to these.
const (
	SubjectAttemptStarted   = "exam.attempt.started"
	SubjectAttemptSubmitted = "exam.attempt.submitted"
	SubjectAttemptExpired   = "exam.attempt.expired"
	SubjectAttemptCancelled = "exam.attempt.cancelled"
	SubjectAttemptGraded    = "exam.attempt.graded"
	SubjectAttemptRegraded  = "exam.attempt.regraded"
)

// EventPublisher fans out domain events to interested consumers. Publishing
// is fire-and-forget: failures are logged by implementations and never fail
// the calling operation.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload interface{})
}

type natsPublisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewNATSPublisher wraps a NATS connection as an EventPublisher. A nil
// connection yields a publisher that drops everything, which keeps local
// development working without a broker.
func NewNATSPublisher(conn *nats.Conn, logger zerolog.Logger) EventPublisher {
	return &natsPublisher{
		conn:   conn,
		logger: logger.With().Str("component", "event_publisher").Logger(),
	}
}

func (p *natsPublisher) Publish(_ context.Context, subject string, payload interface{}) {
	if p.conn == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("failed to marshal event payload")
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}
