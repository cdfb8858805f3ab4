package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gotrs-io/gotrs-ingest/internal/version"
)

// Publisher hands a payload to the downstream queue. msgID is the
// idempotency key the broker deduplicates on.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, msgID string) error
}

// StreamConfig describes the JetStream stream that receives ingested
// messages.
type StreamConfig struct {
	Name            string
	SubjectPrefix   string
	DuplicateWindow time.Duration
	MaxAge          time.Duration
}

// DefaultStreamConfig returns the stream layout used when none is configured.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name:            "INGEST",
		SubjectPrefix:   DefaultSubjectPrefix,
		DuplicateWindow: 24 * time.Hour,
		MaxAge:          7 * 24 * time.Hour,
	}
}

// JetStreamPublisher publishes to NATS JetStream with Nats-Msg-Id dedupe.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	stream StreamConfig
}

// NewJetStreamPublisher connects to the NATS server at url.
func NewJetStreamPublisher(url string, stream StreamConfig) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(url, nats.Name(version.UserAgent()), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	if stream.Name == "" {
		stream.Name = DefaultStreamConfig().Name
	}
	if stream.SubjectPrefix == "" {
		stream.SubjectPrefix = DefaultSubjectPrefix
	}
	return &JetStreamPublisher{nc: nc, js: js, stream: stream}, nil
}

// EnsureStream creates the ingest stream when it does not exist yet.
func (p *JetStreamPublisher) EnsureStream(ctx context.Context) error {
	info, err := p.js.StreamInfo(p.stream.Name, nats.Context(ctx))
	if err == nil && info != nil {
		return nil
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:       p.stream.Name,
		Subjects:   []string{p.stream.SubjectPrefix + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: p.stream.DuplicateWindow,
		MaxAge:     p.stream.MaxAge,
	}, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil
		}
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Publish publishes payload to subject and waits for the broker ack.
func (p *JetStreamPublisher) Publish(ctx context.Context, subject string, payload []byte, msgID string) error {
	if _, err := p.js.Publish(subject, payload, nats.MsgId(msgID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (p *JetStreamPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}
