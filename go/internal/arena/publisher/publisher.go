package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/devforge/arena/go/internal/arena/events"
)

// Config holds NATS JetStream configuration for the session event mirror.
type Config struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration // How long to keep messages
	BufferSize    int           // Outbound queue between sessions and NATS
}

// DefaultConfig returns default JetStream configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "ARENA_EVENTS",
		SubjectPrefix: "arena.sessions",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		MaxAge:        24 * time.Hour,
		BufferSize:    1024,
	}
}

// JetStreamPublisher mirrors session events onto a JetStream stream so
// external consumers (replay, analytics, audit) can read them without being
// in the room. Publish never blocks the session's command loop: events are
// queued and flushed by a background loop, and dropped with a warning when
// the queue is full.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config

	eventCh chan *events.SessionEvent
}

// NewJetStreamPublisher connects to NATS and ensures the stream exists.
func NewJetStreamPublisher(cfg Config) (*JetStreamPublisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		config:  cfg,
		eventCh: make(chan *events.SessionEvent, cfg.BufferSize),
	}

	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return p, nil
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Live session event stream",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create or update stream: %w", err)
	}
	log.Info().
		Str("stream", p.config.StreamName).
		Msg("JetStream stream ready")
	return nil
}

// Publish enqueues an event for the background flush loop. Non-blocking.
func (p *JetStreamPublisher) Publish(event *events.SessionEvent) {
	select {
	case p.eventCh <- event:
	default:
		log.Warn().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("publisher queue full, dropping event")
	}
}

// Start drains the queue into JetStream until ctx is cancelled.
func (p *JetStreamPublisher) Start(ctx context.Context) {
	log.Info().Msg("event publisher started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event publisher shutting down")
			return
		case event := <-p.eventCh:
			p.publishEvent(ctx, event)
		}
	}
}

func (p *JetStreamPublisher) publishEvent(ctx context.Context, event *events.SessionEvent) {
	subject := fmt.Sprintf("%s.%s.%s", p.config.SubjectPrefix, event.SessionID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for publishing")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = p.js.PublishMsg(pubCtx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(event.Type)},
			"Session-ID": []string{event.SessionID},
			"Event-ID":   []string{event.ID},
		},
	}, jetstream.WithMsgID(event.ID))
	if err != nil {
		log.Error().
			Err(err).
			Str("subject", subject).
			Str("event_id", event.ID).
			Msg("failed to publish event")
		return
	}

	log.Debug().
		Str("subject", subject).
		Str("event_type", string(event.Type)).
		Msg("event published")
}

// Stop closes the NATS connection after flushing buffered messages.
func (p *JetStreamPublisher) Stop() {
	if err := p.nc.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain NATS connection")
		p.nc.Close()
	}
}
