package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"whalewatch/internal/config"
	"whalewatch/internal/domain"
	natsps "whalewatch/internal/pubsub/nats"

	"github.com/nats-io/nats.go"
	"gitlab.com/nevasik7/alerting/logger"
)

// NATSSource subscribes to the raw event subject. With a queue group
// configured, instances share the stream instead of each seeing every event.
type NATSSource struct {
	log     logger.Logger
	client  *natsps.Client
	subject string
	queue   string

	sub     *nats.Subscription
	decoded atomic.Uint64
	invalid atomic.Uint64
}

func NewNATSSource(log logger.Logger, client *natsps.Client, cfg *config.IngestConfig) (*NATSSource, error) {
	if client == nil {
		return nil, errors.New("nats client is required")
	}
	if cfg == nil || cfg.Subject == "" {
		return nil, errors.New("ingest subject is required")
	}

	return &NATSSource{
		log:     log,
		client:  client,
		subject: cfg.Subject,
		queue:   cfg.Queue,
	}, nil
}

func (s *NATSSource) Start(ctx context.Context, h Handler) error {
	if s.sub != nil {
		return errors.New("source already started")
	}

	sub, err := s.client.Subscribe(s.subject, s.queue, func(data []byte) {
		var ev domain.RawEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.invalid.Add(1)
			s.log.Warnf("Discarding undecodable event on %s: %v", s.subject, err)
			return
		}
		s.decoded.Add(1)
		h(ctx, &ev)
	})
	if err != nil {
		return err
	}

	s.sub = sub
	s.log.Infof("Ingesting raw events from %s (queue=%q)", s.subject, s.queue)
	return nil
}

func (s *NATSSource) Stop() error {
	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	s.sub = nil
	return err
}

// Decoded and Invalid report message counts since start.
func (s *NATSSource) Decoded() uint64 { return s.decoded.Load() }
func (s *NATSSource) Invalid() uint64 { return s.invalid.Load() }
