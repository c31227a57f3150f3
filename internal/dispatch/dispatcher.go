package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"whalewatch/internal/config"
	"whalewatch/internal/domain"
	"whalewatch/internal/metrics"
	"whalewatch/internal/pubsub"

	"gitlab.com/nevasik7/alerting/logger"
)

const (
	TopicPools  = "pools"
	TopicWhales = "whales"
	TopicImpact = "impact"
	TopicAlerts = "alerts"
)

// One outbound message. A batched frame carries every payload coalesced for
// its topic during one interval, an immediate frame carries exactly one.
type Frame struct {
	Topic       string    `json:"topic"`
	Batched     bool      `json:"batched"`
	Count       int       `json:"count"`
	Payloads    []any     `json:"payloads"`
	GeneratedAt time.Time `json:"ts"`
}

// Subscriber receives frames on a buffered channel. A subscriber only gets
// topics it opted into, alert triggers additionally require a matching user.
type Subscriber struct {
	ID     string
	UserID string

	topics map[string]struct{}
	ch     chan Frame
}

func (s *Subscriber) C() <-chan Frame { return s.ch }

func (s *Subscriber) wants(topic string) bool {
	_, ok := s.topics[topic]
	return ok
}

/*
	Two delivery classes: low-urgency updates are coalesced per topic on a
	fixed interval (bounds outbound rate independent of inbound rate),
	high-significance events bypass the queue synchronously. Every frame is
	mirrored to the cluster broadcaster for other instances' websocket nodes.
*/

type Dispatcher struct {
	log logger.Logger
	cfg config.DispatchConfig

	broadcaster pubsub.Broadcaster // optional
	prefix      string             // NATS subject prefix

	mu     sync.Mutex
	subs   map[string]*Subscriber
	queues map[string][]any
	closed bool

	dropped uint64 // frames lost to slow subscribers

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(log logger.Logger, cfg *config.DispatchConfig, bc pubsub.Broadcaster, prefix string) (*Dispatcher, error) {
	if cfg == nil {
		return nil, errors.New("config is required to the dispatcher")
	}
	if prefix == "" {
		prefix = "whalewatch"
	}

	// sane defaults
	c := *cfg
	if c.BatchInterval <= 0 {
		c.BatchInterval = 100 * time.Millisecond
	}
	if c.ImmediateWhaleUSD <= 0 {
		c.ImmediateWhaleUSD = 100_000
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 64
	}

	d := &Dispatcher{
		log:         log,
		cfg:         c,
		broadcaster: bc,
		prefix:      prefix,
		subs:        make(map[string]*Subscriber, 16),
		queues:      make(map[string][]any, 4),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	go d.loop()

	return d, nil
}

func (d *Dispatcher) Subscribe(id, userID string, topics ...string) (*Subscriber, error) {
	sub := &Subscriber{
		ID:     id,
		UserID: userID,
		topics: make(map[string]struct{}, len(topics)),
		ch:     make(chan Frame, d.cfg.SubscriberBuffer),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("dispatcher closed")
	}
	if _, exists := d.subs[id]; exists {
		return nil, fmt.Errorf("subscriber %q already registered", id)
	}
	d.subs[id] = sub

	return sub, nil
}

func (d *Dispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	sub, ok := d.subs[id]
	if ok {
		delete(d.subs, id)
	}
	d.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// PublishPoolUpdate is always batched.
func (d *Dispatcher) PublishPoolUpdate(upd *domain.PoolUpdate) {
	d.enqueue(TopicPools, upd)
}

// PublishWhale batches ordinary whales, delivers immediately at or above the
// high-value cutoff.
func (d *Dispatcher) PublishWhale(w *domain.WhaleTransaction) {
	if w.AmountUSD >= d.cfg.ImmediateWhaleUSD {
		d.immediate(TopicWhales, w)
		return
	}
	d.enqueue(TopicWhales, w)
}

// PublishImpact batches everything below critical severity.
func (d *Dispatcher) PublishImpact(ia *domain.ImpactAnalysis) {
	if ia.Severity == domain.SeverityCritical {
		d.immediate(TopicImpact, ia)
		return
	}
	d.enqueue(TopicImpact, ia)
}

// PublishTrigger always goes out immediately, addressed to the owning user.
func (d *Dispatcher) PublishTrigger(tr *domain.AlertTrigger) {
	frame := Frame{
		Topic:       TopicAlerts,
		Count:       1,
		Payloads:    []any{tr},
		GeneratedAt: time.Now().UTC(),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warnf("Dropping alert trigger %s: dispatcher closed", tr.AlertID)
		return
	}
	for _, sub := range d.subs {
		if sub.UserID != tr.UserID {
			continue
		}
		d.deliverLocked(sub, frame)
	}
	d.mu.Unlock()

	d.mirror(fmt.Sprintf("%s.%s.%s", d.prefix, TopicAlerts, tr.UserID), frame)
}

// Dropped reports frames lost to slow subscribers since start.
func (d *Dispatcher) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close stops the timer, flushes every non-empty queue synchronously and
// closes all subscriber channels. Nothing queued is dropped.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})

	select {
	case <-d.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) enqueue(topic string, payload any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.log.Warnf("Dropping %s payload: dispatcher closed", topic)
		return
	}
	d.queues[topic] = append(d.queues[topic], payload)
}

func (d *Dispatcher) immediate(topic string, payload any) {
	frame := Frame{
		Topic:       topic,
		Count:       1,
		Payloads:    []any{payload},
		GeneratedAt: time.Now().UTC(),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warnf("Dropping immediate %s payload: dispatcher closed", topic)
		return
	}
	d.fanOutLocked(frame)
	d.mu.Unlock()

	d.mirror(d.prefix+"."+topic, frame)
}

func (d *Dispatcher) loop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.flush()
		case <-d.stopCh:
			d.flush()
			d.shutdown()
			return
		}
	}
}

// flush drains each non-empty topic queue into one aggregated frame.
func (d *Dispatcher) flush() {
	now := time.Now().UTC()

	d.mu.Lock()
	frames := make([]Frame, 0, len(d.queues))
	for topic, payloads := range d.queues {
		if len(payloads) == 0 {
			continue
		}
		frames = append(frames, Frame{
			Topic:       topic,
			Batched:     true,
			Count:       len(payloads),
			Payloads:    payloads,
			GeneratedAt: now,
		})
		d.queues[topic] = nil
	}
	for _, frame := range frames {
		d.fanOutLocked(frame)
	}
	d.mu.Unlock()

	for _, frame := range frames {
		d.mirror(d.prefix+"."+frame.Topic, frame)
	}
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	d.closed = true
	for id, sub := range d.subs {
		close(sub.ch)
		delete(d.subs, id)
	}
	d.mu.Unlock()

	d.log.Info("Dispatcher stopped, all subscriber channels closed")
}

func (d *Dispatcher) fanOutLocked(frame Frame) {
	for _, sub := range d.subs {
		if !sub.wants(frame.Topic) {
			continue
		}
		d.deliverLocked(sub, frame)
	}
}

// Non-blocking send: a slow subscriber loses frames instead of stalling the
// pipeline, the drop is counted.
func (d *Dispatcher) deliverLocked(sub *Subscriber, frame Frame) {
	select {
	case sub.ch <- frame:
	default:
		d.dropped++
		metrics.FramesDropped.Inc()
		d.log.Warnf("Subscriber %s too slow, dropped %s frame", sub.ID, frame.Topic)
	}
}

// Cluster mirror is best effort, local subscribers already got the frame.
func (d *Dispatcher) mirror(subject string, frame Frame) {
	if d.broadcaster == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := d.broadcaster.Publish(ctx, subject, frame); err != nil {
		d.log.Errorf("Failed to mirror frame to %s: %v", subject, err)
	}
}
