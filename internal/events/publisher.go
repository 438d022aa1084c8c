package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"mailoreply.ai/platform/pkg/logger"
)

const (
	publishBuffer  = 256
	publishTimeout = 5 * time.Second
	dialTimeout    = 2 * time.Second
)

var (
	ErrBacklogFull     = errors.New("events: publish backlog full")
	ErrPublisherClosed = errors.New("events: publisher closed")
	ErrNotConnected    = errors.New("events: broker not connected")
	errBrokerBackoff   = errors.New("events: broker unavailable, waiting to redial")
)

// dial opens a broker connection whose TCP connect and AMQP handshake are
// both bounded by timeout.
func dial(url string, timeout time.Duration) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
}

// Publisher hands events to a background sender so callers never wait on the
// broker. Events that arrive while the backlog is full are dropped.
// A Publisher without a URL accepts and discards every event.
type Publisher struct {
	url         string
	logger      *logger.Logger
	dialTimeout time.Duration

	events    chan GenerationRecorded
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	// owned by the sender goroutine
	retryAt time.Time
	backoff time.Duration
}

func NewPublisher(url string, l *logger.Logger) *Publisher {
	p := newPublisher(url, l, publishBuffer, dialTimeout)
	if p.Enabled() {
		p.start()
	}
	return p
}

func newPublisher(url string, l *logger.Logger, buffer int, timeout time.Duration) *Publisher {
	return &Publisher{
		url:         url,
		logger:      l.With("component", "events"),
		dialTimeout: timeout,
		events:      make(chan GenerationRecorded, buffer),
		done:        make(chan struct{}),
	}
}

func (p *Publisher) start() {
	p.wg.Add(1)
	go p.run()
}

func (p *Publisher) Enabled() bool {
	return p != nil && p.url != ""
}

// PublishGeneration queues ev and returns immediately.
func (p *Publisher) PublishGeneration(ctx context.Context, ev GenerationRecorded) error {
	if !p.Enabled() {
		return nil
	}
	select {
	case <-p.done:
		return ErrPublisherClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case p.events <- ev:
		return nil
	default:
		p.logger.Warn("Publish backlog full, dropping event", "queue", GenerationQueue, "user_id", ev.UserID)
		return ErrBacklogFull
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.events:
			p.send(ev)
		case <-p.done:
			for {
				select {
				case ev := <-p.events:
					p.send(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) send(ev GenerationRecorded) {
	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("Failed to encode event", "queue", GenerationQueue, "error", err)
		return
	}

	ch, err := p.channel()
	if err != nil {
		p.logger.Debug("Broker unavailable, dropping event", "queue", GenerationQueue, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err = ch.PublishWithContext(ctx, "", GenerationQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.logger.Warn("Publish failed", "queue", GenerationQueue, "error", err)
		p.reset()
	}
}

// channel returns the open channel, redialing outside the lock when it has
// dropped. Failed dials back off from 1s up to maxBackoff.
func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	ch := p.ch
	p.mu.Unlock()
	if ch != nil && !ch.IsClosed() {
		return ch, nil
	}
	if time.Now().Before(p.retryAt) {
		return nil, errBrokerBackoff
	}
	p.reset()

	conn, ch, err := p.connect()
	if err != nil {
		if p.backoff == 0 {
			p.backoff = time.Second
		} else {
			p.backoff = nextBackoff(p.backoff)
		}
		p.retryAt = time.Now().Add(p.backoff)
		p.logger.Warn("Failed to dial broker", "error", err, "retry_in", p.backoff.String())
		return nil, err
	}
	p.backoff = 0

	p.mu.Lock()
	p.conn, p.ch = conn, ch
	p.mu.Unlock()
	return ch, nil
}

func (p *Publisher) connect() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := dial(p.url, p.dialTimeout)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if _, err := ch.QueueDeclare(GenerationQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// QueueDepth reports the number of events waiting for the worker. It never
// dials; until the sender has connected it returns ErrNotConnected.
func (p *Publisher) QueueDepth(ctx context.Context) (int, error) {
	if !p.Enabled() {
		return 0, nil
	}
	p.mu.Lock()
	ch := p.ch
	p.mu.Unlock()
	if ch == nil || ch.IsClosed() {
		return 0, ErrNotConnected
	}
	// a failed passive declare closes the channel; the sender redials
	q, err := ch.QueueDeclarePassive(GenerationQueue, true, false, false, false, nil)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

// Close stops accepting events, flushes what is queued and closes the
// connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
	p.reset()
	return nil
}

func (p *Publisher) reset() {
	p.mu.Lock()
	ch, conn := p.ch, p.conn
	p.ch, p.conn = nil, nil
	p.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}
