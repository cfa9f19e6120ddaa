// Package notifier delivers account emails off the request path. A
// Dispatcher queues notifications and hands them to a Publisher from a small
// worker pool.
package notifier

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	auth "github.com/goliatone/go-workorder-auth"
)

// Kind names the email a notification asks for. It doubles as the message key.
type Kind string

const (
	KindVerifyEmail   Kind = "user.verify_email"
	KindWelcome       Kind = "user.welcome"
	KindResetPassword Kind = "user.reset_password"
)

// Notification is the payload published for the mail service
type Notification struct {
	Kind      Kind      `json:"kind"`
	To        string    `json:"email"`
	Token     string    `json:"token,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Encode marshals the notification for the wire
func (n Notification) Encode() ([]byte, error) {
	return json.Marshal(n)
}

// Publisher hands a notification to the delivery channel
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
	Close() error
}

// Dispatcher implements auth.NotificationSender. Sends never block the
// caller: when the queue is full the notification is dropped and logged, the
// user can always ask for a new verification email.
type Dispatcher struct {
	publisher Publisher
	logger    auth.Logger
	queue     chan Notification
	workers   int
	timeout   time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	started sync.Once
}

var _ auth.NotificationSender = (*Dispatcher)(nil)

// Option configures a Dispatcher
type Option func(*Dispatcher)

func WithLogger(logger auth.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan Notification, size)
		}
	}
}

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithPublishTimeout bounds a single publish call
func WithPublishTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func NewDispatcher(publisher Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		publisher: publisher,
		logger:    auth.NewSlogLogger(nil),
		queue:     make(chan Notification, 128),
		workers:   1,
		timeout:   10 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Start launches the workers. They stop once Close drained the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.started.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.work(ctx)
		}
	})
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for n := range d.queue {
		d.publish(ctx, n)
	}
}

func (d *Dispatcher) publish(ctx context.Context, n Notification) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.publisher.Publish(pubCtx, n); err != nil {
		args := []any{"kind", n.Kind, "to", n.To, "error", err}
		for _, attr := range goerrors.ToSlogAttributes(err) {
			args = append(args, attr)
		}
		d.logger.Error("notification delivery failed", args...)
		return
	}
	d.logger.Debug("notification published", "kind", n.Kind, "to", n.To)
}

// Close stops accepting notifications and waits for queued ones to be
// published or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled while draining notifications")
	}

	return d.publisher.Close()
}

func (d *Dispatcher) enqueue(n Notification) {
	n.CreatedAt = d.now().UTC()

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("notification dropped, dispatcher closed", "kind", n.Kind, "to", n.To)
		return
	}

	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification dropped, queue full", "kind", n.Kind, "to", n.To)
	}
}

func (d *Dispatcher) SendVerificationEmail(_ context.Context, address, token string) {
	d.enqueue(Notification{Kind: KindVerifyEmail, To: address, Token: token})
}

func (d *Dispatcher) SendWelcomeEmail(_ context.Context, address, firstName string) {
	d.enqueue(Notification{Kind: KindWelcome, To: address, FirstName: firstName})
}

func (d *Dispatcher) SendPasswordResetEmail(_ context.Context, address, token string) {
	d.enqueue(Notification{Kind: KindResetPassword, To: address, Token: token})
}
