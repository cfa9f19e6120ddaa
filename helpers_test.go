package auth_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/goliatone/go-workorder-auth"
	"github.com/goliatone/go-workorder-auth/persistence"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

// testClock is a settable clock shared by the codec, ledger and service
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMail struct {
	Kind    string
	To      string
	Payload string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMail
}

func (n *recordingNotifier) SendVerificationEmail(_ context.Context, address, token string) {
	n.record("verify", address, token)
}

func (n *recordingNotifier) SendWelcomeEmail(_ context.Context, address, firstName string) {
	n.record("welcome", address, firstName)
}

func (n *recordingNotifier) SendPasswordResetEmail(_ context.Context, address, token string) {
	n.record("reset", address, token)
}

func (n *recordingNotifier) record(kind, to, payload string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{Kind: kind, To: to, Payload: payload})
}

// last returns the payload of the newest mail of kind sent to address
func (n *recordingNotifier) last(kind, address string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind && n.sent[i].To == address {
			return n.sent[i].Payload
		}
	}
	return ""
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, m := range n.sent {
		if m.Kind == kind {
			total++
		}
	}
	return total
}

type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	ctx := context.Background()

	db, err := persistence.Open(ctx, persistence.Options{
		DSN: fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, auth.Migrate(ctx, db, nopLogger{}))
	return db
}

type fixture struct {
	db       *bun.DB
	repo     auth.RepositoryManager
	codec    *auth.TokenCodec
	svc      *auth.Service
	clock    *testClock
	notifier *recordingNotifier
	activity *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newTestDB(t)
	clock := newTestClock()

	codec, err := auth.NewTokenCodec(testSigningKey,
		auth.WithCodecClock(clock.Now),
		auth.WithCodecIssuer("workorder-test"),
		auth.WithCodecLogger(nopLogger{}),
	)
	require.NoError(t, err)

	f := &fixture{
		db:       db,
		repo:     auth.NewRepositoryManager(db),
		codec:    codec,
		clock:    clock,
		notifier: &recordingNotifier{},
		activity: &recordingSink{},
	}

	f.svc = auth.NewService(f.repo, codec, nil).
		WithLogger(nopLogger{}).
		WithPasswordAuthenticator(auth.NewBcryptHasher(bcrypt.MinCost)).
		WithNotificationSender(f.notifier).
		WithActivitySink(f.activity).
		WithClock(clock.Now)

	return f
}

func (f *fixture) register(t *testing.T, first, email, phone string, roles ...string) *auth.User {
	t.Helper()
	res, err := f.svc.Register(context.Background(), auth.RegisterUserMessage{
		FirstName: first,
		LastName:  "Tester",
		Email:     email,
		Phone:     phone,
		Password:  "secret-password",
		Roles:     roles,
	})
	require.NoError(t, err)
	return res.User
}

func (f *fixture) registerVerified(t *testing.T, first, email, phone string, roles ...string) *auth.User {
	t.Helper()
	user := f.register(t, first, email, phone, roles...)
	_, err := f.svc.VerifyEmail(context.Background(), f.notifier.last("verify", user.Email))
	require.NoError(t, err)
	return user
}

func (f *fixture) countUsers(t *testing.T) int {
	t.Helper()
	n, err := f.db.NewSelect().Model((*auth.User)(nil)).Count(context.Background())
	require.NoError(t, err)
	return n
}

func (f *fixture) countTokens(t *testing.T, userID int64, purpose auth.TokenPurpose) int {
	t.Helper()
	n, err := f.repo.VerificationTokens().CountForUserTx(context.Background(), f.db, userID, purpose)
	require.NoError(t, err)
	return n
}

func adminPrincipal() auth.Principal {
	return auth.Principal{UserID: 999, Subject: "root@x.com", Authorities: []string{string(auth.RoleAdmin)}}
}
