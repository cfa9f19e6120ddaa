package auth

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultAccessTokenTTL        = time.Hour
	DefaultRefreshTokenTTL       = 7 * 24 * time.Hour
	DefaultVerificationTokenTTL  = 24 * time.Hour
	DefaultPasswordResetTokenTTL = time.Hour
)

// Service orchestrates login, registration, verification, refresh and
// authorization. It keeps no per request state and is safe for concurrent use.
type Service struct {
	repo        RepositoryManager
	codec       *TokenCodec
	ledger      *VerificationLedger
	hasher      PasswordAuthenticator
	notifier    NotificationSender
	activity    ActivitySink
	decorator   ClaimsDecorator
	logger      Logger
	rolePolicy  RolePolicy
	now         func() time.Time
	ledgerOpts  []LedgerOption
	timeout     time.Duration
	ttl         tokenTTLs
	dummyOnce   sync.Once
	dummyHash   string
	roles       *RoleManager
	permissions *PermissionManager
	users       *UserManager
}

type tokenTTLs struct {
	access       time.Duration
	refresh      time.Duration
	verification time.Duration
	reset        time.Duration
}

// NewService wires the service. TTLs come from cfg, zero values fall back to
// the package defaults.
func NewService(repo RepositoryManager, codec *TokenCodec, cfg Config) *Service {
	s := &Service{
		repo:       repo,
		codec:      codec,
		hasher:     NewBcryptHasher(0),
		activity:   noopActivitySink{},
		decorator:  noopClaimsDecorator{},
		logger:     defLogger{},
		rolePolicy: RolePolicyFallbackToUser,
		now:        time.Now,
		timeout:    10 * time.Second,
		ttl: tokenTTLs{
			access:       DefaultAccessTokenTTL,
			refresh:      DefaultRefreshTokenTTL,
			verification: DefaultVerificationTokenTTL,
			reset:        DefaultPasswordResetTokenTTL,
		},
	}

	if cfg != nil {
		s.ttl.access = durationOr(cfg.GetAccessTokenTTL(), s.ttl.access)
		s.ttl.refresh = durationOr(cfg.GetRefreshTokenTTL(), s.ttl.refresh)
		s.ttl.verification = durationOr(cfg.GetVerificationTokenTTL(), s.ttl.verification)
		s.ttl.reset = durationOr(cfg.GetPasswordResetTokenTTL(), s.ttl.reset)
	}

	s.notifier = noopNotifier{logger: s.logger}
	s.rebuild()
	return s
}

func (s *Service) WithLogger(logger Logger) *Service {
	s.logger = normalizeLogger(logger)
	if n, ok := s.notifier.(noopNotifier); ok {
		n.logger = s.logger
		s.notifier = n
	}
	s.rebuild()
	return s
}

// WithNotificationSender sets the collaborator that delivers account emails
func (s *Service) WithNotificationSender(sender NotificationSender) *Service {
	if sender == nil {
		sender = noopNotifier{logger: s.logger}
	}
	s.notifier = sender
	return s
}

// WithPasswordAuthenticator replaces the bcrypt hasher
func (s *Service) WithPasswordAuthenticator(hasher PasswordAuthenticator) *Service {
	if hasher != nil {
		s.hasher = hasher
		s.dummyOnce = sync.Once{}
		s.dummyHash = ""
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
// Record runs inline on the request path, wrap slow sinks in
// activitymap.Queue.
func (s *Service) WithActivitySink(sink ActivitySink) *Service {
	s.activity = normalizeActivitySink(sink)
	s.rebuild()
	return s
}

// WithClaimsDecorator configures a ClaimsDecorator for enriching access tokens.
func (s *Service) WithClaimsDecorator(decorator ClaimsDecorator) *Service {
	s.decorator = normalizeClaimsDecorator(decorator)
	return s
}

// WithRolePolicy decides what registration does with unknown role names
func (s *Service) WithRolePolicy(policy RolePolicy) *Service {
	s.rolePolicy = policy
	return s
}

// WithClock overrides the clock used by the ledger and activity events.
// Token timestamps follow the codec's own clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
		s.rebuild()
	}
	return s
}

// WithLedgerOptions passes extra options to the verification ledger
func (s *Service) WithLedgerOptions(opts ...LedgerOption) *Service {
	s.ledgerOpts = append(s.ledgerOpts, opts...)
	s.rebuild()
	return s
}

// WithOperationTimeout bounds every flow, the default is 10 seconds
func (s *Service) WithOperationTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

func (s *Service) rebuild() {
	opts := append([]LedgerOption{
		WithLedgerClock(s.now),
		WithLedgerLogger(s.logger),
	}, s.ledgerOpts...)
	s.ledger = NewVerificationLedger(s.repo, opts...)

	s.roles = NewRoleManager(s.repo).WithLogger(s.logger).WithActivitySink(s.activity)
	s.permissions = NewPermissionManager(s.repo).WithLogger(s.logger)
	s.users = NewUserManager(s.repo, s.ledger).WithLogger(s.logger).WithActivitySink(s.activity)
}

// Ledger returns the verification ledger used by the flows
func (s *Service) Ledger() *VerificationLedger {
	return s.ledger
}

// Codec returns the token codec
func (s *Service) Codec() *TokenCodec {
	return s.codec
}

// RoleManager returns the role administration component
func (s *Service) RoleManager() *RoleManager {
	return s.roles
}

// PermissionManager returns the permission administration component
func (s *Service) PermissionManager() *PermissionManager {
	return s.permissions
}

// UserManager returns the user administration component
func (s *Service) UserManager() *UserManager {
	return s.users
}

func (s *Service) fail(op string, err error) error {
	return failWith(s.logger, op, err)
}

// failWith logs err with full detail and returns the error handed to callers.
// Foreign errors become internal errors.
func failWith(logger Logger, op string, err error) error {
	if err == nil {
		return nil
	}

	args := []any{"operation", op, "error", err}
	for _, attr := range goerrors.ToSlogAttributes(err) {
		args = append(args, attr)
	}

	if KindOf(err) == KindInternal {
		logger.Error("auth operation failed", args...)
	} else {
		logger.Debug("auth operation rejected", args...)
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, op+" failed")
}

// dummyPasswordHash is compared against when the identifier is unknown, so
// both failure paths cost one bcrypt comparison.
func (s *Service) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.HashPassword("work-order-auth-timing-equalizer")
		if err != nil {
			s.logger.Error("failed to prepare dummy password hash", "error", err)
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func cancelledError(ctx context.Context, op string) error {
	return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during "+op)
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
