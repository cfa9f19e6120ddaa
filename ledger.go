package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VerificationLedger issues and consumes single use verification tokens.
// At most one token per (user, purpose) is outstanding, issuance replaces
// the previous one inside the same transaction.
type VerificationLedger struct {
	repo     RepositoryManager
	now      func() time.Time
	newToken func() string
	logger   Logger
}

// LedgerOption configures a VerificationLedger
type LedgerOption func(*VerificationLedger)

// WithLedgerClock overrides the clock used for expiry
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *VerificationLedger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLedgerLogger sets the ledger logger
func WithLedgerLogger(logger Logger) LedgerOption {
	return func(l *VerificationLedger) {
		l.logger = normalizeLogger(logger)
	}
}

// WithTokenGenerator replaces the random token generator
func WithTokenGenerator(gen func() string) LedgerOption {
	return func(l *VerificationLedger) {
		if gen != nil {
			l.newToken = gen
		}
	}
}

func NewVerificationLedger(repo RepositoryManager, opts ...LedgerOption) *VerificationLedger {
	l := &VerificationLedger{
		repo:     repo,
		now:      time.Now,
		newToken: uuid.NewString,
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Issue replaces any outstanding token of purpose for the user with a new one
func (l *VerificationLedger) Issue(ctx context.Context, userID int64, purpose TokenPurpose, ttl time.Duration) (*VerificationToken, error) {
	var record *VerificationToken
	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		record, err = l.IssueTx(ctx, tx, userID, purpose, ttl)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// IssueTx locks the owning user, deletes its tokens of purpose and inserts a
// fresh one. Concurrent issuers for the same user serialize on the lock.
func (l *VerificationLedger) IssueTx(ctx context.Context, tx bun.IDB, userID int64, purpose TokenPurpose, ttl time.Duration) (*VerificationToken, error) {
	if ttl <= 0 {
		return nil, goerrors.New("verification token ttl must be positive", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"ttl": ttl.String()})
	}

	if !purpose.IsValid() {
		return nil, goerrors.New("unknown verification token purpose", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"purpose": purpose})
	}

	if err := l.repo.Users().LockTx(ctx, tx, userID); err != nil {
		return nil, err
	}

	removed, err := l.repo.VerificationTokens().DeleteForUserTx(ctx, tx, userID, purpose)
	if err != nil {
		return nil, err
	}
	if removed > 0 {
		l.logger.Debug("invalidated outstanding verification tokens", "user_id", userID, "purpose", purpose, "count", removed)
	}

	now := l.now().UTC()
	record := &VerificationToken{
		Token:     l.newToken(),
		UserID:    userID,
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	return l.repo.VerificationTokens().CreateTx(ctx, tx, record)
}

// Consume accepts token once. An expired token is deleted and reported with
// ErrVerificationTokenExpired, an unknown or already used one with
// ErrVerificationTokenNotFound.
func (l *VerificationLedger) Consume(ctx context.Context, token string, purpose TokenPurpose) (*User, error) {
	var user *User
	var consumeErr error

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = l.ConsumeTx(ctx, tx, token, purpose)
		if IsVerificationExpired(err) {
			// commit the delete, report after
			consumeErr = err
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if consumeErr != nil {
		return nil, consumeErr
	}
	return user, nil
}

// ConsumeTx is Consume inside the caller's transaction. On
// ErrVerificationTokenExpired the row has been deleted and the caller should
// still commit.
func (l *VerificationLedger) ConsumeTx(ctx context.Context, tx bun.IDB, token string, purpose TokenPurpose) (*User, error) {
	if token == "" {
		return nil, ErrVerificationTokenNotFound
	}

	record, err := l.repo.VerificationTokens().GetByTokenTx(ctx, tx, token)
	if err != nil {
		return nil, err
	}

	if record.Purpose != purpose {
		return nil, ErrVerificationTokenNotFound
	}

	deleted, err := l.repo.VerificationTokens().DeleteByIDTx(ctx, tx, record.ID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		// a concurrent consumer won
		return nil, ErrVerificationTokenNotFound
	}

	if record.Expired(l.now().UTC()) {
		l.logger.Info("verification token expired", "user_id", record.UserID, "purpose", purpose, "expired_at", record.ExpiresAt)
		return nil, withMeta(ErrVerificationTokenExpired, map[string]any{"user_id": record.UserID})
	}

	user, err := l.repo.Users().GetByIDTx(ctx, tx, record.UserID)
	if err != nil {
		if HasTextCode(err, TextCodeUserNotFound) {
			return nil, ErrVerificationTokenNotFound
		}
		return nil, err
	}

	return user, nil
}

// RevokeAllForUser deletes every token owned by the user
func (l *VerificationLedger) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	var removed int64
	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		removed, err = l.RevokeAllForUserTx(ctx, tx, userID)
		return err
	})
	return removed, err
}

func (l *VerificationLedger) RevokeAllForUserTx(ctx context.Context, tx bun.IDB, userID int64) (int64, error) {
	return l.repo.VerificationTokens().DeleteForUserTx(ctx, tx, userID, "")
}

// PurgeExpired deletes tokens whose expiry has passed
func (l *VerificationLedger) PurgeExpired(ctx context.Context) (int64, error) {
	var removed int64
	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		removed, err = l.repo.VerificationTokens().DeleteExpiredTx(ctx, tx, l.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	l.logger.Info("purged expired verification tokens", "count", removed)
	return removed, nil
}

// IsValid reports whether p is a known purpose
func (p TokenPurpose) IsValid() bool {
	return p == PurposeEmailVerification || p == PurposePasswordReset
}

// IsVerificationExpired matches ErrVerificationTokenExpired through wrapping
func IsVerificationExpired(err error) bool {
	return HasTextCode(err, goerrors.TextCodeVerificationExpired)
}

// IsVerificationNotFound matches ErrVerificationTokenNotFound through wrapping
func IsVerificationNotFound(err error) bool {
	return HasTextCode(err, TextCodeVerificationNotFound)
}
