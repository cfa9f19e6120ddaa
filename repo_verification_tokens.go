package auth

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// VerificationTokens stores ledger rows. Only transactional variants exist,
// the ledger owns the transaction boundaries.
type VerificationTokens interface {
	GetByTokenTx(ctx context.Context, tx bun.IDB, token string) (*VerificationToken, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *VerificationToken) (*VerificationToken, error)
	// DeleteByIDTx reports whether this call removed the row
	DeleteByIDTx(ctx context.Context, tx bun.IDB, id int64) (bool, error)
	// DeleteForUserTx removes the user's tokens, all purposes when purpose is empty
	DeleteForUserTx(ctx context.Context, tx bun.IDB, userID int64, purpose TokenPurpose) (int64, error)
	DeleteExpiredTx(ctx context.Context, tx bun.IDB, now time.Time) (int64, error)
	CountForUserTx(ctx context.Context, tx bun.IDB, userID int64, purpose TokenPurpose) (int, error)
}

type verificationTokens struct {
	db *bun.DB
}

var _ VerificationTokens = (*verificationTokens)(nil)

func NewVerificationTokensRepository(db *bun.DB) VerificationTokens {
	return &verificationTokens{db: db}
}

func (v *verificationTokens) GetByTokenTx(ctx context.Context, tx bun.IDB, token string) (*VerificationToken, error) {
	record := &VerificationToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrVerificationTokenNotFound
		}
		return nil, storageError(err, "failed to load verification token")
	}
	return record, nil
}

func (v *verificationTokens) CreateTx(ctx context.Context, tx bun.IDB, record *VerificationToken) (*VerificationToken, error) {
	if _, err := tx.NewInsert().Model(record).Returning("id").Exec(ctx); err != nil {
		return nil, storageError(err, "failed to insert verification token")
	}
	return record, nil
}

func (v *verificationTokens) DeleteByIDTx(ctx context.Context, tx bun.IDB, id int64) (bool, error) {
	res, err := tx.NewDelete().
		Model((*VerificationToken)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, storageError(err, "failed to delete verification token")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, storageError(err, "failed to read deleted verification tokens")
	}
	return n == 1, nil
}

func (v *verificationTokens) DeleteForUserTx(ctx context.Context, tx bun.IDB, userID int64, purpose TokenPurpose) (int64, error) {
	q := tx.NewDelete().
		Model((*VerificationToken)(nil)).
		Where("user_id = ?", userID)
	if purpose != "" {
		q = q.Where("purpose = ?", purpose)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, storageError(err, "failed to delete user verification tokens")
	}

	n, _ := res.RowsAffected()
	return n, nil
}

func (v *verificationTokens) DeleteExpiredTx(ctx context.Context, tx bun.IDB, now time.Time) (int64, error) {
	res, err := tx.NewDelete().
		Model((*VerificationToken)(nil)).
		Where("expires_at < ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, storageError(err, "failed to purge expired verification tokens")
	}

	n, _ := res.RowsAffected()
	return n, nil
}

func (v *verificationTokens) CountForUserTx(ctx context.Context, tx bun.IDB, userID int64, purpose TokenPurpose) (int, error) {
	q := tx.NewSelect().
		Model((*VerificationToken)(nil)).
		Where("user_id = ?", userID)
	if purpose != "" {
		q = q.Where("purpose = ?", purpose)
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, storageError(err, "failed to count verification tokens")
	}
	return count, nil
}
