package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-workorder-auth"
)

func TestVerificationLedger_IssueReplacesOutstanding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "Alice", "alice@x.com", "555-0100")
	ledger := f.svc.Ledger()

	first, err := ledger.Issue(ctx, user.ID, auth.PurposeEmailVerification, time.Hour)
	require.NoError(t, err)
	second, err := ledger.Issue(ctx, user.ID, auth.PurposeEmailVerification, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	assert.Equal(t, 1, f.countTokens(t, user.ID, auth.PurposeEmailVerification))

	_, err = ledger.Consume(ctx, first.Token, auth.PurposeEmailVerification)
	require.Error(t, err)
	assert.True(t, auth.IsVerificationNotFound(err))

	got, err := ledger.Consume(ctx, second.Token, auth.PurposeEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestVerificationLedger_PurposesAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "Alice", "alice@x.com", "555-0100")
	ledger := f.svc.Ledger()

	reset, err := ledger.Issue(ctx, user.ID, auth.PurposePasswordReset, time.Hour)
	require.NoError(t, err)

	// the registration token is still there
	assert.Equal(t, 1, f.countTokens(t, user.ID, auth.PurposeEmailVerification))
	assert.Equal(t, 1, f.countTokens(t, user.ID, auth.PurposePasswordReset))

	// a reset token cannot verify an email
	_, err = ledger.Consume(ctx, reset.Token, auth.PurposeEmailVerification)
	assert.True(t, auth.IsVerificationNotFound(err))
	assert.Equal(t, 1, f.countTokens(t, user.ID, auth.PurposePasswordReset))
}

func TestVerificationLedger_ConsumeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "Alice", "alice@x.com", "555-0100")

	token := f.notifier.last("verify", user.Email)
	require.NotEmpty(t, token)

	_, err := f.svc.Ledger().Consume(ctx, token, auth.PurposeEmailVerification)
	require.NoError(t, err)

	_, err = f.svc.Ledger().Consume(ctx, token, auth.PurposeEmailVerification)
	require.Error(t, err)
	assert.Equal(t, auth.KindNotFound, auth.KindOf(err))

	_, err = f.svc.Ledger().Consume(ctx, "", auth.PurposeEmailVerification)
	assert.True(t, auth.IsVerificationNotFound(err))
}

func TestVerificationLedger_ConcurrentConsumeHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "Alice", "alice@x.com", "555-0100")

	token := f.notifier.last("verify", user.Email)
	require.NotEmpty(t, token)

	const consumers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		notFound int
		other    []error
	)
	start := make(chan struct{})
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			got, err := f.svc.Ledger().Consume(ctx, token, auth.PurposeEmailVerification)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && got.ID == user.ID:
				won++
			case auth.IsVerificationNotFound(err):
				notFound++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, won)
	assert.Equal(t, consumers-1, notFound)
	assert.Equal(t, 0, f.countTokens(t, user.ID, ""))
}

func TestVerificationLedger_ConcurrentIssueKeepsOneRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "Alice", "alice@x.com", "555-0100")

	const issuers = 16
	var wg sync.WaitGroup
	tokens := make([]*auth.VerificationToken, issuers)
	errs := make([]error, issuers)
	start := make(chan struct{})
	for i := 0; i < issuers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tokens[i], errs[i] = f.svc.Ledger().Issue(ctx, user.ID, auth.PurposePasswordReset, time.Hour)
		}(i)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.countTokens(t, user.ID, auth.PurposePasswordReset))
	assert.Equal(t, 1, f.countTokens(t, user.ID, auth.PurposeEmailVerification))

	// only the last writer's token survives, every other one is dead
	accepted := 0
	for _, issued := range tokens {
		if _, err := f.svc.Ledger().Consume(ctx, issued.Token, auth.PurposePasswordReset); err == nil {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestVerificationLedger_ExpiredTokenIsDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "Alice", "alice@x.com", "555-0100")

	token, err := f.svc.Ledger().Issue(ctx, user.ID, auth.PurposeEmailVerification, time.Hour)
	require.NoError(t, err)

	f.clock.Advance(time.Hour + time.Second)

	_, err = f.svc.Ledger().Consume(ctx, token.Token, auth.PurposeEmailVerification)
	require.Error(t, err)
	assert.True(t, auth.IsVerificationExpired(err))
	assert.Equal(t, auth.KindBadRequest, auth.KindOf(err))

	assert.Equal(t, 0, f.countTokens(t, user.ID, ""))

	_, err = f.svc.Ledger().Consume(ctx, token.Token, auth.PurposeEmailVerification)
	assert.True(t, auth.IsVerificationNotFound(err))
}

func TestVerificationLedger_PurgeExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "Alice", "alice@x.com", "555-0100")
	bob := f.register(t, "Bob", "bob@x.com", "555-0200")

	_, err := f.svc.Ledger().Issue(ctx, alice.ID, auth.PurposePasswordReset, time.Minute)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.Ledger().Issue(ctx, bob.ID, auth.PurposePasswordReset, time.Hour)
	require.NoError(t, err)

	n, err := f.svc.Ledger().PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, 0, f.countTokens(t, alice.ID, auth.PurposePasswordReset))
	assert.Equal(t, 1, f.countTokens(t, bob.ID, auth.PurposePasswordReset))
	// registration tokens live 24h
	assert.Equal(t, 1, f.countTokens(t, alice.ID, auth.PurposeEmailVerification))
}

func TestVerificationLedger_RevokeAllForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "Alice", "alice@x.com", "555-0100")

	_, err := f.svc.Ledger().Issue(ctx, user.ID, auth.PurposePasswordReset, time.Hour)
	require.NoError(t, err)

	n, err := f.svc.Ledger().RevokeAllForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 0, f.countTokens(t, user.ID, ""))
}

func TestVerificationLedger_IssueRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "Alice", "alice@x.com", "555-0100")

	_, err := f.svc.Ledger().Issue(ctx, user.ID, auth.PurposeEmailVerification, 0)
	assert.Error(t, err)

	_, err = f.svc.Ledger().Issue(ctx, user.ID, auth.TokenPurpose("INVITE"), time.Hour)
	assert.Error(t, err)

	_, err = f.svc.Ledger().Issue(ctx, 4242, auth.PurposeEmailVerification, time.Hour)
	require.Error(t, err)
	assert.Equal(t, auth.KindNotFound, auth.KindOf(err))
}

func TestVerificationLedger_CustomGenerator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "Alice", "alice@x.com", "555-0100")

	f.svc.WithLedgerOptions(auth.WithTokenGenerator(func() string { return "fixed-token" }))

	token, err := f.svc.Ledger().Issue(ctx, user.ID, auth.PurposePasswordReset, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "fixed-token", token.Token)
}
