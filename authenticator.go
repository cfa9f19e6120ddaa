package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/golang-jwt/jwt/v5"
)

// Profile is the denormalized user snapshot returned by login
type Profile struct {
	ID              int64     `json:"id"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone"`
	EmailVerified   bool      `json:"email_verified"`
	AccountVerified bool      `json:"account_verified"`
	CreatedAt       time.Time `json:"created_at"`
}

// ProfileOf copies the public fields of user
func ProfileOf(user *User) Profile {
	if user == nil {
		return Profile{}
	}
	return Profile{
		ID:              user.ID,
		FirstName:       user.FirstName,
		LastName:        user.LastName,
		Email:           user.Email,
		Phone:           user.Phone,
		EmailVerified:   user.EmailVerified,
		AccountVerified: user.AccountVerified,
		CreatedAt:       user.CreatedAt,
	}
}

// LoginResult is returned by a successful login
type LoginResult struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	Profile      Profile   `json:"profile"`
	Roles        []string  `json:"roles"`
}

// RefreshResult carries the new access token and the unchanged refresh token
type RefreshResult struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

const bearerTokenType = "Bearer"

// Login resolves identifier as an email, then as a phone, and checks the
// password. Unknown identifiers and wrong passwords fail the same way.
func (s *Service) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	select {
	case <-ctx.Done():
		return nil, cancelledError(ctx, "login")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user, err := s.repo.Users().GetByIdentifier(ctx, identifier)
	if err != nil {
		if !HasTextCode(err, TextCodeUserNotFound) {
			return nil, s.fail("login", err)
		}
		// burn one comparison so unknown identifiers cost the same as wrong passwords
		_ = s.hasher.ComparePasswordAndHash(password, s.dummyPasswordHash())
		s.loginFailed(ctx, 0, identifier, "unknown identifier")
		return nil, s.fail("login", ErrInvalidCredentials)
	}

	if err := s.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if !HasTextCode(err, goerrors.TextCodeInvalidCredentials) {
			return nil, s.fail("login", err)
		}
		s.loginFailed(ctx, user.ID, identifier, "password mismatch")
		return nil, s.fail("login", ErrInvalidCredentials)
	}

	access, expiresAt, err := s.issueAccessToken(ctx, user)
	if err != nil {
		return nil, s.fail("login", err)
	}

	refresh, err := s.issueRefreshToken(user)
	if err != nil {
		return nil, s.fail("login", err)
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType:  ActivityEventLoginSuccess,
		ActorID:    user.ID,
		UserID:     user.ID,
		OccurredAt: s.now().UTC(),
	})
	s.logger.Info("user logged in", "user_id", user.ID)

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    bearerTokenType,
		ExpiresAt:    expiresAt,
		Profile:      ProfileOf(user),
		Roles:        AuthoritiesOf(user),
	}, nil
}

func (s *Service) loginFailed(ctx context.Context, userID int64, identifier, reason string) {
	s.logger.Info("login rejected", "user_id", userID, "reason", reason)
	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		UserID:    userID,
		Metadata: map[string]any{
			"identifier": identifier,
			"reason":     reason,
		},
		OccurredAt: s.now().UTC(),
	})
}

// Refresh validates a refresh token and mints a new access token for its
// subject. Every failure is ErrRefreshDenied. The refresh token is returned
// unchanged.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	select {
	case <-ctx.Done():
		return nil, cancelledError(ctx, "token refresh")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	claims, err := s.codec.Validate(refreshToken)
	if err != nil {
		s.logger.Info("refresh rejected", "reason", TokenErrorReason(err))
		return nil, s.fail("refresh", withMeta(ErrRefreshDenied, map[string]any{"reason": TokenErrorReason(err)}))
	}

	if claims.TokenType() != RefreshToken {
		s.logger.Info("refresh rejected", "reason", "not a refresh token", "typ", claims.TokenType())
		return nil, s.fail("refresh", ErrRefreshDenied)
	}

	user, err := s.repo.Users().GetByEmail(ctx, claims.Subject())
	if err != nil {
		if HasTextCode(err, TextCodeUserNotFound) {
			s.logger.Warn("refresh token subject no longer exists", "subject", claims.Subject())
			return nil, s.fail("refresh", ErrRefreshDenied)
		}
		return nil, s.fail("refresh", err)
	}

	access, expiresAt, err := s.issueAccessToken(ctx, user)
	if err != nil {
		return nil, s.fail("refresh", err)
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType:  ActivityEventTokenRefreshed,
		ActorID:    user.ID,
		UserID:     user.ID,
		OccurredAt: s.now().UTC(),
	})

	return &RefreshResult{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    bearerTokenType,
		ExpiresAt:    expiresAt,
	}, nil
}

// Authorize answers whether principal satisfies req. It performs no I/O.
func (s *Service) Authorize(principal Principal, req AccessRequirement) bool {
	return Decide(principal, req)
}

// PrincipalFromToken validates an access token and returns the principal it
// carries. Refresh tokens are rejected.
func (s *Service) PrincipalFromToken(token string) (Principal, error) {
	claims, err := s.codec.Validate(token)
	if err != nil {
		return Principal{}, err
	}
	if claims.TokenType() != AccessToken {
		return Principal{}, withMeta(ErrInvalidToken, map[string]any{"reason": TokenUnsupported})
	}
	return PrincipalFromClaims(claims), nil
}

func (s *Service) issueAccessToken(ctx context.Context, user *User) (string, time.Time, error) {
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.Email},
		UID:              user.ID,
		Roles:            AuthoritiesOf(user),
		Type:             AccessToken,
	}

	if err := decorateClaims(ctx, s.decorator, user, claims); err != nil {
		return "", time.Time{}, err
	}

	token, err := s.codec.Sign(claims, s.ttl.access)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.Expires(), nil
}

func (s *Service) issueRefreshToken(user *User) (string, error) {
	return s.codec.Sign(&JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.Email},
		UID:              user.ID,
		Type:             RefreshToken,
	}, s.ttl.refresh)
}
