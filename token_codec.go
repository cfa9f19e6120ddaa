package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenCodec signs and validates HS256 bearer tokens. It holds no mutable
// state after construction and is safe for concurrent use.
type TokenCodec struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	now        func() time.Time
	logger     Logger
}

// TokenCodecOption configures a TokenCodec
type TokenCodecOption func(*TokenCodec)

// WithCodecClock overrides the clock used for iat, exp and validation
func WithCodecClock(now func() time.Time) TokenCodecOption {
	return func(tc *TokenCodec) {
		if now != nil {
			tc.now = now
		}
	}
}

// WithCodecLogger sets the logger used for validation failures
func WithCodecLogger(logger Logger) TokenCodecOption {
	return func(tc *TokenCodec) {
		tc.logger = normalizeLogger(logger)
	}
}

// WithCodecIssuer sets the iss claim, validated when non empty
func WithCodecIssuer(issuer string) TokenCodecOption {
	return func(tc *TokenCodec) {
		tc.issuer = issuer
	}
}

// WithCodecAudience sets the aud claim, validated when non empty
func WithCodecAudience(audience ...string) TokenCodecOption {
	return func(tc *TokenCodec) {
		tc.audience = append(jwt.ClaimStrings(nil), audience...)
	}
}

// NewTokenCodec creates a codec with a private copy of signingKey
func NewTokenCodec(signingKey []byte, opts ...TokenCodecOption) (*TokenCodec, error) {
	if len(signingKey) == 0 {
		return nil, goerrors.New("signing key must not be empty", goerrors.CategoryInternal)
	}

	tc := &TokenCodec{
		signingKey: append([]byte(nil), signingKey...),
		now:        time.Now,
		logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(tc)
		}
	}

	return tc, nil
}

// NewTokenCodecFromConfig builds a codec from the configured key, issuer and audience
func NewTokenCodecFromConfig(cfg Config, opts ...TokenCodecOption) (*TokenCodec, error) {
	base := []TokenCodecOption{
		WithCodecIssuer(cfg.GetIssuer()),
		WithCodecAudience(cfg.GetAudience()...),
	}
	return NewTokenCodec(cfg.GetSigningKey(), append(base, opts...)...)
}

// Issue signs a token for subject expiring ttl from now
func (tc *TokenCodec) Issue(subject string, ttl time.Duration) (string, error) {
	return tc.Sign(&JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}, ttl)
}

// Sign fills the registered claims (iss, aud, iat, exp, jti) and signs claims
func (tc *TokenCodec) Sign(claims *JWTClaims, ttl time.Duration) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	if ttl <= 0 {
		return "", goerrors.New("token ttl must be positive", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"ttl": ttl.String()})
	}

	// NumericDate is serialized in whole seconds, exp must match what is signed
	now := tc.now().Truncate(time.Second)
	registered := &claims.RegisteredClaims
	registered.Issuer = tc.issuer
	if len(tc.audience) > 0 {
		registered.Audience = append(jwt.ClaimStrings(nil), tc.audience...)
	}
	registered.IssuedAt = jwt.NewNumericDate(now)
	registered.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	ensureTokenID(&claims.RegisteredClaims)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(tc.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate checks signature and expiry and returns the claims. Every failure
// is ErrInvalidToken, TokenErrorReason tells the cause.
func (tc *TokenCodec) Validate(tokenString string) (*JWTClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(tc.now),
		jwt.WithExpirationRequired(),
	}
	if tc.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(tc.issuer))
	}
	if len(tc.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(tc.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tc.signingKey, nil
	}, parserOptions...)

	if err != nil {
		return nil, tc.invalid(err, tokenFailureReason(err))
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, tc.invalid(ErrInvalidToken, TokenMalformed)
	}

	return claims, nil
}

func (tc *TokenCodec) invalid(cause error, reason InvalidTokenReason) error {
	tc.logger.Debug("token validation failed", "reason", reason, "error", cause)
	out := withMeta(ErrInvalidToken, map[string]any{"reason": reason})
	out.Source = cause
	return out
}

func tokenFailureReason(err error) InvalidTokenReason {
	switch {
	case goerrors.Is(err, jwt.ErrTokenExpired):
		return TokenExpired
	case goerrors.Is(err, jwt.ErrTokenSignatureInvalid):
		return TokenBadSignature
	case goerrors.Is(err, jwt.ErrTokenUnverifiable):
		return TokenUnsupported
	default:
		return TokenMalformed
	}
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
