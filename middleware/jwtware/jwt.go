package jwtware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goliatone/go-router"

	auth "github.com/goliatone/go-workorder-auth"
)

var (
	defaultTokenLookup       = "header:" + router.HeaderAuthorization
	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")
)

// TokenValidator validates a raw token into claims, *auth.TokenCodec
// satisfies it.
type TokenValidator interface {
	Validate(tokenString string) (*auth.JWTClaims, error)
}

// ErrorHandler renders a rejected request
type ErrorHandler func(router.Context, error) error

// ValidationListener is invoked after a token has been validated but before authorization checks.
type ValidationListener func(ctx router.Context, claims *auth.JWTClaims) error

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   ErrorHandler
	ContextKey     string
	TokenLookup    string
	AuthScheme     string
	// TokenValidator is required for token validation
	TokenValidator TokenValidator

	// RequiredRole specifies a role that must be present
	RequiredRole auth.RoleName
	// AllowRefreshTokens admits refresh tokens, only access tokens pass by default
	AllowRefreshTokens bool

	// ContextEnricher propagates the principal to the standard Go context.
	// auth.WithPrincipal is used when nil.
	ContextEnricher func(c context.Context, claims *auth.JWTClaims) context.Context

	// ValidationListeners are invoked after token validation succeeds.
	ValidationListeners []ValidationListener
}

func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	extractors := cfg.getExtractors()

	return func(next router.HandlerFunc) router.HandlerFunc {
		success := cfg.SuccessHandler
		if success == nil {
			success = next
		}

		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return next(ctx)
			}

			raw, err := ExtractRawTokenFromContext(ctx, extractors)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			claims, err := cfg.TokenValidator.Validate(raw)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if !cfg.AllowRefreshTokens && claims.TokenType() != auth.AccessToken {
				return cfg.ErrorHandler(ctx, auth.ErrInvalidToken)
			}

			if err := cfg.runValidationListeners(ctx, claims); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			principal := auth.PrincipalFromClaims(claims)
			if cfg.RequiredRole != "" && !auth.Decide(principal, auth.RequireRole(cfg.RequiredRole)) {
				return cfg.ErrorHandler(ctx, auth.ErrInsufficientPrivilege)
			}

			ctx.Set(cfg.ContextKey, claims)

			stdCtx := auth.WithPrincipal(ctx.Context(), principal)
			stdCtx = auth.WithClaimsContext(stdCtx, claims)
			if cfg.ContextEnricher != nil {
				stdCtx = cfg.ContextEnricher(stdCtx, claims)
			}
			ctx.SetContext(stdCtx)

			return success(ctx)
		}
	}
}

// RequireRole guards a route already behind New
func RequireRole(role auth.RoleName, errorHandler ...ErrorHandler) router.MiddlewareFunc {
	onError := defaultErrorHandler
	if len(errorHandler) > 0 && errorHandler[0] != nil {
		onError = errorHandler[0]
	}
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if !auth.Can(ctx.Context(), auth.RequireRole(role)) {
				return onError(ctx, auth.ErrInsufficientPrivilege)
			}
			return next(ctx)
		}
	}
}

// ClaimsFromContext returns the claims New stored under key
func ClaimsFromContext(ctx router.Context, key string) (*auth.JWTClaims, bool) {
	if key == "" {
		key = "user"
	}
	claims, ok := ctx.Get(key, nil).(*auth.JWTClaims)
	return claims, ok && claims != nil
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []JWTExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	if cfg.TokenValidator == nil {
		panic("AUTH: JWT middleware configuration: TokenValidator is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return cfg
}

func defaultErrorHandler(ctx router.Context, err error) error {
	if errors.Is(err, ErrJWTMissingOrMalformed) {
		return ctx.Status(http.StatusUnauthorized).Send([]byte(ErrJWTMissingOrMalformed.Error()))
	}
	if auth.KindOf(err) == auth.KindForbidden {
		return ctx.Status(http.StatusForbidden).Send([]byte("Insufficient privilege"))
	}
	return ctx.Status(http.StatusUnauthorized).Send([]byte("Invalid or expired token"))
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(ctx router.Context, claims *auth.JWTClaims) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(ctx, claims); err != nil {
			return err
		}
	}
	return nil
}

func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = strings.TrimSpace(authSchemes[0])
	}

	// header:Authorization,cookie:jwt,query:auth_token,param:token
	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}
		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, jwtFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, jwtFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(parts[1]))
		}
	}

	return extractors
}

type JWTExtractor func(ctx router.Context) (string, error)

// jwtFromHeader returns a function that extracts token from the request header.
func jwtFromHeader(header string, authScheme string) JWTExtractor {
	return func(ctx router.Context) (string, error) {
		a := ctx.Header(header)
		l := len(authScheme)
		if l == 0 {
			return "", ErrJWTMissingOrMalformed
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

// jwtFromQuery returns a function that extracts token from the query string.
func jwtFromQuery(param string) JWTExtractor {
	return func(ctx router.Context) (string, error) {
		token := ctx.Query(param, "")
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromParam returns a function that extracts token from the url param string.
func jwtFromParam(param string) JWTExtractor {
	return func(ctx router.Context) (string, error) {
		token := ctx.Param(param, "")
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromCookie returns a function that extracts token from the named cookie.
// router.Context has no cookie accessor, the Cookie header is parsed instead.
func jwtFromCookie(name string) JWTExtractor {
	return func(ctx router.Context) (string, error) {
		cookies, err := http.ParseCookie(ctx.Header("Cookie"))
		if err != nil {
			return "", ErrJWTMissingOrMalformed
		}
		for _, cookie := range cookies {
			if cookie.Name == name && cookie.Value != "" {
				return cookie.Value, nil
			}
		}
		return "", ErrJWTMissingOrMalformed
	}
}
