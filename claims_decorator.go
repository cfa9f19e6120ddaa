package auth

import "context"

// ClaimsDecorator can mutate allowed JWT claim extensions before an access
// token is signed. Implementations may only touch Metadata and must leave
// sub, uid, roles and typ untouched.
type ClaimsDecorator interface {
	Decorate(ctx context.Context, user *User, claims *JWTClaims) error
}

// ClaimsDecoratorFunc adapts a function into a ClaimsDecorator.
type ClaimsDecoratorFunc func(ctx context.Context, user *User, claims *JWTClaims) error

// Decorate satisfies the ClaimsDecorator interface.
func (f ClaimsDecoratorFunc) Decorate(ctx context.Context, user *User, claims *JWTClaims) error {
	if f == nil {
		return nil
	}
	return f(ctx, user, claims)
}

type noopClaimsDecorator struct{}

func (noopClaimsDecorator) Decorate(context.Context, *User, *JWTClaims) error {
	return nil
}

func normalizeClaimsDecorator(d ClaimsDecorator) ClaimsDecorator {
	if d == nil {
		return noopClaimsDecorator{}
	}
	return d
}

// decorateClaims runs d and rejects any change to the identity claims
func decorateClaims(ctx context.Context, d ClaimsDecorator, user *User, claims *JWTClaims) error {
	snap := captureImmutableClaims(claims)
	if err := d.Decorate(ctx, user, claims); err != nil {
		return err
	}
	return snap.validate(claims)
}
