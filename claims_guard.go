package auth

import (
	"fmt"
	"slices"
)

type immutableClaimsSnapshot struct {
	subject   string
	uid       int64
	roles     []string
	tokenType TokenType
}

func captureImmutableClaims(claims *JWTClaims) immutableClaimsSnapshot {
	return immutableClaimsSnapshot{
		subject:   claims.RegisteredClaims.Subject,
		uid:       claims.UID,
		roles:     slices.Clone(claims.Roles),
		tokenType: claims.Type,
	}
}

func (snap immutableClaimsSnapshot) validate(claims *JWTClaims) error {
	if claims.RegisteredClaims.Subject != snap.subject {
		return immutableClaimViolation("sub")
	}

	if claims.UID != snap.uid {
		return immutableClaimViolation("uid")
	}

	if !slices.Equal(claims.Roles, snap.roles) {
		return immutableClaimViolation("roles")
	}

	if claims.Type != snap.tokenType {
		return immutableClaimViolation("typ")
	}

	return nil
}

func immutableClaimViolation(field string) error {
	clone := ErrImmutableClaimMutation.Clone()
	clone.Message = fmt.Sprintf("immutable claim mutated: %s", field)
	clone.Source = ErrImmutableClaimMutation
	return clone.WithMetadata(map[string]any{"claim": field})
}
