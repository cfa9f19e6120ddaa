// Package auth implements the authentication and authorization engine of
// the work-order tracker: credential checks, stateless access/refresh tokens,
// single-use verification tokens and the role/permission model that gates
// every operation.
//
// Tokens:
//   - TokenCodec signs HS256 JWTs with a key injected at construction. Access
//     tokens carry the user id and role names, refresh tokens only the subject.
//     Tokens are never looked up after issuance, there is no revocation list.
//
// Verification ledger:
//   - VerificationLedger stores opaque tokens tied to a user and a purpose.
//     Issuing replaces every outstanding token of the same purpose inside one
//     transaction and consuming deletes the row, so a token is accepted at
//     most once.
//
// Authorization:
//   - AuthoritiesOf, IsSelfOrRole, CanDeleteRole and CanDeletePermission are
//     pure functions over loaded records. Service.Authorize applies them to a
//     Principal built from a validated access token.
//
// Activity sinks:
//   - ActivitySink receives login, registration, verification, password reset
//     and role deletion events. Sinks run best-effort (errors are logged).
//
// Claims decoration:
//   - ClaimsDecorator is invoked before access tokens are signed. Decorators may
//     enrich Metadata while protected claims (sub, uid, roles, typ, exp, etc.)
//     remain immutable.
package auth
