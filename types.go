package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Logger is satisfied by *slog.Logger. Arguments are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds auth options. Values are read once at construction.
type Config interface {
	GetSigningKey() []byte
	GetIssuer() string
	GetAudience() []string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetVerificationTokenTTL() time.Duration
	GetPasswordResetTokenTTL() time.Duration
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// NotificationSender delivers account emails. Calls must not block on
// delivery and failures are never reported back to the caller.
type NotificationSender interface {
	SendVerificationEmail(ctx context.Context, address, token string)
	SendWelcomeEmail(ctx context.Context, address, firstName string)
	SendPasswordResetEmail(ctx context.Context, address, token string)
}

type noopNotifier struct {
	logger Logger
}

func (n noopNotifier) SendVerificationEmail(_ context.Context, address, _ string) {
	n.logger.Debug("notification sender not configured, dropping verification email", "to", address)
}

func (n noopNotifier) SendWelcomeEmail(_ context.Context, address, _ string) {
	n.logger.Debug("notification sender not configured, dropping welcome email", "to", address)
}

func (n noopNotifier) SendPasswordResetEmail(_ context.Context, address, _ string) {
	n.logger.Debug("notification sender not configured, dropping password reset email", "to", address)
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print(format("[ERR] AUTH ", msg, args))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print(format("[WRN] AUTH ", msg, args))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print(format("[INF] AUTH ", msg, args))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print(format("[DBG] AUTH ", msg, args))
}

func format(prefix, msg string, args []any) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(msg)
	for i := 0; i < len(args); i++ {
		if attr, ok := args[i].(slog.Attr); ok {
			fmt.Fprintf(&b, " %s=%v", attr.Key, attr.Value)
			continue
		}
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			i++
			continue
		}
		fmt.Fprintf(&b, " %v", args[i])
	}
	b.WriteString("\n")
	return b.String()
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

// NewSlogLogger returns l as a Logger, slog.Default when l is nil
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
