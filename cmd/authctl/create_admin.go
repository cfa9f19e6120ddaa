package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	auth "github.com/goliatone/go-workorder-auth"
)

// readPassword is replaced in tests to avoid touching the terminal
var readPassword = func() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	pw, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// tokenCapture keeps the verification token so the account can be verified
// in place instead of mailing it.
type tokenCapture struct {
	mu    sync.Mutex
	token string
}

func (c *tokenCapture) SendVerificationEmail(_ context.Context, _, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *tokenCapture) SendWelcomeEmail(context.Context, string, string)       {}
func (c *tokenCapture) SendPasswordResetEmail(context.Context, string, string) {}

func (c *tokenCapture) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (a *app) createAdmin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	fs.SetOutput(a.out)
	email := fs.String("email", "", "admin email")
	phone := fs.String("phone", "", "admin phone number")
	first := fs.String("first", "Admin", "first name")
	last := fs.String("last", "User", "last name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprint(a.out, "Enter password: ")
	password, err := readPassword()
	fmt.Fprintln(a.out)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	svc, err := a.service()
	if err != nil {
		return err
	}
	capture := &tokenCapture{}
	svc.WithNotificationSender(capture)

	res, err := svc.Register(ctx, auth.RegisterUserMessage{
		FirstName: *first,
		LastName:  *last,
		Email:     *email,
		Phone:     *phone,
		Password:  password,
		Roles:     []string{string(auth.RoleAdmin), string(auth.RoleUser)},
	})
	if err != nil {
		return err
	}

	if _, err := svc.VerifyEmail(ctx, capture.get()); err != nil {
		return err
	}

	actor := auth.PrincipalFromUser(res.User)
	if _, err := svc.UserManager().VerifyAccount(ctx, actor, res.User.ID); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "created admin %s (id %d)\n", res.User.Email, res.User.ID)
	return nil
}
