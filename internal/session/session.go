// Package session signs users up and in against the users table and keeps
// the current session as a signed token on disk.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"chitieu/internal/core"
	"chitieu/internal/gateway"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
)

const (
	minPasswordLength = 6
	issuer            = "chitieu"
	DefaultTTL        = 7 * 24 * time.Hour
)

// Claims is the payload of a session token. The subject is the user id.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type Manager struct {
	gw     gateway.Gateway
	path   string
	secret []byte
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(gw gateway.Gateway, path string, secret []byte, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		gw:     gw,
		path:   path,
		secret: secret,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// SignUp registers a user and signs them in.
func (m *Manager) SignUp(ctx context.Context, email, password string) (core.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return core.User{}, err
	}
	if len(password) < minPasswordLength {
		return core.User{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return core.User{}, fmt.Errorf("hash password: %w", err)
	}

	row, err := m.gw.Insert(ctx, gateway.TableUsers, gateway.Row{"email": email})
	if err != nil {
		if errors.Is(err, gateway.ErrConstraint) {
			return core.User{}, ErrEmailTaken
		}
		return core.User{}, fmt.Errorf("sign up: %w", err)
	}
	u, err := gateway.DecodeAs[core.User](row)
	if err != nil {
		return core.User{}, fmt.Errorf("sign up: %w", err)
	}

	if _, err := m.gw.Insert(ctx, gateway.TableCredentials, gateway.Row{
		"user_id":       u.ID,
		"password_hash": string(hash),
	}); err != nil {
		// Without credentials the account is unusable; take it back.
		if _, delErr := m.gw.Delete(ctx, gateway.TableUsers, gateway.Eq("id", u.ID)); delErr != nil {
			m.logger.ErrorContext(ctx, "Orphaned user after failed sign up", "user_id", u.ID, "error", delErr)
		}
		return core.User{}, fmt.Errorf("sign up: store credentials: %w", err)
	}

	m.logger.InfoContext(ctx, "User signed up", "user_id", u.ID)
	return u, m.save(u)
}

// SignIn checks the password and starts a session.
func (m *Manager) SignIn(ctx context.Context, email, password string) (core.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return core.User{}, ErrInvalidCredentials
	}
	rows, err := m.gw.Query(ctx, gateway.Query{
		Table:  gateway.TableUsers,
		Filter: gateway.Eq("email", email),
		Limit:  1,
	})
	if err != nil {
		return core.User{}, fmt.Errorf("sign in: %w", err)
	}
	if len(rows) == 0 {
		return core.User{}, ErrInvalidCredentials
	}
	u, err := gateway.DecodeAs[core.User](rows[0])
	if err != nil {
		return core.User{}, fmt.Errorf("sign in: %w", err)
	}

	creds, err := m.gw.Query(ctx, gateway.Query{
		Table:  gateway.TableCredentials,
		Filter: gateway.Eq("user_id", u.ID),
		Limit:  1,
	})
	if err != nil {
		return core.User{}, fmt.Errorf("sign in: %w", err)
	}
	if len(creds) == 0 {
		return core.User{}, ErrInvalidCredentials
	}
	hash, _ := creds[0]["password_hash"].(string)
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		m.logger.WarnContext(ctx, "Sign in rejected", "user_id", u.ID)
		return core.User{}, ErrInvalidCredentials
	}

	m.logger.InfoContext(ctx, "User signed in", "user_id", u.ID)
	return u, m.save(u)
}

// SignOut ends the session. Signing out without a session is not an error.
func (m *Manager) SignOut() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// CurrentUser returns the signed-in user. A missing, tampered or expired
// session is gateway.ErrAuth.
func (m *Manager) CurrentUser() (core.User, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return core.User{}, fmt.Errorf("no session: %w", gateway.ErrAuth)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("read session: %w", err)
	}

	var claims Claims
	_, err = jwt.ParseWithClaims(strings.TrimSpace(string(data)), &claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return core.User{}, fmt.Errorf("session: %w: %v", gateway.ErrAuth, err)
	}
	return core.User{ID: claims.Subject, Email: claims.Email}, nil
}

func (m *Manager) save(u core.User) error {
	now := m.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	if err := os.WriteFile(m.path, []byte(signed+"\n"), 0600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
