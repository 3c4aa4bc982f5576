// Package authpw provides email/password accounts.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"canvas/api/internal/store"
)

var (
	ErrMissingCredentials = errors.New("email and password are required")
	ErrInvalidEmail       = errors.New("email address is not valid")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
)

const minPasswordLength = 8

// Service provides email/password authentication
type Service struct {
	users UserStore
	cost  int
}

// UserStore defines the storage interface for accounts
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.AuthUser, error)
	GetUserByID(ctx context.Context, id string) (store.AuthUser, error)
	CreateUser(ctx context.Context, email, passwordHash string) (store.AuthUser, error)
}

func NewService(users UserStore) *Service {
	return &Service{users: users, cost: bcrypt.DefaultCost}
}

// WithCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates an account. Accounts are usable immediately.
func (s *Service) SignUp(ctx context.Context, email, password string) (store.AuthUser, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return store.AuthUser{}, ErrMissingCredentials
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return store.AuthUser{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return store.AuthUser{}, ErrWeakPassword
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return store.AuthUser{}, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return store.AuthUser{}, fmt.Errorf("check email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return store.AuthUser{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, email, string(hash))
	if errors.Is(err, store.ErrConflict) {
		return store.AuthUser{}, ErrEmailTaken
	}
	if err != nil {
		return store.AuthUser{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user. Unknown e-mail and wrong password produce the
// same error.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.AuthUser, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return store.AuthUser{}, ErrMissingCredentials
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return store.AuthUser{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.AuthUser{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.AuthUser{}, ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) User(ctx context.Context, id string) (store.AuthUser, error) {
	return s.users.GetUserByID(ctx, id)
}
