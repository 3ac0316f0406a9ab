package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/mindsync/internal/store"
	"github.com/vovakirdan/mindsync/internal/store/sqlite"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Service provides authentication operations.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// Register creates a new user with hashed password and returns a JWT token.
func (s *Service) Register(ctx context.Context, username, password, avatar string) (string, error) {
	username = strings.TrimSpace(username)
	if err := validateUsername(username); err != nil {
		return "", err
	}
	if len(password) < minPasswordLength {
		return "", ErrInvalidPassword
	}

	existing, err := s.store.GetUserByUsername(ctx, username)
	if err == nil && existing != nil {
		return "", ErrUserExists
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, username, hashedPassword, strings.TrimSpace(avatar))
	if err != nil {
		if errors.Is(err, sqlite.ErrUsernameTaken) {
			return "", ErrUserExists
		}
		return "", fmt.Errorf("create user: %w", err)
	}

	return s.issue(user)
}

// Login validates credentials and returns a JWT token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", ErrInvalidCredentials
	}

	if errPwd := ComparePassword(user.PasswordHash, password); errPwd != nil {
		return "", ErrInvalidCredentials
	}

	return s.issue(user)
}

// CreateGuest creates a guest identity and returns a JWT token. An empty
// username gets a generated one.
func (s *Service) CreateGuest(ctx context.Context, username string) (string, error) {
	username = strings.TrimSpace(username)
	if username != "" {
		if err := validateUsername(username); err != nil {
			return "", err
		}
	}

	user, err := s.store.CreateGuestUser(ctx, username)
	if err != nil {
		if errors.Is(err, sqlite.ErrUsernameTaken) {
			return "", ErrUserExists
		}
		return "", fmt.Errorf("create guest user: %w", err)
	}

	return s.issue(user)
}

// User looks up an account by id.
func (s *Service) User(ctx context.Context, userID string) (*store.User, error) {
	if s.store == nil {
		return nil, store.ErrNotFound
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

func (s *Service) issue(user *store.User) (string, error) {
	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username, user.Avatar, user.IsGuest)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

func validateUsername(username string) error {
	if len(username) < 3 || len(username) > 32 {
		return ErrInvalidUsername
	}
	return nil
}
