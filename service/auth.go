package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/nawapolsungjun/borrow-it/apperr"
	"github.com/nawapolsungjun/borrow-it/logger"
	"github.com/nawapolsungjun/borrow-it/models"
	"github.com/nawapolsungjun/borrow-it/store"

	"golang.org/x/crypto/bcrypt"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 64
	minPasswordLen = 6
	// bcrypt ignores anything past 72 bytes
	maxPasswordLen = 72
)

var errBadCredentials = apperr.Unauthorized("invalid username or password")

// AuthService checks who someone is. Issuing tokens is left to the caller.
type AuthService struct {
	store store.Store
	cost  int
}

func NewAuthService(s store.Store) *AuthService {
	return &AuthService{store: s, cost: bcrypt.DefaultCost}
}

// WithCost is for tests, where DefaultCost makes every hash take ~50ms.
func (s *AuthService) WithCost(cost int) *AuthService {
	s.cost = cost
	return s
}

func normalizeUsername(u string) string { return strings.TrimSpace(u) }

func validateCredentials(username, password string) error {
	n := utf8.RuneCountInString(username)
	if n < minUsernameLen || n > maxUsernameLen {
		return apperr.Validation("username must be 3-64 characters")
	}
	if len(password) < minPasswordLen {
		return apperr.Validation("password must be at least 6 characters")
	}
	if len(password) > maxPasswordLen {
		return apperr.Validation("password must be at most 72 bytes")
	}
	return nil
}

// Register creates a USER account. Admin accounts only come from Bootstrap.
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.User, error) {
	return s.create(ctx, normalizeUsername(username), password, models.RoleUser)
}

func (s *AuthService) create(ctx context.Context, username, password string, role models.Role) (*models.User, error) {
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	u := &models.User{Username: username, PasswordHash: string(hash), Role: role}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, apperr.Conflict("username already taken")
		}
		return nil, err
	}
	logger.Log.Infow("user registered", "user_id", u.ID, "username", u.Username, "role", u.Role)
	return u, nil
}

// Login verifies a password. Unknown user and wrong password are
// indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, username, password, ip, ua string) (*models.User, error) {
	username = normalizeUsername(username)
	if username == "" || password == "" {
		return nil, apperr.Validation("username and password are required")
	}
	u, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, errBadCredentials
		}
		return nil, err
	}
	if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		logger.Log.Debugw("login rejected", "username", username, "ip", ip)
		return nil, errBadCredentials
	}
	s.RecordLogin(ctx, u.ID, ip, ua)
	return u, nil
}

// RecordLogin bumps the login counters. Failures are logged, not returned.
func (s *AuthService) RecordLogin(ctx context.Context, userID uint, ip, ua string) {
	if err := s.store.TouchUserLogin(ctx, userID, ip, truncate(ua, 255)); err != nil {
		logger.Log.Warnw("touch login failed", "user_id", userID, "err", err)
	}
}

// Identify re-reads the user so a deleted account or role change takes
// effect on the next request.
func (s *AuthService) Identify(ctx context.Context, userID uint) (models.Identity, error) {
	u, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.Identity{}, apperr.Unauthorized("unauthorized")
		}
		return models.Identity{}, err
	}
	return models.Identity{UserID: u.ID, Username: u.Username, Role: u.Role}, nil
}

// BootstrapAdmin makes sure the named admin exists. An existing account
// with that name is left alone, whatever its role.
func (s *AuthService) BootstrapAdmin(ctx context.Context, username, password string) (*models.User, bool, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, false, nil
	}
	if u, err := s.store.FindUserByUsername(ctx, username); err == nil {
		return u, false, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, err
	}
	u, err := s.create(ctx, username, password, models.RoleAdmin)
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
