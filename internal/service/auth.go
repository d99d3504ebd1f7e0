package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/xiaot623/gogo/chatroom/internal/domain"
	"github.com/xiaot623/gogo/chatroom/internal/observability"
	"github.com/xiaot623/gogo/chatroom/internal/repository"
)

const adminSubject = "admin"

// AccessControl hashes and verifies passwords and issues admin tokens.
type AccessControl struct {
	store      repository.Store
	cost       int
	signingKey []byte

	mu     sync.RWMutex
	tokens map[string]time.Time // jti -> issued at

	log *slog.Logger
}

// NewAccessControl creates an AccessControl with a fresh per-process signing key.
func NewAccessControl(store repository.Store, cost int) (*AccessControl, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &AccessControl{
		store:      store,
		cost:       cost,
		signingKey: key,
		tokens:     make(map[string]time.Time),
		log:        observability.WithComponent("access"),
	}, nil
}

// HashPassword returns a bcrypt hash of password.
func (a *AccessControl) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks password against hash. An empty hash always verifies.
// Both bcrypt hashes and legacy unsalted SHA-256 hex digests are accepted.
func (a *AccessControl) VerifyPassword(hash, password string) bool {
	if hash == "" {
		return true
	}
	if strings.HasPrefix(hash, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(LegacyHash(password)), []byte(strings.ToLower(hash))) == 1
}

// LegacyHash returns the unsalted SHA-256 hex digest used by older data files.
func LegacyHash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// SetAdminPassword replaces the stored admin credential.
func (a *AccessControl) SetAdminPassword(ctx context.Context, password string) error {
	if password == "" {
		return fmt.Errorf("admin password is required: %w", domain.ErrMalformed)
	}
	hash, err := a.HashPassword(password)
	if err != nil {
		return err
	}
	if err := a.store.PutDocument(ctx, repository.CollectionSettings, repository.KeyAdminPassword, []byte(hash)); err != nil {
		return fmt.Errorf("failed to store admin password: %w", err)
	}
	a.log.Info("admin password updated")
	return nil
}

// HasAdminPassword reports whether an admin credential is stored.
func (a *AccessControl) HasAdminPassword(ctx context.Context) (bool, error) {
	hash, err := a.adminHash(ctx)
	return hash != "", err
}

// VerifyAdminPassword checks password against the stored admin credential.
// Without a stored credential admin login is impossible.
func (a *AccessControl) VerifyAdminPassword(ctx context.Context, password string) (bool, error) {
	hash, err := a.adminHash(ctx)
	if err != nil || hash == "" {
		return false, err
	}
	return a.VerifyPassword(hash, password), nil
}

func (a *AccessControl) adminHash(ctx context.Context) (string, error) {
	body, err := a.store.GetDocument(ctx, repository.CollectionSettings, repository.KeyAdminPassword)
	if err != nil {
		return "", fmt.Errorf("failed to load admin password: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

// GenerateAdminToken issues a signed admin token and records it as authorized.
func (a *AccessControl) GenerateAdminToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:       uuid.New().String(),
		Subject:  adminSubject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	a.mu.Lock()
	a.tokens[claims.ID] = now
	a.mu.Unlock()
	return token, nil
}

// VerifyAdminToken reports whether token was issued by this process and not revoked.
func (a *AccessControl) VerifyAdminToken(token string) bool {
	id, err := a.tokenID(token)
	if err != nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.tokens[id]
	return ok
}

// RevokeAdminToken invalidates token. It reports whether the token was live.
func (a *AccessControl) RevokeAdminToken(token string) bool {
	id, err := a.tokenID(token)
	if err != nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tokens[id]; !ok {
		return false
	}
	delete(a.tokens, id)
	return true
}

func (a *AccessControl) tokenID(token string) (string, error) {
	if token == "" {
		return "", domain.ErrUnauthorized
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", errors.Join(domain.ErrUnauthorized, err)
	}
	if claims.Subject != adminSubject || claims.ID == "" {
		return "", domain.ErrUnauthorized
	}
	return claims.ID, nil
}
