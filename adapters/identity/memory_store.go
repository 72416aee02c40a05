package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/otpgate/core"
)

// MemoryStore is an in-memory IdentityStore for development and tests
type MemoryStore struct {
	accounts map[string]*core.Account // role + "|" + email
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*core.Account)}
}

func accountKey(role, email string) string {
	return role + "|" + strings.ToLower(email)
}

func (s *MemoryStore) Exists(ctx context.Context, role, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.accounts[accountKey(role, email)]
	return ok, nil
}

func (s *MemoryStore) Lookup(ctx context.Context, role, email string) (*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountKey(role, email)]
	if !ok {
		return nil, core.ErrIdentityNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) LookupByID(ctx context.Context, role, id string) (*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.ID == id && a.Role == role {
			cp := *a
			return &cp, nil
		}
	}
	return nil, core.ErrIdentityNotFound
}

// Create assigns an ID and creation time when missing
func (s *MemoryStore) Create(ctx context.Context, account *core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountKey(account.Role, account.Email)
	if _, ok := s.accounts[key]; ok {
		return core.ErrIdentityExists
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	cp := *account
	s.accounts[key] = &cp
	return nil
}

func (s *MemoryStore) UpdatePassword(ctx context.Context, role, email, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountKey(role, email)]
	if !ok {
		return core.ErrIdentityNotFound
	}
	a.PasswordHash = passwordHash
	return nil
}
