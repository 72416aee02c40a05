package ports

import (
	"context"

	"github.com/layer-3/otpgate/core"
)

// IdentityStore owns account records. Users and sellers live in separate namespaces.
type IdentityStore interface {
	Exists(ctx context.Context, role, email string) (bool, error)
	Lookup(ctx context.Context, role, email string) (*core.Account, error)
	LookupByID(ctx context.Context, role, id string) (*core.Account, error)
	Create(ctx context.Context, account *core.Account) error
	UpdatePassword(ctx context.Context, role, email, passwordHash string) error
}

// PasswordHasher wraps a slow password hash
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}
