// Package directory resolves user ids to display identities.
//
// It is the messaging core's view of the external user/profile system:
// display data is borrowed by lookup for response enrichment only, never for
// authorization and never duplicated as a source of truth.
package directory

import (
	"context"
	"errors"
	"sync"
)

// ErrUnknownUser reports that no identity exists for the requested user id.
var ErrUnknownUser = errors.New("directory: unknown user")

// Identity is the display identity of a user.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

// Resolver looks up display identities.
type Resolver interface {
	// Resolve returns the identity for userID, or ErrUnknownUser.
	Resolve(ctx context.Context, userID string) (Identity, error)
}

// StaticResolver is an in-memory Resolver for dev and tests.
type StaticResolver struct {
	mu    sync.RWMutex
	users map[string]Identity
}

// NewStaticResolver constructs an empty StaticResolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{users: make(map[string]Identity)}
}

// Put registers or replaces an identity.
func (r *StaticResolver) Put(id Identity) {
	if id.UserID == "" {
		return
	}
	r.mu.Lock()
	r.users[id.UserID] = id
	r.mu.Unlock()
}

// Resolve returns the registered identity for userID.
func (r *StaticResolver) Resolve(ctx context.Context, userID string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	r.mu.RLock()
	id, ok := r.users[userID]
	r.mu.RUnlock()

	if !ok {
		return Identity{}, ErrUnknownUser
	}
	return id, nil
}
