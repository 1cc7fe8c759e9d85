// Package identity resolves who the local user is: an ephemeral guest or a
// stored account.
package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"quiz-squad/internal/domain"
)

// ProfileStore is the slice of the profile store the provider needs.
type ProfileStore interface {
	FetchProfile(ctx context.Context, id string) (domain.Profile, error)
	UpsertProfile(ctx context.Context, p domain.Profile) (domain.Profile, error)
}

// Provider holds the local identity. Current is synchronous and never blocks
// on the network.
type Provider struct {
	store ProfileStore

	mu      sync.RWMutex
	current *domain.Identity
}

// NewProvider accepts a nil store; accounts are then unavailable.
func NewProvider(store ProfileStore) *Provider {
	return &Provider{store: store}
}

// Current returns the signed-in identity, if any.
func (p *Provider) Current() (domain.Identity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return domain.Identity{}, false
	}
	return *p.current, true
}

// SignInGuest creates an ephemeral identity with a fresh id.
func (p *Provider) SignInGuest(name, avatar string) domain.Identity {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Sobrevivente"
	}
	id := domain.Identity{
		ID:     "guest-" + uuid.NewString(),
		Name:   name,
		Avatar: avatar,
		Guest:  true,
	}
	p.set(id)
	return id
}

// SignIn resolves an existing account by id.
func (p *Provider) SignIn(ctx context.Context, accountID string) (domain.Identity, error) {
	if p.store == nil {
		return domain.Identity{}, domain.ErrSetupRequired
	}
	profile, err := p.store.FetchProfile(ctx, accountID)
	if err != nil {
		return domain.Identity{}, err
	}
	id := domain.Identity{ID: profile.ID, Name: profile.Name, Avatar: profile.Avatar}
	p.set(id)
	return id, nil
}

// Register stores a new account profile and signs in as it.
func (p *Provider) Register(ctx context.Context, name, avatar string) (domain.Identity, error) {
	if p.store == nil {
		return domain.Identity{}, domain.ErrSetupRequired
	}
	profile, err := p.store.UpsertProfile(ctx, domain.Profile{ID: uuid.NewString(), Name: strings.TrimSpace(name), Avatar: avatar})
	if err != nil {
		return domain.Identity{}, err
	}
	id := domain.Identity{ID: profile.ID, Name: profile.Name, Avatar: profile.Avatar}
	p.set(id)
	return id, nil
}

// UpdateProfile renames the current identity. Accounts are persisted;
// guests only change locally.
func (p *Provider) UpdateProfile(ctx context.Context, name, avatar string) (domain.Identity, error) {
	cur, ok := p.Current()
	if !ok {
		return domain.Identity{}, domain.ErrNoIdentity
	}
	cur.Name = strings.TrimSpace(name)
	cur.Avatar = avatar
	if !cur.Guest && p.store != nil {
		if _, err := p.store.UpsertProfile(ctx, domain.Profile{ID: cur.ID, Name: cur.Name, Avatar: cur.Avatar}); err != nil {
			return domain.Identity{}, err
		}
	}
	p.set(cur)
	return cur, nil
}

func (p *Provider) SignOut() {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
}

func (p *Provider) set(id domain.Identity) {
	p.mu.Lock()
	p.current = &id
	p.mu.Unlock()
}
