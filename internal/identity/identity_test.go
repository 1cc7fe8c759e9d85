package identity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-squad/internal/domain"
	"quiz-squad/internal/infra/memory"
)

func TestGuestSession(t *testing.T) {
	p := NewProvider(nil)
	_, ok := p.Current()
	assert.False(t, ok)

	guest := p.SignInGuest("  Ana ", "🐺")
	assert.True(t, guest.Guest)
	assert.True(t, strings.HasPrefix(guest.ID, "guest-"))
	assert.Equal(t, "Ana", guest.Name)

	other := NewProvider(nil).SignInGuest("", "")
	assert.NotEqual(t, guest.ID, other.ID)
	assert.Equal(t, "Sobrevivente", other.Name)

	renamed, err := p.UpdateProfile(context.Background(), "Ana Clara", "🔥")
	require.NoError(t, err)
	cur, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, renamed, cur)

	p.SignOut()
	_, ok = p.Current()
	assert.False(t, ok)
	_, err = p.UpdateProfile(context.Background(), "x", "")
	assert.ErrorIs(t, err, domain.ErrNoIdentity)
}

func TestAccountSession(t *testing.T) {
	store := memory.NewProfileStore()
	p := NewProvider(store)
	ctx := context.Background()

	created, err := p.Register(ctx, "Bruno", "")
	require.NoError(t, err)
	assert.False(t, created.Guest)

	_, err = p.UpdateProfile(ctx, "Bruno Rei", "👑")
	require.NoError(t, err)
	stored, err := store.FetchProfile(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bruno Rei", stored.Name)

	again := NewProvider(store)
	id, err := again.SignIn(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bruno Rei", id.Name)

	_, err = again.SignIn(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)

	_, err = NewProvider(nil).SignIn(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrSetupRequired)
}

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("0123456789abcdef0123", time.Hour)
	require.NoError(t, err)

	in := domain.Identity{ID: "guest-1", Name: "Ana", Avatar: "🐺", Guest: true}
	token, expires, err := issuer.Issue(in)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	out, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestTokenRejections(t *testing.T) {
	issuer, err := NewTokenIssuer("0123456789abcdef0123", time.Minute)
	require.NoError(t, err)
	token, _, err := issuer.Issue(domain.Identity{ID: "u1", Name: "Ana"})
	require.NoError(t, err)

	other, err := NewTokenIssuer("another-secret-of-16", time.Minute)
	require.NoError(t, err)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = issuer.Verify("not-a-token")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	_, _, err = issuer.Issue(domain.Identity{})
	assert.ErrorIs(t, err, domain.ErrNoIdentity)

	_, err = NewTokenIssuer("short", time.Minute)
	assert.Error(t, err)
}

func TestAccountKeys(t *testing.T) {
	issuer, err := NewTokenIssuer("0123456789abcdef0123", time.Minute)
	require.NoError(t, err)

	key, err := issuer.IssueAccountKey("u1")
	require.NoError(t, err)
	require.NoError(t, issuer.VerifyAccountKey(key, "u1"))
	assert.ErrorIs(t, issuer.VerifyAccountKey(key, "u2"), domain.ErrInvalidToken)
	assert.ErrorIs(t, issuer.VerifyAccountKey("", "u1"), domain.ErrInvalidToken)

	// keys outlive session tokens
	issuer.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	require.NoError(t, issuer.VerifyAccountKey(key, "u1"))
	issuer.now = time.Now

	// a key is not a session token and a session token is not a key
	_, err = issuer.Verify(key)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	token, _, err := issuer.Issue(domain.Identity{ID: "u1", Name: "Ana"})
	require.NoError(t, err)
	assert.ErrorIs(t, issuer.VerifyAccountKey(token, "u1"), domain.ErrInvalidToken)

	_, err = issuer.IssueAccountKey("")
	assert.ErrorIs(t, err, domain.ErrNoIdentity)
}
