package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"quiz-squad/internal/domain"
)

const issuer = "quiz-squad"

// Session tokens and account keys are told apart by audience so that neither
// can stand in for the other.
const (
	audienceSession = "session"
	audienceAccount = "account"
)

// Claims carry the identity inside a relay token. The subject is the identity id.
type Claims struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Guest  bool   `json:"guest"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 identity tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("token secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (t *TokenIssuer) Issue(id domain.Identity) (string, time.Time, error) {
	if id.ID == "" {
		return "", time.Time{}, domain.ErrNoIdentity
	}
	now := t.now()
	expires := now.Add(t.ttl)
	claims := Claims{
		Name:   id.Name,
		Avatar: id.Avatar,
		Guest:  id.Guest,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.ID,
			Audience:  jwt.ClaimStrings{audienceSession},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

func (t *TokenIssuer) Verify(token string) (domain.Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audienceSession),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}
	return domain.Identity{
		ID:     claims.Subject,
		Name:   claims.Name,
		Avatar: claims.Avatar,
		Guest:  claims.Guest,
	}, nil
}

// IssueAccountKey returns the credential handed out once when an account is
// registered. It does not expire and is only accepted by VerifyAccountKey.
func (t *TokenIssuer) IssueAccountKey(accountID string) (string, error) {
	if accountID == "" {
		return "", domain.ErrNoIdentity
	}
	claims := jwt.RegisteredClaims{
		Issuer:   issuer,
		Subject:  accountID,
		Audience: jwt.ClaimStrings{audienceAccount},
		IssuedAt: jwt.NewNumericDate(t.now()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign account key: %w", err)
	}
	return signed, nil
}

// VerifyAccountKey checks that key was issued for accountID.
func (t *TokenIssuer) VerifyAccountKey(key, accountID string) error {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(key, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audienceAccount),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if accountID == "" || claims.Subject != accountID {
		return fmt.Errorf("%w: account key belongs to another account", domain.ErrInvalidToken)
	}
	return nil
}
