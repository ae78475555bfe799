package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/liamwears/reelstream/internal/models"
)

var (
	// ErrUnauthorized means the caller must (re-)authenticate.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the caller is known but lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// Level orders caller classes from least to most privileged.
type Level int

const (
	LevelAnonymous Level = iota
	LevelUser
	LevelAdmin
)

func (l Level) String() string {
	switch l {
	case LevelUser:
		return "user"
	case LevelAdmin:
		return "admin"
	default:
		return "anonymous"
	}
}

// Identity is the resolved caller of a request. The zero value is anonymous.
type Identity struct {
	AccountID uuid.UUID
	Username  string
	Role      models.Role
	TokenID   string
	ExpiresAt time.Time
}

// Anonymous returns the identity of an unauthenticated caller.
func Anonymous() Identity {
	return Identity{}
}

// IsAnonymous reports whether no account is attached.
func (i Identity) IsAnonymous() bool {
	return i.AccountID == uuid.Nil
}

// Level classifies the identity.
func (i Identity) Level() Level {
	switch {
	case i.IsAnonymous():
		return LevelAnonymous
	case i.Role == models.RoleAdmin:
		return LevelAdmin
	default:
		return LevelUser
	}
}

// Authorize checks that id may run an operation requiring the given level.
func Authorize(id Identity, required Level) error {
	if id.Level() >= required {
		return nil
	}
	if id.IsAnonymous() {
		return ErrUnauthorized
	}
	return ErrForbidden
}

// RevocationChecker reports whether a token ID has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Gate resolves bearer tokens into identities.
type Gate struct {
	tokens  *TokenIssuer
	revoked RevocationChecker
}

// NewGate creates a Gate. revoked may be nil to skip revocation checks.
func NewGate(tokens *TokenIssuer, revoked RevocationChecker) *Gate {
	return &Gate{tokens: tokens, revoked: revoked}
}

// Classify resolves a raw bearer token. An empty token is anonymous; a
// malformed, expired or revoked one is ErrUnauthorized.
func (g *Gate) Classify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Anonymous(), nil
	}

	claims, err := g.tokens.Verify(token)
	if err != nil {
		return Anonymous(), ErrUnauthorized
	}

	if g.revoked != nil && claims.ID != "" {
		// Fail open on store errors.
		if revoked, err := g.revoked.IsRevoked(ctx, claims.ID); err == nil && revoked {
			return Anonymous(), ErrUnauthorized
		}
	}

	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Anonymous(), ErrUnauthorized
	}

	id := Identity{
		AccountID: accountID,
		Username:  claims.Username,
		Role:      claims.Role,
		TokenID:   claims.ID,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}
