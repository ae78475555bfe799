package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/liamwears/reelstream/internal/auth"
	"github.com/liamwears/reelstream/internal/metrics"
	"github.com/liamwears/reelstream/internal/models"
	"github.com/sirupsen/logrus"
)

// AccountStore persists accounts
type AccountStore interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByProviderID(ctx context.Context, provider models.Provider, providerID string) (*models.Account, error)
}

// TokenRevoker blocklists token IDs on logout
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
}

// maxUsernameAttempts bounds suffixing when an OAuth display name is taken.
const maxUsernameAttempts = 5

// AccountService handles registration, login and OAuth sign-in
type AccountService struct {
	accounts AccountStore
	tokens   *auth.TokenIssuer
	revoker  TokenRevoker
	logger   *logrus.Entry
}

// NewAccountService creates a new AccountService
func NewAccountService(accounts AccountStore, tokens *auth.TokenIssuer, revoker TokenRevoker, logger *logrus.Entry) *AccountService {
	return &AccountService{
		accounts: accounts,
		tokens:   tokens,
		revoker:  revoker,
		logger:   logger.WithField("component", "accounts"),
	}
}

// Register creates a local account with the user role and signs it in
func (s *AccountService) Register(ctx context.Context, input models.RegisterInput) (*models.AuthResponse, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = normalizeEmail(input.Email)

	if err := validateStruct(input).OrNil(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	account, err := s.accounts.Create(ctx, &models.Account{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: &hash,
		Role:         models.RoleUser,
		Provider:     models.ProviderLocal,
	})
	if err != nil {
		metrics.AuthEvents.WithLabelValues("register", "error").Inc()
		return nil, accountCreateErr(err)
	}

	metrics.AuthEvents.WithLabelValues("register", "ok").Inc()
	s.logger.WithField("account_id", account.ID).Info("Account registered")

	return s.signIn(account)
}

// Login checks credentials. Unknown email and wrong password both return
// auth.ErrUnauthorized.
func (s *AccountService) Login(ctx context.Context, input models.LoginInput) (*models.AuthResponse, error) {
	input.Email = normalizeEmail(input.Email)

	if err := validateStruct(input).OrNil(); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByEmail(ctx, input.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.AuthEvents.WithLabelValues("login", "rejected").Inc()
		return nil, auth.ErrUnauthorized
	}
	if err != nil {
		return nil, storeErr("find account", err)
	}

	if account.PasswordHash == nil {
		metrics.AuthEvents.WithLabelValues("login", "rejected").Inc()
		return nil, auth.ErrUnauthorized
	}
	ok, err := auth.CheckPassword(*account.PasswordHash, input.Password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if !ok {
		metrics.AuthEvents.WithLabelValues("login", "rejected").Inc()
		return nil, auth.ErrUnauthorized
	}

	metrics.AuthEvents.WithLabelValues("login", "ok").Inc()
	return s.signIn(account)
}

// Logout revokes the caller's token until it would have expired
func (s *AccountService) Logout(ctx context.Context, identity auth.Identity) error {
	if err := auth.Authorize(identity, auth.LevelUser); err != nil {
		return err
	}
	if identity.TokenID == "" || s.revoker == nil {
		return nil
	}

	if err := s.revoker.Revoke(ctx, identity.TokenID, identity.ExpiresAt); err != nil {
		metrics.AuthEvents.WithLabelValues("logout", "error").Inc()
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	metrics.AuthEvents.WithLabelValues("logout", "ok").Inc()
	s.logger.WithField("account_id", identity.AccountID).Debug("Token revoked")
	return nil
}

// Me returns the caller's account
func (s *AccountService) Me(ctx context.Context, identity auth.Identity) (*models.Account, error) {
	if err := auth.Authorize(identity, auth.LevelUser); err != nil {
		return nil, err
	}

	account, err := s.accounts.Get(ctx, identity.AccountID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Token outlived its account.
		return nil, auth.ErrUnauthorized
	}
	if err != nil {
		return nil, storeErr("get account", err)
	}
	return account, nil
}

// SignInWithProvider finds or creates the account linked to an OAuth
// identity and signs it in.
func (s *AccountService) SignInWithProvider(ctx context.Context, provider models.Provider, providerID, email, name string) (*models.AuthResponse, error) {
	if !provider.IsValid() || provider == models.ProviderLocal {
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if providerID == "" {
		return nil, fmt.Errorf("%s: empty provider id", provider)
	}

	account, err := s.accounts.GetByProviderID(ctx, provider, providerID)
	if err == nil {
		metrics.AuthEvents.WithLabelValues("oauth", "ok").Inc()
		return s.signIn(account)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, storeErr("find account", err)
	}

	email = normalizeEmail(email)
	if email == "" {
		email = fmt.Sprintf("%s+%s@users.noreply.reelstream", strings.ToLower(provider.String()), providerID)
	}
	base := usernameFrom(name, email)

	pid := providerID
	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		username := base
		if attempt > 0 {
			username = fmt.Sprintf("%s-%s", base, uuid.NewString()[:6])
		}

		account, err = s.accounts.Create(ctx, &models.Account{
			Username:   username,
			Email:      email,
			Role:       models.RoleUser,
			Provider:   provider,
			ProviderID: &pid,
		})
		if err == nil {
			break
		}
		if constraint, ok := uniqueViolation(err); ok && constraint == usernameConstraint {
			continue
		}
		metrics.AuthEvents.WithLabelValues("oauth", "error").Inc()
		return nil, accountCreateErr(err)
	}
	if err != nil {
		metrics.AuthEvents.WithLabelValues("oauth", "error").Inc()
		return nil, &ConflictError{Field: "username"}
	}

	metrics.AuthEvents.WithLabelValues("oauth", "ok").Inc()
	s.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"provider":   provider,
	}).Info("Account created from OAuth sign-in")

	return s.signIn(account)
}

// SeedAdmin creates the administrator account if its email is not yet
// registered. The bool reports whether an account was created.
func (s *AccountService) SeedAdmin(ctx context.Context, username, email, password string) (*models.Account, bool, error) {
	email = normalizeEmail(email)

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, storeErr("find account", err)
	}

	input := models.RegisterInput{Username: strings.TrimSpace(username), Email: email, Password: password}
	if err := validateStruct(input).OrNil(); err != nil {
		return nil, false, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, false, fmt.Errorf("seed admin: %w", err)
	}

	account, err := s.accounts.Create(ctx, &models.Account{
		Username:     input.Username,
		Email:        email,
		PasswordHash: &hash,
		Role:         models.RoleAdmin,
		Provider:     models.ProviderLocal,
	})
	if err != nil {
		return nil, false, accountCreateErr(err)
	}

	s.logger.WithField("account_id", account.ID).Info("Admin account seeded")
	return account, true, nil
}

func (s *AccountService) signIn(account *models.Account) (*models.AuthResponse, error) {
	token, _, err := s.tokens.Issue(account)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{Token: token, User: account}, nil
}

const (
	usernameConstraint = "accounts_username_key"
	emailConstraint    = "accounts_email_key"
)

// accountCreateErr maps unique violations to a ConflictError on the
// offending field.
func accountCreateErr(err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return &StoreError{Op: "create account", Err: err}
	}
	switch constraint {
	case usernameConstraint:
		return &ConflictError{Field: "username"}
	case emailConstraint:
		return &ConflictError{Field: "email"}
	default:
		return &ConflictError{Field: "account"}
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// usernameFrom derives a username from a display name, falling back to the
// local part of the email.
func usernameFrom(name, email string) string {
	base := strings.Join(strings.Fields(strings.ToLower(name)), "")
	if len(base) < 3 {
		base, _, _ = strings.Cut(email, "@")
	}
	if len(base) > 40 {
		base = base[:40]
	}
	for len(base) < 3 {
		base += "_"
	}
	return base
}
