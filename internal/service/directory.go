// Package service contains the business logic of the directory service.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// DirectoryService takes a repository.UserRepository (interface), NOT a
// *sqlite.DB, so tests can hand it an in-memory mock (see directory_test.go)
// and the service never imports the sqlite package.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/sakif/user-admin/internal/apperror"
	"github.com/sakif/user-admin/internal/model"
	"github.com/sakif/user-admin/internal/repository"
)

// Validation constants.
const (
	MaxNameLength     = 100
	MaxEmailLength    = 254 // RFC 5321 path limit
	MaxProviderLength = 32
)

// DirectoryService handles business logic for directory accounts.
type DirectoryService struct {
	repo   repository.UserRepository
	logger *slog.Logger
}

// NewDirectoryService creates a new DirectoryService.
func NewDirectoryService(repo repository.UserRepository, logger *slog.Logger) *DirectoryService {
	return &DirectoryService{
		repo:   repo,
		logger: logger,
	}
}

// List returns every account, oldest first, as wire records.
func (s *DirectoryService) List(ctx context.Context) ([]model.UserRecord, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Error("failed to list users", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing users: %w", err)
	}

	records := make([]model.UserRecord, 0, len(users))
	for _, u := range users {
		records = append(records, u.Record())
	}
	return records, nil
}

// Register validates and stores a new account.
//
// Name and email are trimmed, the provider is lower-cased so "GitHub" and
// "github" render the same in the admin view. A taken email returns
// apperror.ErrConflict.
func (s *DirectoryService) Register(ctx context.Context, name, email, provider string) (*model.User, error) {
	return s.register(ctx, name, email, provider, time.Time{})
}

// Import stores an account with a known creation time. Used when seeding an
// empty store from a file; a zero createdAt behaves like Register.
func (s *DirectoryService) Import(ctx context.Context, rec model.UserRecord) (*model.User, error) {
	var createdAt time.Time
	if rec.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, rec.CreatedAt)
		if err != nil {
			return nil, apperror.ValidationFailed("createdAt", "createdAt must be an RFC 3339 timestamp")
		}
		createdAt = t
	}
	return s.register(ctx, rec.Name, rec.Email, rec.Provider, createdAt)
}

func (s *DirectoryService) register(ctx context.Context, name, email, provider string, createdAt time.Time) (*model.User, error) {
	// === VALIDATION ===
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	provider = strings.ToLower(strings.TrimSpace(provider))

	if name == "" {
		return nil, apperror.ValidationFailed("name", "name is required")
	}
	if len(name) > MaxNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if provider == "" {
		provider = "email"
	}
	if len(provider) > MaxProviderLength {
		return nil, apperror.ValidationFailed("provider",
			fmt.Sprintf("provider must be %d characters or less", MaxProviderLength))
	}

	user := &model.User{
		Name:      name,
		Email:     email,
		Provider:  provider,
		CreatedAt: createdAt,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		s.logger.Error("failed to create user",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("id", user.ID),
		slog.String("email", user.Email),
		slog.String("provider", user.Provider),
	)

	return user, nil
}

// Delete removes the account with the given email.
// Returns apperror.ErrNotFound if no account has it, so a second delete of the
// same email fails.
func (s *DirectoryService) Delete(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}

	if err := s.repo.DeleteByEmail(ctx, email); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		s.logger.Error("failed to delete user",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("deleting user: %w", err)
	}

	s.logger.Info("user deleted", slog.String("email", email))
	return nil
}

// Count returns how many accounts are stored.
func (s *DirectoryService) Count(ctx context.Context) (int, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// Seed imports a JSON array of accounts, but only into an empty store, so
// restarting with the same SEED_FILE never resurrects deleted accounts. It
// returns how many accounts were imported.
func (s *DirectoryService) Seed(ctx context.Context, r io.Reader) (int, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("store not empty, skipping seed", slog.Int("users", n))
		return 0, nil
	}

	var records []model.UserRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return 0, fmt.Errorf("decoding seed file: %w", err)
	}

	for i, rec := range records {
		if _, err := s.Import(ctx, rec); err != nil {
			return i, fmt.Errorf("seeding record %d (%s): %w", i, rec.Email, err)
		}
	}
	s.logger.Info("store seeded", slog.Int("users", len(records)))
	return len(records), nil
}

func validateEmail(email string) error {
	if email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}
	if len(email) > MaxEmailLength {
		return apperror.ValidationFailed("email",
			fmt.Sprintf("email must be %d characters or less", MaxEmailLength))
	}
	// ParseAddress also accepts "Name <addr>", which is not a bare email.
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperror.ValidationFailed("email", "invalid email format")
	}
	return nil
}
