package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/pdfconvert/convertd/internal/db/models"
	"github.com/pdfconvert/convertd/internal/db/repos"
)

// UserService manages API accounts.
type UserService struct {
	users  *repos.UserRepository
	audits *repos.AuditRepository
}

// NewUserService creates a new user service.
func NewUserService(users *repos.UserRepository, audits *repos.AuditRepository) *UserService {
	return &UserService{users: users, audits: audits}
}

// Create registers a new account and issues its API key.
func (s *UserService) Create(ctx context.Context, email string, isAdmin bool) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, &ValidationError{Field: "email", Message: "a valid email address is required"}
	}
	user := &models.User{
		Email:    email,
		IsActive: true,
		IsAdmin:  isAdmin,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetByID returns the account with the given id.
func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

// GetByEmail returns the account with the given email.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// Audits returns a user's recorded actions, newest first. The user must
// exist; an unknown id returns ErrUserNotFound rather than an empty trail.
func (s *UserService) Audits(ctx context.Context, id uuid.UUID, limit int) ([]models.AuditLog, error) {
	if _, err := s.users.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.audits.ListByUser(ctx, id, limit)
}

// Authenticate resolves an API key to its active account.
func (s *UserService) Authenticate(ctx context.Context, apiKey string) (*models.User, error) {
	return s.users.GetByAPIKey(ctx, apiKey)
}
