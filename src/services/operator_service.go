package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/logging"
	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// OperatorService manages operator API accounts
type OperatorService struct {
	repo repositories.OperatorRepository
}

// NewOperatorService creates a new operator service
func NewOperatorService(repo repositories.OperatorRepository) *OperatorService {
	return &OperatorService{repo: repo}
}

// CreateOperator creates a new operator with a hashed password
func (s *OperatorService) CreateOperator(ctx context.Context, username, password string) (*models.Operator, error) {
	if len(username) < 1 || len(username) > 255 {
		return nil, fmt.Errorf("%w: username must be between 1 and 255 characters", ErrInvalidInput)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	op := &models.Operator{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to create operator: %w", err)
	}
	return op, nil
}

// EnsureOperator seeds the configured operator account when none exists yet
func (s *OperatorService) EnsureOperator(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	count, err := s.repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count operators: %w", err)
	}
	if count > 0 {
		return nil
	}
	if _, err := s.CreateOperator(ctx, username, password); err != nil {
		return err
	}
	logger := logging.NewLogger("operators")
	logger.Info().Str("username", username).Msg("seeded operator account")
	return nil
}

// Authenticate verifies username and password
func (s *OperatorService) Authenticate(ctx context.Context, username, password string) (*models.Operator, error) {
	op, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load operator: %w", err)
	}
	if !op.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	if err := s.repo.UpdateLastLogin(ctx, op.Username, now); err != nil {
		logger := logging.NewLogger("operators")
		logger.Warn().Err(err).Str("username", op.Username).Msg("failed to update last_login")
	}
	op.LastLogin = &now
	return op, nil
}
