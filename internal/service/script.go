// Package service holds the business rules between the HTTP handlers and
// the storage and sandbox layers.
//
//	Handler  → parses requests, writes responses
//	Service  → validates, enforces rules, orchestrates
//	Repository / Executor → persistence and script execution
//
// Services take interfaces (repository.ScriptRepository, executor.Executor)
// so tests can hand them in-memory fakes.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/replaybox/internal/apperror"
	"github.com/sakif/replaybox/internal/model"
	"github.com/sakif/replaybox/internal/repository"
)

const (
	MaxScriptNameLength  = 100
	MaxDescriptionLength = 1000
	DefaultListLimit     = 20
	MaxListLimit         = 100
)

// ScriptInput is the editable part of a saved script.
type ScriptInput struct {
	Name        string
	Description string
	Code        string
}

// ScriptPage is one page of a listing plus the overall total.
type ScriptPage struct {
	Scripts []model.Script `json:"scripts"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

// ScriptService manages saved scripts.
type ScriptService struct {
	repo         repository.ScriptRepository
	maxCodeBytes int
	logger       *slog.Logger
}

// NewScriptService creates a ScriptService. maxCodeBytes should match the
// sandbox limit so that every saved script is runnable; zero means
// unlimited.
func NewScriptService(repo repository.ScriptRepository, maxCodeBytes int, logger *slog.Logger) *ScriptService {
	return &ScriptService{
		repo:         repo,
		maxCodeBytes: maxCodeBytes,
		logger:       logger,
	}
}

// Create validates and saves a new script.
func (s *ScriptService) Create(ctx context.Context, in ScriptInput) (*model.Script, error) {
	in, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	script := &model.Script{
		Name:        in.Name,
		Description: in.Description,
		Code:        in.Code,
	}
	if err := s.repo.Create(ctx, script); err != nil {
		s.logger.Error("failed to create script",
			slog.String("name", in.Name),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating script: %w", err)
	}

	s.logger.Info("script created",
		slog.String("id", script.ID),
		slog.String("name", script.Name),
	)
	return script, nil
}

// GetByID returns apperror.ErrNotFound if the script doesn't exist.
func (s *ScriptService) GetByID(ctx context.Context, id string) (*model.Script, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "script ID is required")
	}
	// NotFound is already an apperror and is not worth logging.
	return s.repo.GetByID(ctx, id)
}

// List returns a page of scripts, newest first. limit is clamped to
// [1, MaxListLimit] with DefaultListLimit for zero; negative offsets are
// treated as zero.
func (s *ScriptService) List(ctx context.Context, limit, offset int) (*ScriptPage, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	offset = max(offset, 0)

	scripts, err := s.repo.List(ctx, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("failed to list scripts", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing scripts: %w", err)
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		s.logger.Error("failed to count scripts", slog.String("error", err.Error()))
		return nil, fmt.Errorf("counting scripts: %w", err)
	}

	return &ScriptPage{Scripts: scripts, Total: total, Limit: limit, Offset: offset}, nil
}

// Update replaces the editable fields of an existing script.
func (s *ScriptService) Update(ctx context.Context, id string, in ScriptInput) (*model.Script, error) {
	script, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	in, err = s.validate(in)
	if err != nil {
		return nil, err
	}
	script.Name = in.Name
	script.Description = in.Description
	script.Code = in.Code

	if err := s.repo.Update(ctx, script); err != nil {
		s.logger.Error("failed to update script",
			slog.String("id", script.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating script: %w", err)
	}

	s.logger.Info("script updated", slog.String("id", script.ID))
	return script, nil
}

// Delete removes a script by its ID.
func (s *ScriptService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperror.ValidationFailed("id", "script ID is required")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("script deleted", slog.String("id", id))
	return nil
}

// validate trims the text fields and enforces the limits. Code is kept
// byte for byte; whitespace inside a program is meaningful.
func (s *ScriptService) validate(in ScriptInput) (ScriptInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)

	if in.Name == "" {
		return in, apperror.ValidationFailed("name", "script name is required")
	}
	if utf8.RuneCountInString(in.Name) > MaxScriptNameLength {
		return in, apperror.ValidationFailed("name",
			fmt.Sprintf("script name must be %d characters or less", MaxScriptNameLength))
	}
	if utf8.RuneCountInString(in.Description) > MaxDescriptionLength {
		return in, apperror.ValidationFailed("description",
			fmt.Sprintf("description must be %d characters or less", MaxDescriptionLength))
	}
	if strings.TrimSpace(in.Code) == "" {
		return in, apperror.ValidationFailed("code", "code cannot be empty")
	}
	if s.maxCodeBytes > 0 && len(in.Code) > s.maxCodeBytes {
		return in, apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d bytes or less", s.maxCodeBytes))
	}
	return in, nil
}
