// Package repository declares the storage interfaces the service layer
// depends on. Implementations live in sub-packages (see sqlite).
package repository

import (
	"context"

	"github.com/sakif/replaybox/internal/model"
)

// ListOptions pages through a listing.
type ListOptions struct {
	Limit  int
	Offset int
}

// ScriptRepository persists saved scripts.
type ScriptRepository interface {
	Create(ctx context.Context, script *model.Script) error
	GetByID(ctx context.Context, id string) (*model.Script, error)
	List(ctx context.Context, opts ListOptions) ([]model.Script, error)
	Count(ctx context.Context) (int, error)
	Update(ctx context.Context, script *model.Script) error
	Delete(ctx context.Context, id string) error
}
