package interfaces

import (
	"context"

	"github.com/ternarybob/mouseadmin-e2e/internal/models"
)

// RunStorage - interface for run history persistence
type RunStorage interface {
	SaveRun(ctx context.Context, run *models.RunRecord) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error)
}
