package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitestock-erp/sitestock/internal/shared"
)

// Repository reads reference entities from PostgreSQL. It satisfies the
// ReferencePort of the document workflows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CheckProject returns ErrNotFound when no project has the given id.
func (r *Repository) CheckProject(ctx context.Context, projectID int64) error {
	if r == nil {
		return errors.New("masterdata repository not initialised")
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id=$1)`, projectID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("masterdata: project %d: %w", projectID, shared.ErrNotFound)
	}
	return nil
}

// CheckLocation returns ErrNotFound when no location has the given id within
// the project.
func (r *Repository) CheckLocation(ctx context.Context, projectID, locationID int64) error {
	if r == nil {
		return errors.New("masterdata repository not initialised")
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM locations WHERE id=$1 AND project_id=$2)`,
		locationID, projectID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("masterdata: location %d in project %d: %w", locationID, projectID, shared.ErrNotFound)
	}
	return nil
}

// CheckMaterials returns ErrNotFound naming the first missing material id.
func (r *Repository) CheckMaterials(ctx context.Context, materialIDs []int64) error {
	if r == nil {
		return errors.New("masterdata repository not initialised")
	}
	if len(materialIDs) == 0 {
		return nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id FROM materials WHERE id = ANY($1)`, materialIDs)
	if err != nil {
		return err
	}
	defer rows.Close()
	found := make(map[int64]bool, len(materialIDs))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range materialIDs {
		if !found[id] {
			return fmt.Errorf("masterdata: material %d: %w", id, shared.ErrNotFound)
		}
	}
	return nil
}
