package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/scissor-app/scissor/internal/models"
)

type TombstoneRepository interface {
	GetByID(ctx context.Context, id int64) (*models.DeletedMapping, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]models.DeletedMapping, error)
	Delete(ctx context.Context, id int64) error
}

type tombstoneRepository struct {
	db *PostgresDB
}

func NewTombstoneRepository(db *PostgresDB) TombstoneRepository {
	return &tombstoneRepository{db: db}
}

func (r *tombstoneRepository) GetByID(ctx context.Context, id int64) (*models.DeletedMapping, error) {
	query := `
		SELECT id, target, owner_id, created_at, deleted_at
		FROM deleted_mappings
		WHERE id = $1
	`

	t := &models.DeletedMapping{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.Target,
		&t.OwnerID,
		&t.CreatedAt,
		&t.DeletedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTombstoneNotFound
		}
		return nil, fmt.Errorf("failed to get deleted mapping: %w", err)
	}

	return t, nil
}

func (r *tombstoneRepository) ListByOwner(ctx context.Context, ownerID int64) ([]models.DeletedMapping, error) {
	query := `
		SELECT id, target, owner_id, created_at, deleted_at
		FROM deleted_mappings
		WHERE owner_id = $1
		ORDER BY deleted_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deleted mappings: %w", err)
	}
	defer rows.Close()

	var tombstones []models.DeletedMapping
	for rows.Next() {
		var t models.DeletedMapping
		if err := rows.Scan(&t.ID, &t.Target, &t.OwnerID, &t.CreatedAt, &t.DeletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deleted mapping: %w", err)
		}
		tombstones = append(tombstones, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deleted mappings: %w", err)
	}

	return tombstones, nil
}

func (r *tombstoneRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM deleted_mappings WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete tombstone: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTombstoneNotFound
	}

	return nil
}
