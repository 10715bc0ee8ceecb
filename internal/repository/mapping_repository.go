package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/scissor-app/scissor/internal/models"
)

var (
	ErrMappingNotFound   = errors.New("mapping not found")
	ErrCodeExists        = errors.New("short code already exists")
	ErrTargetExists      = errors.New("owner already has a mapping for this target")
	ErrTombstoneNotFound = errors.New("deleted mapping not found")
	ErrCorruptReferrers  = errors.New("stored referrer histogram is not valid JSON")
)

// ownerTargetConstraint is the unique (owner_id, target) index behind
// idempotent reuse; any other unique violation on insert is a code collision.
const ownerTargetConstraint = "idx_mappings_owner_target"

const mappingColumns = "id, code, target, owner_id, created_at, updated_at, clicks, referrers, qr_artifact"

type MappingRepository interface {
	Create(ctx context.Context, m *models.ShortMapping) error
	GetByCode(ctx context.Context, code string) (*models.ShortMapping, error)
	GetByOwnerAndTarget(ctx context.Context, ownerID int64, target string) (*models.ShortMapping, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]models.ShortMapping, error)
	UpdateTarget(ctx context.Context, code string, ownerID int64, target string) (*models.ShortMapping, error)
	SetQRArtifact(ctx context.Context, code string, artifact *string) error
	SoftDelete(ctx context.Context, code string, ownerID int64) (*models.DeletedMapping, error)
	RecordVisit(ctx context.Context, code, referrerKey string) (*models.ShortMapping, error)
}

type mappingRepository struct {
	db *PostgresDB
}

func NewMappingRepository(db *PostgresDB) MappingRepository {
	return &mappingRepository{db: db}
}

func (r *mappingRepository) Create(ctx context.Context, m *models.ShortMapping) error {
	referrers, err := json.Marshal(m.Referrers)
	if err != nil {
		return fmt.Errorf("failed to marshal referrers: %w", err)
	}

	query := `
		INSERT INTO mappings (code, target, owner_id, referrers)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		m.Code,
		m.Target,
		m.OwnerID,
		referrers,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)

	if err != nil {
		// The two unique indexes mean different things: a target conflict is
		// a concurrent shorten of the same (owner, target) and must not be
		// retried as a code collision.
		if pgErr := uniqueViolation(err); pgErr != nil {
			if pgErr.ConstraintName == ownerTargetConstraint {
				return ErrTargetExists
			}
			return ErrCodeExists
		}
		return fmt.Errorf("failed to create mapping: %w", err)
	}

	return nil
}

func (r *mappingRepository) GetByCode(ctx context.Context, code string) (*models.ShortMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM mappings WHERE code = $1`

	m, err := scanMapping(r.db.Pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMappingNotFound
		}
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}

	return m, nil
}

func (r *mappingRepository) GetByOwnerAndTarget(ctx context.Context, ownerID int64, target string) (*models.ShortMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM mappings WHERE owner_id = $1 AND target = $2`

	m, err := scanMapping(r.db.Pool.QueryRow(ctx, query, ownerID, target))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMappingNotFound
		}
		return nil, fmt.Errorf("failed to get mapping by target: %w", err)
	}

	return m, nil
}

func (r *mappingRepository) ListByOwner(ctx context.Context, ownerID int64) ([]models.ShortMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM mappings WHERE owner_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []models.ShortMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		mappings = append(mappings, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mappings: %w", err)
	}

	return mappings, nil
}

func (r *mappingRepository) UpdateTarget(ctx context.Context, code string, ownerID int64, target string) (*models.ShortMapping, error) {
	query := `
		UPDATE mappings
		SET target = $3, updated_at = now()
		WHERE code = $1 AND owner_id = $2
		RETURNING ` + mappingColumns

	m, err := scanMapping(r.db.Pool.QueryRow(ctx, query, code, ownerID, target))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMappingNotFound
		}
		if uniqueViolation(err) != nil {
			// The owner already maps this target under another code.
			return nil, ErrTargetExists
		}
		return nil, fmt.Errorf("failed to update mapping: %w", err)
	}

	return m, nil
}

func (r *mappingRepository) SetQRArtifact(ctx context.Context, code string, artifact *string) error {
	query := `UPDATE mappings SET qr_artifact = $2, updated_at = now() WHERE code = $1`

	result, err := r.db.Pool.Exec(ctx, query, code, artifact)
	if err != nil {
		return fmt.Errorf("failed to set QR artifact: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrMappingNotFound
	}

	return nil
}

// SoftDelete removes the active row and writes its tombstone in a single
// statement, so concurrent resolutions never observe a half-deleted mapping.
// The original creation time is preserved on the tombstone.
func (r *mappingRepository) SoftDelete(ctx context.Context, code string, ownerID int64) (*models.DeletedMapping, error) {
	query := `
		WITH doomed AS (
			DELETE FROM mappings
			WHERE code = $1 AND owner_id = $2
			RETURNING target, owner_id, created_at
		)
		INSERT INTO deleted_mappings (target, owner_id, created_at)
		SELECT target, owner_id, created_at FROM doomed
		RETURNING id, target, owner_id, created_at, deleted_at
	`

	t := &models.DeletedMapping{}
	err := r.db.Pool.QueryRow(ctx, query, code, ownerID).Scan(
		&t.ID,
		&t.Target,
		&t.OwnerID,
		&t.CreatedAt,
		&t.DeletedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMappingNotFound
		}
		return nil, fmt.Errorf("failed to soft-delete mapping: %w", err)
	}

	return t, nil
}

// RecordVisit bumps the click counter and the referrer bucket in one UPDATE,
// so N concurrent redirects of the same code always land N increments.
func (r *mappingRepository) RecordVisit(ctx context.Context, code, referrerKey string) (*models.ShortMapping, error) {
	query := `
		UPDATE mappings
		SET clicks = clicks + 1,
		    referrers = jsonb_set(
		        referrers,
		        ARRAY[$2],
		        (COALESCE(referrers ->> $2, '0')::bigint + 1)::text::jsonb,
		        true
		    ),
		    updated_at = now()
		WHERE code = $1
		RETURNING ` + mappingColumns

	m, err := scanMapping(r.db.Pool.QueryRow(ctx, query, code, referrerKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMappingNotFound
		}
		return nil, fmt.Errorf("failed to record visit: %w", err)
	}

	return m, nil
}

// scanMapping reads one mapping row. The referrer histogram is stored as
// JSONB; a blob that does not decode to a string->count map fails the whole
// request rather than being dropped.
func scanMapping(row pgx.Row) (*models.ShortMapping, error) {
	m := &models.ShortMapping{}
	var referrers []byte

	err := row.Scan(
		&m.ID,
		&m.Code,
		&m.Target,
		&m.OwnerID,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.Clicks,
		&referrers,
		&m.QRArtifact,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(referrers, &m.Referrers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptReferrers, err)
	}

	return m, nil
}

func uniqueViolation(err error) *pgconn.PgError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr
	}
	return nil
}
