package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/scissor-app/scissor/internal/models"
	"github.com/scissor-app/scissor/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrInvalidURL = errors.New("a valid absolute http(s) URL is required")
)

// maxTargetLength matches the column the histogram rides along with; longer
// URLs are rejected at validation time.
const maxTargetLength = 1000

// QRArtifacts is the collaborator that owns rendered QR images. The core
// only schedules work against it: ensure on first request, invalidate when
// the encoded short URL may have changed.
type QRArtifacts interface {
	EnsureArtifact(ctx context.Context, code, resolvableURL string) (string, error)
	InvalidateArtifact(ctx context.Context, code string) error
}

// LifecycleService owns create / update / soft-delete / restore of mappings,
// with ownership checks, cache invalidation and QR artifact scheduling.
// Resolution and analytics live in Resolver.
type LifecycleService interface {
	// Shorten returns the owner's mapping for target, creating it with a
	// fresh code only when none exists. The bool reports whether a new
	// mapping was created.
	Shorten(ctx context.Context, ownerID int64, target string) (*models.ShortMapping, bool, error)
	Get(ctx context.Context, ownerID int64, code string) (*models.ShortMapping, error)
	List(ctx context.Context, ownerID int64) ([]models.ShortMapping, error)
	Update(ctx context.Context, ownerID int64, code, target string) (*models.ShortMapping, error)
	Delete(ctx context.Context, ownerID int64, code string) error
	ListDeleted(ctx context.Context, ownerID int64) ([]models.DeletedMapping, error)
	// Restore revives a tombstoned mapping under a new code. The bool
	// reports whether a new mapping was created (false when an active
	// mapping for the same target already exists).
	Restore(ctx context.Context, ownerID, tombstoneID int64) (*models.ShortMapping, bool, error)
	// EnsureQR lazily renders the QR artifact for a mapping and returns its
	// reference.
	EnsureQR(ctx context.Context, ownerID int64, code string) (string, error)
	// ShortURL builds the public short URL for a mapping, using the owner's
	// custom domain when one is registered.
	ShortURL(ctx context.Context, ownerID int64, code string) (string, error)
}

type lifecycleService struct {
	mappings repository.MappingRepository
	tombs    repository.TombstoneRepository
	accounts repository.AccountProvider
	cache    repository.CacheRepository
	qr       QRArtifacts
	baseURL  string
	logger   *zap.Logger
}

func NewLifecycleService(
	mappings repository.MappingRepository,
	tombs repository.TombstoneRepository,
	accounts repository.AccountProvider,
	cache repository.CacheRepository,
	qr QRArtifacts,
	baseURL string,
	logger *zap.Logger,
) LifecycleService {
	return &lifecycleService{
		mappings: mappings,
		tombs:    tombs,
		accounts: accounts,
		cache:    cache,
		qr:       qr,
		baseURL:  baseURL,
		logger:   logger,
	}
}

func (s *lifecycleService) Shorten(ctx context.Context, ownerID int64, target string) (*models.ShortMapping, bool, error) {
	if err := validateTarget(target); err != nil {
		return nil, false, err
	}

	// Idempotent reuse: the same (owner, target) pair never gets a second
	// mapping.
	existing, err := s.mappings.GetByOwnerAndTarget(ctx, ownerID, target)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrMappingNotFound) {
		return nil, false, err
	}

	m, err := s.createWithFreshCode(ctx, ownerID, target)
	if errors.Is(err, repository.ErrTargetExists) {
		// A concurrent shorten of the same (owner, target) won the insert;
		// the constraint makes reuse hold and we return the winner's row.
		existing, err := s.mappings.GetByOwnerAndTarget(ctx, ownerID, target)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if err := s.cache.Invalidate(ctx, m.Code, ownerID); err != nil {
		return nil, false, fmt.Errorf("cache invalidation failed: %w", err)
	}

	return m, true, nil
}

func (s *lifecycleService) Get(ctx context.Context, ownerID int64, code string) (*models.ShortMapping, error) {
	m, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}

	// Non-owners get the same answer as a missing code.
	if m.OwnerID != ownerID {
		return nil, repository.ErrMappingNotFound
	}

	return m, nil
}

func (s *lifecycleService) List(ctx context.Context, ownerID int64) ([]models.ShortMapping, error) {
	cached, err := s.cache.GetOwnerList(ctx, ownerID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		s.logger.Warn("owner list cache read failed", zap.Int64("owner_id", ownerID), zap.Error(err))
	}

	mappings, err := s.mappings.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetOwnerList(ctx, ownerID, mappings); err != nil {
		s.logger.Warn("owner list cache write failed", zap.Int64("owner_id", ownerID), zap.Error(err))
	}

	return mappings, nil
}

func (s *lifecycleService) Update(ctx context.Context, ownerID int64, code, target string) (*models.ShortMapping, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}

	// Ownership is enforced by the scoped UPDATE: a non-owner's request
	// matches no row and reads as not-found.
	m, err := s.mappings.UpdateTarget(ctx, code, ownerID, target)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, code, ownerID); err != nil {
		return nil, fmt.Errorf("cache invalidation failed: %w", err)
	}

	// The artifact encodes the resolvable URL; drop it so the next QR
	// request re-renders against current state.
	if m.QRArtifact != nil {
		if err := s.invalidateArtifact(ctx, m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (s *lifecycleService) Delete(ctx context.Context, ownerID int64, code string) error {
	m, err := s.lookup(ctx, code)
	if err != nil {
		return err
	}
	if m.OwnerID != ownerID {
		return repository.ErrMappingNotFound
	}

	if _, err := s.mappings.SoftDelete(ctx, code, ownerID); err != nil {
		return err
	}

	if err := s.cache.Invalidate(ctx, code, ownerID); err != nil {
		return fmt.Errorf("cache invalidation failed: %w", err)
	}

	if m.QRArtifact != nil {
		if err := s.qr.InvalidateArtifact(ctx, code); err != nil {
			s.logger.Warn("failed to remove QR artifact for deleted mapping",
				zap.String("code", code), zap.Error(err))
		}
	}

	return nil
}

func (s *lifecycleService) ListDeleted(ctx context.Context, ownerID int64) ([]models.DeletedMapping, error) {
	return s.tombs.ListByOwner(ctx, ownerID)
}

func (s *lifecycleService) Restore(ctx context.Context, ownerID, tombstoneID int64) (*models.ShortMapping, bool, error) {
	t, err := s.tombs.GetByID(ctx, tombstoneID)
	if err != nil {
		return nil, false, err
	}
	if t.OwnerID != ownerID {
		return nil, false, repository.ErrTombstoneNotFound
	}

	// The target may have been acceptable once and not anymore.
	if err := validateTarget(t.Target); err != nil {
		return nil, false, err
	}

	// If the owner shortened the same target again since deleting, reuse
	// that mapping and just consume the tombstone.
	existing, err := s.mappings.GetByOwnerAndTarget(ctx, ownerID, t.Target)
	if err == nil {
		if err := s.tombs.Delete(ctx, tombstoneID); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrMappingNotFound) {
		return nil, false, err
	}

	// Restore always mints a new code. The tombstone is consumed only once
	// the new mapping is durably created.
	m, err := s.createWithFreshCode(ctx, ownerID, t.Target)
	if errors.Is(err, repository.ErrTargetExists) {
		// A shorten of the same target raced the restore; fall back to the
		// reuse branch against the winner's row.
		existing, err := s.mappings.GetByOwnerAndTarget(ctx, ownerID, t.Target)
		if err != nil {
			return nil, false, err
		}
		if err := s.tombs.Delete(ctx, tombstoneID); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if err := s.tombs.Delete(ctx, tombstoneID); err != nil {
		return nil, false, err
	}

	if err := s.cache.Invalidate(ctx, m.Code, ownerID); err != nil {
		return nil, false, fmt.Errorf("cache invalidation failed: %w", err)
	}

	return m, true, nil
}

func (s *lifecycleService) EnsureQR(ctx context.Context, ownerID int64, code string) (string, error) {
	m, err := s.Get(ctx, ownerID, code)
	if err != nil {
		return "", err
	}

	shortURL, err := s.ShortURL(ctx, ownerID, code)
	if err != nil {
		return "", err
	}

	// The artifact encodes a referrer label so scans show up in the
	// histogram under "qr".
	ref, err := s.qr.EnsureArtifact(ctx, code, shortURL+"?referrer=qr")
	if err != nil {
		return "", fmt.Errorf("failed to ensure QR artifact: %w", err)
	}

	if m.QRArtifact == nil || *m.QRArtifact != ref {
		if err := s.mappings.SetQRArtifact(ctx, code, &ref); err != nil {
			return "", err
		}
		if err := s.cache.Invalidate(ctx, code, ownerID); err != nil {
			return "", fmt.Errorf("cache invalidation failed: %w", err)
		}
	}

	return ref, nil
}

func (s *lifecycleService) ShortURL(ctx context.Context, ownerID int64, code string) (string, error) {
	account, err := s.accounts.GetByID(ctx, ownerID)
	if err != nil {
		return "", err
	}

	if account.CustomDomain != nil && *account.CustomDomain != "" {
		return "https://" + *account.CustomDomain + "/" + code, nil
	}
	return s.baseURL + code, nil
}

// lookup reads a mapping cache-first. Cache failures other than a miss are
// logged and fall through to the store; the cache is never load-bearing.
func (s *lifecycleService) lookup(ctx context.Context, code string) (*models.ShortMapping, error) {
	m, err := s.cache.GetMapping(ctx, code)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		s.logger.Warn("mapping cache read failed", zap.String("code", code), zap.Error(err))
	}

	m, err = s.mappings.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetMapping(ctx, m); err != nil {
		s.logger.Warn("mapping cache write failed", zap.String("code", code), zap.Error(err))
	}

	return m, nil
}

// createWithFreshCode allocates a code and inserts, retrying on unique
// violations. The store's constraint is the only uniqueness check.
func (s *lifecycleService) createWithFreshCode(ctx context.Context, ownerID int64, target string) (*models.ShortMapping, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, err
		}

		m := &models.ShortMapping{
			Code:      code,
			Target:    target,
			OwnerID:   ownerID,
			Referrers: models.NewReferrers(),
		}

		err = s.mappings.Create(ctx, m)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, repository.ErrCodeExists) {
			return nil, err
		}

		s.logger.Debug("short code collision, retrying",
			zap.String("code", code), zap.Int("attempt", attempt+1))
	}

	return nil, ErrCodeSpaceExhausted
}

func (s *lifecycleService) invalidateArtifact(ctx context.Context, m *models.ShortMapping) error {
	if err := s.qr.InvalidateArtifact(ctx, m.Code); err != nil {
		return fmt.Errorf("failed to invalidate QR artifact: %w", err)
	}
	if err := s.mappings.SetQRArtifact(ctx, m.Code, nil); err != nil {
		return err
	}
	m.QRArtifact = nil
	return nil
}

// validateTarget accepts absolute http(s) URLs only.
func validateTarget(target string) error {
	if target == "" || len(target) > maxTargetLength {
		return ErrInvalidURL
	}

	u, err := url.Parse(target)
	if err != nil {
		return ErrInvalidURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}

	return nil
}
