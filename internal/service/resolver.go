package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/scissor-app/scissor/internal/models"
	"github.com/scissor-app/scissor/internal/repository"
	"go.uber.org/zap"
)

// storeTimeout bounds every durable-store round trip on the redirect path.
// A timed-out request fails with an error, never with a silently dropped
// click.
const storeTimeout = 5 * time.Second

// Resolver maps (routing domain, code) to a redirect target and records the
// visit before the target is handed back.
type Resolver interface {
	// Resolve returns the target URL for code, or
	// repository.ErrMappingNotFound when the domain is not recognized, the
	// code does not exist, or the code is outside the domain's namespace.
	// The click and referrer counters are durably incremented before the
	// target is returned.
	Resolve(ctx context.Context, host, code, referrer string) (string, error)
}

type resolver struct {
	mappings      repository.MappingRepository
	accounts      repository.AccountProvider
	cache         repository.CacheRepository
	defaultDomain string
	logger        *zap.Logger
}

func NewResolver(
	mappings repository.MappingRepository,
	accounts repository.AccountProvider,
	cache repository.CacheRepository,
	defaultDomain string,
	logger *zap.Logger,
) Resolver {
	return &resolver{
		mappings:      mappings,
		accounts:      accounts,
		cache:         cache,
		defaultDomain: defaultDomain,
		logger:        logger,
	}
}

func (r *resolver) Resolve(ctx context.Context, host, code, referrer string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	// Domain gate: the default domain resolves any code; a registered
	// custom domain resolves only its owner's codes; anything else reads
	// as not-found so arbitrary hostnames cannot probe the code space.
	scopeOwner, err := r.routingScope(ctx, host)
	if err != nil {
		return "", err
	}

	m, err := r.lookup(ctx, code)
	if err != nil {
		return "", err
	}

	if scopeOwner != 0 && m.OwnerID != scopeOwner {
		return "", repository.ErrMappingNotFound
	}

	key := referrer
	if key == "" {
		key = models.UnknownReferrer
	}

	// Invalidate before the counter write so no reader can hold an entry
	// that predates this mutation once it is acknowledged.
	if err := r.cache.Invalidate(ctx, code, m.OwnerID); err != nil {
		return "", fmt.Errorf("cache invalidation failed: %w", err)
	}

	updated, err := r.mappings.RecordVisit(ctx, code, key)
	if err != nil {
		// The mapping can disappear between lookup and the increment if a
		// delete races the redirect.
		return "", err
	}

	return updated.Target, nil
}

// routingScope returns 0 for the default domain (any code resolves) or the
// owning account id for a registered custom domain.
func (r *resolver) routingScope(ctx context.Context, host string) (int64, error) {
	host = stripPort(host)
	if host == "" {
		return 0, repository.ErrMappingNotFound
	}
	if strings.EqualFold(host, r.defaultDomain) {
		return 0, nil
	}

	account, err := r.accounts.GetByCustomDomain(ctx, host)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return 0, repository.ErrMappingNotFound
		}
		return 0, err
	}

	return account.ID, nil
}

func (r *resolver) lookup(ctx context.Context, code string) (*models.ShortMapping, error) {
	m, err := r.cache.GetMapping(ctx, code)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		r.logger.Warn("mapping cache read failed", zap.String("code", code), zap.Error(err))
	}

	m, err = r.mappings.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := r.cache.SetMapping(ctx, m); err != nil {
		r.logger.Warn("mapping cache write failed", zap.String("code", code), zap.Error(err))
	}

	return m, nil
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
