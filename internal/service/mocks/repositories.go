// Package mocks provides in-memory implementations of the repository
// boundaries for service tests. All stores are mutex-guarded so tests can
// exercise concurrent access.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/scissor-app/scissor/internal/models"
	"github.com/scissor-app/scissor/internal/repository"
)

// MockStore implements repository.MappingRepository and
// repository.TombstoneRepository over shared in-memory state, mirroring the
// two tables one database holds.
type MockStore struct {
	mu         sync.Mutex
	byCode     map[string]*models.ShortMapping
	tombstones map[int64]*models.DeletedMapping
	nextID     int64
	nextTombID int64
}

func NewMockStore() *MockStore {
	return &MockStore{
		byCode:     make(map[string]*models.ShortMapping),
		tombstones: make(map[int64]*models.DeletedMapping),
		nextID:     1,
		nextTombID: 1,
	}
}

func (m *MockStore) Create(ctx context.Context, mapping *models.ShortMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byCode[mapping.Code]; exists {
		return repository.ErrCodeExists
	}
	for _, existing := range m.byCode {
		if existing.OwnerID == mapping.OwnerID && existing.Target == mapping.Target {
			return repository.ErrTargetExists
		}
	}

	mapping.ID = m.nextID
	m.nextID++
	now := time.Now()
	mapping.CreatedAt = now
	mapping.UpdatedAt = now

	stored := cloneMapping(mapping)
	m.byCode[mapping.Code] = stored
	return nil
}

func (m *MockStore) GetByCode(ctx context.Context, code string) (*models.ShortMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mapping, exists := m.byCode[code]
	if !exists {
		return nil, repository.ErrMappingNotFound
	}
	return cloneMapping(mapping), nil
}

func (m *MockStore) GetByOwnerAndTarget(ctx context.Context, ownerID int64, target string) (*models.ShortMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mapping := range m.byCode {
		if mapping.OwnerID == ownerID && mapping.Target == target {
			return cloneMapping(mapping), nil
		}
	}
	return nil, repository.ErrMappingNotFound
}

func (m *MockStore) ListByOwner(ctx context.Context, ownerID int64) ([]models.ShortMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var mappings []models.ShortMapping
	for _, mapping := range m.byCode {
		if mapping.OwnerID == ownerID {
			mappings = append(mappings, *cloneMapping(mapping))
		}
	}
	return mappings, nil
}

func (m *MockStore) UpdateTarget(ctx context.Context, code string, ownerID int64, target string) (*models.ShortMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mapping, exists := m.byCode[code]
	if !exists || mapping.OwnerID != ownerID {
		return nil, repository.ErrMappingNotFound
	}
	for _, other := range m.byCode {
		if other.Code != code && other.OwnerID == ownerID && other.Target == target {
			return nil, repository.ErrTargetExists
		}
	}

	mapping.Target = target
	mapping.UpdatedAt = time.Now()
	return cloneMapping(mapping), nil
}

func (m *MockStore) SetQRArtifact(ctx context.Context, code string, artifact *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mapping, exists := m.byCode[code]
	if !exists {
		return repository.ErrMappingNotFound
	}

	if artifact == nil {
		mapping.QRArtifact = nil
	} else {
		ref := *artifact
		mapping.QRArtifact = &ref
	}
	mapping.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) SoftDelete(ctx context.Context, code string, ownerID int64) (*models.DeletedMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mapping, exists := m.byCode[code]
	if !exists || mapping.OwnerID != ownerID {
		return nil, repository.ErrMappingNotFound
	}

	tombstone := &models.DeletedMapping{
		ID:        m.nextTombID,
		Target:    mapping.Target,
		OwnerID:   mapping.OwnerID,
		CreatedAt: mapping.CreatedAt,
		DeletedAt: time.Now(),
	}
	m.nextTombID++

	delete(m.byCode, code)
	m.tombstones[tombstone.ID] = tombstone

	t := *tombstone
	return &t, nil
}

func (m *MockStore) RecordVisit(ctx context.Context, code, referrerKey string) (*models.ShortMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mapping, exists := m.byCode[code]
	if !exists {
		return nil, repository.ErrMappingNotFound
	}

	mapping.Clicks++
	mapping.Referrers[referrerKey]++
	mapping.UpdatedAt = time.Now()
	return cloneMapping(mapping), nil
}

func (m *MockStore) GetByID(ctx context.Context, id int64) (*models.DeletedMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tombstone, exists := m.tombstones[id]
	if !exists {
		return nil, repository.ErrTombstoneNotFound
	}
	t := *tombstone
	return &t, nil
}

func (m *MockStore) ListByOwnerDeleted(ctx context.Context, ownerID int64) ([]models.DeletedMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tombstones []models.DeletedMapping
	for _, t := range m.tombstones {
		if t.OwnerID == ownerID {
			tombstones = append(tombstones, *t)
		}
	}
	return tombstones, nil
}

func (m *MockStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tombstones[id]; !exists {
		return repository.ErrTombstoneNotFound
	}
	delete(m.tombstones, id)
	return nil
}

// Tombstones exposes the MockStore as a TombstoneRepository. The list
// method differs in name between the two interfaces, so the adapter picks
// the right one.
func (m *MockStore) Tombstones() repository.TombstoneRepository {
	return tombstoneView{m}
}

type tombstoneView struct {
	store *MockStore
}

func (v tombstoneView) GetByID(ctx context.Context, id int64) (*models.DeletedMapping, error) {
	return v.store.GetByID(ctx, id)
}

func (v tombstoneView) ListByOwner(ctx context.Context, ownerID int64) ([]models.DeletedMapping, error) {
	return v.store.ListByOwnerDeleted(ctx, ownerID)
}

func (v tombstoneView) Delete(ctx context.Context, id int64) error {
	return v.store.Delete(ctx, id)
}

func cloneMapping(m *models.ShortMapping) *models.ShortMapping {
	clone := *m
	clone.Referrers = make(map[string]int64, len(m.Referrers))
	for k, v := range m.Referrers {
		clone.Referrers[k] = v
	}
	if m.QRArtifact != nil {
		ref := *m.QRArtifact
		clone.QRArtifact = &ref
	}
	return &clone
}

// MockCacheRepository implements repository.CacheRepository in memory.
type MockCacheRepository struct {
	mu      sync.Mutex
	byCode  map[string]*models.ShortMapping
	byOwner map[int64][]models.ShortMapping
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{
		byCode:  make(map[string]*models.ShortMapping),
		byOwner: make(map[int64][]models.ShortMapping),
	}
}

func (m *MockCacheRepository) GetMapping(ctx context.Context, code string) (*models.ShortMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mapping, exists := m.byCode[code]
	if !exists {
		return nil, repository.ErrCacheMiss
	}
	return cloneMapping(mapping), nil
}

func (m *MockCacheRepository) SetMapping(ctx context.Context, mapping *models.ShortMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byCode[mapping.Code] = cloneMapping(mapping)
	return nil
}

func (m *MockCacheRepository) GetOwnerList(ctx context.Context, ownerID int64) ([]models.ShortMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list, exists := m.byOwner[ownerID]
	if !exists {
		return nil, repository.ErrCacheMiss
	}
	return append([]models.ShortMapping(nil), list...), nil
}

func (m *MockCacheRepository) SetOwnerList(ctx context.Context, ownerID int64, mappings []models.ShortMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byOwner[ownerID] = append([]models.ShortMapping(nil), mappings...)
	return nil
}

func (m *MockCacheRepository) Invalidate(ctx context.Context, code string, ownerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byCode, code)
	delete(m.byOwner, ownerID)
	return nil
}

// MockAccountProvider implements repository.AccountProvider over a fixed
// account set.
type MockAccountProvider struct {
	mu       sync.Mutex
	accounts map[int64]*models.Account
}

func NewMockAccountProvider() *MockAccountProvider {
	return &MockAccountProvider{
		accounts: make(map[int64]*models.Account),
	}
}

func (m *MockAccountProvider) AddAccount(id int64, customDomain *string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id] = &models.Account{ID: id, CustomDomain: customDomain}
}

func (m *MockAccountProvider) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, exists := m.accounts[id]
	if !exists {
		return nil, repository.ErrAccountNotFound
	}
	a := *account
	return &a, nil
}

func (m *MockAccountProvider) GetByCustomDomain(ctx context.Context, domain string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, account := range m.accounts {
		if account.CustomDomain != nil && *account.CustomDomain == domain {
			a := *account
			return &a, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

// MockQRArtifacts records ensure/invalidate calls without touching disk.
type MockQRArtifacts struct {
	mu        sync.Mutex
	Artifacts map[string]string // code -> encoded URL
}

func NewMockQRArtifacts() *MockQRArtifacts {
	return &MockQRArtifacts{
		Artifacts: make(map[string]string),
	}
}

func (m *MockQRArtifacts) EnsureArtifact(ctx context.Context, code, resolvableURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Artifacts[code] = resolvableURL
	return "qr/" + code + "_qrcode.png", nil
}

func (m *MockQRArtifacts) InvalidateArtifact(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Artifacts, code)
	return nil
}
