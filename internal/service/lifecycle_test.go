package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/scissor-app/scissor/internal/models"
	"github.com/scissor-app/scissor/internal/repository"
	"github.com/scissor-app/scissor/internal/service"
	"github.com/scissor-app/scissor/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBaseURL       = "https://scsr.io/"
	testDefaultDomain = "scsr.io"

	ownerA int64 = 1
	ownerB int64 = 2
)

const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// testEnv wires the lifecycle service and resolver onto shared in-memory
// stores, the way one database and one Redis back both in production.
type testEnv struct {
	lifecycle service.LifecycleService
	resolver  service.Resolver
	store     *mocks.MockStore
	cache     *mocks.MockCacheRepository
	accounts  *mocks.MockAccountProvider
	qr        *mocks.MockQRArtifacts
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := mocks.NewMockStore()
	cache := mocks.NewMockCacheRepository()
	accounts := mocks.NewMockAccountProvider()
	qrArtifacts := mocks.NewMockQRArtifacts()
	logger := zap.NewNop()

	customDomain := "links.example.com"
	accounts.AddAccount(ownerA, nil)
	accounts.AddAccount(ownerB, &customDomain)

	lifecycle := service.NewLifecycleService(
		store, store.Tombstones(), accounts, cache, qrArtifacts, testBaseURL, logger)
	resolver := service.NewResolver(store, accounts, cache, testDefaultDomain, logger)

	return &testEnv{
		lifecycle: lifecycle,
		resolver:  resolver,
		store:     store,
		cache:     cache,
		accounts:  accounts,
		qr:        qrArtifacts,
	}
}

func TestLifecycle_Shorten_Success(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	m, created, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/page")

	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, m.Code, service.CodeLength)
	assert.Equal(t, "https://example.com/page", m.Target)
	assert.Equal(t, ownerA, m.OwnerID)
	assert.EqualValues(t, 0, m.Clicks)
	assert.Equal(t, map[string]int64{models.UnknownReferrer: 0}, m.Referrers)

	for _, r := range m.Code {
		assert.Contains(t, codeAlphabet, string(r))
	}
}

func TestLifecycle_Shorten_InvalidURL(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	invalid := []string{
		"",
		"not-a-url",
		"example.com/no-scheme",
		"ftp://example.com/file",
		"https://",
		"https://example.com/" + strings.Repeat("x", 1100),
	}

	for _, target := range invalid {
		m, _, err := env.lifecycle.Shorten(ctx, ownerA, target)
		assert.ErrorIs(t, err, service.ErrInvalidURL, "target should be rejected: %q", target)
		assert.Nil(t, m)
	}
}

func TestLifecycle_Shorten_IdempotentReuse(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	first, created, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/page")
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/page")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Code, second.Code)

	all, err := env.lifecycle.List(ctx, ownerA)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// A different owner shortening the same target gets their own mapping.
	other, created, err := env.lifecycle.Shorten(ctx, ownerB, "https://example.com/page")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.Code, other.Code)
}

func TestLifecycle_Shorten_CodesAreUnique(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	codes := make(map[string]bool)
	for i := 0; i < 200; i++ {
		m, _, err := env.lifecycle.Shorten(ctx, ownerA, fmt.Sprintf("https://example.com/page/%d", i))
		require.NoError(t, err)
		assert.NotContains(t, codes, m.Code)
		codes[m.Code] = true
	}
}

func TestLifecycle_Shorten_ConcurrentSameTargetReusesOneMapping(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	const callers = 64

	start := make(chan struct{})
	results := make(chan struct {
		code    string
		created bool
		err     error
	}, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			m, created, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/page")
			r := struct {
				code    string
				created bool
				err     error
			}{created: created, err: err}
			if m != nil {
				r.code = m.Code
			}
			results <- r
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var codes []string
	createdCount := 0
	for r := range results {
		require.NoError(t, r.err)
		codes = append(codes, r.code)
		if r.created {
			createdCount++
		}
	}

	require.Len(t, codes, callers)
	for _, code := range codes {
		assert.Equal(t, codes[0], code, "every caller must see the same mapping")
	}
	assert.Equal(t, 1, createdCount, "exactly one caller creates")

	all, err := env.lifecycle.List(ctx, ownerA)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLifecycle_Update_RejectsDuplicateTarget(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	first, _, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/one")
	require.NoError(t, err)
	second, _, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/two")
	require.NoError(t, err)

	_, err = env.lifecycle.Update(ctx, ownerA, second.Code, "https://example.com/one")
	assert.ErrorIs(t, err, repository.ErrTargetExists)

	// The losing update left both mappings intact.
	got, err := env.lifecycle.Get(ctx, ownerA, first.Code)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/one", got.Target)
	got, err = env.lifecycle.Get(ctx, ownerA, second.Code)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/two", got.Target)
}

// exhaustedStore rejects every insert as a code collision.
type exhaustedStore struct {
	*mocks.MockStore
}

func (s exhaustedStore) Create(ctx context.Context, m *models.ShortMapping) error {
	return repository.ErrCodeExists
}

func TestLifecycle_Shorten_CollisionRetriesBounded(t *testing.T) {
	store := mocks.NewMockStore()
	env := setupTestEnv(t)

	lifecycle := service.NewLifecycleService(
		exhaustedStore{store}, store.Tombstones(), env.accounts,
		mocks.NewMockCacheRepository(), mocks.NewMockQRArtifacts(), testBaseURL, zap.NewNop())

	_, _, err := lifecycle.Shorten(context.Background(), ownerA, "https://example.com/page")
	assert.ErrorIs(t, err, service.ErrCodeSpaceExhausted)
}

func TestLifecycle_Get_OwnershipIsolation(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	m, _, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/page")
	require.NoError(t, err)

	// The non-owner sees not-found, never the data.
	_, err = env.lifecycle.Get(ctx, ownerB, m.Code)
	assert.ErrorIs(t, err, repository.ErrMappingNotFound)

	_, err = env.lifecycle.Update(ctx, ownerB, m.Code, "https://evil.example.com/")
	assert.ErrorIs(t, err, repository.ErrMappingNotFound)

	err = env.lifecycle.Delete(ctx, ownerB, m.Code)
	assert.ErrorIs(t, err, repository.ErrMappingNotFound)

	// The owner's view is intact.
	got, err := env.lifecycle.Get(ctx, ownerA, m.Code)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/page", got.Target)
}

func TestLifecycle_Update_ChangesTargetKeepsCode(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	m, _, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/old")
	require.NoError(t, err)

	updated, err := env.lifecycle.Update(ctx, ownerA, m.Code, "https://example.com/new")
	require.NoError(t, err)
	assert.Equal(t, m.Code, updated.Code)
	assert.Equal(t, "https://example.com/new", updated.Target)

	_, err = env.lifecycle.Update(ctx, ownerA, m.Code, "not a url")
	assert.ErrorIs(t, err, service.ErrInvalidURL)
}

func TestLifecycle_DeleteAndRestore_RoundTrip(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	m, _, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/page")
	require.NoError(t, err)

	require.NoError(t, env.lifecycle.Delete(ctx, ownerA, m.Code))

	// The active mapping is gone.
	_, err = env.lifecycle.Get(ctx, ownerA, m.Code)
	assert.ErrorIs(t, err, repository.ErrMappingNotFound)

	// Its essential data survives as a tombstone.
	tombstones, err := env.lifecycle.ListDeleted(ctx, ownerA)
	require.NoError(t, err)
	require.Len(t, tombstones, 1)
	assert.Equal(t, "https://example.com/page", tombstones[0].Target)
	assert.Equal(t, m.CreatedAt.Unix(), tombstones[0].CreatedAt.Unix())

	// Restore revives the target under a fresh code and consumes the
	// tombstone.
	restored, created, err := env.lifecycle.Restore(ctx, ownerA, tombstones[0].ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "https://example.com/page", restored.Target)
	assert.NotEqual(t, m.Code, restored.Code)
	assert.EqualValues(t, 0, restored.Clicks)

	tombstones, err = env.lifecycle.ListDeleted(ctx, ownerA)
	require.NoError(t, err)
	assert.Empty(t, tombstones)
}

func TestLifecycle_Restore_ReusesExistingMapping(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	m, _, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/page")
	require.NoError(t, err)
	require.NoError(t, env.lifecycle.Delete(ctx, ownerA, m.Code))

	// The owner shortens the same target again before restoring.
	again, _, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/page")
	require.NoError(t, err)

	tombstones, err := env.lifecycle.ListDeleted(ctx, ownerA)
	require.NoError(t, err)
	require.Len(t, tombstones, 1)

	restored, created, err := env.lifecycle.Restore(ctx, ownerA, tombstones[0].ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, again.Code, restored.Code)

	tombstones, err = env.lifecycle.ListDeleted(ctx, ownerA)
	require.NoError(t, err)
	assert.Empty(t, tombstones)
}

// racingStore makes the first insert lose to a competing mapping for the
// same owner and target, as a concurrent shorten would.
type racingStore struct {
	*mocks.MockStore
	once sync.Once
}

func (s *racingStore) Create(ctx context.Context, m *models.ShortMapping) error {
	raced := false
	s.once.Do(func() {
		competing := &models.ShortMapping{
			Code:      "rival1",
			Target:    m.Target,
			OwnerID:   m.OwnerID,
			Referrers: models.NewReferrers(),
		}
		if err := s.MockStore.Create(ctx, competing); err == nil {
			raced = true
		}
	})
	if raced {
		return repository.ErrTargetExists
	}
	return s.MockStore.Create(ctx, m)
}

func TestLifecycle_Restore_LosingTargetRaceReusesWinner(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	m, _, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/page")
	require.NoError(t, err)
	require.NoError(t, env.lifecycle.Delete(ctx, ownerA, m.Code))

	tombstones, err := env.lifecycle.ListDeleted(ctx, ownerA)
	require.NoError(t, err)
	require.Len(t, tombstones, 1)

	// Swap in a store whose next insert loses to a concurrent shorten of
	// the same target.
	racing := &racingStore{MockStore: env.store}
	lifecycle := service.NewLifecycleService(
		racing, env.store.Tombstones(), env.accounts, env.cache,
		env.qr, testBaseURL, zap.NewNop())

	restored, created, err := lifecycle.Restore(ctx, ownerA, tombstones[0].ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "rival1", restored.Code)
	assert.Equal(t, "https://example.com/page", restored.Target)

	// The tombstone is still consumed.
	tombstones, err = env.lifecycle.ListDeleted(ctx, ownerA)
	require.NoError(t, err)
	assert.Empty(t, tombstones)
}

func TestLifecycle_Restore_OwnershipIsolation(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	m, _, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/page")
	require.NoError(t, err)
	require.NoError(t, env.lifecycle.Delete(ctx, ownerA, m.Code))

	tombstones, err := env.lifecycle.ListDeleted(ctx, ownerA)
	require.NoError(t, err)
	require.Len(t, tombstones, 1)

	_, _, err = env.lifecycle.Restore(ctx, ownerB, tombstones[0].ID)
	assert.ErrorIs(t, err, repository.ErrTombstoneNotFound)

	// The tombstone is still there for its owner.
	tombstones, err = env.lifecycle.ListDeleted(ctx, ownerA)
	require.NoError(t, err)
	assert.Len(t, tombstones, 1)
}

func TestLifecycle_ShortURL_UsesCustomDomain(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	mA, _, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/a")
	require.NoError(t, err)
	mB, _, err := env.lifecycle.Shorten(ctx, ownerB, "https://example.com/b")
	require.NoError(t, err)

	urlA, err := env.lifecycle.ShortURL(ctx, ownerA, mA.Code)
	require.NoError(t, err)
	assert.Equal(t, testBaseURL+mA.Code, urlA)

	urlB, err := env.lifecycle.ShortURL(ctx, ownerB, mB.Code)
	require.NoError(t, err)
	assert.Equal(t, "https://links.example.com/"+mB.Code, urlB)
}

func TestLifecycle_EnsureQR_LazyAndLabelled(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	m, _, err := env.lifecycle.Shorten(ctx, ownerB, "https://example.com/page")
	require.NoError(t, err)

	ref, err := env.lifecycle.EnsureQR(ctx, ownerB, m.Code)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	// The artifact encodes the custom-domain short URL with the qr label.
	assert.Equal(t, "https://links.example.com/"+m.Code+"?referrer=qr", env.qr.Artifacts[m.Code])

	got, err := env.lifecycle.Get(ctx, ownerB, m.Code)
	require.NoError(t, err)
	require.NotNil(t, got.QRArtifact)
	assert.Equal(t, ref, *got.QRArtifact)

	// Second call is a no-op returning the same reference.
	again, err := env.lifecycle.EnsureQR(ctx, ownerB, m.Code)
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	// A non-owner cannot render another account's artifact.
	_, err = env.lifecycle.EnsureQR(ctx, ownerA, m.Code)
	assert.ErrorIs(t, err, repository.ErrMappingNotFound)
}

func TestLifecycle_Update_InvalidatesQRArtifact(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	m, _, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/old")
	require.NoError(t, err)

	_, err = env.lifecycle.EnsureQR(ctx, ownerA, m.Code)
	require.NoError(t, err)
	require.Contains(t, env.qr.Artifacts, m.Code)

	updated, err := env.lifecycle.Update(ctx, ownerA, m.Code, "https://example.com/new")
	require.NoError(t, err)
	assert.Nil(t, updated.QRArtifact)
	assert.NotContains(t, env.qr.Artifacts, m.Code)
}

func TestLifecycle_Delete_RemovesQRArtifact(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	m, _, err := env.lifecycle.Shorten(ctx, ownerA, "https://example.com/page")
	require.NoError(t, err)
	_, err = env.lifecycle.EnsureQR(ctx, ownerA, m.Code)
	require.NoError(t, err)

	require.NoError(t, env.lifecycle.Delete(ctx, ownerA, m.Code))
	assert.NotContains(t, env.qr.Artifacts, m.Code)
}
