package shorturl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mx-space/shortener/internal/config"
	"github.com/mx-space/shortener/internal/models"
	"github.com/mx-space/shortener/internal/pkg/cache"
	redisc "github.com/mx-space/shortener/internal/pkg/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore is an in-memory Store with optional failure injection.
type fakeStore struct {
	mu      sync.Mutex
	byCode  map[string]*models.UrlModel
	inserts int

	insertErr func(record *models.UrlModel) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{byCode: map[string]*models.UrlModel{}}
}

func (f *fakeStore) Insert(ctx context.Context, record *models.UrlModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.insertErr != nil {
		if err := f.insertErr(record); err != nil {
			return err
		}
	}
	if _, ok := f.byCode[record.Code]; ok {
		return &UniqueViolation{Field: "code"}
	}
	for _, r := range f.byCode {
		if r.Normalized == record.Normalized {
			return &UniqueViolation{Field: "normalized"}
		}
	}
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt
	cp := *record
	f.byCode[record.Code] = &cp
	return nil
}

func (f *fakeStore) Update(ctx context.Context, record *models.UrlModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *record
	f.byCode[record.Code] = &cp
	return nil
}

func (f *fakeStore) FindByCode(ctx context.Context, code string) (*models.UrlModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.byCode[code]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) FindByNormalized(ctx context.Context, normalized string) (*models.UrlModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.byCode {
		if r.Normalized == normalized {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Delete(ctx context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byCode[code]; !ok {
		return false, nil
	}
	delete(f.byCode, code)
	return true, nil
}

func (f *fakeStore) IncrementHitCount(ctx context.Context, code string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.byCode[code]; ok {
		r.HitCount += delta
	}
	return nil
}

func (f *fakeStore) CodeExists(ctx context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byCode[code]
	return ok, nil
}

func (f *fakeStore) List(ctx context.Context, _ ListFilter) ([]models.UrlModel, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]models.UrlModel, 0, len(f.byCode))
	for _, r := range f.byCode {
		items = append(items, *r)
	}
	return items, int64(len(items)), nil
}

func (f *fakeStore) Stats(ctx context.Context) (total, active, expired int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, r := range f.byCode {
		total++
		if r.IsExpired(now) {
			expired++
		}
	}
	return total, total - expired, expired, nil
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		BaseURL:        "http://sho.rt",
		CodeLength:     7,
		MaxURLLength:   2048,
		AliasMinLength: 3,
		AliasMaxLength: 50,
	}
}

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redisc.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return NewService(store, cache.New(rc, time.Minute), nil, testConfig(), zap.NewNop())
}

func TestCreateShortDedupsNormalizedVariants(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	ctx := context.Background()

	first, err := svc.CreateShort(ctx, CreateInput{URL: "https://Example.COM/path?utm_source=x&a=1"})
	require.NoError(t, err)
	assert.True(t, first.IsNew)
	assert.Equal(t, "http://sho.rt/"+first.Code, first.ShortURL)

	second, err := svc.CreateShort(ctx, CreateInput{URL: "https://example.com/path/?a=1&utm_medium=y"})
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.Code, second.Code)
}

func TestCreateShortValidation(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	ctx := context.Background()

	_, err := svc.CreateShort(ctx, CreateInput{URL: "ftp://example.com"})
	assert.ErrorIs(t, err, ErrInvalidURL)

	long := "https://example.com/" + string(make([]byte, 3000))
	_, err = svc.CreateShort(ctx, CreateInput{URL: long})
	assert.ErrorIs(t, err, ErrURLTooLong)

	past := time.Now().Add(-time.Minute)
	_, err = svc.CreateShort(ctx, CreateInput{URL: "https://example.com", ExpiresAt: &past})
	assert.ErrorIs(t, err, ErrExpiryInPast)

	_, err = svc.CreateShort(ctx, CreateInput{URL: "https://example.com", CustomAlias: "a"})
	assert.ErrorIs(t, err, ErrAliasInvalid)

	_, err = svc.CreateShort(ctx, CreateInput{URL: "https://example.com", CustomAlias: "no spaces"})
	assert.ErrorIs(t, err, ErrAliasInvalid)
}

func TestCreateShortCustomAliasTaken(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	ctx := context.Background()

	first, err := svc.CreateShort(ctx, CreateInput{URL: "https://a.example.com", CustomAlias: "my-link"})
	require.NoError(t, err)
	assert.Equal(t, "my-link", first.Code)

	_, err = svc.CreateShort(ctx, CreateInput{URL: "https://b.example.com", CustomAlias: "my-link"})
	assert.ErrorIs(t, err, ErrAliasTaken)
}

func TestCreateShortGeneratedCollisionRetries(t *testing.T) {
	store := newFakeStore()
	failures := 1
	store.insertErr = func(record *models.UrlModel) error {
		if record.CustomAlias == "" && failures > 0 {
			failures--
			return &UniqueViolation{Field: "code"}
		}
		return nil
	}
	svc := newTestService(t, store)

	result, err := svc.CreateShort(context.Background(), CreateInput{URL: "https://example.com/retry"})
	require.NoError(t, err)
	assert.True(t, result.IsNew)
	assert.Len(t, result.Code, 7)
	assert.GreaterOrEqual(t, store.inserts, 2)
}

func TestCreateShortConcurrentDuplicateReturnsWinner(t *testing.T) {
	store := newFakeStore()
	winner := &models.UrlModel{Code: "winner1", Original: "https://example.com/race", Normalized: "https://example.com/race"}
	raced := false
	store.insertErr = func(record *models.UrlModel) error {
		if !raced {
			raced = true
			// The competing writer lands between the dedup check and our
			// insert.
			cp := *winner
			store.byCode[winner.Code] = &cp
			return &UniqueViolation{Field: "normalized"}
		}
		return nil
	}
	svc := newTestService(t, store)

	result, err := svc.CreateShort(context.Background(), CreateInput{URL: "https://example.com/race"})
	require.NoError(t, err)
	assert.False(t, result.IsNew)
	assert.Equal(t, "winner1", result.Code)
}

func TestCreateShortRevivesExpiredRecord(t *testing.T) {
	store := newFakeStore()
	expired := time.Now().Add(-time.Hour)
	store.byCode["old1234"] = &models.UrlModel{
		Code:       "old1234",
		Original:   "https://example.com/old",
		Normalized: "https://example.com/old",
		ExpiresAt:  &expired,
	}
	svc := newTestService(t, store)

	future := time.Now().Add(time.Hour)
	result, err := svc.CreateShort(context.Background(), CreateInput{URL: "https://example.com/old", ExpiresAt: &future})
	require.NoError(t, err)
	assert.True(t, result.IsNew)
	assert.Equal(t, "old1234", result.Code)
	require.NotNil(t, result.ExpiresAt)
	assert.WithinDuration(t, future, *result.ExpiresAt, time.Second)
}

func TestResolveCachesStoreHits(t *testing.T) {
	store := newFakeStore()
	var hits, misses int
	svc := newTestService(t, store).WithCacheHooks(
		func() { hits++ },
		func() { misses++ },
	)
	ctx := context.Background()

	created, err := svc.CreateShort(ctx, CreateInput{URL: "https://example.com/cached"})
	require.NoError(t, err)

	// CreateShort primes the cache, so the first resolve already hits.
	target, err := svc.Resolve(ctx, created.Code)
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, "https://example.com/cached", target.Original)
	assert.Equal(t, 1, hits)

	require.NoError(t, svc.cache.Invalidate(ctx, created.Code))
	target, err = svc.Resolve(ctx, created.Code)
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, 1, misses)

	// Repopulated on the miss.
	_, err = svc.Resolve(ctx, created.Code)
	require.NoError(t, err)
	assert.Equal(t, 2, hits)
}

func TestResolveUnknownCode(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	target, err := svc.Resolve(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, target)
}

func TestDeleteByCodeInvalidatesCache(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	created, err := svc.CreateShort(ctx, CreateInput{URL: "https://example.com/gone"})
	require.NoError(t, err)

	deleted, err := svc.DeleteByCode(ctx, created.Code)
	require.NoError(t, err)
	assert.True(t, deleted)

	target, err := svc.Resolve(ctx, created.Code)
	require.NoError(t, err)
	assert.Nil(t, target)

	deleted, err = svc.DeleteByCode(ctx, created.Code)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestIncrementHitCountRefreshesCachedSnapshot(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	created, err := svc.CreateShort(ctx, CreateInput{URL: "https://example.com/hits"})
	require.NoError(t, err)

	svc.IncrementHitCount(ctx, created.Code, 1)
	svc.IncrementHitCount(ctx, created.Code, 1)

	record, err := svc.FindByCode(ctx, created.Code)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(2), record.HitCount)

	target, err := svc.Resolve(ctx, created.Code)
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, int64(2), target.HitCount)
}
