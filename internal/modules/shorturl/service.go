package shorturl

import (
	"context"
	"errors"
	"time"

	"github.com/mx-space/shortener/internal/config"
	"github.com/mx-space/shortener/internal/models"
	"github.com/mx-space/shortener/internal/pkg/cache"
	"github.com/mx-space/shortener/internal/pkg/reputation"
	"go.uber.org/zap"
)

var (
	ErrInvalidURL   = errors.New("invalid url")
	ErrURLTooLong   = errors.New("url too long")
	ErrAliasInvalid = errors.New("alias invalid")
	ErrAliasTaken   = errors.New("alias taken")
	ErrExpiryInPast = errors.New("expiry in past")
	ErrURLBlocked   = errors.New("url blocked by reputation service")
)

// CreateInput is a validated ingestion request.
type CreateInput struct {
	URL         string
	CustomAlias string
	ExpiresAt   *time.Time
	Metadata    models.JSONMap
	CreatorIP   string
	CreatorUA   string
}

// CreateResult is the ingestion outcome. IsNew is false when an existing
// record for the same normalized URL was returned instead.
type CreateResult struct {
	Code      string     `json:"code"`
	ShortURL  string     `json:"shortUrl"`
	Original  string     `json:"original"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	IsNew     bool       `json:"isNew"`
}

// Service orchestrates normalization, allocation, persistence and cache
// priming for short URLs. It owns the record invariants.
type Service struct {
	store  Store
	cache  *cache.RedirectCache
	rep    *reputation.Checker
	cfg    *config.AppConfig
	logger *zap.Logger
	alloc  allocator

	// metric hooks, any may be nil
	onCreated   func()
	onCacheHit  func()
	onCacheMiss func()
}

func NewService(store Store, rc *cache.RedirectCache, rep *reputation.Checker, cfg *config.AppConfig, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		cache:  rc,
		rep:    rep,
		cfg:    cfg,
		logger: logger,
		alloc:  allocator{store: store, length: cfg.CodeLength},
	}
}

// WithCreatedHook installs a metric callback fired on each new record.
func (s *Service) WithCreatedHook(fn func()) *Service {
	s.onCreated = fn
	return s
}

// WithCacheHooks installs metric callbacks for resolve cache hits/misses.
func (s *Service) WithCacheHooks(onHit, onMiss func()) *Service {
	s.onCacheHit = onHit
	s.onCacheMiss = onMiss
	return s
}

// CreateShort validates, dedups, allocates and persists a short URL.
func (s *Service) CreateShort(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if len(in.URL) > s.cfg.MaxURLLength {
		return nil, ErrURLTooLong
	}
	if !ValidScheme(in.URL) {
		return nil, ErrInvalidURL
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(time.Now()) {
		return nil, ErrExpiryInPast
	}

	if s.cfg.EnableURLScanning && s.rep != nil {
		flagged, err := s.rep.Check(ctx, in.URL)
		if err != nil {
			// Fail-open: the reputation probe must never block ingestion.
			s.logger.Warn("reputation check failed, allowing url", zap.Error(err))
		} else if flagged {
			return nil, ErrURLBlocked
		}
	}

	normalized := Normalize(in.URL)

	existing, err := s.store.FindByNormalized(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !existing.IsExpired(time.Now()) {
			return s.result(existing, false), nil
		}
		return s.revive(ctx, existing, in)
	}

	code := in.CustomAlias
	if code != "" {
		if err := validateAlias(code, s.cfg.AliasMinLength, s.cfg.AliasMaxLength); err != nil {
			return nil, err
		}
	} else {
		code, err = s.alloc.generate(ctx)
		if err != nil {
			return nil, err
		}
	}

	record := &models.UrlModel{
		Code:        code,
		Original:    in.URL,
		Normalized:  normalized,
		CustomAlias: in.CustomAlias,
		ExpiresAt:   in.ExpiresAt,
		CreatorIP:   in.CreatorIP,
		CreatorUA:   in.CreatorUA,
		Metadata:    in.Metadata,
	}

	if err := s.insertWithRetry(ctx, record, in.CustomAlias != ""); err != nil {
		var uv *UniqueViolation
		if errors.As(err, &uv) && uv.Field == "normalized" {
			// Concurrent duplicate: the other writer won, return its record.
			winner, ferr := s.store.FindByNormalized(ctx, normalized)
			if ferr == nil && winner != nil {
				return s.result(winner, false), nil
			}
		}
		return nil, err
	}

	s.primeCache(ctx, record)
	if s.onCreated != nil {
		s.onCreated()
	}
	s.logger.Info("short url created",
		zap.String("code", record.Code),
		zap.String("normalized", normalized),
		zap.Bool("custom_alias", in.CustomAlias != ""))

	return s.result(record, true), nil
}

// insertWithRetry inserts the record; a generated-code collision is retried
// once with a fresh allocation. Custom aliases surface ErrAliasTaken.
func (s *Service) insertWithRetry(ctx context.Context, record *models.UrlModel, custom bool) error {
	err := s.store.Insert(ctx, record)
	var uv *UniqueViolation
	if err == nil || !errors.As(err, &uv) || uv.Field != "code" {
		return err
	}
	if custom {
		return ErrAliasTaken
	}

	code, aerr := s.alloc.generate(ctx)
	if aerr != nil {
		return aerr
	}
	record.ID = ""
	record.Code = code
	return s.store.Insert(ctx, record)
}

// revive reuses an expired record that still owns the normalized key: the
// expiry, provenance and metadata are replaced and the code is kept.
func (s *Service) revive(ctx context.Context, record *models.UrlModel, in CreateInput) (*CreateResult, error) {
	record.Original = in.URL
	record.ExpiresAt = in.ExpiresAt
	record.CreatorIP = in.CreatorIP
	record.CreatorUA = in.CreatorUA
	if in.Metadata != nil {
		record.Metadata = in.Metadata
	}
	if err := s.store.Update(ctx, record); err != nil {
		return nil, err
	}
	s.primeCache(ctx, record)
	return s.result(record, true), nil
}

// Resolve returns the redirect target for a code, cache-first. A store hit
// repopulates the cache. Returns nil when the code is unknown.
func (s *Service) Resolve(ctx context.Context, code string) (*cache.Target, error) {
	if target, err := s.cache.Get(ctx, code); err == nil && target != nil {
		if s.onCacheHit != nil {
			s.onCacheHit()
		}
		return target, nil
	} else if err != nil {
		s.logger.Warn("cache read failed", zap.String("code", code), zap.Error(err))
	}
	if s.onCacheMiss != nil {
		s.onCacheMiss()
	}

	record, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	target := targetOf(record)
	if err := s.cache.Set(ctx, target); err != nil {
		s.logger.Warn("cache prime failed", zap.String("code", code), zap.Error(err))
	}
	return target, nil
}

// FindByCode returns the full record from the primary store.
func (s *Service) FindByCode(ctx context.Context, code string) (*models.UrlModel, error) {
	return s.store.FindByCode(ctx, code)
}

// DeleteByCode removes the record and invalidates the cache entry. The
// cache invalidation is authoritative; its failure surfaces to the caller.
func (s *Service) DeleteByCode(ctx context.Context, code string) (bool, error) {
	deleted, err := s.store.Delete(ctx, code)
	if err != nil {
		return false, err
	}
	if err := s.cache.Invalidate(ctx, code); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// IncrementHitCount bumps the best-effort counter and opportunistically
// refreshes the cached snapshot. Never propagates an error.
func (s *Service) IncrementHitCount(ctx context.Context, code string, delta int64) {
	if err := s.store.IncrementHitCount(ctx, code, delta); err != nil {
		s.logger.Warn("hit count increment failed", zap.String("code", code), zap.Error(err))
		return
	}
	if target, err := s.cache.Get(ctx, code); err == nil && target != nil {
		target.HitCount += delta
		_ = s.cache.Set(ctx, target)
	}
}

// List returns a page of records plus the total row count.
func (s *Service) List(ctx context.Context, f ListFilter) ([]models.UrlModel, int64, error) {
	return s.store.List(ctx, f)
}

// Stats returns total/active/expired counts.
func (s *Service) Stats(ctx context.Context) (total, active, expired int64, err error) {
	return s.store.Stats(ctx)
}

func (s *Service) primeCache(ctx context.Context, record *models.UrlModel) {
	if err := s.cache.Set(ctx, targetOf(record)); err != nil {
		s.logger.Warn("cache prime failed", zap.String("code", record.Code), zap.Error(err))
	}
}

func (s *Service) result(record *models.UrlModel, isNew bool) *CreateResult {
	return &CreateResult{
		Code:      record.Code,
		ShortURL:  s.cfg.ShortURL(record.Code),
		Original:  record.Original,
		CreatedAt: record.CreatedAt,
		ExpiresAt: record.ExpiresAt,
		IsNew:     isNew,
	}
}

func targetOf(record *models.UrlModel) *cache.Target {
	return &cache.Target{
		Code:      record.Code,
		Original:  record.Original,
		ExpiresAt: record.ExpiresAt,
		HitCount:  record.HitCount,
	}
}
