// Package redirect resolves short codes for the redirect endpoint.
//
// The only hard dependency of a redirect is the durable store on a cache
// miss. The cache, fingerprint persistence and click publishing are all
// best-effort: each runs under its own timeout and any failure is logged and
// dropped.
package redirect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MagnunAVF/smllr/internal"
	"github.com/MagnunAVF/smllr/internal/fingerprint"
	applog "github.com/MagnunAVF/smllr/internal/logger"
)

type Cache interface {
	Get(ctx context.Context, code string) (*internal.CachedShortURL, error)
	Set(ctx context.Context, view internal.CachedShortURL) error
}

type Store interface {
	FindByCode(ctx context.Context, code string) (*internal.ShortURL, error)
	CreateFingerprint(ctx context.Context, fp *internal.Fingerprint) (uint64, error)
}

type Publisher interface {
	Publish(ctx context.Context, task internal.ClickTask) error
}

// Result is either a redirect to Destination or not found.
type Result struct {
	Destination string
	Found       bool
}

func Redirect(destination string) Result { return Result{Destination: destination, Found: true} }

func NotFound() Result { return Result{} }

type Config struct {
	ExpirationWindow time.Duration
	CacheTimeout     time.Duration
	AnalyticsTimeout time.Duration
}

type Service struct {
	cache     Cache
	store     Store
	publisher Publisher
	cfg       Config
	now       func() time.Time
}

func NewService(cache Cache, store Store, publisher Publisher, cfg Config) *Service {
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = 250 * time.Millisecond
	}
	if cfg.AnalyticsTimeout <= 0 {
		cfg.AnalyticsTimeout = time.Second
	}
	return &Service{
		cache:     cache,
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// HandleRedirect resolves code and, when it resolves, records the visit
// best-effort before returning the redirect. The returned error is set only
// when the durable store itself fails.
func (s *Service) HandleRedirect(ctx context.Context, code string, headers http.Header, remoteAddr string) (Result, error) {
	fp := fingerprint.Extract(headers, remoteAddr)

	view, err := s.Resolve(ctx, code)
	if err != nil {
		return NotFound(), err
	}
	if view == nil {
		return NotFound(), nil
	}

	s.recordVisit(ctx, code, &fp)
	return Redirect(view.Destination), nil
}

// Resolve returns the live view for code, or nil when it does not exist or
// has expired. Expiry is evaluated on every call, cached or not.
func (s *Service) Resolve(ctx context.Context, code string) (*internal.CachedShortURL, error) {
	log := applog.FromContext(ctx).With("short_code", code)

	if view := s.cacheGet(ctx, log, code); view != nil {
		if s.expired(*view) {
			log.Debug("Cached short URL expired")
			return nil, nil
		}
		return view, nil
	}

	rec, err := s.store.FindByCode(ctx, code)
	if errors.Is(err, internal.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", code, err)
	}

	view := rec.View()
	if s.expired(view) {
		log.Debug("Short URL expired")
		return nil, nil
	}

	s.cacheSet(ctx, log, view)
	return &view, nil
}

func (s *Service) expired(v internal.CachedShortURL) bool {
	return v.IsExpired(s.now(), s.cfg.ExpirationWindow)
}

// cacheGet treats any backend fault as a miss but logs it separately.
func (s *Service) cacheGet(ctx context.Context, log *slog.Logger, code string) *internal.CachedShortURL {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CacheTimeout)
	defer cancel()

	view, err := s.cache.Get(ctx, code)
	if err != nil {
		log.Error("Cache read failed, falling back to store", "err", err)
		return nil
	}
	if view == nil {
		log.Debug("Cache miss")
	}
	return view
}

func (s *Service) cacheSet(ctx context.Context, log *slog.Logger, view internal.CachedShortURL) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CacheTimeout)
	defer cancel()

	if err := s.cache.Set(ctx, view); err != nil {
		log.Error("Cache write failed", "err", err)
	}
}

// recordVisit persists the fingerprint and enqueues the click. It only waits
// for the broker to accept the task, never for the click to be stored.
func (s *Service) recordVisit(ctx context.Context, code string, fp *internal.Fingerprint) {
	log := applog.FromContext(ctx).With("short_code", code)

	// the client may hang up right after the redirect; analytics still runs
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AnalyticsTimeout)
	defer cancel()

	id, err := s.store.CreateFingerprint(ctx, fp)
	if err != nil {
		log.Error("Failed to persist fingerprint", "err", err)
		return
	}

	task := internal.ClickTask{
		Code:          code,
		FingerprintID: id,
		RequestID:     applog.RequestID(ctx),
		EnqueuedAt:    s.now(),
	}
	if err := s.publisher.Publish(ctx, task); err != nil {
		log.Error("Failed to enqueue click", "fingerprint_id", id, "err", err)
	}
}
