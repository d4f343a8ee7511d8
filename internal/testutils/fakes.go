package testutils

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MagnunAVF/smllr/internal"
)

// FakeStore is an in-memory durable store. Counter updates happen under the
// lock, mirroring the single-statement increment of the real store.
type FakeStore struct {
	mu           sync.Mutex
	urls         map[string]*internal.ShortURL
	fingerprints map[uint64]*internal.Fingerprint
	clicks       []internal.Click
	nextID       uint64

	FindCalls atomic.Int32

	// error injection
	FindErr        error
	FingerprintErr error
	RecordErr      error
	CreateErr      error
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		urls:         make(map[string]*internal.ShortURL),
		fingerprints: make(map[uint64]*internal.Fingerprint),
	}
}

func (s *FakeStore) Put(u internal.ShortURL) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls[u.Code] = &u
}

func (s *FakeStore) Delete(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.urls, code)
}

func (s *FakeStore) PutFingerprint(fp internal.Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints[fp.ID] = &fp
}

func (s *FakeStore) FindByCode(_ context.Context, code string) (*internal.ShortURL, error) {
	s.FindCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FindErr != nil {
		return nil, s.FindErr
	}
	u, ok := s.urls[code]
	if !ok {
		return nil, internal.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *FakeStore) FindFingerprintByID(_ context.Context, id uint64) (*internal.Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.fingerprints[id]
	if !ok {
		return nil, internal.ErrNotFound
	}
	cp := *fp
	return &cp, nil
}

func (s *FakeStore) CreateFingerprint(_ context.Context, fp *internal.Fingerprint) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FingerprintErr != nil {
		return 0, s.FingerprintErr
	}
	s.nextID++
	fp.ID = s.nextID
	cp := *fp
	s.fingerprints[fp.ID] = &cp
	return fp.ID, nil
}

func (s *FakeStore) RecordClick(_ context.Context, code string, fingerprintID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecordErr != nil {
		return s.RecordErr
	}
	u, ok := s.urls[code]
	if !ok {
		return internal.ErrNotFound
	}
	u.Clicks++
	fid := fingerprintID
	s.clicks = append(s.clicks, internal.Click{ShortCode: code, FingerprintID: &fid, ClickedAt: time.Now()})
	return nil
}

func (s *FakeStore) CreateShortURL(_ context.Context, u *internal.ShortURL) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	if _, ok := s.urls[u.Code]; ok {
		return internal.ErrCodeTaken
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	cp := *u
	s.urls[u.Code] = &cp
	return nil
}

func (s *FakeStore) CountAnonymousByIP(_ context.Context, ip string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, u := range s.urls {
		if u.OwnerID == nil && u.CreatorIP == ip {
			n++
		}
	}
	return n, nil
}

func (s *FakeStore) LatestClicks(_ context.Context, code string, limit int) ([]internal.Click, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []internal.Click
	for i := len(s.clicks) - 1; i >= 0 && len(out) < limit; i-- {
		c := s.clicks[i]
		if c.ShortCode != code {
			continue
		}
		if c.FingerprintID != nil {
			if fp, ok := s.fingerprints[*c.FingerprintID]; ok {
				cp := *fp
				c.Fingerprint = &cp
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *FakeStore) Clicks(code string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.urls[code]; ok {
		return u.Clicks
	}
	return 0
}

func (s *FakeStore) ClickRecords() []internal.Click {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]internal.Click(nil), s.clicks...)
}

func (s *FakeStore) FingerprintCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fingerprints)
}

// FakeCache is an in-memory resolution cache with switchable failure.
type FakeCache struct {
	mu      sync.Mutex
	entries map[string]internal.CachedShortURL

	GetErr error
	SetErr error
}

func NewFakeCache() *FakeCache {
	return &FakeCache{entries: make(map[string]internal.CachedShortURL)}
}

func (c *FakeCache) Get(_ context.Context, code string) (*internal.CachedShortURL, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetErr != nil {
		return nil, c.GetErr
	}
	v, ok := c.entries[code]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (c *FakeCache) Set(_ context.Context, view internal.CachedShortURL) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SetErr != nil {
		return c.SetErr
	}
	c.entries[view.Code] = view
	return nil
}

func (c *FakeCache) Has(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[code]
	return ok
}

// FakePublisher collects published tasks.
type FakePublisher struct {
	mu    sync.Mutex
	tasks []internal.ClickTask

	Err error
}

func (p *FakePublisher) Publish(_ context.Context, task internal.ClickTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *FakePublisher) Tasks() []internal.ClickTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]internal.ClickTask(nil), p.tasks...)
}
