// Package shorten creates short URLs. Every rejection is one of the sentinel
// errors in package internal so callers can map them without string checks.
package shorten

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/MagnunAVF/smllr/internal"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

type Store interface {
	CreateShortURL(ctx context.Context, u *internal.ShortURL) error
	CountAnonymousByIP(ctx context.Context, ip string) (int64, error)
}

type Request struct {
	Destination string
	Code        string
	Name        string
	OwnerID     *int64
	CreatorIP   string
}

type Service struct {
	store        Store
	ids          *internal.IDGenerator
	maxAnonymous int64
}

func NewService(store Store, ids *internal.IDGenerator, maxAnonymous int) *Service {
	return &Service{store: store, ids: ids, maxAnonymous: int64(maxAnonymous)}
}

func (s *Service) Create(ctx context.Context, req Request) (*internal.ShortURL, error) {
	if !validDestination(req.Destination) {
		return nil, internal.ErrInvalidURL
	}

	code := strings.TrimSpace(req.Code)
	if code != "" && !codePattern.MatchString(code) {
		return nil, internal.ErrInvalidCode
	}

	if req.OwnerID == nil {
		n, err := s.store.CountAnonymousByIP(ctx, req.CreatorIP)
		if err != nil {
			return nil, err
		}
		if n >= s.maxAnonymous {
			return nil, internal.ErrLimitReached
		}
	}

	id := s.ids.NextID()
	if code == "" {
		code = internal.EncodeID(id)
	}

	u := &internal.ShortURL{
		ID:          int64(id),
		Code:        code,
		Destination: req.Destination,
		OwnerID:     req.OwnerID,
		CreatorIP:   req.CreatorIP,
		Name:        strings.TrimSpace(req.Name),
	}
	if err := s.store.CreateShortURL(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func validDestination(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
