// Package cache holds the RediSearch-backed short URL resolution cache.
//
// Records live in hashes keyed "shorturl:<code>" and are found through an
// exact-match query on the index's code field. Entries carry no TTL; expiry of
// the underlying link is decided by the caller on every read.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MagnunAVF/smllr/internal"
)

const (
	IndexName = "shorturl"
	KeyPrefix = IndexName + ":"

	fieldCode        = "code"
	fieldDestination = "destination"
	fieldCreatedAt   = "created_at"
	fieldOwnerID     = "owner_id"
)

// SearchClient is the subset of *redis.Client the cache needs.
type SearchClient interface {
	FTCreate(ctx context.Context, index string, options *redis.FTCreateOptions, schema ...*redis.FieldSchema) *redis.StatusCmd
	FTSearchWithArgs(ctx context.Context, index string, query string, options *redis.FTSearchOptions) *redis.FTSearchCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

type ShortURLCache struct {
	client SearchClient
}

func NewShortURLCache(client SearchClient) *ShortURLCache {
	return &ShortURLCache{client: client}
}

// Bootstrap creates the index. An index left by an earlier or concurrent
// process counts as success; any other failure, including an unreachable
// server, is returned.
func (c *ShortURLCache) Bootstrap(ctx context.Context) error {
	err := c.client.FTCreate(ctx, IndexName,
		&redis.FTCreateOptions{
			OnHash: true,
			Prefix: []interface{}{KeyPrefix},
		},
		&redis.FieldSchema{FieldName: fieldCode, FieldType: redis.SearchFieldTypeTag, CaseSensitive: true},
		&redis.FieldSchema{FieldName: fieldDestination, FieldType: redis.SearchFieldTypeText},
		&redis.FieldSchema{FieldName: fieldCreatedAt, FieldType: redis.SearchFieldTypeNumeric},
		&redis.FieldSchema{FieldName: fieldOwnerID, FieldType: redis.SearchFieldTypeNumeric},
	).Err()
	if err != nil && !IsIndexExists(err) {
		return fmt.Errorf("create index %q: %w", IndexName, err)
	}
	return nil
}

// Get returns (nil, nil) on a miss. Errors are backend faults.
func (c *ShortURLCache) Get(ctx context.Context, code string) (*internal.CachedShortURL, error) {
	res, err := c.client.FTSearchWithArgs(ctx, IndexName, codeQuery(code), &redis.FTSearchOptions{
		Limit:          1,
		DialectVersion: 2,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", code, err)
	}

	for _, doc := range res.Docs {
		if doc.Fields[fieldCode] != code {
			continue
		}
		view, err := decode(doc.Fields)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", doc.ID, err)
		}
		return view, nil
	}
	return nil, nil
}

// Set upserts the view. Concurrent writers for one code are last-write-wins.
func (c *ShortURLCache) Set(ctx context.Context, view internal.CachedShortURL) error {
	err := c.client.HSet(ctx, Key(view.Code),
		fieldCode, view.Code,
		fieldDestination, view.Destination,
		fieldCreatedAt, view.CreatedAt.Unix(),
		fieldOwnerID, view.OwnerID,
	).Err()
	if err != nil {
		return fmt.Errorf("hset %q: %w", view.Code, err)
	}
	return nil
}

func Key(code string) string {
	return KeyPrefix + code
}

// IsIndexExists matches RediSearch's reply to a repeated FT.CREATE.
func IsIndexExists(err error) bool {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return strings.Contains(strings.ToLower(rerr.Error()), "index already exists")
	}
	return false
}

func decode(fields map[string]string) (*internal.CachedShortURL, error) {
	created, err := strconv.ParseFloat(fields[fieldCreatedAt], 64)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	owner, err := strconv.ParseInt(fields[fieldOwnerID], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("owner_id: %w", err)
	}
	return &internal.CachedShortURL{
		Code:        fields[fieldCode],
		Destination: fields[fieldDestination],
		CreatedAt:   time.Unix(int64(created), 0),
		OwnerID:     owner,
	}, nil
}

// codeQuery builds a TAG query; punctuation and spaces must be escaped.
func codeQuery(code string) string {
	var b strings.Builder
	b.Grow(len(code)*2 + 10)
	b.WriteString("@" + fieldCode + ":{")
	for _, r := range code {
		if !isAlnum(r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteString("}")
	return b.String()
}

func isAlnum(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}
