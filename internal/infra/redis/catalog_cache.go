package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"exam-trainer-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CatalogLoader fetches catalog rows from the backing store on cache miss.
type CatalogLoader interface {
	ListIDs(ctx context.Context) ([]int64, error)
	Load(ctx context.Context, id int64) (domain.QuestionRecord, error)
}

// CatalogCache keeps the question catalog in Redis:
//
//	GET catalog:ids          -> JSON array of question ids
//	GET catalog:question:{N} -> JSON of the full catalog row
//
// The cached row includes the answer key; it never leaves the server: the
// cache only hands out the usual public/private projections.
type CatalogCache struct {
	client *redis.Client
	loader CatalogLoader
	ttl    time.Duration
	sf     singleflight.Group
}

func NewCatalogCache(client *redis.Client, loader CatalogLoader, ttl time.Duration) *CatalogCache {
	return &CatalogCache{client: client, loader: loader, ttl: ttl}
}

func (c *CatalogCache) ListIDs(ctx context.Context) ([]int64, error) {
	if raw, err := c.client.Get(ctx, c.idsKey()).Bytes(); err == nil {
		var ids []int64
		if err := json.Unmarshal(raw, &ids); err == nil {
			return ids, nil
		}
	}

	result, err, _ := c.sf.Do(c.idsKey(), func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		if raw, err := c.client.Get(ctx, c.idsKey()).Bytes(); err == nil {
			var ids []int64
			if err := json.Unmarshal(raw, &ids); err == nil {
				return ids, nil
			}
		}

		ids, err := c.loader.ListIDs(ctx)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(ids); err == nil {
			_ = c.client.Set(ctx, c.idsKey(), raw, c.ttlWithJitter()).Err()
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]int64), nil
}

func (c *CatalogCache) Public(ctx context.Context, id int64) (domain.Question, error) {
	record, err := c.record(ctx, id)
	if err != nil {
		return domain.Question{}, err
	}
	return record.Public(), nil
}

func (c *CatalogCache) AnswerKey(ctx context.Context, id int64) (domain.AnswerKey, error) {
	record, err := c.record(ctx, id)
	if err != nil {
		return domain.AnswerKey{}, err
	}
	return record.Key(), nil
}

func (c *CatalogCache) record(ctx context.Context, id int64) (domain.QuestionRecord, error) {
	key := c.questionKey(id)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var record domain.QuestionRecord
		if err := json.Unmarshal(raw, &record); err == nil {
			return record, nil
		}
	}

	result, err, _ := c.sf.Do(strconv.FormatInt(id, 10), func() (interface{}, error) {
		if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
			var record domain.QuestionRecord
			if err := json.Unmarshal(raw, &record); err == nil {
				return record, nil
			}
		}

		record, err := c.loader.Load(ctx, id)
		if err != nil {
			return domain.QuestionRecord{}, err
		}
		if raw, err := json.Marshal(record); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return record, nil
	})
	if err != nil {
		return domain.QuestionRecord{}, err
	}
	return result.(domain.QuestionRecord), nil
}

func (c *CatalogCache) idsKey() string {
	return "catalog:ids"
}

func (c *CatalogCache) questionKey(id int64) string {
	return fmt.Sprintf("catalog:question:%d", id)
}

func (c *CatalogCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
