// Package cache memoizes derived analysis and action statuses.
package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/montracker/pkg/models"
)

// DefaultTTL bounds how long a memoized rollup may outlive a missed invalidation.
const DefaultTTL = 5 * time.Minute

// StatusCache holds derived statuses keyed by AnalysisKey or ActionKey.
// Every graph or status mutation invalidates the keys it affects.
//
// Each key carries a generation that Invalidate bumps. Get reports the
// generation it observed and Set stores only while the key is still at that
// generation, so a rollup loaded before an invalidation is never cached.
type StatusCache interface {
	Get(ctx context.Context, key string) (status models.ModelStatus, ok bool, generation int64, err error)
	Set(ctx context.Context, key string, status models.ModelStatus, generation int64) error
	Invalidate(ctx context.Context, keys ...string) error
	Close() error
}

func AnalysisKey(id int64) string {
	return "montracker:status:analysis:" + strconv.FormatInt(id, 10)
}

func ActionKey(id int64) string {
	return "montracker:status:action:" + strconv.FormatInt(id, 10)
}

// New selects the backend from the url: redis:// and rediss:// use redis,
// an empty url keeps statuses in process memory.
func New(url string, ttl time.Duration) (StatusCache, error) {
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		return NewRedis(url, ttl)
	}

	return NewMemory(ttl), nil
}
