package predict

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/quotagate/pkg/observability"
)

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 10 * time.Minute
)

// CachedClassifier remembers results for identical images and thresholds.
// Only successful classifications are cached.
type CachedClassifier struct {
	next    Classifier
	cache   *lru.LRU[string, *Result]
	metrics *observability.Metrics
}

// NewCachedClassifier wraps next with an LRU cache of size entries that expire
// after ttl. Non-positive values fall back to the defaults.
func NewCachedClassifier(next Classifier, size int, ttl time.Duration, metrics *observability.Metrics) *CachedClassifier {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &CachedClassifier{
		next:    next,
		cache:   lru.NewLRU[string, *Result](size, nil, ttl),
		metrics: metrics,
	}
}

func cacheKey(image []byte, threshold float64) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:]) + ":" + strconv.FormatFloat(threshold, 'g', -1, 64)
}

// Predict returns the cached result for image and threshold, classifying on a miss
func (c *CachedClassifier) Predict(ctx context.Context, image []byte, threshold float64) (*Result, error) {
	key := cacheKey(image, threshold)
	if res, ok := c.cache.Get(key); ok {
		c.metrics.PredictCacheTotal.WithLabelValues("hit").Inc()
		return res.clone(), nil
	}
	c.metrics.PredictCacheTotal.WithLabelValues("miss").Inc()

	res, err := c.next.Predict(ctx, image, threshold)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, res.clone())
	return res, nil
}

// Len returns the number of cached results
func (c *CachedClassifier) Len() int {
	return c.cache.Len()
}

func (r *Result) clone() *Result {
	out := &Result{
		Classes:       make([]string, len(r.Classes)),
		Probabilities: make([]float64, len(r.Probabilities)),
		Active:        make([]string, len(r.Active)),
	}
	copy(out.Classes, r.Classes)
	copy(out.Probabilities, r.Probabilities)
	copy(out.Active, r.Active)
	return out
}
