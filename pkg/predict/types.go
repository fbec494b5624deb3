package predict

import (
	"context"
	"time"
)

const (
	// DefaultThreshold is used when a request does not name one
	DefaultThreshold = 0.5
	DefaultTimeout   = 30 * time.Second

	usageEndpoint = "/api/v1/predict"
	usageMethod   = "POST"
)

// DefaultClasses are the labels the model emits, in output order
var DefaultClasses = []string{"0", "1", "2", "3"}

// Classifier scores an image against the model's classes
type Classifier interface {
	Predict(ctx context.Context, image []byte, threshold float64) (*Result, error)
}

// Result is one classification
type Result struct {
	Classes       []string  `json:"classes"`
	Probabilities []float64 `json:"probabilities"`
	Active        []string  `json:"active"`
}

// Prediction is a classification returned to a metered caller
type Prediction struct {
	Result
	QuotaRemaining int `json:"quota_remaining"`
}

// Config configures the HTTP classifier and its cache
type Config struct {
	URL       string        `yaml:"url"`
	Classes   []string      `yaml:"classes"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// activeClasses returns the classes whose probability reaches threshold
func activeClasses(classes []string, probs []float64, threshold float64) []string {
	active := []string{}
	for i, p := range probs {
		if p >= threshold {
			active = append(active, classes[i])
		}
	}
	return active
}
