package features

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Extractor turns uploads into model inputs. When an upload cannot be read
// it substitutes pseudo-random values drawn from its generator.
type Extractor struct {
	mu        sync.Mutex
	rng       *rand.Rand
	maxPixels int
}

// DefaultMaxImagePixels bounds decoded image area when no limit is set.
const DefaultMaxImagePixels = 40_000_000

// NewExtractor returns an Extractor drawing substitute values from rng.
// A nil rng is replaced with a clock-seeded generator.
func NewExtractor(rng *rand.Rand) *Extractor {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	return &Extractor{rng: rng, maxPixels: DefaultMaxImagePixels}
}

// WithMaxImagePixels sets the largest width*height Image will decode.
// n <= 0 keeps the default.
func (e *Extractor) WithMaxImagePixels(n int) *Extractor {
	if n > 0 {
		e.maxPixels = n
	}
	return e
}

func (e *Extractor) fillUniform(dst []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range dst {
		dst[i] = e.rng.Float32()
	}
}
