// Package cache memoizes embeddings so identical texts are embedded once.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/ai"
)

const defaultTTL = 7 * 24 * time.Hour

// Store is a byte-oriented key/value store with expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Embedder wraps another embedder with a cache. Cache failures never fail
// an embedding call; they are logged and the wrapped embedder is used.
type Embedder struct {
	next      ai.Embedder
	store     Store
	namespace string
	ttl       time.Duration
	logger    *zap.Logger
}

// New returns a caching embedder. namespace should identify the wrapped model
// so vectors from different models never mix.
func New(next ai.Embedder, store Store, namespace string, ttl time.Duration, logger *zap.Logger) *Embedder {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{next: next, store: store, namespace: namespace, ttl: ttl, logger: logger}
}

func (e *Embedder) Dimensions() int { return e.next.Dimensions() }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.key(text)

	if raw, ok, err := e.store.Get(ctx, key); err != nil {
		e.logger.Warn("embedding cache read failed", zap.Error(err))
	} else if ok {
		vec, err := decode(raw)
		if err == nil && len(vec) == e.next.Dimensions() {
			return vec, nil
		}
		e.logger.Warn("dropping malformed cached embedding", zap.String("key", key))
	}

	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := e.store.Set(ctx, key, encode(vec), e.ttl); err != nil {
		e.logger.Warn("embedding cache write failed", zap.Error(err))
	}

	return vec, nil
}

func (e *Embedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("hh-pricer:embedding:%s:%d:%s", e.namespace, e.next.Dimensions(), hex.EncodeToString(sum[:]))
}

func encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decode(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, errors.New("cached embedding has invalid length")
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}
