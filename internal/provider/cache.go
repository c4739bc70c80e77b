package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

type cachedVector struct {
	Model  string    `msgpack:"model"`
	Vector []float32 `msgpack:"vector"`
}

// CachedEmbedder 以 badger 持久化缓存向量，键为模型名与文本的 sha256
// CachedEmbedder persists vectors in badger keyed by model and sha256 of the text
type CachedEmbedder struct {
	inner  Embedder
	db     *badger.DB
	logger *slog.Logger
}

// OpenCachedEmbedder opens the cache under dir. An empty dir keeps the cache
// in memory.
func OpenCachedEmbedder(dir string, inner Embedder, logger *slog.Logger) (*CachedEmbedder, error) {
	if inner == nil {
		return nil, errors.New("cached embedder needs an inner embedder")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger: logger})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, db: db, logger: logger}, nil
}

func cacheKey(model, text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return []byte("emb/" + model + "/" + hex.EncodeToString(sum[:]))
}

// Embed 命中缓存直接返回，否则调用内部 Embedder 并写回
// Embed serves from the cache or asks the inner embedder and stores the result
func (c *CachedEmbedder) Embed(ctx context.Context, text, model string) ([]float32, error) {
	key := cacheKey(model, text)
	if vec, ok := c.get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text, model)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, ErrNoEmbedding
	}
	c.put(key, cachedVector{Model: model, Vector: vec})
	return vec, nil
}

func (c *CachedEmbedder) get(key []byte) ([]float32, bool) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("embedding cache read failed", "err", err)
		}
		return nil, false
	}
	var cv cachedVector
	if err := msgpack.Unmarshal(val, &cv); err != nil || len(cv.Vector) == 0 {
		c.logger.Warn("embedding cache entry unreadable", "err", err)
		return nil, false
	}
	return cv.Vector, true
}

func (c *CachedEmbedder) put(key []byte, cv cachedVector) {
	data, err := msgpack.Marshal(cv)
	if err != nil {
		c.logger.Warn("embedding cache encode failed", "err", err)
		return
	}
	if err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		c.logger.Warn("embedding cache write failed", "err", err)
	}
}

func (c *CachedEmbedder) Close() error {
	return c.db.Close()
}

// badgerLogger routes badger's printf logging into slog at debug level,
// warnings and errors at their own levels.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
