package semantic

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS embeddings (
	key        TEXT PRIMARY KEY,
	model      TEXT NOT NULL,
	dims       INTEGER NOT NULL,
	vector     BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model);
`

// SQLiteCache persists embeddings keyed by model and text. Changing the model
// changes every key, so stale vectors are never served; Purge drops entries
// explicitly.
type SQLiteCache struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLiteCache opens (or creates) a cache database at path. ":memory:"
// gives a private in-process cache.
func OpenSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(cacheSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create embedding cache schema: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

// Close closes the database connection
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// CacheKey derives the cache key for text embedded by model.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vectors for keys. Missing keys are absent from the map.
func (c *SQLiteCache) Get(ctx context.Context, keys []string) (map[string][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stmt, err := c.db.PrepareContext(ctx, `SELECT vector FROM embeddings WHERE key = ?`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	found := make(map[string][]float32)
	for _, key := range keys {
		var blob []byte
		err := stmt.QueryRowContext(ctx, key).Scan(&blob)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read cached embedding: %w", err)
		}
		found[key] = decodeVector(blob)
	}
	return found, nil
}

// Put stores vectors under their keys, replacing existing entries.
func (c *SQLiteCache) Put(ctx context.Context, model string, entries map[string][]float32) error {
	if len(entries) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO embeddings (key, model, dims, vector) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for key, vec := range entries {
		if _, err := stmt.ExecContext(ctx, key, model, len(vec), encodeVector(vec)); err != nil {
			return fmt.Errorf("failed to store embedding: %w", err)
		}
	}
	return tx.Commit()
}

// Purge deletes cached vectors. An empty model deletes everything.
func (c *SQLiteCache) Purge(ctx context.Context, model string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res sql.Result
	var err error
	if model == "" {
		res, err = c.db.ExecContext(ctx, `DELETE FROM embeddings`)
	} else {
		res, err = c.db.ExecContext(ctx, `DELETE FROM embeddings WHERE model = ?`, model)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to purge embedding cache: %w", err)
	}
	return res.RowsAffected()
}

// Len returns the number of cached vectors
func (c *SQLiteCache) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n)
	return n, err
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}

// CachedEmbedder serves embeddings from a SQLiteCache and forwards misses to
// the wrapped embedder in one batch.
type CachedEmbedder struct {
	inner Embedder
	cache *SQLiteCache
	model string
}

// NewCachedEmbedder wraps inner. model must identify inner's embedding space.
func NewCachedEmbedder(inner Embedder, cache *SQLiteCache, model string) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache, model: model}
}

// Embed implements Embedder
func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = CacheKey(e.model, t)
	}

	hits, err := e.cache.Get(ctx, keys)
	if err != nil {
		return nil, err
	}

	var missTexts []string
	missKeys := make(map[string]int)
	for i, key := range keys {
		if _, ok := hits[key]; ok {
			continue
		}
		if _, queued := missKeys[key]; queued {
			continue
		}
		missKeys[key] = len(missTexts)
		missTexts = append(missTexts, texts[i])
	}

	if len(missTexts) > 0 {
		vectors, err := e.inner.Embed(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(missTexts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(missTexts))
		}

		fresh := make(map[string][]float32, len(missKeys))
		for key, pos := range missKeys {
			fresh[key] = vectors[pos]
			hits[key] = vectors[pos]
		}
		if err := e.cache.Put(ctx, e.model, fresh); err != nil {
			return nil, err
		}
	}

	out := make([][]float32, len(texts))
	for i, key := range keys {
		out[i] = hits[key]
	}
	return out, nil
}
