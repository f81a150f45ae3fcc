// Package embedcache is a durable local store mapping a chunk's content
// hash to its previously computed embedding vector. It lives in its own
// SQLite database file, independent of the primary store, so embeddings
// survive process restarts and re-ingestion retries without repeat
// provider calls.
package embedcache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Cache is a content-addressed embedding store. Entries are keyed by the
// pair (content hash, model) so switching embedding models never returns
// vectors from an incompatible space. Entries are immutable once written.
type Cache struct {
	db       *sql.DB
	capacity int // 0 disables eviction
}

// Open opens or creates the cache database at the given path.
// capacity bounds the number of entries; 0 keeps everything forever.
func Open(path string, capacity int) (*Cache, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open embed cache: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS embeddings (
		content_hash TEXT NOT NULL,
		model TEXT NOT NULL,
		vector BLOB NOT NULL,
		dims INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		last_used_at DATETIME NOT NULL,
		PRIMARY KEY (content_hash, model)
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init embed cache schema: %w", err)
	}

	return &Cache{db: db, capacity: capacity}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached vector for (contentHash, model), or (nil, false)
// when absent. A hit refreshes the entry's last-used timestamp.
func (c *Cache) Get(ctx context.Context, contentHash, model string) ([]float32, bool, error) {
	var blob []byte
	var dims int
	err := c.db.QueryRowContext(ctx,
		"SELECT vector, dims FROM embeddings WHERE content_hash = ? AND model = ?",
		contentHash, model,
	).Scan(&blob, &dims)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query embed cache: %w", err)
	}

	vector, err := blobToVector(blob, dims)
	if err != nil {
		return nil, false, err
	}

	_, err = c.db.ExecContext(ctx,
		"UPDATE embeddings SET last_used_at = ? WHERE content_hash = ? AND model = ?",
		time.Now().UTC(), contentHash, model,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to touch embed cache entry: %w", err)
	}
	return vector, true, nil
}

// Put stores a vector under (contentHash, model). Duplicate keys are
// ignored rather than overwritten: entries are immutable, and concurrent
// writers of the same content produce the same vector.
func (c *Cache) Put(ctx context.Context, contentHash, model string, vector []float32) error {
	now := time.Now().UTC()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO embeddings (content_hash, model, vector, dims, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(content_hash, model) DO NOTHING`,
		contentHash, model, vectorToBlob(vector), len(vector), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert embed cache entry: %w", err)
	}

	if c.capacity > 0 {
		return c.evict(ctx)
	}
	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM embeddings").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count embed cache entries: %w", err)
	}
	return n, nil
}

// evict drops least-recently-used entries beyond capacity. It runs only
// after a Put, never between the lookups and writes of an in-flight
// batch, so entries a batch just read or wrote are the most recently
// used and are never the ones removed.
func (c *Cache) evict(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE (content_hash, model) IN (
			SELECT content_hash, model FROM embeddings
			ORDER BY last_used_at DESC LIMIT -1 OFFSET ?
		)`,
		c.capacity,
	)
	if err != nil {
		return fmt.Errorf("failed to evict embed cache entries: %w", err)
	}
	return nil
}

// vectorToBlob encodes a float32 vector as little-endian bytes.
func vectorToBlob(vector []float32) []byte {
	blob := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// blobToVector decodes a little-endian float32 blob.
func blobToVector(blob []byte, dims int) ([]float32, error) {
	if len(blob) != 4*dims {
		return nil, fmt.Errorf("corrupt embed cache entry: %d bytes for %d dims", len(blob), dims)
	}
	vector := make([]float32, dims)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector, nil
}
