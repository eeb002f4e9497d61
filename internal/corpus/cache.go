package corpus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"recallbench/internal/inference"
)

// countKey tracks how many notes the cache holds. Note keys are 8-byte
// big-endian sequence numbers, so the two key spaces never collide.
var countKey = []byte("meta:count")

const defaultCacheBatch = 8

// Cache is the persistent background-note store shared across runs.
// Generating thousands of short notes is the expensive part of large
// corpus scales, so notes are written once and reused. The cache is
// append-only and meant for sequential use by a single process.
type Cache struct {
	db        *badger.DB
	gen       inference.Generator
	topics    []string
	batchSize int
}

// OpenCache opens (or creates) the badger database at dir. The generator
// is only used when Ensure has to grow the cache.
func OpenCache(dir string, gen inference.Generator) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening background cache at %s: %w", dir, err)
	}
	return &Cache{
		db:        db,
		gen:       gen,
		topics:    BackgroundTopics,
		batchSize: defaultCacheBatch,
	}, nil
}

// Count returns the number of cached notes.
func (c *Cache) Count() (int, error) {
	var n int
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(countKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 8 {
				n = int(binary.BigEndian.Uint64(val))
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("reading cache count: %w", err)
	}
	return n, nil
}

// Ensure grows the cache to at least n notes, generating in small
// batches. Each batch commits in its own transaction, so an interrupted
// run loses at most the in-flight batch.
func (c *Cache) Ensure(ctx context.Context, n int) error {
	have, err := c.Count()
	if err != nil {
		return err
	}
	if have >= n {
		return nil
	}
	if c.gen == nil {
		return fmt.Errorf("background cache has %d notes, need %d, and no generator is configured", have, n)
	}

	log.Printf("[corpus] growing background cache from %d to %d notes", have, n)
	for have < n {
		size := c.batchSize
		if remaining := n - have; remaining < size {
			size = remaining
		}

		notes := make([]string, 0, size)
		for i := 0; i < size; i++ {
			seq := have + i
			topic := c.topics[seq%len(c.topics)]
			text, err := c.gen.Complete(ctx, backgroundPrompt(topic, seq), 160)
			if err != nil {
				return fmt.Errorf("generating background note %d: %w", seq, err)
			}
			text = strings.TrimSpace(text)
			if text == "" {
				return fmt.Errorf("generating background note %d: empty response", seq)
			}
			notes = append(notes, text)
		}

		err := c.db.Update(func(txn *badger.Txn) error {
			for i, note := range notes {
				key := make([]byte, 8)
				binary.BigEndian.PutUint64(key, uint64(have+i))
				if err := txn.Set(key, []byte(note)); err != nil {
					return err
				}
			}
			cnt := make([]byte, 8)
			binary.BigEndian.PutUint64(cnt, uint64(have+len(notes)))
			return txn.Set(countKey, cnt)
		})
		if err != nil {
			return fmt.Errorf("committing background batch: %w", err)
		}
		have += len(notes)
	}
	return nil
}

// Read returns the first n notes in sequence order.
func (c *Cache) Read(n int) ([]string, error) {
	out := make([]string, 0, n)
	err := c.db.View(func(txn *badger.Txn) error {
		for i := 0; i < n; i++ {
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, uint64(i))
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("cache holds %d notes, want %d", i, n)
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				out = append(out, string(val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading background notes: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func backgroundPrompt(topic string, seq int) string {
	return fmt.Sprintf("Write one short factual note of two or three sentences about %s. "+
		"This is note %d in a series on the topic, so cover a detail not covered before. "+
		"Reply with only the note itself.", topic, seq)
}
