// Package clientcache keeps downloaded chapter audio on the client so repeat
// playback and language switches do not refetch bytes from the daemon.
//
// Entries live in BadgerDB under hierarchical keys:
//
//	audio:<story>:<lang>:<index>   one chapter's audio
//	manifest:<story>:<lang>        the indices and sizes cached for a language
//
// Story and language segments are query-escaped so they never contain the
// separator. Values are msgpack encoded; audio is zstd compressed when that
// makes it smaller. The cache is an optimization only and never alters audio.
package clientcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"narrator/internal/logging"
)

// minCompressBytes skips compression for payloads too small to benefit.
const minCompressBytes = 1 << 10

// Entry is one cached chapter.
type Entry struct {
	StoryID      string
	Language     string
	ChapterIndex int
	Audio        []byte
	ContentType  string
	Duration     time.Duration
	CachedAt     time.Time
}

type storedAudio struct {
	ContentType string    `msgpack:"ct"`
	DurationMS  int64     `msgpack:"dur"`
	Size        int       `msgpack:"size"`
	Compressed  bool      `msgpack:"z"`
	Data        []byte    `msgpack:"data"`
	CachedAt    time.Time `msgpack:"at"`
}

type manifest struct {
	// Sizes maps chapter index to uncompressed audio length.
	Sizes     map[int]int `msgpack:"sizes"`
	UpdatedAt time.Time   `msgpack:"updated"`
}

// Options configures the cache.
type Options struct {
	// Dir holds the badger files. Required unless InMemory is set.
	Dir string
	// InMemory keeps everything in memory, for tests.
	InMemory bool
	Logger   *slog.Logger
}

// Cache is a persistent chapter audio store. It is safe for concurrent use.
type Cache struct {
	db      *badger.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  *slog.Logger
	now     func() time.Time
}

// Open opens or creates the cache.
func Open(opts Options) (*Cache, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("clientcache: dir is required for on-disk mode")
	}
	logger := logging.NewComponentLogger(opts.Logger, "client-cache")

	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{logger: logger})
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{logger: logger})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("clientcache: open: %w", err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("clientcache: zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("clientcache: zstd decoder: %w", err)
	}
	return &Cache{db: db, encoder: encoder, decoder: decoder, logger: logger, now: time.Now}, nil
}

// Close flushes and closes the store.
func (c *Cache) Close() error {
	c.decoder.Close()
	_ = c.encoder.Close()
	return c.db.Close()
}

// HasCachedAudio reports whether any chapters of the story language are cached.
func (c *Cache) HasCachedAudio(ctx context.Context, storyID, language string) bool {
	m, err := c.manifest(ctx, storyID, language)
	if err != nil {
		c.logger.Debug("manifest read failed", logging.Error(err))
		return false
	}
	return m != nil && len(m.Sizes) > 0
}

// GetCachedChapter returns a cached chapter. ok is false on a miss.
func (c *Cache) GetCachedChapter(ctx context.Context, storyID string, index int, language string) (*Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(audioKey(storyID, language, index))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("clientcache: get chapter %d: %w", index, err)
	}

	var stored storedAudio
	if err := msgpack.Unmarshal(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("clientcache: decode chapter %d: %w", index, err)
	}
	audio := stored.Data
	if stored.Compressed {
		audio, err = c.decoder.DecodeAll(stored.Data, make([]byte, 0, stored.Size))
		if err != nil {
			return nil, false, fmt.Errorf("clientcache: decompress chapter %d: %w", index, err)
		}
	}
	return &Entry{
		StoryID:      storyID,
		Language:     language,
		ChapterIndex: index,
		Audio:        audio,
		ContentType:  stored.ContentType,
		Duration:     time.Duration(stored.DurationMS) * time.Millisecond,
		CachedAt:     stored.CachedAt,
	}, true, nil
}

// CacheChapters writes entries for one story language in a single batch.
// The write is skipped when every entry is already cached with the same size.
func (c *Cache) CacheChapters(ctx context.Context, storyID, language string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	current, err := c.manifest(ctx, storyID, language)
	if err != nil {
		return err
	}
	if current != nil && covers(current, entries) {
		c.logger.Debug("language already cached; skipping write",
			logging.String(logging.FieldStoryID, storyID),
			logging.String(logging.FieldLanguage, language),
		)
		return nil
	}

	next := &manifest{Sizes: make(map[int]int, len(entries))}
	if current != nil {
		maps.Copy(next.Sizes, current.Sizes)
	}
	now := c.now().UTC()
	next.UpdatedAt = now

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	var stored, compressed int
	for _, e := range entries {
		value := storedAudio{
			ContentType: e.ContentType,
			DurationMS:  e.Duration.Milliseconds(),
			Size:        len(e.Audio),
			Data:        e.Audio,
			CachedAt:    now,
		}
		if len(e.Audio) >= minCompressBytes {
			if packed := c.encoder.EncodeAll(e.Audio, nil); len(packed) < len(e.Audio) {
				value.Data = packed
				value.Compressed = true
				compressed++
			}
		}
		encoded, err := msgpack.Marshal(&value)
		if err != nil {
			return fmt.Errorf("clientcache: encode chapter %d: %w", e.ChapterIndex, err)
		}
		if err := wb.Set(audioKey(storyID, language, e.ChapterIndex), encoded); err != nil {
			return fmt.Errorf("clientcache: write chapter %d: %w", e.ChapterIndex, err)
		}
		next.Sizes[e.ChapterIndex] = len(e.Audio)
		stored += len(value.Data)
	}
	encoded, err := msgpack.Marshal(next)
	if err != nil {
		return fmt.Errorf("clientcache: encode manifest: %w", err)
	}
	if err := wb.Set(manifestKey(storyID, language), encoded); err != nil {
		return fmt.Errorf("clientcache: write manifest: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("clientcache: flush: %w", err)
	}
	c.logger.Debug("chapters cached",
		logging.String(logging.FieldStoryID, storyID),
		logging.String(logging.FieldLanguage, language),
		logging.Int("chapters", len(entries)),
		logging.Int("compressed", compressed),
		logging.Int("stored_bytes", stored),
	)
	return nil
}

// GetCachedLanguages lists the languages with cached chapters for a story.
func (c *Cache) GetCachedLanguages(ctx context.Context, storyID string) ([]string, error) {
	prefix := storyPrefix("manifest", storyID)
	keys, err := c.keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	languages := make([]string, 0, len(keys))
	for _, key := range keys {
		lang, err := url.QueryUnescape(strings.TrimPrefix(string(key), string(prefix)))
		if err != nil {
			continue
		}
		languages = append(languages, lang)
	}
	slices.Sort(languages)
	return languages, nil
}

// ClearCache removes a story's cached chapters, limited to one language when
// language is non-empty. It returns the number of chapters removed.
func (c *Cache) ClearCache(ctx context.Context, storyID, language string) (int, error) {
	var audioPrefix []byte
	var manifests [][]byte
	if language == "" {
		audioPrefix = storyPrefix("audio", storyID)
		keys, err := c.keys(ctx, storyPrefix("manifest", storyID))
		if err != nil {
			return 0, err
		}
		manifests = keys
	} else {
		audioPrefix = append(storyPrefix("audio", storyID), escape(language)+":"...)
		manifests = [][]byte{manifestKey(storyID, language)}
	}
	chapters, err := c.keys(ctx, audioPrefix)
	if err != nil {
		return 0, err
	}

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range slices.Concat(chapters, manifests) {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("clientcache: clear: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("clientcache: clear: %w", err)
	}
	return len(chapters), nil
}

func (c *Cache) manifest(ctx context.Context, storyID, language string) (*manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(storyID, language))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("clientcache: read manifest: %w", err)
	}
	var m manifest
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("clientcache: decode manifest: %w", err)
	}
	return &m, nil
}

func (c *Cache) keys(ctx context.Context, prefix []byte) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("clientcache: scan: %w", err)
	}
	return keys, nil
}

func covers(m *manifest, entries []Entry) bool {
	for _, e := range entries {
		size, ok := m.Sizes[e.ChapterIndex]
		if !ok || size != len(e.Audio) {
			return false
		}
	}
	return true
}

func escape(segment string) string {
	return url.QueryEscape(segment)
}

func storyPrefix(kind, storyID string) []byte {
	return []byte(kind + ":" + escape(storyID) + ":")
}

func audioKey(storyID, language string, index int) []byte {
	return fmt.Appendf(nil, "audio:%s:%s:%d", escape(storyID), escape(language), index)
}

func manifestKey(storyID, language string) []byte {
	return []byte("manifest:" + escape(storyID) + ":" + escape(language))
}

// badgerLogger routes badger's internal logging through slog, keeping only
// warnings and errors.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}
