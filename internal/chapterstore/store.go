// Package chapterstore persists generated chapter records in SQLite.
//
// A record is keyed by (story, language, chapter index). The index is the
// planned chapter index, so a language with failed chapters has gaps that
// identify exactly which chapters need regeneration.
package chapterstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"narrator/internal/config"
	"narrator/internal/sqlitestore"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// ErrNotFound is returned when a chapter record does not exist.
var ErrNotFound = errors.New("chapter not found")

// Record describes one generated chapter.
type Record struct {
	StoryID       string
	Language      string
	ChapterIndex  int
	AudioLocation string
	Duration      time.Duration
	StartPosition int
	EndPosition   int
	Speaker       string
	SizeBytes     int64
	CreatedAt     time.Time
}

// Store manages chapter persistence.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to the chapters database configured in cfg.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(context.Background(), cfg.ChaptersDBPath())
}

// OpenPath opens the database at path.
func OpenPath(ctx context.Context, path string) (*Store, error) {
	db, err := sqlitestore.Open(ctx, path, sqlitestore.Schema{Name: "chapters", SQL: schemaSQL, Version: schemaVersion})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts or replaces the record for its (story, language, index).
// A zero CreatedAt is stamped with the current time.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("save chapter: record required")
	}
	if rec.StoryID == "" || rec.Language == "" {
		return errors.New("save chapter: story id and language required")
	}
	if rec.ChapterIndex < 0 {
		return fmt.Errorf("save chapter: invalid index %d", rec.ChapterIndex)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	_, err := sqlitestore.Exec(ctx, s.db, `
		INSERT INTO chapters (story_id, language, chapter_index, audio_location, duration_ms,
			start_position, end_position, speaker, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (story_id, language, chapter_index) DO UPDATE SET
			audio_location = excluded.audio_location,
			duration_ms = excluded.duration_ms,
			start_position = excluded.start_position,
			end_position = excluded.end_position,
			speaker = excluded.speaker,
			size_bytes = excluded.size_bytes,
			created_at = excluded.created_at`,
		rec.StoryID, rec.Language, rec.ChapterIndex, rec.AudioLocation, rec.Duration.Milliseconds(),
		rec.StartPosition, rec.EndPosition, rec.Speaker, rec.SizeBytes, sqlitestore.FormatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save chapter: %w", err)
	}
	return nil
}

const selectColumns = `story_id, language, chapter_index, audio_location, duration_ms,
	start_position, end_position, speaker, size_bytes, created_at`

// Get returns one chapter record.
func (s *Store) Get(ctx context.Context, storyID, language string, index int) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM chapters WHERE story_id = ? AND language = ? AND chapter_index = ?",
		storyID, language, index,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chapter: %w", err)
	}
	return rec, nil
}

// List returns a story language's chapters ordered by index.
func (s *Store) List(ctx context.Context, storyID, language string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM chapters WHERE story_id = ? AND language = ? ORDER BY chapter_index",
		storyID, language,
	)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list chapters: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	return out, nil
}

// Languages returns the languages that have at least one chapter for a story.
func (s *Store) Languages(ctx context.Context, storyID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT language FROM chapters WHERE story_id = ? ORDER BY language", storyID)
	if err != nil {
		return nil, fmt.Errorf("list languages: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var lang string
		if err := rows.Scan(&lang); err != nil {
			return nil, fmt.Errorf("list languages: %w", err)
		}
		out = append(out, lang)
	}
	return out, rows.Err()
}

// Delete removes a story's chapters, limited to one language when language
// is non-empty. It returns the removed records so callers can drop blobs.
func (s *Store) Delete(ctx context.Context, storyID, language string) ([]*Record, error) {
	where := "story_id = ?"
	args := []any{storyID}
	if strings.TrimSpace(language) != "" {
		where += " AND language = ?"
		args = append(args, language)
	}
	removed, err := s.deleteWhere(ctx, where, args)
	if err != nil {
		return nil, fmt.Errorf("delete chapters: %w", err)
	}
	return removed, nil
}

// DeleteFrom removes chapters of a story language with index >= from. It is
// used when a regeneration plans fewer chapters than before.
func (s *Store) DeleteFrom(ctx context.Context, storyID, language string, from int) ([]*Record, error) {
	removed, err := s.deleteWhere(ctx,
		"story_id = ? AND language = ? AND chapter_index >= ?",
		[]any{storyID, language, from},
	)
	if err != nil {
		return nil, fmt.Errorf("trim chapters: %w", err)
	}
	return removed, nil
}

// DeleteChapter removes one chapter and returns it, or nil when absent.
func (s *Store) DeleteChapter(ctx context.Context, storyID, language string, index int) (*Record, error) {
	removed, err := s.deleteWhere(ctx,
		"story_id = ? AND language = ? AND chapter_index = ?",
		[]any{storyID, language, index},
	)
	if err != nil {
		return nil, fmt.Errorf("delete chapter: %w", err)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	return removed[0], nil
}

func (s *Store) deleteWhere(ctx context.Context, where string, args []any) ([]*Record, error) {
	var removed []*Record
	err := sqlitestore.RetryOnBusy(ctx, func() error {
		removed = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, "SELECT "+selectColumns+" FROM chapters WHERE "+where+" ORDER BY language, chapter_index", args...)
		if err != nil {
			return fmt.Errorf("select: %w", err)
		}
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				rows.Close()
				return err
			}
			removed = append(removed, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chapters WHERE "+where, args...); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec        Record
		durationMS int64
		createdAt  string
	)
	if err := row.Scan(
		&rec.StoryID, &rec.Language, &rec.ChapterIndex, &rec.AudioLocation, &durationMS,
		&rec.StartPosition, &rec.EndPosition, &rec.Speaker, &rec.SizeBytes, &createdAt,
	); err != nil {
		return nil, err
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	ts, err := sqlitestore.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = ts
	return &rec, nil
}
