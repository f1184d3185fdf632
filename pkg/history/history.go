package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dteixeira/mmbridge/pkg/media"
)

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Turn is one persisted message in a conversation. Immutable once appended.
type Turn struct {
	ID             string
	ConversationID string
	Seq            int64
	Direction      Direction
	Text           string
	Media          []media.Reference
	ReplyTargetID  string
	CreatedAt      time.Time
}

type Store struct {
	db *sql.DB
}

func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single writer; sqlite serializes writes anyway and this avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS turns (
    id              TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    seq             INTEGER NOT NULL,
    direction       TEXT NOT NULL,
    text            TEXT NOT NULL,
    media           TEXT NOT NULL DEFAULT '[]',
    reply_target_id TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMP NOT NULL,
    UNIQUE(conversation_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, seq);
`

// Append persists a Turn and assigns it the next sequence number for its
// conversation. The read-increment-insert runs inside one transaction so
// sequence numbers stay strictly increasing and gapless even under
// concurrent writers; on error nothing is written. The assigned seq is
// stored back into t.
func (s *Store) Append(ctx context.Context, t *Turn) error {
	if t.ConversationID == "" {
		return fmt.Errorf("history: turn missing conversation id")
	}

	mediaJSON, err := json.Marshal(refsOrEmpty(t.Media))
	if err != nil {
		return fmt.Errorf("history: encoding media refs: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin append: %w", err)
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE conversation_id = ?`,
		t.ConversationID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("history: next seq: %w", err)
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (id, conversation_id, seq, direction, text, media, reply_target_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ConversationID, next, string(t.Direction), t.Text, string(mediaJSON), t.ReplyTargetID, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("history: insert turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit append: %w", err)
	}

	t.Seq = next
	return nil
}

// RecentTurns returns up to limit turns for a conversation, oldest first.
func (s *Store) RecentTurns(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, seq, direction, text, media, reply_target_id, created_at
		 FROM turns WHERE conversation_id = ?
		 ORDER BY seq DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, nil
}

// PathResolver reports whether a cached local path still exists on disk.
type PathResolver func(localPath string) bool

// RecentImagePaths scans a conversation's turns newest-first and collects
// the local paths of image references that still resolve on disk. It stops
// once limit distinct paths are found or history is exhausted; paths come
// back newest-first with no duplicates. limit <= 0 disables recall and
// returns nil without touching the database.
func (s *Store) RecentImagePaths(ctx context.Context, conversationID string, limit int, resolve PathResolver) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, seq, direction, text, media, reply_target_id, created_at
		 FROM turns WHERE conversation_id = ? AND media != '[]'
		 ORDER BY seq DESC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	seen := make(map[string]bool)

	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		for _, ref := range t.Media {
			if ref.Kind != media.KindImage || ref.LocalPath == "" {
				continue
			}
			if seen[ref.LocalPath] {
				continue
			}
			if resolve != nil && !resolve(ref.LocalPath) {
				continue
			}
			seen[ref.LocalPath] = true
			paths = append(paths, ref.LocalPath)
			if len(paths) >= limit {
				return paths, rows.Err()
			}
		}
	}

	return paths, rows.Err()
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func scanTurn(rows *sql.Rows) (Turn, error) {
	var (
		t         Turn
		direction string
		mediaJSON string
	)
	if err := rows.Scan(&t.ID, &t.ConversationID, &t.Seq, &direction, &t.Text, &mediaJSON, &t.ReplyTargetID, &t.CreatedAt); err != nil {
		return Turn{}, err
	}
	t.Direction = Direction(direction)
	if err := json.Unmarshal([]byte(mediaJSON), &t.Media); err != nil {
		return Turn{}, fmt.Errorf("history: decoding media refs: %w", err)
	}
	return t, nil
}

func refsOrEmpty(refs []media.Reference) []media.Reference {
	if refs == nil {
		return []media.Reference{}
	}
	return refs
}
