package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/litehook/litehook/pkg/core"
)

// MemoryPath opens an in-memory database; state is lost on close.
const MemoryPath = ":memory:"

// ListenerRow is the persisted form of a listener: the effective post-merge
// configuration minus the secret. Rows are used to restore listeners on
// process start.
type ListenerRow struct {
	ID           string `json:"id"`
	Active       bool   `json:"active"`
	PollInterval int64  `json:"poll_interval"`
	ChannelURL   string `json:"channel_url"`
	ProxyListURL string `json:"proxy_list_url"`
	WebhookURL   string `json:"webhook_url"`
}

// Store persists the seen-post set and the durable listener configurations
// in a single SQLite file. All operations are atomic; concurrent callers are
// serialized by the engine.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and ensures the
// schema exists. Pass MemoryPath for an in-memory store.
func New(path string) (*Store, error) {
	conns := 32
	if path == MemoryPath || path == "memory" {
		path = MemoryPath
		conns = 1
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return nil, fmt.Errorf("creating database file: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("closing database file: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(conns)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			author TEXT,
			text TEXT,
			media TEXT,
			reactions TEXT,
			views TEXT,
			date TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS listeners (
			id TEXT PRIMARY KEY,
			active BOOLEAN,
			poll_interval INTEGER,
			channel_url TEXT,
			proxy_list_url TEXT,
			webhook_url TEXT
		)`,
	}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertPost upserts a post by id. Media and reactions are stored as JSON.
func (s *Store) InsertPost(post core.Post) error {
	media, err := json.Marshal(post.Media)
	if err != nil {
		return fmt.Errorf("marshaling media for post %s: %w", post.ID, err)
	}
	reactions, err := json.Marshal(post.Reactions)
	if err != nil {
		return fmt.Errorf("marshaling reactions for post %s: %w", post.ID, err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO posts (id, author, text, media, reactions, views, date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		post.ID, post.Author, post.Text, string(media), string(reactions), post.Views, post.Date,
	)
	if err != nil {
		return fmt.Errorf("inserting post %s: %w", post.ID, err)
	}
	return nil
}

// GetPost returns the post with the given id, or nil if it has not been
// seen.
func (s *Store) GetPost(id string) (*core.Post, error) {
	row := s.db.QueryRow(`
		SELECT id, author, text, media, reactions, views, date
		FROM posts WHERE id = ?`, id)

	var post core.Post
	var author, text, media, reactions, views, date sql.NullString
	err := row.Scan(&post.ID, &author, &text, &media, &reactions, &views, &date)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting post %s: %w", id, err)
	}

	post.Author = nullable(author)
	post.Text = nullable(text)
	post.Views = nullable(views)
	post.Date = nullable(date)
	if media.Valid {
		if err := json.Unmarshal([]byte(media.String), &post.Media); err != nil {
			return nil, fmt.Errorf("unmarshaling media for post %s: %w", id, err)
		}
	}
	if reactions.Valid {
		if err := json.Unmarshal([]byte(reactions.String), &post.Reactions); err != nil {
			return nil, fmt.Errorf("unmarshaling reactions for post %s: %w", id, err)
		}
	}
	return &post, nil
}

// InsertListener upserts a listener row by id.
func (s *Store) InsertListener(row ListenerRow) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO listeners (id, active, poll_interval, channel_url, proxy_list_url, webhook_url)
		VALUES (?, ?, ?, ?, ?, ?)`,
		row.ID, row.Active, row.PollInterval, row.ChannelURL, row.ProxyListURL, row.WebhookURL,
	)
	if err != nil {
		return fmt.Errorf("inserting listener %s: %w", row.ID, err)
	}
	return nil
}

// GetListener returns the listener row with the given id, or nil.
func (s *Store) GetListener(id string) (*ListenerRow, error) {
	row := s.db.QueryRow(`
		SELECT id, active, poll_interval, channel_url, proxy_list_url, webhook_url
		FROM listeners WHERE id = ?`, id)

	var lr ListenerRow
	err := row.Scan(&lr.ID, &lr.Active, &lr.PollInterval, &lr.ChannelURL, &lr.ProxyListURL, &lr.WebhookURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting listener %s: %w", id, err)
	}
	return &lr, nil
}

// GetAllListeners returns every persisted listener row.
func (s *Store) GetAllListeners() ([]ListenerRow, error) {
	rows, err := s.db.Query(`
		SELECT id, active, poll_interval, channel_url, proxy_list_url, webhook_url
		FROM listeners`)
	if err != nil {
		return nil, fmt.Errorf("selecting listeners: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			fmt.Printf("Warning: failed to close rows: %v\n", err)
		}
	}()

	var listeners []ListenerRow
	for rows.Next() {
		var lr ListenerRow
		if err := rows.Scan(&lr.ID, &lr.Active, &lr.PollInterval, &lr.ChannelURL, &lr.ProxyListURL, &lr.WebhookURL); err != nil {
			return nil, fmt.Errorf("scanning listener row: %w", err)
		}
		listeners = append(listeners, lr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating listener rows: %w", err)
	}
	return listeners, nil
}

// DeleteListener removes the listener row with the given id. Deleting a
// missing row is not an error.
func (s *Store) DeleteListener(id string) error {
	_, err := s.db.Exec(`DELETE FROM listeners WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting listener %s: %w", id, err)
	}
	return nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
