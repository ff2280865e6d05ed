package oauth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/reqflow/internal/errdef"
)

const schema = `
CREATE TABLE IF NOT EXISTS oauth2_credentials (
	collection_uid TEXT NOT NULL,
	url            TEXT NOT NULL,
	credentials_id TEXT NOT NULL,
	payload        TEXT NOT NULL,
	updated_at     INTEGER NOT NULL,
	PRIMARY KEY (collection_uid, url, credentials_id)
)`

// SQLiteStore keeps credentials across restarts.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errdef.Wrap(errdef.CodeFilesystem, err, "create token store dir")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeOAuth, err, "open token store")
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errdef.Wrap(errdef.CodeOAuth, err, "init token store")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key CacheKey) (Credentials, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM oauth2_credentials WHERE collection_uid = ? AND url = ? AND credentials_id = ?`,
		key.CollectionUID, key.URL, key.CredentialsID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, false, nil
	}
	if err != nil {
		return Credentials{}, false, errdef.Wrap(errdef.CodeOAuth, err, "read credentials")
	}
	var c Credentials
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Credentials{}, false, errdef.Wrap(errdef.CodeParse, err, "decode credentials")
	}
	return c, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key CacheKey, creds Credentials) error {
	payload, err := json.Marshal(creds)
	if err != nil {
		return errdef.Wrap(errdef.CodeParse, err, "encode credentials")
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO oauth2_credentials (collection_uid, url, credentials_id, payload, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (collection_uid, url, credentials_id)
DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		key.CollectionUID, key.URL, key.CredentialsID, string(payload), creds.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return errdef.Wrap(errdef.CodeOAuth, err, "write credentials")
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key CacheKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth2_credentials WHERE collection_uid = ? AND url = ? AND credentials_id = ?`,
		key.CollectionUID, key.URL, key.CredentialsID,
	)
	if err != nil {
		return errdef.Wrap(errdef.CodeOAuth, err, "delete credentials")
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, collectionUID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, credentials_id, payload FROM oauth2_credentials WHERE collection_uid = ?`,
		collectionUID,
	)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeOAuth, err, "list credentials")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			payload string
		)
		if err := rows.Scan(&e.Key.URL, &e.Key.CredentialsID, &payload); err != nil {
			return nil, errdef.Wrap(errdef.CodeOAuth, err, "scan credentials")
		}
		if err := json.Unmarshal([]byte(payload), &e.Credentials); err != nil {
			return nil, errdef.Wrap(errdef.CodeParse, err, "decode credentials")
		}
		e.Key.CollectionUID = collectionUID
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errdef.Wrap(errdef.CodeOAuth, err, "list credentials")
	}
	sortEntries(out)
	return out, nil
}
