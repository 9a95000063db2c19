// Package persistence stores the workspace hierarchy in sqlite, optionally
// sealing every text field under a passphrase-derived key.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/codefionn/ryxsurf/internal/logger"
	"github.com/codefionn/ryxsurf/internal/secrets"
	"github.com/codefionn/ryxsurf/internal/securemem"
	"github.com/codefionn/ryxsurf/internal/session"
	"github.com/codefionn/ryxsurf/internal/sqlstore"
)

// verifierPlaintext is sealed into the meta table to recognise the key on open.
const verifierPlaintext = "ryxsurf:hierarchy"

// ErrStoreLocked is returned while the store holds data sealed under a key
// other than the configured one. Saving is refused so the data is not lost.
var ErrStoreLocked = errors.New("store is sealed under a different passphrase")

// StorageOpenError reports that the store file could not be opened or created.
type StorageOpenError struct {
	Path string
	Err  error
}

func (e *StorageOpenError) Error() string {
	return fmt.Sprintf("open store %s: %v", e.Path, e.Err)
}

func (e *StorageOpenError) Unwrap() error { return e.Err }

// Options configures Open.
type Options struct {
	// Path of the database file. Empty keeps the store in memory.
	Path string
	// MasterPassword enables encryption at rest when non-empty.
	MasterPassword string
}

// Store is the sqlite handle. It is owned by a single goroutine.
type Store struct {
	db       *sql.DB
	path     string
	salt     []byte
	key      *securemem.Key
	locked   bool
	degraded error
	log      *logger.Logger
}

// Open opens or creates the store. When the file cannot be used the store
// falls back to an in-memory database and Degraded reports why. A store sealed
// under another passphrase opens locked rather than failing.
func Open(opts Options) (*Store, error) {
	s := &Store{
		path: opts.Path,
		log:  logger.Global().WithPrefix("persistence"),
	}

	db, err := openDB(opts.Path)
	if err == nil && opts.MasterPassword != "" && opts.Path != "" {
		// An unusable salt file is left untouched; the data behind it stays sealed.
		if s.salt, err = secrets.LoadOrCreateSalt(secrets.SaltPath(opts.Path)); err != nil {
			_ = db.Close()
		}
	}
	if err != nil {
		openErr := &StorageOpenError{Path: opts.Path, Err: err}
		s.log.Warn("%v; continuing with an in-memory store", openErr)
		s.degraded = openErr
		s.path = ""
		s.salt = nil
		if db, err = openDB(""); err != nil {
			return nil, &StorageOpenError{Path: ":memory:", Err: err}
		}
	}
	s.db = db

	key, err := s.deriveKey(opts.MasterPassword)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.key = key

	ok, err := s.verify(s.key)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if !ok {
		s.locked = true
		s.log.Warn("store %s is sealed under a different passphrase; saving disabled", s.describe())
	}
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sqlstore.Open(path, schema)
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (s *Store) describe() string {
	if s.path == "" {
		return ":memory:"
	}
	return s.path
}

// deriveKey turns password into a locked key. The salt is read from the
// sidecar file, created on first use, and reused for every later derivation.
func (s *Store) deriveKey(password string) (*securemem.Key, error) {
	if password == "" {
		return nil, nil
	}
	if s.salt == nil {
		var err error
		if s.path == "" {
			s.salt, err = secrets.RandomBytes(secrets.SaltSize)
		} else {
			s.salt, err = secrets.LoadOrCreateSalt(secrets.SaltPath(s.path))
		}
		if err != nil {
			return nil, err
		}
	}

	raw, _, err := secrets.DeriveKey(password, s.salt)
	if err != nil {
		return nil, err
	}
	return securemem.NewKey(raw), nil
}

func withKey(key *securemem.Key, fn func(key []byte) error) error {
	if key == nil {
		return fn(nil)
	}
	return key.Use(fn)
}

// verify reports whether key opens the stored verifier. A store without a
// verifier accepts any key.
func (s *Store) verify(key *securemem.Key) (bool, error) {
	var stored string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", metaVerifier).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read verifier: %w", err)
	}
	if key == nil {
		return false, nil
	}

	err = withKey(key, func(k []byte) error {
		plain, _, err := secrets.DecryptString(stored, k)
		if err != nil {
			return err
		}
		if plain != verifierPlaintext {
			return secrets.ErrInvalidPassword
		}
		return nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, secrets.ErrInvalidPassword), errors.Is(err, secrets.ErrInvalidPayload):
		return false, nil
	default:
		return false, err
	}
}

// Locked reports whether saving is refused because the data belongs to another key.
func (s *Store) Locked() bool { return s.locked }

// Encrypted reports whether a passphrase is configured.
func (s *Store) Encrypted() bool { return s.key != nil }

// Degraded returns the StorageOpenError that forced an in-memory store, or nil.
func (s *Store) Degraded() error { return s.degraded }

// Path returns the database file, or "" for an in-memory store.
func (s *Store) Path() string { return s.path }

// Unlock retries a locked store with password. On success the store accepts
// saves again; on mismatch secrets.ErrInvalidPassword is returned and nothing changes.
func (s *Store) Unlock(password string) error {
	key, err := s.deriveKey(password)
	if err != nil {
		return err
	}
	ok, err := s.verify(key)
	if err != nil {
		key.Destroy()
		return err
	}
	if !ok {
		key.Destroy()
		return fmt.Errorf("unlock %s: %w", s.describe(), secrets.ErrInvalidPassword)
	}

	s.key.Destroy()
	s.key = key
	s.locked = false
	s.log.Info("store %s unlocked", s.describe())
	return nil
}

// SetMasterPassword re-seals the stored hierarchy under a key derived from
// password and the existing salt. An empty password stores plaintext.
func (s *Store) SetMasterPassword(password string) error {
	if s.locked {
		return ErrStoreLocked
	}
	records, err := s.LoadRecords()
	if err != nil {
		return err
	}
	key, err := s.deriveKey(password)
	if err != nil {
		return err
	}

	old := s.key
	s.key = key
	if err := s.SaveRecords(records); err != nil {
		s.key = old
		key.Destroy()
		return fmt.Errorf("re-seal store: %w", err)
	}
	old.Destroy()
	s.log.Info("store %s re-sealed (encrypted=%v)", s.describe(), s.Encrypted())
	return nil
}

// SaveRecords replaces the stored hierarchy with records in one transaction.
// The untouched default workspace is not written. On any failure nothing changes.
func (s *Store) SaveRecords(records []session.WorkspaceRecord) error {
	if s.locked {
		return ErrStoreLocked
	}
	return withKey(s.key, func(key []byte) error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, table := range []string{"tabs", "sessions", "workspaces"} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if err := writeVerifier(tx, key); err != nil {
			return err
		}
		for _, wr := range records {
			if wr.IsUntouchedDefault() {
				continue
			}
			if err := insertWorkspace(tx, wr, key); err != nil {
				return err
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}

func writeVerifier(tx *sql.Tx, key []byte) error {
	if len(key) == 0 {
		if _, err := tx.Exec("DELETE FROM meta WHERE key = ?", metaVerifier); err != nil {
			return fmt.Errorf("clear verifier: %w", err)
		}
		return nil
	}
	sealed, err := secrets.EncryptString(verifierPlaintext, key)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, metaVerifier, sealed)
	if err != nil {
		return fmt.Errorf("write verifier: %w", err)
	}
	return nil
}

func insertWorkspace(tx *sql.Tx, wr session.WorkspaceRecord, key []byte) error {
	name, err := secrets.EncodeField(wr.Name, key)
	if err != nil {
		return err
	}
	nameKey, err := secrets.NameIndex(wr.Name, key)
	if err != nil {
		return err
	}
	res, err := tx.Exec(`INSERT INTO workspaces (name, name_key, created_at, updated_at)
		VALUES (?, ?, ?, ?)`, name, nameKey, sqlstore.Unix(wr.CreatedAt), sqlstore.Unix(wr.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	wsID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, sr := range wr.Sessions {
		if err := insertSession(tx, wsID, sr, key); err != nil {
			return err
		}
	}
	return nil
}

func insertSession(tx *sql.Tx, wsID int64, sr session.SessionRecord, key []byte) error {
	name, err := secrets.EncodeField(sr.Name, key)
	if err != nil {
		return err
	}
	nameKey, err := secrets.NameIndex(sr.Name, key)
	if err != nil {
		return err
	}
	res, err := tx.Exec(`INSERT INTO sessions (workspace_id, name, name_key, is_overview, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`, wsID, name, nameKey, sr.Overview, sqlstore.Unix(sr.CreatedAt), sqlstore.Unix(sr.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	sessionID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for pos, tr := range sr.Tabs {
		url, err := secrets.EncodeField(tr.URL, key)
		if err != nil {
			return err
		}
		title, err := secrets.EncodeField(tr.Title, key)
		if err != nil {
			return err
		}
		var ref sql.NullString
		if tr.SnapshotRef != "" {
			if ref.String, err = secrets.EncodeField(tr.SnapshotRef, key); err != nil {
				return err
			}
			ref.Valid = true
		}
		_, err = tx.Exec(`INSERT INTO tabs (session_id, url, title, snapshot_ref, last_active, position)
			VALUES (?, ?, ?, ?, ?, ?)`, sessionID, url, title, ref, sqlstore.Unix(tr.LastActive), pos)
		if err != nil {
			return fmt.Errorf("insert tab: %w", err)
		}
	}
	return nil
}

// LoadRecords reads the stored hierarchy in insertion order. A field that
// fails authentication locks the store and returns the crypto error.
func (s *Store) LoadRecords() ([]session.WorkspaceRecord, error) {
	if s.locked {
		return nil, ErrStoreLocked
	}
	var out []session.WorkspaceRecord
	err := withKey(s.key, func(key []byte) error {
		var err error
		out, err = readAll(s.db, key)
		return err
	})
	if errors.Is(err, secrets.ErrInvalidPassword) || errors.Is(err, secrets.ErrInvalidPayload) {
		s.locked = true
		s.log.Error("stored hierarchy cannot be decrypted; saving disabled: %v", err)
	}
	return out, err
}

// readAll issues one query per table; nested cursors would deadlock on the
// single connection.
func readAll(db *sql.DB, key []byte) ([]session.WorkspaceRecord, error) {
	var out []session.WorkspaceRecord
	wsIndex := make(map[int64]int)

	rows, err := db.Query("SELECT id, name, created_at, updated_at FROM workspaces ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query workspaces: %w", err)
	}
	for rows.Next() {
		var (
			id               int64
			name             string
			created, updated int64
		)
		if err := rows.Scan(&id, &name, &created, &updated); err != nil {
			rows.Close()
			return nil, err
		}
		plain, err := secrets.DecodeField(name, key)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("workspace %d name: %w", id, err)
		}
		wsIndex[id] = len(out)
		out = append(out, session.WorkspaceRecord{
			Name:      plain,
			CreatedAt: sqlstore.FromUnix(created),
			UpdatedAt: sqlstore.FromUnix(updated),
		})
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	type sessionPos struct{ ws, idx int }
	sessionIndex := make(map[int64]sessionPos)

	rows, err = db.Query(`SELECT id, workspace_id, name, is_overview, created_at, updated_at
		FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	for rows.Next() {
		var (
			id, wsID         int64
			name             string
			overview         bool
			created, updated int64
		)
		if err := rows.Scan(&id, &wsID, &name, &overview, &created, &updated); err != nil {
			rows.Close()
			return nil, err
		}
		wi, ok := wsIndex[wsID]
		if !ok {
			continue
		}
		plain, err := secrets.DecodeField(name, key)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("session %d name: %w", id, err)
		}
		sessionIndex[id] = sessionPos{ws: wi, idx: len(out[wi].Sessions)}
		out[wi].Sessions = append(out[wi].Sessions, session.SessionRecord{
			Name:      plain,
			Overview:  overview,
			CreatedAt: sqlstore.FromUnix(created),
			UpdatedAt: sqlstore.FromUnix(updated),
		})
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = db.Query(`SELECT id, session_id, url, title, snapshot_ref, last_active
		FROM tabs ORDER BY session_id, position, id`)
	if err != nil {
		return nil, fmt.Errorf("query tabs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, sessionID int64
			url, title    string
			ref           sql.NullString
			lastActive    int64
		)
		if err := rows.Scan(&id, &sessionID, &url, &title, &ref, &lastActive); err != nil {
			return nil, err
		}
		pos, ok := sessionIndex[sessionID]
		if !ok {
			continue
		}
		tr := session.TabRecord{LastActive: sqlstore.FromUnix(lastActive)}
		if tr.URL, err = secrets.DecodeField(url, key); err != nil {
			return nil, fmt.Errorf("tab %d url: %w", id, err)
		}
		if tr.Title, err = secrets.DecodeField(title, key); err != nil {
			return nil, fmt.Errorf("tab %d title: %w", id, err)
		}
		if ref.Valid {
			if tr.SnapshotRef, err = secrets.DecodeField(ref.String, key); err != nil {
				return nil, fmt.Errorf("tab %d snapshot: %w", id, err)
			}
		}
		sr := &out[pos.ws].Sessions[pos.idx]
		sr.Tabs = append(sr.Tabs, tr)
	}
	return out, rows.Err()
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close destroys the key and closes the database.
func (s *Store) Close() error {
	s.key.Destroy()
	s.key = nil
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
