// Package vault stores website credentials in the OS secret service when it
// is reachable, or in an encrypted sqlite table otherwise.
package vault

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/codefionn/ryxsurf/internal/logger"
	"github.com/codefionn/ryxsurf/internal/metrics"
	"github.com/codefionn/ryxsurf/internal/secrets"
	"github.com/codefionn/ryxsurf/internal/securemem"
	"github.com/codefionn/ryxsurf/internal/sqlstore"
)

// DefaultService is the secret-service collection credentials are filed under.
const DefaultService = "ai.ryx.surf.password"

// Backends.
const (
	BackendKeyring = "keyring"
	BackendLocal   = "local"
)

// probeUser is looked up once at open to test the secret service.
const probeUser = "__ryxsurf_probe__"

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL,
	domain_key TEXT NOT NULL,
	username TEXT NOT NULL,
	user_key TEXT NOT NULL,
	password_encrypted TEXT NOT NULL DEFAULT '',
	created INTEGER NOT NULL,
	last_used INTEGER NOT NULL,
	use_seq INTEGER NOT NULL DEFAULT 0,
	backend TEXT NOT NULL DEFAULT 'local',
	UNIQUE (domain_key, user_key)
);

CREATE INDEX IF NOT EXISTS idx_credentials_domain ON credentials(domain_key, last_used);
`

// ErrEmptyDomain is returned when an origin does not normalise to a host.
var ErrEmptyDomain = errors.New("origin has no host")

// StorageOpenError reports that the credential database could not be opened.
type StorageOpenError struct {
	Path string
	Err  error
}

func (e *StorageOpenError) Error() string {
	return fmt.Sprintf("open vault %s: %v", e.Path, e.Err)
}

func (e *StorageOpenError) Unwrap() error { return e.Err }

// Credential is one stored login.
type Credential struct {
	Domain    string
	Username  string
	Password  string
	CreatedAt time.Time
	LastUsed  time.Time
}

// Options configures Open.
type Options struct {
	// Path of the credential database. Empty keeps it in memory.
	Path string
	// MasterPassword seals the local table when non-empty.
	MasterPassword string
	// PreferKeyring selects the OS secret service when it answers.
	PreferKeyring bool
	// Service overrides DefaultService.
	Service  string
	Autofill bool
	Clock    func() time.Time
	Metrics  *metrics.Metrics
}

// Vault is the credential manager. It is owned by a single goroutine.
type Vault struct {
	db       *sql.DB
	path     string
	salt     []byte
	key      *securemem.Key
	backend  string
	service  string
	autofill bool
	clock    func() time.Time
	metrics  *metrics.Metrics
	degraded error
	log      *logger.Logger
}

// Open opens the credential database and selects a backend. An unusable file
// falls back to an in-memory table and Degraded reports why.
func Open(opts Options) (*Vault, error) {
	v := &Vault{
		path:     opts.Path,
		backend:  BackendLocal,
		service:  opts.Service,
		autofill: opts.Autofill,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		log:      logger.Global().WithPrefix("vault"),
	}
	if v.service == "" {
		v.service = DefaultService
	}
	if v.clock == nil {
		v.clock = time.Now
	}

	db, err := openDB(opts.Path)
	if err == nil && opts.MasterPassword != "" && opts.Path != sqlstore.Memory {
		// An unusable salt file is left untouched; the rows behind it stay sealed.
		if v.salt, err = secrets.LoadOrCreateSalt(secrets.SaltPath(opts.Path)); err != nil {
			_ = db.Close()
		}
	}
	if err != nil {
		openErr := &StorageOpenError{Path: opts.Path, Err: err}
		v.log.Warn("%v; credentials will not survive a restart", openErr)
		v.degraded = openErr
		v.path = sqlstore.Memory
		v.salt = nil
		if db, err = openDB(sqlstore.Memory); err != nil {
			return nil, &StorageOpenError{Path: ":memory:", Err: err}
		}
	}
	v.db = db

	if opts.PreferKeyring && keyringAvailable(v.service) {
		v.backend = BackendKeyring
	}

	key, err := v.deriveKey(opts.MasterPassword)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	v.key = key
	if v.backend == BackendLocal && key == nil {
		v.log.Warn("no master password set; local credentials are stored unencrypted")
	}
	v.log.Info("credential backend: %s", v.backend)
	return v, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sqlstore.Open(path, schema)
	if err != nil {
		return nil, err
	}
	if err := addBackendColumn(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// addBackendColumn upgrades tables written before rows recorded their
// backend. Secret service rows are the ones with nothing in the password column.
func addBackendColumn(db *sql.DB) error {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('credentials') WHERE name = 'backend'").Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect credentials table: %w", err)
	}
	if n > 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec("ALTER TABLE credentials ADD COLUMN backend TEXT NOT NULL DEFAULT 'local'"); err != nil {
		return fmt.Errorf("add backend column: %w", err)
	}
	if _, err := tx.Exec("UPDATE credentials SET backend = ? WHERE password_encrypted = ''", BackendKeyring); err != nil {
		return fmt.Errorf("mark secret service rows: %w", err)
	}
	return tx.Commit()
}

func keyringAvailable(service string) bool {
	_, err := keyring.Get(service, probeUser)
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

func (v *Vault) deriveKey(password string) (*securemem.Key, error) {
	if password == "" {
		return nil, nil
	}
	if v.salt == nil {
		var err error
		if v.path == sqlstore.Memory {
			v.salt, err = secrets.RandomBytes(secrets.SaltSize)
		} else {
			v.salt, err = secrets.LoadOrCreateSalt(secrets.SaltPath(v.path))
		}
		if err != nil {
			return nil, err
		}
	}
	raw, _, err := secrets.DeriveKey(password, v.salt)
	if err != nil {
		return nil, err
	}
	return securemem.NewKey(raw), nil
}

func (v *Vault) withKey(fn func(key []byte) error) error {
	return withLockedKey(v.key, fn)
}

// Backend returns BackendKeyring or BackendLocal.
func (v *Vault) Backend() string { return v.backend }

// Degraded returns the StorageOpenError that forced an in-memory table, or nil.
func (v *Vault) Degraded() error { return v.degraded }

// AutofillEnabled reports whether autofill is permitted.
func (v *Vault) AutofillEnabled() bool { return v.autofill }

// SetAutofill enables or disables autofill.
func (v *Vault) SetAutofill(enabled bool) { v.autofill = enabled }

func keyringUser(domain, username string) string {
	return domain + "/" + username
}

func (v *Vault) nextSeq(q interface {
	QueryRow(string, ...any) *sql.Row
}) (int64, error) {
	var seq int64
	if err := q.QueryRow("SELECT COALESCE(MAX(use_seq), 0) + 1 FROM credentials").Scan(&seq); err != nil {
		return 0, fmt.Errorf("next use sequence: %w", err)
	}
	return seq, nil
}

// Save stores or replaces the password for (domain, username). domain may be
// any origin; it is normalised to its host.
func (v *Vault) Save(domain, username, password string) error {
	domain = Normalize(domain)
	if domain == "" {
		return ErrEmptyDomain
	}
	defer v.metrics.VaultOp("save", v.backend)

	return v.withKey(func(key []byte) error {
		var stored string
		if v.backend == BackendLocal {
			var err error
			if stored, err = secrets.EncodeField(password, key); err != nil {
				return err
			}
		}

		encDomain, domainKey, err := sealName(domain, key)
		if err != nil {
			return err
		}
		encUser, userKey, err := sealName(username, key)
		if err != nil {
			return err
		}

		tx, err := v.db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		seq, err := v.nextSeq(tx)
		if err != nil {
			return err
		}
		now := sqlstore.Unix(v.clock())
		_, err = tx.Exec(`INSERT INTO credentials
			(domain, domain_key, username, user_key, password_encrypted, created, last_used, use_seq, backend)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (domain_key, user_key) DO UPDATE SET
				domain = excluded.domain,
				username = excluded.username,
				password_encrypted = excluded.password_encrypted,
				last_used = excluded.last_used,
				use_seq = excluded.use_seq,
				backend = excluded.backend`,
			encDomain, domainKey, encUser, userKey, stored, now, now, seq, v.backend)
		if err != nil {
			return fmt.Errorf("save credential: %w", err)
		}
		if v.backend == BackendKeyring {
			return v.commitWithSecret(tx, keyringUser(domain, username), password)
		}
		return tx.Commit()
	})
}

// commitWithSecret writes the secret service entry for a row that is already
// inserted, then commits. A failed commit puts the previous entry back.
func (v *Vault) commitWithSecret(tx *sql.Tx, user, password string) error {
	previous, prevErr := keyring.Get(v.service, user)
	if err := keyring.Set(v.service, user, password); err != nil {
		return fmt.Errorf("secret service store: %w", err)
	}
	if err := tx.Commit(); err != nil {
		switch {
		case prevErr == nil:
			_ = keyring.Set(v.service, user, previous)
		case errors.Is(prevErr, keyring.ErrNotFound):
			_ = keyring.Delete(v.service, user)
		}
		return fmt.Errorf("commit credential: %w", err)
	}
	return nil
}

func sealName(value string, key []byte) (sealed, index string, err error) {
	if sealed, err = secrets.EncodeField(value, key); err != nil {
		return "", "", err
	}
	if index, err = secrets.NameIndex(value, key); err != nil {
		return "", "", err
	}
	return sealed, index, nil
}

// Get returns every credential for domain, most recently used first.
// Credentials that cannot be decrypted are left out.
func (v *Vault) Get(domain string) ([]Credential, error) {
	domain = Normalize(domain)
	if domain == "" {
		return nil, nil
	}
	defer v.metrics.VaultOp("get", v.backend)

	var out []Credential
	err := v.withKey(func(key []byte) error {
		domainKey, err := secrets.NameIndex(domain, key)
		if err != nil {
			return err
		}
		rows, err := v.db.Query(`SELECT username, password_encrypted, created, last_used
			FROM credentials WHERE domain_key = ? AND backend = ?
			ORDER BY last_used DESC, use_seq DESC`, domainKey, v.backend)
		if err != nil {
			return fmt.Errorf("query credentials: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				user, stored      string
				created, lastUsed int64
			)
			if err := rows.Scan(&user, &stored, &created, &lastUsed); err != nil {
				return err
			}
			username, err := secrets.DecodeField(user, key)
			if err != nil {
				v.log.Warn("skipping credential for %s: %v", domain, err)
				continue
			}
			out = append(out, Credential{
				Domain:    domain,
				Username:  username,
				Password:  stored,
				CreatedAt: sqlstore.FromUnix(created),
				LastUsed:  sqlstore.FromUnix(lastUsed),
			})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return v.revealPasswords(out)
}

// revealPasswords replaces the stored column with the actual secret.
func (v *Vault) revealPasswords(creds []Credential) ([]Credential, error) {
	out := creds[:0]
	for _, c := range creds {
		if v.backend == BackendKeyring {
			secret, err := keyring.Get(v.service, keyringUser(c.Domain, c.Username))
			switch {
			case errors.Is(err, keyring.ErrNotFound):
				v.log.Warn("secret service lost the password for %s on %s", c.Username, c.Domain)
				continue
			case err != nil:
				return nil, fmt.Errorf("secret service lookup: %w", err)
			}
			c.Password = secret
		} else {
			err := v.withKey(func(key []byte) error {
				plain, err := secrets.DecodeField(c.Password, key)
				c.Password = plain
				return err
			})
			if err != nil {
				v.log.Warn("skipping credential %s on %s: %v", c.Username, c.Domain, err)
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// GetOne returns the most recently used credential for domain.
func (v *Vault) GetOne(domain string) (Credential, bool) {
	creds, err := v.Get(domain)
	if err != nil {
		v.log.Error("lookup %s: %v", domain, err)
		return Credential{}, false
	}
	if len(creds) == 0 {
		return Credential{}, false
	}
	return creds[0], true
}

// HasCredentials reports whether anything is stored for domain under the
// active backend. Passwords are not read.
func (v *Vault) HasCredentials(domain string) bool {
	domain = Normalize(domain)
	if domain == "" {
		return false
	}
	var found bool
	err := v.withKey(func(key []byte) error {
		domainKey, err := secrets.NameIndex(domain, key)
		if err != nil {
			return err
		}
		var one int
		err = v.db.QueryRow("SELECT 1 FROM credentials WHERE domain_key = ? AND backend = ? LIMIT 1",
			domainKey, v.backend).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		v.log.Error("existence check for %s: %v", domain, err)
	}
	return found
}

// Delete removes the credential for (domain, username) and reports whether one existed.
func (v *Vault) Delete(domain, username string) (bool, error) {
	domain = Normalize(domain)
	if domain == "" {
		return false, nil
	}
	defer v.metrics.VaultOp("delete", v.backend)

	if v.backend == BackendKeyring {
		err := keyring.Delete(v.service, keyringUser(domain, username))
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return false, fmt.Errorf("secret service delete: %w", err)
		}
	}

	var deleted bool
	err := v.withKey(func(key []byte) error {
		domainKey, err := secrets.NameIndex(domain, key)
		if err != nil {
			return err
		}
		userKey, err := secrets.NameIndex(username, key)
		if err != nil {
			return err
		}
		res, err := v.db.Exec("DELETE FROM credentials WHERE domain_key = ? AND user_key = ? AND backend = ?",
			domainKey, userKey, v.backend)
		if err != nil {
			return fmt.Errorf("delete credential: %w", err)
		}
		n, err := res.RowsAffected()
		deleted = n > 0
		return err
	})
	return deleted, err
}

// ListDomains returns every domain with a readable credential under the
// active backend, sorted.
func (v *Vault) ListDomains() ([]string, error) {
	var out []string
	err := v.withKey(func(key []byte) error {
		rows, err := v.db.Query("SELECT domain FROM credentials WHERE backend = ?", v.backend)
		if err != nil {
			return fmt.Errorf("query domains: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var stored string
			if err := rows.Scan(&stored); err != nil {
				return err
			}
			domain, err := secrets.DecodeField(stored, key)
			if err != nil {
				continue
			}
			out = append(out, domain)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// UpdateLastUsed marks the credential as just used so GetOne prefers it.
func (v *Vault) UpdateLastUsed(domain, username string) error {
	domain = Normalize(domain)
	if domain == "" {
		return ErrEmptyDomain
	}
	return v.withKey(func(key []byte) error {
		domainKey, err := secrets.NameIndex(domain, key)
		if err != nil {
			return err
		}
		userKey, err := secrets.NameIndex(username, key)
		if err != nil {
			return err
		}

		tx, err := v.db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		seq, err := v.nextSeq(tx)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`UPDATE credentials SET last_used = ?, use_seq = ?
			WHERE domain_key = ? AND user_key = ? AND backend = ?`,
			sqlstore.Unix(v.clock()), seq, domainKey, userKey, v.backend)
		if err != nil {
			return fmt.Errorf("touch credential: %w", err)
		}
		return tx.Commit()
	})
}

// ShouldAutofill reports whether autofill is enabled and a credential exists
// for the origin's host.
func (v *Vault) ShouldAutofill(origin string) bool {
	return v.autofill && v.HasCredentials(origin)
}

// Autofill returns the credential to fill into a page at origin and marks it used.
func (v *Vault) Autofill(origin string) (Credential, bool) {
	if !v.ShouldAutofill(origin) {
		return Credential{}, false
	}
	cred, ok := v.GetOne(origin)
	if !ok {
		return Credential{}, false
	}
	if err := v.UpdateLastUsed(cred.Domain, cred.Username); err != nil {
		v.log.Warn("touch %s on %s: %v", cred.Username, cred.Domain, err)
	}
	v.metrics.Autofill()
	return cred, true
}

// CredentialAvailable answers the UI before it offers to save a login: true
// when the origin's host already has a stored credential.
func (v *Vault) CredentialAvailable(origin string) bool {
	return v.HasCredentials(origin)
}

// SetMasterPassword re-seals every readable row under a key derived from
// password and the existing salt. Rows sealed under another key are left alone.
func (v *Vault) SetMasterPassword(password string) error {
	type row struct {
		id                                int64
		domain, username, stored, backend string
	}

	var rows []row
	err := v.withKey(func(key []byte) error {
		q, err := v.db.Query("SELECT id, domain, username, password_encrypted, backend FROM credentials")
		if err != nil {
			return fmt.Errorf("query credentials: %w", err)
		}
		defer q.Close()
		for q.Next() {
			var r row
			if err := q.Scan(&r.id, &r.domain, &r.username, &r.stored, &r.backend); err != nil {
				return err
			}
			if r.domain, err = secrets.DecodeField(r.domain, key); err != nil {
				continue
			}
			if r.username, err = secrets.DecodeField(r.username, key); err != nil {
				continue
			}
			if r.backend == BackendLocal {
				if r.stored, err = secrets.DecodeField(r.stored, key); err != nil {
					continue
				}
			}
			rows = append(rows, r)
		}
		return q.Err()
	})
	if err != nil {
		return err
	}

	key, err := v.deriveKey(password)
	if err != nil {
		return err
	}

	err = withLockedKey(key, func(k []byte) error {
		tx, err := v.db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, r := range rows {
			encDomain, domainKey, err := sealName(r.domain, k)
			if err != nil {
				return err
			}
			encUser, userKey, err := sealName(r.username, k)
			if err != nil {
				return err
			}
			stored := r.stored
			if r.backend == BackendLocal {
				if stored, err = secrets.EncodeField(r.stored, k); err != nil {
					return err
				}
			}
			_, err = tx.Exec(`UPDATE credentials SET domain = ?, domain_key = ?, username = ?, user_key = ?,
				password_encrypted = ? WHERE id = ?`, encDomain, domainKey, encUser, userKey, stored, r.id)
			if err != nil {
				return fmt.Errorf("re-seal credential: %w", err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		key.Destroy()
		return err
	}

	v.key.Destroy()
	v.key = key
	v.log.Info("vault re-sealed %d credentials", len(rows))
	return nil
}

func withLockedKey(key *securemem.Key, fn func(key []byte) error) error {
	if key == nil {
		return fn(nil)
	}
	return key.Use(fn)
}

// Close destroys the key and closes the database.
func (v *Vault) Close() error {
	v.key.Destroy()
	v.key = nil
	if v.db == nil {
		return nil
	}
	err := v.db.Close()
	v.db = nil
	return err
}
