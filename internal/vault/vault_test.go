package vault

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/codefionn/ryxsurf/internal/secrets"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newClock() *stepClock {
	return &stepClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func openLocal(t *testing.T, path, password string) *Vault {
	t.Helper()
	keyring.MockInitWithError(errors.New("secret service unavailable"))
	v, err := Open(Options{
		Path:           path,
		MasterPassword: password,
		PreferKeyring:  true,
		Autofill:       true,
		Clock:          newClock().Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func openKeyring(t *testing.T) *Vault {
	t.Helper()
	keyring.MockInit()
	return openKeyringAt(t, filepath.Join(t.TempDir(), "passwords.db"))
}

// openKeyringAt opens path against whatever secret service mock is installed.
func openKeyringAt(t *testing.T, path string) *Vault {
	t.Helper()
	v, err := Open(Options{
		Path:          path,
		PreferKeyring: true,
		Autofill:      true,
		Clock:         newClock().Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func TestBackendSelection(t *testing.T) {
	assert.Equal(t, BackendKeyring, openKeyring(t).Backend())
	assert.Equal(t, BackendLocal, openLocal(t, "", "").Backend())

	keyring.MockInit()
	v, err := Open(Options{PreferKeyring: false})
	require.NoError(t, err)
	defer v.Close()
	assert.Equal(t, BackendLocal, v.Backend())
}

func testGetOnePrefersLastUsed(t *testing.T, v *Vault) {
	require.NoError(t, v.Save("example.com", "alice", "p1"))
	require.NoError(t, v.Save("example.com", "bob", "p2"))

	cred, ok := v.GetOne("example.com")
	require.True(t, ok)
	assert.Equal(t, "bob", cred.Username)
	assert.Equal(t, "p2", cred.Password)

	require.NoError(t, v.UpdateLastUsed("example.com", "alice"))
	cred, ok = v.GetOne("https://example.com/login")
	require.True(t, ok)
	assert.Equal(t, "alice", cred.Username)
	assert.Equal(t, "p1", cred.Password)

	all, err := v.Get("example.com")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alice", all[0].Username)
	assert.Equal(t, "bob", all[1].Username)
}

func TestGetOnePrefersLastUsedLocal(t *testing.T) {
	testGetOnePrefersLastUsed(t, openLocal(t, filepath.Join(t.TempDir(), "passwords.db"), "master"))
}

func TestGetOnePrefersLastUsedKeyring(t *testing.T) {
	testGetOnePrefersLastUsed(t, openKeyring(t))
}

func TestLastUsedTieBrokenByUseOrder(t *testing.T) {
	keyring.MockInitWithError(errors.New("unavailable"))
	frozen := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v, err := Open(Options{Clock: func() time.Time { return frozen }})
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Save("example.com", "alice", "p1"))
	require.NoError(t, v.Save("example.com", "bob", "p2"))
	cred, _ := v.GetOne("example.com")
	assert.Equal(t, "bob", cred.Username)

	require.NoError(t, v.UpdateLastUsed("example.com", "alice"))
	cred, _ = v.GetOne("example.com")
	assert.Equal(t, "alice", cred.Username)
}

func TestSaveUpsertsAndKeepsCreated(t *testing.T) {
	v := openLocal(t, "", "")
	require.NoError(t, v.Save("https://example.com", "alice", "old"))
	first, ok := v.GetOne("example.com")
	require.True(t, ok)

	require.NoError(t, v.Save("example.com:443", "alice", "new"))
	all, err := v.Get("example.com")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].Password)
	assert.Equal(t, first.CreatedAt, all[0].CreatedAt)
	assert.True(t, all[0].LastUsed.After(first.LastUsed))
}

func TestMissingDomainIsEmpty(t *testing.T) {
	v := openLocal(t, "", "")
	creds, err := v.Get("nowhere.example")
	require.NoError(t, err)
	assert.Empty(t, creds)

	_, ok := v.GetOne("nowhere.example")
	assert.False(t, ok)
	assert.False(t, v.HasCredentials("nowhere.example"))
	assert.ErrorIs(t, v.Save("", "alice", "pw"), ErrEmptyDomain)
}

func TestDeleteAndListDomains(t *testing.T) {
	for name, open := range map[string]func(*testing.T) *Vault{
		"local":   func(t *testing.T) *Vault { return openLocal(t, "", "pw") },
		"keyring": openKeyring,
	} {
		t.Run(name, func(t *testing.T) {
			v := open(t)
			require.NoError(t, v.Save("b.example", "alice", "1"))
			require.NoError(t, v.Save("a.example", "alice", "2"))
			require.NoError(t, v.Save("a.example", "bob", "3"))

			domains, err := v.ListDomains()
			require.NoError(t, err)
			assert.Equal(t, []string{"a.example", "b.example"}, domains)

			deleted, err := v.Delete("https://b.example/", "alice")
			require.NoError(t, err)
			assert.True(t, deleted)
			assert.False(t, v.HasCredentials("b.example"))

			deleted, err = v.Delete("b.example", "alice")
			require.NoError(t, err)
			assert.False(t, deleted)

			domains, err = v.ListDomains()
			require.NoError(t, err)
			assert.Equal(t, []string{"a.example"}, domains)
		})
	}
}

func TestKeyringModeStoresPasswordOutsideDatabase(t *testing.T) {
	v := openKeyring(t)
	require.NoError(t, v.Save("example.com", "alice", "hunter2"))

	var stored string
	require.NoError(t, v.db.QueryRow("SELECT password_encrypted FROM credentials").Scan(&stored))
	assert.Empty(t, stored)

	secret, err := keyring.Get(DefaultService, keyringUser("example.com", "alice"))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)
}

func TestKeyringEntryMissingIsSkipped(t *testing.T) {
	v := openKeyring(t)
	require.NoError(t, v.Save("example.com", "alice", "p1"))
	require.NoError(t, keyring.Delete(DefaultService, keyringUser("example.com", "alice")))

	creds, err := v.Get("example.com")
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestLocalModeEncryptsAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwords.db")
	v := openLocal(t, path, "master")
	require.NoError(t, v.Save("example.com", "alice", "hunter2"))

	var domain, user, stored string
	require.NoError(t, v.db.QueryRow("SELECT domain, username, password_encrypted FROM credentials").
		Scan(&domain, &user, &stored))
	assert.NotContains(t, domain, "example.com")
	assert.NotContains(t, user, "alice")
	assert.NotContains(t, stored, "hunter2")
	require.NoError(t, v.Close())

	_, err := os.Stat(path + ".salt")
	require.NoError(t, err)

	v = openLocal(t, path, "master")
	cred, ok := v.GetOne("example.com")
	require.True(t, ok)
	assert.Equal(t, "hunter2", cred.Password)
}

func TestWrongMasterPasswordHidesCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwords.db")
	v := openLocal(t, path, "right")
	require.NoError(t, v.Save("example.com", "alice", "hunter2"))
	require.NoError(t, v.Close())

	v = openLocal(t, path, "wrong")
	_, ok := v.GetOne("example.com")
	assert.False(t, ok)
	assert.False(t, v.HasCredentials("example.com"))
	domains, err := v.ListDomains()
	require.NoError(t, err)
	assert.Empty(t, domains)
}

func TestSetMasterPasswordReseals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwords.db")
	v := openLocal(t, path, "")
	require.NoError(t, v.Save("example.com", "alice", "hunter2"))
	require.NoError(t, v.SetMasterPassword("fresh"))

	cred, ok := v.GetOne("example.com")
	require.True(t, ok)
	assert.Equal(t, "hunter2", cred.Password)
	require.NoError(t, v.Close())

	v = openLocal(t, path, "")
	assert.False(t, v.HasCredentials("example.com"))
	require.NoError(t, v.Close())

	v = openLocal(t, path, "fresh")
	assert.True(t, v.HasCredentials("example.com"))
}

func TestAutofill(t *testing.T) {
	v := openLocal(t, "", "")
	require.NoError(t, v.Save("example.com", "alice", "p1"))
	require.NoError(t, v.Save("example.com", "bob", "p2"))

	assert.True(t, v.ShouldAutofill("https://example.com/login"))
	assert.False(t, v.ShouldAutofill("https://other.example"))
	assert.True(t, v.CredentialAvailable("https://example.com:8443/x"))

	cred, ok := v.Autofill("https://example.com/login")
	require.True(t, ok)
	assert.Equal(t, "bob", cred.Username)

	v.SetAutofill(false)
	assert.False(t, v.AutofillEnabled())
	assert.False(t, v.ShouldAutofill("https://example.com"))
	_, ok = v.Autofill("https://example.com")
	assert.False(t, ok)
	assert.True(t, v.CredentialAvailable("https://example.com"))
}

func TestUnusablePathFallsBackToMemory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	v := openLocal(t, filepath.Join(blocker, "passwords.db"), "pw")
	var openErr *StorageOpenError
	require.ErrorAs(t, v.Degraded(), &openErr)

	require.NoError(t, v.Save("example.com", "alice", "p1"))
	assert.True(t, v.HasCredentials("example.com"))
}

func TestKeyringRowsHiddenFromLocalBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwords.db")
	keyring.MockInit()
	v := openKeyringAt(t, path)
	require.Equal(t, BackendKeyring, v.Backend())
	require.NoError(t, v.Save("example.com", "alice", "hunter2"))
	require.NoError(t, v.Close())

	v = openLocal(t, path, "")
	require.Equal(t, BackendLocal, v.Backend())
	_, ok := v.GetOne("example.com")
	assert.False(t, ok)
	assert.False(t, v.HasCredentials("example.com"))
	assert.False(t, v.ShouldAutofill("https://example.com/login"))
	_, ok = v.Autofill("https://example.com/login")
	assert.False(t, ok)
	domains, err := v.ListDomains()
	require.NoError(t, err)
	assert.Empty(t, domains)
	deleted, err := v.Delete("example.com", "alice")
	require.NoError(t, err)
	assert.False(t, deleted)

	var lastUsed int64
	require.NoError(t, v.db.QueryRow("SELECT last_used FROM credentials").Scan(&lastUsed))
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC).Unix(), lastUsed)

	require.NoError(t, v.Save("example.com", "alice", "local-secret"))
	cred, ok := v.GetOne("example.com")
	require.True(t, ok)
	assert.Equal(t, "local-secret", cred.Password)
}

func TestLegacyRowsGetBackendColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwords.db")
	keyring.MockInit()
	v := openKeyringAt(t, path)
	require.NoError(t, v.Save("example.com", "alice", "hunter2"))
	_, err := v.db.Exec("ALTER TABLE credentials DROP COLUMN backend")
	require.NoError(t, err)
	require.NoError(t, v.Close())

	v = openLocal(t, path, "")
	assert.False(t, v.HasCredentials("example.com"))
	require.NoError(t, v.Save("example.org", "bob", "p2"))
	require.NoError(t, v.Close())

	keyring.MockInit()
	require.NoError(t, keyring.Set(DefaultService, keyringUser("example.com", "alice"), "hunter2"))
	v = openKeyringAt(t, path)
	cred, ok := v.GetOne("example.com")
	require.True(t, ok)
	assert.Equal(t, "hunter2", cred.Password)
	assert.False(t, v.HasCredentials("example.org"))
}

func TestFailedSaveLeavesNoSecret(t *testing.T) {
	v := openKeyring(t)
	_, err := v.db.Exec("DROP TABLE credentials")
	require.NoError(t, err)

	require.Error(t, v.Save("example.com", "alice", "hunter2"))
	_, err = keyring.Get(DefaultService, keyringUser("example.com", "alice"))
	assert.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestCorruptSaltFallsBackToMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwords.db")
	saltPath := secrets.SaltPath(path)
	require.NoError(t, os.WriteFile(saltPath, []byte{1, 2, 3}, 0o600))

	v := openLocal(t, path, "pw")
	var openErr *StorageOpenError
	require.ErrorAs(t, v.Degraded(), &openErr)
	require.ErrorIs(t, openErr, secrets.ErrInvalidSalt)

	require.NoError(t, v.Save("example.com", "alice", "p1"))
	cred, ok := v.GetOne("example.com")
	require.True(t, ok)
	assert.Equal(t, "p1", cred.Password)

	salt, err := os.ReadFile(saltPath)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, salt)
}
