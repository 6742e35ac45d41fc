package users

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/FamiliaDusu/Ogaac-test/internal/apperr"
	"github.com/FamiliaDusu/Ogaac-test/internal/scope"
	"github.com/FamiliaDusu/Ogaac-test/pkg/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "users-roles.json"), logging.NewLogger())
}

func TestCreateAndVerify(t *testing.T) {
	s := newTestStore(t)

	u, err := s.Create(CreateParams{Username: "operador1", Password: "secreto1", Role: "operator"})
	require.NoError(t, err)
	require.Equal(t, "operador1", u.Username)
	require.Empty(t, u.PasswordHash, "create must not leak the hash")
	require.True(t, u.Enabled)
	require.Equal(t, SourceLocal, u.Source)

	require.True(t, s.Verify("operador1", "secreto1"))
	require.False(t, s.Verify("operador1", "wrong"))
	require.False(t, s.Verify("nobody", "secreto1"))
}

func TestCreateValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(CreateParams{Username: "ab", Password: "secreto1", Role: "operator"})
	require.Equal(t, apperr.Validation, apperr.KindOf(err))

	_, err = s.Create(CreateParams{Username: "has space", Password: "secreto1", Role: "operator"})
	require.Equal(t, apperr.Validation, apperr.KindOf(err))

	_, err = s.Create(CreateParams{Username: "operador1", Password: "short", Role: "operator"})
	require.Equal(t, apperr.Validation, apperr.KindOf(err))

	_, err = s.Create(CreateParams{Username: "operador1", Password: "secreto1", Role: "root"})
	require.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestCreateDuplicate(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(CreateParams{Username: "operador1", Password: "secreto1", Role: "operator"})
	require.NoError(t, err)

	_, err = s.Create(CreateParams{Username: "operador1", Password: "secreto2", Role: "viewer"})
	require.Equal(t, apperr.DuplicateUser, apperr.KindOf(err))
}

func TestDisabledUserNeverVerifies(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(CreateParams{Username: "operador1", Password: "secreto1", Role: "operator"})
	require.NoError(t, err)

	enabled := false
	_, err = s.Update("operador1", UpdateParams{Enabled: &enabled})
	require.NoError(t, err)

	require.False(t, s.Verify("operador1", "secreto1"))
}

func TestLegacyHashAutoUpgrade(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(CreateParams{Username: "legado", Password: "placeholder", Role: "operator"})
	require.NoError(t, err)

	// Rewrite the stored hash as a legacy SHA-256 hex digest.
	sum := sha256.Sum256([]byte("vieja-clave"))
	legacy := hex.EncodeToString(sum[:])
	s.mu.Lock()
	doc, err := s.readLocked()
	require.NoError(t, err)
	doc.Users[0].PasswordHash = legacy
	require.NoError(t, s.writeLocked(doc))
	s.mu.Unlock()

	require.True(t, s.Verify("legado", "vieja-clave"))

	// The stored hash must now be bcrypt, and still verify.
	u, err := s.Get("legado")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u.PasswordHash, "$2"), "hash was not upgraded: %s", u.PasswordHash)
	require.True(t, s.Verify("legado", "vieja-clave"))
	require.False(t, s.Verify("legado", "otra-clave"))
}

func TestUnknownHashFormatFailsClosed(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(CreateParams{Username: "roto", Password: "placeholder", Role: "viewer"})
	require.NoError(t, err)

	s.mu.Lock()
	doc, err := s.readLocked()
	require.NoError(t, err)
	doc.Users[0].PasswordHash = "md5:whatever"
	require.NoError(t, s.writeLocked(doc))
	s.mu.Unlock()

	require.False(t, s.Verify("roto", "placeholder"))
}

func TestUpdatePartialFields(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(CreateParams{Username: "operador1", Password: "secreto1", Role: "operator", Note: "turno manana"})
	require.NoError(t, err)

	role := "admin"
	u, err := s.Update("operador1", UpdateParams{Role: &role})
	require.NoError(t, err)
	require.Equal(t, "admin", u.Role)
	require.Equal(t, "turno manana", u.Note, "omitted fields must stay unchanged")

	// Password change re-hashes.
	pw := "secreto2"
	_, err = s.Update("operador1", UpdateParams{Password: &pw})
	require.NoError(t, err)
	require.False(t, s.Verify("operador1", "secreto1"))
	require.True(t, s.Verify("operador1", "secreto2"))

	// Scope set and clear.
	_, err = s.Update("operador1", UpdateParams{Scope: &scope.Scope{Sedes: []string{"suipacha"}}, SetScope: true})
	require.NoError(t, err)
	got, err := s.Get("operador1")
	require.NoError(t, err)
	require.NotNil(t, got.Scope)

	_, err = s.Update("operador1", UpdateParams{Scope: nil, SetScope: true})
	require.NoError(t, err)
	got, err = s.Get("operador1")
	require.NoError(t, err)
	require.Nil(t, got.Scope)
}

func TestExternalUsersAreImmutable(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(CreateParams{Username: "importado", Password: "secreto1", Role: "viewer"})
	require.NoError(t, err)

	s.mu.Lock()
	doc, err := s.readLocked()
	require.NoError(t, err)
	doc.Users[0].Source = SourceAD
	require.NoError(t, s.writeLocked(doc))
	s.mu.Unlock()

	role := "admin"
	_, err = s.Update("importado", UpdateParams{Role: &role})
	require.Equal(t, apperr.ExternalUser, apperr.KindOf(err))

	err = s.Delete("importado")
	require.Equal(t, apperr.ExternalUser, apperr.KindOf(err))

	// Store unchanged after the failed delete.
	got, err := s.Get("importado")
	require.NoError(t, err)
	require.Equal(t, "viewer", got.Role)
}

func TestDeleteMissingUser(t *testing.T) {
	s := newTestStore(t)
	err := s.Delete("fantasma")
	require.Equal(t, apperr.NotFound, apperr.KindOf(err))
}
