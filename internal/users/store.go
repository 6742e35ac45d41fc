// Package users is the credential store: a single JSON document holding
// operator accounts, their role and their sede/sala scope. Writes are
// atomic (temp file + rename) and serialized process-wide.
package users

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/FamiliaDusu/Ogaac-test/internal/apperr"
	"github.com/FamiliaDusu/Ogaac-test/internal/scope"
	"github.com/FamiliaDusu/Ogaac-test/pkg/auth"
	"github.com/FamiliaDusu/Ogaac-test/pkg/logging"
)

// Account sources. Only local accounts are mutable through this backend.
const (
	SourceLocal = "local"
	SourceAD    = "ad"
	SourceEnv   = "env"
)

// Roles accepted by the backend.
var ValidRoles = []string{"admin", "operator", "viewer"}

const minPasswordLen = 6

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// User is a stored operator account.
type User struct {
	Username     string       `json:"username"`
	PasswordHash string       `json:"passwordHash,omitempty"`
	Role         string       `json:"role"`
	Enabled      bool         `json:"enabled"`
	Source       string       `json:"source"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	Note         string       `json:"note,omitempty"`
	Scope        *scope.Scope `json:"scope,omitempty"`
}

// Redacted returns a copy safe for API responses.
func (u User) Redacted() User {
	u.PasswordHash = ""
	return u
}

type document struct {
	Users []User `json:"users"`
}

// Store persists accounts in a single JSON document.
type Store struct {
	path   string
	logger logging.Logger
	mu     sync.Mutex
}

// NewStore creates a store backed by the document at path.
func NewStore(path string, logger logging.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the backing document path.
func (s *Store) Path() string { return s.path }

// List returns every account, password hashes stripped.
func (s *Store) List() ([]User, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]User, 0, len(doc.Users))
	for _, u := range doc.Users {
		out = append(out, u.Redacted())
	}
	return out, nil
}

// Get returns an account by username, hash included.
func (s *Store) Get(username string) (*User, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	for i := range doc.Users {
		if doc.Users[i].Username == username {
			u := doc.Users[i]
			return &u, nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "user not found")
}

// Verify checks a plaintext password for a user. A successful match
// against a legacy SHA-256 hash transparently re-hashes with bcrypt; if
// persisting the upgrade fails, the login still succeeds.
func (s *Store) Verify(username, plaintext string) bool {
	u, err := s.Get(username)
	if err != nil {
		return false
	}
	if !u.Enabled {
		return false
	}

	rec := parseHashRecord(u.PasswordHash)
	if rec.algo == algoUnknown {
		s.logger.WithField("user", username).Error("Stored password hash has an unknown format")
		return false
	}
	if !rec.verify(plaintext) {
		return false
	}

	if rec.needsUpgrade() {
		if err := s.upgradeHash(username, plaintext); err != nil {
			s.logger.WithError(err).WithField("user", username).Error("Failed to persist password hash upgrade")
		} else {
			s.logger.WithField("user", username).Info("Password hash upgraded to bcrypt")
		}
	}
	return true
}

func (s *Store) upgradeHash(username, plaintext string) error {
	newHash, err := auth.HashPassword(plaintext)
	if err != nil {
		return fmt.Errorf("re-hash: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	for i := range doc.Users {
		if doc.Users[i].Username == username {
			doc.Users[i].PasswordHash = newHash
			doc.Users[i].UpdatedAt = time.Now().UTC()
			return s.writeLocked(doc)
		}
	}
	return apperr.New(apperr.NotFound, "user not found")
}

// CreateParams are the fields accepted when creating an account.
type CreateParams struct {
	Username string
	Password string
	Role     string
	Note     string
	Scope    *scope.Scope
}

// Create adds a local account.
func (s *Store) Create(p CreateParams) (*User, error) {
	username := strings.TrimSpace(p.Username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateRole(p.Role); err != nil {
		return nil, err
	}
	if len(p.Password) < minPasswordLen {
		return nil, apperr.New(apperr.Validation, fmt.Sprintf("password must have at least %d characters", minPasswordLen))
	}

	hash, err := auth.HashPassword(p.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to hash password", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	for i := range doc.Users {
		if doc.Users[i].Username == username {
			return nil, apperr.New(apperr.DuplicateUser, "user already exists")
		}
	}

	now := time.Now().UTC()
	u := User{
		Username:     username,
		PasswordHash: hash,
		Role:         p.Role,
		Enabled:      true,
		Source:       SourceLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
		Note:         p.Note,
		Scope:        p.Scope,
	}
	doc.Users = append(doc.Users, u)

	if err := s.writeLocked(doc); err != nil {
		return nil, err
	}

	s.logger.WithFields(logging.Fields{"user": username, "role": p.Role}).Info("User created")
	redacted := u.Redacted()
	return &redacted, nil
}

// UpdateParams carries a partial update; nil fields are left unchanged.
type UpdateParams struct {
	Password *string
	Role     *string
	Enabled  *bool
	Note     *string
	Scope    *scope.Scope
	SetScope bool
}

// Update applies a partial update to a local account.
func (s *Store) Update(username string, p UpdateParams) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readLocked()
	if err != nil {
		return nil, err
	}

	idx := -1
	for i := range doc.Users {
		if doc.Users[i].Username == username {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperr.New(apperr.NotFound, "user not found")
	}
	u := &doc.Users[idx]
	if u.Source != SourceLocal {
		return nil, apperr.New(apperr.ExternalUser, "external users cannot be modified here")
	}

	if p.Password != nil {
		if len(*p.Password) < minPasswordLen {
			return nil, apperr.New(apperr.Validation, fmt.Sprintf("password must have at least %d characters", minPasswordLen))
		}
		hash, err := auth.HashPassword(*p.Password)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to hash password", err)
		}
		u.PasswordHash = hash
	}
	if p.Role != nil {
		if err := validateRole(*p.Role); err != nil {
			return nil, err
		}
		u.Role = *p.Role
	}
	if p.Enabled != nil {
		u.Enabled = *p.Enabled
	}
	if p.Note != nil {
		u.Note = *p.Note
	}
	if p.SetScope {
		u.Scope = p.Scope
	}
	u.UpdatedAt = time.Now().UTC()

	if err := s.writeLocked(doc); err != nil {
		return nil, err
	}
	redacted := u.Redacted()
	return &redacted, nil
}

// Delete removes a local account.
func (s *Store) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readLocked()
	if err != nil {
		return err
	}

	for i := range doc.Users {
		if doc.Users[i].Username != username {
			continue
		}
		if doc.Users[i].Source != SourceLocal {
			return apperr.New(apperr.ExternalUser, "external users cannot be deleted here")
		}
		doc.Users = append(doc.Users[:i], doc.Users[i+1:]...)
		if err := s.writeLocked(doc); err != nil {
			return err
		}
		s.logger.WithField("user", username).Info("User deleted")
		return nil
	}
	return apperr.New(apperr.NotFound, "user not found")
}

func validateUsername(username string) error {
	if len(username) < 3 || len(username) > 32 {
		return apperr.New(apperr.Validation, "username must have 3-32 characters")
	}
	if !usernamePattern.MatchString(username) {
		return apperr.New(apperr.Validation, "username may only contain letters, digits, . _ -")
	}
	return nil
}

func validateRole(role string) error {
	for _, r := range ValidRoles {
		if role == r {
			return nil
		}
	}
	return apperr.New(apperr.Validation, "invalid role, must be one of: "+strings.Join(ValidRoles, ", "))
}

func (s *Store) read() (*document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *Store) readLocked() (*document, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &document{}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to read user store", err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "user store is corrupt", err)
	}
	return &doc, nil
}

// writeLocked persists the document atomically: write a temp file in the
// same directory, then rename over the target.
func (s *Store) writeLocked(doc *document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to encode user store", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to write user store", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to replace user store", err)
	}
	return nil
}
