package users

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/FamiliaDusu/Ogaac-test/pkg/auth"
)

// hashAlgorithm tags the scheme a stored password hash uses. Hashes are
// classified explicitly instead of being sniffed at every comparison site.
type hashAlgorithm int

const (
	algoUnknown hashAlgorithm = iota
	algoBcrypt
	algoLegacySHA256
)

var legacyHexPattern = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)

// hashRecord is the parsed form of the passwordHash field.
type hashRecord struct {
	algo   hashAlgorithm
	digest string
}

func parseHashRecord(stored string) hashRecord {
	switch {
	case strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$"):
		return hashRecord{algo: algoBcrypt, digest: stored}
	case legacyHexPattern.MatchString(stored):
		return hashRecord{algo: algoLegacySHA256, digest: stored}
	default:
		return hashRecord{algo: algoUnknown, digest: stored}
	}
}

// verify checks a plaintext password against the record.
func (h hashRecord) verify(plaintext string) bool {
	switch h.algo {
	case algoBcrypt:
		return auth.CheckPassword(plaintext, h.digest)
	case algoLegacySHA256:
		sum := sha256.Sum256([]byte(plaintext))
		got := hex.EncodeToString(sum[:])
		want := strings.ToLower(h.digest)
		return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
	default:
		return false
	}
}

// needsUpgrade reports whether a successful verification should trigger a
// re-hash with the current algorithm.
func (h hashRecord) needsUpgrade() bool {
	return h.algo == algoLegacySHA256
}
