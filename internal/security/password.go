package security

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"authgate/internal/config"
)

const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

var ErrUnknownDigest = errors.New("unknown password digest format")

type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

var defaultArgon2Params = Argon2Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 2,
	KeyLen:  32,
	SaltLen: 16,
}

// PasswordHasher hashes with the configured algorithm and verifies digests of
// either supported algorithm, detected from the digest prefix.
type PasswordHasher struct {
	algorithm  string
	bcryptCost int
	argon2     Argon2Params
}

func NewPasswordHasher(cfg config.PasswordConfig) (*PasswordHasher, error) {
	h := &PasswordHasher{
		algorithm:  cfg.Algorithm,
		bcryptCost: cfg.BcryptCost,
		argon2:     defaultArgon2Params,
	}
	switch h.algorithm {
	case "", AlgorithmBcrypt:
		h.algorithm = AlgorithmBcrypt
		if h.bcryptCost == 0 {
			h.bcryptCost = 12
		}
		if h.bcryptCost < bcrypt.MinCost || h.bcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost %d out of range", h.bcryptCost)
		}
	case AlgorithmArgon2id:
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", cfg.Algorithm)
	}
	return h, nil
}

func (h *PasswordHasher) Hash(password string) ([]byte, error) {
	if h.algorithm == AlgorithmArgon2id {
		return hashArgon2id(password, h.argon2)
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("bcrypt: %w", err)
	}
	return digest, nil
}

// Verify reports whether password matches digest. A mismatch is (false, nil);
// an error means the digest itself could not be used.
func (h *PasswordHasher) Verify(password string, digest []byte) (bool, error) {
	switch {
	case bytes.HasPrefix(digest, []byte("$argon2id$")):
		return verifyArgon2id(password, digest)
	case bytes.HasPrefix(digest, []byte("$2a$")),
		bytes.HasPrefix(digest, []byte("$2b$")),
		bytes.HasPrefix(digest, []byte("$2y$")):
		err := bcrypt.CompareHashAndPassword(digest, []byte(password))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("bcrypt: %w", err)
	default:
		return false, ErrUnknownDigest
	}
}

func hashArgon2id(password string, params Argon2Params) ([]byte, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLen)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		params.Memory, params.Time, params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return []byte(encoded), nil
}

func verifyArgon2id(password string, digest []byte) (bool, error) {
	// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
	parts := strings.Split(string(digest), "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("%w: argon2id segments", ErrUnknownDigest)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parse argon2id version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var params Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &params.Threads); err != nil {
		return false, fmt.Errorf("parse argon2id params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode key: %w", err)
	}

	computed := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, computed) == 1, nil
}

// NewSessionHash returns hex(sha256(32 random bytes)).
func NewSessionHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session hash: %w", err)
	}
	sum := sha256.Sum256([]byte(hex.EncodeToString(buf)))
	return hex.EncodeToString(sum[:]), nil
}

// HashesEqual compares two session hashes in constant time.
func HashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
