package store

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// SecretService handles device-secret hashing using Argon2id.
type SecretService struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

// NewSecretService creates a secret service with the standard Argon2 settings.
func NewSecretService() *SecretService {
	return &SecretService{
		memory:      64 * 1024,
		iterations:  3,
		parallelism: 2,
		saltLength:  16,
		keyLength:   32,
	}
}

// HashSecret creates an Argon2id hash of the secret.
// Format: $argon2id$v=19$m=65536,t=3,p=2$salt$hash
func (s *SecretService) HashSecret(secret string) (string, error) {
	salt := make([]byte, s.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(secret), salt, s.iterations, s.memory, s.parallelism, s.keyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%x$%x",
		argon2.Version, s.memory, s.iterations, s.parallelism, salt, hash)

	return encoded, nil
}

// VerifySecret verifies a secret against an Argon2id hash.
func (s *SecretService) VerifySecret(secret, encodedHash string) (bool, error) {
	memory, iterations, parallelism, salt, hash, err := s.parseHash(encodedHash)
	if err != nil {
		return false, fmt.Errorf("failed to parse hash: %w", err)
	}

	inputHash := argon2.IDKey([]byte(secret), salt, iterations, memory, parallelism, s.keyLength)

	return subtle.ConstantTimeCompare(hash, inputHash) == 1, nil
}

// parseHash parses an encoded Argon2id hash string.
func (s *SecretService) parseHash(encodedHash string) (memory uint32, iterations uint32, parallelism uint8, salt, hash []byte, err error) {
	var version int
	n, err := fmt.Sscanf(encodedHash, "$argon2id$v=%d$m=%d,t=%d,p=%d$%x$%x",
		&version, &memory, &iterations, &parallelism, &salt, &hash)
	if err != nil || n != 6 {
		return 0, 0, 0, nil, nil, fmt.Errorf("invalid hash format")
	}

	if version != argon2.Version {
		return 0, 0, 0, nil, nil, fmt.Errorf("incompatible version")
	}

	return memory, iterations, parallelism, salt, hash, nil
}

// fingerprint is a cheap digest of a presented secret used only for the
// in-memory verification cache, never persisted.
func fingerprint(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

func matchFingerprint(fp [32]byte, secret string) bool {
	presented := fingerprint(secret)
	return subtle.ConstantTimeCompare(fp[:], presented[:]) == 1
}
