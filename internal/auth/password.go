package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost for new hashes. Stored hashes carry their own cost, so
// raising these does not invalidate existing accounts.
const (
	hashTime    = 3
	hashMemory  = 64 * 1024 // KiB
	hashThreads = 1
	hashKeyLen  = 32
	hashSaltLen = 16

	// maxHashMemory rejects hashes a hand-edited config could use to make
	// every login allocate gigabytes.
	maxHashMemory = 1024 * 1024
)

// ErrMalformedHash is returned for password_hash values that are not
// Argon2id PHC strings.
var ErrMalformedHash = errors.New("auth: malformed password hash")

var b64 = base64.RawStdEncoding

// phc is a decoded "$argon2id$v=19$m=..,t=..,p=..$salt$key" string.
type phc struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func (p phc) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads, b64.EncodeToString(p.salt), b64.EncodeToString(p.key))
}

func (p phc) derive(password string) []byte {
	return argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.key))) //nolint:gosec // Key length is at most a few hundred bytes
}

// HashPassword returns an Argon2id PHC string for config.yaml.
func HashPassword(password string) (string, error) {
	p := phc{memory: hashMemory, time: hashTime, threads: hashThreads, salt: make([]byte, hashSaltLen)}
	if _, err := rand.Read(p.salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	p.key = argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, hashKeyLen)
	return p.String(), nil
}

// VerifyPassword reports whether password matches encoded, in constant
// time. A malformed hash is an error, not a mismatch.
func VerifyPassword(password, encoded string) (bool, error) {
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(p.key, p.derive(password)) == 1, nil
}

func parsePHC(encoded string) (phc, error) {
	var p phc

	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return p, fmt.Errorf("%w: want $argon2id$v=..$m=..,t=..,p=..$salt$key", ErrMalformedHash)
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, fields[2])
	}
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, fmt.Errorf("%w: parameters %q: %w", ErrMalformedHash, fields[3], err)
	}
	if p.time == 0 || p.threads == 0 || p.memory == 0 || p.memory > maxHashMemory {
		return p, fmt.Errorf("%w: parameters %q out of range", ErrMalformedHash, fields[3])
	}

	var err error
	if p.salt, err = b64.DecodeString(fields[4]); err != nil {
		return p, fmt.Errorf("%w: salt: %w", ErrMalformedHash, err)
	}
	if p.key, err = b64.DecodeString(fields[5]); err != nil || len(p.key) == 0 {
		return p, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return p, nil
}
