// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// HashParams are the argon2id cost parameters applied to new hashes.
type HashParams struct {
	Time      uint32 // iterations
	MemoryKiB uint32
	Threads   uint8
	SaltLen   uint32 // bytes
	KeyLen    uint32 // bytes
}

// DefaultHashParams returns the production parameters: t=3, m=64 MiB, p=4.
func DefaultHashParams() HashParams {
	return HashParams{
		Time:      3,
		MemoryKiB: 64 * 1024,
		Threads:   4,
		SaltLen:   16,
		KeyLen:    32,
	}
}

// Validate rejects parameter sets argon2 cannot run with.
func (p HashParams) Validate() error {
	if p.Time == 0 {
		return oops.Code("AUTH_INVALID_HASH_PARAMS").Errorf("time cost must be positive")
	}
	if p.Threads == 0 {
		return oops.Code("AUTH_INVALID_HASH_PARAMS").Errorf("parallelism must be positive")
	}
	if p.MemoryKiB < 8*uint32(p.Threads) {
		return oops.Code("AUTH_INVALID_HASH_PARAMS").
			With("memory_kib", p.MemoryKiB).
			With("threads", p.Threads).
			Errorf("memory cost must be at least 8 KiB per thread")
	}
	if p.SaltLen < 8 {
		return oops.Code("AUTH_INVALID_HASH_PARAMS").Errorf("salt must be at least 8 bytes")
	}
	if p.KeyLen < 16 {
		return oops.Code("AUTH_INVALID_HASH_PARAMS").Errorf("key must be at least 16 bytes")
	}
	return nil
}

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a self-describing hash of the password.
	Hash(password string) (string, error)

	// Verify checks the password against the stored hash.
	// A malformed hash is a mismatch. needsRehash is only true on a match.
	Verify(encodedHash, password string) (matched, needsRehash bool)
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct {
	params HashParams
}

// NewArgon2idHasher creates a hasher that produces hashes with params.
func NewArgon2idHasher(params HashParams) (*Argon2idHasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2idHasher{params: params}, nil
}

// Params returns the parameters new hashes are produced with.
func (h *Argon2idHasher) Params() HashParams {
	return h.params
}

// Hash produces an argon2id hash of the password in PHC string format.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, h.params.KeyLen)

	// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks the password against encodedHash in constant time.
func (h *Argon2idHasher) Verify(encodedHash, password string) (matched, needsRehash bool) {
	decoded, err := decodeHash(encodedHash)
	if err != nil {
		return false, false
	}

	computed := argon2.IDKey([]byte(password), decoded.salt, decoded.params.Time,
		decoded.params.MemoryKiB, decoded.params.Threads, uint32(len(decoded.key)))
	if subtle.ConstantTimeCompare(computed, decoded.key) != 1 {
		return false, false
	}

	return true, decoded.version != argon2.Version || decoded.params != h.params
}

type decodedHash struct {
	version int
	params  HashParams
	salt    []byte
	key     []byte
}

// decodeHash parses a PHC argon2id string. The error never includes the input.
func decodeHash(encoded string) (*decodedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if threads == 0 || threads > 255 || time == 0 || memory == 0 || memory > 4*1024*1024 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("hash parameters out of range")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if len(key) == 0 || len(key) > 1<<10 || len(salt) == 0 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid salt or key length")
	}

	return &decodedHash{
		version: version,
		params: HashParams{
			Time:      time,
			MemoryKiB: memory,
			Threads:   uint8(threads),
			SaltLen:   uint32(len(salt)),
			KeyLen:    uint32(len(key)),
		},
		salt: salt,
		key:  key,
	}, nil
}
