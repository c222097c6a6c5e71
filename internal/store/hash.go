package store

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dchest/siphash"
)

// Hasher maps a key to the hash code used for bucket selection
type Hasher func(key string) uint64

const (
	fnvSeed  = 0x811C9DC5
	fnvPrime = 0x01000193
)

// FNVHash is a 32-bit FNV-style hash: h = (h + b) * prime for every byte.
// Not cryptographic, only meant to spread keys over buckets.
func FNVHash(key string) uint64 {
	h := uint32(fnvSeed)
	for i := 0; i < len(key); i++ {
		h = (h + uint32(key[i])) * fnvPrime
	}
	return uint64(h)
}

// XXHash hashes with xxHash64, which mixes long keys better than FNVHash
func XXHash(key string) uint64 {
	return xxhash.Sum64String(key)
}

// SipHasher returns a keyed SipHash-2-4 hasher. With a secret key a client
// cannot choose keys that all land in one bucket.
func SipHasher(k0, k1 uint64) Hasher {
	return func(key string) uint64 {
		return siphash.Hash(k0, k1, []byte(key))
	}
}

// RandomSipHasher keys a SipHasher from crypto/rand
func RandomSipHasher() (Hasher, error) {
	var seed [16]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("siphash key: %w", err)
	}
	return SipHasher(binary.LittleEndian.Uint64(seed[0:8]), binary.LittleEndian.Uint64(seed[8:16])), nil
}

// HasherByName resolves a hasher from its configuration name
func HasherByName(name string) (Hasher, error) {
	switch name {
	case "", "fnv":
		return FNVHash, nil
	case "xxhash":
		return XXHash, nil
	case "siphash":
		return RandomSipHasher()
	default:
		return nil, fmt.Errorf("unknown hash function %q (must be fnv, xxhash or siphash)", name)
	}
}
