// Package crypto derives the per-owner keys used to encrypt owner index
// databases at rest.
//
// Every owner's SQLCipher key is derived deterministically from a single
// master key with HKDF-SHA256, so no per-owner key material has to be stored
// alongside the index files.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of a derived owner key in bytes (256 bits).
	KeySize = 32

	// MasterKeyHexLen is the required length of the hex-encoded master key.
	MasterKeyHexLen = 2 * KeySize
)

// ParseMasterKey decodes a 64 character hex master key.
func ParseMasterKey(hexKey string) ([]byte, error) {
	if len(hexKey) != MasterKeyHexLen {
		return nil, fmt.Errorf("master key must be %d hex characters, got %d", MasterKeyHexLen, len(hexKey))
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	return key, nil
}

// DeriveOwnerKey derives an owner's index key from the master key.
// The info parameter combines owner and version for domain separation:
// info = "owner:" + owner + ":v" + version
func DeriveOwnerKey(masterKey []byte, owner string, version int) []byte {
	info := fmt.Sprintf("owner:%s:v%d", owner, version)

	// Salt is nil: the master key is already uniformly random.
	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		// HKDF-SHA256 can emit up to 255*32 bytes; 32 never fails.
		panic(fmt.Sprintf("HKDF failed: %v", err))
	}
	return key
}
