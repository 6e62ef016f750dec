// Package cryptox holds the cryptographic primitives of the client core:
// account-secret derivation, AES-CBC content and at-rest encryption, RSA key
// handling with (chunked) RSA-OAEP wrapping, and BIP-39 pairing mnemonics.
package cryptox

import (
	"crypto/sha256"

	"golang.org/x/crypto/argon2"
)

// AccountSecretSize is the length of the account-bound secret in bytes.
const AccountSecretSize = 32

// MakeVerifier returns a SHA-256 digest of masterKey that can be stored and
// compared without revealing the key itself.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// DeriveMasterKey derives the 32-byte account secret from a passphrase and
// salt with argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, AccountSecretSize)
}
