package models

import "crypto/rsa"

// KeyPairItem is the unwrapped key material of one conversation. It only
// lives in memory and is rebuilt from wrapped blobs on every cold start.
type KeyPairItem struct {
	ConversationID string
	Kind           ConversationKind

	// Symmetric conversations.
	Key []byte
	IV  []byte

	// Asymmetric conversations.
	PublicKey  *rsa.PublicKey
	PrivateKey *rsa.PrivateKey
}

// Valid reports whether the item carries usable material for its kind.
func (k KeyPairItem) Valid() bool {
	if k.ConversationID == "" {
		return false
	}
	if k.Kind.Asymmetric() {
		return k.PublicKey != nil && k.PrivateKey != nil
	}
	return len(k.Key) > 0 && len(k.IV) > 0
}

// PersonalKeyPair is the user's own RSA pair.
type PersonalKeyPair struct {
	PublicKey  *rsa.PublicKey
	PrivateKey *rsa.PrivateKey
}

// StoredPersonalKey is the at-rest row of the personal key pair: the public
// key in PEM and the private key AES-CBC encrypted under the account secret.
type StoredPersonalKey struct {
	Scope

	PublicKeyPEM        []byte
	EncryptedPrivateKey []byte
	IV                  []byte
}
