package cryptox

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
)

// DefaultKeyBits is the modulus size for personal and pairing key pairs.
const DefaultKeyBits = 2048

// OAEPParams carries the digest and mask-generation hash of an RSA-OAEP
// exchange. Both sides of a wrap/unwrap must agree on them.
type OAEPParams struct {
	Hash    crypto.Hash
	MGFHash crypto.Hash
}

// DefaultOAEP is SHA-256 for both the digest and MGF1.
var DefaultOAEP = OAEPParams{Hash: crypto.SHA256, MGFHash: crypto.SHA256}

var errMGFMismatch = errors.New("oaep encryption requires identical digest and mgf hash")

// GenerateKeyPair creates a new RSA key pair of the given size.
func GenerateKeyPair(bits int) (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, bits)
}

// EncodePublicKeyPEM returns the PKIX "PUBLIC KEY" PEM encoding of pub.
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// EncodePrivateKeyPEM returns the PKCS#8 "PRIVATE KEY" PEM encoding of priv.
func EncodePrivateKeyPEM(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParsePublicKeyPEM parses a PKIX or PKCS#1 RSA public key.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if block.Type == "RSA PUBLIC KEY" {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type %T", key)
	}
	return pub, nil
}

// ParsePrivateKeyPEM parses a PKCS#8 or PKCS#1 RSA private key.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if block.Type == "RSA PRIVATE KEY" {
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected private key type %T", key)
	}
	return priv, nil
}

// maxOAEPChunk is the largest plaintext a single OAEP block can carry.
func maxOAEPChunk(pub *rsa.PublicKey, h crypto.Hash) int {
	return pub.Size() - 2*h.Size() - 2
}

// EncryptOAEP encrypts plaintext under pub with RSA-OAEP. Plaintexts longer
// than one OAEP block are split and every chunk is encrypted separately; the
// result is the concatenation of pub.Size()-byte ciphertext blocks.
func EncryptOAEP(pub *rsa.PublicKey, params OAEPParams, plaintext []byte) ([]byte, error) {
	if params.Hash != params.MGFHash {
		return nil, errMGFMismatch
	}
	chunk := maxOAEPChunk(pub, params.Hash)
	if chunk <= 0 {
		return nil, errors.New("rsa key too small for oaep")
	}

	var out bytes.Buffer
	for start := 0; ; start += chunk {
		end := min(start+chunk, len(plaintext))
		ct, err := rsa.EncryptOAEP(params.Hash.New(), rand.Reader, pub, plaintext[start:end], nil)
		if err != nil {
			return nil, err
		}
		out.Write(ct)
		if end >= len(plaintext) {
			break
		}
	}
	return out.Bytes(), nil
}

// DecryptOAEP reverses EncryptOAEP. Failures wrap common.ErrDecryptionFailure.
func DecryptOAEP(priv *rsa.PrivateKey, params OAEPParams, ciphertext []byte) ([]byte, error) {
	k := priv.Size()
	if len(ciphertext) == 0 || len(ciphertext)%k != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of %d", common.ErrDecryptionFailure, len(ciphertext), k)
	}

	opts := &rsa.OAEPOptions{Hash: params.Hash, MGFHash: params.MGFHash}
	var out bytes.Buffer
	for start := 0; start < len(ciphertext); start += k {
		pt, err := priv.Decrypt(nil, ciphertext[start:start+k], opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrDecryptionFailure, err)
		}
		out.Write(pt)
	}
	return out.Bytes(), nil
}

// WrapKey encrypts key material for the owner of pub and returns it base64
// encoded, the form in which wrapped blobs travel and are stored.
func WrapKey(pub *rsa.PublicKey, params OAEPParams, material []byte) (string, error) {
	ct, err := EncryptOAEP(pub, params, material)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// UnwrapKey decodes a base64 blob produced by WrapKey and decrypts it.
func UnwrapKey(priv *rsa.PrivateKey, params OAEPParams, blob string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryptionFailure, err)
	}
	return DecryptOAEP(priv, params, ct)
}
