package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
)

// IVSize is the AES block size used for CBC initialization vectors.
const IVSize = aes.BlockSize

var errBadPadding = errors.New("invalid padding")

// EncryptCBC encrypts plaintext with AES-CBC and PKCS#7 padding.
//
// The key must be 16, 24 or 32 bytes long and iv exactly IVSize bytes.
func EncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", IVSize, len(iv))
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// DecryptCBC reverses EncryptCBC. Any failure, including bad padding, is
// reported as common.ErrDecryptionFailure.
func DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryptionFailure, err)
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes", common.ErrDecryptionFailure, IVSize)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not a multiple of the block size", common.ErrDecryptionFailure)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)

	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryptionFailure, err)
	}
	return plain, nil
}

// SealAtRest encrypts data under the account secret with a fresh random IV.
func SealAtRest(secret, data []byte) (ciphertext, iv []byte, err error) {
	iv = common.GenerateRandByteArray(IVSize)
	ciphertext, err = EncryptCBC(secret, iv, data)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, iv, nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errBadPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errBadPadding
		}
	}
	return b[:len(b)-n], nil
}
