package cryptox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/tyler-smith/go-bip39"
)

// mnemonicEntropyBits yields a 12-word mnemonic.
const mnemonicEntropyBits = 128

// NewMnemonic returns a fresh 12-word BIP-39 mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// PairingIdentity derives the opaque identifier both devices use to correlate
// pairing messages. The backend only ever sees this digest, never the
// mnemonic or the seed.
func PairingIdentity(mnemonic string) (string, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", fmt.Errorf("%w: invalid mnemonic", common.ErrProtocol)
	}
	seed := bip39.NewSeed(mnemonic, "")
	sum := sha256.Sum256(seed)
	return hex.EncodeToString(sum[:]), nil
}
