package evm

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// loadWallet reads a hex-encoded secp256k1 private key from path (an
// optional leading "0x" and surrounding whitespace are stripped) and
// decodes it into an ECDSA key.
func loadWallet(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrWalletLoad, path, err)
	}

	hexKey := strings.TrimSpace(string(data))
	hexKey = strings.TrimPrefix(hexKey, "0x")

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrWalletLoad, path, err)
	}
	return key, nil
}
