package solana

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"strings"

	solanago "github.com/gagliardetto/solana-go"
)

// loadKeypair reads a JSON-array-of-bytes keypair file (the format
// produced by `solana-keygen new`) and decodes it into a PrivateKey.
// Tilde (~) is expanded to the home directory before the file is opened.
func loadKeypair(path string) (solanago.PrivateKey, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeypairLoad, err)
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrKeypairLoad, expanded, err)
	}

	var raw []byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrKeypairLoad, expanded, err)
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("%w: %s: expected 64 bytes, got %d", ErrKeypairLoad, expanded, len(raw))
	}

	return solanago.PrivateKey(raw), nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return strings.Replace(path, "~", u.HomeDir, 1), nil
}
