// Package keystore loads the liquidator's signing key from a mounted secret.
//
// Accepted encodings: a JSON array of bytes or a base58 string. Either must
// hold 32 bytes (an ed25519 seed) or 64 bytes in the wallet-CLI layout, seed
// followed by public key. For 64 bytes the seed is authoritative and the
// trailing public key must match the one derived from it, otherwise loading
// fails: a mismatched pair is never silently accepted.
package keystore

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/gagliardetto/solana-go"

	"github.com/alejandrodnm/liquidator/internal/domain"
)

// DefaultPath is where the orchestrator expects the secret when no path is
// configured.
const DefaultPath = "/run/secrets/liquidator-keypair"

// Load reads and decodes the key at path.
func Load(path string) (solana.PrivateKey, error) {
	if path == "" {
		path = DefaultPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore.Load: %w: %w", domain.ErrConfiguration, err)
	}
	key, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("keystore.Load: %s: %w", path, err)
	}
	return key, nil
}

// Parse decodes secret bytes in either accepted encoding.
func Parse(raw []byte) (solana.PrivateKey, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, fmt.Errorf("%w: empty secret", domain.ErrConfiguration)
	}

	var material []byte
	if strings.HasPrefix(text, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(text), &ints); err != nil {
			return nil, fmt.Errorf("%w: json byte array: %w", domain.ErrConfiguration, err)
		}
		material = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte %d out of range: %d", domain.ErrConfiguration, i, v)
			}
			material[i] = byte(v)
		}
	} else {
		material = base58.Decode(text)
		if len(material) == 0 {
			return nil, fmt.Errorf("%w: not base58", domain.ErrConfiguration)
		}
	}
	return normalize(material)
}

func normalize(material []byte) (solana.PrivateKey, error) {
	switch len(material) {
	case ed25519.SeedSize:
		return solana.PrivateKey(ed25519.NewKeyFromSeed(material)), nil
	case ed25519.PrivateKeySize:
		key := ed25519.NewKeyFromSeed(material[:ed25519.SeedSize])
		derived := key.Public().(ed25519.PublicKey)
		if !bytes.Equal(derived, material[ed25519.SeedSize:]) {
			return nil, fmt.Errorf("%w: public key half does not match the seed", domain.ErrConfiguration)
		}
		return solana.PrivateKey(key), nil
	default:
		return nil, fmt.Errorf("%w: %d key bytes, want 32 or 64", domain.ErrConfiguration, len(material))
	}
}
