package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	maxSeedLength = 32
	maxSeeds      = 16
	pdaMarker     = "ProgramDerivedAddress"
)

// ErrOnCurve is returned when a derived address lies on the ed25519 curve.
var ErrOnCurve = errors.New("derived address is on curve")

// DecodeKey decodes a base58 public key and checks its length.
func DecodeKey(key string) ([]byte, error) {
	b, err := base58.Decode(key)
	if err != nil {
		return nil, fmt.Errorf("decode key %q: %w", key, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("key %q has %d bytes, want 32", key, len(b))
	}
	return b, nil
}

// CreateProgramAddress derives an address from the exact seeds given (bump included).
func CreateProgramAddress(seeds [][]byte, programID string) (string, error) {
	program, err := DecodeKey(programID)
	if err != nil {
		return "", err
	}
	if len(seeds) > maxSeeds {
		return "", fmt.Errorf("too many seeds: %d", len(seeds))
	}

	// sha256(seeds || programID || "ProgramDerivedAddress") must be off-curve
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return "", fmt.Errorf("seed too long: %d", len(seed))
		}
		h.Write(seed)
	}
	h.Write(program)
	h.Write([]byte(pdaMarker))
	hash := h.Sum(nil)

	if isOnCurve(hash) {
		return "", ErrOnCurve
	}
	return base58.Encode(hash), nil
}

// FindProgramAddress searches bumps from 255 down for the first off-curve address.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump > 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if errors.Is(err, ErrOnCurve) {
			continue
		}
		if err != nil {
			return "", 0, err
		}
		return addr, uint8(bump), nil
	}
	return "", 0, fmt.Errorf("no viable bump for program %s", programID)
}

// FindAssociatedTokenAddress derives the associated token account of wallet for mint.
func FindAssociatedTokenAddress(wallet, mint string) (string, error) {
	walletBytes, err := DecodeKey(wallet)
	if err != nil {
		return "", err
	}
	mintBytes, err := DecodeKey(mint)
	if err != nil {
		return "", err
	}
	tokenProgram, err := DecodeKey(TokenProgramID)
	if err != nil {
		return "", err
	}

	addr, _, err := FindProgramAddress([][]byte{walletBytes, tokenProgram, mintBytes}, AssociatedTokenProgram)
	return addr, err
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
