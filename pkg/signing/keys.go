package signing

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"

	"mlsvalidation/internal/signature"
)

func ParseWalletKeyHex(value string) (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, errors.New("invalid secp256k1 private key length")
	}
	key, _ := btcec.PrivKeyFromBytes(raw)
	return key, nil
}

func GenerateWalletKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// WalletAddress is the lowercase account address of key.
func WalletAddress(key *btcec.PrivateKey) string {
	return signature.AddressFromPublicKey(key.PubKey())
}

func ParseInstallationKeyHex(value string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case ed25519.SeedSize:
		key := ed25519.NewKeyFromSeed(raw)
		return append(ed25519.PrivateKey(nil), key...), nil
	case ed25519.PrivateKeySize:
		return append(ed25519.PrivateKey(nil), raw...), nil
	default:
		return nil, errors.New("invalid ed25519 private key length")
	}
}

func GenerateInstallationKey() (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	return key, err
}

func GeneratePasskey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// PasskeyPublicKey returns the COSE encoding of key's public half.
func PasskeyPublicKey(key *ecdsa.PrivateKey) ([]byte, error) {
	return signature.EncodeCOSEKey(&key.PublicKey)
}
