package signature

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"

	"mlsvalidation/internal/domain"
)

const walletSignatureSize = 65

// PersonalSignHash is the EIP-191 digest wallets sign for personal_sign.
func PersonalSignHash(text []byte) [32]byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(text))
	return keccak256([]byte(prefix), text)
}

func keccak256(parts ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// AddressFromPublicKey derives the lowercase 0x-hex account address of pub.
func AddressFromPublicKey(pub *btcec.PublicKey) string {
	uncompressed := pub.SerializeUncompressed()
	sum := keccak256(uncompressed[1:])
	return "0x" + hex.EncodeToString(sum[12:])
}

func verifyWallet(sig *domain.WalletECDSASignature, text []byte) (domain.MemberIdentifier, error) {
	address, err := RecoverAddress(sig.Bytes, text)
	if err != nil {
		return domain.MemberIdentifier{}, err
	}
	if sig.Address != "" && domain.NormalizeAddress(sig.Address) != address {
		return domain.MemberIdentifier{}, fmt.Errorf("%w: recovered %s, claimed %s", domain.ErrSignatureInvalid, address, domain.NormalizeAddress(sig.Address))
	}
	return domain.AddressMember(address), nil
}

// RecoverAddress recovers the signer of a 65-byte r||s||v personal_sign
// signature over text.
func RecoverAddress(raw, text []byte) (string, error) {
	if len(raw) != walletSignatureSize {
		return "", fmt.Errorf("%w: wallet signature must be %d bytes, got %d", domain.ErrMalformedSignature, walletSignatureSize, len(raw))
	}
	v := raw[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", fmt.Errorf("%w: recovery id %d", domain.ErrMalformedSignature, raw[64])
	}
	var s btcec.ModNScalar
	if overflow := s.SetByteSlice(raw[32:64]); overflow || s.IsZero() {
		return "", fmt.Errorf("%w: s out of range", domain.ErrMalformedSignature)
	}
	if s.IsOverHalfOrder() {
		return "", fmt.Errorf("%w: non-canonical high s", domain.ErrMalformedSignature)
	}

	compact := make([]byte, walletSignatureSize)
	compact[0] = 27 + v
	copy(compact[1:], raw[:64])
	digest := PersonalSignHash(text)
	pub, _, err := ecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	}
	return AddressFromPublicKey(pub), nil
}
