// Package signing produces the signatures an identity update carries. It is
// the client-side counterpart of the validation service.
package signing

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"mlsvalidation/internal/association"
	"mlsvalidation/internal/domain"
	"mlsvalidation/internal/signature"
)

// Text is the message every signature in update must cover.
func Text(inboxID string, update domain.IdentityUpdate) []byte {
	return association.SignatureText(inboxID, update)
}

// SignWallet returns a personal_sign signature over text in r||s||v form.
func SignWallet(key *btcec.PrivateKey, text []byte) (domain.Signature, error) {
	if key == nil {
		return domain.Signature{}, errors.New("wallet key is required")
	}
	digest := signature.PersonalSignHash(text)
	compact := btcecdsa.SignCompact(key, digest[:], false)
	raw := make([]byte, 65)
	copy(raw, compact[1:])
	raw[64] = compact[0]
	return domain.Signature{
		Kind: domain.SignatureKindWalletECDSA,
		WalletECDSA: &domain.WalletECDSASignature{
			Address: WalletAddress(key),
			Bytes:   raw,
		},
	}, nil
}

func SignInstallation(key ed25519.PrivateKey, text []byte) (domain.Signature, error) {
	if len(key) != ed25519.PrivateKeySize {
		return domain.Signature{}, errors.New("invalid ed25519 private key")
	}
	pub := key.Public().(ed25519.PublicKey)
	return domain.Signature{
		Kind: domain.SignatureKindInstallationKey,
		InstallationKey: &domain.InstallationKeySignature{
			PublicKey: append([]byte(nil), pub...),
			Bytes:     ed25519.Sign(key, signature.InstallationMessage(text)),
		},
	}, nil
}

// PasskeyOptions describe the relying party an assertion is made for.
type PasskeyOptions struct {
	RPID   string
	Origin string
}

// SignPasskey produces a WebAuthn assertion whose challenge covers text.
func SignPasskey(key *ecdsa.PrivateKey, text []byte, opts PasskeyOptions) (domain.Signature, error) {
	if key == nil {
		return domain.Signature{}, errors.New("passkey is required")
	}
	cose, err := PasskeyPublicKey(key)
	if err != nil {
		return domain.Signature{}, err
	}
	clientData, err := json.Marshal(signature.ClientData{
		Type:      "webauthn.get",
		Challenge: signature.PasskeyChallenge(text),
		Origin:    opts.Origin,
	})
	if err != nil {
		return domain.Signature{}, err
	}
	rpHash := sha256.Sum256([]byte(opts.RPID))
	authData := make([]byte, 37)
	copy(authData, rpHash[:])
	authData[32] = 0x01 | 0x04

	digest := signature.PasskeyDigest(authData, clientData)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return domain.Signature{}, err
	}
	return domain.Signature{
		Kind: domain.SignatureKindPasskey,
		Passkey: &domain.PasskeySignature{
			PublicKey:         cose,
			AuthenticatorData: authData,
			ClientDataJSON:    clientData,
			Signature:         sig,
		},
	}, nil
}

// SmartContract wraps an opaque ERC-1271 signature. The contract decides
// whether raw is valid for the personal_sign digest of the update text.
func SmartContract(account, chainID string, block *uint64, raw []byte) domain.Signature {
	return domain.Signature{
		Kind: domain.SignatureKindSmartContract,
		SmartContract: &domain.SmartContractSignature{
			AccountAddress: domain.NormalizeAddress(account),
			ChainID:        chainID,
			BlockNumber:    block,
			Bytes:          append([]byte(nil), raw...),
		},
	}
}
