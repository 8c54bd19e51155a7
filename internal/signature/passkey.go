package signature

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"mlsvalidation/internal/domain"
)

const (
	coseKeyTypeEC2   = 2
	coseAlgES256     = -7
	coseCurveP256    = 1
	authDataMinSize  = 37
	authFlagPresence = 0x01
	webAuthnGetType  = "webauthn.get"
)

// COSEKey is the subset of an RFC 9053 EC2 key a passkey member carries.
type COSEKey struct {
	KeyType int    `cbor:"1,keyasint"`
	Alg     int    `cbor:"3,keyasint"`
	Curve   int    `cbor:"-1,keyasint"`
	X       []byte `cbor:"-2,keyasint"`
	Y       []byte `cbor:"-3,keyasint"`
}

var coseDecMode, _ = cbor.DecOptions{
	DupMapKey: cbor.DupMapKeyEnforcedAPF,
}.DecMode()

var coseEncMode, _ = cbor.CoreDetEncOptions().EncMode()

// ParseCOSEKey decodes a COSE EC2 P-256 key.
func ParseCOSEKey(raw []byte) (*ecdsa.PublicKey, error) {
	var key COSEKey
	if err := coseDecMode.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("%w: cose key: %v", domain.ErrMalformedSignature, err)
	}
	if key.KeyType != coseKeyTypeEC2 || key.Alg != coseAlgES256 || key.Curve != coseCurveP256 {
		return nil, fmt.Errorf("%w: passkey must be an ES256 P-256 key", domain.ErrSchemeMismatch)
	}
	if len(key.X) != 32 || len(key.Y) != 32 {
		return nil, fmt.Errorf("%w: cose key coordinates", domain.ErrMalformedSignature)
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(key.X),
		Y:     new(big.Int).SetBytes(key.Y),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, fmt.Errorf("%w: cose key not on curve", domain.ErrMalformedSignature)
	}
	return pub, nil
}

// EncodeCOSEKey is the inverse of ParseCOSEKey, in deterministic CBOR.
func EncodeCOSEKey(pub *ecdsa.PublicKey) ([]byte, error) {
	x := make([]byte, 32)
	y := make([]byte, 32)
	pub.X.FillBytes(x)
	pub.Y.FillBytes(y)
	return coseEncMode.Marshal(COSEKey{
		KeyType: coseKeyTypeEC2,
		Alg:     coseAlgES256,
		Curve:   coseCurveP256,
		X:       x,
		Y:       y,
	})
}

// ClientData is the part of the WebAuthn client data the verifier reads.
type ClientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin,omitempty"`
}

// PasskeyChallenge is the WebAuthn challenge a passkey signs for text.
func PasskeyChallenge(text []byte) string {
	sum := sha256.Sum256(text)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func verifyPasskey(sig *domain.PasskeySignature, text []byte) (domain.MemberIdentifier, error) {
	pub, err := ParseCOSEKey(sig.PublicKey)
	if err != nil {
		return domain.MemberIdentifier{}, err
	}
	if len(sig.AuthenticatorData) < authDataMinSize {
		return domain.MemberIdentifier{}, fmt.Errorf("%w: authenticator data too short", domain.ErrMalformedSignature)
	}
	if len(sig.Signature) == 0 {
		return domain.MemberIdentifier{}, fmt.Errorf("%w: empty passkey signature", domain.ErrMalformedSignature)
	}
	var client ClientData
	if err := json.Unmarshal(sig.ClientDataJSON, &client); err != nil {
		return domain.MemberIdentifier{}, fmt.Errorf("%w: client data: %v", domain.ErrMalformedSignature, err)
	}
	if client.Type != webAuthnGetType {
		return domain.MemberIdentifier{}, fmt.Errorf("%w: client data type %q", domain.ErrSignatureInvalid, client.Type)
	}
	want := PasskeyChallenge(text)
	if subtle.ConstantTimeCompare([]byte(client.Challenge), []byte(want)) != 1 {
		return domain.MemberIdentifier{}, fmt.Errorf("%w: challenge does not cover this update", domain.ErrSignatureInvalid)
	}
	if sig.AuthenticatorData[32]&authFlagPresence == 0 {
		return domain.MemberIdentifier{}, fmt.Errorf("%w: user presence not asserted", domain.ErrSignatureInvalid)
	}

	digest := PasskeyDigest(sig.AuthenticatorData, sig.ClientDataJSON)
	if !ecdsa.VerifyASN1(pub, digest[:], sig.Signature) {
		return domain.MemberIdentifier{}, domain.ErrSignatureInvalid
	}
	return domain.PasskeyMember(sig.PublicKey), nil
}

// PasskeyDigest is the SHA-256 of authData || sha256(clientDataJSON).
func PasskeyDigest(authData, clientDataJSON []byte) [32]byte {
	clientHash := sha256.Sum256(clientDataJSON)
	signed := make([]byte, 0, len(authData)+len(clientHash))
	signed = append(signed, authData...)
	signed = append(signed, clientHash[:]...)
	return sha256.Sum256(signed)
}
