package mlswire

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
)

const labelPrefix = "MLS 1.0 "

const (
	labelKeyPackage = "KeyPackageTBS"
	labelLeafNode   = "LeafNodeTBS"
)

// suiteInfo describes the primitives of the cipher suites this package
// accepts.
type suiteInfo struct {
	hpkeKeySize int
	p256        bool
}

var suites = map[uint16]suiteInfo{
	0x0001: {hpkeKeySize: 32},
	0x0002: {hpkeKeySize: 65, p256: true},
	0x0003: {hpkeKeySize: 32},
}

func lookupSuite(suite uint16) (suiteInfo, error) {
	info, ok := suites[suite]
	if !ok {
		return suiteInfo{}, failf(CodeUnsupportedCipherSuite, "cipher_suite", "0x%04x", suite)
	}
	return info, nil
}

func signContent(label string, content []byte) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	addOpaque(b, []byte(labelPrefix+label))
	addOpaque(b, content)
	return b.Bytes()
}

// VerifyWithLabel checks an RFC 9420 SignWithLabel signature.
func VerifyWithLabel(suite uint16, publicKey []byte, label string, content, signature []byte) error {
	info, err := lookupSuite(suite)
	if err != nil {
		return err
	}
	msg, err := signContent(label, content)
	if err != nil {
		return err
	}
	if info.p256 {
		pub, err := parseP256(publicKey)
		if err != nil {
			return err
		}
		digest := sha256.Sum256(msg)
		if !ecdsa.VerifyASN1(pub, digest[:], signature) {
			return fail(CodeInvalidSignature, label)
		}
		return nil
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return failf(CodeInvalidKey, "signature_key", "ed25519 key of %d bytes", len(publicKey))
	}
	if len(signature) != ed25519.SignatureSize || !ed25519.Verify(ed25519.PublicKey(publicKey), msg, signature) {
		return fail(CodeInvalidSignature, label)
	}
	return nil
}

// SignWithLabel produces an RFC 9420 SignWithLabel signature. key is an
// ed25519.PrivateKey or a P-256 *ecdsa.PrivateKey.
func SignWithLabel(key crypto.Signer, label string, content []byte) ([]byte, error) {
	msg, err := signContent(label, content)
	if err != nil {
		return nil, err
	}
	switch k := key.(type) {
	case ed25519.PrivateKey:
		return ed25519.Sign(k, msg), nil
	case *ecdsa.PrivateKey:
		digest := sha256.Sum256(msg)
		return ecdsa.SignASN1(rand.Reader, k, digest[:])
	}
	return nil, fmt.Errorf("unsupported signing key %T", key)
}

// SignaturePublicKey is the wire form of key's public half.
func SignaturePublicKey(key crypto.Signer) ([]byte, error) {
	switch k := key.Public().(type) {
	case ed25519.PublicKey:
		return append([]byte(nil), k...), nil
	case *ecdsa.PublicKey:
		pub, err := k.ECDH()
		if err != nil {
			return nil, err
		}
		return pub.Bytes(), nil
	}
	return nil, errors.New("unsupported public key type")
}

func parseP256(raw []byte) (*ecdsa.PublicKey, error) {
	if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
		return nil, failf(CodeInvalidKey, "signature_key", "%v", err)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(raw[1:33]),
		Y:     new(big.Int).SetBytes(raw[33:65]),
	}, nil
}

func checkSignatureKey(info suiteInfo, raw []byte) error {
	if info.p256 {
		_, err := parseP256(raw)
		return err
	}
	if len(raw) != ed25519.PublicKeySize {
		return failf(CodeInvalidKey, "signature_key", "ed25519 key of %d bytes", len(raw))
	}
	return nil
}

func checkHPKEKey(info suiteInfo, raw []byte, field string) error {
	if len(raw) != info.hpkeKeySize {
		return failf(CodeInvalidKey, field, "expected %d bytes, got %d", info.hpkeKeySize, len(raw))
	}
	if info.p256 {
		if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
			return failf(CodeInvalidKey, field, "%v", err)
		}
	}
	return nil
}
