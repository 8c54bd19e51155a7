// Package mlswire decodes and verifies RFC 9420 MLS objects: key packages,
// leaf nodes and the framing of group messages.
package mlswire

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"time"

	"golang.org/x/crypto/cryptobyte"
)

const (
	VersionMLS10 uint16 = 0x0001

	CredentialBasic uint16 = 0x0001
	CredentialX509  uint16 = 0x0002

	LeafSourceKeyPackage uint8 = 1
	LeafSourceUpdate     uint8 = 2
	LeafSourceCommit     uint8 = 3
)

type Extension struct {
	Type uint16
	Data []byte
}

type Capabilities struct {
	Versions     []uint16
	CipherSuites []uint16
	Extensions   []uint16
	Proposals    []uint16
	Credentials  []uint16
}

type Credential struct {
	Type         uint16
	Identity     []byte
	Certificates [][]byte
}

type Lifetime struct {
	NotBefore uint64
	NotAfter  uint64
}

func (l Lifetime) Contains(now time.Time) bool {
	ts := now.Unix()
	if ts < 0 {
		return false
	}
	return uint64(ts) >= l.NotBefore && uint64(ts) <= l.NotAfter
}

type LeafNode struct {
	EncryptionKey []byte
	SignatureKey  []byte
	Credential    Credential
	Capabilities  Capabilities
	Source        uint8
	Lifetime      Lifetime
	ParentHash    []byte
	Extensions    []Extension
	Signature     []byte

	tbs []byte
}

type KeyPackage struct {
	Version     uint16
	CipherSuite uint16
	InitKey     []byte
	Leaf        LeafNode
	Extensions  []Extension
	Signature   []byte

	tbs []byte
}

// ParseKeyPackage decodes a KeyPackage, either bare or wrapped in an
// MLSMessage with wire format mls_key_package. A bare mls10 key package for
// suite 0x0005 starts with the same four bytes as the wrapper, so when the
// wrapped reading fails the whole input is read again as bare.
func ParseKeyPackage(data []byte) (*KeyPackage, error) {
	if !hasKeyPackageWrapper(data) {
		return parseBareKeyPackage(data)
	}
	kp, err := parseBareKeyPackage(data[4:])
	if err == nil {
		return kp, nil
	}
	if bare, bareErr := parseBareKeyPackage(data); bareErr == nil {
		return bare, nil
	}
	return nil, err
}

func hasKeyPackageWrapper(data []byte) bool {
	return len(data) >= 4 && data[0] == 0x00 && data[1] == 0x01 && data[2] == 0x00 && data[3] == 0x05
}

func parseBareKeyPackage(data []byte) (*KeyPackage, error) {
	s := cryptobyte.String(data)
	start := s
	kp := &KeyPackage{}
	var err error
	if kp.Version, err = readU16(&s, "version"); err != nil {
		return nil, err
	}
	if kp.CipherSuite, err = readU16(&s, "cipher_suite"); err != nil {
		return nil, err
	}
	if kp.InitKey, err = readOpaque(&s, "init_key"); err != nil {
		return nil, err
	}
	if kp.Leaf, err = parseLeafNode(&s); err != nil {
		return nil, err
	}
	if kp.Extensions, err = readExtensions(&s, "extensions"); err != nil {
		return nil, err
	}
	kp.tbs = start[:len(start)-len(s)]
	if kp.Signature, err = readOpaque(&s, "signature"); err != nil {
		return nil, err
	}
	if !s.Empty() {
		return nil, fail(CodeTrailingData, "key_package")
	}
	return kp, nil
}

func parseLeafNode(s *cryptobyte.String) (LeafNode, error) {
	start := *s
	var leaf LeafNode
	var err error
	if leaf.EncryptionKey, err = readOpaque(s, "leaf.encryption_key"); err != nil {
		return leaf, err
	}
	if leaf.SignatureKey, err = readOpaque(s, "leaf.signature_key"); err != nil {
		return leaf, err
	}
	if leaf.Credential, err = parseCredential(s); err != nil {
		return leaf, err
	}
	if leaf.Capabilities, err = parseCapabilities(s); err != nil {
		return leaf, err
	}
	if leaf.Source, err = readU8(s, "leaf.source"); err != nil {
		return leaf, err
	}
	switch leaf.Source {
	case LeafSourceKeyPackage:
		if leaf.Lifetime.NotBefore, err = readU64(s, "leaf.lifetime"); err != nil {
			return leaf, err
		}
		if leaf.Lifetime.NotAfter, err = readU64(s, "leaf.lifetime"); err != nil {
			return leaf, err
		}
	case LeafSourceUpdate:
	case LeafSourceCommit:
		if leaf.ParentHash, err = readOpaque(s, "leaf.parent_hash"); err != nil {
			return leaf, err
		}
	default:
		return leaf, failf(CodeInvalidLeafNode, "leaf.source", "unknown source %d", leaf.Source)
	}
	if leaf.Extensions, err = readExtensions(s, "leaf.extensions"); err != nil {
		return leaf, err
	}
	leaf.tbs = start[:len(start)-len(*s)]
	if leaf.Signature, err = readOpaque(s, "leaf.signature"); err != nil {
		return leaf, err
	}
	return leaf, nil
}

func parseCredential(s *cryptobyte.String) (Credential, error) {
	var c Credential
	var err error
	if c.Type, err = readU16(s, "credential.type"); err != nil {
		return c, err
	}
	switch c.Type {
	case CredentialBasic:
		if c.Identity, err = readOpaque(s, "credential.identity"); err != nil {
			return c, err
		}
	case CredentialX509:
		vec, err := readVector(s, "credential.certificates")
		if err != nil {
			return c, err
		}
		for !vec.Empty() {
			cert, err := readOpaque(&vec, "credential.certificate")
			if err != nil {
				return c, err
			}
			c.Certificates = append(c.Certificates, cert)
		}
	default:
		return c, failf(CodeInvalidCredential, "credential.type", "unknown credential type 0x%04x", c.Type)
	}
	return c, nil
}

func parseCapabilities(s *cryptobyte.String) (Capabilities, error) {
	var c Capabilities
	var err error
	fields := []struct {
		name string
		dst  *[]uint16
	}{
		{"capabilities.versions", &c.Versions},
		{"capabilities.cipher_suites", &c.CipherSuites},
		{"capabilities.extensions", &c.Extensions},
		{"capabilities.proposals", &c.Proposals},
		{"capabilities.credentials", &c.Credentials},
	}
	for _, f := range fields {
		if *f.dst, err = readU16List(s, f.name); err != nil {
			return c, err
		}
	}
	return c, nil
}

func readExtensions(s *cryptobyte.String, field string) ([]Extension, error) {
	vec, err := readVector(s, field)
	if err != nil {
		return nil, err
	}
	var out []Extension
	seen := make(map[uint16]struct{})
	for !vec.Empty() {
		var ext Extension
		if ext.Type, err = readU16(&vec, field); err != nil {
			return nil, err
		}
		if ext.Data, err = readOpaque(&vec, field); err != nil {
			return nil, err
		}
		if _, dup := seen[ext.Type]; dup {
			return nil, failf(CodeInvalidContent, field, "duplicate extension 0x%04x", ext.Type)
		}
		seen[ext.Type] = struct{}{}
		out = append(out, ext)
	}
	return out, nil
}

// Verify checks the key package against the rules a group member applies
// before adding it: supported version and suite, a key_package leaf whose
// lifetime covers now, a usable credential, and both signatures.
func (kp *KeyPackage) Verify(now time.Time) error {
	if kp.Version != VersionMLS10 {
		return failf(CodeUnsupportedVersion, "version", "0x%04x", kp.Version)
	}
	info, err := lookupSuite(kp.CipherSuite)
	if err != nil {
		return err
	}
	leaf := kp.Leaf
	if leaf.Source != LeafSourceKeyPackage {
		return failf(CodeInvalidLeafNode, "leaf.source", "key package leaf has source %d", leaf.Source)
	}
	if leaf.Lifetime.NotBefore > leaf.Lifetime.NotAfter {
		return fail(CodeInvalidLeafNode, "leaf.lifetime")
	}
	if !leaf.Lifetime.Contains(now) {
		return failf(CodeExpired, "leaf.lifetime", "valid %d..%d", leaf.Lifetime.NotBefore, leaf.Lifetime.NotAfter)
	}
	if err := checkHPKEKey(info, kp.InitKey, "init_key"); err != nil {
		return err
	}
	if err := checkHPKEKey(info, leaf.EncryptionKey, "leaf.encryption_key"); err != nil {
		return err
	}
	if bytes.Equal(kp.InitKey, leaf.EncryptionKey) {
		return failf(CodeInvalidKey, "init_key", "init key equals leaf encryption key")
	}
	if err := checkSignatureKey(info, leaf.SignatureKey); err != nil {
		return err
	}
	if !contains(leaf.Capabilities.Versions, VersionMLS10) {
		return failf(CodeInvalidLeafNode, "capabilities.versions", "mls10 not advertised")
	}
	if !contains(leaf.Capabilities.CipherSuites, kp.CipherSuite) {
		return failf(CodeInvalidLeafNode, "capabilities.cipher_suites", "suite 0x%04x not advertised", kp.CipherSuite)
	}
	if err := checkCredential(leaf, now); err != nil {
		return err
	}
	if err := VerifyWithLabel(kp.CipherSuite, leaf.SignatureKey, labelLeafNode, leaf.tbs, leaf.Signature); err != nil {
		return err
	}
	return VerifyWithLabel(kp.CipherSuite, leaf.SignatureKey, labelKeyPackage, kp.tbs, kp.Signature)
}

func checkCredential(leaf LeafNode, now time.Time) error {
	c := leaf.Credential
	if !contains(leaf.Capabilities.Credentials, c.Type) {
		return failf(CodeInvalidCredential, "capabilities.credentials", "credential type 0x%04x not advertised", c.Type)
	}
	switch c.Type {
	case CredentialBasic:
		if len(c.Identity) == 0 {
			return failf(CodeInvalidCredential, "credential.identity", "empty identity")
		}
		return nil
	case CredentialX509:
		if len(c.Certificates) == 0 {
			return failf(CodeInvalidCredential, "credential.certificates", "empty chain")
		}
		cert, err := x509.ParseCertificate(c.Certificates[0])
		if err != nil {
			return &Error{Code: CodeInvalidCredential, Field: "credential.certificates", Err: err}
		}
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return failf(CodeExpired, "credential.certificates", "certificate valid %s..%s", cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339))
		}
		if !certMatchesKey(cert, leaf.SignatureKey) {
			return failf(CodeInvalidCredential, "credential.certificates", "certificate key does not match signature key")
		}
		return nil
	}
	return failf(CodeInvalidCredential, "credential.type", "0x%04x", c.Type)
}

func certMatchesKey(cert *x509.Certificate, signatureKey []byte) bool {
	switch pub := cert.PublicKey.(type) {
	case ed25519.PublicKey:
		return bytes.Equal(pub, signatureKey)
	case *ecdsa.PublicKey:
		raw, err := pub.ECDH()
		return err == nil && bytes.Equal(raw.Bytes(), signatureKey)
	}
	return false
}

// CredentialIdentity is the basic credential identity, or the DER of the
// leaf certificate for x509 credentials.
func (kp *KeyPackage) CredentialIdentity() []byte {
	if kp.Leaf.Credential.Type == CredentialX509 && len(kp.Leaf.Credential.Certificates) > 0 {
		return kp.Leaf.Credential.Certificates[0]
	}
	return kp.Leaf.Credential.Identity
}

func contains(list []uint16, v uint16) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
