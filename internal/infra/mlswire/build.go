package mlswire

import (
	"crypto"
	"errors"
	"time"

	"golang.org/x/crypto/cryptobyte"
)

// KeyPackageParams describe a key package to build and sign.
type KeyPackageParams struct {
	CipherSuite   uint16
	SigningKey    crypto.Signer
	InitKey       []byte
	EncryptionKey []byte
	// Identity is used for a basic credential unless Certificates is set.
	Identity     []byte
	Certificates [][]byte
	NotBefore    time.Time
	NotAfter     time.Time
	// Lifetime, when set, is encoded as is instead of NotBefore/NotAfter.
	Lifetime   *Lifetime
	Extensions []Extension
}

// BuildKeyPackage encodes and signs a bare KeyPackage.
func BuildKeyPackage(p KeyPackageParams) ([]byte, error) {
	if p.SigningKey == nil {
		return nil, errors.New("signing key is required")
	}
	sigKey, err := SignaturePublicKey(p.SigningKey)
	if err != nil {
		return nil, err
	}
	cred := Credential{Type: CredentialBasic, Identity: p.Identity}
	if len(p.Certificates) > 0 {
		cred = Credential{Type: CredentialX509, Certificates: p.Certificates}
	}
	leaf := LeafNode{
		EncryptionKey: p.EncryptionKey,
		SignatureKey:  sigKey,
		Credential:    cred,
		Capabilities: Capabilities{
			Versions:     []uint16{VersionMLS10},
			CipherSuites: []uint16{p.CipherSuite},
			Credentials:  []uint16{CredentialBasic, CredentialX509},
		},
		Source: LeafSourceKeyPackage,
		Lifetime: Lifetime{
			NotBefore: uint64(p.NotBefore.Unix()),
			NotAfter:  uint64(p.NotAfter.Unix()),
		},
	}
	if p.Lifetime != nil {
		leaf.Lifetime = *p.Lifetime
	}
	leafTBS, err := encode(func(b *cryptobyte.Builder) { addLeafContent(b, leaf) })
	if err != nil {
		return nil, err
	}
	if leaf.Signature, err = SignWithLabel(p.SigningKey, labelLeafNode, leafTBS); err != nil {
		return nil, err
	}

	kp := KeyPackage{
		Version:     VersionMLS10,
		CipherSuite: p.CipherSuite,
		InitKey:     p.InitKey,
		Leaf:        leaf,
		Extensions:  p.Extensions,
	}
	tbs, err := encode(func(b *cryptobyte.Builder) { addKeyPackageContent(b, kp) })
	if err != nil {
		return nil, err
	}
	if kp.Signature, err = SignWithLabel(p.SigningKey, labelKeyPackage, tbs); err != nil {
		return nil, err
	}
	return kp.Marshal()
}

func (kp KeyPackage) Marshal() ([]byte, error) {
	return encode(func(b *cryptobyte.Builder) {
		addKeyPackageContent(b, kp)
		addOpaque(b, kp.Signature)
	})
}

func encode(f func(*cryptobyte.Builder)) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	f(b)
	return b.Bytes()
}

func addKeyPackageContent(b *cryptobyte.Builder, kp KeyPackage) {
	b.AddUint16(kp.Version)
	b.AddUint16(kp.CipherSuite)
	addOpaque(b, kp.InitKey)
	addLeafContent(b, kp.Leaf)
	addOpaque(b, kp.Leaf.Signature)
	addExtensions(b, kp.Extensions)
}

func addLeafContent(b *cryptobyte.Builder, leaf LeafNode) {
	addOpaque(b, leaf.EncryptionKey)
	addOpaque(b, leaf.SignatureKey)
	b.AddUint16(leaf.Credential.Type)
	switch leaf.Credential.Type {
	case CredentialBasic:
		addOpaque(b, leaf.Credential.Identity)
	case CredentialX509:
		addVector(b, func(b *cryptobyte.Builder) {
			for _, cert := range leaf.Credential.Certificates {
				addOpaque(b, cert)
			}
		})
	}
	c := leaf.Capabilities
	addU16List(b, c.Versions)
	addU16List(b, c.CipherSuites)
	addU16List(b, c.Extensions)
	addU16List(b, c.Proposals)
	addU16List(b, c.Credentials)
	b.AddUint8(leaf.Source)
	switch leaf.Source {
	case LeafSourceKeyPackage:
		b.AddUint64(leaf.Lifetime.NotBefore)
		b.AddUint64(leaf.Lifetime.NotAfter)
	case LeafSourceCommit:
		addOpaque(b, leaf.ParentHash)
	}
	addExtensions(b, leaf.Extensions)
}

func addExtensions(b *cryptobyte.Builder, exts []Extension) {
	addVector(b, func(b *cryptobyte.Builder) {
		for _, ext := range exts {
			b.AddUint16(ext.Type)
			addOpaque(b, ext.Data)
		}
	})
}

// PrivateMessageParams describe an encrypted group message frame.
type PrivateMessageParams struct {
	GroupID             []byte
	Epoch               uint64
	ContentType         uint8
	AuthenticatedData   []byte
	EncryptedSenderData []byte
	Ciphertext          []byte
}

func BuildPrivateMessage(p PrivateMessageParams) ([]byte, error) {
	return encode(func(b *cryptobyte.Builder) {
		b.AddUint16(VersionMLS10)
		b.AddUint16(WireFormatPrivateMessage)
		addOpaque(b, p.GroupID)
		b.AddUint64(p.Epoch)
		b.AddUint8(p.ContentType)
		addOpaque(b, p.AuthenticatedData)
		addOpaque(b, p.EncryptedSenderData)
		addOpaque(b, p.Ciphertext)
	})
}

// PublicMessageParams describe a handshake message in the clear. Body is
// the already encoded proposal or commit followed by its auth data.
type PublicMessageParams struct {
	GroupID           []byte
	Epoch             uint64
	SenderType        uint8
	SenderIndex       uint32
	AuthenticatedData []byte
	ContentType       uint8
	Body              []byte
}

func BuildPublicMessage(p PublicMessageParams) ([]byte, error) {
	return encode(func(b *cryptobyte.Builder) {
		b.AddUint16(VersionMLS10)
		b.AddUint16(WireFormatPublicMessage)
		addOpaque(b, p.GroupID)
		b.AddUint64(p.Epoch)
		b.AddUint8(p.SenderType)
		if p.SenderType == SenderMember || p.SenderType == SenderExternal {
			b.AddUint32(p.SenderIndex)
		}
		addOpaque(b, p.AuthenticatedData)
		b.AddUint8(p.ContentType)
		b.AddBytes(p.Body)
	})
}
