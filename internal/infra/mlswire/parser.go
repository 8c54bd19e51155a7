package mlswire

import (
	"time"

	"mlsvalidation/internal/domain"
)

// Parser exposes this package as the service's group protocol capability.
type Parser struct{}

func (Parser) VerifyKeyPackage(data []byte, now time.Time) (domain.KeyPackageInfo, error) {
	kp, err := ParseKeyPackage(data)
	if err != nil {
		return domain.KeyPackageInfo{}, err
	}
	if err := kp.Verify(now); err != nil {
		return domain.KeyPackageInfo{}, err
	}
	return domain.KeyPackageInfo{
		InstallationKey:    clone(kp.Leaf.SignatureKey),
		CredentialType:     domain.CredentialType(kp.Leaf.Credential.Type),
		CredentialIdentity: clone(kp.CredentialIdentity()),
		CipherSuite:        domain.CipherSuite(kp.CipherSuite),
		InitKey:            clone(kp.InitKey),
		NotBefore:          kp.Leaf.Lifetime.NotBefore,
		NotAfter:           kp.Leaf.Lifetime.NotAfter,
	}, nil
}

func (Parser) ParseGroupMessage(data []byte) (domain.GroupMessageInfo, error) {
	m, err := ParseMessage(data)
	if err != nil {
		return domain.GroupMessageInfo{}, err
	}
	info := domain.GroupMessageInfo{
		GroupID:     clone(m.GroupID),
		Epoch:       m.Epoch,
		WireFormat:  domain.WireFormat(m.WireFormat),
		ContentType: domain.ContentType(m.ContentType),
		SenderType:  domain.SenderType(m.SenderType),
	}
	if m.SenderType == SenderMember && m.SenderIndex != nil {
		idx := *m.SenderIndex
		info.LeafIndex = &idx
	}
	return info, nil
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
