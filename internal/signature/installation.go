package signature

import (
	"crypto/ed25519"
	"fmt"

	"mlsvalidation/internal/domain"
)

// InstallationContext separates installation key signatures on identity
// updates from anything else the key signs.
const InstallationContext = "installation-key:"

// InstallationMessage is what an installation key signs for text.
func InstallationMessage(text []byte) []byte {
	msg := make([]byte, 0, len(InstallationContext)+len(text))
	msg = append(msg, InstallationContext...)
	return append(msg, text...)
}

func verifyInstallation(sig *domain.InstallationKeySignature, text []byte) (domain.MemberIdentifier, error) {
	if len(sig.PublicKey) != ed25519.PublicKeySize {
		return domain.MemberIdentifier{}, fmt.Errorf("%w: installation key must be %d bytes", domain.ErrMalformedSignature, ed25519.PublicKeySize)
	}
	if len(sig.Bytes) != ed25519.SignatureSize {
		return domain.MemberIdentifier{}, fmt.Errorf("%w: installation signature must be %d bytes", domain.ErrMalformedSignature, ed25519.SignatureSize)
	}
	if !ed25519.Verify(ed25519.PublicKey(sig.PublicKey), InstallationMessage(text), sig.Bytes) {
		return domain.MemberIdentifier{}, domain.ErrSignatureInvalid
	}
	return domain.InstallationMember(sig.PublicKey), nil
}
