package policyopa

import (
	"encoding/hex"
	"time"

	"mlsvalidation/internal/domain"
)

// KeyPackageInput is the document a policy sees as input. Lifetimes stay in
// raw Unix seconds so that values past the int64 range reach the policy
// unchanged.
func KeyPackageInput(info domain.KeyPackageInfo, now time.Time) domain.PolicyInput {
	return domain.PolicyInput{
		KeyPackage: domain.PolicyKeyPackage{
			CipherSuite:        uint16(info.CipherSuite),
			CredentialType:     uint16(info.CredentialType),
			CredentialIdentity: string(info.CredentialIdentity),
			InstallationKey:    hex.EncodeToString(info.InstallationKey),
			NotBefore:          info.NotBefore,
			NotAfter:           info.NotAfter,
		},
		Now: now.Unix(),
	}
}
