package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

type MemberKind string

const (
	MemberKindAddress      MemberKind = "address"
	MemberKindInstallation MemberKind = "installation"
	MemberKindPasskey      MemberKind = "passkey"
)

// MemberIdentifier names a wallet, installation or passkey. Values are
// normalized to lowercase hex so that two spellings of one key compare equal.
type MemberIdentifier struct {
	Kind  MemberKind `json:"kind"`
	Value string     `json:"value"`
}

func AddressMember(address string) MemberIdentifier {
	return MemberIdentifier{Kind: MemberKindAddress, Value: NormalizeAddress(address)}
}

func InstallationMember(publicKey []byte) MemberIdentifier {
	return MemberIdentifier{Kind: MemberKindInstallation, Value: hex.EncodeToString(publicKey)}
}

func PasskeyMember(coseKey []byte) MemberIdentifier {
	return MemberIdentifier{Kind: MemberKindPasskey, Value: hex.EncodeToString(coseKey)}
}

func (m MemberIdentifier) Normalized() MemberIdentifier {
	switch m.Kind {
	case MemberKindAddress:
		return AddressMember(m.Value)
	default:
		return MemberIdentifier{Kind: m.Kind, Value: strings.ToLower(strings.TrimPrefix(m.Value, "0x"))}
	}
}

func (m MemberIdentifier) Key() string {
	n := m.Normalized()
	return string(n.Kind) + ":" + n.Value
}

func (m MemberIdentifier) IsZero() bool {
	return m.Kind == "" && m.Value == ""
}

func (m MemberIdentifier) String() string {
	return m.Key()
}

// CanGrant reports whether a member of this kind may authorize new members.
// Installations only ever consent to their own association.
func (m MemberIdentifier) CanGrant() bool {
	return m.Kind == MemberKindAddress || m.Kind == MemberKindPasskey
}

func NormalizeAddress(address string) string {
	a := strings.ToLower(strings.TrimSpace(address))
	if a != "" && !strings.HasPrefix(a, "0x") {
		a = "0x" + a
	}
	return a
}

// InboxID derives the identity handle owned by address for the given nonce.
func InboxID(address string, nonce uint64) string {
	sum := sha256.Sum256([]byte(NormalizeAddress(address) + strconv.FormatUint(nonce, 10)))
	return hex.EncodeToString(sum[:])
}
