package domain

type ActionKind string

const (
	ActionCreateIdentity        ActionKind = "create_identity"
	ActionAddAssociation        ActionKind = "add_association"
	ActionRevokeAssociation     ActionKind = "revoke_association"
	ActionChangeRecoveryAddress ActionKind = "change_recovery_address"
)

// UpdateLog is the ordered history of one identity.
type UpdateLog struct {
	InboxID string           `json:"inbox_id"`
	Updates []IdentityUpdate `json:"updates"`
}

type IdentityUpdate struct {
	SequenceID        uint64   `json:"sequence_id"`
	ClientTimestampNs uint64   `json:"client_timestamp_ns"`
	Actions           []Action `json:"actions"`
}

// Action is a tagged variant; exactly one field is set.
type Action struct {
	CreateIdentity        *CreateIdentity        `json:"create_identity,omitempty"`
	AddAssociation        *AddAssociation        `json:"add_association,omitempty"`
	RevokeAssociation     *RevokeAssociation     `json:"revoke_association,omitempty"`
	ChangeRecoveryAddress *ChangeRecoveryAddress `json:"change_recovery_address,omitempty"`
}

func (a Action) Kind() ActionKind {
	n := 0
	var kind ActionKind
	if a.CreateIdentity != nil {
		n++
		kind = ActionCreateIdentity
	}
	if a.AddAssociation != nil {
		n++
		kind = ActionAddAssociation
	}
	if a.RevokeAssociation != nil {
		n++
		kind = ActionRevokeAssociation
	}
	if a.ChangeRecoveryAddress != nil {
		n++
		kind = ActionChangeRecoveryAddress
	}
	if n != 1 {
		return ""
	}
	return kind
}

// Signatures lists the signatures carried by the action in a fixed order.
func (a Action) Signatures() []Signature {
	switch a.Kind() {
	case ActionCreateIdentity:
		out := []Signature{a.CreateIdentity.InitialAddressSignature}
		if a.CreateIdentity.InitialInstallationSignature != nil {
			out = append(out, *a.CreateIdentity.InitialInstallationSignature)
		}
		return out
	case ActionAddAssociation:
		out := []Signature{a.AddAssociation.ExistingMemberSignature, a.AddAssociation.NewMemberSignature}
		if a.AddAssociation.GrantingWalletSignature != nil {
			out = append(out, *a.AddAssociation.GrantingWalletSignature)
		}
		return out
	case ActionRevokeAssociation:
		return []Signature{a.RevokeAssociation.RecoveryAddressSignature}
	case ActionChangeRecoveryAddress:
		return []Signature{a.ChangeRecoveryAddress.RecoveryAddressSignature}
	}
	return nil
}

type CreateIdentity struct {
	Nonce                        uint64            `json:"nonce"`
	AccountAddress               string            `json:"account_address"`
	InitialAddressSignature      Signature         `json:"initial_address_signature"`
	InitialInstallation          *MemberIdentifier `json:"initial_installation,omitempty"`
	InitialInstallationSignature *Signature        `json:"initial_installation_signature,omitempty"`
}

type AddAssociation struct {
	NewMember               MemberIdentifier  `json:"new_member"`
	NewMemberSignature      Signature         `json:"new_member_signature"`
	ExistingMemberSignature Signature         `json:"existing_member_signature"`
	GrantingWallet          *MemberIdentifier `json:"granting_wallet,omitempty"`
	GrantingWalletSignature *Signature        `json:"granting_wallet_signature,omitempty"`
}

type RevokeAssociation struct {
	RevokedMember            MemberIdentifier `json:"revoked_member"`
	RecoveryAddressSignature Signature        `json:"recovery_address_signature"`
}

type ChangeRecoveryAddress struct {
	NewRecoveryAddress       string    `json:"new_recovery_address"`
	RecoveryAddressSignature Signature `json:"recovery_address_signature"`
}

// ActionPosition addresses one action inside a log.
type ActionPosition struct {
	UpdateIndex int
	ActionIndex int
}

// VerifiedSignatures maps each action position to the signers recovered from
// its signatures, in the order returned by Action.Signatures.
type VerifiedSignatures map[ActionPosition][]MemberIdentifier
