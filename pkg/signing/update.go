package signing

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"mlsvalidation/internal/domain"
)

// Signer is one key able to sign identity updates.
type Signer interface {
	Member() domain.MemberIdentifier
	Sign(text []byte) (domain.Signature, error)
}

type WalletSigner struct {
	Key *btcec.PrivateKey
}

func (s WalletSigner) Member() domain.MemberIdentifier {
	return domain.AddressMember(WalletAddress(s.Key))
}

func (s WalletSigner) Sign(text []byte) (domain.Signature, error) {
	return SignWallet(s.Key, text)
}

type InstallationSigner struct {
	Key ed25519.PrivateKey
}

func (s InstallationSigner) Member() domain.MemberIdentifier {
	return domain.InstallationMember(s.Key.Public().(ed25519.PublicKey))
}

func (s InstallationSigner) Sign(text []byte) (domain.Signature, error) {
	return SignInstallation(s.Key, text)
}

type PasskeySigner struct {
	Key     *ecdsa.PrivateKey
	Options PasskeyOptions
}

func (s PasskeySigner) Member() domain.MemberIdentifier {
	cose, err := PasskeyPublicKey(s.Key)
	if err != nil {
		return domain.MemberIdentifier{}
	}
	return domain.PasskeyMember(cose)
}

func (s PasskeySigner) Sign(text []byte) (domain.Signature, error) {
	return SignPasskey(s.Key, text, s.Options)
}

type pendingAction struct {
	action  domain.Action
	signers []Signer
}

// UpdateBuilder assembles one identity update and signs it once every
// action is known, since all signatures cover the whole update.
type UpdateBuilder struct {
	inboxID string
	update  domain.IdentityUpdate
	pending []pendingAction
}

func NewUpdate(inboxID string, sequenceID, clientTimestampNs uint64) *UpdateBuilder {
	return &UpdateBuilder{
		inboxID: inboxID,
		update:  domain.IdentityUpdate{SequenceID: sequenceID, ClientTimestampNs: clientTimestampNs},
	}
}

// CreateIdentity registers owner's inbox. installation may be nil.
func (b *UpdateBuilder) CreateIdentity(owner Signer, nonce uint64, installation Signer) *UpdateBuilder {
	create := &domain.CreateIdentity{Nonce: nonce, AccountAddress: owner.Member().Value}
	signers := []Signer{owner}
	if installation != nil {
		m := installation.Member()
		create.InitialInstallation = &m
		create.InitialInstallationSignature = &domain.Signature{}
		signers = append(signers, installation)
	}
	b.pending = append(b.pending, pendingAction{action: domain.Action{CreateIdentity: create}, signers: signers})
	return b
}

// AddAssociation links newMember, authorized by existing. granting may be nil.
func (b *UpdateBuilder) AddAssociation(existing, newMember, granting Signer) *UpdateBuilder {
	add := &domain.AddAssociation{NewMember: newMember.Member()}
	signers := []Signer{existing, newMember}
	if granting != nil {
		m := granting.Member()
		add.GrantingWallet = &m
		add.GrantingWalletSignature = &domain.Signature{}
		signers = append(signers, granting)
	}
	b.pending = append(b.pending, pendingAction{action: domain.Action{AddAssociation: add}, signers: signers})
	return b
}

func (b *UpdateBuilder) RevokeAssociation(recovery Signer, member domain.MemberIdentifier) *UpdateBuilder {
	b.pending = append(b.pending, pendingAction{
		action:  domain.Action{RevokeAssociation: &domain.RevokeAssociation{RevokedMember: member}},
		signers: []Signer{recovery},
	})
	return b
}

func (b *UpdateBuilder) ChangeRecoveryAddress(recovery Signer, next string) *UpdateBuilder {
	b.pending = append(b.pending, pendingAction{
		action:  domain.Action{ChangeRecoveryAddress: &domain.ChangeRecoveryAddress{NewRecoveryAddress: domain.NormalizeAddress(next)}},
		signers: []Signer{recovery},
	})
	return b
}

// Build signs every action and returns the finished update.
func (b *UpdateBuilder) Build() (domain.IdentityUpdate, error) {
	if len(b.pending) == 0 {
		return domain.IdentityUpdate{}, errors.New("update has no actions")
	}
	update := b.update
	update.Actions = make([]domain.Action, len(b.pending))
	for i, p := range b.pending {
		update.Actions[i] = p.action
	}
	text := Text(b.inboxID, update)

	for i, p := range b.pending {
		sigs := make([]domain.Signature, len(p.signers))
		for j, s := range p.signers {
			sig, err := s.Sign(text)
			if err != nil {
				return domain.IdentityUpdate{}, fmt.Errorf("action %d signer %d: %w", i, j, err)
			}
			sigs[j] = sig
		}
		update.Actions[i] = attach(p.action, sigs)
	}
	return update, nil
}

// attach places sigs into action in the order of domain.Action.Signatures.
func attach(action domain.Action, sigs []domain.Signature) domain.Action {
	switch action.Kind() {
	case domain.ActionCreateIdentity:
		c := *action.CreateIdentity
		c.InitialAddressSignature = sigs[0]
		if len(sigs) > 1 {
			s := sigs[1]
			c.InitialInstallationSignature = &s
		}
		return domain.Action{CreateIdentity: &c}
	case domain.ActionAddAssociation:
		a := *action.AddAssociation
		a.ExistingMemberSignature = sigs[0]
		a.NewMemberSignature = sigs[1]
		if len(sigs) > 2 {
			s := sigs[2]
			a.GrantingWalletSignature = &s
		}
		return domain.Action{AddAssociation: &a}
	case domain.ActionRevokeAssociation:
		r := *action.RevokeAssociation
		r.RecoveryAddressSignature = sigs[0]
		return domain.Action{RevokeAssociation: &r}
	case domain.ActionChangeRecoveryAddress:
		c := *action.ChangeRecoveryAddress
		c.RecoveryAddressSignature = sigs[0]
		return domain.Action{ChangeRecoveryAddress: &c}
	}
	return action
}
