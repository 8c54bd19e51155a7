// Package association replays signed identity updates into the set of
// wallets, passkeys and installations an inbox currently controls.
//
// The fold is pure: signatures are verified beforehand and passed in as the
// signers they recovered, so replaying the same log twice always yields
// deeply equal states.
package association

import (
	"encoding/hex"
	"fmt"
	"regexp"

	"mlsvalidation/internal/domain"
)

var (
	addressPattern      = regexp.MustCompile(`^0x[0-9a-f]{40}$`)
	installationPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
	hexPattern          = regexp.MustCompile(`^([0-9a-f]{2})+$`)
)

// Replay folds every update of log, left to right.
func Replay(log domain.UpdateLog, verified domain.VerifiedSignatures) (*domain.AssociationState, error) {
	if len(log.Updates) == 0 {
		return nil, domain.ErrEmptyLog
	}
	var state *domain.AssociationState
	for ui, update := range log.Updates {
		next, err := Fold(state, log.InboxID, ui, update, verified)
		if err != nil {
			return nil, err
		}
		state = next
	}
	return state, nil
}

// Fold applies one update to state and returns the resulting state. A nil
// state means the identity does not exist yet. The input state is not
// modified.
//
// Signatures are checked for replay against earlier updates only. Actions of
// one update sign the same text, so deterministic schemes repeat the same
// bytes across them; those are recorded once the whole update applies.
func Fold(state *domain.AssociationState, inboxID string, updateIndex int, update domain.IdentityUpdate, verified domain.VerifiedSignatures) (*domain.AssociationState, error) {
	if len(update.Actions) == 0 {
		return nil, domain.AtPosition(domain.ActionPosition{UpdateIndex: updateIndex}, fmt.Errorf("%w: update has no actions", domain.ErrMalformedAction))
	}
	next := state.Clone()
	seen := make(map[string]struct{})
	for ai, action := range update.Actions {
		pos := domain.ActionPosition{UpdateIndex: updateIndex, ActionIndex: ai}
		sigs := action.Signatures()
		if err := checkReplay(state, sigs); err != nil {
			return nil, domain.AtPosition(pos, err)
		}
		var err error
		next, err = apply(next, inboxID, pos, update.SequenceID, action, verified[pos])
		if err != nil {
			return nil, domain.AtPosition(pos, err)
		}
		collect(seen, sigs)
	}
	for key := range seen {
		next.SeenSignatures[key] = struct{}{}
	}
	return next, nil
}

func apply(state *domain.AssociationState, inboxID string, pos domain.ActionPosition, seq uint64, action domain.Action, signers []domain.MemberIdentifier) (*domain.AssociationState, error) {
	kind := action.Kind()
	if kind == "" {
		return nil, fmt.Errorf("%w: exactly one action variant must be set", domain.ErrMalformedAction)
	}
	sigs := action.Signatures()
	if len(signers) != len(sigs) {
		return nil, fmt.Errorf("%w: %d signatures but %d verified signers", domain.ErrMalformedAction, len(sigs), len(signers))
	}
	if kind == domain.ActionCreateIdentity {
		if state != nil || pos.UpdateIndex != 0 || pos.ActionIndex != 0 {
			return nil, domain.ErrDuplicateCreate
		}
		return createIdentity(inboxID, seq, action.CreateIdentity, signers)
	}
	if state == nil {
		return nil, domain.ErrMissingCreate
	}
	switch kind {
	case domain.ActionAddAssociation:
		return state, addAssociation(state, seq, action.AddAssociation, signers)
	case domain.ActionRevokeAssociation:
		return state, revokeAssociation(state, seq, action.RevokeAssociation, signers)
	case domain.ActionChangeRecoveryAddress:
		return state, changeRecoveryAddress(state, action.ChangeRecoveryAddress, signers)
	}
	return nil, domain.ErrMalformedAction
}

func createIdentity(inboxID string, seq uint64, a *domain.CreateIdentity, signers []domain.MemberIdentifier) (*domain.AssociationState, error) {
	account := domain.AddressMember(a.AccountAddress)
	if err := validateMember(account); err != nil {
		return nil, err
	}
	if derived := domain.InboxID(a.AccountAddress, a.Nonce); derived != inboxID {
		return nil, fmt.Errorf("%w: log names %s, create identity derives %s", domain.ErrInboxIDMismatch, inboxID, derived)
	}
	if signers[0].Key() != account.Key() {
		return nil, fmt.Errorf("%w: initial address signature is not from %s", domain.ErrSignatureInvalid, account.Value)
	}
	state := domain.NewAssociationState(inboxID, account.Value)
	state.Members[account.Key()] = domain.Member{Identifier: account, AddedAtSequence: seq}

	if (a.InitialInstallation == nil) != (a.InitialInstallationSignature == nil) {
		return nil, fmt.Errorf("%w: initial installation and its signature go together", domain.ErrMalformedAction)
	}
	if a.InitialInstallation != nil {
		installation := a.InitialInstallation.Normalized()
		if installation.Kind != domain.MemberKindInstallation {
			return nil, fmt.Errorf("%w: initial member must be an installation", domain.ErrMalformedAction)
		}
		if err := validateMember(installation); err != nil {
			return nil, err
		}
		if signers[1].Key() != installation.Key() {
			return nil, fmt.Errorf("%w: installation signature is not from %s", domain.ErrSignatureInvalid, installation.Value)
		}
		granter := account
		state.Members[installation.Key()] = domain.Member{Identifier: installation, AddedBy: &granter, AddedAtSequence: seq}
	}
	return state, nil
}

func addAssociation(state *domain.AssociationState, seq uint64, a *domain.AddAssociation, signers []domain.MemberIdentifier) error {
	newMember := a.NewMember.Normalized()
	if err := validateMember(newMember); err != nil {
		return err
	}
	existing := signers[0].Normalized()
	if !canAuthorize(state, existing) {
		return fmt.Errorf("%w: %s is not an associated wallet", domain.ErrUnauthorizedSigner, existing)
	}
	if signers[1].Key() != newMember.Key() {
		return fmt.Errorf("%w: new member signature is not from %s", domain.ErrSignatureInvalid, newMember)
	}

	granter := existing
	if (a.GrantingWallet == nil) != (a.GrantingWalletSignature == nil) {
		return fmt.Errorf("%w: granting wallet and its signature go together", domain.ErrMalformedAction)
	}
	if a.GrantingWallet != nil {
		wallet := a.GrantingWallet.Normalized()
		if err := validateMember(wallet); err != nil {
			return err
		}
		if !wallet.CanGrant() {
			return fmt.Errorf("%w: %s cannot grant members", domain.ErrMalformedAction, wallet)
		}
		if wallet.Key() == newMember.Key() {
			return fmt.Errorf("%w: granting wallet and new member are the same", domain.ErrMalformedAction)
		}
		if signers[2].Key() != wallet.Key() {
			return fmt.Errorf("%w: granting wallet signature is not from %s", domain.ErrSignatureInvalid, wallet)
		}
		if _, ok := state.Get(wallet); !ok {
			associate(state, wallet, existing, seq)
		}
		granter = wallet
	}

	if current, ok := state.Get(newMember); ok {
		by := "the inbox owner"
		if current.AddedBy != nil {
			by = current.AddedBy.String()
		}
		return fmt.Errorf("%w: %s already granted by %s", domain.ErrMemberConflict, newMember, by)
	}
	associate(state, newMember, granter, seq)
	return nil
}

func associate(state *domain.AssociationState, member, granter domain.MemberIdentifier, seq uint64) {
	g := granter
	state.Members[member.Key()] = domain.Member{
		Identifier:      member,
		AddedBy:         &g,
		AddedAtSequence: seq,
		Readded:         state.IsTombstoned(member),
	}
}

func revokeAssociation(state *domain.AssociationState, seq uint64, a *domain.RevokeAssociation, signers []domain.MemberIdentifier) error {
	signer := signers[0].Normalized()
	if !isRecovery(state, signer) {
		return fmt.Errorf("%w: only the recovery address may revoke", domain.ErrUnauthorizedSigner)
	}
	target := a.RevokedMember.Normalized()
	if err := validateMember(target); err != nil {
		return err
	}
	if _, ok := state.Get(target); !ok {
		return fmt.Errorf("%w: %s", domain.ErrMemberNotFound, target)
	}
	for _, key := range cascade(state, target) {
		member := state.Members[key]
		delete(state.Members, key)
		state.Tombstones[key] = domain.Tombstone{
			Identifier:        member.Identifier,
			PreviousGranter:   member.AddedBy,
			RevokedBy:         signer,
			RevokedAtSequence: seq,
		}
	}
	return nil
}

// cascade returns target and every member granted through it, transitively.
func cascade(state *domain.AssociationState, target domain.MemberIdentifier) []string {
	out := []string{target.Key()}
	for i := 0; i < len(out); i++ {
		parent := out[i]
		for key, m := range state.Members {
			if m.AddedBy != nil && m.AddedBy.Key() == parent && !contains(out, key) {
				out = append(out, key)
			}
		}
	}
	return out
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func changeRecoveryAddress(state *domain.AssociationState, a *domain.ChangeRecoveryAddress, signers []domain.MemberIdentifier) error {
	signer := signers[0].Normalized()
	if !isRecovery(state, signer) {
		return fmt.Errorf("%w: only the recovery address may replace itself", domain.ErrUnauthorizedSigner)
	}
	next := domain.AddressMember(a.NewRecoveryAddress)
	if err := validateMember(next); err != nil {
		return err
	}
	state.RecoveryAddress = next.Value
	return nil
}

func canAuthorize(state *domain.AssociationState, signer domain.MemberIdentifier) bool {
	if isRecovery(state, signer) {
		return true
	}
	m, ok := state.Get(signer)
	return ok && m.Identifier.CanGrant()
}

func isRecovery(state *domain.AssociationState, signer domain.MemberIdentifier) bool {
	return signer.Kind == domain.MemberKindAddress && signer.Value == state.RecoveryAddress
}

// checkReplay rejects signatures already recorded by an earlier update.
func checkReplay(prior *domain.AssociationState, sigs []domain.Signature) error {
	if prior == nil {
		return nil
	}
	for _, sig := range sigs {
		raw := sig.RawBytes()
		if len(raw) == 0 {
			continue
		}
		if _, ok := prior.SeenSignatures[hex.EncodeToString(raw)]; ok {
			return domain.ErrReplayedSignature
		}
	}
	return nil
}

func collect(seen map[string]struct{}, sigs []domain.Signature) {
	for _, sig := range sigs {
		if raw := sig.RawBytes(); len(raw) != 0 {
			seen[hex.EncodeToString(raw)] = struct{}{}
		}
	}
}

func validateMember(m domain.MemberIdentifier) error {
	var ok bool
	switch m.Kind {
	case domain.MemberKindAddress:
		ok = addressPattern.MatchString(m.Value)
	case domain.MemberKindInstallation:
		ok = installationPattern.MatchString(m.Value)
	case domain.MemberKindPasskey:
		ok = hexPattern.MatchString(m.Value)
	}
	if !ok {
		return fmt.Errorf("%w: invalid member identifier %q", domain.ErrMalformedAction, m.Key())
	}
	return nil
}
