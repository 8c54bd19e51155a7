package domain

import "sort"

type Member struct {
	Identifier      MemberIdentifier  `json:"identifier"`
	AddedBy         *MemberIdentifier `json:"added_by,omitempty"`
	AddedAtSequence uint64            `json:"added_at_sequence"`
	Readded         bool              `json:"readded,omitempty"`
}

type Tombstone struct {
	Identifier        MemberIdentifier  `json:"identifier"`
	PreviousGranter   *MemberIdentifier `json:"previous_granter,omitempty"`
	RevokedBy         MemberIdentifier  `json:"revoked_by"`
	RevokedAtSequence uint64            `json:"revoked_at_sequence"`
}

// AssociationState is the materialized result of replaying an UpdateLog.
// It is rebuilt for every validation and never persisted.
type AssociationState struct {
	InboxID         string
	RecoveryAddress string
	Members         map[string]Member
	Tombstones      map[string]Tombstone
	SeenSignatures  map[string]struct{}
}

func NewAssociationState(inboxID, recoveryAddress string) *AssociationState {
	return &AssociationState{
		InboxID:         inboxID,
		RecoveryAddress: NormalizeAddress(recoveryAddress),
		Members:         make(map[string]Member),
		Tombstones:      make(map[string]Tombstone),
		SeenSignatures:  make(map[string]struct{}),
	}
}

func (s *AssociationState) Get(id MemberIdentifier) (Member, bool) {
	if s == nil {
		return Member{}, false
	}
	m, ok := s.Members[id.Key()]
	return m, ok
}

func (s *AssociationState) IsTombstoned(id MemberIdentifier) bool {
	if s == nil {
		return false
	}
	_, ok := s.Tombstones[id.Key()]
	return ok
}

func (s *AssociationState) Installations() []Member {
	return s.membersOfKind(MemberKindInstallation)
}

func (s *AssociationState) Wallets() []Member {
	return s.membersOfKind(MemberKindAddress)
}

func (s *AssociationState) membersOfKind(kind MemberKind) []Member {
	if s == nil {
		return nil
	}
	out := make([]Member, 0, len(s.Members))
	for _, m := range s.Members {
		if m.Identifier.Kind == kind {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier.Key() < out[j].Identifier.Key() })
	return out
}

func (s *AssociationState) Clone() *AssociationState {
	if s == nil {
		return nil
	}
	out := NewAssociationState(s.InboxID, s.RecoveryAddress)
	for k, v := range s.Members {
		v.AddedBy = cloneMember(v.AddedBy)
		out.Members[k] = v
	}
	for k, v := range s.Tombstones {
		v.PreviousGranter = cloneMember(v.PreviousGranter)
		out.Tombstones[k] = v
	}
	for k := range s.SeenSignatures {
		out.SeenSignatures[k] = struct{}{}
	}
	return out
}

func cloneMember(m *MemberIdentifier) *MemberIdentifier {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// AssociationSnapshot is the ordered, serializable view of a state.
type AssociationSnapshot struct {
	InboxID         string      `json:"inbox_id"`
	RecoveryAddress string      `json:"recovery_address"`
	Members         []Member    `json:"members"`
	Tombstones      []Tombstone `json:"tombstones,omitempty"`
}

func (s *AssociationState) Snapshot() AssociationSnapshot {
	if s == nil {
		return AssociationSnapshot{}
	}
	members := make([]Member, 0, len(s.Members))
	for _, m := range s.Members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Identifier.Key() < members[j].Identifier.Key() })
	tombstones := make([]Tombstone, 0, len(s.Tombstones))
	for _, t := range s.Tombstones {
		tombstones = append(tombstones, t)
	}
	sort.Slice(tombstones, func(i, j int) bool {
		return tombstones[i].Identifier.Key() < tombstones[j].Identifier.Key()
	})
	return AssociationSnapshot{
		InboxID:         s.InboxID,
		RecoveryAddress: s.RecoveryAddress,
		Members:         members,
		Tombstones:      tombstones,
	}
}
