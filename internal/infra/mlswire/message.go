package mlswire

import (
	"golang.org/x/crypto/cryptobyte"
)

const (
	WireFormatPublicMessage  uint16 = 0x0001
	WireFormatPrivateMessage uint16 = 0x0002
	WireFormatWelcome        uint16 = 0x0003
	WireFormatGroupInfo      uint16 = 0x0004
	WireFormatKeyPackage     uint16 = 0x0005

	ContentApplication uint8 = 1
	ContentProposal    uint8 = 2
	ContentCommit      uint8 = 3

	SenderMember            uint8 = 1
	SenderExternal          uint8 = 2
	SenderNewMemberProposal uint8 = 3
	SenderNewMemberCommit   uint8 = 4
)

// Message is the cleartext framing of a group message. For private
// messages the sender is encrypted and SenderType is zero.
type Message struct {
	Version           uint16
	WireFormat        uint16
	GroupID           []byte
	Epoch             uint64
	ContentType       uint8
	SenderType        uint8
	SenderIndex       *uint32
	AuthenticatedData []byte
}

// ParseMessage decodes the MLSMessage framing of a public or private group
// message. The proposal or commit body of a public message is not decoded.
func ParseMessage(data []byte) (*Message, error) {
	s := cryptobyte.String(data)
	m := &Message{}
	var err error
	if m.Version, err = readU16(&s, "version"); err != nil {
		return nil, err
	}
	if m.Version != VersionMLS10 {
		return nil, failf(CodeUnsupportedVersion, "version", "0x%04x", m.Version)
	}
	if m.WireFormat, err = readU16(&s, "wire_format"); err != nil {
		return nil, err
	}
	switch m.WireFormat {
	case WireFormatPublicMessage:
		err = parsePublic(&s, m)
	case WireFormatPrivateMessage:
		err = parsePrivate(&s, m)
	case WireFormatWelcome, WireFormatGroupInfo, WireFormatKeyPackage:
		return nil, failf(CodeUnsupportedWireFormat, "wire_format", "0x%04x is not a group message", m.WireFormat)
	default:
		return nil, failf(CodeUnsupportedWireFormat, "wire_format", "unknown 0x%04x", m.WireFormat)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func parsePublic(s *cryptobyte.String, m *Message) error {
	var err error
	if m.GroupID, err = readOpaque(s, "group_id"); err != nil {
		return err
	}
	if m.Epoch, err = readU64(s, "epoch"); err != nil {
		return err
	}
	if m.SenderType, err = readU8(s, "sender.type"); err != nil {
		return err
	}
	switch m.SenderType {
	case SenderMember, SenderExternal:
		idx, err := readU32(s, "sender.index")
		if err != nil {
			return err
		}
		m.SenderIndex = &idx
	case SenderNewMemberProposal, SenderNewMemberCommit:
	default:
		return failf(CodeInvalidContent, "sender.type", "unknown sender type %d", m.SenderType)
	}
	if m.AuthenticatedData, err = readOpaque(s, "authenticated_data"); err != nil {
		return err
	}
	if m.ContentType, err = readU8(s, "content_type"); err != nil {
		return err
	}
	switch m.ContentType {
	case ContentProposal, ContentCommit:
	case ContentApplication:
		return failf(CodeInvalidContent, "content_type", "application data must be sent as a private message")
	default:
		return failf(CodeInvalidContent, "content_type", "unknown content type %d", m.ContentType)
	}
	if m.SenderType == SenderNewMemberCommit && m.ContentType != ContentCommit {
		return failf(CodeInvalidContent, "sender.type", "new_member_commit sender must send a commit")
	}
	if m.SenderType == SenderNewMemberProposal && m.ContentType != ContentProposal {
		return failf(CodeInvalidContent, "sender.type", "new_member_proposal sender must send a proposal")
	}
	if s.Empty() {
		return fail(CodeTruncated, "content")
	}
	return nil
}

func parsePrivate(s *cryptobyte.String, m *Message) error {
	var err error
	if m.GroupID, err = readOpaque(s, "group_id"); err != nil {
		return err
	}
	if m.Epoch, err = readU64(s, "epoch"); err != nil {
		return err
	}
	if m.ContentType, err = readU8(s, "content_type"); err != nil {
		return err
	}
	if m.ContentType < ContentApplication || m.ContentType > ContentCommit {
		return failf(CodeInvalidContent, "content_type", "unknown content type %d", m.ContentType)
	}
	if m.AuthenticatedData, err = readOpaque(s, "authenticated_data"); err != nil {
		return err
	}
	senderData, err := readOpaque(s, "encrypted_sender_data")
	if err != nil {
		return err
	}
	if len(senderData) == 0 {
		return fail(CodeInvalidContent, "encrypted_sender_data")
	}
	ciphertext, err := readOpaque(s, "ciphertext")
	if err != nil {
		return err
	}
	if len(ciphertext) == 0 {
		return fail(CodeInvalidContent, "ciphertext")
	}
	if !s.Empty() {
		return fail(CodeTrailingData, "private_message")
	}
	return nil
}
