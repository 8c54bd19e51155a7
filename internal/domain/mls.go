package domain

type CipherSuite uint16

const (
	CipherSuiteX25519AES128SHA256Ed25519   CipherSuite = 0x0001
	CipherSuiteP256AES128SHA256P256        CipherSuite = 0x0002
	CipherSuiteX25519ChaCha20SHA256Ed25519 CipherSuite = 0x0003
	CipherSuiteX448AES256SHA512Ed448       CipherSuite = 0x0004
	CipherSuiteP521AES256SHA512P521        CipherSuite = 0x0005
	CipherSuiteX448ChaCha20SHA512Ed448     CipherSuite = 0x0006
	CipherSuiteP384AES256SHA384P384        CipherSuite = 0x0007
)

type CredentialType uint16

const (
	CredentialTypeBasic CredentialType = 0x0001
	CredentialTypeX509  CredentialType = 0x0002
)

type WireFormat uint16

const (
	WireFormatPublicMessage  WireFormat = 0x0001
	WireFormatPrivateMessage WireFormat = 0x0002
	WireFormatWelcome        WireFormat = 0x0003
	WireFormatGroupInfo      WireFormat = 0x0004
	WireFormatKeyPackage     WireFormat = 0x0005
)

type ContentType uint8

const (
	ContentTypeApplication ContentType = 1
	ContentTypeProposal    ContentType = 2
	ContentTypeCommit      ContentType = 3
)

type SenderType uint8

const (
	SenderTypeMember            SenderType = 1
	SenderTypeExternal          SenderType = 2
	SenderTypeNewMemberProposal SenderType = 3
	SenderTypeNewMemberCommit   SenderType = 4
)

// KeyPackageInfo is the metadata extracted from a verified KeyPackage.
type KeyPackageInfo struct {
	InstallationKey    []byte         `json:"installation_key"`
	CredentialType     CredentialType `json:"credential_type"`
	CredentialIdentity []byte         `json:"credential_identity"`
	CipherSuite        CipherSuite    `json:"cipher_suite"`
	InitKey            []byte         `json:"init_key"`
	// NotBefore and NotAfter are the leaf lifetime in Unix seconds, exactly
	// as encoded. RFC 9420 allows the full uint64 range.
	NotBefore uint64 `json:"not_before"`
	NotAfter  uint64 `json:"not_after"`
}

// GroupContext carries what the caller expects a group message to belong to.
type GroupContext struct {
	GroupID []byte  `json:"group_id,omitempty"`
	Epoch   *uint64 `json:"epoch,omitempty"`
}

type GroupMessageInfo struct {
	GroupID     []byte      `json:"group_id"`
	Epoch       uint64      `json:"epoch"`
	WireFormat  WireFormat  `json:"wire_format"`
	ContentType ContentType `json:"content_type"`
	SenderType  SenderType  `json:"sender_type,omitempty"`
	LeafIndex   *uint32     `json:"leaf_index,omitempty"`
}
