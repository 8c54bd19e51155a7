package domain

type RequestKind string

const (
	RequestKindKeyPackage     RequestKind = "key_package"
	RequestKindGroupMessage   RequestKind = "group_message"
	RequestKindIdentityUpdate RequestKind = "identity_update"
)

// ValidationRequest is one item of a heterogeneous batch. The field matching
// Kind carries the payload.
type ValidationRequest struct {
	Kind         RequestKind          `json:"kind"`
	KeyPackage   []byte               `json:"key_package,omitempty"`
	GroupMessage *GroupMessageRequest `json:"group_message,omitempty"`
	UpdateLog    *UpdateLog           `json:"update_log,omitempty"`
}

type GroupMessageRequest struct {
	Data    []byte       `json:"data"`
	Context GroupContext `json:"context"`
}

type KeyPackageVerdict struct {
	Valid bool            `json:"valid"`
	Info  *KeyPackageInfo `json:"info,omitempty"`
	Error *ErrorDetail    `json:"error,omitempty"`
}

type MessageVerdict struct {
	Valid bool              `json:"valid"`
	Info  *GroupMessageInfo `json:"info,omitempty"`
	Error *ErrorDetail      `json:"error,omitempty"`
}

type AssociationStateVerdict struct {
	Valid bool                 `json:"valid"`
	State *AssociationSnapshot `json:"state,omitempty"`
	Error *ErrorDetail         `json:"error,omitempty"`
}

// Verdict is the result for one batch item; the field matching Kind is set.
type Verdict struct {
	Index          int                      `json:"index"`
	Kind           RequestKind              `json:"kind"`
	Valid          bool                     `json:"valid"`
	Error          *ErrorDetail             `json:"error,omitempty"`
	KeyPackage     *KeyPackageVerdict       `json:"key_package,omitempty"`
	GroupMessage   *MessageVerdict          `json:"group_message,omitempty"`
	IdentityUpdate *AssociationStateVerdict `json:"identity_update,omitempty"`
}
