package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedSignature = errors.New("malformed signature")
	ErrSchemeMismatch     = errors.New("signature scheme mismatch")
	ErrSignatureInvalid   = errors.New("signature invalid")
	ErrOracleUnavailable  = errors.New("oracle unavailable")
	ErrMalformedEncoding  = errors.New("malformed encoding")
	ErrMalformedAction    = errors.New("malformed action")
	ErrEmptyLog           = errors.New("update log is empty")
	ErrLogTooLarge        = errors.New("update log too large")
	ErrSequenceOutOfOrder = errors.New("sequence id out of order")
	ErrDuplicateSequence  = errors.New("duplicate sequence id")
	ErrMissingCreate      = errors.New("log does not start with create identity")
	ErrDuplicateCreate    = errors.New("create identity after first action")
	ErrInboxIDMismatch    = errors.New("inbox id mismatch")
	ErrUnauthorizedSigner = errors.New("signer not authorized")
	ErrMemberConflict     = errors.New("member already associated")
	ErrMemberNotFound     = errors.New("member not associated")
	ErrReplayedSignature  = errors.New("signature replayed")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrUnsupportedSuite   = errors.New("unsupported cipher suite")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrEpochMismatch      = errors.New("epoch mismatch")
	ErrGroupMismatch      = errors.New("group id mismatch")
	ErrUnsupportedWire    = errors.New("unsupported wire format")
	ErrPolicyDenied       = errors.New("policy denied")
	ErrUnsupportedKind    = errors.New("unsupported request kind")
	ErrInternal           = errors.New("internal error")
)

type ErrorKind string

const (
	KindMalformedInput          ErrorKind = "malformed_input"
	KindProtocolViolation       ErrorKind = "protocol_violation"
	KindCryptographicInvalidity ErrorKind = "cryptographic_invalidity"
	KindOracleFailure           ErrorKind = "oracle_failure"
	KindPolicy                  ErrorKind = "policy"
	KindInternal                ErrorKind = "internal"
)

type errorClass struct {
	kind ErrorKind
	code string
}

// The first match wins, so more specific sentinels go first.
var errorClasses = []struct {
	err   error
	class errorClass
}{
	{ErrOracleUnavailable, errorClass{KindOracleFailure, "ORACLE_UNAVAILABLE"}},
	{ErrMalformedSignature, errorClass{KindMalformedInput, "MALFORMED_SIGNATURE"}},
	{ErrSchemeMismatch, errorClass{KindMalformedInput, "SCHEME_MISMATCH"}},
	{ErrMalformedEncoding, errorClass{KindMalformedInput, "MALFORMED_ENCODING"}},
	{ErrMalformedAction, errorClass{KindMalformedInput, "MALFORMED_ACTION"}},
	{ErrEmptyLog, errorClass{KindMalformedInput, "EMPTY_LOG"}},
	{ErrLogTooLarge, errorClass{KindMalformedInput, "LOG_TOO_LARGE"}},
	{ErrUnsupportedKind, errorClass{KindMalformedInput, "UNSUPPORTED_KIND"}},
	{ErrSignatureInvalid, errorClass{KindCryptographicInvalidity, "SIGNATURE_INVALID"}},
	{ErrSequenceOutOfOrder, errorClass{KindProtocolViolation, "SEQUENCE_OUT_OF_ORDER"}},
	{ErrDuplicateSequence, errorClass{KindProtocolViolation, "DUPLICATE_SEQUENCE"}},
	{ErrMissingCreate, errorClass{KindProtocolViolation, "MISSING_CREATE"}},
	{ErrDuplicateCreate, errorClass{KindProtocolViolation, "DUPLICATE_CREATE"}},
	{ErrInboxIDMismatch, errorClass{KindProtocolViolation, "INBOX_ID_MISMATCH"}},
	{ErrUnauthorizedSigner, errorClass{KindProtocolViolation, "UNAUTHORIZED_SIGNER"}},
	{ErrMemberConflict, errorClass{KindProtocolViolation, "MEMBER_CONFLICT"}},
	{ErrMemberNotFound, errorClass{KindProtocolViolation, "MEMBER_NOT_FOUND"}},
	{ErrReplayedSignature, errorClass{KindProtocolViolation, "SIGNATURE_REPLAYED"}},
	{ErrUnsupportedVersion, errorClass{KindMalformedInput, "UNSUPPORTED_VERSION"}},
	{ErrUnsupportedSuite, errorClass{KindMalformedInput, "UNSUPPORTED_CIPHER_SUITE"}},
	{ErrUnsupportedWire, errorClass{KindMalformedInput, "UNSUPPORTED_WIRE_FORMAT"}},
	{ErrInvalidCredential, errorClass{KindProtocolViolation, "INVALID_CREDENTIAL"}},
	{ErrEpochMismatch, errorClass{KindProtocolViolation, "EPOCH_MISMATCH"}},
	{ErrGroupMismatch, errorClass{KindProtocolViolation, "GROUP_MISMATCH"}},
	{ErrPolicyDenied, errorClass{KindPolicy, "POLICY_DENIED"}},
}

func classify(err error) errorClass {
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.class
		}
	}
	return errorClass{KindInternal, "INTERNAL"}
}

func KindOf(err error) ErrorKind {
	return classify(err).kind
}

// IsRetryable reports whether err is transient. Only oracle failures are.
func IsRetryable(err error) bool {
	return KindOf(err) == KindOracleFailure
}

// PositionError tags an error with the action that caused it.
type PositionError struct {
	UpdateIndex int
	ActionIndex int
	Err         error
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("update %d action %d: %v", e.UpdateIndex, e.ActionIndex, e.Err)
}

func (e *PositionError) Unwrap() error {
	return e.Err
}

func AtPosition(pos ActionPosition, err error) error {
	if err == nil {
		return nil
	}
	var existing *PositionError
	if errors.As(err, &existing) {
		return err
	}
	return &PositionError{UpdateIndex: pos.UpdateIndex, ActionIndex: pos.ActionIndex, Err: err}
}

// ErrorDetail is the structured form of an error handed to callers.
type ErrorDetail struct {
	Kind        ErrorKind `json:"kind"`
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	Retryable   bool      `json:"retryable"`
	UpdateIndex *int      `json:"update_index,omitempty"`
	ActionIndex *int      `json:"action_index,omitempty"`
}

func Describe(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	class := classify(err)
	detail := &ErrorDetail{
		Kind:      class.kind,
		Code:      class.code,
		Message:   err.Error(),
		Retryable: class.kind == KindOracleFailure,
	}
	var pos *PositionError
	if errors.As(err, &pos) {
		u, a := pos.UpdateIndex, pos.ActionIndex
		detail.UpdateIndex = &u
		detail.ActionIndex = &a
	}
	return detail
}
