package mlswire

import "fmt"

// Code classifies why an MLS object was rejected.
type Code string

const (
	CodeTruncated              Code = "truncated"
	CodeInvalidVarint          Code = "invalid_varint"
	CodeTrailingData           Code = "trailing_data"
	CodeUnsupportedVersion     Code = "unsupported_version"
	CodeUnsupportedCipherSuite Code = "unsupported_cipher_suite"
	CodeUnsupportedWireFormat  Code = "unsupported_wire_format"
	CodeInvalidCredential      Code = "invalid_credential"
	CodeExpired                Code = "expired"
	CodeInvalidLeafNode        Code = "invalid_leaf_node"
	CodeInvalidKey             Code = "invalid_key"
	CodeInvalidContent         Code = "invalid_content"
	CodeInvalidSignature       Code = "invalid_signature"
)

type Error struct {
	Code  Code
	Field string
	Err   error
}

func (e *Error) Error() string {
	msg := "mls: " + string(e.Code)
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ProtocolCode reports the stable code of the failure.
func (e *Error) ProtocolCode() string {
	return string(e.Code)
}

func fail(code Code, field string) *Error {
	return &Error{Code: code, Field: field}
}

func failf(code Code, field, format string, args ...any) *Error {
	return &Error{Code: code, Field: field, Err: fmt.Errorf(format, args...)}
}
