package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mlsvalidation/internal/domain"
)

// MLSValidator checks key packages and group messages through the group
// protocol capability and reports failures in the domain taxonomy.
type MLSValidator struct {
	Protocol GroupProtocol
	// Policy is optional; when set it gates key package admission.
	Policy PolicyEngine
	Now    func() time.Time
}

type protocolCoder interface {
	ProtocolCode() string
}

var protocolErrors = map[string]error{
	"truncated":                domain.ErrMalformedEncoding,
	"invalid_varint":           domain.ErrMalformedEncoding,
	"trailing_data":            domain.ErrMalformedEncoding,
	"invalid_leaf_node":        domain.ErrMalformedEncoding,
	"invalid_key":              domain.ErrMalformedEncoding,
	"invalid_content":          domain.ErrMalformedEncoding,
	"unsupported_version":      domain.ErrUnsupportedVersion,
	"unsupported_cipher_suite": domain.ErrUnsupportedSuite,
	"unsupported_wire_format":  domain.ErrUnsupportedWire,
	"invalid_credential":       domain.ErrInvalidCredential,
	"expired":                  domain.ErrInvalidCredential,
	"invalid_signature":        domain.ErrSignatureInvalid,
}

func translateProtocolError(err error) error {
	var coded protocolCoder
	if errors.As(err, &coded) {
		if sentinel, ok := protocolErrors[coded.ProtocolCode()]; ok {
			return fmt.Errorf("%w: %v", sentinel, err)
		}
	}
	return fmt.Errorf("%w: group protocol: %v", domain.ErrInternal, err)
}

func (m *MLSValidator) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MLSValidator) ValidateKeyPackage(ctx context.Context, data []byte) (domain.KeyPackageInfo, error) {
	if len(data) == 0 {
		return domain.KeyPackageInfo{}, fmt.Errorf("%w: empty key package", domain.ErrMalformedEncoding)
	}
	now := m.now()
	info, err := m.Protocol.VerifyKeyPackage(data, now)
	if err != nil {
		return domain.KeyPackageInfo{}, translateProtocolError(err)
	}
	if m.Policy == nil {
		return info, nil
	}
	eval, err := m.Policy.EvaluateKeyPackage(ctx, info, now)
	if err != nil {
		return domain.KeyPackageInfo{}, fmt.Errorf("%w: policy evaluation: %v", domain.ErrInternal, err)
	}
	if !eval.Result.Allow {
		codes := make([]string, 0, len(eval.Result.Deny))
		for _, d := range eval.Result.Deny {
			codes = append(codes, d.Code)
		}
		return domain.KeyPackageInfo{}, fmt.Errorf("%w: %s", domain.ErrPolicyDenied, strings.Join(codes, ","))
	}
	return info, nil
}

func (m *MLSValidator) ValidateGroupMessage(ctx context.Context, data []byte, group domain.GroupContext) (domain.GroupMessageInfo, error) {
	if len(data) == 0 {
		return domain.GroupMessageInfo{}, fmt.Errorf("%w: empty group message", domain.ErrMalformedEncoding)
	}
	info, err := m.Protocol.ParseGroupMessage(data)
	if err != nil {
		return domain.GroupMessageInfo{}, translateProtocolError(err)
	}
	if len(group.GroupID) > 0 && !bytes.Equal(group.GroupID, info.GroupID) {
		return domain.GroupMessageInfo{}, fmt.Errorf("%w: message is for group %x", domain.ErrGroupMismatch, info.GroupID)
	}
	if group.Epoch != nil && *group.Epoch != info.Epoch {
		return domain.GroupMessageInfo{}, fmt.Errorf("%w: expected %d, message has %d", domain.ErrEpochMismatch, *group.Epoch, info.Epoch)
	}
	return info, nil
}
