package usecase

import (
	"context"
	"time"

	"mlsvalidation/internal/domain"
)

type SignatureVerifier interface {
	Verify(ctx context.Context, sig domain.Signature, text []byte) (domain.MemberIdentifier, error)
}

// GroupProtocol is the trusted MLS capability. Its errors carry a
// ProtocolCode that MLSValidator maps onto the domain taxonomy.
type GroupProtocol interface {
	VerifyKeyPackage(data []byte, now time.Time) (domain.KeyPackageInfo, error)
	ParseGroupMessage(data []byte) (domain.GroupMessageInfo, error)
}

// PolicyEngine builds its own input from the verified key package so the
// policy document shape lives next to the policy language.
type PolicyEngine interface {
	EvaluateKeyPackage(ctx context.Context, info domain.KeyPackageInfo, now time.Time) (domain.PolicyEvaluation, error)
}

type UpdateLogValidator interface {
	Validate(ctx context.Context, log domain.UpdateLog) (*domain.AssociationState, error)
}

type ProtocolValidator interface {
	ValidateKeyPackage(ctx context.Context, data []byte) (domain.KeyPackageInfo, error)
	ValidateGroupMessage(ctx context.Context, data []byte, group domain.GroupContext) (domain.GroupMessageInfo, error)
}

type Metrics interface {
	ObserveVerdict(kind domain.RequestKind, valid bool, code string)
	ObserveBatch(size int)
}
