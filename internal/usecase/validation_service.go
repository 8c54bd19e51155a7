package usecase

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mlsvalidation/internal/domain"
)

const defaultConcurrency = 8

// ValidationService fans batches out to the validators. Every item gets
// its own verdict at its own index; one bad item never affects another.
type ValidationService struct {
	Identity    UpdateLogValidator
	MLS         ProtocolValidator
	Concurrency int
	Logger      *zap.Logger
	Metrics     Metrics
}

func (s *ValidationService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *ValidationService) ValidateKeyPackages(ctx context.Context, packages [][]byte) []domain.KeyPackageVerdict {
	out := make([]domain.KeyPackageVerdict, len(packages))
	s.fanOut(len(packages), func(i int) {
		out[i] = s.keyPackage(ctx, packages[i])
	}, func(i int, err error) {
		out[i] = domain.KeyPackageVerdict{Error: domain.Describe(err)}
	})
	return out
}

func (s *ValidationService) ValidateGroupMessages(ctx context.Context, messages []domain.GroupMessageRequest) []domain.MessageVerdict {
	out := make([]domain.MessageVerdict, len(messages))
	s.fanOut(len(messages), func(i int) {
		out[i] = s.groupMessage(ctx, messages[i])
	}, func(i int, err error) {
		out[i] = domain.MessageVerdict{Error: domain.Describe(err)}
	})
	return out
}

func (s *ValidationService) ValidateIdentityUpdates(ctx context.Context, logs []domain.UpdateLog) []domain.AssociationStateVerdict {
	out := make([]domain.AssociationStateVerdict, len(logs))
	s.fanOut(len(logs), func(i int) {
		out[i] = s.identityUpdate(ctx, logs[i])
	}, func(i int, err error) {
		out[i] = domain.AssociationStateVerdict{Error: domain.Describe(err)}
	})
	return out
}

// ValidateBatch validates a mixed batch. The verdict at index i always
// answers request i.
func (s *ValidationService) ValidateBatch(ctx context.Context, requests []domain.ValidationRequest) []domain.Verdict {
	out := make([]domain.Verdict, len(requests))
	if s.Metrics != nil {
		s.Metrics.ObserveBatch(len(requests))
	}
	s.fanOut(len(requests), func(i int) {
		out[i] = s.dispatch(ctx, i, requests[i])
	}, func(i int, err error) {
		out[i] = domain.Verdict{Index: i, Kind: requests[i].Kind, Error: domain.Describe(err)}
	})
	return out
}

func (s *ValidationService) dispatch(ctx context.Context, index int, req domain.ValidationRequest) domain.Verdict {
	verdict := domain.Verdict{Index: index, Kind: req.Kind}
	switch req.Kind {
	case domain.RequestKindKeyPackage:
		kp := s.keyPackage(ctx, req.KeyPackage)
		verdict.Valid, verdict.Error, verdict.KeyPackage = kp.Valid, kp.Error, &kp
	case domain.RequestKindGroupMessage:
		if req.GroupMessage == nil {
			return s.invalid(verdict, fmt.Errorf("%w: group_message payload missing", domain.ErrMalformedEncoding))
		}
		msg := s.groupMessage(ctx, *req.GroupMessage)
		verdict.Valid, verdict.Error, verdict.GroupMessage = msg.Valid, msg.Error, &msg
	case domain.RequestKindIdentityUpdate:
		if req.UpdateLog == nil {
			return s.invalid(verdict, fmt.Errorf("%w: update_log payload missing", domain.ErrEmptyLog))
		}
		st := s.identityUpdate(ctx, *req.UpdateLog)
		verdict.Valid, verdict.Error, verdict.IdentityUpdate = st.Valid, st.Error, &st
	default:
		return s.invalid(verdict, fmt.Errorf("%w: %q", domain.ErrUnsupportedKind, req.Kind))
	}
	return verdict
}

func (s *ValidationService) invalid(verdict domain.Verdict, err error) domain.Verdict {
	s.record(verdict.Kind, err)
	verdict.Error = domain.Describe(err)
	return verdict
}

func (s *ValidationService) keyPackage(ctx context.Context, data []byte) domain.KeyPackageVerdict {
	info, err := s.MLS.ValidateKeyPackage(ctx, data)
	s.record(domain.RequestKindKeyPackage, err)
	if err != nil {
		return domain.KeyPackageVerdict{Error: domain.Describe(err)}
	}
	return domain.KeyPackageVerdict{Valid: true, Info: &info}
}

func (s *ValidationService) groupMessage(ctx context.Context, req domain.GroupMessageRequest) domain.MessageVerdict {
	info, err := s.MLS.ValidateGroupMessage(ctx, req.Data, req.Context)
	s.record(domain.RequestKindGroupMessage, err)
	if err != nil {
		return domain.MessageVerdict{Error: domain.Describe(err)}
	}
	return domain.MessageVerdict{Valid: true, Info: &info}
}

func (s *ValidationService) identityUpdate(ctx context.Context, log domain.UpdateLog) domain.AssociationStateVerdict {
	state, err := s.Identity.Validate(ctx, log)
	s.record(domain.RequestKindIdentityUpdate, err)
	if err != nil {
		return domain.AssociationStateVerdict{Error: domain.Describe(err)}
	}
	snapshot := state.Snapshot()
	return domain.AssociationStateVerdict{Valid: true, State: &snapshot}
}

func (s *ValidationService) record(kind domain.RequestKind, err error) {
	code := ""
	if err != nil {
		detail := domain.Describe(err)
		code = detail.Code
		log := s.logger().Debug
		if detail.Kind == domain.KindOracleFailure || detail.Kind == domain.KindInternal {
			log = s.logger().Warn
		}
		log("validation failed", zap.String("kind", string(kind)), zap.String("code", code), zap.Error(err))
	}
	if s.Metrics != nil {
		s.Metrics.ObserveVerdict(kind, err == nil, code)
	}
}

// fanOut runs item for 0..n-1 with bounded concurrency. A panicking item
// is reported through failed and does not stop the others.
func (s *ValidationService) fanOut(n int, item func(i int), failed func(i int, err error)) {
	limit := s.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					s.logger().Error("validation item panicked",
						zap.Int("index", i),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					)
					failed(i, fmt.Errorf("%w: item panicked", domain.ErrInternal))
				}
			}()
			item(i)
			return nil
		})
	}
	_ = g.Wait()
}
