package usecase

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"mlsvalidation/internal/association"
	"mlsvalidation/internal/domain"
)

const defaultSignatureConcurrency = 4

// IdentityUpdateValidator checks an update log end to end: ordering,
// limits, every signature, then the replay itself.
type IdentityUpdateValidator struct {
	Verifier             SignatureVerifier
	MaxUpdates           int
	MaxActionsPerUpdate  int
	SignatureConcurrency int
}

type signatureResult struct {
	signers []domain.MemberIdentifier
	err     error
}

func (v *IdentityUpdateValidator) Validate(ctx context.Context, log domain.UpdateLog) (*domain.AssociationState, error) {
	if err := v.checkShape(log); err != nil {
		return nil, err
	}
	results, err := v.verifyAll(ctx, log)
	if err != nil {
		return nil, err
	}

	verified := make(domain.VerifiedSignatures, len(results))
	for pos, r := range results {
		if r.err == nil {
			verified[pos] = r.signers
		}
	}
	var state *domain.AssociationState
	for ui, update := range log.Updates {
		if failed, sigErr := firstSignatureError(results, ui, len(update.Actions)); sigErr != nil {
			// Actions before the bad signature may fail on their own first.
			prefix := update
			prefix.Actions = update.Actions[:failed]
			if failed > 0 {
				if _, err := association.Fold(state, log.InboxID, ui, prefix, verified); err != nil {
					return nil, err
				}
			}
			return nil, domain.AtPosition(domain.ActionPosition{UpdateIndex: ui, ActionIndex: failed}, sigErr)
		}
		next, err := association.Fold(state, log.InboxID, ui, update, verified)
		if err != nil {
			return nil, err
		}
		state = next
	}
	return state, nil
}

func (v *IdentityUpdateValidator) checkShape(log domain.UpdateLog) error {
	if log.InboxID == "" {
		return fmt.Errorf("%w: inbox id missing", domain.ErrMalformedAction)
	}
	if len(log.Updates) == 0 {
		return domain.ErrEmptyLog
	}
	if v.MaxUpdates > 0 && len(log.Updates) > v.MaxUpdates {
		return fmt.Errorf("%w: %d updates, limit %d", domain.ErrLogTooLarge, len(log.Updates), v.MaxUpdates)
	}
	for ui, update := range log.Updates {
		pos := domain.ActionPosition{UpdateIndex: ui}
		if v.MaxActionsPerUpdate > 0 && len(update.Actions) > v.MaxActionsPerUpdate {
			return domain.AtPosition(pos, fmt.Errorf("%w: %d actions, limit %d", domain.ErrLogTooLarge, len(update.Actions), v.MaxActionsPerUpdate))
		}
		if ui == 0 {
			continue
		}
		prev := log.Updates[ui-1].SequenceID
		switch {
		case update.SequenceID == prev:
			return domain.AtPosition(pos, fmt.Errorf("%w: %d", domain.ErrDuplicateSequence, update.SequenceID))
		case update.SequenceID < prev:
			return domain.AtPosition(pos, fmt.Errorf("%w: %d after %d", domain.ErrSequenceOutOfOrder, update.SequenceID, prev))
		}
	}
	return nil
}

// verifyAll checks every signature of the log. An unreachable oracle aborts
// the whole log; any other failure is kept for its position.
func (v *IdentityUpdateValidator) verifyAll(ctx context.Context, log domain.UpdateLog) (map[domain.ActionPosition]signatureResult, error) {
	type job struct {
		pos  domain.ActionPosition
		sigs []domain.Signature
		text []byte
	}
	var jobs []job
	for ui, update := range log.Updates {
		text := association.SignatureText(log.InboxID, update)
		for ai, action := range update.Actions {
			jobs = append(jobs, job{
				pos:  domain.ActionPosition{UpdateIndex: ui, ActionIndex: ai},
				sigs: action.Signatures(),
				text: text,
			})
		}
	}

	slots := make([]signatureResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	limit := v.SignatureConcurrency
	if limit <= 0 {
		limit = defaultSignatureConcurrency
	}
	g.SetLimit(limit)
	for i := range jobs {
		j := jobs[i]
		g.Go(func() error {
			signers := make([]domain.MemberIdentifier, 0, len(j.sigs))
			for _, sig := range j.sigs {
				member, err := v.Verifier.Verify(gctx, sig, j.text)
				if err != nil {
					if errors.Is(err, domain.ErrOracleUnavailable) {
						return domain.AtPosition(j.pos, err)
					}
					slots[i] = signatureResult{err: err}
					return nil
				}
				signers = append(signers, member)
			}
			slots[i] = signatureResult{signers: signers}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[domain.ActionPosition]signatureResult, len(jobs))
	for i, j := range jobs {
		out[j.pos] = slots[i]
	}
	return out, nil
}

func firstSignatureError(results map[domain.ActionPosition]signatureResult, ui, actions int) (int, error) {
	for ai := 0; ai < actions; ai++ {
		if r := results[domain.ActionPosition{UpdateIndex: ui, ActionIndex: ai}]; r.err != nil {
			return ai, r.err
		}
	}
	return 0, nil
}
