// Package policyopa evaluates the key package admission policy with OPA.
// Policies run in a sandbox: only pure builtins are available, so the same
// bundle and input always produce the same decision.
package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"mlsvalidation/internal/domain"
)

const defaultQuery = "data.mlsvalidation.policy.result"

type Engine struct {
	query      rego.PreparedEvalQuery
	bundleHash string
	bundleID   string
}

// NewEngineFromBundlePath compiles the bundle at bundlePath. The manifest
// names the bundle; bundleID is used when it does not and must agree with it
// when it does. A bundle with neither is named after its directory.
func NewEngineFromBundlePath(ctx context.Context, bundlePath string, bundleID string) (*Engine, error) {
	bundle, err := LoadBundle(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", bundlePath, err)
	}
	id, err := resolveBundleID(bundle.ID, bundleID, bundlePath)
	if err != nil {
		return nil, err
	}

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(bundle.Query),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, skipNonNormative),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy %s: %w", id, err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}

	return &Engine{
		query:      prepared,
		bundleHash: bundle.Hash,
		bundleID:   id,
	}, nil
}

func resolveBundleID(manifestID, configured, bundlePath string) (string, error) {
	switch {
	case manifestID != "" && configured != "" && manifestID != configured:
		return "", fmt.Errorf("policy bundle id %q does not match manifest id %q", configured, manifestID)
	case manifestID != "":
		return manifestID, nil
	case configured != "":
		return configured, nil
	default:
		return filepath.Base(filepath.Clean(bundlePath)), nil
	}
}

// skipNonNormative keeps the compiled set equal to the hashed set. The
// manifest is hashed but is not policy data.
func skipNonNormative(_ string, info fs.FileInfo, depth int) bool {
	if info.IsDir() {
		return depth > 0 && skipDir(info.Name())
	}
	return info.Name() == manifestFile || !isNormative(info.Name())
}

func (e *Engine) BundleHash() string {
	return e.bundleHash
}

func (e *Engine) BundleID() string {
	return e.bundleID
}

// EvaluateKeyPackage runs the admission policy over a verified key package.
func (e *Engine) EvaluateKeyPackage(ctx context.Context, info domain.KeyPackageInfo, now time.Time) (domain.PolicyEvaluation, error) {
	return e.Evaluate(ctx, KeyPackageInput(info, now))
}

func (e *Engine) Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyEvaluation, error) {
	if e == nil {
		return domain.PolicyEvaluation{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.PolicyEvaluation{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.PolicyEvaluation{}, errors.New("empty policy result")
	}
	result, err := decodePolicyResult(results[0].Expressions[0].Value)
	if err != nil {
		return domain.PolicyEvaluation{}, err
	}
	normalizePolicyResult(&result)
	return domain.PolicyEvaluation{
		BundleID:   e.bundleID,
		BundleHash: e.bundleHash,
		Result:     result,
	}, nil
}

func decodePolicyResult(value any) (domain.PolicyResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return domain.PolicyResult{}, err
	}
	var result domain.PolicyResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return domain.PolicyResult{}, fmt.Errorf("decode policy result: %w", err)
	}
	return result, nil
}

// A policy may not allow while also listing deny reasons.
func normalizePolicyResult(result *domain.PolicyResult) {
	if result == nil {
		return
	}
	if len(result.Deny) > 0 {
		result.Allow = false
	}
	sort.Slice(result.Deny, func(i, j int) bool {
		if result.Deny[i].Code == result.Deny[j].Code {
			return result.Deny[i].Message < result.Deny[j].Message
		}
		return result.Deny[i].Code < result.Deny[j].Code
	})
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
