package policyopa

import "github.com/open-policy-agent/opa/ast"

// allowedBuiltins are the pure builtins a policy may call. Anything that
// reads the clock, the network or randomness is left out.
var allowedBuiltins = map[string]struct{}{
	"abs":        {},
	"assign":     {},
	"ceil":       {},
	"concat":     {},
	"contains":   {},
	"count":      {},
	"endswith":   {},
	"eq":         {},
	"equal":      {},
	"floor":      {},
	"format_int": {},
	"gt":         {},
	"gte":        {},
	"hex.decode": {},
	"hex.encode": {},
	"lower":      {},
	"lt":         {},
	"lte":        {},
	"max":        {},
	"min":        {},
	"minus":      {},
	"neq":        {},
	"object.get": {},
	"plus":       {},
	"replace":    {},
	"sort":       {},
	"split":      {},
	"sprintf":    {},
	"startswith": {},
	"substring":  {},
	"sum":        {},
	"trim":       {},
	"trim_left":  {},
	"trim_right": {},
	"upper":      {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; !ok {
			continue
		}
		allowed = append(allowed, builtin)
	}
	return allowed
}
