package pipeline

import (
	"math"
	"time"

	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/errs"
)

// Graph owns the term arena. Terms are appended only; a term's Deps must
// all be indices strictly less than its own, so cycles cannot be
// constructed. AddTerm enforces
// this; TopologicalOrder still runs a real Kahn's pass so a violated
// invariant is caught rather than silently trusted.
type Graph struct {
	terms []Term
}

// NewGraph returns an empty term arena.
func NewGraph() *Graph { return &Graph{} }

// AddTerm appends term to the arena and returns its index. Any entry in
// term.Deps that is not a valid, already-appended index is rejected as an
// Invariant violation — the one well-formedness check the pipeline
// engine performs at build time.
func (g *Graph) AddTerm(term Term) (int, error) {
	id := len(g.terms)
	for _, dep := range term.Deps {
		if dep < 0 || dep >= id {
			return -1, errs.New(errs.Invariant, "pipeline: term %q depends on invalid index %d (must be < %d)", term.Name, dep, id)
		}
	}
	g.terms = append(g.terms, term)
	return id, nil
}

// Term returns the term at index id.
func (g *Graph) Term(id int) Term { return g.terms[id] }

// Len returns the number of terms registered.
func (g *Graph) Len() int { return len(g.terms) }

// TopologicalOrder runs Kahn's algorithm over the dependency graph,
// returning term indices in an order where every dependency precedes its
// dependents. Returns an Invariant error if a cycle is detected — which
// the arena's append-only, backward-only-deps construction should make
// unreachable, but the check runs regardless.
func (g *Graph) TopologicalOrder() ([]int, error) {
	n := len(g.terms)
	inDegree := make([]int, n)
	dependents := make([][]int, n)
	for i, t := range g.terms {
		inDegree[i] = len(t.Deps)
		for _, dep := range t.Deps {
			dependents[dep] = append(dependents[dep], i)
		}
	}

	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]int, 0, n)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != n {
		return nil, errs.New(errs.Invariant, "pipeline: cycle detected in term graph (%d of %d terms ordered)", len(order), n)
	}
	return order, nil
}

// LeafTerms returns the indices of terms with no dependencies — the
// graph's input sources.
func (g *Graph) LeafTerms() []int {
	var out []int
	for i, t := range g.terms {
		if len(t.Deps) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// RootTerms returns the indices of terms no other term depends on — the
// graph's final outputs.
func (g *Graph) RootTerms() []int {
	hasDependent := make([]bool, len(g.terms))
	for _, t := range g.terms {
		for _, dep := range t.Deps {
			hasDependent[dep] = true
		}
	}
	var out []int
	for i, has := range hasDependent {
		if !has {
			out = append(out, i)
		}
	}
	return out
}

// MaxWindowLength returns the largest cumulative history window any term
// requires: a term's own window_length plus the maximum cumulative
// window of its dependencies. This is what the data loader consults to
// decide how much history to prefetch before a pipeline run.
func (g *Graph) MaxWindowLength() int {
	memo := make([]int, len(g.terms))
	computed := make([]bool, len(g.terms))
	var walk func(id int) int
	walk = func(id int) int {
		if computed[id] {
			return memo[id]
		}
		t := g.terms[id]
		depMax := 0
		for _, dep := range t.Deps {
			if w := walk(dep); w > depMax {
				depMax = w
			}
		}
		memo[id] = t.WindowLength + depMax
		computed[id] = true
		return memo[id]
	}

	max := 0
	for i := range g.terms {
		if w := walk(i); w > max {
			max = w
		}
	}
	return max
}

// Output is the consolidated result of one pipeline run, keyed by term
// name.
type Output struct {
	Ts          time.Time
	Factors     map[string]map[domain.AssetID]float64
	Filters     map[string]map[domain.AssetID]bool
	Classifiers map[string]map[domain.AssetID]int64
}

// Execute runs every term in topological order, feeding each term's
// dependency outputs from the per-run cache, and consolidates the result
// by role. A term whose Compute returns an error aborts
// the run.
func (g *Graph) Execute(ts time.Time) (*Output, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	results := make(map[int]map[domain.AssetID]domain.Value, len(g.terms))
	ctx := &ExecContext{Ts: ts, results: results, graph: g}

	out := &Output{
		Ts:          ts,
		Factors:     make(map[string]map[domain.AssetID]float64),
		Filters:     make(map[string]map[domain.AssetID]bool),
		Classifiers: make(map[string]map[domain.AssetID]int64),
	}

	for _, id := range order {
		term := g.terms[id]
		var res map[domain.AssetID]domain.Value
		switch term.Role {
		case RoleBinaryOp:
			res = evalBinaryOp(ctx, term)
		case RoleUnaryOp:
			res = evalUnaryOp(ctx, term)
		default:
			if term.Impl == nil {
				return nil, errs.New(errs.Invariant, "pipeline: term %q has no implementation", term.Name)
			}
			res, err = term.Impl(ctx)
			if err != nil {
				return nil, errs.Wrap(errs.Invariant, err, "pipeline: term %q compute failed", term.Name)
			}
		}
		results[id] = res

		switch term.Role {
		case RoleFactor:
			out.Factors[term.Name] = valuesToFloat(res)
		case RoleFilter:
			out.Filters[term.Name] = valuesToBool(res)
		case RoleClassifier:
			out.Classifiers[term.Name] = valuesToInt64(res)
		case RoleBinaryOp, RoleUnaryOp:
			// Arithmetic/logical compositions are exposed directly under
			// their own name, bucketed by dtype: a Bool composition reads
			// like a Filter, everything else like a Factor. Raw
			// RoleInput terms are never exposed on their own — only
			// named Factor/Filter/Classifier/composition terms are.
			if term.Dtype == Bool {
				out.Filters[term.Name] = valuesToBool(res)
			} else {
				out.Factors[term.Name] = valuesToFloat(res)
			}
		}
	}
	return out, nil
}

func valuesToFloat(m map[domain.AssetID]domain.Value) map[domain.AssetID]float64 {
	out := make(map[domain.AssetID]float64, len(m))
	for id, v := range m {
		if f, ok := toFloat(v); ok {
			out[id] = f
		}
	}
	return out
}

func valuesToBool(m map[domain.AssetID]domain.Value) map[domain.AssetID]bool {
	out := make(map[domain.AssetID]bool, len(m))
	for id, v := range m {
		if b, ok := v.Bool(); ok {
			out[id] = b
		}
	}
	return out
}

func valuesToInt64(m map[domain.AssetID]domain.Value) map[domain.AssetID]int64 {
	out := make(map[domain.AssetID]int64, len(m))
	for id, v := range m {
		if i, ok := v.Int64(); ok {
			out[id] = i
		}
	}
	return out
}

// evalBinaryOp applies term.BinOp element-wise over the intersection of
// the two operands' asset keys. Division by zero produces NaN, which is
// then dropped from the output map rather than stored.
func evalBinaryOp(ctx *ExecContext, term Term) map[domain.AssetID]domain.Value {
	lhs := ctx.Dep(term.Deps[0])
	rhs := ctx.Dep(term.Deps[1])
	out := make(map[domain.AssetID]domain.Value)
	for asset, lv := range lhs {
		rv, ok := rhs[asset]
		if !ok {
			continue
		}
		result, keep := applyBinOp(term.BinOp, lv, rv)
		if keep {
			out[asset] = result
		}
	}
	return out
}

// toFloat widens either a Float64 or Int64 Value to float64, matching
// the promotion rule that numeric ops widen to the larger type.
func toFloat(v domain.Value) (float64, bool) {
	if f, ok := v.Float64(); ok {
		return f, true
	}
	if i, ok := v.Int64(); ok {
		return float64(i), true
	}
	return 0, false
}

func applyBinOp(op BinOp, lv, rv domain.Value) (domain.Value, bool) {
	if op == And || op == Or {
		lb, lok := lv.Bool()
		rb, rok := rv.Bool()
		if !lok || !rok {
			return domain.Value{}, false
		}
		if op == And {
			return domain.NewBool(lb && rb), true
		}
		return domain.NewBool(lb || rb), true
	}

	lf, lok := toFloat(lv)
	rf, rok := toFloat(rv)
	if !lok || !rok {
		return domain.Value{}, false
	}
	switch op {
	case Add:
		return domain.NewFloat64(lf + rf), true
	case Sub:
		return domain.NewFloat64(lf - rf), true
	case Mul:
		return domain.NewFloat64(lf * rf), true
	case Div:
		if rf == 0 {
			return domain.Value{}, false // NaN dropped
		}
		return domain.NewFloat64(lf / rf), true
	case Lt:
		return domain.NewBool(lf < rf), true
	case Lte:
		return domain.NewBool(lf <= rf), true
	case Gt:
		return domain.NewBool(lf > rf), true
	case Gte:
		return domain.NewBool(lf >= rf), true
	case Eq:
		return domain.NewBool(lf == rf), true
	default:
		return domain.Value{}, false
	}
}

func evalUnaryOp(ctx *ExecContext, term Term) map[domain.AssetID]domain.Value {
	input := ctx.Dep(term.Deps[0])
	out := make(map[domain.AssetID]domain.Value, len(input))
	for asset, v := range input {
		switch term.UnOp {
		case Neg:
			if f, ok := toFloat(v); ok {
				out[asset] = domain.NewFloat64(-f)
			}
		case Not:
			if b, ok := v.Bool(); ok {
				out[asset] = domain.NewBool(!b)
			}
		case Abs:
			if f, ok := toFloat(v); ok {
				out[asset] = domain.NewFloat64(math.Abs(f))
			}
		}
	}
	return out
}
