// Package pipeline implements the compute-graph DAG of Terms that
// precomputes per-asset factors, filters, and classifiers for a strategy
// to consume at session boundaries.
package pipeline

import (
	"github.com/alejandrodnm/backalpha/internal/domain"
)

// DType is a Term's output element type.
type DType int

const (
	Bool DType = iota
	I32
	I64
	F32
	F64
	Str
	DateTime
	Object
)

// Role distinguishes the term's shape in the tagged-union model:
// {InputSource, BinaryOp, UnaryOp, Factor, Filter, Classifier}.
type Role int

const (
	RoleInput Role = iota
	RoleBinaryOp
	RoleUnaryOp
	RoleFactor
	RoleFilter
	RoleClassifier
)

// BinOp is a binary operator with its own dtype promotion rules:
// numeric ops widen, comparisons yield Bool, logical ops require Bool
// inputs.
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Lt
	Lte
	Gt
	Gte
	Eq
	And
	Or
)

// UnOp is a unary operator.
type UnOp int

const (
	Neg UnOp = iota
	Not
	Abs
)

// ExecContext is handed to every Term's Compute at execution time: the
// pipeline run's timestamp and a read-only view of already-computed
// dependency results, keyed by term index.
type ExecContext struct {
	Ts      interface{} // time.Time, typed loosely here to avoid import noise in Term signatures
	results map[int]map[domain.AssetID]domain.Value
	graph   *Graph
}

// Dep returns the memoized output of the dependency at index id. Callers
// only ever pass indices drawn from their own Deps slice, which the
// arena invariant guarantees were computed earlier in topological order.
func (c *ExecContext) Dep(id int) map[domain.AssetID]domain.Value {
	return c.results[id]
}

// ComputeFunc produces one term's {asset_id -> Value} output for a run.
type ComputeFunc func(ctx *ExecContext) (map[domain.AssetID]domain.Value, error)

// Term is one node in the pipeline DAG. Deps are indices into the owning
// Graph's term arena and are always < the term's own index — this is
// what makes a cycle impossible by construction.
type Term struct {
	Name         string
	Role         Role
	Dtype        DType
	Deps         []int
	WindowLength int
	Cacheable    bool
	BinOp        BinOp // meaningful only when Role == RoleBinaryOp
	UnOp         UnOp  // meaningful only when Role == RoleUnaryOp
	Impl         ComputeFunc
}
