package pipeline

import (
	"math"
	"sort"

	"github.com/alejandrodnm/backalpha/internal/domain"
)

// InputTerm wraps a raw per-asset source — typically the latest adjusted
// close/volume/etc. fetched by the engine before a pipeline run — as a
// leaf term with no dependencies.
func InputTerm(name string, dtype DType, windowLength int, values map[domain.AssetID]domain.Value) Term {
	return Term{
		Name: name, Role: RoleInput, Dtype: dtype, WindowLength: windowLength, Cacheable: true,
		Impl: func(_ *ExecContext) (map[domain.AssetID]domain.Value, error) { return values, nil },
	}
}

// BinaryOpTerm builds a derived term computing op(lhs, rhs) element-wise.
func BinaryOpTerm(name string, dtype DType, lhs, rhs int, op BinOp) Term {
	return Term{Name: name, Role: RoleBinaryOp, Dtype: dtype, Deps: []int{lhs, rhs}, Cacheable: true, BinOp: op}
}

// UnaryOpTerm builds a derived term computing op(input) element-wise.
func UnaryOpTerm(name string, dtype DType, input int, op UnOp) Term {
	return Term{Name: name, Role: RoleUnaryOp, Dtype: dtype, Deps: []int{input}, Cacheable: true, UnOp: op}
}

// Everything is a Filter that labels every asset seen by its input term
// true, regardless of value.
func EverythingFilter(name string, input int) Term {
	return Term{
		Name: name, Role: RoleFilter, Dtype: Bool, Deps: []int{input}, Cacheable: true,
		Impl: func(ctx *ExecContext) (map[domain.AssetID]domain.Value, error) {
			in := ctx.Dep(input)
			out := make(map[domain.AssetID]domain.Value, len(in))
			for asset := range in {
				out[asset] = domain.NewBool(true)
			}
			return out, nil
		},
	}
}

// NotNullFilter keeps assets whose input term produced any value at all
// (pipeline terms never store explicit nulls — absence from the map is
// the null representation).
func NotNullFilter(name string, input int) Term {
	return Term{
		Name: name, Role: RoleFilter, Dtype: Bool, Deps: []int{input}, Cacheable: true,
		Impl: func(ctx *ExecContext) (map[domain.AssetID]domain.Value, error) {
			in := ctx.Dep(input)
			out := make(map[domain.AssetID]domain.Value, len(in))
			for asset := range in {
				out[asset] = domain.NewBool(true)
			}
			return out, nil
		},
	}
}

// StaticSIDsFilter keeps only the assets in the given membership set.
func StaticSIDsFilter(name string, input int, sids map[domain.AssetID]struct{}) Term {
	return Term{
		Name: name, Role: RoleFilter, Dtype: Bool, Deps: []int{input}, Cacheable: true,
		Impl: func(ctx *ExecContext) (map[domain.AssetID]domain.Value, error) {
			in := ctx.Dep(input)
			out := make(map[domain.AssetID]domain.Value, len(in))
			for asset := range in {
				_, member := sids[asset]
				out[asset] = domain.NewBool(member)
			}
			return out, nil
		},
	}
}

// TopNFilter keeps the N assets with the highest input value
// (sort descending, take N).
func TopNFilter(name string, input int, n int) Term {
	return Term{
		Name: name, Role: RoleFilter, Dtype: Bool, Deps: []int{input}, Cacheable: true,
		Impl: func(ctx *ExecContext) (map[domain.AssetID]domain.Value, error) {
			ranked := sortedByValueDesc(ctx.Dep(input))
			keep := make(map[domain.AssetID]struct{}, n)
			for i := 0; i < len(ranked) && i < n; i++ {
				keep[ranked[i].asset] = struct{}{}
			}
			out := make(map[domain.AssetID]domain.Value, len(ranked))
			for _, r := range ranked {
				_, ok := keep[r.asset]
				out[r.asset] = domain.NewBool(ok)
			}
			return out, nil
		},
	}
}

// PercentileCutFilter keeps assets whose input value falls within
// [lowerPct, upperPct] (0-100, inclusive), ranked by sorting all latest
// values.
func PercentileCutFilter(name string, input int, lowerPct, upperPct float64) Term {
	return Term{
		Name: name, Role: RoleFilter, Dtype: Bool, Deps: []int{input}, Cacheable: true,
		Impl: func(ctx *ExecContext) (map[domain.AssetID]domain.Value, error) {
			ranked := sortedByValueAsc(ctx.Dep(input))
			n := len(ranked)
			out := make(map[domain.AssetID]domain.Value, n)
			if n == 0 {
				return out, nil
			}
			loIdx := int(math.Floor(lowerPct / 100 * float64(n-1)))
			hiIdx := int(math.Ceil(upperPct / 100 * float64(n-1)))
			for i, r := range ranked {
				out[r.asset] = domain.NewBool(i >= loIdx && i <= hiIdx)
			}
			return out, nil
		},
	}
}

// QuantilesClassifier divides the sorted-ascending assets into bins
// buckets using ceil-bucket placement: bucket(i) = floor(i*bins/(n-1)),
// capped at bins-1. Worked example S4: 5 assets
// {1:110,2:60,3:190,4:85,5:160} with Quantiles(3) yields labels
// {2:0,4:0,1:1,5:2,3:2}.
func QuantilesClassifier(name string, input int, bins int) Term {
	return Term{
		Name: name, Role: RoleClassifier, Dtype: I64, Deps: []int{input}, Cacheable: true,
		Impl: func(ctx *ExecContext) (map[domain.AssetID]domain.Value, error) {
			ranked := sortedByValueAsc(ctx.Dep(input))
			n := len(ranked)
			out := make(map[domain.AssetID]domain.Value, n)
			if n == 0 || bins <= 0 {
				return out, nil
			}
			if n == 1 {
				out[ranked[0].asset] = domain.NewInt64(0)
				return out, nil
			}
			for i, r := range ranked {
				bucket := int(math.Floor(float64(i) * float64(bins) / float64(n-1)))
				if bucket >= bins {
					bucket = bins - 1
				}
				out[r.asset] = domain.NewInt64(int64(bucket))
			}
			return out, nil
		},
	}
}

// EverythingClassifier labels every asset 0.
func EverythingClassifier(name string, input int) Term {
	return Term{
		Name: name, Role: RoleClassifier, Dtype: I64, Deps: []int{input}, Cacheable: true,
		Impl: func(ctx *ExecContext) (map[domain.AssetID]domain.Value, error) {
			in := ctx.Dep(input)
			out := make(map[domain.AssetID]domain.Value, len(in))
			for asset := range in {
				out[asset] = domain.NewInt64(0)
			}
			return out, nil
		},
	}
}

// SimpleClassifier applies a scalar threshold function to the latest
// input value, producing a caller-chosen integer label.
func SimpleClassifier(name string, input int, label func(v float64) int64) Term {
	return Term{
		Name: name, Role: RoleClassifier, Dtype: I64, Deps: []int{input}, Cacheable: true,
		Impl: func(ctx *ExecContext) (map[domain.AssetID]domain.Value, error) {
			in := ctx.Dep(input)
			out := make(map[domain.AssetID]domain.Value, len(in))
			for asset, v := range in {
				if f, ok := toFloat(v); ok {
					out[asset] = domain.NewInt64(label(f))
				}
			}
			return out, nil
		},
	}
}

type rankedAsset struct {
	asset domain.AssetID
	value float64
}

func sortedByValueAsc(m map[domain.AssetID]domain.Value) []rankedAsset {
	out := valuesToRanked(m)
	sort.Slice(out, func(i, j int) bool { return out[i].value < out[j].value })
	return out
}

func sortedByValueDesc(m map[domain.AssetID]domain.Value) []rankedAsset {
	out := valuesToRanked(m)
	sort.Slice(out, func(i, j int) bool { return out[i].value > out[j].value })
	return out
}

func valuesToRanked(m map[domain.AssetID]domain.Value) []rankedAsset {
	out := make([]rankedAsset, 0, len(m))
	for asset, v := range m {
		if f, ok := toFloat(v); ok {
			out = append(out, rankedAsset{asset: asset, value: f})
		}
	}
	return out
}
