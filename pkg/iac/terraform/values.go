package terraform

import (
	"math/big"

	"github.com/zclconf/go-cty/cty"
)

// ctyToGo converts an evaluated cty value into the plain Go shapes the
// policy condition tree operates on: string, bool, int64, float64,
// []any, map[string]any, or nil for null/unknown values.
func ctyToGo(v cty.Value) any {
	if v == cty.NilVal || v.IsNull() || !v.IsKnown() {
		return nil
	}

	t := v.Type()
	switch {
	case t == cty.String:
		return v.AsString()
	case t == cty.Bool:
		return v.True()
	case t == cty.Number:
		return numberToGo(v.AsBigFloat())
	case t.IsListType() || t.IsSetType() || t.IsTupleType():
		values := v.AsValueSlice()
		out := make([]any, 0, len(values))
		for _, item := range values {
			out = append(out, ctyToGo(item))
		}
		return out
	case t.IsMapType() || t.IsObjectType():
		values := v.AsValueMap()
		out := make(map[string]any, len(values))
		for key, item := range values {
			out[key] = ctyToGo(item)
		}
		return out
	default:
		return nil
	}
}

func numberToGo(f *big.Float) any {
	if i, acc := f.Int64(); acc == big.Exact {
		return i
	}
	result, _ := f.Float64()
	return result
}
