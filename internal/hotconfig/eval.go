package hotconfig

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/keithlinneman/boardstate/internal/xerrors"
)

const rootAttr = "hot"

var rootSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{{Name: rootAttr}},
}

// Eval parses src and returns the native value of its "hot" attribute.
// filename only labels diagnostics.
func Eval(src []byte, filename string) (map[string]any, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, xerrors.Kind(xerrors.ErrEval, diags, "parse hot config")
	}
	content, _, diags := file.Body.PartialContent(rootSchema)
	if diags.HasErrors() {
		return nil, xerrors.Kind(xerrors.ErrEval, diags, "parse hot config")
	}
	attr, ok := content.Attributes[rootAttr]
	if !ok {
		return nil, xerrors.Kindf(xerrors.ErrConfigFormat, nil, "%s: no %q attribute", filename, rootAttr)
	}

	// nil context: no variables, no functions
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return nil, xerrors.Kind(xerrors.ErrEval, diags, "evaluate hot config")
	}
	ty := val.Type()
	if val.IsNull() || !(ty.IsObjectType() || ty.IsMapType()) {
		return nil, xerrors.Kindf(xerrors.ErrConfigFormat, nil, "%s: %q must be an object, got %s", filename, rootAttr, ty.FriendlyName())
	}

	native, err := ctyToNative(val)
	if err != nil {
		return nil, xerrors.Kind(xerrors.ErrConfigFormat, err, "convert hot config")
	}
	return native.(map[string]any), nil
}

// ctyToNative converts v to strings, float64s, bools, []any and
// map[string]any. Null becomes nil.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("value of type %s is not known", v.Type().FriendlyName())
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("number: %w", err)
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0)
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			nv, err := ctyToNative(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil

	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			nv, err := ctyToNative(ev)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", k.AsString(), err)
			}
			out[k.AsString()] = nv
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
	}
}
