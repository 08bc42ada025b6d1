package app

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/weftgo/internal/plan"
)

// Builtins returns the computation registry available to pipeline files.
// Library embedders register their own computations instead; this set exists
// so the CLI can run self-contained pipelines.
func Builtins() *plan.Registry {
	reg := plan.NewRegistry()
	reg.MustRegister(&plan.Computation{Name: "seq", Version: "1", Fn: builtinSeq})
	reg.MustRegister(&plan.Computation{Name: "sum", Version: "1", Fn: builtinSum})
	reg.MustRegister(&plan.Computation{Name: "pair", Version: "1", Fn: builtinPair})
	reg.MustRegister(&plan.Computation{Name: "concat", Version: "1", Fn: builtinConcat})
	reg.MustRegister(&plan.Computation{Name: "count", Version: "1", Fn: builtinCount})
	return reg
}

// builtinSeq produces the inclusive integer sequence [from..to].
func builtinSeq(ctx context.Context, args []cty.Value) (cty.Value, error) {
	if len(args) != 2 {
		return cty.NilVal, fmt.Errorf("seq expects (from, to), got %d arguments", len(args))
	}
	var from, to int
	if err := numArg(args[0], &from); err != nil {
		return cty.NilVal, err
	}
	if err := numArg(args[1], &to); err != nil {
		return cty.NilVal, err
	}
	if to < from {
		return cty.EmptyTupleVal, nil
	}
	out := make([]cty.Value, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, cty.NumberIntVal(int64(i)))
	}
	return cty.TupleVal(out), nil
}

// builtinSum adds its arguments; sequence arguments are summed element-wise
// into the total.
func builtinSum(ctx context.Context, args []cty.Value) (cty.Value, error) {
	total := int64(0)
	var add func(v cty.Value) error
	add = func(v cty.Value) error {
		if v.Type().IsTupleType() || v.Type().IsListType() {
			for it := v.ElementIterator(); it.Next(); {
				_, ev := it.Element()
				if err := add(ev); err != nil {
					return err
				}
			}
			return nil
		}
		var n int
		if err := numArg(v, &n); err != nil {
			return err
		}
		total += int64(n)
		return nil
	}
	for _, a := range args {
		if err := add(a); err != nil {
			return cty.NilVal, err
		}
	}
	return cty.NumberIntVal(total), nil
}

// builtinPair tuples its arguments.
func builtinPair(ctx context.Context, args []cty.Value) (cty.Value, error) {
	if len(args) == 0 {
		return cty.EmptyTupleVal, nil
	}
	return cty.TupleVal(args), nil
}

// builtinConcat flattens sequence arguments into one tuple.
func builtinConcat(ctx context.Context, args []cty.Value) (cty.Value, error) {
	var out []cty.Value
	for i, a := range args {
		if !a.Type().IsTupleType() && !a.Type().IsListType() {
			return cty.NilVal, fmt.Errorf("concat argument %d is not a sequence", i)
		}
		for it := a.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			out = append(out, ev)
		}
	}
	if len(out) == 0 {
		return cty.EmptyTupleVal, nil
	}
	return cty.TupleVal(out), nil
}

// builtinCount returns the length of its single sequence argument.
func builtinCount(ctx context.Context, args []cty.Value) (cty.Value, error) {
	if len(args) != 1 {
		return cty.NilVal, fmt.Errorf("count expects one argument, got %d", len(args))
	}
	v := args[0]
	if !v.Type().IsTupleType() && !v.Type().IsListType() {
		return cty.NilVal, fmt.Errorf("count argument is not a sequence")
	}
	return cty.NumberIntVal(int64(v.LengthInt())), nil
}

func numArg(v cty.Value, out *int) error {
	if v.Type() != cty.Number {
		return fmt.Errorf("expected a number, got %s", v.Type().FriendlyName())
	}
	f, _ := v.AsBigFloat().Int64()
	*out = int(f)
	return nil
}
