package isolate

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// toStarlark converts a plain Go value (the shapes produced by
// encoding/json-style decoding: map[string]any, []any, string, float64,
// int, bool, nil, []byte) into a starlark.Value, matching §4.7's
// "Standard pure intrinsics (JSON, ... Array, Object, ...)" surface.
func toStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case []byte:
		return starlark.String(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float64:
		return starlark.Float(x), nil
	case []any:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := starlark.NewDict(len(x))
		for _, k := range keys {
			sv, err := toStarlark(x[k])
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("value of type %T is not representable in Starlark", v)
	}
}

// fromStarlark is toStarlark's inverse, used to marshal a tool/binding
// call's arguments (or its return value, on the T1/T2 JSON-lines path)
// back into plain Go values before they cross the broker boundary.
func fromStarlark(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Int:
		i, ok := x.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", x.String())
		}
		return i, nil
	case starlark.Float:
		return float64(x), nil
	case *starlark.List:
		out := make([]any, x.Len())
		for i := 0; i < x.Len(); i++ {
			elem, err := fromStarlark(x.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = elem
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, len(x))
		for i, e := range x {
			elem, err := fromStarlark(e)
			if err != nil {
				return nil, err
			}
			out[i] = elem
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, x.Len())
		for _, item := range x.Items() {
			k, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("dict keys crossing the broker boundary must be strings")
			}
			val, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value of type %s is not representable across the broker boundary", v.Type())
	}
}

// argsToParams converts positional+keyword Starlark call arguments into
// the map[string]any shape tool_call/binding_call payloads carry.
func argsToParams(args starlark.Tuple, kwargs []starlark.Tuple) (map[string]any, []any, error) {
	positional := make([]any, len(args))
	for i, a := range args {
		v, err := fromStarlark(a)
		if err != nil {
			return nil, nil, err
		}
		positional[i] = v
	}
	if len(kwargs) == 0 {
		return nil, positional, nil
	}
	params := make(map[string]any, len(kwargs))
	for _, kv := range kwargs {
		key, ok := starlark.AsString(kv[0])
		if !ok {
			return nil, nil, fmt.Errorf("keyword argument name must be a string")
		}
		v, err := fromStarlark(kv[1])
		if err != nil {
			return nil, nil, err
		}
		params[key] = v
	}
	return params, positional, nil
}
