package isolate

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/mfateev/codemode-sandbox/internal/mcpregistry"
)

// requestFunc sends a broker-protocol request to the host and blocks
// until the matching response arrives, returning the response's decoded
// Go value or an error built from its ErrorPayload. Both the channel
// (T3/T4) and pipe (T1/T2) transports supply their own requestFunc, so
// everything in this file is transport-agnostic.
type requestFunc func(Message) (any, error)

// builtinFn matches starlark.NewBuiltin's callback signature; named
// here so the per-call constructors below have a return type to declare.
type builtinFn func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// BuildPredeclared assembles the top-level names Starlark code sees, per
// spec.md §4.7: one module per tool namespace, one module per binding,
// a restricted fetch(), and the built-in "fs" filesystem module. No
// module loader, no process, no raw I/O is ever added to this dict.
func BuildPredeclared(tools []mcpregistry.ToolDescriptor, bindingMethods map[string][]string, send requestFunc) (starlark.StringDict, error) {
	predeclared := starlark.StringDict{}

	byNamespace := make(map[string][]mcpregistry.ToolDescriptor)
	for _, t := range tools {
		ns, method, ok := splitQualified(t.QualifiedName)
		if !ok {
			continue
		}
		byNamespace[ns] = append(byNamespace[ns], mcpregistry.ToolDescriptor{
			QualifiedName: method,
			Description:   t.Description,
			InputSchema:   t.InputSchema,
			ReadOnly:      t.ReadOnly,
		})
	}

	for ns, descs := range byNamespace {
		members := starlark.StringDict{}
		for _, d := range descs {
			method := d.QualifiedName
			qualified := ns + "." + method
			members[method] = starlark.NewBuiltin(ns+"."+method, toolCallBuiltin(qualified, send))
		}
		predeclared[ns] = starlarkstruct.FromStringDict(starlarkstruct.Default, members)
	}

	bindingNames := make([]string, 0, len(bindingMethods))
	for name := range bindingMethods {
		bindingNames = append(bindingNames, name)
	}
	sort.Strings(bindingNames)
	for _, name := range bindingNames {
		if _, clash := predeclared[name]; clash {
			return nil, fmt.Errorf("binding name %q collides with a tool namespace", name)
		}
		members := starlark.StringDict{}
		for _, method := range bindingMethods[name] {
			members[method] = starlark.NewBuiltin(name+"."+method, bindingCallBuiltin(name, method, send))
		}
		predeclared[name] = starlarkstruct.FromStringDict(starlarkstruct.Default, members)
	}

	predeclared["fetch"] = starlark.NewBuiltin("fetch", fetchBuiltin(send))

	fsMembers := starlark.StringDict{}
	for _, method := range []string{"read_file", "write_file", "enumerate", "delete", "rename", "copy"} {
		fsMembers[method] = starlark.NewBuiltin("fs."+method, bindingCallBuiltin(fsBindingName, method, send))
	}
	predeclared["fs"] = starlarkstruct.FromStringDict(starlarkstruct.Default, fsMembers)

	return predeclared, nil
}

func splitQualified(qualifiedName string) (namespace, method string, ok bool) {
	idx := strings.Index(qualifiedName, ".")
	if idx < 0 {
		return "", "", false
	}
	return qualifiedName[:idx], qualifiedName[idx+1:], true
}

func toolCallBuiltin(qualifiedName string, send requestFunc) builtinFn {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		params, positional, err := argsToParams(args, kwargs)
		if err != nil {
			return nil, err
		}
		if params == nil && len(positional) > 0 {
			params = map[string]any{"args": positional}
		}
		result, err := send(Message{Kind: KindToolCall, ToolCall: &ToolCallRequest{QualifiedName: qualifiedName, Params: params}})
		if err != nil {
			return nil, err
		}
		return toStarlark(result)
	}
}

func bindingCallBuiltin(binding, method string, send requestFunc) builtinFn {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		_, positional, err := argsToParams(args, kwargs)
		if err != nil {
			return nil, err
		}
		result, err := send(Message{Kind: KindBindingCall, BindingCall: &BindingCallRequest{Binding: binding, Method: method, Args: positional}})
		if err != nil {
			return nil, err
		}
		return toStarlark(result)
	}
}

func fetchBuiltin(send requestFunc) builtinFn {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var url starlark.String
		var method starlark.String = "GET"
		var headers *starlark.Dict
		var body starlark.Value = starlark.None
		if err := starlark.UnpackArgs("fetch", args, kwargs,
			"url", &url, "method?", &method, "headers?", &headers, "body?", &body); err != nil {
			return nil, err
		}

		req := &NetworkCallRequest{URL: string(url), Method: string(method)}
		if headers != nil {
			req.Headers = make(map[string]string, headers.Len())
			for _, item := range headers.Items() {
				k, _ := starlark.AsString(item[0])
				v, _ := starlark.AsString(item[1])
				req.Headers[k] = v
			}
		}
		if body != starlark.None {
			bodyGo, err := fromStarlark(body)
			if err != nil {
				return nil, err
			}
			if s, ok := bodyGo.(string); ok {
				req.Body = []byte(s)
			}
		}

		result, err := send(Message{Kind: KindNetworkCall, NetworkCall: req})
		if err != nil {
			return nil, err
		}
		return toStarlark(result)
	}
}
