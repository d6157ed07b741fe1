package toolregistry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/safe-coder/safe-coder/tools"
)

func readFileSpec() tools.Spec {
	return tools.Spec{
		Name:        "read_file",
		Description: "read a file from the workspace",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"path": {"type": "string"}},
			"required": ["path"]
		}`),
		ReadOnly: true,
		Handler: func(_ tools.Context, params json.RawMessage) (any, error) {
			var args struct{ Path string }
			_ = json.Unmarshal(params, &args)
			return "contents of " + args.Path, nil
		},
	}
}

func TestRegistry_RegisterAndCall(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(readFileSpec()))

	out, err := r.Call(tools.Context{}, "read_file", json.RawMessage(`{"path":"a.go"}`))
	require.NoError(t, err)
	require.Equal(t, "contents of a.go", out)
}

func TestRegistry_ValidateRejectsMissingRequiredField(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(readFileSpec()))

	_, err := r.Call(tools.Context{}, "read_file", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := New()
	_, err := r.Call(tools.Context{}, "does_not_exist", nil)
	require.Error(t, err)
}

func TestRegistry_DefinitionsFilterAndSort(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(readFileSpec()))
	require.NoError(t, r.Register(tools.Spec{
		Name:        "run_shell",
		Description: "run a shell command",
		Handler:     func(tools.Context, json.RawMessage) (any, error) { return nil, nil },
		Tags:        []string{"shell"},
	}))

	defs := r.Definitions(func(s tools.Spec) bool { return s.ReadOnly })
	require.Len(t, defs, 1)
	require.Equal(t, "read_file", defs[0].Name)

	all := r.Definitions(nil)
	require.Len(t, all, 2)
	require.Equal(t, "read_file", all[0].Name)
	require.Equal(t, "run_shell", all[1].Name)
}
