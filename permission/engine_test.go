package permission_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/safe-coder/safe-coder/permission"
)

func TestEngine_NoRulesNeedsApproval(t *testing.T) {
	e := permission.New()
	d := e.Check("edit_file", json.RawMessage(`{"path":"src/main.go"}`))
	require.Equal(t, permission.NeedsApproval, d)
}

func TestEngine_DenyTakesPrecedenceOverAllow(t *testing.T) {
	e := permission.New()
	e.Approve(permission.Rule{ToolName: "edit_file"})
	e.Deny(permission.Rule{ToolName: "edit_file", ParamPatterns: map[string]string{"path": "secrets/**"}})

	require.Equal(t, permission.Allowed, e.Check("edit_file", json.RawMessage(`{"path":"src/a.go"}`)))
	require.Equal(t, permission.Denied, e.Check("edit_file", json.RawMessage(`{"path":"secrets/key.pem"}`)))
}

func TestEngine_YOLOAllowsEverything(t *testing.T) {
	e := permission.New()
	e.Deny(permission.Rule{ToolName: "run_shell"})
	e.SetYOLO(true)
	require.Equal(t, permission.Allowed, e.Check("run_shell", nil))
}

func TestEngine_InvalidGlobFallsBackToExactEquality(t *testing.T) {
	e := permission.New()
	e.Approve(permission.Rule{ToolName: "edit_file", ParamPatterns: map[string]string{"path": "["}})
	require.Equal(t, permission.NeedsApproval, e.Check("edit_file", json.RawMessage(`{"path":"x"}`)))
	require.Equal(t, permission.Allowed, e.Check("edit_file", json.RawMessage(`{"path":"["}`)))
}

func TestEngine_ClearTransientKeepsPermanentRules(t *testing.T) {
	e := permission.New()
	e.Approve(permission.Rule{ToolName: "read_file", Permanent: true})
	e.Approve(permission.Rule{ToolName: "edit_file"})

	e.ClearTransient()

	require.Equal(t, permission.Allowed, e.Check("read_file", nil))
	require.Equal(t, permission.NeedsApproval, e.Check("edit_file", nil))
}

func TestEngine_ApplyPresetSafe(t *testing.T) {
	e := permission.New()
	e.ApplyPreset("safe")
	require.Equal(t, permission.Allowed, e.Check("read_file", nil))
	require.Equal(t, permission.NeedsApproval, e.Check("edit_file", json.RawMessage(`{"path":"src/a.go"}`)))
}

func TestEngine_ApplyPresetDev(t *testing.T) {
	e := permission.New()
	e.ApplyPreset("dev")
	require.Equal(t, permission.Allowed, e.Check("edit_file", json.RawMessage(`{"path":"src/a.go"}`)))
	require.Equal(t, permission.Allowed, e.Check("edit_file", json.RawMessage(`{"path":"tests/a_test.go"}`)))
	require.Equal(t, permission.NeedsApproval, e.Check("edit_file", json.RawMessage(`{"path":"config/prod.toml"}`)))
}

func TestEngine_ApplyPresetFullStillPromptsShell(t *testing.T) {
	e := permission.New()
	e.ApplyPreset("full")
	require.Equal(t, permission.Allowed, e.Check("edit_file", json.RawMessage(`{"path":"anywhere.go"}`)))
	require.Equal(t, permission.NeedsApproval, e.Check("run_shell", json.RawMessage(`{"command":"rm -rf /"}`)))
}

func TestEngine_ApplyPresetYolo(t *testing.T) {
	e := permission.New()
	e.ApplyPreset("yolo")
	require.Equal(t, permission.Allowed, e.Check("run_shell", nil))
}

func TestEngine_ObjectParamsCanonicalizeToJSON(t *testing.T) {
	e := permission.New()
	e.Approve(permission.Rule{ToolName: "configure", ParamPatterns: map[string]string{"opts": `{"level":"high"}`}})
	require.Equal(t, permission.Allowed, e.Check("configure", json.RawMessage(`{"opts":{"level":"high"}}`)))
}

func TestPresetNames_SortedAndComplete(t *testing.T) {
	names := permission.PresetNames()
	require.Equal(t, []string{"dev", "full", "safe", "yolo"}, names)
}
