package permission

// readOnlyTools lists the tool names considered read-only for the "safe"
// preset: file reads, search, and directory listing never mutate state.
var readOnlyTools = []string{"read_file", "list_directory", "search_files", "grep"}

// presets maps a preset name to the transient rules it installs. "yolo" is
// handled specially in ApplyPreset since it only flips the override flag.
var presets = map[string][]Rule{
	"safe": safePreset(),
	"dev":  append(safePreset(), devPreset()...),
	"full": append(safePreset(), fullPreset()...),
	"yolo": nil,
}

func safePreset() []Rule {
	rules := make([]Rule, 0, len(readOnlyTools))
	for _, name := range readOnlyTools {
		rules = append(rules, Rule{ToolName: name, Kind: Allow})
	}
	return rules
}

// devPreset auto-allows edits under src/** and tests/**, on top of the safe
// read-only set.
func devPreset() []Rule {
	return []Rule{
		{ToolName: "edit_file", ParamPatterns: map[string]string{"path": "src/**"}, Kind: Allow},
		{ToolName: "edit_file", ParamPatterns: map[string]string{"path": "tests/**"}, Kind: Allow},
		{ToolName: "write_file", ParamPatterns: map[string]string{"path": "src/**"}, Kind: Allow},
		{ToolName: "write_file", ParamPatterns: map[string]string{"path": "tests/**"}, Kind: Allow},
	}
}

// fullPreset auto-allows all file I/O; shell commands are deliberately left
// out so they still prompt for approval.
func fullPreset() []Rule {
	return []Rule{
		{ToolName: "edit_file", Kind: Allow},
		{ToolName: "write_file", Kind: Allow},
		{ToolName: "delete_file", Kind: Allow},
	}
}
