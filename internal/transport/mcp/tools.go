package mcp

import "layerforge.ai/internal/protocol"

type tool struct {
	Name        string
	Op          string
	Description string
	Required    []string
	Optional    []string
}

var (
	stringArg = map[string]any{"type": "string"}
	pairArg   = map[string]any{"type": "array", "items": map[string]any{"type": "number"}, "minItems": 2, "maxItems": 2}
)

var argSchemas = map[string]map[string]any{
	"assembly_id":       stringArg,
	"name":              stringArg,
	"surface":           stringArg,
	"area":              {"type": "array", "items": map[string]any{"type": "number"}, "minItems": 4, "maxItems": 4},
	"source_id":         stringArg,
	"relative_position": pairArg,
	"import_index":      {"type": "integer", "minimum": 0},
	"blueprint":         stringArg,
	"position":          pairArg,
}

var tools = []tool{
	{Name: "layerforge.list", Op: protocol.OpList, Description: "List every assembly."},
	{Name: "layerforge.create", Op: protocol.OpCreate, Description: "Create an assembly over an area [x1,y1,x2,y2] of a surface.",
		Required: []string{"name", "surface", "area"}},
	{Name: "layerforge.delete", Op: protocol.OpDelete, Description: "Delete an assembly and clear its area.",
		Required: []string{"assembly_id"}},
	{Name: "layerforge.add_import", Op: protocol.OpAddImport, Description: "Import another assembly at a position relative to this one.",
		Required: []string{"assembly_id", "source_id", "relative_position"}},
	{Name: "layerforge.remove_import", Op: protocol.OpRemoveImport, Description: "Remove an import by index.",
		Required: []string{"assembly_id", "import_index"}},
	{Name: "layerforge.refresh", Op: protocol.OpRefresh, Description: "Rebuild an assembly from its imports and own contents.",
		Required: []string{"assembly_id"}},
	{Name: "layerforge.save", Op: protocol.OpSave, Description: "Store what is in the area as the assembly's own contents.",
		Required: []string{"assembly_id"}},
	{Name: "layerforge.reset", Op: protocol.OpReset, Description: "Rebuild the area, discarding unsaved edits.",
		Required: []string{"assembly_id"}},
	{Name: "layerforge.diff", Op: protocol.OpDiff, Description: "Compare the area with the last refresh and return the diff blueprint.",
		Required: []string{"assembly_id"}},
	{Name: "layerforge.paste", Op: protocol.OpPaste, Description: "Paste a blueprint string into the area, optionally at a relative position.",
		Required: []string{"assembly_id", "blueprint"}, Optional: []string{"position"}},
	{Name: "layerforge.diagnostics", Op: protocol.OpSubscribe, Description: "Return the diagnostics of the assembly's last refresh.",
		Required: []string{"assembly_id"}},
}

func toolByName(name string) (tool, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return tool{}, false
}

func (t tool) descriptor() map[string]any {
	props := map[string]any{}
	for _, name := range append(append([]string(nil), t.Required...), t.Optional...) {
		props[name] = argSchemas[name]
	}
	schema := map[string]any{"type": "object", "properties": props, "additionalProperties": false}
	if len(t.Required) > 0 {
		schema["required"] = t.Required
	}
	return map[string]any{"name": t.Name, "description": t.Description, "inputSchema": schema}
}

func hasArg(cmd protocol.CommandMsg, name string) bool {
	switch name {
	case "assembly_id":
		return cmd.AssemblyID != ""
	case "name":
		return cmd.Name != ""
	case "surface":
		return cmd.Surface != ""
	case "area":
		return cmd.Area != nil
	case "source_id":
		return cmd.SourceID != ""
	case "relative_position":
		return cmd.RelativePosition != nil
	case "import_index":
		return cmd.ImportIndex != nil
	case "blueprint":
		return cmd.Blueprint != ""
	case "position":
		return cmd.Position != nil
	}
	return false
}
