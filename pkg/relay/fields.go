package relay

import (
	"strconv"
	"time"

	"sheetrelay/internal"
	"sheetrelay/pkg/asana"
	"sheetrelay/pkg/sheets"
)

// FieldPolicy decides which custom fields are projected into the sheet. A
// default allow-list applies everywhere; individual workspaces may override
// it and may append one extra trailing column.
type FieldPolicy struct {
	defaults   []string
	workspaces map[string]internal.WorkspaceConfig
}

func NewFieldPolicy(cfg internal.RelayConfig) FieldPolicy {
	return FieldPolicy{
		defaults:   cfg.CustomFields,
		workspaces: cfg.Workspaces,
	}
}

// SchemaFor returns the sheet schema for a workspace.
func (p FieldPolicy) SchemaFor(workspaceID string) sheets.Schema {
	ws, ok := p.workspaces[workspaceID]
	if !ok {
		return sheets.Schema{Fields: p.defaults}
	}
	fields := ws.CustomFields
	if len(fields) == 0 {
		fields = p.defaults
	}
	return sheets.Schema{Fields: fields, Extra: ws.ExtraColumn}
}

// Extract projects the task's custom fields through the workspace
// allow-list. Per field the value is enum_value.name, else number_value,
// else text_value, else the generic display value. Names outside the
// allow-list are dropped.
func (p FieldPolicy) Extract(workspaceID string, fields []asana.CustomField) map[string]string {
	schema := p.SchemaFor(workspaceID)
	allowed := make(map[string]struct{}, len(schema.Fields)+1)
	for _, name := range schema.Fields {
		allowed[name] = struct{}{}
	}
	if schema.Extra != "" {
		allowed[schema.Extra] = struct{}{}
	}

	out := make(map[string]string, len(allowed))
	for _, field := range fields {
		if _, ok := allowed[field.Name]; !ok {
			continue
		}
		out[field.Name] = fieldValue(field)
	}
	return out
}

func fieldValue(field asana.CustomField) string {
	switch {
	case field.EnumValue != nil && field.EnumValue.Name != "":
		return field.EnumValue.Name
	case field.NumberValue != nil:
		return strconv.FormatFloat(*field.NumberValue, 'f', -1, 64)
	case field.TextValue != nil && *field.TextValue != "":
		return *field.TextValue
	default:
		return field.DisplayValue
	}
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
