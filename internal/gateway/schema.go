package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/taskdesk/internal/persistence"
)

const taskCreateSchemaJSON = `{
	"type": "object",
	"required": ["title"],
	"additionalProperties": false,
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"status": {"type": "string", "enum": ["todo", "in_progress", "completed"]},
		"priority": {"type": "integer", "minimum": 1, "maximum": 5},
		"due_date": {"type": ["string", "null"]}
	}
}`

const taskPatchSchemaJSON = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"status": {"type": "string", "enum": ["todo", "in_progress", "completed"]},
		"priority": {"type": "integer", "minimum": 1, "maximum": 5},
		"due_date": {"type": ["string", "null"]}
	}
}`

var (
	taskCreateSchema = mustCompileSchema("task-create.json", taskCreateSchemaJSON)
	taskPatchSchema  = mustCompileSchema("task-patch.json", taskPatchSchemaJSON)
)

func mustCompileSchema(name, text string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// validateBody decodes the request body and checks it against the given
// schema. The decoded object is returned for field extraction.
func validateBody(r *http.Request, schema *jsonschema.Schema) (map[string]any, error) {
	instance, err := jsonschema.UnmarshalJSON(r.Body)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, err
	}
	body, ok := instance.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("request body must be a JSON object")
	}
	return body, nil
}

// parseDueDate accepts RFC 3339 timestamps and naive
// "2006-01-02T15:04:05" values, which are treated as UTC.
func parseDueDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid due_date %q: expected RFC 3339 or YYYY-MM-DDTHH:MM:SS", raw)
}

func bodyString(body map[string]any, key string) (string, bool) {
	v, ok := body[key]
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

func bodyInt(body map[string]any, key string) (int, bool, error) {
	v, ok := body[key]
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), true, nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false, fmt.Errorf("%s must be an integer", key)
		}
		return int(i), true, nil
	default:
		return 0, false, fmt.Errorf("%s must be an integer", key)
	}
}

// draftFromBody builds a TaskDraft from a schema-validated create body.
// The second return reports whether due_date was present.
func draftFromBody(body map[string]any) (persistence.TaskDraft, bool, error) {
	draft := persistence.TaskDraft{}
	if title, ok := bodyString(body, "title"); ok {
		draft.Title = title
	}
	if desc, ok := bodyString(body, "description"); ok {
		draft.Description = desc
	}
	if status, ok := bodyString(body, "status"); ok {
		draft.Status = persistence.Status(status)
	}
	priority, ok, err := bodyInt(body, "priority")
	if err != nil {
		return draft, false, err
	}
	if ok {
		draft.Priority = priority
	}
	hasDue := false
	if raw, exists := body["due_date"]; exists {
		hasDue = true
		if raw != nil {
			due, err := parseDueDate(raw.(string))
			if err != nil {
				return draft, false, err
			}
			draft.DueDate = &due
		}
	}
	return draft, hasDue, nil
}

// patchFromBody builds a TaskPatch from a schema-validated patch body.
// A due_date of JSON null clears the deadline; an absent key leaves it
// untouched.
func patchFromBody(body map[string]any) (persistence.TaskPatch, error) {
	patch := persistence.TaskPatch{}
	if title, ok := bodyString(body, "title"); ok {
		patch.Title = &title
	}
	if desc, ok := bodyString(body, "description"); ok {
		patch.Description = &desc
	}
	if status, ok := bodyString(body, "status"); ok {
		st := persistence.Status(status)
		patch.Status = &st
	}
	priority, ok, err := bodyInt(body, "priority")
	if err != nil {
		return patch, err
	}
	if ok {
		patch.Priority = &priority
	}
	if raw, exists := body["due_date"]; exists {
		if raw == nil {
			patch.ClearDueDate = true
		} else {
			due, err := parseDueDate(raw.(string))
			if err != nil {
				return patch, err
			}
			patch.DueDate = &due
		}
	}
	return patch, nil
}
