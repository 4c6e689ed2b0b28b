package parser

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/pmchat/internal/models"
	"github.com/xeipuuv/gojsonschema"
)

const projectSchema = `{
  "type": "object",
  "required": ["action", "project_name", "workspace_name"],
  "properties": {
    "action":         {"const": "create_project"},
    "project_name":   {"type": "string", "pattern": "\\S"},
    "workspace_name": {"type": "string", "pattern": "\\S"},
    "deadline":       {"type": ["string", "null"]},
    "description":    {"type": ["string", "null"]}
  }
}`

const taskSchema = `{
  "type": "object",
  "required": ["action", "title"],
  "properties": {
    "action":          {"const": "create_task"},
    "title":           {"type": "string", "pattern": "\\S"},
    "project_name":    {"type": ["string", "null"]},
    "sprint_name":     {"type": ["string", "null"]},
    "assignee_email":  {"type": ["string", "null"]},
    "assignee_name":   {"type": ["string", "null"]},
    "due_date":        {"type": ["string", "null"]},
    "estimated_hours": {
      "oneOf": [
        {"type": "number", "minimum": 0},
        {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"},
        {"type": "null"}
      ]
    },
    "description":     {"type": ["string", "null"]}
  }
}`

// schemas holds the compiled payload schema for each recognized action.
var schemas = map[models.ActionKind]*gojsonschema.Schema{
	models.ActionCreateProject: mustSchema(projectSchema),
	models.ActionCreateTask:    mustSchema(taskSchema),
}

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic("parser: invalid directive schema: " + err.Error())
	}
	return schema
}

// validate checks a JSON document against the schema for action.
func validate(action models.ActionKind, data []byte) error {
	schema, ok := schemas[action]
	if !ok {
		return fmt.Errorf("%w: unknown action %q", errMalformed, action)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("%w: %s", errMalformed, strings.Join(problems, "; "))
	}
	return nil
}
