// Package parser extracts structured action directives from assistant replies.
//
// Replies either are a directive (a bare JSON object, possibly inside a single
// fenced code block) or embed one somewhere in prose. Anything that does not
// decode to a recognized, schema-valid directive is treated as "no directive".
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/pmchat/internal/models"
	"github.com/tidwall/jsonc"
)

// errMalformed marks a fragment that looked like a directive but did not decode.
// It never leaves the package.
var errMalformed = errors.New("malformed directive")

// ParseDirective returns the directive carried by content, if any.
//
// The whole content is decoded first. If that fails, fenced code blocks and
// then embedded {...} objects mentioning an action are tried in order; the
// first one that decodes wins.
func ParseDirective(content string) (models.Directive, bool) {
	if d, err := decode(content); err == nil {
		return d, true
	}

	for _, block := range fencedBlocks(content) {
		if !block.jsonLike() {
			continue
		}
		if d, err := decode(block.Body); err == nil {
			return d, true
		}
	}

	for _, span := range objectCandidates(content) {
		if d, err := decode(span); err == nil {
			return d, true
		}
	}

	return models.Directive{}, false
}

// IsDirectiveOnly reports whether content consists of nothing but a directive:
// a bare object, or a single fenced block holding one. Such replies render
// their own UI and are never revealed word by word.
func IsDirectiveOnly(content string) bool {
	if _, err := decode(content); err == nil {
		return true
	}

	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") {
		return false
	}
	blocks := fencedBlocks(trimmed)
	if len(blocks) != 1 || !blocks[0].jsonLike() {
		return false
	}
	_, err := decode(blocks[0].Body)
	return err == nil
}

// taskPayload mirrors TaskDirective but accepts estimated_hours as a number or
// a numeric string.
type taskPayload struct {
	Title          string      `json:"title"`
	ProjectName    string      `json:"project_name"`
	SprintName     string      `json:"sprint_name"`
	AssigneeEmail  string      `json:"assignee_email"`
	AssigneeName   string      `json:"assignee_name"`
	DueDate        string      `json:"due_date"`
	EstimatedHours json.Number `json:"estimated_hours"`
	Description    string      `json:"description"`
}

// decode decodes a single JSONC object into a validated directive.
func decode(text string) (models.Directive, error) {
	raw := bytes.TrimSpace([]byte(text))
	if len(raw) == 0 || raw[0] != '{' {
		return models.Directive{}, errMalformed
	}

	clean := jsonc.ToJSON(raw)

	var probe struct {
		Action models.ActionKind `json:"action"`
	}
	if err := json.Unmarshal(clean, &probe); err != nil {
		return models.Directive{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if err := validate(probe.Action, clean); err != nil {
		return models.Directive{}, err
	}

	switch probe.Action {
	case models.ActionCreateProject:
		var p models.ProjectDirective
		if err := json.Unmarshal(clean, &p); err != nil {
			return models.Directive{}, fmt.Errorf("%w: %v", errMalformed, err)
		}
		p.ProjectName = strings.TrimSpace(p.ProjectName)
		p.WorkspaceName = strings.TrimSpace(p.WorkspaceName)
		return models.Directive{Action: probe.Action, Project: &p}, nil

	case models.ActionCreateTask:
		var tp taskPayload
		if err := json.Unmarshal(clean, &tp); err != nil {
			return models.Directive{}, fmt.Errorf("%w: %v", errMalformed, err)
		}
		t := models.TaskDirective{
			Title:         strings.TrimSpace(tp.Title),
			ProjectName:   strings.TrimSpace(tp.ProjectName),
			SprintName:    strings.TrimSpace(tp.SprintName),
			AssigneeEmail: strings.TrimSpace(tp.AssigneeEmail),
			AssigneeName:  strings.TrimSpace(tp.AssigneeName),
			DueDate:       tp.DueDate,
			Description:   tp.Description,
		}
		if s := strings.TrimSpace(tp.EstimatedHours.String()); s != "" {
			hours, err := json.Number(s).Float64()
			if err != nil {
				return models.Directive{}, fmt.Errorf("%w: estimated_hours: %v", errMalformed, err)
			}
			t.EstimatedHours = &hours
		}
		return models.Directive{Action: probe.Action, Task: &t}, nil
	}

	return models.Directive{}, fmt.Errorf("%w: unknown action %q", errMalformed, probe.Action)
}
