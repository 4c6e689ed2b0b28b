package client

import (
	"context"

	"github.com/raphaelgruber/pmchat/internal/models"
)

type wireEntity struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Title     string `json:"title"`
	ProjectID string `json:"projectId"`
}

func (w wireEntity) ref(kind models.EntityKind) models.EntityRef {
	name := w.Name
	if name == "" {
		name = w.Title
	}
	return models.EntityRef{ID: w.ID, Kind: kind, Name: name, ProjectID: w.ProjectID}
}

func scopeVars(scope models.Scope) map[string]any {
	s := map[string]any{}
	if scope.ConversationID != "" {
		s["conversationId"] = scope.ConversationID
	}
	if scope.WorkspaceName != "" {
		s["workspaceName"] = scope.WorkspaceName
	}
	if scope.ProjectName != "" {
		s["projectName"] = scope.ProjectName
	}
	if scope.ProjectID != "" {
		s["projectId"] = scope.ProjectID
	}
	return s
}

func projectInput(d models.ProjectDirective) map[string]any {
	in := map[string]any{
		"projectName":   d.ProjectName,
		"workspaceName": d.WorkspaceName,
	}
	if d.Deadline != "" {
		in["deadline"] = d.Deadline
	}
	if d.Description != "" {
		in["description"] = d.Description
	}
	return in
}

func taskInput(d models.TaskDirective) map[string]any {
	in := map[string]any{"title": d.Title}
	optional := map[string]string{
		"projectName":   d.ProjectName,
		"sprintName":    d.SprintName,
		"assigneeEmail": d.AssigneeEmail,
		"assigneeName":  d.AssigneeName,
		"dueDate":       d.DueDate,
		"description":   d.Description,
	}
	for k, v := range optional {
		if v != "" {
			in[k] = v
		}
	}
	if d.EstimatedHours != nil {
		in["estimatedHours"] = *d.EstimatedHours
	}
	return in
}

// CreateProjectFromDirective creates the project a directive describes.
func (c *Client) CreateProjectFromDirective(ctx context.Context, d models.ProjectDirective, scope models.Scope) (models.EntityRef, error) {
	const query = `
		mutation CreateProjectFromDirective($input: ProjectDirectiveInput!, $scope: DirectiveScopeInput) {
			createProjectFromDirective(input: $input, scope: $scope) { id name }
		}
	`

	var result struct {
		Project wireEntity `json:"createProjectFromDirective"`
	}
	if err := c.Execute(ctx, query, map[string]any{"input": projectInput(d), "scope": scopeVars(scope)}, &result); err != nil {
		return models.EntityRef{}, err
	}
	return result.Project.ref(models.EntityProject), nil
}

// CreateTaskFromDirective creates the task a directive describes.
func (c *Client) CreateTaskFromDirective(ctx context.Context, d models.TaskDirective, scope models.Scope) (models.EntityRef, error) {
	const query = `
		mutation CreateTaskFromDirective($input: TaskDirectiveInput!, $scope: DirectiveScopeInput) {
			createTaskFromDirective(input: $input, scope: $scope) { id title projectId }
		}
	`

	var result struct {
		Task wireEntity `json:"createTaskFromDirective"`
	}
	if err := c.Execute(ctx, query, map[string]any{"input": taskInput(d), "scope": scopeVars(scope)}, &result); err != nil {
		return models.EntityRef{}, err
	}
	return result.Task.ref(models.EntityTask), nil
}

// FindExistingProject looks up a project by exact name within the scope's workspace.
func (c *Client) FindExistingProject(ctx context.Context, scope models.Scope, name string) (models.EntityRef, bool, error) {
	const query = `
		query FindExistingProject($name: String!, $workspaceName: String) {
			findProject(name: $name, workspaceName: $workspaceName) { id name }
		}
	`

	vars := map[string]any{"name": name}
	if scope.WorkspaceName != "" {
		vars["workspaceName"] = scope.WorkspaceName
	}

	var result struct {
		Project *wireEntity `json:"findProject"`
	}
	if err := c.Execute(ctx, query, vars, &result); err != nil {
		return models.EntityRef{}, false, err
	}
	if result.Project == nil {
		return models.EntityRef{}, false, nil
	}
	return result.Project.ref(models.EntityProject), true, nil
}

// FindExistingTask looks up a task by exact title, within projectID or the
// scope's project name when set.
func (c *Client) FindExistingTask(ctx context.Context, scope models.Scope, title, projectID string) (models.EntityRef, bool, error) {
	const query = `
		query FindExistingTask($title: String!, $projectId: ID, $projectName: String, $workspaceName: String) {
			findTask(title: $title, projectId: $projectId, projectName: $projectName, workspaceName: $workspaceName) { id title projectId }
		}
	`

	vars := map[string]any{"title": title}
	if projectID != "" {
		vars["projectId"] = projectID
	}
	if scope.ProjectName != "" {
		vars["projectName"] = scope.ProjectName
	}
	if scope.WorkspaceName != "" {
		vars["workspaceName"] = scope.WorkspaceName
	}

	var result struct {
		Task *wireEntity `json:"findTask"`
	}
	if err := c.Execute(ctx, query, vars, &result); err != nil {
		return models.EntityRef{}, false, err
	}
	if result.Task == nil {
		return models.EntityRef{}, false, nil
	}
	return result.Task.ref(models.EntityTask), true, nil
}
