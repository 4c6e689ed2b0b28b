package models

// ActionKind names a structured directive an assistant reply can carry.
type ActionKind string

const (
	ActionCreateProject ActionKind = "create_project"
	ActionCreateTask    ActionKind = "create_task"
)

// EntityKind returns the kind of entity the action creates.
func (a ActionKind) EntityKind() EntityKind {
	switch a {
	case ActionCreateProject:
		return EntityProject
	case ActionCreateTask:
		return EntityTask
	default:
		return ""
	}
}

// Directive is a parsed action directive. Exactly one of Project or Task is set,
// matching Action.
type Directive struct {
	Action  ActionKind
	Project *ProjectDirective
	Task    *TaskDirective
}

// Name returns the identifying name of the directive target (project name or task title).
func (d Directive) Name() string {
	switch {
	case d.Project != nil:
		return d.Project.ProjectName
	case d.Task != nil:
		return d.Task.Title
	default:
		return ""
	}
}

// ProjectDirective is the payload of a create_project directive.
type ProjectDirective struct {
	ProjectName   string `json:"project_name"`
	WorkspaceName string `json:"workspace_name"`
	Deadline      string `json:"deadline,omitempty"`
	Description   string `json:"description,omitempty"`
}

// TaskDirective is the payload of a create_task directive.
type TaskDirective struct {
	Title          string   `json:"title"`
	ProjectName    string   `json:"project_name,omitempty"`
	SprintName     string   `json:"sprint_name,omitempty"`
	AssigneeEmail  string   `json:"assignee_email,omitempty"`
	AssigneeName   string   `json:"assignee_name,omitempty"`
	DueDate        string   `json:"due_date,omitempty"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
	Description    string   `json:"description,omitempty"`
}
