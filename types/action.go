package types

import (
	"time"

	"github.com/google/uuid"
)

// ActionType is the verb of an object action.
type ActionType string

// Action types.
const (
	ActionCreate     ActionType = "create"
	ActionRead       ActionType = "read"
	ActionUpdate     ActionType = "update"
	ActionDelete     ActionType = "delete"
	ActionGenerate   ActionType = "generate"
	ActionAnalyze    ActionType = "analyze"
	ActionValidate   ActionType = "validate"
	ActionExport     ActionType = "export"
	ActionImport     ActionType = "import"
	ActionStart      ActionType = "start"
	ActionPause      ActionType = "pause"
	ActionResume     ActionType = "resume"
	ActionComplete   ActionType = "complete"
	ActionApprove    ActionType = "approve"
	ActionReject     ActionType = "reject"
	ActionAssign     ActionType = "assign"
	ActionExecute    ActionType = "execute"
	ActionSchedule   ActionType = "schedule"
	ActionPrioritize ActionType = "prioritize"
	ActionParse      ActionType = "parse"
	ActionTransform  ActionType = "transform"
	ActionCalculate  ActionType = "calculate"
	ActionAggregate  ActionType = "aggregate"
	ActionRecord     ActionType = "record"
	ActionLearn      ActionType = "learn"
	ActionAdapt      ActionType = "adapt"
	ActionOptimize   ActionType = "optimize"
	ActionPredict    ActionType = "predict"
	ActionTrack      ActionType = "track"
	ActionReport     ActionType = "report"
	ActionVisualize  ActionType = "visualize"
	ActionNotify     ActionType = "notify"
	ActionCustomize  ActionType = "customize"
	ActionApply      ActionType = "apply"
	ActionRespond    ActionType = "respond"
)

// ObjectType is the kind of object an action operates on.
type ObjectType string

// Object types.
const (
	ObjectDocument            ObjectType = "document"
	ObjectDocumentTemplate    ObjectType = "document_template"
	ObjectDocumentDraft       ObjectType = "document_draft"
	ObjectDocumentSection     ObjectType = "document_section"
	ObjectAcquisition         ObjectType = "acquisition"
	ObjectRequirement         ObjectType = "requirement"
	ObjectVendor              ObjectType = "vendor"
	ObjectContract            ObjectType = "contract"
	ObjectWorkflow            ObjectType = "workflow"
	ObjectWorkflowStep        ObjectType = "workflow_step"
	ObjectApproval            ObjectType = "approval"
	ObjectTask                ObjectType = "task"
	ObjectDataField           ObjectType = "data_field"
	ObjectRegulation          ObjectType = "regulation"
	ObjectCompliance          ObjectType = "compliance"
	ObjectMetric              ObjectType = "metric"
	ObjectUserQuery           ObjectType = "user_query"
	ObjectUserPreference      ObjectType = "user_preference"
	ObjectUserHistory         ObjectType = "user_history"
	ObjectSystemConfiguration ObjectType = "system_configuration"
	ObjectIntegrationEndpoint ObjectType = "integration_endpoint"
	ObjectNotification        ObjectType = "notification"
)

// Priority orders actions; higher values are more urgent.
type Priority int

// Priorities.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Environment is the deployment environment an action runs in.
type Environment string

// Environments.
const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// ActionContext describes who issued an action and where.
type ActionContext struct {
	UserID      string            `json:"user_id"`
	SessionID   string            `json:"session_id"`
	Environment Environment       `json:"environment"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ObjectAction is an expensive operation whose result is cached.
type ObjectAction struct {
	ID         uuid.UUID      `json:"id"`
	Type       ActionType     `json:"type"`
	ObjectType ObjectType     `json:"object_type"`
	ObjectID   string         `json:"object_id"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Context    ActionContext  `json:"context"`
	Priority   Priority       `json:"priority"`
}

// NewObjectAction creates an action with a fresh id and normal priority.
func NewObjectAction(actionType ActionType, objectType ObjectType, objectID string, ctx ActionContext) ObjectAction {
	if ctx.Environment == "" {
		ctx.Environment = EnvProduction
	}
	return ObjectAction{
		ID:         uuid.New(),
		Type:       actionType,
		ObjectType: objectType,
		ObjectID:   objectID,
		Context:    ctx,
		Priority:   PriorityNormal,
	}
}

// ActionStatus is the outcome of an action execution.
type ActionStatus string

// Action statuses.
const (
	StatusPending    ActionStatus = "pending"
	StatusInProgress ActionStatus = "in_progress"
	StatusCompleted  ActionStatus = "completed"
	StatusFailed     ActionStatus = "failed"
	StatusCancelled  ActionStatus = "cancelled"
	StatusTimeout    ActionStatus = "timeout"
)

// ActionResult is the cached outcome of an action. Output is opaque.
type ActionResult struct {
	ActionID   uuid.UUID         `json:"action_id"`
	Status     ActionStatus      `json:"status"`
	OutputType string            `json:"output_type,omitempty"`
	Output     []byte            `json:"output,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Duration   time.Duration     `json:"duration"`
	Errors     []string          `json:"errors,omitempty"`
}

// Failed reports whether the result represents a failed execution.
func (r ActionResult) Failed() bool {
	return r.Status == StatusFailed
}
