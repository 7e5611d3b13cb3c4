// Package store defines the request pipeline's data model and the narrow
// persistence interface every worker depends on. The concrete backing store
// (see sqlstore) is an external collaborator from the core's point of view;
// workers only ever see the Store interface in this package.
package store

import "time"

// RequestState is the pipeline state machine's state, per spec.md §4.0.
type RequestState string

const (
	StateNew                 RequestState = "New"
	StateNeedsClarification  RequestState = "NeedsClarification"
	StateTriaged             RequestState = "Triaged"
	StateArchitectReview     RequestState = "ArchitectReview"
	StateApproved            RequestState = "Approved"
	StateInProgress          RequestState = "InProgress"
	StateDone                RequestState = "Done"
	StateRejected            RequestState = "Rejected"
)

// RequestType classifies the nature of a request.
type RequestType string

const (
	TypeBug         RequestType = "Bug"
	TypeFeature     RequestType = "Feature"
	TypeEnhancement RequestType = "Enhancement"
	TypeQuestion    RequestType = "Question"
)

// Priority is the request's urgency.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// ImplementationStatus tracks the coding-agent session lifecycle.
type ImplementationStatus string

const (
	ImplPending        ImplementationStatus = "Pending"
	ImplWorking        ImplementationStatus = "Working"
	ImplPrOpened       ImplementationStatus = "PrOpened"
	ImplReviewApproved ImplementationStatus = "ReviewApproved"
	ImplPrMerged       ImplementationStatus = "PrMerged"
	ImplFailed         ImplementationStatus = "Failed"
)

// DeploymentStatus tracks the deployment lifecycle after merge.
type DeploymentStatus string

const (
	DeployNone       DeploymentStatus = "None"
	DeployPending    DeploymentStatus = "Pending"
	DeployInProgress DeploymentStatus = "InProgress"
	DeploySucceeded  DeploymentStatus = "Succeeded"
	DeployFailed     DeploymentStatus = "Failed"
)

// TriageDecision is the outcome of a TriageReview.
type TriageDecision string

const (
	TriageApprove TriageDecision = "Approve"
	TriageReject  TriageDecision = "Reject"
	TriageClarify TriageDecision = "Clarify"
)

// ArchitectDecision is the human-gated disposition of an ArchitectReview.
type ArchitectDecision string

const (
	ArchitectPending  ArchitectDecision = "Pending"
	ArchitectApproved ArchitectDecision = "Approved"
	ArchitectRejected ArchitectDecision = "Rejected"
	ArchitectRevised  ArchitectDecision = "Revised"
)

// CodeReviewDecision is the outcome of an automated code review.
type CodeReviewDecision string

const (
	CodeReviewApproved         CodeReviewDecision = "Approved"
	CodeReviewChangesRequested CodeReviewDecision = "ChangesRequested"
	CodeReviewFailed           CodeReviewDecision = "Failed"
)

// Project identifies the code-host repository a Request belongs to.
type Project struct {
	ID          int64  `json:"id"`
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	DisplayName string `json:"displayName"`
	Active      bool   `json:"active"`
}

// Request is the central aggregate driven through the pipeline.
type Request struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	SubmitterName  string `json:"submitterName"`
	SubmitterEmail string `json:"submitterEmail"`
	ProjectID      int64  `json:"projectId"`

	Type     RequestType `json:"type"`
	Priority Priority    `json:"priority"`

	// Bug fields (optional, only meaningful when Type == TypeBug).
	StepsToReproduce string `json:"stepsToReproduce,omitempty"`
	Expected         string `json:"expected,omitempty"`
	Actual           string `json:"actual,omitempty"`

	State RequestState `json:"state"`

	LastTriageAt *time.Time `json:"lastTriageAt,omitempty"`
	TriageCount  int        `json:"triageCount"`

	LastArchitectAt *time.Time `json:"lastArchitectAt,omitempty"`
	ArchitectCount  int        `json:"architectCount"`

	IssueNumber int `json:"issueNumber,omitempty"`

	SessionID             string               `json:"sessionId,omitempty"`
	PrNumber              int                  `json:"prNumber,omitempty"`
	PrURL                 string               `json:"prUrl,omitempty"`
	BranchName            string               `json:"branchName,omitempty"`
	TriggeredAt           *time.Time           `json:"triggeredAt,omitempty"`
	CompletedAt           *time.Time           `json:"completedAt,omitempty"`
	ImplementationStatus  ImplementationStatus `json:"implementationStatus,omitempty"`

	DeploymentStatus     DeploymentStatus `json:"deploymentStatus"`
	DeploymentRunID      string           `json:"deploymentRunId,omitempty"`
	DeployedAt           *time.Time       `json:"deployedAt,omitempty"`
	DeploymentRetryCount int              `json:"deploymentRetryCount"`
	BranchDeleted        bool             `json:"branchDeleted"`

	StallNotifiedAt *time.Time `json:"stallNotifiedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Comment is a human- or agent-authored note attached to a Request.
type Comment struct {
	ID        int64     `json:"id"`
	RequestID int64     `json:"requestId"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	IsAgent   bool      `json:"isAgent"`
	ReviewRef string    `json:"reviewRef,omitempty"` // e.g. "triage:42", "architect:7"
	CreatedAt time.Time `json:"createdAt"`
}

// Attachment is a binary blob uploaded against a Request.
type Attachment struct {
	ID          int64  `json:"id"`
	RequestID   int64  `json:"requestId"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TriageReview is the structured artifact produced by TriageWorker.
type TriageReview struct {
	ID                     int64          `json:"id"`
	RequestID              int64          `json:"requestId"`
	Decision               TriageDecision `json:"decision"`
	Reasoning              string         `json:"reasoning"`
	AlignmentScore         int            `json:"alignmentScore"`
	CompletenessScore      int            `json:"completenessScore"`
	SalesAlignmentScore    int            `json:"salesAlignmentScore"`
	ClarificationQuestions []string       `json:"clarificationQuestions,omitempty"`
	SuggestedPriority      Priority       `json:"suggestedPriority,omitempty"`
	Tags                   []string       `json:"tags,omitempty"`
	IsDuplicate            bool           `json:"isDuplicate"`
	DuplicateOfRequestID   int64          `json:"duplicateOfRequestId,omitempty"`
	PromptTokens           int            `json:"promptTokens"`
	CompletionTokens       int            `json:"completionTokens"`
	Model                  string         `json:"model"`
	Duration               time.Duration  `json:"duration"`
	CreatedAt              time.Time      `json:"createdAt"`
}

// ImpactedFile describes one existing file the architect solution touches.
type ImpactedFile struct {
	Path                 string `json:"path"`
	Action               string `json:"action"` // "modify" | "delete"
	Description          string `json:"description"`
	EstimatedLinesChanged int   `json:"estimatedLinesChanged"`
}

// NewFile describes one file the architect solution introduces.
type NewFile struct {
	Path            string `json:"path"`
	Description     string `json:"description"`
	EstimatedLines  int    `json:"estimatedLines"`
}

// DataMigration describes any required data migration.
type DataMigration struct {
	Required    bool     `json:"required"`
	Description string   `json:"description,omitempty"`
	Steps       []string `json:"steps,omitempty"`
}

// DependencyChange records an added/removed/upgraded package dependency.
type DependencyChange struct {
	Package string `json:"package"`
	Action  string `json:"action"` // "add" | "remove" | "upgrade"
	Version string `json:"version,omitempty"`
	Reason  string `json:"reason"`
}

// Risk describes a risk the proposed solution carries.
type Risk struct {
	Description string `json:"description"`
	Severity    string `json:"severity"` // "low" | "medium" | "high"
	Mitigation  string `json:"mitigation,omitempty"`
}

// SolutionDocument is the full structured architect proposal, §4.2.
type SolutionDocument struct {
	SolutionSummary       string              `json:"solutionSummary"`
	Approach              string              `json:"approach"`
	ImpactedFiles         []ImpactedFile      `json:"impactedFiles"`
	NewFiles              []NewFile           `json:"newFiles"`
	DataMigration         DataMigration       `json:"dataMigration"`
	BreakingChanges       []string            `json:"breakingChanges,omitempty"`
	DependencyChanges     []DependencyChange  `json:"dependencyChanges,omitempty"`
	Risks                 []Risk              `json:"risks,omitempty"`
	EstimatedComplexity   string              `json:"estimatedComplexity"`
	EstimatedEffort       string              `json:"estimatedEffort"`
	ImplementationOrder   []string            `json:"implementationOrder,omitempty"`
	TestingNotes          string              `json:"testingNotes,omitempty"`
	ArchitecturalNotes    string              `json:"architecturalNotes,omitempty"`
	ClarificationQuestions []string           `json:"clarificationQuestions,omitempty"`

	// UnknownPaths holds paths referenced in ImpactedFiles that did not
	// resolve against the repository map at write time. Annotated, not
	// fatal, per spec.md §4.2.
	UnknownPaths []string `json:"unknownPaths,omitempty"`
}

// ArchitectReview is the structured artifact produced by ArchitectWorker.
type ArchitectReview struct {
	ID                    int64             `json:"id"`
	RequestID             int64             `json:"requestId"`
	SolutionSummary       string            `json:"solutionSummary"`
	Approach              string            `json:"approach"`
	Solution              SolutionDocument  `json:"solution"`
	EstimatedComplexity   string            `json:"estimatedComplexity"`
	EstimatedEffort       string            `json:"estimatedEffort"`
	FilesAnalyzed         int               `json:"filesAnalyzed"`
	PathsRead             []string          `json:"pathsRead"`
	Step1PromptTokens     int               `json:"step1PromptTokens"`
	Step1CompletionTokens int               `json:"step1CompletionTokens"`
	Step2PromptTokens     int               `json:"step2PromptTokens"`
	Step2CompletionTokens int               `json:"step2CompletionTokens"`
	Model                 string            `json:"model"`
	Duration              time.Duration     `json:"duration"`
	Decision              ArchitectDecision `json:"decision"`
	HumanFeedback         string            `json:"humanFeedback,omitempty"`
	ApprovedBy            string            `json:"approvedBy,omitempty"`
	ApprovedAt            *time.Time        `json:"approvedAt,omitempty"`
	CreatedAt             time.Time         `json:"createdAt"`
}

// CodeReview is the structured artifact produced by CodeReviewWorker.
type CodeReview struct {
	ID                     int64              `json:"id"`
	RequestID              int64              `json:"requestId"`
	PrNumber               int                `json:"prNumber"`
	Decision               CodeReviewDecision `json:"decision"`
	Summary                string             `json:"summary"`
	DesignCompliance       bool               `json:"designCompliance"`
	DesignComplianceNotes  string             `json:"designComplianceNotes"`
	SecurityPass           bool               `json:"securityPass"`
	SecurityNotes          string             `json:"securityNotes"`
	CodingStandardsPass    bool               `json:"codingStandardsPass"`
	CodingStandardsNotes   string             `json:"codingStandardsNotes"`
	QualityScore           int                `json:"qualityScore"`
	FilesChanged           int                `json:"filesChanged"`
	LinesAdded             int                `json:"linesAdded"`
	LinesRemoved           int                `json:"linesRemoved"`
	PromptTokens           int                `json:"promptTokens"`
	CompletionTokens       int                `json:"completionTokens"`
	Model                  string             `json:"model"`
	Duration               time.Duration      `json:"duration"`
	CreatedAt              time.Time          `json:"createdAt"`
}

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
