package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgepipeline/core/store"
)

// Store implements store.Store over a *DB.
type Store struct {
	db *DB
}

// NewStore creates a new SQLite-backed store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

var _ store.Store = (*Store)(nil)

// --- Projects ---

func (s *Store) GetProject(ctx context.Context, id int64) (*store.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, owner, repo, display_name, active FROM projects WHERE id = ?`, id)
	var p store.Project
	var active int
	if err := row.Scan(&p.ID, &p.Owner, &p.Repo, &p.DisplayName, &active); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	p.Active = active != 0
	return &p, nil
}

func (s *Store) ListProjectSiblings(ctx context.Context, projectID int64, limit int) ([]store.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests WHERE project_id = ? ORDER BY created_at DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list project siblings: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

// --- Requests ---

const requestColumns = `
	id, title, description, submitter_name, submitter_email, project_id,
	type, priority, steps_to_reproduce, expected, actual, state,
	last_triage_at, triage_count, last_architect_at, architect_count,
	issue_number, session_id, pr_number, pr_url, branch_name,
	triggered_at, completed_at, implementation_status,
	deployment_status, deployment_run_id, deployed_at, deployment_retry_count,
	branch_deleted, stall_notified_at, created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanRequest(row scannable) (*store.Request, error) {
	var r store.Request
	var (
		lastTriageAt, lastArchitectAt, triggeredAt, completedAt          sql.NullTime
		deployedAt, stallNotifiedAt                                      sql.NullTime
		issueNumber, prNumber                                            sql.NullInt64
		sessionID, prURL, branchName, implStatus, deploymentRunID        sql.NullString
		branchDeleted                                                    int
	)
	err := row.Scan(
		&r.ID, &r.Title, &r.Description, &r.SubmitterName, &r.SubmitterEmail, &r.ProjectID,
		&r.Type, &r.Priority, &r.StepsToReproduce, &r.Expected, &r.Actual, &r.State,
		&lastTriageAt, &r.TriageCount, &lastArchitectAt, &r.ArchitectCount,
		&issueNumber, &sessionID, &prNumber, &prURL, &branchName,
		&triggeredAt, &completedAt, &implStatus,
		&r.DeploymentStatus, &deploymentRunID, &deployedAt, &r.DeploymentRetryCount,
		&branchDeleted, &stallNotifiedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastTriageAt.Valid {
		t := lastTriageAt.Time
		r.LastTriageAt = &t
	}
	if lastArchitectAt.Valid {
		t := lastArchitectAt.Time
		r.LastArchitectAt = &t
	}
	if triggeredAt.Valid {
		t := triggeredAt.Time
		r.TriggeredAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	if deployedAt.Valid {
		t := deployedAt.Time
		r.DeployedAt = &t
	}
	if stallNotifiedAt.Valid {
		t := stallNotifiedAt.Time
		r.StallNotifiedAt = &t
	}
	r.IssueNumber = int(issueNumber.Int64)
	r.SessionID = sessionID.String
	r.PrNumber = int(prNumber.Int64)
	r.PrURL = prURL.String
	r.BranchName = branchName.String
	r.ImplementationStatus = store.ImplementationStatus(implStatus.String)
	r.DeploymentRunID = deploymentRunID.String
	r.BranchDeleted = branchDeleted != 0
	return &r, nil
}

func scanRequests(rows *sql.Rows) ([]store.Request, error) {
	var out []store.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) GetRequest(ctx context.Context, id int64) (*store.Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

func (s *Store) CreateRequest(ctx context.Context, r *store.Request) (int64, error) {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.State == "" {
		r.State = store.StateNew
	}
	if r.DeploymentStatus == "" {
		r.DeploymentStatus = store.DeployNone
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (
			title, description, submitter_name, submitter_email, project_id,
			type, priority, steps_to_reproduce, expected, actual, state,
			triage_count, architect_count, issue_number,
			deployment_status, deployment_retry_count, branch_deleted,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.Title, r.Description, r.SubmitterName, r.SubmitterEmail, r.ProjectID,
		r.Type, r.Priority, r.StepsToReproduce, r.Expected, r.Actual, r.State,
		r.TriageCount, r.ArchitectCount, nullInt(r.IssueNumber),
		r.DeploymentStatus, r.DeploymentRetryCount, boolToInt(r.BranchDeleted),
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create request: last insert id: %w", err)
	}
	r.ID = id
	return id, nil
}

// UpdateRequest writes r with an optimistic-concurrency check on updated_at.
func (s *Store) UpdateRequest(ctx context.Context, r *store.Request) error {
	prevUpdatedAt := r.UpdatedAt
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET
			title=?, description=?, submitter_name=?, submitter_email=?, project_id=?,
			type=?, priority=?, steps_to_reproduce=?, expected=?, actual=?, state=?,
			last_triage_at=?, triage_count=?, last_architect_at=?, architect_count=?,
			issue_number=?, session_id=?, pr_number=?, pr_url=?, branch_name=?,
			triggered_at=?, completed_at=?, implementation_status=?,
			deployment_status=?, deployment_run_id=?, deployed_at=?, deployment_retry_count=?,
			branch_deleted=?, stall_notified_at=?, updated_at=?
		WHERE id=? AND updated_at=?`,
		r.Title, r.Description, r.SubmitterName, r.SubmitterEmail, r.ProjectID,
		r.Type, r.Priority, r.StepsToReproduce, r.Expected, r.Actual, r.State,
		nullTime(r.LastTriageAt), r.TriageCount, nullTime(r.LastArchitectAt), r.ArchitectCount,
		nullInt(r.IssueNumber), nullStr(r.SessionID), nullInt(r.PrNumber), nullStr(r.PrURL), nullStr(r.BranchName),
		nullTime(r.TriggeredAt), nullTime(r.CompletedAt), nullStr(string(r.ImplementationStatus)),
		r.DeploymentStatus, nullStr(r.DeploymentRunID), nullTime(r.DeployedAt), r.DeploymentRetryCount,
		boolToInt(r.BranchDeleted), nullTime(r.StallNotifiedAt), now,
		r.ID, prevUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update request %d: %w", r.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update request %d: rows affected: %w", r.ID, err)
	}
	if affected == 0 {
		return store.ErrStaleWrite
	}
	r.UpdatedAt = now
	return nil
}

func (s *Store) SelectForTriage(ctx context.Context, maxTriages, limit int) ([]store.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM requests
		WHERE (state = ? AND triage_count = 0)
		   OR (state = ? AND triage_count < ? AND EXISTS (
				SELECT 1 FROM comments c WHERE c.request_id = requests.id
				  AND c.is_agent = 0
				  AND c.created_at > COALESCE(requests.last_triage_at, '0001-01-01')
			))
		ORDER BY created_at ASC LIMIT ?`,
		store.StateNew, store.StateNeedsClarification, maxTriages, limit)
	if err != nil {
		return nil, fmt.Errorf("select for triage: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *Store) SelectForArchitect(ctx context.Context, limit int) ([]store.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM requests
		WHERE (state = ? AND architect_count = 0)
		   OR (state = ? AND EXISTS (
				SELECT 1 FROM comments c WHERE c.request_id = requests.id
				  AND c.is_agent = 0
				  AND c.created_at > COALESCE(requests.last_architect_at, '0001-01-01')
			))
		ORDER BY created_at ASC LIMIT ?`,
		store.StateTriaged, store.StateArchitectReview, limit)
	if err != nil {
		return nil, fmt.Errorf("select for architect: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *Store) SelectForImplementationTrigger(ctx context.Context, limit int) ([]store.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM requests
		WHERE state = ? AND session_id IS NULL AND issue_number IS NOT NULL
		ORDER BY updated_at ASC LIMIT ?`, store.StateApproved, limit)
	if err != nil {
		return nil, fmt.Errorf("select for implementation trigger: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *Store) SelectActiveSessions(ctx context.Context) ([]store.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM requests
		WHERE session_id IS NOT NULL
		  AND implementation_status NOT IN (?, ?)
		ORDER BY updated_at ASC`, store.ImplPrMerged, store.ImplFailed)
	if err != nil {
		return nil, fmt.Errorf("select active sessions: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *Store) SelectForCodeReview(ctx context.Context, limit int) ([]store.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM requests
		WHERE implementation_status = ?
		  AND pr_number IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM code_reviews cr
			WHERE cr.request_id = requests.id AND cr.pr_number = requests.pr_number
		  )
		ORDER BY updated_at ASC LIMIT ?`, store.ImplPrOpened, limit)
	if err != nil {
		return nil, fmt.Errorf("select for code review: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *Store) SelectByState(ctx context.Context, state store.RequestState) ([]store.Request, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE state = ? ORDER BY updated_at ASC`, state)
	if err != nil {
		return nil, fmt.Errorf("select by state: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *Store) ActiveImplementationCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM requests WHERE implementation_status IN (?, ?)`,
		store.ImplPending, store.ImplWorking).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("active implementation count: %w", err)
	}
	return n, nil
}

// --- Comments ---

func (s *Store) AddComment(ctx context.Context, c *store.Comment) (int64, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (request_id, author, content, is_agent, review_ref, created_at)
		VALUES (?,?,?,?,?,?)`,
		c.RequestID, c.Author, c.Content, boolToInt(c.IsAgent), nullStr(c.ReviewRef), c.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("add comment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add comment: last insert id: %w", err)
	}
	c.ID = id
	return id, nil
}

func (s *Store) ListComments(ctx context.Context, requestID int64) ([]store.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, author, content, is_agent, review_ref, created_at
		FROM comments WHERE request_id = ? ORDER BY created_at ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var out []store.Comment
	for rows.Next() {
		var c store.Comment
		var isAgent int
		var reviewRef sql.NullString
		if err := rows.Scan(&c.ID, &c.RequestID, &c.Author, &c.Content, &isAgent, &reviewRef, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.IsAgent = isAgent != 0
		c.ReviewRef = reviewRef.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) LatestSubmitterCommentAfter(ctx context.Context, requestID int64, after *time.Time) (*store.Comment, bool, error) {
	cutoff := time.Time{}
	if after != nil {
		cutoff = *after
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, author, content, is_agent, review_ref, created_at
		FROM comments WHERE request_id = ? AND is_agent = 0 AND created_at > ?
		ORDER BY created_at DESC LIMIT 1`, requestID, cutoff)

	var c store.Comment
	var isAgent int
	var reviewRef sql.NullString
	err := row.Scan(&c.ID, &c.RequestID, &c.Author, &c.Content, &isAgent, &reviewRef, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("latest submitter comment: %w", err)
	}
	c.IsAgent = false
	c.ReviewRef = reviewRef.String
	return &c, true, nil
}

func (s *Store) LatestAgentComment(ctx context.Context, requestID int64) (*store.Comment, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, author, content, is_agent, review_ref, created_at
		FROM comments WHERE request_id = ? AND is_agent = 1
		ORDER BY created_at DESC LIMIT 1`, requestID)

	var c store.Comment
	var isAgent int
	var reviewRef sql.NullString
	err := row.Scan(&c.ID, &c.RequestID, &c.Author, &c.Content, &isAgent, &reviewRef, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("latest agent comment: %w", err)
	}
	c.IsAgent = true
	c.ReviewRef = reviewRef.String
	return &c, true, nil
}

// --- Attachments ---

func (s *Store) ListAttachments(ctx context.Context, requestID int64) ([]store.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, filename, content_type, data, created_at
		FROM attachments WHERE request_id = ? ORDER BY created_at ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []store.Attachment
	for rows.Next() {
		var a store.Attachment
		if err := rows.Scan(&a.ID, &a.RequestID, &a.Filename, &a.ContentType, &a.Data, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Triage reviews ---

func (s *Store) AddTriageReview(ctx context.Context, rv *store.TriageReview) (int64, error) {
	if rv.CreatedAt.IsZero() {
		rv.CreatedAt = time.Now().UTC()
	}
	tags, _ := json.Marshal(rv.Tags)
	clarifications, _ := json.Marshal(rv.ClarificationQuestions)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO triage_reviews (
			request_id, decision, reasoning, alignment_score, completeness_score,
			sales_alignment_score, suggested_priority, tags, prompt_tokens,
			completion_tokens, model, duration_ms, created_at,
			clarification_questions, is_duplicate, duplicate_of_request_id
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rv.RequestID, rv.Decision, rv.Reasoning, rv.AlignmentScore, rv.CompletenessScore,
		rv.SalesAlignmentScore, nullStr(string(rv.SuggestedPriority)), string(tags), rv.PromptTokens,
		rv.CompletionTokens, rv.Model, rv.Duration.Milliseconds(), rv.CreatedAt,
		string(clarifications), boolToInt(rv.IsDuplicate), nullInt64(rv.DuplicateOfRequestID),
	)
	if err != nil {
		return 0, fmt.Errorf("add triage review: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add triage review: last insert id: %w", err)
	}
	rv.ID = id
	return id, nil
}

func (s *Store) LatestTriageReview(ctx context.Context, requestID int64) (*store.TriageReview, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, decision, reasoning, alignment_score, completeness_score,
			sales_alignment_score, suggested_priority, tags, prompt_tokens,
			completion_tokens, model, duration_ms, created_at,
			clarification_questions, is_duplicate, duplicate_of_request_id
		FROM triage_reviews WHERE request_id = ? ORDER BY created_at DESC LIMIT 1`, requestID)
	return scanTriageReview(row)
}

func (s *Store) GetTriageReview(ctx context.Context, id int64) (*store.TriageReview, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, decision, reasoning, alignment_score, completeness_score,
			sales_alignment_score, suggested_priority, tags, prompt_tokens,
			completion_tokens, model, duration_ms, created_at,
			clarification_questions, is_duplicate, duplicate_of_request_id
		FROM triage_reviews WHERE id = ?`, id)
	rv, ok, err := scanTriageReview(row)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return rv, nil
}

func scanTriageReview(row *sql.Row) (*store.TriageReview, bool, error) {
	var rv store.TriageReview
	var suggestedPriority sql.NullString
	var tags, clarifications sql.NullString
	var durationMs int64
	var isDuplicate int
	var duplicateOf sql.NullInt64
	err := row.Scan(&rv.ID, &rv.RequestID, &rv.Decision, &rv.Reasoning, &rv.AlignmentScore, &rv.CompletenessScore,
		&rv.SalesAlignmentScore, &suggestedPriority, &tags, &rv.PromptTokens,
		&rv.CompletionTokens, &rv.Model, &durationMs, &rv.CreatedAt,
		&clarifications, &isDuplicate, &duplicateOf)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("scan triage review: %w", err)
	}
	rv.SuggestedPriority = store.Priority(suggestedPriority.String)
	rv.Duration = time.Duration(durationMs) * time.Millisecond
	_ = json.Unmarshal([]byte(tags.String), &rv.Tags)
	_ = json.Unmarshal([]byte(clarifications.String), &rv.ClarificationQuestions)
	rv.IsDuplicate = isDuplicate != 0
	rv.DuplicateOfRequestID = duplicateOf.Int64
	return &rv, true, nil
}

func (s *Store) TokenUsageSince(ctx context.Context, kind store.ReviewKind, since time.Time) (int, error) {
	table, promptCol, completionCol := reviewTableFor(kind)
	query := fmt.Sprintf(`SELECT COALESCE(SUM(%s), 0) + COALESCE(SUM(%s), 0) FROM %s WHERE created_at >= ?`,
		promptCol, completionCol, table)
	var total int
	if err := s.db.QueryRowContext(ctx, query, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("token usage since: %w", err)
	}
	return total, nil
}

func reviewTableFor(kind store.ReviewKind) (table, promptCol, completionCol string) {
	switch kind {
	case store.ReviewKindArchitect:
		return "architect_reviews", "step1_prompt_tokens + step2_prompt_tokens", "step1_completion_tokens + step2_completion_tokens"
	case store.ReviewKindCodeReview:
		return "code_reviews", "prompt_tokens", "completion_tokens"
	default:
		return "triage_reviews", "prompt_tokens", "completion_tokens"
	}
}

// --- Architect reviews ---

func (s *Store) AddArchitectReview(ctx context.Context, rv *store.ArchitectReview) (int64, error) {
	if rv.CreatedAt.IsZero() {
		rv.CreatedAt = time.Now().UTC()
	}
	id, err := s.upsertArchitectReview(ctx, rv, true)
	return id, err
}

func (s *Store) UpdateArchitectReview(ctx context.Context, rv *store.ArchitectReview) error {
	_, err := s.upsertArchitectReview(ctx, rv, false)
	return err
}

func (s *Store) upsertArchitectReview(ctx context.Context, rv *store.ArchitectReview, insert bool) (int64, error) {
	solutionJSON, err := json.Marshal(rv.Solution)
	if err != nil {
		return 0, fmt.Errorf("marshal solution: %w", err)
	}
	pathsRead, _ := json.Marshal(rv.PathsRead)

	if insert {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO architect_reviews (
				request_id, solution_summary, approach, solution_json,
				estimated_complexity, estimated_effort, files_analyzed, paths_read,
				step1_prompt_tokens, step1_completion_tokens, step2_prompt_tokens, step2_completion_tokens,
				model, duration_ms, decision, human_feedback, approved_by, approved_at, created_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			rv.RequestID, rv.SolutionSummary, rv.Approach, string(solutionJSON),
			rv.EstimatedComplexity, rv.EstimatedEffort, rv.FilesAnalyzed, string(pathsRead),
			rv.Step1PromptTokens, rv.Step1CompletionTokens, rv.Step2PromptTokens, rv.Step2CompletionTokens,
			rv.Model, rv.Duration.Milliseconds(), rv.Decision, nullStr(rv.HumanFeedback), nullStr(rv.ApprovedBy), nullTime(rv.ApprovedAt), rv.CreatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("add architect review: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("add architect review: last insert id: %w", err)
		}
		rv.ID = id
		return id, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE architect_reviews SET
			solution_summary=?, approach=?, solution_json=?, estimated_complexity=?, estimated_effort=?,
			files_analyzed=?, paths_read=?, decision=?, human_feedback=?, approved_by=?, approved_at=?
		WHERE id=?`,
		rv.SolutionSummary, rv.Approach, string(solutionJSON), rv.EstimatedComplexity, rv.EstimatedEffort,
		rv.FilesAnalyzed, string(pathsRead), rv.Decision, nullStr(rv.HumanFeedback), nullStr(rv.ApprovedBy), nullTime(rv.ApprovedAt),
		rv.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("update architect review: %w", err)
	}
	return rv.ID, nil
}

func scanArchitectReview(row scannable) (*store.ArchitectReview, error) {
	var rv store.ArchitectReview
	var solutionJSON, pathsRead string
	var humanFeedback, approvedBy sql.NullString
	var approvedAt sql.NullTime
	var durationMs int64

	err := row.Scan(&rv.ID, &rv.RequestID, &rv.SolutionSummary, &rv.Approach, &solutionJSON,
		&rv.EstimatedComplexity, &rv.EstimatedEffort, &rv.FilesAnalyzed, &pathsRead,
		&rv.Step1PromptTokens, &rv.Step1CompletionTokens, &rv.Step2PromptTokens, &rv.Step2CompletionTokens,
		&rv.Model, &durationMs, &rv.Decision, &humanFeedback, &approvedBy, &approvedAt, &rv.CreatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(solutionJSON), &rv.Solution)
	_ = json.Unmarshal([]byte(pathsRead), &rv.PathsRead)
	rv.Duration = time.Duration(durationMs) * time.Millisecond
	rv.HumanFeedback = humanFeedback.String
	rv.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		t := approvedAt.Time
		rv.ApprovedAt = &t
	}
	return &rv, nil
}

const architectReviewColumns = `
	id, request_id, solution_summary, approach, solution_json,
	estimated_complexity, estimated_effort, files_analyzed, paths_read,
	step1_prompt_tokens, step1_completion_tokens, step2_prompt_tokens, step2_completion_tokens,
	model, duration_ms, decision, human_feedback, approved_by, approved_at, created_at`

func (s *Store) GetArchitectReview(ctx context.Context, id int64) (*store.ArchitectReview, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+architectReviewColumns+` FROM architect_reviews WHERE id = ?`, id)
	rv, err := scanArchitectReview(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get architect review: %w", err)
	}
	return rv, nil
}

func (s *Store) LatestArchitectReview(ctx context.Context, requestID int64) (*store.ArchitectReview, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+architectReviewColumns+` FROM architect_reviews
		WHERE request_id = ? ORDER BY created_at DESC LIMIT 1`, requestID)
	rv, err := scanArchitectReview(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("latest architect review: %w", err)
	}
	return rv, true, nil
}

func (s *Store) LatestApprovedArchitectReview(ctx context.Context, requestID int64) (*store.ArchitectReview, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+architectReviewColumns+` FROM architect_reviews
		WHERE request_id = ? AND decision = ? ORDER BY created_at DESC LIMIT 1`, requestID, store.ArchitectApproved)
	rv, err := scanArchitectReview(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("latest approved architect review: %w", err)
	}
	return rv, true, nil
}

// --- Code reviews ---

func (s *Store) AddCodeReview(ctx context.Context, rv *store.CodeReview) (int64, error) {
	if rv.CreatedAt.IsZero() {
		rv.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO code_reviews (
			request_id, pr_number, decision, summary, design_compliance, design_compliance_notes,
			security_pass, security_notes, coding_standards_pass, coding_standards_notes,
			quality_score, files_changed, lines_added, lines_removed,
			prompt_tokens, completion_tokens, model, duration_ms, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rv.RequestID, rv.PrNumber, rv.Decision, rv.Summary, boolToInt(rv.DesignCompliance), rv.DesignComplianceNotes,
		boolToInt(rv.SecurityPass), rv.SecurityNotes, boolToInt(rv.CodingStandardsPass), rv.CodingStandardsNotes,
		rv.QualityScore, rv.FilesChanged, rv.LinesAdded, rv.LinesRemoved,
		rv.PromptTokens, rv.CompletionTokens, rv.Model, rv.Duration.Milliseconds(), rv.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("add code review: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add code review: last insert id: %w", err)
	}
	rv.ID = id
	return id, nil
}

func (s *Store) LatestCodeReviewForPR(ctx context.Context, requestID int64, prNumber int) (*store.CodeReview, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, pr_number, decision, summary, design_compliance, design_compliance_notes,
			security_pass, security_notes, coding_standards_pass, coding_standards_notes,
			quality_score, files_changed, lines_added, lines_removed,
			prompt_tokens, completion_tokens, model, duration_ms, created_at
		FROM code_reviews WHERE request_id = ? AND pr_number = ? ORDER BY created_at DESC LIMIT 1`,
		requestID, prNumber)

	var rv store.CodeReview
	var designCompliance, securityPass, codingStandardsPass int
	var durationMs int64
	err := row.Scan(&rv.ID, &rv.RequestID, &rv.PrNumber, &rv.Decision, &rv.Summary, &designCompliance, &rv.DesignComplianceNotes,
		&securityPass, &rv.SecurityNotes, &codingStandardsPass, &rv.CodingStandardsNotes,
		&rv.QualityScore, &rv.FilesChanged, &rv.LinesAdded, &rv.LinesRemoved,
		&rv.PromptTokens, &rv.CompletionTokens, &rv.Model, &durationMs, &rv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("latest code review for pr: %w", err)
	}
	rv.DesignCompliance = designCompliance != 0
	rv.SecurityPass = securityPass != 0
	rv.CodingStandardsPass = codingStandardsPass != 0
	rv.Duration = time.Duration(durationMs) * time.Millisecond
	return &rv, true, nil
}

// --- Config ---

func (s *Store) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config_values WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get config value %q: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config_values (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set config value %q: %w", key, err)
	}
	return nil
}

// --- helpers ---

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullInt64(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
