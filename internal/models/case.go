package models

import "time"

type CaseState string

const (
	CaseOpen              CaseState = "OPEN"
	CaseUnderReview       CaseState = "UNDER_REVIEW"
	CaseResolvedSustained CaseState = "RESOLVED_SUSTAINED"
	CaseResolvedDismissed CaseState = "RESOLVED_DISMISSED"
	CaseAppealed          CaseState = "APPEALED"
	CaseRestoration       CaseState = "RESTORATION"
	CaseClosed            CaseState = "CLOSED"
)

func (s CaseState) Terminal() bool {
	return s == CaseResolvedDismissed || s == CaseClosed
}

type CaseAction string

const (
	ActionAssignReviewer      CaseAction = "assign_reviewer"
	ActionSustain             CaseAction = "sustain"
	ActionDismiss             CaseAction = "dismiss"
	ActionFileAppeal          CaseAction = "file_appeal"
	ActionGrantAppeal         CaseAction = "grant_appeal"
	ActionDenyAppeal          CaseAction = "deny_appeal"
	ActionCompleteRestoration CaseAction = "complete_restoration"
	ActionExpireAppealWindow  CaseAction = "expire_appeal_window"

	// Audited actions that do not change state.
	ActionOpen                  CaseAction = "open"
	ActionCreateRestorationPlan CaseAction = "create_restoration_plan"
	ActionRebindEvidence        CaseAction = "rebind_evidence"
	ActionAttachEvidence        CaseAction = "attach_evidence"
)

var caseTransitions = map[CaseState]map[CaseAction]CaseState{
	CaseOpen: {
		ActionAssignReviewer: CaseUnderReview,
	},
	CaseUnderReview: {
		ActionSustain: CaseResolvedSustained,
		ActionDismiss: CaseResolvedDismissed,
	},
	CaseResolvedSustained: {
		ActionFileAppeal:         CaseAppealed,
		ActionExpireAppealWindow: CaseClosed,
	},
	CaseAppealed: {
		ActionGrantAppeal: CaseRestoration,
		ActionDenyAppeal:  CaseClosed,
	},
	CaseRestoration: {
		ActionCompleteRestoration: CaseClosed,
	},
}

// NextCaseState returns the state reached by applying action in from.
func NextCaseState(from CaseState, action CaseAction) (CaseState, bool) {
	to, ok := caseTransitions[from][action]
	return to, ok
}

type Decision struct {
	Outcome   CaseState `json:"outcome"`
	Rationale string    `json:"rationale"`
	DecidedBy string    `json:"decided_by"`
	DecidedAt time.Time `json:"decided_at"`
}

type AppealStatus string

const (
	AppealPending AppealStatus = "pending"
	AppealGranted AppealStatus = "granted"
	AppealDenied  AppealStatus = "denied"
)

type Appeal struct {
	ID         string       `json:"id"`
	Status     AppealStatus `json:"status"`
	Reason     string       `json:"reason"`
	FiledBy    string       `json:"filed_by"`
	FiledAt    time.Time    `json:"filed_at"`
	ResolvedBy string       `json:"resolved_by,omitempty"`
	Resolution string       `json:"resolution,omitempty"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}

type RestorationStatus string

const (
	RestorationActive    RestorationStatus = "active"
	RestorationCompleted RestorationStatus = "completed"
)

type RestorationPlan struct {
	ID          string            `json:"id"`
	Status      RestorationStatus `json:"status"`
	Steps       []string          `json:"steps"`
	CreatedBy   string            `json:"created_by"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// ViolationCase is created only from a flagged verdict.
type ViolationCase struct {
	ID                      string           `json:"id" db:"id"`
	SubjectID               string           `json:"subject_id" db:"subject_id"`
	SubjectKind             SubjectKind      `json:"subject_kind" db:"subject_kind"`
	VerdictID               string           `json:"verdict_id" db:"verdict_id"`
	State                   CaseState        `json:"state" db:"state"`
	Version                 int64            `json:"version" db:"version"`
	ReviewerID              string           `json:"reviewer_id,omitempty" db:"reviewer_id"`
	Decision                *Decision        `json:"decision,omitempty" db:"decision"`
	AppealDeadline          *time.Time       `json:"appeal_deadline,omitempty" db:"appeal_deadline"`
	EvidencePackageID       string           `json:"evidence_package_id" db:"evidence_package_id"`
	SupplementaryPackageIDs []string         `json:"supplementary_package_ids,omitempty" db:"supplementary_package_ids"`
	Appeal                  *Appeal          `json:"appeal,omitempty" db:"appeal"`
	Restoration             *RestorationPlan `json:"restoration,omitempty" db:"restoration"`
	CreatedAt               time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy; services mutate clones and persist them with a version check.
func (c *ViolationCase) Clone() *ViolationCase {
	cp := *c
	cp.SupplementaryPackageIDs = append([]string(nil), c.SupplementaryPackageIDs...)
	if c.Decision != nil {
		d := *c.Decision
		cp.Decision = &d
	}
	if c.AppealDeadline != nil {
		t := *c.AppealDeadline
		cp.AppealDeadline = &t
	}
	if c.Appeal != nil {
		a := *c.Appeal
		if c.Appeal.ResolvedAt != nil {
			t := *c.Appeal.ResolvedAt
			a.ResolvedAt = &t
		}
		cp.Appeal = &a
	}
	if c.Restoration != nil {
		r := *c.Restoration
		r.Steps = append([]string(nil), c.Restoration.Steps...)
		if c.Restoration.CompletedAt != nil {
			t := *c.Restoration.CompletedAt
			r.CompletedAt = &t
		}
		cp.Restoration = &r
	}
	return &cp
}

// AuditEntry is append-only.
type AuditEntry struct {
	ID                string     `json:"id" db:"id"`
	CaseID            string     `json:"case_id" db:"case_id"`
	Actor             string     `json:"actor" db:"actor"`
	Action            CaseAction `json:"action" db:"action"`
	FromState         CaseState  `json:"from_state" db:"from_state"`
	ToState           CaseState  `json:"to_state" db:"to_state"`
	Rationale         string     `json:"rationale,omitempty" db:"rationale"`
	EvidencePackageID string     `json:"evidence_package_id,omitempty" db:"evidence_package_id"`
	At                time.Time  `json:"at" db:"at"`
}
