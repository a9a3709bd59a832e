package main

import "time"

// Raw lifecycle statuses as stored on Studies and StudyStatuses.
const (
	rawCreated      = "CREATED"
	rawIQCReview    = "IQC_REVIEW"
	rawIQCCompleted = "IQC_COMPLETED"
	rawCompleted    = "COMPLETED"
	rawMerged       = "MERGED"
	rawDeleted      = "DELETED"
	rawReported     = "REPORTED"
)

type FinalStatus string

const (
	StatusPending         FinalStatus = "Pending"
	StatusCompleted       FinalStatus = "Completed"
	StatusReworkCompleted FinalStatus = "Rework Completed"
	StatusDeleted         FinalStatus = rawDeleted
)

type Bucket string

const (
	BucketUnknown     Bucket = ""
	BucketHIL         Bucket = "HIL"
	BucketRadiologist Bucket = "Radiologist"
	BucketPreread     Bucket = "Preread"
)

type TATFlag string

const (
	TATGreen TATFlag = "Green"
	TATRed   TATFlag = "Red"
)

// CaseRecord is one study row as fetched for a report run. Nullable
// columns are pointers.
type CaseRecord struct {
	StudyID          int64      `json:"study_id"`
	ClientID         int64      `json:"client_id"`
	ClientName       string     `json:"client_name"`
	CreatedAt        time.Time  `json:"created_at"`
	ActivatedAt      time.Time  `json:"activated_at"`
	IsDemo           bool       `json:"is_demo"`
	Status           string     `json:"status"`
	ParentID         *int64     `json:"parent_id,omitempty"`
	ParentStatus     string     `json:"parent_status,omitempty"`
	ParentTATMinutes *float64   `json:"parent_tat_min,omitempty"`
	RadiologistID    *int64     `json:"radiologist_id,omitempty"`
	LatestStatus     string     `json:"latest_status"`
	FirstCompletedAt *time.Time `json:"first_completed_at,omitempty"`
	ReworkReportedAt *time.Time `json:"rework_reported_at,omitempty"`
	IQCAgentID       *int64     `json:"iqc_agent_id,omitempty"`
	Modality         string     `json:"modality"`
	TATMinutes       *float64   `json:"tat_min,omitempty"`
	ClientSource     string     `json:"client_source"`
	AssignedTo       string     `json:"assigned_to"`
	PodName          string     `json:"pod_name"`
	Rank             int        `json:"rank"`
}

func (c CaseRecord) merged() bool {
	return c.Status == rawMerged
}

// ClassifiedCase carries the derived report fields next to the raw row.
type ClassifiedCase struct {
	CaseRecord
	FinalStatus     FinalStatus `json:"final_status"`
	Bucket          Bucket      `json:"current_bucket"`
	TATBasis        *float64    `json:"tat_basis,omitempty"`
	TATFlag         TATFlag     `json:"tat_flag"`
	Tag             string      `json:"case_tag"`
	CategoryManager string      `json:"category_manager"`
}

// DataAnomaly is a row-level problem that was recovered with a fail-safe
// default instead of failing the run.
type DataAnomaly struct {
	StudyID int64  `json:"study_id"`
	Field   string `json:"field"`
	Detail  string `json:"detail"`
}
