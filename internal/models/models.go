package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusMatched   JobStatus = "matched"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the job can no longer change state. Terminal jobs
// are never rewritten by later duplicate events.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// NodeStatus is the self-reported node state. Availability for matching is
// always derived from heartbeat age, never from this field.
type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "online"
	NodeStatusOffline NodeStatus = "offline"
)

// Requirements holds the hard constraints a job places on candidate nodes
type Requirements struct {
	GPUModel     string   `json:"gpuModel,omitempty"`
	VRAMMin      int      `json:"vramMin,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Empty reports whether no constraint is set
func (r Requirements) Empty() bool {
	return r.GPUModel == "" && r.VRAMMin == 0 && len(r.Capabilities) == 0
}

// Job represents a unit of requested compute work originating from a ledger event
type Job struct {
	JobID             string       `db:"job_id" json:"jobId"`
	JobType           string       `db:"job_type" json:"jobType"`
	Requirements      Requirements `json:"requirements"`
	Price             float64      `db:"price" json:"price"`
	Status            JobStatus    `db:"status" json:"status"`
	CreatedAt         time.Time    `db:"created_at" json:"createdAt"`
	CompletedAt       *time.Time   `db:"completed_at" json:"completedAt,omitempty"`
	SourceTxSignature string       `db:"tx_signature" json:"sourceTxSignature"`
}

// Node represents a registered worker node offering compute capacity
type Node struct {
	NodeID          string     `db:"node_id" json:"nodeId"`
	OwnerIdentity   string     `db:"owner_identity" json:"ownerIdentity"`
	GPUModel        string     `db:"gpu_model" json:"gpuModel"`
	VRAMGb          int        `db:"vram_gb" json:"vramGb"`
	ReputationScore int        `db:"reputation_score" json:"reputationScore"`
	LastHeartbeat   *time.Time `db:"last_heartbeat" json:"lastHeartbeat"`
	JobsCompleted   int64      `db:"jobs_completed" json:"jobsCompleted"`
	JobsFailed      int64      `db:"jobs_failed" json:"jobsFailed"`
	Status          NodeStatus `db:"status" json:"status"`
	RegisteredAt    time.Time  `db:"registered_at" json:"registeredAt"`
}

// Match binds a job to the node selected to execute it. Immutable once created;
// at most one match exists per job.
type Match struct {
	ID        uuid.UUID `db:"id" json:"id"`
	JobID     string    `db:"job_id" json:"jobId"`
	NodeID    string    `db:"node_id" json:"nodeId"`
	Score     float64   `db:"score" json:"score"`
	MatchedAt time.Time `db:"matched_at" json:"matchedAt"`
}

// MetricsSnapshot is an immutable aggregate read of system-wide counters
type MetricsSnapshot struct {
	TotalNodes       int64     `db:"total_nodes" json:"totalNodes"`
	ActiveNodes      int64     `db:"active_nodes" json:"activeNodes"`
	TotalJobs        int64     `db:"total_jobs" json:"totalJobs"`
	JobsCompleted    int64     `db:"jobs_completed" json:"jobsCompleted"`
	JobsFailed       int64     `db:"jobs_failed" json:"jobsFailed"`
	TotalPaid        float64   `db:"total_paid" json:"totalPaid"`
	AvgJobDurationMs float64   `db:"avg_job_duration_ms" json:"avgJobDurationMs"`
	Timestamp        time.Time `db:"timestamp" json:"timestamp"`
}

// EventKind identifies a classified ledger event occurrence
type EventKind string

const (
	EventNodeRegistered     EventKind = "NodeRegistered"
	EventNodeStatusUpdated  EventKind = "NodeStatusUpdated"
	EventJobCreated         EventKind = "JobCreated"
	EventJobCompleted       EventKind = "JobCompleted"
	EventPaymentDistributed EventKind = "PaymentDistributed"
	EventPaymentProcessed   EventKind = "PaymentProcessed"
)

// LedgerEvent is an audit record of a classified ledger occurrence
type LedgerEvent struct {
	ID         int64     `db:"id" json:"id"`
	ProgramID  string    `db:"program_id" json:"programId"`
	Signature  string    `db:"signature" json:"signature"`
	Kind       EventKind `db:"kind" json:"kind"`
	ObservedAt time.Time `db:"observed_at" json:"observedAt"`
}

// JobDescriptor is the payload carried through the match queue. Requirements
// may be empty here; they are merged from the jobs table before matching.
type JobDescriptor struct {
	JobID        string       `json:"job_id"`
	JobType      string       `json:"job_type"`
	Requirements Requirements `json:"requirements"`
	Price        float64      `json:"price"`
	Signature    string       `json:"signature"`
	EnqueuedAt   time.Time    `json:"enqueued_at"`

	Attempts     int    `json:"attempts"`
	ErrorMessage string `json:"error_message,omitempty"`
}
