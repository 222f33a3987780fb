package yggdrasil

import (
	"time"

	"github.com/google/uuid"
)

// Source is the public representation of one piece of evidence backing a
// query's answer. It is a curated view of internal/domain.Source for use in
// extension interfaces — no internal package imports.
type Source struct {
	ID          uuid.UUID
	Type        string // ARXIV | PUBMED | WEB
	Identifier  string
	URL         string
	Title       string
	Authors     []string
	TrustScore  int // 0-100; 100 only for MIMIR-anchored validated providers
	RetrievedAt time.Time
}

// QueryResult is the public representation of a completed pipeline run.
// It is a curated view of internal/pipeline.Response.
type QueryResult struct {
	Content         string
	Confidence      int
	NodeID          string
	Sources         []Source
	Approved        bool
	RejectionReason string
}

// Alert is the public representation of an anomaly raised by the watcher
// daemon during a background rescan.
type Alert struct {
	ID        uuid.UUID
	NodeID    uuid.UUID
	Kind      string // VELOCITY_SPIKE | CONFIDENCE_DROP | ...
	Severity  string // LOW | MEDIUM | HIGH | CRITICAL
	Detail    string
	CreatedAt time.Time
}
