package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxStatementBytes bounds Node.Statement, per spec §3.
const MaxStatementBytes = 4 * 1024

// NormalizeStatement trims whitespace and is the single place statement text
// is canonicalized before storage or comparison.
func NormalizeStatement(s string) string {
	return strings.TrimSpace(s)
}

// Node is a knowledge node: the central entity of the ledger (spec §3).
type Node struct {
	ID       uuid.UUID
	Statement string
	Domain   string
	Tags     []string

	Branch     Branch
	State      NodeState
	Confidence int
	Velocity   float64
	Queue      Queue

	LastScan   *time.Time
	NextScan   *time.Time
	IdleCycles int

	AuditTrail         []AuditEntry
	ShapleyAttribution map[string]float64

	// Embedding is an opaque vector representation of Statement. No code in
	// this module sets it, and PostgresStore neither writes nor reads it; it
	// is never interpreted by ledger logic — kept abstract per spec §1's
	// out-of-scope note.
	Embedding []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuditEntry is one append-only record in a node's audit trail (invariant I2).
type AuditEntry struct {
	Timestamp       time.Time
	Action          string
	FromState       NodeState
	ToState         NodeState
	Trigger         string
	Agent           string
	Reason          string
	ConfidenceDelta *int
	VoteRecord      map[string]int
}

// Source is an external evidence source (spec §3).
type Source struct {
	ID          uuid.UUID
	Type        SourceType
	Identifier  string
	URL         string
	Title       string
	Authors     []string
	TrustScore  int
	RetrievedAt time.Time
}

// SourceType enumerates recognized evidence source providers.
type SourceType string

const (
	SourceArxiv  SourceType = "ARXIV"
	SourcePubMed SourceType = "PUBMED"
	SourceWeb    SourceType = "WEB"
)

// MinVerifiedTrustScore is the minimum trustScore an anchor source must carry
// for a transition to VERIFIED to succeed (invariant I3).
const MinVerifiedTrustScore = 80

// MinMimirTrustScore is the trust score MIMIR-branch evidence must carry
// (§4.2): MIMIR only accepts sources with trustScore = 100.
const MinMimirTrustScore = 100

// ValidatedProviderSet is the set of source types MIMIR accepts.
var ValidatedProviderSet = map[SourceType]bool{
	SourceArxiv:  true,
	SourcePubMed: true,
}

// Dependency is a dependency edge between two nodes (spec §3).
type Dependency struct {
	Source   uuid.UUID
	Target   uuid.UUID
	Relation RelationKind
	Strength float64
}

// CascadeStrengthFloor is the strength at/above which a dependent is
// directly invalidated during cascade; below it, the dependent is only
// scheduled for review (§4.8).
const CascadeStrengthFloor = 0.8
