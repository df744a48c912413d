// Package model contains the canonical types used across the audit-chain core.
package model

import (
	"time"

	"github.com/google/uuid"
)

// CRUD is the action classification of an event.
type CRUD string

const (
	CRUDCreate CRUD = "create"
	CRUDRead   CRUD = "read"
	CRUDUpdate CRUD = "update"
	CRUDDelete CRUD = "delete"
)

// ValidCRUD reports whether c is one of the four recognized values.
func ValidCRUD(c CRUD) bool {
	switch c {
	case CRUDCreate, CRUDRead, CRUDUpdate, CRUDDelete:
		return true
	default:
		return false
	}
}

// Event is an immutable-once-committed audit record.
//
// Hash, PreviousHash and Signature are populated by the Chain Engine; callers
// submitting a new event leave them zero.
type Event struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId,omitempty"`

	Action string `json:"action"`
	CRUD   CRUD   `json:"crud"`

	ActorID     string            `json:"actorId,omitempty"`
	ActorName   string            `json:"actorName,omitempty"`
	ActorHref   string            `json:"actorHref,omitempty"`
	ActorFields map[string]string `json:"actorFields,omitempty"`

	TargetID     string            `json:"targetId,omitempty"`
	TargetName   string            `json:"targetName,omitempty"`
	TargetHref   string            `json:"targetHref,omitempty"`
	TargetType   string            `json:"targetType,omitempty"`
	TargetFields map[string]string `json:"targetFields,omitempty"`

	GroupID   string `json:"groupId,omitempty"`
	GroupName string `json:"groupName,omitempty"`

	Description string                 `json:"description,omitempty"`
	Component   string                 `json:"component,omitempty"`
	Version     string                 `json:"version,omitempty"`
	SourceIP    string                 `json:"sourceIp,omitempty"`
	IsAnonymous bool                   `json:"isAnonymous,omitempty"`
	IsFailure   bool                   `json:"isFailure,omitempty"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt  time.Time `json:"createdAt"`
	ReceivedAt time.Time `json:"receivedAt"`

	Hash         string `json:"hash,omitempty"`
	PreviousHash string `json:"previousHash,omitempty"`
	Signature    string `json:"signature,omitempty"`

	ProjectID     string `json:"projectId"`
	EnvironmentID string `json:"environmentId"`
}

// StreamKey identifies the stream an event belongs to.
type StreamKey struct {
	ProjectID     string
	EnvironmentID string
}

func (k StreamKey) String() string {
	return k.ProjectID + "/" + k.EnvironmentID
}

// NewEventID returns a freshly generated UUID v4 string.
func NewEventID() string {
	return uuid.New().String()
}

// QueryFilter scopes a query_events call. ProjectID and EnvironmentID are required.
type QueryFilter struct {
	ProjectID     string
	EnvironmentID string
	Action        string
	ActorID       string
	TargetID      string
	Since         *time.Time
	Until         *time.Time
	DescriptionQ  string
}

// Pagination is keyset pagination over (received_at, id).
type Pagination struct {
	Limit  int
	Cursor string // opaque, encodes (received_at, id) of the last seen row
}

// QueryResult is the result of a query_events call.
type QueryResult struct {
	Events     []*Event
	NextCursor string
	Total      *int64
}

// FailureReason classifies why a stored event failed verification.
type FailureReason string

const (
	ReasonDigestMismatch   FailureReason = "digest_mismatch"
	ReasonSignatureInvalid FailureReason = "signature_invalid"
	ReasonChainBreak       FailureReason = "chain_break"
	ReasonMissingPrevious  FailureReason = "missing_previous"
)

// VerificationFailure describes a single event that failed integrity verification.
type VerificationFailure struct {
	ID     string        `json:"id"`
	Reason FailureReason `json:"reason"`
}

// ValidationResult is the report produced by ValidateEvents.
type ValidationResult struct {
	Total    int                    `json:"total"`
	Verified int                    `json:"verified"`
	Failed   []VerificationFailure  `json:"failed"`
}

// SealMarker records that a prefix of a stream has been sealed.
type SealMarker struct {
	ProjectID     string    `json:"projectId"`
	EnvironmentID string    `json:"environmentId"`
	UpToTime      time.Time `json:"upToTime"`
	EventCount    int64     `json:"eventCount"`
	TipHash       string    `json:"tipHash"`
	SealedAt      time.Time `json:"sealedAt"`
}
