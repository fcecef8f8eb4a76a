package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Node is a remote peer. Exactly one record exists per distinct base URL.
// InboundPasswordHash is a bcrypt hash; the cleartext inbound password is
// handed to the peer out of band and never stored. Credentials are never
// logged or echoed back in responses.
type Node struct {
	Id                  uuid.UUID
	Name                string
	BaseURL             string
	OutboundUsername    string
	OutboundPassword    string
	InboundUsername     string
	InboundPasswordHash string
	Enabled             bool
	CreatedAt           time.Time
}

// NormalizeBaseURL strips the trailing slash so URL equality is well-defined.
func NormalizeBaseURL(base string) string {
	return strings.TrimSuffix(strings.TrimSpace(base), "/")
}

type FollowState string

const (
	FollowPending  FollowState = "PENDING"
	FollowAccepted FollowState = "ACCEPTED"
)

// Follow is a directed edge follower -> followee. At most one edge exists per
// ordered pair; a rejected request deletes the pending edge outright.
type Follow struct {
	Id           uuid.UUID
	FollowerFQID string
	FolloweeFQID string
	URI          string // FQID of the follow object that created the edge, empty for local-only edges
	State        FollowState
	CreatedAt    time.Time
}

// InboxRecord is the durable record of "object X was delivered to recipient Y
// at time T", keyed by (object FQID, recipient FQID). Applying the same
// record twice has no additional effect.
type InboxRecord struct {
	ObjectFQID    string
	RecipientFQID string
	NodeId        uuid.UUID // the authenticated node that delivered the object
	ReceivedAt    time.Time
}

// DeliveryAttempt is outbound bookkeeping for one (object, target node) pair.
// Purged after success or once the retry budget is exhausted.
type DeliveryAttempt struct {
	Id            uuid.UUID
	ObjectFQID    string
	AuthorFQID    string
	NodeId        uuid.UUID
	RecipientFQID string // empty means node-level broadcast to the peer's shared inbox
	Payload       string // canonical JSON of the object
	Attempts      int
	LastStatus    string
	NextRetryAt   time.Time
	CreatedAt     time.Time
}

// DeliveryFailure is an abandoned delivery surfaced for the operator. The
// local copy of the object is retained regardless.
type DeliveryFailure struct {
	Id         uuid.UUID
	ObjectFQID string
	NodeId     uuid.UUID
	Attempts   int
	LastStatus string
	FailedAt   time.Time
}
