package domain

import (
	"time"

	"github.com/google/uuid"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "PUBLIC"
	VisibilityFriends  Visibility = "FRIENDS"
	VisibilityUnlisted Visibility = "UNLISTED"
	VisibilityDeleted  Visibility = "DELETED"
)

// Valid reports whether v is one of the four known visibility levels.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityFriends, VisibilityUnlisted, VisibilityDeleted:
		return true
	}
	return false
}

// Entry is a post. The origin node is the sole writer of its content fields;
// every other node holds a read-only replica keyed by FQID.
type Entry struct {
	Id          uuid.UUID
	FQID        string
	AuthorFQID  string
	Title       string
	Description string
	ContentType string // "text/plain" or "text/markdown"
	Content     string
	Visibility  Visibility
	Published   time.Time
	Updated     time.Time
}

// Comment references the Entry it targets by FQID.
type Comment struct {
	Id          uuid.UUID
	FQID        string
	AuthorFQID  string
	EntryFQID   string
	Content     string
	ContentType string
	Published   time.Time
}

// Like references the Entry or Comment it targets by FQID. At most one like
// per (author, object) pair.
type Like struct {
	Id         uuid.UUID
	FQID       string
	AuthorFQID string
	ObjectFQID string
	Published  time.Time
}
