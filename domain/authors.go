package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Author is an identity, local or remote. Local authors are created by
// registration; remote authors are created lazily the first time this node
// observes a reference to them and are never locally authenticated.
type Author struct {
	Id          uuid.UUID
	FQID        string // absolute URL, minted by the origin node, immutable
	Username    string
	DisplayName string
	ProfileURL  string
	NodeId      uuid.UUID // host node for remote authors, uuid.Nil for local ones
	Local       bool
	CreatedAt   time.Time
}

func (a *Author) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tFQID: %s \n\tUsername: %s \n\tLocal: %v)", a.Id, a.FQID, a.Username, a.Local)
}
