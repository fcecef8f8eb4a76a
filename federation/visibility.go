package federation

import (
	"database/sql"
	"log"

	"github.com/vireonet/vireo/db"
	"github.com/vireonet/vireo/domain"
)

// Access implements the visibility rules and recipient-set computation.
type Access struct {
	db       *db.DB
	minter   *Minter
	registry *Registry
}

func NewAccess(database *db.DB, minter *Minter, registry *Registry) *Access {
	return &Access{db: database, minter: minter, registry: registry}
}

// CanView decides whether the viewer may see the entry. The empty viewer FQID
// means an anonymous caller.
func (a *Access) CanView(viewerFQID string, entry *domain.Entry) (bool, error) {
	if viewerFQID == entry.AuthorFQID {
		return true, nil
	}

	switch entry.Visibility {
	case domain.VisibilityPublic, domain.VisibilityUnlisted:
		// UNLISTED is visible to anyone holding the FQID; it is the browse
		// surfaces that must not enumerate it.
		return true, nil
	case domain.VisibilityDeleted:
		return false, nil
	case domain.VisibilityFriends:
		if viewerFQID == "" {
			return false, nil
		}
		return a.mutualAccepted(viewerFQID, entry.AuthorFQID)
	}

	return false, nil
}

// mutualAccepted reports whether both directed edges exist and are ACCEPTED.
func (a *Access) mutualAccepted(x, y string) (bool, error) {
	err, xy := a.db.ReadFollow(x, y)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err, yx := a.db.ReadFollow(y, x)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return xy.State == domain.FollowAccepted && yx.State == domain.FollowAccepted, nil
}

// RemoteRecipient is one inbox to deliver to on a peer node. An empty
// RecipientFQID addresses the node's shared inbox instead of a per-author one.
type RemoteRecipient struct {
	Node          domain.Node
	RecipientFQID string
}

// RecipientSet is the audience of a newly created object, split into authors
// hosted here and inboxes on peers.
type RecipientSet struct {
	Local  []string
	Remote []RemoteRecipient
}

func (s *RecipientSet) Empty() bool {
	return len(s.Local) == 0 && len(s.Remote) == 0
}

// RecipientsFor computes the audience of an entry. Pure given current follow
// state; callers must invoke it at send time, never cache the result, because
// follower sets change between sends.
func (a *Access) RecipientsFor(entry *domain.Entry) (*RecipientSet, error) {
	set := &RecipientSet{}

	switch entry.Visibility {
	case domain.VisibilityUnlisted, domain.VisibilityDeleted:
		// Unlisted entries travel only via explicit references (a comment or
		// share naming the FQID), never by automatic fan-out.
		return set, nil
	}

	err, followers := a.db.ReadFollowersOf(entry.AuthorFQID)
	if err != nil {
		return nil, err
	}

	// Followers whose edge qualifies, bucketed per peer node.
	perNode := make(map[string][]string)
	for _, f := range *followers {
		if entry.Visibility == domain.VisibilityFriends {
			mutual, err := a.mutualAccepted(f.FollowerFQID, entry.AuthorFQID)
			if err != nil {
				return nil, err
			}
			if !mutual {
				continue
			}
		} else if f.State != domain.FollowAccepted {
			continue
		}

		if a.minter.IsLocal(f.FollowerFQID) {
			set.Local = append(set.Local, f.FollowerFQID)
			continue
		}

		ref, err := ParseFQID(f.FollowerFQID)
		if err != nil {
			log.Printf("Access: Skipping follower with malformed FQID %q", f.FollowerFQID)
			continue
		}
		perNode[ref.BaseURL] = append(perNode[ref.BaseURL], f.FollowerFQID)
	}

	if entry.Visibility == domain.VisibilityPublic {
		// PUBLIC reaches every enabled node; nodes without a known follower
		// get a single shared-inbox delivery.
		for _, node := range a.registry.Enabled() {
			fqids := perNode[node.BaseURL]
			if len(fqids) == 0 {
				set.Remote = append(set.Remote, RemoteRecipient{Node: node})
				continue
			}
			for _, fqid := range fqids {
				set.Remote = append(set.Remote, RemoteRecipient{Node: node, RecipientFQID: fqid})
			}
			delete(perNode, node.BaseURL)
		}
		for base := range perNode {
			log.Printf("Access: Follower host %s is not a registered node, skipping", base)
		}
		return set, nil
	}

	// FRIENDS: only the qualifying followers, and only on registered,
	// enabled nodes.
	for base, fqids := range perNode {
		node, err := a.registry.LookupByURL(base)
		if err != nil || !node.Enabled {
			log.Printf("Access: Dropping %d friend recipients on unavailable node %s", len(fqids), base)
			continue
		}
		for _, fqid := range fqids {
			set.Remote = append(set.Remote, RemoteRecipient{Node: *node, RecipientFQID: fqid})
		}
	}

	return set, nil
}

// RecipientsForTarget computes the audience of a comment or like: the origin
// node of the object it references. Local targets need no federation.
func (a *Access) RecipientsForTarget(targetFQID string) (*RecipientSet, error) {
	set := &RecipientSet{}

	if a.minter.IsLocal(targetFQID) {
		return set, nil
	}

	ref, err := ParseFQID(targetFQID)
	if err != nil {
		return nil, err
	}

	node, err := a.registry.LookupByURL(ref.BaseURL)
	if err != nil {
		log.Printf("Access: Target %s lives on an unregistered node, cannot deliver", targetFQID)
		return set, nil
	}
	if !node.Enabled {
		return set, nil
	}

	set.Remote = append(set.Remote, RemoteRecipient{Node: *node})
	return set, nil
}
