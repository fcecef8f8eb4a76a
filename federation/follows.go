package federation

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vireonet/vireo/db"
	"github.com/vireonet/vireo/domain"
)

// FollowService owns the follow-request lifecycle on both sides: sending
// requests and decisions out, and applying the ones that arrive.
type FollowService struct {
	db         *db.DB
	minter     *Minter
	registry   *Registry
	dispatcher *Dispatcher
	remote     *RemoteClient
}

func NewFollowService(database *db.DB, minter *Minter, registry *Registry, dispatcher *Dispatcher, remote *RemoteClient) *FollowService {
	return &FollowService{
		db:         database,
		minter:     minter,
		registry:   registry,
		dispatcher: dispatcher,
		remote:     remote,
	}
}

// Request records a pending follow from a local author and, when the target
// lives elsewhere, pushes the request to its node. Re-requesting an existing
// edge is a no-op.
func (s *FollowService) Request(requesterFQID, targetFQID string) error {
	if !s.minter.IsLocal(requesterFQID) {
		return fmt.Errorf("%w: requester %s is not hosted here", ErrBadRequest, requesterFQID)
	}
	if requesterFQID == targetFQID {
		return fmt.Errorf("%w: an author cannot follow themselves", ErrBadRequest)
	}

	err, existing := s.db.ReadFollow(requesterFQID, targetFQID)
	if err == nil && existing != nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return err
	}

	err, requester := s.db.ReadAuthorByFQID(requesterFQID)
	if err != nil {
		return err
	}
	err, target := s.db.ReadAuthorByFQID(targetFQID)
	if err == sql.ErrNoRows && !s.minter.IsLocal(targetFQID) {
		// Unknown remote author: fetch the profile so the edge has a real
		// endpoint behind it.
		obj, ferr := s.remote.FetchAuthor(targetFQID)
		if ferr != nil {
			return fmt.Errorf("%w: %v", ErrNotFound, ferr)
		}
		if target, ferr = s.remote.CacheAuthor(obj); ferr != nil {
			return ferr
		}
	} else if err != nil {
		return err
	}

	follow := &domain.Follow{
		Id:           uuid.New(),
		FollowerFQID: requesterFQID,
		FolloweeFQID: targetFQID,
		State:        domain.FollowPending,
		CreatedAt:    time.Now(),
	}
	follow.URI = s.minter.FollowFQID(follow.Id)
	if err := s.db.UpsertPendingFollow(follow); err != nil {
		return err
	}

	if s.minter.IsLocal(targetFQID) {
		log.Printf("Follows: %s requested to follow local author %s", requesterFQID, targetFQID)
		return nil
	}

	obj := &FollowObject{
		Type:    string(KindFollow),
		ID:      follow.URI,
		Summary: fmt.Sprintf("%s wants to follow %s", requester.DisplayName, target.DisplayName),
		Actor:   NewAuthorObject(requester),
		Object:  NewAuthorObject(target),
	}
	recipients, err := s.recipientNode(targetFQID)
	if err != nil {
		return err
	}
	return s.dispatcher.Enqueue(obj, recipients)
}

// Accept flips the pending edge to ACCEPTED and notifies the requester's
// node. Accepting an edge that is not pending reports ErrNotFound; there is
// nothing to decide.
func (s *FollowService) Accept(requesterFQID, targetFQID string) error {
	return s.decide(requesterFQID, targetFQID, FollowStatusAccepted)
}

// Reject drops the pending edge and tells the requester's node, best effort.
func (s *FollowService) Reject(requesterFQID, targetFQID string) error {
	return s.decide(requesterFQID, targetFQID, FollowStatusRejected)
}

func (s *FollowService) decide(requesterFQID, targetFQID, status string) error {
	if !s.minter.IsLocal(targetFQID) {
		return fmt.Errorf("%w: only the followee's node decides a request", ErrBadRequest)
	}

	err, follow := s.db.ReadFollow(requesterFQID, targetFQID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: no follow request from %s to %s", ErrNotFound, requesterFQID, targetFQID)
	}
	if err != nil {
		return err
	}

	if status == FollowStatusAccepted {
		updated, err := s.db.AcceptFollow(requesterFQID, targetFQID)
		if err != nil {
			return err
		}
		if !updated {
			return fmt.Errorf("%w: follow from %s is not pending", ErrNotFound, requesterFQID)
		}
	} else {
		if follow.State != domain.FollowPending {
			return fmt.Errorf("%w: follow from %s is not pending", ErrNotFound, requesterFQID)
		}
		if err := s.db.DeleteFollow(requesterFQID, targetFQID); err != nil {
			return err
		}
	}
	log.Printf("Follows: Request %s -> %s decided: %s", requesterFQID, targetFQID, status)

	if s.minter.IsLocal(requesterFQID) {
		return nil
	}

	err, requester := s.db.ReadAuthorByFQID(requesterFQID)
	if err != nil {
		return err
	}
	err, target := s.db.ReadAuthorByFQID(targetFQID)
	if err != nil {
		return err
	}
	obj := &FollowObject{
		Type:    string(KindFollow),
		ID:      follow.URI,
		Summary: fmt.Sprintf("%s %s the follow request from %s", target.DisplayName, status, requester.DisplayName),
		Actor:   NewAuthorObject(requester),
		Object:  NewAuthorObject(target),
		Status:  status,
	}
	recipients, err := s.recipientNode(requesterFQID)
	if err != nil {
		return err
	}
	return s.dispatcher.Enqueue(obj, recipients)
}

func (s *FollowService) recipientNode(authorFQID string) (*RecipientSet, error) {
	ref, err := ParseFQID(authorFQID)
	if err != nil {
		return nil, err
	}
	node, err := s.registry.LookupByURL(ref.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("author %s belongs to no registered node", authorFQID)
	}
	return &RecipientSet{
		Remote: []RemoteRecipient{{Node: *node, RecipientFQID: authorFQID}},
	}, nil
}

// ApplyTx handles a follow object delivered to the inbox, inside the inbox
// transaction. Without a status it is a new request; with one it is the
// followee's decision coming back.
func (s *FollowService) ApplyTx(tx *sql.Tx, o *FollowObject) error {
	switch o.Status {
	case "":
		return s.applyRequestTx(tx, o)
	case FollowStatusAccepted:
		return s.applyAcceptedTx(tx, o)
	case FollowStatusRejected:
		return s.applyRejectedTx(tx, o)
	default:
		return fmt.Errorf("%w: unknown follow status %q", ErrBadRequest, o.Status)
	}
}

func (s *FollowService) applyRequestTx(tx *sql.Tx, o *FollowObject) error {
	if !s.minter.IsLocal(o.Object.ID) {
		return fmt.Errorf("%w: followee %s is not hosted here", ErrBadRequest, o.Object.ID)
	}
	if err, _ := s.db.ReadAuthorByFQID(o.Object.ID); err == sql.ErrNoRows {
		return fmt.Errorf("%w: no such author %s", ErrNotFound, o.Object.ID)
	} else if err != nil {
		return err
	}

	ref, err := ParseFQID(o.Actor.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	node, err := s.registry.LookupByURL(ref.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: requester host %s is not a registered node", ErrDependencyUnresolved, ref.BaseURL)
	}
	if err := s.db.UpsertRemoteAuthorTx(tx, &domain.Author{
		Id:          ref.LocalId,
		FQID:        o.Actor.ID,
		Username:    o.Actor.DisplayName,
		DisplayName: o.Actor.DisplayName,
		ProfileURL:  o.Actor.Web,
		NodeId:      node.Id,
		Local:       false,
		CreatedAt:   time.Now(),
	}); err != nil {
		return err
	}

	return s.db.UpsertPendingFollowTx(tx, &domain.Follow{
		Id:           uuid.New(),
		FollowerFQID: o.Actor.ID,
		FolloweeFQID: o.Object.ID,
		URI:          o.ID,
		State:        domain.FollowPending,
		CreatedAt:    time.Now(),
	})
}

// applyAcceptedTx promotes our pending outbound request. An accept with no
// pending edge behind it is a peer inconsistency; it is logged and the
// delivery still acknowledged so the sender stops retrying.
func (s *FollowService) applyAcceptedTx(tx *sql.Tx, o *FollowObject) error {
	if !s.minter.IsLocal(o.Actor.ID) {
		return fmt.Errorf("%w: accept for a request we did not send", ErrBadRequest)
	}
	updated, err := s.db.AcceptFollowTx(tx, o.Actor.ID, o.Object.ID)
	if err != nil {
		return err
	}
	if !updated {
		log.Printf("Follows: Peer accepted %s -> %s but no pending request exists here", o.Actor.ID, o.Object.ID)
	}
	return nil
}

// applyRejectedTx withdraws our pending outbound request. Only a PENDING
// edge can be rejected; a reject against an ACCEPTED edge (or no edge) is a
// peer inconsistency and leaves our side untouched.
func (s *FollowService) applyRejectedTx(tx *sql.Tx, o *FollowObject) error {
	if !s.minter.IsLocal(o.Actor.ID) {
		return fmt.Errorf("%w: rejection for a request we did not send", ErrBadRequest)
	}
	err, follow := s.db.ReadFollowTx(tx, o.Actor.ID, o.Object.ID)
	if err == sql.ErrNoRows {
		log.Printf("Follows: Peer rejected %s -> %s but no edge exists here", o.Actor.ID, o.Object.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if follow.State != domain.FollowPending {
		log.Printf("Follows: Peer rejected %s -> %s but the edge is %s here", o.Actor.ID, o.Object.ID, follow.State)
		return nil
	}
	return s.db.DeleteFollowTx(tx, o.Actor.ID, o.Object.ID)
}

// Inconsistency is a follow edge the two nodes disagree about.
type Inconsistency struct {
	FollowerFQID string
	FolloweeFQID string
	Detail       string
}

// Reconcile cross-checks every accepted follow of a local author on a remote
// followee against the followee's node. Peers answer from their own follow
// tables, so a drift here means a lost or half-applied delivery.
func (s *FollowService) Reconcile() ([]Inconsistency, error) {
	err, follows := s.db.ReadAcceptedFollows()
	if err != nil {
		return nil, err
	}

	var drift []Inconsistency
	for _, f := range *follows {
		if !s.minter.IsLocal(f.FollowerFQID) || s.minter.IsLocal(f.FolloweeFQID) {
			continue
		}
		present, err := s.remote.HasFollower(f.FolloweeFQID, f.FollowerFQID)
		if err != nil {
			log.Printf("Follows: Reconcile check for %s -> %s failed: %v", f.FollowerFQID, f.FolloweeFQID, err)
			continue
		}
		if !present {
			drift = append(drift, Inconsistency{
				FollowerFQID: f.FollowerFQID,
				FolloweeFQID: f.FolloweeFQID,
				Detail:       "accepted here, unknown on the followee's node",
			})
		}
	}
	if len(drift) > 0 {
		log.Printf("Follows: Reconcile found %d inconsistent edges", len(drift))
	}
	return drift, nil
}
