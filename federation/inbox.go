package federation

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/vireonet/vireo/db"
	"github.com/vireonet/vireo/domain"
)

// InboxProcessor applies objects pushed by peer nodes. The pipeline is
// decode, validate, resolve dependencies, dedup, apply; dedup and apply share
// one transaction so a recorded object is always an applied object.
type InboxProcessor struct {
	db       *db.DB
	minter   *Minter
	registry *Registry
	resolver *Resolver
	follows  *FollowService
}

func NewInboxProcessor(database *db.DB, minter *Minter, registry *Registry, resolver *Resolver, follows *FollowService) *InboxProcessor {
	return &InboxProcessor{
		db:       database,
		minter:   minter,
		registry: registry,
		resolver: resolver,
		follows:  follows,
	}
}

type InboxResult struct {
	Kind      Kind
	Duplicate bool
}

// Process runs one inbound object through the pipeline. The caller has
// already authenticated the sending node. Errors map to HTTP statuses:
// ErrBadRequest 400, ErrNotFound 404, ErrDependencyUnresolved 424.
func (p *InboxProcessor) Process(from *domain.Node, recipientFQID string, body []byte) (*InboxResult, error) {
	obj, err := DecodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := obj.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	// A peer must never push an object it claims we minted. The one
	// exception is a follow decision, which echoes back the id the
	// requesting side minted.
	if p.minter.IsLocal(obj.FQID()) && !isFollowDecision(obj) {
		return nil, fmt.Errorf("%w: object %s claims a local id", ErrBadRequest, obj.FQID())
	}

	// Dependency resolution happens before the transaction; it may reach out
	// to other nodes and must not hold a write lock while doing so.
	if err := p.resolveDependencies(obj); err != nil {
		return nil, err
	}

	result := &InboxResult{Kind: obj.Kind()}
	err = p.db.InTx(func(tx *sql.Tx) error {
		inserted, err := p.db.InsertInboxRecordTx(tx, &domain.InboxRecord{
			ObjectFQID:    obj.FQID(),
			RecipientFQID: recipientFQID,
			NodeId:        from.Id,
			ReceivedAt:    time.Now(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			result.Duplicate = true
			// Entries are the one kind that travels again on edit, under the
			// same FQID. Their apply is a last-writer-wins upsert, so rerunning
			// it lets revisions land while replays stay harmless.
			if entry, ok := obj.(*EntryObject); ok {
				return p.applyEntry(tx, entry)
			}
			return nil
		}
		return p.apply(tx, obj)
	})
	if err != nil {
		return nil, err
	}

	if result.Duplicate {
		log.Printf("Inbox: Replay of %s from %s, acknowledged without reapplying", obj.FQID(), from.Name)
	} else {
		log.Printf("Inbox: Applied %s %s from %s", obj.Kind(), obj.FQID(), from.Name)
	}
	return result, nil
}

func isFollowDecision(obj Object) bool {
	f, ok := obj.(*FollowObject)
	return ok && f.Status != ""
}

// resolveDependencies makes sure every object the inbound one references
// exists locally, fetching replicas from origin nodes where allowed.
func (p *InboxProcessor) resolveDependencies(obj Object) error {
	switch o := obj.(type) {
	case *EntryObject:
		// The author travels embedded; only its node must be known.
		_, err := p.nodeFor(o.Author.ID)
		return err
	case *CommentObject:
		if _, err := p.nodeFor(o.Author.ID); err != nil {
			return err
		}
		if _, err := p.resolver.Resolve(o.Entry); err != nil {
			return err
		}
	case *LikeObject:
		if _, err := p.nodeFor(o.Author.ID); err != nil {
			return err
		}
		if _, err := p.resolver.Resolve(o.Object); err != nil {
			return err
		}
	case *FollowObject:
		if _, err := p.nodeFor(o.Actor.ID); err != nil {
			return err
		}
		if _, err := p.nodeFor(o.Object.ID); err != nil {
			return err
		}
	}
	return nil
}

// nodeFor maps an author FQID to the registered node hosting it. Local
// authors resolve to no node and no error.
func (p *InboxProcessor) nodeFor(authorFQID string) (*domain.Node, error) {
	if p.minter.IsLocal(authorFQID) {
		return nil, nil
	}
	ref, err := ParseFQID(authorFQID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	node, err := p.registry.LookupByURL(ref.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: author host %s is not a registered node", ErrDependencyUnresolved, ref.BaseURL)
	}
	return node, nil
}

func (p *InboxProcessor) apply(tx *sql.Tx, obj Object) error {
	switch o := obj.(type) {
	case *AuthorObject:
		return p.applyAuthor(tx, o)
	case *EntryObject:
		return p.applyEntry(tx, o)
	case *CommentObject:
		return p.applyComment(tx, o)
	case *LikeObject:
		return p.applyLike(tx, o)
	case *FollowObject:
		return p.follows.ApplyTx(tx, o)
	}
	return fmt.Errorf("%w: unhandled object kind %s", ErrBadRequest, obj.Kind())
}

// replica converts a wire author into the local replica row.
func (p *InboxProcessor) replica(o *AuthorObject) (*domain.Author, error) {
	node, err := p.nodeFor(o.ID)
	if err != nil {
		return nil, err
	}
	ref, err := ParseFQID(o.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return &domain.Author{
		Id:          ref.LocalId,
		FQID:        o.ID,
		Username:    o.DisplayName,
		DisplayName: o.DisplayName,
		ProfileURL:  o.Web,
		NodeId:      node.Id,
		Local:       false,
		CreatedAt:   time.Now(),
	}, nil
}

func (p *InboxProcessor) applyAuthor(tx *sql.Tx, o *AuthorObject) error {
	author, err := p.replica(o)
	if err != nil {
		return err
	}
	return p.db.UpsertRemoteAuthorTx(tx, author)
}

// applyEntry upserts the entry, so a later revision of the same FQID
// overwrites the cached copy. A DELETED revision keeps the row but drops it
// from every read path.
func (p *InboxProcessor) applyEntry(tx *sql.Tx, o *EntryObject) error {
	author, err := p.replica(&o.Author)
	if err != nil {
		return err
	}
	if err := p.db.UpsertRemoteAuthorTx(tx, author); err != nil {
		return err
	}

	visibility := domain.Visibility(o.Visibility)
	if !visibility.Valid() {
		return fmt.Errorf("%w: unknown visibility %q", ErrBadRequest, o.Visibility)
	}
	ref, _ := ParseFQID(o.ID)
	return p.db.UpsertEntryTx(tx, &domain.Entry{
		Id:          ref.LocalId,
		FQID:        o.ID,
		AuthorFQID:  o.Author.ID,
		Title:       o.Title,
		Description: o.Description,
		ContentType: o.ContentType,
		Content:     o.Content,
		Visibility:  visibility,
		Published:   o.Published,
		Updated:     time.Now(),
	})
}

func (p *InboxProcessor) applyComment(tx *sql.Tx, o *CommentObject) error {
	author, err := p.replica(&o.Author)
	if err != nil {
		return err
	}
	if err := p.db.UpsertRemoteAuthorTx(tx, author); err != nil {
		return err
	}
	ref, _ := ParseFQID(o.ID)
	return p.db.UpsertCommentTx(tx, &domain.Comment{
		Id:          ref.LocalId,
		FQID:        o.ID,
		AuthorFQID:  o.Author.ID,
		EntryFQID:   o.Entry,
		Content:     o.Comment,
		ContentType: o.ContentType,
		Published:   o.Published,
	})
}

func (p *InboxProcessor) applyLike(tx *sql.Tx, o *LikeObject) error {
	author, err := p.replica(&o.Author)
	if err != nil {
		return err
	}
	if err := p.db.UpsertRemoteAuthorTx(tx, author); err != nil {
		return err
	}
	ref, _ := ParseFQID(o.ID)
	return p.db.InsertLikeTx(tx, &domain.Like{
		Id:         ref.LocalId,
		FQID:       o.ID,
		AuthorFQID: o.Author.ID,
		ObjectFQID: o.Object,
		Published:  o.Published,
	})
}
