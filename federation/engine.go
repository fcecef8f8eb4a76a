package federation

import (
	"fmt"
	"log"
	"time"

	"github.com/vireonet/vireo/db"
	"github.com/vireonet/vireo/domain"
	"github.com/vireonet/vireo/util"
)

const reconcileInterval = 6 * time.Hour

// Engine wires the federation components together and is the one handle the
// rest of the application talks to.
type Engine struct {
	Minter     *Minter
	Registry   *Registry
	Access     *Access
	Remote     *RemoteClient
	Resolver   *Resolver
	Dispatcher *Dispatcher
	Inbox      *InboxProcessor
	Follows    *FollowService

	db   *db.DB
	conf *util.AppConfig
	stop chan struct{}
}

func NewEngine(database *db.DB, conf *util.AppConfig) (*Engine, error) {
	minter := NewMinter(conf.BaseURL())
	registry, err := NewRegistry(database)
	if err != nil {
		return nil, err
	}

	remote := NewRemoteClient(database, registry, conf)
	resolver := NewResolver(database, minter, remote)
	access := NewAccess(database, minter, registry)
	dispatcher := NewDispatcher(database, registry, conf)
	follows := NewFollowService(database, minter, registry, dispatcher, remote)
	inbox := NewInboxProcessor(database, minter, registry, resolver, follows)

	return &Engine{
		Minter:     minter,
		Registry:   registry,
		Access:     access,
		Remote:     remote,
		Resolver:   resolver,
		Dispatcher: dispatcher,
		Inbox:      inbox,
		Follows:    follows,
		db:         database,
		conf:       conf,
		stop:       make(chan struct{}),
	}, nil
}

// Start brings up the background workers: the delivery queue and the
// periodic follow reconciliation.
func (e *Engine) Start() {
	if !e.conf.Conf.WithFed {
		log.Println("Engine: Federation disabled, inbox and delivery stay offline")
		return
	}
	e.Dispatcher.Start()
	go e.reconcileLoop()
}

func (e *Engine) Stop() {
	if !e.conf.Conf.WithFed {
		return
	}
	close(e.stop)
	e.Dispatcher.Stop()
}

func (e *Engine) reconcileLoop() {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if _, err := e.Follows.Reconcile(); err != nil {
				log.Println("Engine: Follow reconciliation failed:", err)
			}
		}
	}
}

// OnLocalObjectCreated fans a freshly created local object out to its
// audience. Called after the object is committed locally; the audience is
// computed now and again never, queued items carry it frozen.
func (e *Engine) OnLocalObjectCreated(obj Object) error {
	if !e.conf.Conf.WithFed {
		return nil
	}

	var recipients *RecipientSet
	var err error
	switch o := obj.(type) {
	case *EntryObject:
		visibility := domain.Visibility(o.Visibility)
		recipients, err = e.Access.RecipientsFor(&domain.Entry{
			FQID:       o.ID,
			AuthorFQID: o.Author.ID,
			Visibility: visibility,
		})
	case *CommentObject:
		recipients, err = e.Access.RecipientsForTarget(o.Entry)
	case *LikeObject:
		recipients, err = e.Access.RecipientsForTarget(o.Object)
	default:
		return fmt.Errorf("%w: %s objects are not fanned out", ErrBadRequest, obj.Kind())
	}
	if err != nil {
		return err
	}
	if recipients.Empty() {
		return nil
	}
	return e.Dispatcher.Enqueue(obj, recipients)
}

// OnLocalEntryUpdated re-announces a changed entry, including the transition
// to DELETED, which travels as a normal revision.
func (e *Engine) OnLocalEntryUpdated(entry *domain.Entry, author *domain.Author) error {
	if !e.conf.Conf.WithFed {
		return nil
	}

	recipients, err := e.Access.RecipientsFor(entry)
	if err != nil {
		return err
	}
	if entry.Visibility == domain.VisibilityDeleted {
		// The audience of the pre-delete entry must learn about the delete;
		// recompute as if it were still public.
		shadow := *entry
		shadow.Visibility = domain.VisibilityPublic
		if recipients, err = e.Access.RecipientsFor(&shadow); err != nil {
			return err
		}
	}
	if recipients.Empty() {
		return nil
	}
	return e.Dispatcher.Enqueue(NewEntryObject(entry, author), recipients)
}

// FollowAction is the local author's side of the follow lifecycle.
// Supported decisions: request, accept, reject.
func (e *Engine) FollowAction(requesterFQID, targetFQID, decision string) error {
	switch decision {
	case "request":
		return e.Follows.Request(requesterFQID, targetFQID)
	case "accept":
		return e.Follows.Accept(requesterFQID, targetFQID)
	case "reject":
		return e.Follows.Reject(requesterFQID, targetFQID)
	default:
		return fmt.Errorf("%w: unknown follow decision %q", ErrBadRequest, decision)
	}
}
