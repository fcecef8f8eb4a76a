package federation

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vireonet/vireo/domain"
)

func marshal(t *testing.T, obj Object) []byte {
	body, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("Failed to marshal object: %v", err)
	}
	return body
}

func TestInboxAppliesEntryAndDedupsReplay(t *testing.T) {
	eng, database := setupEngine(t)
	beta := registerNode(t, eng, "beta", "https://beta.example")
	recipient := createLocalAuthor(t, eng, database, "frida")

	entry := &EntryObject{
		Type:       "entry",
		ID:         "https://beta.example/api/entries/" + uuid.NewString(),
		Title:      "Hello",
		Content:    "First version",
		Visibility: "PUBLIC",
		Published:  time.Now(),
		Author:     remoteAuthorObject(beta, "diego"),
	}

	result, err := eng.Inbox.Process(beta, recipient.FQID, marshal(t, entry))
	if err != nil {
		t.Fatalf("Failed to process entry: %v", err)
	}
	if result.Duplicate {
		t.Error("Expected first delivery to not be a duplicate")
	}

	err, stored := database.ReadEntryByFQID(entry.ID)
	if err != nil {
		t.Fatalf("Entry was not stored: %v", err)
	}
	if stored.Content != "First version" {
		t.Errorf("Expected stored content, got %q", stored.Content)
	}
	// The author replica arrives embedded and must be cached
	if err, _ := database.ReadAuthorByFQID(entry.Author.ID); err != nil {
		t.Errorf("Author replica was not cached: %v", err)
	}

	result, err = eng.Inbox.Process(beta, recipient.FQID, marshal(t, entry))
	if err != nil {
		t.Fatalf("Failed to process replay: %v", err)
	}
	if !result.Duplicate {
		t.Error("Expected replay to be flagged duplicate")
	}
}

func TestInboxEntryRevisionLastWriterWins(t *testing.T) {
	eng, database := setupEngine(t)
	beta := registerNode(t, eng, "beta", "https://beta.example")
	recipient := createLocalAuthor(t, eng, database, "frida")

	entry := &EntryObject{
		Type:       "entry",
		ID:         "https://beta.example/api/entries/" + uuid.NewString(),
		Content:    "First version",
		Visibility: "PUBLIC",
		Published:  time.Now(),
		Author:     remoteAuthorObject(beta, "diego"),
	}
	if _, err := eng.Inbox.Process(beta, recipient.FQID, marshal(t, entry)); err != nil {
		t.Fatalf("Failed to process entry: %v", err)
	}

	// The origin re-announces the edited entry under the same FQID
	entry.Content = "Edited version"
	entry.Visibility = "DELETED"
	if _, err := eng.Inbox.Process(beta, recipient.FQID, marshal(t, entry)); err != nil {
		t.Fatalf("Failed to process revision: %v", err)
	}

	err, stored := database.ReadEntryByFQID(entry.ID)
	if err != nil {
		t.Fatalf("Failed to read entry: %v", err)
	}
	if stored.Content != "Edited version" {
		t.Errorf("Expected revision to land, got %q", stored.Content)
	}
	if stored.Visibility != domain.VisibilityDeleted {
		t.Errorf("Expected DELETED after soft delete, got %s", stored.Visibility)
	}
}

func TestInboxCommentOnKnownEntry(t *testing.T) {
	eng, database := setupEngine(t)
	beta := registerNode(t, eng, "beta", "https://beta.example")
	author := createLocalAuthor(t, eng, database, "frida")
	entry := createEntry(t, eng, database, author, domain.VisibilityPublic)

	comment := &CommentObject{
		Type:      "comment",
		ID:        "https://beta.example/api/comments/" + uuid.NewString(),
		Author:    remoteAuthorObject(beta, "diego"),
		Comment:   "Nice entry",
		Published: time.Now(),
		Entry:     entry.FQID,
	}

	result, err := eng.Inbox.Process(beta, author.FQID, marshal(t, comment))
	if err != nil {
		t.Fatalf("Failed to process comment: %v", err)
	}
	if result.Duplicate {
		t.Error("Expected fresh comment delivery")
	}

	err, count := database.CountCommentsByEntry(entry.FQID)
	if err != nil {
		t.Fatalf("Failed to count comments: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 comment, got %d", count)
	}
}

func TestInboxLikeIsIdempotentAcrossReplays(t *testing.T) {
	eng, database := setupEngine(t)
	beta := registerNode(t, eng, "beta", "https://beta.example")
	author := createLocalAuthor(t, eng, database, "frida")
	entry := createEntry(t, eng, database, author, domain.VisibilityPublic)

	like := &LikeObject{
		Type:      "like",
		ID:        "https://beta.example/api/likes/" + uuid.NewString(),
		Author:    remoteAuthorObject(beta, "diego"),
		Object:    entry.FQID,
		Published: time.Now(),
	}

	if _, err := eng.Inbox.Process(beta, author.FQID, marshal(t, like)); err != nil {
		t.Fatalf("Failed to process like: %v", err)
	}
	if _, err := eng.Inbox.Process(beta, author.FQID, marshal(t, like)); err != nil {
		t.Fatalf("Failed to process like replay: %v", err)
	}

	err, count := database.CountLikesByObject(entry.FQID)
	if err != nil {
		t.Fatalf("Failed to count likes: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 like after replay, got %d", count)
	}
}

func TestInboxRejectsForgedLocalObject(t *testing.T) {
	eng, database := setupEngine(t)
	beta := registerNode(t, eng, "beta", "https://beta.example")
	recipient := createLocalAuthor(t, eng, database, "frida")

	// beta pushes an entry claiming to be minted by us
	forged := &EntryObject{
		Type:       "entry",
		ID:         eng.Minter.EntryFQID(uuid.New()),
		Content:    "Spoofed",
		Visibility: "PUBLIC",
		Published:  time.Now(),
		Author:     remoteAuthorObject(beta, "diego"),
	}

	_, err := eng.Inbox.Process(beta, recipient.FQID, marshal(t, forged))
	if !errors.Is(err, ErrBadRequest) {
		t.Errorf("Expected ErrBadRequest for forged local id, got %v", err)
	}
}

func TestInboxRejectsMalformedPayload(t *testing.T) {
	eng, database := setupEngine(t)
	beta := registerNode(t, eng, "beta", "https://beta.example")
	recipient := createLocalAuthor(t, eng, database, "frida")

	_, err := eng.Inbox.Process(beta, recipient.FQID, []byte(`{"type":"widget"}`))
	if !errors.Is(err, ErrBadRequest) {
		t.Errorf("Expected ErrBadRequest, got %v", err)
	}
}

func TestInboxUnresolvableAuthorHost(t *testing.T) {
	eng, database := setupEngine(t)
	beta := registerNode(t, eng, "beta", "https://beta.example")
	recipient := createLocalAuthor(t, eng, database, "frida")

	// The entry's author lives on a node we have never registered
	entry := &EntryObject{
		Type:       "entry",
		ID:         "https://beta.example/api/entries/" + uuid.NewString(),
		Content:    "Hello",
		Visibility: "PUBLIC",
		Published:  time.Now(),
		Author: AuthorObject{
			Type: "author",
			ID:   "https://unknown.example/api/authors/" + uuid.NewString(),
			Host: "https://unknown.example",
		},
	}

	_, err := eng.Inbox.Process(beta, recipient.FQID, marshal(t, entry))
	if !errors.Is(err, ErrDependencyUnresolved) {
		t.Errorf("Expected ErrDependencyUnresolved, got %v", err)
	}
}

func TestInboxFollowRequestLifecycle(t *testing.T) {
	eng, database := setupEngine(t)
	beta := registerNode(t, eng, "beta", "https://beta.example")
	target := createLocalAuthor(t, eng, database, "frida")

	actor := remoteAuthorObject(beta, "diego")
	request := &FollowObject{
		Type:   "follow",
		ID:     "https://beta.example/api/follows/" + uuid.NewString(),
		Actor:  actor,
		Object: NewAuthorObject(target),
	}

	result, err := eng.Inbox.Process(beta, target.FQID, marshal(t, request))
	if err != nil {
		t.Fatalf("Failed to process follow request: %v", err)
	}
	if result.Duplicate {
		t.Error("Expected fresh follow request")
	}

	err, edge := database.ReadFollow(actor.ID, target.FQID)
	if err != nil {
		t.Fatalf("Follow edge was not created: %v", err)
	}
	if edge.State != domain.FollowPending {
		t.Errorf("Expected PENDING, got %s", edge.State)
	}

	// The followee decides locally; the requester on beta is notified
	if err := eng.FollowAction(actor.ID, target.FQID, "accept"); err != nil {
		t.Fatalf("Failed to accept follow: %v", err)
	}
	err, edge = database.ReadFollow(actor.ID, target.FQID)
	if err != nil {
		t.Fatalf("Failed to read follow: %v", err)
	}
	if edge.State != domain.FollowAccepted {
		t.Errorf("Expected ACCEPTED, got %s", edge.State)
	}

	// The decision is queued for delivery to beta
	err, due := database.ReadDueDeliveries(10)
	if err != nil {
		t.Fatalf("Failed to read deliveries: %v", err)
	}
	if len(*due) != 1 {
		t.Fatalf("Expected 1 queued decision, got %d", len(*due))
	}
	var decision FollowObject
	if err := json.Unmarshal([]byte((*due)[0].Payload), &decision); err != nil {
		t.Fatalf("Failed to decode queued decision: %v", err)
	}
	if decision.Status != FollowStatusAccepted {
		t.Errorf("Expected accepted status on the wire, got %q", decision.Status)
	}
}

func TestInboxFollowRequestForUnknownAuthor(t *testing.T) {
	eng, _ := setupEngine(t)
	beta := registerNode(t, eng, "beta", "https://beta.example")

	request := &FollowObject{
		Type:  "follow",
		ID:    "https://beta.example/api/follows/" + uuid.NewString(),
		Actor: remoteAuthorObject(beta, "diego"),
		Object: AuthorObject{
			Type: "author",
			ID:   "https://alpha.example/api/authors/" + uuid.NewString(),
			Host: "https://alpha.example",
		},
	}

	_, err := eng.Inbox.Process(beta, eng.Minter.BaseURL(), marshal(t, request))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown followee, got %v", err)
	}
}

func TestInboxAcceptWithoutPendingIsLoggedNotApplied(t *testing.T) {
	eng, database := setupEngine(t)
	beta := registerNode(t, eng, "beta", "https://beta.example")
	local := createLocalAuthor(t, eng, database, "frida")

	remote := remoteAuthorObject(beta, "diego")
	accept := &FollowObject{
		Type:   "follow",
		ID:     eng.Minter.FollowFQID(uuid.New()),
		Actor:  NewAuthorObject(local),
		Object: remote,
		Status: FollowStatusAccepted,
	}

	// No pending edge exists; the delivery is still acknowledged
	result, err := eng.Inbox.Process(beta, local.FQID, marshal(t, accept))
	if err != nil {
		t.Fatalf("Expected accept without pending edge to be acknowledged: %v", err)
	}
	if result.Duplicate {
		t.Error("Expected fresh delivery")
	}

	// And no ACCEPTED edge was conjured up
	err, _ = database.ReadFollow(local.FQID, remote.ID)
	if err == nil {
		t.Error("Expected no follow edge to be created by a stray accept")
	}
}

func TestInboxRejectLeavesAcceptedEdgeAlone(t *testing.T) {
	eng, database := setupEngine(t)
	beta := registerNode(t, eng, "beta", "https://beta.example")
	local := createLocalAuthor(t, eng, database, "frida")

	remote := remoteAuthorObject(beta, "diego")
	follow(t, database, local.FQID, remote.ID, true)

	// A late or duplicate reject must not tear down the relationship the
	// peer already granted. It is logged and acknowledged, nothing more.
	reject := &FollowObject{
		Type:   "follow",
		ID:     eng.Minter.FollowFQID(uuid.New()),
		Actor:  NewAuthorObject(local),
		Object: remote,
		Status: FollowStatusRejected,
	}
	if _, err := eng.Inbox.Process(beta, local.FQID, marshal(t, reject)); err != nil {
		t.Fatalf("Expected stray reject to be acknowledged: %v", err)
	}

	err, edge := database.ReadFollow(local.FQID, remote.ID)
	if err != nil {
		t.Fatalf("Expected accepted edge to survive the reject: %v", err)
	}
	if edge.State != domain.FollowAccepted {
		t.Errorf("Expected edge to stay ACCEPTED, got %s", edge.State)
	}
}
