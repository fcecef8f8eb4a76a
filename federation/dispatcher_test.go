package federation

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vireonet/vireo/domain"
)

// inboxRecorder is a stand-in peer node that captures every delivery POST.
type inboxRecorder struct {
	status    int
	paths     []string
	bodies    [][]byte
	usernames []string
}

func (r *inboxRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			t.Errorf("Failed to read delivery body: %v", err)
		}
		user, _, _ := req.BasicAuth()
		r.paths = append(r.paths, req.URL.Path)
		r.bodies = append(r.bodies, body)
		r.usernames = append(r.usernames, user)
		w.WriteHeader(r.status)
	}
}

func queuedEntry(t *testing.T, eng *Engine, d *Dispatcher, node *domain.Node, recipientFQID string) *EntryObject {
	entry := &EntryObject{
		Type:       string(KindEntry),
		ID:         eng.Minter.EntryFQID(uuid.New()),
		Content:    "Outbound",
		Visibility: "PUBLIC",
		Published:  time.Now(),
		Author: AuthorObject{
			Type: string(KindAuthor),
			ID:   eng.Minter.AuthorFQID(uuid.New()),
			Host: eng.Minter.BaseURL(),
		},
	}
	recipients := &RecipientSet{
		Remote: []RemoteRecipient{{Node: *node, RecipientFQID: recipientFQID}},
	}
	if err := d.Enqueue(entry, recipients); err != nil {
		t.Fatalf("Failed to enqueue delivery: %v", err)
	}
	return entry
}

func dueCount(t *testing.T, eng *Engine) int {
	err, due := eng.Dispatcher.db.ReadDueDeliveries(dispatchBatchSize)
	if err != nil {
		t.Fatalf("Failed to read due deliveries: %v", err)
	}
	return len(*due)
}

func TestDispatcherDeliversToSharedInbox(t *testing.T) {
	eng, _ := setupEngine(t)
	recorder := &inboxRecorder{status: http.StatusAccepted}
	server := httptest.NewServer(recorder.handler(t))
	defer server.Close()

	node := registerNode(t, eng, "beta", server.URL)
	queuedEntry(t, eng, eng.Dispatcher, node, "")

	eng.Dispatcher.processQueue()

	if len(recorder.paths) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(recorder.paths))
	}
	if recorder.paths[0] != "/api/inbox" {
		t.Errorf("Expected broadcast to the shared inbox, got %s", recorder.paths[0])
	}
	if recorder.usernames[0] != "out-beta" {
		t.Errorf("Expected outbound credentials, got %q", recorder.usernames[0])
	}
	if n := dueCount(t, eng); n != 0 {
		t.Errorf("Expected queue drained after delivery, got %d items", n)
	}
}

func TestDispatcherDeliversToRecipientInbox(t *testing.T) {
	eng, _ := setupEngine(t)
	recorder := &inboxRecorder{status: http.StatusOK}
	server := httptest.NewServer(recorder.handler(t))
	defer server.Close()

	node := registerNode(t, eng, "beta", server.URL)
	recipientId := uuid.New()
	recipient := server.URL + "/api/authors/" + recipientId.String()
	queuedEntry(t, eng, eng.Dispatcher, node, recipient)

	eng.Dispatcher.processQueue()

	if len(recorder.paths) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(recorder.paths))
	}
	want := "/api/authors/" + recipientId.String() + "/inbox"
	if recorder.paths[0] != want {
		t.Errorf("Expected delivery to %s, got %s", want, recorder.paths[0])
	}
}

func TestDispatcherRetriesRefusedDelivery(t *testing.T) {
	eng, database := setupEngine(t)
	recorder := &inboxRecorder{status: http.StatusInternalServerError}
	server := httptest.NewServer(recorder.handler(t))
	defer server.Close()

	node := registerNode(t, eng, "beta", server.URL)
	queuedEntry(t, eng, eng.Dispatcher, node, "")

	eng.Dispatcher.processQueue()

	if len(recorder.paths) != 1 {
		t.Fatalf("Expected 1 attempt, got %d", len(recorder.paths))
	}
	// The item is rescheduled into the future, so it is no longer due
	if n := dueCount(t, eng); n != 0 {
		t.Errorf("Expected rescheduled item to leave the due set, got %d", n)
	}
	err, failures := database.ReadDeliveryFailures(10)
	if err != nil {
		t.Fatalf("Failed to read failures: %v", err)
	}
	if len(*failures) != 0 {
		t.Errorf("Expected no abandoned deliveries yet, got %d", len(*failures))
	}
}

func TestDispatcherAbandonsAfterAttemptBudget(t *testing.T) {
	eng, database := setupEngine(t)
	recorder := &inboxRecorder{status: http.StatusBadGateway}
	server := httptest.NewServer(recorder.handler(t))
	defer server.Close()

	node := registerNode(t, eng, "beta", server.URL)
	// Two attempts already burned; MaxAttempts is 3, so the next failure
	// moves the item to the failure log.
	item := &domain.DeliveryAttempt{
		Id:          uuid.New(),
		ObjectFQID:  eng.Minter.EntryFQID(uuid.New()),
		AuthorFQID:  eng.Minter.AuthorFQID(uuid.New()),
		NodeId:      node.Id,
		Payload:     `{"type":"entry"}`,
		Attempts:    2,
		NextRetryAt: time.Now().Add(-time.Second),
		CreatedAt:   time.Now(),
	}
	if err := database.EnqueueDelivery(item); err != nil {
		t.Fatalf("Failed to enqueue delivery: %v", err)
	}

	eng.Dispatcher.processQueue()

	if n := dueCount(t, eng); n != 0 {
		t.Errorf("Expected abandoned item removed from queue, got %d", n)
	}
	err, failures := database.ReadDeliveryFailures(10)
	if err != nil {
		t.Fatalf("Failed to read failures: %v", err)
	}
	if len(*failures) != 1 {
		t.Fatalf("Expected 1 failure record, got %d", len(*failures))
	}
	if (*failures)[0].Attempts != 3 {
		t.Errorf("Expected failure after 3 attempts, got %d", (*failures)[0].Attempts)
	}
}

func TestDispatcherAbandonsForDisabledNode(t *testing.T) {
	eng, database := setupEngine(t)
	node := registerNode(t, eng, "beta", "https://beta.example")
	queuedEntry(t, eng, eng.Dispatcher, node, "")

	if err := eng.Registry.SetEnabled(node.Id, false); err != nil {
		t.Fatalf("Failed to disable node: %v", err)
	}

	eng.Dispatcher.processQueue()

	if n := dueCount(t, eng); n != 0 {
		t.Errorf("Expected queue drained, got %d items", n)
	}
	err, failures := database.ReadDeliveryFailures(10)
	if err != nil {
		t.Fatalf("Failed to read failures: %v", err)
	}
	if len(*failures) != 1 {
		t.Fatalf("Expected 1 failure record, got %d", len(*failures))
	}
	if (*failures)[0].LastStatus != "node disabled" {
		t.Errorf("Expected disabled-node cause, got %q", (*failures)[0].LastStatus)
	}
	// No delivery was ever attempted against the disabled node
	if (*failures)[0].Attempts != 0 {
		t.Errorf("Expected 0 attempts recorded, got %d", (*failures)[0].Attempts)
	}
}

func TestDispatcherParksLaterItemsBySameAuthor(t *testing.T) {
	eng, _ := setupEngine(t)
	recorder := &inboxRecorder{status: http.StatusInternalServerError}
	server := httptest.NewServer(recorder.handler(t))
	defer server.Close()

	node := registerNode(t, eng, "beta", server.URL)
	authorFQID := eng.Minter.AuthorFQID(uuid.New())

	entries := make([]*EntryObject, 2)
	for i := range entries {
		entries[i] = &EntryObject{
			Type:       string(KindEntry),
			ID:         eng.Minter.EntryFQID(uuid.New()),
			Content:    "Ordered",
			Visibility: "PUBLIC",
			Published:  time.Now(),
			Author:     AuthorObject{Type: string(KindAuthor), ID: authorFQID, Host: eng.Minter.BaseURL()},
		}
		recipients := &RecipientSet{Remote: []RemoteRecipient{{Node: *node}}}
		if err := eng.Dispatcher.Enqueue(entries[i], recipients); err != nil {
			t.Fatalf("Failed to enqueue delivery: %v", err)
		}
	}

	eng.Dispatcher.processQueue()

	// The first item fails, so the second is never attempted this pass.
	// Sending it anyway would reorder the author's stream on the receiver.
	if len(recorder.paths) != 1 {
		t.Fatalf("Expected only the first item attempted, got %d deliveries", len(recorder.paths))
	}

	// The peer recovers. The parked item was deferred behind the failed
	// one, so a later worker cycle must not deliver it out of order either.
	recorder.status = http.StatusAccepted
	eng.Dispatcher.processQueue()
	if len(recorder.paths) != 1 {
		t.Fatalf("Expected the parked item to wait for the earlier one, got %d deliveries", len(recorder.paths))
	}
	if n := dueCount(t, eng); n != 0 {
		t.Errorf("Expected both items waiting on the retry window, got %d due", n)
	}

	err, failures := eng.Dispatcher.db.ReadDeliveryFailures(10)
	if err != nil {
		t.Fatalf("Failed to read failures: %v", err)
	}
	if len(*failures) != 0 {
		t.Errorf("Expected nothing abandoned, got %d", len(*failures))
	}

	// Once the retry window passes, both go out in enqueue order.
	time.Sleep(1500 * time.Millisecond)
	eng.Dispatcher.processQueue()
	if len(recorder.paths) != 3 {
		t.Fatalf("Expected both items delivered after the retry window, got %d deliveries", len(recorder.paths))
	}
	for i, want := range entries {
		var wire EntryObject
		if err := json.Unmarshal(recorder.bodies[i+1], &wire); err != nil {
			t.Fatalf("Failed to decode delivery %d: %v", i+1, err)
		}
		if wire.ID != want.ID {
			t.Errorf("Delivery %d out of order: expected %s, got %s", i+1, want.ID, wire.ID)
		}
	}
}
