package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vireonet/vireo/domain"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *DB {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	// One connection, or every conn gets its own empty memory database
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func testAuthor(base string, local bool) *domain.Author {
	id := uuid.New()
	return &domain.Author{
		Id:          id,
		FQID:        base + "/api/authors/" + id.String(),
		Username:    "frida",
		DisplayName: "Frida",
		ProfileURL:  base + "/u/frida",
		NodeId:      uuid.New(),
		Local:       local,
		CreatedAt:   time.Now(),
	}
}

func testNode(name, baseURL string) *domain.Node {
	return &domain.Node{
		Id:                  uuid.New(),
		Name:                name,
		BaseURL:             baseURL,
		OutboundUsername:    "out-" + name,
		OutboundPassword:    "secret",
		InboundUsername:     "in-" + name,
		InboundPasswordHash: "$2a$10$abcdefghijklmnopqrstuvwxyz012345678901234567890123456",
		Enabled:             true,
		CreatedAt:           time.Now(),
	}
}

func TestCreateAndReadAuthor(t *testing.T) {
	db := setupTestDB(t)

	author := testAuthor("https://alpha.example", true)
	if err := db.CreateAuthor(author); err != nil {
		t.Fatalf("Failed to create author: %v", err)
	}

	err, got := db.ReadAuthorByFQID(author.FQID)
	if err != nil {
		t.Fatalf("Failed to read author: %v", err)
	}
	if got.Id != author.Id {
		t.Errorf("Expected id %s, got %s", author.Id, got.Id)
	}
	if !got.Local {
		t.Error("Expected author to be local")
	}

	err, byId := db.ReadAuthorById(author.Id)
	if err != nil {
		t.Fatalf("Failed to read author by id: %v", err)
	}
	if byId.FQID != author.FQID {
		t.Errorf("Expected fqid %s, got %s", author.FQID, byId.FQID)
	}
}

func TestUpsertRemoteAuthorRefreshesReplica(t *testing.T) {
	db := setupTestDB(t)

	author := testAuthor("https://beta.example", false)
	if err := db.UpsertRemoteAuthor(author); err != nil {
		t.Fatalf("Failed to upsert author: %v", err)
	}

	author.DisplayName = "Frida K."
	author.ProfileURL = "https://beta.example/u/frida-k"
	if err := db.UpsertRemoteAuthor(author); err != nil {
		t.Fatalf("Failed to re-upsert author: %v", err)
	}

	err, got := db.ReadAuthorByFQID(author.FQID)
	if err != nil {
		t.Fatalf("Failed to read author: %v", err)
	}
	if got.DisplayName != "Frida K." {
		t.Errorf("Expected refreshed display name, got %q", got.DisplayName)
	}
}

func TestReadLocalAuthorPage(t *testing.T) {
	db := setupTestDB(t)

	for i := 0; i < 3; i++ {
		if err := db.CreateAuthor(testAuthor("https://alpha.example", true)); err != nil {
			t.Fatalf("Failed to create author: %v", err)
		}
	}
	// Remote replicas must not show up in the local listing
	if err := db.UpsertRemoteAuthor(testAuthor("https://beta.example", false)); err != nil {
		t.Fatalf("Failed to upsert remote author: %v", err)
	}

	err, count := db.CountLocalAuthors()
	if err != nil {
		t.Fatalf("Failed to count local authors: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 local authors, got %d", count)
	}

	err, page := db.ReadLocalAuthorPage(1, 2)
	if err != nil {
		t.Fatalf("Failed to read author page: %v", err)
	}
	if len(*page) != 2 {
		t.Errorf("Expected page of 2 authors, got %d", len(*page))
	}

	err, page2 := db.ReadLocalAuthorPage(2, 2)
	if err != nil {
		t.Fatalf("Failed to read second page: %v", err)
	}
	if len(*page2) != 1 {
		t.Errorf("Expected 1 author on second page, got %d", len(*page2))
	}
}

func TestNodeLifecycle(t *testing.T) {
	db := setupTestDB(t)

	node := testNode("beta", "https://beta.example")
	if err := db.CreateNode(node); err != nil {
		t.Fatalf("Failed to create node: %v", err)
	}

	err, nodes := db.ReadAllNodes()
	if err != nil {
		t.Fatalf("Failed to read nodes: %v", err)
	}
	if len(*nodes) != 1 {
		t.Fatalf("Expected 1 node, got %d", len(*nodes))
	}
	if !(*nodes)[0].Enabled {
		t.Error("Expected node to be enabled")
	}

	if err := db.SetNodeEnabled(node.Id, false); err != nil {
		t.Fatalf("Failed to disable node: %v", err)
	}
	err, nodes = db.ReadAllNodes()
	if err != nil {
		t.Fatalf("Failed to read nodes: %v", err)
	}
	if (*nodes)[0].Enabled {
		t.Error("Expected node to be disabled")
	}

	node.Name = "beta-renamed"
	node.Enabled = true
	if err := db.UpdateNode(node); err != nil {
		t.Fatalf("Failed to update node: %v", err)
	}
	err, nodes = db.ReadAllNodes()
	if err != nil {
		t.Fatalf("Failed to read nodes: %v", err)
	}
	if (*nodes)[0].Name != "beta-renamed" {
		t.Errorf("Expected renamed node, got %q", (*nodes)[0].Name)
	}

	if err := db.DeleteNode(node.Id); err != nil {
		t.Fatalf("Failed to delete node: %v", err)
	}
	err, nodes = db.ReadAllNodes()
	if err != nil {
		t.Fatalf("Failed to read nodes: %v", err)
	}
	if len(*nodes) != 0 {
		t.Errorf("Expected no nodes after delete, got %d", len(*nodes))
	}
}
