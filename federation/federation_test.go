package federation

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vireonet/vireo/db"
	"github.com/vireonet/vireo/domain"
	"github.com/vireonet/vireo/util"
)

// setupTestDB opens a throwaway database in a temp dir and migrates it.
func setupTestDB(t *testing.T) *db.DB {
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return database
}

func testConf(domainName string) *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.Host = "127.0.0.1"
	conf.Conf.HttpPort = 8080
	conf.Conf.Domain = domainName
	conf.Conf.NodeName = "test-node"
	conf.Conf.WithFed = true
	conf.Conf.MaxAttempts = 3
	conf.Conf.BackoffBaseSec = 1
	conf.Conf.BackoffCapSec = 4
	conf.Conf.DeliveryTimeoutSec = 2
	return conf
}

// setupEngine builds an engine on a fresh database, minting as alpha.example.
func setupEngine(t *testing.T) (*Engine, *db.DB) {
	database := setupTestDB(t)
	eng, err := NewEngine(database, testConf("alpha.example"))
	if err != nil {
		t.Fatalf("Failed to build engine: %v", err)
	}
	return eng, database
}

// registerNode adds a peer to the registry with known credentials.
func registerNode(t *testing.T, eng *Engine, name, baseURL string) *domain.Node {
	hash, err := HashInboundPassword("letmein-" + name)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	node := &domain.Node{
		Id:                  uuid.New(),
		Name:                name,
		BaseURL:             baseURL,
		OutboundUsername:    "out-" + name,
		OutboundPassword:    "outpw-" + name,
		InboundUsername:     "in-" + name,
		InboundPasswordHash: hash,
		Enabled:             true,
		CreatedAt:           time.Now(),
	}
	if err := eng.Registry.Add(node); err != nil {
		t.Fatalf("Failed to add node: %v", err)
	}
	return node
}

// createLocalAuthor stores a local author minted by the engine's node.
func createLocalAuthor(t *testing.T, eng *Engine, database *db.DB, username string) *domain.Author {
	id := uuid.New()
	author := &domain.Author{
		Id:          id,
		FQID:        eng.Minter.AuthorFQID(id),
		Username:    username,
		DisplayName: username,
		ProfileURL:  eng.Minter.BaseURL() + "/u/" + username,
		Local:       true,
		CreatedAt:   time.Now(),
	}
	if err := database.CreateAuthor(author); err != nil {
		t.Fatalf("Failed to create local author: %v", err)
	}
	return author
}

// remoteAuthorObject fabricates the wire form of an author on the given node.
func remoteAuthorObject(node *domain.Node, name string) AuthorObject {
	id := uuid.New()
	return AuthorObject{
		Type:        string(KindAuthor),
		ID:          node.BaseURL + "/api/authors/" + id.String(),
		Host:        node.BaseURL,
		DisplayName: name,
		Web:         node.BaseURL + "/u/" + name,
	}
}
