package federation

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/vireonet/vireo/db"
	"github.com/vireonet/vireo/domain"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the inbound username is unknown, so a
// miss costs the same as a wrong password and lookups don't leak via timing.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Registry is the in-memory view of the nodes table. Authentication happens
// on every inbound call, so reads are served from the cache and the cache is
// reloaded on every write.
type Registry struct {
	db *db.DB

	mu        sync.RWMutex
	byURL     map[string]domain.Node
	byInbound map[string]domain.Node
	byId      map[uuid.UUID]domain.Node
}

func NewRegistry(database *db.DB) (*Registry, error) {
	r := &Registry{db: database}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the cached view with the current table contents.
func (r *Registry) Reload() error {
	err, nodes := r.db.ReadAllNodes()
	if err != nil {
		return fmt.Errorf("failed to load nodes: %w", err)
	}

	byURL := make(map[string]domain.Node, len(*nodes))
	byInbound := make(map[string]domain.Node, len(*nodes))
	byId := make(map[uuid.UUID]domain.Node, len(*nodes))
	for _, n := range *nodes {
		n.BaseURL = domain.NormalizeBaseURL(n.BaseURL)
		byURL[n.BaseURL] = n
		byInbound[n.InboundUsername] = n
		byId[n.Id] = n
	}

	r.mu.Lock()
	r.byURL = byURL
	r.byInbound = byInbound
	r.byId = byId
	r.mu.Unlock()
	return nil
}

// LookupByURL finds the node registered under the given base URL.
func (r *Registry) LookupByURL(baseURL string) (*domain.Node, error) {
	r.mu.RLock()
	n, ok := r.byURL[domain.NormalizeBaseURL(baseURL)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &n, nil
}

func (r *Registry) LookupById(id uuid.UUID) (*domain.Node, error) {
	r.mu.RLock()
	n, ok := r.byId[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &n, nil
}

// AuthenticateInbound matches a basic-auth credential pair against the
// registry. Disabled nodes fail even with correct credentials.
func (r *Registry) AuthenticateInbound(username, password string) (*domain.Node, error) {
	r.mu.RLock()
	n, ok := r.byInbound[username]
	r.mu.RUnlock()

	if !ok {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrUnauthorized
	}

	if err := bcrypt.CompareHashAndPassword([]byte(n.InboundPasswordHash), []byte(password)); err != nil {
		return nil, ErrUnauthorized
	}

	if !n.Enabled {
		return nil, ErrNodeDisabled
	}

	return &n, nil
}

// CredentialsForOutbound returns the basic-auth pair this node presents when
// calling the peer.
func (r *Registry) CredentialsForOutbound(id uuid.UUID) (string, string, error) {
	n, err := r.LookupById(id)
	if err != nil {
		return "", "", err
	}
	if !n.Enabled {
		return "", "", ErrNodeDisabled
	}
	return n.OutboundUsername, n.OutboundPassword, nil
}

// All returns a snapshot of every registered node.
func (r *Registry) All() []domain.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes := make([]domain.Node, 0, len(r.byURL))
	for _, n := range r.byURL {
		nodes = append(nodes, n)
	}
	return nodes
}

// Enabled returns a snapshot of the nodes that participate in fan-out.
func (r *Registry) Enabled() []domain.Node {
	var nodes []domain.Node
	for _, n := range r.All() {
		if n.Enabled {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// Add stores a new node and refreshes the cache.
func (r *Registry) Add(n *domain.Node) error {
	if err := r.db.CreateNode(n); err != nil {
		return err
	}
	log.Printf("Registry: Added node %s (%s)", n.Name, domain.NormalizeBaseURL(n.BaseURL))
	return r.Reload()
}

// SetEnabled flips the trust flag and refreshes the cache.
func (r *Registry) SetEnabled(id uuid.UUID, enabled bool) error {
	if err := r.db.SetNodeEnabled(id, enabled); err != nil {
		return err
	}
	log.Printf("Registry: Node %s enabled=%v", id, enabled)
	return r.Reload()
}

// HashInboundPassword prepares a cleartext inbound password for storage.
func HashInboundPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
