package federation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/vireonet/vireo/db"
	"github.com/vireonet/vireo/domain"
)

// Kind names the object kinds that cross node boundaries. The values double
// as the discriminator field on the wire and (pluralized) as the FQID path
// segment.
type Kind string

const (
	KindAuthor  Kind = "author"
	KindEntry   Kind = "entry"
	KindComment Kind = "comment"
	KindLike    Kind = "like"
	KindFollow  Kind = "follow"
)

var kindSegments = map[Kind]string{
	KindAuthor:  "authors",
	KindEntry:   "entries",
	KindComment: "comments",
	KindLike:    "likes",
	KindFollow:  "follows",
}

var segmentKinds = map[string]Kind{
	"authors":  KindAuthor,
	"entries":  KindEntry,
	"comments": KindComment,
	"likes":    KindLike,
	"follows":  KindFollow,
}

// Ref is a parsed FQID: the origin node's base URL, the kind, and the
// origin-local identifier.
type Ref struct {
	Kind    Kind
	BaseURL string
	LocalId uuid.UUID
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/api/%s/%s", r.BaseURL, kindSegments[r.Kind], r.LocalId)
}

// ParseFQID validates and decomposes an FQID of the form
// https://host/api/<kind>/<uuid>.
func ParseFQID(fqid string) (Ref, error) {
	u, err := url.Parse(fqid)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: invalid fqid %q", ErrBadRequest, fqid)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Ref{}, fmt.Errorf("%w: fqid %q is not an absolute http(s) URL", ErrBadRequest, fqid)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "api" {
		return Ref{}, fmt.Errorf("%w: fqid %q has an unrecognized path", ErrBadRequest, fqid)
	}

	kind, ok := segmentKinds[parts[1]]
	if !ok {
		return Ref{}, fmt.Errorf("%w: fqid %q has unknown kind %q", ErrBadRequest, fqid, parts[1])
	}

	localId, err := uuid.Parse(parts[2])
	if err != nil {
		return Ref{}, fmt.Errorf("%w: fqid %q has a malformed local id", ErrBadRequest, fqid)
	}

	return Ref{Kind: kind, BaseURL: fmt.Sprintf("%s://%s", u.Scheme, u.Host), LocalId: localId}, nil
}

// Minter builds FQIDs for objects originating on this node. A receiving node
// must never mint an id for an object it did not create.
type Minter struct {
	base string
}

func NewMinter(baseURL string) *Minter {
	return &Minter{base: domain.NormalizeBaseURL(baseURL)}
}

func (m *Minter) BaseURL() string {
	return m.base
}

func (m *Minter) FQID(kind Kind, localId uuid.UUID) string {
	return fmt.Sprintf("%s/api/%s/%s", m.base, kindSegments[kind], localId)
}

func (m *Minter) AuthorFQID(id uuid.UUID) string  { return m.FQID(KindAuthor, id) }
func (m *Minter) EntryFQID(id uuid.UUID) string   { return m.FQID(KindEntry, id) }
func (m *Minter) CommentFQID(id uuid.UUID) string { return m.FQID(KindComment, id) }
func (m *Minter) LikeFQID(id uuid.UUID) string    { return m.FQID(KindLike, id) }
func (m *Minter) FollowFQID(id uuid.UUID) string  { return m.FQID(KindFollow, id) }

// IsLocal reports whether the FQID was minted by this node.
func (m *Minter) IsLocal(fqid string) bool {
	return strings.HasPrefix(fqid, m.base+"/")
}

// Entity is the result of resolving an FQID; exactly one field besides Kind
// is set.
type Entity struct {
	Kind    Kind
	Author  *domain.Author
	Entry   *domain.Entry
	Comment *domain.Comment
	Like    *domain.Like
}

// Resolver answers "what does this FQID denote". Local FQIDs and cached
// replicas come from the store; unknown foreign FQIDs fall through to a live
// fetch from the origin node when a fetcher is wired in.
type Resolver struct {
	db     *db.DB
	minter *Minter
	remote *RemoteClient // nil disables live fetches
}

func NewResolver(database *db.DB, minter *Minter, remote *RemoteClient) *Resolver {
	return &Resolver{db: database, minter: minter, remote: remote}
}

// Resolve returns the entity an FQID denotes, or ErrNotFound.
func (r *Resolver) Resolve(fqid string) (*Entity, error) {
	ref, err := ParseFQID(fqid)
	if err != nil {
		return nil, err
	}

	entity, err := r.lookupLocal(ref, fqid)
	if err == nil {
		return entity, nil
	}

	// A local-origin FQID with no record is simply unknown; nobody else can
	// be asked about it.
	if r.minter.IsLocal(fqid) || r.remote == nil {
		return nil, ErrNotFound
	}

	return r.fetchRemote(ref, fqid)
}

func (r *Resolver) lookupLocal(ref Ref, fqid string) (*Entity, error) {
	switch ref.Kind {
	case KindAuthor:
		if err, a := r.db.ReadAuthorByFQID(fqid); err == nil && a != nil {
			return &Entity{Kind: KindAuthor, Author: a}, nil
		}
	case KindEntry:
		if err, e := r.db.ReadEntryByFQID(fqid); err == nil && e != nil {
			return &Entity{Kind: KindEntry, Entry: e}, nil
		}
	case KindComment:
		if err, c := r.db.ReadCommentByFQID(fqid); err == nil && c != nil {
			return &Entity{Kind: KindComment, Comment: c}, nil
		}
	case KindLike:
		if err, l := r.db.ReadLikeByFQID(fqid); err == nil && l != nil {
			return &Entity{Kind: KindLike, Like: l}, nil
		}
	}
	return nil, ErrNotFound
}

// fetchRemote pulls the object from its origin node and caches a replica.
func (r *Resolver) fetchRemote(ref Ref, fqid string) (*Entity, error) {
	switch ref.Kind {
	case KindAuthor:
		obj, err := r.remote.FetchAuthor(fqid)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDependencyUnresolved, err)
		}
		author, err := r.remote.CacheAuthor(obj)
		if err != nil {
			return nil, err
		}
		return &Entity{Kind: KindAuthor, Author: author}, nil
	case KindEntry:
		obj, err := r.remote.FetchEntry(fqid)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDependencyUnresolved, err)
		}
		entry, err := r.remote.CacheEntry(obj)
		if err != nil {
			return nil, err
		}
		return &Entity{Kind: KindEntry, Entry: entry}, nil
	default:
		// Comments, likes and follows are only learned through inbox
		// deliveries; there is nothing to fetch.
		return nil, ErrNotFound
	}
}
