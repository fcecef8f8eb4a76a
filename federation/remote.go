package federation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/vireonet/vireo/db"
	"github.com/vireonet/vireo/domain"
	"github.com/vireonet/vireo/util"
)

const remoteFetchRetries = 3

// RemoteClient performs authenticated reads against peer nodes: dependency
// fetches for the inbox processor and follower checks for reconciliation.
type RemoteClient struct {
	db       *db.DB
	registry *Registry
	client   *http.Client
}

func NewRemoteClient(database *db.DB, registry *Registry, conf *util.AppConfig) *RemoteClient {
	return &RemoteClient{
		db:       database,
		registry: registry,
		client: &http.Client{
			Timeout: time.Duration(conf.Conf.DeliveryTimeoutSec) * time.Second,
		},
	}
}

// get issues an authenticated GET against the node owning the URL and decodes
// the JSON response into out. Retries transport-level failures; a definitive
// HTTP status is returned as-is.
func (r *RemoteClient) get(rawURL string, out interface{}) error {
	ref, err := ParseFQID(rawURL)
	var base string
	if err == nil {
		base = ref.BaseURL
	} else {
		u, perr := url.Parse(rawURL)
		if perr != nil {
			return fmt.Errorf("%w: %v", ErrBadRequest, perr)
		}
		base = u.Scheme + "://" + u.Host
	}

	node, err := r.registry.LookupByURL(base)
	if err != nil {
		return fmt.Errorf("no registered node for %s: %w", base, err)
	}
	if !node.Enabled {
		return ErrNodeDisabled
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequest(http.MethodGet, rawURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.SetBasicAuth(node.OutboundUsername, node.OutboundPassword)
			req.Header.Set("Accept", "application/json")

			resp, err := r.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				return retry.Unrecoverable(ErrNotFound)
			case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
				return retry.Unrecoverable(fmt.Errorf("%w: node %s returned %d", ErrUnauthorized, node.Name, resp.StatusCode))
			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				return retry.Unrecoverable(fmt.Errorf("node %s returned %d", node.Name, resp.StatusCode))
			case resp.StatusCode >= 500:
				return fmt.Errorf("node %s returned %d", node.Name, resp.StatusCode)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return err
			}
			return json.Unmarshal(body, out)
		},
		retry.Attempts(remoteFetchRetries),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

func (r *RemoteClient) FetchAuthor(fqid string) (*AuthorObject, error) {
	var obj AuthorObject
	if err := r.get(fqid, &obj); err != nil {
		return nil, err
	}
	obj.ID = fqid
	if err := obj.Validate(); err != nil {
		return nil, err
	}
	return &obj, nil
}

func (r *RemoteClient) FetchEntry(fqid string) (*EntryObject, error) {
	var obj EntryObject
	if err := r.get(fqid, &obj); err != nil {
		return nil, err
	}
	obj.ID = fqid
	if err := obj.Validate(); err != nil {
		return nil, err
	}
	return &obj, nil
}

// CacheAuthor stores or refreshes the local replica of a remote author.
func (r *RemoteClient) CacheAuthor(obj *AuthorObject) (*domain.Author, error) {
	ref, err := ParseFQID(obj.ID)
	if err != nil {
		return nil, err
	}
	node, err := r.registry.LookupByURL(ref.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("author %s belongs to no registered node", obj.ID)
	}

	author := &domain.Author{
		Id:          ref.LocalId,
		FQID:        obj.ID,
		Username:    obj.DisplayName,
		DisplayName: obj.DisplayName,
		ProfileURL:  obj.Web,
		NodeId:      node.Id,
		Local:       false,
		CreatedAt:   time.Now(),
	}
	if err := r.db.UpsertRemoteAuthor(author); err != nil {
		return nil, err
	}
	return author, nil
}

// CacheEntry stores or refreshes the local replica of a remote entry, caching
// its author first so the foreign key resolves.
func (r *RemoteClient) CacheEntry(obj *EntryObject) (*domain.Entry, error) {
	ref, err := ParseFQID(obj.ID)
	if err != nil {
		return nil, err
	}
	if _, err := r.CacheAuthor(&obj.Author); err != nil {
		return nil, err
	}

	visibility := domain.Visibility(obj.Visibility)
	if !visibility.Valid() {
		return nil, fmt.Errorf("%w: unknown visibility %q", ErrBadRequest, obj.Visibility)
	}

	entry := &domain.Entry{
		Id:          ref.LocalId,
		FQID:        obj.ID,
		AuthorFQID:  obj.Author.ID,
		Title:       obj.Title,
		Description: obj.Description,
		ContentType: obj.ContentType,
		Content:     obj.Content,
		Visibility:  visibility,
		Published:   obj.Published,
		Updated:     time.Now(),
	}
	if err := r.db.UpsertEntry(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// HasFollower asks the followee's node whether it still records the follow
// edge. Used by reconciliation only, so a definitive 404 is a clean false.
func (r *RemoteClient) HasFollower(followeeFQID, followerFQID string) (bool, error) {
	checkURL := followeeFQID + "/followers/" + url.PathEscape(followerFQID)
	var obj FollowObject
	err := r.get(checkURL, &obj)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
