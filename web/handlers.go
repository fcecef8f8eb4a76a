package web

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vireonet/vireo/db"
	"github.com/vireonet/vireo/domain"
	"github.com/vireonet/vireo/federation"
	"github.com/vireonet/vireo/util"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
	dependencyRetry = "30"
)

type handlers struct {
	conf *util.AppConfig
	eng  *federation.Engine
}

// envelope is the wire shape of every paginated collection.
type envelope struct {
	Type       string      `json:"type"`
	PageNumber int         `json:"page_number"`
	Size       int         `json:"size"`
	Count      int         `json:"count"`
	Src        interface{} `json:"src"`
}

func pagination(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ = strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(defaultPageSize)))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > maxPageSize {
		size = defaultPageSize
	}
	return page, size
}

func pathId(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid object id"})
		return uuid.Nil, false
	}
	return id, true
}

// --- authors ---

func (h *handlers) handleAuthors(c *gin.Context) {
	page, size := pagination(c)
	database := db.GetDB()

	err, authors := database.ReadLocalAuthorPage(page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read authors"})
		return
	}
	err, count := database.CountLocalAuthors()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read authors"})
		return
	}

	src := make([]federation.AuthorObject, 0, len(*authors))
	for i := range *authors {
		src = append(src, federation.NewAuthorObject(&(*authors)[i]))
	}
	c.JSON(http.StatusOK, envelope{Type: "authors", PageNumber: page, Size: size, Count: count, Src: src})
}

func (h *handlers) handleAuthor(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	err, author := db.GetDB().ReadAuthorByFQID(h.eng.Minter.AuthorFQID(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Author not found"})
		return
	}
	c.JSON(http.StatusOK, federation.NewAuthorObject(author))
}

func (h *handlers) handleAuthorEntries(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	page, size := pagination(c)
	database := db.GetDB()

	authorFQID := h.eng.Minter.AuthorFQID(id)
	err, author := database.ReadAuthorByFQID(authorFQID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Author not found"})
		return
	}

	// Anonymous browsing enumerates public entries only, and the envelope
	// count matches that selection.
	err, entries := database.ReadPublicEntriesByAuthor(authorFQID, page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read entries"})
		return
	}
	err, count := database.CountPublicEntriesByAuthor(authorFQID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read entries"})
		return
	}

	src := make([]*federation.EntryObject, 0, len(*entries))
	for i := range *entries {
		src = append(src, federation.NewEntryObject(&(*entries)[i], author))
	}
	c.JSON(http.StatusOK, envelope{Type: "entries", PageNumber: page, Size: size, Count: count, Src: src})
}

// --- entries ---

func (h *handlers) handleEntries(c *gin.Context) {
	page, size := pagination(c)
	database := db.GetDB()

	err, entries := database.ReadPublicEntries(page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read entries"})
		return
	}

	src := make([]*federation.EntryObject, 0, len(*entries))
	for i := range *entries {
		entry := &(*entries)[i]
		err, author := database.ReadAuthorByFQID(entry.AuthorFQID)
		if err != nil {
			continue
		}
		src = append(src, federation.NewEntryObject(entry, author))
	}
	c.JSON(http.StatusOK, envelope{Type: "entries", PageNumber: page, Size: size, Count: len(src), Src: src})
}

// readVisibleEntry loads an entry and applies the anonymous-viewer
// visibility rules. FRIENDS and DELETED entries answer 404, not 403, so the
// response does not confirm the object exists.
func (h *handlers) readVisibleEntry(c *gin.Context, fqid string) (*domain.Entry, bool) {
	err, entry := db.GetDB().ReadEntryByFQID(fqid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
		return nil, false
	}
	visible, err := h.eng.Access.CanView("", entry)
	if err != nil || !visible {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
		return nil, false
	}
	return entry, true
}

func (h *handlers) handleEntry(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	entry, ok := h.readVisibleEntry(c, h.eng.Minter.EntryFQID(id))
	if !ok {
		return
	}
	err, author := db.GetDB().ReadAuthorByFQID(entry.AuthorFQID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
		return
	}
	c.JSON(http.StatusOK, federation.NewEntryObject(entry, author))
}

func (h *handlers) handleEntryComments(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	entry, ok := h.readVisibleEntry(c, h.eng.Minter.EntryFQID(id))
	if !ok {
		return
	}
	page, size := pagination(c)
	database := db.GetDB()

	err, comments := database.ReadCommentsByEntry(entry.FQID, page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read comments"})
		return
	}
	err, count := database.CountCommentsByEntry(entry.FQID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read comments"})
		return
	}

	src := make([]*federation.CommentObject, 0, len(*comments))
	for i := range *comments {
		comment := &(*comments)[i]
		err, author := database.ReadAuthorByFQID(comment.AuthorFQID)
		if err != nil {
			continue
		}
		src = append(src, federation.NewCommentObject(comment, author))
	}
	c.JSON(http.StatusOK, envelope{Type: "comments", PageNumber: page, Size: size, Count: count, Src: src})
}

func (h *handlers) likesEnvelope(c *gin.Context, objectFQID string) {
	page, size := pagination(c)
	database := db.GetDB()

	err, likes := database.ReadLikesByObject(objectFQID, page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read likes"})
		return
	}
	err, count := database.CountLikesByObject(objectFQID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read likes"})
		return
	}

	src := make([]*federation.LikeObject, 0, len(*likes))
	for i := range *likes {
		like := &(*likes)[i]
		err, author := database.ReadAuthorByFQID(like.AuthorFQID)
		if err != nil {
			continue
		}
		src = append(src, federation.NewLikeObject(like, author))
	}
	c.JSON(http.StatusOK, envelope{Type: "likes", PageNumber: page, Size: size, Count: count, Src: src})
}

func (h *handlers) handleEntryLikes(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	entry, ok := h.readVisibleEntry(c, h.eng.Minter.EntryFQID(id))
	if !ok {
		return
	}
	h.likesEnvelope(c, entry.FQID)
}

// --- comments and likes ---

func (h *handlers) handleComment(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	err, comment := db.GetDB().ReadCommentByFQID(h.eng.Minter.CommentFQID(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Comment not found"})
		return
	}
	// A comment is as visible as the entry it sits on.
	if _, ok := h.readVisibleEntry(c, comment.EntryFQID); !ok {
		return
	}
	err, author := db.GetDB().ReadAuthorByFQID(comment.AuthorFQID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Comment not found"})
		return
	}
	c.JSON(http.StatusOK, federation.NewCommentObject(comment, author))
}

func (h *handlers) handleCommentLikes(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	err, comment := db.GetDB().ReadCommentByFQID(h.eng.Minter.CommentFQID(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Comment not found"})
		return
	}
	if _, ok := h.readVisibleEntry(c, comment.EntryFQID); !ok {
		return
	}
	h.likesEnvelope(c, comment.FQID)
}

func (h *handlers) handleLike(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	err, like := db.GetDB().ReadLikeByFQID(h.eng.Minter.LikeFQID(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Like not found"})
		return
	}
	err, author := db.GetDB().ReadAuthorByFQID(like.AuthorFQID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Like not found"})
		return
	}
	c.JSON(http.StatusOK, federation.NewLikeObject(like, author))
}

// --- followers ---

func (h *handlers) handleFollowers(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	page, size := pagination(c)
	database := db.GetDB()

	authorFQID := h.eng.Minter.AuthorFQID(id)
	if err, _ := database.ReadAuthorByFQID(authorFQID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Author not found"})
		return
	}

	err, follows := database.ReadFollowersOf(authorFQID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read followers"})
		return
	}

	src := make([]federation.AuthorObject, 0, len(*follows))
	for _, f := range *follows {
		if f.State != domain.FollowAccepted {
			continue
		}
		err, follower := database.ReadAuthorByFQID(f.FollowerFQID)
		if err != nil {
			continue
		}
		src = append(src, federation.NewAuthorObject(follower))
	}
	c.JSON(http.StatusOK, envelope{Type: "followers", PageNumber: page, Size: size, Count: len(src), Src: src})
}

// handleFollowerDetail answers whether the given author is an accepted
// follower. Peers use it to reconcile their follow tables.
func (h *handlers) handleFollowerDetail(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	followerFQID := c.Param("follower")
	if _, err := federation.ParseFQID(followerFQID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid follower FQID"})
		return
	}

	err, follow := db.GetDB().ReadFollow(followerFQID, h.eng.Minter.AuthorFQID(id))
	if err == sql.ErrNoRows || (err == nil && follow.State != domain.FollowAccepted) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not a follower"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read follow"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"type":   "follow",
		"id":     follow.URI,
		"actor":  follow.FollowerFQID,
		"object": follow.FolloweeFQID,
		"status": "accepted",
	})
}

// --- inboxes ---

func contextNode(c *gin.Context) *domain.Node {
	v, ok := c.Get(nodeContextKey)
	if !ok {
		return nil
	}
	return v.(*domain.Node)
}

func (h *handlers) processInbox(c *gin.Context, recipientFQID string) {
	node := contextNode(c)
	if node == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Node credentials required"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read body"})
		return
	}

	result, err := h.eng.Inbox.Process(node, recipientFQID, body)
	switch {
	case err == nil:
	case errors.Is(err, federation.ErrDependencyUnresolved):
		c.Header("Retry-After", dependencyRetry)
		c.JSON(http.StatusFailedDependency, gin.H{"error": err.Error()})
		return
	case errors.Is(err, federation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, federation.ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not process object"})
		return
	}

	if result.Duplicate {
		c.JSON(http.StatusOK, gin.H{"status": "already applied"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *handlers) handleAuthorInbox(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	authorFQID := h.eng.Minter.AuthorFQID(id)
	err, author := db.GetDB().ReadAuthorByFQID(authorFQID)
	if err != nil || !author.Local {
		c.JSON(http.StatusNotFound, gin.H{"error": "Author not found"})
		return
	}
	h.processInbox(c, authorFQID)
}

// handleSharedInbox accepts node-level deliveries; the recipient recorded
// for dedup is this node's own base URL.
func (h *handlers) handleSharedInbox(c *gin.Context) {
	h.processInbox(c, h.eng.Minter.BaseURL())
}
