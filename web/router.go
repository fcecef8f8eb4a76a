package web

import (
	"fmt"
	"log"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/vireonet/vireo/federation"
	"github.com/vireonet/vireo/util"
)

// NewRouter assembles the HTTP surface: the public object API, the follower
// endpoints, the node inboxes and the RSS feed.
func NewRouter(conf *util.AppConfig, eng *federation.Engine) *gin.Engine {
	g := gin.Default()
	// Follower FQIDs travel percent-escaped inside one path segment; the
	// router must match on the raw path or the escaped slashes explode the
	// segment count.
	g.UseRawPath = true
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	h := &handlers{conf: conf, eng: eng}

	// RSS feed over public entries
	g.GET("/feed", h.handleFeed)
	g.GET("/feed/:id", h.handleFeedItem)

	api := g.Group("/api")
	{
		api.GET("/authors", h.handleAuthors)
		api.GET("/authors/:id", h.handleAuthor)
		api.GET("/authors/:id/entries", h.handleAuthorEntries)
		api.GET("/authors/:id/followers", h.handleFollowers)
		api.GET("/authors/:id/followers/:follower", h.handleFollowerDetail)

		api.GET("/entries", h.handleEntries)
		api.GET("/entries/:id", h.handleEntry)
		api.GET("/entries/:id/comments", h.handleEntryComments)
		api.GET("/entries/:id/likes", h.handleEntryLikes)
		api.GET("/comments/:id", h.handleComment)
		api.GET("/comments/:id/likes", h.handleCommentLikes)
		api.GET("/likes/:id", h.handleLike)
	}

	if conf.Conf.WithFed {
		// Stricter rate limit for the inboxes: 5 req/sec per IP
		inboxLimiter := NewRateLimiter(rate.Limit(5), 10)
		maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024) // 1MB
		nodeAuth := NodeAuthMiddleware(eng.Registry)

		api.POST("/inbox", RateLimitMiddleware(inboxLimiter), maxBodySize, nodeAuth, h.handleSharedInbox)
		api.POST("/authors/:id/inbox", RateLimitMiddleware(inboxLimiter), maxBodySize, nodeAuth, h.handleAuthorInbox)
	}

	return g
}

// Router runs the HTTP server until it fails.
func Router(conf *util.AppConfig, eng *federation.Engine) error {
	log.Printf("Starting API server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	return NewRouter(conf, eng).Run(fmt.Sprintf(":%d", conf.Conf.HttpPort))
}
