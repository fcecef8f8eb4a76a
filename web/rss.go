package web

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"github.com/gorilla/feeds"

	"github.com/vireonet/vireo/db"
	"github.com/vireonet/vireo/domain"
	"github.com/vireonet/vireo/util"
)

const feedPageSize = 50

// GetRSS renders the public timeline as RSS, optionally narrowed to one
// author by display name.
func GetRSS(conf *util.AppConfig, authorName string) (string, error) {
	database := db.GetDB()

	err, entries := database.ReadPublicEntries(1, feedPageSize)
	if err != nil {
		log.Println("Could not get entries!", err)
		return "", errors.New("error retrieving public entries")
	}

	title := fmt.Sprintf("%s - public entries", conf.Conf.NodeName)
	link := fmt.Sprintf("%s/feed", conf.BaseURL())
	if authorName != "" {
		title = fmt.Sprintf("%s - entries by %s", conf.Conf.NodeName, authorName)
		link = fmt.Sprintf("%s?author=%s", link, authorName)
	}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("federated entries published on %s", conf.Conf.NodeName),
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for i := range *entries {
		entry := &(*entries)[i]
		err, author := database.ReadAuthorByFQID(entry.AuthorFQID)
		if err != nil {
			continue
		}
		if authorName != "" && author.DisplayName != authorName {
			continue
		}
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      entry.FQID,
				Title:   entry.Title,
				Link:    &feeds.Link{Href: fmt.Sprintf("%s/feed/%s", conf.BaseURL(), entry.Id)},
				Content: entry.Content,
				Author:  &feeds.Author{Name: author.DisplayName, Email: fmt.Sprintf("%s@%s", author.Username, conf.Conf.Domain)},
				Created: entry.Published,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}

// GetRSSItem renders a single public entry as a one-item feed.
func GetRSSItem(conf *util.AppConfig, eng entryReader, id uuid.UUID) (string, error) {
	database := db.GetDB()

	err, entry := database.ReadEntryByFQID(eng.EntryFQID(id))
	if err != nil || entry == nil {
		log.Println("Could not get entry!", err)
		return "", errors.New("error retrieving entry by id")
	}
	if entry.Visibility != domain.VisibilityPublic && entry.Visibility != domain.VisibilityUnlisted {
		return "", errors.New("entry is not public")
	}

	err, author := database.ReadAuthorByFQID(entry.AuthorFQID)
	if err != nil {
		return "", errors.New("error retrieving entry author")
	}

	url := fmt.Sprintf("%s/feed/%s", conf.BaseURL(), entry.Id)
	feed := &feeds.Feed{
		Title:       entry.Title,
		Link:        &feeds.Link{Href: url},
		Description: entry.Description,
		Author:      &feeds.Author{Name: author.DisplayName, Email: fmt.Sprintf("%s@%s", author.Username, conf.Conf.Domain)},
		Created:     time.Now(),
	}

	feed.Items = []*feeds.Item{
		{
			Id:      entry.FQID,
			Title:   entry.Title,
			Link:    &feeds.Link{Href: url},
			Content: entry.Content,
			Author:  &feeds.Author{Name: author.DisplayName, Email: fmt.Sprintf("%s@%s", author.Username, conf.Conf.Domain)},
			Created: entry.Published,
		},
	}
	return feed.ToRss()
}

type entryReader interface {
	EntryFQID(id uuid.UUID) string
}

func (h *handlers) handleFeed(c *gin.Context) {
	c.Header("Content-Type", "application/xml; charset=utf-8")

	rss, err := GetRSS(h.conf, c.Query("author"))
	if err != nil {
		c.Render(http.StatusNotFound, render.String{Format: ""})
	} else {
		c.Render(http.StatusOK, render.String{Format: rss})
	}
}

func (h *handlers) handleFeedItem(c *gin.Context) {
	c.Header("Content-Type", "application/xml; charset=utf-8")

	feedId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.Render(http.StatusNotFound, render.String{Format: ""})
		return
	}

	rssItem, err := GetRSSItem(h.conf, h.eng.Minter, feedId)
	if err != nil {
		c.Render(http.StatusNotFound, render.String{Format: ""})
	} else {
		c.Render(http.StatusOK, render.String{Format: rssItem})
	}
}
