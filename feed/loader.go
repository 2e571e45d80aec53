/*
Package feed loads the home timeline and hosts one reconciler per visible post.

Key Functions:
  - Loader.LoadTimeline: fetches and parses an RSS, Atom or JSON feed into posts.
  - Host.Mount: mounts a reconciler for every post, in feed order.
  - Host.SetMarked / Host.Toggle: user mutations routed to the item's reconciler.
  - Reloader.Submit: queues a timeline reload and remount.

Dependencies:
  - Uses the `gofeed` library for feed parsing.
*/
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Nexora-Open-Source/markstatus/monitoring"
	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"
)

// Post is one timeline entry
type Post struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author"`
	Published   time.Time `json:"published"`
}

// Validate checks the fields a card needs
func (p *Post) Validate() error {
	var problems []string

	if strings.TrimSpace(p.ID) == "" {
		problems = append(problems, "id cannot be empty")
	}
	if strings.TrimSpace(p.Title) == "" {
		problems = append(problems, "title cannot be empty")
	} else if len(p.Title) > 500 {
		problems = append(problems, "title cannot exceed 500 characters")
	}
	if p.Link != "" {
		if _, err := url.ParseRequestURI(p.Link); err != nil {
			problems = append(problems, "link must be a valid URL")
		}
	}
	if len(p.Author) > 100 {
		problems = append(problems, "author cannot exceed 100 characters")
	}

	if len(problems) > 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(problems, ", "))
	}
	return nil
}

// Sanitize trims surrounding whitespace
func (p *Post) Sanitize() {
	p.ID = strings.TrimSpace(p.ID)
	p.Title = strings.TrimSpace(p.Title)
	p.Link = strings.TrimSpace(p.Link)
	p.Description = strings.TrimSpace(p.Description)
	p.Author = strings.TrimSpace(p.Author)
}

// TimelineLoader fetches the posts to display
type TimelineLoader interface {
	LoadTimeline(ctx context.Context, feedURL string) ([]Post, error)
}

// Loader parses timelines with gofeed
type Loader struct {
	parser *gofeed.Parser
	logger *logrus.Logger
}

// NewLoader creates a Loader whose requests time out after timeout
func NewLoader(timeout time.Duration, logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.New()
	}
	parser := gofeed.NewParser()
	parser.UserAgent = "markstatus/1.0"
	if timeout > 0 {
		parser.Client = &http.Client{Timeout: timeout}
	}
	return &Loader{parser: parser, logger: logger}
}

// LoadTimeline fetches feedURL and returns its valid posts in feed order
func (l *Loader) LoadTimeline(ctx context.Context, feedURL string) ([]Post, error) {
	start := time.Now()
	ctx, span := monitoring.CreateSpan(ctx, "feed.load_timeline")
	defer span.End()
	monitoring.SetSpanAttributes(span, map[string]interface{}{"feed.url": feedURL})

	parsed, err := l.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		monitoring.RecordTimelineLoad("failed", time.Since(start).Seconds(), -1)
		monitoring.SetSpanError(span, err)
		return nil, fmt.Errorf("load timeline %s: %w", feedURL, err)
	}

	posts := l.convert(parsed)
	monitoring.RecordTimelineLoad("success", time.Since(start).Seconds(), len(posts))
	monitoring.SetSpanAttributes(span, map[string]interface{}{"feed.items": len(posts)})

	l.logger.WithFields(logrus.Fields{
		"url":         feedURL,
		"items_count": len(posts),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Timeline loaded")
	return posts, nil
}

// ParseTimeline parses a feed document already in hand
func (l *Loader) ParseTimeline(r io.Reader) ([]Post, error) {
	parsed, err := l.parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse timeline: %w", err)
	}
	return l.convert(parsed), nil
}

func (l *Loader) convert(parsed *gofeed.Feed) []Post {
	posts := make([]Post, 0, len(parsed.Items))
	seen := make(map[string]bool, len(parsed.Items))

	for _, entry := range parsed.Items {
		post := Post{
			ID:          postID(entry),
			Title:       entry.Title,
			Link:        entry.Link,
			Description: entry.Description,
			Author:      handleAuthor(entry),
		}
		if entry.PublishedParsed != nil {
			post.Published = entry.PublishedParsed.UTC()
		}
		post.Sanitize()

		if err := post.Validate(); err != nil {
			l.logger.WithFields(logrus.Fields{
				"id":    post.ID,
				"error": err.Error(),
			}).Debug("Skipping invalid timeline entry")
			continue
		}
		if seen[post.ID] {
			continue
		}
		seen[post.ID] = true
		posts = append(posts, post)
	}
	return posts
}

// postID prefers the entry GUID and falls back to its link
func postID(entry *gofeed.Item) string {
	if id := strings.TrimSpace(entry.GUID); id != "" {
		return id
	}
	return entry.Link
}

func handleAuthor(entry *gofeed.Item) string {
	if entry.Author != nil && entry.Author.Name != "" {
		return entry.Author.Name
	}
	if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		return entry.Authors[0].Name
	}
	return "Unknown"
}
