/*
Package sandbox is a local stand-in for the remote mark API.

It serves a generated home timeline and the mark endpoints the client talks
to, with the failure modes the client has to cope with:

  - 429 once a client exceeds its token bucket
  - 403 when the viewer marks one of their own posts
  - 409 when a mark or unmark would not change anything

It keeps everything in memory and exists for local runs and integration tests.
*/
package sandbox

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Nexora-Open-Source/markstatus/api"
	"github.com/Nexora-Open-Source/markstatus/middleware"
	"github.com/Nexora-Open-Source/markstatus/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Config describes the generated timeline and the server behaviour
type Config struct {
	Viewer         string
	Posts          int
	OwnEvery       int
	MarkedEvery    int
	RatePerSecond  float64
	Burst          int
	Latency        time.Duration
	ClientIdleTime time.Duration
}

// DefaultConfig returns a small timeline with a tight rate limit
func DefaultConfig() Config {
	return Config{
		Viewer:         "viewer",
		Posts:          20,
		OwnEvery:       7,
		MarkedEvery:    3,
		RatePerSecond:  2,
		Burst:          5,
		ClientIdleTime: 5 * time.Minute,
	}
}

// Post is a sandbox timeline entry
type Post struct {
	ID        string
	Title     string
	Author    string
	Published time.Time
}

// Server holds the sandbox state
type Server struct {
	config  Config
	limiter *RateLimiter
	logger  *logrus.Logger

	mutex sync.RWMutex
	posts []Post
	index map[string]int
	marks map[string]bool
}

// NewServer seeds a timeline from cfg
func NewServer(cfg Config, logger *logrus.Logger) *Server {
	if cfg.Viewer == "" {
		cfg.Viewer = "viewer"
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.ClientIdleTime <= 0 {
		cfg.ClientIdleTime = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	s := &Server{
		config:  cfg,
		limiter: NewRateLimiter(limit, cfg.Burst),
		logger:  logger,
		index:   make(map[string]int),
		marks:   make(map[string]bool),
	}

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < cfg.Posts; i++ {
		author := fmt.Sprintf("user%d", i%5+1)
		if cfg.OwnEvery > 0 && i%cfg.OwnEvery == 0 {
			author = cfg.Viewer
		}
		post := Post{
			ID:        fmt.Sprintf("p%d", i+1),
			Title:     fmt.Sprintf("Post number %d", i+1),
			Author:    author,
			Published: base.Add(-time.Duration(i) * time.Hour),
		}
		s.AddPost(post)
		if cfg.MarkedEvery > 0 && i%cfg.MarkedEvery == 1 && author != cfg.Viewer {
			s.marks[post.ID] = true
		}
	}
	return s
}

// AddPost appends post to the timeline, replacing one with the same id
func (s *Server) AddPost(post Post) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if i, ok := s.index[post.ID]; ok {
		s.posts[i] = post
		return
	}
	s.index[post.ID] = len(s.posts)
	s.posts = append(s.posts, post)
}

// Marked reports whether the viewer marked id
func (s *Server) Marked(id string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.marks[id]
}

// Limiter exposes the per-client rate limiter
func (s *Server) Limiter() *RateLimiter {
	return s.limiter
}

// Router returns the sandbox routes. Only the mark endpoints are rate limited.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.MonitoringMiddleware)
	router.HandleFunc("/timeline.xml", s.handleTimeline).Methods(http.MethodGet)

	marks := router.PathPrefix("/posts").Subrouter()
	marks.Use(RateLimitMiddleware(s.limiter))
	marks.Use(s.latencyMiddleware)
	marks.HandleFunc("/{id}/mark", s.handleCheck).Methods(http.MethodGet)
	marks.HandleFunc("/{id}/mark", s.handleMark).Methods(http.MethodPost)
	marks.HandleFunc("/{id}/mark", s.handleUnmark).Methods(http.MethodDelete)
	return router
}

// RunCleanup drops idle rate limit buckets until ctx is done
func (s *Server) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.limiter.Cleanup(s.config.ClientIdleTime); removed > 0 {
				s.logger.WithField("removed_count", removed).Debug("Removed idle sandbox clients")
			}
		}
	}
}

func (s *Server) latencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Latency > 0 {
			select {
			case <-time.After(s.config.Latency):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (Post, string, bool) {
	requestID := utils.RequestID(w, r)
	id := mux.Vars(r)["id"]

	s.mutex.RLock()
	i, ok := s.index[id]
	var post Post
	if ok {
		post = s.posts[i]
	}
	s.mutex.RUnlock()

	if !ok {
		middleware.RespondNotFound(w, fmt.Errorf("post %s not found", id), requestID)
		return Post{}, requestID, false
	}
	return post, requestID, true
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	post, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, api.StatusResponse{IsMarked: s.Marked(post.ID)})
}

func (s *Server) handleMark(w http.ResponseWriter, r *http.Request) {
	post, requestID, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if post.Author == s.config.Viewer {
		middleware.RespondForbidden(w, fmt.Errorf("cannot mark your own post"), requestID)
		return
	}

	s.mutex.Lock()
	already := s.marks[post.ID]
	s.marks[post.ID] = true
	s.mutex.Unlock()

	if already {
		middleware.RespondConflict(w, fmt.Errorf("post %s is already marked", post.ID), requestID)
		return
	}
	s.logger.WithFields(logrus.Fields{"post_id": post.ID, "request_id": requestID}).Debug("Sandbox post marked")
	writeJSON(w, http.StatusOK, api.MutationResponse{OK: true})
}

func (s *Server) handleUnmark(w http.ResponseWriter, r *http.Request) {
	post, requestID, ok := s.lookup(w, r)
	if !ok {
		return
	}

	s.mutex.Lock()
	was := s.marks[post.ID]
	delete(s.marks, post.ID)
	s.mutex.Unlock()

	if !was {
		middleware.RespondConflict(w, fmt.Errorf("post %s is not marked", post.ID), requestID)
		return
	}
	s.logger.WithFields(logrus.Fields{"post_id": post.ID, "request_id": requestID}).Debug("Sandbox post unmarked")
	writeJSON(w, http.StatusOK, api.MutationResponse{OK: true})
}

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title   string  `xml:"title"`
	Link    string  `xml:"link"`
	GUID    rssGUID `xml:"guid"`
	Author  string  `xml:"author"`
	PubDate string  `xml:"pubDate"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	base := "http://" + r.Host

	s.mutex.RLock()
	items := make([]rssItem, 0, len(s.posts))
	for _, post := range s.posts {
		items = append(items, rssItem{
			Title:   post.Title,
			Link:    base + "/posts/" + post.ID,
			GUID:    rssGUID{IsPermaLink: "false", Value: post.ID},
			Author:  fmt.Sprintf("%s@example.com (%s)", post.Author, post.Author),
			PubDate: post.Published.Format(time.RFC1123Z),
		})
	}
	s.mutex.RUnlock()

	doc := rssDocument{
		Version: "2.0",
		Channel: rssChannel{
			Title:       "Home",
			Link:        base + "/",
			Description: "Sandbox home timeline",
			Items:       items,
		},
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	if err := xml.NewEncoder(w).Encode(doc); err != nil {
		s.logger.WithError(err).Error("Failed to encode sandbox timeline")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
