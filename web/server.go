package web

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ziadhany/federatedcode/activitypub"
	"github.com/ziadhany/federatedcode/db"
	"github.com/ziadhany/federatedcode/util"
)

var errNotLocal = errors.New("not a local account")

// Server holds the pieces the HTTP handlers need.
type Server struct {
	conf      *util.AppConfig
	db        *db.DB
	engine    *activitypub.Engine
	pubKeyPem string
}

func NewServer(conf *util.AppConfig, database *db.DB, engine *activitypub.Engine, pubKeyPem string) *Server {
	return &Server{conf: conf, db: database, engine: engine, pubKeyPem: pubKeyPem}
}

// Run builds the router and serves until the listener fails.
func (s *Server) Run() error {
	log.Printf("Starting federation server on %s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter limit for inboxes: 5 req/sec per IP
	inboxLimiter := NewRateLimiter(rate.Limit(5), 10)

	// Max 1MB request body size for activities
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)
	apOnly := RequireActivityJSON()

	g.GET("/.well-known/webfinger", s.handleWebfinger)

	g.GET("/users/:username", s.handleUserProfile)
	g.GET("/users/:username/inbox", s.handleUserInboxPage)
	g.GET("/users/:username/outbox", s.handleUserOutboxPage)
	g.GET("/users/:username/following", s.handleUserFollowing)
	g.POST("/users/:username/inbox", RateLimitMiddleware(inboxLimiter), maxBodySize, apOnly, s.handleInboxPost)
	g.POST("/users/:username/outbox", RateLimitMiddleware(inboxLimiter), maxBodySize, apOnly, s.handleOutboxPost)

	// Purls contain slashes so every package route shares one wildcard
	// and dispatches on its suffix.
	g.GET("/purls/*purl", s.handlePurlGet)
	g.POST("/purls/*purl", RateLimitMiddleware(inboxLimiter), maxBodySize, apOnly, s.handlePurlPost)

	g.GET("/notes/:id", s.handleNotePage)
	g.GET("/notes/:id/votes", s.handleVotesPage("Note"))
	g.POST("/notes/:id/votes", maxBodySize, s.handleVotePost("Note"))
	g.GET("/reviews/:id", s.handleReviewPage)
	g.GET("/reviews/:id/votes", s.handleVotesPage("Review"))
	g.POST("/reviews/:id/votes", maxBodySize, s.handleVotePost("Review"))
	g.GET("/repositories/:id", s.handleRepositoryPage)
	g.GET("/vulnerabilities/:id", s.handleVulnerabilityPage)

	return g.Run(fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort))
}

func (s *Server) handleWebfinger(c *gin.Context) {
	resource := c.Query("resource")
	if resource == "" || !strings.HasPrefix(resource, "acct:") {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}
	err, doc := s.GetWebfinger(resource)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// statusForError maps a protocol error kind to its response status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, activitypub.ErrProtocol):
		return http.StatusBadRequest
	case errors.Is(err, activitypub.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, activitypub.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, activitypub.ErrDiscovery):
		return http.StatusBadRequest
	case errors.Is(err, activitypub.ErrDelivery):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// purlParam extracts a purl and an optional route suffix from the wildcard
// path, ex: "/pkg:npm/left-pad/inbox" -> ("pkg:npm/left-pad", "inbox").
func purlParam(raw string) (string, string) {
	purl := strings.TrimPrefix(raw, "/")
	for _, suffix := range []string{"inbox", "outbox", "followers"} {
		if strings.HasSuffix(purl, "/"+suffix) {
			return strings.TrimSuffix(purl, "/"+suffix), suffix
		}
	}
	return purl, ""
}
