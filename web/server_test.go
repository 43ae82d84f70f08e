package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ziadhany/federatedcode/activitypub"
)

func TestPurlParam(t *testing.T) {
	cases := []struct {
		raw    string
		purl   string
		suffix string
	}{
		{"/pkg:npm/left-pad", "pkg:npm/left-pad", ""},
		{"/pkg:npm/left-pad/inbox", "pkg:npm/left-pad", "inbox"},
		{"/pkg:npm/left-pad/outbox", "pkg:npm/left-pad", "outbox"},
		{"/pkg:npm/left-pad/followers", "pkg:npm/left-pad", "followers"},
		{"/pkg:npm/%40angular/animation/inbox", "pkg:npm/%40angular/animation", "inbox"},
		// Only a trailing path segment is a route suffix
		{"/pkg:npm/inbox", "pkg:npm", "inbox"},
		{"/pkg:npm/inboxer", "pkg:npm/inboxer", ""},
	}
	for _, c := range cases {
		purl, suffix := purlParam(c.raw)
		if purl != c.purl || suffix != c.suffix {
			t.Errorf("purlParam(%q): got (%q, %q), expected (%q, %q)",
				c.raw, purl, suffix, c.purl, c.suffix)
		}
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{activitypub.ErrProtocol, http.StatusBadRequest},
		{fmt.Errorf("%w: context", activitypub.ErrProtocol), http.StatusBadRequest},
		{activitypub.ErrAuthorization, http.StatusForbidden},
		{activitypub.ErrNotFound, http.StatusNotFound},
		{activitypub.ErrDiscovery, http.StatusBadRequest},
		{activitypub.ErrDelivery, http.StatusBadGateway},
		{activitypub.ErrSync, http.StatusInternalServerError},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusForError(c.err); got != c.status {
			t.Errorf("statusForError(%v): got %d, expected %d", c.err, got, c.status)
		}
	}
}

func postInbox(router *gin.Engine, contentType string) int {
	req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader("{}"))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestRequireActivityJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/inbox", RequireActivityJSON(), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	if code := postInbox(router, activitypub.ContentType); code != http.StatusAccepted {
		t.Errorf("Expected activity+json to pass, got %d", code)
	}
	if code := postInbox(router, "application/ld+json; profile=\"https://www.w3.org/ns/activitystreams\""); code != http.StatusAccepted {
		t.Errorf("Expected ld+json to pass, got %d", code)
	}
	if code := postInbox(router, "application/json"); code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected plain json to be rejected, got %d", code)
	}
	if code := postInbox(router, ""); code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected missing content type to be rejected, got %d", code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/inbox", RateLimitMiddleware(NewRateLimiter(rate.Limit(1), 2)), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		codes[postInbox(router, activitypub.ContentType)]++
	}
	if codes[http.StatusAccepted] != 2 || codes[http.StatusTooManyRequests] != 3 {
		t.Errorf("Expected the burst of 2 then rejections, got %v", codes)
	}
}
