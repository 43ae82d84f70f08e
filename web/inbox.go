package web

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ziadhany/federatedcode/activitypub"
)

// handleInboxPost accepts a signed activity addressed to a local user
// inbox, verifies it and applies it.
func (s *Server) handleInboxPost(c *gin.Context) {
	log.Printf("POST /users/%s/inbox", c.Param("username"))
	s.acceptActivity(c)
}

// handlePurlPost routes a POST on the purl wildcard; only the inbox
// suffix accepts one.
func (s *Server) handlePurlPost(c *gin.Context) {
	purl, suffix := purlParam(c.Param("purl"))
	if suffix != "inbox" {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "not an inbox"})
		return
	}
	log.Printf("POST /purls/%s/inbox", purl)
	s.acceptActivity(c)
}

// handleOutboxPost accepts a signed activity submitted on a local user
// outbox. Delivery to the targets it addresses happens in the engine.
func (s *Server) handleOutboxPost(c *gin.Context) {
	log.Printf("POST /users/%s/outbox", c.Param("username"))
	s.acceptActivity(c)
}

func (s *Server) acceptActivity(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	if _, err := activitypub.VerifyRequest(c.Request, body, s.pubKeyPem); err != nil {
		log.Printf("Inbox: rejected unsigned or tampered request: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	activity, err := activitypub.ParseActivity(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.Handle(activity)
	if err != nil {
		// Log the full chain, answer the peer with the kind only.
		log.Printf("Inbox: %s activity failed: %v", activity.Type, err)
		c.JSON(statusForError(err), gin.H{"error": activitypub.ErrorKind(err)})
		return
	}

	if result.Location != "" {
		c.Header("Location", result.Location)
	}
	if result.Body != nil {
		apJSON(c, result.Status, result.Body)
		return
	}
	c.Status(result.Status)
}
