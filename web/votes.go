package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ziadhany/federatedcode/activitypub"
)

// votePayload is a local client vote on a note or review. Voting again
// with the same voter withdraws the earlier vote.
type votePayload struct {
	Voter string `json:"voter" binding:"required"`
	Type  string `json:"type" binding:"required"`
}

func (s *Server) handleVotesPage(objectType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := s.voteTarget(c, objectType)
		if !ok {
			return
		}
		err, reps := s.db.ReadReputationsByObject(objectType, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read votes"})
			return
		}
		var items []map[string]any
		for i := range *reps {
			items = append(items, activitypub.ReputationProfile(&(*reps)[i]))
		}
		doc := activitypub.OrderedCollection(items)
		if err, value := s.db.ReputationValue(objectType, id); err == nil {
			doc["score"] = value
		}
		apJSON(c, http.StatusOK, doc)
	}
}

func (s *Server) handleVotePost(objectType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := s.voteTarget(c, objectType)
		if !ok {
			return
		}
		var payload votePayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "voter and type are required"})
			return
		}
		if payload.Type != "Like" && payload.Type != "Dislike" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be Like or Dislike"})
			return
		}
		err, rep, removed := s.db.ToggleReputation(payload.Voter, objectType, id, payload.Type == "Like")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record vote"})
			return
		}
		if removed {
			c.JSON(http.StatusOK, gin.H{"detail": "vote withdrawn"})
			return
		}
		apJSON(c, http.StatusCreated, activitypub.ReputationProfile(rep))
	}
}

// voteTarget parses the object id and checks the target exists.
func (s *Server) voteTarget(c *gin.Context, objectType string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	switch objectType {
	case "Note":
		err, _ = s.db.ReadNoteById(id)
	case "Review":
		err, _ = s.db.ReadReviewById(id)
	}
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "target not found"})
		return uuid.Nil, false
	}
	return id, true
}
