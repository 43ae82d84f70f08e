package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ziadhany/federatedcode/activitypub"
	"github.com/ziadhany/federatedcode/domain"
)

func apJSON(c *gin.Context, status int, doc map[string]any) {
	c.Header("Content-Type", activitypub.ContentType+"; charset=utf-8")
	c.JSON(status, doc)
}

func (s *Server) handleUserProfile(c *gin.Context) {
	username := c.Param("username")
	err, person := s.db.ReadPersonByUsername(username)
	if err == nil {
		apJSON(c, http.StatusOK, activitypub.PersonProfile(s.conf, person))
		return
	}
	err, service := s.db.ReadServiceByUsername(username)
	if err == nil {
		apJSON(c, http.StatusOK, activitypub.ServiceProfile(s.conf, service))
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "actor not found"})
}

// handleUserInboxPage serves the notes of every package the person
// follows, newest first per package.
func (s *Server) handleUserInboxPage(c *gin.Context) {
	err, person := s.db.ReadPersonByUsername(c.Param("username"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "actor not found"})
		return
	}
	err, follows := s.db.ReadFollowsByPersonId(person.Id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read follows"})
		return
	}
	var items []map[string]any
	for _, follow := range *follows {
		err, pkg := s.db.ReadPackageById(follow.PackageId)
		if err != nil {
			continue
		}
		err, notes := s.db.ReadNotesByAcct(pkg.Acct(s.conf.Conf.Domain))
		if err != nil {
			continue
		}
		for i := range *notes {
			items = append(items, activitypub.NoteProfile(s.conf, &(*notes)[i]))
		}
	}
	apJSON(c, http.StatusOK, activitypub.OrderedCollection(items))
}

func (s *Server) handleUserOutboxPage(c *gin.Context) {
	err, person := s.db.ReadPersonByUsername(c.Param("username"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "actor not found"})
		return
	}
	err, notes := s.db.ReadNotesByAcct(person.Acct(s.conf.Conf.Domain))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read notes"})
		return
	}
	var items []map[string]any
	for i := range *notes {
		items = append(items, activitypub.NoteProfile(s.conf, &(*notes)[i]))
	}
	apJSON(c, http.StatusOK, activitypub.OrderedCollection(items))
}

func (s *Server) handleUserFollowing(c *gin.Context) {
	err, person := s.db.ReadPersonByUsername(c.Param("username"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "actor not found"})
		return
	}
	err, follows := s.db.ReadFollowsByPersonId(person.Id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read follows"})
		return
	}
	var items []map[string]any
	for _, follow := range *follows {
		err, pkg := s.db.ReadPackageById(follow.PackageId)
		if err != nil {
			continue
		}
		items = append(items, map[string]any{
			"type": "Package",
			"id":   activitypub.PurlProfileURL(s.conf.Conf.Domain, pkg.Purl),
			"purl": pkg.Purl,
		})
	}
	apJSON(c, http.StatusOK, activitypub.OrderedCollection(items))
}

func (s *Server) handlePurlGet(c *gin.Context) {
	purl, suffix := purlParam(c.Param("purl"))
	err, pkg := s.db.ReadPackageByPurl(purl)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "package not found"})
		return
	}
	switch suffix {
	case "":
		apJSON(c, http.StatusOK, activitypub.PackageProfile(s.conf, pkg))
	case "outbox", "inbox":
		err, notes := s.db.ReadNotesByAcct(pkg.Acct(s.conf.Conf.Domain))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read notes"})
			return
		}
		var items []map[string]any
		for i := range *notes {
			items = append(items, activitypub.NoteProfile(s.conf, &(*notes)[i]))
		}
		apJSON(c, http.StatusOK, activitypub.OrderedCollection(items))
	case "followers":
		err, follows := s.db.ReadFollowsByPackageId(pkg.Id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read follows"})
			return
		}
		var items []map[string]any
		for _, follow := range *follows {
			err, person := s.db.ReadPersonById(follow.PersonId)
			if err != nil {
				continue
			}
			item := map[string]any{"type": "Person"}
			if person.Local() {
				item["id"] = activitypub.UserProfileURL(s.conf.Conf.Domain, person.Username)
			} else {
				item["id"] = person.RemoteActorURL
			}
			items = append(items, item)
		}
		apJSON(c, http.StatusOK, activitypub.OrderedCollection(items))
	}
}

func (s *Server) handleNotePage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid note id"})
		return
	}
	err, note := s.db.ReadNoteById(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "note not found"})
		return
	}
	apJSON(c, http.StatusOK, activitypub.NoteProfile(s.conf, note))
}

func (s *Server) handleReviewPage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid review id"})
		return
	}
	err, review := s.db.ReadReviewById(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
		return
	}
	err, person := s.db.ReadPersonById(review.AuthorId)
	if err != nil {
		person = nil
	}
	err, repo := s.db.ReadRepositoryById(review.RepositoryId)
	if err != nil {
		repo = nil
	}
	var comments []domain.Note
	if err, attached := s.db.ReadReviewComments(review.Id); err == nil {
		comments = *attached
	}
	apJSON(c, http.StatusOK, activitypub.ReviewProfile(s.conf, review, person, repo, comments))
}

func (s *Server) handleRepositoryPage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid repository id"})
		return
	}
	err, repo := s.db.ReadRepositoryById(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
		return
	}
	apJSON(c, http.StatusOK, activitypub.RepositoryProfile(s.conf, repo))
}

func (s *Server) handleVulnerabilityPage(c *gin.Context) {
	err, vul := s.db.ReadVulnerabilityById(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "vulnerability not found"})
		return
	}
	apJSON(c, http.StatusOK, activitypub.VulnerabilityProfile(s.conf, vul))
}
