package activitypub

import (
	"github.com/ziadhany/federatedcode/domain"
	"github.com/ziadhany/federatedcode/util"
)

// Profile renderers. Each returns the activity+json document served on the
// object's page and embedded in outbound activities.

func PersonProfile(conf *util.AppConfig, person *domain.Person) map[string]any {
	profileURL := UserProfileURL(conf.Conf.Domain, person.Username)
	doc := map[string]any{
		"@context":  ApContext,
		"id":        profileURL,
		"type":      "Person",
		"name":      person.Username,
		"summary":   person.Summary,
		"inbox":     UserInboxURL(conf.Conf.Domain, person.Username),
		"outbox":    UserOutboxURL(conf.Conf.Domain, person.Username),
		"following": UserFollowingURL(conf.Conf.Domain, person.Username),
	}
	if person.PublicKey != "" {
		doc["publicKey"] = map[string]any{
			"id":           KeyId(profileURL),
			"owner":        profileURL,
			"publicKeyPem": person.PublicKey,
		}
	}
	return doc
}

func ServiceProfile(conf *util.AppConfig, service *domain.Service) map[string]any {
	profileURL := UserProfileURL(conf.Conf.Domain, service.Username)
	return map[string]any{
		"@context": ApContext,
		"id":       profileURL,
		"type":     "Service",
		"name":     service.Username,
		"inbox":    UserInboxURL(conf.Conf.Domain, service.Username),
		"outbox":   UserOutboxURL(conf.Conf.Domain, service.Username),
	}
}

func PackageProfile(conf *util.AppConfig, pkg *domain.Package) map[string]any {
	profileURL := PurlProfileURL(conf.Conf.Domain, pkg.Purl)
	doc := map[string]any{
		"@context":  ApContext,
		"id":        profileURL,
		"type":      "Package",
		"name":      pkg.Purl,
		"purl":      pkg.Purl,
		"summary":   pkg.Summary,
		"inbox":     PurlInboxURL(conf.Conf.Domain, pkg.Purl),
		"outbox":    PurlOutboxURL(conf.Conf.Domain, pkg.Purl),
		"followers": PurlFollowersURL(conf.Conf.Domain, pkg.Purl),
	}
	if pkg.PublicKey != "" {
		doc["publicKey"] = map[string]any{
			"id":           KeyId(profileURL),
			"owner":        profileURL,
			"publicKeyPem": pkg.PublicKey,
		}
	}
	return doc
}

func NoteProfile(conf *util.AppConfig, note *domain.Note) map[string]any {
	doc := map[string]any{
		"id":        NoteURL(conf.Conf.Domain, note.Id),
		"type":      "Note",
		"author":    note.Acct,
		"content":   note.Content,
		"mediaType": note.MediaType,
		"published": note.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		"updated":   note.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if note.HasReply() {
		doc["reply_to"] = NoteURL(conf.Conf.Domain, note.ReplyTo)
	}
	return doc
}

func ReviewProfile(conf *util.AppConfig, review *domain.Review, author *domain.Person, repo *domain.Repository, comments []domain.Note) map[string]any {
	items := make([]map[string]any, 0, len(comments))
	for i := range comments {
		items = append(items, NoteProfile(conf, &comments[i]))
	}
	doc := map[string]any{
		"id":       ReviewURL(conf.Conf.Domain, review.Id),
		"type":     "Review",
		"headline": review.Headline,
		"filepath": review.Filepath,
		"commit":   review.Commit,
		"content":  review.Data,
		"status":   review.Status.String(),
		"comments": OrderedCollection(items),
	}
	if author != nil {
		doc["author"] = UserProfileURL(conf.Conf.Domain, author.Username)
	}
	if repo != nil {
		doc["repository"] = RepositoryURL(conf.Conf.Domain, repo.Id)
	}
	return doc
}

func RepositoryProfile(conf *util.AppConfig, repo *domain.Repository) map[string]any {
	return map[string]any{
		"id":   RepositoryURL(conf.Conf.Domain, repo.Id),
		"type": "Repository",
		"url":  repo.URL,
	}
}

func VulnerabilityProfile(conf *util.AppConfig, vul *domain.Vulnerability) map[string]any {
	return map[string]any{
		"id":         VulnerabilityURL(conf.Conf.Domain, vul.Id),
		"type":       "Vulnerability",
		"repository": RepositoryURL(conf.Conf.Domain, vul.RepoId),
	}
}

// ReputationProfile renders a vote as a Like or Dislike item.
func ReputationProfile(rep *domain.Reputation) map[string]any {
	kind := "Dislike"
	if rep.Positive {
		kind = "Like"
	}
	return map[string]any{
		"type":      kind,
		"actor":     rep.Voter,
		"published": rep.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// OrderedCollection wraps item renderings the way inbox and outbox pages
// are served.
func OrderedCollection(items []map[string]any) map[string]any {
	if items == nil {
		items = []map[string]any{}
	}
	return map[string]any{
		"@context":     ApContext[0],
		"type":         "OrderedCollection",
		"totalItems":   len(items),
		"orderedItems": items,
	}
}
