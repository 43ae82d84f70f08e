package activitypub

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const ContentType = "application/activity+json"

// ApPublic addresses an activity to the world.
const ApPublic = "https://www.w3.org/ns/activitystreams#Public"

// ApContext is the exact @context every activity on this network carries,
// in order. Envelopes with any other context are rejected.
var ApContext = []string{
	"https://www.w3.org/ns/activitystreams",
	"https://www.aboutcode.org/ns/federatedcode",
}

func UserProfileURL(domain, username string) string {
	return fmt.Sprintf("https://%s/users/%s", domain, username)
}

func PurlProfileURL(domain, purl string) string {
	return fmt.Sprintf("https://%s/purls/%s", domain, purl)
}

func UserInboxURL(domain, username string) string {
	return UserProfileURL(domain, username) + "/inbox"
}

func UserOutboxURL(domain, username string) string {
	return UserProfileURL(domain, username) + "/outbox"
}

func UserFollowingURL(domain, username string) string {
	return UserProfileURL(domain, username) + "/following"
}

func PurlInboxURL(domain, purl string) string {
	return PurlProfileURL(domain, purl) + "/inbox"
}

func PurlOutboxURL(domain, purl string) string {
	return PurlProfileURL(domain, purl) + "/outbox"
}

func PurlFollowersURL(domain, purl string) string {
	return PurlProfileURL(domain, purl) + "/followers"
}

func NoteURL(domain string, id uuid.UUID) string {
	return fmt.Sprintf("https://%s/notes/%s", domain, id)
}

func ReviewURL(domain string, id uuid.UUID) string {
	return fmt.Sprintf("https://%s/reviews/%s", domain, id)
}

func RepositoryURL(domain string, id uuid.UUID) string {
	return fmt.Sprintf("https://%s/repositories/%s", domain, id)
}

func VulnerabilityURL(domain, id string) string {
	return fmt.Sprintf("https://%s/vulnerabilities/%s", domain, id)
}

// KeyId identifies the signing key of a local actor profile.
func KeyId(profileURL string) string {
	return profileURL + "#main-key"
}

// IdentifierKind enumerates the id shapes minted by this server.
type IdentifierKind int

const (
	IdentUser IdentifierKind = iota
	IdentPurl
	IdentNote
	IdentReview
	IdentRepository
	IdentVulnerability
)

// Identifier is a parsed local object or actor id. Key holds the username,
// purl, uuid or vulnerability id depending on Kind.
type Identifier struct {
	Kind IdentifierKind
	Host string
	Key  string
}

// ParseIdentifier splits an id URL into its host and local path shape.
// It accepts ids minted by any server on the network; callers compare
// Host against their own domain to decide locality.
func ParseIdentifier(raw string) (*Identifier, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: malformed id %q", ErrProtocol, raw)
	}
	path := strings.TrimPrefix(u.Path, "/")
	seg, rest, _ := strings.Cut(path, "/")
	if rest == "" {
		return nil, fmt.Errorf("%w: unrecognized id %q", ErrProtocol, raw)
	}
	ident := &Identifier{Host: u.Host, Key: rest}
	switch seg {
	case "users":
		ident.Kind = IdentUser
	case "purls":
		ident.Kind = IdentPurl
	case "notes":
		ident.Kind = IdentNote
	case "reviews":
		ident.Kind = IdentReview
	case "repositories":
		ident.Kind = IdentRepository
	case "vulnerabilities":
		ident.Kind = IdentVulnerability
	default:
		return nil, fmt.Errorf("%w: unrecognized id %q", ErrProtocol, raw)
	}
	return ident, nil
}
