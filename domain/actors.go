package domain

import (
	"github.com/google/uuid"
	"time"
)

// RemoteActor is the cached profile of an actor hosted on another server,
// keyed by its stable profile URL. Created lazily on first contact.
type RemoteActor struct {
	URL       string
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Person is a human account, either bound to a local username or to a
// remote actor record. Exactly one of Username / RemoteActorURL is set.
type Person struct {
	Id             uuid.UUID
	Username       string
	Summary        string
	PublicKey      string
	RemoteActorURL string
	CreatedAt      time.Time
}

// Local reports whether this person is bound to a local account.
func (p *Person) Local() bool {
	return p.RemoteActorURL == ""
}

// Acct returns the account handle, ex: "alice@example.com"
func (p *Person) Acct(domain string) string {
	return p.Username + "@" + domain
}

// Service is a repository-hosting account, ex: a VulnerableCode instance.
// Exactly one of Username / RemoteActorURL is set.
type Service struct {
	Id             uuid.UUID
	Username       string
	RemoteActorURL string
	CreatedAt      time.Time
}

func (s *Service) Local() bool {
	return s.RemoteActorURL == ""
}

// Package is an actor identified by its package URL without version,
// qualifiers or subpath. Administered by at most one Service.
type Package struct {
	Id             uuid.UUID
	Purl           string
	ServiceId      uuid.UUID
	RemoteActorURL string
	Summary        string
	PublicKey      string
	CreatedAt      time.Time
}

func (p *Package) Local() bool {
	return p.RemoteActorURL == ""
}

// Acct returns the package account handle, ex: "pkg:npm/left-pad@example.com"
func (p *Package) Acct(domain string) string {
	return p.Purl + "@" + domain
}

// Follow is a subscription of a Person to a Package, unique per pair.
type Follow struct {
	Id        uuid.UUID
	PersonId  uuid.UUID
	PackageId uuid.UUID
	CreatedAt time.Time
}
