package activitypub

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/ziadhany/federatedcode/db"
	"github.com/ziadhany/federatedcode/domain"
	"github.com/ziadhany/federatedcode/util"
)

type ActorKind int

const (
	ActorPerson ActorKind = iota
	ActorPackage
	ActorService
)

// Actor is a resolved activity sender. Exactly one of the pointers is set,
// matching Kind.
type Actor struct {
	Kind    ActorKind
	Person  *domain.Person
	Package *domain.Package
	Service *domain.Service
}

type ObjectKind int

const (
	ObjectNote ObjectKind = iota
	ObjectReview
	ObjectRepository
	ObjectVulnerability
)

// Object is a resolved activity target. Exactly one of the pointers is
// set, matching Kind.
type Object struct {
	Kind          ObjectKind
	Note          *domain.Note
	Review        *domain.Review
	Repository    *domain.Repository
	Vulnerability *domain.Vulnerability
}

// Resolver turns actor and object references from the wire into stored
// records, materializing remote actors on first contact.
type Resolver struct {
	conf   *util.AppConfig
	db     *db.DB
	client *resty.Client
}

func NewResolver(conf *util.AppConfig, database *db.DB) *Resolver {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("Accept", ContentType).
		SetHeader("User-Agent", "federatedcode")
	return &Resolver{conf: conf, db: database, client: client}
}

// ResolveActor resolves an actor reference. Account handles are turned
// into profile URLs through webfinger first, then local ids are looked up
// in storage and remote ids are fetched and cached as remote actor
// records.
func (r *Resolver) ResolveActor(ref *ApActor) (*Actor, error) {
	id := ref.Id
	ident, err := ParseIdentifier(id)
	if err != nil {
		if !strings.Contains(id, "@") {
			return nil, err
		}
		id, err = r.WebfingerActorURL(id)
		if err != nil {
			return nil, err
		}
		ident, err = ParseIdentifier(id)
		if err != nil {
			return nil, err
		}
	}
	if ident.Host == r.conf.Conf.Domain {
		return r.resolveLocalActor(ident)
	}
	return r.resolveRemoteActor(id)
}

func (r *Resolver) resolveLocalActor(ident *Identifier) (*Actor, error) {
	switch ident.Kind {
	case IdentUser:
		err, person := r.db.ReadPersonByUsername(ident.Key)
		if err == nil {
			return &Actor{Kind: ActorPerson, Person: person}, nil
		}
		if err != sql.ErrNoRows {
			return nil, err
		}
		err, service := r.db.ReadServiceByUsername(ident.Key)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: actor %q", ErrNotFound, ident.Key)
		}
		if err != nil {
			return nil, err
		}
		return &Actor{Kind: ActorService, Service: service}, nil
	case IdentPurl:
		err, pkg := r.db.ReadPackageByPurl(ident.Key)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: package %q", ErrNotFound, ident.Key)
		}
		if err != nil {
			return nil, err
		}
		return &Actor{Kind: ActorPackage, Package: pkg}, nil
	}
	return nil, fmt.Errorf("%w: not an actor id", ErrProtocol)
}

// resolveRemoteActor fetches the actor's own profile document before
// materializing it. Inline envelope fields are never trusted, and a
// profile missing its name or purl is incomplete and fails discovery.
func (r *Resolver) resolveRemoteActor(id string) (*Actor, error) {
	profile, err := r.FetchActor(id)
	if err != nil {
		return nil, err
	}
	switch profile.Type {
	case "Person":
		if profile.Name == "" {
			return nil, fmt.Errorf("%w: remote person %q has no name", ErrDiscovery, id)
		}
		if err, _ := r.db.GetOrCreateRemoteActor(id, profile.Name); err != nil {
			return nil, err
		}
		err, person := r.db.GetOrCreatePersonByRemoteActor(id)
		if err != nil {
			return nil, err
		}
		return &Actor{Kind: ActorPerson, Person: person}, nil
	case "Package":
		if profile.Purl == "" {
			return nil, fmt.Errorf("%w: remote package %q has no purl", ErrDiscovery, id)
		}
		if err, _ := r.db.GetOrCreateRemoteActor(id, profile.Purl); err != nil {
			return nil, err
		}
		err, pkg := r.db.GetOrCreateRemotePackage(profile.Purl, id)
		if err != nil {
			return nil, err
		}
		return &Actor{Kind: ActorPackage, Package: pkg}, nil
	}
	return nil, fmt.Errorf("%w: unsupported remote actor type %q", ErrDiscovery, profile.Type)
}

// ResolveObject resolves an object reference to a stored record. Objects
// live on the server that minted their id, so only local ids resolve.
func (r *Resolver) ResolveObject(ref *ApObject) (*Object, error) {
	ident, err := ParseIdentifier(ref.Id)
	if err != nil {
		return nil, err
	}
	if ident.Host != r.conf.Conf.Domain {
		return nil, fmt.Errorf("%w: object %q is not hosted here", ErrNotFound, ref.Id)
	}
	switch ident.Kind {
	case IdentNote:
		id, err := uuid.Parse(ident.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: note id %q", ErrProtocol, ident.Key)
		}
		err, note := r.db.ReadNoteById(id)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: note %s", ErrNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		return &Object{Kind: ObjectNote, Note: note}, nil
	case IdentReview:
		id, err := uuid.Parse(ident.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: review id %q", ErrProtocol, ident.Key)
		}
		err, review := r.db.ReadReviewById(id)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: review %s", ErrNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		return &Object{Kind: ObjectReview, Review: review}, nil
	case IdentRepository:
		id, err := uuid.Parse(ident.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: repository id %q", ErrProtocol, ident.Key)
		}
		err, repo := r.db.ReadRepositoryById(id)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: repository %s", ErrNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		return &Object{Kind: ObjectRepository, Repository: repo}, nil
	case IdentVulnerability:
		err, vul := r.db.ReadVulnerabilityById(ident.Key)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: vulnerability %s", ErrNotFound, ident.Key)
		}
		if err != nil {
			return nil, err
		}
		return &Object{Kind: ObjectVulnerability, Vulnerability: vul}, nil
	}
	return nil, fmt.Errorf("%w: not an object id", ErrProtocol)
}

// FetchActor retrieves a remote actor profile document.
func (r *Resolver) FetchActor(id string) (*ApActor, error) {
	var actor ApActor
	resp, err := r.client.R().SetResult(&actor).Get(id)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrDiscovery, id, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: fetch %s: status %d", ErrDiscovery, id, resp.StatusCode())
	}
	if actor.Id == "" {
		actor.Id = id
	}
	return &actor, nil
}

// WebfingerActorURL discovers the actor profile URL behind an account
// handle like "alice@example.com" or "pkg:npm/left-pad@example.com".
func (r *Resolver) WebfingerActorURL(acct string) (string, error) {
	identity, host := util.ParseWebfinger(acct)
	if host == "" {
		return "", fmt.Errorf("%w: acct %q has no host", ErrDiscovery, acct)
	}
	var doc struct {
		Subject string `json:"subject"`
		Links   []struct {
			Rel  string `json:"rel"`
			Type string `json:"type"`
			Href string `json:"href"`
		} `json:"links"`
	}
	resp, err := r.client.R().
		SetQueryParam("resource", util.PairToWebfinger(identity, host)).
		SetResult(&doc).
		Get(fmt.Sprintf("https://%s/.well-known/webfinger", host))
	if err != nil {
		return "", fmt.Errorf("%w: webfinger %s: %v", ErrDiscovery, acct, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: webfinger %s: status %d", ErrDiscovery, acct, resp.StatusCode())
	}
	for _, link := range doc.Links {
		if link.Rel == "self" {
			return link.Href, nil
		}
	}
	return "", fmt.Errorf("%w: webfinger %s: no self link", ErrDiscovery, acct)
}
