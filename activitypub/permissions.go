package activitypub

import (
	"fmt"

	"github.com/ziadhany/federatedcode/util"
)

// Op is an operation an actor may request on an object.
type Op int

const (
	OpCreate Op = iota
	OpUpdate
	OpDelete
	OpSync
)

// ActorAcct computes the account handle an actor authors notes under.
// Local actors take the local domain, remote actors the domain that
// minted their profile URL.
func ActorAcct(actor *Actor, domain string) (string, error) {
	switch actor.Kind {
	case ActorPerson:
		if actor.Person.Local() {
			return actor.Person.Acct(domain), nil
		}
		return remoteAcct(actor.Person.RemoteActorURL)
	case ActorPackage:
		if actor.Package.Local() {
			return actor.Package.Acct(domain), nil
		}
		return remoteAcct(actor.Package.RemoteActorURL)
	}
	return "", fmt.Errorf("%w: actor cannot author notes", ErrProtocol)
}

func remoteAcct(actorURL string) (string, error) {
	ident, err := ParseIdentifier(actorURL)
	if err != nil {
		return "", err
	}
	return util.GenerateWebfinger(ident.Key, ident.Host), nil
}

// Permissions returns the operations actor may perform on object, per the
// actor-type x object-type capability matrix. Create is granted whenever
// the pairing is valid at all, mutation requires ownership:
//
//	Person  x Note        author only may update and delete
//	Person  x Review      author only may update and delete
//	Package x Note        the package's own notes only
//	Service x Repository  admin only may update, delete and sync
//
// Note ownership is decided by account handle, so a remote actor holds
// the same rights over the notes it authored as a local one. Any pairing
// outside the matrix gets no permissions. domain is the local domain used
// to compute account handles.
func Permissions(actor *Actor, object *Object, domain string) map[Op]bool {
	granted := map[Op]bool{}
	if actor == nil || object == nil {
		return granted
	}
	switch actor.Kind {
	case ActorPerson:
		switch object.Kind {
		case ObjectNote:
			granted[OpCreate] = true
			if acct, err := ActorAcct(actor, domain); err == nil && acct == object.Note.Acct {
				granted[OpUpdate] = true
				granted[OpDelete] = true
			}
		case ObjectReview:
			granted[OpCreate] = true
			if object.Review.AuthorId == actor.Person.Id {
				granted[OpUpdate] = true
				granted[OpDelete] = true
			}
		}
	case ActorPackage:
		if object.Kind == ObjectNote {
			granted[OpCreate] = true
			if acct, err := ActorAcct(actor, domain); err == nil && acct == object.Note.Acct {
				granted[OpUpdate] = true
				granted[OpDelete] = true
			}
		}
	case ActorService:
		if object.Kind == ObjectRepository {
			granted[OpCreate] = true
			if object.Repository.AdminId == actor.Service.Id {
				granted[OpUpdate] = true
				granted[OpDelete] = true
				granted[OpSync] = true
			}
		}
	}
	return granted
}
