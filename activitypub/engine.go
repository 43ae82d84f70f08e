package activitypub

import (
	"database/sql"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ziadhany/federatedcode/db"
	"github.com/ziadhany/federatedcode/domain"
	"github.com/ziadhany/federatedcode/util"
)

// Result is the outcome of a handled activity. Location is set when an
// object was created, Body carries the response document when one applies.
type Result struct {
	Status   int
	Location string
	Body     map[string]any
}

// Engine applies inbox activities against local storage.
type Engine struct {
	conf     *util.AppConfig
	db       *db.DB
	resolver *Resolver
}

func NewEngine(conf *util.AppConfig, database *db.DB, resolver *Resolver) *Engine {
	return &Engine{conf: conf, db: database, resolver: resolver}
}

// Handle dispatches a parsed activity to its handler and, when the
// activity applied cleanly, queues it for delivery to the remote targets
// it addresses. Failures wrap one of the protocol error kinds so callers
// can map them to a response status.
func (e *Engine) Handle(activity *Activity) (*Result, error) {
	result, err := e.dispatch(activity)
	if err != nil {
		return nil, err
	}
	if federates(activity) {
		e.federate(activity)
	}
	return result, nil
}

func (e *Engine) dispatch(activity *Activity) (*Result, error) {
	switch activity.Type {
	case TypeFollow:
		return e.handleFollow(activity)
	case TypeUnFollow:
		return e.handleUnFollow(activity)
	case TypeCreate:
		return e.handleCreate(activity)
	case TypeUpdate:
		return e.handleUpdate(activity)
	case TypeDelete:
		return e.handleDelete(activity)
	case TypeSync:
		return e.handleSync(activity)
	}
	return nil, fmt.Errorf("%w: unsupported activity type %q", ErrProtocol, activity.Type)
}

// federates reports whether a successful activity propagates to its
// targets. Sync only queues a local import, and service-registered
// repositories stay local.
func federates(activity *Activity) bool {
	switch activity.Type {
	case TypeSync:
		return false
	case TypeCreate:
		obj, err := activity.ObjectRef()
		return err == nil && obj.Type != "Repository"
	}
	return true
}

// federate queues the applied envelope for delivery. Targets on the local
// domain are filtered out downstream.
func (e *Engine) federate(activity *Activity) {
	if len(activity.To) == 0 {
		return
	}
	envelope := map[string]any{
		"@context": ApContext,
		"type":     activity.Type,
		"actor":    activity.Actor.Id,
		"object":   activity.Object,
		"to":       activity.To,
	}
	if activity.Id != "" {
		envelope["id"] = activity.Id
	}
	local := e.conf.Conf.Domain
	Federate(e.db, local, envelope, activity.To, ServerKeyId(local))
}

// handleFollow subscribes the acting person to the target package.
// Re-following an already followed package is a no-op success.
func (e *Engine) handleFollow(activity *Activity) (*Result, error) {
	actor, err := e.resolver.ResolveActor(&activity.Actor)
	if err != nil {
		return nil, err
	}
	if actor.Kind != ActorPerson {
		return nil, fmt.Errorf("%w: only persons follow packages", ErrProtocol)
	}
	targetRef, err := activity.ObjectActor()
	if err != nil {
		return nil, err
	}
	target, err := e.resolver.ResolveActor(targetRef)
	if err != nil {
		return nil, err
	}
	if target.Kind != ActorPackage {
		return nil, fmt.Errorf("%w: follow target is not a package", ErrProtocol)
	}
	if err, _, _ := e.db.GetOrCreateFollow(actor.Person.Id, target.Package.Id); err != nil {
		return nil, err
	}
	return &Result{Status: http.StatusCreated}, nil
}

// handleUnFollow removes the subscription. Unfollowing a package that was
// never followed is a not-found failure.
func (e *Engine) handleUnFollow(activity *Activity) (*Result, error) {
	actor, err := e.resolver.ResolveActor(&activity.Actor)
	if err != nil {
		return nil, err
	}
	if actor.Kind != ActorPerson {
		return nil, fmt.Errorf("%w: only persons follow packages", ErrProtocol)
	}
	targetRef, err := activity.ObjectActor()
	if err != nil {
		return nil, err
	}
	target, err := e.resolver.ResolveActor(targetRef)
	if err != nil {
		return nil, err
	}
	if target.Kind != ActorPackage {
		return nil, fmt.Errorf("%w: follow target is not a package", ErrProtocol)
	}
	err = e.db.DeleteFollow(actor.Person.Id, target.Package.Id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no follow to remove", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &Result{Status: http.StatusOK}, nil
}

func (e *Engine) handleCreate(activity *Activity) (*Result, error) {
	actor, err := e.resolver.ResolveActor(&activity.Actor)
	if err != nil {
		return nil, err
	}
	obj, err := activity.ObjectRef()
	if err != nil {
		return nil, err
	}
	switch obj.Type {
	case "Note":
		return e.createNote(actor, obj)
	case "Review":
		return e.createReview(actor, obj)
	case "Repository":
		return e.createRepository(actor, obj)
	}
	return nil, fmt.Errorf("%w: cannot create object type %q", ErrProtocol, obj.Type)
}

func (e *Engine) createNote(actor *Actor, obj *ApObject) (*Result, error) {
	acct, err := ActorAcct(actor, e.conf.Conf.Domain)
	if err != nil {
		return nil, err
	}
	if obj.Content == "" {
		return nil, fmt.Errorf("%w: note has no content", ErrProtocol)
	}
	replyTo := uuid.Nil
	if obj.ReplyTo != "" {
		parent, err := e.resolver.ResolveObject(&ApObject{Id: obj.ReplyTo})
		if err != nil {
			return nil, err
		}
		if parent.Kind != ObjectNote {
			return nil, fmt.Errorf("%w: reply target is not a note", ErrProtocol)
		}
		replyTo = parent.Note.Id
	}
	reviewId := uuid.Nil
	if obj.Review != "" {
		parent, err := e.resolver.ResolveObject(&ApObject{Id: obj.Review})
		if err != nil {
			return nil, err
		}
		if parent.Kind != ObjectReview {
			return nil, fmt.Errorf("%w: comment target is not a review", ErrProtocol)
		}
		reviewId = parent.Review.Id
	}
	err, note, created := e.db.GetOrCreateNote(acct, obj.Content, replyTo)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("%w: note already exists", ErrProtocol)
	}
	if reviewId != uuid.Nil {
		if err := e.db.AttachReviewComment(reviewId, note.Id); err != nil {
			return nil, err
		}
	}
	return &Result{
		Status:   http.StatusCreated,
		Location: NoteURL(e.conf.Conf.Domain, note.Id),
		Body:     NoteProfile(e.conf, note),
	}, nil
}

func (e *Engine) createReview(actor *Actor, obj *ApObject) (*Result, error) {
	if actor.Kind != ActorPerson {
		return nil, fmt.Errorf("%w: only persons author reviews", ErrAuthorization)
	}
	if obj.Repository == "" {
		return nil, fmt.Errorf("%w: review has no repository", ErrProtocol)
	}
	repo, err := e.resolver.ResolveObject(&ApObject{Id: obj.Repository})
	if err != nil {
		return nil, err
	}
	if repo.Kind != ObjectRepository {
		return nil, fmt.Errorf("%w: review target is not a repository", ErrProtocol)
	}
	err, review, created := e.db.GetOrCreateReview(&domain.Review{
		Headline:     obj.Headline,
		AuthorId:     actor.Person.Id,
		RepositoryId: repo.Repository.Id,
		Filepath:     obj.Filepath,
		Commit:       obj.Commit,
		Data:         obj.Content,
		Status:       domain.ReviewOpen,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("%w: review already exists", ErrProtocol)
	}
	return &Result{
		Status:   http.StatusCreated,
		Location: ReviewURL(e.conf.Conf.Domain, review.Id),
		Body:     ReviewProfile(e.conf, review, actor.Person, repo.Repository, nil),
	}, nil
}

func (e *Engine) createRepository(actor *Actor, obj *ApObject) (*Result, error) {
	if actor.Kind != ActorService {
		return nil, fmt.Errorf("%w: only services register repositories", ErrAuthorization)
	}
	if obj.URL == "" {
		return nil, fmt.Errorf("%w: repository has no url", ErrProtocol)
	}
	path := filepath.Join(e.conf.Conf.Workspace, util.RepoDirName(obj.URL))
	err, repo, created := e.db.GetOrCreateRepository(obj.URL, path, actor.Service.Id)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("%w: repository already exists", ErrProtocol)
	}
	return &Result{
		Status:   http.StatusCreated,
		Location: RepositoryURL(e.conf.Conf.Domain, repo.Id),
		Body:     RepositoryProfile(e.conf, repo),
	}, nil
}

// handleUpdate applies the provided fields to the target object. Fields
// absent from the payload keep their stored values, and the response
// always carries the object's current profile.
func (e *Engine) handleUpdate(activity *Activity) (*Result, error) {
	actor, err := e.resolver.ResolveActor(&activity.Actor)
	if err != nil {
		return nil, err
	}
	obj, err := activity.ObjectRef()
	if err != nil {
		return nil, err
	}
	target, err := e.resolver.ResolveObject(obj)
	if err != nil {
		return nil, err
	}
	if !Permissions(actor, target, e.conf.Conf.Domain)[OpUpdate] {
		return nil, fmt.Errorf("%w: update denied", ErrAuthorization)
	}
	switch target.Kind {
	case ObjectNote:
		if obj.Content != "" {
			if err := e.db.UpdateNoteContent(target.Note.Id, obj.Content); err != nil {
				return nil, err
			}
		}
		err, note := e.db.ReadNoteById(target.Note.Id)
		if err != nil {
			return nil, err
		}
		return &Result{Status: http.StatusOK, Body: NoteProfile(e.conf, note)}, nil
	case ObjectReview:
		headline := target.Review.Headline
		if obj.Headline != "" {
			headline = obj.Headline
		}
		data := target.Review.Data
		if obj.Content != "" {
			data = obj.Content
		}
		if err := e.db.UpdateReview(target.Review.Id, headline, data); err != nil {
			return nil, err
		}
		err, review := e.db.ReadReviewById(target.Review.Id)
		if err != nil {
			return nil, err
		}
		err, comments := e.db.ReadReviewComments(review.Id)
		if err != nil {
			return nil, err
		}
		return &Result{Status: http.StatusOK, Body: ReviewProfile(e.conf, review, actor.Person, nil, *comments)}, nil
	case ObjectRepository:
		if obj.URL != "" {
			if err := e.db.UpdateRepositoryURL(target.Repository.Id, obj.URL); err != nil {
				return nil, err
			}
		}
		err, repo := e.db.ReadRepositoryById(target.Repository.Id)
		if err != nil {
			return nil, err
		}
		return &Result{Status: http.StatusOK, Body: RepositoryProfile(e.conf, repo)}, nil
	}
	return nil, fmt.Errorf("%w: update denied", ErrAuthorization)
}

func (e *Engine) handleDelete(activity *Activity) (*Result, error) {
	actor, err := e.resolver.ResolveActor(&activity.Actor)
	if err != nil {
		return nil, err
	}
	obj, err := activity.ObjectRef()
	if err != nil {
		return nil, err
	}
	target, err := e.resolver.ResolveObject(obj)
	if err != nil {
		return nil, err
	}
	if !Permissions(actor, target, e.conf.Conf.Domain)[OpDelete] {
		return nil, fmt.Errorf("%w: delete denied", ErrAuthorization)
	}
	switch target.Kind {
	case ObjectNote:
		err = e.db.DeleteNote(target.Note.Id)
	case ObjectReview:
		err = e.db.DeleteReview(target.Review.Id)
	case ObjectRepository:
		err = e.db.DeleteRepository(target.Repository.Id)
	default:
		return nil, fmt.Errorf("%w: delete denied", ErrAuthorization)
	}
	if err != nil {
		return nil, err
	}
	return &Result{Status: http.StatusOK}, nil
}

// handleSync records a sync request for the target repository. The import
// itself runs asynchronously.
func (e *Engine) handleSync(activity *Activity) (*Result, error) {
	actor, err := e.resolver.ResolveActor(&activity.Actor)
	if err != nil {
		return nil, err
	}
	obj, err := activity.ObjectRef()
	if err != nil {
		return nil, err
	}
	target, err := e.resolver.ResolveObject(obj)
	if err != nil {
		return nil, err
	}
	if !Permissions(actor, target, e.conf.Conf.Domain)[OpSync] {
		return nil, fmt.Errorf("%w: sync denied", ErrAuthorization)
	}
	if err := e.db.CreateSyncRequest(target.Repository.Id); err != nil {
		return nil, err
	}
	return &Result{Status: http.StatusAccepted}, nil
}
