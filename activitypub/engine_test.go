package activitypub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/ziadhany/federatedcode/db"
	"github.com/ziadhany/federatedcode/domain"
	"github.com/ziadhany/federatedcode/util"
)

var engineOnce sync.Once
var testEngine *Engine
var testDB *db.DB

// newTestEngine wires an engine against a shared in-memory database.
func newTestEngine(t *testing.T) (*Engine, *db.DB) {
	engineOnce.Do(func() {
		testDB = db.Init("file:enginetest?mode=memory&cache=shared")
		conf := &util.AppConfig{}
		conf.Conf.Domain = testDomain
		conf.Conf.Workspace = t.TempDir()
		resolver := NewResolver(conf, testDB)
		testEngine = NewEngine(conf, testDB, resolver)
	})
	return testEngine, testDB
}

func handleEnvelope(t *testing.T, engine *Engine, envelope map[string]any) (*Result, error) {
	envelope["@context"] = ApContext
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("Failed to marshal envelope: %v", err)
	}
	activity, err := ParseActivity(body)
	if err != nil {
		t.Fatalf("ParseActivity failed: %v", err)
	}
	return engine.Handle(activity)
}

func newEnginePerson(t *testing.T, database *db.DB, username string) *domain.Person {
	person := &domain.Person{Id: uuid.New(), Username: username}
	if err := database.CreatePerson(person); err != nil {
		t.Fatalf("CreatePerson failed: %v", err)
	}
	return person
}

func newEngineService(t *testing.T, database *db.DB, username string) *domain.Service {
	service := &domain.Service{Id: uuid.New(), Username: username}
	if err := database.CreateService(service); err != nil {
		t.Fatalf("CreateService failed: %v", err)
	}
	return service
}

func TestEngineFollowAndUnFollow(t *testing.T) {
	engine, database := newTestEngine(t)
	person := newEnginePerson(t, database, "follower")
	service := newEngineService(t, database, "followsvc")
	err, pkg, _ := database.GetOrCreatePackage("pkg:npm/follow-me", service.Id)
	if err != nil {
		t.Fatalf("GetOrCreatePackage failed: %v", err)
	}

	follow := map[string]any{
		"type":   TypeFollow,
		"actor":  UserProfileURL(testDomain, person.Username),
		"object": PurlProfileURL(testDomain, pkg.Purl),
	}
	result, handleErr := handleEnvelope(t, engine, follow)
	if handleErr != nil {
		t.Fatalf("Follow failed: %v", handleErr)
	}
	if result.Status != http.StatusCreated {
		t.Errorf("Expected 201, got %d", result.Status)
	}

	// Re-follow is a no-op success
	if _, handleErr = handleEnvelope(t, engine, follow); handleErr != nil {
		t.Fatalf("Re-follow failed: %v", handleErr)
	}
	err, follows := database.ReadFollowsByPackageId(pkg.Id)
	if err != nil {
		t.Fatalf("ReadFollowsByPackageId failed: %v", err)
	}
	if len(*follows) != 1 {
		t.Errorf("Expected exactly one follow, got %d", len(*follows))
	}

	unfollow := map[string]any{
		"type":   TypeUnFollow,
		"actor":  UserProfileURL(testDomain, person.Username),
		"object": PurlProfileURL(testDomain, pkg.Purl),
	}
	result, handleErr = handleEnvelope(t, engine, unfollow)
	if handleErr != nil {
		t.Fatalf("UnFollow failed: %v", handleErr)
	}
	if result.Status != http.StatusOK {
		t.Errorf("Expected 200, got %d", result.Status)
	}

	// Unfollowing again reports the missing subscription
	if _, handleErr = handleEnvelope(t, engine, unfollow); !errors.Is(handleErr, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", handleErr)
	}
}

// pendingForTarget counts queued deliveries addressed to one inbox. The
// database is shared across tests, so callers pick unique targets.
func pendingForTarget(t *testing.T, database *db.DB, target string) int {
	err, pending := database.ReadPendingFederateRequests(100)
	if err != nil {
		t.Fatalf("ReadPendingFederateRequests failed: %v", err)
	}
	count := 0
	for _, req := range *pending {
		if req.Target == target {
			count++
		}
	}
	return count
}

func TestEngineFederatesCreateNote(t *testing.T) {
	engine, database := newTestEngine(t)
	person := newEnginePerson(t, database, "fedauthor")
	target := "https://peer.example/purls/pkg:npm/fed-note/inbox"

	create := map[string]any{
		"type":  TypeCreate,
		"actor": UserProfileURL(testDomain, person.Username),
		"object": map[string]any{
			"type":    "Note",
			"content": "fed-note 2.0 fixes the overflow",
		},
		"to": []string{target},
	}
	if _, err := handleEnvelope(t, engine, create); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if got := pendingForTarget(t, database, target); got != 1 {
		t.Errorf("Expected one queued delivery, got %d", got)
	}

	// A rejected duplicate must not queue a second delivery
	if _, err := handleEnvelope(t, engine, create); !errors.Is(err, ErrProtocol) {
		t.Fatalf("Expected ErrProtocol for duplicate note, got %v", err)
	}
	if got := pendingForTarget(t, database, target); got != 1 {
		t.Errorf("Expected failed activity to queue nothing, got %d deliveries", got)
	}
}

func TestEngineFederatesFollow(t *testing.T) {
	engine, database := newTestEngine(t)
	person := newEnginePerson(t, database, "fedfollower")
	service := newEngineService(t, database, "fedfollowsvc")
	err, pkg, _ := database.GetOrCreatePackage("pkg:npm/fed-follow", service.Id)
	if err != nil {
		t.Fatalf("GetOrCreatePackage failed: %v", err)
	}
	target := "https://peer.example/users/fedmirror/inbox"

	follow := map[string]any{
		"type":   TypeFollow,
		"actor":  UserProfileURL(testDomain, person.Username),
		"object": PurlProfileURL(testDomain, pkg.Purl),
		"to":     []string{target},
	}
	if _, err := handleEnvelope(t, engine, follow); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	if got := pendingForTarget(t, database, target); got != 1 {
		t.Errorf("Expected one queued delivery, got %d", got)
	}
}

func TestEngineLocalOnlyActivitiesDoNotFederate(t *testing.T) {
	engine, database := newTestEngine(t)
	admin := newEngineService(t, database, "fedlocaladmin")
	target := "https://peer.example/users/fedlocalmirror/inbox"

	create := map[string]any{
		"type":  TypeCreate,
		"actor": UserProfileURL(testDomain, admin.Username),
		"object": map[string]any{
			"type": "Repository",
			"url":  "https://git.example/local-only-advisories",
		},
		"to": []string{target},
	}
	result, err := handleEnvelope(t, engine, create)
	if err != nil {
		t.Fatalf("Create repository failed: %v", err)
	}

	syncActivity := map[string]any{
		"type":   TypeSync,
		"actor":  UserProfileURL(testDomain, admin.Username),
		"object": result.Location,
		"to":     []string{target},
	}
	if _, err := handleEnvelope(t, engine, syncActivity); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if got := pendingForTarget(t, database, target); got != 0 {
		t.Errorf("Expected repository registration and sync to stay local, got %d deliveries", got)
	}
}

func TestEngineCreateNote(t *testing.T) {
	engine, _ := newTestEngine(t)
	person := newEnginePerson(t, engine.db, "noteauthor")

	create := map[string]any{
		"type":  TypeCreate,
		"actor": UserProfileURL(testDomain, person.Username),
		"object": map[string]any{
			"type":    "Note",
			"content": "left-pad 1.0.3 is affected",
		},
	}
	result, err := handleEnvelope(t, engine, create)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if result.Status != http.StatusCreated {
		t.Errorf("Expected 201, got %d", result.Status)
	}
	if !strings.HasPrefix(result.Location, fmt.Sprintf("https://%s/notes/", testDomain)) {
		t.Errorf("Unexpected location: %s", result.Location)
	}

	// An identical Create is rejected instead of minting a second id
	if _, err = handleEnvelope(t, engine, create); !errors.Is(err, ErrProtocol) {
		t.Errorf("Expected ErrProtocol for duplicate note, got %v", err)
	}
}

func TestEngineReviewComments(t *testing.T) {
	engine, database := newTestEngine(t)
	author := newEnginePerson(t, database, "revcauthor")
	commenter := newEnginePerson(t, database, "revccommenter")
	admin := newEngineService(t, database, "revcadmin")

	err, repo, _ := database.GetOrCreateRepository("https://git.example/revc-advisories", t.TempDir(), admin.Id)
	if err != nil {
		t.Fatalf("GetOrCreateRepository failed: %v", err)
	}
	err, review, _ := database.GetOrCreateReview(&domain.Review{
		Headline:     "range check",
		AuthorId:     author.Id,
		RepositoryId: repo.Id,
		Filepath:     "npm/left-pad.yaml",
		Commit:       "abc123",
		Data:         "the fixed range looks wrong",
		Status:       domain.ReviewOpen,
	})
	if err != nil {
		t.Fatalf("GetOrCreateReview failed: %v", err)
	}

	create := map[string]any{
		"type":  TypeCreate,
		"actor": UserProfileURL(testDomain, commenter.Username),
		"object": map[string]any{
			"type":    "Note",
			"content": "the range also misses 1.0.2",
			"review":  ReviewURL(testDomain, review.Id),
		},
	}
	if _, err := handleEnvelope(t, engine, create); err != nil {
		t.Fatalf("Create comment failed: %v", err)
	}

	dbErr, comments := database.ReadReviewComments(review.Id)
	if dbErr != nil {
		t.Fatalf("ReadReviewComments failed: %v", dbErr)
	}
	if len(*comments) != 1 || (*comments)[0].Content != "the range also misses 1.0.2" {
		t.Fatalf("Expected the comment attached to the review, got %v", *comments)
	}

	profile := ReviewProfile(engine.conf, review, author, repo, *comments)
	col, ok := profile["comments"].(map[string]any)
	if !ok {
		t.Fatal("Expected the review profile to carry a comments collection")
	}
	if col["totalItems"].(int) != 1 {
		t.Errorf("Expected one comment item, got %v", col["totalItems"])
	}

	// A comment naming a missing review is rejected before any insert
	orphan := map[string]any{
		"type":  TypeCreate,
		"actor": UserProfileURL(testDomain, commenter.Username),
		"object": map[string]any{
			"type":    "Note",
			"content": "into the void",
			"review":  ReviewURL(testDomain, uuid.New()),
		},
	}
	if _, err := handleEnvelope(t, engine, orphan); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown review, got %v", err)
	}

	if err := database.DeleteReview(review.Id); err != nil {
		t.Fatalf("DeleteReview failed: %v", err)
	}
	dbErr, comments = database.ReadReviewComments(review.Id)
	if dbErr != nil {
		t.Fatalf("ReadReviewComments failed: %v", dbErr)
	}
	if len(*comments) != 0 {
		t.Errorf("Expected comment links to go with the review, got %d", len(*comments))
	}
}

func TestEngineUpdateNoteAuthorization(t *testing.T) {
	engine, database := newTestEngine(t)
	author := newEnginePerson(t, database, "updauthor")
	mallory := newEnginePerson(t, database, "updmallory")

	err, note, _ := database.GetOrCreateNote(author.Acct(testDomain), "original content", uuid.Nil)
	if err != nil {
		t.Fatalf("GetOrCreateNote failed: %v", err)
	}
	noteURL := NoteURL(testDomain, note.Id)

	update := map[string]any{
		"type":  TypeUpdate,
		"actor": UserProfileURL(testDomain, mallory.Username),
		"object": map[string]any{
			"type":    "Note",
			"id":      noteURL,
			"content": "defaced",
		},
	}
	if _, handleErr := handleEnvelope(t, engine, update); !errors.Is(handleErr, ErrAuthorization) {
		t.Fatalf("Expected ErrAuthorization, got %v", handleErr)
	}

	// A denied update leaves the note untouched
	err, got := database.ReadNoteById(note.Id)
	if err != nil {
		t.Fatalf("ReadNoteById failed: %v", err)
	}
	if got.Content != "original content" {
		t.Errorf("Denied update changed content to %q", got.Content)
	}

	update["actor"] = UserProfileURL(testDomain, author.Username)
	update["object"].(map[string]any)["content"] = "corrected content"
	result, handleErr := handleEnvelope(t, engine, update)
	if handleErr != nil {
		t.Fatalf("Update by author failed: %v", handleErr)
	}
	if result.Status != http.StatusOK {
		t.Errorf("Expected 200, got %d", result.Status)
	}
	if result.Body["content"] != "corrected content" {
		t.Errorf("Expected response to carry the updated profile, got %v", result.Body["content"])
	}
}

func TestEngineDeleteNote(t *testing.T) {
	engine, database := newTestEngine(t)
	author := newEnginePerson(t, database, "delauthor")

	err, note, _ := database.GetOrCreateNote(author.Acct(testDomain), "short lived", uuid.Nil)
	if err != nil {
		t.Fatalf("GetOrCreateNote failed: %v", err)
	}

	del := map[string]any{
		"type":   TypeDelete,
		"actor":  UserProfileURL(testDomain, author.Username),
		"object": NoteURL(testDomain, note.Id),
	}
	result, handleErr := handleEnvelope(t, engine, del)
	if handleErr != nil {
		t.Fatalf("Delete failed: %v", handleErr)
	}
	if result.Status != http.StatusOK {
		t.Errorf("Expected 200, got %d", result.Status)
	}

	// Deleting again is a not-found failure
	if _, handleErr = handleEnvelope(t, engine, del); !errors.Is(handleErr, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", handleErr)
	}
}

func TestEngineRepositoryLifecycle(t *testing.T) {
	engine, database := newTestEngine(t)
	admin := newEngineService(t, database, "repoadmin")
	intruder := newEngineService(t, database, "repointruder")

	create := map[string]any{
		"type":  TypeCreate,
		"actor": UserProfileURL(testDomain, admin.Username),
		"object": map[string]any{
			"type": "Repository",
			"url":  "https://git.example/engine-advisories",
		},
	}
	result, err := handleEnvelope(t, engine, create)
	if err != nil {
		t.Fatalf("Create repository failed: %v", err)
	}
	if result.Status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", result.Status)
	}
	repoURL := result.Location

	syncActivity := map[string]any{
		"type":   TypeSync,
		"actor":  UserProfileURL(testDomain, intruder.Username),
		"object": repoURL,
	}
	if _, err := handleEnvelope(t, engine, syncActivity); !errors.Is(err, ErrAuthorization) {
		t.Fatalf("Expected ErrAuthorization for non-admin sync, got %v", err)
	}

	syncActivity["actor"] = UserProfileURL(testDomain, admin.Username)
	result, err = handleEnvelope(t, engine, syncActivity)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Status != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", result.Status)
	}

	dbErr, pending := database.ReadPendingSyncRequests(10)
	if dbErr != nil {
		t.Fatalf("ReadPendingSyncRequests failed: %v", dbErr)
	}
	if len(*pending) == 0 {
		t.Error("Expected a queued sync request")
	}
}

func TestErrorKind(t *testing.T) {
	cases := map[error]string{
		ErrProtocol:      "protocol",
		ErrAuthorization: "authorization",
		ErrNotFound:      "not_found",
		ErrDiscovery:     "discovery",
		ErrDelivery:      "delivery",
		ErrSync:          "sync",
		errors.New("anything else"): "internal",
	}
	for err, kind := range cases {
		if got := ErrorKind(fmt.Errorf("wrapped: %w", err)); got != kind {
			t.Errorf("ErrorKind(%v): expected %s, got %s", err, kind, got)
		}
	}
}
