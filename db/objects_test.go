package db

import (
	"database/sql"
	"testing"

	"github.com/google/uuid"

	"github.com/ziadhany/federatedcode/domain"
)

func TestGetOrCreateNote(t *testing.T) {
	db := setupTestDB(t)

	err, note, created := db.GetOrCreateNote("alice@example.com", "hello fediverse", uuid.Nil)
	if err != nil {
		t.Fatalf("GetOrCreateNote failed: %v", err)
	}
	if !created {
		t.Error("Expected creation on first call")
	}
	if note.HasReply() {
		t.Error("Expected no reply reference")
	}

	err, again, created := db.GetOrCreateNote("alice@example.com", "hello fediverse", uuid.Nil)
	if err != nil {
		t.Fatalf("Second GetOrCreateNote failed: %v", err)
	}
	if created {
		t.Error("Expected no creation for identical note")
	}
	if note.Id != again.Id {
		t.Error("Expected the same note record")
	}
}

func TestNoteReplies(t *testing.T) {
	db := setupTestDB(t)

	err, parent, _ := db.GetOrCreateNote("alice@example.com", "original", uuid.Nil)
	if err != nil {
		t.Fatalf("GetOrCreateNote failed: %v", err)
	}
	err, reply, _ := db.GetOrCreateNote("bob@example.com", "a reply", parent.Id)
	if err != nil {
		t.Fatalf("GetOrCreateNote reply failed: %v", err)
	}
	if reply.ReplyTo != parent.Id {
		t.Errorf("Expected reply_to %s, got %s", parent.Id, reply.ReplyTo)
	}

	// Deleting the parent detaches the reply instead of orphaning it
	if err := db.DeleteNote(parent.Id); err != nil {
		t.Fatalf("DeleteNote failed: %v", err)
	}
	err, got := db.ReadNoteById(reply.Id)
	if err != nil {
		t.Fatalf("ReadNoteById failed: %v", err)
	}
	if got.HasReply() {
		t.Error("Expected reply reference to be cleared")
	}
}

func TestUpdateNoteContent(t *testing.T) {
	db := setupTestDB(t)

	err, note, _ := db.GetOrCreateNote("pkg:npm/left-pad@example.com", "version: 1.0.0", uuid.Nil)
	if err != nil {
		t.Fatalf("GetOrCreateNote failed: %v", err)
	}

	if err := db.UpdateNoteContent(note.Id, "version: 1.0.1"); err != nil {
		t.Fatalf("UpdateNoteContent failed: %v", err)
	}

	err, got := db.ReadNoteById(note.Id)
	if err != nil {
		t.Fatalf("ReadNoteById failed: %v", err)
	}
	if got.Content != "version: 1.0.1" {
		t.Errorf("Expected updated content, got %q", got.Content)
	}
}

func TestUpdateNotesAcct(t *testing.T) {
	db := setupTestDB(t)

	for _, content := range []string{"version: 1.0.0", "version: 2.0.0"} {
		if err, _, _ := db.GetOrCreateNote("pkg:npm/leftpad@example.com", content, uuid.Nil); err != nil {
			t.Fatalf("GetOrCreateNote failed: %v", err)
		}
	}

	if err := db.UpdateNotesAcct("pkg:npm/leftpad@example.com", "pkg:npm/left-pad@example.com"); err != nil {
		t.Fatalf("UpdateNotesAcct failed: %v", err)
	}

	err, notes := db.ReadNotesByAcct("pkg:npm/left-pad@example.com")
	if err != nil {
		t.Fatalf("ReadNotesByAcct failed: %v", err)
	}
	if len(*notes) != 2 {
		t.Errorf("Expected 2 notes under the new acct, got %d", len(*notes))
	}
}

func TestGetOrCreateReview(t *testing.T) {
	db := setupTestDB(t)
	person := createTestPerson(t, db, "alice")
	service := createTestService(t, db, "vulnerablecode")

	err, repo, _ := db.GetOrCreateRepository("https://git.example/advisories", "/tmp/advisories", service.Id)
	if err != nil {
		t.Fatalf("GetOrCreateRepository failed: %v", err)
	}

	review := &domain.Review{
		Headline:     "Fix affected range",
		AuthorId:     person.Id,
		RepositoryId: repo.Id,
		Filepath:     "npm/left-pad.yaml",
		Commit:       "abc123",
		Data:         "affected: <1.0.3",
		Status:       domain.ReviewOpen,
	}
	err, created, isNew := db.GetOrCreateReview(review)
	if err != nil {
		t.Fatalf("GetOrCreateReview failed: %v", err)
	}
	if !isNew {
		t.Error("Expected creation on first call")
	}

	err, again, isNew := db.GetOrCreateReview(review)
	if err != nil {
		t.Fatalf("Second GetOrCreateReview failed: %v", err)
	}
	if isNew {
		t.Error("Expected no creation for identical review")
	}
	if created.Id != again.Id {
		t.Error("Expected the same review record")
	}
}

func TestUpdateReviewStatus(t *testing.T) {
	db := setupTestDB(t)
	person := createTestPerson(t, db, "alice")
	service := createTestService(t, db, "vulnerablecode")
	err, repo, _ := db.GetOrCreateRepository("https://git.example/advisories", "/tmp/advisories", service.Id)
	if err != nil {
		t.Fatalf("GetOrCreateRepository failed: %v", err)
	}

	err, review, _ := db.GetOrCreateReview(&domain.Review{
		Headline:     "Fix summary",
		AuthorId:     person.Id,
		RepositoryId: repo.Id,
		Filepath:     "npm/left-pad.yaml",
		Commit:       "abc123",
		Data:         "summary: fixed",
	})
	if err != nil {
		t.Fatalf("GetOrCreateReview failed: %v", err)
	}

	if err := db.UpdateReviewStatus(review.Id, domain.ReviewMerged); err != nil {
		t.Fatalf("UpdateReviewStatus failed: %v", err)
	}

	err, got := db.ReadReviewById(review.Id)
	if err != nil {
		t.Fatalf("ReadReviewById failed: %v", err)
	}
	if got.Status != domain.ReviewMerged {
		t.Errorf("Expected status MERGED, got %s", got.Status)
	}
}

func TestReviewComments(t *testing.T) {
	db := setupTestDB(t)
	person := createTestPerson(t, db, "alice")
	service := createTestService(t, db, "vulnerablecode")
	err, repo, _ := db.GetOrCreateRepository("https://git.example/advisories", "/tmp/advisories", service.Id)
	if err != nil {
		t.Fatalf("GetOrCreateRepository failed: %v", err)
	}

	err, review, _ := db.GetOrCreateReview(&domain.Review{
		Headline:     "Fix affected range",
		AuthorId:     person.Id,
		RepositoryId: repo.Id,
		Filepath:     "npm/left-pad.yaml",
		Commit:       "abc123",
		Data:         "affected: <1.0.3",
	})
	if err != nil {
		t.Fatalf("GetOrCreateReview failed: %v", err)
	}
	err, note, _ := db.GetOrCreateNote("bob@example.com", "the range misses 1.0.2", uuid.Nil)
	if err != nil {
		t.Fatalf("GetOrCreateNote failed: %v", err)
	}

	if err := db.AttachReviewComment(review.Id, note.Id); err != nil {
		t.Fatalf("AttachReviewComment failed: %v", err)
	}
	// Attaching again keeps a single link
	if err := db.AttachReviewComment(review.Id, note.Id); err != nil {
		t.Fatalf("Second AttachReviewComment failed: %v", err)
	}

	err, comments := db.ReadReviewComments(review.Id)
	if err != nil {
		t.Fatalf("ReadReviewComments failed: %v", err)
	}
	if len(*comments) != 1 {
		t.Fatalf("Expected one comment, got %d", len(*comments))
	}
	if (*comments)[0].Id != note.Id {
		t.Error("Expected the attached note")
	}

	// Deleting the note drops its link too
	if err := db.DeleteNote(note.Id); err != nil {
		t.Fatalf("DeleteNote failed: %v", err)
	}
	err, comments = db.ReadReviewComments(review.Id)
	if err != nil {
		t.Fatalf("ReadReviewComments failed: %v", err)
	}
	if len(*comments) != 0 {
		t.Errorf("Expected no comments after note deletion, got %d", len(*comments))
	}
}

func TestRepositoryWatermark(t *testing.T) {
	db := setupTestDB(t)
	service := createTestService(t, db, "vulnerablecode")

	err, repo, created := db.GetOrCreateRepository("https://git.example/advisories", "/tmp/advisories", service.Id)
	if err != nil {
		t.Fatalf("GetOrCreateRepository failed: %v", err)
	}
	if !created {
		t.Error("Expected creation on first call")
	}
	if repo.LastImportedCommit != "" {
		t.Errorf("Expected empty watermark before first import, got %q", repo.LastImportedCommit)
	}

	if err := db.UpdateLastImportedCommit(repo.Id, "abc123"); err != nil {
		t.Fatalf("UpdateLastImportedCommit failed: %v", err)
	}

	err, got := db.ReadRepositoryById(repo.Id)
	if err != nil {
		t.Fatalf("ReadRepositoryById failed: %v", err)
	}
	if got.LastImportedCommit != "abc123" {
		t.Errorf("Expected watermark abc123, got %q", got.LastImportedCommit)
	}
}

func TestVulnerabilities(t *testing.T) {
	db := setupTestDB(t)
	service := createTestService(t, db, "vulnerablecode")
	err, repo, _ := db.GetOrCreateRepository("https://git.example/advisories", "/tmp/advisories", service.Id)
	if err != nil {
		t.Fatalf("GetOrCreateRepository failed: %v", err)
	}

	err, _, created := db.GetOrCreateVulnerability("VCID-1111-2222-3333", repo.Id)
	if err != nil {
		t.Fatalf("GetOrCreateVulnerability failed: %v", err)
	}
	if !created {
		t.Error("Expected creation on first call")
	}

	err, _, created = db.GetOrCreateVulnerability("VCID-1111-2222-3333", repo.Id)
	if err != nil {
		t.Fatalf("Second GetOrCreateVulnerability failed: %v", err)
	}
	if created {
		t.Error("Expected no creation on second call")
	}

	err, got := db.ReadVulnerabilityById("VCID-1111-2222-3333")
	if err != nil {
		t.Fatalf("ReadVulnerabilityById failed: %v", err)
	}
	if got.RepoId != repo.Id {
		t.Errorf("Expected repo %s, got %s", repo.Id, got.RepoId)
	}

	if err := db.DeleteVulnerability("VCID-1111-2222-3333", repo.Id); err != nil {
		t.Fatalf("DeleteVulnerability failed: %v", err)
	}
	err, _ = db.ReadVulnerability("VCID-1111-2222-3333", repo.Id)
	if err != sql.ErrNoRows {
		t.Errorf("Expected sql.ErrNoRows after delete, got %v", err)
	}
}

func TestToggleReputation(t *testing.T) {
	db := setupTestDB(t)

	err, note, _ := db.GetOrCreateNote("alice@example.com", "voteworthy", uuid.Nil)
	if err != nil {
		t.Fatalf("GetOrCreateNote failed: %v", err)
	}

	err, _, removed := db.ToggleReputation("bob@example.com", "Note", note.Id, true)
	if err != nil {
		t.Fatalf("ToggleReputation failed: %v", err)
	}
	if removed {
		t.Error("Expected first vote to be recorded, not removed")
	}

	err, value := db.ReputationValue("Note", note.Id)
	if err != nil {
		t.Fatalf("ReputationValue failed: %v", err)
	}
	if value != 1 {
		t.Errorf("Expected reputation 1, got %d", value)
	}

	// Voting again removes the previous vote without recording a new one
	err, _, removed = db.ToggleReputation("bob@example.com", "Note", note.Id, false)
	if err != nil {
		t.Fatalf("Second ToggleReputation failed: %v", err)
	}
	if !removed {
		t.Error("Expected the existing vote to be removed")
	}

	err, value = db.ReputationValue("Note", note.Id)
	if err != nil {
		t.Fatalf("ReputationValue failed: %v", err)
	}
	if value != 0 {
		t.Errorf("Expected reputation 0 after toggle, got %d", value)
	}
}
