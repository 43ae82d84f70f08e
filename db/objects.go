package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/ziadhany/federatedcode/domain"
)

const (
	// Notes
	sqlInsertNote              = `INSERT INTO notes(id, acct, content, reply_to, media_type, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectNoteById          = `SELECT id, acct, content, reply_to, media_type, created_at, updated_at FROM notes WHERE id = ?`
	sqlSelectNoteByAcctContent = `SELECT id, acct, content, reply_to, media_type, created_at, updated_at FROM notes WHERE acct = ? AND content = ?`
	sqlSelectNotesByAcct       = `SELECT id, acct, content, reply_to, media_type, created_at, updated_at FROM notes WHERE acct = ? ORDER BY updated_at DESC`
	sqlUpdateNoteContent       = `UPDATE notes SET content = ?, updated_at = ? WHERE id = ?`
	sqlClearNoteReplyTo        = `UPDATE notes SET reply_to = NULL WHERE reply_to = ?`
	sqlUpdateNotesAcct         = `UPDATE notes SET acct = ? WHERE acct = ?`
	sqlDeleteNote              = `DELETE FROM notes WHERE id = ?`

	// Reviews
	sqlInsertReview          = `INSERT INTO reviews(id, headline, author_id, repository_id, filepath, commit_hash, data, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectReviewById      = `SELECT id, headline, author_id, repository_id, filepath, commit_hash, data, status, created_at, updated_at FROM reviews WHERE id = ?`
	sqlSelectReviewsByAuthor = `SELECT id, headline, author_id, repository_id, filepath, commit_hash, data, status, created_at, updated_at FROM reviews WHERE author_id = ? ORDER BY updated_at DESC`
	sqlUpdateReview          = `UPDATE reviews SET headline = ?, data = ?, updated_at = ? WHERE id = ?`
	sqlUpdateReviewStatus    = `UPDATE reviews SET status = ?, updated_at = ? WHERE id = ?`
	sqlDeleteReview          = `DELETE FROM reviews WHERE id = ?`
	sqlSelectReviewIdentical = `SELECT id FROM reviews WHERE headline = ? AND author_id = ? AND repository_id = ? AND filepath = ? AND commit_hash = ? AND data = ?`

	// Review comments
	sqlInsertReviewComment          = `INSERT OR IGNORE INTO review_comments(review_id, note_id) VALUES (?, ?)`
	sqlSelectReviewCommentNotes     = `SELECT n.id, n.acct, n.content, n.reply_to, n.media_type, n.created_at, n.updated_at FROM notes n JOIN review_comments rc ON rc.note_id = n.id WHERE rc.review_id = ? ORDER BY n.created_at`
	sqlDeleteReviewCommentsByReview = `DELETE FROM review_comments WHERE review_id = ?`
	sqlDeleteReviewCommentsByNote   = `DELETE FROM review_comments WHERE note_id = ?`

	// Repositories
	sqlInsertRepository          = `INSERT INTO repositories(id, url, path, admin_id, last_imported_commit, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectRepositoryById      = `SELECT id, url, path, admin_id, last_imported_commit, created_at, updated_at FROM repositories WHERE id = ?`
	sqlSelectRepositoryByAdmin   = `SELECT id, url, path, admin_id, last_imported_commit, created_at, updated_at FROM repositories WHERE admin_id = ? AND url = ?`
	sqlSelectAllRepositories     = `SELECT id, url, path, admin_id, last_imported_commit, created_at, updated_at FROM repositories ORDER BY created_at`
	sqlSelectRepositoriesByAdmin = `SELECT id, url, path, admin_id, last_imported_commit, created_at, updated_at FROM repositories WHERE admin_id = ? ORDER BY created_at`
	sqlUpdateRepositoryURL       = `UPDATE repositories SET url = ?, updated_at = ? WHERE id = ?`
	sqlUpdateRepositoryCommit    = `UPDATE repositories SET last_imported_commit = ?, updated_at = ? WHERE id = ?`
	sqlUpdateRepositoryPath      = `UPDATE repositories SET path = ?, updated_at = ? WHERE id = ?`
	sqlDeleteRepository          = `DELETE FROM repositories WHERE id = ?`

	// Vulnerabilities
	sqlInsertVulnerability     = `INSERT INTO vulnerabilities(id, repo_id) VALUES (?, ?)`
	sqlSelectVulnerability     = `SELECT id, repo_id FROM vulnerabilities WHERE id = ? AND repo_id = ?`
	sqlSelectVulnerabilityById = `SELECT id, repo_id FROM vulnerabilities WHERE id = ? LIMIT 1`
	sqlDeleteVulnerability     = `DELETE FROM vulnerabilities WHERE id = ? AND repo_id = ?`

	// Reputations
	sqlInsertReputation       = `INSERT INTO reputations(id, voter, positive, object_type, object_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectReputation       = `SELECT id, voter, positive, object_type, object_id, created_at FROM reputations WHERE voter = ? AND object_type = ? AND object_id = ?`
	sqlDeleteReputation       = `DELETE FROM reputations WHERE id = ?`
	sqlCountReputation        = `SELECT COUNT(*) FROM reputations WHERE object_type = ? AND object_id = ? AND positive = ?`
	sqlSelectReputationsByObj = `SELECT id, voter, positive, object_type, object_id, created_at FROM reputations WHERE object_type = ? AND object_id = ? ORDER BY created_at`
)

// GetOrCreateNote returns the note with the given (acct, content) pair,
// creating it when absent. The bool reports creation.
func (db *DB) GetOrCreateNote(acct string, content string, replyTo uuid.UUID) (error, *domain.Note, bool) {
	err, existing := db.ReadNoteByAcctContent(acct, content)
	if err == nil && existing != nil {
		return nil, existing, false
	}

	now := time.Now()
	note := &domain.Note{
		Id:        uuid.New(),
		Acct:      acct,
		Content:   content,
		ReplyTo:   replyTo,
		MediaType: "text/plain",
		CreatedAt: now,
		UpdatedAt: now,
	}

	var replyArg interface{}
	if replyTo != uuid.Nil {
		replyArg = replyTo.String()
	}

	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNote, note.Id, note.Acct, note.Content, replyArg,
			note.MediaType, note.CreatedAt, note.UpdatedAt)
		return err
	})
	if err != nil {
		return err, nil, false
	}
	return nil, note, true
}

func (db *DB) ReadNoteById(id uuid.UUID) (error, *domain.Note) {
	return db.readNote(sqlSelectNoteById, id)
}

func (db *DB) ReadNoteByAcctContent(acct string, content string) (error, *domain.Note) {
	return db.readNote(sqlSelectNoteByAcctContent, acct, content)
}

func (db *DB) readNote(query string, args ...interface{}) (error, *domain.Note) {
	note, err := scanNote(db.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, note
}

func scanNote(row rowScanner) (*domain.Note, error) {
	var note domain.Note
	var replyTo sql.NullString
	err := row.Scan(&note.Id, &note.Acct, &note.Content, &replyTo, &note.MediaType,
		&note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if replyTo.Valid && replyTo.String != "" {
		note.ReplyTo, err = uuid.Parse(replyTo.String)
		if err != nil {
			return nil, err
		}
	}
	return &note, nil
}

func (db *DB) ReadNotesByAcct(acct string) (error, *[]domain.Note) {
	var notes []domain.Note

	rows, err := db.db.Query(sqlSelectNotesByAcct, acct)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return err, &notes
		}
		notes = append(notes, *note)
	}
	if err = rows.Err(); err != nil {
		return err, &notes
	}

	return nil, &notes
}

func (db *DB) UpdateNoteContent(id uuid.UUID, content string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateNoteContent, content, time.Now(), id)
		return err
	})
}

// UpdateNotesAcct moves every note from one account handle to another,
// used when a package purl changes.
func (db *DB) UpdateNotesAcct(oldAcct string, newAcct string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateNotesAcct, newAcct, oldAcct)
		return err
	})
}

// DeleteNote removes the note, detaches any replies pointing at it and
// drops its review comment links.
func (db *DB) DeleteNote(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlClearNoteReplyTo, id.String()); err != nil {
			return err
		}
		if _, err := tx.Exec(sqlDeleteReviewCommentsByNote, id); err != nil {
			return err
		}
		_, err := tx.Exec(sqlDeleteNote, id)
		return err
	})
}

// AttachReviewComment links a note to a review as a comment. Attaching
// the same note twice is a no-op.
func (db *DB) AttachReviewComment(reviewId uuid.UUID, noteId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertReviewComment, reviewId, noteId)
		return err
	})
}

// ReadReviewComments returns the notes attached to a review, oldest
// first.
func (db *DB) ReadReviewComments(reviewId uuid.UUID) (error, *[]domain.Note) {
	var notes []domain.Note

	rows, err := db.db.Query(sqlSelectReviewCommentNotes, reviewId)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return err, &notes
		}
		notes = append(notes, *note)
	}
	if err = rows.Err(); err != nil {
		return err, &notes
	}

	return nil, &notes
}

// GetOrCreateReview inserts the review when no identical row exists.
// The bool reports creation.
func (db *DB) GetOrCreateReview(review *domain.Review) (error, *domain.Review, bool) {
	var existingId uuid.UUID
	err := db.db.QueryRow(sqlSelectReviewIdentical, review.Headline, review.AuthorId,
		review.RepositoryId, review.Filepath, review.Commit, review.Data).Scan(&existingId)
	if err == nil {
		err, existing := db.ReadReviewById(existingId)
		return err, existing, false
	}
	if err != sql.ErrNoRows {
		return err, nil, false
	}

	if review.Id == uuid.Nil {
		review.Id = uuid.New()
	}
	now := time.Now()
	if review.CreatedAt.IsZero() {
		review.CreatedAt = now
		review.UpdatedAt = now
	}

	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertReview, review.Id, review.Headline, review.AuthorId,
			review.RepositoryId, review.Filepath, review.Commit, review.Data,
			int(review.Status), review.CreatedAt, review.UpdatedAt)
		return err
	})
	if err != nil {
		return err, nil, false
	}
	return nil, review, true
}

func (db *DB) ReadReviewById(id uuid.UUID) (error, *domain.Review) {
	var review domain.Review
	var status int
	row := db.db.QueryRow(sqlSelectReviewById, id)
	err := row.Scan(&review.Id, &review.Headline, &review.AuthorId, &review.RepositoryId,
		&review.Filepath, &review.Commit, &review.Data, &status, &review.CreatedAt, &review.UpdatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	review.Status = domain.ReviewStatus(status)
	return nil, &review
}

func (db *DB) ReadReviewsByAuthor(authorId uuid.UUID) (error, *[]domain.Review) {
	var reviews []domain.Review

	rows, err := db.db.Query(sqlSelectReviewsByAuthor, authorId)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	for rows.Next() {
		var review domain.Review
		var status int
		if err := rows.Scan(&review.Id, &review.Headline, &review.AuthorId, &review.RepositoryId,
			&review.Filepath, &review.Commit, &review.Data, &status, &review.CreatedAt,
			&review.UpdatedAt); err != nil {
			return err, &reviews
		}
		review.Status = domain.ReviewStatus(status)
		reviews = append(reviews, review)
	}
	if err = rows.Err(); err != nil {
		return err, &reviews
	}

	return nil, &reviews
}

func (db *DB) UpdateReview(id uuid.UUID, headline string, data string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateReview, headline, data, time.Now(), id)
		return err
	})
}

func (db *DB) UpdateReviewStatus(id uuid.UUID, status domain.ReviewStatus) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateReviewStatus, int(status), time.Now(), id)
		return err
	})
}

// DeleteReview removes the review and its comment links. The comment
// notes themselves survive.
func (db *DB) DeleteReview(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlDeleteReviewCommentsByReview, id); err != nil {
			return err
		}
		_, err := tx.Exec(sqlDeleteReview, id)
		return err
	})
}

// GetOrCreateRepository returns the repository unique per (admin, url),
// creating it when absent. The bool reports creation.
func (db *DB) GetOrCreateRepository(url string, path string, adminId uuid.UUID) (error, *domain.Repository, bool) {
	var existing domain.Repository
	row := db.db.QueryRow(sqlSelectRepositoryByAdmin, adminId, url)
	err := scanRepository(row, &existing)
	if err == nil {
		return nil, &existing, false
	}
	if err != sql.ErrNoRows {
		return err, nil, false
	}

	now := time.Now()
	repo := &domain.Repository{
		Id:        uuid.New(),
		URL:       url,
		Path:      path,
		AdminId:   adminId,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRepository, repo.Id, repo.URL, repo.Path, repo.AdminId,
			repo.LastImportedCommit, repo.CreatedAt, repo.UpdatedAt)
		return err
	})
	if err != nil {
		return err, nil, false
	}
	return nil, repo, true
}

func scanRepository(row rowScanner, repo *domain.Repository) error {
	return row.Scan(&repo.Id, &repo.URL, &repo.Path, &repo.AdminId,
		&repo.LastImportedCommit, &repo.CreatedAt, &repo.UpdatedAt)
}

func (db *DB) ReadRepositoryById(id uuid.UUID) (error, *domain.Repository) {
	var repo domain.Repository
	err := scanRepository(db.db.QueryRow(sqlSelectRepositoryById, id), &repo)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &repo
}

func (db *DB) ReadAllRepositories() (error, *[]domain.Repository) {
	return db.readRepositories(sqlSelectAllRepositories)
}

func (db *DB) ReadRepositoriesByAdmin(adminId uuid.UUID) (error, *[]domain.Repository) {
	return db.readRepositories(sqlSelectRepositoriesByAdmin, adminId)
}

func (db *DB) readRepositories(query string, args ...interface{}) (error, *[]domain.Repository) {
	var repos []domain.Repository

	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	for rows.Next() {
		var repo domain.Repository
		if err := scanRepository(rows, &repo); err != nil {
			return err, &repos
		}
		repos = append(repos, repo)
	}
	if err = rows.Err(); err != nil {
		return err, &repos
	}

	return nil, &repos
}

func (db *DB) UpdateRepositoryURL(id uuid.UUID, url string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRepositoryURL, url, time.Now(), id)
		return err
	})
}

func (db *DB) UpdateRepositoryPath(id uuid.UUID, path string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRepositoryPath, path, time.Now(), id)
		return err
	})
}

// UpdateLastImportedCommit advances the sync watermark for a repository.
func (db *DB) UpdateLastImportedCommit(id uuid.UUID, commit string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRepositoryCommit, commit, time.Now(), id)
		return err
	})
}

func (db *DB) DeleteRepository(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteRepository, id)
		return err
	})
}

// GetOrCreateVulnerability creates the (id, repo) scoped vulnerability
// record when absent. The bool reports creation.
func (db *DB) GetOrCreateVulnerability(id string, repoId uuid.UUID) (error, *domain.Vulnerability, bool) {
	err, existing := db.ReadVulnerability(id, repoId)
	if err == nil && existing != nil {
		return nil, existing, false
	}

	vul := &domain.Vulnerability{Id: id, RepoId: repoId}
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertVulnerability, vul.Id, vul.RepoId)
		return err
	})
	if err != nil {
		return err, nil, false
	}
	return nil, vul, true
}

func (db *DB) ReadVulnerability(id string, repoId uuid.UUID) (error, *domain.Vulnerability) {
	var vul domain.Vulnerability
	row := db.db.QueryRow(sqlSelectVulnerability, id, repoId)
	err := row.Scan(&vul.Id, &vul.RepoId)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &vul
}

// ReadVulnerabilityById looks a vulnerability up by VCID alone, across
// repositories.
func (db *DB) ReadVulnerabilityById(id string) (error, *domain.Vulnerability) {
	var vul domain.Vulnerability
	row := db.db.QueryRow(sqlSelectVulnerabilityById, id)
	err := row.Scan(&vul.Id, &vul.RepoId)
	if err != nil {
		return err, nil
	}
	return nil, &vul
}

func (db *DB) DeleteVulnerability(id string, repoId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteVulnerability, id, repoId)
		return err
	})
}

// ToggleReputation applies the voting semantics: an existing vote by the
// same voter on the same target is removed and no new vote is recorded;
// otherwise the vote is inserted. The bool reports removal.
func (db *DB) ToggleReputation(voter string, objectType string, objectId uuid.UUID, positive bool) (error, *domain.Reputation, bool) {
	var existing domain.Reputation
	row := db.db.QueryRow(sqlSelectReputation, voter, objectType, objectId)
	err := row.Scan(&existing.Id, &existing.Voter, &existing.Positive, &existing.ObjectType,
		&existing.ObjectId, &existing.CreatedAt)
	if err == nil {
		err = db.wrapTransaction(func(tx *sql.Tx) error {
			_, err := tx.Exec(sqlDeleteReputation, existing.Id)
			return err
		})
		if err != nil {
			return err, nil, false
		}
		return nil, &existing, true
	}
	if err != sql.ErrNoRows {
		return err, nil, false
	}

	rep := &domain.Reputation{
		Id:         uuid.New(),
		Voter:      voter,
		Positive:   positive,
		ObjectType: objectType,
		ObjectId:   objectId,
		CreatedAt:  time.Now(),
	}
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertReputation, rep.Id, rep.Voter, rep.Positive,
			rep.ObjectType, rep.ObjectId, rep.CreatedAt)
		return err
	})
	if err != nil {
		return err, nil, false
	}
	return nil, rep, false
}

// ReputationValue returns likes minus dislikes for a target.
func (db *DB) ReputationValue(objectType string, objectId uuid.UUID) (error, int) {
	var up, down int
	if err := db.db.QueryRow(sqlCountReputation, objectType, objectId, true).Scan(&up); err != nil {
		return err, 0
	}
	if err := db.db.QueryRow(sqlCountReputation, objectType, objectId, false).Scan(&down); err != nil {
		return err, 0
	}
	return nil, up - down
}

func (db *DB) ReadReputationsByObject(objectType string, objectId uuid.UUID) (error, *[]domain.Reputation) {
	var reps []domain.Reputation

	rows, err := db.db.Query(sqlSelectReputationsByObj, objectType, objectId)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	for rows.Next() {
		var rep domain.Reputation
		if err := rows.Scan(&rep.Id, &rep.Voter, &rep.Positive, &rep.ObjectType,
			&rep.ObjectId, &rep.CreatedAt); err != nil {
			return err, &reps
		}
		reps = append(reps, rep)
	}
	if err = rows.Err(); err != nil {
		return err, &reps
	}

	return nil, &reps
}
