package db

import (
	"database/sql"
	"log"
)

const (
	sqlCreateRemoteActorsTable = `CREATE TABLE IF NOT EXISTS remote_actors (
		url TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePersonsTable = `CREATE TABLE IF NOT EXISTS persons (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		public_key TEXT NOT NULL DEFAULT '',
		remote_actor_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		CHECK ((username = '') != (remote_actor_url = ''))
	)`

	sqlCreatePersonsIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_persons_username ON persons(username) WHERE username != '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_persons_remote ON persons(remote_actor_url) WHERE remote_actor_url != '';
	`

	sqlCreateServicesTable = `CREATE TABLE IF NOT EXISTS services (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		remote_actor_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		CHECK ((username = '') != (remote_actor_url = ''))
	)`

	sqlCreateServicesIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_services_username ON services(username) WHERE username != '';
	`

	sqlCreatePackagesTable = `CREATE TABLE IF NOT EXISTS packages (
		id TEXT NOT NULL PRIMARY KEY,
		purl TEXT UNIQUE NOT NULL,
		service_id TEXT NOT NULL DEFAULT '',
		remote_actor_url TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		public_key TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		person_id TEXT NOT NULL,
		package_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(person_id, package_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_package_id ON follows(package_id);
		CREATE INDEX IF NOT EXISTS idx_follows_person_id ON follows(person_id);
	`

	sqlCreateNotesTable = `CREATE TABLE IF NOT EXISTS notes (
		id TEXT NOT NULL PRIMARY KEY,
		acct TEXT NOT NULL,
		content TEXT NOT NULL,
		reply_to TEXT,
		media_type TEXT NOT NULL DEFAULT 'text/plain',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateNotesIndices = `
		CREATE INDEX IF NOT EXISTS idx_notes_acct ON notes(acct);
		CREATE INDEX IF NOT EXISTS idx_notes_acct_content ON notes(acct, content);
	`

	sqlCreateReviewsTable = `CREATE TABLE IF NOT EXISTS reviews (
		id TEXT NOT NULL PRIMARY KEY,
		headline TEXT NOT NULL,
		author_id TEXT NOT NULL,
		repository_id TEXT NOT NULL,
		filepath TEXT NOT NULL,
		commit_hash TEXT NOT NULL,
		data TEXT NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateReviewsIndices = `
		CREATE INDEX IF NOT EXISTS idx_reviews_author_id ON reviews(author_id);
		CREATE INDEX IF NOT EXISTS idx_reviews_repository_id ON reviews(repository_id);
	`

	sqlCreateReviewCommentsTable = `CREATE TABLE IF NOT EXISTS review_comments (
		review_id TEXT NOT NULL,
		note_id TEXT NOT NULL,
		PRIMARY KEY(review_id, note_id)
	)`

	sqlCreateReviewCommentsIndices = `
		CREATE INDEX IF NOT EXISTS idx_review_comments_note_id ON review_comments(note_id);
	`

	sqlCreateRepositoriesTable = `CREATE TABLE IF NOT EXISTS repositories (
		id TEXT NOT NULL PRIMARY KEY,
		url TEXT NOT NULL,
		path TEXT NOT NULL,
		admin_id TEXT NOT NULL,
		last_imported_commit TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(admin_id, url)
	)`

	sqlCreateVulnerabilitiesTable = `CREATE TABLE IF NOT EXISTS vulnerabilities (
		id TEXT NOT NULL,
		repo_id TEXT NOT NULL,
		PRIMARY KEY(id, repo_id)
	)`

	sqlCreateReputationsTable = `CREATE TABLE IF NOT EXISTS reputations (
		id TEXT NOT NULL PRIMARY KEY,
		voter TEXT NOT NULL,
		positive INTEGER NOT NULL DEFAULT 1,
		object_type TEXT NOT NULL,
		object_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(voter, object_type, object_id)
	)`

	sqlCreateFederateRequestsTable = `CREATE TABLE IF NOT EXISTS federate_requests (
		id TEXT NOT NULL PRIMARY KEY,
		target TEXT NOT NULL,
		body TEXT NOT NULL,
		key_id TEXT NOT NULL,
		done INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateFederateRequestsIndices = `
		CREATE INDEX IF NOT EXISTS idx_federate_requests_pending ON federate_requests(done, next_retry_at, created_at);
	`

	sqlCreateSyncRequestsTable = `CREATE TABLE IF NOT EXISTS sync_requests (
		id TEXT NOT NULL PRIMARY KEY,
		repo_id TEXT NOT NULL,
		done INTEGER NOT NULL DEFAULT 0,
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateSyncRequestsIndices = `
		CREATE INDEX IF NOT EXISTS idx_sync_requests_pending ON sync_requests(done, created_at);
	`
)

// RunMigrations creates all federation tables and indices if they don't exist
func (db *DB) RunMigrations() error {
	tables := []struct {
		name string
		sql  string
	}{
		{"remote_actors", sqlCreateRemoteActorsTable},
		{"persons", sqlCreatePersonsTable},
		{"services", sqlCreateServicesTable},
		{"packages", sqlCreatePackagesTable},
		{"follows", sqlCreateFollowsTable},
		{"notes", sqlCreateNotesTable},
		{"reviews", sqlCreateReviewsTable},
		{"review_comments", sqlCreateReviewCommentsTable},
		{"repositories", sqlCreateRepositoriesTable},
		{"vulnerabilities", sqlCreateVulnerabilitiesTable},
		{"reputations", sqlCreateReputationsTable},
		{"federate_requests", sqlCreateFederateRequestsTable},
		{"sync_requests", sqlCreateSyncRequestsTable},
	}

	for _, table := range tables {
		if _, err := db.db.Exec(table.sql); err != nil {
			log.Printf("Migration: failed to create table %s: %v", table.name, err)
			return err
		}
	}

	indices := []string{
		sqlCreatePersonsIndices,
		sqlCreateServicesIndices,
		sqlCreateFollowsIndices,
		sqlCreateNotesIndices,
		sqlCreateReviewsIndices,
		sqlCreateReviewCommentsIndices,
		sqlCreateFederateRequestsIndices,
		sqlCreateSyncRequestsIndices,
	}

	for _, index := range indices {
		if _, err := db.db.Exec(index); err != nil {
			log.Printf("Migration: failed to create index: %v", err)
			return err
		}
	}

	log.Println("Migration: all federation tables ready")
	return nil
}

// createAllTables is used by tests to build a schema on a bare connection
func createAllTables(conn *sql.DB) error {
	db := &DB{db: conn}
	return db.RunMigrations()
}
