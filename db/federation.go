package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/ziadhany/federatedcode/domain"
)

// MaxDeliveryAttempts is the cap after which a federate request is left
// failed permanently. The record is kept for audit.
const MaxDeliveryAttempts = 10

const (
	// Follows
	sqlInsertFollow          = `INSERT INTO follows(id, person_id, package_id, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectFollow          = `SELECT id, person_id, package_id, created_at FROM follows WHERE person_id = ? AND package_id = ?`
	sqlSelectFollowsByPkg    = `SELECT id, person_id, package_id, created_at FROM follows WHERE package_id = ? ORDER BY created_at`
	sqlSelectFollowsByPerson = `SELECT id, person_id, package_id, created_at FROM follows WHERE person_id = ? ORDER BY created_at`
	sqlDeleteFollow          = `DELETE FROM follows WHERE person_id = ? AND package_id = ?`

	// Federate requests
	sqlInsertFederateRequest  = `INSERT INTO federate_requests(id, target, body, key_id, done, attempts, next_retry_at, error_kind, error_message, created_at) VALUES (?, ?, ?, ?, 0, 0, ?, '', '', ?)`
	sqlSelectPendingFederate  = `SELECT id, target, body, key_id, done, attempts, next_retry_at, error_kind, error_message, created_at FROM federate_requests WHERE done = 0 AND attempts < ? AND next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlMarkFederateDone       = `UPDATE federate_requests SET done = 1, error_kind = '', error_message = '' WHERE id = ?`
	sqlMarkFederateFailed     = `UPDATE federate_requests SET attempts = ?, next_retry_at = ?, error_kind = ?, error_message = ? WHERE id = ?`
	sqlCountFederateRequests  = `SELECT COUNT(*) FROM federate_requests`

	// Sync requests
	sqlInsertSyncRequest  = `INSERT INTO sync_requests(id, repo_id, done, error_kind, error_message, created_at) VALUES (?, ?, 0, '', '', ?)`
	sqlSelectPendingSync  = `SELECT id, repo_id, done, error_kind, error_message, created_at FROM sync_requests WHERE done = 0 ORDER BY created_at ASC LIMIT ?`
	sqlMarkSyncDone       = `UPDATE sync_requests SET done = 1, error_kind = '', error_message = '' WHERE id = ?`
	sqlMarkSyncFailed     = `UPDATE sync_requests SET done = 1, error_kind = ?, error_message = ? WHERE id = ?`
)

// GetOrCreateFollow creates the subscription when absent. The bool reports
// creation, so repeated Follow activities stay idempotent.
func (db *DB) GetOrCreateFollow(personId uuid.UUID, packageId uuid.UUID) (error, *domain.Follow, bool) {
	err, existing := db.ReadFollow(personId, packageId)
	if err == nil && existing != nil {
		return nil, existing, false
	}

	follow := &domain.Follow{
		Id:        uuid.New(),
		PersonId:  personId,
		PackageId: packageId,
		CreatedAt: time.Now(),
	}
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow, follow.Id, follow.PersonId, follow.PackageId, follow.CreatedAt)
		return err
	})
	if err != nil {
		return err, nil, false
	}
	return nil, follow, true
}

func (db *DB) ReadFollow(personId uuid.UUID, packageId uuid.UUID) (error, *domain.Follow) {
	var follow domain.Follow
	row := db.db.QueryRow(sqlSelectFollow, personId, packageId)
	err := row.Scan(&follow.Id, &follow.PersonId, &follow.PackageId, &follow.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &follow
}

// DeleteFollow removes the subscription, reporting sql.ErrNoRows when no
// matching relation existed.
func (db *DB) DeleteFollow(personId uuid.UUID, packageId uuid.UUID) error {
	var affected int64
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlDeleteFollow, personId, packageId)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (db *DB) ReadFollowsByPackageId(packageId uuid.UUID) (error, *[]domain.Follow) {
	return db.readFollows(sqlSelectFollowsByPkg, packageId)
}

func (db *DB) ReadFollowsByPersonId(personId uuid.UUID) (error, *[]domain.Follow) {
	return db.readFollows(sqlSelectFollowsByPerson, personId)
}

func (db *DB) readFollows(query string, arg interface{}) (error, *[]domain.Follow) {
	var follows []domain.Follow

	rows, err := db.db.Query(query, arg)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	for rows.Next() {
		var follow domain.Follow
		if err := rows.Scan(&follow.Id, &follow.PersonId, &follow.PackageId, &follow.CreatedAt); err != nil {
			return err, &follows
		}
		follows = append(follows, follow)
	}
	if err = rows.Err(); err != nil {
		return err, &follows
	}

	return nil, &follows
}

// EnqueueFederateRequest records one outbound delivery task. It never
// performs network I/O.
func (db *DB) EnqueueFederateRequest(target string, body string, keyId string) error {
	now := time.Now()
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFederateRequest, uuid.New(), target, body, keyId, now, now)
		return err
	})
}

// ReadPendingFederateRequests returns undelivered requests whose retry time
// has passed, oldest first.
func (db *DB) ReadPendingFederateRequests(limit int) (error, *[]domain.FederateRequest) {
	var requests []domain.FederateRequest

	rows, err := db.db.Query(sqlSelectPendingFederate, MaxDeliveryAttempts, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	for rows.Next() {
		var rq domain.FederateRequest
		if err := rows.Scan(&rq.Id, &rq.Target, &rq.Body, &rq.KeyId, &rq.Done, &rq.Attempts,
			&rq.NextRetryAt, &rq.ErrorKind, &rq.ErrorMessage, &rq.CreatedAt); err != nil {
			return err, &requests
		}
		requests = append(requests, rq)
	}
	if err = rows.Err(); err != nil {
		return err, &requests
	}

	return nil, &requests
}

func (db *DB) MarkFederateRequestDone(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkFederateDone, id)
		return err
	})
}

func (db *DB) MarkFederateRequestFailed(id uuid.UUID, attempts int, nextRetry time.Time, kind string, message string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkFederateFailed, attempts, nextRetry, kind, message, id)
		return err
	})
}

func (db *DB) CountFederateRequests() (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountFederateRequests).Scan(&count)
	return err, count
}

func (db *DB) CreateSyncRequest(repoId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertSyncRequest, uuid.New(), repoId, time.Now())
		return err
	})
}

func (db *DB) ReadPendingSyncRequests(limit int) (error, *[]domain.SyncRequest) {
	var requests []domain.SyncRequest

	rows, err := db.db.Query(sqlSelectPendingSync, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	for rows.Next() {
		var rq domain.SyncRequest
		if err := rows.Scan(&rq.Id, &rq.RepoId, &rq.Done, &rq.ErrorKind, &rq.ErrorMessage,
			&rq.CreatedAt); err != nil {
			return err, &requests
		}
		requests = append(requests, rq)
	}
	if err = rows.Err(); err != nil {
		return err, &requests
	}

	return nil, &requests
}

func (db *DB) MarkSyncRequestDone(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkSyncDone, id)
		return err
	})
}

func (db *DB) MarkSyncRequestFailed(id uuid.UUID, kind string, message string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkSyncFailed, kind, message, id)
		return err
	})
}
