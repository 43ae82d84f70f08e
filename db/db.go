package db

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ziadhany/federatedcode/domain"
	"log"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

const (
	// Remote actors
	sqlInsertRemoteActor      = `INSERT INTO remote_actors(url, username, created_at, updated_at) VALUES (?, ?, ?, ?)`
	sqlSelectRemoteActorByURL = `SELECT url, username, created_at, updated_at FROM remote_actors WHERE url = ?`
	sqlUpdateRemoteActor      = `UPDATE remote_actors SET username = ?, updated_at = ? WHERE url = ?`

	// Persons
	sqlInsertPerson           = `INSERT INTO persons(id, username, summary, public_key, remote_actor_url, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectPersonByUsername = `SELECT id, username, summary, public_key, remote_actor_url, created_at FROM persons WHERE username = ?`
	sqlSelectPersonById       = `SELECT id, username, summary, public_key, remote_actor_url, created_at FROM persons WHERE id = ?`
	sqlSelectPersonByRemote   = `SELECT id, username, summary, public_key, remote_actor_url, created_at FROM persons WHERE remote_actor_url = ?`

	// Services
	sqlInsertService           = `INSERT INTO services(id, username, remote_actor_url, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectServiceByUsername = `SELECT id, username, remote_actor_url, created_at FROM services WHERE username = ?`
	sqlSelectServiceById       = `SELECT id, username, remote_actor_url, created_at FROM services WHERE id = ?`

	// Packages
	sqlInsertPackage         = `INSERT INTO packages(id, purl, service_id, remote_actor_url, summary, public_key, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPackageByPurl   = `SELECT id, purl, service_id, remote_actor_url, summary, public_key, created_at FROM packages WHERE purl = ?`
	sqlSelectPackageById     = `SELECT id, purl, service_id, remote_actor_url, summary, public_key, created_at FROM packages WHERE id = ?`
	sqlUpdatePackagePurl     = `UPDATE packages SET purl = ? WHERE id = ?`
	sqlDeletePackage         = `DELETE FROM packages WHERE id = ?`
	sqlSelectPackagesService = `SELECT id, purl, service_id, remote_actor_url, summary, public_key, created_at FROM packages WHERE service_id = ? ORDER BY purl`
)

func (db *DB) GetOrCreateRemoteActor(url string, username string) (error, *domain.RemoteActor) {
	err, existing := db.ReadRemoteActorByURL(url)
	if err == nil && existing != nil {
		if existing.Username != username {
			now := time.Now()
			if _, err := db.db.Exec(sqlUpdateRemoteActor, username, now, url); err != nil {
				return err, nil
			}
			existing.Username = username
			existing.UpdatedAt = now
		}
		return nil, existing
	}

	actor := &domain.RemoteActor{
		URL:       url,
		Username:  username,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteActor, actor.URL, actor.Username, actor.CreatedAt, actor.UpdatedAt)
		return err
	})
	if err != nil {
		return err, nil
	}
	return nil, actor
}

func (db *DB) ReadRemoteActorByURL(url string) (error, *domain.RemoteActor) {
	var actor domain.RemoteActor
	row := db.db.QueryRow(sqlSelectRemoteActorByURL, url)
	err := row.Scan(&actor.URL, &actor.Username, &actor.CreatedAt, &actor.UpdatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	return err, &actor
}

func (db *DB) CreatePerson(person *domain.Person) error {
	if person.Id == uuid.Nil {
		person.Id = uuid.New()
	}
	if person.CreatedAt.IsZero() {
		person.CreatedAt = time.Now()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPerson, person.Id, person.Username, person.Summary,
			person.PublicKey, person.RemoteActorURL, person.CreatedAt)
		return err
	})
}

// GetOrCreatePersonByRemoteActor returns the person bound to the given
// remote actor record, materializing one on first contact.
func (db *DB) GetOrCreatePersonByRemoteActor(remoteActorURL string) (error, *domain.Person) {
	err, existing := db.readPerson(sqlSelectPersonByRemote, remoteActorURL)
	if err == nil && existing != nil {
		return nil, existing
	}

	person := &domain.Person{
		Id:             uuid.New(),
		RemoteActorURL: remoteActorURL,
		CreatedAt:      time.Now(),
	}
	if err := db.CreatePerson(person); err != nil {
		return err, nil
	}
	return nil, person
}

func (db *DB) ReadPersonByUsername(username string) (error, *domain.Person) {
	return db.readPerson(sqlSelectPersonByUsername, username)
}

func (db *DB) ReadPersonById(id uuid.UUID) (error, *domain.Person) {
	return db.readPerson(sqlSelectPersonById, id)
}

func (db *DB) readPerson(query string, arg interface{}) (error, *domain.Person) {
	var person domain.Person
	row := db.db.QueryRow(query, arg)
	err := row.Scan(&person.Id, &person.Username, &person.Summary, &person.PublicKey,
		&person.RemoteActorURL, &person.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	return err, &person
}

func (db *DB) CreateService(service *domain.Service) error {
	if service.Id == uuid.Nil {
		service.Id = uuid.New()
	}
	if service.CreatedAt.IsZero() {
		service.CreatedAt = time.Now()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertService, service.Id, service.Username,
			service.RemoteActorURL, service.CreatedAt)
		return err
	})
}

func (db *DB) ReadServiceByUsername(username string) (error, *domain.Service) {
	return db.readService(sqlSelectServiceByUsername, username)
}

func (db *DB) ReadServiceById(id uuid.UUID) (error, *domain.Service) {
	return db.readService(sqlSelectServiceById, id)
}

func (db *DB) readService(query string, arg interface{}) (error, *domain.Service) {
	var service domain.Service
	row := db.db.QueryRow(query, arg)
	err := row.Scan(&service.Id, &service.Username, &service.RemoteActorURL, &service.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	return err, &service
}

// GetOrCreatePackage returns the package actor for purl, creating it under
// the given admin service when absent. The bool reports creation.
func (db *DB) GetOrCreatePackage(purl string, serviceId uuid.UUID) (error, *domain.Package, bool) {
	err, existing := db.ReadPackageByPurl(purl)
	if err == nil && existing != nil {
		return nil, existing, false
	}

	pkg := &domain.Package{
		Id:        uuid.New(),
		Purl:      purl,
		ServiceId: serviceId,
		CreatedAt: time.Now(),
	}
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPackage, pkg.Id, pkg.Purl, packUUID(pkg.ServiceId),
			pkg.RemoteActorURL, pkg.Summary, pkg.PublicKey, pkg.CreatedAt)
		return err
	})
	if err != nil {
		return err, nil, false
	}
	return nil, pkg, true
}

// GetOrCreateRemotePackage materializes a package actor for a remote purl
// discovered through federation.
func (db *DB) GetOrCreateRemotePackage(purl string, remoteActorURL string) (error, *domain.Package) {
	err, existing := db.ReadPackageByPurl(purl)
	if err == nil && existing != nil {
		return nil, existing
	}

	pkg := &domain.Package{
		Id:             uuid.New(),
		Purl:           purl,
		RemoteActorURL: remoteActorURL,
		CreatedAt:      time.Now(),
	}
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPackage, pkg.Id, pkg.Purl, packUUID(pkg.ServiceId),
			pkg.RemoteActorURL, pkg.Summary, pkg.PublicKey, pkg.CreatedAt)
		return err
	})
	if err != nil {
		return err, nil
	}
	return nil, pkg
}

func (db *DB) ReadPackageByPurl(purl string) (error, *domain.Package) {
	return db.readPackage(sqlSelectPackageByPurl, purl)
}

func (db *DB) ReadPackageById(id uuid.UUID) (error, *domain.Package) {
	return db.readPackage(sqlSelectPackageById, id)
}

func (db *DB) ReadPackagesByService(serviceId uuid.UUID) (error, *[]domain.Package) {
	var packages []domain.Package

	rows, err := db.db.Query(sqlSelectPackagesService, packUUID(serviceId))
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return err, &packages
		}
		packages = append(packages, *pkg)
	}
	if err = rows.Err(); err != nil {
		return err, &packages
	}

	return nil, &packages
}

func (db *DB) UpdatePackagePurl(id uuid.UUID, purl string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdatePackagePurl, purl, id)
		return err
	})
}

func (db *DB) DeletePackage(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeletePackage, id)
		return err
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPackage(row rowScanner) (*domain.Package, error) {
	var pkg domain.Package
	var serviceId string
	err := row.Scan(&pkg.Id, &pkg.Purl, &serviceId, &pkg.RemoteActorURL,
		&pkg.Summary, &pkg.PublicKey, &pkg.CreatedAt)
	if err != nil {
		return nil, err
	}
	if serviceId != "" {
		pkg.ServiceId, err = uuid.Parse(serviceId)
		if err != nil {
			return nil, err
		}
	}
	return &pkg, nil
}

func (db *DB) readPackage(query string, arg interface{}) (error, *domain.Package) {
	pkg, err := scanPackage(db.db.QueryRow(query, arg))
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, pkg
}

// packUUID renders a uuid column value, using the empty string for uuid.Nil
func packUUID(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

// Init opens the database at path and prepares the schema. Safe to call
// once at startup before any GetDB use.
func Init(path string) *DB {
	dbOnce.Do(func() {
		// Open database connection
		db, err := sql.Open("sqlite", path)
		if err != nil {
			panic(err)
		}

		// Configure connection pool for concurrent access
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)

		// Try to enable WAL mode
		var journalMode string
		err = db.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
		if err != nil {
			log.Printf("Warning: Failed to enable WAL mode: %v", err)
		} else {
			log.Printf("Database journal mode: %s", journalMode)
		}

		db.Exec("PRAGMA synchronous = NORMAL")
		db.Exec("PRAGMA temp_store = MEMORY")
		db.Exec("PRAGMA busy_timeout = 5000")
		db.Exec("PRAGMA foreign_keys = ON")

		dbInstance = &DB{db: db}

		if err := dbInstance.RunMigrations(); err != nil {
			panic(err)
		}
	})

	return dbInstance
}

// GetDB returns the database instance initialized by Init.
func GetDB() *DB {
	if dbInstance == nil {
		panic("db: GetDB called before Init")
	}
	return dbInstance
}
