package importer

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"

	"github.com/ziadhany/federatedcode/activitypub"
	"github.com/ziadhany/federatedcode/db"
	"github.com/ziadhany/federatedcode/domain"
	"github.com/ziadhany/federatedcode/util"
)

// Importer pulls metadata repositories and applies their git history to
// local storage. Each repository is synced under its own lock so
// concurrent sync requests for the same repository serialize instead of
// racing the worktree.
type Importer struct {
	conf *util.AppConfig
	db   *db.DB

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func New(conf *util.AppConfig, database *db.DB) *Importer {
	return &Importer{
		conf:  conf,
		db:    database,
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (imp *Importer) repoLock(id uuid.UUID) *sync.Mutex {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	lock, ok := imp.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		imp.locks[id] = lock
	}
	return lock
}

// SyncAll syncs every registered repository, continuing past individual
// failures and reporting how many failed.
func (imp *Importer) SyncAll() error {
	err, repos := imp.db.ReadAllRepositories()
	if err != nil {
		return fmt.Errorf("failed to list repositories: %w", err)
	}
	failed := 0
	for _, repo := range *repos {
		if err := imp.Sync(&repo); err != nil {
			log.Printf("Importer: sync of %s failed: %v", repo.URL, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d repositories failed", activitypub.ErrSync, failed, len(*repos))
	}
	return nil
}

// Sync pulls the repository and imports every metadata change between the
// last imported commit and the new head. The watermark advances only after
// all changes applied, a partial import is retried from the same watermark
// on the next run. Importing is idempotent so the retry is safe.
func (imp *Importer) Sync(repo *domain.Repository) error {
	lock := imp.repoLock(repo.Id)
	lock.Lock()
	defer lock.Unlock()

	gitRepo, err := imp.openOrClone(repo)
	if err != nil {
		return err
	}

	worktree, err := gitRepo.Worktree()
	if err != nil {
		return fmt.Errorf("%w: worktree: %v", activitypub.ErrSync, err)
	}
	err = worktree.Pull(&git.PullOptions{RemoteName: "origin"})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("%w: pull %s: %v", activitypub.ErrSync, repo.URL, err)
	}

	head, err := gitRepo.Head()
	if err != nil {
		return fmt.Errorf("%w: head: %v", activitypub.ErrSync, err)
	}
	newCommit := head.Hash().String()
	if newCommit == repo.LastImportedCommit {
		log.Printf("Importer: %s already at %s, nothing to import", repo.URL, newCommit)
		return nil
	}

	changes, err := imp.diffSince(gitRepo, repo.LastImportedCommit, head.Hash())
	if err != nil {
		return err
	}

	imported := 0
	failures := 0
	for _, change := range changes {
		path := changePath(change)
		if !metadataFile(path) && !scanResultFile(path) {
			continue
		}
		if err := imp.applyChange(repo, change, path); err != nil {
			log.Printf("Importer: %s: %s: %v", repo.URL, path, err)
			failures++
			continue
		}
		imported++
	}
	if failures > 0 {
		return fmt.Errorf("%w: %d of %d changes failed, watermark kept at %q",
			activitypub.ErrSync, failures, imported+failures, repo.LastImportedCommit)
	}

	if err := imp.db.UpdateLastImportedCommit(repo.Id, newCommit); err != nil {
		return err
	}
	log.Printf("Importer: %s imported %d changes, now at %s", repo.URL, imported, newCommit)
	return nil
}

// openOrClone opens the workspace clone of the repository, cloning it on
// first sync.
func (imp *Importer) openOrClone(repo *domain.Repository) (*git.Repository, error) {
	gitRepo, err := git.PlainOpen(repo.Path)
	if err == nil {
		return gitRepo, nil
	}
	if err != git.ErrRepositoryNotExists {
		return nil, fmt.Errorf("%w: open %s: %v", activitypub.ErrSync, repo.Path, err)
	}
	log.Printf("Importer: cloning %s into %s", repo.URL, repo.Path)
	gitRepo, err = git.PlainClone(repo.Path, false, &git.CloneOptions{URL: repo.URL})
	if err != nil {
		return nil, fmt.Errorf("%w: clone %s: %v", activitypub.ErrSync, repo.URL, err)
	}
	return gitRepo, nil
}

// diffSince returns the tree changes between the watermark commit and
// head. An empty watermark diffs against the empty tree so the first
// import sees every file as an insertion.
func (imp *Importer) diffSince(gitRepo *git.Repository, watermark string, head plumbing.Hash) (object.Changes, error) {
	headCommit, err := gitRepo.CommitObject(head)
	if err != nil {
		return nil, fmt.Errorf("%w: commit %s: %v", activitypub.ErrSync, head, err)
	}
	newTree, err := headCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("%w: tree %s: %v", activitypub.ErrSync, head, err)
	}

	var oldTree *object.Tree
	if watermark != "" {
		oldCommit, err := gitRepo.CommitObject(plumbing.NewHash(watermark))
		if err != nil {
			return nil, fmt.Errorf("%w: watermark commit %s: %v", activitypub.ErrSync, watermark, err)
		}
		oldTree, err = oldCommit.Tree()
		if err != nil {
			return nil, fmt.Errorf("%w: watermark tree %s: %v", activitypub.ErrSync, watermark, err)
		}
	}

	changes, err := object.DiffTree(oldTree, newTree)
	if err != nil {
		return nil, fmt.Errorf("%w: diff: %v", activitypub.ErrSync, err)
	}
	return changes, nil
}

// applyChange routes one changed file to the vulnerability or package
// handler based on its basename.
func (imp *Importer) applyChange(repo *domain.Repository, change *object.Change, path string) error {
	action, err := change.Action()
	if err != nil {
		return err
	}
	oldData, newData, err := changeContents(change)
	if err != nil {
		return err
	}

	if scanResultFile(path) {
		return imp.applyScanResult(repo, action, path, oldData, newData)
	}
	if strings.HasPrefix(filepath.Base(path), "VCID") {
		return imp.applyVulnerability(repo, action, oldData, newData)
	}
	return imp.applyPackage(repo, action, oldData, newData)
}

// changePath returns the post-change path, falling back to the pre-change
// path for deletions.
func changePath(change *object.Change) string {
	if change.To.Name != "" {
		return change.To.Name
	}
	return change.From.Name
}

// changeContents reads the file contents on both sides of the change.
// Either side is empty when the file did not exist there.
func changeContents(change *object.Change) (string, string, error) {
	from, to, err := change.Files()
	if err != nil {
		return "", "", err
	}
	var oldData, newData string
	if from != nil {
		if oldData, err = from.Contents(); err != nil {
			return "", "", err
		}
	}
	if to != nil {
		if newData, err = to.Contents(); err != nil {
			return "", "", err
		}
	}
	return oldData, newData, nil
}

// metadataFile reports whether a changed path is package or vulnerability
// metadata: a .yaml file with no hidden path segment.
func metadataFile(path string) bool {
	if !strings.HasSuffix(path, ".yaml") {
		return false
	}
	return !hiddenPath(path)
}

// scanResultFile reports whether a changed path is a per-version scan
// artifact, ex: "npm/left-pad/1.0.0/scancodeio.json".
func scanResultFile(path string) bool {
	if filepath.Base(path) != util.ScanResultFileName {
		return false
	}
	return !hiddenPath(path)
}

func hiddenPath(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// StartSyncWorker starts the background sweeper that executes queued sync
// requests on a fixed interval.
func StartSyncWorker(conf *util.AppConfig, database *db.DB, imp *Importer) {
	log.Println("Starting sync worker...")

	ticker := time.NewTicker(time.Duration(conf.Conf.SyncSweepSeconds) * time.Second)
	go func() {
		for range ticker.C {
			sweepSyncRequests(database, imp)
		}
	}()
}

func sweepSyncRequests(database *db.DB, imp *Importer) {
	err, requests := database.ReadPendingSyncRequests(50)
	if err != nil {
		log.Printf("SyncWorker: failed to read queue: %v", err)
		return
	}
	for _, request := range *requests {
		err, repo := database.ReadRepositoryById(request.RepoId)
		if err != nil {
			log.Printf("SyncWorker: repository %s is gone: %v", request.RepoId, err)
			if err := database.MarkSyncRequestFailed(request.Id, "not_found", "repository deleted"); err != nil {
				log.Printf("SyncWorker: failed to mark request %s: %v", request.Id, err)
			}
			continue
		}
		if err := imp.Sync(repo); err != nil {
			log.Printf("SyncWorker: sync of %s failed: %v", repo.URL, err)
			if err := database.MarkSyncRequestFailed(request.Id, activitypub.ErrorKind(err), err.Error()); err != nil {
				log.Printf("SyncWorker: failed to mark request %s: %v", request.Id, err)
			}
			continue
		}
		if err := database.MarkSyncRequestDone(request.Id); err != nil {
			log.Printf("SyncWorker: failed to mark request %s: %v", request.Id, err)
		}
	}
}
