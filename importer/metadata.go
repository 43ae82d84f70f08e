package importer

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/go-git/go-git/v5/utils/merkletrie"
	"github.com/google/uuid"
	packageurl "github.com/package-url/packageurl-go"
	"gopkg.in/yaml.v3"

	"github.com/ziadhany/federatedcode/activitypub"
	"github.com/ziadhany/federatedcode/domain"
	"github.com/ziadhany/federatedcode/util"
)

// packageFile is a package metadata file: the package purl and one entry
// per version. Versions decode as raw yaml nodes so re-serializing an
// entry reproduces its original field order.
type packageFile struct {
	Package  string      `yaml:"package"`
	Versions []yaml.Node `yaml:"versions"`
}

// vulnerabilityFile is a VCID metadata file.
type vulnerabilityFile struct {
	VulnerabilityId string `yaml:"vulnerability_id"`
}

func parsePackageFile(data string) (*packageFile, error) {
	var meta packageFile
	if err := yaml.Unmarshal([]byte(data), &meta); err != nil {
		return nil, fmt.Errorf("%w: invalid package metadata: %v", activitypub.ErrSync, err)
	}
	if !util.CheckPurlActor(meta.Package) {
		return nil, fmt.Errorf("%w: %q is not a package identity purl", activitypub.ErrSync, meta.Package)
	}
	return &meta, nil
}

func parseVulnerabilityFile(data string) (*vulnerabilityFile, error) {
	var meta vulnerabilityFile
	if err := yaml.Unmarshal([]byte(data), &meta); err != nil {
		return nil, fmt.Errorf("%w: invalid vulnerability metadata: %v", activitypub.ErrSync, err)
	}
	if meta.VulnerabilityId == "" {
		return nil, fmt.Errorf("%w: vulnerability metadata has no id", activitypub.ErrSync)
	}
	return &meta, nil
}

// versionDump serializes one version entry back to yaml. The dump is the
// note content, so two imports of the same entry compare equal.
func versionDump(node *yaml.Node) (string, error) {
	out, err := yaml.Marshal(node)
	if err != nil {
		return "", fmt.Errorf("%w: version entry: %v", activitypub.ErrSync, err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

func (imp *Importer) applyVulnerability(repo *domain.Repository, action merkletrie.Action, oldData, newData string) error {
	switch action {
	case merkletrie.Insert:
		meta, err := parseVulnerabilityFile(newData)
		if err != nil {
			return err
		}
		err, _, _ = imp.db.GetOrCreateVulnerability(meta.VulnerabilityId, repo.Id)
		return err
	case merkletrie.Modify:
		oldMeta, err := parseVulnerabilityFile(oldData)
		if err != nil {
			return err
		}
		newMeta, err := parseVulnerabilityFile(newData)
		if err != nil {
			return err
		}
		if oldMeta.VulnerabilityId == newMeta.VulnerabilityId {
			return nil
		}
		if err := imp.db.DeleteVulnerability(oldMeta.VulnerabilityId, repo.Id); err != nil {
			return err
		}
		err, _, _ = imp.db.GetOrCreateVulnerability(newMeta.VulnerabilityId, repo.Id)
		return err
	case merkletrie.Delete:
		meta, err := parseVulnerabilityFile(oldData)
		if err != nil {
			return err
		}
		return imp.db.DeleteVulnerability(meta.VulnerabilityId, repo.Id)
	}
	return fmt.Errorf("%w: unknown change action %v", activitypub.ErrSync, action)
}

// applyScanResult attaches a per-version scan artifact to its package as
// a note. The versioned purl comes from the path convention, the note
// belongs to the version-less package actor.
func (imp *Importer) applyScanResult(repo *domain.Repository, action merkletrie.Action, path, oldData, newData string) error {
	versioned, err := util.PackageMetadataPathToPurl(path)
	if err != nil {
		return fmt.Errorf("%w: %v", activitypub.ErrSync, err)
	}
	basePurl := packageurl.NewPackageURL(
		versioned.Type, versioned.Namespace, versioned.Name, "", nil, "").ToString()

	switch action {
	case merkletrie.Insert:
		err, pkg, _ := imp.db.GetOrCreatePackage(basePurl, repo.AdminId)
		if err != nil {
			return err
		}
		return imp.createVersionNote(pkg, newData)
	case merkletrie.Modify:
		err, pkg := imp.db.ReadPackageByPurl(basePurl)
		if err == sql.ErrNoRows {
			err, pkg, _ = imp.db.GetOrCreatePackage(basePurl, repo.AdminId)
		}
		if err != nil {
			return err
		}
		return imp.updateVersionNote(pkg, pkg.Acct(imp.conf.Conf.Domain), oldData, newData)
	case merkletrie.Delete:
		err, pkg := imp.db.ReadPackageByPurl(basePurl)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		return imp.dropVersionNote(pkg, pkg.Acct(imp.conf.Conf.Domain), oldData)
	}
	return fmt.Errorf("%w: unknown change action %v", activitypub.ErrSync, action)
}

func (imp *Importer) applyPackage(repo *domain.Repository, action merkletrie.Action, oldData, newData string) error {
	switch action {
	case merkletrie.Insert:
		return imp.insertPackage(repo, newData)
	case merkletrie.Modify:
		return imp.modifyPackage(repo, oldData, newData)
	case merkletrie.Delete:
		return imp.deletePackage(oldData)
	}
	return fmt.Errorf("%w: unknown change action %v", activitypub.ErrSync, action)
}

func (imp *Importer) insertPackage(repo *domain.Repository, newData string) error {
	meta, err := parsePackageFile(newData)
	if err != nil {
		return err
	}
	err, pkg, _ := imp.db.GetOrCreatePackage(meta.Package, repo.AdminId)
	if err != nil {
		return err
	}
	for i := range meta.Versions {
		dump, err := versionDump(&meta.Versions[i])
		if err != nil {
			return err
		}
		if err := imp.createVersionNote(pkg, dump); err != nil {
			return err
		}
	}
	return nil
}

// modifyPackage reconciles the old and new version lists positionally:
// entries present only in the new list become notes, entries present only
// in the old list lose theirs, and entries whose dump changed get their
// note updated with an Update fanned out to followers.
func (imp *Importer) modifyPackage(repo *domain.Repository, oldData, newData string) error {
	oldMeta, err := parsePackageFile(oldData)
	if err != nil {
		return err
	}
	newMeta, err := parsePackageFile(newData)
	if err != nil {
		return err
	}

	err, pkg := imp.db.ReadPackageByPurl(oldMeta.Package)
	if err == sql.ErrNoRows {
		// The package was never imported, treat the whole file as new.
		return imp.insertPackage(repo, newData)
	}
	if err != nil {
		return err
	}

	if oldMeta.Package != newMeta.Package {
		oldAcct := pkg.Acct(imp.conf.Conf.Domain)
		if err := imp.db.UpdatePackagePurl(pkg.Id, newMeta.Package); err != nil {
			return err
		}
		pkg.Purl = newMeta.Package
		if err := imp.db.UpdateNotesAcct(oldAcct, pkg.Acct(imp.conf.Conf.Domain)); err != nil {
			return err
		}
	}
	acct := pkg.Acct(imp.conf.Conf.Domain)

	count := len(oldMeta.Versions)
	if len(newMeta.Versions) > count {
		count = len(newMeta.Versions)
	}
	for i := 0; i < count; i++ {
		hasOld := i < len(oldMeta.Versions)
		hasNew := i < len(newMeta.Versions)

		var oldDump, newDump string
		if hasOld {
			if oldDump, err = versionDump(&oldMeta.Versions[i]); err != nil {
				return err
			}
		}
		if hasNew {
			if newDump, err = versionDump(&newMeta.Versions[i]); err != nil {
				return err
			}
		}

		switch {
		case hasNew && !hasOld:
			if err := imp.createVersionNote(pkg, newDump); err != nil {
				return err
			}
		case hasOld && !hasNew:
			if err := imp.dropVersionNote(pkg, acct, oldDump); err != nil {
				return err
			}
		case oldDump != newDump:
			if err := imp.updateVersionNote(pkg, acct, oldDump, newDump); err != nil {
				return err
			}
		}
	}
	return nil
}

func (imp *Importer) deletePackage(oldData string) error {
	meta, err := parsePackageFile(oldData)
	if err != nil {
		return err
	}
	err, pkg := imp.db.ReadPackageByPurl(meta.Package)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	err, notes := imp.db.ReadNotesByAcct(pkg.Acct(imp.conf.Conf.Domain))
	if err != nil {
		return err
	}
	for _, note := range *notes {
		if err := imp.db.DeleteNote(note.Id); err != nil {
			return err
		}
	}
	return imp.db.DeletePackage(pkg.Id)
}

func (imp *Importer) createVersionNote(pkg *domain.Package, content string) error {
	err, note, created := imp.db.GetOrCreateNote(pkg.Acct(imp.conf.Conf.Domain), content, uuid.Nil)
	if err != nil {
		return err
	}
	if created {
		imp.federateToFollowers(pkg, activitypub.TypeCreate, note)
	}
	return nil
}

func (imp *Importer) updateVersionNote(pkg *domain.Package, acct, oldContent, newContent string) error {
	err, note := imp.db.ReadNoteByAcctContent(acct, oldContent)
	if err == sql.ErrNoRows {
		// The old entry was never imported, import the new one.
		return imp.createVersionNote(pkg, newContent)
	}
	if err != nil {
		return err
	}
	if err := imp.db.UpdateNoteContent(note.Id, newContent); err != nil {
		return err
	}
	note.Content = newContent
	imp.federateToFollowers(pkg, activitypub.TypeUpdate, note)
	return nil
}

func (imp *Importer) dropVersionNote(pkg *domain.Package, acct, content string) error {
	err, note := imp.db.ReadNoteByAcctContent(acct, content)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if err := imp.db.DeleteNote(note.Id); err != nil {
		return err
	}
	imp.federateToFollowers(pkg, activitypub.TypeDelete, note)
	return nil
}

// federateToFollowers enqueues an activity about one of the package's
// notes for every follower inbox.
func (imp *Importer) federateToFollowers(pkg *domain.Package, activityType string, note *domain.Note) {
	inboxes := imp.followerInboxes(pkg)
	if len(inboxes) == 0 {
		return
	}
	domainName := imp.conf.Conf.Domain
	activity := activitypub.BuildActivity(
		activityType,
		activitypub.PackageProfile(imp.conf, pkg),
		activitypub.NoteProfile(imp.conf, note),
		inboxes,
	)
	keyId := activitypub.KeyId(activitypub.PurlProfileURL(domainName, pkg.Purl))
	activitypub.Federate(imp.db, domainName, activity, inboxes, keyId)
}

func (imp *Importer) followerInboxes(pkg *domain.Package) []string {
	err, follows := imp.db.ReadFollowsByPackageId(pkg.Id)
	if err != nil {
		log.Printf("Importer: failed to read followers of %s: %v", pkg.Purl, err)
		return nil
	}
	var inboxes []string
	for _, follow := range *follows {
		err, person := imp.db.ReadPersonById(follow.PersonId)
		if err != nil {
			log.Printf("Importer: failed to read follower %s: %v", follow.PersonId, err)
			continue
		}
		if person.Local() {
			inboxes = append(inboxes, activitypub.UserInboxURL(imp.conf.Conf.Domain, person.Username))
		} else {
			inboxes = append(inboxes, person.RemoteActorURL+"/inbox")
		}
	}
	return inboxes
}
