package importer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/go-git/go-git/v5/utils/merkletrie"
	"github.com/google/uuid"

	"github.com/ziadhany/federatedcode/db"
	"github.com/ziadhany/federatedcode/domain"
	"github.com/ziadhany/federatedcode/util"
)

const testDomain = "example.com"

var importerOnce sync.Once
var testImporter *Importer
var testDB *db.DB

func newTestImporter(t *testing.T) (*Importer, *db.DB) {
	importerOnce.Do(func() {
		testDB = db.Init("file:importertest?mode=memory&cache=shared")
		conf := &util.AppConfig{}
		conf.Conf.Domain = testDomain
		conf.Conf.Workspace = t.TempDir()
		testImporter = New(conf, testDB)
	})
	return testImporter, testDB
}

func newTestRepository(t *testing.T, database *db.DB, name string) *domain.Repository {
	service := &domain.Service{Id: uuid.New(), Username: name}
	if err := database.CreateService(service); err != nil {
		t.Fatalf("CreateService failed: %v", err)
	}
	err, repo, _ := database.GetOrCreateRepository(
		fmt.Sprintf("https://git.example/%s", name), "/tmp/"+name, service.Id)
	if err != nil {
		t.Fatalf("GetOrCreateRepository failed: %v", err)
	}
	return repo
}

func noteContents(t *testing.T, database *db.DB, acct string) map[string]bool {
	err, notes := database.ReadNotesByAcct(acct)
	if err != nil {
		t.Fatalf("ReadNotesByAcct failed: %v", err)
	}
	contents := make(map[string]bool)
	for _, note := range *notes {
		contents[note.Content] = true
	}
	return contents
}

func TestMetadataFileFilter(t *testing.T) {
	cases := map[string]bool{
		"npm/left-pad.yaml":          true,
		"nested/dir/advisory.yaml":   true,
		"README.md":                  false,
		"npm/left-pad.yml":           false,
		".github/workflows/ci.yaml":  false,
		"nested/.hidden/thing.yaml":  false,
		"npm/.left-pad.yaml":         false,
	}
	for path, want := range cases {
		if got := metadataFile(path); got != want {
			t.Errorf("metadataFile(%q): expected %v, got %v", path, want, got)
		}
	}
}

func TestScanResultFileFilter(t *testing.T) {
	cases := map[string]bool{
		"npm/left-pad/1.0.0/scancodeio.json":  true,
		"npm/left-pad/1.0.0/other.json":       false,
		".cache/npm/1.0.0/scancodeio.json":    false,
		"scancodeio.json.yaml":                false,
	}
	for path, want := range cases {
		if got := scanResultFile(path); got != want {
			t.Errorf("scanResultFile(%q): expected %v, got %v", path, want, got)
		}
	}
}

func TestParsePackageFile(t *testing.T) {
	meta, err := parsePackageFile("package: pkg:npm/left-pad\nversions:\n  - version: \"1.0\"\n")
	if err != nil {
		t.Fatalf("parsePackageFile failed: %v", err)
	}
	if meta.Package != "pkg:npm/left-pad" {
		t.Errorf("Unexpected purl: %s", meta.Package)
	}
	if len(meta.Versions) != 1 {
		t.Fatalf("Expected 1 version, got %d", len(meta.Versions))
	}

	dump, err := versionDump(&meta.Versions[0])
	if err != nil {
		t.Fatalf("versionDump failed: %v", err)
	}
	if dump != `version: "1.0"` {
		t.Errorf("Unexpected dump: %q", dump)
	}
}

func TestParsePackageFileRejects(t *testing.T) {
	for _, data := range []string{
		"",
		"versions:\n  - version: \"1.0\"\n",
		"package: not-a-purl\n",
		"package: pkg:npm/left-pad@1.0.0\n", // versioned purls are not identities
		"{{nonsense",
	} {
		if _, err := parsePackageFile(data); err == nil {
			t.Errorf("Expected rejection of %q", data)
		}
	}
}

func TestApplyVulnerability(t *testing.T) {
	imp, database := newTestImporter(t)
	repo := newTestRepository(t, database, "vulnrepo")

	data := "vulnerability_id: VCID-9999-8888-7777\n"
	if err := imp.applyVulnerability(repo, merkletrie.Insert, "", data); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err, vul := database.ReadVulnerability("VCID-9999-8888-7777", repo.Id)
	if err != nil {
		t.Fatalf("ReadVulnerability failed: %v", err)
	}
	if vul.RepoId != repo.Id {
		t.Errorf("Expected repo %s, got %s", repo.Id, vul.RepoId)
	}

	// A changed id replaces the record
	renamed := "vulnerability_id: VCID-0000-1111-2222\n"
	if err := imp.applyVulnerability(repo, merkletrie.Modify, data, renamed); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	if err, _ := database.ReadVulnerability("VCID-9999-8888-7777", repo.Id); err == nil {
		t.Error("Expected old id to be gone")
	}
	if err, _ := database.ReadVulnerability("VCID-0000-1111-2222", repo.Id); err != nil {
		t.Errorf("Expected new id to exist: %v", err)
	}

	if err := imp.applyVulnerability(repo, merkletrie.Delete, renamed, ""); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err, _ := database.ReadVulnerability("VCID-0000-1111-2222", repo.Id); err == nil {
		t.Error("Expected record to be deleted")
	}
}

func TestApplyPackageInsert(t *testing.T) {
	imp, database := newTestImporter(t)
	repo := newTestRepository(t, database, "pkginsert")

	data := "package: pkg:npm/insert-me\nversions:\n  - version: \"1.0\"\n  - version: \"2.0\"\n"
	if err := imp.applyPackage(repo, merkletrie.Insert, "", data); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err, pkg := database.ReadPackageByPurl("pkg:npm/insert-me")
	if err != nil {
		t.Fatalf("ReadPackageByPurl failed: %v", err)
	}
	if pkg.ServiceId != repo.AdminId {
		t.Errorf("Expected package administered by %s, got %s", repo.AdminId, pkg.ServiceId)
	}

	contents := noteContents(t, database, pkg.Acct(testDomain))
	if len(contents) != 2 || !contents[`version: "1.0"`] || !contents[`version: "2.0"`] {
		t.Errorf("Unexpected note contents: %v", contents)
	}
}

func TestApplyPackageModifyReconcilesVersions(t *testing.T) {
	imp, database := newTestImporter(t)
	repo := newTestRepository(t, database, "pkgmodify")

	oldData := "package: pkg:npm/modify-me\nversions:\n  - version: \"1.0\"\n  - version: \"2.0\"\n"
	if err := imp.applyPackage(repo, merkletrie.Insert, "", oldData); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	newData := "package: pkg:npm/modify-me\nversions:\n  - version: \"2.0\"\n  - version: \"3.0\"\n"
	if err := imp.applyPackage(repo, merkletrie.Modify, oldData, newData); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}

	err, pkg := database.ReadPackageByPurl("pkg:npm/modify-me")
	if err != nil {
		t.Fatalf("ReadPackageByPurl failed: %v", err)
	}
	contents := noteContents(t, database, pkg.Acct(testDomain))
	if len(contents) != 2 || !contents[`version: "2.0"`] || !contents[`version: "3.0"`] {
		t.Errorf("Expected versions 2.0 and 3.0, got %v", contents)
	}
}

func TestApplyPackageModifyShrinksVersions(t *testing.T) {
	imp, database := newTestImporter(t)
	repo := newTestRepository(t, database, "pkgshrink")

	oldData := "package: pkg:npm/shrink-me\nversions:\n  - version: \"1.0\"\n  - version: \"2.0\"\n"
	if err := imp.applyPackage(repo, merkletrie.Insert, "", oldData); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	newData := "package: pkg:npm/shrink-me\nversions:\n  - version: \"1.0\"\n"
	if err := imp.applyPackage(repo, merkletrie.Modify, oldData, newData); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}

	err, pkg := database.ReadPackageByPurl("pkg:npm/shrink-me")
	if err != nil {
		t.Fatalf("ReadPackageByPurl failed: %v", err)
	}
	contents := noteContents(t, database, pkg.Acct(testDomain))
	if len(contents) != 1 || !contents[`version: "1.0"`] {
		t.Errorf("Expected only version 1.0, got %v", contents)
	}
}

func TestApplyPackageRename(t *testing.T) {
	imp, database := newTestImporter(t)
	repo := newTestRepository(t, database, "pkgrename")

	oldData := "package: pkg:npm/oldname\nversions:\n  - version: \"1.0\"\n"
	if err := imp.applyPackage(repo, merkletrie.Insert, "", oldData); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	newData := "package: pkg:npm/newname\nversions:\n  - version: \"1.0\"\n"
	if err := imp.applyPackage(repo, merkletrie.Modify, oldData, newData); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}

	if err, _ := database.ReadPackageByPurl("pkg:npm/oldname"); err == nil {
		t.Error("Expected old purl to be gone")
	}
	err, pkg := database.ReadPackageByPurl("pkg:npm/newname")
	if err != nil {
		t.Fatalf("ReadPackageByPurl failed: %v", err)
	}

	// The package's notes follow it to the new account handle
	contents := noteContents(t, database, pkg.Acct(testDomain))
	if len(contents) != 1 {
		t.Errorf("Expected the note to move with the package, got %v", contents)
	}
}

func TestApplyPackageDelete(t *testing.T) {
	imp, database := newTestImporter(t)
	repo := newTestRepository(t, database, "pkgdelete")

	data := "package: pkg:npm/delete-me\nversions:\n  - version: \"1.0\"\n"
	if err := imp.applyPackage(repo, merkletrie.Insert, "", data); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	err, pkg := database.ReadPackageByPurl("pkg:npm/delete-me")
	if err != nil {
		t.Fatalf("ReadPackageByPurl failed: %v", err)
	}
	acct := pkg.Acct(testDomain)

	if err := imp.applyPackage(repo, merkletrie.Delete, data, ""); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err, _ := database.ReadPackageByPurl("pkg:npm/delete-me"); err == nil {
		t.Error("Expected package to be gone")
	}
	if contents := noteContents(t, database, acct); len(contents) != 0 {
		t.Errorf("Expected notes to be gone, got %v", contents)
	}
}

func TestApplyScanResult(t *testing.T) {
	imp, database := newTestImporter(t)
	repo := newTestRepository(t, database, "scanrepo")

	path := "npm/scan-me/1.0.0/scancodeio.json"
	result := `{"license":"MIT"}`
	if err := imp.applyScanResult(repo, merkletrie.Insert, path, "", result); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err, pkg := database.ReadPackageByPurl("pkg:npm/scan-me")
	if err != nil {
		t.Fatalf("Expected the version-less package to be created: %v", err)
	}
	contents := noteContents(t, database, pkg.Acct(testDomain))
	if !contents[result] {
		t.Errorf("Expected scan result note, got %v", contents)
	}

	updated := `{"license":"BSD-3-Clause"}`
	if err := imp.applyScanResult(repo, merkletrie.Modify, path, result, updated); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	contents = noteContents(t, database, pkg.Acct(testDomain))
	if !contents[updated] || contents[result] {
		t.Errorf("Expected updated scan result note, got %v", contents)
	}
}
