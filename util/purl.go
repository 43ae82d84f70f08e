package util

import (
	"fmt"
	"strings"

	packageurl "github.com/package-url/packageurl-go"
)

// ScanResultFileName is the per-version scan artifact stored under
// <ecosystem>/<namespaced-name>/<version>/scancodeio.json
const ScanResultFileName = "scancodeio.json"

// CheckPurlActor reports whether purl names a package identity: a valid
// package URL with no version, qualifiers or subpath.
func CheckPurlActor(purlString string) bool {
	purl, err := packageurl.FromString(purlString)
	if err != nil {
		return false
	}
	return purl.Version == "" && len(purl.Qualifiers) == 0 && purl.Subpath == ""
}

// PackageMetadataPathToPurl returns the versioned purl for a relative scan
// metadata path, ex: "npm/@angular/animation/3.0.1/scancodeio.json" ->
// "pkg:npm/%40angular/animation@3.0.1"
func PackageMetadataPathToPurl(path string) (packageurl.PackageURL, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 4 {
		return packageurl.PackageURL{}, fmt.Errorf("not a valid package metadata path: %s", path)
	}

	purlString := fmt.Sprintf("pkg:%s@%s", strings.Join(parts[:len(parts)-2], "/"), parts[len(parts)-2])
	return packageurl.FromString(purlString)
}

// PurlToMetadataPath returns the relative scan artifact path for a versioned
// purl, the inverse of PackageMetadataPathToPurl.
func PurlToMetadataPath(purlString string) (string, error) {
	purl, err := packageurl.FromString(purlString)
	if err != nil {
		return "", err
	}
	if purl.Version == "" {
		return "", fmt.Errorf("purl has no version: %s", purlString)
	}

	parts := []string{purl.Type}
	if purl.Namespace != "" {
		parts = append(parts, purl.Namespace)
	}
	parts = append(parts, purl.Name, purl.Version, ScanResultFileName)
	return strings.Join(parts, "/"), nil
}
