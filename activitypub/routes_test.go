package activitypub

import "testing"

func TestParseIdentifier(t *testing.T) {
	cases := []struct {
		raw  string
		kind IdentifierKind
		host string
		key  string
	}{
		{"https://example.com/users/alice", IdentUser, "example.com", "alice"},
		{"https://example.com/purls/pkg:npm/left-pad", IdentPurl, "example.com", "pkg:npm/left-pad"},
		{"https://example.com/purls/pkg:npm/%40angular/animation", IdentPurl, "example.com", "pkg:npm/@angular/animation"},
		{"https://example.com/notes/b70e2fe4-a516-452c-9b0a-1c7df94bb8d4", IdentNote, "example.com", "b70e2fe4-a516-452c-9b0a-1c7df94bb8d4"},
		{"https://other.example:8000/reviews/b70e2fe4-a516-452c-9b0a-1c7df94bb8d4", IdentReview, "other.example:8000", "b70e2fe4-a516-452c-9b0a-1c7df94bb8d4"},
		{"https://example.com/repositories/b70e2fe4-a516-452c-9b0a-1c7df94bb8d4", IdentRepository, "example.com", "b70e2fe4-a516-452c-9b0a-1c7df94bb8d4"},
		{"https://example.com/vulnerabilities/VCID-1111-2222-3333", IdentVulnerability, "example.com", "VCID-1111-2222-3333"},
	}
	for _, tc := range cases {
		ident, err := ParseIdentifier(tc.raw)
		if err != nil {
			t.Errorf("ParseIdentifier(%s) failed: %v", tc.raw, err)
			continue
		}
		if ident.Kind != tc.kind {
			t.Errorf("ParseIdentifier(%s): expected kind %d, got %d", tc.raw, tc.kind, ident.Kind)
		}
		if ident.Host != tc.host {
			t.Errorf("ParseIdentifier(%s): expected host %s, got %s", tc.raw, tc.host, ident.Host)
		}
		if ident.Key != tc.key {
			t.Errorf("ParseIdentifier(%s): expected key %s, got %s", tc.raw, tc.key, ident.Key)
		}
	}
}

func TestParseIdentifierRejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"not a url",
		"/users/alice",
		"https://example.com/",
		"https://example.com/users",
		"https://example.com/feeds/abc",
	} {
		if _, err := ParseIdentifier(raw); err == nil {
			t.Errorf("Expected rejection of %q", raw)
		}
	}
}

func TestProfileURLs(t *testing.T) {
	if got := UserProfileURL("example.com", "alice"); got != "https://example.com/users/alice" {
		t.Errorf("Unexpected user profile URL: %s", got)
	}
	if got := PurlInboxURL("example.com", "pkg:npm/left-pad"); got != "https://example.com/purls/pkg:npm/left-pad/inbox" {
		t.Errorf("Unexpected purl inbox URL: %s", got)
	}
	if got := KeyId(UserProfileURL("example.com", "alice")); got != "https://example.com/users/alice#main-key" {
		t.Errorf("Unexpected key id: %s", got)
	}
}
