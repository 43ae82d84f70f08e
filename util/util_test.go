package util

import "testing"

func TestParseWebfinger(t *testing.T) {
	cases := []struct {
		subject string
		user    string
		host    string
	}{
		{"acct:alice@example.com", "alice", "example.com"},
		{"alice@example.com", "alice", "example.com"},
		{"acct:pkg:npm/left-pad@example.com", "pkg:npm/left-pad", "example.com"},
		{"pkg:npm/%40angular/animation@example.com", "pkg:npm/%40angular/animation", "example.com"},
		{"nodomain", "nodomain", ""},
	}
	for _, c := range cases {
		user, host := ParseWebfinger(c.subject)
		if user != c.user || host != c.host {
			t.Errorf("ParseWebfinger(%q): got (%q, %q), expected (%q, %q)",
				c.subject, user, host, c.user, c.host)
		}
	}
}

func TestGenerateWebfinger(t *testing.T) {
	acct := GenerateWebfinger("pkg:npm/left-pad", "example.com")
	if acct != "pkg:npm/left-pad@example.com" {
		t.Errorf("Unexpected acct: %s", acct)
	}

	user, host := ParseWebfinger(acct)
	if user != "pkg:npm/left-pad" || host != "example.com" {
		t.Errorf("Roundtrip gave (%q, %q)", user, host)
	}
}

func TestPairToWebfinger(t *testing.T) {
	if got := PairToWebfinger("alice", "example.com"); got != "acct:alice@example.com" {
		t.Errorf("Unexpected subject: %s", got)
	}
}
