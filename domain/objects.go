package domain

import (
	"github.com/google/uuid"
	"time"
)

// Note is a timestamped message authored by a Person or a Package account.
// Person notes carry plain text, package notes carry YAML metadata.
type Note struct {
	Id        uuid.UUID
	Acct      string
	Content   string
	ReplyTo   uuid.UUID // uuid.Nil when not a reply
	MediaType string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasReply reports whether the note replies to another note.
func (n *Note) HasReply() bool {
	return n.ReplyTo != uuid.Nil
}

// Username returns the user part of the authoring account handle.
func (n *Note) Username() string {
	for i := len(n.Acct) - 1; i >= 0; i-- {
		if n.Acct[i] == '@' {
			return n.Acct[:i]
		}
	}
	return n.Acct
}

type ReviewStatus int

const (
	ReviewOpen ReviewStatus = iota
	ReviewDraft
	ReviewClosed
	ReviewMerged
)

func (s ReviewStatus) String() string {
	switch s {
	case ReviewOpen:
		return "OPEN"
	case ReviewDraft:
		return "DRAFT"
	case ReviewClosed:
		return "CLOSED"
	case ReviewMerged:
		return "MERGED"
	}
	return "UNKNOWN"
}

// Review is a structured code review of a file at a commit in a Repository.
type Review struct {
	Id           uuid.UUID
	Headline     string
	AuthorId     uuid.UUID
	RepositoryId uuid.UUID
	Filepath     string
	Commit       string
	Data         string
	Status       ReviewStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Repository is a git repository mirrored into the local workspace.
// LastImportedCommit is the sync watermark, empty before the first import.
type Repository struct {
	Id                 uuid.UUID
	URL                string
	Path               string
	AdminId            uuid.UUID
	LastImportedCommit string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Vulnerability is a record keyed by its VCID, scoped to one Repository.
type Vulnerability struct {
	Id     string
	RepoId uuid.UUID
}

// Reputation is a signed vote on a Review or a Note, at most one per
// (voter, target). Re-voting removes the previous vote.
type Reputation struct {
	Id         uuid.UUID
	Voter      string
	Positive   bool
	ObjectType string // "Note" or "Review"
	ObjectId   uuid.UUID
	CreatedAt  time.Time
}
