package domain

import (
	"github.com/google/uuid"
	"time"
)

// FederateRequest is a durable outbound delivery task. Done means the body
// was delivered to the target; failed attempts keep the record pending
// with a structured error and a retry schedule. Records are never deleted.
type FederateRequest struct {
	Id           uuid.UUID
	Target       string
	Body         string
	KeyId        string
	Done         bool
	Attempts     int
	NextRetryAt  time.Time
	ErrorKind    string
	ErrorMessage string
	CreatedAt    time.Time
}

// SyncRequest is a durable request to run the importer against one
// Repository, with the same completion/error pattern as FederateRequest.
type SyncRequest struct {
	Id           uuid.UUID
	RepoId       uuid.UUID
	Done         bool
	ErrorKind    string
	ErrorMessage string
	CreatedAt    time.Time
}
