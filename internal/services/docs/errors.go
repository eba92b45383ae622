package docs

import (
	"errors"
	"fmt"
)

// ErrDocumentNotFound - document not found in DB (or soft-deleted for a
// non-owner).
var ErrDocumentNotFound = errors.New("document not found")

// ErrAccessDenied is returned when a user has no access to a document.
// Join failures caused by an unreachable store map here too: access
// checks fail closed.
var ErrAccessDenied = errors.New("access denied")

// ErrNotJoined is returned when a connection submits an edit without an
// active session on the document. Protocol misuse; logged and rejected.
var ErrNotJoined = errors.New("not joined to document")

// ErrWriteAccessDenied is returned when a read-only session attempts a
// save or transient update.
var ErrWriteAccessDenied = errors.New("write access denied")

// ErrStoreUnavailable is returned when the store cannot serve a durable
// save. Retryable with the same client version.
var ErrStoreUnavailable = errors.New("document store unavailable")

// ErrNotOwner is returned when a sharing or delete operation is
// attempted by someone other than the document owner.
var ErrNotOwner = errors.New("only the owner may do this")

// ErrCreateDocument is returned when document creation fails.
var ErrCreateDocument = errors.New("failed to create document")

// ErrListDocuments is returned when document listing fails.
var ErrListDocuments = errors.New("failed to list documents")

// ErrInvalidCursor is returned when a pagination cursor is malformed.
var ErrInvalidCursor = errors.New("invalid cursor")

// ErrInvalidLimit is returned when a pagination limit is out of range.
var ErrInvalidLimit = errors.New("invalid limit")

// ErrCreateDocumentsRepo is returned when the repository cannot be built.
var ErrCreateDocumentsRepo = errors.New("failed to create documents repository")

// ConflictError reports a lost compare-and-swap: the submitted client
// version no longer matches the stored one. It carries the current
// server state so the submitter can resync.
type ConflictError struct {
	ClientVersion int64
	ServerVersion int64
	ServerTitle   string
	ServerBody    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: client has v%d, server has v%d", e.ClientVersion, e.ServerVersion)
}
