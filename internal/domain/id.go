package domain

import "github.com/google/uuid"

// ID is an opaque 128-bit identifier shared by downloads, queues, and
// categories. The zero value names the default queue.
type ID = uuid.UUID

// NilID is the reserved identifier of the default queue. It is created
// implicitly by the store and cannot be deleted.
var NilID = uuid.Nil

// NewID returns a fresh random identifier.
func NewID() ID {
	return uuid.New()
}

// ParseID parses a canonical UUID string into an ID.
func ParseID(s string) (ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NilID, &Error{Kind: KindInvalidOperation, Message: "invalid id: " + s, Cause: err}
	}
	return id, nil
}
