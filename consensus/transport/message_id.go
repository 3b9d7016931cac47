package transport

import "github.com/google/uuid"

// newMessageID mints a fresh per-envelope identifier. Content hashing isn't
// used here (unlike Evidence/Block/Vote, which derive identity from their
// own canonical bytes) because two broadcasts of the identical
// proposal/vote to different peers are legitimate and must not collide on
// a content-derived id.
func newMessageID() []byte {
	id := uuid.New()
	return id[:]
}
