package model

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/minio/sha256-simd"
)

// IdSize is the number of bytes in an ObjectId.
const IdSize = sha256.Size

// ObjectId is the SHA-256 content hash of a persisted object. It is the only pointer type used between stored objects, and is comparable so it can be used directly as a map key.
type ObjectId [IdSize]byte

// NullId is the all-zero id. It never identifies a stored object, and is used to mark an absent optional id (eg, a Node without metadata).
var NullId ObjectId

func (id ObjectId) IsNull() bool {
	return id == NullId
}

func (id ObjectId) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex characters, for logging.
func (id ObjectId) Short() string {
	return id.String()[:8]
}

// Returns a copy of the raw id bytes
func (id ObjectId) Bytes() []byte {
	out := make([]byte, IdSize)
	copy(out, id[:])
	return out
}

// Compare orders ids by their raw bytes.
func (id ObjectId) Compare(other ObjectId) int {
	return bytes.Compare(id[:], other[:])
}

func (id ObjectId) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ObjectId) UnmarshalText(b []byte) error {
	parsed, err := ParseObjectId(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parses the lowercase (or uppercase) hex form returned by String
func ParseObjectId(s string) (ObjectId, error) {
	var id ObjectId
	if len(s) != IdSize*2 {
		return id, fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidObjectId, IdSize*2, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidObjectId, err)
	}
	return id, nil
}

// Copies a raw byte slice in to an ObjectId. The slice must be exactly IdSize bytes long.
func ObjectIdFromBytes(b []byte) (ObjectId, error) {
	var id ObjectId
	if len(b) != IdSize {
		return id, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidObjectId, IdSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// HashBytes returns the ObjectId of an arbitrary byte payload. Feature contents are hashed this way by callers; trees are hashed with HashTree.
func HashBytes(b []byte) ObjectId {
	return ObjectId(sha256.Sum256(b))
}
