package model

import "errors"

var ErrInvalidObjectId = errors.New("invalid object id")

// Returned for malformed nodes: empty names, unknown types, null ids, inverted bounds
var ErrInvalidNode = errors.New("invalid node")

// Returned when tree contents violate the shape invariants (duplicate names, duplicate bucket indexes, negative sizes, etc)
var ErrInvalidTree = errors.New("invalid tree")
