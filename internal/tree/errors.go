package tree

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("node not found")
	ErrEmptyComment       = errors.New("comment text is empty")
	ErrNotComment         = errors.New("node is not a comment")
	ErrInvalidTarget      = errors.New("operation not valid for this node")
	ErrNoPrecedingSibling = errors.New("no preceding sibling to indent under")
	ErrNoParent           = errors.New("node has no parent to outdent from")
	ErrInvalidImport      = errors.New("invalid import file")
	ErrDuplicateTree      = errors.New("a tree with the same root already exists")
	ErrDuplicateComment   = errors.New("the same comment already exists above this node")
	ErrClosed             = errors.New("session closed")
)

func notFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}
