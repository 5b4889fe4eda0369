package bookmarks

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrDuplicate matches any *DuplicateError via errors.Is
	ErrDuplicate = errors.New("bookmark already exists")
	// ErrNotFound matches any *NotFoundError via errors.Is
	ErrNotFound = errors.New("bookmark not found")
)

// DuplicateError is returned when the user already has a live bookmark for
// the URL
type DuplicateError struct {
	URL string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("bookmark already exists for %s", e.URL)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// NotFoundError is returned when no live bookmark with the id belongs to
// the user
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("bookmark %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// isUniqueViolation reports whether err comes from a unique constraint.
// TranslateError covers the sqlite driver; the string check catches errors
// that reach us untranslated (raw Exec, wrapped driver errors).
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
