// Package classes is the registry of department/year/section groups that
// students belong to and elections are held in.
package classes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"classvote.org/internal/apperr"
)

const maxYear = 6

var (
	ErrNotFound          = apperr.New(apperr.KindNotFound, "class_not_found", "class not found")
	ErrDuplicateName     = apperr.New(apperr.KindConflict, "duplicate_class_name", "class name already exists")
	ErrInvalidClass      = apperr.New(apperr.KindValidation, "invalid_class", "invalid class")
	ErrClassHasStudents  = apperr.New(apperr.KindState, "class_has_students", "class still has students")
	ErrClassHasElections = apperr.New(apperr.KindState, "class_has_elections", "class still has elections")
	ErrInvalidTeacher    = apperr.New(apperr.KindValidation, "invalid_teacher", "class teacher must be an active teacher")
)

// Class is a cohort of students.
type Class struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Department     string    `json:"department"`
	Year           int       `json:"year"`
	Section        string    `json:"section"`
	ClassTeacherID string    `json:"class_teacher_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FullName renders the display name used on ballots and emails.
func (c Class) FullName() string {
	return fmt.Sprintf("%s - Year %d - Section %s", c.Department, c.Year, c.Section)
}

// Store persists classes. Create and Update return ErrDuplicateName on a
// name collision; Delete returns ErrClassHasStudents or ErrClassHasElections
// when referencing rows remain.
type Store interface {
	CreateClass(ctx context.Context, c *Class) error
	GetClass(ctx context.Context, id string) (Class, error)
	ListClasses(ctx context.Context) ([]Class, error)
	UpdateClass(ctx context.Context, c Class) error
	DeleteClass(ctx context.Context, id string) error
}

// StudentCounter counts students enrolled in a class.
type StudentCounter interface {
	CountStudentsInClass(ctx context.Context, classID string) (int, error)
}

// ElectionCounter counts elections held in a class, in any status.
type ElectionCounter interface {
	CountElectionsInClass(ctx context.Context, classID string) (int, error)
}

// TeacherDirectory answers whether a user may own a class.
type TeacherDirectory interface {
	IsActiveTeacher(ctx context.Context, userID string) (bool, error)
}

func (c *Class) normalize() error {
	c.Name = strings.TrimSpace(c.Name)
	c.Department = strings.TrimSpace(c.Department)
	c.Section = strings.ToUpper(strings.TrimSpace(c.Section))
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidClass)
	case c.Department == "":
		return fmt.Errorf("%w: department is required", ErrInvalidClass)
	case c.Year < 1 || c.Year > maxYear:
		return fmt.Errorf("%w: year must be between 1 and %d", ErrInvalidClass, maxYear)
	case c.Section == "":
		return fmt.Errorf("%w: section is required", ErrInvalidClass)
	}
	return nil
}
