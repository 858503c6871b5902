package classes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"classvote.org/internal/audit"
	"classvote.org/internal/auth"
	"classvote.org/internal/ids"
)

// CreateInput carries the fields of a new class.
type CreateInput struct {
	Name           string `json:"name"`
	Department     string `json:"department"`
	Year           int    `json:"year"`
	Section        string `json:"section"`
	ClassTeacherID string `json:"class_teacher_id"`
}

// UpdateInput carries optional field changes.
type UpdateInput struct {
	Name       *string `json:"name"`
	Department *string `json:"department"`
	Year       *int    `json:"year"`
	Section    *string `json:"section"`
}

// Service implements class administration.
type Service struct {
	store     Store
	students  StudentCounter
	elections ElectionCounter
	teachers  TeacherDirectory
	audit     *audit.Logger
	now       func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store Store, students StudentCounter, elections ElectionCounter, teachers TeacherDirectory, log *audit.Logger, opts ...ServiceOption) *Service {
	s := &Service{store: store, students: students, elections: elections, teachers: teachers, audit: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var requireAdmin = auth.RequireRole(auth.RoleAdmin)

func (s *Service) Create(ctx context.Context, p auth.Principal, in CreateInput) (Class, error) {
	if err := auth.Authorize(p, requireAdmin); err != nil {
		return Class{}, err
	}
	now := s.now().UTC()
	c := Class{
		ID:         ids.New(),
		Name:       in.Name,
		Department: in.Department,
		Year:       in.Year,
		Section:    in.Section,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.normalize(); err != nil {
		return Class{}, err
	}
	if teacherID := strings.TrimSpace(in.ClassTeacherID); teacherID != "" {
		if err := s.checkTeacher(ctx, teacherID); err != nil {
			return Class{}, err
		}
		c.ClassTeacherID = teacherID
	}
	if err := s.store.CreateClass(ctx, &c); err != nil {
		return Class{}, err
	}
	s.audit.Record(ctx, audit.ActionClassCreated, audit.StatusSuccess, map[string]any{
		"class_id": c.ID,
		"name":     c.Name,
	})
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (Class, error) {
	return s.store.GetClass(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Class, error) {
	return s.store.ListClasses(ctx)
}

func (s *Service) Update(ctx context.Context, p auth.Principal, id string, in UpdateInput) (Class, error) {
	if err := auth.Authorize(p, requireAdmin); err != nil {
		return Class{}, err
	}
	c, err := s.store.GetClass(ctx, id)
	if err != nil {
		return Class{}, err
	}
	if in.Name != nil {
		c.Name = *in.Name
	}
	if in.Department != nil {
		c.Department = *in.Department
	}
	if in.Year != nil {
		c.Year = *in.Year
	}
	if in.Section != nil {
		c.Section = *in.Section
	}
	if err := c.normalize(); err != nil {
		return Class{}, err
	}
	c.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateClass(ctx, c); err != nil {
		return Class{}, err
	}
	s.audit.Record(ctx, audit.ActionClassUpdated, audit.StatusSuccess, map[string]any{"class_id": c.ID})
	return c, nil
}

// AssignTeacher sets the owning teacher; an empty teacherID clears it.
func (s *Service) AssignTeacher(ctx context.Context, p auth.Principal, id, teacherID string) (Class, error) {
	if err := auth.Authorize(p, requireAdmin); err != nil {
		return Class{}, err
	}
	c, err := s.store.GetClass(ctx, id)
	if err != nil {
		return Class{}, err
	}
	teacherID = strings.TrimSpace(teacherID)
	if teacherID != "" {
		if err := s.checkTeacher(ctx, teacherID); err != nil {
			return Class{}, err
		}
	}
	c.ClassTeacherID = teacherID
	c.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateClass(ctx, c); err != nil {
		return Class{}, err
	}
	s.audit.Record(ctx, audit.ActionClassUpdated, audit.StatusSuccess, map[string]any{
		"class_id":   c.ID,
		"teacher_id": teacherID,
	})
	return c, nil
}

// Delete removes a class that has neither students nor elections.
func (s *Service) Delete(ctx context.Context, p auth.Principal, id string) error {
	if err := auth.Authorize(p, requireAdmin); err != nil {
		return err
	}
	if _, err := s.store.GetClass(ctx, id); err != nil {
		return err
	}
	students, err := s.students.CountStudentsInClass(ctx, id)
	if err != nil {
		return err
	}
	if students > 0 {
		return fmt.Errorf("%w: %d students", ErrClassHasStudents, students)
	}
	elections, err := s.elections.CountElectionsInClass(ctx, id)
	if err != nil {
		return err
	}
	if elections > 0 {
		return fmt.Errorf("%w: %d elections", ErrClassHasElections, elections)
	}
	if err := s.store.DeleteClass(ctx, id); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.ActionClassDeleted, audit.StatusSuccess, map[string]any{"class_id": id})
	return nil
}

func (s *Service) checkTeacher(ctx context.Context, userID string) error {
	ok, err := s.teachers.IsActiveTeacher(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTeacher
	}
	return nil
}
