package classes

import (
	"context"
	"errors"
	"io"
	"testing"

	"classvote.org/internal/audit"
	"classvote.org/internal/auth"
	"classvote.org/internal/obs"
)

type stubDeps struct {
	students  map[string]int
	elections map[string]int
	teachers  map[string]bool
}

func (d *stubDeps) CountStudentsInClass(_ context.Context, id string) (int, error) {
	return d.students[id], nil
}

func (d *stubDeps) CountElectionsInClass(_ context.Context, id string) (int, error) {
	return d.elections[id], nil
}

func (d *stubDeps) IsActiveTeacher(_ context.Context, id string) (bool, error) {
	return d.teachers[id], nil
}

var admin = auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin, Verified: true}

func newTestService(t *testing.T) (*Service, *stubDeps) {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetOutput(io.Discard)
	t.Cleanup(func() { logger.SetOutput(original) })

	deps := &stubDeps{students: map[string]int{}, elections: map[string]int{}, teachers: map[string]bool{"t1": true}}
	return NewService(NewInMemory(), deps, deps, deps, audit.New(audit.NewMemoryStore())), deps
}

func TestCreateAndFullName(t *testing.T) {
	svc, _ := newTestService(t)
	c, err := svc.Create(context.Background(), admin, CreateInput{
		Name: "CSE-3A", Department: "Computer Science", Year: 3, Section: "a", ClassTeacherID: "t1",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := c.FullName(); got != "Computer Science - Year 3 - Section A" {
		t.Fatalf("FullName=%q", got)
	}
	if c.ClassTeacherID != "t1" {
		t.Fatalf("teacher not assigned")
	}
}

func TestCreateRejects(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	valid := CreateInput{Name: "ME-1B", Department: "Mechanical", Year: 1, Section: "B"}
	if _, err := svc.Create(ctx, admin, valid); err != nil {
		t.Fatalf("Create: %v", err)
	}

	cases := []struct {
		name string
		p    auth.Principal
		in   CreateInput
		want error
	}{
		{"duplicate name", admin, valid, ErrDuplicateName},
		{"teacher cannot create", auth.Principal{UserID: "t1", Role: auth.RoleTeacher}, CreateInput{Name: "X", Department: "D", Year: 1, Section: "A"}, auth.ErrForbidden},
		{"missing department", admin, CreateInput{Name: "Y", Year: 1, Section: "A"}, ErrInvalidClass},
		{"year out of range", admin, CreateInput{Name: "Y", Department: "D", Year: 9, Section: "A"}, ErrInvalidClass},
		{"unknown teacher", admin, CreateInput{Name: "Z", Department: "D", Year: 2, Section: "A", ClassTeacherID: "nobody"}, ErrInvalidTeacher},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tc.p, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDeleteGuards(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()
	c, err := svc.Create(ctx, admin, CreateInput{Name: "EE-2C", Department: "Electrical", Year: 2, Section: "C"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	deps.students[c.ID] = 3
	if err := svc.Delete(ctx, admin, c.ID); !errors.Is(err, ErrClassHasStudents) {
		t.Fatalf("expected ErrClassHasStudents, got %v", err)
	}
	deps.students[c.ID] = 0
	deps.elections[c.ID] = 1
	if err := svc.Delete(ctx, admin, c.ID); !errors.Is(err, ErrClassHasElections) {
		t.Fatalf("expected ErrClassHasElections, got %v", err)
	}
	deps.elections[c.ID] = 0
	if err := svc.Delete(ctx, admin, c.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpdateAndAssignTeacher(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, _ := svc.Create(ctx, admin, CreateInput{Name: "A", Department: "D", Year: 1, Section: "A"})
	b, _ := svc.Create(ctx, admin, CreateInput{Name: "B", Department: "D", Year: 1, Section: "B"})

	taken := a.Name
	if _, err := svc.Update(ctx, admin, b.ID, UpdateInput{Name: &taken}); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	year := 2
	updated, err := svc.Update(ctx, admin, b.ID, UpdateInput{Year: &year})
	if err != nil || updated.Year != 2 {
		t.Fatalf("Update: %+v %v", updated, err)
	}
	withTeacher, err := svc.AssignTeacher(ctx, admin, b.ID, "t1")
	if err != nil || withTeacher.ClassTeacherID != "t1" {
		t.Fatalf("AssignTeacher: %+v %v", withTeacher, err)
	}
	cleared, err := svc.AssignTeacher(ctx, admin, b.ID, "")
	if err != nil || cleared.ClassTeacherID != "" {
		t.Fatalf("clear teacher: %+v %v", cleared, err)
	}
}
