package pg

import (
	"context"
	"database/sql"
	"errors"

	"classvote.org/internal/classes"
)

var _ classes.Store = (*Store)(nil)

const classColumns = `id, name, department, year, section, class_teacher_id, created_at, updated_at`

func scanClass(row scanner) (classes.Class, error) {
	var (
		c       classes.Class
		teacher sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Department, &c.Year, &c.Section, &teacher, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return classes.Class{}, err
	}
	c.ClassTeacherID = teacher.String
	return c, nil
}

func classError(err error) error {
	if _, ok := violation(err, pgErrUniqueViolation); ok {
		return classes.ErrDuplicateName
	}
	if name, ok := violation(err, pgErrForeignKeyViolation); ok {
		switch name {
		case "users_class_fk":
			return classes.ErrClassHasStudents
		case "elections_class_fk":
			return classes.ErrClassHasElections
		default:
			return classes.ErrInvalidTeacher
		}
	}
	return err
}

func (s *Store) CreateClass(ctx context.Context, c *classes.Class) error {
	_, err := s.db.ExecContext(ctx, `
		insert into classes (id, name, department, year, section, class_teacher_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.Name, c.Department, c.Year, c.Section, nullIfEmpty(c.ClassTeacherID), c.CreatedAt, c.UpdatedAt)
	return classError(err)
}

func (s *Store) GetClass(ctx context.Context, id string) (classes.Class, error) {
	c, err := scanClass(s.db.QueryRowContext(ctx, `select `+classColumns+` from classes where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return classes.Class{}, classes.ErrNotFound
	}
	return c, err
}

func (s *Store) ListClasses(ctx context.Context) ([]classes.Class, error) {
	rows, err := s.db.QueryContext(ctx, `select `+classColumns+` from classes order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []classes.Class{}
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateClass(ctx context.Context, c classes.Class) error {
	res, err := s.db.ExecContext(ctx, `
		update classes set name = $2, department = $3, year = $4, section = $5,
			class_teacher_id = $6, updated_at = $7
		where id = $1
	`, c.ID, c.Name, c.Department, c.Year, c.Section, nullIfEmpty(c.ClassTeacherID), c.UpdatedAt)
	if err != nil {
		return classError(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return classes.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteClass(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from classes where id = $1`, id)
	if err != nil {
		return classError(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return classes.ErrNotFound
	}
	return nil
}
