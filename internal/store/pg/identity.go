package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"classvote.org/internal/auth"
	"classvote.org/internal/classes"
	"classvote.org/internal/identity"
)

var _ identity.Store = (*Store)(nil)

const userColumns = `id, name, email, password_hash, role, is_verified, active,
	roll_number, class_id, last_login_at, created_at, updated_at`

func scanUser(row scanner) (identity.User, error) {
	var (
		u         identity.User
		role      string
		roll      sql.NullString
		classID   sql.NullString
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.Verified, &u.Active,
		&roll, &classID, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return identity.User{}, err
	}
	u.Role = auth.Role(role)
	u.RollNumber = roll.String
	u.ClassID = classID.String
	u.LastLoginAt = timePtr(lastLogin)
	return u, nil
}

func userError(err error) error {
	if name, ok := violation(err, pgErrUniqueViolation); ok {
		if name == "users_class_roll_idx" {
			return identity.ErrDuplicateRollInClass
		}
		return identity.ErrDuplicateEmail
	}
	if _, ok := violation(err, pgErrForeignKeyViolation); ok {
		return classes.ErrNotFound
	}
	return err
}

func (s *Store) CreateUser(ctx context.Context, u *identity.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, name, email, password_hash, role, is_verified, active,
			roll_number, class_id, last_login_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, u.ID, u.Name, strings.ToLower(u.Email), u.PasswordHash, string(u.Role), u.Verified, u.Active,
		nullIfEmpty(u.RollNumber), nullIfEmpty(u.ClassID), nullTime(u.LastLoginAt), u.CreatedAt, u.UpdatedAt)
	return userError(err)
}

func (s *Store) GetUser(ctx context.Context, id string) (identity.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.ErrNotFound
	}
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (identity.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where lower(email) = lower($1)`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.ErrNotFound
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context, f identity.Filter) ([]identity.User, error) {
	var (
		a     args
		where []string
	)
	if f.Role != "" {
		where = append(where, "role = "+a.add(string(f.Role)))
	}
	if f.ClassID != "" {
		where = append(where, "class_id = "+a.add(f.ClassID))
	}
	if f.Active != nil {
		where = append(where, "active = "+a.add(*f.Active))
	}
	query := `select ` + userColumns + ` from users`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by name, id`

	rows, err := s.db.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []identity.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, u identity.User) error {
	res, err := s.db.ExecContext(ctx, `
		update users set name = $2, email = $3, password_hash = $4, role = $5, is_verified = $6,
			active = $7, roll_number = $8, class_id = $9, last_login_at = $10, updated_at = $11
		where id = $1
	`, u.ID, u.Name, strings.ToLower(u.Email), u.PasswordHash, string(u.Role), u.Verified,
		u.Active, nullIfEmpty(u.RollNumber), nullIfEmpty(u.ClassID), nullTime(u.LastLoginAt), u.UpdatedAt)
	if err != nil {
		return userError(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		if _, ok := violation(err, pgErrForeignKeyViolation); ok {
			return identity.ErrUserInUse
		}
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) CountUserReferences(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select (select count(*) from votes where student_id = $1)
		     + (select count(*) from candidates where student_id = $1)
		     + (select count(*) from elections where created_by = $1)
	`, id).Scan(&n)
	return n, err
}

func (s *Store) CountStudentsInClass(ctx context.Context, classID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from users where role = 'student' and class_id = $1`, classID).Scan(&n)
	return n, err
}

func (s *Store) CreateToken(ctx context.Context, t identity.Token) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_tokens (token_hash, user_id, purpose, expires_at, created_at)
		values ($1, $2, $3, $4, $5)
	`, t.Hash, t.UserID, string(t.Purpose), t.ExpiresAt, t.CreatedAt)
	return err
}

func (s *Store) ConsumeToken(ctx context.Context, hash string, purpose identity.TokenPurpose, now time.Time) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		update user_tokens set used_at = $3
		where token_hash = $1 and purpose = $2 and used_at is null and expires_at > $3
		returning user_id
	`, hash, string(purpose), now).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", identity.ErrInvalidOrExpiredToken
	}
	return userID, err
}
