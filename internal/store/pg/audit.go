package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"classvote.org/internal/audit"
)

var _ audit.Store = (*Store)(nil)

func (s *Store) Append(ctx context.Context, e *audit.Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into system_logs (id, action, actor_id, details, ip, user_agent, status, request_id, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, string(e.Action), nullIfEmpty(e.ActorID), details, e.IP, e.UserAgent, string(e.Status), e.RequestID, e.CreatedAt)
	return err
}

func (s *Store) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	var (
		a     args
		where []string
	)
	if f.Action != "" {
		where = append(where, "action = "+a.add(string(f.Action)))
	}
	if f.Status != "" {
		where = append(where, "status = "+a.add(string(f.Status)))
	}
	if f.ActorID != "" {
		where = append(where, "actor_id = "+a.add(f.ActorID))
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= "+a.add(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at <= "+a.add(f.To))
	}
	clause := ""
	if len(where) > 0 {
		clause = " where " + strings.Join(where, " and ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from system_logs`+clause, a...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := append(args{}, a...)
	query := `select id, action, actor_id, details, ip, user_agent, status, request_id, created_at from system_logs` +
		clause + ` order by created_at desc, id desc limit ` + page.add(f.PageSize) + ` offset ` + page.add(f.Offset())
	rows, err := s.db.QueryContext(ctx, query, page...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []audit.Entry{}
	for rows.Next() {
		var (
			e              audit.Entry
			action, status string
			actor          sql.NullString
			raw            []byte
		)
		if err := rows.Scan(&e.ID, &action, &actor, &raw, &e.IP, &e.UserAgent, &status, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Action = audit.Action(action)
		e.Status = audit.Status(status)
		e.ActorID = actor.String
		e.Details = map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Details); err != nil {
				return nil, 0, fmt.Errorf("decode details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}
