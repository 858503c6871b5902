// Package backup exports the full application state for administrators.
package backup

import (
	"context"
	"fmt"
	"time"

	"classvote.org/internal/audit"
	"classvote.org/internal/auth"
	"classvote.org/internal/classes"
	"classvote.org/internal/election"
	"classvote.org/internal/identity"
)

// maxLogEntries bounds the system log sheet.
const maxLogEntries = 1000

// Snapshot is everything a backup contains. Individual ballots are not
// exported; per-candidate counts are.
type Snapshot struct {
	GeneratedAt time.Time
	Users       []identity.User
	Classes     []classes.Class
	Elections   []election.Election
	Candidates  []election.Candidate
	Results     []election.Tally
	Logs        []audit.Entry
}

// Result reports the outcome of one export.
type Result struct {
	Success bool   `json:"success"`
	FileID  string `json:"file_id,omitempty"`
	Link    string `json:"link,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Exporter writes a snapshot somewhere durable.
type Exporter interface {
	CreateDataBackup(ctx context.Context, snap Snapshot, filename string) Result
}

// Users lists accounts.
type Users interface {
	List(ctx context.Context, p auth.Principal, f identity.Filter) ([]identity.User, error)
}

// Classes lists classes.
type Classes interface {
	List(ctx context.Context) ([]classes.Class, error)
}

// Elections lists elections with their rosters and counts.
type Elections interface {
	ListElections(ctx context.Context, p auth.Principal, f election.Filter) ([]election.Election, error)
	ListCandidates(ctx context.Context, p auth.Principal, electionID string) ([]election.Candidate, error)
	GetResults(ctx context.Context, p auth.Principal, electionID string) (election.Tally, error)
}

// Service assembles snapshots and hands them to an Exporter.
type Service struct {
	exporter  Exporter
	users     Users
	classes   Classes
	elections Elections
	audit     *audit.Logger
	now       func() time.Time
}

// NewService wires a backup service.
func NewService(exporter Exporter, users Users, classDir Classes, elections Elections, log *audit.Logger) *Service {
	return &Service{
		exporter:  exporter,
		users:     users,
		classes:   classDir,
		elections: elections,
		audit:     log,
		now:       time.Now,
	}
}

// Create builds a snapshot and exports it. Export failures are reported in
// the Result and audited; only authorization and read errors are returned.
func (s *Service) Create(ctx context.Context, p auth.Principal) (Result, error) {
	if err := auth.Authorize(p, auth.RequireRole(auth.RoleAdmin)); err != nil {
		return Result{}, err
	}
	snap, err := s.Snapshot(ctx, p)
	if err != nil {
		return Result{}, err
	}
	name := fmt.Sprintf("classvote-backup-%s.xlsx", snap.GeneratedAt.Format("20060102-150405"))
	res := s.exporter.CreateDataBackup(ctx, snap, name)

	status := audit.StatusSuccess
	details := map[string]any{
		"file_id":   res.FileID,
		"users":     len(snap.Users),
		"classes":   len(snap.Classes),
		"elections": len(snap.Elections),
	}
	if !res.Success {
		status = audit.StatusFailure
		details["error"] = res.Error
	}
	s.audit.Record(ctx, audit.ActionBackupCreated, status, details)
	return res, nil
}

// Snapshot reads the current state through the services.
func (s *Service) Snapshot(ctx context.Context, p auth.Principal) (Snapshot, error) {
	snap := Snapshot{GeneratedAt: s.now().UTC()}
	var err error
	if snap.Users, err = s.users.List(ctx, p, identity.Filter{}); err != nil {
		return Snapshot{}, fmt.Errorf("list users: %w", err)
	}
	if snap.Classes, err = s.classes.List(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("list classes: %w", err)
	}
	if snap.Elections, err = s.elections.ListElections(ctx, p, election.Filter{}); err != nil {
		return Snapshot{}, fmt.Errorf("list elections: %w", err)
	}
	for _, e := range snap.Elections {
		roster, err := s.elections.ListCandidates(ctx, p, e.ID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("list candidates of %s: %w", e.ID, err)
		}
		snap.Candidates = append(snap.Candidates, roster...)
		if e.Status == election.StatusPending {
			continue
		}
		tally, err := s.elections.GetResults(ctx, p, e.ID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("results of %s: %w", e.ID, err)
		}
		snap.Results = append(snap.Results, tally)
	}
	for page := 1; len(snap.Logs) < maxLogEntries; page++ {
		res, err := s.audit.Query(ctx, audit.Filter{Page: page, PageSize: 200})
		if err != nil {
			return Snapshot{}, fmt.Errorf("query logs: %w", err)
		}
		snap.Logs = append(snap.Logs, res.Entries...)
		if len(res.Entries) < res.PageSize || page*res.PageSize >= res.Total {
			break
		}
	}
	return snap, nil
}
