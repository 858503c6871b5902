package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"classvote.org/internal/classes"
	"classvote.org/internal/election"
)

var _ election.Store = (*Store)(nil)

const electionColumns = `id, class_id, title, description, election_type, status, start_date, end_date,
	created_by, qr_enabled, qr_token, qr_generated_at, allow_anonymous_voting, require_roll_number,
	results_published, results_published_at, winner_id, results_calculated_at, results_tie,
	created_at, updated_at`

func scanElection(row scanner) (election.Election, error) {
	var (
		e                          election.Election
		typ, status                string
		token, winner              sql.NullString
		generated, published, calc sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.ClassID, &e.Title, &e.Description, &typ, &status, &e.StartDate, &e.EndDate,
		&e.CreatedBy, &e.QR.Enabled, &token, &generated, &e.PublicAccess.AllowAnonymousVoting,
		&e.PublicAccess.RequireRollNumber, &e.Results.Published, &published, &winner, &calc, &e.Results.Tie,
		&e.CreatedAt, &e.UpdatedAt); err != nil {
		return election.Election{}, err
	}
	e.Type = election.Type(typ)
	e.Status = election.Status(status)
	e.StartDate = e.StartDate.UTC()
	e.EndDate = e.EndDate.UTC()
	e.QR.AccessToken = token.String
	e.QR.GeneratedAt = timePtr(generated)
	e.Results.PublishedAt = timePtr(published)
	e.Results.WinnerID = winner.String
	e.Results.CalculatedAt = timePtr(calc)
	e.PublicAccess.TimeSlots = []election.TimeSlot{}
	return e, nil
}

func (s *Store) loadSlots(ctx context.Context, e *election.Election) error {
	rows, err := s.db.QueryContext(ctx, `
		select id, start_time, end_time, active from voting_time_slots
		where election_id = $1 order by position
	`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var slot election.TimeSlot
		if err := rows.Scan(&slot.ID, &slot.Start, &slot.End, &slot.Active); err != nil {
			return err
		}
		slot.Start, slot.End = slot.Start.UTC(), slot.End.UTC()
		e.PublicAccess.TimeSlots = append(e.PublicAccess.TimeSlots, slot)
	}
	return rows.Err()
}

// lockClass serializes election writes per class for the overlap check.
func lockClass(ctx context.Context, tx *sql.Tx, classID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `select id from classes where id = $1 for update`, classID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return classes.ErrNotFound
	}
	return err
}

func overlaps(ctx context.Context, tx *sql.Tx, e election.Election) (bool, error) {
	var found bool
	err := tx.QueryRowContext(ctx, `
		select exists (
			select 1 from elections
			where class_id = $1 and id <> $2 and status in ('pending', 'active')
			  and start_date <= $4 and end_date >= $3
		)
	`, e.ClassID, e.ID, e.StartDate, e.EndDate).Scan(&found)
	return found, err
}

func (s *Store) CreateElection(ctx context.Context, e *election.Election) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockClass(ctx, tx, e.ClassID); err != nil {
		return err
	}
	if clash, err := overlaps(ctx, tx, *e); err != nil {
		return err
	} else if clash {
		return election.ErrOverlap
	}
	if _, err := tx.ExecContext(ctx, `
		insert into elections (id, class_id, title, description, election_type, status, start_date, end_date,
			created_by, qr_enabled, allow_anonymous_voting, require_roll_number, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, e.ID, e.ClassID, e.Title, e.Description, string(e.Type), string(e.Status), e.StartDate, e.EndDate,
		e.CreatedBy, e.QR.Enabled, e.PublicAccess.AllowAnonymousVoting, e.PublicAccess.RequireRollNumber,
		e.CreatedAt, e.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetElection(ctx context.Context, id string) (election.Election, error) {
	return s.getElection(ctx, `where id = $1`, id)
}

func (s *Store) GetElectionByToken(ctx context.Context, token string) (election.Election, error) {
	if token == "" {
		return election.Election{}, election.ErrNotFound
	}
	return s.getElection(ctx, `where qr_token = $1`, token)
}

func (s *Store) getElection(ctx context.Context, where string, arg any) (election.Election, error) {
	e, err := scanElection(s.db.QueryRowContext(ctx, `select `+electionColumns+` from elections `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return election.Election{}, election.ErrNotFound
	}
	if err != nil {
		return election.Election{}, err
	}
	if err := s.loadSlots(ctx, &e); err != nil {
		return election.Election{}, err
	}
	return e, nil
}

func (s *Store) ListElections(ctx context.Context, f election.Filter) ([]election.Election, error) {
	var (
		a     args
		where []string
	)
	if f.ClassID != "" {
		where = append(where, "class_id = "+a.add(f.ClassID))
	}
	if f.Status != "" {
		where = append(where, "status = "+a.add(string(f.Status)))
	}
	if f.CreatedBy != "" {
		where = append(where, "created_by = "+a.add(f.CreatedBy))
	}
	query := `select ` + electionColumns + ` from elections`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by start_date desc, id`

	rows, err := s.db.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, err
	}
	out := []election.Election{}
	for rows.Next() {
		e, err := scanElection(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range out {
		if err := s.loadSlots(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) UpdateElection(ctx context.Context, e election.Election, expected election.Status) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockClass(ctx, tx, e.ClassID); err != nil {
		return err
	}
	var status string
	err = tx.QueryRowContext(ctx, `select status from elections where id = $1 for update`, e.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return election.ErrNotFound
	}
	if err != nil {
		return err
	}
	if election.Status(status) != expected {
		return election.ErrNotEditable
	}
	if clash, err := overlaps(ctx, tx, e); err != nil {
		return err
	} else if clash {
		return election.ErrOverlap
	}
	if _, err := tx.ExecContext(ctx, `
		update elections set title = $2, description = $3, election_type = $4,
			start_date = $5, end_date = $6, updated_at = $7
		where id = $1
	`, e.ID, e.Title, e.Description, string(e.Type), e.StartDate, e.EndDate, e.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// missing distinguishes a vanished election from a failed guard after a
// conditional write touched no rows.
func (s *Store) missing(ctx context.Context, id string, guard error) error {
	var found bool
	if err := s.db.QueryRowContext(ctx, `select exists (select 1 from elections where id = $1)`, id).Scan(&found); err != nil {
		return err
	}
	if !found {
		return election.ErrNotFound
	}
	return guard
}

func (s *Store) TransitionStatus(ctx context.Context, id string, from, to election.Status, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update elections set status = $3, updated_at = $4 where id = $1 and status = $2
	`, id, string(from), string(to), at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return s.missing(ctx, id, election.ErrInvalidTransition)
	}
	return nil
}

func (s *Store) UpdateResults(ctx context.Context, id string, from, to election.Status, r election.Results, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update elections set status = $3, results_published = $4, results_published_at = $5,
			winner_id = $6, results_calculated_at = $7, results_tie = $8, updated_at = $9
		where id = $1 and status = $2
	`, id, string(from), string(to), r.Published, nullTime(r.PublishedAt), nullIfEmpty(r.WinnerID),
		nullTime(r.CalculatedAt), r.Tie, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return s.missing(ctx, id, election.ErrInvalidTransition)
	}
	return nil
}

// SettleResults holds the election row for update while counting, so a
// concurrent ballot either lands before the count or sees the new status.
func (s *Store) SettleResults(ctx context.Context, id string, from election.Status, at time.Time, decide election.Settlement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `select status from elections where id = $1 for update`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return election.ErrNotFound
	}
	if err != nil {
		return err
	}
	if election.Status(status) != from {
		return election.ErrInvalidTransition
	}
	counts, err := countVotes(ctx, tx, id)
	if err != nil {
		return err
	}
	to, r := decide(counts)
	if _, err := tx.ExecContext(ctx, `
		update elections set status = $2, results_published = $3, results_published_at = $4,
			winner_id = $5, results_calculated_at = $6, results_tie = $7, updated_at = $8
		where id = $1
	`, id, string(to), r.Published, nullTime(r.PublishedAt), nullIfEmpty(r.WinnerID),
		nullTime(r.CalculatedAt), r.Tie, at); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteElection(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from elections where id = $1 and status <> 'active'`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return s.missing(ctx, id, election.ErrElectionActive)
	}
	return nil
}

func (s *Store) CountElectionsInClass(ctx context.Context, classID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from elections where class_id = $1`, classID).Scan(&n)
	return n, err
}

func scanQR(row scanner) (election.QRAccess, error) {
	var (
		qr        election.QRAccess
		token     sql.NullString
		generated sql.NullTime
	)
	if err := row.Scan(&qr.Enabled, &token, &generated); err != nil {
		return election.QRAccess{}, err
	}
	qr.AccessToken = token.String
	qr.GeneratedAt = timePtr(generated)
	return qr, nil
}

func (s *Store) SetQRToken(ctx context.Context, id, token string, at time.Time) (election.QRAccess, error) {
	qr, err := scanQR(s.db.QueryRowContext(ctx, `
		update elections set qr_token = coalesce(qr_token, $2),
			qr_generated_at = coalesce(qr_generated_at, $3), qr_enabled = true, updated_at = $3
		where id = $1
		returning qr_enabled, qr_token, qr_generated_at
	`, id, token, at))
	if errors.Is(err, sql.ErrNoRows) {
		return election.QRAccess{}, election.ErrNotFound
	}
	return qr, err
}

func (s *Store) ToggleQR(ctx context.Context, id string, at time.Time) (election.QRAccess, error) {
	qr, err := scanQR(s.db.QueryRowContext(ctx, `
		update elections set qr_enabled = not qr_enabled, updated_at = $2
		where id = $1 and qr_token is not null
		returning qr_enabled, qr_token, qr_generated_at
	`, id, at))
	if errors.Is(err, sql.ErrNoRows) {
		return election.QRAccess{}, s.missing(ctx, id, election.ErrQRNotGenerated)
	}
	return qr, err
}

func (s *Store) SetPublicAccess(ctx context.Context, id string, allowAnonymous, requireRoll bool, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update elections set allow_anonymous_voting = $2, require_roll_number = $3, updated_at = $4
		where id = $1
	`, id, allowAnonymous, requireRoll, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return election.ErrNotFound
	}
	return nil
}

func (s *Store) AddTimeSlot(ctx context.Context, electionID string, slot election.TimeSlot) error {
	_, err := s.db.ExecContext(ctx, `
		insert into voting_time_slots (id, election_id, start_time, end_time, active)
		values ($1, $2, $3, $4, $5)
	`, slot.ID, electionID, slot.Start, slot.End, slot.Active)
	if _, ok := violation(err, pgErrForeignKeyViolation); ok {
		return election.ErrNotFound
	}
	return err
}

func (s *Store) RemoveTimeSlot(ctx context.Context, electionID, slotID string) error {
	res, err := s.db.ExecContext(ctx, `delete from voting_time_slots where id = $1 and election_id = $2`, slotID, electionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return s.missing(ctx, electionID, election.ErrTimeSlotNotFound)
	}
	return nil
}

const candidateColumns = `id, election_id, student_id, symbol, color, approved, active, manifesto, created_at`

func scanCandidate(row scanner) (election.Candidate, error) {
	var (
		c      election.Candidate
		symbol string
	)
	if err := row.Scan(&c.ID, &c.ElectionID, &c.StudentID, &symbol, &c.Color, &c.Approved, &c.Active,
		&c.Manifesto, &c.CreatedAt); err != nil {
		return election.Candidate{}, err
	}
	c.Symbol = election.Symbol(symbol)
	return c, nil
}

func (s *Store) CreateCandidate(ctx context.Context, c *election.Candidate) error {
	_, err := s.db.ExecContext(ctx, `
		insert into candidates (id, election_id, student_id, symbol, color, approved, active, manifesto, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.ElectionID, c.StudentID, string(c.Symbol), c.Color, c.Approved, c.Active, c.Manifesto, c.CreatedAt)
	if _, ok := violation(err, pgErrUniqueViolation); ok {
		return election.ErrDuplicateCandidacy
	}
	if name, ok := violation(err, pgErrForeignKeyViolation); ok {
		if name == "candidates_student_fk" {
			return election.ErrInvalidStudent
		}
		return election.ErrNotFound
	}
	return err
}

func (s *Store) GetCandidate(ctx context.Context, electionID, id string) (election.Candidate, error) {
	c, err := scanCandidate(s.db.QueryRowContext(ctx, `
		select `+candidateColumns+` from candidates where id = $1 and election_id = $2
	`, id, electionID))
	if errors.Is(err, sql.ErrNoRows) {
		return election.Candidate{}, election.ErrCandidateNotFound
	}
	return c, err
}

func (s *Store) ListCandidates(ctx context.Context, electionID string) ([]election.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+candidateColumns+` from candidates where election_id = $1 order by position
	`, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []election.Candidate{}
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCandidate(ctx context.Context, c election.Candidate) error {
	res, err := s.db.ExecContext(ctx, `
		update candidates set symbol = $3, color = $4, approved = $5, active = $6, manifesto = $7
		where id = $1 and election_id = $2
	`, c.ID, c.ElectionID, string(c.Symbol), c.Color, c.Approved, c.Active, c.Manifesto)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return election.ErrCandidateNotFound
	}
	return nil
}

func (s *Store) DeleteCandidate(ctx context.Context, electionID, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from candidates where id = $1 and election_id = $2`, id, electionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return election.ErrCandidateNotFound
	}
	return nil
}

// The insert only happens while the election row, locked for share, is
// active and the candidate belongs to it; a concurrent transition waits.
const ballotGuard = `
	where exists (select 1 from elections where id = $2 and status = 'active' for share)
	  and exists (select 1 from candidates where id = $4 and election_id = $2)`

func (s *Store) InsertVote(ctx context.Context, v *election.Vote) error {
	res, err := s.db.ExecContext(ctx, `
		insert into votes (id, election_id, student_id, candidate_id, cast_at)
		select $1, $2, $3, $4, $5`+ballotGuard,
		v.ID, v.ElectionID, v.StudentID, v.CandidateID, v.CastAt)
	return s.ballotResult(ctx, v.ElectionID, res, err)
}

func (s *Store) InsertAnonymousVote(ctx context.Context, v *election.AnonymousVote) error {
	res, err := s.db.ExecContext(ctx, `
		insert into anonymous_votes (id, election_id, roll_number, candidate_id, ip_address, user_agent, cast_at)
		select $1, $2, $3, $4, $5, $6, $7`+ballotGuard,
		v.ID, v.ElectionID, v.RollNumber, v.CandidateID, v.IPAddress, v.UserAgent, v.CastAt)
	return s.ballotResult(ctx, v.ElectionID, res, err)
}

func (s *Store) ballotResult(ctx context.Context, electionID string, res sql.Result, err error) error {
	if _, ok := violation(err, pgErrUniqueViolation); ok {
		return election.ErrAlreadyVoted
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, `select status from elections where id = $1`, electionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return election.ErrNotFound
	}
	if err != nil {
		return err
	}
	if election.Status(status) != election.StatusActive {
		return election.ErrElectionNotActive
	}
	return election.ErrInvalidCandidate
}

func (s *Store) HasVoted(ctx context.Context, electionID, studentID string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx, `
		select exists (select 1 from votes where election_id = $1 and student_id = $2)
	`, electionID, studentID).Scan(&found)
	return found, err
}

func (s *Store) HasAnonymousVote(ctx context.Context, electionID, rollNumber string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx, `
		select exists (select 1 from anonymous_votes where election_id = $1 and roll_number = $2)
	`, electionID, rollNumber).Scan(&found)
	return found, err
}

func (s *Store) VoterIDs(ctx context.Context, electionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select student_id from votes where election_id = $1 order by student_id`, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) CountVotes(ctx context.Context, electionID string) (map[string]election.VoteCount, error) {
	return countVotes(ctx, s.db, electionID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func countVotes(ctx context.Context, db querier, electionID string) (map[string]election.VoteCount, error) {
	rows, err := db.QueryContext(ctx, `
		select candidate_id,
		       count(*) filter (where ledger = 'authenticated'),
		       count(*) filter (where ledger = 'anonymous')
		from (
			select candidate_id, 'authenticated' as ledger from votes where election_id = $1
			union all
			select candidate_id, 'anonymous' from anonymous_votes where election_id = $1
		) ballots
		group by candidate_id
	`, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]election.VoteCount)
	for rows.Next() {
		var (
			id string
			c  election.VoteCount
		)
		if err := rows.Scan(&id, &c.Authenticated, &c.Anonymous); err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, rows.Err()
}
