package pg

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"classvote.org/internal/audit"
	"classvote.org/internal/auth"
	"classvote.org/internal/classes"
	"classvote.org/internal/election"
	"classvote.org/internal/identity"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func pgErr(code, constraint string) error {
	return &pgconn.PgError{Code: code, ConstraintName: constraint}
}

var electionCols = []string{"id", "class_id", "title", "description", "election_type", "status", "start_date", "end_date",
	"created_by", "qr_enabled", "qr_token", "qr_generated_at", "allow_anonymous_voting", "require_roll_number",
	"results_published", "results_published_at", "winner_id", "results_calculated_at", "results_tie",
	"created_at", "updated_at"}

func electionRow(id, status string, token any) []driver.Value {
	return []driver.Value{id, "c1", "CR 2026", "", "CR", status, epoch, epoch.Add(8 * time.Hour),
		"t1", token != nil, token, nil, true, true,
		false, nil, nil, nil, false,
		epoch, epoch}
}

func TestInsertVoteMapsGuards(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(sqlmock.Sqlmock)
		expect error
	}{
		{
			name: "duplicate student",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectExec("insert into votes").WillReturnError(pgErr(pgErrUniqueViolation, "votes_election_student_key"))
			},
			expect: election.ErrAlreadyVoted,
		},
		{
			name: "election closed",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectExec("insert into votes").WillReturnResult(sqlmock.NewResult(0, 0))
				m.ExpectQuery(q("select status from elections where id = $1")).WithArgs("e1").
					WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
			},
			expect: election.ErrElectionNotActive,
		},
		{
			name: "foreign candidate",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectExec("insert into votes").WillReturnResult(sqlmock.NewResult(0, 0))
				m.ExpectQuery(q("select status from elections where id = $1")).WithArgs("e1").
					WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
			},
			expect: election.ErrInvalidCandidate,
		},
		{
			name: "unknown election",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectExec("insert into votes").WillReturnResult(sqlmock.NewResult(0, 0))
				m.ExpectQuery(q("select status from elections where id = $1")).WithArgs("e1").
					WillReturnRows(sqlmock.NewRows([]string{"status"}))
			},
			expect: election.ErrNotFound,
		},
		{
			name: "accepted",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectExec("insert into votes").WithArgs("v1", "e1", "s1", "cand", epoch).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, mock := newMock(t)
			tc.setup(mock)
			err := s.InsertVote(context.Background(), &election.Vote{ID: "v1", ElectionID: "e1", StudentID: "s1", CandidateID: "cand", CastAt: epoch})
			if !errors.Is(err, tc.expect) {
				t.Fatalf("expected %v, got %v", tc.expect, err)
			}
		})
	}
}

func TestInsertAnonymousVoteDuplicateRoll(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into anonymous_votes").
		WithArgs("v1", "e1", "CS-17", "cand", "10.0.0.1", "ua", epoch).
		WillReturnError(pgErr(pgErrUniqueViolation, "anonymous_votes_election_roll_key"))
	err := s.InsertAnonymousVote(context.Background(), &election.AnonymousVote{
		ID: "v1", ElectionID: "e1", RollNumber: "CS-17", CandidateID: "cand", IPAddress: "10.0.0.1", UserAgent: "ua", CastAt: epoch,
	})
	if !errors.Is(err, election.ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
}

func TestCreateElectionLocksClassAndChecksOverlap(t *testing.T) {
	e := &election.Election{ID: "e2", ClassID: "c1", Title: "CR", Type: election.TypeCR, Status: election.StatusPending,
		StartDate: epoch, EndDate: epoch.Add(time.Hour), CreatedBy: "t1", CreatedAt: epoch, UpdatedAt: epoch}

	t.Run("overlap", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("select id from classes where id = $1 for update")).WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))
		mock.ExpectQuery(q("select exists (")).WithArgs("c1", "e2", e.StartDate, e.EndDate).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()
		if err := s.CreateElection(context.Background(), e); !errors.Is(err, election.ErrOverlap) {
			t.Fatalf("expected ErrOverlap, got %v", err)
		}
	})

	t.Run("unknown class", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("select id from classes where id = $1 for update")).WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()
		if err := s.CreateElection(context.Background(), e); !errors.Is(err, classes.ErrNotFound) {
			t.Fatalf("expected classes.ErrNotFound, got %v", err)
		}
	})

	t.Run("inserted", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("select id from classes where id = $1 for update")).WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))
		mock.ExpectQuery(q("select exists (")).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("insert into elections").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		if err := s.CreateElection(context.Background(), e); err != nil {
			t.Fatalf("CreateElection: %v", err)
		}
	})
}

func TestTransitionStatusIsConditional(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update elections set status").WithArgs("e1", "pending", "active", epoch).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("select exists (select 1 from elections where id = $1)")).WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	err := s.TransitionStatus(context.Background(), "e1", election.StatusPending, election.StatusActive, epoch)
	if !errors.Is(err, election.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestDeleteElectionRefusesActive(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("delete from elections").WithArgs("e1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("select exists (select 1 from elections")).WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	if err := s.DeleteElection(context.Background(), "e1"); !errors.Is(err, election.ErrElectionActive) {
		t.Fatalf("expected ErrElectionActive, got %v", err)
	}
}

func TestGetElectionLoadsSlots(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from elections where qr_token").WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(electionCols).AddRow(electionRow("e1", "active", "tok")...))
	mock.ExpectQuery("from voting_time_slots").WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "start_time", "end_time", "active"}).
			AddRow("s1", epoch, epoch.Add(time.Hour), true))

	e, err := s.GetElectionByToken(context.Background(), "tok")
	if err != nil {
		t.Fatalf("GetElectionByToken: %v", err)
	}
	if e.Status != election.StatusActive || !e.QR.Enabled || e.QR.AccessToken != "tok" {
		t.Fatalf("unexpected election %+v", e)
	}
	if len(e.PublicAccess.TimeSlots) != 1 || !e.PublicAccess.TimeSlots[0].Contains(epoch.Add(30*time.Minute)) {
		t.Fatalf("slots not loaded: %+v", e.PublicAccess.TimeSlots)
	}
}

func TestToggleQRWithoutToken(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("update elections set qr_enabled = not qr_enabled").WithArgs("e1", epoch).
		WillReturnRows(sqlmock.NewRows([]string{"qr_enabled", "qr_token", "qr_generated_at"}))
	mock.ExpectQuery(q("select exists (select 1 from elections")).WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	if _, err := s.ToggleQR(context.Background(), "e1", epoch); !errors.Is(err, election.ErrQRNotGenerated) {
		t.Fatalf("expected ErrQRNotGenerated, got %v", err)
	}
}

func TestCountVotesMergesLedgers(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("union all").WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"candidate_id", "authenticated", "anonymous"}).
			AddRow("a", 4, 1).AddRow("b", 0, 2))
	got, err := s.CountVotes(context.Background(), "e1")
	if err != nil {
		t.Fatalf("CountVotes: %v", err)
	}
	if got["a"].Total() != 5 || got["b"].Anonymous != 2 {
		t.Fatalf("unexpected counts %+v", got)
	}
}

func TestSettleResultsCountsUnderRowLock(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("select status from elections where id = $1 for update")).WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
	mock.ExpectQuery("union all").WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"candidate_id", "authenticated", "anonymous"}).
			AddRow("a", 2, 0).AddRow("b", 1, 1))
	mock.ExpectExec("update elections set status").
		WithArgs("e1", "completed", false, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), true, epoch).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var seen map[string]election.VoteCount
	err := s.SettleResults(context.Background(), "e1", election.StatusActive, epoch,
		func(counts map[string]election.VoteCount) (election.Status, election.Results) {
			seen = counts
			at := epoch
			return election.StatusCompleted, election.Results{Tie: true, CalculatedAt: &at}
		})
	if err != nil {
		t.Fatalf("SettleResults: %v", err)
	}
	if seen["a"].Total() != 2 || seen["b"].Total() != 2 {
		t.Fatalf("decide saw %+v", seen)
	}
}

func TestSettleResultsRejectsMovedStatus(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("select status from elections where id = $1 for update")).WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("cancelled"))
	mock.ExpectRollback()

	err := s.SettleResults(context.Background(), "e1", election.StatusActive, epoch,
		func(map[string]election.VoteCount) (election.Status, election.Results) {
			t.Fatalf("decide called for a cancelled election")
			return "", election.Results{}
		})
	if !errors.Is(err, election.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCreateCandidateDuplicate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into candidates").
		WillReturnError(pgErr(pgErrUniqueViolation, "candidates_election_student_key"))
	err := s.CreateCandidate(context.Background(), &election.Candidate{ID: "k", ElectionID: "e1", StudentID: "s1", Symbol: election.SymbolRocket, Color: "#FF0000"})
	if !errors.Is(err, election.ErrDuplicateCandidacy) {
		t.Fatalf("expected ErrDuplicateCandidacy, got %v", err)
	}
}

func TestCreateUserUniqueViolations(t *testing.T) {
	cases := []struct {
		constraint string
		expect     error
	}{
		{"users_email_lower_idx", identity.ErrDuplicateEmail},
		{"users_class_roll_idx", identity.ErrDuplicateRollInClass},
	}
	for _, tc := range cases {
		t.Run(tc.constraint, func(t *testing.T) {
			s, mock := newMock(t)
			mock.ExpectExec("insert into users").WillReturnError(pgErr(pgErrUniqueViolation, tc.constraint))
			u := &identity.User{ID: "u1", Name: "Asel", Email: "Asel@College.edu", Role: auth.RoleStudent, RollNumber: "17", ClassID: "c1"}
			if err := s.CreateUser(context.Background(), u); !errors.Is(err, tc.expect) {
				t.Fatalf("expected %v, got %v", tc.expect, err)
			}
		})
	}
}

func TestConsumeTokenSingleUse(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("update user_tokens set used_at").WithArgs("hash", "verify_email", epoch).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))
	mock.ExpectQuery("update user_tokens set used_at").WithArgs("hash", "verify_email", epoch).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	ctx := context.Background()
	if id, err := s.ConsumeToken(ctx, "hash", identity.PurposeVerifyEmail, epoch); err != nil || id != "u1" {
		t.Fatalf("first consume: %q %v", id, err)
	}
	if _, err := s.ConsumeToken(ctx, "hash", identity.PurposeVerifyEmail, epoch); !errors.Is(err, identity.ErrInvalidOrExpiredToken) {
		t.Fatalf("second consume: expected ErrInvalidOrExpiredToken, got %v", err)
	}
}

func TestDeleteClassReferences(t *testing.T) {
	cases := []struct {
		constraint string
		expect     error
	}{
		{"users_class_fk", classes.ErrClassHasStudents},
		{"elections_class_fk", classes.ErrClassHasElections},
	}
	for _, tc := range cases {
		t.Run(tc.constraint, func(t *testing.T) {
			s, mock := newMock(t)
			mock.ExpectExec("delete from classes").WithArgs("c1").
				WillReturnError(pgErr(pgErrForeignKeyViolation, tc.constraint))
			if err := s.DeleteClass(context.Background(), "c1"); !errors.Is(err, tc.expect) {
				t.Fatalf("expected %v, got %v", tc.expect, err)
			}
		})
	}
}

func TestDeleteUserInUse(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("delete from users").WithArgs("u1").
		WillReturnError(pgErr(pgErrForeignKeyViolation, "votes_student_fk"))
	if err := s.DeleteUser(context.Background(), "u1"); !errors.Is(err, identity.ErrUserInUse) {
		t.Fatalf("expected ErrUserInUse, got %v", err)
	}
}

func TestAuditQueryPaginates(t *testing.T) {
	s, mock := newMock(t)
	f := audit.Filter{Action: audit.ActionVoteCast, Page: 2, PageSize: 10}
	mock.ExpectQuery(q("select count(*) from system_logs where action = $1")).WithArgs("vote_cast").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))
	mock.ExpectQuery(q("limit $2 offset $3")).WithArgs("vote_cast", 10, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "action", "actor_id", "details", "ip", "user_agent", "status", "request_id", "created_at"}).
			AddRow("l1", "vote_cast", "s1", []byte(`{"election_id":"e1"}`), "", "", "success", "r1", epoch))

	entries, total, err := s.Query(context.Background(), f)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 11 || len(entries) != 1 || entries[0].Details["election_id"] != "e1" {
		t.Fatalf("unexpected page %d %+v", total, entries)
	}
}
