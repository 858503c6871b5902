package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"classvote.org/internal/ids"
	"classvote.org/internal/obs"
)

// XLSXExporter writes one workbook per backup, one sheet per entity.
type XLSXExporter struct {
	dir     string
	baseURL string
}

// NewXLSXExporter stores workbooks under dir. Links are baseURL plus the
// file name when baseURL is set, else the local path.
func NewXLSXExporter(dir, baseURL string) *XLSXExporter {
	return &XLSXExporter{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

var _ Exporter = (*XLSXExporter)(nil)

type sheet struct {
	name   string
	header []any
	rows   [][]any
}

func (x *XLSXExporter) CreateDataBackup(ctx context.Context, snap Snapshot, filename string) Result {
	if err := ctx.Err(); err != nil {
		return Result{Error: err.Error()}
	}
	filename = filepath.Base(filename)
	if !strings.HasSuffix(filename, ".xlsx") {
		filename += ".xlsx"
	}
	if err := os.MkdirAll(x.dir, 0o750); err != nil {
		return x.fail(filename, err)
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			obs.Warn("backup_close_failed", map[string]any{"file": filename, "error": err.Error()})
		}
	}()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return x.fail(filename, err)
	}
	for i, sh := range sheets(snap) {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sh.name); err != nil {
				return x.fail(filename, err)
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			return x.fail(filename, err)
		}
		if err := writeSheet(f, sh, bold); err != nil {
			return x.fail(filename, err)
		}
	}

	path := filepath.Join(x.dir, filename)
	if err := f.SaveAs(path); err != nil {
		return x.fail(filename, err)
	}
	link := path
	if x.baseURL != "" {
		link = x.baseURL + "/" + filename
	}
	obs.Info("backup_written", map[string]any{"file": path})
	return Result{Success: true, FileID: ids.New(), Link: link}
}

func (x *XLSXExporter) fail(filename string, err error) Result {
	obs.Error("backup_failed", map[string]any{"file": filename, "error": err.Error()})
	return Result{Error: err.Error()}
}

func writeSheet(f *excelize.File, sh sheet, headerStyle int) error {
	if err := f.SetSheetRow(sh.name, "A1", &sh.header); err != nil {
		return err
	}
	if err := f.SetRowStyle(sh.name, 1, 1, headerStyle); err != nil {
		return err
	}
	for i := range sh.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sh.name, cell, &sh.rows[i]); err != nil {
			return err
		}
	}
	return nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func stampPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return stamp(*t)
}

func sheets(snap Snapshot) []sheet {
	users := sheet{name: "Users", header: []any{"ID", "Name", "Email", "Role", "Verified", "Active", "Roll Number", "Class ID", "Created At"}}
	for _, u := range snap.Users {
		users.rows = append(users.rows, []any{u.ID, u.Name, u.Email, string(u.Role), u.Verified, u.Active, u.RollNumber, u.ClassID, stamp(u.CreatedAt)})
	}

	cls := sheet{name: "Classes", header: []any{"ID", "Name", "Full Name", "Department", "Year", "Section", "Class Teacher ID"}}
	for _, c := range snap.Classes {
		cls.rows = append(cls.rows, []any{c.ID, c.Name, c.FullName(), c.Department, c.Year, c.Section, c.ClassTeacherID})
	}

	elections := sheet{name: "Elections", header: []any{"ID", "Class ID", "Title", "Type", "Status", "Start", "End",
		"Created By", "QR Enabled", "Anonymous Voting", "Require Roll Number", "Time Slots", "Published", "Winner ID"}}
	for _, e := range snap.Elections {
		elections.rows = append(elections.rows, []any{e.ID, e.ClassID, e.Title, string(e.Type), string(e.Status),
			stamp(e.StartDate), stamp(e.EndDate), e.CreatedBy, e.QR.Enabled, e.PublicAccess.AllowAnonymousVoting,
			e.PublicAccess.RequireRollNumber, len(e.PublicAccess.TimeSlots), e.Results.Published, e.Results.WinnerID})
	}

	candidates := sheet{name: "Candidates", header: []any{"ID", "Election ID", "Student ID", "Name", "Symbol", "Color", "Approved", "Active"}}
	for _, c := range snap.Candidates {
		candidates.rows = append(candidates.rows, []any{c.ID, c.ElectionID, c.StudentID, c.Name, string(c.Symbol), c.Color, c.Approved, c.Active})
	}

	results := sheet{name: "Results", header: []any{"Election ID", "Candidate ID", "Name", "Authenticated", "Anonymous", "Total", "Winner", "Tie", "Published At"}}
	for _, t := range snap.Results {
		for _, row := range t.Candidates {
			results.rows = append(results.rows, []any{t.ElectionID, row.CandidateID, row.Name, row.Authenticated, row.Anonymous,
				row.Total, row.CandidateID == t.WinnerID, t.Tie, stampPtr(t.PublishedAt)})
		}
	}

	logs := sheet{name: "System Logs", header: []any{"ID", "Action", "Status", "Actor ID", "IP", "User Agent", "Details", "Created At"}}
	for _, e := range snap.Logs {
		details, err := json.Marshal(e.Details)
		if err != nil {
			details = []byte(fmt.Sprintf("%v", e.Details))
		}
		logs.rows = append(logs.rows, []any{e.ID, string(e.Action), string(e.Status), e.ActorID, e.IP, e.UserAgent, string(details), stamp(e.CreatedAt)})
	}

	return []sheet{users, cls, elections, candidates, results, logs}
}
