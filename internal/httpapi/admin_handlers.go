package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"classvote.org/internal/audit"
)

func (a *API) QueryLogs(w http.ResponseWriter, r *http.Request) {
	f, err := logFilter(r.URL.Query())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	page, err := a.audit.Query(r.Context(), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) CreateBackup(w http.ResponseWriter, r *http.Request) {
	res, err := a.backups.Create(r.Context(), principal(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	code := http.StatusCreated
	if !res.Success {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, res)
}

func logFilter(q url.Values) (audit.Filter, error) {
	var (
		f   audit.Filter
		err error
	)
	if raw := q.Get("action"); raw != "" {
		if f.Action, err = audit.ParseAction(raw); err != nil {
			return f, err
		}
	}
	if raw := q.Get("status"); raw != "" {
		if f.Status, err = audit.ParseStatus(raw); err != nil {
			return f, err
		}
	}
	f.ActorID = q.Get("actor_id")
	if f.From, err = parseTime(q.Get("from"), "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q.Get("to"), "to"); err != nil {
		return f, err
	}
	if f.Page, err = parseInt(q.Get("page"), "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = parseInt(q.Get("page_size"), "page_size"); err != nil {
		return f, err
	}
	return f, nil
}

func parseTime(raw, name string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339", audit.ErrInvalidFilter, name)
	}
	return t, nil
}

// parseInt leaves range checks to the audit filter.
func parseInt(raw, name string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", audit.ErrInvalidFilter, name)
	}
	return val, nil
}
