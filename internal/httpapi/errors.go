package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"classvote.org/internal/apperr"
	"classvote.org/internal/audit"
	"classvote.org/internal/obs"
)

const maxJSONBody = 1 << 20

var errBodyRequired = apperr.New(apperr.KindValidation, "invalid_body", "request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorCode(w, r, code, "", msg)
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if code != "" {
		payload["code"] = code
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

// badRequest renders a body that failed to decode.
func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorCode(w, r, http.StatusBadRequest, apperr.CodeOf(errBodyRequired), err.Error())
}

// fail renders err by its apperr kind. Unclassified errors are logged, audited
// as system_error and rendered generically in production.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind != apperr.KindUnknown {
		writeErrorCode(w, r, kind.HTTPStatus(), apperr.CodeOf(err), err.Error())
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	fields := map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
		"error":      err.Error(),
	}
	obs.Error("request_failed", fields)
	a.audit.CreateLog(r.Context(), audit.Entry{
		Action:  audit.ActionSystemError,
		Status:  audit.StatusFailure,
		Details: map[string]any{"method": r.Method, "path": r.URL.Path, "error": err.Error()},
	})

	msg := "internal error"
	if !a.production {
		msg = err.Error()
	}
	writeErrorCode(w, r, http.StatusInternalServerError, "internal", msg)
}
