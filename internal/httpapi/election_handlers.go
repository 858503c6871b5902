package httpapi

import (
	"net/http"
	"time"

	"classvote.org/internal/election"
)

type voteRequest struct {
	CandidateID string `json:"candidate_id"`
}

type timeSlotRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type qrResponse struct {
	election.QRAccess
	VotingLink string `json:"voting_link,omitempty"`
}

func (a *API) qrView(qr election.QRAccess) qrResponse {
	out := qrResponse{QRAccess: qr}
	if qr.AccessToken != "" {
		out.VotingLink = a.elections.VotingLink(qr.AccessToken)
	}
	return out
}

func (a *API) ListElections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := election.Filter{ClassID: q.Get("class_id"), CreatedBy: q.Get("created_by")}
	if raw := q.Get("status"); raw != "" {
		st, err := election.ParseStatus(raw)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		f.Status = st
	}
	list, err := a.elections.ListElections(r.Context(), principal(r), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	views := make([]election.View, 0, len(list))
	for _, e := range list {
		views = append(views, a.elections.Describe(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"elections": views})
}

func (a *API) CreateElection(w http.ResponseWriter, r *http.Request) {
	var req election.CreateInput
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	e, err := a.elections.CreateElection(r.Context(), principal(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a.elections.Describe(e))
}

func (a *API) GetElection(w http.ResponseWriter, r *http.Request) {
	e, err := a.elections.GetElection(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.elections.Describe(e))
}

func (a *API) UpdateElection(w http.ResponseWriter, r *http.Request) {
	var req election.UpdateInput
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	e, err := a.elections.UpdateElection(r.Context(), principal(r), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.elections.Describe(e))
}

func (a *API) DeleteElection(w http.ResponseWriter, r *http.Request) {
	if err := a.elections.DeleteElection(r.Context(), principal(r), r.PathValue("id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) ActivateElection(w http.ResponseWriter, r *http.Request) {
	e, err := a.elections.ActivateElection(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.elections.Describe(e))
}

func (a *API) CancelElection(w http.ResponseWriter, r *http.Request) {
	e, err := a.elections.CancelElection(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.elections.Describe(e))
}

func (a *API) CompleteElection(w http.ResponseWriter, r *http.Request) {
	t, err := a.elections.CompleteElection(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- candidates ---

func (a *API) ListCandidates(w http.ResponseWriter, r *http.Request) {
	list, err := a.elections.ListCandidates(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": list})
}

func (a *API) AddCandidate(w http.ResponseWriter, r *http.Request) {
	var req election.AddCandidateInput
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	c, err := a.elections.AddCandidate(r.Context(), principal(r), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) UpdateCandidate(w http.ResponseWriter, r *http.Request) {
	var req election.UpdateCandidateInput
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	c, err := a.elections.UpdateCandidate(r.Context(), principal(r), r.PathValue("id"), r.PathValue("candidate_id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) RemoveCandidate(w http.ResponseWriter, r *http.Request) {
	if err := a.elections.RemoveCandidate(r.Context(), principal(r), r.PathValue("id"), r.PathValue("candidate_id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- voting ---

func (a *API) CastVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	v, err := a.elections.CastVote(r.Context(), principal(r), r.PathValue("id"), req.CandidateID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) VoteStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.elections.VoteStatus(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) Ballot(w http.ResponseWriter, r *http.Request) {
	b, err := a.elections.Ballot(r.Context(), r.PathValue("token"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) CastAnonymousVote(w http.ResponseWriter, r *http.Request) {
	var req election.AnonymousVoteInput
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	req.Token = r.PathValue("token")
	req.IPAddress = clientIP(r)
	req.UserAgent = r.UserAgent()
	v, err := a.elections.CastAnonymousVote(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"election_id": v.ElectionID,
		"cast_at":     v.CastAt,
	})
}

// --- QR access ---

func (a *API) GenerateQR(w http.ResponseWriter, r *http.Request) {
	qr, err := a.elections.GenerateQRToken(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.qrView(qr))
}

func (a *API) ToggleQR(w http.ResponseWriter, r *http.Request) {
	qr, err := a.elections.ToggleQRAccess(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.qrView(qr))
}

func (a *API) SetPublicAccess(w http.ResponseWriter, r *http.Request) {
	var req election.PublicAccessInput
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	pa, err := a.elections.SetPublicAccess(r.Context(), principal(r), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pa)
}

func (a *API) AddTimeSlot(w http.ResponseWriter, r *http.Request) {
	var req timeSlotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	slot, err := a.elections.AddVotingTimeSlot(r.Context(), principal(r), r.PathValue("id"), req.Start, req.End)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

func (a *API) RemoveTimeSlot(w http.ResponseWriter, r *http.Request) {
	if err := a.elections.RemoveVotingTimeSlot(r.Context(), principal(r), r.PathValue("id"), r.PathValue("slot_id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- results ---

func (a *API) CalculateResults(w http.ResponseWriter, r *http.Request) {
	t, err := a.elections.CalculateResults(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) PublishResults(w http.ResponseWriter, r *http.Request) {
	t, err := a.elections.PublishResults(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) GetResults(w http.ResponseWriter, r *http.Request) {
	t, err := a.elections.GetResults(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) SendReminders(w http.ResponseWriter, r *http.Request) {
	rep, err := a.elections.SendReminders(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rep)
}
