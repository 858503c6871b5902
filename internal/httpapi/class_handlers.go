package httpapi

import (
	"net/http"

	"classvote.org/internal/classes"
)

type classView struct {
	classes.Class
	FullName string `json:"full_name"`
}

func viewClass(c classes.Class) classView {
	return classView{Class: c, FullName: c.FullName()}
}

type assignTeacherRequest struct {
	TeacherID string `json:"teacher_id"`
}

func (a *API) ListClasses(w http.ResponseWriter, r *http.Request) {
	list, err := a.classes.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]classView, 0, len(list))
	for _, c := range list {
		out = append(out, viewClass(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"classes": out})
}

func (a *API) CreateClass(w http.ResponseWriter, r *http.Request) {
	var req classes.CreateInput
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	c, err := a.classes.Create(r.Context(), principal(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewClass(c))
}

func (a *API) GetClass(w http.ResponseWriter, r *http.Request) {
	c, err := a.classes.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewClass(c))
}

func (a *API) UpdateClass(w http.ResponseWriter, r *http.Request) {
	var req classes.UpdateInput
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	c, err := a.classes.Update(r.Context(), principal(r), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewClass(c))
}

func (a *API) AssignTeacher(w http.ResponseWriter, r *http.Request) {
	var req assignTeacherRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	c, err := a.classes.AssignTeacher(r.Context(), principal(r), r.PathValue("id"), req.TeacherID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewClass(c))
}

func (a *API) DeleteClass(w http.ResponseWriter, r *http.Request) {
	if err := a.classes.Delete(r.Context(), principal(r), r.PathValue("id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
