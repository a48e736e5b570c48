package school

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/middleware"
	"github.com/victorgomez09/escuela/internal/cerr"
	"github.com/victorgomez09/escuela/pkg/trace"
)

// Handler exposes the course catalogue and the contact inbox over HTTP.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type StatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.svc.Courses(r.Context())
	if err != nil {
		h.fail(w, r, "list courses", err)
		return
	}
	cerr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(courses),
		"courses": courses,
	})
}

func (h *Handler) GetCourse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	course, err := h.svc.Course(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get course", err)
		return
	}
	cerr.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "course": course})
}

func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())
	var in CourseInput
	if err := cerr.Decode(w, r, &in); err != nil {
		return
	}
	course, err := h.svc.CreateCourse(r.Context(), identity, in)
	if err != nil {
		h.fail(w, r, "create course", err)
		return
	}
	cerr.WriteJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "course": course})
}

func (h *Handler) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	var in CourseInput
	if err := cerr.Decode(w, r, &in); err != nil {
		return
	}
	course, err := h.svc.UpdateCourse(r.Context(), identity, id, in)
	if err != nil {
		h.fail(w, r, "update course", err)
		return
	}
	cerr.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "course": course})
}

func (h *Handler) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	if err := h.svc.DeleteCourse(r.Context(), identity, id); err != nil {
		h.fail(w, r, "delete course", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SubmitContact(w http.ResponseWriter, r *http.Request) {
	var in ContactInput
	if err := cerr.Decode(w, r, &in); err != nil {
		return
	}
	msg, err := h.svc.SubmitContact(r.Context(), in)
	if err != nil {
		h.fail(w, r, "submit contact", err)
		return
	}
	cerr.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Mensaje enviado correctamente",
		"id":      msg.ID,
	})
}

func (h *Handler) ListContact(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.ContactMessages(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.fail(w, r, "list contact messages", err)
		return
	}
	cerr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"count":    len(msgs),
		"messages": msgs,
	})
}

func (h *Handler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	var req StatusRequest
	if err := cerr.Decode(w, r, &req); err != nil {
		return
	}
	msg, err := h.svc.UpdateContactStatus(r.Context(), id, req.Status)
	if err != nil {
		h.fail(w, r, "update contact message", err)
		return
	}
	cerr.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "contact": msg})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if apierr.Status(err) >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("op", op),
			zap.String("request_id", trace.GetRequestID(r.Context())),
			zap.Error(err))
	}
	cerr.WriteError(w, err)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apierr.Validation("invalid id")
	}
	return id, nil
}
