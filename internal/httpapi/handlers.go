package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"toastd/internal/schedule"
	"toastd/pkg/apperr"
	logx "toastd/pkg/logx"
)

const maxBodyBytes = 64 << 10

// Scheduler is the subset of *schedule.Core the API needs.
type Scheduler interface {
	Schedule(ctx context.Context, req schedule.ScheduleRequest) (schedule.Notification, error)
	Cancel(ctx context.Context, tenantID, authorID, jobID string) error
	FireNow(ctx context.Context, req schedule.FireRequest) error
	List(ctx context.Context, tenantID string) ([]schedule.Notification, error)
	Snapshot() schedule.Snapshot
}

type fireBody struct {
	Title string `json:"title" validate:"required,max=1024"`
	Body  string `json:"body" validate:"required,max=4096"`
}

type scheduleBody struct {
	Title       string `json:"title" validate:"required,max=1024"`
	Body        string `json:"body" validate:"required,max=4096"`
	ScheduledAt string `json:"scheduled_at" validate:"required"`
	TimeZone    string `json:"time_zone" validate:"omitempty,max=64"`
}

type listResult struct {
	Toasts []schedule.Notification `json:"toasts"`
}

type cancelResult struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// decodeBody strictly decodes a JSON body into dest and validates it.
func decodeBody(r *http.Request, dest any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "invalid request body")
	}
	if err := validate.Struct(dest); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return apperr.Wrap(apperr.CodeValidation, err, "validation failed")
	}
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fe.Field()+" is invalid")
		}
	}
	return apperr.New(apperr.CodeValidation, strings.Join(parts, "; "))
}

type handlers struct {
	sched Scheduler
	log   logx.Logger
}

func (h *handlers) fire(w http.ResponseWriter, r *http.Request) {
	var body fireBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	who := identityFrom(r.Context())
	err := h.sched.FireNow(r.Context(), schedule.FireRequest{
		TenantID: chi.URLParam(r, "tenant"),
		AuthorID: who.ProfileID,
		Title:    body.Title,
		Body:     body.Body,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"sent": true})
}

func (h *handlers) schedule(w http.ResponseWriter, r *http.Request) {
	var body scheduleBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	who := identityFrom(r.Context())
	n, err := h.sched.Schedule(r.Context(), schedule.ScheduleRequest{
		TenantID:    chi.URLParam(r, "tenant"),
		AuthorID:    who.ProfileID,
		DisplayName: who.DisplayName,
		Title:       body.Title,
		Body:        body.Body,
		ScheduledAt: body.ScheduledAt,
		TimeZone:    body.TimeZone,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeSuccess(w, http.StatusCreated, n)
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	toasts, err := h.sched.List(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, listResult{Toasts: toasts})
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	who := identityFrom(r.Context())
	jobID := chi.URLParam(r, "jobID")
	if err := h.sched.Cancel(r.Context(), chi.URLParam(r, "tenant"), who.ProfileID, jobID); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, cancelResult{JobID: jobID, Cancelled: true})
}

func (h *handlers) snapshot(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, h.sched.Snapshot())
}

func (h *handlers) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, h.log, apperr.New(apperr.CodeNotFound, "no route for "+r.Method+" "+r.URL.Path))
}

func (h *handlers) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, h.log, apperr.New(apperr.CodeValidation, "method "+r.Method+" not allowed"))
}
