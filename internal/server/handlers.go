package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/storm-asset-linker/internal/export"
	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/couchcryptid/storm-asset-linker/internal/pipeline"
	"github.com/couchcryptid/storm-asset-linker/internal/store"
)

const defaultPageSize = 100

var validate = validator.New()

type handlers struct {
	store  Store
	runner RunStarter
	logger *slog.Logger
	runCtx context.Context
}

// linkageParams are the query parameters accepted by the linkage endpoints.
type linkageParams struct {
	RunID          string `validate:"omitempty,uuid"`
	SystemID       string `validate:"omitempty,max=128"`
	EventType      string `validate:"omitempty,max=64"`
	MasterCategory string `validate:"omitempty,max=64"`
	Limit          int    `validate:"gte=1,lte=1000"`
	Offset         int    `validate:"gte=0"`
}

type linkagePage struct {
	Total    int             `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
	Linkages []model.Linkage `json:"linkages"`
}

func parseLinkageParams(r *http.Request) (*store.LinkageFilter, error) {
	q := r.URL.Query()
	p := linkageParams{
		RunID:          q.Get("run_id"),
		SystemID:       q.Get("system_id"),
		EventType:      q.Get("event_type"),
		MasterCategory: q.Get("master_category"),
		Limit:          defaultPageSize,
	}
	var err error
	if raw := q.Get("limit"); raw != "" {
		if p.Limit, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("invalid limit %q", raw)
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if p.Offset, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("invalid offset %q", raw)
		}
	}
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("invalid %s: failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return nil, err
	}
	return &store.LinkageFilter{
		RunID:          p.RunID,
		SystemID:       p.SystemID,
		EventType:      p.EventType,
		MasterCategory: p.MasterCategory,
		Limit:          p.Limit,
		Offset:         p.Offset,
	}, nil
}

func (h *handlers) listLinkages(w http.ResponseWriter, r *http.Request) {
	f, err := parseLinkageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, total, err := h.store.ListLinkages(r.Context(), f)
	if err != nil {
		h.internalError(w, "list linkages", err)
		return
	}
	if rows == nil {
		rows = []model.Linkage{}
	}
	writeJSON(w, http.StatusOK, linkagePage{Total: total, Limit: f.Limit, Offset: f.Offset, Linkages: rows})
}

// exportLinkages writes every matching linkage as CSV. Paging parameters
// are ignored.
func (h *handlers) exportLinkages(w http.ResponseWriter, r *http.Request) {
	f, err := parseLinkageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Limit, f.Offset = 0, 0
	rows, _, err := h.store.ListLinkages(r.Context(), f)
	if err != nil {
		h.internalError(w, "export linkages", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.LinkageFile+`"`)
	if err := export.WriteLinkages(w, rows); err != nil {
		h.logger.Error("write linkage csv", "error", err)
	}
}

func (h *handlers) latestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.LatestRun(r.Context())
	if err != nil {
		h.internalError(w, "latest run", err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if ok {
		writeJSON(w, http.StatusOK, run)
	}
}

func (h *handlers) runSummary(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	summary, err := h.store.Summarize(r.Context(), run.RunID)
	if err != nil {
		h.internalError(w, "summarize run", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handlers) lookupRun(w http.ResponseWriter, r *http.Request) (*model.RunReport, bool) {
	id := chi.URLParam(r, "runID")
	if err := validate.Var(id, "uuid"); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid run id %q", id))
		return nil, false
	}
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		h.internalError(w, "get run", err)
		return nil, false
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	return run, true
}

func (h *handlers) startRun(w http.ResponseWriter, _ *http.Request) {
	err := h.runner.Start(h.runCtx, func(out *pipeline.Outcome, err error) {
		if err != nil {
			h.logger.Error("linkage run", "error", err)
			return
		}
		h.logger.Info("triggered linkage run finished", "run_id", out.Report.RunID)
	})
	if errors.Is(err, pipeline.ErrRunInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.internalError(w, "start run", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *handlers) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string][]apiError{"errors": {{Message: msg}}})
}
