package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/star/aplab/internal/httputil"
	"github.com/star/aplab/internal/solver"
)

// solveRequest names an image already inside the solver work dir.
type solveRequest struct {
	Path  string       `json:"path"`
	Hints solver.Hints `json:"hints"`
}

type jobsResponse struct {
	Count int          `json:"count"`
	Jobs  []solver.Job `json:"jobs"`
}

func (h *handlers) solverAvailable(w http.ResponseWriter) bool {
	if h.deps.Solver == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "plate solver disabled")
		return false
	}
	return true
}

func writeSolverError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, solver.ErrJobNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, solver.ErrJobFinished):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, solver.ErrInvalidRequest):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, solver.ErrQueueFull):
		w.Header().Set("Retry-After", "10")
		httputil.WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// solveSubmit queues a job. A multipart form uploads the image in field
// "image" with optional JSON hints in field "hints"; a JSON body names an
// existing image by path.
func (h *handlers) solveSubmit(w http.ResponseWriter, r *http.Request) {
	if !h.solverAvailable(w) {
		return
	}

	var (
		job solver.Job
		err error
	)
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
			return
		}
		defer r.MultipartForm.RemoveAll()

		var hints solver.Hints
		if s := r.FormValue("hints"); s != "" {
			if err := json.Unmarshal([]byte(s), &hints); err != nil {
				httputil.WriteError(w, http.StatusBadRequest, "invalid hints: "+err.Error())
				return
			}
		}
		f, fh, ferr := r.FormFile("image")
		if ferr != nil {
			httputil.WriteError(w, http.StatusBadRequest, "image file is required")
			return
		}
		defer f.Close()
		job, err = h.deps.Solver.SubmitUpload(fh.Filename, f, hints)
	} else {
		var req solveRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		job, err = h.deps.Solver.Submit(req.Path, req.Hints)
	}
	if err != nil {
		writeSolverError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/solve/"+job.ID)
	httputil.WriteJSON(w, http.StatusAccepted, job)
}

func (h *handlers) solveList(w http.ResponseWriter, r *http.Request) {
	if !h.solverAvailable(w) {
		return
	}
	jobs := h.deps.Solver.List()
	httputil.WriteJSON(w, http.StatusOK, jobsResponse{Count: len(jobs), Jobs: jobs})
}

func (h *handlers) solveGet(w http.ResponseWriter, r *http.Request) {
	if !h.solverAvailable(w) {
		return
	}
	job, err := h.deps.Solver.Get(r.PathValue("id"))
	if err != nil {
		writeSolverError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

func (h *handlers) solveCancel(w http.ResponseWriter, r *http.Request) {
	if !h.solverAvailable(w) {
		return
	}
	job, err := h.deps.Solver.Cancel(r.PathValue("id"))
	if err != nil {
		writeSolverError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, job)
}
