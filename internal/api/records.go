package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/star/aplab/internal/httputil"
	"github.com/star/aplab/internal/store"
)

type listResponse[T any] struct {
	Count   int    `json:"count"`
	Version uint64 `json:"version"`
	Items   []T    `json:"items"`
}

type renameRequest struct {
	Name string `json:"name"`
}

// registerRecords mounts list/get/add/update/rename/delete for one table
// under /api/v1/{kind}. match, when non-nil, filters the list by ?q=.
func registerRecords[T store.Record[T]](mux *http.ServeMux, kind string, t *store.Table[T], match func(T, string) bool) {
	base := "/api/v1/" + kind

	mux.HandleFunc("GET "+base, func(w http.ResponseWriter, r *http.Request) {
		items := t.List()
		if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" && match != nil {
			filtered := items[:0]
			for _, it := range items {
				if match(it, q) {
					filtered = append(filtered, it)
				}
			}
			items = filtered
		}
		if items == nil {
			items = []T{}
		}
		httputil.WriteJSON(w, http.StatusOK, listResponse[T]{Count: len(items), Version: t.Version(), Items: items})
	})

	mux.HandleFunc("GET "+base+"/{name}", func(w http.ResponseWriter, r *http.Request) {
		rec, err := t.Get(r.PathValue("name"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, rec)
	})

	mux.HandleFunc("POST "+base, func(w http.ResponseWriter, r *http.Request) {
		var rec T
		if err := httputil.DecodeJSON(w, r, &rec); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := t.Add(rec); err != nil {
			writeStoreError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, rec)
	})

	mux.HandleFunc("PUT "+base+"/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		var rec T
		if err := httputil.DecodeJSON(w, r, &rec); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if rec.Key() == "" {
			rec = rec.Renamed(name)
		}
		if err := t.Update(name, rec); err != nil {
			writeStoreError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, rec)
	})

	mux.HandleFunc("POST "+base+"/{name}/rename", func(w http.ResponseWriter, r *http.Request) {
		var req renameRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := t.Rename(r.PathValue("name"), req.Name); err != nil {
			writeStoreError(w, err)
			return
		}
		rec, err := t.Get(req.Name)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, rec)
	})

	mux.HandleFunc("DELETE "+base+"/{name}", func(w http.ResponseWriter, r *http.Request) {
		if err := t.Delete(r.PathValue("name")); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrExists):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInvalid), errors.Is(err, store.ErrInvalidName):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
