package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertlestak/txbatch/internal/importer"
	"github.com/robertlestak/txbatch/internal/output"
	"github.com/robertlestak/txbatch/internal/schema"
	"github.com/robertlestak/txbatch/internal/store"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
)

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type batchResponse struct {
	ID    string            `json:"id"`
	Batch *schema.BatchFile `json:"batch"`
}

type importResponse struct {
	*importer.Result
	ID     string            `json:"id,omitempty"`
	Failed map[string]string `json:"failed,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	l := log.WithFields(log.Fields{
		"func": "writeJSON",
	})
	jd, err := json.Marshal(v)
	if err != nil {
		l.Error(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jd)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Status: "error", Error: err.Error()})
}

// errorStatus maps store and import errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, importer.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, importer.ErrParse),
		errors.Is(err, importer.ErrInvalidBatch),
		errors.Is(err, schema.ErrMissingName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *app) decodeBatch(r *http.Request) (*schema.BatchFile, error) {
	var b schema.BatchFile
	body := io.LimitReader(r.Body, a.cfg.MaxImportBytes)
	if err := json.NewDecoder(body).Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: %v", importer.ErrParse, err)
	}
	return &b, nil
}

func (a *app) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	l := log.WithFields(log.Fields{
		"func": "handleCreateBatch",
	})
	b, err := a.decodeBatch(r)
	if err != nil {
		l.Error(err)
		writeError(w, errorStatus(err), err)
		return
	}
	id, b, err := a.store.Create(r.Context(), b)
	if err != nil {
		l.Error(err)
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, batchResponse{ID: id, Batch: b})
}

func (a *app) handleListBatches(w http.ResponseWriter, r *http.Request) {
	l := log.WithFields(log.Fields{
		"func": "handleListBatches",
	})
	batches, err := a.store.ListAll(r.Context())
	if err != nil {
		l.Error(err)
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (a *app) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	l := log.WithFields(log.Fields{
		"func": "handleGetBatch",
		"id":   id,
	})
	b, err := a.store.Get(r.Context(), id)
	if err != nil {
		l.Debug(err)
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{ID: id, Batch: b})
}

func (a *app) handleUpdateBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	l := log.WithFields(log.Fields{
		"func": "handleUpdateBatch",
		"id":   id,
	})
	b, err := a.decodeBatch(r)
	if err != nil {
		l.Error(err)
		writeError(w, errorStatus(err), err)
		return
	}
	if err := a.store.Update(r.Context(), id, b); err != nil {
		l.Error(err)
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{ID: id, Batch: b})
}

func (a *app) handleRemoveBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	l := log.WithFields(log.Fields{
		"func": "handleRemoveBatch",
		"id":   id,
	})
	if err := a.store.Remove(r.Context(), id); err != nil {
		l.Error(err)
		writeError(w, errorStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleDownloadBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	l := log.WithFields(log.Fields{
		"func": "handleDownloadBatch",
		"id":   id,
	})
	b, err := a.store.Get(r.Context(), id)
	if err != nil {
		l.Debug(err)
		writeError(w, errorStatus(err), err)
		return
	}
	var buf bytes.Buffer
	filename, err := a.store.Export(r.Context(), &buf, b)
	if err != nil {
		l.Error(err)
		writeError(w, errorStatus(err), err)
		return
	}
	w.Header().Set("Content-Type", output.ContentType)
	w.Header().Set("Content-Disposition", output.ContentDisposition(r.UserAgent(), filename))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// importBody returns the uploaded file: the "file" part of a multipart form,
// or the raw request body.
func (a *app) importBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.Body, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxImportBytes+1<<20)
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (a *app) handleImport(w http.ResponseWriter, r *http.Request) {
	l := log.WithFields(log.Fields{
		"func": "handleImport",
	})
	body, err := a.importBody(w, r)
	if err != nil {
		l.Error(err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer body.Close()
	res, err := a.importer.Import(r.Context(), body)
	if err != nil {
		l.Error(err)
		writeError(w, errorStatus(err), err)
		return
	}
	resp := importResponse{Result: res, Failed: res.FailedReasons()}
	if res.Batch != nil && r.URL.Query().Get("save") == "true" {
		id, _, err := a.store.Create(r.Context(), res.Batch)
		if err != nil {
			l.Error(err)
			writeError(w, errorStatus(err), err)
			return
		}
		resp.ID = id
	}
	status := http.StatusOK
	if res.Kind == importer.KindUnrecognized {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func (a *app) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/batches", a.handleCreateBatch).Methods("POST")
	r.HandleFunc("/batches", a.handleListBatches).Methods("GET")
	r.HandleFunc("/batches/{id}", a.handleGetBatch).Methods("GET")
	r.HandleFunc("/batches/{id}", a.handleUpdateBatch).Methods("PUT")
	r.HandleFunc("/batches/{id}", a.handleRemoveBatch).Methods("DELETE")
	r.HandleFunc("/batches/{id}/download", a.handleDownloadBatch).Methods("GET")
	r.HandleFunc("/import", a.handleImport).Methods("POST")
	if a.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})).Methods("GET")
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   a.cfg.CORSAllowedOrigins,
		AllowedHeaders:   a.cfg.CORSAllowedHeaders,
		AllowedMethods:   a.cfg.CORSAllowedMethods,
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		Debug:            a.cfg.CORSDebug,
	})
	return c.Handler(r)
}

func (a *app) server() error {
	l := log.WithFields(log.Fields{
		"func": "server",
	})
	l.Info("start")
	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           a.router(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	l.Infof("Listening on port %s", a.cfg.Port)
	if err := srv.ListenAndServe(); err != nil {
		return err
	}
	return nil
}
