package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/greenboard/hpcboard/pkg/report"
	"github.com/greenboard/hpcboard/pkg/snapshot"
)

// rangeMeta is the meta block of every range-scoped report response.
type rangeMeta struct {
	Days  int    `json:"days"`
	Start string `json:"start"`
	Stop  string `json:"stop"`
}

func newRangeMeta(days int, iv report.Interval) rangeMeta {
	return rangeMeta{
		Days:  days,
		Start: iv.Start.Format(snapshot.KeyFormat),
		Stop:  iv.Stop.Format(snapshot.KeyFormat),
	}
}

type envelope struct {
	Data any `json:"data,omitempty"`
	Meta any `json:"meta,omitempty"`
}

// errorBody mirrors the error wire shape the frontend expects: a
// detail object carrying status, title and a human-readable message.
type errorBody struct {
	Detail errorDetail `json:"detail"`
}

type errorDetail struct {
	Status string `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("handlers: failed to encode response", "error", err)
	}
}

// writeData writes a {"data","meta"} envelope.
func (a *API) writeData(w http.ResponseWriter, data, meta any) {
	a.writeJSON(w, http.StatusOK, envelope{Data: data, Meta: meta})
}

// writeMeta writes a meta-only envelope.
func (a *API) writeMeta(w http.ResponseWriter, meta any) {
	a.writeJSON(w, http.StatusOK, envelope{Meta: meta})
}

func (a *API) writeError(w http.ResponseWriter, status int, title, detail string) {
	a.writeJSON(w, status, errorBody{Detail: errorDetail{
		Status: strconv.Itoa(status),
		Title:  title,
		Detail: detail,
	}})
}

// writeStoreError logs the internal failure and writes a sanitized
// 500 response.
func (a *API) writeStoreError(w http.ResponseWriter, err error) {
	a.log.Error("handlers: store query failed", "error", err)
	a.writeError(w, http.StatusInternalServerError, "Internal Server Error",
		"Could not read the reporting database")
}
