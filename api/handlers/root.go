package handlers

import (
	"net/http"
	"time"

	"github.com/greenboard/hpcboard/api/metrics"
)

// updatedFormat is the human-readable form of the last update time
// shown on the landing page.
const updatedFormat = "Monday, 02 Jan 2006, 15:04"

type rootMeta struct {
	Email   string `json:"email"`
	Slack   string `json:"slack"`
	Updated string `json:"updated"`
}

// Root reports the admin contact surface and the time of the latest
// snapshot.
func (a *API) Root(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	updated, err := a.store.LastUpdate(r.Context())
	metrics.RecordStoreQuery(time.Since(start), err)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	a.writeMeta(w, rootMeta{
		Email:   a.cfg.AdminEmail(),
		Slack:   a.cfg.AdminSlack,
		Updated: updated.Format(updatedFormat),
	})
}
