package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/greenboard/hpcboard/api/config"
	"github.com/greenboard/hpcboard/api/handlers"
	"github.com/greenboard/hpcboard/pkg/snapshot"
)

type sentReminder struct {
	login     string
	recipient string
	toEmail   string
	uuid      string
}

type fakeMailer struct {
	sent []sentReminder
	err  error
}

func (m *fakeMailer) SendUUIDReminder(login, recipient, toEmail, uuid string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentReminder{login, recipient, toEmail, uuid})
	return nil
}

type testAPI struct {
	router chi.Router
	api    *handlers.API
	store  *snapshot.Store
	mailer *fakeMailer
	clock  *clockwork.FakeClock
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := snapshot.NewStore(snapshot.StoreConfig{
		Logger: log,
		Path:   filepath.Join(t.TempDir(), "report.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, snapshot.RunMigrations(context.Background(), log, store.DB()))

	mailer := &fakeMailer{}
	// An hour past the fixture last update of 2026-08-31 12:00.
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 31, 13, 0, 0, 0, time.UTC))
	api, err := handlers.New(handlers.APIConfig{
		Logger: log,
		Config: config.Config{
			Database:         "unused",
			AdminEmails:      []string{"admin@example.org"},
			AdminSlack:       "#footprint",
			Days:             14,
			EventsEnable:     true,
			EventWindow:      8,
			EventMinGrowth:   1.5,
			EventMinInterval: time.Hour,
			StaleAfter:       2 * time.Hour,
		},
		Store:  store,
		Clock:  clock,
		Mailer: mailer,
	})
	require.NoError(t, err)

	return &testAPI{router: api.Routes(), api: api, store: store, mailer: mailer, clock: clock}
}

func (ta *testAPI) exec(t *testing.T, method, target string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded),
		"body: %s", rec.Body.String())
	return rec.Code, decoded
}

func (ta *testAPI) seedMetadata(t *testing.T, lastUpdate string) {
	t.Helper()
	_, err := ta.store.DB().Exec(
		"INSERT INTO metadata (key, value) VALUES ('jobs', ?)", lastUpdate)
	require.NoError(t, err)
}

func (ta *testAPI) seedUsage(t *testing.T, key, usersData, jobsData string) {
	t.Helper()
	_, err := ta.store.DB().Exec(
		"INSERT INTO usage (time, users_data, jobs_data) VALUES (?, ?, ?)",
		key, usersData, jobsData)
	require.NoError(t, err)
}

func (ta *testAPI) seedUser(t *testing.T, login, name, teams, uuid, sponsor string) {
	t.Helper()
	var sponsorVal any
	if sponsor != "" {
		sponsorVal = sponsor
	}
	var nameVal any
	if name != "" {
		nameVal = name
	}
	_, err := ta.store.DB().Exec(
		"INSERT INTO user (login, name, teams, position, photo_url, uuid, sponsor) VALUES (?, ?, ?, 'Engineer', NULL, ?, ?)",
		login, nameVal, teams, uuid, sponsorVal)
	require.NoError(t, err)
}

func (ta *testAPI) seedReport(t *testing.T, login, month, data string) {
	t.Helper()
	_, err := ta.store.DB().Exec(
		"INSERT INTO report (login, month, data) VALUES (?, ?, ?)",
		login, month, data)
	require.NoError(t, err)
}

// seedFixtures loads a small two-bucket world: alice in two teams,
// bob in one, dave sponsored by alice.
func (ta *testAPI) seedFixtures(t *testing.T) {
	t.Helper()
	ta.seedMetadata(t, "2026-08-31 12:00:00")
	ta.seedUser(t, "alice", "Alice A", `["alpha", "beta"]`, "uuid-alice", "")
	ta.seedUser(t, "bob", "Bob B", `["alpha"]`, "uuid-bob", "")
	ta.seedUser(t, "dave", "", `[]`, "uuid-dave", "alice")

	ta.seedUsage(t, "202608311100",
		`{"alice": {"jobs": 2, "cores": 10, "memory": 1, "co2e": 1.0, "cost": 10, "cputime": 100, "submitted": 3, "done": 2, "failed": 1, "memeff": [1, 0, 0, 0, 0]},
		  "bob": {"jobs": 1, "cores": 20, "memory": 2, "co2e": 0.4, "cost": 4, "cputime": 40, "submitted": 1, "done": 0, "failed": 0, "memeff": [0, 0, 0, 0, 0]}}`,
		`{"cpueff": [5], "memeff": {"dist": [7], "co2e": 1.5, "cost": 20}, "runtimes": [4], "done": 10, "failed": {"count": 3, "co2e": 0.5, "cost": 6, "memlim": 1, "runtime": 2}}`)
	ta.seedUsage(t, "202608311115",
		`{"alice": {"jobs": 2, "cores": 12, "memory": 1.5, "co2e": 0.2, "cost": 2, "cputime": 20, "submitted": 0, "done": 4, "failed": 0, "memeff": [0, 1, 0, 0, 0]}}`,
		`{"cpueff": [2], "memeff": {"dist": [3], "co2e": 0.5, "cost": 0}, "runtimes": [6], "done": 5, "failed": {"count": 2, "co2e": 0.25, "cost": 3, "memlim": 0, "runtime": 0}}`)
}

func TestRoot(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)

	code, body := ta.exec(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, code)

	meta := body["meta"].(map[string]any)
	require.Equal(t, "admin@example.org", meta["email"])
	require.Equal(t, "#footprint", meta["slack"])
	require.Equal(t, "Monday, 31 Aug 2026, 12:00", meta["updated"])
}

func TestGetActivity(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)

	code, body := ta.exec(t, http.MethodGet, "/activity/", nil)
	require.Equal(t, http.StatusOK, code)

	meta := body["meta"].(map[string]any)
	require.Equal(t, 14.0, meta["days"])
	require.Equal(t, "202608171200", meta["start"])
	require.Equal(t, "202608311200", meta["stop"])

	data := body["data"].(map[string]any)
	activity := data["activity"].([]any)
	require.Len(t, activity, 2)

	first := activity[0].(map[string]any)
	require.Equal(t, 30.0, first["cores"])
	require.Equal(t, 3.0, first["memory"])
	jobs := first["jobs"].(map[string]any)
	require.Equal(t, 4.0, jobs["submitted"])
	require.Equal(t, 2.0, jobs["completed"])
	require.Equal(t, 1.0, jobs["failed"])

	require.InDelta(t, 1.6, data["co2e"].(float64), 1e-9)
	require.InDelta(t, 16.0, data["cost"].(float64), 1e-9)
	require.InDelta(t, 160.0, data["cputime"].(float64), 1e-9)

	events := data["events"].(map[string]any)
	require.Empty(t, events["cores"])
	require.Empty(t, events["memory"])
}

func TestGetActivity_ExplicitRange(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)

	code, body := ta.exec(t, http.MethodGet,
		"/activity/?start=202608311110&stop=202608311230", nil)
	require.Equal(t, http.StatusOK, code)

	// Markers floor to the hour, so both buckets fall in range.
	meta := body["meta"].(map[string]any)
	require.Equal(t, "202608311100", meta["start"])
	require.Equal(t, "202608311200", meta["stop"])

	data := body["data"].(map[string]any)
	require.Len(t, data["activity"].([]any), 2)
}

func TestGetActivity_MalformedStart(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)

	code, body := ta.exec(t, http.MethodGet,
		"/activity/?start=2026-08-31&stop=202608311130", nil)
	require.Equal(t, http.StatusBadRequest, code)

	detail := body["detail"].(map[string]any)
	require.Equal(t, "400", detail["status"])
	require.Equal(t, "Bad Request", detail["title"])
	require.Equal(t,
		"'start' query parameter has an invalid time format (expected: YYYYMMDDHHMM)",
		detail["detail"])
}

func TestGetTeamsFootprint(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)

	code, body := ta.exec(t, http.MethodGet, "/footprint/teams/", nil)
	require.Equal(t, http.StatusOK, code)

	data := body["data"].(map[string]any)
	teams := data["teams"].([]any)
	require.Len(t, teams, 2)

	alpha := teams[0].(map[string]any)
	require.Equal(t, "alpha", alpha["name"])
	// Half of alice plus all of bob.
	require.InDelta(t, 1.0, alpha["co2e"].(float64), 1e-9)
	require.InDelta(t, 10.0, alpha["cost"].(float64), 1e-9)

	beta := teams[1].(map[string]any)
	require.Equal(t, "beta", beta["name"])
	require.InDelta(t, 0.6, beta["co2e"].(float64), 1e-9)

	activity := data["activity"].([]any)
	require.Len(t, activity, 1)
	day := activity[0].(map[string]any)
	dayTeams := day["teams"].(map[string]any)
	require.InDelta(t, 1.0, dayTeams["alpha"].(float64), 1e-9)
}

func TestDistributions(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)

	code, body := ta.exec(t, http.MethodGet, "/distribution/cpu/", nil)
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	dist := data["dist"].([]any)
	require.Len(t, dist, 100)
	require.Equal(t, 7.0, dist[0])

	code, body = ta.exec(t, http.MethodGet, "/distribution/memory/", nil)
	require.Equal(t, http.StatusOK, code)
	data = body["data"].(map[string]any)
	require.Equal(t, 10.0, data["dist"].([]any)[0])
	wasted := data["wasted"].(map[string]any)
	require.InDelta(t, 2.0, wasted["co2e"].(float64), 1e-9)
	require.InDelta(t, 20.0, wasted["cost"].(float64), 1e-9)

	code, body = ta.exec(t, http.MethodGet, "/distribution/runtime/", nil)
	require.Equal(t, http.StatusOK, code)
	data = body["data"].(map[string]any)
	runtimes := data["dist"].([]any)
	require.Len(t, runtimes, 11)
	first := runtimes[0].([]any)
	require.Equal(t, "&le; 1 min", first[0])
	require.Equal(t, 10.0, first[1])

	code, body = ta.exec(t, http.MethodGet, "/statuses/", nil)
	require.Equal(t, http.StatusOK, code)
	data = body["data"].(map[string]any)
	jobs := data["jobs"].(map[string]any)
	require.Equal(t, 15.0, jobs["done"])
	require.Equal(t, 5.0, jobs["exit"])
	wasted = data["wasted"].(map[string]any)
	require.InDelta(t, 0.75, wasted["co2e"].(float64), 1e-9)
}

func TestSignIn(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)
	ta.seedReport(t, "alice", "2026-07", `{"co2e": 1.5, "cost": 20}`)

	code, body := ta.exec(t, http.MethodGet, "/user/uuid-alice/", nil)
	require.Equal(t, http.StatusOK, code)

	meta := body["meta"].(map[string]any)
	require.Equal(t, "alice", meta["login"])
	require.Equal(t, "Alice A", meta["name"])
	require.Equal(t, []any{"alpha", "beta"}, meta["teams"])
	require.Equal(t, "Engineer", meta["position"])

	reports := meta["reports"].([]any)
	require.Len(t, reports, 1)
	require.Equal(t, []any{"2026-07", "July 2026"}, reports[0])
}

func TestSignIn_InvalidUUID(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)

	code, body := ta.exec(t, http.MethodGet, "/user/uuid-nobody/", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	detail := body["detail"].(map[string]any)
	require.Equal(t, "Invalid UUID", detail["detail"])
}

func TestSignUp(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)

	code, body := ta.exec(t, http.MethodPost, "/user/",
		map[string]string{"email": "alice@example.org"})
	require.Equal(t, http.StatusOK, code)

	meta := body["meta"].(map[string]any)
	require.Equal(t, "alice@example.org", meta["email"])
	require.Equal(t, false, meta["sponsor"])

	require.Len(t, ta.mailer.sent, 1)
	sent := ta.mailer.sent[0]
	require.Equal(t, "alice", sent.login)
	require.Equal(t, "Alice A", sent.recipient)
	require.Equal(t, "uuid-alice", sent.uuid)
}

func TestSignUp_SponsorRedirect(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)

	code, body := ta.exec(t, http.MethodPost, "/user/",
		map[string]string{"email": "dave@example.org"})
	require.Equal(t, http.StatusOK, code)

	meta := body["meta"].(map[string]any)
	require.Equal(t, "alice@example.org", meta["email"])
	require.Equal(t, true, meta["sponsor"])

	require.Len(t, ta.mailer.sent, 1)
	sent := ta.mailer.sent[0]
	require.Equal(t, "dave", sent.login)
	require.Equal(t, "Alice A", sent.recipient)
	require.Equal(t, "alice@example.org", sent.toEmail)
	require.Equal(t, "uuid-dave", sent.uuid)
}

func TestSignUp_UnknownEmail(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)

	code, body := ta.exec(t, http.MethodPost, "/user/",
		map[string]string{"email": "nobody@example.org"})
	require.Equal(t, http.StatusBadRequest, code)

	detail := body["detail"].(map[string]any)
	require.Equal(t, "No user found with e-mail address nobody@example.org", detail["detail"])
}

func TestSignUp_MailFailure(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)
	ta.mailer.err = fmt.Errorf("connection refused")

	code, body := ta.exec(t, http.MethodPost, "/user/",
		map[string]string{"email": "alice@example.org"})
	require.Equal(t, http.StatusInternalServerError, code)

	detail := body["detail"].(map[string]any)
	require.Equal(t, "Could not send email to alice@example.org", detail["detail"])
}

func TestGetUserFootprint(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)

	code, body := ta.exec(t, http.MethodGet, "/user/uuid-bob/footprint/", nil)
	require.Equal(t, http.StatusOK, code)

	data := body["data"].(map[string]any)
	require.Equal(t, 1.0, data["jobs"])
	require.Equal(t, 0.0, data["done"])
	require.InDelta(t, 0.4, data["co2e"].(float64), 1e-9)

	activity := data["activity"].([]any)
	require.Len(t, activity, 2)
	// bob ran nothing in the second bucket.
	require.Equal(t, 20.0, activity[0].(map[string]any)["cores"])
	require.Equal(t, 0.0, activity[1].(map[string]any)["cores"])
}

func TestGetUserReport(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)
	ta.seedReport(t, "alice", "2026-07", `{"co2e": 2.0, "cost": 20, "details": {"jobs": 12}}`)
	ta.seedReport(t, "bob", "2026-07", `{"co2e": 1.0, "cost": 10}`)

	code, body := ta.exec(t, http.MethodGet, "/user/uuid-alice/report/2026-07/", nil)
	require.Equal(t, http.StatusOK, code)

	meta := body["meta"].(map[string]any)
	require.Equal(t, "July 2026", meta["month"])

	data := body["data"].(map[string]any)
	require.InDelta(t, 2.0, data["co2e"].(float64), 1e-9)
	require.Contains(t, data, "details")

	teams := data["teams"].([]any)
	require.Len(t, teams, 2)

	// alpha: alice's half plus all of bob's report.
	alpha := teams[0].(map[string]any)
	require.Equal(t, "alpha", alpha["name"])
	require.InDelta(t, 2.0, alpha["co2e"].(float64), 1e-9)
	require.InDelta(t, 20.0, alpha["cost"].(float64), 1e-9)

	beta := teams[1].(map[string]any)
	require.Equal(t, "beta", beta["name"])
	require.InDelta(t, 1.0, beta["co2e"].(float64), 1e-9)
}

func TestGetUserReport_NotFound(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)

	code, body := ta.exec(t, http.MethodGet, "/user/uuid-alice/report/2026-01/", nil)
	require.Equal(t, http.StatusNotFound, code)

	detail := body["detail"].(map[string]any)
	require.Equal(t, "There is no report for this user and month", detail["detail"])
}

func TestGetTeamActivity(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)

	code, body := ta.exec(t, http.MethodGet, "/user/uuid-alice/team/alpha/", nil)
	require.Equal(t, http.StatusOK, code)

	meta := body["meta"].(map[string]any)
	users := meta["users"].(map[string]any)
	require.Equal(t, "Alice A", users["alice"])
	require.Equal(t, "Bob B", users["bob"])

	data := body["data"].(map[string]any)
	activity := data["activity"].([]any)
	require.Len(t, activity, 2)
	// Half of alice's 10 cores plus all of bob's 20.
	require.InDelta(t, 25.0, activity[0].(map[string]any)["cores"].(float64), 1e-9)
	require.InDelta(t, 6.0, activity[1].(map[string]any)["cores"].(float64), 1e-9)

	footprint := data["footprint"].([]any)
	require.Len(t, footprint, 1)
	day := footprint[0].(map[string]any)
	dayUsers := day["users"].(map[string]any)
	alice := dayUsers["alice"].(map[string]any)
	require.InDelta(t, 0.6, alice["co2e"].(float64), 1e-9)
}

func TestGetTeamActivity_Unauthorized(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedFixtures(t)

	code, body := ta.exec(t, http.MethodGet, "/user/uuid-bob/team/beta/", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	detail := body["detail"].(map[string]any)
	require.Equal(t,
		"You are not authorized to access this team's activity and footprint",
		detail["detail"])
}

func TestGetTeamActivity_SlashInTeamName(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedMetadata(t, "2026-08-31 12:00:00")
	ta.seedUser(t, "erin", "Erin E", `["org/research"]`, "uuid-erin", "")

	code, body := ta.exec(t, http.MethodGet, "/user/uuid-erin/team/org/research/", nil)
	require.Equal(t, http.StatusOK, code)

	meta := body["meta"].(map[string]any)
	users := meta["users"].(map[string]any)
	require.Equal(t, "Erin E", users["erin"])
}
