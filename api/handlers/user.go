package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/greenboard/hpcboard/api/metrics"
	"github.com/greenboard/hpcboard/pkg/report"
	"github.com/greenboard/hpcboard/pkg/snapshot"
)

// monthFormat is the storage key of monthly reports; monthDisplay is
// its human-readable form.
const (
	monthFormat  = "2006-01"
	monthDisplay = "January 2006"
)

type userMeta struct {
	Login    string      `json:"login"`
	Name     string      `json:"name"`
	Teams    []string    `json:"teams"`
	Position string      `json:"position"`
	PhotoURL string      `json:"photoUrl"`
	Reports  [][2]string `json:"reports"`
}

// lookupUser resolves the uuid path parameter, writing the 401
// response itself when the identifier is unknown. The message stays
// vague on purpose.
func (a *API) lookupUser(w http.ResponseWriter, r *http.Request) (snapshot.User, bool) {
	start := time.Now()
	u, err := a.store.UserByUUID(r.Context(), chi.URLParam(r, "uuid"))
	metrics.RecordStoreQuery(time.Since(start), err)
	if errors.Is(err, snapshot.ErrUnknownIdentity) {
		a.writeError(w, http.StatusUnauthorized, "Unauthorized", "Invalid UUID")
		return snapshot.User{}, false
	}
	if err != nil {
		a.writeStoreError(w, err)
		return snapshot.User{}, false
	}
	return u, true
}

// SignIn returns the caller's profile and the months for which a
// precomputed report exists.
func (a *API) SignIn(w http.ResponseWriter, r *http.Request) {
	u, ok := a.lookupUser(w, r)
	if !ok {
		return
	}

	start := time.Now()
	months, err := a.store.ReportMonths(r.Context(), u.Login)
	metrics.RecordStoreQuery(time.Since(start), err)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	reports := make([][2]string, 0, len(months))
	for _, m := range months {
		t, err := time.Parse(monthFormat, m)
		if err != nil {
			a.log.Error("handlers: malformed report month", "login", u.Login, "month", m)
			continue
		}
		reports = append(reports, [2]string{m, t.Format(monthDisplay)})
	}

	a.writeMeta(w, userMeta{
		Login:    u.Login,
		Name:     u.Name,
		Teams:    u.Teams,
		Position: u.Position,
		PhotoURL: u.PhotoURL,
		Reports:  reports,
	})
}

type signUpRequest struct {
	Email string `json:"email"`
}

type signUpMeta struct {
	Email   string `json:"email"`
	Sponsor bool   `json:"sponsor"`
}

// SignUp mails the access UUID for the account matching the given
// e-mail address. Sponsored accounts have their mail redirected to the
// sponsor at the same domain.
func (a *API) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}
	login, domain, found := strings.Cut(req.Email, "@")
	if !found || login == "" || domain == "" {
		a.writeError(w, http.StatusBadRequest, "Bad Request",
			"'"+req.Email+"' is not a valid e-mail address")
		return
	}

	start := time.Now()
	u, err := a.store.UserByLogin(r.Context(), login)
	metrics.RecordStoreQuery(time.Since(start), err)
	if errors.Is(err, snapshot.ErrUnknownUser) {
		a.writeError(w, http.StatusBadRequest, "Bad Request",
			"No user found with e-mail address "+req.Email)
		return
	}
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	recipient := u.Name
	if recipient == "" {
		recipient = u.Login
	}
	toEmail := req.Email

	if u.Sponsor != "" {
		recipient = u.Sponsor
		start := time.Now()
		sponsor, err := a.store.UserByLogin(r.Context(), u.Sponsor)
		metrics.RecordStoreQuery(time.Since(start), err)
		if err == nil && sponsor.Name != "" {
			recipient = sponsor.Name
		} else if err != nil && !errors.Is(err, snapshot.ErrUnknownUser) {
			a.writeStoreError(w, err)
			return
		}
		toEmail = u.Sponsor + "@" + domain
	}

	if a.mailer == nil {
		a.log.Warn("handlers: signup requested but mail is not configured", "login", u.Login)
		a.writeError(w, http.StatusInternalServerError, "Internal Server Error",
			"Could not send email to "+req.Email)
		return
	}
	if err := a.mailer.SendUUIDReminder(u.Login, recipient, toEmail, u.UUID); err != nil {
		a.log.Error("handlers: failed to send signup mail", "login", u.Login, "error", err)
		a.writeError(w, http.StatusInternalServerError, "Internal Server Error",
			"Could not send email to "+req.Email)
		return
	}

	if a.slack != nil {
		a.slack.NotifySignup(r.Context(), u.Login, recipient)
	}

	a.writeMeta(w, signUpMeta{Email: toEmail, Sponsor: u.Sponsor != ""})
}

// GetUserFootprint serves the caller's own activity series and range
// totals.
func (a *API) GetUserFootprint(w http.ResponseWriter, r *http.Request) {
	u, ok := a.lookupUser(w, r)
	if !ok {
		return
	}
	iv, days, ok := a.resolveInterval(w, r)
	if !ok {
		return
	}
	iv.Start = report.FloorHour(iv.Start)
	iv.Stop = report.FloorHour(iv.Stop)

	rollup := report.NewUserFootprintRollup(u.Login)
	if err := a.collect(r, iv, rollup.Add); err != nil {
		a.writeStoreError(w, err)
		return
	}

	a.writeData(w, rollup.Result(), newRangeMeta(days, iv))
}

type reportTeam struct {
	Name string  `json:"name"`
	CO2e float64 `json:"co2e"`
	Cost float64 `json:"cost"`
}

type monthMeta struct {
	Month string `json:"month"`
}

// GetUserReport serves a precomputed monthly report, extended with the
// caller's share of each of their teams' footprint for that month.
func (a *API) GetUserReport(w http.ResponseWriter, r *http.Request) {
	u, ok := a.lookupUser(w, r)
	if !ok {
		return
	}
	month := chi.URLParam(r, "month")
	displayMonth, err := time.Parse(monthFormat, month)
	if err != nil {
		a.writeError(w, http.StatusNotFound, "Not found",
			"There is no report for this user and month")
		return
	}

	start := time.Now()
	rep, err := a.store.MonthlyReport(r.Context(), u.Login, month)
	metrics.RecordStoreQuery(time.Since(start), err)
	if errors.Is(err, snapshot.ErrNoReport) {
		a.writeError(w, http.StatusNotFound, "Not found",
			"There is no report for this user and month")
		return
	}
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	teams, err := a.aggregateReportTeams(r, u, rep, month)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	data := rep.Data
	data["teams"] = teams

	a.writeData(w, data, monthMeta{Month: displayMonth.Format(monthDisplay)})
}

// aggregateReportTeams sums the monthly footprint of the caller's
// teams: the caller's own share plus every other member's report
// divided by that member's team count.
func (a *API) aggregateReportTeams(r *http.Request, u snapshot.User, rep snapshot.MonthlyReport, month string) ([]reportTeam, error) {
	totals := make(map[string]*reportTeam, len(u.Teams))
	n := float64(len(u.Teams))
	for _, team := range u.Teams {
		totals[team] = &reportTeam{
			Name: team,
			CO2e: rep.CO2e / n,
			Cost: rep.Cost / n,
		}
	}

	start := time.Now()
	users, err := a.store.Users(r.Context())
	metrics.RecordStoreQuery(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	type membership struct {
		teams   []string
		divisor float64
	}
	members := make(map[string]membership)
	var logins []string
	for _, other := range users {
		if other.Login == u.Login {
			continue
		}
		for _, team := range other.Teams {
			if _, shared := totals[team]; !shared {
				continue
			}
			m, seen := members[other.Login]
			if !seen {
				m.divisor = float64(len(other.Teams))
				logins = append(logins, other.Login)
			}
			m.teams = append(m.teams, team)
			members[other.Login] = m
		}
	}

	start = time.Now()
	reports, err := a.store.MonthlyReports(r.Context(), logins, month)
	metrics.RecordStoreQuery(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	for _, other := range reports {
		m := members[other.Login]
		for _, team := range m.teams {
			totals[team].CO2e += other.CO2e / m.divisor
			totals[team].Cost += other.Cost / m.divisor
		}
	}

	teams := make([]reportTeam, 0, len(totals))
	for _, t := range totals {
		teams = append(teams, *t)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].Name < teams[j].Name })
	return teams, nil
}

type teamActivityMeta struct {
	rangeMeta
	Users map[string]string `json:"users"`
}

// GetTeamActivity serves one team's usage series and daily per-member
// footprint. The team segment may contain slashes.
func (a *API) GetTeamActivity(w http.ResponseWriter, r *http.Request) {
	u, ok := a.lookupUser(w, r)
	if !ok {
		return
	}

	team := strings.TrimSuffix(chi.URLParam(r, "*"), "/")
	authorized := false
	for _, t := range u.Teams {
		if t == team {
			authorized = true
			break
		}
	}
	if !authorized {
		a.writeError(w, http.StatusUnauthorized, "Unauthorized",
			"You are not authorized to access this team's activity and footprint")
		return
	}

	iv, days, ok := a.resolveInterval(w, r)
	if !ok {
		return
	}
	iv.Start = report.FloorHour(iv.Start)
	iv.Stop = report.FloorHour(iv.Stop)

	start := time.Now()
	users, err := a.store.Users(r.Context())
	metrics.RecordStoreQuery(time.Since(start), err)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	rollup := report.NewTeamActivityRollup(team, users)
	if err := a.collect(r, iv, rollup.Add); err != nil {
		a.writeStoreError(w, err)
		return
	}

	a.writeData(w, rollup.Result(), teamActivityMeta{
		rangeMeta: newRangeMeta(days, iv),
		Users:     rollup.Members(),
	})
}
