package report

import (
	"sort"

	"github.com/greenboard/hpcboard/pkg/snapshot"
)

// DayTeams is one day's CO2e per team. Timestamp is the first bucket
// of the day.
type DayTeams struct {
	Timestamp int64              `json:"timestamp"`
	Teams     map[string]float64 `json:"teams"`
}

// TeamTotal sums a team's attributed footprint over the whole range.
type TeamTotal struct {
	Name    string  `json:"name"`
	CO2e    float64 `json:"co2e"`
	Cost    float64 `json:"cost"`
	CPUTime float64 `json:"cputime"`
}

// TeamDailyResult is the payload of the teams footprint query.
type TeamDailyResult struct {
	Activity []DayTeams  `json:"activity"`
	Teams    []TeamTotal `json:"teams"`
}

// TeamDailyRollup attributes every user's footprint evenly across
// their teams and groups the result per calendar day. Teams are seeded
// from the user directory so a team with no activity in the range
// still appears with zero totals. Usage by logins missing from the
// directory is left unattributed.
type TeamDailyRollup struct {
	userTeams map[string][]string
	totals    map[string]*TeamTotal
	activity  []DayTeams

	day     string
	dayTS   int64
	current map[string]float64
}

func NewTeamDailyRollup(users []snapshot.User) *TeamDailyRollup {
	r := &TeamDailyRollup{
		userTeams: make(map[string][]string, len(users)),
		totals:    make(map[string]*TeamTotal),
		activity:  []DayTeams{},
		current:   map[string]float64{},
	}
	for _, u := range users {
		r.userTeams[u.Login] = u.Teams
		for _, team := range u.Teams {
			if _, ok := r.totals[team]; !ok {
				r.totals[team] = &TeamTotal{Name: team}
			}
		}
	}
	return r
}

// Add folds one bucket. Buckets must arrive in ascending key order for
// the day grouping to be correct; the store guarantees that.
func (r *TeamDailyRollup) Add(b snapshot.Bucket) {
	if day := b.Day(); day != r.day {
		r.flush()
		r.day = day
		r.dayTS = b.TimestampMs
		r.current = map[string]float64{}
	}

	for login, m := range b.Users {
		for team, s := range Attribute(m, r.userTeams[login]) {
			total := r.totals[team]
			total.CO2e += s.CO2e
			total.Cost += s.Cost
			total.CPUTime += s.CPUTime
			r.current[team] += s.CO2e
		}
	}
}

func (r *TeamDailyRollup) flush() {
	if r.day == "" {
		return
	}
	r.activity = append(r.activity, DayTeams{Timestamp: r.dayTS, Teams: r.current})
}

// Result flushes the open day and returns the payload with team totals
// ordered by name.
func (r *TeamDailyRollup) Result() TeamDailyResult {
	r.flush()
	r.day = ""

	teams := make([]TeamTotal, 0, len(r.totals))
	for _, t := range r.totals {
		teams = append(teams, *t)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].Name < teams[j].Name })

	return TeamDailyResult{Activity: r.activity, Teams: teams}
}

// MemberCost is one team member's attributed footprint for a day.
type MemberCost struct {
	CO2e float64 `json:"co2e"`
	Cost float64 `json:"cost"`
}

// DayMembers is one day's footprint per team member.
type DayMembers struct {
	Timestamp int64                 `json:"timestamp"`
	Users     map[string]MemberCost `json:"users"`
}

// TeamActivityResult is the payload of the team activity query.
type TeamActivityResult struct {
	Activity  []UsagePoint `json:"activity"`
	Footprint []DayMembers `json:"footprint"`
}

// TeamActivityRollup builds a single team's usage series and daily
// per-member footprint. Each member's contribution is divided by their
// own total team count, so a member of three teams contributes a third
// of their usage here. Non-members are ignored.
type TeamActivityRollup struct {
	members    map[string]string
	teamCounts map[string]int

	activity  []UsagePoint
	footprint []DayMembers

	day   string
	dayTS int64
	users map[string]MemberCost
}

func NewTeamActivityRollup(team string, users []snapshot.User) *TeamActivityRollup {
	r := &TeamActivityRollup{
		members:    make(map[string]string),
		teamCounts: make(map[string]int),
		activity:   []UsagePoint{},
		footprint:  []DayMembers{},
		users:      map[string]MemberCost{},
	}
	for _, u := range users {
		for _, t := range u.Teams {
			if t == team {
				r.members[u.Login] = u.Name
				r.teamCounts[u.Login] = len(u.Teams)
				break
			}
		}
	}
	return r
}

// Members maps member logins to display names, for response metadata.
func (r *TeamActivityRollup) Members() map[string]string {
	return r.members
}

// Add folds one bucket. Buckets must arrive in ascending key order.
func (r *TeamActivityRollup) Add(b snapshot.Bucket) {
	if day := b.Day(); day != r.day {
		r.flushDay()
		r.day = day
		r.dayTS = b.TimestampMs
		r.users = map[string]MemberCost{}
	}

	point := UsagePoint{Timestamp: b.TimestampMs}
	for login, m := range b.Users {
		n, ok := r.teamCounts[login]
		if !ok {
			continue
		}
		s := share(m, n)
		point.Cores += s.Cores
		point.Memory += s.Memory

		mc := r.users[login]
		mc.CO2e += s.CO2e
		mc.Cost += s.Cost
		r.users[login] = mc
	}
	r.activity = append(r.activity, point)
}

func (r *TeamActivityRollup) flushDay() {
	if r.day == "" {
		return
	}
	r.footprint = append(r.footprint, DayMembers{Timestamp: r.dayTS, Users: r.users})
}

// Result flushes the open day and returns the payload.
func (r *TeamActivityRollup) Result() TeamActivityResult {
	r.flushDay()
	r.day = ""
	return TeamActivityResult{Activity: r.activity, Footprint: r.footprint}
}
