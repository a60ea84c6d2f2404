package report

import "github.com/greenboard/hpcboard/pkg/snapshot"

// share returns m with every field divided by n. Gauges are split the
// same way as additive fields: the value is being apportioned across
// teams, not averaged over time.
func share(m snapshot.UserMetrics, n int) snapshot.UserMetrics {
	f := 1 / float64(n)
	out := snapshot.UserMetrics{
		Jobs:      m.Jobs * f,
		Submitted: m.Submitted * f,
		Done:      m.Done * f,
		Failed:    m.Failed * f,
		Cores:     m.Cores * f,
		Memory:    m.Memory * f,
		CO2e:      m.CO2e * f,
		Cost:      m.Cost * f,
		CPUTime:   m.CPUTime * f,
	}
	for i, v := range m.MemEff {
		out.MemEff[i] = v * f
	}
	return out
}

// Attribute splits a user's bucket metrics evenly across their team
// memberships. A user with no teams yields an empty map: their usage
// is invisible to team-scoped rollups while still counting toward
// user-scoped and cluster-scoped ones.
func Attribute(m snapshot.UserMetrics, teams []string) map[string]snapshot.UserMetrics {
	out := make(map[string]snapshot.UserMetrics, len(teams))
	if len(teams) == 0 {
		return out
	}
	s := share(m, len(teams))
	for _, team := range teams {
		out[team] = s
	}
	return out
}
