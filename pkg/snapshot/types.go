// Package snapshot reads precomputed cluster usage snapshots from the
// reporting database. Each snapshot ("bucket") covers one 15-minute
// interval and carries a per-user metrics map plus cluster-wide job
// statistics, stored as JSON blobs keyed by a minute-precision time
// string. Blobs are decoded into typed values here, at the boundary;
// nothing downstream touches raw JSON.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// KeyFormat is the time layout of bucket keys and of the start/stop
// query markers ("YYYYMMDDHHMM"). Keys sort lexicographically in time
// order, which the day-grouping rollups rely on.
const KeyFormat = "200601021504"

// UserMetrics holds one user's counters within a single bucket.
// Cores and Memory are point-in-time gauges; every other field is
// additive across buckets. All fields are float64 so that team
// attribution can split them fractionally without a separate type.
type UserMetrics struct {
	Jobs      float64    `json:"jobs"`
	Submitted float64    `json:"submitted"`
	Done      float64    `json:"done"`
	Failed    float64    `json:"failed"`
	Cores     float64    `json:"cores"`
	Memory    float64    `json:"memory"`
	CO2e      float64    `json:"co2e"`
	Cost      float64    `json:"cost"`
	CPUTime   float64    `json:"cputime"`
	MemEff    [5]float64 `json:"memeff"`
}

// MemEffDist is the cluster-wide memory efficiency distribution with
// the CO2e/cost wasted by over-requested memory.
type MemEffDist struct {
	Dist       [100]int64 `json:"dist"`
	WastedCO2e float64    `json:"co2e"`
	WastedCost float64    `json:"cost"`
}

// FailedJobs counts failed jobs in a bucket together with the footprint
// they wasted, and how many exceeded their memory limit or ran over an
// hour before failing.
type FailedJobs struct {
	Count      int64   `json:"count"`
	CO2e       float64 `json:"co2e"`
	Cost       float64 `json:"cost"`
	MemLimit   int64   `json:"memlim"`
	OverAnHour int64   `json:"runtime"`
}

// ClusterMetrics holds the cluster-wide counters of one bucket.
type ClusterMetrics struct {
	CPUEff   [100]int64 `json:"cpueff"`
	MemEff   MemEffDist `json:"memeff"`
	Runtimes [11]int64  `json:"runtimes"`
	Done     int64      `json:"done"`
	Failed   FailedJobs `json:"failed"`
}

// Bucket is one time-stamped usage snapshot. Buckets are immutable
// once decoded and are consumed exactly once per query.
type Bucket struct {
	Key         string
	TimestampMs int64
	Users       map[string]UserMetrics
	Cluster     ClusterMetrics
}

// Day returns the calendar-date prefix of the bucket key, used by the
// day-grouping rollups to detect day boundaries.
func (b Bucket) Day() string {
	if len(b.Key) < 8 {
		return b.Key
	}
	return b.Key[:8]
}

// decodeBucket builds a Bucket from a raw usage row.
func decodeBucket(key string, usersData, jobsData []byte) (Bucket, error) {
	t, err := time.ParseInLocation(KeyFormat, key, time.UTC)
	if err != nil {
		return Bucket{}, fmt.Errorf("invalid bucket key %q: %w", key, err)
	}

	b := Bucket{Key: key, TimestampMs: t.UnixMilli()}
	if err := json.Unmarshal(usersData, &b.Users); err != nil {
		return Bucket{}, fmt.Errorf("decode users data for bucket %s: %w", key, err)
	}
	if err := json.Unmarshal(jobsData, &b.Cluster); err != nil {
		return Bucket{}, fmt.Errorf("decode jobs data for bucket %s: %w", key, err)
	}
	return b, nil
}

// User is one cluster user with their team memberships. Teams is a set
// stored sorted for display; duplicates are dropped at decode time.
type User struct {
	Login    string
	Name     string
	Teams    []string
	Position string
	PhotoURL string
	UUID     string
	Sponsor  string
}

func decodeTeams(raw []byte) ([]string, error) {
	var teams []string
	if err := json.Unmarshal(raw, &teams); err != nil {
		return nil, fmt.Errorf("decode teams: %w", err)
	}
	seen := make(map[string]struct{}, len(teams))
	out := teams[:0]
	for _, t := range teams {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// MonthlyReport is one precomputed per-user monthly footprint document.
// The store does not know how these are produced; it only reads them.
// Data carries the document as-is for the API response; CO2e and Cost
// are extracted for team aggregation.
type MonthlyReport struct {
	Login string
	Month string
	CO2e  float64
	Cost  float64
	Data  map[string]any
}

func decodeMonthlyReport(login, month string, raw []byte) (MonthlyReport, error) {
	r := MonthlyReport{Login: login, Month: month}
	if err := json.Unmarshal(raw, &r.Data); err != nil {
		return MonthlyReport{}, fmt.Errorf("decode report %s/%s: %w", login, month, err)
	}
	if v, ok := r.Data["co2e"].(float64); ok {
		r.CO2e = v
	}
	if v, ok := r.Data["cost"].(float64); ok {
		r.Cost = v
	}
	return r, nil
}
