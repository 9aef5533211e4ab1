// Package templates holds the HTML components served by the web package.
//
// Components are written in .templ files; the matching *_templ.go files are
// produced by `templ generate` and committed alongside them.
package templates

//go:generate templ generate

import (
	"sort"
	"strconv"
	"time"
)

// CategoryAverage is one row of the averages table.
type CategoryAverage struct {
	Category string
	Average  float64
}

// RunRow is one row of the import history table.
type RunRow struct {
	StartedAt time.Time
	Source    string
	Trigger   string
	Status    string
	Created   int
	Updated   int
	Total     int
	Error     string
}

// DashboardData is everything the dashboard shows.
type DashboardData struct {
	Averages  []CategoryAverage
	Runs      []RunRow
	StatsErr  string
	RunsErr   string
	Generated time.Time
}

// SortedAverages turns a category map into rows ordered by category.
func SortedAverages(m map[string]float64) []CategoryAverage {
	out := make([]CategoryAverage, 0, len(m))
	for c, v := range m {
		out = append(out, CategoryAverage{Category: c, Average: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

func formatAverage(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
