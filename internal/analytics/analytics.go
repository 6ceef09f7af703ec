// Package analytics turns a flat list of routine logs into the derived
// report views served by the analytics endpoints. Everything here is a pure
// function of its inputs.
package analytics

import "time"

// Log is the slice of a routine log the aggregation needs.
type Log struct {
	RoutineID string
	Action    string
	DateKey   string
	Timestamp time.Time
}

// RoutineInfo resolves a log's routine id to display attributes.
type RoutineInfo struct {
	Title       string
	Category    string
	ParentTitle string
}

// Index maps routine id to its display attributes. Logs whose routine is
// missing from the index fall back to "Uncategorized" / "Unknown".
type Index map[string]RoutineInfo

type Summary struct {
	Total   int `json:"total"`
	Done    int `json:"done"`
	NotDone int `json:"notDone"`
	Skipped int `json:"skipped"`
	Passed  int `json:"passed"`
}

type ParentBreakdown struct {
	Total   int `json:"total"`
	Done    int `json:"done"`
	NotDone int `json:"notDone"`
	Skipped int `json:"skipped"`
}

type DateBreakdown struct {
	Total int `json:"total"`
	Done  int `json:"done"`
}

type Report struct {
	Summary    Summary
	ByCategory map[string]int
	ByParent   map[string]ParentBreakdown
	ByDate     map[string]DateBreakdown
	// StartDate is the dateKey of the earliest log, nil when there are none.
	StartDate *string
}

const fallbackCategory = "Uncategorized"
const fallbackParent = "Unknown"

// Aggregate computes the full report. Input order does not matter.
func Aggregate(logs []Log, index Index) Report {
	report := Report{
		ByCategory: make(map[string]int),
		ByParent:   make(map[string]ParentBreakdown),
		ByDate:     make(map[string]DateBreakdown),
	}

	var earliest *Log
	for i := range logs {
		entry := &logs[i]
		report.Summary.Total++
		switch entry.Action {
		case "done":
			report.Summary.Done++
		case "not_done":
			report.Summary.NotDone++
		case "skip":
			report.Summary.Skipped++
		case "pass":
			report.Summary.Passed++
		}

		info, known := index[entry.RoutineID]
		category := info.Category
		if !known || category == "" {
			category = fallbackCategory
		}
		report.ByCategory[category]++

		parent := info.ParentTitle
		if !known || parent == "" {
			parent = fallbackParent
		}
		breakdown := report.ByParent[parent]
		breakdown.Total++
		switch entry.Action {
		case "done":
			breakdown.Done++
		case "not_done":
			breakdown.NotDone++
		case "skip":
			breakdown.Skipped++
		}
		report.ByParent[parent] = breakdown

		date := entry.DateKey
		if date == "" {
			date = entry.Timestamp.UTC().Format("2006-01-02")
		}
		byDate := report.ByDate[date]
		byDate.Total++
		if entry.Action == "done" {
			byDate.Done++
		}
		report.ByDate[date] = byDate

		if earliest == nil || entry.Timestamp.Before(earliest.Timestamp) {
			earliest = entry
		}
	}

	if earliest != nil {
		start := earliest.DateKey
		if start == "" {
			start = earliest.Timestamp.UTC().Format("2006-01-02")
		}
		report.StartDate = &start
	}

	return report
}

// Completion is the all-time completion percentage shown per parent in the
// hierarchy listing: round(100 * done / total), 0 when there are no logs.
func Completion(done, total int) int {
	if total == 0 {
		return 0
	}
	ratio := float64(done) / float64(total) * 100
	return int(ratio + 0.5)
}
