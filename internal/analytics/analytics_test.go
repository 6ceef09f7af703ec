package analytics

import (
	"testing"
	"time"
)

func makeLogs(actions []string, routineID string, day string) []Log {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	logs := make([]Log, 0, len(actions))
	for i, action := range actions {
		logs = append(logs, Log{
			RoutineID: routineID,
			Action:    action,
			DateKey:   day,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return logs
}

func TestAggregateEmpty(t *testing.T) {
	report := Aggregate(nil, Index{})

	if report.Summary.Total != 0 {
		t.Errorf("expected total 0, got %d", report.Summary.Total)
	}
	if len(report.ByCategory) != 0 || len(report.ByParent) != 0 || len(report.ByDate) != 0 {
		t.Errorf("expected empty breakdowns, got %+v", report)
	}
	if report.StartDate != nil {
		t.Errorf("expected nil start date, got %q", *report.StartDate)
	}
}

func TestAggregateSummaryCounts(t *testing.T) {
	logs := makeLogs([]string{"done", "done", "not_done", "skip", "pass", "done"}, "rt_1", "2026-03-14")
	index := Index{"rt_1": {Title: "Stretch", Category: "Health", ParentTitle: "Morning Mastery"}}

	report := Aggregate(logs, index)

	if report.Summary.Total != len(logs) {
		t.Errorf("expected total %d, got %d", len(logs), report.Summary.Total)
	}
	sum := report.Summary.Done + report.Summary.NotDone + report.Summary.Skipped + report.Summary.Passed
	if sum != report.Summary.Total {
		t.Errorf("action counts %d do not sum to total %d", sum, report.Summary.Total)
	}
	if report.Summary.Done != 3 || report.Summary.NotDone != 1 || report.Summary.Skipped != 1 || report.Summary.Passed != 1 {
		t.Errorf("unexpected summary: %+v", report.Summary)
	}
}

func TestAggregateBreakdownsSumToTotal(t *testing.T) {
	logs := append(
		makeLogs([]string{"done", "skip"}, "rt_1", "2026-03-13"),
		makeLogs([]string{"done", "not_done", "pass"}, "rt_2", "2026-03-14")...,
	)
	index := Index{
		"rt_1": {Category: "Health", ParentTitle: "Morning Mastery"},
		"rt_2": {Category: "Focus", ParentTitle: "Deep Work"},
	}

	report := Aggregate(logs, index)

	categoryTotal := 0
	for _, n := range report.ByCategory {
		categoryTotal += n
	}
	if categoryTotal != report.Summary.Total {
		t.Errorf("byCategory sums to %d, want %d", categoryTotal, report.Summary.Total)
	}

	parentTotal := 0
	for _, breakdown := range report.ByParent {
		parentTotal += breakdown.Total
	}
	if parentTotal != report.Summary.Total {
		t.Errorf("byParent sums to %d, want %d", parentTotal, report.Summary.Total)
	}

	dateTotal := 0
	for _, breakdown := range report.ByDate {
		dateTotal += breakdown.Total
	}
	if dateTotal != report.Summary.Total {
		t.Errorf("byDate sums to %d, want %d", dateTotal, report.Summary.Total)
	}
}

func TestAggregateUnknownRoutine(t *testing.T) {
	logs := makeLogs([]string{"done", "not_done"}, "rt_gone", "2026-03-14")

	report := Aggregate(logs, Index{})

	if report.ByCategory["Uncategorized"] != 2 {
		t.Errorf("expected 2 uncategorized logs, got %d", report.ByCategory["Uncategorized"])
	}
	breakdown, ok := report.ByParent["Unknown"]
	if !ok || breakdown.Total != 2 || breakdown.Done != 1 {
		t.Errorf("expected Unknown parent {total:2 done:1}, got %+v", breakdown)
	}
}

func TestAggregateStartDate(t *testing.T) {
	early := Log{RoutineID: "rt_1", Action: "done", DateKey: "2026-03-01", Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	late := Log{RoutineID: "rt_1", Action: "skip", DateKey: "2026-03-14", Timestamp: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)}

	// Order must not matter.
	report := Aggregate([]Log{late, early}, Index{})

	if report.StartDate == nil || *report.StartDate != "2026-03-01" {
		t.Errorf("expected start date 2026-03-01, got %v", report.StartDate)
	}
}

func TestAggregateDeterministic(t *testing.T) {
	logs := makeLogs([]string{"done", "pass", "skip", "done"}, "rt_1", "2026-03-14")
	index := Index{"rt_1": {Category: "Health", ParentTitle: "Morning Mastery"}}

	first := Aggregate(logs, index)
	second := Aggregate(logs, index)

	if first.Summary != second.Summary {
		t.Errorf("summaries differ: %+v vs %+v", first.Summary, second.Summary)
	}
	for category, n := range first.ByCategory {
		if second.ByCategory[category] != n {
			t.Errorf("category %q differs: %d vs %d", category, n, second.ByCategory[category])
		}
	}
}

func TestCompletion(t *testing.T) {
	tests := []struct {
		name  string
		done  int
		total int
		want  int
	}{
		{name: "no logs", done: 0, total: 0, want: 0},
		{name: "all done", done: 10, total: 10, want: 100},
		{name: "six of ten", done: 6, total: 10, want: 60},
		{name: "rounds up", done: 2, total: 3, want: 67},
		{name: "rounds down", done: 1, total: 3, want: 33},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Completion(tt.done, tt.total); got != tt.want {
				t.Errorf("Completion(%d, %d) = %d, want %d", tt.done, tt.total, got, tt.want)
			}
		})
	}
}
