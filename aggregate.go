package main

import (
	"sort"
	"time"
)

type ReportSummary struct {
	AsOf          time.Time `json:"as_of"`
	WindowDays    int       `json:"window_days"`
	TotalDemo     int       `json:"total_demo"`
	ActiveDemo    int       `json:"active_demo"`
	CompletedDemo int       `json:"completed_demo"`
	WithinTAT     int       `json:"within_tat"`
	ExceedingTAT  int       `json:"exceeding_tat"`
	ActiveReal    int       `json:"active_real"`
	ReworkDemo    int       `json:"rework_completed_demo"`
	TATBreachDemo int       `json:"tat_breach_demo"`
	AnomalyCount  int       `json:"anomaly_count"`
	RealCaseLimit int       `json:"real_case_limit"`
	DemoCaseCount int       `json:"demo_case_count"`
	RealCaseCount int       `json:"real_case_count"`
}

type Report struct {
	GeneratedAt     time.Time        `json:"generated_at"`
	Summary         ReportSummary    `json:"summary"`
	ActiveDemo      []ClassifiedCase `json:"active_demo"`
	ActiveReal      []ClassifiedCase `json:"active_real"`
	ReworkCompleted []ClassifiedCase `json:"rework_completed_demo"`
	TATBreach       []ClassifiedCase `json:"tat_breach_demo"`
	Demo            []ClassifiedCase `json:"demo_cases"`
	Real            []ClassifiedCase `json:"real_cases"`
	Anomalies       []DataAnomaly    `json:"anomalies,omitempty"`
}

// ShouldSend reports whether the run has anything worth mailing. Runs
// with no active case stay silent.
func (r Report) ShouldSend() bool {
	return len(r.ActiveDemo) > 0 || len(r.ActiveReal) > 0
}

type ReportOptions struct {
	AsOf          time.Time
	GeneratedAt   time.Time
	WindowDays    int
	RealCaseLimit int
}

// buildReport classifies both case sets and partitions them into the
// report buckets.
func buildReport(classifier *Classifier, demoCases []CaseRecord, realCases []CaseRecord, opts ReportOptions) Report {
	report := Report{GeneratedAt: opts.GeneratedAt}

	for _, rec := range demoCases {
		classified, anomalies := classifier.Classify(rec)
		report.Demo = append(report.Demo, classified)
		report.Anomalies = append(report.Anomalies, anomalies...)
	}
	for _, rec := range firstRealCases(realCases, opts.RealCaseLimit) {
		classified, anomalies := classifier.ClassifyReal(rec)
		report.Real = append(report.Real, classified)
		report.Anomalies = append(report.Anomalies, anomalies...)
	}

	sort.SliceStable(report.Demo, func(i, j int) bool {
		a, b := report.Demo[i], report.Demo[j]
		if a.FinalStatus != b.FinalStatus {
			return a.FinalStatus < b.FinalStatus
		}
		return a.ActivatedAt.Before(b.ActivatedAt)
	})
	sort.SliceStable(report.Real, func(i, j int) bool {
		a, b := report.Real[i], report.Real[j]
		if a.ClientID != b.ClientID {
			return a.ClientID < b.ClientID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	report.ActiveDemo = filterCases(report.Demo, activeDemo)
	report.ActiveReal = filterCases(report.Real, activeReal)
	report.ReworkCompleted = filterCases(report.Demo, func(c ClassifiedCase) bool {
		return c.FinalStatus == StatusReworkCompleted
	})
	report.TATBreach = filterCases(report.Demo, func(c ClassifiedCase) bool {
		return completedDemo(c) && c.TATFlag == TATRed
	})

	report.Summary = summarize(report, opts)
	return report
}

// firstRealCases keeps a client's real cases ranked within limit. A
// non-positive limit keeps everything.
func firstRealCases(records []CaseRecord, limit int) []CaseRecord {
	if limit <= 0 {
		return records
	}
	result := make([]CaseRecord, 0, len(records))
	for _, rec := range records {
		if rec.Rank >= 1 && rec.Rank <= limit {
			result = append(result, rec)
		}
	}
	return result
}

func filterCases(cases []ClassifiedCase, keep func(ClassifiedCase) bool) []ClassifiedCase {
	result := []ClassifiedCase{}
	for _, c := range cases {
		if keep(c) {
			result = append(result, c)
		}
	}
	return result
}

func completedDemo(c ClassifiedCase) bool {
	return c.FinalStatus == StatusCompleted || c.FinalStatus == StatusReworkCompleted
}

func activeDemo(c ClassifiedCase) bool {
	return !completedDemo(c) && c.FinalStatus != StatusDeleted
}

func activeReal(c ClassifiedCase) bool {
	return c.FinalStatus != rawCompleted && c.FinalStatus != rawDeleted
}

func summarize(report Report, opts ReportOptions) ReportSummary {
	summary := ReportSummary{
		AsOf:          opts.AsOf,
		WindowDays:    opts.WindowDays,
		ActiveDemo:    len(report.ActiveDemo),
		ActiveReal:    len(report.ActiveReal),
		ReworkDemo:    len(report.ReworkCompleted),
		TATBreachDemo: len(report.TATBreach),
		AnomalyCount:  len(report.Anomalies),
		RealCaseLimit: opts.RealCaseLimit,
		DemoCaseCount: len(report.Demo),
		RealCaseCount: len(report.Real),
	}
	for _, c := range report.Demo {
		if c.FinalStatus != StatusDeleted {
			summary.TotalDemo++
		}
		if !completedDemo(c) {
			continue
		}
		summary.CompletedDemo++
		if c.TATFlag == TATGreen {
			summary.WithinTAT++
		} else {
			summary.ExceedingTAT++
		}
	}
	return summary
}
