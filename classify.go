package main

import (
	"fmt"
	"strings"
)

type Classifier struct {
	hil        idSet
	qc         idSet
	excluded   idSet
	managers   ManagerNames
	thresholds map[string]float64
}

func NewClassifier(rules Rules, extraQC []int64) *Classifier {
	thresholds := make(map[string]float64, len(rules.TATThresholds))
	for modality, limit := range rules.TATThresholds {
		thresholds[thresholdKey(modality)] = limit
	}
	return &Classifier{
		hil:        newIDSet(rules.HILRoster),
		qc:         newIDSet(rules.QCRoster, extraQC),
		excluded:   newIDSet(rules.ManagerExclusions),
		managers:   rules.Managers,
		thresholds: thresholds,
	}
}

type caseRule[T any] struct {
	name   string
	when   func(c *Classifier, rec CaseRecord) bool
	result func(c *Classifier) T
}

func firstMatch[T any](c *Classifier, rec CaseRecord, rules []caseRule[T]) (T, string) {
	for _, rule := range rules {
		if rule.when(c, rec) {
			return rule.result(c), rule.name
		}
	}
	var zero T
	return zero, ""
}

func constant[T any](value T) func(*Classifier) T {
	return func(*Classifier) T { return value }
}

func inPreread(rec CaseRecord) bool {
	return rec.LatestStatus == rawIQCReview || rec.LatestStatus == rawIQCCompleted
}

// First match wins. Merged cases resolve before the pre-read check.
var bucketRules = []caseRule[Bucket]{
	{
		name:   "merged-hil",
		when:   func(c *Classifier, rec CaseRecord) bool { return rec.merged() && c.hil.has(rec.RadiologistID) },
		result: constant(BucketHIL),
	},
	{
		name:   "merged-radiologist",
		when:   func(c *Classifier, rec CaseRecord) bool { return rec.merged() && c.hil.lacks(rec.RadiologistID) },
		result: constant(BucketRadiologist),
	},
	{
		name:   "preread",
		when:   func(_ *Classifier, rec CaseRecord) bool { return inPreread(rec) },
		result: constant(BucketPreread),
	},
	{
		name:   "hil",
		when:   func(c *Classifier, rec CaseRecord) bool { return c.hil.has(rec.RadiologistID) },
		result: constant(BucketHIL),
	},
	{
		name:   "radiologist",
		when:   func(c *Classifier, rec CaseRecord) bool { return c.hil.lacks(rec.RadiologistID) },
		result: constant(BucketRadiologist),
	},
}

// First match wins. HIL comes before pre-read and ignores the merged state.
var managerRules = []caseRule[string]{
	{
		name:   "hil",
		when:   func(c *Classifier, rec CaseRecord) bool { return c.hil.has(rec.RadiologistID) },
		result: func(c *Classifier) string { return c.managers.HIL },
	},
	{
		name: "preread-external",
		when: func(c *Classifier, rec CaseRecord) bool {
			return inPreread(rec) && c.qc.lacks(rec.IQCAgentID)
		},
		result: func(c *Classifier) string { return c.managers.PrereadExternal },
	},
	{
		name: "preread-qc",
		when: func(c *Classifier, rec CaseRecord) bool {
			return inPreread(rec) && c.qc.has(rec.IQCAgentID)
		},
		result: func(c *Classifier) string { return c.managers.PrereadQC },
	},
	{
		name:   "radiologist",
		when:   func(c *Classifier, rec CaseRecord) bool { return c.excluded.lacks(rec.RadiologistID) },
		result: func(c *Classifier) string { return c.managers.Radiologist },
	},
}

// A merged case is judged on its parent.
func effective(rec CaseRecord) (string, *float64) {
	if rec.merged() {
		return rec.ParentStatus, rec.ParentTATMinutes
	}
	return rec.Status, rec.TATMinutes
}

func reworkCompleted(rec CaseRecord) bool {
	if rec.ReworkReportedAt == nil || rec.FirstCompletedAt == nil {
		return false
	}
	return !rec.ReworkReportedAt.After(*rec.FirstCompletedAt)
}

func finalStatus(rec CaseRecord) FinalStatus {
	status, _ := effective(rec)
	switch {
	case reworkCompleted(rec):
		return StatusReworkCompleted
	case status == rawCompleted:
		return StatusCompleted
	case status != rawDeleted:
		return StatusPending
	default:
		return FinalStatus(status)
	}
}

func (c *Classifier) tatFlag(modality string, basis *float64) TATFlag {
	limit, ok := c.thresholds[modality]
	if !ok || basis == nil {
		return TATRed
	}
	if *basis <= limit {
		return TATGreen
	}
	return TATRed
}

func (c *Classifier) Classify(rec CaseRecord) (ClassifiedCase, []DataAnomaly) {
	var anomalies []DataAnomaly
	status, basis := effective(rec)

	out := ClassifiedCase{
		CaseRecord:  rec,
		FinalStatus: finalStatus(rec),
		TATBasis:    basis,
	}

	if rec.merged() && status == "" {
		anomalies = append(anomalies, DataAnomaly{StudyID: rec.StudyID, Field: "parent_status", Detail: "merged case without parent status"})
	}

	modality := strings.TrimSpace(rec.Modality)
	if modality == "" {
		anomalies = append(anomalies, DataAnomaly{StudyID: rec.StudyID, Field: "modality", Detail: "missing modality"})
		out.Bucket = BucketUnknown
	} else {
		out.Bucket, _ = firstMatch(c, rec, bucketRules)
	}

	out.TATFlag = c.tatFlag(modality, basis)
	if basis == nil && (out.FinalStatus == StatusCompleted || out.FinalStatus == StatusReworkCompleted) {
		anomalies = append(anomalies, DataAnomaly{StudyID: rec.StudyID, Field: "tat_min", Detail: "completed case without TAT"})
	}

	if rec.IsDemo && rec.Rank > 0 {
		out.Tag = fmt.Sprintf("Demo Case #%d", rec.Rank)
	}

	out.CategoryManager, _ = firstMatch(c, rec, managerRules)
	return out, anomalies
}

func (c *Classifier) ClassifyReal(rec CaseRecord) (ClassifiedCase, []DataAnomaly) {
	var anomalies []DataAnomaly
	modality := strings.TrimSpace(rec.Modality)
	if modality == "" {
		anomalies = append(anomalies, DataAnomaly{StudyID: rec.StudyID, Field: "modality", Detail: "missing modality"})
	}
	out := ClassifiedCase{
		CaseRecord:  rec,
		FinalStatus: FinalStatus(strings.TrimSpace(rec.Status)),
		TATBasis:    rec.TATMinutes,
		TATFlag:     c.tatFlag(modality, rec.TATMinutes),
	}
	if rec.Rank > 0 {
		out.Tag = ordinal(rec.Rank) + " Real Case"
	}
	return out, anomalies
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
