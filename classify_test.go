package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func testClassifier() *Classifier {
	return NewClassifier(defaultRules(), []int64{900, 901})
}

func demoCase(modality string, status string, tat *float64) CaseRecord {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return CaseRecord{
		StudyID:       1001,
		ClientID:      7,
		ClientName:    "Acme Diagnostics",
		CreatedAt:     created,
		ActivatedAt:   created.Add(5 * time.Minute),
		IsDemo:        true,
		Status:        status,
		LatestStatus:  status,
		Modality:      modality,
		TATMinutes:    tat,
		RadiologistID: ptr(int64(3001)),
		Rank:          1,
	}
}

func TestClassifyTATFlagByModality(t *testing.T) {
	c := testClassifier()

	green, anomalies := c.Classify(demoCase("XRAY", rawCompleted, ptr(45.0)))
	require.Empty(t, anomalies)
	require.Equal(t, StatusCompleted, green.FinalStatus)
	require.Equal(t, TATGreen, green.TATFlag)

	red, _ := c.Classify(demoCase("XRAY", rawCompleted, ptr(75.0)))
	require.Equal(t, TATRed, red.TATFlag)

	atLimit, _ := c.Classify(demoCase("CT", rawCompleted, ptr(120.0)))
	require.Equal(t, TATGreen, atLimit.TATFlag)

	nm, _ := c.Classify(demoCase("NM", rawCompleted, ptr(1400.0)))
	require.Equal(t, TATGreen, nm.TATFlag)
}

func TestClassifyUnrecognizedModalityIsRed(t *testing.T) {
	c := testClassifier()

	out, anomalies := c.Classify(demoCase("USG", rawCompleted, ptr(1.0)))
	require.Empty(t, anomalies)
	require.Equal(t, TATRed, out.TATFlag)
	require.Equal(t, BucketRadiologist, out.Bucket)
}

func TestClassifyModalityIsCaseSensitive(t *testing.T) {
	c := testClassifier()

	out, anomalies := c.Classify(demoCase("xray", rawCompleted, ptr(45.0)))
	require.Empty(t, anomalies)
	require.Equal(t, TATRed, out.TATFlag)

	rec := demoCase("ct", rawIQCReview, ptr(90.0))
	rec.IsDemo = false
	realOut, _ := c.ClassifyReal(rec)
	require.Equal(t, TATRed, realOut.TATFlag)
}

func TestClassifyMissingModalityFailsSafe(t *testing.T) {
	c := testClassifier()

	out, anomalies := c.Classify(demoCase("", rawCompleted, ptr(10.0)))
	require.Equal(t, TATRed, out.TATFlag)
	require.Equal(t, BucketUnknown, out.Bucket)
	require.Len(t, anomalies, 1)
	require.Equal(t, "modality", anomalies[0].Field)
	require.Equal(t, int64(1001), anomalies[0].StudyID)
}

func TestClassifyMissingTATIsRed(t *testing.T) {
	c := testClassifier()

	out, anomalies := c.Classify(demoCase("MRI", rawCompleted, nil))
	require.Equal(t, TATRed, out.TATFlag)
	require.Len(t, anomalies, 1)
	require.Equal(t, "tat_min", anomalies[0].Field)

	pending, anomalies := c.Classify(demoCase("MRI", rawCreated, nil))
	require.Equal(t, StatusPending, pending.FinalStatus)
	require.Equal(t, TATRed, pending.TATFlag)
	require.Empty(t, anomalies)
}

func TestClassifyMergedUsesParent(t *testing.T) {
	c := testClassifier()

	rec := demoCase("CT", rawMerged, ptr(500.0))
	rec.ParentID = ptr(int64(2002))
	rec.ParentStatus = rawCompleted
	rec.ParentTATMinutes = ptr(50.0)

	out, anomalies := c.Classify(rec)
	require.Empty(t, anomalies)
	require.Equal(t, StatusCompleted, out.FinalStatus)
	require.Equal(t, TATGreen, out.TATFlag)
	require.Equal(t, 50.0, *out.TATBasis)

	rec.ParentStatus = rawCreated
	rec.ParentTATMinutes = nil
	rec.TATMinutes = ptr(10.0)
	out, _ = c.Classify(rec)
	require.Equal(t, StatusPending, out.FinalStatus)
	require.Equal(t, TATRed, out.TATFlag)
}

func TestClassifyMergedWithoutParentStatus(t *testing.T) {
	c := testClassifier()

	rec := demoCase("CT", rawMerged, ptr(10.0))
	out, anomalies := c.Classify(rec)
	require.Equal(t, StatusPending, out.FinalStatus)
	require.Equal(t, TATRed, out.TATFlag)
	require.Len(t, anomalies, 1)
	require.Equal(t, "parent_status", anomalies[0].Field)
}

func TestClassifyDeletedPassesThrough(t *testing.T) {
	c := testClassifier()

	out, _ := c.Classify(demoCase("CT", rawDeleted, nil))
	require.Equal(t, StatusDeleted, out.FinalStatus)

	rec := demoCase("CT", rawMerged, nil)
	rec.ParentStatus = rawDeleted
	out, _ = c.Classify(rec)
	require.Equal(t, StatusDeleted, out.FinalStatus)
}

func TestClassifyReworkCompleted(t *testing.T) {
	c := testClassifier()
	completed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rec := demoCase("XRAY", rawCreated, ptr(30.0))
	rec.FirstCompletedAt = ptr(completed)
	rec.ReworkReportedAt = ptr(completed.Add(-time.Minute))
	out, _ := c.Classify(rec)
	require.Equal(t, StatusReworkCompleted, out.FinalStatus)

	rec.ReworkReportedAt = ptr(completed)
	out, _ = c.Classify(rec)
	require.Equal(t, StatusReworkCompleted, out.FinalStatus)

	rec.ReworkReportedAt = ptr(completed.Add(time.Minute))
	out, _ = c.Classify(rec)
	require.Equal(t, StatusPending, out.FinalStatus)

	// Rework wins over a deleted status.
	rec = demoCase("XRAY", rawDeleted, ptr(30.0))
	rec.FirstCompletedAt = ptr(completed)
	rec.ReworkReportedAt = ptr(completed)
	out, _ = c.Classify(rec)
	require.Equal(t, StatusReworkCompleted, out.FinalStatus)
}

func TestBucketRuleOrder(t *testing.T) {
	c := testClassifier()
	cases := []struct {
		name         string
		status       string
		latest       string
		radiologist  *int64
		wantBucket   Bucket
		wantRuleName string
	}{
		{"merged in preread with hil radiologist", rawMerged, rawIQCReview, ptr(int64(2231)), BucketHIL, "merged-hil"},
		{"merged in preread", rawMerged, rawIQCCompleted, ptr(int64(3001)), BucketRadiologist, "merged-radiologist"},
		{"preread beats hil", rawCreated, rawIQCReview, ptr(int64(2231)), BucketPreread, "preread"},
		{"hil", rawCreated, rawCreated, ptr(int64(1506)), BucketHIL, "hil"},
		{"radiologist", rawCreated, rawCreated, ptr(int64(3001)), BucketRadiologist, "radiologist"},
		{"no radiologist", rawCreated, rawCreated, nil, BucketUnknown, ""},
		{"merged without radiologist", rawMerged, rawIQCReview, nil, BucketPreread, "preread"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := demoCase("CT", tc.status, ptr(10.0))
			rec.LatestStatus = tc.latest
			rec.RadiologistID = tc.radiologist
			bucket, rule := firstMatch(c, rec, bucketRules)
			require.Equal(t, tc.wantBucket, bucket)
			require.Equal(t, tc.wantRuleName, rule)
		})
	}
}

func TestManagerRuleOrder(t *testing.T) {
	c := testClassifier()
	m := defaultRules().Managers
	cases := []struct {
		name        string
		latest      string
		radiologist *int64
		agent       *int64
		want        string
	}{
		{"hil beats preread", rawIQCReview, ptr(int64(2231)), ptr(int64(900)), m.HIL},
		{"preread external agent", rawIQCReview, ptr(int64(3001)), ptr(int64(555)), m.PrereadExternal},
		{"preread qc agent", rawIQCCompleted, ptr(int64(3001)), ptr(int64(901)), m.PrereadQC},
		{"preread without agent", rawIQCCompleted, ptr(int64(3001)), nil, m.Radiologist},
		{"radiologist", rawCreated, ptr(int64(3001)), nil, m.Radiologist},
		{"excluded radiologist", rawCreated, ptr(int64(2765)), nil, ""},
		{"no radiologist", rawCreated, nil, nil, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := demoCase("CT", rawCreated, ptr(10.0))
			rec.LatestStatus = tc.latest
			rec.RadiologistID = tc.radiologist
			rec.IQCAgentID = tc.agent
			out, _ := c.Classify(rec)
			require.Equal(t, tc.want, out.CategoryManager)
		})
	}
}

func TestClassifyDemoTag(t *testing.T) {
	c := testClassifier()

	rec := demoCase("CT", rawCreated, nil)
	rec.Rank = 3
	out, _ := c.Classify(rec)
	require.Equal(t, "Demo Case #3", out.Tag)
}

func TestClassifyReal(t *testing.T) {
	c := testClassifier()

	rec := demoCase("CT", rawIQCReview, ptr(90.0))
	rec.IsDemo = false
	rec.Rank = 2
	out, anomalies := c.ClassifyReal(rec)
	require.Empty(t, anomalies)
	require.Equal(t, FinalStatus(rawIQCReview), out.FinalStatus)
	require.Equal(t, TATGreen, out.TATFlag)
	require.Equal(t, "2nd Real Case", out.Tag)
	require.Empty(t, out.CategoryManager)
	require.Equal(t, BucketUnknown, out.Bucket)
}

func TestOrdinal(t *testing.T) {
	for n, want := range map[int]string{
		1: "1st", 2: "2nd", 3: "3rd", 4: "4th", 5: "5th",
		11: "11th", 12: "12th", 13: "13th", 21: "21st", 102: "102nd",
	} {
		require.Equal(t, want, ordinal(n))
	}
}
