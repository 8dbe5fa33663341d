package adherence

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/intake"
	"github.com/gmsas95/pillpal/internal/store"
	"github.com/gmsas95/pillpal/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
	assert.Equal(t, Summary{}, Summarize([]DayStats{{Date: "2025-04-15"}}))
}

func TestDayStats_Adherence(t *testing.T) {
	d := DayStats{TotalPlanned: 4, Taken: 2, Skipped: 1, Unknown: 1}
	assert.Equal(t, 50, d.Adherence())
	assert.Equal(t, 0, DayStats{}.Adherence())
}

func TestSummarize(t *testing.T) {
	stats := []DayStats{
		{Date: "d1", TotalPlanned: 2, Taken: 2},
		{Date: "d2", TotalPlanned: 3, Taken: 1, Skipped: 1, Unknown: 1},
		{Date: "d3"},
		{Date: "d4", TotalPlanned: 1, Taken: 0, Unknown: 1},
	}

	s := Summarize(stats)
	// mean of 1, 1/3 and 0
	assert.Equal(t, 44, s.AverageAdherence)
	// 3 of 6
	assert.Equal(t, 50, s.MPR)
	// 1 of 3 days fully covered
	assert.Equal(t, 33, s.PDC)
	assert.Equal(t, 3, s.DaysWithData)
}

func TestRange(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()
	patient := testutil.Patient("p1")
	clock := &testutil.Clock{T: time.Date(2025, 4, 15, 9, 0, 0, 0, time.UTC)}
	log := intake.NewLog(intake.Config{Now: clock.Now}, st, nil, nil, zap.NewNop())

	a := testutil.SeedSchedule(t, st, "p1", testutil.Date(2025, 4, 15), 2, 10, "09:00", "21:00")
	b := testutil.SeedSchedule(t, st, "p1", testutil.Date(2025, 4, 15), 1, 10, "08:00", "12:00")
	testutil.SeedSchedule(t, st, "p1", testutil.Date(2025, 4, 1), store.OngoingDays, 10)

	ref := func(sch *store.Schedule, i int, date string) intake.DoseRef {
		return intake.DoseRef{ScheduleID: sch.ID, TimeID: sch.Times[i].ID, DoseDate: date}
	}
	_, err := log.Take(ctx, patient, ref(a, 0, "2025-04-15"), "")
	require.NoError(t, err)
	_, err = log.Take(ctx, patient, ref(b, 0, "2025-04-15"), "")
	require.NoError(t, err)
	_, err = log.Skip(ctx, patient, ref(b, 1, "2025-04-15"), "")
	require.NoError(t, err)
	_, err = log.Snooze(ctx, patient, ref(a, 0, "2025-04-16"), time.Minute)
	require.NoError(t, err)

	stats, err := NewAggregator(st).Range(ctx, patient, testutil.Date(2025, 4, 14), testutil.Date(2025, 4, 17))
	require.NoError(t, err)
	require.Len(t, stats, 4)

	assert.Equal(t, DayStats{Date: "2025-04-14"}, stats[0])
	assert.Equal(t, DayStats{Date: "2025-04-15", TotalPlanned: 4, Taken: 2, Skipped: 1, Unknown: 1}, stats[1])
	assert.Equal(t, 50, stats[1].Adherence())
	assert.Equal(t, DayStats{Date: "2025-04-16", TotalPlanned: 2, Unknown: 2}, stats[2])
	assert.Equal(t, DayStats{Date: "2025-04-17"}, stats[3])
}

func TestRange_Validation(t *testing.T) {
	agg := NewAggregator(testutil.NewTestStore(t))
	patient := testutil.Patient("p1")

	_, err := agg.Range(context.Background(), patient, testutil.Date(2025, 4, 15), testutil.Date(2025, 4, 1))
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = agg.Range(context.Background(), patient, testutil.Date(2020, 1, 1), testutil.Date(2025, 1, 1))
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestMonth(t *testing.T) {
	st := testutil.NewTestStore(t)
	testutil.SeedSchedule(t, st, "p1", testutil.Date(2025, 2, 20), 30, 60, "09:00")

	report, err := NewAggregator(st).Month(context.Background(), testutil.Patient("p1"), 2025, time.February)
	require.NoError(t, err)
	assert.Equal(t, "February 2025", report.MonthTitle)
	require.Len(t, report.StatsByDay, 28)
	assert.Equal(t, 0, report.StatsByDay[0].TotalPlanned)
	assert.Equal(t, 1, report.StatsByDay[27].TotalPlanned)
	assert.Equal(t, 9, report.Summary.DaysWithData)
	assert.Equal(t, 0, report.Summary.MPR)
}

func TestParseMonth(t *testing.T) {
	y, m, err := ParseMonth("2025-04")
	require.NoError(t, err)
	assert.Equal(t, 2025, y)
	assert.Equal(t, time.April, m)

	_, _, err = ParseMonth("April")
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestExport(t *testing.T) {
	report := &MonthReport{
		MonthTitle: "April 2025",
		StatsByDay: []DayStats{{Date: "2025-04-15", TotalPlanned: 4, Taken: 2, Skipped: 1, Unknown: 1}},
		Summary:    Summary{AverageAdherence: 50, MPR: 50, PDC: 0, DaysWithData: 1},
	}

	var buf bytes.Buffer
	require.NoError(t, report.Export(&buf, "json"))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "April 2025", decoded["monthTitle"])
	assert.Len(t, decoded["statsByDay"], 1)

	buf.Reset()
	require.NoError(t, report.Export(&buf, "yaml"))
	var fromYAML MonthReport
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, *report, fromYAML)

	assert.Error(t, report.Export(&buf, "pdf"))
}
