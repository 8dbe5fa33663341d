// Package adherence computes per-day and period adherence statistics.
package adherence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/gmsas95/pillpal/internal/dose"
	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/session"
	"github.com/gmsas95/pillpal/internal/store"
	"gopkg.in/yaml.v3"
)

// maxRangeDays bounds one Range query
const maxRangeDays = 366

// DayStats counts the planned occurrences of one day by outcome
type DayStats struct {
	Date         string `json:"date" yaml:"date"`
	TotalPlanned int    `json:"totalPlanned" yaml:"totalPlanned"`
	Taken        int    `json:"taken" yaml:"taken"`
	Skipped      int    `json:"skipped" yaml:"skipped"`
	Unknown      int    `json:"unknown" yaml:"unknown"`
}

// Adherence is the day's taken share as a rounded percentage
func (d DayStats) Adherence() int {
	if d.TotalPlanned <= 0 {
		return 0
	}
	return percent(float64(d.Taken) / float64(d.TotalPlanned))
}

// Summary holds period metrics as rounded percentages
type Summary struct {
	AverageAdherence int `json:"averageAdherence" yaml:"averageAdherence"`
	MPR              int `json:"mpr" yaml:"mpr"`
	PDC              int `json:"pdc" yaml:"pdc"`
	DaysWithData     int `json:"daysWithData" yaml:"daysWithData"`
}

// MonthReport is the export input for one calendar month
type MonthReport struct {
	MonthTitle string     `json:"monthTitle" yaml:"monthTitle"`
	StatsByDay []DayStats `json:"statsByDay" yaml:"statsByDay"`
	Summary    Summary    `json:"summary" yaml:"summary"`
}

type source interface {
	ListSchedules(ctx context.Context, patientID string) ([]store.Schedule, error)
	LogsBetween(ctx context.Context, patientID, fromDate, toDate string) ([]store.PillLog, error)
}

// Aggregator derives statistics from schedules and the intake log
type Aggregator struct {
	store source
}

// NewAggregator creates an aggregator over st
func NewAggregator(st source) *Aggregator {
	return &Aggregator{store: st}
}

// Range returns one DayStats per calendar day in [from, to]. Only planned
// occurrences count; each is classified by its latest entry.
func (a *Aggregator) Range(ctx context.Context, patient session.Patient, from, to time.Time) ([]DayStats, error) {
	from, to = dose.Day(from), dose.Day(to)
	if to.Before(from) {
		return nil, apperrors.BadRequest("range end before start")
	}
	if to.Sub(from) > maxRangeDays*24*time.Hour {
		return nil, apperrors.BadRequest("range longer than %d days", maxRangeDays)
	}

	schedules, err := a.store.ListSchedules(ctx, patient.ID)
	if err != nil {
		return nil, err
	}
	logs, err := a.store.LogsBetween(ctx, patient.ID, from.Format(dose.DateLayout), to.Format(dose.DateLayout))
	if err != nil {
		return nil, err
	}
	latest := store.LatestPerOccurrence(logs)

	var stats []DayStats
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		key := day.Format(dose.DateLayout)
		ds := DayStats{Date: key}
		for i := range schedules {
			sch := &schedules[i]
			for occ := range dose.Generate(sch, sch.Times, day, day) {
				ds.TotalPlanned++
				entry, ok := latest[store.TakenKeyFor(occ.TimeID, key)]
				if !ok {
					continue
				}
				switch entry.Status {
				case store.StatusTaken:
					ds.Taken++
				case store.StatusSkipped:
					ds.Skipped++
				}
			}
		}
		ds.Unknown = max(ds.TotalPlanned-ds.Taken-ds.Skipped, 0)
		stats = append(stats, ds)
	}
	return stats, nil
}

// Summarize computes average adherence, MPR and PDC over days that have
// planned doses. No such days yields zeros.
func Summarize(stats []DayStats) Summary {
	var sum float64
	var taken, planned, covered, days int
	for _, d := range stats {
		if d.TotalPlanned <= 0 {
			continue
		}
		days++
		sum += float64(d.Taken) / float64(d.TotalPlanned)
		taken += d.Taken
		planned += d.TotalPlanned
		if d.Taken >= d.TotalPlanned {
			covered++
		}
	}
	if days == 0 {
		return Summary{}
	}
	return Summary{
		AverageAdherence: percent(sum / float64(days)),
		MPR:              percent(float64(taken) / float64(planned)),
		PDC:              percent(float64(covered) / float64(days)),
		DaysWithData:     days,
	}
}

// Month builds the report for one calendar month
func (a *Aggregator) Month(ctx context.Context, patient session.Patient, year int, month time.Month) (*MonthReport, error) {
	if month < time.January || month > time.December {
		return nil, apperrors.BadRequest("invalid month %d", month)
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	stats, err := a.Range(ctx, patient, first, last)
	if err != nil {
		return nil, err
	}
	return &MonthReport{
		MonthTitle: first.Format("January 2006"),
		StatsByDay: stats,
		Summary:    Summarize(stats),
	}, nil
}

// ParseMonth parses YYYY-MM
func ParseMonth(s string) (int, time.Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, apperrors.BadRequest("invalid month %q, want YYYY-MM", s)
	}
	return t.Year(), t.Month(), nil
}

// Export writes the report as json or yaml
func (r *MonthReport) Export(w io.Writer, format string) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported export format %q", format)
}

func percent(ratio float64) int {
	return int(math.Round(ratio * 100))
}
