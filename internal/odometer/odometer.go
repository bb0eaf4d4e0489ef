// Package odometer turns sparse odometer readings into per-day distances.
package odometer

import (
	"math"
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// Reading is the odometer value recorded with one delivery record.
type Reading struct {
	RecordID  uint
	EntryDate time.Time
	Odometer  int
}

// DailyDistance is one in-month reading diffed against the reading that
// preceded it in the whole history.
type DailyDistance struct {
	RecordID         uint   `json:"id"`
	EntryDate        string `json:"entry_date"`
	Odometer         int    `json:"odometer"`
	PreviousOdometer *int   `json:"previous_odometer"`
	PreviousDate     string `json:"previous_date,omitempty"`
	DailyDifference  *int   `json:"daily_difference"`
	DaysBetween      *int   `json:"days_between"`
	// Anomaly marks a reading lower than its predecessor.
	Anomaly bool `json:"anomaly,omitempty"`
}

type MonthStats struct {
	TotalDistance    int     `json:"total_distance"`
	AverageDaily     float64 `json:"average_daily"`
	MaxDaily         int     `json:"max_daily"`
	MinDaily         int     `json:"min_daily"`
	DaysWithReadings int     `json:"days_with_readings"`
	StartOdometer    int     `json:"start_odometer"`
	EndOdometer      int     `json:"end_odometer"`
	Anomalies        int     `json:"anomalies"`
	ManualDistance   int     `json:"manual_distance"`
}

type Report struct {
	Year     int             `json:"year"`
	Month    int             `json:"month"`
	Readings []DailyDistance `json:"readings"`
	Stats    MonthStats      `json:"stats"`
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func inMonth(t time.Time, year, month int) bool {
	return t.Year() == year && int(t.Month()) == month
}

// daysBetween counts calendar days; readings on the same date are 0 apart.
func daysBetween(from, to time.Time) int {
	return int(civil(to).Sub(civil(from)).Hours() / 24)
}

func sortReadings(readings []Reading) []Reading {
	out := make([]Reading, len(readings))
	copy(out, readings)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := civil(out[i].EntryDate), civil(out[j].EntryDate)
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].RecordID < out[j].RecordID
	})
	return out
}

// Reconcile pairs every reading with its predecessor across the full
// history, then keeps the rows dated inside year/month. The first reading
// of a month is therefore diffed against the last one of the month before.
func Reconcile(readings []Reading, year, month int) []DailyDistance {
	sorted := sortReadings(readings)
	out := make([]DailyDistance, 0)
	for i, r := range sorted {
		if !inMonth(r.EntryDate, year, month) {
			continue
		}
		row := DailyDistance{
			RecordID:  r.RecordID,
			EntryDate: r.EntryDate.Format(dateLayout),
			Odometer:  r.Odometer,
		}
		if i > 0 {
			prev := sorted[i-1]
			prevOdo := prev.Odometer
			diff := r.Odometer - prev.Odometer
			days := daysBetween(prev.EntryDate, r.EntryDate)
			row.PreviousOdometer = &prevOdo
			row.PreviousDate = prev.EntryDate.Format(dateLayout)
			row.DailyDifference = &diff
			row.DaysBetween = &days
			row.Anomaly = diff < 0
		}
		out = append(out, row)
	}
	return out
}

// Summarize aggregates strictly positive differences only. prior is the
// last reading before the month and is used when nothing else carries a
// start value.
func Summarize(series []DailyDistance, prior *int) MonthStats {
	var stats MonthStats
	for _, d := range series {
		if d.Anomaly {
			stats.Anomalies++
		}
		if d.DailyDifference == nil || *d.DailyDifference <= 0 {
			continue
		}
		v := *d.DailyDifference
		stats.TotalDistance += v
		if stats.DaysWithReadings == 0 || v > stats.MaxDaily {
			stats.MaxDaily = v
		}
		if stats.DaysWithReadings == 0 || v < stats.MinDaily {
			stats.MinDaily = v
		}
		stats.DaysWithReadings++
	}
	if stats.DaysWithReadings > 0 {
		avg := float64(stats.TotalDistance) / float64(stats.DaysWithReadings)
		stats.AverageDaily = math.Round(avg*100) / 100
	}

	switch {
	case len(series) > 0 && series[0].PreviousOdometer != nil:
		stats.StartOdometer = *series[0].PreviousOdometer
	case prior != nil:
		stats.StartOdometer = *prior
	case len(series) > 0:
		stats.StartOdometer = series[0].Odometer
	}
	if len(series) > 0 {
		stats.EndOdometer = series[len(series)-1].Odometer
	} else {
		stats.EndOdometer = stats.StartOdometer
	}
	return stats
}

// MonthReport runs Reconcile and Summarize for one month.
func MonthReport(readings []Reading, year, month int) Report {
	series := Reconcile(readings, year, month)

	var prior *int
	monthStart := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	for _, r := range sortReadings(readings) {
		if civil(r.EntryDate).Before(monthStart) {
			v := r.Odometer
			prior = &v
		}
	}

	return Report{
		Year:     year,
		Month:    month,
		Readings: series,
		Stats:    Summarize(series, prior),
	}
}
