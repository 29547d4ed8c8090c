// Package stats maintains per-frame counters (hour/day/month/year) for
// the bank's core metrics, incremented inside the same serializable
// transaction as the business posting that produced them. Grounded on
// the teacher's card_repository.go aggregate-query style, generalized
// from a single running total to a truncated-timestamp counter table.
package stats

import (
	"context"
	"fmt"
	"time"

	"libeufin-bank/internal/money"

	"github.com/jackc/pgx/v5"
)

// Frame is a counter truncation granularity.
type Frame string

const (
	FrameHour  Frame = "hour"
	FrameDay   Frame = "day"
	FrameMonth Frame = "month"
	FrameYear  Frame = "year"
)

var allFrames = []Frame{FrameHour, FrameDay, FrameMonth, FrameYear}

// Metric names the counted business event.
type Metric string

const (
	MetricTalerIn  Metric = "taler_in"
	MetricTalerOut Metric = "taler_out"
	MetricCashin   Metric = "cashin"
	MetricCashout  Metric = "cashout"
)

// Truncate rounds ts down to the start of its frame, per spec: hour to
// the top of the hour, day to midnight, month to the first of the
// month, year to Jan 1, all in UTC.
func Truncate(frame Frame, ts time.Time) time.Time {
	ts = ts.UTC()
	switch frame {
	case FrameHour:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), 0, 0, 0, time.UTC)
	case FrameDay:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	case FrameMonth:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	case FrameYear:
		return time.Date(ts.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return ts
	}
}

// Record increments the counter for every frame granularity at once,
// for the slot ts falls into. Must run inside the caller's business
// transaction so the counters commit atomically with the posting they
// describe.
func Record(ctx context.Context, tx pgx.Tx, metric Metric, ts time.Time, volumeRegional money.Amount, volumeFiat *money.Amount) error {
	for _, frame := range allFrames {
		slot := Truncate(frame, ts)
		var fiatValue, fiatFrac any
		if volumeFiat != nil {
			fiatValue, fiatFrac = int64(volumeFiat.Value), int32(volumeFiat.Frac)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO stats_counters (frame, slot, metric, count, volume_regional_value, volume_regional_frac, volume_fiat_value, volume_fiat_frac)
			VALUES ($1, $2, $3, 1, $4, $5, $6, $7)
			ON CONFLICT (frame, slot, metric) DO UPDATE SET
				count = stats_counters.count + 1,
				volume_regional_value = stats_counters.volume_regional_value + EXCLUDED.volume_regional_value,
				volume_regional_frac = stats_counters.volume_regional_frac + EXCLUDED.volume_regional_frac,
				volume_fiat_value = COALESCE(stats_counters.volume_fiat_value, 0) + COALESCE(EXCLUDED.volume_fiat_value, 0),
				volume_fiat_frac = COALESCE(stats_counters.volume_fiat_frac, 0) + COALESCE(EXCLUDED.volume_fiat_frac, 0)
		`, string(frame), slot, string(metric), int64(volumeRegional.Value), int32(volumeRegional.Frac), fiatValue, fiatFrac)
		if err != nil {
			return fmt.Errorf("recording %s/%s stat: %w", frame, metric, err)
		}
	}
	return nil
}

// Counter is one (frame, slot, metric) row.
type Counter struct {
	Frame               Frame
	Slot                time.Time
	Metric              Metric
	Count               int64
	VolumeRegionalValue int64
	VolumeRegionalFrac  int32
	VolumeFiatValue     *int64
	VolumeFiatFrac      *int32
}

// Querier reads counters for monitoring. It takes any pgx-compatible
// connection (pool or tx) so callers outside a business transaction —
// the /monitor HTTP handler — can use the pool directly.
type Querier struct {
	conn interface {
		Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	}
}

// NewQuerier wraps a pool or transaction for read-only counter access.
func NewQuerier(conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}) *Querier {
	return &Querier{conn: conn}
}

// CurrentFrame returns the counters for the frame slot that now falls
// into, with the same shape as Slot: one row per metric that has a
// recorded event, and no row for a metric whose counter is zero.
func (q *Querier) CurrentFrame(ctx context.Context, frame Frame, now time.Time) ([]Counter, error) {
	return q.Slot(ctx, frame, Truncate(frame, now))
}

// Slot returns the counters for an explicit (frame, slot) pair, one row
// per metric that has at least one recorded event; callers should treat
// a missing metric as a zero counter.
func (q *Querier) Slot(ctx context.Context, frame Frame, slot time.Time) ([]Counter, error) {
	rows, err := q.conn.Query(ctx, `SELECT frame, slot, metric, count, volume_regional_value, volume_regional_frac, volume_fiat_value, volume_fiat_frac
		FROM stats_counters WHERE frame = $1 AND slot = $2`, string(frame), slot)
	if err != nil {
		return nil, fmt.Errorf("querying stats slot: %w", err)
	}
	defer rows.Close()

	var out []Counter
	for rows.Next() {
		var c Counter
		var frameStr, metricStr string
		if err := rows.Scan(&frameStr, &c.Slot, &metricStr, &c.Count, &c.VolumeRegionalValue, &c.VolumeRegionalFrac, &c.VolumeFiatValue, &c.VolumeFiatFrac); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		c.Frame = Frame(frameStr)
		c.Metric = Metric(metricStr)
		out = append(out, c)
	}
	return out, rows.Err()
}
