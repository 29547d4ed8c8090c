package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"libeufin-bank/internal/auth"
	"libeufin-bank/internal/stats"
)

type monitorCounter struct {
	Metric         string `json:"metric"`
	Count          int64  `json:"count"`
	VolumeRegional string `json:"volume_regional"`
	VolumeFiat     string `json:"volume_fiat,omitempty"`
}

// handleMonitor serves the admin-only aggregate counters, defaulting
// to the current hour slot; timeframe=day|month|year and an explicit
// which=<unix-seconds> pick a different frame/slot.
func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	if s.statsQ == nil {
		writeError(w, newErr(http.StatusNotImplemented, codeNotImplemented, "stats are not configured"))
		return
	}
	frame := stats.Frame(r.URL.Query().Get("timeframe"))
	switch frame {
	case stats.FrameHour, stats.FrameDay, stats.FrameMonth, stats.FrameYear:
	case "":
		frame = stats.FrameHour
	default:
		writeError(w, newErr(http.StatusBadRequest, codeParameterMalformed, "timeframe must be one of hour, day, month, year"))
		return
	}

	var counters []stats.Counter
	var err error
	if which := r.URL.Query().Get("which"); which != "" {
		sec, perr := parseUnixSeconds(which)
		if perr != nil {
			writeError(w, perr)
			return
		}
		counters, err = s.statsQ.Slot(r.Context(), frame, stats.Truncate(frame, sec))
	} else {
		counters, err = s.statsQ.CurrentFrame(r.Context(), frame, time.Now())
	}
	if err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}

	out := make([]monitorCounter, 0, len(counters))
	for _, c := range counters {
		mc := monitorCounter{
			Metric:         string(c.Metric),
			Count:          c.Count,
			VolumeRegional: formatBaseUnits(c.VolumeRegionalValue, c.VolumeRegionalFrac),
		}
		if c.VolumeFiatValue != nil && c.VolumeFiatFrac != nil {
			mc.VolumeFiat = formatBaseUnits(*c.VolumeFiatValue, *c.VolumeFiatFrac)
		}
		out = append(out, mc)
	}
	writeJSON(w, http.StatusOK, struct {
		Timeframe string           `json:"timeframe"`
		Counters  []monitorCounter `json:"counters"`
	}{Timeframe: string(frame), Counters: out})
}

func parseUnixSeconds(s string) (time.Time, *apiError) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, newErr(http.StatusBadRequest, codeParameterMalformed, "which must be a unix timestamp in seconds")
	}
	return time.Unix(sec, 0), nil
}

func formatBaseUnits(value int64, frac int32) string {
	return fmt.Sprintf("%d.%08d", value, frac)
}
