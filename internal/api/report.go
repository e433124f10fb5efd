package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/cortical-data/affinity.report/internal/db"
	"github.com/cortical-data/affinity.report/internal/eeg"
)

// handleReport renders a quick bar chart (HTML) of a score's stored
// per-channel band powers using go-echarts. This is a debugging-only
// endpoint to eyeball band distributions without the frontend.
// Query params:
//   - score (optional; defaults to the most recent score)
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}

	scoreID, err := s.scoreIDParam(r)
	if errors.Is(err, db.ErrNoScores) {
		s.writeJSONError(w, http.StatusNotFound, "no scores recorded yet")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	powers, err := s.db.BandPowersForScore(scoreID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load band powers: %v", err))
		return
	}
	if len(powers) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no band powers stored for this score")
		return
	}

	channelNames := eeg.ChannelNames(len(powers))

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Band Powers", Theme: "dark", Width: "1100px", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: "Per-Channel Band Power", Subtitle: fmt.Sprintf("score=%d channels=%d", scoreID, len(powers))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "power (uV^2)"}),
	)

	bar.SetXAxis(channelNames)
	for _, band := range eeg.StandardBands {
		series := make([]opts.BarData, len(powers))
		for ch, chPowers := range powers {
			var value float64
			if chPowers != nil {
				value = chPowers[band.Name]
			}
			series[ch] = opts.BarData{Value: value}
		}
		bar.AddSeries(band.Name, series)
	}

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
