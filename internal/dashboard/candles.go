package dashboard

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cvdflow/internal/symbols"
	"cvdflow/models"
	"cvdflow/processor"
	"cvdflow/reader/upstox"
)

type candleForm struct {
	Instrument string `form:"instrument_key"`
	Unit       string `form:"unit"`
	Interval   string `form:"interval"`
	To         string `form:"to_date"`
	From       string `form:"from_date"`
}

type candleChart struct {
	Instrument string                    `json:"instrument"`
	Candles    []models.HistoricalCandle `json:"candles"`
	Volumes    []models.VolumeBar        `json:"volumes"`
	CVD        []models.Candle           `json:"cvd"`
	Error      string                    `json:"error,omitempty"`
}

func (f candleForm) request() upstox.HistoricalRequest {
	unit := strings.TrimSpace(f.Unit)
	if unit == "" {
		unit = "minutes"
	}
	interval := strings.TrimSpace(f.Interval)
	if interval == "" {
		interval = "1"
	}
	to := strings.TrimSpace(f.To)
	if to == "" {
		to = time.Now().UTC().Format(time.DateOnly)
	}
	return upstox.HistoricalRequest{
		Instrument: symbols.Normalize(f.Instrument),
		Unit:       unit,
		Interval:   interval,
		To:         to,
		From:       strings.TrimSpace(f.From),
	}
}

// handleCandleData fetches a historical batch and renders it. Failures render
// an empty chart carrying the error text. JSON callers get 400 for a form
// that does not parse; the HTML page falls back to the defaults.
func (s *Server) handleCandleData(c *gin.Context) {
	wantsJSON := strings.Contains(c.GetHeader("Accept"), "application/json")

	var form candleForm
	if err := c.ShouldBind(&form); err != nil {
		s.log.WithComponent("server").WithError(err).Debug("candle form did not bind")
		if wantsJSON {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	req := form.request()

	chart := candleChart{
		Instrument: req.Instrument,
		Candles:    []models.HistoricalCandle{},
		Volumes:    []models.VolumeBar{},
		CVD:        []models.Candle{},
	}

	if s.deps.Candles == nil {
		chart.Error = "historical candles are not configured"
	} else if candles, err := s.deps.Candles.FetchCandles(c.Request.Context(), req); err != nil {
		s.log.WithComponent("server").WithInstrument(req.Instrument).WithError(err).Warn("historical fetch failed")
		chart.Error = err.Error()
	} else {
		chart.Candles = candles
		for _, candle := range candles {
			chart.Volumes = append(chart.Volumes, models.VolumeBarFor(candle))
		}
		for i, cvd := range processor.CVDSeries(candles) {
			chart.CVD = append(chart.CVD, models.Candle{
				Timestamp: candles[i].Timestamp,
				Open:      cvd.Open,
				High:      cvd.High,
				Low:       cvd.Low,
				Close:     cvd.Close,
			})
		}
	}

	if wantsJSON {
		status := http.StatusOK
		if chart.Error != "" {
			status = http.StatusBadGateway
		}
		c.JSON(status, chart)
		return
	}
	c.HTML(http.StatusOK, "chart.tmpl", gin.H{
		"Instrument": chart.Instrument,
		"Chart":      chart,
		"Error":      chart.Error,
	})
}
