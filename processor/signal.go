package processor

import "cvdflow/models"

const (
	buyAlertText  = "BUY signal: price and CVD rising"
	sellAlertText = "SELL signal: price and CVD falling"
)

// SignalContext holds the closes of the previously accepted candle. Has is
// false until one candle has been seen in the current session.
type SignalContext struct {
	PrevPriceClose float64
	PrevCvdClose   float64
	Has            bool
}

// Advance records the closes of the candle that was just classified.
func (c *SignalContext) Advance(priceClose, cvdClose float64) {
	c.PrevPriceClose = priceClose
	c.PrevCvdClose = cvdClose
	c.Has = true
}

func (c *SignalContext) Reset() {
	*c = SignalContext{}
}

// Classify returns BUY when price and CVD both rose within the candle and CVD
// made a higher close than the previous candle, SELL for the mirror case, and
// SignalNone otherwise. Without previous closes it always returns SignalNone.
func Classify(priceOpen, priceClose, cvdOpen, cvdClose float64, ctx SignalContext) models.Signal {
	if !ctx.Has {
		return models.SignalNone
	}
	switch {
	case priceClose > priceOpen && cvdClose > cvdOpen && cvdClose > ctx.PrevCvdClose:
		return models.SignalBuy
	case priceClose < priceOpen && cvdClose < cvdOpen && cvdClose < ctx.PrevCvdClose:
		return models.SignalSell
	default:
		return models.SignalNone
	}
}

// AlertFor builds the alert for a signal at ts, or nil for SignalNone.
func AlertFor(sig models.Signal, ts int64) *models.Alert {
	switch sig {
	case models.SignalBuy:
		return &models.Alert{Signal: sig, Text: buyAlertText, Time: ts}
	case models.SignalSell:
		return &models.Alert{Signal: sig, Text: sellAlertText, Time: ts}
	default:
		return nil
	}
}
