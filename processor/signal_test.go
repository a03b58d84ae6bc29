package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cvdflow/models"
)

func TestClassify(t *testing.T) {
	prev := SignalContext{PrevPriceClose: 11, PrevCvdClose: 50, Has: true}

	tests := []struct {
		name                  string
		priceOpen, priceClose float64
		cvdOpen, cvdClose     float64
		ctx                   SignalContext
		want                  models.Signal
	}{
		{"buy", 11, 13, 50, 130, prev, models.SignalBuy},
		{"sell", 13, 11, 50, 20, prev, models.SignalSell},
		{"no previous closes", 11, 13, 50, 130, SignalContext{}, models.SignalNone},
		{"price up cvd down", 11, 13, 60, 55, prev, models.SignalNone},
		{"cvd not above previous close", 11, 13, 40, 45, prev, models.SignalNone},
		{"cvd not below previous close", 13, 11, 70, 60, prev, models.SignalNone},
		{"flat price", 12, 12, 50, 130, prev, models.SignalNone},
		{"flat cvd", 11, 13, 130, 130, prev, models.SignalNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.priceOpen, tt.priceClose, tt.cvdOpen, tt.cvdClose, tt.ctx)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyIsExclusive(t *testing.T) {
	values := []float64{-10, 0, 5, 10}
	for _, po := range values {
		for _, pc := range values {
			for _, co := range values {
				for _, cc := range values {
					for _, prev := range values {
						ctx := SignalContext{PrevPriceClose: prev, PrevCvdClose: prev, Has: true}
						got := Classify(po, pc, co, cc, ctx)
						isBuy := pc > po && cc > co && cc > prev
						isSell := pc < po && cc < co && cc < prev
						assert.False(t, isBuy && isSell)
						switch {
						case isBuy:
							assert.Equal(t, models.SignalBuy, got)
						case isSell:
							assert.Equal(t, models.SignalSell, got)
						default:
							assert.Equal(t, models.SignalNone, got)
						}
					}
				}
			}
		}
	}
}

func TestAlertFor(t *testing.T) {
	buy := AlertFor(models.SignalBuy, 120)
	assert.Equal(t, &models.Alert{Signal: models.SignalBuy, Text: "BUY signal: price and CVD rising", Time: 120}, buy)

	sell := AlertFor(models.SignalSell, 60)
	assert.Equal(t, "SELL signal: price and CVD falling", sell.Text)

	assert.Nil(t, AlertFor(models.SignalNone, 1))
}

func TestSignalContextAdvance(t *testing.T) {
	var ctx SignalContext
	ctx.Advance(12, 100)
	assert.Equal(t, SignalContext{PrevPriceClose: 12, PrevCvdClose: 100, Has: true}, ctx)
	ctx.Reset()
	assert.False(t, ctx.Has)
}
