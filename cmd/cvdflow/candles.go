package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cvdflow/internal/symbols"
	"cvdflow/processor"
	"cvdflow/reader/upstox"
)

type candlesOptions struct {
	unit     string
	interval string
	from     string
	to       string
}

func newCandlesCmd(root *rootOptions) *cobra.Command {
	opts := &candlesOptions{}
	cmd := &cobra.Command{
		Use:   "candles <instrument>",
		Short: "Print historical candles with their cumulative volume delta",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			req := upstox.HistoricalRequest{
				Instrument: symbols.Normalize(args[0]),
				Unit:       opts.unit,
				Interval:   opts.interval,
				To:         opts.to,
				From:       opts.from,
			}
			if req.To == "" {
				req.To = time.Now().UTC().Format(time.DateOnly)
			}

			candles, err := upstox.NewClient(cfg.Upstox).FetchCandles(ctx, req)
			if err != nil {
				log.WithComponent("main").WithInstrument(req.Instrument).WithError(err).Error("historical fetch failed")
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME\tCVD")
			for i, cvd := range processor.CVDSeries(candles) {
				c := candles[i]
				fmt.Fprintf(w, "%s\t%g\t%g\t%g\t%g\t%g\t%g\n",
					c.Time().Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume, cvd.Close)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&opts.unit, "unit", "minutes", "candle unit: minutes, hours, days, weeks or months")
	cmd.Flags().StringVar(&opts.interval, "interval", "1", "candle interval within the unit")
	cmd.Flags().StringVar(&opts.from, "from", "", "first date, YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.to, "to", "", "last date, YYYY-MM-DD (default today)")
	return cmd
}
