package stream

import (
	"context"

	"cvdflow/reader/upstox"
)

// UpstoxDialer opens sessions through the Upstox market data feed.
func UpstoxDialer(client *upstox.Client) Dialer {
	return DialerFunc(func(ctx context.Context) (Session, error) {
		session, err := client.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return session, nil
	})
}
