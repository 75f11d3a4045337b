package websocket

import (
	"context"

	"golang.org/x/time/rate"
)

// pingLoop sends automatic pings no closer together than c.pingInterval,
// rate limited by golang.org/x/time/rate so a misconfigured interval
// cannot flood the connection with pings. It runs until the connection
// closes.
func (c *Conn) pingLoop() {
	lim := rate.NewLimiter(rate.Every(c.pingInterval), 1)

	for {
		if err := lim.Wait(context.Background()); err != nil {
			return
		}

		select {
		case <-c.closed:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.closeTimeout)
		err := c.Ping(ctx)
		cancel()
		if err != nil {
			return
		}
	}
}
