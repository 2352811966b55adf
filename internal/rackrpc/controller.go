package rackrpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	gsync "gvisor.dev/gvisor/pkg/sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Controller holds a vector of per-client Servers and polls them
// round-robin, interleaving a call to the network interface between
// rounds the way the spec describes ("the network iface is polled
// between rounds with the current wall-clock"). NetPoll is optional;
// when nil, rounds simply loop without it.
type Controller struct {
	mu      gsync.Mutex
	servers []*Server
	limiter *rate.Limiter

	// NetPoll is invoked once per round with the current time, for
	// whatever out-of-band network bookkeeping (DCM notifications, link
	// health) the controller needs between client polls.
	NetPoll func(now time.Time)

	log *slog.Logger
}

// NewController creates a Controller that polls its servers at most
// pollRate times per second, to avoid a busy loop pinning a core when no
// client has anything pending.
func NewController(pollRate rate.Limit, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{limiter: rate.NewLimiter(pollRate, 1), log: log}
}

// AddServer registers a client's Server with the controller. Safe to
// call while Run is active.
func (c *Controller) AddServer(s *Server) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers = append(c.servers, s)
}

// removeServer drops a disconnected client's Server from the poll set.
func (c *Controller) removeServer(target *Server) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.servers {
		if s == target {
			c.servers = append(c.servers[:i], c.servers[i+1:]...)
			return
		}
	}
}

// Run polls every registered server once per round until ctx is
// cancelled. Per-client RPCs are therefore served in order; across
// clients there is no ordering guarantee, matching the concurrency
// model's contract. Each round's per-server polls run concurrently via
// an errgroup so one slow client cannot stall the others within a round.
func (c *Controller) Run(ctx context.Context) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		c.mu.Lock()
		servers := append([]*Server(nil), c.servers...)
		c.mu.Unlock()

		var g errgroup.Group
		var disconnectedMu sync.Mutex
		var disconnected []*Server
		for _, s := range servers {
			s := s
			g.Go(func() error {
				err := s.Poll()
				switch {
				case err == nil:
					return nil
				case errors.Is(err, io.EOF):
					disconnectedMu.Lock()
					disconnected = append(disconnected, s)
					disconnectedMu.Unlock()
					return nil
				case errors.Is(err, ErrWouldBlock):
					return nil
				default:
					c.log.Warn("rackrpc: server poll failed", "client_id", s.ClientID(), "err", err)
					return nil
				}
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for _, s := range disconnected {
			c.log.Info("rackrpc: client disconnected", "client_id", s.ClientID())
			c.removeServer(s)
		}

		if c.NetPoll != nil {
			c.NetPoll(time.Now())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
