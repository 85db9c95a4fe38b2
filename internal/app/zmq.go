//go:build zmq

package app

import (
	"context"

	"github.com/1ureka/syncrelay/internal/config"
	"github.com/1ureka/syncrelay/internal/relay"
	"github.com/1ureka/syncrelay/internal/util"
	"github.com/1ureka/syncrelay/internal/zmqconn"
)

// startZMQ runs a ROUTER socket on cfg.ZMQ.Endpoint. The returned func
// stops it and waits for its connections to be reported closed.
func startZMQ(ctx context.Context, cfg *config.Config, r *relay.Relay) (stop func(), err error) {
	if !cfg.ZMQ.Enabled {
		return func() {}, nil
	}

	router, err := zmqconn.NewRouter(cfg.ZMQ.Endpoint, r, limits(cfg))
	if err != nil {
		return nil, err
	}

	zctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := router.Run(zctx); err != nil {
			util.LogError("ZeroMQ router stopped: %v", err)
		}
	}()
	util.LogInfo("ZeroMQ router bound to %s", router.Endpoint())

	return func() {
		cancel()
		<-done
	}, nil
}
