//go:build !zmq

package app

import (
	"context"
	"errors"

	"github.com/1ureka/syncrelay/internal/config"
	"github.com/1ureka/syncrelay/internal/relay"
)

var errNoZMQ = errors.New("zmq transport requested but this binary was built without -tags zmq")

func startZMQ(_ context.Context, cfg *config.Config, _ *relay.Relay) (stop func(), err error) {
	if cfg.ZMQ.Enabled {
		return nil, errNoZMQ
	}
	return func() {}, nil
}
