// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package devsim

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/Thermoquad/provisor/pkg/tfp"
)

// ServeConn answers packets on conn until it fails or is closed
func (c *Controller) ServeConn(conn tfp.PacketConn) error {
	defer conn.Close()
	for {
		p, err := conn.ReadPacket()
		if err != nil {
			return err
		}
		for _, out := range c.Handle(p) {
			if err := conn.WritePacket(out); err != nil {
				return err
			}
		}
	}
}

// Serve accepts protocol connections on ln until ctx is done
func (c *Controller) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return err
		}
		c.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("protocol client connected")

		pc := tfp.NewStreamConn(conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			stop := context.AfterFunc(ctx, func() { pc.Close() })
			defer stop()
			err := c.ServeConn(pc)
			c.log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("protocol client gone")
		}()
	}
}
