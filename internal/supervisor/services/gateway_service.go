// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

package services

import (
	"context"
)

// DispatchLoop matches the gateway's Serve method. Declared here instead
// of importing the gateway package so the wrapper stays dependency-free
// and trivially mockable.
type DispatchLoop interface {
	Serve(ctx context.Context) error
}

// GatewayService wraps the gateway's dispatch loop as a supervised
// service. The loop already follows the suture.Service contract, so the
// wrapper only contributes a stable name for supervisor logs.
type GatewayService struct {
	loop DispatchLoop
	name string
}

// NewGatewayService creates a new dispatch loop service wrapper.
func NewGatewayService(loop DispatchLoop) *GatewayService {
	return &GatewayService{
		loop: loop,
		name: "gateway-dispatch",
	}
}

// Serve implements suture.Service by delegating to the dispatch loop,
// which drains the Deliver queue until the context is canceled and then
// returns ctx.Err().
func (g *GatewayService) Serve(ctx context.Context) error {
	return g.loop.Serve(ctx)
}

// String implements fmt.Stringer for supervisor log messages.
func (g *GatewayService) String() string {
	return g.name
}
