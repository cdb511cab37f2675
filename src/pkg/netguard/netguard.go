/*
Package netguard decides whether the device is online before the pipeline
spends a remote call.
*/
package netguard

import (
	"context"
	"net"
	"time"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
)

const DefaultTimeout = 2500 * time.Millisecond

// Guard reports network reachability.
type Guard interface {
	Online(ctx context.Context) bool
}

// Dialer is a Guard that opens (and closes) a TCP connection to Address.
type Dialer struct {
	Address string
	Timeout time.Duration
	dial    func(ctx context.Context, network, address string) (net.Conn, error)
}

func NewDialer(address string, timeout time.Duration) *Dialer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &net.Dialer{}
	return &Dialer{Address: address, Timeout: timeout, dial: d.DialContext}
}

func (d *Dialer) Online(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	start := time.Now()
	conn, err := d.dial(probeCtx, "tcp", d.Address)
	if err != nil {
		tl.Log(tl.Warning, palette.Purple, "Network probe to '%s' %s: '%s'", d.Address, "failed", err)
		return false
	}
	_ = conn.Close()
	tl.Log(tl.Debug, palette.GreenDim, "Network probe to '%s' answered in %s", d.Address, time.Since(start).Round(time.Millisecond))
	return true
}

// Static is a Guard with a fixed answer; hosts that get connectivity from the
// device OS pass it in this way.
type Static bool

func (s Static) Online(ctx context.Context) bool {
	return bool(s)
}
