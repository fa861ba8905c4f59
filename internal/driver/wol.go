package driver

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/plan"
)

// WakeOnLANFactory powers nodes on with a magic packet. The driver returns
// once the packet is sent; it does not wait for the node to come up.
type WakeOnLANFactory struct {
	broadcast string
	macs      map[string]net.HardwareAddr
	logger    *zap.Logger
}

// NewWakeOnLANFactory parses the hardware addresses of the nodes.
func NewWakeOnLANFactory(broadcast string, macs map[string]string, logger *zap.Logger) (*WakeOnLANFactory, error) {
	parsed := make(map[string]net.HardwareAddr, len(macs))
	for node, mac := range macs {
		hw, err := net.ParseMAC(mac)
		if err != nil {
			return nil, fmt.Errorf("%w: hardware address of %s: %v", domain.ErrInvalidArgument, node, err)
		}
		if len(hw) != 6 {
			return nil, fmt.Errorf("%w: hardware address of %s is not an EUI-48", domain.ErrInvalidArgument, node)
		}
		parsed[node] = hw
	}
	return &WakeOnLANFactory{broadcast: broadcast, macs: parsed, logger: logger}, nil
}

// New implements Factory for Startup actions.
func (f *WakeOnLANFactory) New(a plan.Action) (Driver, error) {
	startup, ok := a.(*plan.Startup)
	if !ok {
		return nil, fmt.Errorf("%w: wake-on-LAN cannot execute %s", domain.ErrInvalidArgument, a)
	}
	hw, ok := lookup(f.macs, startup.Node.Name)
	if startup.Node.MACAddress != "" {
		var err error
		if hw, err = net.ParseMAC(startup.Node.MACAddress); err != nil {
			return nil, fmt.Errorf("%w: hardware address of %s: %v", domain.ErrInvalidArgument, startup.Node.Name, err)
		}
	} else if !ok {
		return nil, fmt.Errorf("%w: no hardware address for %s", domain.ErrNotFound, startup.Node.Name)
	}
	packet := magicPacket(hw)
	return Func(func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "udp", f.broadcast)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", f.broadcast, err)
		}
		defer conn.Close()
		if _, err := conn.Write(packet); err != nil {
			return fmt.Errorf("failed to send magic packet: %w", err)
		}
		f.logger.Info("Sent wake-on-LAN packet",
			zap.String("node", startup.Node.Name),
			zap.String("mac", hw.String()),
		)
		return nil
	}), nil
}

// magicPacket is 6 bytes of 0xff followed by 16 copies of the address.
func magicPacket(hw net.HardwareAddr) []byte {
	var buf bytes.Buffer
	buf.Write(bytes.Repeat([]byte{0xff}, 6))
	for i := 0; i < 16; i++ {
		buf.Write(hw)
	}
	return buf.Bytes()
}
