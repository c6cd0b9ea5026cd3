// services/hal/platform/factories_host.go
//go:build !rp2040 && !rp2350

package platform

import "benchio/services/hal/halcore"

// DefaultBoard returns a fully simulated board on the host.
func DefaultBoard() Board { return NewSimBoard().Board() }

// HostBoard simulates everything except the UARTs named in ports, which
// are bound to OS serial devices (e.g. {0: "/dev/ttyUSB0"}).
func HostBoard(sim *SimBoard, ports map[int]string) Board {
	b := sim.Board()
	if len(ports) == 0 {
		return b
	}
	m := UARTMap{Ports: make(map[int]halcore.UART, len(ports)), Next: b.UART}
	for id, path := range ports {
		m.Ports[id] = NewOSUART(path)
	}
	b.UART = m
	return b
}
