//go:build !rp2040 && !rp2350

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"benchio/services/hal/acquire"
	"benchio/services/hal/blockxfer"
	"benchio/services/hal/platform"
	"benchio/services/hal/serial"
	"benchio/services/hal/usbcdc"

	"github.com/google/shlex"
)

var errQuit = errors.New("quit")

// stream is the byte-stream surface shared by UART ports and CDC
// functions.
type stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// console executes one command line at a time. Every transport call goes
// through do so that it runs on the foreground goroutine.
type console struct {
	out io.Writer
	do  func(fn func()) error

	ser *serial.Manager
	usb *usbcdc.Manager
	adc *acquire.Manager
	spi *blockxfer.Manager
	sim *platform.SimBoard // nil when real ports are attached
}

const usage = `commands:
  ports                      list live transports
  write <target> <text>      queue text on uartN or cdcN
  read <target> [max]        drain up to max bytes (default 256)
  inject <target> <text>     simulator only: bytes arriving from the wire or host
  stats                      per-transport counters
  sample [n]                 read up to n samples from adc0 and re-arm
  spi <bus> <hex>            full-duplex transfer, prints the bytes clocked in
  quit`

func (c *console) exec(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	switch args[0] {
	case "help", "?":
		fmt.Fprintln(c.out, usage)
		return nil
	case "quit", "exit":
		return errQuit
	case "ports":
		return c.ports()
	case "write":
		if len(args) < 3 {
			return errors.New("usage: write <target> <text>")
		}
		return c.write(args[1], strings.Join(args[2:], " "))
	case "read":
		if len(args) < 2 {
			return errors.New("usage: read <target> [max]")
		}
		limit := 256
		if len(args) > 2 {
			if limit, err = strconv.Atoi(args[2]); err != nil || limit <= 0 {
				return fmt.Errorf("bad max %q", args[2])
			}
		}
		return c.read(args[1], limit)
	case "inject":
		if len(args) < 3 {
			return errors.New("usage: inject <target> <text>")
		}
		return c.inject(args[1], strings.Join(args[2:], " "))
	case "stats":
		return c.stats()
	case "sample":
		n := 16
		if len(args) > 1 {
			if n, err = strconv.Atoi(args[1]); err != nil || n <= 0 {
				return fmt.Errorf("bad count %q", args[1])
			}
		}
		return c.sample(n)
	case "spi":
		if len(args) < 3 {
			return errors.New("usage: spi <bus> <hex>")
		}
		return c.transfer(args[1], strings.Join(args[2:], ""))
	}
	return fmt.Errorf("unknown command %q (try help)", args[0])
}

// target parses uartN / cdcN.
func (c *console) target(name string) (stream, error) {
	var (
		s  stream
		ok bool
	)
	switch {
	case strings.HasPrefix(name, "uart"):
		id, err := strconv.Atoi(name[4:])
		if err != nil {
			return nil, fmt.Errorf("bad port %q", name)
		}
		var h *serial.Handle
		h, ok = c.ser.Handle(id)
		s = h
	case strings.HasPrefix(name, "cdc"):
		id, err := strconv.Atoi(name[3:])
		if err != nil {
			return nil, fmt.Errorf("bad function %q", name)
		}
		var h *usbcdc.Handle
		h, ok = c.usb.Handle(id)
		s = h
	default:
		return nil, fmt.Errorf("unknown target %q", name)
	}
	if !ok {
		return nil, fmt.Errorf("%s is not open", name)
	}
	return s, nil
}

func (c *console) ports() error {
	return c.do(func() {
		c.ser.Each(func(port int, h *serial.Handle) {
			fmt.Fprintf(c.out, "%s  rx=%d tx_free=%d busy=%v\n", serial.PortName(port), h.RxAvailable(), h.TxFreeSpace(), h.TxBusy())
		})
		c.usb.Each(func(fn int, h *usbcdc.Handle) {
			fmt.Fprintf(c.out, "%s  rx=%d tx_free=%d connected=%v %d baud\n", usbcdc.Name(fn), h.RxAvailable(), h.TxFreeSpace(), h.Connected(), h.LineCoding().BaudRate)
		})
		c.adc.Each(func(id int, h *acquire.Handle) {
			fmt.Fprintf(c.out, "%s  rate=%dHz running=%v ready=%d\n", acquire.Name(id), h.Rate(), h.Running(), h.Available())
		})
	})
}

func (c *console) write(name, text string) error {
	var (
		n   int
		err error
	)
	if derr := c.do(func() {
		var s stream
		if s, err = c.target(name); err != nil {
			return
		}
		n, err = s.Write([]byte(text))
	}); derr != nil {
		return derr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "queued %d/%d bytes\n", n, len(text))
	return nil
}

func (c *console) read(name string, limit int) error {
	buf := make([]byte, limit)
	var (
		n   int
		err error
	)
	if derr := c.do(func() {
		var s stream
		if s, err = c.target(name); err != nil {
			return
		}
		n, err = s.Read(buf)
	}); derr != nil {
		return derr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%d bytes: %q\n", n, buf[:n])
	return nil
}

func (c *console) inject(name, text string) error {
	if c.sim == nil {
		return errors.New("inject needs the simulator")
	}
	var n int
	var err error
	if derr := c.do(func() {
		switch {
		case strings.HasPrefix(name, "uart"):
			id, aerr := strconv.Atoi(name[4:])
			if aerr != nil || id < 0 || id >= len(c.sim.UARTs) {
				err = fmt.Errorf("bad port %q", name)
				return
			}
			n = c.sim.UARTs[id].Inject([]byte(text))
		case strings.HasPrefix(name, "cdc"):
			id, aerr := strconv.Atoi(name[3:])
			if aerr != nil || id < 0 || id >= len(c.sim.USBs) {
				err = fmt.Errorf("bad function %q", name)
				return
			}
			n = c.sim.USBs[id].HostSend([]byte(text))
		default:
			err = fmt.Errorf("unknown target %q", name)
		}
	}); derr != nil {
		return derr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "injected %d bytes\n", n)
	return nil
}

func (c *console) stats() error {
	return c.do(func() {
		c.ser.Each(func(port int, h *serial.Handle) {
			fmt.Fprintf(c.out, "%s  %+v\n", serial.PortName(port), h.Stats())
		})
		c.usb.Each(func(fn int, h *usbcdc.Handle) {
			fmt.Fprintf(c.out, "%s  %+v\n", usbcdc.Name(fn), h.Stats())
		})
		c.adc.Each(func(id int, h *acquire.Handle) {
			fmt.Fprintf(c.out, "%s  %+v\n", acquire.Name(id), h.Stats())
		})
	})
}

func (c *console) sample(n int) error {
	buf := make([]uint16, n)
	var (
		got int
		err error
	)
	if derr := c.do(func() {
		h, ok := c.adc.Handle(acquire.ADC0)
		if !ok {
			err = errors.New("adc0 is not open")
			return
		}
		if got, err = h.Read(buf); err != nil {
			return
		}
		if got > 0 && h.Available() == 0 {
			err = h.Restart()
		}
	}); derr != nil {
		return derr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%d samples: %v\n", got, buf[:got])
	return nil
}

func (c *console) transfer(busArg, hexArg string) error {
	bus, err := strconv.Atoi(strings.TrimPrefix(busArg, "spi"))
	if err != nil {
		return fmt.Errorf("bad bus %q", busArg)
	}
	w, err := hex.DecodeString(hexArg)
	if err != nil {
		return fmt.Errorf("bad hex: %w", err)
	}
	r := make([]byte, len(w))
	if derr := c.do(func() {
		h, ok := c.spi.Handle(bus)
		if !ok {
			err = fmt.Errorf("%s is not open", blockxfer.BusName(bus))
			return
		}
		err = h.TransmitReceive(w, r)
	}); derr != nil {
		return derr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "rx %s\n", hex.EncodeToString(r))
	return nil
}
