// Package connutil opens a GPIB controller on a serial port from command
// line flags.
package connutil

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gotmc/hysteresis/lib/find"
	"github.com/gotmc/hysteresis/lib/gpib"
	"go.bug.st/serial"
	"go.uber.org/multierr"
)

// ErrDiagDone is returned by Setup once the -diag sequence has run.
var ErrDiagDone = errors.New("controller diagnostics done")

// Port is the part of serial.Port the controller needs.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Conn holds the connection flags.
type Conn struct {
	SerialPort string
	Baud       int
	GpibPAD    int
	GpibSAD    int
	Delay      time.Duration
	Timeout    time.Duration
	AR488      bool
	Diag       bool

	// Logger receives connection messages. It must be set before Setup.
	Logger *log.Logger

	// open replaces serial.Open in tests.
	open func(name string, baud int, timeout time.Duration) (Port, error)

	tty     string
	finderr error
}

// AddFlags is to be called before [flag.Parse].
func (c *Conn) AddFlags(fs *flag.FlagSet) {
	c.tty, c.finderr = find.Find(find.AnyFilter(find.PrologixFilter, find.ArduinoFilter))
	if c.finderr != nil {
		c.tty = "/dev/ttyUSB0"
	}

	if c.Baud == 0 {
		c.Baud = 115200
	}
	if c.GpibPAD == 0 {
		c.GpibPAD = 8
	}
	if c.GpibSAD == 0 {
		c.GpibSAD = 0xff
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}

	fs.StringVar(&c.SerialPort, "port", c.tty, "Serial port for Prologix VCP GPIB controller")
	fs.IntVar(&c.Baud, "baud", c.Baud, "serial baud rate")
	fs.IntVar(&c.GpibPAD, "pad", c.GpibPAD, "GPIB primary address for the device")
	fs.IntVar(&c.GpibSAD, "sad", c.GpibSAD, "GPIB secondary address for the device (255 for none)")
	fs.DurationVar(&c.Delay, "delay", c.Delay, "delay between writes")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "serial read timeout")
	fs.BoolVar(&c.AR488, "ar488", c.AR488, "controller is an Arduino AR488")
	fs.BoolVar(&c.Diag, "diag", c.Diag, "xdiag and exit")
}

func openSerial(name string, baud int, timeout time.Duration) (Port, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		return nil, multierr.Append(err, port.Close())
	}
	return port, nil
}

// Setup is to be called after both [(Conn).AddFlags] and [flag.Parse]. The
// cleanup returns the instrument to front panel control and closes the port.
func (c *Conn) Setup(opts ...gpib.ControllerOption) (ctrl *gpib.Controller, cleanup func() error, err error) {
	nocleanup := func() error { return nil }
	l := c.Logger
	if l == nil {
		l = log.New(io.Discard)
	}

	if c.finderr != nil && c.SerialPort == c.tty {
		// only print this if the port isn't overridden via flag
		l.Warn("locating serial port failed, guessing", "port", c.SerialPort, "err", c.finderr)
	}
	l.Info("opening serial port", "port", c.SerialPort, "baud", c.Baud)

	open := c.open
	if open == nil {
		open = openSerial
	}
	port, err := open(c.SerialPort, c.Baud, c.Timeout)
	if err != nil {
		return nil, nocleanup, fmt.Errorf("opening %s: %w", c.SerialPort, err)
	}

	if c.Delay > 0 {
		opts = append(opts, gpib.WithWriteDelay(c.Delay))
	}
	if c.GpibSAD != 0xff {
		opts = append(opts, gpib.WithSecondaryAddress(c.GpibSAD))
	}
	if c.AR488 {
		opts = append(opts, gpib.WithAR488())
	}

	ctrl, err = gpib.NewController(port, c.GpibPAD, false, opts...)
	if err != nil {
		return nil, nocleanup, multierr.Append(err, port.Close())
	}

	cleanup = func() error {
		// Return local control to the front panel, then discard any unread
		// data and close.
		err := ctrl.FrontPanel(true)
		err = multierr.Append(err, port.ResetInputBuffer())
		return multierr.Append(err, port.Close())
	}
	if c.Diag {
		l.Info("diag starting...")
		for _, cmd := range []string{"xdiag 1 255", "xdiag 0 255", "xdiag 0 0", "xdiag 1 0"} {
			err = multierr.Append(err, ctrl.CommandController(cmd))
			time.Sleep(100 * time.Millisecond)
		}
		if err = multierr.Append(err, cleanup()); err == nil {
			err = ErrDiagDone
		}
		return nil, nocleanup, err
	}

	return ctrl, cleanup, nil
}
