// Copyright (c) 2020–2024 The hysteresis developers. All rights reserved.
// Project site: https://github.com/gotmc/hysteresis
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package gpib drives a Prologix GPIB-USB controller (or an AR488 clone) as
// controller-in-charge of a single instrument.
package gpib

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Controller models a GPIB controller-in-charge.
type Controller struct {
	rw               io.ReadWriter
	r                *bufio.Reader
	primaryAddr      int
	hasSecondaryAddr bool
	secondaryAddr    int
	auto             bool
	usbTerm          byte
	eotChar          byte
	readTimeout      time.Duration
	writeDelay       time.Duration
	lastWrite        time.Time
	logger           *log.Logger
	ar488            bool // compatibility with Arduino AR488 - see WithAR488 documentation for details.
}

// ControllerOption applies an option to the controller.
type ControllerOption func(*Controller)

// NewController creates a GPIB controller-in-charge at the given address using
// the given Prologix driver, which can either be a Virtual COM Port (VCP), USB
// direct, or Ethernet. Enable clear to send the Selected Device Clear (SDC)
// message to the GPIB address. Optionally controller configuration can be
// included using a ControllerOption.
func NewController(
	rw io.ReadWriter,
	addr int,
	clear bool,
	opts ...ControllerOption,
) (*Controller, error) {
	c := Controller{
		rw:          rw,
		r:           bufio.NewReader(rw),
		primaryAddr: addr,
		usbTerm:     '\n',
		eotChar:     '\n',
		readTimeout: 500 * time.Millisecond,
		logger:      log.New(io.Discard),
	}

	for _, opt := range opts {
		opt(&c)
	}

	if !isPrimaryAddressValid(c.primaryAddr) {
		return nil, fmt.Errorf("invalid primary address %d (must by 0-30)", c.primaryAddr)
	}

	addrCmd := fmt.Sprintf("addr %d", c.primaryAddr)
	if c.hasSecondaryAddr {
		if !isSecondaryAddressValid(c.secondaryAddr) {
			return nil, fmt.Errorf("invalid secondary address %d (must be 96-126)", c.secondaryAddr)
		}
		addrCmd = fmt.Sprintf("addr %d %d", c.primaryAddr, c.secondaryAddr)
	}
	cmds := []string{}
	if !c.ar488 {
		cmds = append(cmds,
			"verbose 0", // turn off verbosity if on
			"savecfg 0", // Disable saving of configuration parameters in EPROM
		)
	}
	cmds = append(cmds,
		addrCmd,  // Set the primary address.
		"mode 1", // Switch to controller mode.
		"auto 0", // Turn off read-after-write and address instrument to listen.
		"eoi 1",  // Enable EOI assertion with last character.
		"eos 0",  // Set GPIB termination.
		fmt.Sprintf("read_tmo_ms %d", c.readTimeout.Milliseconds()),
		fmt.Sprintf("eot_char %d", c.eotChar),
		"eot_enable 1", // Append character when EOI detected.
	)
	if !c.ar488 {
		cmds = append(cmds, "savecfg 1")
	}
	if clear {
		cmds = append(cmds, "clr")
	}
	for _, cmd := range cmds {
		if err := c.CommandController(cmd); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

// WithSecondaryAddress sets a secondary address, which must be in the range of
// 96 and 126, inclusive.
func WithSecondaryAddress(addr int) ControllerOption {
	return func(c *Controller) {
		c.hasSecondaryAddr = true
		c.secondaryAddr = addr
	}
}

// WithLogger logs every command and response at debug level.
func WithLogger(l *log.Logger) ControllerOption { return func(c *Controller) { c.logger = l } }

// WithAR488 slightly alters the init commands, for compatiblity with the
// Arduino-based AR488. Specifically, we do not emit 'verbose 0', nor do
// we toggle savecfg.
func WithAR488() ControllerOption { return func(c *Controller) { c.ar488 = true } }

// WithWriteDelay spaces consecutive writes at least d apart. Some
// instruments drop commands that arrive back to back.
func WithWriteDelay(d time.Duration) ControllerOption {
	return func(c *Controller) { c.writeDelay = d }
}

// WithReadTimeout sets the controller's GPIB read timeout (1-3000 ms).
func WithReadTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.readTimeout = d }
}

func (c *Controller) write(p []byte) (int, error) {
	if c.writeDelay > 0 {
		if wait := c.writeDelay - time.Since(c.lastWrite); wait > 0 {
			time.Sleep(wait)
		}
		defer func() { c.lastWrite = time.Now() }()
	}
	return c.rw.Write(p)
}

// Write writes the given data to the instrument at the currently assigned GPIB
// address.
func (c *Controller) Write(p []byte) (n int, err error) {
	return c.write(p)
}

// Read reads from the instrument at the currently assigned GPIB address into
// the given byte slice.
func (c *Controller) Read(p []byte) (n int, err error) {
	return c.r.Read(p)
}

// Command formats according to a format specifier if provided and sends a
// SCPI/ASCII command to the instrument at the currently assigned GPIB address.
// All leading and trailing whitespace is removed before appending the USB
// terminator to the command sent to the Prologix.
func (c *Controller) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	cmd = strings.TrimSpace(cmd)
	c.logger.Debug("gpib command", "cmd", cmd)
	_, err := c.write([]byte(cmd + string(c.usbTerm)))
	return err
}

// Query queries the instrument at the currently assigned GPIB using the given
// SCPI/ASCII command and returns the response up to and including the EOT
// character. The Prologix controller removes all non-escaped LF, CR and ESC
// characters from cmd and appends the GPIB terminator before sending it.
//
// Controller satisfies the Querier interface of github.com/gotmc/query.
func (c *Controller) Query(cmd string) (string, error) {
	if err := c.ask(cmd); err != nil {
		return "", err
	}
	s, err := c.r.ReadString(c.eotChar)
	c.logger.Debug("gpib response", "cmd", cmd, "resp", s)
	if err == io.EOF {
		return s, nil
	}
	return s, err
}

// QueryBinary sends cmd and reads exactly n bytes of binary response. The
// EOT character the controller appends after the final byte is consumed.
func (c *Controller) QueryBinary(cmd string, n int) ([]byte, error) {
	if err := c.ask(cmd); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, fmt.Errorf("reading %d byte response to %q: %w", n, cmd, err)
	}
	if _, err := c.r.ReadByte(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading terminator after %q: %w", cmd, err)
	}
	c.logger.Debug("gpib binary response", "cmd", cmd, "bytes", n)
	return buf, nil
}

// ask sends cmd and, with read-after-write disabled, tells the controller
// to read the response.
func (c *Controller) ask(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	c.logger.Debug("gpib query", "cmd", cmd)
	if _, err := c.write([]byte(cmd + string(c.usbTerm))); err != nil {
		return fmt.Errorf("error writing command: %w", err)
	}
	if !c.auto {
		if err := c.CommandController("read eoi"); err != nil {
			return fmt.Errorf("error sending `++read eoi` command: %w", err)
		}
	}
	return nil
}

// QueryController sends the given command to the Prologix controller and
// returns its response as a string. To indicate this is a command for the
// Prologix controller, thereby not transmitting over GPIB, two plus signs `++`
// are prepended. Addtionally, a new line is appended to act as the USB
// termination character.
func (c *Controller) QueryController(cmd string) (string, error) {
	err := c.CommandController(cmd)
	if err != nil {
		return "", err
	}
	s, err := c.r.ReadString(c.eotChar)
	c.logger.Debug("controller response", "cmd", cmd, "resp", s)
	return s, err
}

// CommandController sends the given command to the Prologix controller. To
// indicate this is a command for the Prologix controller, thereby not
// transmitting to the instrument over GPIB, two plus signs `++` are prepended.
// Addtionally, a new line is appended to act as the USB termination character.
func (c *Controller) CommandController(cmd string) error {
	cmd = fmt.Sprintf("++%s%c", strings.ToLower(strings.TrimSpace(cmd)), c.usbTerm)
	c.logger.Debug("controller command", "cmd", strings.TrimSpace(cmd))
	_, err := c.write([]byte(cmd))
	return err
}

// FrontPanel returns the instrument to local control when local is true.
// Otherwise the next command addresses it and it goes remote again.
func (c *Controller) FrontPanel(local bool) error {
	if !local {
		return nil
	}
	return c.CommandController("loc")
}

// ClearDevice sends the Selected Device Clear (SDC) message to the
// instrument.
func (c *Controller) ClearDevice() error {
	return c.CommandController("clr")
}

// InstrumentAddress returns the primary and secondary GPIB addresses. The
// secondary address is 0 when none is set.
func (c *Controller) InstrumentAddress() (primary, secondary int) {
	if c.hasSecondaryAddr {
		return c.primaryAddr, c.secondaryAddr
	}
	return c.primaryAddr, 0
}

// Version asks the controller for its version string.
func (c *Controller) Version() (string, error) {
	s, err := c.QueryController("ver")
	return strings.TrimSpace(s), err
}

// isPrimaryAddressValid checks that the primary GPIB address is between 0 and
// 30, inclusive.
func isPrimaryAddressValid(addr int) bool {
	return addr >= 0 && addr <= 30
}

// isSecondaryAddressValid checks that the secondary GPIB address is between 96
// and 126, inclusive.
func isSecondaryAddressValid(addr int) bool {
	return addr >= 96 && addr <= 126
}
