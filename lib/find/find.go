// Package find locates the USB serial port of a GPIB controller.
package find

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.bug.st/serial/enumerator"
)

type FilterFn func(*Usbtty) bool

// PrologixFilter matches a Prologix GPIB-USB controller: an FTDI bridge
// whose product string or serial number identifies it.
func PrologixFilter(ut *Usbtty) bool {
	if strings.Contains(ut.Prod, "Prologix") {
		return true
	}
	return strings.EqualFold(ut.IDv, "0403") && strings.EqualFold(ut.IDp, "6001") &&
		strings.HasPrefix(ut.Serial, "PX")
}

// ArduinoFilter matches an Arduino, as used by the AR488 controller.
func ArduinoFilter(ut *Usbtty) bool {
	return strings.Contains(ut.Mfg, "Arduino") || strings.EqualFold(ut.IDv, "2341")
}

func SerialFilter(s string) func(ut *Usbtty) bool {
	return func(ut *Usbtty) bool { return ut.Serial == s }
}

// AnyFilter matches a tty matched by any of filters.
func AnyFilter(filters ...FilterFn) FilterFn {
	return func(ut *Usbtty) bool {
		for _, f := range filters {
			if f(ut) {
				return true
			}
		}
		return false
	}
}

// Find searches for a usb serial device. If filter is not nil,
// it is used to narrow choices down. The first device for which
// it returns true (if any) is chosen.
func Find(filter FilterFn) (string, error) {
	ttys, err := AllUsbTtys()
	if err != nil {
		return "", err
	}
	return Choose(ttys, filter)
}

// Choose applies Find's selection to ttys.
func Choose(ttys Usbttys, filter FilterFn) (string, error) {
	if filter != nil {
		var match Usbttys
		for i := range ttys {
			if filter(&ttys[i]) {
				match = Usbttys{ttys[i]}
				break
			}
		}
		ttys = match
	}

	if len(ttys) == 0 {
		return "", fmt.Errorf("no matching ttys found")
	}
	if len(ttys) == 1 {
		return ttys[0].Dev, nil
	}
	return "", fmt.Errorf("multiple ttys:\n%s", ttys)
}

type Usbtty struct {
	Dev, Path string
	IDp, IDv  string
	Mfg, Prod string
	Serial    string
}

func (u Usbtty) String() string {
	return fmt.Sprintf("dev %s path %s pid/vid %s/%s mfg/prod %s/%s serial %s", u.Dev, u.Path, u.IDp, u.IDv, u.Mfg, u.Prod, u.Serial)
}

type Usbttys []Usbtty

func (uts Usbttys) String() string {
	s := make([]string, 0, len(uts))
	for _, ut := range uts {
		s = append(s, ut.String())
	}
	return strings.Join(s, "\n")
}

// AllUsbTtys lists the serial ports on usb devices. Dev is the full port
// name, as accepted by serial.Open.
//
// The enumerator does not report the manufacturer; on linux it is read
// from sysfs when available.
func AllUsbTtys() (Usbttys, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	var devs Usbttys
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		ut := Usbtty{
			Dev:    p.Name,
			IDp:    p.PID,
			IDv:    p.VID,
			Prod:   p.Product,
			Serial: p.SerialNumber,
		}
		if runtime.GOOS == "linux" {
			ut.Path, ut.Mfg = sysfsInfo(filepath.Base(p.Name))
		}
		devs = append(devs, ut)
	}
	return devs, nil
}

// sysfsInfo resolves /sys/class/tty/<name> to its device directory and
// reads the usb manufacturer string two levels up, e.g. from
// /sys/devices/pci0000:00/0000:00:01.3/0000:02:00.0/usb1/1-10
func sysfsInfo(name string) (path, mfg string) {
	abs, err := filepath.EvalSymlinks(filepath.Join("/sys/class/tty", name))
	if err != nil {
		return "", ""
	}
	dev, err := filepath.EvalSymlinks(filepath.Join(abs, "device"))
	if err != nil {
		return abs, ""
	}
	mfg, _ = readAttr(filepath.Dir(dev), "manufacturer")
	return abs, mfg
}

// readAttr reads a sysfs attribute; a missing attribute is not an error.
func readAttr(dir, attr string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, attr))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
