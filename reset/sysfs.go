package reset

import (
	"fmt"
	"os"
	"path/filepath"
)

// SysfsPin drives a GPIO line through the Linux /sys/class/gpio interface.
// It is the concrete Pin used outside of tests; tests use a fake Pin
// instead of touching /sys.
type SysfsPin struct {
	number int
	base   string // defaults to /sys/class/gpio
}

// NewSysfsPin exports number under base (pass "" for the standard
// /sys/class/gpio path) and returns a Pin for it.
func NewSysfsPin(number int, base string) (*SysfsPin, error) {
	if base == "" {
		base = "/sys/class/gpio"
	}
	p := &SysfsPin{number: number, base: base}
	pinDir := filepath.Join(base, fmt.Sprintf("gpio%d", number))
	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		if werr := os.WriteFile(filepath.Join(base, "export"), []byte(fmt.Sprintf("%d", number)), 0200); werr != nil {
			return nil, fmt.Errorf("reset: export gpio%d: %w", number, werr)
		}
	}
	return p, nil
}

func (p *SysfsPin) pinDir() string {
	return filepath.Join(p.base, fmt.Sprintf("gpio%d", p.number))
}

func (p *SysfsPin) SetOutput() error {
	return os.WriteFile(filepath.Join(p.pinDir(), "direction"), []byte("out"), 0200)
}

func (p *SysfsPin) SetLow() error {
	return os.WriteFile(filepath.Join(p.pinDir(), "value"), []byte("0"), 0200)
}

func (p *SysfsPin) SetHigh() error {
	return os.WriteFile(filepath.Join(p.pinDir(), "value"), []byte("1"), 0200)
}
