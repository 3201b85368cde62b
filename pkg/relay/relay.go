// Package relay drives the valve relay. GPIO uses the Linux sysfs interface;
// Simulated keeps the state in memory for development boards and tests.
package relay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

const DefaultSysfsRoot = "/sys/class/gpio"

var ErrNotExported = errors.New("relay: gpio not exported")

type GPIO struct {
	root      string
	pin       int
	activeLow bool

	mu     sync.Mutex
	active bool
}

// OpenGPIO exports pin if needed and configures it as a low output, so the
// valve starts closed.
func OpenGPIO(root string, pin int, activeLow bool) (*GPIO, error) {
	if root == "" {
		root = DefaultSysfsRoot
	}
	g := &GPIO{root: root, pin: pin, activeLow: activeLow}
	dir := g.pinDir()
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(root, "export"), []byte(strconv.Itoa(pin)), 0o200); err != nil {
			return nil, fmt.Errorf("export gpio %d: %w", pin, err)
		}
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("%w: %d", ErrNotExported, pin)
		}
	}
	initial := "low"
	if activeLow {
		initial = "high"
	}
	if err := os.WriteFile(filepath.Join(dir, "direction"), []byte(initial), 0o644); err != nil {
		return nil, fmt.Errorf("gpio %d direction: %w", pin, err)
	}
	return g, nil
}

func (g *GPIO) pinDir() string {
	return filepath.Join(g.root, "gpio"+strconv.Itoa(g.pin))
}

func (g *GPIO) SetActive(active bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	level := active != g.activeLow
	v := []byte("0")
	if level {
		v = []byte("1")
	}
	if err := os.WriteFile(filepath.Join(g.pinDir(), "value"), v, 0o644); err != nil {
		return fmt.Errorf("gpio %d value: %w", g.pin, err)
	}
	g.active = active
	return nil
}

func (g *GPIO) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

type Simulated struct {
	active atomic.Bool
	log    *logrus.Entry
}

func NewSimulated(log *logrus.Entry) *Simulated { return &Simulated{log: log} }

func (s *Simulated) SetActive(active bool) error {
	if s.active.Swap(active) != active {
		s.log.Infof("relay %s", onOff(active))
	}
	return nil
}

func (s *Simulated) Active() bool { return s.active.Load() }

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
