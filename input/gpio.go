package input

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// GPIO reads inputs from the kernel sysfs GPIO interface. Pins must already
// be exported and configured as inputs (done once at deployment, matching the
// station image).
type GPIO struct {
	// Base is the sysfs root, overridable for tests. Defaults to /sys/class/gpio.
	Base string
}

func (g *GPIO) path(pin int) string {
	base := g.Base
	if base == "" {
		base = "/sys/class/gpio"
	}
	return fmt.Sprintf("%s/gpio%d/value", base, pin)
}

func (g *GPIO) Read(pin int) (bool, error) {
	data, err := os.ReadFile(g.path(pin))
	if err != nil {
		return false, errors.Wrapf(err, "reading gpio %d", pin)
	}
	switch strings.TrimSpace(string(data)) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, errors.Errorf("gpio %d: unexpected value %q", pin, data)
}
