package comwrapper

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultPatterns cover USB serial adapters on macOS and Linux.
var DefaultPatterns = []string{
	"/dev/tty.usbserial*",
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
}

// Locator resolves the serial device to open.
//
// An explicit Device always wins. Otherwise every pattern is globbed and the
// lexicographically first match across all patterns is chosen, so two adapters
// plugged in at once resolve the same way on every run.
type Locator struct {
	Device   string
	Patterns []string
}

func (l Locator) patterns() []string {
	if len(l.Patterns) == 0 {
		return DefaultPatterns
	}
	return l.Patterns
}

// Locate returns the device path or ErrDeviceNotFound.
func (l Locator) Locate() (string, error) {
	if l.Device != "" {
		return l.Device, nil
	}
	matches, err := l.Candidates()
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", ErrDeviceNotFound
	}
	return matches[0], nil
}

// Candidates lists every matching device node, sorted and de-duplicated.
func (l Locator) Candidates() ([]string, error) {
	seen := make(map[string]bool)
	var all []string
	for _, pattern := range l.patterns() {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("device pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	sort.Strings(all)
	return all, nil
}

// Check fails when no device could ever be resolved: no explicit device is
// set and every pattern is malformed or points into a directory that does
// not exist. A well-formed pattern with no current match is fine; the device
// may be plugged in later.
func (l Locator) Check() error {
	if l.Device != "" {
		return nil
	}
	for _, pattern := range l.patterns() {
		if _, err := filepath.Match(pattern, ""); err != nil {
			continue
		}
		if info, err := os.Stat(filepath.Dir(pattern)); err == nil && info.IsDir() {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrNoDevicePattern, l.patterns())
}
