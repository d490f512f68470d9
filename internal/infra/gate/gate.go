// Package gate scans a finished phase's log artifact for a marker substring.
package gate

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// maxLineSize bounds one scanned line. Workload output can carry long result rows.
const maxLineSize = 4 * 1024 * 1024

// Verdict is the result of one check. It is computed fresh on every call.
type Verdict struct {
	Marker string
	// Count is the number of lines containing the marker.
	Count int
}

// HasMatches reports whether the marker was found at least once.
func (v Verdict) HasMatches() bool {
	return v.Count > 0
}

// Check counts the lines of path that contain marker.
//
// A path that does not exist yields a zero Verdict and no error: there is nothing
// to validate. Any other read failure is returned.
func Check(path, marker string) (Verdict, error) {
	v := Verdict{Marker: marker}
	if marker == "" {
		return v, errors.New("gate: empty marker")
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		return v, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		if strings.Contains(sc.Text(), marker) {
			v.Count++
		}
	}
	if err := sc.Err(); err != nil {
		return v, fmt.Errorf("scan artifact %s: %w", path, err)
	}
	return v, nil
}
