package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// maxAlertIndex bounds list positions; larger numbers are treated as ids.
const maxAlertIndex = 999

// AlertRef points at an alert either by its 1-based position in /alerts or by id.
type AlertRef struct {
	Index int
	ID    string
}

// ParseAlertRef extracts an alert reference from a command argument string.
func ParseAlertRef(args string) (AlertRef, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return AlertRef{}, fmt.Errorf("alert number or ID is required")
	}
	s := strings.TrimPrefix(fields[0], "#")
	if n, err := strconv.Atoi(s); err == nil && n <= maxAlertIndex {
		if n < 1 {
			return AlertRef{}, fmt.Errorf("invalid alert number %d", n)
		}
		return AlertRef{Index: n}, nil
	}
	if s == "" {
		return AlertRef{}, fmt.Errorf("alert number or ID is required")
	}
	return AlertRef{ID: s}, nil
}
