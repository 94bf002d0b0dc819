package cmd

import (
	"fmt"
	"strconv"
	"strings"
)

// parsePosition splits FILE:LINE[:COL] with 1-based numbers and returns the
// file and the 0-based line. The column is accepted for editor integration;
// declarations are resolved by line.
func parsePosition(s string) (string, int, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return "", 0, fmt.Errorf("expected FILE:LINE[:COL], got %q", s)
	}
	if len(parts) >= 3 {
		if _, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			if _, err := strconv.Atoi(parts[len(parts)-2]); err == nil {
				parts = parts[:len(parts)-1]
			}
		}
	}
	line, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || line < 1 {
		return "", 0, fmt.Errorf("invalid line in %q", s)
	}
	file := strings.Join(parts[:len(parts)-1], ":")
	if file == "" {
		return "", 0, fmt.Errorf("missing file in %q", s)
	}
	return file, line - 1, nil
}
