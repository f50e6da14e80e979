package delta

import (
	"fmt"
	"strings"
)

// Parse reads the textual form used by the CLI: "+key=value" inserts, "-key" removes.
func Parse(s string) (Delta, error) {
	if len(s) < 2 {
		return Delta{}, fmt.Errorf("invalid delta %q: want +key=value or -key", s)
	}
	switch s[0] {
	case '+':
		key, value, ok := strings.Cut(s[1:], "=")
		if !ok || key == "" {
			return Delta{}, fmt.Errorf("invalid insert %q: want +key=value", s)
		}
		return Insert([]byte(key), []byte(value)), nil
	case '-':
		return Remove([]byte(s[1:])), nil
	}
	return Delta{}, fmt.Errorf("invalid delta %q: want +key=value or -key", s)
}

func ParseAll(args []string) (deltas []Delta, err error) {
	deltas = make([]Delta, 0, len(args))
	for _, arg := range args {
		d, err := Parse(arg)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, d)
	}
	return deltas, nil
}
