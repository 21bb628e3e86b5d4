package cert

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"sort"
)

// ErrIncompleteConfig is returned when an auth file has no location or no
// content.
var ErrIncompleteConfig = errors.New("incomplete auth file configuration")

// WriteACLFile writes one mosquitto ACL rule per line.
func WriteACLFile(location string, rules []string) (string, error) {
	if location == "" || len(rules) == 0 {
		return "", ErrIncompleteConfig
	}
	return location, writeLines(location, rules)
}

// WritePasswordFile writes user:password lines sorted by user name.
func WritePasswordFile(location string, users map[string]string) (string, error) {
	if location == "" || len(users) == 0 {
		return "", ErrIncompleteConfig
	}
	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, name+":"+users[name])
	}
	return location, writeLines(location, lines)
}

func writeLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
