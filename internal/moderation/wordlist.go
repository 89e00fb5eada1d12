package moderation

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Wordlist holds the forbidden-word sets used by the detector. Lines in the
// source file are plain lowercase words; a trailing '*' marks a prefix match
// and a leading '!' marks an exception that is never flagged.
type Wordlist struct {
	Exact      map[string]struct{}
	Prefixes   []string
	Exceptions map[string]struct{}
}

// LoadWordlist reads a word list from a text file. Empty lines and lines
// starting with '#' are skipped. A missing file yields an empty list, not an
// error: deployments without a word list simply skip profanity checks.
func LoadWordlist(path string) (*Wordlist, error) {
	wl := &Wordlist{
		Exact:      make(map[string]struct{}),
		Exceptions: make(map[string]struct{}),
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return wl, nil
		}
		return nil, fmt.Errorf("failed to open wordlist: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "!"):
			wl.Exceptions[line[1:]] = struct{}{}
		case strings.HasSuffix(line, "*"):
			wl.Prefixes = append(wl.Prefixes, strings.TrimSuffix(line, "*"))
		default:
			wl.Exact[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read wordlist: %w", err)
	}

	return wl, nil
}

// Empty reports whether the list contains no entries at all.
func (wl *Wordlist) Empty() bool {
	return len(wl.Exact) == 0 && len(wl.Prefixes) == 0
}
