package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// IgnoreFileName is the per-tree file of extra ignore expressions, one
// regular expression per line.
const IgnoreFileName = ".dsyncignore"

// CombinePatterns joins ignore expressions into one alternation that matches
// when any of them matches a whole relative path. Blank lines and lines
// starting with '#' are skipped. No patterns yields "", which ignores nothing.
func CombinePatterns(rawPatterns []string) (string, error) {
	var parts []string
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if _, err := regexp.Compile(raw); err != nil {
			return "", fmt.Errorf("invalid ignore pattern %q: %w", raw, err)
		}
		parts = append(parts, "(?:"+raw+")")
	}
	return strings.Join(parts, "|"), nil
}

// ParseIgnoreFile reads an ignore file and returns its raw lines.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}

// IgnoreExpression assembles the ignore expression for a tree from the
// given patterns plus the tree's own ignore file.
func IgnoreExpression(dir string, patterns ...string) (string, error) {
	fromFile, err := ParseIgnoreFile(filepath.Join(dir, IgnoreFileName))
	if err != nil {
		return "", err
	}
	return CombinePatterns(append(append([]string(nil), patterns...), fromFile...))
}
