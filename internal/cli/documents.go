package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"chronicle/proofread/internal/prosemirror"
)

// defaultPatterns is what check looks at when no pattern is given.
var defaultPatterns = []string{"**/*.json"}

// collectFiles expands patterns under dir. Results are relative to dir,
// deduplicated and sorted.
func collectFiles(dir string, patterns []string) ([]string, error) {
	fsys := os.DirFS(dir)
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		pattern = filepath.ToSlash(strings.TrimPrefix(pattern, "./"))
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", pattern, err)
		}
		for _, match := range matches {
			if seen[match] {
				continue
			}
			if info, err := fs.Stat(fsys, match); err != nil || info.IsDir() {
				continue
			}
			seen[match] = true
			files = append(files, match)
		}
	}
	sort.Strings(files)
	return files, nil
}

// readDocument loads a ProseMirror JSON document. Any other file is read as
// plain text, one paragraph per line.
func readDocument(path string) (*prosemirror.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		doc, err := prosemirror.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return doc, nil
	}

	var blocks []prosemirror.Node
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		blocks = append(blocks, prosemirror.Paragraph(strings.TrimRight(scanner.Text(), "\r")))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prosemirror.Doc(blocks...), nil
}
