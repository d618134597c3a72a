package engine

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultContextLines is the number of lines shown before and after an offending line.
const DefaultContextLines = 3

// ContextLine is one line of a source window.
type ContextLine struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
	Marked bool   `json:"marked,omitempty"`
}

// SourceContext is a fixed-width window of lines around a finding.
type SourceContext struct {
	FilePath string        `json:"file_path"`
	Line     int           `json:"line"`
	Lines    []ContextLine `json:"lines"`
}

// ReadSourceContext loads radius lines before and after line from root/relPath.
func ReadSourceContext(root, relPath string, line, radius int) (*SourceContext, error) {
	if line <= 0 {
		return nil, fmt.Errorf("no line number for %s", relPath)
	}
	if radius < 0 {
		radius = DefaultContextLines
	}
	path := relPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, filepath.FromSlash(relPath))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	first, last := line-radius, line+radius
	if first < 1 {
		first = 1
	}
	sc := &SourceContext{FilePath: relPath, Line: line}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		if n < first {
			continue
		}
		if n > last {
			break
		}
		sc.Lines = append(sc.Lines, ContextLine{Number: n, Text: scanner.Text(), Marked: n == line})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if n < line {
		return nil, fmt.Errorf("%s has %d lines, finding is at line %d", relPath, n, line)
	}
	return sc, nil
}

// Render formats the window with the offending line marked by ">>".
func (c *SourceContext) Render() string {
	if c == nil {
		return ""
	}
	width := len(fmt.Sprint(c.Line + len(c.Lines)))
	var sb strings.Builder
	for _, l := range c.Lines {
		marker := "  "
		if l.Marked {
			marker = ">>"
		}
		sb.WriteString(fmt.Sprintf("%s %*d | %s\n", marker, width, l.Number, l.Text))
	}
	return sb.String()
}
