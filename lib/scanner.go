package lib

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathStep is one segment of a navigation path into a decoded JSON value:
// either a mapping key or a sequence index.
type PathStep struct {
	key   string
	index int
	isKey bool
}

// KeyStep addresses a mapping entry.
func KeyStep(k string) PathStep { return PathStep{key: k, isKey: true} }

// IndexStep addresses a sequence element.
func IndexStep(i int) PathStep { return PathStep{index: i} }

// Path addresses one value inside a nested document. It is produced during
// scanning and replayed during rewriting, so both must use the same
// addressing.
type Path []PathStep

func (p Path) String() string {
	var b strings.Builder
	b.WriteByte('$')
	for _, s := range p {
		if s.isKey {
			b.WriteByte('.')
			b.WriteString(s.key)
		} else {
			fmt.Fprintf(&b, "[%d]", s.index)
		}
	}
	return b.String()
}

// HTMLHit pairs the path of a string value with the raw HTML found there.
type HTMLHit struct {
	Path Path
	HTML string
}

// CollectHTML walks a decoded JSON value depth first and records every string
// containing an <img> marker, case-insensitively. Every reachable string is
// visited exactly once and the input is never mutated.
func CollectHTML(v any) []HTMLHit {
	var hits []HTMLHit
	collectHTML(v, nil, &hits)
	return hits
}

func collectHTML(v any, path Path, hits *[]HTMLHit) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			collectHTML(child, append(path, KeyStep(k)), hits)
		}
	case []any:
		for i, child := range val {
			collectHTML(child, append(path, IndexStep(i)), hits)
		}
	case string:
		if strings.Contains(strings.ToLower(val), "<img") {
			p := make(Path, len(path))
			copy(p, path)
			*hits = append(*hits, HTMLHit{Path: p, HTML: val})
		}
	}
}

// SetByPath overwrites the value addressed by path inside root. An empty path
// replaces the root value itself. The path must address a position that still
// exists; containers are navigated, never created.
func SetByPath(root *any, path Path, value any) error {
	if len(path) == 0 {
		*root = value
		return nil
	}
	cur := *root
	for _, step := range path[:len(path)-1] {
		next, err := descend(cur, step)
		if err != nil {
			return fmt.Errorf("path %s: %w", path, err)
		}
		cur = next
	}
	last := path[len(path)-1]
	switch c := cur.(type) {
	case map[string]any:
		if !last.isKey {
			return fmt.Errorf("path %s: index step into mapping", path)
		}
		c[last.key] = value
	case []any:
		if last.isKey {
			return fmt.Errorf("path %s: key step into sequence", path)
		}
		if last.index < 0 || last.index >= len(c) {
			return fmt.Errorf("path %s: index %d out of range", path, last.index)
		}
		c[last.index] = value
	default:
		return fmt.Errorf("path %s: cannot set into %T", path, cur)
	}
	return nil
}

func descend(v any, step PathStep) (any, error) {
	switch c := v.(type) {
	case map[string]any:
		if !step.isKey {
			return nil, fmt.Errorf("index step into mapping")
		}
		child, ok := c[step.key]
		if !ok {
			return nil, fmt.Errorf("missing key %q", step.key)
		}
		return child, nil
	case []any:
		if step.isKey {
			return nil, fmt.Errorf("key step into sequence")
		}
		if step.index < 0 || step.index >= len(c) {
			return nil, fmt.Errorf("index %d out of range", step.index)
		}
		return c[step.index], nil
	default:
		return nil, fmt.Errorf("cannot descend into %T", v)
	}
}

// ReadDocument decodes a JSON file into a generic value. Numbers are kept as
// json.Number so a later write does not reformat numeric literals.
func ReadDocument(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return v, nil
}

// WriteDocument encodes v as indented JSON and writes it atomically: the file
// at path is either the previous content or the complete new content, never a
// partial write. HTML inside string values is not escaped.
func WriteDocument(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
