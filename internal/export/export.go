// Package export writes tracking results to ir_metadata files.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"

	"github.com/tira-io/tirex-tracker/internal/logging"
	"github.com/tira-io/tirex-tracker/internal/model"
)

var (
	ErrAlreadyExists = model.NewError("export file already exists")
	ErrExportIO      = model.NewError("export i/o error")
	ErrUnknownFormat = model.NewError("unknown export format")
)

// Format selects the export file format.
type Format int

const (
	// Guess derives the format from the file name.
	Guess Format = iota
	IRMetadata
)

func (f Format) String() string {
	switch f {
	case Guess:
		return "guess"
	case IRMetadata:
		return "ir_metadata"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat parses "guess" (or empty) and "ir_metadata".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "guess":
		return Guess, nil
	case "ir_metadata", "ir-metadata", "irmetadata":
		return IRMetadata, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Metadata describes the tracked run beyond its measured values.
type Metadata struct {
	Title       string
	Description string
	StartedAt   time.Time
	Measures    []model.Measure // requested measures
	Extra       map[string]any  // merged into the document last
}

var (
	wrappedSuffixes = []string{"ir_metadata", "ir-metadata", "irmetadata"}
	yamlSuffixes    = []string{".yml", ".yaml"}
)

const (
	startMarker = "ir_metadata.start\n"
	endMarker   = "ir_metadata.end\n"
)

// layout is how a file name is written.
type layout struct {
	gzip    bool
	wrapped bool
}

func layoutOf(path string, format Format) (layout, error) {
	name := filepath.Base(path)
	l := layout{gzip: strings.HasSuffix(name, ".gz")}
	name = strings.TrimSuffix(name, ".gz")

	for _, s := range wrappedSuffixes {
		if strings.HasSuffix(name, s) {
			l.wrapped = true
			return l, nil
		}
	}
	for _, s := range yamlSuffixes {
		if strings.HasSuffix(name, s) {
			return l, nil
		}
	}
	if format == IRMetadata {
		return l, nil
	}
	if format != Guess {
		return l, fmt.Errorf("%w: %v", ErrUnknownFormat, format)
	}
	return l, fmt.Errorf("%w: cannot guess format of %q", ErrUnknownFormat, filepath.Base(path))
}

// Write exports results and meta to path. An existing file is never
// overwritten. Registered metadata is merged into the document and registered
// files are copied next to it.
func Write(results model.Results, meta Metadata, path string, format Format) error {
	err := write(results, meta, path, format)
	if err != nil {
		logging.Errorf("export", "export to %s failed: %v", path, err)
		return err
	}
	logging.Infof("export", "wrote %d measures to %s", len(results), path)
	return nil
}

func write(results model.Results, meta Metadata, path string, format Format) error {
	l, err := layoutOf(path, format)
	if err != nil {
		return err
	}

	doc := buildDocument(results, meta)
	deepMerge(doc, registeredMetadata())
	deepMerge(doc, cloneMap(meta.Extra))

	var buf bytes.Buffer
	if l.wrapped {
		buf.WriteString(startMarker)
	}
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("%w: encode: %v", model.ErrInternal, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("%w: encode: %v", model.ErrInternal, err)
	}
	if l.wrapped {
		buf.WriteString(endMarker)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		return fmt.Errorf("%w: %w", ErrExportIO, err)
	}
	if err := writeBody(f, buf.Bytes(), l.gzip); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("%w: %w", ErrExportIO, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("%w: %w", ErrExportIO, err)
	}

	return copyRegisteredFiles(filepath.Dir(path))
}

func writeBody(w io.Writer, body []byte, compress bool) error {
	if !compress {
		_, err := w.Write(body)
		return err
	}
	zw := gzip.NewWriter(w)
	if _, err := zw.Write(body); err != nil {
		return err
	}
	return zw.Close()
}

// Read parses a file written by Write, undoing compression and the
// ir_metadata wrapper.
func Read(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExportIO, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExportIO, err)
		}
		defer zr.Close()
		r = zr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExportIO, err)
	}
	data = bytes.TrimPrefix(data, []byte(startMarker))
	data = bytes.TrimSuffix(data, []byte(endMarker))

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedValue, err)
	}
	return doc, nil
}

// deepMerge merges src into dst. Nested maps are merged key by key; any
// other value in src replaces the one in dst.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if sub, isMap := v.(map[string]any); isMap {
			if cur, isMap := dst[k].(map[string]any); isMap {
				deepMerge(cur, sub)
				continue
			}
		}
		dst[k] = v
	}
}
