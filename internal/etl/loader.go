package etl

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// DefaultFetchTimeout bounds a remote GET, including reading the body.
const DefaultFetchTimeout = 30 * time.Second

// DefaultMaxSourceBytes is the largest source the loader accepts (100MB).
const DefaultMaxSourceBytes int64 = 100 * 1024 * 1024

// Loader resolves a source descriptor to a RawTable.
type Loader struct {
	client   *http.Client
	maxBytes int64
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithHTTPClient replaces the client used for remote sources.
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) { l.client = c }
}

// WithFetchTimeout sets the timeout of the default HTTP client.
func WithFetchTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		if d > 0 {
			l.client = &http.Client{Timeout: d}
		}
	}
}

// WithMaxSourceBytes caps the size of a source. Zero or negative disables the cap.
func WithMaxSourceBytes(n int64) LoaderOption {
	return func(l *Loader) { l.maxBytes = n }
}

// NewLoader creates a Loader with a 30s fetch timeout and a 100MB size cap.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		client:   &http.Client{Timeout: DefaultFetchTimeout},
		maxBytes: DefaultMaxSourceBytes,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches source and parses it according to its extension.
// Remote sources are http or https URLs; anything else is a local path.
func (l *Loader) Load(ctx context.Context, source string) (*RawTable, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, sourceError("empty source")
	}

	remote := isRemote(source)

	format, err := DetectFormat(source)
	if err != nil {
		return nil, err
	}

	var (
		data []byte
		n    int64
	)
	if remote {
		data, n, err = l.fetch(ctx, source)
	} else {
		data, n, err = l.readFile(source)
	}
	if err != nil {
		return nil, err
	}

	var table *RawTable
	switch format {
	case FormatJSON:
		table, err = parseJSON(data)
	default:
		table, err = parseCSV(data)
	}
	if err != nil {
		return nil, err
	}

	table.Source = source
	table.Format = format
	table.Bytes = n
	return table, nil
}

// DetectFormat returns the format implied by the source extension.
// URL query strings and fragments are ignored. Unknown extensions are a parse error.
func DetectFormat(source string) (Format, error) {
	p := source
	if isRemote(source) {
		if u, err := url.Parse(source); err == nil {
			p = u.Path
		}
		p = path.Ext(p)
	} else {
		p = filepath.Ext(p)
	}

	switch strings.ToLower(p) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", parseError("unsupported source type %q: expected .csv or .json", source)
	}
}

func isRemote(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func (l *Loader) fetch(ctx context.Context, source string) ([]byte, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, 0, sourceError("build request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, 0, sourceError("fetch %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, 0, sourceError("fetch %s: unexpected status %s", source, resp.Status)
	}

	data, n, err := readSource(resp.Body, l.maxBytes)
	if err != nil {
		return nil, n, sourceError("read %s: %w", source, err)
	}
	return data, n, nil
}

func (l *Loader) readFile(source string) ([]byte, int64, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, 0, sourceError("open %s: %w", source, err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.IsDir() {
		return nil, 0, sourceError("open %s: is a directory", source)
	}

	data, n, err := readSource(f, l.maxBytes)
	if err != nil {
		return nil, n, sourceError("read %s: %w", source, err)
	}
	return data, n, nil
}

// parseCSV reads comma-separated text with a mandatory header row.
// Empty cells become missing values; rows made only of blanks are skipped.
func parseCSV(data []byte) (*RawTable, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, parseError("invalid csv: missing header row")
	}
	if err != nil {
		return nil, parseError("invalid csv: %w", err)
	}

	columns := uniqueColumns(header)
	table := &RawTable{Columns: columns}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, parseError("invalid csv: %w", err)
		}
		if isEmptyRow(rec) {
			continue
		}
		// Short rows are padded with missing values; long ones have nowhere to go.
		if len(rec) > len(columns) {
			line, _ := r.FieldPos(0)
			return nil, parseError("invalid csv: line %d: %d fields, header has %d", line, len(rec), len(columns))
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if i >= len(rec) || rec[i] == "" {
				row[col] = nil
				continue
			}
			row[col] = rec[i]
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// uniqueColumns suffixes repeated header names (".1", ".2", ...) so no cell is lost.
// A suffixed name that collides with a later header is suffixed again.
func uniqueColumns(header []string) []string {
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, h := range header {
		name := h
		for n := seen[name]; n > 0; n = seen[name] {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n)
		}
		seen[name] = 1
		out[i] = name
	}
	return out
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseJSON accepts a top-level array of objects or an object holding that
// array under "items". Key order of first appearance becomes the column order.
// Numbers are kept as json.Number so no precision is lost before coercion.
func parseJSON(data []byte) (*RawTable, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, parseError("invalid json: empty document")
	}

	list := trimmed
	if trimmed[0] == '{' {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, parseError("invalid json: %w", err)
		}
		items, ok := wrapper["items"]
		if !ok {
			return nil, parseError("invalid json: object has no \"items\" list")
		}
		list = bytes.TrimSpace(items)
	}

	if len(list) == 0 || list[0] != '[' {
		return nil, parseError("invalid json: expected a list of objects")
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(list, &elems); err != nil {
		return nil, parseError("invalid json: %w", err)
	}

	table := &RawTable{}
	seen := make(map[string]bool)

	for i, elem := range elems {
		keys, row, err := decodeObject(elem)
		if err != nil {
			return nil, parseError("invalid json: item %d: %w", i, err)
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				table.Columns = append(table.Columns, k)
			}
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// decodeObject decodes one JSON object, returning its keys in document order.
func decodeObject(raw json.RawMessage) ([]string, map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("expected object, got %s", describeToken(tok))
	}

	var keys []string
	row := make(map[string]any)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected key %v", tok)
		}

		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, fmt.Errorf("value of %q: %w", key, err)
		}
		if _, dup := row[key]; !dup {
			keys = append(keys, key)
		}
		row[key] = v
	}

	return keys, row, nil
}

func describeToken(tok json.Token) string {
	switch t := tok.(type) {
	case json.Delim:
		return string(t)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", t)
	}
}
