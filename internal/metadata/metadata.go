// Package metadata reads and writes the [METADATA] record carried by every
// package archive.
package metadata

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/git-pkgs/hkg/internal/core"
)

// Section is the only section header a metadata record may carry.
const Section = "METADATA"

// FileName is the metadata file name inside a package tree.
const FileName = "metadata"

// Required keys, in the order they are written.
const (
	KeyName        = "name"
	KeyVersion     = "version"
	KeyDescription = "description"
	KeyAuthorName  = "author_name"
	KeyAuthorEmail = "author_email"
	KeyWebsite     = "website"
)

// RequiredKeys lists the keys every record must define with a non-empty value.
var RequiredKeys = []string{KeyName, KeyVersion, KeyDescription, KeyAuthorName, KeyAuthorEmail, KeyWebsite}

// Field is a single key/value pair.
type Field struct {
	Key   string
	Value string
}

// Record is a parsed metadata record. Keys outside RequiredKeys are kept in
// Extra in the order they appeared.
type Record struct {
	Name        string
	Version     core.Version
	Description string
	AuthorName  string
	AuthorEmail string
	Website     string
	Extra       []Field
}

// Parse reads a metadata record.
func Parse(data []byte) (*Record, error) {
	values := make(map[string]string)
	var order []string
	sawHeader := false
	lineNo := 0

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, malformed(lineNo, "", "unterminated section header")
			}
			name := strings.TrimSpace(line[1 : len(line)-1])
			if name != Section {
				return nil, malformed(lineNo, "", fmt.Sprintf("unexpected section [%s]", name))
			}
			if sawHeader {
				return nil, malformed(lineNo, "", "duplicate [METADATA] section")
			}
			sawHeader = true
			continue
		}

		if !sawHeader {
			return nil, malformed(lineNo, "", "entry before [METADATA] header")
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, malformed(lineNo, "", "expected key = value")
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" {
			return nil, malformed(lineNo, "", "empty key")
		}
		if _, dup := values[key]; dup {
			return nil, malformed(lineNo, key, "duplicate key")
		}
		values[key] = value
		order = append(order, key)
	}
	if err := scanner.Err(); err != nil {
		return nil, &core.MetadataError{Err: core.ErrMalformedMetadata, Msg: err.Error()}
	}
	if !sawHeader {
		return nil, malformed(0, "", "missing [METADATA] header")
	}

	for _, key := range RequiredKeys {
		if values[key] == "" {
			return nil, malformed(0, key, "required key missing or empty")
		}
	}

	if err := core.ValidateName(values[KeyName]); err != nil {
		return nil, &core.MetadataError{
			Key: KeyName,
			Err: fmt.Errorf("%w: %w", core.ErrMalformedMetadata, err),
		}
	}
	version, err := core.ParseVersion(values[KeyVersion])
	if err != nil {
		return nil, &core.MetadataError{Key: KeyVersion, Err: err}
	}

	rec := &Record{
		Name:        values[KeyName],
		Version:     version,
		Description: values[KeyDescription],
		AuthorName:  values[KeyAuthorName],
		AuthorEmail: values[KeyAuthorEmail],
		Website:     values[KeyWebsite],
	}
	for _, key := range order {
		if isRequired(key) {
			continue
		}
		rec.Extra = append(rec.Extra, Field{Key: key, Value: values[key]})
	}
	return rec, nil
}

func malformed(line int, key, msg string) error {
	return &core.MetadataError{Line: line, Key: key, Msg: msg, Err: core.ErrMalformedMetadata}
}

func isRequired(key string) bool {
	for _, k := range RequiredKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Fields returns every field, required keys first.
func (r *Record) Fields() []Field {
	fields := []Field{
		{KeyName, r.Name},
		{KeyVersion, r.Version.String()},
		{KeyDescription, r.Description},
		{KeyAuthorName, r.AuthorName},
		{KeyAuthorEmail, r.AuthorEmail},
		{KeyWebsite, r.Website},
	}
	return append(fields, r.Extra...)
}

// Get returns the value for key, including extra keys.
func (r *Record) Get(key string) (string, bool) {
	for _, f := range r.Fields() {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Validate checks that the record can be serialized and parsed back unchanged.
func (r *Record) Validate() error {
	if err := core.ValidateName(r.Name); err != nil {
		return &core.MetadataError{Key: KeyName, Err: fmt.Errorf("%w: %w", core.ErrMalformedMetadata, err)}
	}
	seen := make(map[string]bool)
	for _, f := range r.Fields() {
		if f.Value == "" {
			return malformed(0, f.Key, "empty value")
		}
		if f.Key == "" || f.Key != strings.ToLower(strings.TrimSpace(f.Key)) ||
			strings.ContainsAny(f.Key, "=[]\n\r") || f.Key[0] == '#' || f.Key[0] == ';' {
			return malformed(0, f.Key, "invalid key")
		}
		if f.Value != strings.TrimSpace(f.Value) || strings.ContainsAny(f.Value, "\n\r") {
			return malformed(0, f.Key, "value must be a single trimmed line")
		}
		if seen[f.Key] {
			return malformed(0, f.Key, "duplicate key")
		}
		seen[f.Key] = true
	}
	return nil
}

// Marshal serializes the record. Callers that need a parseable result should
// call Validate first.
func (r *Record) Marshal() []byte {
	var b bytes.Buffer
	b.WriteString("[" + Section + "]\n")
	for _, f := range r.Fields() {
		fmt.Fprintf(&b, "%s = %s\n", f.Key, f.Value)
	}
	return b.Bytes()
}

// Template returns the skeleton record written by package init.
func Template(name string) *Record {
	return &Record{
		Name:        name,
		Version:     core.Version{Major: 0, Minor: 1},
		Description: "A brief description of your program goes here.",
		AuthorName:  "your_name",
		AuthorEmail: "your_email@example.com",
		Website:     "http://example.com",
	}
}
