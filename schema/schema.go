// Package schema validates list payloads against a JSON Schema.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Schema is a compiled JSON Schema. Documents without "$schema" are read as
// draft 2020-12. Format keywords are asserted.
type Schema struct {
	url      string
	compiled *jsonschema.Schema
}

// ValidationError locates the first violation in a document.
type ValidationError struct {
	Path string
	Msg  string
}

func (e *ValidationError) Error() string {
	return e.Path + ": " + e.Msg
}

var printer = message.NewPrinter(language.English)

// Compile compiles a decoded schema document registered under url. Relative
// references in it resolve against url.
func Compile(url string, doc any) (*Schema, error) {
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", url, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", url, err)
	}
	return &Schema{url: url, compiled: compiled}, nil
}

// Parse compiles a schema from its JSON text.
func Parse(url string, raw []byte) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", url, err)
	}
	return Compile(url, doc)
}

// LoadFile reads a schema from a JSON file.
func LoadFile(path string) (*Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return Parse(abs, raw)
}

// URL is the location the schema was registered under.
func (s *Schema) URL() string {
	if s == nil {
		return ""
	}
	return s.url
}

// ValidateJSON decodes raw and validates it. A nil schema accepts any
// well-formed JSON.
func (s *Schema) ValidateJSON(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &ValidationError{Path: "$", Msg: "malformed JSON: " + err.Error()}
	}
	return s.Validate(doc)
}

// Validate checks a decoded document. A nil schema accepts everything.
func (s *Schema) Validate(doc any) error {
	if s == nil {
		return nil
	}
	err := s.compiled.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return &ValidationError{Path: "$", Msg: err.Error()}
	}
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	return &ValidationError{
		Path: instancePath(verr.InstanceLocation),
		Msg:  verr.ErrorKind.LocalizedString(printer),
	}
}

// instancePath renders a JSON pointer as $.name[1].
func instancePath(tokens []string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, tok := range tokens {
		if _, err := strconv.ParseUint(tok, 10, 64); err == nil {
			b.WriteString("[" + tok + "]")
			continue
		}
		b.WriteString("." + tok)
	}
	return b.String()
}
