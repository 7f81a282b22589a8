// Package exemplar exposes past user corrections as few-shot teaching
// material for the classifier. Records come back most recent first so a
// small limit always surfaces the freshest lessons.
package exemplar

import (
	"fmt"

	"github.com/sefton37/triage/internal/taxonomy"
)

// Record is one correction rendered for prompting: the original request
// text, what the system decided, what the user said instead, and why.
type Record struct {
	Request   string                  `json:"request"`
	System    taxonomy.Classification `json:"system"`
	Corrected taxonomy.Classification `json:"corrected"`
	Reasoning string                  `json:"reasoning,omitempty"`
}

// Source supplies correction records, newest first.
type Source interface {
	Corrections(limit int) ([]Record, error)
	HasCorrections() (bool, error)
}

// Context answers "what has the user taught us" for the classifier.
type Context struct {
	src Source
}

func NewContext(src Source) *Context {
	return &Context{src: src}
}

// GetCorrections returns up to limit corrections, most recent first. A
// limit of zero or less returns an empty slice without touching the source.
func (c *Context) GetCorrections(limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	recs, err := c.src.Corrections(limit)
	if err != nil {
		return nil, fmt.Errorf("load corrections: %w", err)
	}
	return recs, nil
}

// HasCorrections reports whether at least one correction exists.
func (c *Context) HasCorrections() (bool, error) {
	ok, err := c.src.HasCorrections()
	if err != nil {
		return false, fmt.Errorf("check corrections: %w", err)
	}
	return ok, nil
}
