package rules

import (
	"strconv"
	"strings"
	"time"
)

// ContentKind selects how a matched rule's Content is produced.
type ContentKind int

const (
	ContentStatic ContentKind = iota
	ContentTemplate
	ContentTransformChain
	ContentCoWReference
)

// TemplateVars supplies the built-in `${var}` placeholders a Template
// Content may reference.
type TemplateVars struct {
	Path      string
	FileName  string
	Parent    string
	Extension string
	Timestamp time.Time
}

// SourceLoader loads the bytes a transform chain or CoW reference starts
// from.
type SourceLoader func(path string) ([]byte, error)

// Content is what a matched rule produces.
type Content struct {
	Kind  ContentKind
	Bytes []byte // ContentStatic

	Template string // ContentTemplate, e.g. "hello ${filename}"

	Chain *TransformChain // ContentTransformChain

	// CoWSourcePath is the path a ContentCoWReference reads through to:
	// Render loads it on every call. Nothing in this package materializes
	// it on write.
	CoWSourcePath string
}

// Render produces the bytes a matched rule's content resolves to.
func (c Content) Render(vars TemplateVars, load SourceLoader) ([]byte, error) {
	switch c.Kind {
	case ContentStatic:
		return c.Bytes, nil
	case ContentTemplate:
		return []byte(expandTemplate(c.Template, vars)), nil
	case ContentTransformChain:
		input, err := load(vars.Path)
		if err != nil {
			return nil, err
		}
		return c.Chain.Apply(vars.Path, input), nil
	case ContentCoWReference:
		return load(c.CoWSourcePath)
	default:
		return nil, nil
	}
}

func expandTemplate(tmpl string, vars TemplateVars) string {
	r := strings.NewReplacer(
		"${path}", vars.Path,
		"${filename}", vars.FileName,
		"${parent}", vars.Parent,
		"${extension}", vars.Extension,
		"${timestamp}", strconv.FormatInt(vars.Timestamp.Unix(), 10),
	)
	return r.Replace(tmpl)
}
