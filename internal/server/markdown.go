package server

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// RenderMarkdown converts markdown text to HTML. Raw HTML in the source is
// dropped by goldmark's default renderer.
func RenderMarkdown(src string) template.HTML {
	var buf bytes.Buffer
	_ = md.Convert([]byte(src), &buf)
	return template.HTML(buf.String())
}
