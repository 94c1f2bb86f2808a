package handlers

import (
	_ "embed"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gomarkdown/markdown"
	mhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

//go:embed docs/api.md
var apiDocs []byte

var (
	docsOnce sync.Once
	docsHTML []byte
)

const docsTemplate = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>neucomp API</title></head>
<body>%s</body></html>`

// mdToHTML renders markdown with the common extensions.
func mdToHTML(md []byte) []byte {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse(md)

	opts := mhtml.RendererOptions{Flags: mhtml.CommonFlags | mhtml.HrefTargetBlank}
	return markdown.Render(doc, mhtml.NewRenderer(opts))
}

// Docs serves the API reference as HTML.
func (h *Handler) Docs(c *gin.Context) {
	docsOnce.Do(func() {
		docsHTML = []byte(fmt.Sprintf(docsTemplate, mdToHTML(apiDocs)))
	})
	c.Data(http.StatusOK, "text/html; charset=utf-8", docsHTML)
}
