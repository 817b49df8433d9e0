package view

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
)

//go:embed templates/page.html
var pageHTML string

var pageTmpl = template.Must(template.New("page").Parse(pageHTML))

// Page is the data the page template renders.
type Page struct {
	Title      string
	SearchPath string
	PagerPath  string
	State      State
}

// Errored reports whether the page shows an error.
func (s State) Errored() bool { return s.Status == StatusErrored }

// Rendered reports whether the page shows an answer, possibly empty.
func (s State) Rendered() bool { return s.Status == StatusRendered }

// Render writes the full page for st with the default routes.
func Render(w io.Writer, st State) error {
	return RenderPage(w, Page{
		Title:      "Searx search",
		SearchPath: "/search",
		PagerPath:  "/pager",
		State:      st,
	})
}

// RenderPage writes p. Every interpolated value is escaped by html/template.
func RenderPage(w io.Writer, p Page) error {
	if err := pageTmpl.Execute(w, p); err != nil {
		return fmt.Errorf("render page failed: %w", err)
	}
	return nil
}
