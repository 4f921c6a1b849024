package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"
)

var (
	//go:embed templates/*.html
	templatesFS embed.FS
)

var pageNames = []string{
	"home.html",
	"providers.html",
	"login.html",
	"protected.html",
	"admin.html",
	"error.html",
}

// Templates renders the embedded pages, each composed with layout.html.
type Templates struct {
	pages map[string]*template.Template
}

var _ echo.Renderer = (*Templates)(nil)

func ParseTemplates() (*Templates, error) {
	t := &Templates{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		page, err := template.ParseFS(templatesFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		t.pages[name] = page
	}
	return t, nil
}

func (t *Templates) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	page, ok := t.pages[name]
	if !ok {
		return fmt.Errorf("unknown template: %s", name)
	}
	return page.ExecuteTemplate(w, name, data)
}
