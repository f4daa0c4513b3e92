package csrc

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/JakeFAU/regcrawl/internal/config"
)

const (
	defaultPageTemplate  = "templates/page.html"
	defaultStyleTemplate = "templates/style.css"
)

//go:embed templates/page.html templates/style.css
var defaultTemplates embed.FS

// PageTemplate wraps cleaned detail content into a printable document.
type PageTemplate struct {
	page  *template.Template
	style string
}

type pageData struct {
	Title   string
	Style   string
	Content string
}

// LoadPageTemplate reads the page template and stylesheet named by the stage
// configuration. Unset names fall back to the built-in files.
func LoadPageTemplate(cfg config.StageConfig) (*PageTemplate, error) {
	pageText, err := readTemplate(cfg.TemplatePath, cfg.TemplateFiles.Page, defaultPageTemplate)
	if err != nil {
		return nil, err
	}
	style, err := readTemplate(cfg.TemplatePath, cfg.TemplateFiles.Style, defaultStyleTemplate)
	if err != nil {
		return nil, err
	}
	page, err := template.New("page").Parse(pageText)
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}
	return &PageTemplate{page: page, style: style}, nil
}

func readTemplate(dir, name, fallback string) (string, error) {
	if name == "" {
		b, err := defaultTemplates.ReadFile(fallback)
		return string(b), err
	}
	path := name
	if dir != "" && !filepath.IsAbs(name) {
		path = filepath.Join(dir, name)
	}
	b, err := os.ReadFile(path) //nolint:gosec // operator supplied template path
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", path, err)
	}
	return string(b), nil
}

// Render fills the template with title and content.
func (t *PageTemplate) Render(title, content string) (string, error) {
	var buf bytes.Buffer
	if err := t.page.Execute(&buf, pageData{Title: title, Style: t.style, Content: content}); err != nil {
		return "", fmt.Errorf("render page template: %w", err)
	}
	return buf.String(), nil
}
