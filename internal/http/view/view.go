package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/sandeepkv93/reading-diary/internal/domain"
	"github.com/sandeepkv93/reading-diary/internal/repository"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutFile = "templates/layout.html"

// Page is the single view model every template receives. Handlers fill only
// the fields their page reads.
type Page struct {
	Title           string
	CSRFToken       string
	User            *domain.User
	Error           string
	Notice          string
	Form            map[string]string
	Story           *domain.Story
	Entries         repository.PageResult[domain.DiaryEntry]
	AvatarURL       string
	AvatarEnabled   bool
	RequirePassword bool
	ResetToken      string
}

type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"datetime": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04") },
	"add":      func(a, b int) int { return a + b },
	"sub":      func(a, b int) int { return a - b },
}

// New parses the layout once per page so every page can define its own
// "content" block.
func New() (*Renderer, error) {
	layout, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, layoutFile)
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		if file == layoutFile {
			continue
		}
		clone, err := layout.Clone()
		if err != nil {
			return nil, err
		}
		tmpl, err := clone.ParseFS(templateFS, file)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		pages[strings.TrimSuffix(path.Base(file), ".html")] = tmpl
	}
	return &Renderer{pages: pages}, nil
}

func (v *Renderer) Has(name string) bool {
	_, ok := v.pages[name]
	return ok
}

// Render buffers the page so a template failure still yields a clean 500.
func (v *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name string, data Page) {
	tmpl, ok := v.pages[name]
	if !ok {
		slog.ErrorContext(r.Context(), "view not found", "view", name)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		slog.ErrorContext(r.Context(), "view render failed", "view", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
