package view

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/reading-diary/internal/domain"
	"github.com/sandeepkv93/reading-diary/internal/repository"
)

func newRendererForTest(t *testing.T) *Renderer {
	t.Helper()
	v, err := New()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	return v
}

func TestNewParsesEveryPage(t *testing.T) {
	v := newRendererForTest(t)
	for _, name := range []string{"signup", "login", "verify", "dashboard", "profile", "story", "diary", "forgot", "reset"} {
		if !v.Has(name) {
			t.Fatalf("expected page %q", name)
		}
	}
	if v.Has("layout") {
		t.Fatal("layout must not be a page")
	}
}

func TestRenderEscapesUserContent(t *testing.T) {
	v := newRendererForTest(t)
	req := httptest.NewRequest(http.MethodGet, "/story", nil)
	rr := httptest.NewRecorder()

	v.Render(rr, req, http.StatusOK, "story", Page{
		CSRFToken: "csrf-abc",
		User:      &domain.User{ID: 1, Name: "Ana"},
		Story:     &domain.Story{Content: "<script>alert(1)</script>"},
	})

	body := rr.Body.String()
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Fatal("expected story content to be escaped")
	}
	if !strings.Contains(body, `value="csrf-abc"`) {
		t.Fatal("expected csrf token in form")
	}
	if rr.Header().Get("Content-Type") != "text/html; charset=utf-8" {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
}

func TestRenderDiaryPagination(t *testing.T) {
	v := newRendererForTest(t)
	req := httptest.NewRequest(http.MethodGet, "/diary?page=2", nil)
	rr := httptest.NewRecorder()

	v.Render(rr, req, http.StatusOK, "diary", Page{
		User: &domain.User{ID: 1, Name: "Ana"},
		Entries: repository.PageResult[domain.DiaryEntry]{
			Items:      []domain.DiaryEntry{{ID: 7, Genre: "fantasy", Content: "chapter nine", CreatedAt: time.Now()}},
			Page:       2,
			PageSize:   10,
			Total:      25,
			TotalPages: 3,
		},
	})

	body := rr.Body.String()
	for _, want := range []string{"chapter nine", "/diary?page=1", "/diary?page=3", "Page 2 of 3"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in diary page", want)
		}
	}
}

func TestRenderUnknownPage(t *testing.T) {
	v := newRendererForTest(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	v.Render(rr, req, http.StatusOK, "missing", Page{})

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
