package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sandeepkv93/reading-diary/internal/domain"
	"github.com/sandeepkv93/reading-diary/internal/http/response"
	"github.com/sandeepkv93/reading-diary/internal/http/view"
	"github.com/sandeepkv93/reading-diary/internal/observability"
	"github.com/sandeepkv93/reading-diary/internal/repository"
	"github.com/sandeepkv93/reading-diary/internal/service"
)

type DiaryHandler struct {
	diarySvc service.DiaryServiceInterface
	views    *view.Renderer
}

func NewDiaryHandler(diarySvc service.DiaryServiceInterface, views *view.Renderer) *DiaryHandler {
	return &DiaryHandler{diarySvc: diarySvc, views: views}
}

func (h *DiaryHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, http.StatusOK, "dashboard", basePage(r, "Dashboard"))
}

func (h *DiaryHandler) StoryForm(w http.ResponseWriter, r *http.Request) {
	uid, _ := currentUserID(r)
	page := basePage(r, "Story")
	story, err := h.diarySvc.GetStory(r.Context(), uid)
	if err != nil {
		slog.ErrorContext(r.Context(), "load story failed", "user_id", uid, "error", err)
		page.Story = &domain.Story{}
		page.Error = msgInternal
		h.views.Render(w, r, http.StatusInternalServerError, "story", page)
		return
	}
	page.Story = story
	h.views.Render(w, r, http.StatusOK, "story", page)
}

// SaveStory replaces the user's single story.
func (h *DiaryHandler) SaveStory(w http.ResponseWriter, r *http.Request) {
	uid, _ := currentUserID(r)
	genre, content := r.PostFormValue("genre"), r.PostFormValue("story")

	story, err := h.diarySvc.SaveStory(r.Context(), uid, genre, content)
	if err != nil {
		page := basePage(r, "Story")
		page.Story = &domain.Story{Genre: genre, Content: content}
		status := h.diaryFailure(r, err, "story_save", &page)
		h.views.Render(w, r, status, "story", page)
		return
	}
	observability.Audit(r, observability.AuditInput{
		EventName: "diary.story.save", ActorUserID: formatID(uid),
		TargetType: "story", TargetID: formatID(story.ID),
		Action: "story_save", Outcome: "success",
	})
	response.SeeOther(w, r, "/story")
}

func (h *DiaryHandler) DiaryList(w http.ResponseWriter, r *http.Request) {
	uid, _ := currentUserID(r)
	page := basePage(r, "Diary")
	h.renderDiary(w, r, uid, http.StatusOK, page)
}

func (h *DiaryHandler) AppendEntry(w http.ResponseWriter, r *http.Request) {
	uid, _ := currentUserID(r)
	genre, content := r.PostFormValue("genre"), r.PostFormValue("content")

	entry, err := h.diarySvc.AppendEntry(r.Context(), uid, genre, content)
	if err != nil {
		page := basePage(r, "Diary")
		page.Form = map[string]string{"genre": genre, "content": content}
		status := h.diaryFailure(r, err, "entry_append", &page)
		h.renderDiary(w, r, uid, status, page)
		return
	}
	observability.Audit(r, observability.AuditInput{
		EventName: "diary.entry.append", ActorUserID: formatID(uid),
		TargetType: "diary_entry", TargetID: formatID(entry.ID),
		Action: "entry_append", Outcome: "success",
	})
	response.SeeOther(w, r, "/diary")
}

func (h *DiaryHandler) renderDiary(w http.ResponseWriter, r *http.Request, uid uint, status int, page view.Page) {
	pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))
	entries, err := h.diarySvc.ListEntries(r.Context(), uid, repository.PageRequest{Page: pageNum})
	if err != nil {
		slog.ErrorContext(r.Context(), "list diary entries failed", "user_id", uid, "error", err)
		page.Error = msgInternal
		status = http.StatusInternalServerError
	}
	page.Entries = entries
	h.views.Render(w, r, status, "diary", page)
}

func (h *DiaryHandler) diaryFailure(r *http.Request, err error, action string, page *view.Page) int {
	uid, _ := currentUserID(r)
	if msg, ok := inputMessage(err); ok && errors.Is(err, service.ErrInvalidDiaryInput) {
		observability.Audit(r, observability.AuditInput{
			EventName: "diary." + action, ActorUserID: formatID(uid),
			Action: action, Outcome: "failure", Reason: "invalid_input",
		})
		page.Error = msg
		return http.StatusBadRequest
	}
	slog.ErrorContext(r.Context(), "diary write failed", "action", action, "user_id", uid, "error", err)
	page.Error = msgInternal
	return http.StatusInternalServerError
}
