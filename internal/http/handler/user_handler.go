package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sandeepkv93/reading-diary/internal/http/response"
	"github.com/sandeepkv93/reading-diary/internal/http/view"
	"github.com/sandeepkv93/reading-diary/internal/observability"
	"github.com/sandeepkv93/reading-diary/internal/service"
)

const avatarFormField = "avatar"

type UserHandler struct {
	userSvc       service.UserServiceInterface
	views         *view.Renderer
	avatarEnabled bool
}

func NewUserHandler(userSvc service.UserServiceInterface, views *view.Renderer, avatarEnabled bool) *UserHandler {
	return &UserHandler{userSvc: userSvc, views: views, avatarEnabled: avatarEnabled}
}

func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	h.renderProfile(w, r, http.StatusOK, "")
}

func (h *UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	uid, _ := currentUserID(r)
	if !h.avatarEnabled {
		h.renderProfile(w, r, http.StatusServiceUnavailable, "Avatar uploads are not available.")
		return
	}
	file, header, err := r.FormFile(avatarFormField)
	if err != nil {
		h.renderProfile(w, r, http.StatusBadRequest, "Please choose an image to upload.")
		return
	}
	defer file.Close()

	if _, err := h.userSvc.UploadAvatar(r.Context(), uid, file, header.Size); err != nil {
		status, msg := http.StatusInternalServerError, msgInternal
		switch {
		case errors.Is(err, service.ErrFileTooBig):
			status, msg = http.StatusRequestEntityTooLarge, "Images must be 5MB or smaller."
		case errors.Is(err, service.ErrInvalidFileType):
			status, msg = http.StatusBadRequest, "Only JPEG and PNG images are allowed."
		case errors.Is(err, service.ErrAvatarStorageDisabled):
			status, msg = http.StatusServiceUnavailable, "Avatar uploads are not available."
		default:
			slog.ErrorContext(r.Context(), "avatar upload failed", "user_id", uid, "error", err)
		}
		observability.Audit(r, observability.AuditInput{
			EventName: "user.avatar.upload", ActorUserID: formatID(uid),
			TargetType: "user", TargetID: formatID(uid),
			Action: "avatar_upload", Outcome: "failure", Reason: err.Error(),
		})
		h.renderProfile(w, r, status, msg)
		return
	}
	observability.Audit(r, observability.AuditInput{
		EventName: "user.avatar.upload", ActorUserID: formatID(uid),
		TargetType: "user", TargetID: formatID(uid),
		Action: "avatar_upload", Outcome: "success",
	})
	response.SeeOther(w, r, "/profile")
}

// renderProfile reloads the user so a fresh avatar key is shown.
func (h *UserHandler) renderProfile(w http.ResponseWriter, r *http.Request, status int, errMsg string) {
	uid, _ := currentUserID(r)
	page := basePage(r, "Profile")
	page.Error = errMsg
	page.AvatarEnabled = h.avatarEnabled
	if user, err := h.userSvc.GetByID(r.Context(), uid); err == nil {
		page.User = user
	} else {
		slog.WarnContext(r.Context(), "profile reload failed", "user_id", uid, "error", err)
	}
	if url, err := h.userSvc.AvatarURL(r.Context(), page.User); err != nil {
		slog.WarnContext(r.Context(), "avatar url failed", "user_id", uid, "error", err)
	} else {
		page.AvatarURL = url
	}
	h.views.Render(w, r, status, "profile", page)
}
