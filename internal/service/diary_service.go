package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sandeepkv93/reading-diary/internal/domain"
	"github.com/sandeepkv93/reading-diary/internal/observability"
	"github.com/sandeepkv93/reading-diary/internal/repository"
)

const (
	maxGenreLength   = 64
	maxContentLength = 20000
)

var ErrInvalidDiaryInput = errors.New("invalid diary input")

type DiaryService struct {
	stories repository.StoryRepository
	entries repository.DiaryEntryRepository
	cache   DiaryPageCache
	logger  *slog.Logger
}

func NewDiaryService(stories repository.StoryRepository, entries repository.DiaryEntryRepository, cache DiaryPageCache, logger *slog.Logger) *DiaryService {
	if cache == nil {
		cache = NoopDiaryPageCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiaryService{stories: stories, entries: entries, cache: cache, logger: logger}
}

// SaveStory replaces the user's single story.
func (s *DiaryService) SaveStory(ctx context.Context, userID uint, genre, content string) (*domain.Story, error) {
	genre, content, err := normalizeDiaryInput(genre, content)
	if err != nil {
		observability.RecordDiaryEvent(ctx, "story_save", "invalid")
		return nil, err
	}
	story := &domain.Story{UserID: userID, Genre: genre, Content: content}
	if err := s.stories.Replace(ctx, story); err != nil {
		observability.RecordDiaryEvent(ctx, "story_save", "error")
		return nil, err
	}
	observability.RecordDiaryEvent(ctx, "story_save", "success")
	return story, nil
}

// GetStory returns an empty story rather than an error when none was saved.
func (s *DiaryService) GetStory(ctx context.Context, userID uint) (*domain.Story, error) {
	story, err := s.stories.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrStoryNotFound) {
			return &domain.Story{UserID: userID}, nil
		}
		return nil, err
	}
	return story, nil
}

func (s *DiaryService) AppendEntry(ctx context.Context, userID uint, genre, content string) (*domain.DiaryEntry, error) {
	genre, content, err := normalizeDiaryInput(genre, content)
	if err != nil {
		observability.RecordDiaryEvent(ctx, "entry_append", "invalid")
		return nil, err
	}
	entry := &domain.DiaryEntry{UserID: userID, Genre: genre, Content: content}
	if err := s.entries.Append(ctx, entry); err != nil {
		observability.RecordDiaryEvent(ctx, "entry_append", "error")
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "diary cache invalidate failed", "user_id", userID, "error", err)
	}
	observability.RecordDiaryEvent(ctx, "entry_append", "success")
	return entry, nil
}

// ListEntries serves from the page cache when it can. Cache failures fall
// through to the database.
func (s *DiaryService) ListEntries(ctx context.Context, userID uint, req repository.PageRequest) (repository.PageResult[domain.DiaryEntry], error) {
	req = repository.NormalizePageRequest(req)
	page, ok, err := s.cache.Get(ctx, userID, req)
	if err != nil {
		s.logger.WarnContext(ctx, "diary cache read failed", "user_id", userID, "error", err)
	}
	if ok {
		observability.RecordDiaryCacheEvent(ctx, "hit")
		return page, nil
	}
	observability.RecordDiaryCacheEvent(ctx, "miss")

	page, err = s.entries.ListByUserID(ctx, userID, req)
	if err != nil {
		return page, err
	}
	if err := s.cache.Set(ctx, userID, req, page); err != nil {
		s.logger.WarnContext(ctx, "diary cache write failed", "user_id", userID, "error", err)
	}
	return page, nil
}

func normalizeDiaryInput(genre, content string) (string, string, error) {
	genre = strings.ToLower(strings.TrimSpace(genre))
	content = strings.TrimSpace(content)
	if content == "" {
		return "", "", &InputError{Message: "content is required", kind: ErrInvalidDiaryInput}
	}
	if utf8.RuneCountInString(genre) > maxGenreLength {
		return "", "", &InputError{Message: "genre is too long", kind: ErrInvalidDiaryInput}
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return "", "", &InputError{Message: "content is too long", kind: ErrInvalidDiaryInput}
	}
	return genre, content, nil
}
