package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/reading-diary/internal/domain"

	"gorm.io/gorm"
)

type StoryRepository interface {
	Replace(ctx context.Context, story *domain.Story) error
	FindByUserID(ctx context.Context, userID uint) (*domain.Story, error)
}

type DiaryEntryRepository interface {
	Append(ctx context.Context, entry *domain.DiaryEntry) error
	ListByUserID(ctx context.Context, userID uint, req PageRequest) (PageResult[domain.DiaryEntry], error)
}

type GormStoryRepository struct{ db *gorm.DB }

func NewStoryRepository(db *gorm.DB) StoryRepository { return &GormStoryRepository{db: db} }

const storyReplaceAttempts = 3

// Replace deletes the user's current story and inserts the new one in a single
// transaction so at most one row per user is ever visible. Two concurrent saves
// can both find nothing to delete; the loser trips the user_id unique index and
// is retried, so the later save wins instead of failing.
func (r *GormStoryRepository) Replace(ctx context.Context, story *domain.Story) error {
	var err error
	for range storyReplaceAttempts {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("user_id = ?", story.UserID).Delete(&domain.Story{}).Error; err != nil {
				return err
			}
			story.ID = 0
			return tx.Create(story).Error
		})
		if !isUniqueViolation(err) {
			return err
		}
	}
	return err
}

func (r *GormStoryRepository) FindByUserID(ctx context.Context, userID uint) (*domain.Story, error) {
	var s domain.Story
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStoryNotFound
		}
		return nil, err
	}
	return &s, nil
}

type GormDiaryEntryRepository struct{ db *gorm.DB }

func NewDiaryEntryRepository(db *gorm.DB) DiaryEntryRepository {
	return &GormDiaryEntryRepository{db: db}
}

func (r *GormDiaryEntryRepository) Append(ctx context.Context, entry *domain.DiaryEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *GormDiaryEntryRepository) ListByUserID(ctx context.Context, userID uint, req PageRequest) (PageResult[domain.DiaryEntry], error) {
	req = NormalizePageRequest(req)
	scoped := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&domain.DiaryEntry{}).Where("user_id = ?", userID)
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return PageResult[domain.DiaryEntry]{}, err
	}
	var items []domain.DiaryEntry
	err := scoped().Order("created_at DESC").Order("id DESC").
		Offset(req.Offset()).
		Limit(req.PageSize).
		Find(&items).Error
	if err != nil {
		return PageResult[domain.DiaryEntry]{}, err
	}
	return newPageResult(items, req, total), nil
}
