package domain

import "time"

// Story is the single live entry per user; saving replaces it.
type Story struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	Genre     string    `gorm:"size:64" json:"genre"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// DiaryEntry is an append-only log line.
type DiaryEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index:idx_diary_entries_user_created,priority:1;not null" json:"user_id"`
	Genre     string    `gorm:"size:64" json:"genre"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_diary_entries_user_created,priority:2" json:"created_at"`
}
