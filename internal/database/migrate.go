package database

import (
	"context"
	"time"

	"github.com/sandeepkv93/reading-diary/internal/domain"
	"github.com/sandeepkv93/reading-diary/internal/observability"

	"gorm.io/gorm"
)

// Models lists the tables owned by this service in migration order.
func Models() []any {
	return []any{
		&domain.User{},
		&domain.Session{},
		&domain.Story{},
		&domain.DiaryEntry{},
		&domain.PasswordResetToken{},
	}
}

func Migrate(db *gorm.DB) error {
	start := time.Now()
	defer func() {
		observability.RecordDatabaseStartupDuration(context.Background(), "migrate", time.Since(start))
	}()
	return db.AutoMigrate(Models()...)
}

// PendingTables returns the tables that do not exist yet.
func PendingTables(db *gorm.DB) ([]string, error) {
	migrator := db.Migrator()
	var pending []string
	for _, model := range Models() {
		if migrator.HasTable(model) {
			continue
		}
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return nil, err
		}
		pending = append(pending, stmt.Schema.Table)
	}
	return pending, nil
}
