package database

import (
	msgRepo "github.com/xpanvictor/relay/internal/repository/message"
	"gorm.io/gorm"
)

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&msgRepo.AssistantMessageEntity{},
		&msgRepo.MessageUsageEntity{},
	)
}
