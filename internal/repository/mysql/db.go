package mysql

import (
	"log"
	"sync"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/example/teaminbox/internal/config"
	"github.com/example/teaminbox/internal/datamodels/assignment"
	"github.com/example/teaminbox/internal/datamodels/audit"
	"github.com/example/teaminbox/internal/datamodels/channel"
	"github.com/example/teaminbox/internal/datamodels/contact"
	"github.com/example/teaminbox/internal/datamodels/conversation"
	"github.com/example/teaminbox/internal/datamodels/message"
	"github.com/example/teaminbox/internal/datamodels/staffnote"
)

var (
	db   *gorm.DB
	once sync.Once
)

// Init 初始化全局 GORM 实例并自动迁移表结构
func Init(cfg *config.MySQLConfig) *gorm.DB {
	once.Do(func() {
		var err error
		db, err = gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
		if err != nil {
			log.Fatalf("failed to connect mysql: %v", err)
		}

		if err = db.AutoMigrate(
			&channel.Channel{},
			&contact.Contact{},
			&conversation.Conversation{},
			&message.Message{},
			&message.Attachment{},
			&assignment.Assignment{},
			&audit.Record{},
			&staffnote.Note{},
		); err != nil {
			log.Fatalf("auto migrate failed: %v", err)
		}
	})
	return db
}

// DB 获取全局 DB
func DB() *gorm.DB {
	return db
}
