// Package storage 提供数据存储功能
package storage

import (
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/KodaTao/AgentResume/pkg/observability"
)

// MemoryPath 内存数据库路径，进程退出后数据丢失
const MemoryPath = ":memory:"

// Config 数据库配置
type Config struct {
	Path    string // 数据库文件路径，为空或 ":memory:" 时使用内存数据库
	LogMode string // silent / error / warn / info
}

// Open 打开数据库连接并迁移给定的模型
func Open(cfg Config, models ...any) (*gorm.DB, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		dbPath = MemoryPath
	}

	if dbPath != MemoryPath {
		// 处理路径中的 ~
		dbPath = expandPath(dbPath)

		// 确保目录存在
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(parseLogMode(cfg.LogMode)),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// 每个内存数据库连接都是独立的库，只能使用单连接
	if dbPath == MemoryPath {
		sqlDB.SetMaxOpenConns(1)
	}

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}

	observability.Info("Database initialized", "path", dbPath)
	return db, nil
}

// Close 关闭数据库连接
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func parseLogMode(mode string) logger.LogLevel {
	switch strings.ToLower(mode) {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}

// expandPath 展开路径中的 ~ 为用户主目录
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
