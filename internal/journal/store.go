package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"arber/internal/config"
)

// Store 持有留痕库连接，表结构由 Service 负责。
type Store struct {
	db *sql.DB
}

// NewStore 打开（必要时创建）SQLite 留痕库并验证连接可用。
func NewStore(cfg config.JournalConfig) (*Store, error) {
	if !cfg.InMemory {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("创建留痕库目录 %q 失败: %w", dir, err)
			}
		}
	}

	conn, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 留痕库失败: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("连接 SQLite 留痕库失败: %w", err)
	}

	return &Store{db: conn}, nil
}

// dsn 组装连接串。文件库启用 WAL，让会话写入与事后排查互不
// 阻塞；内存库用共享缓存，多个连接才能看到同一份数据。
func dsn(cfg config.JournalConfig) string {
	if cfg.InMemory {
		return "file::memory:?cache=shared&_busy_timeout=5000&_foreign_keys=on"
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", cfg.Path)
}

// DB 返回底层 *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close 关闭留痕库连接。
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
