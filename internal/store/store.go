// Package store 负责把详情快照持久化到关系型数据库。
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

// ErrNotFound 笔记快照不存在。
var ErrNotFound = errors.New("feed detail not found")

const commentBatchSize = 200

// Store 基于 gorm 的快照存储。
type Store struct {
	db *gorm.DB
}

// Open 按驱动名打开数据库并执行自动迁移。
//
// 参数:
//
//	driver: "mysql" 或 "sqlite"
//	dsn: 数据库连接字符串（sqlite 可用 ":memory:"）
//
// 返回值:
//
//	*Store: 可用的存储实例
//	error: 连接或迁移失败
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql", "":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return New(db)
}

// New 使用已有的 gorm 连接创建存储。
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("gorm db is nil")
	}
	if err := db.AutoMigrate(&model.ContentItem{}, &model.CommentRecord{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveDetail 以 upsert 方式写入笔记，并用本次抓到的评论整体替换旧评论。
// 同一笔记重复抓取时覆盖旧快照（本次未出现的评论会被删除），评论按页面顺序记录 Position。
func (s *Store) SaveDetail(ctx context.Context, detail *model.FeedDetail) error {
	if detail == nil || detail.Item.ID == "" {
		return errors.New("detail without item id")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item := detail.Item
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(itemUpdateColumns),
		}).Create(&item).Error; err != nil {
			return fmt.Errorf("upsert item: %w", err)
		}

		if err := tx.Where("parent_content_id = ?", item.ID).
			Delete(&model.CommentRecord{}).Error; err != nil {
			return fmt.Errorf("delete stale comments: %w", err)
		}
		if len(detail.Comments) == 0 {
			return nil
		}
		comments := make([]model.CommentRecord, len(detail.Comments))
		for i, c := range detail.Comments {
			c.ParentContentID = item.ID
			c.Position = i
			comments[i] = c
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).CreateInBatches(comments, commentBatchSize).Error; err != nil {
			return fmt.Errorf("upsert comments: %w", err)
		}
		return nil
	})
}

// itemUpdateColumns upsert 时需要刷新的列，created_at 保持首次入库时间。
var itemUpdateColumns = []string{
	"updated_at", "title", "body", "author_id", "author_name",
	"count_likes", "count_comments", "count_shares", "images", "access_token",
}

// GetDetail 读取笔记快照，评论按页面顺序返回。
func (s *Store) GetDetail(ctx context.Context, feedID string) (*model.FeedDetail, error) {
	var item model.ContentItem
	err := s.db.WithContext(ctx).Where("id = ?", feedID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var comments []model.CommentRecord
	if err := s.db.WithContext(ctx).
		Where("parent_content_id = ?", feedID).
		Order("position ASC").
		Find(&comments).Error; err != nil {
		return nil, err
	}
	return &model.FeedDetail{Item: item, Comments: comments}, nil
}

// Ping 供健康检查使用。
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var one int
	return s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
}

// Close 关闭底层连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
