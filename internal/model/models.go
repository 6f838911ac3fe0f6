package model

import (
	"time"
)

// ContentItem 表示一篇笔记（内容条目）的结构化快照。
//
// 数据来源于详情页内嵌的初始状态对象，计数字段已从站点的展示格式（如 "1.2万"）解析为整数。
type ContentItem struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"` // 笔记 ID
	CreatedAt time.Time `json:"-"`                                     // 首次入库时间
	UpdatedAt time.Time `json:"-"`                                     // 最近一次快照时间

	Title       string   `json:"title"`                                  // 标题
	Body        string   `gorm:"type:text" json:"body"`                  // 正文
	AuthorID    string   `gorm:"type:varchar(64);index" json:"author_id"` // 作者 ID
	AuthorName  string   `json:"author_name"`                            // 作者昵称
	Counters    Counters `gorm:"embedded;embeddedPrefix:count_" json:"counters"`
	Images      []string `gorm:"serializer:json" json:"images"` // 图片地址
	AccessToken string   `json:"access_token"`                  // xsec_token
}

// Counters 互动计数。
type Counters struct {
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
}

// CommentRecord 表示一条评论。
//
// 顶层评论的 ParentCommentID 为空；已加载出来的楼中楼回复会被展开到父评论之后，
// 并通过 ParentCommentID 指回父评论。
type CommentRecord struct {
	ID              string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	ParentContentID string    `gorm:"type:varchar(64);index;not null" json:"parent_content_id"` // 所属笔记
	ParentCommentID string    `gorm:"type:varchar(64)" json:"parent_comment_id,omitempty"`
	Content         string    `gorm:"type:text" json:"content"`
	AuthorID        string    `gorm:"type:varchar(64)" json:"author_id"`
	AuthorName      string    `json:"author_name"`
	CreatedAt       time.Time `json:"created_at"` // 评论发布时间（站点毫秒时间戳）
	LikeCount       int64     `json:"like_count"`
	ReplyCount      int64     `json:"reply_count"`
	Tags            []string  `gorm:"serializer:json" json:"tags"`
	Position        int       `gorm:"index" json:"-"` // 页面渲染顺序，入库时写入
}

// FeedDetail 一次详情抓取的完整结果。
type FeedDetail struct {
	Item     ContentItem     `json:"item"`
	Comments []CommentRecord `json:"comments"`
}
