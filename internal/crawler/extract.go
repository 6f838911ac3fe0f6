package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"

	"github.com/sethvargo/go-retry"
)

// ============================================================================
// 页面状态结构（window.__INITIAL_STATE__.note.noteDetailMap[id]）
// ============================================================================

type stateEntry struct {
	Note     stateNote     `json:"note"`
	Comments stateComments `json:"comments"`
}

type stateNote struct {
	NoteID       string        `json:"noteId"`
	Title        string        `json:"title"`
	Desc         string        `json:"desc"`
	XsecToken    string        `json:"xsecToken"`
	User         stateUser     `json:"user"`
	InteractInfo stateInteract `json:"interactInfo"`
	ImageList    []stateImage  `json:"imageList"`
}

type stateUser struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

type stateInteract struct {
	LikedCount   flexCount `json:"likedCount"`
	CommentCount flexCount `json:"commentCount"`
	ShareCount   flexCount `json:"shareCount"`
}

type stateImage struct {
	URLDefault string `json:"urlDefault"`
	URL        string `json:"url"`
}

type stateComments struct {
	List    []stateComment `json:"list"`
	Cursor  string         `json:"cursor"`
	HasMore bool           `json:"hasMore"`
}

type stateComment struct {
	ID              string         `json:"id"`
	NoteID          string         `json:"noteId"`
	Content         string         `json:"content"`
	CreateTime      int64          `json:"createTime"`
	LikeCount       flexCount      `json:"likeCount"`
	SubCommentCount flexCount      `json:"subCommentCount"`
	ShowTags        []string       `json:"showTags"`
	UserInfo        stateUser      `json:"userInfo"`
	SubComments     []stateComment `json:"subComments"`
}

// flexCount 站点的计数字段可能是字符串（"1.2万"）也可能是数字。
type flexCount int64

func (c *flexCount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = flexCount(ParseCount(s))
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("count %s: %w", data, err)
	}
	*c = flexCount(f)
	return nil
}

// ============================================================================
// 提取
// ============================================================================

var errStateNotReady = errors.New("page state not ready")

// extractDetail 从页面状态中读取 feedID 对应的笔记与已加载评论。
//
// 状态为空或读取失败时以 200–300ms 间隔重试，共 3 次；仍然缺失返回 ErrExtractionMiss。
// 只读操作，不修改页面。
func extractDetail(ctx context.Context, page Page, pacer Pacer, feedID, accessToken string) (*model.FeedDetail, error) {
	var raw string
	err := retry.Do(ctx, pacedBackoff(ctx, pacer, extractBackoff, extractRetries), func(ctx context.Context) error {
		v, err := page.Eval(ctx, jsFeedState, feedID)
		if err != nil {
			if errors.Is(err, ErrPageClosed) {
				return err
			}
			return retry.RetryableError(err)
		}
		if s := v.Str(); s != "" {
			raw = s
			return nil
		}
		return retry.RetryableError(errStateNotReady)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrExtractionMiss, feedID, err)
	}

	detail, err := decodeStateEntry([]byte(raw), accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrExtractionMiss, feedID, err)
	}
	if detail.Item.ID == "" {
		detail.Item.ID = feedID
	}
	for i := range detail.Comments {
		if detail.Comments[i].ParentContentID == "" {
			detail.Comments[i].ParentContentID = detail.Item.ID
		}
	}
	return detail, nil
}

// decodeStateEntry 把页面状态转换为结构化记录。
func decodeStateEntry(raw []byte, accessToken string) (*model.FeedDetail, error) {
	var entry stateEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}

	n := entry.Note
	item := model.ContentItem{
		ID:         n.NoteID,
		Title:      n.Title,
		Body:       n.Desc,
		AuthorID:   n.User.UserID,
		AuthorName: n.User.Nickname,
		Counters: model.Counters{
			Likes:    int64(n.InteractInfo.LikedCount),
			Comments: int64(n.InteractInfo.CommentCount),
			Shares:   int64(n.InteractInfo.ShareCount),
		},
		AccessToken: n.XsecToken,
	}
	if item.AccessToken == "" {
		item.AccessToken = accessToken
	}
	for _, img := range n.ImageList {
		url := img.URLDefault
		if url == "" {
			url = img.URL
		}
		if url != "" {
			item.Images = append(item.Images, url)
		}
	}

	comments := make([]model.CommentRecord, 0, len(entry.Comments.List))
	for _, c := range entry.Comments.List {
		comments = append(comments, toCommentRecord(c, item.ID, ""))
		for _, sub := range c.SubComments {
			comments = append(comments, toCommentRecord(sub, item.ID, c.ID))
		}
	}
	return &model.FeedDetail{Item: item, Comments: comments}, nil
}

func toCommentRecord(c stateComment, noteID, parentCommentID string) model.CommentRecord {
	parent := c.NoteID
	if parent == "" {
		parent = noteID
	}
	rec := model.CommentRecord{
		ID:              c.ID,
		ParentContentID: parent,
		ParentCommentID: parentCommentID,
		Content:         c.Content,
		AuthorID:        c.UserInfo.UserID,
		AuthorName:      c.UserInfo.Nickname,
		LikeCount:       int64(c.LikeCount),
		ReplyCount:      int64(c.SubCommentCount),
		Tags:            c.ShowTags,
	}
	if c.CreateTime > 0 {
		rec.CreatedAt = time.UnixMilli(c.CreateTime)
	}
	return rec
}
