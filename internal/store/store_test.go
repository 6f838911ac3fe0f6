package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "detail.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleDetail() *model.FeedDetail {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.FeedDetail{
		Item: model.ContentItem{
			ID:          "65f0aa",
			Title:       "春日露营清单",
			Body:        "带好天幕和折叠椅",
			AuthorID:    "u-1",
			AuthorName:  "露营小王",
			Counters:    model.Counters{Likes: 12000, Comments: 3, Shares: 8},
			Images:      []string{"https://img/1.jpg", "https://img/2.jpg"},
			AccessToken: "ABtoken=",
		},
		Comments: []model.CommentRecord{
			{ID: "c2", Content: "好看", AuthorID: "u-2", CreatedAt: ts, LikeCount: 5, ReplyCount: 1, Tags: []string{"作者赞过"}},
			{ID: "c2-r1", ParentCommentID: "c2", Content: "谢谢", AuthorID: "u-1", CreatedAt: ts.Add(time.Minute)},
			{ID: "c1", Content: "求链接", AuthorID: "u-3", CreatedAt: ts.Add(2 * time.Minute)},
		},
	}
}

var ignoreBookkeeping = cmp.Options{
	cmpopts.IgnoreFields(model.ContentItem{}, "CreatedAt", "UpdatedAt"),
	cmpopts.IgnoreFields(model.CommentRecord{}, "Position", "ParentContentID"),
	cmpopts.EquateEmpty(),
}

func TestSaveAndGetDetail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	want := sampleDetail()

	if err := s.SaveDetail(ctx, want); err != nil {
		t.Fatalf("SaveDetail: %v", err)
	}

	got, err := s.GetDetail(ctx, want.Item.ID)
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	if diff := cmp.Diff(want, got, ignoreBookkeeping); diff != "" {
		t.Fatalf("detail mismatch (-want +got):\n%s", diff)
	}
	for i, c := range got.Comments {
		if c.ParentContentID != want.Item.ID {
			t.Fatalf("comment %d: parent content id %q", i, c.ParentContentID)
		}
	}
}

func TestSaveDetailUpsertsExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := sampleDetail()
	if err := s.SaveDetail(ctx, first); err != nil {
		t.Fatalf("SaveDetail: %v", err)
	}

	second := sampleDetail()
	second.Item.Title = "春日露营清单（更新）"
	second.Item.Counters.Likes = 13000
	second.Comments[0].LikeCount = 9
	second.Comments = append(second.Comments, model.CommentRecord{ID: "c0", Content: "新评论"})
	if err := s.SaveDetail(ctx, second); err != nil {
		t.Fatalf("SaveDetail (second): %v", err)
	}

	got, err := s.GetDetail(ctx, second.Item.ID)
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	if got.Item.Title != second.Item.Title || got.Item.Counters.Likes != 13000 {
		t.Fatalf("item not updated: %+v", got.Item)
	}
	if len(got.Comments) != 4 {
		t.Fatalf("expected 4 comments, got %d", len(got.Comments))
	}
	if got.Comments[0].LikeCount != 9 {
		t.Fatalf("comment not updated: %+v", got.Comments[0])
	}
	if got.Comments[3].ID != "c0" {
		t.Fatalf("expected page order preserved, got %q last", got.Comments[3].ID)
	}
}

func TestSaveDetailReplacesStaleComments(t *testing.T) {
	tests := []struct {
		name     string
		comments []model.CommentRecord
		wantIDs  []string
	}{
		{
			name: "smaller_snapshot",
			comments: []model.CommentRecord{
				{ID: "cx", Content: "新来的"},
				{ID: "c2", Content: "好看"},
			},
			wantIDs: []string{"cx", "c2"},
		},
		{
			name:     "no_comments",
			comments: nil,
			wantIDs:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			ctx := context.Background()

			if err := s.SaveDetail(ctx, sampleDetail()); err != nil {
				t.Fatalf("SaveDetail: %v", err)
			}
			second := sampleDetail()
			second.Comments = tt.comments
			if err := s.SaveDetail(ctx, second); err != nil {
				t.Fatalf("SaveDetail (second): %v", err)
			}

			got, err := s.GetDetail(ctx, second.Item.ID)
			if err != nil {
				t.Fatalf("GetDetail: %v", err)
			}
			var ids []string
			for i, c := range got.Comments {
				ids = append(ids, c.ID)
				if c.Position != i {
					t.Errorf("comment %q position = %d, expected %d", c.ID, c.Position, i)
				}
			}
			if diff := cmp.Diff(tt.wantIDs, ids, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("comment ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetDetailNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetDetail(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", "dsn"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestSaveDetailRequiresItemID(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveDetail(context.Background(), &model.FeedDetail{}); err == nil {
		t.Fatal("expected error for empty item id")
	}
}
