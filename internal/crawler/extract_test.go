package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func sampleState(feedID string) (model.ContentItem, []model.CommentRecord) {
	created := time.UnixMilli(1717171717000)
	item := model.ContentItem{
		ID:          feedID,
		Title:       "周末去哪儿",
		Body:        "城郊徒步路线整理",
		AuthorID:    "author-9",
		AuthorName:  "山野",
		Counters:    model.Counters{Likes: 1200, Comments: 3, Shares: 8},
		Images:      []string{"https://img.example/1.jpg", "https://img.example/2.jpg"},
		AccessToken: "state-token",
	}
	comments := []model.CommentRecord{
		{ID: "c1", ParentContentID: feedID, Content: "收藏了", AuthorID: "u1", AuthorName: "甲", CreatedAt: created, LikeCount: 5},
		{ID: "c2", ParentContentID: feedID, Content: "第二条路线在哪", AuthorID: "u2", AuthorName: "乙", CreatedAt: created, ReplyCount: 1, Tags: []string{"author_like"}},
		{ID: "c2-r1", ParentContentID: feedID, ParentCommentID: "c2", Content: "在北边", AuthorID: "author-9", AuthorName: "山野", CreatedAt: created},
	}
	return item, comments
}

func TestExtractDetailRoundTrip(t *testing.T) {
	item, comments := sampleState("feed-1")
	fp := newFakePage("feed-1")
	fp.stateJSON = encodeState(item, comments)

	got, err := extractDetail(context.Background(), fp, &fakePacer{}, "feed-1", "request-token")
	if err != nil {
		t.Fatalf("extractDetail failed: %v", err)
	}

	want := &model.FeedDetail{Item: item, Comments: comments}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("detail mismatch (-want +got):\n%s", diff)
	}
	if fp.stateReads != 1 {
		t.Errorf("stateReads = %d, expected 1", fp.stateReads)
	}
}

func TestExtractDetailFallsBackToRequestToken(t *testing.T) {
	item, _ := sampleState("feed-1")
	item.AccessToken = ""
	fp := newFakePage("feed-1")
	fp.stateJSON = encodeState(item, nil)

	got, err := extractDetail(context.Background(), fp, &fakePacer{}, "feed-1", "request-token")
	if err != nil {
		t.Fatalf("extractDetail failed: %v", err)
	}
	if got.Item.AccessToken != "request-token" {
		t.Errorf("access token = %q", got.Item.AccessToken)
	}
	if len(got.Comments) != 0 {
		t.Errorf("expected no comments, got %d", len(got.Comments))
	}
}

func TestExtractDetailRetriesUntilStateReady(t *testing.T) {
	fp := newFakePage("feed-1")
	fp.comments = 2
	fp.stateEmptyReads = 2
	pacer := &fakePacer{}

	got, err := extractDetail(context.Background(), fp, pacer, "feed-1", "")
	if err != nil {
		t.Fatalf("extractDetail failed: %v", err)
	}
	if fp.stateReads != 3 {
		t.Errorf("stateReads = %d, expected 3", fp.stateReads)
	}
	if len(got.Comments) != 2 {
		t.Errorf("comments = %d, expected 2", len(got.Comments))
	}
	if pacer.slept < 2*extractBackoff.Min {
		t.Errorf("slept %v, expected two backoffs", pacer.slept)
	}
}

func TestExtractDetailMissing(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fakePage)
		feedID string
		reads  int
	}{
		{"state_missing", func(p *fakePage) { p.stateMissing = true }, "feed-1", 3},
		{"other_feed_in_state", func(p *fakePage) {}, "feed-2", 3},
		{"invalid_json", func(p *fakePage) { p.stateJSON = "{not json" }, "feed-1", 1},
		{"page_closed", func(p *fakePage) { p.closed = true }, "feed-1", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakePage("feed-1")
			tt.setup(fp)

			_, err := extractDetail(context.Background(), fp, &fakePacer{}, tt.feedID, "")
			if !errors.Is(err, ErrExtractionMiss) {
				t.Fatalf("expected ErrExtractionMiss, got %v", err)
			}
			if fp.stateReads != tt.reads {
				t.Errorf("stateReads = %d, expected %d", fp.stateReads, tt.reads)
			}
		})
	}
}

func TestExtractDetailCanceled(t *testing.T) {
	fp := newFakePage("feed-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := extractDetail(ctx, fp, &fakePacer{}, "feed-1", ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFlexCount(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
	}{
		{`12`, 12},
		{`"12"`, 12},
		{`"1.2万"`, 12000},
		{`"10+"`, 10},
		{`null`, 0},
		{`""`, 0},
		{`3.0`, 3},
	}
	for _, tt := range tests {
		var c flexCount
		if err := json.Unmarshal([]byte(tt.raw), &c); err != nil {
			t.Errorf("unmarshal %s failed: %v", tt.raw, err)
			continue
		}
		if int64(c) != tt.want {
			t.Errorf("flexCount(%s) = %d, expected %d", tt.raw, c, tt.want)
		}
	}

	var c flexCount
	if err := json.Unmarshal([]byte(`true`), &c); err == nil {
		t.Errorf("expected error for boolean count")
	}
}

func TestDecodeStateEntryImageFallback(t *testing.T) {
	raw := []byte(`{"note":{"noteId":"n1","imageList":[{"urlDefault":"a"},{"url":"b"},{}]},"comments":{"list":[]}}`)
	got, err := decodeStateEntry(raw, "tok")
	if err != nil {
		t.Fatalf("decodeStateEntry failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, got.Item.Images); diff != "" {
		t.Errorf("images mismatch (-want +got):\n%s", diff)
	}
	if got.Item.AccessToken != "tok" {
		t.Errorf("access token = %q", got.Item.AccessToken)
	}
}
