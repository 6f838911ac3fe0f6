package crawler

import (
	"context"
	"errors"
	"testing"
)

func TestLocateComment(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*fakePage)
		commentID string
		userID    string
		wantErr   error
		wantText  string
		wantWaits int // #comment-{id} 的查询次数
	}{
		{
			name: "found_by_id_after_scrolling",
			setup: func(p *fakePage) {
				p.perPush = 1
				p.targetID = "c42"
				p.targetAfter = 7
			},
			commentID: "c42",
			wantText:  "target comment",
			wantWaits: 8,
		},
		{
			name: "found_immediately",
			setup: func(p *fakePage) {
				p.comments = 3
				p.targetID = "c1"
				p.targetAfter = 0
			},
			commentID: "c1",
			wantText:  "target comment",
			wantWaits: 1,
		},
		{
			name: "never_appears",
			setup: func(p *fakePage) {
				p.perPush = 1
				p.targetID = "c42"
			},
			commentID: "c42",
			wantErr:   ErrCommentNotFound,
			wantWaits: locateMaxAttempts,
		},
		{
			name: "stagnant_count_gives_up",
			setup: func(p *fakePage) {
				p.comments = 4
				p.targetID = "c42"
			},
			commentID: "c42",
			wantErr:   ErrCommentNotFound,
			// 第 0 轮计数增长，之后 10 轮不增长，第 10 轮在查询前放弃
			wantWaits: 10,
		},
		{
			name:      "end_marker_gives_up",
			setup:     func(p *fakePage) { p.endVisible = true },
			commentID: "c42",
			wantErr:   ErrCommentNotFound,
			wantWaits: 0,
		},
		{
			name: "found_by_author",
			setup: func(p *fakePage) {
				p.comments = 1
				p.perPush = 1
				p.authorID = "u-9"
				p.authorAfter = 3
			},
			userID:   "u-9",
			wantText: "comment 3",
		},
		{
			name:    "requires_id_or_user",
			setup:   func(p *fakePage) {},
			wantErr: ErrInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakePage("feed-1")
			tt.setup(fp)

			el, err := locateComment(context.Background(), fp, &fakePacer{}, testLogger(), tt.commentID, tt.userID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else {
				if err != nil {
					t.Fatalf("locateComment failed: %v", err)
				}
				text, _ := el.Text(context.Background())
				if text != tt.wantText {
					t.Errorf("located %q, expected %q", text, tt.wantText)
				}
			}
			if tt.commentID != "" {
				if got := fp.waits[selCommentByID(tt.commentID)]; got != tt.wantWaits {
					t.Errorf("waits = %d, expected %d", got, tt.wantWaits)
				}
			}
		})
	}
}

func TestLocateCommentPageClosed(t *testing.T) {
	fp := newFakePage("feed-1")
	fp.perPush = 1
	fp.targetID = "c42"
	fp.closeAfter = 2

	_, err := locateComment(context.Background(), fp, &fakePacer{}, testLogger(), "c42", "")
	if !errors.Is(err, ErrPageClosed) {
		t.Fatalf("expected ErrPageClosed, got %v", err)
	}
}
