package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var errElementMissing = errors.New("element missing")

// PostComment 在笔记下发表一条评论。
func (s *DetailSession) PostComment(ctx context.Context, feedID, accessToken, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidRequest)
	}
	if err := s.prepare(ctx, feedID, accessToken); err != nil {
		return err
	}

	focus, err := s.page.WaitElement(ctx, selCommentFocus, commentAreaWait)
	if err != nil {
		return fmt.Errorf("find comment box: %w", err)
	}
	if focus == nil {
		return fmt.Errorf("find comment box: %w", errElementMissing)
	}
	if err := focus.Click(ctx); err != nil {
		return fmt.Errorf("focus comment box: %w", err)
	}
	if err := s.typeAndSubmit(ctx, content); err != nil {
		return err
	}
	s.logger.Info("comment posted", slog.String("feed_id", feedID))
	return nil
}

// ReplyToComment 回复指定评论，commentID 与 userID 至少提供一个。
func (s *DetailSession) ReplyToComment(ctx context.Context, feedID, accessToken, commentID, userID, content string) error {
	if commentID == "" && userID == "" {
		return fmt.Errorf("%w: comment id or user id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidRequest)
	}
	if err := s.prepare(ctx, feedID, accessToken); err != nil {
		return err
	}

	target, err := s.FindComment(ctx, commentID, userID)
	if err != nil {
		return err
	}
	if err := target.ScrollIntoView(ctx); err != nil {
		return fmt.Errorf("scroll to comment: %w", err)
	}
	if err := pause(ctx, s.pacer, shortDelay); err != nil {
		return err
	}

	reply, err := target.Element(ctx, selReplyButton)
	if err != nil {
		return fmt.Errorf("find reply button: %w", err)
	}
	if reply == nil {
		return fmt.Errorf("find reply button: %w", errElementMissing)
	}
	if err := reply.Click(ctx); err != nil {
		return fmt.Errorf("click reply button: %w", err)
	}
	if err := pause(ctx, s.pacer, readDelay); err != nil {
		return err
	}
	if err := s.typeAndSubmit(ctx, content); err != nil {
		return err
	}
	s.logger.Info("comment replied",
		slog.String("feed_id", feedID),
		slog.String("comment_id", commentID),
		slog.String("user_id", userID))
	return nil
}

// prepare 导航并确认笔记可访问。
func (s *DetailSession) prepare(ctx context.Context, feedID, accessToken string) error {
	if err := (DetailRequest{FeedID: feedID, AccessToken: accessToken}).Validate(); err != nil {
		return err
	}
	if err := s.open(ctx, feedID, accessToken); err != nil {
		return err
	}
	if res := checkAccessible(ctx, s.page, s.pacer, s.opts.BlockedPhrases, s.logger); res.Blocked {
		return &AccessBlockedError{Reason: res.Reason}
	}
	return nil
}

func (s *DetailSession) typeAndSubmit(ctx context.Context, content string) error {
	input, err := s.page.WaitElement(ctx, selCommentInput, commentAreaWait)
	if err != nil {
		return fmt.Errorf("find comment input: %w", err)
	}
	if input == nil {
		return fmt.Errorf("find comment input: %w", errElementMissing)
	}
	if err := input.Input(ctx, content); err != nil {
		return fmt.Errorf("type comment: %w", err)
	}
	if err := pause(ctx, s.pacer, typingDelay); err != nil {
		return err
	}

	submit, err := s.page.Element(ctx, selCommentSubmit)
	if err != nil {
		return fmt.Errorf("find submit button: %w", err)
	}
	if submit == nil {
		return fmt.Errorf("find submit button: %w", errElementMissing)
	}
	if err := submit.Click(ctx); err != nil {
		return fmt.Errorf("submit comment: %w", err)
	}
	return pause(ctx, s.pacer, readDelay)
}
