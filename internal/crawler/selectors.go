package crawler

import "fmt"

const (
	selBlockedContainer = ".access-wrapper, .error-wrapper, .not-found-wrapper, .blocked-wrapper"
	selComment          = ".parent-comment"
	selTotalLabel       = ".comments-container .total"
	selEndMarker        = ".end-container"
	selNoComments       = ".no-comments-text"
	selShowMore         = ".show-more"
	selCommentArea      = ".comments-container"
	selLocatorScan      = ".parent-comment, .comment-item, .comment"

	selReplyButton   = ".right .interactions .reply"
	selCommentFocus  = "div.input-box div.content-edit span"
	selCommentInput  = "div.input-box div.content-edit p.content-input"
	selCommentSubmit = "div.bottom button.submit"
)

func selCommentByID(id string) string {
	return fmt.Sprintf("#comment-%s", id)
}

func selByUserID(userID string) string {
	return fmt.Sprintf(`[data-user-id=%q]`, userID)
}
