package crawler

import (
	"net/url"
)

const exploreBaseURL = "https://www.xiaohongshu.com/explore/"

// BuildFeedURL 构造笔记详情页的 URL。
//
// 参数:
//
//	feedID: 笔记 ID
//	accessToken: 列表页下发的 xsec_token，缺失时站点会拒绝访问
//
// 返回值:
//
//	string: 完整的详情页 URL
func BuildFeedURL(feedID, accessToken string) string {
	values := url.Values{}
	values.Set("xsec_token", accessToken)
	// 模拟从首页信息流点入。
	values.Set("xsec_source", "pc_feed")
	return exploreBaseURL + url.PathEscape(feedID) + "?" + values.Encode()
}
