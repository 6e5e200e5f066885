package extract

import "regexp"

// CodeRule 描述一条验证码匹配规则。
//
// Pattern 的第一个捕获组是候选验证码。规则按序匹配，
// 结果按正文出现位置排序，因此规则顺序不影响输出顺序。
type CodeRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// Rules 是提取器的完整规则表。
//
// 阈值与关键词列表来自真实样本邮件的标定，可整体替换，
// 不需要改动投递路径。
type Rules struct {
	CodeRules []CodeRule
	// CodeStoplist 容易被误判为验证码的常见词（小写）
	CodeStoplist map[string]struct{}
	// MinCodeLen / MaxCodeLen 验证码长度界限
	MinCodeLen int
	MaxCodeLen int
	// URLPattern 正文中的裸链接
	URLPattern *regexp.Regexp
	// HrefPattern 文本中残留的 href 属性
	HrefPattern *regexp.Regexp
	// ActionKeywords 命中即视为可操作链接（适合内联按钮）
	ActionKeywords []string
	// SignupKeywords 次级可操作关键词（注册/登录类）
	SignupKeywords []string
	// JunkURLMarkers 图片、跟踪像素等应排除的链接特征
	JunkURLMarkers []string
	// JunkURLSuffixes 按扩展名排除的链接
	JunkURLSuffixes []string
	// MaxURLLen 超长链接直接丢弃
	MaxURLLen int
	// MaxCodes / MaxLinks 单封邮件的片段数量上限
	MaxCodes int
	MaxLinks int
}

// DefaultRules 返回默认规则表。
func DefaultRules() Rules {
	stoplist := map[string]struct{}{}
	for _, word := range []string{
		"team", "logo", "started", "paste", "below", "message", "reserved", "medium",
		"click", "here", "link", "view", "open", "read", "more", "less", "some",
		"your", "this", "that", "with", "from", "have", "been", "will", "would",
		"could", "should", "about", "into", "only", "over", "such", "than",
		"them", "they", "when", "where", "which", "while", "after", "before",
		"right", "left", "back", "next", "then", "just", "also", "very",
		"html", "body", "head", "span", "div", "font", "size", "color",
		"width", "height", "style", "class", "href", "http", "https",
	} {
		stoplist[word] = struct{}{}
	}

	return Rules{
		CodeRules: []CodeRule{
			{Name: "six-digit", Pattern: regexp.MustCompile(`\b(\d{6})\b`)},
			{Name: "four-digit", Pattern: regexp.MustCompile(`\b(\d{4})\b`)},
			{Name: "eight-digit", Pattern: regexp.MustCompile(`\b(\d{8})\b`)},
			{Name: "labeled-code", Pattern: regexp.MustCompile(`(?i)code[:\s]+([A-Za-z0-9]{4,12})`)},
			{Name: "labeled-verification", Pattern: regexp.MustCompile(`(?i)verification[:\s]+([A-Za-z0-9]{4,12})`)},
			{Name: "labeled-otp", Pattern: regexp.MustCompile(`(?i)otp[:\s]+([A-Za-z0-9]{4,12})`)},
			{Name: "labeled-activate", Pattern: regexp.MustCompile(`(?i)activate[:\s]+([A-Za-z0-9]{4,12})`)},
			{Name: "trailing-is-your", Pattern: regexp.MustCompile(`(?i)([A-Za-z0-9]{6,12})\s*(?:is your|code)`)},
		},
		CodeStoplist: stoplist,
		MinCodeLen:   4,
		MaxCodeLen:   12,
		URLPattern:   regexp.MustCompile(`(?i)https?://[^\s<>"')\]]+`),
		HrefPattern:  regexp.MustCompile(`(?i)href=["']?(https?://[^"'>\s]+)["']?`),
		ActionKeywords: []string{
			"activate", "activation", "verify", "verification", "confirm", "confirmation",
		},
		SignupKeywords: []string{
			"signup", "sign-up", "register", "token", "auth",
		},
		JunkURLMarkers: []string{
			"/pixel", "tracking", "analytics", "pixel.", "unsubscribe", "open?",
			"cdn.", "static.", "img.", "images.", "assets.", "logo.", "icon.",
		},
		JunkURLSuffixes: []string{
			".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico",
		},
		MaxURLLen: 500,
		MaxCodes:  10,
		MaxLinks:  5,
	}
}
