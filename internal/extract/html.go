package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// anchor 是 HTML 中的一个 <a href> 及其可见文本。
type anchor struct {
	href  string
	label string
}

// htmlToText 将 HTML 降级为纯文本：去标签、解实体、跳过 script/style。
//
// 基于流式 tokenizer，残缺 HTML 只会提前结束，不会失败，
// 已收集的文本照常返回。
func htmlToText(raw string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(raw))

	var sb strings.Builder
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(sb.String())
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if isSkippedTag(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if isSkippedTag(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(tokenizer.Text()))
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
	}
}

// extractAnchors 从 HTML 中收集 <a href> 链接及其可见文本。
func extractAnchors(raw string) []anchor {
	tokenizer := html.NewTokenizer(strings.NewReader(raw))

	var anchors []anchor
	var current *anchor
	var label strings.Builder

	flush := func() {
		if current == nil {
			return
		}
		current.label = strings.Join(strings.Fields(label.String()), " ")
		anchors = append(anchors, *current)
		current = nil
		label.Reset()
	}

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			flush()
			return anchors
		case html.StartTagToken:
			name, hasAttr := tokenizer.TagName()
			if string(name) != "a" {
				continue
			}
			flush() // 未闭合的前一个 <a>
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = tokenizer.TagAttr()
				if string(key) == "href" && strings.HasPrefix(strings.ToLower(string(val)), "http") {
					current = &anchor{href: strings.TrimRight(string(val), ".,;:!)")}
					break
				}
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if string(name) == "a" {
				flush()
			}
		case html.TextToken:
			if current != nil {
				label.WriteString(string(tokenizer.Text()))
			}
		}
	}
}

// isSkippedTag 标记不应产出可见文本的标签。
func isSkippedTag(name string) bool {
	switch name {
	case "script", "style", "head", "title":
		return true
	}
	return false
}
