package extract

import (
	"sort"
	"strings"

	"tempmailbot/backend/internal/domain"
)

// Extractor 从邮件正文中提取可操作片段（验证码、链接）。
//
// 纯函数式：无 I/O、无状态、并发安全；任何输入都不会报错，
// 最坏情况退化为空结果。
type Extractor struct {
	rules Rules
}

// NewExtractor 创建提取器。
func NewExtractor(rules Rules) *Extractor {
	return &Extractor{rules: rules}
}

// candidate 带正文偏移量的候选片段，用于保持出现顺序。
type candidate struct {
	offset   int
	fragment domain.Fragment
}

// Extract 扫描正文并返回有序、去重后的片段列表。
//
// 顺序与正文中的出现顺序一致；同一封邮件内 kind+value 相同的
// 片段只产出一次。HTML 先降级为纯文本再扫描。
func (e *Extractor) Extract(messageID string, body *domain.MessageBody) []domain.Fragment {
	if body == nil {
		return nil
	}

	scanText := body.Text
	if strings.TrimSpace(scanText) == "" {
		// 没有纯文本部分时，从 HTML 降级文本中扫描
		var parts []string
		for _, block := range body.HTML {
			if text := htmlToText(block); text != "" {
				parts = append(parts, text)
			}
		}
		scanText = strings.Join(parts, "\n")
	}

	labels := e.anchorLabels(body.HTML)

	candidates := e.scanCodes(scanText, messageID)
	candidates = append(candidates, e.scanLinks(scanText, body.HTML, labels, messageID)...)

	// 稳定排序保证相同偏移时验证码先于链接（扫描顺序）
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].offset < candidates[j].offset
	})

	return e.dedupe(candidates)
}

// scanCodes 按规则表扫描验证码候选。
func (e *Extractor) scanCodes(text, messageID string) []candidate {
	if text == "" {
		return nil
	}

	var out []candidate
	for _, rule := range e.rules.CodeRules {
		for _, match := range rule.Pattern.FindAllStringSubmatchIndex(text, -1) {
			// match[2]:match[3] 是第一个捕获组
			if len(match) < 4 || match[2] < 0 {
				continue
			}
			value := text[match[2]:match[3]]
			if !e.isPlausibleCode(value) {
				continue
			}
			out = append(out, candidate{
				offset: match[2],
				fragment: domain.Fragment{
					Kind:      domain.FragmentCode,
					Value:     value,
					MessageID: messageID,
				},
			})
		}
	}
	return out
}

// scanLinks 从纯文本和 HTML 块中扫描链接候选。
//
// 纯文本中的链接使用其正文偏移；仅出现在 HTML 中的链接
// 排在文本链接之后，按 HTML 块扫描顺序保持稳定。
func (e *Extractor) scanLinks(text string, htmlBlocks []string, labels map[string]string, messageID string) []candidate {
	var out []candidate

	appendURL := func(raw string, offset int) {
		url := strings.TrimRight(raw, ".,;:!)")
		if url == "" || len(url) > e.rules.MaxURLLen || e.isJunkURL(url) {
			return
		}
		actionable, label := e.classifyURL(url)
		if anchorLabel, ok := labels[url]; ok && anchorLabel != "" {
			label = anchorLabel
		}
		out = append(out, candidate{
			offset: offset,
			fragment: domain.Fragment{
				Kind:       domain.FragmentLink,
				Value:      url,
				Label:      label,
				Actionable: actionable,
				MessageID:  messageID,
			},
		})
	}

	if text != "" {
		for _, match := range e.rules.URLPattern.FindAllStringIndex(text, -1) {
			appendURL(text[match[0]:match[1]], match[0])
		}
		for _, match := range e.rules.HrefPattern.FindAllStringSubmatchIndex(text, -1) {
			if len(match) >= 4 && match[2] >= 0 {
				appendURL(text[match[2]:match[3]], match[2])
			}
		}
	}

	// 仅在 HTML 中出现的链接追加到文本链接之后
	htmlBase := len(text) + 1
	for _, block := range htmlBlocks {
		for _, match := range e.rules.HrefPattern.FindAllStringSubmatch(block, -1) {
			if len(match) >= 2 {
				appendURL(match[1], htmlBase)
				htmlBase++
			}
		}
		for _, match := range e.rules.URLPattern.FindAllString(block, -1) {
			appendURL(match, htmlBase)
			htmlBase++
		}
	}

	return out
}

// dedupe 去重（kind+value 首次出现保留）并应用数量上限。
func (e *Extractor) dedupe(candidates []candidate) []domain.Fragment {
	seen := make(map[string]struct{}, len(candidates))
	codes, links := 0, 0

	out := make([]domain.Fragment, 0, len(candidates))
	for _, c := range candidates {
		key := string(c.fragment.Kind) + "\x00" + c.fragment.Value
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		switch c.fragment.Kind {
		case domain.FragmentCode:
			if codes >= e.rules.MaxCodes {
				continue
			}
			codes++
		case domain.FragmentLink:
			if links >= e.rules.MaxLinks {
				continue
			}
			links++
		}
		out = append(out, c.fragment)
	}
	return out
}

// isPlausibleCode 过滤验证码误报：长度界限、常见词、
// 纯字母短串（无数字且长度 < 7 的多半是普通单词）。
func (e *Extractor) isPlausibleCode(value string) bool {
	if len(value) < e.rules.MinCodeLen || len(value) > e.rules.MaxCodeLen {
		return false
	}
	if _, stopped := e.rules.CodeStoplist[strings.ToLower(value)]; stopped {
		return false
	}
	hasDigit := strings.ContainsAny(value, "0123456789")
	return hasDigit || len(value) >= 7
}

// isJunkURL 排除图片、跟踪像素和静态资源链接。
func (e *Extractor) isJunkURL(url string) bool {
	lower := strings.ToLower(url)
	withoutQuery := lower
	if idx := strings.IndexByte(withoutQuery, '?'); idx >= 0 {
		withoutQuery = withoutQuery[:idx]
	}
	for _, suffix := range e.rules.JunkURLSuffixes {
		if strings.HasSuffix(withoutQuery, suffix) || strings.Contains(withoutQuery, suffix) {
			return true
		}
	}
	for _, marker := range e.rules.JunkURLMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// classifyURL 判断链接是否可操作并推断按钮文案。
func (e *Extractor) classifyURL(url string) (actionable bool, label string) {
	lower := strings.ToLower(url)

	for _, keyword := range e.rules.ActionKeywords {
		if strings.Contains(lower, keyword) {
			return true, actionLabel(keyword)
		}
	}
	for _, keyword := range e.rules.SignupKeywords {
		if strings.Contains(lower, keyword) {
			return true, "📝 Sign up"
		}
	}

	if len(url) <= 40 {
		return false, url
	}
	return false, "Open link"
}

// actionLabel 按激活类关键词返回按钮文案。
func actionLabel(keyword string) string {
	switch keyword {
	case "activate", "activation":
		return "✅ Activate"
	default:
		return "✅ Verify"
	}
}

// anchorLabels 从 HTML 块中提取 url → 链接文本映射（首个出现优先）。
func (e *Extractor) anchorLabels(htmlBlocks []string) map[string]string {
	labels := make(map[string]string)
	for _, block := range htmlBlocks {
		for _, a := range extractAnchors(block) {
			if a.href == "" || a.label == "" {
				continue
			}
			if len(a.label) > 35 || strings.HasPrefix(a.label, "http") {
				continue
			}
			if _, ok := labels[a.href]; !ok {
				labels[a.href] = a.label
			}
		}
	}
	return labels
}
