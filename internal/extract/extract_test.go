package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmailbot/backend/internal/domain"
)

func newTestExtractor() *Extractor {
	return NewExtractor(DefaultRules())
}

func TestExtractCodeAndActionableLink(t *testing.T) {
	body := &domain.MessageBody{
		Text: "Your code is 773102. Confirm: https://x.test/verify?t=abc",
	}

	fragments := newTestExtractor().Extract("msg-1", body)
	require.Len(t, fragments, 2)

	assert.Equal(t, domain.FragmentCode, fragments[0].Kind)
	assert.Equal(t, "773102", fragments[0].Value)
	assert.Equal(t, "msg-1", fragments[0].MessageID)

	assert.Equal(t, domain.FragmentLink, fragments[1].Kind)
	assert.Equal(t, "https://x.test/verify?t=abc", fragments[1].Value)
	assert.True(t, fragments[1].Actionable)
	assert.Equal(t, "✅ Verify", fragments[1].Label)
}

func TestExtractCollapsesDuplicates(t *testing.T) {
	body := &domain.MessageBody{
		Text: "code 482913 ... code 482913",
	}

	fragments := newTestExtractor().Extract("m", body)
	require.Len(t, fragments, 1)
	assert.Equal(t, domain.FragmentCode, fragments[0].Kind)
	assert.Equal(t, "482913", fragments[0].Value)
}

func TestExtractIsDeterministic(t *testing.T) {
	body := &domain.MessageBody{
		Text: "Codes: 1234 and 567890, links https://a.test/verify and https://b.test/page plus otp: AB12CD",
	}

	extractor := newTestExtractor()
	first := extractor.Extract("m", body)
	second := extractor.Extract("m", body)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestExtractPreservesBodyOrder(t *testing.T) {
	body := &domain.MessageBody{
		Text: "Visit https://x.test/page then use code 907613 to continue",
	}

	fragments := newTestExtractor().Extract("m", body)
	require.Len(t, fragments, 2)
	assert.Equal(t, domain.FragmentLink, fragments[0].Kind)
	assert.Equal(t, domain.FragmentCode, fragments[1].Kind)
}

func TestExtractEmptyAndMalformedInput(t *testing.T) {
	extractor := newTestExtractor()

	assert.Empty(t, extractor.Extract("m", nil))
	assert.Empty(t, extractor.Extract("m", &domain.MessageBody{}))
	assert.Empty(t, extractor.Extract("m", &domain.MessageBody{Text: "   "}))

	// 残缺 HTML 不报错，尽力提取
	fragments := extractor.Extract("m", &domain.MessageBody{
		HTML: []string{"<div><p>code 556677 <a href='https://x.test/confirm'>Conf"},
	})
	require.NotEmpty(t, fragments)
	assert.Equal(t, "556677", fragments[0].Value)
}

func TestExtractHTMLOnly(t *testing.T) {
	body := &domain.MessageBody{
		HTML: []string{
			`<html><head><style>.a{color:red}</style></head><body>
			<p>Your verification code is 998877</p>
			<a href="https://service.test/activate?u=1">Activate account</a>
			</body></html>`,
		},
	}

	fragments := newTestExtractor().Extract("m", body)
	require.Len(t, fragments, 2)

	assert.Equal(t, "998877", fragments[0].Value)

	link := fragments[1]
	assert.Equal(t, "https://service.test/activate?u=1", link.Value)
	assert.True(t, link.Actionable)
	// 按钮文案优先使用 <a> 的可见文本
	assert.Equal(t, "Activate account", link.Label)
}

func TestExtractStoplistAndShortWords(t *testing.T) {
	body := &domain.MessageBody{
		Text: "Click here to view more from our Team below",
	}

	fragments := newTestExtractor().Extract("m", body)
	assert.Empty(t, fragments)
}

func TestExtractFiltersJunkURLs(t *testing.T) {
	body := &domain.MessageBody{
		Text: "https://cdn.x.test/logo.png https://x.test/tracking/pixel.gif https://x.test/verify?t=1",
	}

	fragments := newTestExtractor().Extract("m", body)
	require.Len(t, fragments, 1)
	assert.Equal(t, "https://x.test/verify?t=1", fragments[0].Value)
}

func TestExtractNonActionableLinkIsPlainText(t *testing.T) {
	body := &domain.MessageBody{
		Text: "Read the news at https://news.test/today",
	}

	fragments := newTestExtractor().Extract("m", body)
	require.Len(t, fragments, 1)
	assert.False(t, fragments[0].Actionable)
}

func TestExtractLinkCap(t *testing.T) {
	rules := DefaultRules()
	rules.MaxLinks = 2
	extractor := NewExtractor(rules)

	body := &domain.MessageBody{
		Text: "https://a.test/1 https://b.test/2 https://c.test/3 https://d.test/4",
	}

	fragments := extractor.Extract("m", body)
	assert.Len(t, fragments, 2)
}

func TestHTMLToTextDegradesGracefully(t *testing.T) {
	assert.Equal(t, "", htmlToText(""))
	assert.Equal(t, "plain text", htmlToText("plain text"))
	assert.Equal(t, "a b", htmlToText("<p>a</p><p>b</p>"))
	// 实体被解码
	assert.Equal(t, "a & b", htmlToText("a &amp; b"))
	// script 内容被跳过
	assert.Equal(t, "visible", htmlToText("<script>var x=1;</script>visible"))
}
