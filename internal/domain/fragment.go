package domain

// FragmentKind 表示从邮件正文中提取出的内容片段类型。
type FragmentKind string

const (
	// FragmentCode 验证码片段
	FragmentCode FragmentKind = "code"
	// FragmentLink 链接片段
	FragmentLink FragmentKind = "link"
)

// Fragment 是从单封邮件正文中提取出的可操作内容。
//
// 同一封邮件内按 kind+value 去重，保持正文中的出现顺序。
type Fragment struct {
	Kind       FragmentKind
	Value      string
	Label      string // 链接的按钮文案，来自 <a> 标签文本或关键词推断
	Actionable bool   // 链接是否适合以内联按钮呈现（激活/验证类）
	MessageID  string // 来源邮件 ID，用于回调关联
}
