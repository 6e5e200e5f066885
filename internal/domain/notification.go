package domain

// Button 是出站通知上的一枚内联按钮。
//
// URL 与 CallbackData 二选一：链接按钮直接打开 URL，
// 功能按钮通过回调数据驱动命令层。
type Button struct {
	Label        string
	URL          string
	CallbackData string
}
