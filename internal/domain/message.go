package domain

import "time"

// Message 表示提供方返回的一封邮件的摘要信息。
//
// 邮件内容不落库：核心只持久化已处理的邮件 ID，
// 正文在单个轮询周期内按需拉取、用完即弃。
type Message struct {
	ID         string
	From       string
	Subject    string
	Intro      string
	ReceivedAt time.Time
}

// MessageBody 表示按需拉取的邮件正文。
type MessageBody struct {
	Text string
	HTML []string
}
