package models

// リアルタイム購読のフレームの種類
const (
	FrameSnapshot = "snapshot"
	FrameMessage  = "message"
	FrameError    = "error"
)

// Frame はサーバーから購読者へ送るフレーム
type Frame struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages,omitempty"`
	Message  *Message  `json:"message,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// IncomingMessage は購読者から送られるフレーム
type IncomingMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}
