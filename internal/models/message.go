package models

import (
	"sort"
	"strings"
)

// Message はチャットのメッセージを表す構造体
type Message struct {
	ID         string  `json:"id"`
	ChatID     string  `json:"chat_id"`
	SenderID   string  `json:"sender_id"`
	ReceiverID string  `json:"receiver_id"`
	Message    *string `json:"message"`
	FileURL    *string `json:"file_url"`
	FileType   *string `json:"file_type"`
	FileName   *string `json:"file_name"`
	// Timestamp はエポックミリ秒
	Timestamp int64 `json:"timestamp"`
}

// Chat は二人の参加者による会話のメタデータ
type Chat struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	LastMessage  *string  `json:"last_message"`
	LastSender   *string  `json:"last_sender"`
	UpdatedAt    int64    `json:"updated_at"`
}

// HasParticipant はuidがチャットの参加者かどうかを返す
func (c Chat) HasParticipant(uid string) bool {
	for _, p := range c.Participants {
		if p == uid {
			return true
		}
	}
	return false
}

// OtherParticipant はuid以外の参加者を返す
func (c Chat) OtherParticipant(uid string) (string, bool) {
	if !c.HasParticipant(uid) {
		return "", false
	}
	for _, p := range c.Participants {
		if p != uid {
			return p, true
		}
	}
	return "", false
}

// ChatIDFor は二人のuidから決定的なチャットIDを作る
func ChatIDFor(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}
