package service

import (
	"path"
	"strings"

	"github.com/tasukuchiba/ifocus/internal/models"
)

// プレビューに使うラベル。アプリの表示言語に合わせる
const (
	labelPhoto   = "Foto"
	labelMedia   = "Mídia"
	labelFile    = "Arquivo"
	labelMessage = "Mensagem"
)

const previewMaxRunes = 120

var (
	imageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic", ".bmp"}
	mediaExts = []string{".mp3", ".wav", ".ogg", ".m4a", ".aac", ".mp4", ".mov", ".webm", ".mkv", ".avi"}
)

// kindFrom は添付ファイルの種類ラベルを返す。content typeが無ければ拡張子で判定する
func kindFrom(contentType, fileName string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return labelPhoto
	case strings.HasPrefix(ct, "audio/"), strings.HasPrefix(ct, "video/"):
		return labelMedia
	case ct != "" && ct != "application/octet-stream":
		return labelFile
	}

	ext := strings.ToLower(path.Ext(fileName))
	for _, e := range imageExts {
		if ext == e {
			return labelPhoto
		}
	}
	for _, e := range mediaExts {
		if ext == e {
			return labelMedia
		}
	}
	return labelFile
}

// truncateRunes はsをn文字以内に切り詰める
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// previewFor はチャット一覧に表示する最後のメッセージのプレビューを作る
func previewFor(msg models.Message) string {
	if msg.Message != nil {
		if text := strings.TrimSpace(*msg.Message); text != "" {
			return truncateRunes(text, previewMaxRunes)
		}
	}
	if msg.FileURL != nil || msg.FileName != nil || msg.FileType != nil {
		var ct, name string
		if msg.FileType != nil {
			ct = *msg.FileType
		}
		if msg.FileName != nil {
			name = *msg.FileName
		}
		return kindFrom(ct, name)
	}
	return labelMessage
}
