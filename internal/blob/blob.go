// Package blob はアップロードされた画像やファイルを保存し、ダウンロードURLを発行する
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrNotFound はオブジェクトが存在しない場合のエラー
	ErrNotFound = errors.New("object not found")

	// ErrInvalidPath は保存先パスが不正な場合のエラー
	ErrInvalidPath = errors.New("invalid object path")
)

// Object は保存済みオブジェクトのメタデータ
type Object struct {
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store はオブジェクトストレージのインターフェース
type Store interface {
	Put(ctx context.Context, objectPath, contentType string, data []byte) (Object, error)
	Get(ctx context.Context, objectPath string) (Object, []byte, error)
	Delete(ctx context.Context, objectPath string) error
}

// BadgerStore はbadgerにオブジェクトを保存するStore
type BadgerStore struct {
	db      *badger.DB
	baseURL string
	log     *slog.Logger
}

// meta はbadgerに保存するメタデータ。本体は別キーに置く
type meta struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	CreatedAt   int64  `json:"created_at"`
}

// Open はdirにbadgerを開く。dirが空ならインメモリで動かす
func Open(dir, baseURL string, log *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, baseURL: strings.TrimRight(baseURL, "/"), log: log}, nil
}

// CleanPath は保存先パスを正規化する。空や親ディレクトリへの参照は拒否する
func CleanPath(objectPath string) (string, error) {
	if objectPath == "" || strings.Contains(objectPath, "\\") {
		return "", ErrInvalidPath
	}
	for _, segment := range strings.Split(objectPath, "/") {
		if segment == ".." {
			return "", ErrInvalidPath
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+objectPath), "/")
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// URLFor はオブジェクトのダウンロードURLを返す
func (s *BadgerStore) URLFor(objectPath string) string {
	segments := strings.Split(objectPath, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/uploads/" + strings.Join(segments, "/")
}

func metaKey(p string) []byte { return []byte("meta:" + p) }
func dataKey(p string) []byte { return []byte("data:" + p) }

// Put はオブジェクトを保存する。同じパスは上書きされる
func (s *BadgerStore) Put(_ context.Context, objectPath, contentType string, data []byte) (Object, error) {
	p, err := CleanPath(objectPath)
	if err != nil {
		return Object{}, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	now := time.Now().UTC()
	m := meta{ContentType: contentType, Size: int64(len(data)), CreatedAt: now.UnixMilli()}
	encoded, err := json.Marshal(m)
	if err != nil {
		return Object{}, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(p), data); err != nil {
			return err
		}
		return txn.Set(metaKey(p), encoded)
	})
	if err != nil {
		return Object{}, fmt.Errorf("store object %s: %w", p, err)
	}

	s.log.Debug("Object stored", "path", p, "size", m.Size, "content_type", contentType)
	return Object{Path: p, ContentType: contentType, Size: m.Size, URL: s.URLFor(p), CreatedAt: time.UnixMilli(m.CreatedAt).UTC()}, nil
}

// Get はオブジェクトの本体とメタデータを取得する
func (s *BadgerStore) Get(_ context.Context, objectPath string) (Object, []byte, error) {
	p, err := CleanPath(objectPath)
	if err != nil {
		return Object{}, nil, err
	}

	var m meta
	var data []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(p))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err != nil {
			return err
		}
		item, err = txn.Get(dataKey(p))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Object{}, nil, ErrNotFound
	}
	if err != nil {
		return Object{}, nil, err
	}
	return Object{Path: p, ContentType: m.ContentType, Size: m.Size, URL: s.URLFor(p), CreatedAt: time.UnixMilli(m.CreatedAt).UTC()}, data, nil
}

// Delete はオブジェクトを削除する
func (s *BadgerStore) Delete(_ context.Context, objectPath string) error {
	p, err := CleanPath(objectPath)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(p)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := txn.Delete(metaKey(p)); err != nil {
			return err
		}
		return txn.Delete(dataKey(p))
	})
}

// Close はbadgerを閉じる
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
