package handlers

import (
	"log/slog"
	"net/http"

	"github.com/tasukuchiba/ifocus/internal/middleware"
)

// Router はルーティングに必要なハンドラー群
type Router struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Courses  *CourseHandler
	Chats    *ChatHandler
	Uploads  *UploadHandler
	WS       http.Handler
	Verifier middleware.TokenVerifier
	AdminKey string
	Origins  []string
	Log      *slog.Logger
}

// Handler はすべてのルートを登録したhttp.Handlerを返す
func (rt Router) Handler() http.Handler {
	mux := http.NewServeMux()
	bearer := middleware.Auth(rt.Verifier)
	admin := middleware.AdminKey(rt.AdminKey)
	protect := func(h http.HandlerFunc) http.Handler { return bearer(h) }
	guard := func(h http.HandlerFunc) http.Handler { return admin(h) }

	// 認証
	mux.HandleFunc("POST /auth/register", rt.Auth.Register)
	mux.HandleFunc("POST /auth/login", rt.Auth.Login)
	mux.HandleFunc("POST /auth/refresh", rt.Auth.Refresh)
	mux.Handle("PUT /auth/password", protect(rt.Auth.ChangePassword))

	// プロフィール
	mux.Handle("POST /user/create", protect(rt.Users.Create))
	mux.Handle("GET /user/me", protect(rt.Users.Me))
	mux.Handle("PUT /user/me", protect(rt.Users.UpdateMe))
	mux.Handle("GET /user/helpers", protect(rt.Users.Helpers))
	mux.Handle("GET /users/helpers", protect(rt.Users.Helpers))
	mux.Handle("GET /users/public", protect(rt.Users.PublicUsers))

	// コースと科目
	mux.HandleFunc("GET /courses", rt.Courses.List)
	mux.HandleFunc("GET /courses/{$}", rt.Courses.List)
	mux.HandleFunc("GET /courses/{id}", rt.Courses.Get)
	mux.Handle("POST /courses/{id}", guard(rt.Courses.Create))
	mux.Handle("PUT /courses/{id}", guard(rt.Courses.Update))
	mux.Handle("DELETE /courses/{id}", guard(rt.Courses.Delete))
	mux.HandleFunc("GET /courses/{id}/disciplines", rt.Courses.ListDisciplines)
	mux.HandleFunc("GET /courses/{id}/disciplines/{$}", rt.Courses.ListDisciplines)
	mux.HandleFunc("GET /courses/{id}/disciplines/{did}", rt.Courses.GetDiscipline)
	mux.Handle("POST /courses/{id}/disciplines/{did}", guard(rt.Courses.CreateDiscipline))
	mux.Handle("PUT /courses/{id}/disciplines/{did}", guard(rt.Courses.UpdateDiscipline))
	mux.Handle("DELETE /courses/{id}/disciplines/{did}", guard(rt.Courses.DeleteDiscipline))

	// チャット
	mux.Handle("POST /chat/create", protect(rt.Chats.Create))
	mux.Handle("GET /chat/user/{id}", protect(rt.Chats.UserChats))
	mux.Handle("GET /chat/messages/{id}", protect(rt.Chats.Messages))
	mux.Handle("POST /chat/send/{id}", protect(rt.Chats.Send))

	// ファイル
	mux.Handle("POST /uploads", protect(rt.Uploads.Upload))
	mux.HandleFunc("GET /uploads/{path...}", rt.Uploads.Download)

	// WebSocketエンドポイント
	if rt.WS != nil {
		mux.Handle("GET /ws", rt.WS)
	}

	// ヘルスチェック用エンドポイント
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return middleware.Chain(mux,
		middleware.Recover(rt.Log),
		middleware.Logger(rt.Log),
		middleware.CORS(rt.Origins),
	)
}
