package storage

import (
	"context"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasukuchiba/ifocus/internal/models"
)

// runStorageContract はStorage実装が共通して満たすべき振る舞いを検証する
func runStorageContract(t *testing.T, newStore func(t *testing.T) Storage) {
	t.Run("users", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		alice := models.User{UID: "alice", Email: "alice@ifsp.edu.br", Name: "Alice", Avatar: "A", HelpingSubjects: []string{"Cálculo I"}, CreatedAt: 1}
		bob := models.User{UID: "bob", Email: "bob@ifsp.edu.br", Name: "Bob", Avatar: "B", CreatedAt: 2}
		require.NoError(t, store.CreateUser(ctx, alice))
		require.NoError(t, store.CreateUser(ctx, bob))
		require.ErrorIs(t, store.CreateUser(ctx, alice), ErrAlreadyExists)

		got, err := store.GetUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.Name)
		assert.Equal(t, []string{"Cálculo I"}, got.HelpingSubjects)
		assert.Nil(t, got.AvatarURL)

		_, err = store.GetUser(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)

		// 科目の無いプロフィールは空配列で返る
		noSubjects, err := store.GetUser(ctx, "bob")
		require.NoError(t, err)
		assert.NotNil(t, noSubjects.HelpingSubjects)
		assert.Empty(t, noSubjects.HelpingSubjects)

		updated, err := store.UpdateUser(ctx, "bob", models.UserUpdate{
			HelpingSubjects: []string{"Cálculo I", "Física"},
			AvatarURL:       lo.ToPtr("http://files/bob.jpg"),
		})
		require.NoError(t, err)
		assert.Equal(t, "Bob", updated.Name, "name must be kept when not provided")
		assert.Equal(t, []string{"Cálculo I", "Física"}, updated.HelpingSubjects)
		require.NotNil(t, updated.AvatarURL)
		assert.Equal(t, "http://files/bob.jpg", *updated.AvatarURL)

		_, err = store.UpdateUser(ctx, "nobody", models.UserUpdate{Name: lo.ToPtr("x")})
		assert.ErrorIs(t, err, ErrNotFound)

		helpers, err := store.ListHelpersBySubject(ctx, "Cálculo I")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, lo.Map(helpers, func(u models.User, _ int) string { return u.UID }))

		helpers, err = store.ListHelpersBySubject(ctx, "Química")
		require.NoError(t, err)
		assert.Empty(t, helpers)

		users, err := store.GetUsers(ctx, []string{"bob", "ghost", "alice"})
		require.NoError(t, err)
		assert.Equal(t, []string{"bob", "alice"}, lo.Map(users, func(u models.User, _ int) string { return u.UID }))
	})

	t.Run("accounts", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		acct := models.Account{UID: "u1", Email: "Carol@ifsp.edu.br", PasswordHash: "h1", CreatedAt: 10}
		require.NoError(t, store.CreateAccount(ctx, acct))
		require.ErrorIs(t, store.CreateAccount(ctx, models.Account{UID: "u2", Email: "carol@IFSP.edu.br", PasswordHash: "h"}), ErrAlreadyExists)

		got, err := store.GetAccountByEmail(ctx, "carol@ifsp.edu.br")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.UID)

		require.NoError(t, store.UpdatePasswordHash(ctx, "u1", "h2"))
		got, err = store.GetAccount(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "h2", got.PasswordHash)

		assert.ErrorIs(t, store.UpdatePasswordHash(ctx, "ghost", "h"), ErrNotFound)
		_, err = store.GetAccountByEmail(ctx, "ghost@ifsp.edu.br")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("catalog", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.CreateCourse(ctx, models.Course{
			ID: "ads", Name: "Análise e Desenvolvimento de Sistemas",
			Disciplines: []models.Discipline{{ID: "prg", Name: "Programação"}, {ID: "bd", Name: "Banco de Dados"}},
		}))
		require.NoError(t, store.CreateCourse(ctx, models.Course{ID: "adm", Name: "Administração"}))
		require.ErrorIs(t, store.CreateCourse(ctx, models.Course{ID: "adm", Name: "dup"}), ErrAlreadyExists)

		courses, err := store.ListCourses(ctx)
		require.NoError(t, err)
		require.Len(t, courses, 2)
		assert.Equal(t, "adm", courses[0].ID)
		assert.Empty(t, courses[0].Disciplines)
		assert.Equal(t, []string{"bd", "prg"}, lo.Map(courses[1].Disciplines, func(d models.Discipline, _ int) string { return d.ID }))

		require.NoError(t, store.CreateDiscipline(ctx, "adm", models.Discipline{ID: "cont", Name: "Contabilidade"}))
		require.ErrorIs(t, store.CreateDiscipline(ctx, "adm", models.Discipline{ID: "cont", Name: "dup"}), ErrAlreadyExists)
		require.ErrorIs(t, store.CreateDiscipline(ctx, "ghost", models.Discipline{ID: "x", Name: "x"}), ErrNotFound)

		require.NoError(t, store.RenameDiscipline(ctx, "adm", "cont", "Contabilidade Geral"))
		d, err := store.GetDiscipline(ctx, "adm", "cont")
		require.NoError(t, err)
		assert.Equal(t, "Contabilidade Geral", d.Name)

		require.NoError(t, store.RenameCourse(ctx, "adm", "Administração de Empresas"))
		course, err := store.GetCourse(ctx, "adm")
		require.NoError(t, err)
		assert.Equal(t, "Administração de Empresas", course.Name)
		assert.Len(t, course.Disciplines, 1)

		require.NoError(t, store.DeleteDiscipline(ctx, "adm", "cont"))
		assert.ErrorIs(t, store.DeleteDiscipline(ctx, "adm", "cont"), ErrNotFound)

		require.NoError(t, store.DeleteCourse(ctx, "ads"))
		_, err = store.GetDiscipline(ctx, "ads", "prg")
		assert.ErrorIs(t, err, ErrNotFound, "disciplines must go with their course")
		_, err = store.ListDisciplines(ctx, "ads")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.RenameCourse(ctx, "ads", "x"), ErrNotFound)
	})

	t.Run("chats", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		id := models.ChatIDFor("alice", "bob")
		chat, err := store.EnsureChat(ctx, id, []string{"alice", "bob"}, 50)
		require.NoError(t, err)
		assert.Nil(t, chat.LastMessage)
		assert.EqualValues(t, 50, chat.UpdatedAt, "new chat is stamped with its creation time")

		require.NoError(t, store.UpdateChatPreview(ctx, id, "oi", "alice", 100))

		// 二回目のEnsureChatでプレビューが消えないこと
		chat, err = store.EnsureChat(ctx, id, []string{"bob", "alice"}, 999)
		require.NoError(t, err)
		require.NotNil(t, chat.LastMessage)
		assert.Equal(t, "oi", *chat.LastMessage)
		assert.EqualValues(t, 100, chat.UpdatedAt, "existing chat keeps its updated_at")
		assert.Equal(t, []string{"alice", "bob"}, chat.Participants)

		other := models.ChatIDFor("alice", "carol")
		_, err = store.EnsureChat(ctx, other, []string{"alice", "carol"}, 60)
		require.NoError(t, err)
		require.NoError(t, store.UpdateChatPreview(ctx, other, "hey", "carol", 200))

		chats, err := store.ListChatsForUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{other, id}, lo.Map(chats, func(c models.Chat, _ int) string { return c.ID }))

		chats, err = store.ListChatsForUser(ctx, "bob")
		require.NoError(t, err)
		assert.Len(t, chats, 1)

		// プレビューの無い新しいチャットも作成時刻で並ぶ
		fresh := models.ChatIDFor("alice", "dave")
		_, err = store.EnsureChat(ctx, fresh, []string{"alice", "dave"}, 300)
		require.NoError(t, err)
		chats, err = store.ListChatsForUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{fresh, other, id}, lo.Map(chats, func(c models.Chat, _ int) string { return c.ID }))

		assert.ErrorIs(t, store.UpdateChatPreview(ctx, "ghost", "x", "y", 1), ErrNotFound)
	})

	t.Run("messages", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		id := models.ChatIDFor("alice", "bob")
		_, err := store.LatestMessage(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)

		for i, ts := range []int64{30, 10, 20, 40, 40} {
			require.NoError(t, store.SaveMessage(ctx, models.Message{
				ID:         string(rune('a' + i)),
				ChatID:     id,
				SenderID:   "alice",
				ReceiverID: "bob",
				Message:    lo.ToPtr("m"),
				Timestamp:  ts,
			}))
		}

		all, err := store.ListMessages(ctx, id, 50, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c", "a", "d", "e"}, lo.Map(all, func(m models.Message, _ int) string { return m.ID }))

		newest, err := store.ListMessages(ctx, id, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "e"}, lo.Map(newest, func(m models.Message, _ int) string { return m.ID }))

		older, err := store.ListMessages(ctx, id, 2, 40)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "a"}, lo.Map(older, func(m models.Message, _ int) string { return m.ID }))

		latest, err := store.LatestMessage(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "e", latest.ID)

		empty, err := store.ListMessages(ctx, "nothing", 10, 0)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}
