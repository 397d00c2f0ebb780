package models

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

func TestChatIDFor(t *testing.T) {
	assert.Equal(t, "alice_bob", ChatIDFor("alice", "bob"))
	assert.Equal(t, ChatIDFor("alice", "bob"), ChatIDFor("bob", "alice"))
}

func TestChat_Participants(t *testing.T) {
	chat := Chat{ID: "alice_bob", Participants: []string{"alice", "bob"}}

	assert.True(t, chat.HasParticipant("alice"))
	assert.False(t, chat.HasParticipant("carol"))

	other, ok := chat.OtherParticipant("alice")
	assert.True(t, ok)
	assert.Equal(t, "bob", other)

	_, ok = chat.OtherParticipant("carol")
	assert.False(t, ok)
}

func TestAvatarInitial(t *testing.T) {
	tests := map[string]string{
		"ana":      "A",
		"  bruno":  "B",
		"élida":    "É",
		"":         "?",
		"   ":      "?",
		"1º aluno": "1",
	}
	for name, want := range tests {
		assert.Equal(t, want, AvatarInitial(name), name)
	}
}

func TestUser_Views(t *testing.T) {
	u := User{UID: "u1", Name: "Ana", Email: "ana@ifsp.edu.br", AvatarURL: lo.ToPtr("http://x/a.png")}

	h := u.ToHelper()
	assert.Equal(t, "u1", h.UID)
	assert.NotNil(t, h.HelpingSubjects)
	assert.Empty(t, h.HelpingSubjects)

	p := u.ToPublic()
	assert.Equal(t, PublicUser{UID: "u1", Name: "Ana", AvatarURL: lo.ToPtr("http://x/a.png")}, p)

	assert.True(t, UserUpdate{}.IsEmpty())
	assert.False(t, UserUpdate{HelpingSubjects: []string{}}.IsEmpty())
}
