package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/tasukuchiba/ifocus/internal/models"
)

// MemoryStorage はドキュメントをメモリ上に保存するストレージ
type MemoryStorage struct {
	mu          sync.RWMutex
	users       map[string]models.User
	accounts    map[string]models.Account
	courses     map[string]models.Course
	disciplines map[string]map[string]models.Discipline
	chats       map[string]models.Chat
	// messages はチャットごとに保存順で保持する
	messages map[string][]models.Message
}

// NewMemoryStorage は新しいMemoryStorageを作成する
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:       make(map[string]models.User),
		accounts:    make(map[string]models.Account),
		courses:     make(map[string]models.Course),
		disciplines: make(map[string]map[string]models.Discipline),
		chats:       make(map[string]models.Chat),
		messages:    make(map[string][]models.Message),
	}
}

func copyUser(u models.User) models.User {
	u.HelpingSubjects = append([]string{}, u.HelpingSubjects...)
	if u.AvatarURL != nil {
		u.AvatarURL = lo.ToPtr(*u.AvatarURL)
	}
	return u
}

func copyChat(c models.Chat) models.Chat {
	c.Participants = append([]string(nil), c.Participants...)
	if c.LastMessage != nil {
		c.LastMessage = lo.ToPtr(*c.LastMessage)
	}
	if c.LastSender != nil {
		c.LastSender = lo.ToPtr(*c.LastSender)
	}
	return c
}

// CreateUser はプロフィールを保存する
func (s *MemoryStorage) CreateUser(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.UID]; ok {
		return ErrAlreadyExists
	}
	s.users[user.UID] = copyUser(user)
	return nil
}

// GetUser はuidのプロフィールを取得する
func (s *MemoryStorage) GetUser(_ context.Context, uid string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[uid]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return copyUser(u), nil
}

// UpdateUser はプロフィールを部分更新する
func (s *MemoryStorage) UpdateUser(_ context.Context, uid string, update models.UserUpdate) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uid]
	if !ok {
		return models.User{}, ErrNotFound
	}
	if update.Name != nil {
		u.Name = *update.Name
	}
	if update.HelpingSubjects != nil {
		u.HelpingSubjects = append([]string{}, update.HelpingSubjects...)
	}
	if update.AvatarURL != nil {
		u.AvatarURL = lo.ToPtr(*update.AvatarURL)
	}
	s.users[uid] = u
	return copyUser(u), nil
}

// ListHelpersBySubject はsubjectを教えている学生をuid順で返す
func (s *MemoryStorage) ListHelpersBySubject(_ context.Context, subject string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]models.User, 0)
	for _, u := range s.users {
		if lo.Contains(u.HelpingSubjects, subject) {
			result = append(result, copyUser(u))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UID < result[j].UID })
	return result, nil
}

// GetUsers は複数のプロフィールを取得する
func (s *MemoryStorage) GetUsers(_ context.Context, uids []string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]models.User, 0, len(uids))
	for _, uid := range uids {
		if u, ok := s.users[uid]; ok {
			result = append(result, copyUser(u))
		}
	}
	return result, nil
}

// CreateAccount はアカウントを保存する。メールアドレスは大文字小文字を区別しない
func (s *MemoryStorage) CreateAccount(_ context.Context, account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.UID]; ok {
		return ErrAlreadyExists
	}
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, account.Email) {
			return ErrAlreadyExists
		}
	}
	s.accounts[account.UID] = account
	return nil
}

// GetAccountByEmail はメールアドレスでアカウントを取得する
func (s *MemoryStorage) GetAccountByEmail(_ context.Context, email string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			return a, nil
		}
	}
	return models.Account{}, ErrNotFound
}

// GetAccount はuidでアカウントを取得する
func (s *MemoryStorage) GetAccount(_ context.Context, uid string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[uid]
	if !ok {
		return models.Account{}, ErrNotFound
	}
	return a, nil
}

// UpdatePasswordHash はパスワードハッシュを差し替える
func (s *MemoryStorage) UpdatePasswordHash(_ context.Context, uid, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[uid]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = hash
	s.accounts[uid] = a
	return nil
}

func (s *MemoryStorage) sortedDisciplines(courseID string) []models.Discipline {
	result := lo.Values(s.disciplines[courseID])
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ListCourses は科目付きの全コースを返す
func (s *MemoryStorage) ListCourses(_ context.Context) ([]models.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]models.Course, 0, len(s.courses))
	for _, c := range s.courses {
		c.Disciplines = s.sortedDisciplines(c.ID)
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// GetCourse はコースを科目付きで取得する
func (s *MemoryStorage) GetCourse(_ context.Context, courseID string) (models.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.courses[courseID]
	if !ok {
		return models.Course{}, ErrNotFound
	}
	c.Disciplines = s.sortedDisciplines(courseID)
	return c, nil
}

// CreateCourse はコースを保存する。同梱の科目も保存する
func (s *MemoryStorage) CreateCourse(_ context.Context, course models.Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[course.ID]; ok {
		return ErrAlreadyExists
	}
	disciplines := make(map[string]models.Discipline, len(course.Disciplines))
	for _, d := range course.Disciplines {
		disciplines[d.ID] = d
	}
	course.Disciplines = nil
	s.courses[course.ID] = course
	s.disciplines[course.ID] = disciplines
	return nil
}

// RenameCourse はコース名を変更する
func (s *MemoryStorage) RenameCourse(_ context.Context, courseID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[courseID]
	if !ok {
		return ErrNotFound
	}
	c.Name = name
	s.courses[courseID] = c
	return nil
}

// DeleteCourse はコースと科目を削除する
func (s *MemoryStorage) DeleteCourse(_ context.Context, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[courseID]; !ok {
		return ErrNotFound
	}
	delete(s.courses, courseID)
	delete(s.disciplines, courseID)
	return nil
}

// ListDisciplines はコースの科目を返す
func (s *MemoryStorage) ListDisciplines(_ context.Context, courseID string) ([]models.Discipline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.courses[courseID]; !ok {
		return nil, ErrNotFound
	}
	return s.sortedDisciplines(courseID), nil
}

// GetDiscipline は科目を取得する
func (s *MemoryStorage) GetDiscipline(_ context.Context, courseID, disciplineID string) (models.Discipline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.disciplines[courseID][disciplineID]
	if !ok {
		return models.Discipline{}, ErrNotFound
	}
	return d, nil
}

// CreateDiscipline は科目を追加する
func (s *MemoryStorage) CreateDiscipline(_ context.Context, courseID string, discipline models.Discipline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[courseID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.disciplines[courseID][discipline.ID]; ok {
		return ErrAlreadyExists
	}
	s.disciplines[courseID][discipline.ID] = discipline
	return nil
}

// RenameDiscipline は科目名を変更する
func (s *MemoryStorage) RenameDiscipline(_ context.Context, courseID, disciplineID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disciplines[courseID][disciplineID]
	if !ok {
		return ErrNotFound
	}
	d.Name = name
	s.disciplines[courseID][disciplineID] = d
	return nil
}

// DeleteDiscipline は科目を削除する
func (s *MemoryStorage) DeleteDiscipline(_ context.Context, courseID, disciplineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disciplines[courseID][disciplineID]; !ok {
		return ErrNotFound
	}
	delete(s.disciplines[courseID], disciplineID)
	return nil
}

// EnsureChat はチャットが無ければ作成する
func (s *MemoryStorage) EnsureChat(_ context.Context, chatID string, participants []string, createdAt int64) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chats[chatID]; ok {
		return copyChat(c), nil
	}
	c := models.Chat{ID: chatID, Participants: append([]string(nil), participants...), UpdatedAt: createdAt}
	s.chats[chatID] = c
	return copyChat(c), nil
}

// GetChat はチャットを取得する
func (s *MemoryStorage) GetChat(_ context.Context, chatID string) (models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, ErrNotFound
	}
	return copyChat(c), nil
}

// UpdateChatPreview はチャットのプレビューを更新する
func (s *MemoryStorage) UpdateChatPreview(_ context.Context, chatID, preview, sender string, updatedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	c.LastMessage = lo.ToPtr(preview)
	c.LastSender = lo.ToPtr(sender)
	c.UpdatedAt = updatedAt
	s.chats[chatID] = c
	return nil
}

// ListChatsForUser はuidの参加チャットを新しい順に返す
func (s *MemoryStorage) ListChatsForUser(_ context.Context, uid string) ([]models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]models.Chat, 0)
	for _, c := range s.chats {
		if c.HasParticipant(uid) {
			result = append(result, copyChat(c))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].UpdatedAt != result[j].UpdatedAt {
			return result[i].UpdatedAt > result[j].UpdatedAt
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// SaveMessage はメッセージを保存する
func (s *MemoryStorage) SaveMessage(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], msg)
	return nil
}

// ordered は時刻順（同時刻なら保存順）に並べたコピーを返す
func (s *MemoryStorage) ordered(chatID string) []models.Message {
	result := make([]models.Message, len(s.messages[chatID]))
	copy(result, s.messages[chatID])
	sort.SliceStable(result, func(i, j int) bool { return result[i].Timestamp < result[j].Timestamp })
	return result
}

// ListMessages はbeforeより前の最新limit件を昇順で返す
func (s *MemoryStorage) ListMessages(_ context.Context, chatID string, limit int, before int64) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.ordered(chatID)
	if before > 0 {
		all = lo.Filter(all, func(m models.Message, _ int) bool { return m.Timestamp < before })
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// LatestMessage は最新のメッセージを返す
func (s *MemoryStorage) LatestMessage(_ context.Context, chatID string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.ordered(chatID)
	if len(all) == 0 {
		return models.Message{}, ErrNotFound
	}
	return all[len(all)-1], nil
}
