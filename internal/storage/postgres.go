package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/tasukuchiba/ifocus/internal/models"
)

// uniqueViolation はPostgreSQLの一意制約違反コード
const uniqueViolation = "23505"

// PostgresStorage はドキュメントをPostgreSQLに保存するストレージ
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage は新しいPostgresStorageを作成する
func NewPostgresStorage(databaseURL string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	// 接続プール設定
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	storage := &PostgresStorage{db: db}
	if err := storage.migrate(); err != nil {
		return nil, err
	}
	return storage, nil
}

// migrate はデータベーススキーマを作成する
func (s *PostgresStorage) migrate() error {
	query := `
		CREATE TABLE IF NOT EXISTS users (
			uid VARCHAR(128) PRIMARY KEY,
			email VARCHAR(320) NOT NULL,
			name VARCHAR(255) NOT NULL,
			helping_subjects TEXT[] NOT NULL DEFAULT '{}',
			avatar VARCHAR(8) NOT NULL,
			avatar_url TEXT,
			created_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_users_helping_subjects ON users USING GIN (helping_subjects);

		CREATE TABLE IF NOT EXISTS accounts (
			uid VARCHAR(128) PRIMARY KEY,
			email VARCHAR(320) NOT NULL,
			password_hash TEXT NOT NULL,
			created_at BIGINT NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_email ON accounts (LOWER(email));

		CREATE TABLE IF NOT EXISTS courses (
			id VARCHAR(128) PRIMARY KEY,
			name VARCHAR(255) NOT NULL
		);

		CREATE TABLE IF NOT EXISTS disciplines (
			course_id VARCHAR(128) NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
			id VARCHAR(128) NOT NULL,
			name VARCHAR(255) NOT NULL,
			PRIMARY KEY (course_id, id)
		);

		CREATE TABLE IF NOT EXISTS chats (
			id VARCHAR(300) PRIMARY KEY,
			participants TEXT[] NOT NULL,
			last_message TEXT,
			last_sender VARCHAR(128),
			updated_at BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_chats_participants ON chats USING GIN (participants);

		CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL PRIMARY KEY,
			id VARCHAR(36) NOT NULL UNIQUE,
			chat_id VARCHAR(300) NOT NULL,
			sender_id VARCHAR(128) NOT NULL,
			receiver_id VARCHAR(128) NOT NULL,
			message TEXT,
			file_url TEXT,
			file_type VARCHAR(255),
			file_name TEXT,
			timestamp BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_chat_timestamp ON messages(chat_id, timestamp, seq);
	`
	_, err := s.db.Exec(query)
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// nullString はsql.NullStringをポインタに変換する
func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

const userColumns = `uid, email, name, helping_subjects, avatar, avatar_url, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var avatarURL sql.NullString
	err := row.Scan(&u.UID, &u.Email, &u.Name, pq.Array(&u.HelpingSubjects), &u.Avatar, &avatarURL, &u.CreatedAt)
	if err != nil {
		return models.User{}, err
	}
	if u.HelpingSubjects == nil {
		u.HelpingSubjects = []string{}
	}
	u.AvatarURL = nullString(avatarURL)
	return u, nil
}

// CreateUser はプロフィールを保存する
func (s *PostgresStorage) CreateUser(ctx context.Context, user models.User) error {
	subjects := user.HelpingSubjects
	if subjects == nil {
		subjects = []string{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.UID, user.Email, user.Name, pq.Array(subjects), user.Avatar, user.AvatarURL, user.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// GetUser はuidのプロフィールを取得する
func (s *PostgresStorage) GetUser(ctx context.Context, uid string) (models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE uid = $1`, uid)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	return u, err
}

// UpdateUser はプロフィールを部分更新する
func (s *PostgresStorage) UpdateUser(ctx context.Context, uid string, update models.UserUpdate) (models.User, error) {
	var subjects any
	if update.HelpingSubjects != nil {
		subjects = pq.Array(update.HelpingSubjects)
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE users SET
			name = COALESCE($2, name),
			helping_subjects = COALESCE($3, helping_subjects),
			avatar_url = COALESCE($4, avatar_url)
		WHERE uid = $1
		RETURNING `+userColumns,
		uid, update.Name, subjects, update.AvatarURL)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	return u, err
}

func (s *PostgresStorage) queryUsers(ctx context.Context, query string, args ...any) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListHelpersBySubject はsubjectを教えている学生を返す
func (s *PostgresStorage) ListHelpersBySubject(ctx context.Context, subject string) ([]models.User, error) {
	return s.queryUsers(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE helping_subjects @> ARRAY[$1]::TEXT[]
		ORDER BY uid ASC
	`, subject)
}

// GetUsers は複数のプロフィールを指定順で取得する
func (s *PostgresStorage) GetUsers(ctx context.Context, uids []string) ([]models.User, error) {
	if len(uids) == 0 {
		return []models.User{}, nil
	}
	found, err := s.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE uid = ANY($1)`, pq.Array(uids))
	if err != nil {
		return nil, err
	}
	byUID := make(map[string]models.User, len(found))
	for _, u := range found {
		byUID[u.UID] = u
	}
	result := make([]models.User, 0, len(uids))
	for _, uid := range uids {
		if u, ok := byUID[uid]; ok {
			result = append(result, u)
		}
	}
	return result, nil
}

// CreateAccount はアカウントを保存する
func (s *PostgresStorage) CreateAccount(ctx context.Context, account models.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (uid, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, account.UID, account.Email, account.PasswordHash, account.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *PostgresStorage) getAccount(ctx context.Context, where string, arg string) (models.Account, error) {
	var a models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT uid, email, password_hash, created_at FROM accounts WHERE `+where, arg).
		Scan(&a.UID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, ErrNotFound
	}
	return a, err
}

// GetAccountByEmail はメールアドレスでアカウントを取得する
func (s *PostgresStorage) GetAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	return s.getAccount(ctx, "LOWER(email) = LOWER($1)", email)
}

// GetAccount はuidでアカウントを取得する
func (s *PostgresStorage) GetAccount(ctx context.Context, uid string) (models.Account, error) {
	return s.getAccount(ctx, "uid = $1", uid)
}

// execAffectingOne はちょうど1行が更新されなければErrNotFoundを返す
func (s *PostgresStorage) execAffectingOne(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePasswordHash はパスワードハッシュを差し替える
func (s *PostgresStorage) UpdatePasswordHash(ctx context.Context, uid, hash string) error {
	return s.execAffectingOne(ctx, `UPDATE accounts SET password_hash = $2 WHERE uid = $1`, uid, hash)
}

// ListCourses は科目付きの全コースを返す
func (s *PostgresStorage) ListCourses(ctx context.Context) ([]models.Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, d.id, d.name
		FROM courses c
		LEFT JOIN disciplines d ON d.course_id = c.id
		ORDER BY c.id ASC, d.id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	courses := []models.Course{}
	for rows.Next() {
		var courseID, courseName string
		var disciplineID, disciplineName sql.NullString
		if err := rows.Scan(&courseID, &courseName, &disciplineID, &disciplineName); err != nil {
			return nil, err
		}
		if len(courses) == 0 || courses[len(courses)-1].ID != courseID {
			courses = append(courses, models.Course{ID: courseID, Name: courseName, Disciplines: []models.Discipline{}})
		}
		if disciplineID.Valid {
			last := &courses[len(courses)-1]
			last.Disciplines = append(last.Disciplines, models.Discipline{ID: disciplineID.String, Name: disciplineName.String})
		}
	}
	return courses, rows.Err()
}

// GetCourse はコースを科目付きで取得する
func (s *PostgresStorage) GetCourse(ctx context.Context, courseID string) (models.Course, error) {
	var c models.Course
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM courses WHERE id = $1`, courseID).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Course{}, ErrNotFound
	}
	if err != nil {
		return models.Course{}, err
	}
	c.Disciplines, err = s.ListDisciplines(ctx, courseID)
	return c, err
}

// CreateCourse はコースと同梱の科目を1トランザクションで保存する
func (s *PostgresStorage) CreateCourse(ctx context.Context, course models.Course) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO courses (id, name) VALUES ($1, $2)`, course.ID, course.Name)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	for _, d := range course.Disciplines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO disciplines (course_id, id, name) VALUES ($1, $2, $3)
		`, course.ID, d.ID, d.Name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RenameCourse はコース名を変更する
func (s *PostgresStorage) RenameCourse(ctx context.Context, courseID, name string) error {
	return s.execAffectingOne(ctx, `UPDATE courses SET name = $2 WHERE id = $1`, courseID, name)
}

// DeleteCourse はコースを削除する（科目はON DELETE CASCADE）
func (s *PostgresStorage) DeleteCourse(ctx context.Context, courseID string) error {
	return s.execAffectingOne(ctx, `DELETE FROM courses WHERE id = $1`, courseID)
}

// ListDisciplines はコースの科目を返す
func (s *PostgresStorage) ListDisciplines(ctx context.Context, courseID string) ([]models.Discipline, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`, courseID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name FROM disciplines WHERE course_id = $1 ORDER BY id ASC
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	disciplines := []models.Discipline{}
	for rows.Next() {
		var d models.Discipline
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, err
		}
		disciplines = append(disciplines, d)
	}
	return disciplines, rows.Err()
}

// GetDiscipline は科目を取得する
func (s *PostgresStorage) GetDiscipline(ctx context.Context, courseID, disciplineID string) (models.Discipline, error) {
	var d models.Discipline
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name FROM disciplines WHERE course_id = $1 AND id = $2
	`, courseID, disciplineID).Scan(&d.ID, &d.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Discipline{}, ErrNotFound
	}
	return d, err
}

// CreateDiscipline は科目を追加する
func (s *PostgresStorage) CreateDiscipline(ctx context.Context, courseID string, discipline models.Discipline) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disciplines (course_id, id, name) VALUES ($1, $2, $3)
	`, courseID, discipline.ID, discipline.Name)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		// 外部キー違反はコースが存在しないことを意味する
		return ErrNotFound
	}
	return err
}

// RenameDiscipline は科目名を変更する
func (s *PostgresStorage) RenameDiscipline(ctx context.Context, courseID, disciplineID, name string) error {
	return s.execAffectingOne(ctx, `
		UPDATE disciplines SET name = $3 WHERE course_id = $1 AND id = $2
	`, courseID, disciplineID, name)
}

// DeleteDiscipline は科目を削除する
func (s *PostgresStorage) DeleteDiscipline(ctx context.Context, courseID, disciplineID string) error {
	return s.execAffectingOne(ctx, `
		DELETE FROM disciplines WHERE course_id = $1 AND id = $2
	`, courseID, disciplineID)
}

const chatColumns = `id, participants, last_message, last_sender, updated_at`

func scanChat(row rowScanner) (models.Chat, error) {
	var c models.Chat
	var lastMessage, lastSender sql.NullString
	if err := row.Scan(&c.ID, pq.Array(&c.Participants), &lastMessage, &lastSender, &c.UpdatedAt); err != nil {
		return models.Chat{}, err
	}
	c.LastMessage = nullString(lastMessage)
	c.LastSender = nullString(lastSender)
	return c, nil
}

// EnsureChat はチャットが無ければ作成する
func (s *PostgresStorage) EnsureChat(ctx context.Context, chatID string, participants []string, createdAt int64) (models.Chat, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, participants, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, chatID, pq.Array(participants), createdAt); err != nil {
		return models.Chat{}, err
	}
	return s.GetChat(ctx, chatID)
}

// GetChat はチャットを取得する
func (s *PostgresStorage) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	c, err := scanChat(s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrNotFound
	}
	return c, err
}

// UpdateChatPreview はチャットのプレビューを更新する
func (s *PostgresStorage) UpdateChatPreview(ctx context.Context, chatID, preview, sender string, updatedAt int64) error {
	return s.execAffectingOne(ctx, `
		UPDATE chats SET last_message = $2, last_sender = $3, updated_at = $4 WHERE id = $1
	`, chatID, preview, sender, updatedAt)
}

// ListChatsForUser はuidの参加チャットを新しい順に返す
func (s *PostgresStorage) ListChatsForUser(ctx context.Context, uid string) ([]models.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chatColumns+` FROM chats
		WHERE participants @> ARRAY[$1]::TEXT[]
		ORDER BY updated_at DESC, id ASC
	`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []models.Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// SaveMessage はメッセージを保存する
func (s *PostgresStorage) SaveMessage(ctx context.Context, msg models.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, receiver_id, message, file_url, file_type, file_name, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, msg.ID, msg.ChatID, msg.SenderID, msg.ReceiverID, msg.Message, msg.FileURL, msg.FileType, msg.FileName, msg.Timestamp)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

const messageColumns = `id, chat_id, sender_id, receiver_id, message, file_url, file_type, file_name, timestamp`

func scanMessage(row rowScanner) (models.Message, error) {
	var m models.Message
	var text, fileURL, fileType, fileName sql.NullString
	if err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID, &text, &fileURL, &fileType, &fileName, &m.Timestamp); err != nil {
		return models.Message{}, err
	}
	m.Message = nullString(text)
	m.FileURL = nullString(fileURL)
	m.FileType = nullString(fileType)
	m.FileName = nullString(fileName)
	return m, nil
}

// ListMessages はbeforeより前の最新limit件を昇順で返す
func (s *PostgresStorage) ListMessages(ctx context.Context, chatID string, limit int, before int64) ([]models.Message, error) {
	var beforeArg any
	if before > 0 {
		beforeArg = before
	}
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	// 新しい順にlimit件取得してから昇順に並べ直す
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT seq, `+messageColumns+` FROM messages
			WHERE chat_id = $1 AND ($2::BIGINT IS NULL OR timestamp < $2)
			ORDER BY timestamp DESC, seq DESC
			LIMIT $3
		) recent
		ORDER BY timestamp ASC, seq ASC
	`, chatID, beforeArg, limitArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// LatestMessage は最新のメッセージを返す
func (s *PostgresStorage) LatestMessage(ctx context.Context, chatID string) (models.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = $1
		ORDER BY timestamp DESC, seq DESC
		LIMIT 1
	`, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrNotFound
	}
	return m, err
}

// Close はデータベース接続を閉じる
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
