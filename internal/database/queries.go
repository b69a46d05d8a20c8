package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (db *PgAnonymeetRepository) CreateAccount(params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO accounts (id, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, email, created_at",
		uuid.NewString(),
		params.Email,
		params.PasswordHash,
		now,
		now,
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Email,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgAnonymeetRepository) GetAccountById(id string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, password_hash, created_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)

	return user, err
}

func (db *PgAnonymeetRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, password_hash, created_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)

	return user, err
}

func (db *PgAnonymeetRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO rooms (id, name, code, created_by, organizer_anonymous_id, is_active, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7) "+
			"RETURNING id, name, code, created_by, organizer_anonymous_id, is_active, created_at, updated_at",
		uuid.NewString(),
		params.Name,
		params.Code,
		params.CreatedBy,
		params.OrganizerAnonymousId,
		now,
		now,
	)

	var room Room
	err := res.Scan(
		&room.Id,
		&room.Name,
		&room.Code,
		&room.CreatedBy,
		&room.OrganizerAnonymousId,
		&room.IsActive,
		&room.CreatedAt,
		&room.UpdatedAt,
	)

	return room, err
}

const roomColumns = "id, name, code, created_by, organizer_anonymous_id, is_active, created_at, updated_at"

func (db *PgAnonymeetRepository) GetRoomById(id string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT "+roomColumns+" FROM rooms WHERE id = $1 LIMIT 1",
		id,
	)

	return scanRoom(row)
}

func (db *PgAnonymeetRepository) GetRoomByCode(code string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT "+roomColumns+" FROM rooms WHERE code = $1 LIMIT 1",
		code,
	)

	return scanRoom(row)
}

func scanRoom(row *sql.Row) (Room, error) {
	var room Room
	err := row.Scan(
		&room.Id,
		&room.Name,
		&room.Code,
		&room.CreatedBy,
		&room.OrganizerAnonymousId,
		&room.IsActive,
		&room.CreatedAt,
		&room.UpdatedAt,
	)

	return room, err
}

func (db *PgAnonymeetRepository) RoomCodeExists(code string) (bool, error) {
	row := db.conn.QueryRow("SELECT 1 FROM rooms WHERE code = $1 LIMIT 1", code)

	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}

	return err == nil, err
}

// EndRoom deactivates the room and every member record for it in one transaction.
func (db *PgAnonymeetRepository) EndRoom(roomId string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"UPDATE rooms SET is_active = FALSE, updated_at = $2 WHERE id = $1",
		roomId,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec("UPDATE room_members SET is_active = FALSE WHERE room_id = $1", roomId)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgAnonymeetRepository) CreateMember(roomId, userId, anonymousId string) (RoomMember, error) {
	res := db.conn.QueryRow(
		"INSERT INTO room_members (id, room_id, user_id, anonymous_id, joined_at, is_active) "+
			"VALUES ($1, $2, $3, $4, $5, TRUE) "+
			"RETURNING id, room_id, user_id, anonymous_id, joined_at, is_active",
		uuid.NewString(),
		roomId,
		userId,
		anonymousId,
		time.Now().UTC(),
	)

	return scanMember(res)
}

func (db *PgAnonymeetRepository) GetMember(roomId, userId string) (RoomMember, error) {
	row := db.conn.QueryRow(
		"SELECT id, room_id, user_id, anonymous_id, joined_at, is_active FROM room_members "+
			"WHERE room_id = $1 AND user_id = $2 LIMIT 1",
		roomId,
		userId,
	)

	return scanMember(row)
}

func scanMember(row *sql.Row) (RoomMember, error) {
	var m RoomMember
	err := row.Scan(
		&m.Id,
		&m.RoomId,
		&m.UserId,
		&m.AnonymousId,
		&m.JoinedAt,
		&m.IsActive,
	)

	return m, err
}

// ReactivateMember flips a previously left member back to active and refreshes joined_at.
func (db *PgAnonymeetRepository) ReactivateMember(roomId, userId string) error {
	_, err := db.conn.Exec(
		"UPDATE room_members SET is_active = TRUE, joined_at = $3 WHERE room_id = $1 AND user_id = $2",
		roomId,
		userId,
		time.Now().UTC(),
	)

	return err
}

func (db *PgAnonymeetRepository) DeactivateMember(roomId, userId string) error {
	_, err := db.conn.Exec(
		"UPDATE room_members SET is_active = FALSE WHERE room_id = $1 AND user_id = $2",
		roomId,
		userId,
	)

	return err
}

func (db *PgAnonymeetRepository) ActiveMemberExists(roomId, userId, anonymousId string) bool {
	row := db.conn.QueryRow(
		"SELECT 1 FROM room_members "+
			"WHERE room_id = $1 AND user_id = $2 AND anonymous_id = $3 AND is_active LIMIT 1",
		roomId,
		userId,
		anonymousId,
	)

	var one int
	return row.Scan(&one) == nil
}

func (db *PgAnonymeetRepository) ListActiveMembers(roomId string) ([]RoomMember, error) {
	rows, err := db.conn.Query(
		"SELECT id, room_id, user_id, anonymous_id, joined_at, is_active FROM room_members "+
			"WHERE room_id = $1 AND is_active ORDER BY joined_at",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []RoomMember
	for rows.Next() {
		var m RoomMember
		if err = rows.Scan(&m.Id, &m.RoomId, &m.UserId, &m.AnonymousId, &m.JoinedAt, &m.IsActive); err != nil {
			break
		}

		members = append(members, m)
	}

	return members, err
}

func (db *PgAnonymeetRepository) ListMemberships(userId string) ([]RoomMember, error) {
	rows, err := db.conn.Query(
		"SELECT id, room_id, user_id, anonymous_id, joined_at, is_active FROM room_members "+
			"WHERE user_id = $1 ORDER BY joined_at DESC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []RoomMember
	for rows.Next() {
		var m RoomMember
		if err = rows.Scan(&m.Id, &m.RoomId, &m.UserId, &m.AnonymousId, &m.JoinedAt, &m.IsActive); err != nil {
			break
		}

		members = append(members, m)
	}

	return members, err
}

func (db *PgAnonymeetRepository) CountActiveMembers(roomId string) (int, error) {
	row := db.conn.QueryRow(
		"SELECT COUNT(*) FROM room_members WHERE room_id = $1 AND is_active",
		roomId,
	)

	var count int
	err := row.Scan(&count)

	return count, err
}

func (db *PgAnonymeetRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	var replyTo sql.NullString
	if params.ReplyTo != "" {
		replyTo = sql.NullString{String: params.ReplyTo, Valid: true}
	}

	row := db.conn.QueryRow(
		"INSERT INTO messages (id, room_id, user_id, anonymous_id, content, reply_to, reactions, user_reactions, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, '{}', '{}', $7) "+
			"RETURNING id, room_id, user_id, anonymous_id, content, reply_to, reactions, user_reactions, created_at",
		uuid.NewString(),
		params.RoomId,
		params.UserId,
		params.AnonymousId,
		params.Content,
		replyTo,
		time.Now().UTC(),
	)

	return scanMessage(row)
}

func (db *PgAnonymeetRepository) GetMessageById(id string) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT id, room_id, user_id, anonymous_id, content, reply_to, reactions, user_reactions, created_at "+
			"FROM messages WHERE id = $1 LIMIT 1",
		id,
	)

	return scanMessage(row)
}

func scanMessage(row *sql.Row) (Message, error) {
	var (
		msg           Message
		replyTo       sql.NullString
		reactions     []byte
		userReactions []byte
	)

	err := row.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.UserId,
		&msg.AnonymousId,
		&msg.Content,
		&replyTo,
		&reactions,
		&userReactions,
		&msg.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	msg.ReplyTo = replyTo.String
	if err := json.Unmarshal(reactions, &msg.Reactions); err != nil {
		return Message{}, fmt.Errorf("decode reactions: %w", err)
	}
	if err := json.Unmarshal(userReactions, &msg.UserReactions); err != nil {
		return Message{}, fmt.Errorf("decode user reactions: %w", err)
	}

	return msg, nil
}

func (db *PgAnonymeetRepository) UpdateMessageReactions(id string, reactions map[string]int, userReactions map[string]string) error {
	reactionsJson, err := json.Marshal(reactions)
	if err != nil {
		return fmt.Errorf("encode reactions: %w", err)
	}

	userReactionsJson, err := json.Marshal(userReactions)
	if err != nil {
		return fmt.Errorf("encode user reactions: %w", err)
	}

	_, err = db.conn.Exec(
		"UPDATE messages SET reactions = $2, user_reactions = $3 WHERE id = $1",
		id,
		reactionsJson,
		userReactionsJson,
	)

	return err
}

// GetRecentMessages returns the newest limit messages for a room ordered oldest first.
func (db *PgAnonymeetRepository) GetRecentMessages(roomId string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := db.conn.Query(
		"SELECT id, room_id, user_id, anonymous_id, content, reply_to, reactions, user_reactions, created_at FROM ("+
			"SELECT * FROM messages WHERE room_id = $1 ORDER BY created_at DESC LIMIT $2"+
			") recent ORDER BY created_at ASC",
		roomId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var (
			msg           Message
			replyTo       sql.NullString
			reactions     []byte
			userReactions []byte
		)

		if err = rows.Scan(&msg.Id, &msg.RoomId, &msg.UserId, &msg.AnonymousId, &msg.Content,
			&replyTo, &reactions, &userReactions, &msg.CreatedAt); err != nil {
			break
		}

		msg.ReplyTo = replyTo.String
		if err = json.Unmarshal(reactions, &msg.Reactions); err != nil {
			break
		}
		if err = json.Unmarshal(userReactions, &msg.UserReactions); err != nil {
			break
		}

		messages = append(messages, msg)
	}

	return messages, err
}

func (db *PgAnonymeetRepository) CreatePoll(params CreatePollParams) (Poll, error) {
	optionsJson, err := json.Marshal(params.Options)
	if err != nil {
		return Poll{}, fmt.Errorf("encode options: %w", err)
	}

	voteCountsJson, err := json.Marshal(make([]int, len(params.Options)))
	if err != nil {
		return Poll{}, fmt.Errorf("encode vote counts: %w", err)
	}

	row := db.conn.QueryRow(
		"INSERT INTO polls (id, room_id, created_by, creator_anonymous_id, question, poll_type, options, votes, vote_counts, is_active, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, '{}', $8, TRUE, $9) "+
			"RETURNING id, room_id, created_by, creator_anonymous_id, question, poll_type, options, votes, vote_counts, is_active, created_at",
		uuid.NewString(),
		params.RoomId,
		params.CreatedBy,
		params.CreatorAnonymousId,
		params.Question,
		params.PollType,
		optionsJson,
		voteCountsJson,
		time.Now().UTC(),
	)

	return scanPoll(row)
}

func (db *PgAnonymeetRepository) GetPollById(id string) (Poll, error) {
	row := db.conn.QueryRow(
		"SELECT id, room_id, created_by, creator_anonymous_id, question, poll_type, options, votes, vote_counts, is_active, created_at "+
			"FROM polls WHERE id = $1 LIMIT 1",
		id,
	)

	return scanPoll(row)
}

func scanPoll(row *sql.Row) (Poll, error) {
	var (
		poll       Poll
		options    []byte
		votes      []byte
		voteCounts []byte
	)

	err := row.Scan(
		&poll.Id,
		&poll.RoomId,
		&poll.CreatedBy,
		&poll.CreatorAnonymousId,
		&poll.Question,
		&poll.PollType,
		&options,
		&votes,
		&voteCounts,
		&poll.IsActive,
		&poll.CreatedAt,
	)
	if err != nil {
		return Poll{}, err
	}

	if err := json.Unmarshal(options, &poll.Options); err != nil {
		return Poll{}, fmt.Errorf("decode options: %w", err)
	}
	if err := json.Unmarshal(votes, &poll.Votes); err != nil {
		return Poll{}, fmt.Errorf("decode votes: %w", err)
	}
	if err := json.Unmarshal(voteCounts, &poll.VoteCounts); err != nil {
		return Poll{}, fmt.Errorf("decode vote counts: %w", err)
	}

	return poll, nil
}

func (db *PgAnonymeetRepository) UpdatePollVotes(id string, votes map[string]int, voteCounts []int) error {
	votesJson, err := json.Marshal(votes)
	if err != nil {
		return fmt.Errorf("encode votes: %w", err)
	}

	voteCountsJson, err := json.Marshal(voteCounts)
	if err != nil {
		return fmt.Errorf("encode vote counts: %w", err)
	}

	_, err = db.conn.Exec(
		"UPDATE polls SET votes = $2, vote_counts = $3 WHERE id = $1",
		id,
		votesJson,
		voteCountsJson,
	)

	return err
}

func (db *PgAnonymeetRepository) EndPoll(id string) error {
	_, err := db.conn.Exec("UPDATE polls SET is_active = FALSE WHERE id = $1", id)

	return err
}

func (db *PgAnonymeetRepository) GetActivePolls(roomId string) ([]Poll, error) {
	rows, err := db.conn.Query(
		"SELECT id, room_id, created_by, creator_anonymous_id, question, poll_type, options, votes, vote_counts, is_active, created_at "+
			"FROM polls WHERE room_id = $1 AND is_active ORDER BY created_at DESC",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var polls []Poll
	for rows.Next() {
		var (
			poll       Poll
			options    []byte
			votes      []byte
			voteCounts []byte
		)

		if err = rows.Scan(&poll.Id, &poll.RoomId, &poll.CreatedBy, &poll.CreatorAnonymousId,
			&poll.Question, &poll.PollType, &options, &votes, &voteCounts, &poll.IsActive, &poll.CreatedAt); err != nil {
			break
		}

		if err = json.Unmarshal(options, &poll.Options); err != nil {
			break
		}
		if err = json.Unmarshal(votes, &poll.Votes); err != nil {
			break
		}
		if err = json.Unmarshal(voteCounts, &poll.VoteCounts); err != nil {
			break
		}

		polls = append(polls, poll)
	}

	return polls, err
}
