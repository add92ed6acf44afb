package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/coursechat/internal/ids"
	"github.com/eldtechnologies/coursechat/internal/models"
)

func TestMemoryStore(t *testing.T) {
	testDataStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer s.Close()
	testDataStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), url)
	require.NoError(t, err)
	defer s.Close()
	testDataStore(t, s)
}

func TestNormalizePage(t *testing.T) {
	l, p := NormalizePage(0, 0)
	require.Equal(t, DefaultPageSize, l)
	require.Equal(t, 1, p)

	l, p = NormalizePage(5000, 3)
	require.Equal(t, MaxPageSize, l)
	require.Equal(t, 3, p)
}

func testDataStore(t *testing.T, s DataStore) {
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	base := time.Now().UTC().Truncate(time.Millisecond).Add(time.Minute)

	// Unique names keep a shared postgres database usable across runs.
	suffix := ids.NewMessageID()
	instructor, err := s.CreateUser(ctx, "instructor-"+suffix, models.UserInstructor, "hash")
	require.NoError(t, err)
	student, err := s.CreateUser(ctx, "student-"+suffix, models.UserStudent, "hash")
	require.NoError(t, err)
	other, err := s.CreateUser(ctx, "other-"+suffix, models.UserStudent, "")
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, "INSTRUCTOR-"+suffix, models.UserStudent, "")
	require.ErrorIs(t, err, ErrDuplicateUser)

	t.Run("users", func(t *testing.T) {
		got, err := s.GetUserByName(ctx, "Instructor-"+suffix)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, instructor.ID, got.ID)
		require.Equal(t, models.UserInstructor, got.Type)
		require.Equal(t, "hash", got.PasswordHash)

		missing, err := s.GetUserByID(ctx, "nope")
		require.NoError(t, err)
		require.Nil(t, missing)

		n, err := s.CountUsers(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, int64(3))
	})

	conv, err := s.GetOrCreateConversation(ctx, student.ID, instructor.ID)
	require.NoError(t, err)
	again, err := s.GetOrCreateConversation(ctx, instructor.ID, student.ID)
	require.NoError(t, err)
	require.Equal(t, conv.ID, again.ID)
	require.Equal(t, student.ID, again.InitiatorID)

	side, err := s.GetOrCreateConversation(ctx, other.ID, student.ID)
	require.NoError(t, err)
	require.NotEqual(t, conv.ID, side.ID)

	// 35 messages, alternating authors.
	var sent []models.Message
	for i := 0; i < 35; i++ {
		from, to := instructor.ID, student.ID
		if i%2 == 1 {
			from, to = student.ID, instructor.ID
		}
		m := models.Message{
			ID:             ids.NewMessageID(),
			ConversationID: conv.ID,
			SenderID:       from,
			RecipientID:    to,
			Body:           fmt.Sprintf("message %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
			Status:         models.StatusSent,
		}
		require.NoError(t, s.CreateMessage(ctx, &m))
		sent = append(sent, m)
	}
	sideMsg := models.Message{
		ID:             ids.NewMessageID(),
		ConversationID: side.ID,
		SenderID:       other.ID,
		RecipientID:    student.ID,
		Body:           "hi",
		CreatedAt:      base.Add(time.Hour),
		Status:         models.StatusSent,
		LocalID:        "local-x",
	}
	require.NoError(t, s.CreateMessage(ctx, &sideMsg))

	t.Run("pagination", func(t *testing.T) {
		msgs, total, err := s.ListMessages(ctx, conv.ID, 20, 1)
		require.NoError(t, err)
		require.Equal(t, 35, total)
		require.Len(t, msgs, 20)
		require.Equal(t, sent[15].ID, msgs[0].ID)
		require.Equal(t, sent[34].ID, msgs[19].ID)
		require.True(t, msgs[0].CreatedAt.Equal(sent[15].CreatedAt))

		msgs, _, err = s.ListMessages(ctx, conv.ID, 30, 1)
		require.NoError(t, err)
		require.Len(t, msgs, 30)
		require.Equal(t, sent[5].ID, msgs[0].ID)

		msgs, _, err = s.ListMessages(ctx, conv.ID, 20, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 15)
		require.Equal(t, sent[0].ID, msgs[0].ID)

		msgs, _, err = s.ListMessages(ctx, conv.ID, 20, 3)
		require.NoError(t, err)
		require.Empty(t, msgs)

		msgs, _, err = s.ListMessages(ctx, side.ID, 20, 1)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.Equal(t, "local-x", msgs[0].LocalID)
	})

	t.Run("local id", func(t *testing.T) {
		got, err := s.GetMessageByLocalID(ctx, side.ID, other.ID, "local-x")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, sideMsg.ID, got.ID)

		got, err = s.GetMessageByLocalID(ctx, side.ID, student.ID, "local-x")
		require.NoError(t, err)
		require.Nil(t, got)

		again := sideMsg
		again.ID = ids.NewMessageID()
		require.ErrorIs(t, s.CreateMessage(ctx, &again), ErrDuplicateMessage)

		msgs, total, err := s.ListMessages(ctx, side.ID, 20, 1)
		require.NoError(t, err)
		require.Equal(t, 1, total)
		require.Len(t, msgs, 1)
	})

	t.Run("conversations", func(t *testing.T) {
		convs, err := s.ListConversations(ctx, student.ID)
		require.NoError(t, err)
		require.Len(t, convs, 2)
		require.Equal(t, side.ID, convs[0].ID)
		require.NotNil(t, convs[0].LastMessage)
		require.Equal(t, sideMsg.ID, convs[0].LastMessage.ID)
		require.Equal(t, 1, convs[0].UnreadCount)
		require.Equal(t, conv.ID, convs[1].ID)
		require.Equal(t, sent[34].ID, convs[1].LastMessage.ID)
		require.Equal(t, 18, convs[1].UnreadCount)

		convs, err = s.ListConversations(ctx, instructor.ID)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		require.Equal(t, 17, convs[0].UnreadCount)

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		require.True(t, got.Includes(instructor.ID))
		require.True(t, got.UpdatedAt.Equal(sent[34].CreatedAt))

		missing, err := s.GetConversation(ctx, "nope")
		require.NoError(t, err)
		require.Nil(t, missing)
	})

	t.Run("mark seen", func(t *testing.T) {
		// sent[0] and sent[2] went to the student, sent[1] did not.
		updated, err := s.MarkSeen(ctx, conv.ID, student.ID, []string{sent[0].ID, sent[1].ID, sent[2].ID})
		require.NoError(t, err)
		require.Len(t, updated, 2)
		require.Equal(t, sent[0].ID, updated[0].ID)
		require.Equal(t, models.StatusSeen, updated[0].Status)
		require.Equal(t, instructor.ID, updated[1].SenderID)

		updated, err = s.MarkSeen(ctx, conv.ID, student.ID, []string{sent[0].ID})
		require.NoError(t, err)
		require.Empty(t, updated)

		convs, err := s.ListConversations(ctx, student.ID)
		require.NoError(t, err)
		require.Equal(t, 16, convs[1].UnreadCount)

		msgs, _, err := s.ListMessages(ctx, conv.ID, 35, 1)
		require.NoError(t, err)
		require.Equal(t, models.StatusSeen, msgs[0].Status)
		require.Equal(t, models.StatusSent, msgs[1].Status)
	})

	n, err := s.CountMessages(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, int64(36))
}
