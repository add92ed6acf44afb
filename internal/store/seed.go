package store

import (
	"context"
	"fmt"
	"time"

	"github.com/eldtechnologies/coursechat/internal/auth"
	"github.com/eldtechnologies/coursechat/internal/ids"
	"github.com/eldtechnologies/coursechat/internal/models"
)

// DemoPassword is the password given to every seeded user.
const DemoPassword = "coursechat"

var demoUsers = []struct {
	name     string
	userType models.UserType
}{
	{"admin", models.UserAdmin},
	{"ada", models.UserInstructor},
	{"grace", models.UserStudent},
	{"linus", models.UserStudent},
}

// SeedDemo creates demo users and one conversation with some history. It does
// nothing when the store already has users.
func SeedDemo(ctx context.Context, s DataStore) ([]models.User, error) {
	n, err := s.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, nil
	}

	hash, err := auth.HashPassword(DemoPassword)
	if err != nil {
		return nil, err
	}

	users := make([]models.User, 0, len(demoUsers))
	for _, u := range demoUsers {
		created, err := s.CreateUser(ctx, u.name, u.userType, hash)
		if err != nil {
			return nil, fmt.Errorf("seed user %s: %w", u.name, err)
		}
		users = append(users, *created)
	}

	instructor, student := users[1], users[2]
	conv, err := s.GetOrCreateConversation(ctx, student.ID, instructor.ID)
	if err != nil {
		return nil, fmt.Errorf("seed conversation: %w", err)
	}

	start := time.Now().UTC().Truncate(time.Millisecond).Add(-time.Hour)
	for i := 0; i < 30; i++ {
		from, to := student, instructor
		if i%2 == 1 {
			from, to = instructor, student
		}
		msg := &models.Message{
			ID:             ids.NewMessageID(),
			ConversationID: conv.ID,
			SenderID:       from.ID,
			RecipientID:    to.ID,
			Body:           fmt.Sprintf("Demo message %d", i+1),
			CreatedAt:      start.Add(time.Duration(i) * time.Minute),
			Status:         models.StatusSeen,
		}
		// Leave the last few unread for the student.
		if i >= 25 && to.ID == student.ID {
			msg.Status = models.StatusDelivered
		}
		if err := s.CreateMessage(ctx, msg); err != nil {
			return nil, fmt.Errorf("seed message: %w", err)
		}
	}

	return users, nil
}
