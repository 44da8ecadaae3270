package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/microvolunteer/platform/models"
	"github.com/microvolunteer/platform/store"
	"github.com/microvolunteer/platform/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

func ptr[T any](v T) *T { return &v }

type sentEmail struct {
	toEmail string
	subject string
	text    string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (n *fakeNotifier) SendEmail(_ context.Context, _, toEmail, subject, text, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEmail{toEmail: toEmail, subject: subject, text: text})
	return n.err
}

func (n *fakeNotifier) to(email string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.sent {
		if e.toEmail == email {
			count++
		}
	}
	return count
}

type fakeModerator struct {
	approved bool
	reason   string
	err      error
	calls    int
}

func (m *fakeModerator) ReviewTask(_ context.Context, _, _ string) (bool, string, error) {
	m.calls++
	return m.approved, m.reason, m.err
}

type fakePictures struct {
	saved map[string][]byte
	err   error
}

func (p *fakePictures) SavePicture(_ context.Context, file io.Reader, key, _ string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	if p.saved == nil {
		p.saved = make(map[string][]byte)
	}
	p.saved[key] = data
	return key, nil
}

func (p *fakePictures) PictureURL(_ context.Context, ref string) (string, error) {
	if ref == "broken" {
		return "", errors.New("no such object")
	}
	return "https://cdn.example.com/" + ref, nil
}

// testEnv is a full service stack over in-memory stores.
type testEnv struct {
	users    *store.MemoryUserStore
	tasks    *store.MemoryTaskStore
	notifier *fakeNotifier
	auth     *AuthService
	taskSvc  *TaskService
	profiles *ProfileService
	pictures *fakePictures
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		users:    store.NewMemoryUserStore(),
		tasks:    store.NewMemoryTaskStore(),
		notifier: &fakeNotifier{},
		pictures: &fakePictures{},
	}
	jwt := utils.NewJWTManager("test-secret", time.Hour)
	env.auth = NewAuthService(env.users, jwt, jwt, env.notifier)
	env.auth.hashCost = bcrypt.MinCost
	env.taskSvc = NewTaskService(env.tasks, env.users, TaskPolicy{}, env.notifier, nil)
	env.profiles = NewProfileService(env.users, env.auth, env.pictures)
	return env
}

// signUp registers and logs in a user, returning the login result.
func (e *testEnv) signUp(t *testing.T, name, email string) *LoginResult {
	t.Helper()
	ctx := context.Background()
	if _, err := e.auth.Register(ctx, RegisterInput{Name: name, Email: email, Password: "password123"}); err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	res, err := e.auth.Login(ctx, LoginInput{Email: email, Password: "password123"})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return res
}

func newUserWithPicture(id primitive.ObjectID, email, picture string) *models.User {
	return &models.User{ID: id, Name: "Pic", Email: email, ProfilePicture: picture, CreatedAt: time.Now()}
}
