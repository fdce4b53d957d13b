package test

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"wardrobeapi/combinations"
	"wardrobeapi/models"
	"wardrobeapi/services"
)

func JsonString(model interface{}) string {
	bytes, _ := json.Marshal(model)
	return string(bytes)
}

func NewJSONRequest(method string, target string, param interface{}) *http.Request {

	req := httptest.NewRequest(method, target, strings.NewReader(JsonString(param)))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	return req
}

func GenerateUserToken(userPk string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userPk,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * 72)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	t, err := token.SignedString([]byte(os.Getenv("JWT_SECRET")))
	if err != nil {
		log.Fatalf("Error when signing user token for %s. Error %s ", userPk, err)
	}
	return t
}

func NewJSONAuthRequest(method string, target string, userPk string, param interface{}) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(JsonString(param)))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	token := GenerateUserToken(userPk)
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	return req
}

func UserPk(user *models.UserAccount) string {
	return fmt.Sprint(user.ID)
}

func FakeUser(db *gorm.DB, deviceId string) *models.UserAccount {
	user := &models.UserAccount{
		DeviceID:             deviceId,
		Platform:             models.PlatformIOS,
		LastIp:               "123.122.122.122",
		ReceiveNotifications: true,
	}
	db.Create(&user)
	tokenDb := models.UserPushToken{
		UserAccountID: user.ID,
		Platform:      "android",
		Token:         "cX-UZ3zwQEiPt-2GJkG2gA:APA91bGqRflaGrJrnynhRwZ442HdgUjVcO7mWMFnx6IwAdJ9RRKopvSP4QU7hbvTmk1XAp8XGvtHZLvo5JmOPTVKBbGqqvhfbZWKlXA9csEjx1hgpNvrWepU",
		Active:        true,
	}
	db.Save(&tokenDb)
	return user
}

// FakeItem stores a wardrobe item whose images are already uploaded.
func FakeItem(db *gorm.DB, owner *models.UserAccount, role combinations.Role, position int, keys ...string) *models.WardrobeItem {
	item := &models.WardrobeItem{OwnerID: owner.ID, Role: role, Position: position}
	for i, key := range keys {
		item.Images = append(item.Images, models.WardrobeImage{ObjectKey: key, Position: i, Uploaded: true})
	}
	db.Create(item)
	return item
}

// FakeWardrobe gives owner a body set, tops and bottoms.
func FakeWardrobe(db *gorm.DB, owner *models.UserAccount, tops int, bottoms int) (body *models.WardrobeItem, topItems []*models.WardrobeItem, bottomItems []*models.WardrobeItem) {
	body = FakeItem(db, owner, combinations.RoleBody, 0, "users/body-front.png")
	for i := 0; i < tops; i++ {
		topItems = append(topItems, FakeItem(db, owner, combinations.RoleTop, i, fmt.Sprintf("users/top-%d.png", i)))
	}
	for i := 0; i < bottoms; i++ {
		bottomItems = append(bottomItems, FakeItem(db, owner, combinations.RoleBottom, i, fmt.Sprintf("users/bottom-%d.png", i)))
	}
	return body, topItems, bottomItems
}

// MemoryStorage is an in-memory services.ObjectStorage.
type MemoryStorage struct {
	MockUrl string

	mu      sync.Mutex
	Objects map[string][]byte
	Deleted []string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{MockUrl: "https://fakebucketurl.com", Objects: map[string][]byte{}}
}

func (s *MemoryStorage) PresignUpload(ctx context.Context, objectKey string) (string, error) {
	return fmt.Sprintf("%s/upload/%s", s.MockUrl, objectKey), nil
}

func (s *MemoryStorage) PresignRead(ctx context.Context, objectKey string) (string, error) {
	return fmt.Sprintf("%s/%s", s.MockUrl, objectKey), nil
}

func (s *MemoryStorage) PutObject(ctx context.Context, objectKey string, data []byte, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Objects[objectKey] = data
	return nil
}

func (s *MemoryStorage) DeleteObject(ctx context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Objects, objectKey)
	s.Deleted = append(s.Deleted, objectKey)
	return nil
}

func (s *MemoryStorage) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Objects)
}

// FakeStylist returns deterministic looks and critiques. Failures are keyed by
// the first top image key.
type FakeStylist struct {
	mu          sync.Mutex
	Failures    map[string]error
	CritiqueErr error
	Detected    *services.DetectedProfile
	DetectErr   error
	Generated   []string
	Profiles    []combinations.UserProfile
}

func (s *FakeStylist) Generate(ctx context.Context, body, top, bottom, accessories combinations.ImageSet, volumetric bool) (combinations.Image, error) {
	if err := ctx.Err(); err != nil {
		return combinations.Image{}, err
	}
	key := top[0].Key + "+" + bottom[0].Key
	s.mu.Lock()
	s.Generated = append(s.Generated, key)
	s.mu.Unlock()
	if err, ok := s.Failures[top[0].Key]; ok {
		return combinations.Image{}, err
	}
	return combinations.Image{Data: []byte("look:" + key), MIMEType: "image/png"}, nil
}

func (s *FakeStylist) Critique(ctx context.Context, image combinations.Image, profile combinations.UserProfile) (combinations.Critique, error) {
	s.mu.Lock()
	s.Profiles = append(s.Profiles, profile)
	s.mu.Unlock()
	if s.CritiqueErr != nil {
		return combinations.Critique{}, s.CritiqueErr
	}
	return combinations.Critique{
		Rating:        8,
		Suitability:   "Balanced proportions",
		ColorAnalysis: "Warm palette",
		Verdict:       "Confident and polished.",
		BestForEvent:  valueOr(profile.Occasion, "Everyday"),
	}, nil
}

func (s *FakeStylist) DetectProfile(ctx context.Context, image combinations.Image) (*services.DetectedProfile, error) {
	if s.DetectErr != nil {
		return nil, s.DetectErr
	}
	if s.Detected != nil {
		return s.Detected, nil
	}
	return &services.DetectedProfile{Height: "175cm", BodyType: "Athletic"}, nil
}

func (s *FakeStylist) GeneratedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Generated...)
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

type Notification struct {
	UserId  uint
	Title   string
	Message string
	Data    map[string]string
}

type MockNotifier struct {
	mu   sync.Mutex
	Sent []Notification
}

func (n *MockNotifier) Notify(ctx context.Context, userId uint, title string, message string, customData map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Sent = append(n.Sent, Notification{UserId: userId, Title: title, Message: message, Data: customData})
	return nil
}

// MemoryEventBus delivers run events to in-process subscribers.
type MemoryEventBus struct {
	mu          sync.Mutex
	Events      []services.RunEvent
	subscribers map[uint][]chan services.RunEvent
}

func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{subscribers: map[uint][]chan services.RunEvent{}}
}

func (b *MemoryEventBus) Publish(ctx context.Context, event services.RunEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Events = append(b.Events, event)
	for _, ch := range b.subscribers[event.RunID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (b *MemoryEventBus) Subscribe(ctx context.Context, runID uint) (<-chan services.RunEvent, func(), error) {
	ch := make(chan services.RunEvent, 64)
	b.mu.Lock()
	b.subscribers[runID] = append(b.subscribers[runID], ch)
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subscribers[runID]
			for i, sub := range subs {
				if sub == ch {
					b.subscribers[runID] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}, nil
}

func (b *MemoryEventBus) Subscribers(runID uint) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[runID])
}

func (b *MemoryEventBus) Published() []services.RunEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]services.RunEvent(nil), b.Events...)
}

// MockEnqueuer records enqueued tasks instead of talking to redis.
type MockEnqueuer struct {
	mu    sync.Mutex
	Tasks []*asynq.Task
	Err   error
}

func (m *MockEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tasks = append(m.Tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(m.Tasks)), Type: task.Type()}, nil
}

func (m *MockEnqueuer) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.Tasks))
	for _, task := range m.Tasks {
		types = append(types, task.Type())
	}
	return types
}
