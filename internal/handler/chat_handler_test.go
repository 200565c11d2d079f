package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ciphermg101/smartHIVE-sub000/internal/apperrors"
	"github.com/ciphermg101/smartHIVE-sub000/internal/auth"
	"github.com/ciphermg101/smartHIVE-sub000/internal/middleware"
	"github.com/ciphermg101/smartHIVE-sub000/internal/model"
	"github.com/ciphermg101/smartHIVE-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const testSecret = "handler-test-secret"

// -----------------------------------------------------------------------------
// Stubs
// -----------------------------------------------------------------------------

type stubChatService struct {
	createFn      func(ctx context.Context, accountID string, in service.CreateMessageInput) (*model.Message, error)
	recentFn      func(ctx context.Context, accountID, apartmentID string, limit int64, before *time.Time) (*service.MessagePage, error)
	getFn         func(ctx context.Context, accountID, messageID string) (*model.Message, error)
	markReadFn    func(ctx context.Context, accountID, messageID string) (*service.ReadAck, error)
	bulkReadFn    func(ctx context.Context, accountID, apartmentID string) error
	unreadFn      func(ctx context.Context, accountID, apartmentID string) (int64, error)
	addReactionFn func(ctx context.Context, accountID, messageID, emoji string) (*model.Message, error)
	reactionsFn   func(ctx context.Context, accountID, messageID string) ([]model.Reaction, error)
	deleteFn      func(ctx context.Context, accountID, messageID string) error
}

func (s *stubChatService) CreateMessage(ctx context.Context, accountID string, in service.CreateMessageInput) (*model.Message, error) {
	return s.createFn(ctx, accountID, in)
}

func (s *stubChatService) GetRecentMessages(ctx context.Context, accountID, apartmentID string, limit int64, before *time.Time) (*service.MessagePage, error) {
	return s.recentFn(ctx, accountID, apartmentID, limit, before)
}

func (s *stubChatService) GetMessageByID(ctx context.Context, accountID, messageID string) (*model.Message, error) {
	return s.getFn(ctx, accountID, messageID)
}

func (s *stubChatService) MarkMessageAsRead(ctx context.Context, accountID, messageID string) (*service.ReadAck, error) {
	return s.markReadFn(ctx, accountID, messageID)
}

func (s *stubChatService) BulkMarkAsRead(ctx context.Context, accountID, apartmentID string) error {
	return s.bulkReadFn(ctx, accountID, apartmentID)
}

func (s *stubChatService) GetUnreadCount(ctx context.Context, accountID, apartmentID string) (int64, error) {
	return s.unreadFn(ctx, accountID, apartmentID)
}

func (s *stubChatService) AddReaction(ctx context.Context, accountID, messageID, emoji string) (*model.Message, error) {
	return s.addReactionFn(ctx, accountID, messageID, emoji)
}

func (s *stubChatService) ListReactions(ctx context.Context, accountID, messageID string) ([]model.Reaction, error) {
	return s.reactionsFn(ctx, accountID, messageID)
}

func (s *stubChatService) DeleteMessage(ctx context.Context, accountID, messageID string) error {
	return s.deleteFn(ctx, accountID, messageID)
}

type publishedEvent struct {
	apartmentID string
	name        string
	payload     any
}

type recordingBroadcaster struct {
	events []publishedEvent
}

func (b *recordingBroadcaster) PublishToApartment(apartmentID string, name string, payload any) {
	b.events = append(b.events, publishedEvent{apartmentID, name, payload})
}

// -----------------------------------------------------------------------------
// Harness
// -----------------------------------------------------------------------------

func newRouter(t *testing.T, svc service.ChatService, broadcaster Broadcaster) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := NewChatHandler(svc, broadcaster, zap.NewNop())
	verifier := auth.NewTokenVerifier(testSecret)

	router := gin.New()
	chatRoute := router.Group("/chat", middleware.AuthMiddleware(verifier))
	{
		chatRoute.POST("/", h.CreateMessage)
		chatRoute.GET("/:id", h.GetMessages)
		chatRoute.GET("/:id/unread-count", h.GetUnreadCount)
		chatRoute.GET("/:id/reactions", h.ListReactions)
		chatRoute.POST("/:id/mark-all-read", h.MarkAllRead)
		chatRoute.GET("/message/:messageId", h.GetMessage)
		chatRoute.POST("/message/:messageId/read", h.MarkMessageRead)
		chatRoute.POST("/message/:messageId/react", h.ReactToMessage)
		chatRoute.DELETE("/:id", h.DeleteMessage)
	}
	return router
}

func bearerToken(t *testing.T, accountID string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return "Bearer " + signed
}

func doRequest(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reqBody = bytes.NewBuffer(raw)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return env
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	router := newRouter(t, &stubChatService{}, &recordingBroadcaster{})

	w := doRequest(t, router, http.MethodGet, "/chat/"+primitive.NewObjectID().Hex(), "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	env := decodeEnvelope(t, w)
	if env.Success || env.StatusCode != http.StatusUnauthorized {
		t.Errorf("unexpected error envelope: %+v", env)
	}
}

func TestCreateMessageBroadcastsAfterPersist(t *testing.T) {
	apartmentID := primitive.NewObjectID()
	msg := &model.Message{
		ID:          primitive.NewObjectID(),
		ApartmentID: apartmentID,
		Content:     "hello",
		Type:        model.MessageTypeText,
		Status:      model.MessageStatusSent,
	}

	var gotAccount string
	svc := &stubChatService{
		createFn: func(_ context.Context, accountID string, in service.CreateMessageInput) (*model.Message, error) {
			gotAccount = accountID
			if in.ApartmentID != apartmentID.Hex() || in.Content != "hello" {
				t.Errorf("unexpected input %+v", in)
			}
			return msg, nil
		},
	}
	broadcaster := &recordingBroadcaster{}
	router := newRouter(t, svc, broadcaster)

	w := doRequest(t, router, http.MethodPost, "/chat/", bearerToken(t, "acct-1"), gin.H{
		"apartmentId": apartmentID.Hex(),
		"content":     "hello",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if gotAccount != "acct-1" {
		t.Errorf("expected token subject to reach the service, got %q", gotAccount)
	}

	if len(broadcaster.events) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(broadcaster.events))
	}
	ev := broadcaster.events[0]
	if ev.name != "new-message" || ev.apartmentID != apartmentID.Hex() {
		t.Errorf("unexpected broadcast %q to %q", ev.name, ev.apartmentID)
	}

	env := decodeEnvelope(t, w)
	if !env.Success {
		t.Errorf("expected success envelope, got %+v", env)
	}
}

func TestCreateMessageFailureDoesNotBroadcast(t *testing.T) {
	svc := &stubChatService{
		createFn: func(_ context.Context, _ string, _ service.CreateMessageInput) (*model.Message, error) {
			return nil, apperrors.Validation("content cannot be empty")
		},
	}
	broadcaster := &recordingBroadcaster{}
	router := newRouter(t, svc, broadcaster)

	w := doRequest(t, router, http.MethodPost, "/chat/", bearerToken(t, "acct-1"), gin.H{
		"apartmentId": primitive.NewObjectID().Hex(),
		"content":     "x",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(broadcaster.events) != 0 {
		t.Fatalf("expected no broadcast on failure, got %d", len(broadcaster.events))
	}
}

func TestCreateMessageRejectsMissingFields(t *testing.T) {
	svc := &stubChatService{
		createFn: func(_ context.Context, _ string, _ service.CreateMessageInput) (*model.Message, error) {
			t.Fatal("service must not be called on binding failure")
			return nil, nil
		},
	}
	router := newRouter(t, svc, &recordingBroadcaster{})

	w := doRequest(t, router, http.MethodPost, "/chat/", bearerToken(t, "acct-1"), gin.H{"content": "hi"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetMessagesValidatesQueryParams(t *testing.T) {
	svc := &stubChatService{
		recentFn: func(_ context.Context, _, _ string, limit int64, before *time.Time) (*service.MessagePage, error) {
			return &service.MessagePage{Messages: []model.Message{}, HasMore: false}, nil
		},
	}
	router := newRouter(t, svc, &recordingBroadcaster{})
	token := bearerToken(t, "acct-1")
	base := "/chat/" + primitive.NewObjectID().Hex()

	for _, q := range []string{"?limit=0", "?limit=101", "?limit=abc", "?before=yesterday"} {
		w := doRequest(t, router, http.MethodGet, base+q, token, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("query %q: expected 400, got %d", q, w.Code)
		}
	}

	w := doRequest(t, router, http.MethodGet, base+"?limit=25&before=2026-01-01T00:00:00Z", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetMessagesPassesCursor(t *testing.T) {
	var gotLimit int64
	var gotBefore *time.Time
	svc := &stubChatService{
		recentFn: func(_ context.Context, _, _ string, limit int64, before *time.Time) (*service.MessagePage, error) {
			gotLimit = limit
			gotBefore = before
			return &service.MessagePage{Messages: []model.Message{}, HasMore: true}, nil
		},
	}
	router := newRouter(t, svc, &recordingBroadcaster{})

	cursor := "2026-02-03T04:05:06.789Z"
	w := doRequest(t, router, http.MethodGet, "/chat/"+primitive.NewObjectID().Hex()+"?limit=10&before="+cursor, bearerToken(t, "acct-1"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotLimit != 10 {
		t.Errorf("expected limit 10, got %d", gotLimit)
	}
	want, _ := time.Parse(time.RFC3339Nano, cursor)
	if gotBefore == nil || !gotBefore.Equal(want) {
		t.Errorf("expected before %v, got %v", want, gotBefore)
	}
}

func TestServiceErrorsMapToStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", apperrors.NotFound("message not found"), http.StatusNotFound},
		{"forbidden", apperrors.Forbidden("role not permitted"), http.StatusForbidden},
		{"validation", apperrors.Validation("bad input"), http.StatusBadRequest},
		{"internal", apperrors.Internal("boom", nil), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubChatService{
				getFn: func(_ context.Context, _, _ string) (*model.Message, error) {
					return nil, tc.err
				},
			}
			router := newRouter(t, svc, &recordingBroadcaster{})

			w := doRequest(t, router, http.MethodGet, "/chat/message/"+primitive.NewObjectID().Hex(), bearerToken(t, "acct-1"), nil)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
			env := decodeEnvelope(t, w)
			if env.Success || env.StatusCode != tc.want || env.Message == "" {
				t.Errorf("unexpected error envelope: %+v", env)
			}
		})
	}
}

func TestMarkMessageReadBroadcastsReceipt(t *testing.T) {
	messageID := primitive.NewObjectID()
	apartmentID := primitive.NewObjectID()
	membershipID := primitive.NewObjectID()

	svc := &stubChatService{
		markReadFn: func(_ context.Context, _, _ string) (*service.ReadAck, error) {
			return &service.ReadAck{
				MessageID:    messageID,
				ApartmentID:  apartmentID,
				MembershipID: membershipID,
				ReadAt:       time.Now().UTC(),
			}, nil
		},
	}
	broadcaster := &recordingBroadcaster{}
	router := newRouter(t, svc, broadcaster)

	w := doRequest(t, router, http.MethodPost, "/chat/message/"+messageID.Hex()+"/read", bearerToken(t, "acct-1"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if len(broadcaster.events) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(broadcaster.events))
	}
	ev := broadcaster.events[0]
	if ev.name != "message-read" || ev.apartmentID != apartmentID.Hex() {
		t.Errorf("unexpected broadcast %q to %q", ev.name, ev.apartmentID)
	}
}

func TestReactToMessageBroadcasts(t *testing.T) {
	apartmentID := primitive.NewObjectID()
	svc := &stubChatService{
		addReactionFn: func(_ context.Context, _, _, emoji string) (*model.Message, error) {
			if emoji != "🔥" {
				t.Errorf("expected emoji to reach the service, got %q", emoji)
			}
			return &model.Message{ID: primitive.NewObjectID(), ApartmentID: apartmentID}, nil
		},
	}
	broadcaster := &recordingBroadcaster{}
	router := newRouter(t, svc, broadcaster)

	w := doRequest(t, router, http.MethodPost, "/chat/message/"+primitive.NewObjectID().Hex()+"/react", bearerToken(t, "acct-1"), gin.H{"emoji": "🔥"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(broadcaster.events) != 1 || broadcaster.events[0].name != "message-reaction" {
		t.Fatalf("expected a message-reaction broadcast, got %+v", broadcaster.events)
	}
}

func TestListReactionsReturnsRawList(t *testing.T) {
	voter := primitive.NewObjectID()
	svc := &stubChatService{
		reactionsFn: func(_ context.Context, _, _ string) ([]model.Reaction, error) {
			return []model.Reaction{
				{UserID: voter, Emoji: "👍"},
				{UserID: voter, Emoji: "👍"},
			}, nil
		},
	}
	router := newRouter(t, svc, &recordingBroadcaster{})

	w := doRequest(t, router, http.MethodGet, "/chat/"+primitive.NewObjectID().Hex()+"/reactions", bearerToken(t, "acct-1"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// data is the raw reaction array; aggregation is the display layer's job
	env := decodeEnvelope(t, w)
	var reactions []model.Reaction
	if err := json.Unmarshal(env.Data, &reactions); err != nil {
		t.Fatalf("failed to decode data as a reaction array: %v", err)
	}
	if len(reactions) != 2 {
		t.Errorf("expected 2 raw reactions, got %d", len(reactions))
	}
	if agg := model.AggregateReactions(reactions); len(agg) != 1 || agg[0].Count != 1 {
		t.Errorf("expected duplicate pair to aggregate to count 1, got %+v", agg)
	}
}

func TestDeleteMessage(t *testing.T) {
	svc := &stubChatService{
		deleteFn: func(_ context.Context, _, _ string) error { return nil },
	}
	router := newRouter(t, svc, &recordingBroadcaster{})

	w := doRequest(t, router, http.MethodDelete, "/chat/"+primitive.NewObjectID().Hex(), bearerToken(t, "acct-1"), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	svc.deleteFn = func(_ context.Context, _, _ string) error {
		return apperrors.Forbidden("role %q is not permitted to perform this action", model.RoleTenant)
	}
	w = doRequest(t, router, http.MethodDelete, "/chat/"+primitive.NewObjectID().Hex(), bearerToken(t, "tenant"), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}
