package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/nano-midea/chatsync/internal/chatlist"
	"github.com/anonto42/nano-midea/chatsync/internal/headcache"
	"github.com/anonto42/nano-midea/chatsync/internal/middleware"
	"github.com/anonto42/nano-midea/chatsync/internal/models"
	"github.com/anonto42/nano-midea/chatsync/internal/notify"
	"github.com/anonto42/nano-midea/chatsync/internal/profilecache"
	"github.com/anonto42/nano-midea/chatsync/internal/repositories/memory"
	"github.com/anonto42/nano-midea/chatsync/internal/session"
	"github.com/anonto42/nano-midea/chatsync/internal/unread"
	"github.com/anonto42/nano-midea/chatsync/validators"
)

type server struct {
	e       *echo.Echo
	backend *memory.Backend
	sess    *session.Session
}

func newServer(t *testing.T) *server {
	t.Helper()
	b := memory.New()
	profiles, err := profilecache.New(b, profilecache.Options{Log: zerolog.Nop()})
	require.NoError(t, err)
	sess := session.New(session.Deps{
		Store:     b.Store(),
		Profiles:  profiles,
		Heads:     headcache.New(nil, zerolog.Nop()),
		Marks:     unread.NewWatermarks(nil, zerolog.Nop(), nil),
		Favorites: chatlist.NewFavorites(nil, zerolog.Nop()),
		Notify:    notify.NewCenter(time.Minute),
		Log:       zerolog.Nop(),
	})
	t.Cleanup(sess.Close)

	e := echo.New()
	e.Validator = validators.NewValidator()
	SetupRoutes(e, Deps{Session: sess, Verifier: middleware.DevVerifier{}, Log: zerolog.Nop()})
	return &server{e: e, backend: b, sess: sess}
}

func (s *server) do(t *testing.T, method, path, uid, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+uid)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/chats", "", "").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/metrics", "", "").Code)
}

func TestFriendFlowThenChat(t *testing.T) {
	s := newServer(t)
	s.backend.PutPublicProfile(models.PublicProfile{UID: "bob", DisplayName: "Bob"})
	s.backend.PutUsername("bob", "bob")

	rec := s.do(t, http.MethodPost, "/api/v1/chats/open", "alice", `{"other_id":"bob"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/friends/request", "alice", `{"handle":"@Bob"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rel := decode[models.FriendRelationship](t, rec)
	assert.Equal(t, models.FriendPending, rel.Status)

	rec = s.do(t, http.MethodPost, "/api/v1/friends/request", "alice", `{"to":"bob"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Bob answers; the session switches identity.
	rec = s.do(t, http.MethodPut, "/api/v1/friends/request/"+rel.ID+"/status", "bob", `{"status":"accepted"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "bob", s.sess.UID())

	rec = s.do(t, http.MethodPost, "/api/v1/chats/open", "alice", `{"other_id":"bob"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	conv := decode[models.Conversation](t, rec)

	rec = s.do(t, http.MethodPost, "/api/v1/rooms/"+conv.ID+"/messages", "alice", `{"text":"hello bob"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/api/v1/chats?q=hello", "alice", "")
		list := decode[struct {
			Rows []chatlist.Row `json:"rows"`
		}](t, rec)
		return len(list.Rows) == 1 && list.Rows[0].ConversationID == conv.ID
	}, time.Second, 10*time.Millisecond)

	rec = s.do(t, http.MethodGet, "/api/v1/rooms/"+conv.ID, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello bob")

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/v1/rooms/"+conv.ID, "alice", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/v1/rooms/"+conv.ID, "alice", "").Code)
}

func TestValidationErrors(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/chats/open", "alice", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/friends/request", "alice", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/api/v1/friends/request/x/status", "alice", `{"status":"maybe"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/friends/request", "alice", `{"to":"alice"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/rooms/temp:bob", "alice", "").Code)
	assert.Equal(t, http.StatusPreconditionFailed, s.do(t, http.MethodPost, "/api/v1/rooms/nope/more", "alice", "").Code)
}

func TestUserSearchAndLogout(t *testing.T) {
	s := newServer(t)
	s.backend.PutPublicProfile(models.PublicProfile{UID: "u1", DisplayName: "Nadia", Gamertag: "nadia"})
	s.backend.PutUsername("nadia", "u1")
	s.backend.PutUsername("nate", "u2")

	rec := s.do(t, http.MethodGet, "/api/v1/users/search?q=NA", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	found := decode[[]models.UserProfile](t, rec)
	assert.Len(t, found, 2)

	rec = s.do(t, http.MethodGet, "/api/v1/users/u1", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[models.UserProfile](t, rec)
	assert.Equal(t, "@nadia", profile.Title())

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/v1/session", "alice", "").Code)
	assert.Empty(t, s.sess.UID())
}

func TestNotificationsDismiss(t *testing.T) {
	s := newServer(t)
	n := s.sess.Notifications().Error("Message not sent")

	rec := s.do(t, http.MethodGet, "/api/v1/notifications", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Notification](t, rec), 1)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/v1/notifications/"+n.ID, "alice", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/v1/notifications/"+n.ID, "alice", "").Code)
}

func TestResetCodeUnconfigured(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/auth/send-code", "", `{"email":"a@example.com"}`)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/auth/send-code", "", `{"email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
