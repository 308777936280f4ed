package resetcode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/anonto42/nano-midea/chatsync/pkg/errors"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/send-code", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		if body["email"] == "down@example.com" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"mailer down"}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"code sent"}`))
	})
	mux.HandleFunc("/verify-code", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		if body["code"] != "123456" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"invalid code"}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"verified"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSendAndVerify(t *testing.T) {
	c := NewClient(newServer(t).URL+"/", 0)

	reply, err := c.SendCode(context.Background(), SendCodeRequest{Email: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "code sent", reply.Message)

	reply, err = c.VerifyCode(context.Background(), VerifyCodeRequest{Email: "a@example.com", Code: "123456"})
	require.NoError(t, err)
	assert.Equal(t, "verified", reply.Message)
}

func TestErrorPayloadsMapToCodes(t *testing.T) {
	c := NewClient(newServer(t).URL, 0)

	_, err := c.VerifyCode(context.Background(), VerifyCodeRequest{Email: "a@example.com", Code: "000000"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
	assert.Equal(t, "invalid code", apperr.MessageOf(err))

	_, err = c.SendCode(context.Background(), SendCodeRequest{Email: "down@example.com"})
	assert.Equal(t, apperr.CodeUnavailable, apperr.CodeOf(err))
	assert.Equal(t, "mailer down", apperr.MessageOf(err))
}

func TestUnconfiguredClient(t *testing.T) {
	c := NewClient("", 0)
	_, err := c.SendCode(context.Background(), SendCodeRequest{Email: "a@example.com"})
	assert.Equal(t, apperr.CodeFailedPrecondition, apperr.CodeOf(err))
}
