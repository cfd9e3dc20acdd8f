package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/worldline-go/klient"

	"github.com/rakunlabs/ocs/internal/config"
)

func TestNewTelegramRequiresBotToken(t *testing.T) {
	_, err := NewTelegram(nil)
	require.Error(t, err)

	_, err = NewTelegram(&config.NotifyTelegram{})
	require.Error(t, err)
}

func TestTelegramSendSuccess(t *testing.T) {
	var gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := klient.New(klient.WithBaseURL(server.URL), klient.WithDisableRetry(true), klient.WithDisableEnvValues(true))
	require.NoError(t, err)

	tg := &Telegram{client: client, chatID: 42}

	require.NoError(t, tg.Send(context.Background(), "hello operator"))
	require.Equal(t, "/sendMessage", gotPath)
}

func TestTelegramSendPropagatesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := klient.New(klient.WithBaseURL(server.URL), klient.WithDisableRetry(true), klient.WithDisableEnvValues(true))
	require.NoError(t, err)

	tg := &Telegram{client: client, chatID: 1}

	require.Error(t, tg.Send(context.Background(), "boom"))
}
