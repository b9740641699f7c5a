package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignaler_Exchange(t *testing.T) {
	var gotAuth, gotContentType, gotModel, gotOffer string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotModel = r.URL.Query().Get("model")
		body, _ := io.ReadAll(r.Body)
		gotOffer = string(body)
		w.Write([]byte("v=0\r\nanswer-sdp"))
	}))
	defer srv.Close()

	s := NewSignaler(srv.URL, nil)
	answer, err := s.Exchange(context.Background(), "ek_test", "gpt-4o-realtime-preview", "v=0\r\noffer-sdp")
	require.NoError(t, err)
	require.Equal(t, "v=0\r\nanswer-sdp", answer)
	require.Equal(t, "Bearer ek_test", gotAuth)
	require.Equal(t, "application/sdp", gotContentType)
	require.Equal(t, "gpt-4o-realtime-preview", gotModel)
	require.Equal(t, "v=0\r\noffer-sdp", gotOffer)
}

func TestSignaler_ExchangeNonSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid api key"))
	}))
	defer srv.Close()

	s := NewSignaler(srv.URL, nil)
	_, err := s.Exchange(context.Background(), "bad", "model", "offer")
	require.Error(t, err)

	var sigErr *SignalError
	require.True(t, errors.As(err, &sigErr))
	require.Equal(t, http.StatusUnauthorized, sigErr.StatusCode)
	require.Contains(t, sigErr.Body, "invalid api key")
}

func TestSignaler_ExchangeContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSignaler(srv.URL, nil)
	_, err := s.Exchange(ctx, "key", "model", "offer")
	require.Error(t, err)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "disconnected", StateDisconnected.String())
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "connected", StateConnected.String())
	require.Equal(t, "failed", StateFailed.String())
}
