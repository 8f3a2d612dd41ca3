package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wagate/internal/domain"
)

func testMessage() domain.InboundMessage {
	return domain.InboundMessage{
		ID:        "m1",
		From:      "+15550001111",
		To:        "+15550002222",
		Body:      "hello",
		Timestamp: time.Now(),
	}
}

func TestDeliver(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(DispatcherConfig{})
	err := d.Deliver(context.Background(), srv.URL, testMessage())
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Empty(t, gotHeader.Get("X-Signature-256"), "no signature without a secret")

	var payload webhookPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "message_received", payload.Event)
	assert.Equal(t, "m1", payload.Message.ID)
	assert.Equal(t, "hello", payload.Message.Body)
	assert.False(t, payload.Timestamp.IsZero())
}

func TestDeliver_SignsWithSecret(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature-256")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(DispatcherConfig{Secret: "hunter2"})
	require.NoError(t, d.Deliver(context.Background(), srv.URL, testMessage()))

	mac := hmac.New(sha256.New, []byte("hunter2"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, gotSig)
}

func TestDeliver_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDispatcher(DispatcherConfig{})
	err := d.Deliver(context.Background(), srv.URL, testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestDeliver_UnreachableTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	d := NewDispatcher(DispatcherConfig{Timeout: time.Second})
	err := d.Deliver(context.Background(), srv.URL, testMessage())
	require.Error(t, err)
}
