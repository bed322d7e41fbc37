package email

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignkit/outreach/internal/config"
)

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"4xx status", &SendError{StatusCode: 400}, true},
		{"403 status", &SendError{StatusCode: 403}, true},
		{"4xx sub-error on 5xx response", &SendError{StatusCode: 500, Errors: []ProviderError{{Status: 400}}}, true},
		{"5xx status", &SendError{StatusCode: 503}, false},
		{"5xx sub-errors only", &SendError{StatusCode: 500, Errors: []ProviderError{{Status: 500}}}, false},
		{"plain network error", fmt.Errorf("dial tcp: connection refused"), false},
		{"wrapped send error", fmt.Errorf("send: %w", &SendError{StatusCode: 401}), true},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}

func TestSendErrorMessage(t *testing.T) {
	err := &SendError{StatusCode: 400, Errors: []ProviderError{{Status: 400, Message: "invalid address"}}}
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "invalid address")
}

func TestSendGridSenderSuccess(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSendGridSender(config.EmailConfig{
		SendGridAPIKey: "sg-key",
		FromEmail:      "from@x.com",
		FromName:       "Outreach",
	})
	s.url = srv.URL

	err := s.Send(context.Background(), "to@x.com", "hi", "<p>hi</p>")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sg-key", gotAuth)
}

func TestSendGridSenderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errors":[{"message":"does not contain a valid address","status":400}]}`)
	}))
	defer srv.Close()

	s := NewSendGridSender(config.EmailConfig{SendGridAPIKey: "sg-key", FromEmail: "from@x.com"})
	s.url = srv.URL

	err := s.Send(context.Background(), "bad", "hi", "<p>hi</p>")
	require.Error(t, err)

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, http.StatusBadRequest, sendErr.StatusCode)
	require.Len(t, sendErr.Errors, 1)
	assert.Equal(t, 400, sendErr.Errors[0].Status)
	assert.True(t, IsPermanent(err))
}

func TestSendGridSenderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewSendGridSender(config.EmailConfig{SendGridAPIKey: "sg-key", FromEmail: "from@x.com"})
	s.url = srv.URL

	err := s.Send(context.Background(), "to@x.com", "hi", "<p>hi</p>")
	require.Error(t, err)
	assert.False(t, IsPermanent(err), "5xx is transient")
}

func TestNewSenderUnknownProvider(t *testing.T) {
	_, err := NewSender(config.EmailConfig{Provider: "carrier-pigeon"})
	require.Error(t, err)
}
