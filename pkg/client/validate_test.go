package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestValidateRegistration(t *testing.T) {
	tests := []struct {
		name      string
		username  string
		password  string
		confirm   string
		wantField string
	}{
		{"valid", "alice", "secret1", "secret1", ""},
		{"exactly six", "alice", "123456", "123456", ""},
		{"five chars", "alice", "12345", "12345", "password"},
		{"mismatch", "alice", "secret1", "secret2", "confirm"},
		{"blank username", "   ", "secret1", "secret1", "username"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRegistration(tt.username, tt.password, tt.confirm)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("ValidateRegistration() error = %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.wantField {
				t.Errorf("ValidateRegistration() error = %v, want field %q", err, tt.wantField)
			}
		})
	}
}

func TestAPI_RegisterShortPasswordMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewAPI(srv.URL).Register(context.Background(), "alice", "12345", "12345")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Register() error = %v, want *ValidationError", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("server saw %d requests, want 0", n)
	}
}

func TestAPI_LoginShortPasswordMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewAPI(srv.URL).Login(context.Background(), "alice", "12345")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "password" {
		t.Fatalf("Login() error = %v, want *ValidationError on password", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("server saw %d requests, want 0", n)
	}
}

func TestValidateLogin(t *testing.T) {
	tests := []struct {
		name      string
		username  string
		password  string
		wantField string
	}{
		{"valid", "alice", "secret1", ""},
		{"blank username", " ", "secret1", "username"},
		{"empty password", "alice", "", "password"},
		{"five chars", "alice", "12345", "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLogin(tt.username, tt.password)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("ValidateLogin() error = %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.wantField {
				t.Errorf("ValidateLogin() error = %v, want field %q", err, tt.wantField)
			}
		})
	}
}

func TestValidateTrack(t *testing.T) {
	if err := ValidateTrack("  "); err == nil {
		t.Error("ValidateTrack(blank) should fail")
	}
	if err := ValidateTrack("http://x/a.mp3"); err != nil {
		t.Errorf("ValidateTrack() error = %v", err)
	}
}
