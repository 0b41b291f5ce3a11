package client

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/music-chat-room/internal/server/servertest"
)

// signUp registers and logs in through the REST API.
func signUp(t *testing.T, api *API, username string) *Session {
	t.Helper()
	ctx := context.Background()

	_, err := api.Register(ctx, username, "secret1", "secret1")
	require.NoError(t, err)
	session, err := api.Login(ctx, username, "secret1")
	require.NoError(t, err)
	return session
}

func TestAPI_AuthFlow(t *testing.T) {
	h := servertest.Start(t)
	api := NewAPI(h.URL)
	ctx := context.Background()

	id, err := api.Register(ctx, "alice", "secret1", "secret1")
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = api.Register(ctx, "alice", "secret1", "secret1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Username already exists", apiErr.Detail)

	_, err = api.Login(ctx, "alice", "wrong-pw")
	var rejected *AuthRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "Invalid username or password", rejected.Detail)

	session, err := api.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, id, session.UserID)
	assert.Equal(t, "alice", session.Username)

	_, err = api.OnlineUsers(ctx, session.Token)
	require.NoError(t, err)

	require.NoError(t, api.Logout(ctx, session.Token))
	_, err = api.OnlineUsers(ctx, session.Token)
	assert.True(t, errors.As(err, &rejected), "err = %v", err)
}

func TestAPI_Upload(t *testing.T) {
	h := servertest.Start(t)
	api := NewAPI(h.URL)
	session := signUp(t, api, "alice")
	ctx := context.Background()

	upload, err := api.UploadMusic(ctx, session.Token, "song.mp3", strings.NewReader("ID3"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(upload.MusicURL, "/uploads/"))
	assert.True(t, strings.HasSuffix(upload.Filename, "_song.mp3"))

	_, err = api.UploadMusic(ctx, session.Token, "notes.txt", strings.NewReader("hi"))
	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Contains(t, uploadErr.Detail, "Invalid file type")

	_, err = api.UploadMusic(ctx, "bogus", "song.mp3", strings.NewReader("ID3"))
	var rejected *AuthRejectedError
	assert.ErrorAs(t, err, &rejected)
}

func TestAPI_URLs(t *testing.T) {
	api := NewAPI("https://room.example.com/")

	wsURL, err := api.WebSocketURL("a b")
	require.NoError(t, err)
	assert.Equal(t, "wss://room.example.com/ws?token=a+b", wsURL)

	assert.Equal(t, "https://room.example.com/uploads/x.mp3", api.ResolveURL("/uploads/x.mp3"))
	assert.Equal(t, "http://cdn/x.mp3", api.ResolveURL("http://cdn/x.mp3"))
}
