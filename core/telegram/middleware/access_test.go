package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tele "gopkg.in/telebot.v4"
)

type adminContext struct {
	tele.Context
	sender *tele.User
	store  map[string]any
}

func (c *adminContext) Update() tele.Update { return tele.Update{ID: 5} }
func (c *adminContext) Sender() *tele.User  { return c.sender }
func (c *adminContext) Chat() *tele.Chat    { return &tele.Chat{ID: 10, Type: tele.ChatPrivate} }
func (c *adminContext) Text() string        { return "/stats" }
func (c *adminContext) Get(k string) any    { return c.store[k] }
func (c *adminContext) Set(k string, v any) { c.store[k] = v }

func TestAdminOnlyMiddleware(t *testing.T) {
	var reached, rejected int
	next := func(tele.Context) error { reached++; return nil }
	h := AdminOnlyMiddleware(AdminOptions{
		AdminID:  7,
		OnReject: func(tele.Context) error { rejected++; return nil },
	})(next)

	require.NoError(t, h(&adminContext{sender: &tele.User{ID: 7}, store: map[string]any{}}))
	require.NoError(t, h(&adminContext{sender: &tele.User{ID: 8}, store: map[string]any{}}))
	require.NoError(t, h(&adminContext{store: map[string]any{}}))

	assert.Equal(t, 1, reached)
	assert.Equal(t, 2, rejected)
}

func TestAdminOnlyMiddlewareDisabled(t *testing.T) {
	var reached int
	h := AdminOnlyMiddleware(AdminOptions{})(func(tele.Context) error { reached++; return nil })

	require.NoError(t, h(&adminContext{sender: &tele.User{ID: 8}, store: map[string]any{}}))
	assert.Equal(t, 1, reached)
}
