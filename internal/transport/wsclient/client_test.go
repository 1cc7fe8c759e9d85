package wsclient_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-squad/internal/app"
	"quiz-squad/internal/domain"
	"quiz-squad/internal/game"
	"quiz-squad/internal/identity"
	"quiz-squad/internal/infra/memory"
	"quiz-squad/internal/pubsub"
	relayhttp "quiz-squad/internal/transport/http"
	"quiz-squad/internal/transport/wsclient"
)

const waitFor = 3 * time.Second

func newRelay(t *testing.T) *httptest.Server {
	t.Helper()
	broker := memory.NewBroker(64)
	t.Cleanup(func() { _ = broker.Close() })
	profiles := memory.NewProfileStore()
	tokens, err := identity.NewTokenIssuer("wsclient-test-secret-42", time.Hour)
	require.NoError(t, err)
	bank := memory.NewQuestionBank(memory.NewStaticQuestionLoader(map[string][]domain.StoryNode{
		"": {{
			Text:               "Qual arma tem o maior alcance?",
			Choices:            []string{"M4A1", "AWM", "MP40", "UMP"},
			CorrectAnswerIndex: 1,
		}},
	}), time.Minute)

	server := httptest.NewServer(relayhttp.NewRouter(relayhttp.Deps{
		Relay:     app.NewRelayService(broker, memory.NewRoomRegistry(), nil),
		Profiles:  app.NewProfileService(profiles, nil),
		Questions: app.NewQuestionService(nil, bank, time.Second, nil),
		Accounts:  profiles,
		Tokens:    tokens,
	}))
	t.Cleanup(server.Close)
	return server
}

type client struct {
	api       *wsclient.API
	session   wsclient.Session
	transport *wsclient.Transport
}

func connect(t *testing.T, server *httptest.Server, name string) client {
	t.Helper()
	ctx := context.Background()
	api := wsclient.NewAPI(server.URL, nil)
	session, err := api.GuestSession(ctx, name, "")
	require.NoError(t, err)
	tr, err := wsclient.Dial(ctx, api.WebSocketURL(), session.Token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return client{api: api, session: session, transport: tr}
}

func TestDialRejectsBadToken(t *testing.T) {
	server := newRelay(t)
	api := wsclient.NewAPI(server.URL, nil)
	_, err := wsclient.Dial(context.Background(), api.WebSocketURL(), "nope", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestAccountSessionNeedsKey(t *testing.T) {
	server := newRelay(t)
	ctx := context.Background()

	created, err := wsclient.NewAPI(server.URL, nil).AccountSession(ctx, "", "", "Carla", "")
	require.NoError(t, err)
	require.NotEmpty(t, created.AccountKey)

	_, err = wsclient.NewAPI(server.URL, nil).AccountSession(ctx, created.Identity.ID, "", "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	again, err := wsclient.NewAPI(server.URL, nil).AccountSession(ctx, created.Identity.ID, created.AccountKey, "", "")
	require.NoError(t, err)
	assert.Equal(t, created.Identity.ID, again.Identity.ID)
	assert.Empty(t, again.AccountKey)
}

func TestRoomChannelRoundTrip(t *testing.T) {
	server := newRelay(t)
	alice := connect(t, server, "Alice")
	bob := connect(t, server, "Bob")
	ctx := context.Background()

	got := make(chan pubsub.Envelope, 4)
	ch, err := alice.transport.OpenRoomChannel(ctx, "AB12", func(pubsub.Envelope) {})
	require.NoError(t, err)
	_, err = bob.transport.OpenRoomChannel(ctx, "AB12", func(env pubsub.Envelope) { got <- env })
	require.NoError(t, err)

	live, err := alice.api.RoomLive(ctx, "AB12")
	require.NoError(t, err)
	assert.True(t, live)

	require.NoError(t, ch.Broadcast(ctx, domain.EventChatMessage, map[string]string{"text": "bora"}))
	select {
	case env := <-got:
		assert.Equal(t, alice.session.Identity.ID, env.Sender)
		assert.Equal(t, "room-AB12", env.Channel)
	case <-time.After(waitFor):
		t.Fatal("message not relayed")
	}
}

func TestForeignUserChannelIsRejected(t *testing.T) {
	server := newRelay(t)
	alice := connect(t, server, "Alice")

	_, err := alice.transport.OpenUserChannel(context.Background(), "someone-else", func(pubsub.Envelope) {})
	assert.ErrorIs(t, err, domain.ErrForbiddenChannel)
}

func TestReopenKeepsSubscriptionAfterOldClose(t *testing.T) {
	server := newRelay(t)
	alice := connect(t, server, "Alice")
	ctx := context.Background()

	old, err := alice.transport.OpenRoomChannel(ctx, "ZZ99", func(pubsub.Envelope) {})
	require.NoError(t, err)
	got := make(chan pubsub.Envelope, 4)
	current, err := alice.transport.OpenRoomChannel(ctx, "ZZ99", func(env pubsub.Envelope) { got <- env })
	require.NoError(t, err)
	require.NoError(t, old.Close())

	require.NoError(t, current.Broadcast(ctx, domain.EventHostHeartbeat, nil))
	select {
	case env := <-got:
		assert.Equal(t, domain.EventHostHeartbeat, env.Event)
	case <-time.After(waitFor):
		t.Fatal("reopened channel lost its subscription")
	}
	assert.ErrorIs(t, old.Broadcast(ctx, domain.EventHostHeartbeat, nil), domain.ErrTransportClosed)
}

func TestStaleCloseAfterResubscribe(t *testing.T) {
	server := newRelay(t)
	alice := connect(t, server, "Alice")
	ctx := context.Background()

	first, err := alice.transport.OpenRoomChannel(ctx, "QQ11", func(pubsub.Envelope) {})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	got := make(chan pubsub.Envelope, 4)
	second, err := alice.transport.OpenRoomChannel(ctx, "QQ11", func(env pubsub.Envelope) { got <- env })
	require.NoError(t, err)

	// a second Close on the old handle must not drop the new subscription
	require.NoError(t, first.Close())
	assert.ErrorIs(t, first.Broadcast(ctx, domain.EventHostHeartbeat, nil), domain.ErrTransportClosed)

	require.NoError(t, second.Broadcast(ctx, domain.EventHostHeartbeat, nil))
	select {
	case env := <-got:
		assert.Equal(t, domain.EventHostHeartbeat, env.Event)
	case <-time.After(waitFor):
		t.Fatal("stale close removed the new subscription")
	}
}

func TestClosedTransport(t *testing.T) {
	server := newRelay(t)
	alice := connect(t, server, "Alice")
	require.NoError(t, alice.transport.Close())

	_, err := alice.transport.OpenRoomChannel(context.Background(), "AB12", func(pubsub.Envelope) {})
	assert.True(t, errors.Is(err, domain.ErrTransportClosed))
	assert.NoError(t, alice.transport.Close())
}

func TestSquadPlaysOverRelay(t *testing.T) {
	server := newRelay(t)
	ctx := context.Background()
	hostConn := connect(t, server, "Capitão")
	playerConn := connect(t, server, "Soldado")

	opts := func(c client) game.Options {
		return game.Options{
			Generator:         c.api,
			CodeChecker:       c.api,
			Results:           c.api,
			JoinTimeout:       waitFor,
			HeartbeatInterval: -1,
			HostTimeout:       -1,
		}
	}
	host := game.New(hostConn.session.Identity, hostConn.transport, opts(hostConn))
	player := game.New(playerConn.session.Identity, playerConn.transport, opts(playerConn))
	t.Cleanup(func() {
		_ = player.Close(ctx)
		_ = host.Close(ctx)
	})

	code, err := host.CreateRoom(ctx, game.RoomConfig{MaxRounds: 1})
	require.NoError(t, err)
	require.NoError(t, player.JoinRoom(ctx, code))
	require.Eventually(t, func() bool { return len(host.State().Players) == 2 }, waitFor, 10*time.Millisecond)

	require.NoError(t, host.StartGame(ctx))
	require.Eventually(t, func() bool { return player.State().View == domain.ViewPlaying }, waitFor, 10*time.Millisecond)
	q := player.State().CurrentQuestion
	require.NotNil(t, q)
	assert.Equal(t, "Qual arma tem o maior alcance?", q.Text)

	require.NoError(t, host.SubmitAnswer(ctx, 1))
	require.NoError(t, player.SubmitAnswer(ctx, 0))
	require.Eventually(t, func() bool { return game.AllAnswered(host.State().Players) }, waitFor, 10*time.Millisecond)
	require.NoError(t, host.AdvanceRound(ctx))

	require.Eventually(t, func() bool { return player.State().View == domain.ViewGameOver }, waitFor, 10*time.Millisecond)
	s := player.State()
	hostPlayer := s.Players[game.IndexOf(s.Players, hostConn.session.Identity.ID)]
	me := s.Players[game.IndexOf(s.Players, playerConn.session.Identity.ID)]
	assert.Equal(t, domain.CorrectReward, hostPlayer.Score)
	assert.Equal(t, domain.MaxHP-domain.DifficultyMedium.Penalty(), me.HP)
}
