package dialog

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/analyzer"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/logger"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/responder"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/store"
)

type fixture struct {
	store    *store.SQLStore
	analyzer *analyzer.Analyzer
	svc      Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{
		Driver: store.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "conversations.db"),
		Logger: logger.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	an := analyzer.New(st, logger.NewNop())
	return &fixture{
		store:    st,
		analyzer: an,
		svc:      NewService(st, an, responder.NewSelector(nil), logger.NewNop()),
	}
}

func strPtr(s string) *string { return &s }

func TestHandleIncoming_GreetingIsPersonalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.HandleIncoming(ctx, Inbound{
		ContactID: "  777 ",
		Text:      "Здравствуйте!",
		Client:    store.ClientInfo{Name: strPtr("Анна")},
	})
	require.NoError(t, err)

	assert.Positive(t, res.ConversationID)
	assert.Positive(t, res.MessageID)
	assert.Equal(t, responder.CategoryGreeting, res.Category)
	assert.True(t, strings.HasPrefix(res.SuggestedText, "Анна, "), res.SuggestedText)
	assert.Equal(t, analyzer.StateInitial, res.State)
	assert.Equal(t, "client", res.Summary["sender_type"])

	msgs, err := f.store.GetRecentMessages(ctx, res.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleClient, msgs[0].Sender)
	assert.Equal(t, "Здравствуйте!", msgs[0].Content)
	assert.NotEmpty(t, msgs[0].Metadata["ingest_id"])

	c, err := f.store.GetClient(ctx, res.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "777", c.ExternalID)
}

func TestHandleIncoming_SameContactSameConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.HandleIncoming(ctx, Inbound{ContactID: "42", Text: "Какие туры есть?"})
	require.NoError(t, err)
	second, err := f.svc.HandleIncoming(ctx, Inbound{ContactID: "42", Text: "Хочу забронировать на июль"})
	require.NoError(t, err)

	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, responder.CategoryBooking, second.Category)
	assert.Equal(t, analyzer.StateBookingProcess, second.State)
	assert.Contains(t, second.Intents, analyzer.IntentBooking)
	assert.Equal(t, "booking_process", second.Summary["conversation_state"])
}

func TestHandleIncoming_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   Inbound
	}{
		{"no contact", Inbound{ContactID: " ", Text: "Привет"}},
		{"no text", Inbound{ContactID: "1", Text: "   "}},
		{"bad sender", Inbound{ContactID: "1", Text: "Привет", Sender: "robot"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.HandleIncoming(ctx, tc.in)
			require.ErrorIs(t, err, store.ErrValidation)
		})
	}

	st, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Messages)
}

func TestSaveOnly_AssistantMessageIsNotAnswered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.HandleIncoming(ctx, Inbound{ContactID: "5", Text: "Сколько стоит сплав?"})
	require.NoError(t, err)

	res, err := f.svc.SaveOnly(ctx, Inbound{
		ContactID: "5",
		Text:      "Цены начинаются от 3500 рублей.",
		Sender:    store.RoleAssistant,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ConversationID, res.ConversationID)
	assert.Empty(t, res.Category)
	assert.Empty(t, res.SuggestedText)
	assert.Empty(t, res.Intents)
	assert.Equal(t, "assistant", res.Summary["sender_type"])
	// the client-driven state survives the assistant turn
	assert.Equal(t, analyzer.StateInitial, res.State)
}

func TestHandleIncoming_DealIDIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.HandleIncoming(ctx, Inbound{ContactID: "9", DealID: strPtr("31337"), Text: "Привет"})
	require.NoError(t, err)

	conv, err := f.store.GetConversation(ctx, res.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv.ExternalDealID)
	assert.Equal(t, "31337", *conv.ExternalDealID)
}

func TestHandleIncoming_ConcurrentCallersKeepTheirContactFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			in := Inbound{ContactID: "shared", Text: "Привет"}
			if i == n-1 {
				in.Client = store.ClientInfo{Name: strPtr("Олег"), Phone: strPtr("+79990001122")}
			}
			_, err := f.svc.HandleIncoming(ctx, in)
			return err
		})
	}
	require.NoError(t, g.Wait())

	res, err := f.svc.SaveOnly(ctx, Inbound{ContactID: "shared", Text: "ещё раз", Sender: store.RoleSystem})
	require.NoError(t, err)
	c, err := f.store.GetClient(ctx, res.ClientID)
	require.NoError(t, err)
	require.NotNil(t, c.Name)
	assert.Equal(t, "Олег", *c.Name)
	require.NotNil(t, c.Phone)
	assert.Equal(t, "+79990001122", *c.Phone)
}

func TestHandleIncoming_CancelledCallerFailsAlone(t *testing.T) {
	f := newFixture(t)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			_, err := f.svc.HandleIncoming(context.Background(), Inbound{ContactID: "c-cancel", Text: "Привет"})
			return err
		})
	}
	_, _ = f.svc.HandleIncoming(cancelled, Inbound{ContactID: "c-cancel", Text: "Привет"})
	require.NoError(t, g.Wait())
}

func TestHandleIncoming_ConcurrentFirstMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	ids := make([]int64, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := f.svc.HandleIncoming(ctx, Inbound{ContactID: "concurrent", Text: "Какие даты на август?"})
			if err != nil {
				return err
			}
			ids[i] = res.ConversationID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	msgs, err := f.store.GetRecentMessages(ctx, ids[0], 100)
	require.NoError(t, err)
	assert.Len(t, msgs, n)
}
