package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T, now func() time.Time) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "conversations.db"),
		Now:    now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestGetOrCreateClient_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	first, err := s.GetOrCreateClient(ctx, "12345", ClientInfo{Name: strPtr("Иван Петров")})
	require.NoError(t, err)
	second, err := s.GetOrCreateClient(ctx, "12345", ClientInfo{})
	require.NoError(t, err)

	assert.Equal(t, first, second)

	c, err := s.GetClient(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, c.Name)
	assert.Equal(t, "Иван Петров", *c.Name)
	assert.Nil(t, c.Phone)
}

func TestGetOrCreateClient_OverwritesProvidedFieldsOnly(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock.Now)

	id, err := s.GetOrCreateClient(ctx, "c-1", ClientInfo{Name: strPtr("Анна"), Phone: strPtr("+7-900-000-00-00")})
	require.NoError(t, err)
	before, err := s.GetClient(ctx, id)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = s.GetOrCreateClient(ctx, "c-1", ClientInfo{Email: strPtr("anna@example.com")})
	require.NoError(t, err)

	after, err := s.GetClient(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Анна", *after.Name)
	assert.Equal(t, "+7-900-000-00-00", *after.Phone)
	assert.Equal(t, "anna@example.com", *after.Email)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
}

func TestGetOrCreateClient_ConcurrentCallersShareOneRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	ids := make([]int64, 16)
	var g errgroup.Group
	for i := range ids {
		g.Go(func() error {
			id, err := s.GetOrCreateClient(ctx, "shared-contact", ClientInfo{})
			ids[i] = id
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Clients)
}

func TestGetOrCreateClient_RejectsEmptyExternalID(t *testing.T) {
	_, err := newTestStore(t, nil).GetOrCreateClient(context.Background(), "  ", ClientInfo{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetOrCreateConversation_CreatesOnceThenReuses(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	clientID, err := s.GetOrCreateClient(ctx, "42", ClientInfo{})
	require.NoError(t, err)

	first, err := s.GetOrCreateConversation(ctx, clientID, strPtr("67890"))
	require.NoError(t, err)
	second, err := s.GetOrCreateConversation(ctx, clientID, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	conv, err := s.GetConversation(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, conv.Status)
	require.NotNil(t, conv.ExternalDealID)
	assert.Equal(t, "67890", *conv.ExternalDealID)
	assert.Empty(t, conv.ContextSummary)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.ActiveConversations)
}

func TestGetOrCreateConversation_UnknownClient(t *testing.T) {
	_, err := newTestStore(t, nil).GetOrCreateConversation(context.Background(), 999, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreateConversation_NewAfterCompletion(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock.Now)

	clientID, err := s.GetOrCreateClient(ctx, "42", ClientInfo{})
	require.NoError(t, err)
	old, err := s.GetOrCreateConversation(ctx, clientID, nil)
	require.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)
	n, err := s.MarkStaleConversationsCompleted(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	fresh, err := s.GetOrCreateConversation(ctx, clientID, nil)
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)

	conv, err := s.GetConversation(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, conv.Status)
}

func TestAddMessage_UnknownConversation(t *testing.T) {
	_, err := newTestStore(t, nil).AddMessage(context.Background(), 404, RoleClient, "привет", "", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddMessage_Validation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	convID := seedConversation(t, s, "v-1")

	_, err := s.AddMessage(ctx, convID, Role("operator"), "text", "", nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.AddMessage(ctx, convID, RoleClient, "   ", "", nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.GetRecentMessages(ctx, convID, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAddMessage_TouchesConversationAndKeepsMetadata(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock.Now)
	convID := seedConversation(t, s, "m-1")

	before, err := s.GetConversation(ctx, convID)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = s.AddMessage(ctx, convID, RoleClient, "Здравствуйте! Интересует сплав по Чусовой", "", map[string]any{
		"source":           "amocrm_webhook",
		"amocrm_timestamp": 1717236000,
	})
	require.NoError(t, err)

	after, err := s.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.True(t, after.LastActivity.After(before.LastActivity))

	msgs, err := s.GetRecentMessages(ctx, convID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, KindText, msgs[0].Kind)
	assert.Equal(t, "amocrm_webhook", msgs[0].Metadata["source"])
	assert.EqualValues(t, 1717236000, msgs[0].Metadata["amocrm_timestamp"])
}

func TestGetRecentMessages_ChronologicalAndLimited(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	convID := seedConversation(t, s, "r-1")

	for i := 1; i <= 5; i++ {
		_, err := s.AddMessage(ctx, convID, RoleClient, fmt.Sprintf("msg %d", i), "", nil)
		require.NoError(t, err)
	}

	msgs, err := s.GetRecentMessages(ctx, convID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg 3", msgs[0].Content)
	assert.Equal(t, "msg 4", msgs[1].Content)
	assert.Equal(t, "msg 5", msgs[2].Content)
}

func TestGetRecentMessages_OrderedUnderConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	convs := []int64{seedConversation(t, s, "a"), seedConversation(t, s, "b"), seedConversation(t, s, "c")}

	var g errgroup.Group
	for _, convID := range convs {
		for i := 0; i < 10; i++ {
			g.Go(func() error {
				role := RoleClient
				if i%2 == 1 {
					role = RoleAssistant
				}
				_, err := s.AddMessage(ctx, convID, role, fmt.Sprintf("m%d", i), "", nil)
				return err
			})
		}
	}
	require.NoError(t, g.Wait())

	for _, convID := range convs {
		msgs, err := s.GetRecentMessages(ctx, convID, 100)
		require.NoError(t, err)
		require.Len(t, msgs, 10)
		for i := 1; i < len(msgs); i++ {
			assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt), "messages out of order")
			assert.Greater(t, msgs[i].ID, msgs[i-1].ID)
		}
	}
}

func TestMergeContextSummary(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	convID := seedConversation(t, s, "s-1")

	_, err := s.MergeContextSummary(ctx, convID, map[string]any{
		"conversation_state": "initial",
		"entities":           map[string]any{"tour_name": "чусовая"},
	})
	require.NoError(t, err)

	merged, err := s.MergeContextSummary(ctx, convID, map[string]any{
		"conversation_state": "booking_process",
		"intents":            []string{"booking_inquiry"},
		"entities":           map[string]any{"month": 6},
	})
	require.NoError(t, err)

	assert.Equal(t, "booking_process", merged["conversation_state"])
	assert.Equal(t, []any{"booking_inquiry"}, merged["intents"])
	assert.Equal(t, map[string]any{"tour_name": "чусовая", "month": float64(6)}, merged["entities"])

	conv, err := s.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, merged, conv.ContextSummary)
}

func TestMergeContextSummary_ReplaceOverwritesNestedMap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	convID := seedConversation(t, s, "s-2")

	_, err := s.MergeContextSummary(ctx, convID, map[string]any{
		"entities": Replace{"tour_name": "чусовая", "month": 6},
	})
	require.NoError(t, err)

	merged, err := s.MergeContextSummary(ctx, convID, map[string]any{
		"entities": Replace{"tour_name": "серга"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tour_name": "серга"}, merged["entities"])

	merged, err = s.MergeContextSummary(ctx, convID, map[string]any{
		"entities": Replace{},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, merged["entities"])
}

func TestMergeContextSummary_UnknownConversation(t *testing.T) {
	_, err := newTestStore(t, nil).MergeContextSummary(context.Background(), 7, map[string]any{"a": 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountActiveConversations_RespectsWindow(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock.Now)

	seedConversation(t, s, "old")
	clock.Advance(2 * time.Hour)
	seedConversation(t, s, "recent")

	n, err := s.CountActiveConversations(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountActiveConversations(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.CountActiveConversations(ctx, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConfig_GetSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	_, ok, err := s.GetConfig(ctx, "openai_api_key")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetConfig(ctx, "openai_api_key", "sk-1", strPtr("AI key")))
	require.NoError(t, s.SetConfig(ctx, "openai_api_key", "sk-2", nil))

	v, ok, err := s.GetConfig(ctx, "openai_api_key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-2", v)
}

func TestStats_CountsMessagesByRole(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	convID := seedConversation(t, s, "st-1")

	for _, r := range []Role{RoleClient, RoleAssistant, RoleClient, RoleSystem} {
		_, err := s.AddMessage(ctx, convID, r, "x", "", nil)
		require.NoError(t, err)
	}

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, st.Messages)
	assert.EqualValues(t, 2, st.MessagesByRole[RoleClient])
	assert.EqualValues(t, 1, st.MessagesByRole[RoleAssistant])
	assert.EqualValues(t, 1, st.MessagesByRole[RoleSystem])
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "mysql"})
	assert.ErrorIs(t, err, ErrValidation)
}

func seedConversation(t *testing.T, s *SQLStore, externalID string) int64 {
	t.Helper()
	ctx := context.Background()
	clientID, err := s.GetOrCreateClient(ctx, externalID, ClientInfo{})
	require.NoError(t, err)
	convID, err := s.GetOrCreateConversation(ctx, clientID, nil)
	require.NoError(t, err)
	return convID
}
