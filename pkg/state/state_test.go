package state

import (
	"sync"
	"testing"
	"time"

	"PolyChat/models"
	"PolyChat/pkg/apperr"

	"github.com/stretchr/testify/require"
)

func conv(id string, updated time.Time) models.Conversation {
	return models.Conversation{ID: id, Title: models.DefaultConversationTitle, Model: models.DefaultModel, UpdatedAt: updated}
}

func msg(id, convID, content string, at time.Time) models.Message {
	return models.Message{ID: id, ConversationID: convID, Content: content, Role: models.RoleUser, CreatedAt: at}
}

// record collects every snapshot the store announces.
func record(s *Store) func() []State {
	var mu sync.Mutex
	var got []State
	s.Observe(func(st State) {
		mu.Lock()
		got = append(got, st)
		mu.Unlock()
	})
	return func() []State {
		mu.Lock()
		defer mu.Unlock()
		return append([]State(nil), got...)
	}
}

func TestClearUserIsOneTransition(t *testing.T) {
	s := New()
	t0 := time.Now()
	s.SetUser(&models.User{ID: "u1", Email: "a@example.com"})
	s.SetConversations([]models.Conversation{conv("a", t0)})
	s.SelectConversation("a")
	require.True(t, s.SetMessages("a", []models.Message{msg("m1", "a", "hi", t0)}))

	seen := record(s)
	s.ClearUser()

	got := seen()
	require.Len(t, got, 1)
	st := got[0]
	require.Nil(t, st.User)
	require.False(t, st.Authenticated)
	require.Empty(t, st.CurrentConversationID)
	require.Empty(t, st.Messages)
	require.Empty(t, st.Conversations)
	require.Equal(t, models.DefaultModel, st.Model)
}

func TestSwitchingConversationNeverMixesMessages(t *testing.T) {
	s := New()
	t0 := time.Now()
	s.SetConversations([]models.Conversation{conv("a", t0), conv("b", t0.Add(time.Second))})
	s.SelectConversation("a")
	require.True(t, s.SetMessages("a", []models.Message{msg("a1", "a", "from a", t0)}))

	seen := record(s)
	s.SelectConversation("b")
	// a late fetch and a late delivery for A must not land in B
	require.False(t, s.SetMessages("a", []models.Message{msg("a2", "a", "late", t0)}))
	require.False(t, s.AppendMessage(msg("a3", "a", "late push", t0)))
	require.True(t, s.SetMessages("b", []models.Message{msg("b1", "b", "from b", t0)}))
	require.True(t, s.AppendMessage(msg("b2", "b", "more b", t0.Add(time.Second))))

	for _, st := range seen() {
		for _, m := range st.Messages {
			require.Equal(t, st.CurrentConversationID, m.ConversationID)
		}
	}
	final := s.Snapshot()
	require.Equal(t, "b", final.CurrentConversationID)
	require.Len(t, final.Messages, 2)
}

func TestAppendMessageIsIdempotentAndUpdatesConversation(t *testing.T) {
	s := New()
	t0 := time.Now()
	s.SetConversations([]models.Conversation{conv("a", t0), conv("b", t0.Add(time.Minute))})
	s.SelectConversation("a")

	m := msg("m1", "a", "Hello there friend of mine", t0.Add(2*time.Minute))
	require.True(t, s.AppendMessage(m))
	require.False(t, s.AppendMessage(m))

	st := s.Snapshot()
	require.Len(t, st.Messages, 1)
	c, ok := st.CurrentConversation()
	require.True(t, ok)
	require.Equal(t, "Hello there friend of mine", c.LastMessage)
	require.Equal(t, "Hello there friend of", c.Title)
	// a's newest activity moves it to the top
	require.Equal(t, "a", st.Conversations[0].ID)
}

func TestSetMessagesDedupes(t *testing.T) {
	s := New()
	s.SelectConversation("a")
	t0 := time.Now()
	require.True(t, s.SetMessages("a", []models.Message{
		msg("1", "a", "x", t0), msg("1", "a", "x", t0), msg("2", "a", "y", t0),
	}))
	require.Len(t, s.Snapshot().Messages, 2)
}

func TestSetMessagesKeepsEarlierDeliveries(t *testing.T) {
	s := New()
	s.SelectConversation("b")
	t0 := time.Now()
	m1 := msg("m1", "b", "first", t0)
	m2 := msg("m2", "b", "second", t0.Add(time.Second))

	// m2 arrives live before the fetch that missed it lands
	require.True(t, s.AppendMessage(m2))
	require.True(t, s.SetMessages("b", []models.Message{m1}))

	got := s.Snapshot().Messages
	require.Len(t, got, 2)
	require.Equal(t, "m1", got[0].ID)
	require.Equal(t, "m2", got[1].ID)

	// a fetch that already holds the delivered message does not double it
	require.True(t, s.SetMessages("b", []models.Message{m1, m2}))
	require.Len(t, s.Snapshot().Messages, 2)
}

func TestUpsertAndRemoveConversation(t *testing.T) {
	s := New()
	t0 := time.Now()
	s.UpsertConversation(conv("a", t0))
	s.UpsertConversation(conv("b", t0.Add(time.Second)))
	require.Equal(t, "b", s.Snapshot().Conversations[0].ID)

	renamed := conv("a", t0.Add(time.Minute))
	renamed.Title = "Renamed"
	s.UpsertConversation(renamed)
	st := s.Snapshot()
	require.Len(t, st.Conversations, 2)
	require.Equal(t, "Renamed", st.Conversations[0].Title)

	s.SelectConversation("a")
	s.RemoveConversation("a")
	st = s.Snapshot()
	require.Len(t, st.Conversations, 1)
	require.Empty(t, st.CurrentConversationID)
}

func TestSetModelValidatesCatalog(t *testing.T) {
	s := New()
	seen := record(s)

	err := s.SetModel("gpt-9")
	require.True(t, apperr.Is(err, apperr.Validation))
	require.Empty(t, seen())

	require.NoError(t, s.SetModel("gemini-pro"))
	require.Equal(t, "gemini-pro", s.Snapshot().Model)
	require.Len(t, seen(), 1)

	// selecting a conversation adopts its model
	c := conv("a", time.Now())
	c.Model = "deepseek-chat"
	s.UpsertConversation(c)
	s.SelectConversation("a")
	require.Equal(t, "deepseek-chat", s.Snapshot().Model)
}

func TestTogglePreference(t *testing.T) {
	s := New()
	require.True(t, s.TogglePreference(PrefDarkMode))
	require.False(t, s.TogglePreference(PrefSidebarOpen))
	st := s.Snapshot()
	require.True(t, st.Preferences[PrefDarkMode])
	require.False(t, st.Preferences[PrefSidebarOpen])
}

func TestSnapshotsAreIndependentCopies(t *testing.T) {
	s := New()
	s.SetUser(&models.User{ID: "u1", Email: "a@example.com"})
	s.SetConversations([]models.Conversation{conv("a", time.Now())})

	st := s.Snapshot()
	st.User.Email = "mutated"
	st.Conversations[0].Title = "mutated"
	st.Preferences[PrefDarkMode] = true

	again := s.Snapshot()
	require.Equal(t, "a@example.com", again.User.Email)
	require.Equal(t, models.DefaultConversationTitle, again.Conversations[0].Title)
	require.False(t, again.Preferences[PrefDarkMode])
}

func TestObserverCancel(t *testing.T) {
	s := New()
	n := 0
	cancel := s.Observe(func(State) { n++ })
	s.TogglePreference(PrefDarkMode)
	cancel()
	s.TogglePreference(PrefDarkMode)
	require.Equal(t, 1, n)
}
