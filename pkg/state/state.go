// Package state holds the client-side view of a session: who is signed in,
// their conversations, the open conversation and its messages, and display
// preferences. State changes only through the Store's transitions, each of
// which is applied atomically and announced to observers exactly once.
package state

import (
	"slices"
	"sync"

	"PolyChat/models"
	"PolyChat/pkg/apperr"
)

type Preference string

const (
	PrefDarkMode    Preference = "dark_mode"
	PrefSidebarOpen Preference = "sidebar_open"
	PrefShowModel   Preference = "show_model"
)

// State is a value snapshot. Observers and Snapshot callers get their own
// copy and may keep it.
type State struct {
	User                  *models.User
	Authenticated         bool
	Conversations         []models.Conversation
	CurrentConversationID string
	Messages              []models.Message
	Model                 string
	Preferences           map[Preference]bool
}

// CurrentConversation returns the selected conversation, if it is in the list.
func (s State) CurrentConversation() (models.Conversation, bool) {
	if s.CurrentConversationID == "" {
		return models.Conversation{}, false
	}
	for _, c := range s.Conversations {
		if c.ID == s.CurrentConversationID {
			return c, true
		}
	}
	return models.Conversation{}, false
}

func (s State) clone() State {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	out.Conversations = slices.Clone(s.Conversations)
	out.Messages = slices.Clone(s.Messages)
	out.Preferences = make(map[Preference]bool, len(s.Preferences))
	for k, v := range s.Preferences {
		out.Preferences[k] = v
	}
	return out
}

type Observer func(State)

type Store struct {
	// notifyMu orders notifications the same way transitions were applied.
	notifyMu sync.Mutex

	mu        sync.Mutex
	state     State
	observers map[int]Observer
	nextID    int
}

func New() *Store {
	return &Store{
		state: State{
			Model:       models.DefaultModel,
			Preferences: map[Preference]bool{PrefSidebarOpen: true},
		},
		observers: map[int]Observer{},
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Observe registers fn to be called after every applied transition. fn runs
// on the goroutine that made the transition and must not start another
// transition synchronously.
func (s *Store) Observe(fn Observer) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// apply runs mutate under the lock. When it reports a change, observers get
// one snapshot of the result.
func (s *Store) apply(mutate func(st *State) bool) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if !mutate(&s.state) {
		s.mu.Unlock()
		return false
	}
	snap := s.state.clone()
	obs := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		obs = append(obs, o)
	}
	s.mu.Unlock()

	for _, o := range obs {
		o(snap.clone())
	}
	return true
}

func (s *Store) SetUser(u *models.User) {
	s.apply(func(st *State) bool {
		if u == nil {
			clearSession(st)
			return true
		}
		cp := *u
		st.User = &cp
		st.Authenticated = true
		return true
	})
}

// ClearUser is logout: user, auth flag, selection, messages and the
// conversation list go together. Model and preferences survive.
func (s *Store) ClearUser() {
	s.apply(func(st *State) bool {
		clearSession(st)
		return true
	})
}

func clearSession(st *State) {
	st.User = nil
	st.Authenticated = false
	st.CurrentConversationID = ""
	st.Messages = nil
	st.Conversations = nil
}

func (s *Store) SetConversations(convs []models.Conversation) {
	s.apply(func(st *State) bool {
		st.Conversations = slices.Clone(convs)
		sortConversations(st.Conversations)
		return true
	})
}

// UpsertConversation replaces the conversation with the same id or adds it,
// keeping the list most-recently-updated first.
func (s *Store) UpsertConversation(c models.Conversation) {
	s.apply(func(st *State) bool {
		i := slices.IndexFunc(st.Conversations, func(x models.Conversation) bool { return x.ID == c.ID })
		if i >= 0 {
			st.Conversations[i] = c
		} else {
			st.Conversations = append(st.Conversations, c)
		}
		sortConversations(st.Conversations)
		return true
	})
}

// RemoveConversation drops a conversation; if it was selected the selection
// and messages are cleared too.
func (s *Store) RemoveConversation(id string) {
	s.apply(func(st *State) bool {
		i := slices.IndexFunc(st.Conversations, func(x models.Conversation) bool { return x.ID == id })
		if i < 0 && st.CurrentConversationID != id {
			return false
		}
		if i >= 0 {
			st.Conversations = slices.Delete(st.Conversations, i, i+1)
		}
		if st.CurrentConversationID == id {
			st.CurrentConversationID = ""
			st.Messages = nil
		}
		return true
	})
}

// SelectConversation makes id current and empties the message list in the
// same step, so no snapshot ever pairs id with another conversation's
// messages. An empty id deselects.
func (s *Store) SelectConversation(id string) {
	s.apply(func(st *State) bool {
		st.CurrentConversationID = id
		st.Messages = nil
		if c, ok := st.CurrentConversation(); ok && c.Model != "" {
			st.Model = c.Model
		}
		return true
	})
}

// SetMessages loads the fetched message list of conversationID. Messages
// already appended for it but missing from msgs (delivered after the fetch
// was taken) are kept, and the result is ordered by creation time. It is
// ignored, returning false, when that conversation is no longer selected; a
// fetch that finishes after the user switched away must not land.
func (s *Store) SetMessages(conversationID string, msgs []models.Message) bool {
	return s.apply(func(st *State) bool {
		if conversationID == "" || conversationID != st.CurrentConversationID {
			return false
		}
		merged := dedupe(append(slices.Clone(msgs), st.Messages...))
		slices.SortStableFunc(merged, func(a, b models.Message) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
		st.Messages = merged
		return true
	})
}

// AppendMessage adds m to the open conversation. Messages for another
// conversation and ids already present are ignored (returns false), so the
// same insert may be delivered more than once. The matching conversation's
// last message moves with it.
func (s *Store) AppendMessage(m models.Message) bool {
	return s.apply(func(st *State) bool {
		if m.ConversationID == "" || m.ConversationID != st.CurrentConversationID {
			return false
		}
		if m.ID != "" && slices.ContainsFunc(st.Messages, func(x models.Message) bool { return x.ID == m.ID }) {
			return false
		}
		st.Messages = append(st.Messages, m)
		for i := range st.Conversations {
			c := &st.Conversations[i]
			if c.ID != m.ConversationID {
				continue
			}
			c.LastMessage = m.Content
			if m.CreatedAt.After(c.UpdatedAt) {
				c.UpdatedAt = m.CreatedAt
			}
			if m.Role == models.RoleUser && c.Title == models.DefaultConversationTitle {
				c.Title = models.TitleFromMessage(m.Content)
			}
		}
		sortConversations(st.Conversations)
		return true
	})
}

// SetModel selects a catalog model.
func (s *Store) SetModel(id string) error {
	if _, ok := models.LookupModel(id); !ok {
		return apperr.Validationf("unknown model %q", id)
	}
	s.apply(func(st *State) bool {
		if st.Model == id {
			return false
		}
		st.Model = id
		return true
	})
	return nil
}

// TogglePreference flips p and returns its new value.
func (s *Store) TogglePreference(p Preference) bool {
	var v bool
	s.apply(func(st *State) bool {
		if st.Preferences == nil {
			st.Preferences = map[Preference]bool{}
		}
		v = !st.Preferences[p]
		st.Preferences[p] = v
		return true
	})
	return v
}

func sortConversations(cs []models.Conversation) {
	slices.SortStableFunc(cs, func(a, b models.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
}

func dedupe(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
		}
		out = append(out, m)
	}
	return out
}
