package inbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"agent-inbox/internal/domain"
)

var baseTime = time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)

// newTestStore uses a clock that advances one second per reading.
func newTestStore(t interface{ Helper() }) *Store {
	t.Helper()
	s := NewStore(domain.DefaultDirectory(""), DefaultMessageLimit)
	tick := baseTime
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return s
}

func without(order []string, key string) []string {
	out := make([]string, 0, len(order))
	for _, k := range order {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}

// ---- scenarios ----

func TestStore_ComposeThenReply(t *testing.T) {
	s := newTestStore(t)
	s.Bump("port")

	ref, err := s.BeginCompose("vendor", "Hello", "World")
	require.NoError(t, err)

	th, ok := s.Thread("vendor", ref.ThreadID)
	require.True(t, ok)
	require.Len(t, th.Messages, 1)
	require.True(t, th.Messages[0].IsUser())
	require.Equal(t, "World", th.Messages[0].Body)
	require.Equal(t, 0, th.Unread)
	require.Equal(t, "port", s.Agents()[0])

	require.True(t, s.Resolve(ref, "Hi there", 2))

	th, _ = s.Thread("vendor", ref.ThreadID)
	require.Len(t, th.Messages, 2)
	require.False(t, th.Messages[1].IsUser())
	require.Equal(t, "Hi there", th.Messages[1].Body)
	require.Equal(t, "vendor@merlion.com", th.Messages[1].From)
	require.Equal(t, 1, th.Unread)
	require.Equal(t, "vendor", s.Agents()[0])
}

func TestStore_ReplyLandsOnCapturedThread(t *testing.T) {
	s := newTestStore(t)
	first, err := s.BeginCompose("vendor", "One", "a")
	require.NoError(t, err)
	second, err := s.BeginCompose("vendor", "Two", "b")
	require.NoError(t, err)
	require.NotEqual(t, first.ThreadID, second.ThreadID)

	_, err = s.Open("vendor", second.ThreadID)
	require.NoError(t, err)

	// Out of order completion.
	s.Resolve(second, "reply two", 4)
	s.Resolve(first, "reply one", 4)

	one, _ := s.Thread("vendor", first.ThreadID)
	two, _ := s.Thread("vendor", second.ThreadID)
	require.Equal(t, "reply one", one.Messages[1].Body)
	require.Equal(t, 1, one.Unread)
	require.Equal(t, "reply two", two.Messages[1].Body)
	require.Equal(t, 0, two.Unread, "open thread stays read")
}

func TestStore_ThreadIDsMonotonic(t *testing.T) {
	s := NewStore(domain.DefaultDirectory(""), 0)
	s.now = func() time.Time { return baseTime }

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		ref, err := s.BeginCompose("customs", "S", "B")
		require.NoError(t, err)
		require.False(t, seen[ref.ThreadID], ref.ThreadID)
		seen[ref.ThreadID] = true
	}
	require.Contains(t, seen, "thread_1772013600000")
	require.Contains(t, seen, "thread_1772013600004")
}

func TestStore_UnknownAgentAndThread(t *testing.T) {
	s := newTestStore(t)
	_, err := s.BeginCompose("nobody", "S", "B")
	require.ErrorIs(t, err, ErrUnknownAgent)
	_, err = s.BeginReply("vendor", "thread_x", "B")
	require.ErrorIs(t, err, ErrUnknownThread)
	_, err = s.Open("vendor", "thread_x")
	require.ErrorIs(t, err, ErrUnknownThread)
	_, err = s.Inbox("nobody", FilterAll)
	require.ErrorIs(t, err, ErrUnknownAgent)
	require.False(t, s.Resolve(Ref{Agent: "nobody", ThreadID: "t"}, "x", 2))
}

func TestStore_ReplyRecreatesRemovedThread(t *testing.T) {
	s := newTestStore(t)
	ref, err := s.BeginCompose("vendor", "Hello", "World")
	require.NoError(t, err)
	require.NoError(t, s.Remove("vendor", ""))

	require.True(t, s.Resolve(ref, "late", 2))
	th, ok := s.Thread("vendor", ref.ThreadID)
	require.True(t, ok)
	require.Equal(t, "Hello", th.Subject)
	require.Len(t, th.Messages, 1)
}

func TestStore_FailInsertsErrorMessage(t *testing.T) {
	s := newTestStore(t)
	ref, err := s.BeginCompose("vendor", "Hello", "World")
	require.NoError(t, err)

	s.Fail(ref, "Error: boom")
	s.Fail(ref, "Error: boom")

	th, _ := s.Thread("vendor", ref.ThreadID)
	require.Len(t, th.Messages, 3)
	require.Equal(t, "Error: boom", th.Messages[2].Body)
	require.Equal(t, domain.DefaultDirectory("").Keys(), s.Agents(), "failures do not reorder agents")
	count, reached := s.Usage("vendor")
	require.Equal(t, 0, count)
	require.False(t, reached)
}

// ---- inbox listing ----

func TestStore_InboxOrderingAndFilters(t *testing.T) {
	s := newTestStore(t)

	old, _ := s.BeginCompose("vendor", "old", "a")
	s.Resolve(old, "r-old", 2)
	read, _ := s.BeginCompose("vendor", "read", "b")
	s.Resolve(read, "r-read", 4)
	_, err := s.Open("vendor", read.ThreadID)
	require.NoError(t, err)
	s.Close()
	newest, _ := s.BeginCompose("vendor", "newest", "c")
	s.Resolve(newest, "r-newest", 6)

	all, err := s.Inbox("vendor", FilterAll)
	require.NoError(t, err)
	require.False(t, all.Empty)
	require.Equal(t, []string{newest.ThreadID, old.ThreadID, read.ThreadID}, ids(all.Threads))

	unopened, err := s.Inbox("vendor", FilterUnopened)
	require.NoError(t, err)
	require.Equal(t, []string{newest.ThreadID, old.ThreadID}, ids(unopened.Threads))

	opened, err := s.Inbox("vendor", FilterOpened)
	require.NoError(t, err)
	require.Equal(t, []string{read.ThreadID}, ids(opened.Threads))

	other, err := s.Inbox("customs", FilterOpened)
	require.NoError(t, err)
	require.True(t, other.Empty)
}

func ids(ts []Thread) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func TestParseFilter(t *testing.T) {
	for _, f := range []Filter{FilterAll, FilterUnopened, FilterOpened} {
		got, err := ParseFilter(f.String())
		require.NoError(t, err)
		require.Equal(t, f, got)
	}
	_, err := ParseFilter("starred")
	require.Error(t, err)
}

// ---- counts and hydration ----

func TestStore_LimitFromResolve(t *testing.T) {
	s := newTestStore(t)
	ref, _ := s.BeginCompose("vendor", "S", "B")
	s.Resolve(ref, "R", DefaultMessageLimit)

	count, reached := s.Usage("vendor")
	require.Equal(t, DefaultMessageLimit, count)
	require.True(t, reached)

	_, err := s.BeginCompose("vendor", "S", "B")
	require.ErrorIs(t, err, ErrLimitReached)
	_, err = s.BeginReply("vendor", ref.ThreadID, "B")
	require.ErrorIs(t, err, ErrLimitReached)

	_, err = s.BeginCompose("customs", "S", "B")
	require.NoError(t, err)
}

func TestStore_LoadAndRemove(t *testing.T) {
	s := newTestStore(t)
	vendor, _ := domain.DefaultDirectory("").Lookup("vendor")
	msgs := func(n int) []domain.Message {
		out := make([]domain.Message, n)
		for i := range out {
			out[i] = domain.NewUserMessage(vendor, "m", baseTime.Add(time.Duration(i)*time.Minute))
		}
		return out
	}

	require.NoError(t, s.Load("vendor", []Thread{
		{ID: "t1", Subject: "one", Messages: msgs(4), Unread: 3},
		{ID: "t2", Subject: "two", Messages: msgs(16)},
	}, 20, false))

	count, reached := s.Usage("vendor")
	require.Equal(t, 20, count)
	require.True(t, reached)
	th, ok := s.Thread("vendor", "t1")
	require.True(t, ok)
	require.Equal(t, 0, th.Unread)

	_, err := s.Open("vendor", "t2")
	require.NoError(t, err)
	require.NoError(t, s.Remove("vendor", "t2"))
	count, reached = s.Usage("vendor")
	require.Equal(t, 4, count)
	require.False(t, reached)
	_, ok = s.Thread("vendor", "t2")
	require.False(t, ok)

	require.NoError(t, s.Remove("vendor", ""))
	listing, err := s.Inbox("vendor", FilterAll)
	require.NoError(t, err)
	require.True(t, listing.Empty)
	require.ErrorIs(t, s.Load("nobody", nil, 0, false), ErrUnknownAgent)
}

// ---- properties ----

func TestProperty_SendBumpsAgentToFront(t *testing.T) {
	keys := domain.DefaultDirectory("").Keys()
	rapid.Check(t, func(t *rapid.T) {
		s := newTestStore(t)
		sends := rapid.SliceOfN(rapid.SampledFrom(keys), 1, 30).Draw(t, "sends")
		for _, agent := range sends {
			before := s.Agents()
			ref, err := s.BeginCompose(agent, "S", "B")
			if err != nil {
				t.Fatal(err)
			}
			s.Resolve(ref, "R", 2)
			after := s.Agents()
			if after[0] != agent {
				t.Fatalf("expected %s first, got %v", agent, after)
			}
			if got, want := without(after, agent), without(before, agent); !equal(got, want) {
				t.Fatalf("relative order changed: %v -> %v", want, got)
			}
		}
	})
}

func TestProperty_OpenResetsUnread(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := newTestStore(t)
		ref, err := s.BeginCompose("customs", "S", "B")
		if err != nil {
			t.Fatal(err)
		}
		replies := rapid.IntRange(0, 15).Draw(t, "replies")
		for i := 0; i < replies; i++ {
			s.Resolve(ref, rapid.StringN(1, 20, -1).Draw(t, "reply"), 2)
		}
		th, err := s.Open("customs", ref.ThreadID)
		if err != nil {
			t.Fatal(err)
		}
		if th.Unread != 0 {
			t.Fatalf("unread after open: %d", th.Unread)
		}
		if got, _ := s.Thread("customs", ref.ThreadID); got.Unread != 0 {
			t.Fatalf("stored unread after open: %d", got.Unread)
		}
	})
}

func TestProperty_DuplicateReplyDropped(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := newTestStore(t)
		ref, err := s.BeginCompose("warehouse", "S", "B")
		if err != nil {
			t.Fatal(err)
		}
		body := rapid.String().Draw(t, "body")
		if !s.Resolve(ref, body, 2) {
			t.Fatal("first reply dropped")
		}
		if s.Resolve(ref, body, 2) {
			t.Fatal("duplicate reply appended")
		}
		th, _ := s.Thread("warehouse", ref.ThreadID)
		copies := 0
		for _, m := range th.Messages {
			if !m.IsUser() && m.Body == body {
				copies++
			}
		}
		if copies != 1 {
			t.Fatalf("expected one copy, got %d", copies)
		}
	})
}

func TestProperty_EmptyAgentShowsEmptyState(t *testing.T) {
	keys := domain.DefaultDirectory("").Keys()
	rapid.Check(t, func(t *rapid.T) {
		s := newTestStore(t)
		agent := rapid.SampledFrom(keys).Draw(t, "agent")
		filter := Filter(rapid.IntRange(0, 2).Draw(t, "filter"))
		listing, err := s.Inbox(agent, filter)
		if err != nil {
			t.Fatal(err)
		}
		if len(listing.Threads) != 0 || !listing.Empty {
			t.Fatalf("expected empty state, got %+v", listing)
		}
	})
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
