// Package inbox holds the client side of the conversation model: an in-memory
// store of threads per agent, the send pipeline that reconciles backend replies
// into it, and locally persisted drafts.
package inbox

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"agent-inbox/internal/domain"
)

// DefaultMessageLimit mirrors the backend's default per agent cap.
const DefaultMessageLimit = 20

var (
	ErrUnknownAgent  = errors.New("inbox: unknown agent")
	ErrUnknownThread = errors.New("inbox: unknown thread")
	ErrEmptySubject  = errors.New("inbox: subject is empty")
	ErrEmptyBody     = errors.New("inbox: body is empty")
	ErrLimitReached  = errors.New("inbox: message limit reached for agent")
)

// Filter selects which threads an inbox listing shows.
type Filter int

const (
	FilterAll Filter = iota
	FilterUnopened
	FilterOpened
)

func (f Filter) String() string {
	switch f {
	case FilterUnopened:
		return "unopened"
	case FilterOpened:
		return "opened"
	default:
		return "all"
	}
}

// ParseFilter accepts the names produced by Filter.String.
func ParseFilter(s string) (Filter, error) {
	switch s {
	case "", "all":
		return FilterAll, nil
	case "unopened":
		return FilterUnopened, nil
	case "opened":
		return FilterOpened, nil
	}
	return FilterAll, errors.New("inbox: unknown filter " + strconv.Quote(s))
}

// Ref identifies the thread a pending send belongs to. It is captured when the
// send starts so the reply lands on that thread whatever is open later.
type Ref struct {
	Agent    string
	ThreadID string
	Subject  string
}

// Thread is one conversation with an agent.
type Thread struct {
	ID       string
	Subject  string
	Messages []domain.Message
	Unread   int
}

// Last returns the final message, if any.
func (t Thread) Last() (domain.Message, bool) {
	if len(t.Messages) == 0 {
		return domain.Message{}, false
	}
	return t.Messages[len(t.Messages)-1], true
}

func (t Thread) clone() Thread {
	t.Messages = append([]domain.Message(nil), t.Messages...)
	return t
}

// Listing is the inbox view for one agent.
type Listing struct {
	Agent   string
	Filter  Filter
	Threads []Thread

	// Empty is set when no thread matches the filter.
	Empty bool
}

type agentState struct {
	threads      map[string]*Thread
	messageCount int
	limitReached bool
}

// Store is the client conversation map. Every agent in the directory always
// has an entry. It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	agents domain.Directory
	order  []string
	state  map[string]*agentState
	limit  int

	// open is the thread currently being viewed, if any.
	open   Ref
	lastID int64
	now    func() time.Time
}

func NewStore(agents domain.Directory, limit int) *Store {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	s := &Store{
		agents: agents,
		order:  agents.Keys(),
		state:  make(map[string]*agentState),
		limit:  limit,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, k := range s.order {
		s.state[k] = &agentState{threads: make(map[string]*Thread)}
	}
	return s
}

func (s *Store) Directory() domain.Directory {
	return s.agents
}

// Agents returns agent keys, most recently active first.
func (s *Store) Agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Bump moves agent to the front of the agent list.
func (s *Store) Bump(agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bumpLocked(agent)
}

func (s *Store) bumpLocked(agent string) {
	for i, k := range s.order {
		if k != agent {
			continue
		}
		copy(s.order[1:i+1], s.order[:i])
		s.order[0] = agent
		return
	}
}

// nextThreadIDLocked returns thread_<unix-millis>, bumped past the last id it
// handed out so rapid composes never collide.
func (s *Store) nextThreadIDLocked() string {
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return "thread_" + strconv.FormatInt(id, 10)
}

// BeginCompose creates a thread holding the user's first message before the
// backend has seen it.
func (s *Store) BeginCompose(agent, subject, body string) (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, st, err := s.agentLocked(agent)
	if err != nil {
		return Ref{}, err
	}
	if st.limitReached {
		return Ref{}, ErrLimitReached
	}
	ref := Ref{Agent: agent, ThreadID: s.nextThreadIDLocked(), Subject: subject}
	st.threads[ref.ThreadID] = &Thread{
		ID:       ref.ThreadID,
		Subject:  subject,
		Messages: []domain.Message{domain.NewUserMessage(a, body, s.now())},
	}
	return ref, nil
}

// BeginReply appends the user's message to an existing thread.
func (s *Store) BeginReply(agent, threadID, body string) (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, st, err := s.agentLocked(agent)
	if err != nil {
		return Ref{}, err
	}
	if st.limitReached {
		return Ref{}, ErrLimitReached
	}
	t, ok := st.threads[threadID]
	if !ok {
		return Ref{}, ErrUnknownThread
	}
	t.Messages = append(t.Messages, domain.NewUserMessage(a, body, s.now()))
	return Ref{Agent: agent, ThreadID: threadID, Subject: t.Subject}, nil
}

// Resolve records a successful round trip: the reply is appended unless it
// duplicates the thread's last agent message, the agent moves to the front,
// and the per agent count takes the backend's value. It reports whether the
// reply was appended.
func (s *Store) Resolve(ref Ref, reply string, messageCount int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, st, err := s.agentLocked(ref.Agent)
	if err != nil {
		return false
	}
	s.bumpLocked(ref.Agent)
	st.messageCount = messageCount
	st.limitReached = messageCount >= s.limit
	return s.appendAgentLocked(a, st, ref, reply, true)
}

// Fail inserts a visible error message in place of the reply.
func (s *Store) Fail(ref Ref, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, st, err := s.agentLocked(ref.Agent)
	if err != nil {
		return
	}
	s.appendAgentLocked(a, st, ref, text, false)
}

// MarkLimitReached disables composing to agent until the count is reloaded.
func (s *Store) MarkLimitReached(agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state[agent]; ok {
		st.limitReached = true
	}
}

func (s *Store) appendAgentLocked(a domain.Agent, st *agentState, ref Ref, body string, dedup bool) bool {
	t, ok := st.threads[ref.ThreadID]
	if !ok {
		// Removed while the request was in flight.
		t = &Thread{ID: ref.ThreadID, Subject: ref.Subject}
		st.threads[ref.ThreadID] = t
	}
	if last, ok := t.Last(); dedup && ok && !last.IsUser() && last.Body == body {
		return false
	}
	t.Messages = append(t.Messages, domain.NewAgentMessage(a, body, s.now()))
	if s.open.Agent == ref.Agent && s.open.ThreadID == ref.ThreadID {
		t.Unread = 0
	} else {
		t.Unread++
	}
	return true
}

// Open marks the thread as the one being viewed and clears its unread count.
func (s *Store) Open(agent, threadID string) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, st, err := s.agentLocked(agent)
	if err != nil {
		return Thread{}, err
	}
	t, ok := st.threads[threadID]
	if !ok {
		return Thread{}, ErrUnknownThread
	}
	t.Unread = 0
	s.open = Ref{Agent: agent, ThreadID: threadID, Subject: t.Subject}
	return t.clone(), nil
}

// Close leaves the open thread, if any.
func (s *Store) Close() {
	s.mu.Lock()
	s.open = Ref{}
	s.mu.Unlock()
}

func (s *Store) Thread(agent, threadID string) (Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[agent]
	if !ok {
		return Thread{}, false
	}
	t, ok := st.threads[threadID]
	if !ok {
		return Thread{}, false
	}
	return t.clone(), true
}

// Inbox lists agent's threads matching filter, unread threads first and each
// group ordered by newest last message.
func (s *Store) Inbox(agent string, filter Filter) (Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, st, err := s.agentLocked(agent)
	if err != nil {
		return Listing{}, err
	}
	threads := make([]Thread, 0, len(st.threads))
	for _, t := range st.threads {
		unread := t.Unread > 0
		if (filter == FilterUnopened && !unread) || (filter == FilterOpened && unread) {
			continue
		}
		threads = append(threads, t.clone())
	}
	sort.Slice(threads, func(i, j int) bool {
		a, b := threads[i], threads[j]
		if (a.Unread > 0) != (b.Unread > 0) {
			return a.Unread > 0
		}
		at, bt := lastAt(a), lastAt(b)
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.ID > b.ID
	})
	return Listing{Agent: agent, Filter: filter, Threads: threads, Empty: len(threads) == 0}, nil
}

func lastAt(t Thread) time.Time {
	if m, ok := t.Last(); ok {
		return m.Timestamp
	}
	return time.Time{}
}

// Usage returns the agent's message count and whether composing is disabled.
func (s *Store) Usage(agent string) (count int, limitReached bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[agent]
	if !ok {
		return 0, false
	}
	return st.messageCount, st.limitReached
}

// Load replaces agent's threads with a history fetch. Unread counts start at zero.
func (s *Store) Load(agent string, threads []Thread, messageCount int, limitReached bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, st, err := s.agentLocked(agent)
	if err != nil {
		return err
	}
	st.threads = make(map[string]*Thread, len(threads))
	for _, t := range threads {
		t := t.clone()
		t.Unread = 0
		st.threads[t.ID] = &t
	}
	st.messageCount = messageCount
	st.limitReached = limitReached || messageCount >= s.limit
	return nil
}

// Remove drops one thread, or all of agent's threads when threadID is empty.
func (s *Store) Remove(agent, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, st, err := s.agentLocked(agent)
	if err != nil {
		return err
	}
	if threadID == "" {
		st.threads = make(map[string]*Thread)
		st.messageCount = 0
	} else if t, ok := st.threads[threadID]; ok {
		st.messageCount -= len(t.Messages)
		if st.messageCount < 0 {
			st.messageCount = 0
		}
		delete(st.threads, threadID)
	}
	st.limitReached = st.messageCount >= s.limit
	if s.open.Agent == agent && (threadID == "" || s.open.ThreadID == threadID) {
		s.open = Ref{}
	}
	return nil
}

func (s *Store) agentLocked(key string) (domain.Agent, *agentState, error) {
	a, ok := s.agents.Lookup(key)
	if !ok {
		return domain.Agent{}, nil, ErrUnknownAgent
	}
	return a, s.state[key], nil
}
