package inbox

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"agent-inbox/internal/client"
)

// ErrSendInProgress is returned when a send is started while another from the
// same composer has not finished.
var ErrSendInProgress = errors.New("inbox: a send is already in progress")

// Backend is the subset of the API client the composer drives.
type Backend interface {
	Send(ctx context.Context, req client.SendRequest) (client.SendResponse, error)
	History(ctx context.Context, userID, agentType string) (client.History, error)
	Clear(ctx context.Context, userID, agentType, threadID string) (int, error)
}

type EventKind string

const (
	EventSending  EventKind = "sending"
	EventReceived EventKind = "received"
	EventError    EventKind = "error"
)

// Event is a user facing notification. Notifiers must not block.
type Event struct {
	Kind EventKind
	Ref  Ref
	Err  error
}

type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Result is the outcome of one send.
type Result struct {
	Ref          Ref
	Reply        string
	MessageCount int

	// Appended is false when the reply duplicated the last agent message.
	Appended bool
	Err      error
}

// Pending is a send that is running in the background.
type Pending struct {
	Ref  Ref
	done chan Result
}

// Done delivers exactly one Result.
func (p *Pending) Done() <-chan Result { return p.done }

// Wait blocks for the Result or until ctx is done. The send itself is not
// cancelled by ctx.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case r := <-p.done:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Composer runs sends against the backend and reconciles them into a Store.
type Composer struct {
	store    *Store
	backend  Backend
	notifier Notifier
	userID   string
	sending  atomic.Bool
}

func NewComposer(store *Store, backend Backend, notifier Notifier, userID string) *Composer {
	if notifier == nil {
		notifier = NotifierFunc(func(Event) {})
	}
	return &Composer{store: store, backend: backend, notifier: notifier, userID: userID}
}

// Compose starts a new thread with agent.
func (c *Composer) Compose(ctx context.Context, agent, subject, body string) (*Pending, error) {
	subject, body = strings.TrimSpace(subject), strings.TrimSpace(body)
	if subject == "" {
		return nil, ErrEmptySubject
	}
	if body == "" {
		return nil, ErrEmptyBody
	}
	if err := c.precheck(agent); err != nil {
		return nil, err
	}
	if !c.sending.CompareAndSwap(false, true) {
		return nil, ErrSendInProgress
	}
	ref, err := c.store.BeginCompose(agent, subject, body)
	if err != nil {
		c.sending.Store(false)
		return nil, err
	}
	return c.dispatch(ctx, ref, body), nil
}

// Reply appends to an existing thread.
func (c *Composer) Reply(ctx context.Context, agent, threadID, body string) (*Pending, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}
	if err := c.precheck(agent); err != nil {
		return nil, err
	}
	if !c.sending.CompareAndSwap(false, true) {
		return nil, ErrSendInProgress
	}
	ref, err := c.store.BeginReply(agent, threadID, body)
	if err != nil {
		c.sending.Store(false)
		return nil, err
	}
	return c.dispatch(ctx, ref, body), nil
}

func (c *Composer) precheck(agent string) error {
	if !c.store.Directory().Has(agent) {
		return ErrUnknownAgent
	}
	if _, reached := c.store.Usage(agent); reached {
		return ErrLimitReached
	}
	return nil
}

func (c *Composer) dispatch(ctx context.Context, ref Ref, body string) *Pending {
	p := &Pending{Ref: ref, done: make(chan Result, 1)}
	c.notifier.Notify(Event{Kind: EventSending, Ref: ref})

	req := client.SendRequest{
		UserID:    c.userID,
		AgentType: ref.Agent,
		ThreadID:  ref.ThreadID,
		Subject:   ref.Subject,
		Body:      body,
	}
	if a, ok := c.store.Directory().Lookup(ref.Agent); ok {
		req.WebhookURL = a.Webhook
	}

	go func() {
		resp, err := c.backend.Send(context.WithoutCancel(ctx), req)
		if err == nil && resp.Response == "" {
			err = errors.New("inbox: backend returned an empty reply")
		}
		res := Result{Ref: ref}
		if err != nil {
			if client.IsLimitReached(err) {
				c.store.MarkLimitReached(ref.Agent)
			}
			c.store.Fail(ref, "Error: "+err.Error())
			res.Err = err
			c.notifier.Notify(Event{Kind: EventError, Ref: ref, Err: err})
		} else {
			res.Reply = resp.Response
			res.MessageCount = resp.MessageCount
			res.Appended = c.store.Resolve(ref, resp.Response, resp.MessageCount)
			c.notifier.Notify(Event{Kind: EventReceived, Ref: ref})
		}
		c.sending.Store(false)
		p.done <- res
	}()
	return p
}

// Sync replaces agent's local threads with the backend history.
func (c *Composer) Sync(ctx context.Context, agent string) error {
	if !c.store.Directory().Has(agent) {
		return ErrUnknownAgent
	}
	h, err := c.backend.History(ctx, c.userID, agent)
	if err != nil {
		return err
	}
	threads := make([]Thread, 0, len(h.Conversations))
	for _, conv := range h.Conversations {
		threads = append(threads, Thread{ID: conv.ThreadID, Subject: conv.Subject, Messages: conv.Messages})
	}
	return c.store.Load(agent, threads, h.MessageCount, h.LimitReached)
}

// Clear deletes one thread, or all of agent's threads, on the backend and then locally.
func (c *Composer) Clear(ctx context.Context, agent, threadID string) (int, error) {
	if !c.store.Directory().Has(agent) {
		return 0, ErrUnknownAgent
	}
	n, err := c.backend.Clear(ctx, c.userID, agent, threadID)
	if err != nil {
		return 0, err
	}
	return n, c.store.Remove(agent, threadID)
}
