package handler

import (
	"net/http"
	"strings"
	"time"

	"agent-inbox/internal/domain"
	"agent-inbox/internal/middleware"
	"agent-inbox/internal/usecase"
)

type sendRequest struct {
	UserID     string `json:"userId"`
	AgentType  string `json:"agentType"`
	ThreadID   string `json:"threadId"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	WebhookURL string `json:"webhookUrl"`
}

type sendResponse struct {
	OK           bool   `json:"ok"`
	ThreadID     string `json:"threadId"`
	Response     string `json:"response"`
	MessageCount int    `json:"messageCount"`
}

type conversationView struct {
	ThreadID  string           `json:"threadId"`
	Subject   string           `json:"subject"`
	Messages  []domain.Message `json:"messages"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type listResponse struct {
	OK            bool               `json:"ok"`
	Conversations []conversationView `json:"conversations"`
	MessageCount  int                `json:"messageCount"`
	LimitReached  bool               `json:"limitReached"`
}

type clearRequest struct {
	UserID    string `json:"userId"`
	AgentType string `json:"agentType"`
	ThreadID  string `json:"threadId"`
}

type clearResponse struct {
	OK      bool `json:"ok"`
	Deleted int  `json:"deleted"`
}

// SendMessage handles POST /messages/send.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	userID, err := resolveUser(r, req.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.messages.Send(r.Context(), usecase.SendInput{
		UserID:     userID,
		AgentType:  req.AgentType,
		ThreadID:   req.ThreadID,
		Subject:    req.Subject,
		Body:       req.Body,
		WebhookURL: req.WebhookURL,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, sendResponse{
		OK:           true,
		ThreadID:     out.ThreadID,
		Response:     out.Response,
		MessageCount: out.MessageCount,
	})
}

// ListMessages handles GET /messages?userId=&agentType=.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, err := resolveUser(r, q.Get("userId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.messages.List(r.Context(), userID, q.Get("agentType"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views := make([]conversationView, 0, len(out.Conversations))
	for _, c := range out.Conversations {
		msgs := c.Messages
		if msgs == nil {
			msgs = []domain.Message{}
		}
		views = append(views, conversationView{
			ThreadID:  c.ThreadID,
			Subject:   c.Subject,
			Messages:  msgs,
			UpdatedAt: c.UpdatedAt,
		})
	}
	h.JSON(w, http.StatusOK, listResponse{
		OK:            true,
		Conversations: views,
		MessageCount:  out.MessageCount,
		LimitReached:  out.LimitReached,
	})
}

// ClearMessages handles DELETE /messages/clear.
func (h *Handler) ClearMessages(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	userID, err := resolveUser(r, req.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.messages.Clear(r.Context(), usecase.ClearInput{
		UserID:    userID,
		AgentType: req.AgentType,
		ThreadID:  req.ThreadID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, clearResponse{OK: true, Deleted: n})
}

// resolveUser reconciles the userId in the request with the bearer token.
// A token supplies the id when the request omits it and must match otherwise.
func resolveUser(r *http.Request, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	authed, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return requested, nil
	}
	if requested != "" && requested != authed {
		return "", &usecase.Error{Code: usecase.ErrorForbidden, Reason: "user_mismatch"}
	}
	return authed, nil
}
