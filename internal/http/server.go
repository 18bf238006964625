package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"campus/chat/internal/auth"
	"campus/chat/internal/chat"
	"campus/chat/internal/config"
	"campus/chat/internal/hub"
	"campus/chat/internal/notify"
)

type Server struct {
	cfg       config.Config
	lifecycle *chat.Lifecycle
	messages  *chat.Messages
	pager     *chat.Pager
	chats     chat.ChatRepository
	unseen    chat.MessageRepository
	presence  *hub.Registry
	notify    *notify.Service
	gateway   http.Handler
}

func NewServer(cfg config.Config, lifecycle *chat.Lifecycle, messages *chat.Messages, pager *chat.Pager, chats chat.ChatRepository, msgRepo chat.MessageRepository, presence *hub.Registry, notifySvc *notify.Service, gateway http.Handler) *Server {
	return &Server{
		cfg:       cfg,
		lifecycle: lifecycle,
		messages:  messages,
		pager:     pager,
		chats:     chats,
		unseen:    msgRepo,
		presence:  presence,
		notify:    notifySvc,
		gateway:   gateway,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.gateway.ServeHTTP)

	r.With(s.authMiddleware).Post("/chat/request", s.handleChatRequest)
	r.With(s.authMiddleware).Post("/chat/approve/{chatId}", s.handleChatApprove)
	r.With(s.authMiddleware).Post("/chat/reject/{chatId}", s.handleChatReject)
	r.With(s.authMiddleware).Get("/chat/list", s.handleChatList)
	r.With(s.authMiddleware).Post("/chat/message/send", s.handleMessageSend)
	r.With(s.authMiddleware).Put("/chat/message/edit/{messageId}", s.handleMessageEdit)
	r.With(s.authMiddleware).Delete("/chat/message/delete/{messageId}", s.handleMessageDelete)
	r.With(s.authMiddleware).Get("/chat/load-more/{chatId}/{messageId}/{n}", s.handleLoadMore)
	r.With(s.authMiddleware).Get("/chat/messages/last/{chatId}/{n}", s.handleLastMessages)
	r.With(s.authMiddleware).Post("/chat/messages/seen/{chatId}", s.handleMarkSeen)
	r.With(s.authMiddleware).Get("/chat/messages/search/{chatId}", s.handleSearch)
	r.With(s.authMiddleware).Get("/chat/user/{userId}/status", s.handleUserStatus)
	r.With(s.authMiddleware).Get("/notifications", s.handleListNotifications)
	r.With(s.authMiddleware).Post("/notifications/read/{id}", s.handleNotificationRead)
	r.With(s.authMiddleware).Post("/notifications/read-all", s.handleNotificationsReadAll)
	r.With(s.authMiddleware).Get("/notifications/unread-count", s.handleUnreadCount)
	r.With(s.authMiddleware).Post("/channel/publish", s.handleChannelPublish)

	return cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(r)
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// Handlers

func (s *Server) handleChatRequest(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if claims.UserType != auth.UserTypeStudent {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req struct {
		FacultyID string `json:"facultyId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.FacultyID) == "" {
		writeError(w, http.StatusBadRequest, "missing_faculty_id")
		return
	}

	created, err := s.lifecycle.Request(r.Context(), claims.UserID, req.FacultyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleChatApprove(w http.ResponseWriter, r *http.Request) {
	s.resolveChat(w, r, s.lifecycle.Approve)
}

func (s *Server) handleChatReject(w http.ResponseWriter, r *http.Request) {
	s.resolveChat(w, r, s.lifecycle.Reject)
}

func (s *Server) resolveChat(w http.ResponseWriter, r *http.Request, resolve func(context.Context, string, string) (*chat.Chat, error)) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if claims.UserType != auth.UserTypeFaculty && claims.UserType != auth.UserTypeAdmin {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	chatID := chi.URLParam(r, "chatId")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "missing_chat_id")
		return
	}
	actorID := claims.UserID
	if claims.UserType == auth.UserTypeAdmin {
		// Admins may resolve on behalf of the faculty member.
		actorID = ""
	}

	updated, err := resolve(r.Context(), chatID, actorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type chatListEntry struct {
	*chat.Chat
	CounterpartID string `json:"counterpartId"`
	UnseenCount   int    `json:"unseenCount"`
	IsOnline      bool   `json:"isOnline"`
}

func (s *Server) handleChatList(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	chats, err := s.chats.ListChatsByUser(r.Context(), claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	entries := make([]chatListEntry, 0, len(chats))
	for _, c := range chats {
		unseen, err := s.unseen.CountUnseen(r.Context(), c.ID, claims.UserID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		counterpart := c.Counterpart(claims.UserID)
		entries = append(entries, chatListEntry{
			Chat:          c,
			CounterpartID: counterpart,
			UnseenCount:   unseen,
			IsOnline:      s.presence.IsOnline(counterpart),
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req struct {
		ChatID      string            `json:"chatId"`
		Content     string            `json:"content"`
		Attachments []chat.Attachment `json:"attachments"`
		ReplyToID   string            `json:"replyToId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.ChatID == "" {
		writeError(w, http.StatusBadRequest, "missing_chat_id")
		return
	}

	msg, err := s.messages.Send(r.Context(), chat.SendInput{
		ChatID:      req.ChatID,
		SenderID:    claims.UserID,
		Content:     req.Content,
		Attachments: req.Attachments,
		ReplyToID:   req.ReplyToID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMessageEdit(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	messageID := chi.URLParam(r, "messageId")
	var req struct {
		NewContent string `json:"newContent"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	updated, err := s.messages.Edit(r.Context(), messageID, claims.UserID, req.NewContent)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleMessageDelete(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	messageID := chi.URLParam(r, "messageId")
	if _, err := s.messages.Delete(r.Context(), messageID, claims.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	chatID := chi.URLParam(r, "chatId")
	messageID := chi.URLParam(r, "messageId")
	n, _ := strconv.Atoi(chi.URLParam(r, "n"))

	if err := s.requireParticipant(r.Context(), w, chatID, claims.UserID); err != nil {
		return
	}
	messages, err := s.pager.LoadOlderThan(r.Context(), chatID, messageID, n)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleLastMessages(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	chatID := chi.URLParam(r, "chatId")
	n, _ := strconv.Atoi(chi.URLParam(r, "n"))

	if err := s.requireParticipant(r.Context(), w, chatID, claims.UserID); err != nil {
		return
	}
	messages, err := s.pager.LoadLast(r.Context(), chatID, n)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	chatID := chi.URLParam(r, "chatId")
	result, err := s.messages.MarkSeen(r.Context(), chatID, claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	chatID := chi.URLParam(r, "chatId")
	query := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	if err := s.requireParticipant(r.Context(), w, chatID, claims.UserID); err != nil {
		return
	}
	matches, err := s.pager.Search(r.Context(), chatID, query, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	userID := chi.URLParam(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	payload := hub.UserStatusPayload{UserID: userID, IsOnline: s.presence.IsOnline(userID)}
	if !payload.IsOnline {
		if t, ok := s.presence.LastSeen(r.Context(), userID); ok {
			payload.LastSeenAt = &t
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	limit := parseLimit(r, 50)
	notifications, err := s.notify.List(r.Context(), claims.UserID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if notifications == nil {
		notifications = []*chat.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (s *Server) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.notify.MarkRead(r.Context(), claims.UserID, id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotificationsReadAll(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	count, err := s.notify.MarkAllRead(r.Context(), claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": count})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	count, err := s.notify.Unread(r.Context(), claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (s *Server) handleChannelPublish(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if claims.UserType != auth.UserTypeFaculty && claims.UserType != auth.UserTypeAdmin {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req struct {
		Channel string `json:"channel"`
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.Channel) == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	s.notify.PublishChannel(req.Channel, req.Title, req.Message)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "published"})
}

// requireParticipant loads the chat and writes a forbidden/not-found response
// when the user may not read it. Returns a non-nil error when the response
// has been written.
func (s *Server) requireParticipant(ctx context.Context, w http.ResponseWriter, chatID, userID string) error {
	c, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		writeDomainError(w, err)
		return err
	}
	if !c.Participant(userID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return chat.ErrForbidden
	}
	return nil
}

// Helpers

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request")
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, chat.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, chat.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	case errors.Is(err, chat.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout")
	default:
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

// ListenAndServe runs the router until ctx ends, then shuts down within the
// configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
