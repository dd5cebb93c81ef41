package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsync-io/chatsync/internal/database"
	"github.com/chatsync-io/chatsync/internal/server"
	"github.com/chatsync-io/chatsync/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateConversationRequest struct {
	ParticipantIds []int `json:"participant_ids"`
}

type SendMessageRequest struct {
	ConversationId string `json:"conversation_id"`
	TempId         string `json:"temp_id"`
	Content        string `json:"content"`
}

func (s *SyncApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *SyncApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *SyncApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		errResp := NewBadRequestError().WithDetail("username, email and password are required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	}

	newUser, err := s.db.CreateAccount(params)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// registration is a business event: it seeds the account feed
	if _, err := s.db.CreateNotification(database.CreateNotificationParams{
		RecipientId: newUser.Id,
		Type:        string(types.NotificationRegistration),
		Message:     fmt.Sprintf("Welcome, %s! Your account has been created.", newUser.Username),
	}); err != nil {
		s.log.Println("create registration notification:", err)
	}

	s.writeJson(w, http.StatusCreated, types.User{
		Id:           newUser.Id,
		Username:     newUser.Username,
		EmailAddress: newUser.EmailAddress,
		CreatedAt:    newUser.CreatedAt,
		UpdatedAt:    newUser.UpdatedAt,
	})
}

func (s *SyncApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	u := types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}

	s.writeJson(w, http.StatusOK, u)
}

func (s *SyncApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lr.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	u := types.User{
		Id:           dbUser.Id,
		Username:     dbUser.Username,
		EmailAddress: dbUser.EmailAddress,
		CreatedAt:    dbUser.CreatedAt,
		UpdatedAt:    dbUser.UpdatedAt,
	}

	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, u)
}

func (s *SyncApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *SyncApp) listConversations(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbConvs, err := s.db.ListConversations(userId)
	if err != nil {
		s.log.Println("list conversations:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	convs := make([]types.Conversation, 0, len(dbConvs))
	for _, dbConv := range dbConvs {
		convs = append(convs, conversationFromDb(dbConv))
	}

	s.writeJson(w, http.StatusOK, convs)
}

func (s *SyncApp) createConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	participants := req.ParticipantIds
	if !slices.Contains(participants, userId) {
		participants = append(participants, userId)
	}
	if len(participants) < 2 {
		errResp := NewBadRequestError().WithDetail("a conversation needs at least two participants")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newConv, err := s.db.CreateConversation(database.CreateConversationParams{
		ExternalId:     sid,
		ParticipantIds: participants,
	})
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// let the other participants know a thread now exists
	for _, participantId := range participants {
		if participantId == userId {
			continue
		}

		n, err := s.db.CreateNotification(database.CreateNotificationParams{
			RecipientId: participantId,
			Type:        string(types.NotificationStatus),
			Message:     "You have been added to a new conversation.",
		})
		if err != nil {
			s.log.Println("create conversation notification:", err)
			continue
		}

		notification := notificationFromDb(n)
		s.cs.Publish(types.UserRoom(participantId), server.NewNotificationEvent(server.NotificationEvent{
			New: &notification,
		}))
	}

	s.writeJson(w, http.StatusCreated, conversationFromDb(newConv))
}

func (s *SyncApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.PathValue("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, err := s.db.GetConversationByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !s.db.IsParticipant(userId, conv.Id) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var limit int
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError().WithDetail("limit must be an integer")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	// before is a message id from a previous page; it pages backward
	// through older history
	before := r.URL.Query().Get("before")

	dbMessages, err := s.db.ListMessages(conv.Id, before, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, msg := range dbMessages {
		messages = append(messages, messageFromDb(msg, conv.ExternalId))
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *SyncApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.ConversationId == "" || req.Content == "" {
		errResp := NewBadRequestError().WithDetail("conversation_id and content are required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, err := s.db.GetConversationByExternalId(req.ConversationId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !s.db.IsParticipant(userId, conv.Id) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbMsg, err := s.db.CreateMessage(database.CreateMessageParams{
		ExternalId:     sid,
		ConversationId: conv.Id,
		SenderId:       userId,
		Content:        req.Content,
		CreatedAt:      server.Now(),
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.UpdateConversationOnMessage(dbMsg); err != nil {
		s.log.Println("update conversation on message:", err)
	}

	s.stats.Incr("MessagesSent")

	// the confirmed copy echoes the client's temp id so the sender can
	// replace its optimistic entry instead of appending a duplicate
	confirmed := messageFromDb(dbMsg, conv.ExternalId)
	confirmed.TempId = req.TempId

	s.cs.Publish(types.ConversationRoom(conv.ExternalId), server.NewMessageEvent(confirmed))

	s.writeJson(w, http.StatusCreated, confirmed)
}

func (s *SyncApp) listNotifications(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var limit int
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	dbNotifications, err := s.db.ListNotifications(userId, limit)
	if err != nil {
		s.log.Println("list notifications:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	notifications := make([]types.Notification, 0, len(dbNotifications))
	for _, n := range dbNotifications {
		notifications = append(notifications, notificationFromDb(n))
	}

	s.writeJson(w, http.StatusOK, notifications)
}

func (s *SyncApp) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	notificationId, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbNotification, err := s.db.MarkNotificationRead(userId, notificationId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// mirror the mutation to the user's other sessions
	s.cs.Publish(types.UserRoom(userId), server.NewNotificationEvent(server.NotificationEvent{
		Read: &server.NotificationRead{Ids: []int{notificationId}},
	}))

	s.writeJson(w, http.StatusOK, notificationFromDb(dbNotification))
}

func (s *SyncApp) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	updated, err := s.db.MarkAllNotificationsRead(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.cs.Publish(types.UserRoom(userId), server.NewNotificationEvent(server.NotificationEvent{
		Read: &server.NotificationRead{All: true},
	}))

	s.writeJson(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *SyncApp) deleteNotification(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	notificationId, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteNotification(userId, notificationId); err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.cs.Publish(types.UserRoom(userId), server.NewNotificationEvent(server.NotificationEvent{
		Removed: &server.NotificationRemoved{Id: notificationId},
	}))

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *SyncApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}

func conversationFromDb(conv database.Conversation) types.Conversation {
	return types.Conversation{
		Id:                 conv.ExternalId,
		ParticipantIds:     conv.ParticipantIds,
		LastMessageAt:      conv.LastMessageAt,
		LastMessagePreview: conv.LastMessagePreview,
		CreatedAt:          conv.CreatedAt,
		UpdatedAt:          conv.UpdatedAt,
	}
}

func messageFromDb(msg database.Message, conversationExternalId string) types.Message {
	return types.Message{
		Id:             msg.ExternalId,
		ConversationId: conversationExternalId,
		SenderId:       msg.SenderId,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
		DeliveryState:  types.DeliveryConfirmed,
	}
}

func notificationFromDb(n database.Notification) types.Notification {
	return types.Notification{
		Id:          n.Id,
		RecipientId: n.RecipientId,
		Type:        types.NotificationType(n.Type),
		Message:     n.Message,
		CreatedAt:   n.CreatedAt,
		IsRead:      n.IsRead,
	}
}
