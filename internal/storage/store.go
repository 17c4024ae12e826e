// Package storage is the typed record layer the bot uses on top of the
// tiered cache: support tickets, in-progress form state, and customer
// mappings, all JSON-encoded and addressed through a fixed key schema.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wgtechlabs/unthread-telegram-bot-sub005/internal/cache"
)

// ErrNotFound is returned when a record does not exist in any tier.
var ErrNotFound = cache.ErrNotFound

// SerializationError reports a value that could not be encoded or
// decoded. It is always surfaced, never swallowed: a corrupt record is
// a bug, not a miss.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("storage: serialize %q: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// UserStateTTL bounds in-progress support form sessions. A form
// abandoned for an hour starts over.
const UserStateTTL = time.Hour

// Key schema. Tickets are stored as full copies under every alias so
// each lookup path is a single cache read.
const (
	ticketMsgPrefix      = "ticket:msg:"      // + chatID:messageID
	ticketConvPrefix     = "ticket:conv:"     // + Unthread conversation ID
	ticketFriendlyPrefix = "ticket:friendly:" // + human-facing ticket number
	userStatePrefix      = "userstate:"       // + chatID:userID
	customerPrefix       = "customer:"        // + chatID
)

// Ticket links a Telegram thread to an Unthread conversation.
type Ticket struct {
	ChatID         int64     `json:"chat_id"`
	MessageID      int64     `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	FriendlyID     string    `json:"friendly_id"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserState is the in-progress support form for one user in one chat.
type UserState struct {
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id"`
	Field     string    `json:"field"` // form field currently being collected
	Email     string    `json:"email,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Customer maps a Telegram chat to its Unthread customer record.
type Customer struct {
	ChatID     int64     `json:"chat_id"`
	CustomerID string    `json:"customer_id"`
	Email      string    `json:"email,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store provides typed access over a tiered cache. Tickets and
// customers are written with no TTL (permanent in the durable tier,
// tier defaults in the faster ones); user states carry UserStateTTL.
type Store struct {
	kv cache.Cache
}

// New wraps a cache (normally a *cache.TieredCache).
func New(kv cache.Cache) *Store {
	return &Store{kv: kv}
}

func ticketMsgKey(chatID, messageID int64) string {
	return fmt.Sprintf("%s%d:%d", ticketMsgPrefix, chatID, messageID)
}

func userStateKey(chatID, userID int64) string {
	return fmt.Sprintf("%s%d:%d", userStatePrefix, chatID, userID)
}

func customerKey(chatID int64) string {
	return fmt.Sprintf("%s%d", customerPrefix, chatID)
}

func (s *Store) put(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &SerializationError{Key: key, Err: err}
	}
	return s.kv.Set(ctx, key, data, ttl)
}

func (s *Store) get(ctx context.Context, key string, v any) error {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &SerializationError{Key: key, Err: err}
	}
	return nil
}

// ─── tickets ────────────────────────────────────────────────────────

// SaveTicket stores the ticket under its message key and every alias
// it has. The first failed write aborts: a ticket reachable by only
// some of its aliases is worse than one the caller retries.
func (s *Store) SaveTicket(ctx context.Context, t *Ticket) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = t.UpdatedAt
	}

	keys := []string{ticketMsgKey(t.ChatID, t.MessageID)}
	if t.ConversationID != "" {
		keys = append(keys, ticketConvPrefix+t.ConversationID)
	}
	if t.FriendlyID != "" {
		keys = append(keys, ticketFriendlyPrefix+t.FriendlyID)
	}
	for _, key := range keys {
		if err := s.put(ctx, key, t, 0); err != nil {
			return err
		}
	}
	return nil
}

// TicketByMessage looks up the ticket rooted at a Telegram message.
func (s *Store) TicketByMessage(ctx context.Context, chatID, messageID int64) (*Ticket, error) {
	var t Ticket
	if err := s.get(ctx, ticketMsgKey(chatID, messageID), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// TicketByConversation looks up the ticket for an Unthread conversation.
func (s *Store) TicketByConversation(ctx context.Context, conversationID string) (*Ticket, error) {
	var t Ticket
	if err := s.get(ctx, ticketConvPrefix+conversationID, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// TicketByFriendlyID looks up the ticket by its human-facing number.
func (s *Store) TicketByFriendlyID(ctx context.Context, friendlyID string) (*Ticket, error) {
	var t Ticket
	if err := s.get(ctx, ticketFriendlyPrefix+friendlyID, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// TicketExists reports whether a conversation has a ticket, without
// promoting it into faster tiers.
func (s *Store) TicketExists(ctx context.Context, conversationID string) (bool, error) {
	return s.kv.Exists(ctx, ticketConvPrefix+conversationID)
}

// DeleteTicket removes the ticket and all its aliases. Deleting a
// ticket that is already gone is not an error.
func (s *Store) DeleteTicket(ctx context.Context, t *Ticket) error {
	keys := []string{ticketMsgKey(t.ChatID, t.MessageID)}
	if t.ConversationID != "" {
		keys = append(keys, ticketConvPrefix+t.ConversationID)
	}
	if t.FriendlyID != "" {
		keys = append(keys, ticketFriendlyPrefix+t.FriendlyID)
	}
	for _, key := range keys {
		if err := s.kv.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// ─── user form state ────────────────────────────────────────────────

// SetUserState stores the in-progress form with its session TTL.
func (s *Store) SetUserState(ctx context.Context, st *UserState) error {
	st.UpdatedAt = time.Now()
	return s.put(ctx, userStateKey(st.ChatID, st.UserID), st, UserStateTTL)
}

// UserState returns the in-progress form, or ErrNotFound when the user
// has none (or it expired).
func (s *Store) UserState(ctx context.Context, chatID, userID int64) (*UserState, error) {
	var st UserState
	if err := s.get(ctx, userStateKey(chatID, userID), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ClearUserState drops the form, idempotently.
func (s *Store) ClearUserState(ctx context.Context, chatID, userID int64) error {
	return s.kv.Delete(ctx, userStateKey(chatID, userID))
}

// ─── customers ──────────────────────────────────────────────────────

// SaveCustomer stores the chat → customer mapping permanently.
func (s *Store) SaveCustomer(ctx context.Context, c *Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	return s.put(ctx, customerKey(c.ChatID), c, 0)
}

// CustomerByChat returns the customer mapped to a chat.
func (s *Store) CustomerByChat(ctx context.Context, chatID int64) (*Customer, error) {
	var c Customer
	if err := s.get(ctx, customerKey(chatID), &c); err != nil {
		return nil, err
	}
	return &c, nil
}
