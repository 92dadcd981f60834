package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"trade_desk/internal/domain"
	"trade_desk/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Authenticator verifies a bearer token.
type Authenticator interface {
	Verify(ctx context.Context, token string) (domain.Principal, error)
}

// AccountGate runs fn under the account's ledger lock, the same lock a ban
// change takes before it terminates the account's sessions.
type AccountGate interface {
	Guard(ctx context.Context, accountID string, fn func(domain.Account, domain.Balances) error) error
}

// Trader executes market orders and answers through reply.
type Trader interface {
	Execute(ctx context.Context, req domain.TradeRequest, reply func(domain.Envelope)) (*domain.Transaction, error)
}

// ChatService posts and reads support threads.
type ChatService interface {
	PostFromUser(ctx context.Context, accountID, text string) (domain.ChatMessage, error)
	PostFromOperator(ctx context.Context, actor domain.Principal, username, text string) (domain.ChatMessage, error)
	History(ctx context.Context, accountID string) ([]domain.ChatMessage, error)
}

// PriceSource yields the latest price snapshot.
type PriceSource interface {
	Snapshot() domain.PriceSnapshot
}

// HandlerConfig holds the persistent-channel settings.
type HandlerConfig struct {
	SendBuffer   int
	AuthTimeout  time.Duration
	PingInterval time.Duration
}

// Handler serves the persistent channel. The first frame must be auth;
// anything else, or no frame within AuthTimeout, closes the connection.
type Handler struct {
	registry *Registry
	auth     Authenticator
	gate     AccountGate
	trader   Trader
	chat     ChatService
	prices   PriceSource
	metrics  *infra.Metrics
	cfg      HandlerConfig
	upgrader websocket.Upgrader
}

// NewHandler wires the protocol handler.
func NewHandler(registry *Registry, auth Authenticator, gate AccountGate, trader Trader, chat ChatService, prices PriceSource, metrics *infra.Metrics, cfg HandlerConfig) *Handler {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Handler{
		registry: registry,
		auth:     auth,
		gate:     gate,
		trader:   trader,
		chat:     chat,
		prices:   prices,
		metrics:  metrics,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// inbound is a client frame; Data is decoded per event.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type authData struct {
	Token string `json:"token"`
}

type tradeData struct {
	Pair       string          `json:"pair"`
	Type       string          `json:"type"`
	AmountBase decimal.Decimal `json:"amountBase"`
}

type chatData struct {
	Text string `json:"text"`
}

type replyData struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

// conn is the per-connection protocol state.
type conn struct {
	client    *Client
	state     State
	principal domain.Principal
	token     string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", slog.Any("error", err))
		return
	}
	ws.SetReadLimit(maxFrameSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &conn{client: NewClient(ws, h.cfg.SendBuffer), state: StateConnecting}
	go c.client.WritePump(h.cfg.PingInterval)
	if h.metrics != nil {
		h.metrics.IncrementConnections()
		defer h.metrics.DecrementConnections()
	}
	defer func() {
		c.state = StateClosed
		h.registry.Leave(c.client.ID())
		c.client.Close()
		<-c.client.Done()
	}()

	if !h.authenticate(ctx, ws, c) {
		return
	}

	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		var msg inbound
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Connection read failed", slog.String("conn", c.client.ID()), slog.Any("error", err))
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		h.dispatch(ctx, c, msg)
	}
}

// authenticate runs the Connecting state. It returns false when the
// connection moved straight to Closed.
func (h *Handler) authenticate(ctx context.Context, ws *websocket.Conn, c *conn) bool {
	ws.SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout))

	reject := func(reason string) bool {
		c.state = StateClosed
		c.client.CloseWith(domain.Envelope{Event: domain.EventAuthError, Data: domain.ErrorPayload{Reason: reason}})
		return false
	}

	var msg inbound
	if err := ws.ReadJSON(&msg); err != nil {
		return reject(domain.Reason(domain.ErrUnauthenticated))
	}
	if msg.Event != domain.EventAuth {
		return reject(domain.Reason(domain.ErrUnauthenticated))
	}
	var data authData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return reject(domain.Reason(domain.ErrUnauthenticated))
	}
	p, err := h.auth.Verify(ctx, data.Token)
	if err != nil {
		slog.Debug("Connection auth rejected", slog.String("conn", c.client.ID()), slog.Any("error", err))
		return reject(domain.Reason(err))
	}

	if err := h.admit(ctx, c, p); err != nil {
		slog.Debug("Connection admission rejected", slog.String("conn", c.client.ID()), slog.Any("error", err))
		return reject(domain.Reason(err))
	}
	c.principal = p
	c.token = data.Token
	c.state = StateAuthenticated

	if !p.IsOperator() {
		history, err := h.chat.History(ctx, p.ID)
		if err != nil {
			slog.Error("Failed to load chat history", slog.String("account", p.ID), slog.Any("error", err))
		} else {
			c.client.Send(domain.Envelope{Event: domain.EventChatHistory, Data: domain.ChatHistoryPayload{Messages: history}})
		}
	}
	c.client.Send(domain.Envelope{Event: domain.EventPrices, Data: domain.PricesPayload{Snapshot: h.prices.Snapshot()}})

	slog.Info("Session authenticated",
		slog.String("conn", c.client.ID()),
		slog.String("account", p.ID),
		slog.String("role", string(p.Role)))
	return true
}

// admit sends auth_ok and joins the rooms. For users this happens under the
// account lock after re-reading the ban flag, so a concurrent ban either sees
// the session in its room or the session sees the ban.
func (h *Handler) admit(ctx context.Context, c *conn, p domain.Principal) error {
	join := func() {
		c.client.Send(domain.Envelope{Event: domain.EventAuthOK, Data: domain.AuthOKPayload{User: p}})
		h.registry.Join(c.client, p)
	}
	if p.IsOperator() || h.gate == nil {
		join()
		return nil
	}
	return h.gate.Guard(ctx, p.ID, func(acct domain.Account, _ domain.Balances) error {
		if acct.Banned {
			return domain.ErrBanned
		}
		join()
		return nil
	})
}

func (h *Handler) dispatch(ctx context.Context, c *conn, msg inbound) {
	switch msg.Event {
	case domain.EventTrade:
		h.handleTrade(ctx, c, msg.Data)
	case domain.EventSendChat:
		h.handleChat(ctx, c, msg.Data)
	case domain.EventAdminReply:
		h.handleAdminReply(ctx, c, msg.Data)
	case domain.EventAuth:
		// Already authenticated; a second handshake is ignored.
	default:
		h.sendError(c, domain.ErrInvalidInput)
	}
}

func (h *Handler) handleTrade(ctx context.Context, c *conn, raw json.RawMessage) {
	fail := func(err error) {
		c.client.Send(domain.Envelope{Event: domain.EventTradeResult, Data: domain.TradeResultPayload{Reason: domain.Reason(err)}})
	}
	if c.principal.IsOperator() {
		fail(domain.ErrForbidden)
		return
	}
	var data tradeData
	if err := json.Unmarshal(raw, &data); err != nil {
		fail(domain.ErrInvalidInput)
		return
	}
	side, err := domain.ParseSide(data.Type)
	if err != nil {
		fail(err)
		return
	}
	req := domain.TradeRequest{AccountID: c.principal.ID, Pair: data.Pair, Side: side, Amount: data.AmountBase}
	// The trader replies on both outcomes.
	h.trader.Execute(ctx, req, func(ev domain.Envelope) { c.client.Send(ev) })
}

func (h *Handler) handleChat(ctx context.Context, c *conn, raw json.RawMessage) {
	if c.principal.IsOperator() {
		h.sendError(c, domain.ErrForbidden)
		return
	}
	var data chatData
	if err := json.Unmarshal(raw, &data); err != nil {
		h.sendError(c, domain.ErrInvalidInput)
		return
	}
	if _, err := h.chat.PostFromUser(ctx, c.principal.ID, data.Text); err != nil {
		h.sendError(c, err)
	}
}

func (h *Handler) handleAdminReply(ctx context.Context, c *conn, raw json.RawMessage) {
	// The role is re-verified from the token, not taken from the session.
	actor, err := h.auth.Verify(ctx, c.token)
	if err != nil {
		h.sendError(c, err)
		return
	}
	if !actor.IsOperator() {
		h.sendError(c, domain.ErrForbidden)
		return
	}
	var data replyData
	if err := json.Unmarshal(raw, &data); err != nil {
		h.sendError(c, domain.ErrInvalidInput)
		return
	}
	if _, err := h.chat.PostFromOperator(ctx, actor, data.Username, data.Text); err != nil {
		h.sendError(c, err)
	}
}

func (h *Handler) sendError(c *conn, err error) {
	if domain.Reason(err) == domain.ReasonInternal {
		if h.metrics != nil {
			h.metrics.RecordError()
		}
		slog.Error("Channel operation failed", slog.String("conn", c.client.ID()), slog.Any("error", err))
	}
	c.client.Send(domain.Envelope{Event: domain.EventError, Data: domain.ErrorPayload{Reason: domain.Reason(err)}})
}
