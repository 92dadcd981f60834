package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"trade_desk/internal/auth"
	"trade_desk/internal/domain"
	"trade_desk/internal/infra"
	"trade_desk/internal/infra/storage"
	"trade_desk/internal/ledger"
	"trade_desk/internal/service"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

type stack struct {
	server    *httptest.Server
	verifier  *auth.Verifier
	ledger    *ledger.Store
	moderator *service.Moderator
	registry  *Registry
}

func setupStack(t *testing.T) *stack {
	t.Helper()
	return setupStackWith(t, nil)
}

// setupStackWith lets a test decorate the authenticator the handler uses.
func setupStackWith(t *testing.T, wrap func(Authenticator) Authenticator) *stack {
	t.Helper()
	repo := storage.NewMemory()
	verifier, err := auth.NewVerifier(repo, auth.Options{
		Secret:           "test-secret",
		TTL:              time.Hour,
		OperatorUsername: "admin",
		OperatorSecret:   "adminpass",
		Hasher:           auth.BcryptHasher{Cost: bcrypt.MinCost},
	})
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	metrics := &infra.Metrics{}
	registry := NewRegistry(metrics)
	store := ledger.NewStore(repo, repo)
	prices := service.NewPriceService(registry, metrics)
	prices.Update(domain.PriceTick{Prices: domain.PriceSnapshot{"BTC/EUR": decimal.NewFromInt(50000)}})

	engine := service.NewTradeEngine(store, prices, registry, metrics)
	chat := service.NewChatRelay(store, repo, registry)
	var authn Authenticator = verifier
	if wrap != nil {
		authn = wrap(verifier)
	}
	h := NewHandler(registry, authn, store, engine, chat, prices, metrics, HandlerConfig{
		SendBuffer:   16,
		AuthTimeout:  time.Second,
		PingInterval: time.Minute,
	})

	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	return &stack{
		server:    server,
		verifier:  verifier,
		ledger:    store,
		moderator: service.NewModerator(store, registry),
		registry:  registry,
	}
}

func (s *stack) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return f
}

func expect(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	f := read(t, conn)
	if f.Event != event {
		t.Fatalf("Expected %s, got %s (%s)", event, f.Event, f.Data)
	}
	return f
}

func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err == nil {
		t.Fatalf("Expected connection to be closed, got %s", f.Event)
	}
}

// connect authenticates and consumes the connect-time frames.
func (s *stack) connect(t *testing.T, token string, operator bool) *websocket.Conn {
	t.Helper()
	conn := s.dial(t)
	send(t, conn, domain.EventAuth, map[string]string{"token": token})
	expect(t, conn, domain.EventAuthOK)
	if !operator {
		expect(t, conn, domain.EventChatHistory)
	}
	expect(t, conn, domain.EventPrices)
	return conn
}

func TestHandler_FirstFrameMustAuthenticate(t *testing.T) {
	s := setupStack(t)

	t.Run("other event first", func(t *testing.T) {
		conn := s.dial(t)
		send(t, conn, domain.EventTrade, map[string]string{"pair": "BTC/EUR"})
		f := expect(t, conn, domain.EventAuthError)
		if !strings.Contains(string(f.Data), "unauthenticated") {
			t.Errorf("Unexpected reason %s", f.Data)
		}
		expectClosed(t, conn)
	})

	t.Run("bad token", func(t *testing.T) {
		conn := s.dial(t)
		send(t, conn, domain.EventAuth, map[string]string{"token": "forged"})
		expect(t, conn, domain.EventAuthError)
		expectClosed(t, conn)
	})

	t.Run("silence", func(t *testing.T) {
		conn := s.dial(t)
		expect(t, conn, domain.EventAuthError)
		expectClosed(t, conn)
	})

	if s.registry.Count() != 0 {
		t.Errorf("Unauthenticated connections must not join rooms, got %d", s.registry.Count())
	}
}

func TestHandler_TradeAndChat(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()

	alice, userToken, err := s.verifier.Register(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	s.ledger.Mutate(ctx, alice.ID, ledger.Deposit("EUR", decimal.NewFromInt(1000)), nil)
	_, opToken, err := s.verifier.Login(ctx, "admin", "adminpass")
	if err != nil {
		t.Fatalf("operator login failed: %v", err)
	}

	opConn := s.connect(t, opToken, true)
	userConn := s.connect(t, userToken, false)

	send(t, userConn, domain.EventTrade, map[string]any{"pair": "BTC/EUR", "type": "buy", "amountBase": "0.01"})
	res := expect(t, userConn, domain.EventTradeResult)
	var result domain.TradeResultPayload
	json.Unmarshal(res.Data, &result)
	if !result.OK || result.Transaction == nil || !result.Transaction.Price.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("Unexpected trade result %s", res.Data)
	}
	expect(t, userConn, domain.EventBalanceUpdated)
	update := expect(t, opConn, domain.EventBalanceUpdated)
	if !strings.Contains(string(update.Data), "alice") {
		t.Errorf("balance_updated should name alice, got %s", update.Data)
	}

	send(t, userConn, domain.EventTrade, map[string]any{"pair": "BTC/EUR", "type": "buy", "amountBase": 1})
	res = expect(t, userConn, domain.EventTradeResult)
	json.Unmarshal(res.Data, &result)
	if result.OK || result.Reason != "insufficient_funds" {
		t.Errorf("Expected insufficient_funds, got %s", res.Data)
	}

	send(t, userConn, domain.EventSendChat, map[string]string{"text": "hi"})
	var msg domain.ChatMessage
	json.Unmarshal(expect(t, opConn, domain.EventChatMessage).Data, &msg)
	if msg.From != "alice" || msg.Username != "alice" || msg.Text != "hi" {
		t.Errorf("Unexpected chat at operator %+v", msg)
	}
	expect(t, userConn, domain.EventChatMessage)

	send(t, opConn, domain.EventAdminReply, map[string]string{"username": "alice", "text": "hello"})
	json.Unmarshal(expect(t, userConn, domain.EventChatMessage).Data, &msg)
	if msg.From != domain.FromOperator || msg.Text != "hello" {
		t.Errorf("Unexpected reply at user %+v", msg)
	}

	send(t, userConn, domain.EventAdminReply, map[string]string{"username": "alice", "text": "sneaky"})
	f := expect(t, userConn, domain.EventError)
	if !strings.Contains(string(f.Data), "forbidden") {
		t.Errorf("Expected forbidden, got %s", f.Data)
	}

	send(t, userConn, "dance", nil)
	expect(t, userConn, domain.EventError)
}

func TestHandler_BanPreemptsSession(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()

	_, token, _ := s.verifier.Register(ctx, "mallory", "pw")
	phone := s.connect(t, token, false)
	laptop := s.connect(t, token, false)

	operator := domain.Principal{ID: domain.OperatorID, Username: "admin", Role: domain.RoleOperator}
	if err := s.moderator.SetBanned(ctx, operator, "mallory", true); err != nil {
		t.Fatalf("SetBanned failed: %v", err)
	}

	for _, conn := range []*websocket.Conn{phone, laptop} {
		f := expect(t, conn, domain.EventBanned)
		var p domain.BannedPayload
		json.Unmarshal(f.Data, &p)
		if !p.Banned {
			t.Errorf("Expected banned=true, got %s", f.Data)
		}
		expectClosed(t, conn)
	}

	// The old token no longer opens a session
	retry := s.dial(t)
	send(t, retry, domain.EventAuth, map[string]string{"token": token})
	f := expect(t, retry, domain.EventAuthError)
	if !strings.Contains(string(f.Data), "banned") {
		t.Errorf("Expected banned reason, got %s", f.Data)
	}

	// Unban restores access with the same token
	if err := s.moderator.SetBanned(ctx, operator, "mallory", false); err != nil {
		t.Fatalf("unban failed: %v", err)
	}
	s.connect(t, token, false)
}

// banAfterVerify bans the account once, right after its token was accepted
// and before the session has joined its room.
type banAfterVerify struct {
	Authenticator
	once sync.Once
	ban  func()
}

func (a *banAfterVerify) Verify(ctx context.Context, token string) (domain.Principal, error) {
	p, err := a.Authenticator.Verify(ctx, token)
	if err == nil && !p.IsOperator() {
		a.once.Do(a.ban)
	}
	return p, err
}

func TestHandler_BanDuringHandshakeClosesSession(t *testing.T) {
	gate := &banAfterVerify{}
	s := setupStackWith(t, func(inner Authenticator) Authenticator {
		gate.Authenticator = inner
		return gate
	})
	ctx := context.Background()
	operator := domain.Principal{ID: domain.OperatorID, Username: "admin", Role: domain.RoleOperator}
	gate.ban = func() {
		if err := s.moderator.SetBanned(ctx, operator, "trudy", true); err != nil {
			t.Errorf("SetBanned failed: %v", err)
		}
	}

	_, token, err := s.verifier.Register(ctx, "trudy", "pw")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	conn := s.dial(t)
	send(t, conn, domain.EventAuth, map[string]string{"token": token})
	f := expect(t, conn, domain.EventAuthError)
	if !strings.Contains(string(f.Data), "banned") {
		t.Errorf("Expected banned reason, got %s", f.Data)
	}
	expectClosed(t, conn)

	if s.registry.Count() != 0 {
		t.Errorf("A banned account must not keep a registered session, got %d", s.registry.Count())
	}
}
