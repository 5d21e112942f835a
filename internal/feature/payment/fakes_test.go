package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"bingo_gateway/internal/chapa"
	"bingo_gateway/internal/domain"
	"bingo_gateway/internal/feature/identity"
	"bingo_gateway/internal/realtime"
)

type memTransactions struct {
	mu        sync.Mutex
	byRef     map[string]domain.Transaction
	claimErr  error
	findErr   error
	released  []string
	failed    []string
	pendingIn []domain.Transaction
}

func newMemTransactions() *memTransactions {
	return &memTransactions{byRef: make(map[string]domain.Transaction)}
}

func (m *memTransactions) CreatePending(_ context.Context, tx domain.Transaction) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx.Status = domain.TxPending
	m.byRef[tx.Reference] = tx
	m.pendingIn = append(m.pendingIn, tx)
	return tx, nil
}

func (m *memTransactions) FindByReference(_ context.Context, reference string) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return domain.Transaction{}, m.findErr
	}
	tx, ok := m.byRef[reference]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("find transaction: %w", domain.ErrNotFound)
	}
	return tx, nil
}

func (m *memTransactions) Claim(_ context.Context, tx domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return m.claimErr
	}
	if existing, ok := m.byRef[tx.Reference]; ok && existing.Status == domain.TxCompleted {
		return fmt.Errorf("claim %s: %w", tx.Reference, domain.ErrAlreadyProcessed)
	}
	tx.Status = domain.TxCompleted
	m.byRef[tx.Reference] = tx
	return nil
}

func (m *memTransactions) Release(_ context.Context, reference, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := m.byRef[reference]
	tx.Status = domain.TxFailed
	tx.FailureReason = reason
	m.byRef[reference] = tx
	m.released = append(m.released, reference)
	return nil
}

func (m *memTransactions) MarkFailed(_ context.Context, reference, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.byRef[reference]; ok && tx.Status == domain.TxPending {
		tx.Status = domain.TxFailed
		tx.FailureReason = reason
		m.byRef[reference] = tx
	}
	m.failed = append(m.failed, reference)
	return nil
}

func (m *memTransactions) status(reference string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byRef[reference].Status
}

type memWallets struct {
	mu        sync.Mutex
	balances  map[string]float64
	creditErr error
	credits   int
}

func newMemWallets() *memWallets {
	return &memWallets{balances: make(map[string]float64)}
}

func (m *memWallets) Get(_ context.Context, uid string) (domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.Wallet{UserID: uid, Balance: m.balances[uid], Currency: domain.Currency}, nil
}

func (m *memWallets) Credit(_ context.Context, uid string, amount float64) (domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creditErr != nil {
		return domain.Wallet{}, m.creditErr
	}
	m.credits++
	m.balances[uid] += amount
	return domain.Wallet{UserID: uid, Balance: m.balances[uid], Currency: domain.Currency}, nil
}

type memGames struct {
	mu    sync.Mutex
	rooms map[string]domain.GameRoom
}

func newMemGames(rooms ...domain.GameRoom) *memGames {
	m := &memGames{rooms: make(map[string]domain.GameRoom)}
	for _, room := range rooms {
		m.rooms[room.ID] = room
	}
	return m
}

func (m *memGames) Get(_ context.Context, id string) (domain.GameRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return domain.GameRoom{}, fmt.Errorf("find game room: %w", domain.ErrNotFound)
	}
	return room, nil
}

func (m *memGames) AddPlayer(_ context.Context, gameID string, player domain.Player) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[gameID]
	if !ok {
		return false, fmt.Errorf("find game room: %w", domain.ErrNotFound)
	}
	if room.HasPlayer(player.UserID) || room.Full() || !room.Open() {
		return false, nil
	}
	room.Players = append(room.Players, player)
	m.rooms[gameID] = room
	return true, nil
}

type stubLocker struct {
	busy     bool
	err      error
	keys     []string
	released int
}

func (l *stubLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return nil, false, l.err
	}
	if l.busy {
		return func() {}, false, nil
	}
	return func() { l.released++ }, true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]realtime.Event
}

func (p *recordingPublisher) Publish(uid string, event realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]realtime.Event)
	}
	p.events[uid] = append(p.events[uid], event)
}

type fakeChapa struct {
	configured   bool
	checkoutURL  string
	initErr      error
	verification chapa.Verification
	verifyErr    error
	initRequests []chapa.InitializeRequest
}

func (f *fakeChapa) Configured() bool { return f.configured }

func (f *fakeChapa) Initialize(_ context.Context, req chapa.InitializeRequest) (string, error) {
	f.initRequests = append(f.initRequests, req)
	return f.checkoutURL, f.initErr
}

func (f *fakeChapa) Verify(_ context.Context, txRef string) (chapa.Verification, error) {
	if f.verifyErr != nil {
		return chapa.Verification{}, f.verifyErr
	}
	v := f.verification
	if v.TxRef == "" {
		v.TxRef = txRef
	}
	return v, nil
}

type memUsers map[string]domain.User

func (m memUsers) Get(_ context.Context, uid string) (domain.User, error) {
	user, ok := m[uid]
	if !ok {
		return domain.User{}, fmt.Errorf("find user: %w", domain.ErrNotFound)
	}
	return user, nil
}

type stubResolver struct {
	resolution identity.Resolution
	err        error
	seen       []identity.Identity
}

func (r *stubResolver) Resolve(_ context.Context, id identity.Identity) (identity.Resolution, error) {
	r.seen = append(r.seen, id)
	return r.resolution, r.err
}

func nullLogger() (*logrus.Entry, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	return logrus.NewEntry(logger), hook
}

func findLogEvent(entries []*logrus.Entry, event string) *logrus.Entry {
	for _, entry := range entries {
		if entry.Data["event"] == event {
			return entry
		}
	}
	return nil
}
