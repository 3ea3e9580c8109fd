package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"hypertrack/internal/domain"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// fakeStore is an in-memory PositionStore.
type fakeStore struct {
	mu        sync.Mutex
	wallets   map[string]domain.TrackedWallet
	positions map[string]domain.FollowerPosition
	trades    []domain.TradeRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		wallets:   make(map[string]domain.TrackedWallet),
		positions: make(map[string]domain.FollowerPosition),
	}
}

func (f *fakeStore) addWallet(w domain.TrackedWallet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets[strings.ToLower(w.Address)] = w
}

func (f *fakeStore) GetWallet(address string) (*domain.TrackedWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[strings.ToLower(address)]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (f *fakeStore) AllWallets(enabledOnly bool) ([]domain.TrackedWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TrackedWallet
	for _, w := range f.wallets {
		if enabledOnly && !w.Enabled {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (f *fakeStore) GetPosition(symbol string) (*domain.FollowerPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[symbol]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeStore) AllPositions() ([]domain.FollowerPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.FollowerPosition
	for _, p := range f.positions {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) UpsertPosition(pos *domain.FollowerPosition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[pos.Symbol] = *pos
	return nil
}

func (f *fakeStore) DeletePosition(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.positions, symbol)
	return nil
}

func (f *fakeStore) AppendTrade(rec *domain.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, *rec)
	return nil
}

func (f *fakeStore) tradeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.trades)
}

// fakeExec is a scriptable ExecutionClient.
type fakeExec struct {
	mu       sync.Mutex
	equity   decimal.Decimal
	avail    decimal.Decimal
	mark     decimal.Decimal
	submits  int
	submitFn func(attempt int) (domain.Fill, error)
}

func newFakeExec(equity, available, mark string) *fakeExec {
	return &fakeExec{equity: d(equity), avail: d(available), mark: d(mark)}
}

func (f *fakeExec) SubmitMarketOrder(ctx context.Context, symbol string, side domain.Side, size decimal.Decimal, reduceOnly bool) (domain.Fill, error) {
	f.mu.Lock()
	f.submits++
	n := f.submits
	fn := f.submitFn
	f.mu.Unlock()
	if fn != nil {
		return fn(n)
	}
	return domain.Fill{FilledSize: size, AvgPrice: f.mark, OrderRef: "ord-1"}, nil
}

func (f *fakeExec) Balance(ctx context.Context) (domain.AccountState, error) {
	return domain.AccountState{Equity: f.equity, Available: f.avail}, nil
}

func (f *fakeExec) Positions(ctx context.Context) ([]domain.VenuePosition, error) {
	return nil, nil
}

func (f *fakeExec) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.mark, nil
}

func (f *fakeExec) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

// fakeNotifier records notifications.
type fakeNotifier struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (f *fakeNotifier) Notify(n domain.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
}

func (f *fakeNotifier) countKind(kind domain.NotificationKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := 0
	for _, n := range f.notes {
		if n.Kind == kind {
			c++
		}
	}
	return c
}

func testConfig() Config {
	return Config{
		MaxPositionUSD: d("5000"),
		MinOrderUSD:    d("10"),
	}
}

func openEvent(wallet, symbol string, ratio string) domain.FollowEvent {
	return domain.FollowEvent{
		Kind:        domain.EventOpen,
		Wallet:      wallet,
		Symbol:      symbol,
		Side:        domain.SideLong,
		OldSize:     decimal.Zero,
		NewSize:     d("1"),
		Price:       d("2000"),
		SourceRatio: d(ratio),
		ObservedAt:  time.Now(),
	}
}

func TestDecide_ProportionalSizing(t *testing.T) {
	store := newFakeStore()
	store.addWallet(domain.TrackedWallet{Address: "0xwhale", Enabled: true})
	exec := newFakeExec("10000", "10000", "2000")

	e := New(testConfig(), store, exec, &fakeNotifier{})

	dec := e.decide(context.Background(), openEvent("0xwhale", "ETH", "0.2"))

	if !dec.Accepted() {
		t.Fatalf("expected accept, got reject: %s", dec.Reason)
	}
	// 10000 equity * 0.2 ratio = 2000 notional, at mark 2000 = size 1.
	if !dec.Notional.Equal(d("2000")) {
		t.Errorf("expected notional 2000, got %s", dec.Notional)
	}
	if !dec.Size.Equal(d("1")) {
		t.Errorf("expected size 1, got %s", dec.Size)
	}
}

func TestDecide_WalletCapApplies(t *testing.T) {
	store := newFakeStore()
	store.addWallet(domain.TrackedWallet{
		Address:        "0xwhale",
		Enabled:        true,
		MaxPositionUSD: d("500"),
	})
	exec := newFakeExec("10000", "10000", "2000")

	e := New(testConfig(), store, exec, &fakeNotifier{})
	dec := e.decide(context.Background(), openEvent("0xwhale", "ETH", "0.2"))

	if !dec.Accepted() {
		t.Fatalf("expected accept, got reject: %s", dec.Reason)
	}
	if !dec.Notional.Equal(d("500")) {
		t.Errorf("expected capped notional 500, got %s", dec.Notional)
	}
}

func TestDecide_GlobalCapApplies(t *testing.T) {
	store := newFakeStore()
	store.addWallet(domain.TrackedWallet{Address: "0xwhale", Enabled: true})
	exec := newFakeExec("100000", "100000", "2000")

	e := New(testConfig(), store, exec, &fakeNotifier{})
	dec := e.decide(context.Background(), openEvent("0xwhale", "ETH", "0.5"))

	if !dec.Accepted() {
		t.Fatalf("expected accept, got reject: %s", dec.Reason)
	}
	// 100000 * 0.5 = 50000, capped to the global 5000 ceiling.
	if !dec.Notional.Equal(d("5000")) {
		t.Errorf("expected capped notional 5000, got %s", dec.Notional)
	}
}

func TestDecide_UnknownWallet(t *testing.T) {
	store := newFakeStore()
	exec := newFakeExec("10000", "10000", "2000")

	e := New(testConfig(), store, exec, &fakeNotifier{})
	dec := e.decide(context.Background(), openEvent("0xstranger", "ETH", "0.2"))

	if dec.Accepted() || dec.Reason != domain.ReasonNotTracked {
		t.Errorf("expected ReasonNotTracked, got %v/%s", dec.Verdict, dec.Reason)
	}
}

func TestDecide_DisabledWallet(t *testing.T) {
	store := newFakeStore()
	store.addWallet(domain.TrackedWallet{Address: "0xwhale", Enabled: false})
	exec := newFakeExec("10000", "10000", "2000")

	e := New(testConfig(), store, exec, &fakeNotifier{})
	dec := e.decide(context.Background(), openEvent("0xwhale", "ETH", "0.2"))

	if dec.Accepted() || dec.Reason != domain.ReasonWalletDisabled {
		t.Errorf("expected ReasonWalletDisabled, got %v/%s", dec.Verdict, dec.Reason)
	}
}

func TestDecide_SymbolLocked(t *testing.T) {
	store := newFakeStore()
	store.addWallet(domain.TrackedWallet{Address: "0xalice", Enabled: true})
	store.addWallet(domain.TrackedWallet{Address: "0xbob", Enabled: true})
	exec := newFakeExec("10000", "10000", "2000")

	e := New(testConfig(), store, exec, &fakeNotifier{})
	e.Locks().Acquire("ETH", "0xalice")

	t.Run("other wallet rejected", func(t *testing.T) {
		dec := e.decide(context.Background(), openEvent("0xbob", "ETH", "0.2"))
		if dec.Accepted() || dec.Reason != domain.ReasonSymbolLocked {
			t.Errorf("expected ReasonSymbolLocked, got %v/%s", dec.Verdict, dec.Reason)
		}
	})

	t.Run("owner passes lock check", func(t *testing.T) {
		ev := openEvent("0xalice", "ETH", "0.2")
		ev.Kind = domain.EventIncrease
		store.UpsertPosition(&domain.FollowerPosition{
			Symbol: "ETH", Side: domain.SideLong,
			Size: d("0.5"), EntryPrice: d("2000"), SourceWallet: "0xalice",
		})
		dec := e.decide(context.Background(), ev)
		if !dec.Accepted() {
			t.Errorf("expected accept for lock owner, got %s", dec.Reason)
		}
	})
}

func TestDecide_InsufficientBalance(t *testing.T) {
	store := newFakeStore()
	store.addWallet(domain.TrackedWallet{Address: "0xwhale", Enabled: true})
	exec := newFakeExec("10000", "100", "2000") // available below target

	e := New(testConfig(), store, exec, &fakeNotifier{})
	dec := e.decide(context.Background(), openEvent("0xwhale", "ETH", "0.2"))

	if dec.Accepted() || dec.Reason != domain.ReasonInsufficientBalance {
		t.Errorf("expected ReasonInsufficientBalance, got %v/%s", dec.Verdict, dec.Reason)
	}
}

func TestDecide_BelowMinSize(t *testing.T) {
	store := newFakeStore()
	store.addWallet(domain.TrackedWallet{Address: "0xwhale", Enabled: true})
	exec := newFakeExec("10000", "10000", "2000")

	e := New(testConfig(), store, exec, &fakeNotifier{})
	dec := e.decide(context.Background(), openEvent("0xwhale", "ETH", "0.0001"))

	if dec.Accepted() || dec.Reason != domain.ReasonBelowMinSize {
		t.Errorf("expected ReasonBelowMinSize, got %v/%s", dec.Verdict, dec.Reason)
	}
}

func TestDecide_IncreaseSubmitsDelta(t *testing.T) {
	store := newFakeStore()
	store.addWallet(domain.TrackedWallet{Address: "0xwhale", Enabled: true})
	store.UpsertPosition(&domain.FollowerPosition{
		Symbol: "ETH", Side: domain.SideLong,
		Size: d("0.5"), EntryPrice: d("2000"), SourceWallet: "0xwhale",
	})
	exec := newFakeExec("10000", "10000", "2000")

	e := New(testConfig(), store, exec, &fakeNotifier{})
	e.Locks().Acquire("ETH", "0xwhale")

	ev := openEvent("0xwhale", "ETH", "0.2")
	ev.Kind = domain.EventIncrease

	dec := e.decide(context.Background(), ev)
	if !dec.Accepted() {
		t.Fatalf("expected accept, got %s", dec.Reason)
	}
	// Target 2000, held 0.5*2000=1000, delta 1000.
	if !dec.Notional.Equal(d("1000")) {
		t.Errorf("expected delta notional 1000, got %s", dec.Notional)
	}
	if dec.Reduce {
		t.Error("increase delta must not be reduce-only")
	}
}

func TestDecide_DecreaseIsReduceOnly(t *testing.T) {
	store := newFakeStore()
	store.addWallet(domain.TrackedWallet{Address: "0xwhale", Enabled: true})
	store.UpsertPosition(&domain.FollowerPosition{
		Symbol: "ETH", Side: domain.SideLong,
		Size: d("1"), EntryPrice: d("2000"), SourceWallet: "0xwhale",
	})
	exec := newFakeExec("10000", "10000", "2000")

	e := New(testConfig(), store, exec, &fakeNotifier{})
	e.Locks().Acquire("ETH", "0xwhale")

	ev := openEvent("0xwhale", "ETH", "0.05") // target 500, held 2000
	ev.Kind = domain.EventDecrease

	dec := e.decide(context.Background(), ev)
	if !dec.Accepted() {
		t.Fatalf("expected accept, got %s", dec.Reason)
	}
	if !dec.Reduce {
		t.Error("expected reduce-only")
	}
	if dec.Side != domain.SideShort {
		t.Errorf("expected closing side SHORT, got %s", dec.Side)
	}
	if !dec.Notional.Equal(d("1500")) {
		t.Errorf("expected notional 1500, got %s", dec.Notional)
	}
}

func TestDecide_IncreaseWithoutPositionOpens(t *testing.T) {
	store := newFakeStore()
	store.addWallet(domain.TrackedWallet{Address: "0xwhale", Enabled: true})
	exec := newFakeExec("10000", "10000", "2000")

	e := New(testConfig(), store, exec, &fakeNotifier{})

	// The source increased a position we never entered (its open was
	// rejected at the time). Follow late with the full target.
	ev := openEvent("0xwhale", "ETH", "0.2")
	ev.Kind = domain.EventIncrease

	dec := e.decide(context.Background(), ev)
	if !dec.Accepted() {
		t.Fatalf("expected accept, got reject: %s", dec.Reason)
	}
	if dec.Kind != domain.EventOpen {
		t.Errorf("expected late entry reclassified as OPEN, got %s", dec.Kind)
	}
	if !dec.Notional.Equal(d("2000")) {
		t.Errorf("expected full target notional 2000, got %s", dec.Notional)
	}
	if dec.Reduce {
		t.Error("late entry must not be reduce-only")
	}
}

func TestDecide_DecreaseWithoutPosition(t *testing.T) {
	store := newFakeStore()
	store.addWallet(domain.TrackedWallet{Address: "0xwhale", Enabled: true})
	exec := newFakeExec("10000", "10000", "2000")

	e := New(testConfig(), store, exec, &fakeNotifier{})

	ev := openEvent("0xwhale", "ETH", "0.2")
	ev.Kind = domain.EventDecrease

	dec := e.decide(context.Background(), ev)
	if dec.Accepted() || dec.Reason != domain.ReasonNoPosition {
		t.Errorf("expected ReasonNoPosition, got %v/%s", dec.Verdict, dec.Reason)
	}
}

func TestDecide_CloseBypassesLockAndBalance(t *testing.T) {
	store := newFakeStore()
	store.addWallet(domain.TrackedWallet{Address: "0xwhale", Enabled: true})
	store.UpsertPosition(&domain.FollowerPosition{
		Symbol: "ETH", Side: domain.SideLong,
		Size: d("1"), EntryPrice: d("2000"), SourceWallet: "0xwhale",
	})
	// Zero balance; a close must still go through.
	exec := newFakeExec("0", "0", "2000")

	e := New(testConfig(), store, exec, &fakeNotifier{})
	e.Locks().Acquire("ETH", "0xother") // lock held by someone else

	ev := openEvent("0xwhale", "ETH", "0")
	ev.Kind = domain.EventClose

	dec := e.decide(context.Background(), ev)
	if !dec.Accepted() {
		t.Fatalf("expected accept, got %s", dec.Reason)
	}
	if !dec.Reduce || dec.Side != domain.SideShort {
		t.Errorf("expected reduce-only short close, got reduce=%v side=%s", dec.Reduce, dec.Side)
	}
	if !dec.Size.Equal(d("1")) {
		t.Errorf("expected full size 1, got %s", dec.Size)
	}
}

func TestDecide_CloseWithoutPositionIsNoop(t *testing.T) {
	store := newFakeStore()
	store.addWallet(domain.TrackedWallet{Address: "0xwhale", Enabled: true})
	exec := newFakeExec("10000", "10000", "2000")

	e := New(testConfig(), store, exec, &fakeNotifier{})

	ev := openEvent("0xwhale", "ETH", "0")
	ev.Kind = domain.EventClose

	dec := e.decide(context.Background(), ev)
	if dec.Accepted() || dec.Reason != domain.ReasonNoPosition {
		t.Errorf("expected ReasonNoPosition, got %v/%s", dec.Verdict, dec.Reason)
	}
}

func TestEngine_ConcurrentOpensSameSymbol(t *testing.T) {
	store := newFakeStore()
	store.addWallet(domain.TrackedWallet{Address: "0xalice", Enabled: true})
	store.addWallet(domain.TrackedWallet{Address: "0xbob", Enabled: true})
	exec := newFakeExec("10000", "10000", "2000")
	notifier := &fakeNotifier{}

	e := New(testConfig(), store, exec, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	// Same symbol, two wallets. The worker processes them in submit
	// order, so the first acquires the lock and the second conflicts.
	if err := e.Submit(openEvent("0xalice", "ETH", "0.1")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := e.Submit(openEvent("0xbob", "ETH", "0.1")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for notifier.countKind(domain.NotifyOrderFilled)+notifier.countKind(domain.NotifyDecisionRejected) < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for both events to settle")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done

	if owner, held := e.Locks().Owner("ETH"); !held || owner != "0xalice" {
		t.Errorf("expected lock held by 0xalice, got %q held=%v", owner, held)
	}
	if got := notifier.countKind(domain.NotifyOrderFilled); got != 1 {
		t.Errorf("expected 1 fill, got %d", got)
	}
	if got := notifier.countKind(domain.NotifyDecisionRejected); got != 1 {
		t.Errorf("expected 1 rejection, got %d", got)
	}

	pos, _ := store.GetPosition("ETH")
	if pos == nil || pos.SourceWallet != "0xalice" {
		t.Errorf("expected position owned by 0xalice, got %+v", pos)
	}
}

func TestEngine_SubmitAfterShutdown(t *testing.T) {
	store := newFakeStore()
	exec := newFakeExec("10000", "10000", "2000")
	e := New(testConfig(), store, exec, &fakeNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if err := e.Submit(openEvent("0xwhale", "ETH", "0.1")); err != domain.ErrShuttingDown {
		t.Errorf("expected ErrShuttingDown, got %v", err)
	}
}
