package confirm

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-secure-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/go-secure-checkout/internal/kafka"
	"github.com/ariefcatur/go-secure-checkout/internal/memstore"
	"github.com/ariefcatur/go-secure-checkout/internal/notify"
	"github.com/ariefcatur/go-secure-checkout/internal/orders"
	"github.com/ariefcatur/go-secure-checkout/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type env struct {
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	store *memstore.Store
	svc   *orders.Service
	order orders.Details
}

func setup(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	store := memstore.New()
	store.AddProduct("p-1", decimal.NewFromInt(100000), true, 10)
	svc := orders.NewService(store, zaptest.NewLogger(t), "checkout-api")
	d, err := svc.CreateOrder(context.Background(), orders.CreateOrderInput{
		UserID: "u-1",
		Items:  []orders.LineItem{{ProductID: "p-1", Quantity: 2}},
	})
	require.NoError(t, err)
	return &env{mr: mr, rdb: rdb, store: store, svc: svc, order: d}
}

func tokenFrom(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	tok := u.Query().Get("token")
	require.NotEmpty(t, tok)
	return tok
}

func (e *env) status(t *testing.T) orders.Status {
	t.Helper()
	d, err := e.store.GetOrder(context.Background(), e.order.ID)
	require.NoError(t, err)
	return d.Status
}

func TestIssueStoresHashedToken(t *testing.T) {
	e := setup(t)
	ts := NewTokenService(e.rdb, e.svc, "https://shop.example/", zaptest.NewLogger(t))
	ts.rand = bytes.NewReader(bytes.Repeat([]byte{7}, 32))

	link, err := ts.Issue(context.Background(), e.order.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "https://shop.example/confirm-order?token="))

	raw := tokenFrom(t, link)
	key := redisx.ConfirmTokenKey(hashToken(raw))
	got, err := e.mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, e.order.ID, got)
	assert.Equal(t, 24*time.Hour, e.mr.TTL(key))
	assert.False(t, e.mr.Exists(redisx.ConfirmTokenKey(raw)), "raw token must not be a key")
}

func TestRedeemConfirmsOnce(t *testing.T) {
	e := setup(t)
	ts := NewTokenService(e.rdb, e.svc, "https://shop.example", zaptest.NewLogger(t))
	ctx := context.Background()

	link, err := ts.Issue(ctx, e.order.ID)
	require.NoError(t, err)
	raw := tokenFrom(t, link)

	ok, err := ts.Redeem(ctx, raw)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, orders.StatusWaitingForDelivery, e.status(t))

	ok, err = ts.Redeem(ctx, raw)
	require.NoError(t, err)
	assert.False(t, ok, "token is single use")

	st, _ := e.store.Stock("p-1")
	assert.Equal(t, inventory.Stock{ProductID: "p-1", OnHand: 8, Reserved: 0}, st)
}

func TestRedeemConcurrentClicks(t *testing.T) {
	e := setup(t)
	ts := NewTokenService(e.rdb, e.svc, "https://shop.example", zaptest.NewLogger(t))
	ctx := context.Background()
	link, err := ts.Issue(ctx, e.order.ID)
	require.NoError(t, err)
	raw := tokenFrom(t, link)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ts.Redeem(ctx, raw)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, _ := e.store.Stock("p-1")
	assert.Equal(t, inventory.Stock{ProductID: "p-1", OnHand: 8, Reserved: 0}, st)
}

func TestRedeemExpiredOrUnknown(t *testing.T) {
	e := setup(t)
	ts := NewTokenService(e.rdb, e.svc, "https://shop.example", zaptest.NewLogger(t))
	ctx := context.Background()

	link, err := ts.Issue(ctx, e.order.ID)
	require.NoError(t, err)
	e.mr.FastForward(25 * time.Hour)

	ok, err := ts.Redeem(ctx, tokenFrom(t, link))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, orders.StatusPending, e.status(t))

	ok, err = ts.Redeem(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = ts.Redeem(ctx, "not-a-token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedeemAfterOtherConfirmationPath(t *testing.T) {
	e := setup(t)
	ts := NewTokenService(e.rdb, e.svc, "https://shop.example", zaptest.NewLogger(t))
	ctx := context.Background()

	link, err := ts.Issue(ctx, e.order.ID)
	require.NoError(t, err)
	_, err = e.svc.ConfirmOrder(ctx, e.order.ID)
	require.NoError(t, err)

	ok, err := ts.Redeem(ctx, tokenFrom(t, link))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, e.mr.Exists(redisx.ConfirmTokenKey(hashToken(tokenFrom(t, link)))))

	st, _ := e.store.Stock("p-1")
	assert.Equal(t, 8, st.OnHand, "no second consume")
}

func TestRedeemRedisDown(t *testing.T) {
	e := setup(t)
	ts := NewTokenService(e.rdb, e.svc, "https://shop.example", zaptest.NewLogger(t))
	e.mr.Close()

	_, err := ts.Redeem(context.Background(), "abc")
	assert.Error(t, err)
}

type countingOrders struct {
	OrderService
	calls int
}

func (c *countingOrders) IsConfirmed(ctx context.Context, id string) (bool, error) {
	c.calls++
	return c.OrderService.IsConfirmed(ctx, id)
}

func TestStatusCacheOnlyCachesPositive(t *testing.T) {
	e := setup(t)
	counter := &countingOrders{OrderService: e.svc}
	c := NewStatusCache(e.rdb, counter, zaptest.NewLogger(t))
	ctx := context.Background()

	ok, err := c.Confirmed(ctx, e.order.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, e.mr.Exists(redisx.OrderConfirmedKey(e.order.ID)))

	_, err = e.svc.ConfirmOrder(ctx, e.order.ID)
	require.NoError(t, err)

	ok, err = c.Confirmed(ctx, e.order.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, e.mr.Exists(redisx.OrderConfirmedKey(e.order.ID)))

	ok, err = c.Confirmed(ctx, e.order.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, counter.calls, "third answer served from cache")

	_, err = c.Confirmed(ctx, "missing")
	assert.True(t, orders.IsNotFound(err))
}

type recordingMailer struct {
	sent []notify.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg notify.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func confirmationEvent(t *testing.T, orderID string) kafkago.Message {
	t.Helper()
	msg, err := orders.NewOutboxMessage("checkout-api", orders.TopicConfirmationRequested,
		orders.EventConfirmationRequested, orderID,
		orders.ConfirmationRequestedPayload{OrderID: orderID, UserID: "u-1", GrandTotal: "200000"}, time.Now())
	require.NoError(t, err)
	return kafkax.ToKafka(msg)
}

func newNotifier(t *testing.T, e *env, mailer notify.Mailer) *Notifier {
	return &Notifier{
		Tokens:      NewTokenService(e.rdb, e.svc, "https://shop.example", zaptest.NewLogger(t)),
		Orders:      e.svc,
		Directory:   notify.StaticDirectory{"u-1": {UserID: "u-1", Email: "an@example.com", Name: "An"}},
		Mailer:      mailer,
		Redis:       e.rdb,
		ServiceName: "notifier",
		Log:         zaptest.NewLogger(t),
	}
}

func TestNotifierSendsOnceAndLinkConfirms(t *testing.T) {
	e := setup(t)
	mailer := &recordingMailer{}
	n := newNotifier(t, e, mailer)
	ctx := context.Background()
	ev := confirmationEvent(t, e.order.ID)

	require.NoError(t, n.HandleConfirmationRequested(ctx, ev))
	require.NoError(t, n.HandleConfirmationRequested(ctx, ev), "redelivery is deduplicated")
	require.Len(t, mailer.sent, 1)

	m := mailer.sent[0]
	assert.Equal(t, "an@example.com", m.To)
	assert.Contains(t, m.Subject, e.order.ID)
	assert.Contains(t, m.Body, "200000")

	i := strings.Index(m.Body, "https://shop.example/confirm-order?token=")
	require.GreaterOrEqual(t, i, 0)
	link := strings.TrimSpace(m.Body[i:])

	ok, err := n.Tokens.Redeem(ctx, tokenFrom(t, link))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, orders.StatusWaitingForDelivery, e.status(t))
}

func TestNotifierSkipsAndRetries(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	failing := &recordingMailer{err: errors.New("smtp down")}
	n := newNotifier(t, e, failing)
	ev := confirmationEvent(t, e.order.ID)
	require.Error(t, n.HandleConfirmationRequested(ctx, ev))

	// The failed attempt left no dedup mark, so the retry sends.
	ok := &recordingMailer{}
	n.Mailer = ok
	require.NoError(t, n.HandleConfirmationRequested(ctx, ev))
	assert.Len(t, ok.sent, 1)

	// Orders that already left PENDING get no mail.
	_, err := e.svc.ConfirmOrder(ctx, e.order.ID)
	require.NoError(t, err)
	fresh := &recordingMailer{}
	n.Mailer = fresh
	require.NoError(t, n.HandleConfirmationRequested(ctx, confirmationEvent(t, e.order.ID)))
	assert.Empty(t, fresh.sent)

	// Poison and foreign messages are acknowledged.
	assert.NoError(t, n.HandleConfirmationRequested(ctx, kafkago.Message{Value: []byte("not json")}))
	other := confirmationEvent(t, e.order.ID)
	other.Value = bytes.Replace(other.Value, []byte(orders.EventConfirmationRequested), []byte(orders.EventOrderConfirmed), 1)
	assert.NoError(t, n.HandleConfirmationRequested(ctx, other))
	assert.Empty(t, fresh.sent)
}

func TestNotifierUnknownRecipient(t *testing.T) {
	e := setup(t)
	mailer := &recordingMailer{}
	n := newNotifier(t, e, mailer)
	n.Directory = notify.StaticDirectory{}

	require.NoError(t, n.HandleConfirmationRequested(context.Background(), confirmationEvent(t, e.order.ID)))
	assert.Empty(t, mailer.sent)
}

func TestNotifierSkipsEventHeldByAnotherWorker(t *testing.T) {
	e := setup(t)
	mailer := &recordingMailer{}
	n := newNotifier(t, e, mailer)
	ev := confirmationEvent(t, e.order.ID)

	env, err := kafkax.DecodeEnvelope(ev)
	require.NoError(t, err)
	lock := redisx.InflightKey("notifier", env.EventID)
	require.NoError(t, e.mr.Set(lock, "1"))

	require.NoError(t, n.HandleConfirmationRequested(context.Background(), ev))
	assert.Empty(t, mailer.sent)

	e.mr.Del(lock)
	require.NoError(t, n.HandleConfirmationRequested(context.Background(), ev))
	assert.Len(t, mailer.sent, 1)
	assert.False(t, e.mr.Exists(lock), "lock released after handling")
}

// finishFirst marks the event handled right before the claim lands, as a
// worker that released the claim after mailing would.
type finishFirst struct {
	*redis.Client
	dedup string
}

func (c finishFirst) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	c.Client.Set(ctx, c.dedup, "1", redisx.TTLDedup)
	return c.Client.SetNX(ctx, key, value, ttl)
}

func TestNotifierRechecksDedupAfterClaim(t *testing.T) {
	e := setup(t)
	mailer := &recordingMailer{}
	n := newNotifier(t, e, mailer)
	ev := confirmationEvent(t, e.order.ID)

	env, err := kafkax.DecodeEnvelope(ev)
	require.NoError(t, err)
	n.Redis = finishFirst{Client: e.rdb, dedup: redisx.DedupKey("notifier", env.EventID)}

	require.NoError(t, n.HandleConfirmationRequested(context.Background(), ev))
	assert.Empty(t, mailer.sent)
	assert.False(t, e.mr.Exists(redisx.InflightKey("notifier", env.EventID)))
}
