package outbox_test

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-secure-checkout/internal/memstore"
	"github.com/ariefcatur/go-secure-checkout/internal/orders"
	"github.com/ariefcatur/go-secure-checkout/internal/outbox"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type topics []string

func (t *topics) Publish(_ context.Context, m outbox.Message) error {
	*t = append(*t, m.Topic)
	return nil
}

func TestRelayDrainsCommittedOrderEvents(t *testing.T) {
	store := memstore.New()
	store.AddProduct("p-1", decimal.NewFromInt(100000), true, 10)
	svc := orders.NewService(store, zaptest.NewLogger(t), "checkout-api")
	ctx := context.Background()

	d, err := svc.CreateOrder(ctx, orders.CreateOrderInput{
		UserID: "u-1",
		Items:  []orders.LineItem{{ProductID: "p-1", Quantity: 1}},
	})
	require.NoError(t, err)
	_, err = svc.ConfirmOrder(ctx, d.ID)
	require.NoError(t, err)

	// rolled back: nothing enqueued
	_, err = svc.CancelOrder(ctx, d.ID)
	require.Error(t, err)

	var sent topics
	r := outbox.NewRelay(store, &sent, zaptest.NewLogger(t), outbox.RelayConfig{})
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{orders.TopicConfirmationRequested, orders.TopicOrderConfirmed}, []string(sent))

	for _, m := range store.Messages() {
		assert.True(t, store.Published(m.ID), m.Topic)
	}
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
