//go:build integration

package mongo

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/ids"
	"github.com/xenking/kart-checkout/internal/storage"
)

var testStore *Store

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			Cmd:          []string{"--replSet", "rs0", "--bind_ip_all"},
			WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start mongo: %v", err)
	}
	defer func() { _ = ctr.Terminate(context.Background()) }()

	code, _, err := ctr.Exec(ctx, []string{
		"mongosh", "--quiet", "--eval",
		`rs.initiate({_id: "rs0", members: [{_id: 0, host: "localhost:27017"}]})`,
	})
	if err != nil || code != 0 {
		log.Fatalf("initiate replica set: code %d: %v", code, err)
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "27017/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	testStore, err = Connect(ctx, fmt.Sprintf("mongodb://%s:%s/?directConnection=true", host, port.Port()), "kart_test")
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer func() { _ = testStore.Close(context.Background()) }()

	// Index creation fails until the node is elected primary.
	for {
		err := testStore.Migrate(ctx)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			log.Fatalf("migrate: %v", err)
		case <-time.After(500 * time.Millisecond):
		}
	}

	return m.Run()
}

func seedProduct(t *testing.T, stock int) catalog.StockRef {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	p := &catalog.Product{
		ID:       ids.New(ids.Product),
		Name:     "Trail Runner",
		Category: "shoes",
		OwnerID:  ids.New(ids.User),
		Variants: []catalog.Variant{{
			ID:    ids.New(ids.Variant),
			Color: "red",
			Sizes: []catalog.Size{
				{ID: ids.New(ids.Size), Label: "M", Stock: stock, Price: decimal.RequireFromString("99.50")},
			},
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, testStore.Tx().Products().Save(context.Background(), p))
	return catalog.StockRef{ProductID: p.ID, VariantID: p.Variants[0].ID, SizeID: p.Variants[0].Sizes[0].ID}
}

func stockOf(t *testing.T, ref catalog.StockRef) int {
	t.Helper()
	p, err := testStore.Tx().Products().GetByID(context.Background(), ref.ProductID)
	require.NoError(t, err)
	return p.Variant(ref.VariantID).Size(ref.SizeID).Stock
}

func TestProducts_DebitAndCredit(t *testing.T) {
	ctx := context.Background()
	ref := seedProduct(t, 3)

	require.NoError(t, testStore.Tx().Products().DebitStock(ctx, ref, 2))
	assert.Equal(t, 1, stockOf(t, ref))

	err := testStore.Tx().Products().DebitStock(ctx, ref, 2)
	require.ErrorIs(t, err, catalog.ErrStockConflict)
	assert.Equal(t, 1, stockOf(t, ref))

	ok, err := testStore.Tx().Products().CreditStock(ctx, ref, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, stockOf(t, ref))

	missing := ref
	missing.SizeID = ids.New(ids.Size)
	ok, err = testStore.Tx().Products().CreditStock(ctx, missing, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProducts_ConcurrentDebitNeverOversells(t *testing.T) {
	ctx := context.Background()
	ref := seedProduct(t, 5)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := testStore.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
				return tx.Products().DebitStock(ctx, ref, 1)
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, 0, stockOf(t, ref))
}

func TestStore_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	ref := seedProduct(t, 3)

	boom := errors.New("boom")
	err := testStore.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Products().DebitStock(ctx, ref, 2); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, stockOf(t, ref))
}

func TestCoupons_UsageLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	limit := 1
	c := &coupon.Coupon{
		ID:            ids.New(ids.Coupon),
		Code:          "MONGO" + ids.Tail(ids.New(ids.Coupon), 5),
		Type:          coupon.TypeUniversal,
		DiscountType:  coupon.DiscountFixed,
		DiscountValue: decimal.NewFromInt(10),
		ValidFrom:     now,
		ValidUntil:    now.Add(time.Hour),
		Active:        true,
		UsageLimit:    &limit,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	coupons := testStore.Tx().Coupons()
	require.NoError(t, coupons.Create(ctx, c))
	require.ErrorIs(t, coupons.Create(ctx, c), coupon.ErrCodeExists)

	require.NoError(t, coupons.IncrementUsage(ctx, c.ID))
	require.ErrorIs(t, coupons.IncrementUsage(ctx, c.ID), coupon.ErrUsageLimitReached)

	require.NoError(t, coupons.DecrementUsage(ctx, c.ID))
	require.NoError(t, coupons.DecrementUsage(ctx, c.ID))
	got, err := coupons.GetByCode(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UsageCount)
}
