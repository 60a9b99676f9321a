//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/ids"
	"github.com/xenking/kart-checkout/internal/storage"
)

const testSecret = "integration-secret"

var (
	baseURL    string
	httpClient = &http.Client{Timeout: 10 * time.Second}
	testCfg    *Config
	tokens     = handler.NewAuthenticator([]byte(testSecret), "", nil)
)

type nopTelemetry struct{}

func (nopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (nopTelemetry) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }
func (nopTelemetry) TextMapPropagator() propagation.TextMapPropagator {
	return propagation.TraceContext{}
}

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func freeAddr() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer func() { _ = l.Close() }()
	return l.Addr().String()
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "kart",
				"POSTGRES_PASSWORD": "kart",
				"POSTGRES_DB":       "kart",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() { _ = ctr.Terminate(context.Background()) }()

	host, err := ctr.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	addr := freeAddr()
	baseURL = "http://" + addr
	testCfg = &Config{
		Addr:        addr,
		Env:         "test",
		DatabaseURL: fmt.Sprintf("postgres://kart:kart@%s:%s/kart?sslmode=disable", host, port.Port()),
		Storage:     StorageConfig{Driver: DriverPostgres},
		Auth:        AuthConfig{JWTSecret: testSecret},
		Cache:       CacheConfig{Size: 64, TTL: time.Second},
		Notify:      NotifyConfig{Sinks: []string{"log"}, QueueSize: 64},
		RateLimit:   RateLimitConfig{Max: 1000, Window: time.Minute},
		ValidateRateLimit: ValidateRateLimitConfig{
			Max:    20,
			Window: time.Minute,
		},
		CORS:     CORSConfig{Origins: []string{"*"}},
		Graceful: GracefulConfig{ShutdownTimeout: 5 * time.Second},
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- Run(runCtx, zap.NewNop(), nopTelemetry{}, testCfg) }()

	if err := waitReady(ctx); err != nil {
		log.Fatalf("wait for api: %v", err)
	}

	result := m.Run()

	stop()
	if err := <-done; err != nil {
		log.Printf("api exited: %v", err)
		result = 1
	}
	return result
}

func waitReady(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			resp, err := httpClient.Get(baseURL + "/readyz")
			if err != nil {
				continue
			}
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// openStore connects a second store to the same database for seeding.
func openStore(t *testing.T) storage.Store {
	t.Helper()
	ctx := context.Background()
	store, err := OpenStore(ctx, zap.NewNop(), testCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })
	return store
}

func call(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func bearer(t *testing.T, u *user.User) string {
	t.Helper()
	tok, err := tokens.Issue(u.ID, u.Role, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestProbes(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			status, body := call(t, http.MethodGet, path, "", nil)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, "ok", body["status"])
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("RequestID", func(t *testing.T) {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, baseURL+"/livez", nil)
		require.NoError(t, err)
		req.Header.Set("X-Request-ID", "custom-request-id-12345")
		resp, err := httpClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, "custom-request-id-12345", resp.Header.Get("X-Request-ID"))
	})
	t.Run("Preflight", func(t *testing.T) {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodOptions, baseURL+"/api/products", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://example.com")
		req.Header.Set("Access-Control-Request-Method", "GET")
		resp, err := httpClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
	t.Run("RateLimitHeaders", func(t *testing.T) {
		resp, err := httpClient.Get(baseURL + "/api/products")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))
	})
}

func TestCheckout_WelcomeFlow(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	owner := &user.User{
		ID: ids.New(ids.User), Username: "owner", Email: "owner@" + ids.New(ids.User) + ".test",
		Role: auth.RoleOwner, EmailVerified: true, Status: user.StatusActive, CreatedAt: now,
	}
	admin := &user.User{
		ID: ids.New(ids.User), Username: "admin", Email: "admin@" + ids.New(ids.User) + ".test",
		Role: auth.RoleAdmin, EmailVerified: true, Status: user.StatusActive, CreatedAt: now,
	}
	product := &catalog.Product{
		ID:       ids.New(ids.Product),
		Name:     "Trail Runner",
		Category: "shoes",
		OwnerID:  owner.ID,
		Variants: []catalog.Variant{{
			ID:    ids.New(ids.Variant),
			Color: "red",
			Sizes: []catalog.Size{{
				ID:            ids.New(ids.Size),
				Label:         "M",
				Stock:         5,
				Price:         decimal.NewFromInt(300),
				OriginalPrice: decimal.NewFromInt(300),
			}},
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	variant := product.Variants[0]
	customer := &user.User{
		ID: ids.New(ids.User), Username: "alice", Email: "alice@" + ids.New(ids.User) + ".test",
		Role: auth.RoleUser, EmailVerified: true, Status: user.StatusActive, CreatedAt: now,
		Cart: []user.CartLine{{
			ID:        ids.New(ids.CartLine),
			ProductID: product.ID,
			VariantID: variant.ID,
			SizeID:    variant.Sizes[0].ID,
			Quantity:  2,
			UnitPrice: variant.Sizes[0].Price,
		}},
	}
	require.NoError(t, store.Tx().Users().Create(ctx, owner))
	require.NoError(t, store.Tx().Users().Create(ctx, admin))
	require.NoError(t, store.Tx().Products().Save(ctx, product))
	require.NoError(t, store.Tx().Users().Create(ctx, customer))

	status, body := call(t, http.MethodPost, "/api/internal/users/"+customer.ID+"/registered", bearer(t, admin), nil)
	require.Equal(t, http.StatusOK, status, body)
	welcome := body["welcome"].(map[string]any)
	code := welcome["code"].(string)

	status, body = call(t, http.MethodPost, "/api/orders", bearer(t, customer), map[string]any{
		"shippingAddress": map[string]string{
			"street": "1 Main St", "city": "Springfield", "state": "IL", "postalCode": "62701",
		},
		"paymentMethod": "card",
		"couponCode":    code,
	})
	require.Equal(t, http.StatusCreated, status, body)
	o := body["order"].(map[string]any)
	assert.InDelta(t, 600, o["subtotal"], 0.001)
	assert.InDelta(t, 60, o["discount"], 0.001)
	assert.InDelta(t, 540, o["totalAmount"], 0.001)

	p, err := store.Tx().Products().GetByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Variants[0].Sizes[0].Stock)

	status, body = call(t, http.MethodDelete, "/api/orders/"+o["id"].(string), bearer(t, customer), nil)
	require.Equal(t, http.StatusOK, status, body)

	p, err = store.Tx().Products().GetByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Variants[0].Sizes[0].Stock)
}
