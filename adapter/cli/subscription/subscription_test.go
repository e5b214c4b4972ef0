package subscription

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/billcycle/adapter/cli"
	billingApp "github.com/felixgeelhaar/billcycle/internal/billing/application"
	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
	"github.com/felixgeelhaar/billcycle/internal/billing/infrastructure/backend"
	"github.com/felixgeelhaar/billcycle/internal/billing/infrastructure/persistence"
	"github.com/felixgeelhaar/billcycle/internal/identity/application/auth"
)

const (
	activeDetails = `{"subscriptionData": {
	  "status": "active",
	  "activePlan": {"id": "fiber-50", "name": "Fiber 50", "price": "999.00"},
	  "startDate": "2024-01-01T00:00:00Z",
	  "renewalDate": "2024-01-25T00:00:00Z",
	  "history": [
	    {"type": "bill", "id": "bill123", "planName": "Fiber 50", "amount": "999.00", "dueDate": "2024-01-10T00:00:00Z", "status": "Due"},
	    {"type": "subscribed", "date": "2023-12-20T00:00:00Z"}
	  ]}}`

	cancelledDetails = `{"subscriptionData": {
	  "status": "cancelled",
	  "activePlan": {"id": "fiber-50", "name": "Fiber 50", "price": "999.00"},
	  "startDate": "2024-01-01T00:00:00Z",
	  "renewalDate": "2024-01-25T00:00:00Z",
	  "cancellationEffectiveDate": "2024-01-25T00:00:00Z",
	  "history": [{"type": "cancelled", "date": "2024-01-12T00:00:00Z"}]}}`
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// fakeBackend serves the details endpoint from a mutable body and lets
// tests decide what each mutation does.
type fakeBackend struct {
	mu            sync.Mutex
	details       string
	detailsStatus int
	bodies        map[string]map[string]any
	onPost        map[string]func(b *fakeBackend)
}

func newFakeBackend(details string) *fakeBackend {
	return &fakeBackend{
		details:       details,
		detailsStatus: http.StatusOK,
		bodies:        make(map[string]map[string]any),
		onPost:        make(map[string]func(b *fakeBackend)),
	}
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/api")
	if r.Method == http.MethodGet && path == billingApp.PathDetails {
		w.WriteHeader(b.detailsStatus)
		_, _ = w.Write([]byte(b.details))
		return
	}

	data, _ := io.ReadAll(r.Body)
	body := map[string]any{}
	_ = json.Unmarshal(data, &body)
	b.bodies[path] = body
	if fn, ok := b.onPost[path]; ok {
		fn(b)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *fakeBackend) body(path string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bodies[path]
}

func newTestApp(t *testing.T, server *fakeBackend, cache domain.SnapshotCache) *cli.App {
	t.Helper()
	return newTestAppWithLimit(t, server, cache, billingApp.DefaultMaxProofBytes)
}

func newTestAppWithLimit(t *testing.T, server *fakeBackend, cache domain.SnapshotCache, maxProofBytes int64) *cli.App {
	t.Helper()
	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)

	clock := fixedClock{now: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)}
	client := backend.NewClient(backend.DefaultConfig(httpServer.URL+"/api"), nil)
	session := auth.NewSession(client, nil)
	require.NoError(t, session.SignIn("user-1", auth.NewStaticTokens("token")))

	if cache == nil {
		cache = persistence.NewMemorySnapshotCache()
	}
	reconciler := billingApp.NewReconciler(session, cache, nil).WithClock(clock)
	payments := billingApp.NewPaymentWorkflow(session, reconciler, nil).WithMaxProofBytes(maxProofBytes)
	gateway := billingApp.NewGateway(session, reconciler, payments, nil)
	ticker := billingApp.NewPhaseTicker(reconciler, clock, time.Minute, nil)

	app := cli.NewApp(session, reconciler, gateway, ticker)
	app.SetClock(clock)
	app.MaxProofBytes = maxProofBytes
	app.SignOut = session.SignOut
	cli.SetApp(app)
	t.Cleanup(func() { cli.SetApp(nil) })
	return app
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var output strings.Builder
	cmd.SetContext(context.Background())
	cmd.SetOut(&output)
	err := cmd.RunE(cmd, args)
	return output.String(), err
}

func TestStatusCmd_NoApp(t *testing.T) {
	cli.SetApp(nil)

	_, err := run(t, statusCmd)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "require a configured billing backend")
}

func TestStatusCmd_Active(t *testing.T) {
	newTestApp(t, newFakeBackend(activeDetails), nil)

	out, err := run(t, statusCmd)

	require.NoError(t, err)
	assert.Contains(t, out, "Subscription: Active")
	assert.Contains(t, out, "Plan: Fiber 50 (999.00)")
	assert.Contains(t, out, "Renews: January 25, 2024")
	assert.Contains(t, out, "bill123")
	assert.Contains(t, out, "[grace period]")
	assert.Contains(t, out, "You can: change plan, cancel the subscription")
	assert.NotContains(t, out, "Offline")
}

func TestStatusCmd_NoSubscription(t *testing.T) {
	newTestApp(t, newFakeBackend(`{"subscriptionData": {}}`), nil)

	out, err := run(t, statusCmd)

	require.NoError(t, err)
	assert.Contains(t, out, "Subscription: None")
	assert.Contains(t, out, "billcycle subscription subscribe")
}

func TestStatusCmd_OfflineUsesCache(t *testing.T) {
	server := newFakeBackend("")
	server.detailsStatus = http.StatusServiceUnavailable

	snap, err := domain.DecodeDetails([]byte(activeDetails))
	require.NoError(t, err)
	cache := persistence.NewMemorySnapshotCache()
	require.NoError(t, cache.Save(context.Background(), domain.CachedSnapshot{
		UserID:   "user-1",
		CachedAt: time.Date(2024, 1, 14, 8, 0, 0, 0, time.UTC),
		Snapshot: snap,
	}))
	newTestApp(t, server, cache)

	out, err := run(t, statusCmd)

	require.NoError(t, err)
	assert.Contains(t, out, "Offline. Showing subscription saved")
	assert.Contains(t, out, "Subscription: Active")
}

func TestCancelCmd_RefreshesAfterSuccess(t *testing.T) {
	server := newFakeBackend(activeDetails)
	server.onPost[billingApp.PathCancelSubscription] = func(b *fakeBackend) {
		b.details = cancelledDetails
	}
	app := newTestApp(t, server, nil)

	out, err := run(t, cancelCmd)

	require.NoError(t, err)
	assert.Contains(t, out, "Subscription cancelled.")
	assert.Equal(t, domain.StatusCancelled, app.Reconciler.Current().Status)

	out, err = run(t, statusCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "Service ends: January 25, 2024")
	assert.Contains(t, out, "reactivate the subscription")
}

func TestCancelCmd_RejectedByStatus(t *testing.T) {
	newTestApp(t, newFakeBackend(cancelledDetails), nil)

	_, err := run(t, cancelCmd)

	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, "You can't cancel the subscription while the subscription is cancelled.", cli.FormatError(err))
}

func TestChangePlanCmd_InvalidPrice(t *testing.T) {
	newTestApp(t, newFakeBackend(activeDetails), nil)
	planID, planName, planPrice = "fiber-200", "Fiber 200", "lots"
	t.Cleanup(func() { planID, planName, planPrice = "", "", "" })

	_, err := run(t, changePlanCmd)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid price")
}

func TestChangePlanCmd_SendsPlan(t *testing.T) {
	server := newFakeBackend(activeDetails)
	newTestApp(t, server, nil)
	planID, planName, planPrice = "fiber-200", "Fiber 200", "1499"
	t.Cleanup(func() { planID, planName, planPrice = "", "", "" })

	out, err := run(t, changePlanCmd)

	require.NoError(t, err)
	assert.Contains(t, out, "Requested a change to Fiber 200.")
	body := server.body(billingApp.PathChangePlan)
	assert.Equal(t, "fiber-200", body["planId"])
	assert.Equal(t, "Fiber 200", body["planName"])
}

func TestSubmitProofCmd_UploadsImage(t *testing.T) {
	server := newFakeBackend(activeDetails)
	newTestApp(t, server, nil)

	path := filepath.Join(t.TempDir(), "receipt.png")
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	require.NoError(t, os.WriteFile(path, png, 0600))

	out, err := run(t, submitProofCmd, "bill123", path)

	require.NoError(t, err)
	assert.Contains(t, out, "Proof of payment for bill bill123 submitted.")
	body := server.body(billingApp.PathSubmitProof)
	assert.Equal(t, "bill123", body["billId"])
	assert.NotEmpty(t, body["proofOfPaymentBase64"])
}

func TestSubmitProofCmd_MissingFile(t *testing.T) {
	newTestApp(t, newFakeBackend(activeDetails), nil)

	_, err := run(t, submitProofCmd, "bill123", filepath.Join(t.TempDir(), "missing.png"))

	require.Error(t, err)
	assert.True(t, domain.IsProcessing(err))
}

func TestSignOutCmd_ClearsCache(t *testing.T) {
	cache := persistence.NewMemorySnapshotCache()
	app := newTestApp(t, newFakeBackend(activeDetails), cache)
	_, err := run(t, statusCmd)
	require.NoError(t, err)

	out, err := run(t, signOutCmd)

	require.NoError(t, err)
	assert.Contains(t, out, "Signed out.")
	cached, err := cache.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cached)
	_, signedIn := app.Session.CurrentUserID()
	assert.False(t, signedIn)
}

func TestFileProofSource_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FileProofSource{Path: "unused"}.ReadBytes(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubmitProofCmd_OversizedFile(t *testing.T) {
	server := newFakeBackend(activeDetails)
	newTestAppWithLimit(t, server, nil, 16)

	path := filepath.Join(t.TempDir(), "receipt.png")
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 1024)...)
	require.NoError(t, os.WriteFile(path, png, 0600))

	_, err := run(t, submitProofCmd, "bill123", path)

	require.Error(t, err)
	assert.True(t, domain.IsProcessing(err))
	assert.Nil(t, server.body(billingApp.PathSubmitProof))
}
