package application

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
)

const (
	activeDetails = `{"subscriptionData": {
	  "status": "active",
	  "activePlan": {"id": "plan-a", "name": "Fiber 50", "price": "999.00"},
	  "startDate": "2024-01-01T00:00:00Z",
	  "renewalDate": "2024-01-25T00:00:00Z",
	  "history": [
	    {"type": "subscribed", "date": "2023-12-20T00:00:00Z"},
	    {"type": "bill", "id": "bill123", "planName": "Fiber 50", "amount": "999.00", "dueDate": "2024-01-10T00:00:00Z", "status": "Due"}
	  ]}}`

	pendingChangeDetails = `{"subscriptionData": {
	  "status": "pending_change",
	  "activePlan": {"id": "plan-a", "name": "Fiber 50", "price": "999.00"},
	  "scheduledPlanChange": {"id": "plan-b", "name": "Fiber 200", "price": "1499.00"},
	  "startDate": "2024-01-01T00:00:00Z",
	  "renewalDate": "2024-01-25T00:00:00Z",
	  "history": [
	    {"type": "plan_change_requested", "date": "2024-01-05T00:00:00Z", "details": "Fiber 200"}
	  ]}}`

	proofSubmittedDetails = `{"subscriptionData": {
	  "status": "active",
	  "activePlan": {"id": "plan-a", "name": "Fiber 50", "price": "999.00"},
	  "startDate": "2024-01-01T00:00:00Z",
	  "renewalDate": "2024-01-25T00:00:00Z",
	  "history": [
	    {"type": "bill", "id": "bill123", "planName": "Fiber 50", "amount": "999.00", "dueDate": "2024-01-10T00:00:00Z", "status": "Pending Verification"},
	    {"type": "submitted_payment", "date": "2024-01-08T00:00:00Z"}
	  ]}}`

	cancelledDetails = `{"subscriptionData": {
	  "status": "cancelled",
	  "activePlan": {"id": "plan-a", "name": "Fiber 50", "price": "999.00"},
	  "startDate": "2024-01-01T00:00:00Z",
	  "renewalDate": "2024-01-25T00:00:00Z",
	  "history": [{"type": "cancelled", "date": "2024-01-12T00:00:00Z"}]}}`

	emptyDetails = `{"subscriptionData": {}}`
)

// pngProof starts with the PNG signature so content sniffing sees an image.
var pngProof = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

type sessionCall struct {
	Method string
	Path   string
	Body   any
}

type handlerFunc func(body any) (json.RawMessage, error)

// fakeSession routes authorized requests to per-endpoint handlers.
type fakeSession struct {
	mu       sync.Mutex
	userID   string
	signedIn bool
	routes   map[string]handlerFunc
	calls    []sessionCall
}

func newFakeSession(userID string) *fakeSession {
	return &fakeSession{userID: userID, signedIn: userID != "", routes: make(map[string]handlerFunc)}
}

func (f *fakeSession) on(method, path string, h handlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = h
}

// serve makes GET /subscriptions/details answer with *details.
func (f *fakeSession) serve(details *string) {
	f.on(http.MethodGet, PathDetails, func(any) (json.RawMessage, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return json.RawMessage(*details), nil
	})
}

func (f *fakeSession) CurrentUserID() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userID, f.signedIn
}

func (f *fakeSession) AuthorizedRequest(_ context.Context, method, path string, body any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sessionCall{Method: method, Path: path, Body: body})
	h := f.routes[method+" "+path]
	f.mu.Unlock()

	if h == nil {
		return nil, domain.NewServerRejection(http.StatusNotFound, "Not found.")
	}
	return h(body)
}

func (f *fakeSession) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

func (f *fakeSession) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSession) lastBody(method, path string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method && f.calls[i].Path == path {
			return f.calls[i].Body
		}
	}
	return nil
}

// memoryCache is a single-slot cache with call counters.
type memoryCache struct {
	mu      sync.Mutex
	record  *domain.CachedSnapshot
	saves   int
	deletes int
}

func (c *memoryCache) Load(context.Context) (*domain.CachedSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return nil, nil
	}
	cp := *c.record
	cp.Snapshot = c.record.Snapshot.Clone()
	return &cp, nil
}

func (c *memoryCache) Save(_ context.Context, cached domain.CachedSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record = &cached
	c.saves++
	return nil
}

func (c *memoryCache) Delete(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record = nil
	c.deletes++
	return nil
}

func (c *memoryCache) stored() *domain.CachedSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func proofOf(data []byte) ProofOfPaymentSource {
	return ProofFunc(func(context.Context) ([]byte, error) { return data, nil })
}

func mustDecode(raw string) domain.Snapshot {
	snapshot, err := domain.DecodeDetails([]byte(raw))
	if err != nil {
		panic(err)
	}
	return snapshot
}
