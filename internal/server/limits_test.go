package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/go-wavernn/internal/mel"
	"github.com/example/go-wavernn/internal/server"
)

func framesBody(n int) []byte {
	rows := make([]string, n)
	for i := range rows {
		rows[i] = "[0.5,0.5]"
	}

	return []byte(`{"frames":[` + strings.Join(rows, ",") + `]}`)
}

// ---------------------------------------------------------------------------
// request validation and limits
// ---------------------------------------------------------------------------

func TestVocode_TooManyFramesRejectedAs413(t *testing.T) {
	h := server.NewHandler(&stubVocoder{}, tinyInfo(), server.WithMaxFrames(10))

	rec := post(t, h, "application/json", framesBody(11))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("want 413, got %d", rec.Code)
	}

	var errBody map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}

	if errBody["error"] == "" {
		t.Error("want non-empty error field")
	}
}

func TestVocode_FramesAtExactLimitAccepted(t *testing.T) {
	h := server.NewHandler(&stubVocoder{wav: []byte("RIFF")}, tinyInfo(), server.WithMaxFrames(5))

	rec := post(t, h, "application/json", framesBody(5))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200 for exactly-limit input, got %d", rec.Code)
	}
}

func TestVocode_RequestTimeoutCancelsInFlight(t *testing.T) {
	blocked := make(chan struct{})
	defer close(blocked)

	h := server.NewHandler(
		&blockingVocoder{blocked: blocked},
		tinyInfo(),
		server.WithRequestTimeout(20*time.Millisecond),
	)

	rec := post(t, h, "application/json", framesBody(2))
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("want 504 on timeout, got %d", rec.Code)
	}

	var errBody map[string]string

	_ = json.NewDecoder(rec.Body).Decode(&errBody)
	if errBody["error"] == "" {
		t.Error("want non-empty error field")
	}
}

// ---------------------------------------------------------------------------
// worker pool
// ---------------------------------------------------------------------------

func TestVocode_ConcurrencyThrottling(t *testing.T) {
	const workers = 2
	const totalRequests = 5

	var (
		mu         sync.Mutex
		peak       int
		current    int32
		releaseAll = make(chan struct{})
	)

	voc := &countingVocoder{
		onEnter: func() {
			n := int(atomic.AddInt32(&current, 1))

			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			<-releaseAll
		},
		onExit: func() { atomic.AddInt32(&current, -1) },
		wav:    []byte("RIFF"),
	}

	h := server.NewHandler(voc, tinyInfo(), server.WithWorkers(workers))

	var wg sync.WaitGroup

	codes := make([]int, totalRequests)
	for i := range totalRequests {
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/vocode", bytes.NewReader(framesBody(1)))
			h.ServeHTTP(rec, req)
			codes[idx] = rec.Code
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(releaseAll)
	wg.Wait()

	mu.Lock()
	got := peak
	mu.Unlock()

	if got > workers {
		t.Errorf("peak concurrency %d exceeded worker limit %d", got, workers)
	}

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("request %d: want 200, got %d", i, code)
		}
	}
}

func TestVocode_WaiterCancelledWhileThrottled(t *testing.T) {
	release := make(chan struct{})
	h := server.NewHandler(&blockingVocoder{blocked: release}, tinyInfo(), server.WithWorkers(1))

	go func() {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/vocode", bytes.NewReader(framesBody(1)))
		h.ServeHTTP(rec, req)
	}()

	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/vocode", bytes.NewReader(framesBody(1))).WithContext(ctx)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503 when waiter context is cancelled, got %d", rec.Code)
	}

	close(release)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// blockingVocoder blocks until blocked is closed or ctx ends.
type blockingVocoder struct {
	blocked chan struct{}
	wav     []byte
}

func (b *blockingVocoder) VocodeWAV(ctx context.Context, _ mel.Frames) ([]byte, error) {
	select {
	case <-b.blocked:
		return b.wav, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// countingVocoder calls onEnter/onExit around the call.
type countingVocoder struct {
	onEnter func()
	onExit  func()
	wav     []byte
}

func (c *countingVocoder) VocodeWAV(_ context.Context, _ mel.Frames) ([]byte, error) {
	c.onEnter()
	defer c.onExit()

	return c.wav, nil
}
