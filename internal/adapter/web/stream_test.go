package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tg-filestream/internal/config"
	"tg-filestream/internal/domain"
	"tg-filestream/internal/pkg/refcodec"
	"tg-filestream/internal/usecase"
)

const (
	testChunk    = 64 << 10
	testFileSize = 1 << 20
)

// deterministicFile returns n bytes with B[i] = i mod 256.
func deterministicFile(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 256)
	}
	return b
}

type memFile struct {
	loc  *domain.FileLocator
	data []byte
}

// memSession serves chunks from its gateway's in-memory files.
type memSession struct {
	dc int
	g  *memGateway
}

func (s *memSession) FetchChunk(ctx context.Context, loc *domain.FileLocator, offset int64, limit int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.g.block != nil {
		select {
		case <-s.g.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.g.mu.Lock()
	f, ok := s.g.files[loc.ID]
	if ok {
		s.g.served++
	}
	s.g.mu.Unlock()
	if !ok {
		return nil, domain.ErrReferenceNotFound
	}

	if offset >= int64(len(f.data)) {
		return nil, nil
	}
	end := offset + int64(limit)
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}
	out := make([]byte, end-offset)
	copy(out, f.data[offset:end])
	return out, nil
}

func (s *memSession) DC() int { return s.dc }

func (s *memSession) Close(context.Context) error { return nil }

// memGateway is an in-memory MediaGateway holding one file per message id. An
// optional block channel holds chunk reads until closed, so tests can force
// request overlap.
type memGateway struct {
	id    string
	block chan struct{}

	mu     sync.Mutex
	files  map[int64]memFile
	served int
}

func newMemGateway(id string) *memGateway {
	return &memGateway{id: id, files: make(map[int64]memFile)}
}

func (g *memGateway) add(msgID int64, data []byte, mime, name string, date time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.files[msgID] = memFile{
		loc: &domain.FileLocator{
			DCID: 1, ID: msgID, AccessHash: msgID * 3,
			Size: int64(len(data)), MimeType: mime, Filename: name,
			MessageDate: date,
		},
		data: data,
	}
}

func (g *memGateway) ID() string           { return g.id }
func (g *memGateway) Ready() bool          { return true }
func (g *memGateway) Self() domain.BotInfo { return domain.BotInfo{ID: 99, Username: g.id} }

func (g *memGateway) ResolveLocator(ctx context.Context, msgID int64) (*domain.FileLocator, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.files[msgID]
	if !ok {
		return nil, domain.ErrReferenceNotFound
	}
	return f.loc, nil
}

func (g *memGateway) Session(ctx context.Context, dc int) (domain.UpstreamSession, error) {
	return &memSession{dc: dc, g: g}, nil
}

func (g *memGateway) Invalidate(dc int) {}

func (g *memGateway) servedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.served
}

type testEnv struct {
	svc *usecase.Service
	ts  *httptest.Server
}

func newTestEnv(t *testing.T, gws []domain.MediaGateway, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := &config.Config{
		BaseURL:                       "http://files.test",
		CORSAllowedOrigins:            []string{"https://player.test"},
		ChunkSize:                     testChunk,
		MaxConcurrentStreamsPerClient: 4,
		RateLimitRequests:             1000,
		RateLimitWindow:               time.Minute,
		LinkExpiry:                    24 * time.Hour,
		ShutdownTimeout:               time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}

	log := zap.NewNop()
	ledger := usecase.NewLedger(nil, cfg.MonthlyBandwidthCeiling, log)
	disp := usecase.NewDispatcher(gws, cfg.MaxConcurrentStreamsPerClient, 100, time.Minute)
	svc := usecase.NewService(
		disp,
		usecase.NewFetcher(cfg.ChunkSize, ledger, log),
		usecase.NewRegistry(time.Hour, time.Hour, log),
		ledger,
		usecase.NewGates(cfg.LinkExpiry, ledger),
		usecase.NewLinkBuilder(cfg.BaseURL, cfg.VideoFrontendURL, cfg.ShortenThresholdBytes),
		nil,
		log,
	)

	ts := httptest.NewServer(newRouter(cfg, log, svc))
	t.Cleanup(ts.Close)
	return &testEnv{svc: svc, ts: ts}
}

func standardEnv(t *testing.T) (*testEnv, []byte, string) {
	file := deterministicFile(testFileSize)
	gw := newMemGateway("primary")
	gw.add(100, file, "video/mp4", "movie.mp4", time.Now())
	env := newTestEnv(t, []domain.MediaGateway{gw}, nil)
	return env, file, refcodec.Encode(100)
}

func get(t *testing.T, url string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestFullDownload(t *testing.T) {
	env, file, ref := standardEnv(t)

	resp := get(t, env.ts.URL+"/dl/"+ref, nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, fmt.Sprint(testFileSize), resp.Header.Get("Content-Length"))
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="movie.mp4"`, resp.Header.Get("Content-Disposition"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, file, body)
}

func TestStreamOmitsDisposition(t *testing.T) {
	env, _, ref := standardEnv(t)

	resp := get(t, env.ts.URL+"/stream/"+ref, nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Content-Disposition"))
}

func TestRangeRequests(t *testing.T) {
	env, file, ref := standardEnv(t)

	cases := []struct {
		header       string
		from, until  int64
	}{
		{"bytes=0-1023", 0, 1023},
		{"bytes=1000000-", 1000000, testFileSize - 1},
		{"bytes=-100", testFileSize - 100, testFileSize - 1},
		{"bytes=0-0", 0, 0},
		{"bytes=-1", testFileSize - 1, testFileSize - 1},
	}
	for _, tc := range cases {
		resp := get(t, env.ts.URL+"/stream/"+ref, map[string]string{"Range": tc.header})

		assert.Equal(t, http.StatusPartialContent, resp.StatusCode, "header %q", tc.header)
		wantRange := fmt.Sprintf("bytes %d-%d/%d", tc.from, tc.until, testFileSize)
		assert.Equal(t, wantRange, resp.Header.Get("Content-Range"), "header %q", tc.header)
		assert.Equal(t, fmt.Sprint(tc.until-tc.from+1), resp.Header.Get("Content-Length"))

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, file[tc.from:tc.until+1], body, "header %q", tc.header)
	}
}

func TestRangeNotSatisfiable(t *testing.T) {
	env, _, ref := standardEnv(t)

	for _, header := range []string{
		fmt.Sprintf("bytes=%d-", testFileSize),
		fmt.Sprintf("bytes=%d-%d", testFileSize, testFileSize+24),
		"bytes=0-100,200-300",
		"bytes=broken",
	} {
		resp := get(t, env.ts.URL+"/stream/"+ref, map[string]string{"Range": header})
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode, "header %q", header)
		assert.Equal(t, fmt.Sprintf("bytes */%d", testFileSize), resp.Header.Get("Content-Range"))
		assert.Empty(t, body, "header %q", header)
		assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	}
}

func TestEmptyFile(t *testing.T) {
	gw := newMemGateway("primary")
	gw.add(5, nil, "application/octet-stream", "empty.bin", time.Now())
	env := newTestEnv(t, []domain.MediaGateway{gw}, nil)
	ref := refcodec.Encode(5)

	resp := get(t, env.ts.URL+"/dl/"+ref, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("Content-Length"))

	ranged := get(t, env.ts.URL+"/dl/"+ref, map[string]string{"Range": "bytes=0-0"})
	defer ranged.Body.Close()
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, ranged.StatusCode)
}

func TestInvalidReference(t *testing.T) {
	env, _, _ := standardEnv(t)

	for _, ref := range []string{"not-a-ref!", "AAAA", "zzzzzzzzzzzzzzzzzzzz"} {
		resp := get(t, env.ts.URL+"/dl/"+ref, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "ref %q", ref)
		assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	}
}

func TestUnknownReference(t *testing.T) {
	env, _, _ := standardEnv(t)

	resp := get(t, env.ts.URL+"/dl/"+refcodec.Encode(424242), nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExpiredLink(t *testing.T) {
	gw := newMemGateway("primary")
	gw.add(7, deterministicFile(1024), "video/mp4", "old.mp4", time.Now().Add(-48*time.Hour))
	env := newTestEnv(t, []domain.MediaGateway{gw}, nil)

	resp := get(t, env.ts.URL+"/dl/"+refcodec.Encode(7), nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestBandwidthCeiling(t *testing.T) {
	gw := newMemGateway("primary")
	gw.add(100, deterministicFile(1024), "video/mp4", "movie.mp4", time.Now())
	env := newTestEnv(t, []domain.MediaGateway{gw}, func(c *config.Config) {
		c.MonthlyBandwidthCeiling = 1000
	})
	env.svc.Ledger().Accrue(1000)

	resp := get(t, env.ts.URL+"/dl/"+refcodec.Encode(100), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "bandwidth")
}

func TestBandwidthAccruesAcrossRequests(t *testing.T) {
	gw := newMemGateway("primary")
	gw.add(100, deterministicFile(1000), "video/mp4", "movie.mp4", time.Now())
	env := newTestEnv(t, []domain.MediaGateway{gw}, func(c *config.Config) {
		c.MonthlyBandwidthCeiling = 1000
	})
	env.svc.Ledger().Accrue(999)

	// 999 of 1000 used: the gate still admits this request.
	first := get(t, env.ts.URL+"/dl/"+refcodec.Encode(100), map[string]string{"Range": "bytes=0-0"})
	io.Copy(io.Discard, first.Body)
	first.Body.Close()
	assert.Equal(t, http.StatusPartialContent, first.StatusCode)

	// The byte just served tips the ledger to the ceiling.
	second := get(t, env.ts.URL+"/dl/"+refcodec.Encode(100), nil)
	second.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, second.StatusCode)
}

func TestConcurrentRequestsSpreadAcrossIdentities(t *testing.T) {
	file := deterministicFile(testFileSize)
	barrier := make(chan struct{})
	gws := make([]domain.MediaGateway, 3)
	mems := make([]*memGateway, 3)
	for i := range gws {
		g := newMemGateway(fmt.Sprintf("bot%d", i))
		g.block = barrier
		g.add(100, file, "video/mp4", "movie.mp4", time.Now())
		gws[i], mems[i] = g, g
	}
	env := newTestEnv(t, gws, func(c *config.Config) {
		c.MaxConcurrentStreamsPerClient = 1
	})
	ref := refcodec.Encode(100)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := get(t, env.ts.URL+"/dl/"+ref, nil)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errs[i] = fmt.Errorf("status %d", resp.StatusCode)
				return
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				errs[i] = err
				return
			}
			if len(body) != testFileSize {
				errs[i] = fmt.Errorf("body length %d", len(body))
			}
		}(i)
	}

	// With a per-identity cap of 1, the three admissions must land on three
	// distinct identities before the barrier opens.
	require.Eventually(t, func() bool {
		return env.svc.Dispatcher().TotalWIP() == 3
	}, 5*time.Second, 5*time.Millisecond)
	close(barrier)

	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "request %d", i)
	}

	for i, g := range mems {
		assert.Greater(t, g.servedCount(), 0, "identity %d should have served work", i)
	}
	assert.Equal(t, int64(0), env.svc.Dispatcher().TotalWIP(),
		"all wip counters must return to zero")
}

func TestClientDisconnectCleansUp(t *testing.T) {
	env, _, ref := standardEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/stream/"+ref, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	buf := make([]byte, 32<<10)
	_, _ = resp.Body.Read(buf)
	cancel()
	resp.Body.Close()

	require.Eventually(t, func() bool {
		return env.svc.Registry().Count() == 0 && env.svc.Dispatcher().TotalWIP() == 0
	}, 5*time.Second, 10*time.Millisecond,
		"stream must leave the registry and release its identity after disconnect")
}

func TestCORSPreflight(t *testing.T) {
	env, _, ref := standardEnv(t)

	req, err := http.NewRequest(http.MethodOptions, env.ts.URL+"/stream/"+ref, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://player.test")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://player.test", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "Content-Range")
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "Accept-Ranges")

	req.Header.Set("Origin", "https://evil.test")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCORSEchoOnGet(t *testing.T) {
	env, _, ref := standardEnv(t)

	allowed := get(t, env.ts.URL+"/stream/"+ref, map[string]string{"Origin": "https://player.test"})
	io.Copy(io.Discard, allowed.Body)
	allowed.Body.Close()
	assert.Equal(t, "https://player.test", allowed.Header.Get("Access-Control-Allow-Origin"))

	denied := get(t, env.ts.URL+"/stream/"+ref, map[string]string{"Origin": "https://evil.test"})
	io.Copy(io.Discard, denied.Body)
	denied.Body.Close()
	assert.Empty(t, denied.Header.Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	gw := newMemGateway("primary")
	gw.add(100, deterministicFile(256), "video/mp4", "movie.mp4", time.Now())
	env := newTestEnv(t, []domain.MediaGateway{gw}, func(c *config.Config) {
		c.RateLimitRequests = 2
	})
	ref := refcodec.Encode(100)

	for i := 0; i < 2; i++ {
		resp := get(t, env.ts.URL+"/dl/"+ref, nil)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := get(t, env.ts.URL+"/dl/"+ref, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestInfoEndpoint(t *testing.T) {
	env, _, _ := standardEnv(t)

	resp := get(t, env.ts.URL+"/api/info", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info struct {
		Status  string `json:"status"`
		BotInfo struct {
			Username string `json:"username"`
			Mention  string `json:"mention"`
		} `json:"bot_info"`
		Features struct {
			LinkExpiryEnabled bool `json:"link_expiry_enabled"`
		} `json:"features"`
		Streaming struct {
			ActiveStreams          int  `json:"active_streams"`
			RangeRequestsSupported bool `json:"range_requests_supported"`
			SeekingSupported       bool `json:"seeking_supported"`
		} `json:"streaming"`
		ServerTimeUTC string `json:"server_time_utc"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))

	assert.Equal(t, "ok", info.Status)
	assert.Equal(t, "primary", info.BotInfo.Username)
	assert.Equal(t, "@primary", info.BotInfo.Mention)
	assert.True(t, info.Features.LinkExpiryEnabled)
	assert.True(t, info.Streaming.RangeRequestsSupported)
	assert.True(t, info.Streaming.SeekingSupported)
	assert.Equal(t, 0, info.Streaming.ActiveStreams)
	assert.NotEmpty(t, info.ServerTimeUTC)
}

func TestHealthEndpoint(t *testing.T) {
	env, _, _ := standardEnv(t)

	resp := get(t, env.ts.URL+"/health", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status          string `json:"status"`
		ReadyIdentities int    `json:"ready_identities"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.ReadyIdentities)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "movie.mp4", sanitizeFilename("movie.mp4"))
	assert.Equal(t, "a_b_c", sanitizeFilename(`a/b\c`))
	assert.Equal(t, "download", sanitizeFilename("..."))
	assert.Equal(t, "download", sanitizeFilename(""))
	assert.NotContains(t, sanitizeFilename("evil\x00name"), "\x00")
}
