package proxy

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AlwaysKaffa/ratioghost/log"
	"github.com/AlwaysKaffa/ratioghost/policy"
	"github.com/AlwaysKaffa/ratioghost/session"

	"github.com/stretchr/testify/require"
)

const testTrackerBody = "d8:completei10e10:incompletei3e8:intervali1800e5:peers0:e"

func percentEncode(data []byte) string {
	var builder strings.Builder
	for _, b := range data {
		builder.WriteString(fmt.Sprintf("%%%02X", b))
	}
	return builder.String()
}

func testHash(seed byte) []byte {
	hash := make([]byte, 20)
	for i := range hash {
		hash[i] = seed + byte(i)
	}
	return hash
}

type testUpstream struct {
	server  *httptest.Server
	access  sync.Mutex
	queries []string
	hits    atomic.Int64
	delay   time.Duration
}

func newTestUpstream(delay time.Duration) *testUpstream {
	upstream := &testUpstream{delay: delay}
	upstream.server = httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		upstream.hits.Add(1)
		upstream.access.Lock()
		upstream.queries = append(upstream.queries, request.URL.RawQuery)
		upstream.access.Unlock()
		if upstream.delay > 0 {
			time.Sleep(upstream.delay)
		}
		writer.Header().Set("Content-Type", "text/plain")
		writer.Header().Set("X-Tracker-Id", "test-tracker")
		writer.Write([]byte(testTrackerBody))
	}))
	return upstream
}

func (u *testUpstream) lastQuery() string {
	u.access.Lock()
	defer u.access.Unlock()
	if len(u.queries) == 0 {
		return ""
	}
	return u.queries[len(u.queries)-1]
}

func newTestProxy(t *testing.T, rewritePolicy policy.RewritePolicy, timeout time.Duration) (*Proxy, *session.Store, *http.Client) {
	t.Helper()
	logFactory := log.NewNOPFactory()
	manager := policy.NewManager(logFactory.Logger(), rewritePolicy)
	store := session.NewStore()
	testProxy := New(Options{
		Logger:          logFactory.Logger(),
		PolicyManager:   manager,
		SessionStore:    store,
		UpstreamTimeout: timeout,
		GracePeriod:     time.Second,
	})
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	testProxy.serve(listener)
	t.Cleanup(func() {
		testProxy.Close()
	})
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(&url.URL{Scheme: "http", Host: listener.Addr().String()}),
		},
	}
	return testProxy, store, client
}

func announceQuery(infoHash, peerID []byte, uploaded, downloaded, left uint64) string {
	return fmt.Sprintf("info_hash=%s&peer_id=%s&port=6881&uploaded=%d&downloaded=%d&left=%d&compact=1&numwant=50&key=AB12CD34",
		percentEncode(infoHash), percentEncode(peerID), uploaded, downloaded, left)
}

func TestRewriteZeroDownload(t *testing.T) {
	upstream := newTestUpstream(0)
	defer upstream.server.Close()
	_, store, client := newTestProxy(t, policy.RewritePolicy{ReportZeroDownload: true}, 0)

	infoHash := testHash(0x01)
	peerID := testHash(0x41)
	query := announceQuery(infoHash, peerID, 100, 500000, 200000)
	response, err := client.Get(upstream.server.URL + "/announce?" + query)
	require.NoError(t, err)
	defer response.Body.Close()
	require.Equal(t, http.StatusOK, response.StatusCode)

	expected := fmt.Sprintf("info_hash=%s&peer_id=%s&port=6881&uploaded=100&downloaded=0&left=200000&compact=1&numwant=50&key=AB12CD34",
		percentEncode(infoHash), percentEncode(peerID))
	require.Equal(t, expected, upstream.lastQuery())

	// The session keeps the real counters, not the rewritten ones.
	var key session.Key
	copy(key.InfoHash[:], infoHash)
	copy(key.PeerID[:], peerID)
	tracked, found := store.Find(key)
	require.True(t, found)
	require.Equal(t, uint64(500000), tracked.Downloaded)
	require.Equal(t, int64(10), tracked.Seeders)
	require.Equal(t, int64(1800), tracked.Interval)
}

func TestRewritePretendSeed(t *testing.T) {
	upstream := newTestUpstream(0)
	defer upstream.server.Close()
	_, _, client := newTestProxy(t, policy.RewritePolicy{PretendSeed: true}, 0)

	infoHash := testHash(0x02)
	peerID := testHash(0x42)
	response, err := client.Get(upstream.server.URL + "/announce?" + announceQuery(infoHash, peerID, 100, 500000, 200000))
	require.NoError(t, err)
	defer response.Body.Close()
	require.Equal(t, http.StatusOK, response.StatusCode)

	expected := fmt.Sprintf("info_hash=%s&peer_id=%s&port=6881&uploaded=100&downloaded=500000&left=0&compact=1&numwant=50&key=AB12CD34",
		percentEncode(infoHash), percentEncode(peerID))
	require.Equal(t, expected, upstream.lastQuery())
}

func TestRelayVerbatim(t *testing.T) {
	upstream := newTestUpstream(0)
	defer upstream.server.Close()
	_, _, client := newTestProxy(t, policy.RewritePolicy{}, 0)

	response, err := client.Get(upstream.server.URL + "/announce?" + announceQuery(testHash(0x03), testHash(0x43), 0, 0, 1000))
	require.NoError(t, err)
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	require.Equal(t, []byte(testTrackerBody), body)
	require.Equal(t, "test-tracker", response.Header.Get("X-Tracker-Id"))

	// Passthrough policy also leaves the outgoing query untouched.
	require.Equal(t, announceQuery(testHash(0x03), testHash(0x43), 0, 0, 1000), upstream.lastQuery())
}

func TestMalformedAnnounce(t *testing.T) {
	upstream := newTestUpstream(0)
	defer upstream.server.Close()
	_, store, client := newTestProxy(t, policy.RewritePolicy{}, 0)

	// No info_hash: rejected locally, the tracker is never contacted.
	response, err := client.Get(upstream.server.URL + "/announce?peer_id=" + percentEncode(testHash(0x44)) + "&port=6881")
	require.NoError(t, err)
	defer response.Body.Close()
	require.Equal(t, http.StatusBadRequest, response.StatusCode)
	require.Equal(t, int64(0), upstream.hits.Load())
	require.Equal(t, 0, store.Len())
}

func TestUpstreamTimeout(t *testing.T) {
	upstream := newTestUpstream(500 * time.Millisecond)
	defer upstream.server.Close()
	_, store, client := newTestProxy(t, policy.RewritePolicy{}, 50*time.Millisecond)

	infoHash := testHash(0x05)
	peerID := testHash(0x45)
	response, err := client.Get(upstream.server.URL + "/announce?" + announceQuery(infoHash, peerID, 1, 2, 3))
	require.NoError(t, err)
	defer response.Body.Close()
	require.Equal(t, http.StatusGatewayTimeout, response.StatusCode)

	// A failed forward must leave the session record untouched.
	var key session.Key
	copy(key.InfoHash[:], infoHash)
	copy(key.PeerID[:], peerID)
	_, found := store.Find(key)
	require.False(t, found)
}

func TestUpstreamUnreachable(t *testing.T) {
	_, _, client := newTestProxy(t, policy.RewritePolicy{}, time.Second)

	// A closed port: connection refused, mapped to 502.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := listener.Addr().String()
	listener.Close()

	response, err := client.Get("http://" + deadAddr + "/announce?" + announceQuery(testHash(0x06), testHash(0x46), 0, 0, 0))
	require.NoError(t, err)
	defer response.Body.Close()
	require.Equal(t, http.StatusBadGateway, response.StatusCode)
}

func TestConcurrentAnnounces(t *testing.T) {
	upstream := newTestUpstream(0)
	defer upstream.server.Close()
	_, store, client := newTestProxy(t, policy.RewritePolicy{ReportZeroDownload: true}, 0)

	var group sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		group.Add(1)
		go func(seed byte) {
			defer group.Done()
			infoHash := testHash(seed)
			peerID := testHash(seed + 0x40)
			response, err := client.Get(upstream.server.URL + "/announce?" +
				announceQuery(infoHash, peerID, uint64(seed), uint64(seed)*1000, 9000))
			require.NoError(t, err)
			defer response.Body.Close()
			require.Equal(t, http.StatusOK, response.StatusCode)
		}(byte(worker + 1))
	}
	group.Wait()

	require.Equal(t, int64(8), upstream.hits.Load())
	require.Equal(t, 8, store.Len())
	for worker := 0; worker < 8; worker++ {
		seed := byte(worker + 1)
		var key session.Key
		copy(key.InfoHash[:], testHash(seed))
		copy(key.PeerID[:], testHash(seed+0x40))
		tracked, found := store.Find(key)
		require.True(t, found)
		require.Equal(t, uint64(seed)*1000, tracked.Downloaded)
	}
}

func TestCloseRejectsNewConnections(t *testing.T) {
	upstream := newTestUpstream(0)
	defer upstream.server.Close()
	testProxy, _, client := newTestProxy(t, policy.RewritePolicy{}, 0)

	require.NoError(t, testProxy.Close())
	_, err := client.Get(upstream.server.URL + "/announce?" + announceQuery(testHash(0x07), testHash(0x47), 0, 0, 0))
	require.Error(t, err)
}
