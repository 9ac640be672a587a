package policy

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/AlwaysKaffa/ratioghost/announce"
	"github.com/AlwaysKaffa/ratioghost/log"
	"github.com/AlwaysKaffa/ratioghost/session"

	"github.com/stretchr/testify/require"
)

func percentEncode(data []byte) string {
	var builder strings.Builder
	for _, b := range data {
		builder.WriteString(fmt.Sprintf("%%%02X", b))
	}
	return builder.String()
}

func testRequest(t *testing.T, uploaded, downloaded, left uint64) *announce.Request {
	t.Helper()
	infoHash := make([]byte, 20)
	peerID := make([]byte, 20)
	for i := range infoHash {
		infoHash[i] = byte(i)
		peerID[i] = byte(0x60 + i)
	}
	query := fmt.Sprintf("info_hash=%s&peer_id=%s&port=6881&uploaded=%d&downloaded=%d&left=%d&compact=1",
		percentEncode(infoHash), percentEncode(peerID), uploaded, downloaded, left)
	parsed, err := url.Parse("http://tracker.example.com/announce?" + query)
	require.NoError(t, err)
	request, err := announce.Parse(parsed)
	require.NoError(t, err)
	return request
}

func TestRewriteReportZeroDownload(t *testing.T) {
	t.Parallel()
	request := testRequest(t, 100, 500000, 200000)
	outgoing := Rewrite(request, RewritePolicy{ReportZeroDownload: true}, session.Session{})
	require.Equal(t, uint64(0), outgoing.Downloaded)
	require.Equal(t, uint64(200000), outgoing.Left)
	require.Equal(t, uint64(100), outgoing.Uploaded)
	require.Equal(t, request.Event, outgoing.Event)
}

func TestRewritePretendSeed(t *testing.T) {
	t.Parallel()
	request := testRequest(t, 100, 500000, 200000)
	outgoing := Rewrite(request, RewritePolicy{PretendSeed: true}, session.Session{})
	require.Equal(t, uint64(500000), outgoing.Downloaded)
	require.Equal(t, uint64(0), outgoing.Left)
	require.Equal(t, uint64(100), outgoing.Uploaded)
	// No completed event is synthesized when left is forced to zero.
	require.Equal(t, announce.EventNone, outgoing.Event)
}

func TestRewritePassthrough(t *testing.T) {
	t.Parallel()
	request := testRequest(t, 123, 456, 789)
	outgoing := Rewrite(request, RewritePolicy{}, session.Session{})
	require.Equal(t, request.Uploaded, outgoing.Uploaded)
	require.Equal(t, request.Downloaded, outgoing.Downloaded)
	require.Equal(t, request.Left, outgoing.Left)
	require.Equal(t, request.Event, outgoing.Event)
	// Both flags off restores a byte-identical query.
	require.Equal(t, request.RawQuery(),
		request.RewriteQuery(outgoing.Uploaded, outgoing.Downloaded, outgoing.Left))
}

func TestRewriteNeverTouchesIdentity(t *testing.T) {
	t.Parallel()
	request := testRequest(t, 1, 2, 3)
	for _, policy := range []RewritePolicy{
		{},
		{ReportZeroDownload: true},
		{PretendSeed: true},
		{ReportZeroDownload: true, PretendSeed: true},
	} {
		outgoing := Rewrite(request, policy, session.Session{})
		require.Equal(t, request.Uploaded, outgoing.Uploaded)
		rewritten := request.RewriteQuery(outgoing.Uploaded, outgoing.Downloaded, outgoing.Left)
		require.Contains(t, rewritten, "info_hash="+percentEncode(request.InfoHash[:]))
		require.Contains(t, rewritten, "peer_id="+percentEncode(request.PeerID[:]))
		require.Contains(t, rewritten, "port=6881")
	}
}

func TestManagerSnapshot(t *testing.T) {
	t.Parallel()
	manager := NewManager(log.NewNOPFactory().Logger(), RewritePolicy{ListenPort: 8080})
	require.Equal(t, RewritePolicy{ListenPort: 8080}, manager.Snapshot())
	manager.Apply(RewritePolicy{ListenPort: 8080, PretendSeed: true})
	require.Equal(t, RewritePolicy{ListenPort: 8080, PretendSeed: true}, manager.Snapshot())
}

func TestManagerConcurrentApply(t *testing.T) {
	t.Parallel()
	manager := NewManager(log.NewNOPFactory().Logger(), RewritePolicy{ListenPort: 8080, ReportZeroDownload: true})
	var group sync.WaitGroup
	for i := 0; i < 64; i++ {
		group.Add(1)
		go func(flip bool) {
			defer group.Done()
			manager.Apply(RewritePolicy{
				ListenPort:         8080,
				ReportZeroDownload: flip,
				PretendSeed:        !flip,
			})
		}(i%2 == 0)
	}
	var reads sync.WaitGroup
	for i := 0; i < 64; i++ {
		reads.Add(1)
		go func() {
			defer reads.Done()
			snapshot := manager.Snapshot()
			// A snapshot is either one update or the other, never a blend.
			require.Equal(t, snapshot.ReportZeroDownload, !snapshot.PretendSeed)
		}()
	}
	group.Wait()
	reads.Wait()
}
