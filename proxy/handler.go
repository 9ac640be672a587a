package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/AlwaysKaffa/ratioghost/announce"
	"github.com/AlwaysKaffa/ratioghost/log"
	"github.com/AlwaysKaffa/ratioghost/policy"
	"github.com/AlwaysKaffa/ratioghost/session"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/jackpal/bencode-go"
)

// trackerResponse is the subset of a bencoded announce response harvested
// for swarm statistics. The bytes relayed to the client are never touched;
// decoding happens on a copy.
type trackerResponse struct {
	FailureReason string `bencode:"failure reason"`
	Interval      int64  `bencode:"interval"`
	Complete      int64  `bencode:"complete"`
	Incomplete    int64  `bencode:"incomplete"`
}

func (p *Proxy) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	ctx := log.ContextWithNewID(request.Context())
	if request.Method != http.MethodGet {
		p.logger.WarnContext(ctx, "rejected ", request.Method, " request from ", request.RemoteAddr)
		http.Error(writer, "announce proxy accepts GET only", http.StatusBadRequest)
		return
	}
	announceRequest, err := announce.Parse(request.URL)
	if err != nil {
		p.logger.WarnContext(ctx, E.Cause(err, "reject announce from ", request.RemoteAddr))
		http.Error(writer, "malformed announce request", http.StatusBadRequest)
		return
	}
	key := session.Key{InfoHash: announceRequest.InfoHash, PeerID: announceRequest.PeerID}
	prior, _ := p.sessions.Find(key)
	snapshot := p.policy.Snapshot()
	outgoing := policy.Rewrite(announceRequest, snapshot, prior)
	rawQuery := announceRequest.RewriteQuery(outgoing.Uploaded, outgoing.Downloaded, outgoing.Left)
	if rawQuery != announceRequest.RawQuery() {
		p.logger.DebugContext(ctx, "rewrote announce for ", announceRequest.URL.Host,
			": downloaded ", announceRequest.Downloaded, " -> ", outgoing.Downloaded,
			", left ", announceRequest.Left, " -> ", outgoing.Left)
	}
	response, err := p.forwarder.Forward(ctx, request, announceRequest.URL, rawQuery)
	if err != nil {
		p.fail(ctx, writer, err)
		return
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		p.fail(ctx, writer, classify(ctx, err))
		return
	}
	// The session keeps the real counters, never the rewritten ones, and is
	// only touched once the tracker has actually answered.
	p.sessions.Update(key, announceRequest.Uploaded, announceRequest.Downloaded, announceRequest.Left, announceRequest.Event)
	p.harvest(ctx, key, body)
	p.relay(ctx, writer, response, body)
}

func (p *Proxy) fail(ctx context.Context, writer http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrCancelled):
		// The proxy is going down with this connection; there is nothing
		// useful left to write.
		p.logger.WarnContext(ctx, err)
	case errors.Is(err, ErrUpstreamTimeout):
		p.logger.ErrorContext(ctx, err)
		http.Error(writer, ErrUpstreamTimeout.Error(), http.StatusGatewayTimeout)
	default:
		p.logger.ErrorContext(ctx, err)
		http.Error(writer, ErrUpstreamUnreachable.Error(), http.StatusBadGateway)
	}
}

func (p *Proxy) relay(ctx context.Context, writer http.ResponseWriter, response *http.Response, body []byte) {
	header := writer.Header()
	for name, values := range response.Header {
		header[name] = values
	}
	writer.WriteHeader(response.StatusCode)
	_, err := writer.Write(body)
	if err != nil {
		p.logger.DebugContext(ctx, E.Cause(err, "relay tracker response"))
	}
}

func (p *Proxy) harvest(ctx context.Context, key session.Key, body []byte) {
	var decoded trackerResponse
	err := bencode.Unmarshal(bytes.NewReader(body), &decoded)
	if err != nil {
		p.logger.DebugContext(ctx, "tracker response is not bencoded, skipping swarm stats")
		return
	}
	if decoded.FailureReason != "" {
		p.logger.WarnContext(ctx, "tracker reported failure: ", decoded.FailureReason)
		return
	}
	p.sessions.UpdateSwarm(key, decoded.Complete, decoded.Incomplete, decoded.Interval)
	p.logger.InfoContext(ctx, "tracker response: complete=", decoded.Complete,
		" incomplete=", decoded.Incomplete, " interval=", decoded.Interval)
}
