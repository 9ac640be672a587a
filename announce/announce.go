package announce

import (
	"net/url"
	"strconv"
	"strings"

	E "github.com/sagernet/sing/common/exceptions"
)

// ErrParse marks a request that is not a well-formed tracker announce.
// Nothing is forwarded upstream for such requests.
var ErrParse = E.New("malformed announce request")

type Event uint8

const (
	EventNone Event = iota
	EventStarted
	EventStopped
	EventCompleted
)

func ParseEvent(value string) (Event, error) {
	switch value {
	case "", "empty":
		return EventNone, nil
	case "started":
		return EventStarted, nil
	case "stopped":
		return EventStopped, nil
	case "completed":
		return EventCompleted, nil
	default:
		return EventNone, E.Extend(ErrParse, "unknown event "+value)
	}
}

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventCompleted:
		return "completed"
	default:
		return "none"
	}
}

// Request is a decoded tracker announce. It is immutable once parsed; the
// raw query is kept so unknown parameters survive byte-identical on the way
// out.
type Request struct {
	URL        *url.URL
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       uint16
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	Event      Event

	rawQuery string
}

// Parse decodes the target of an intercepted GET request. The target must be
// an absolute plain-HTTP URI carrying an announce query string. info_hash and
// peer_id are percent-encoded binary and are decoded to exact byte sequences.
func Parse(requestURL *url.URL) (*Request, error) {
	if !requestURL.IsAbs() {
		return nil, E.Extend(ErrParse, "request target is not an absolute URI")
	}
	if requestURL.Scheme != "http" {
		return nil, E.Extend(ErrParse, "unsupported scheme "+requestURL.Scheme)
	}
	if requestURL.RawQuery == "" {
		return nil, E.Extend(ErrParse, "missing query string")
	}
	values, err := url.ParseQuery(requestURL.RawQuery)
	if err != nil {
		return nil, E.Cause(err, ErrParse)
	}
	request := &Request{
		URL:      requestURL,
		rawQuery: requestURL.RawQuery,
	}
	err = decodeHash(values, "info_hash", &request.InfoHash)
	if err != nil {
		return nil, err
	}
	err = decodeHash(values, "peer_id", &request.PeerID)
	if err != nil {
		return nil, err
	}
	if !values.Has("port") {
		return nil, E.Extend(ErrParse, "missing port")
	}
	port, err := strconv.ParseUint(values.Get("port"), 10, 16)
	if err != nil {
		return nil, E.Extend(ErrParse, "invalid port "+values.Get("port"))
	}
	request.Port = uint16(port)
	request.Uploaded, err = decodeCounter(values, "uploaded")
	if err != nil {
		return nil, err
	}
	request.Downloaded, err = decodeCounter(values, "downloaded")
	if err != nil {
		return nil, err
	}
	request.Left, err = decodeCounter(values, "left")
	if err != nil {
		return nil, err
	}
	request.Event, err = ParseEvent(values.Get("event"))
	if err != nil {
		return nil, err
	}
	return request, nil
}

func decodeHash(values url.Values, key string, hash *[20]byte) error {
	if !values.Has(key) {
		return E.Extend(ErrParse, "missing "+key)
	}
	value := values.Get(key)
	if len(value) != 20 {
		return E.Extend(ErrParse, key+" is not a 20-byte identifier")
	}
	copy(hash[:], value)
	return nil
}

func decodeCounter(values url.Values, key string) (uint64, error) {
	if !values.Has(key) {
		return 0, nil
	}
	counter, err := strconv.ParseUint(values.Get(key), 10, 64)
	if err != nil {
		return 0, E.Extend(ErrParse, "invalid "+key+" "+values.Get(key))
	}
	return counter, nil
}

// RewriteQuery rebuilds the outgoing query string, substituting only the
// accounting counters. Every other parameter, known or not, is spliced back
// byte-identical and in its original position.
func (r *Request) RewriteQuery(uploaded, downloaded, left uint64) string {
	segments := strings.Split(r.rawQuery, "&")
	for i, segment := range segments {
		key, _, found := strings.Cut(segment, "=")
		if !found {
			continue
		}
		switch key {
		case "uploaded":
			segments[i] = "uploaded=" + strconv.FormatUint(uploaded, 10)
		case "downloaded":
			segments[i] = "downloaded=" + strconv.FormatUint(downloaded, 10)
		case "left":
			segments[i] = "left=" + strconv.FormatUint(left, 10)
		}
	}
	return strings.Join(segments, "&")
}

// RawQuery returns the query string exactly as the client sent it.
func (r *Request) RawQuery() string {
	return r.rawQuery
}
