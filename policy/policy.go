package policy

import (
	"github.com/AlwaysKaffa/ratioghost/announce"
	"github.com/AlwaysKaffa/ratioghost/session"
)

// RewritePolicy is one immutable snapshot of the operator's falsification
// switches. A request reads exactly one snapshot; concurrent requests may
// observe different ones if a change lands between them.
type RewritePolicy struct {
	ListenPort         uint16 `json:"listen_port"`
	ReportZeroDownload bool   `json:"report_zero_download"`
	PretendSeed        bool   `json:"pretend_seed"`
}

// Outgoing is the rewritten field set sent upstream in place of the client's
// real accounting.
type Outgoing struct {
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	Event      announce.Event
}

// Rewrite computes the outgoing counters for one announce. Pure: the result
// depends only on the three inputs.
//
// Only download accounting and completion state are falsified. uploaded
// passes through untouched, and no completed event is synthesized when
// PretendSeed zeroes left; whether a tracker honors a zero-left claim
// without one is the operator's call, not this function's.
func Rewrite(request *announce.Request, policy RewritePolicy, prior session.Session) Outgoing {
	outgoing := Outgoing{
		Uploaded:   request.Uploaded,
		Downloaded: request.Downloaded,
		Left:       request.Left,
		Event:      request.Event,
	}
	if policy.ReportZeroDownload {
		outgoing.Downloaded = 0
	}
	if policy.PretendSeed {
		outgoing.Left = 0
	}
	return outgoing
}
