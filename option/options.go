package option

import (
	"bytes"
	"net"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/json"
)

type _Options struct {
	Log    *LogOptions    `json:"log,omitempty"`
	Listen *ListenOptions `json:"listen,omitempty"`
	Policy *PolicyOptions `json:"policy,omitempty"`
	API    *APIOptions    `json:"api,omitempty"`
}

type Options _Options

func (o *Options) UnmarshalJSON(content []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(content))
	decoder.DisallowUnknownFields()
	err := decoder.Decode((*_Options)(o))
	if err != nil {
		return err
	}
	return checkOptions(o)
}

type LogOptions struct {
	Disabled     bool   `json:"disabled,omitempty"`
	Level        string `json:"level,omitempty"`
	Output       string `json:"output,omitempty"`
	Timestamp    bool   `json:"timestamp,omitempty"`
	DisableColor bool   `json:"-"`
}

// ListenOptions configures the client-facing proxy socket. The proxy binds
// loopback only; announces from other hosts are not this program's business.
type ListenOptions struct {
	Listen     string `json:"listen,omitempty"`
	ListenPort uint16 `json:"listen_port,omitempty"`
}

// PolicyOptions is the initial rewrite policy. Both flags can be flipped at
// runtime through the control API or by editing the watched configuration
// file; neither requires a listener restart.
type PolicyOptions struct {
	ReportZeroDownload bool `json:"report_zero_download,omitempty"`
	PretendSeed        bool `json:"pretend_seed,omitempty"`
}

type APIOptions struct {
	Listen string `json:"listen,omitempty"`
}

func checkOptions(options *Options) error {
	if options.Listen != nil && options.Listen.Listen != "" {
		if net.ParseIP(options.Listen.Listen) == nil {
			return E.New("invalid listen address: ", options.Listen.Listen)
		}
	}
	return nil
}
