package constant

const (
	// DefaultListenPort is where the proxy listens when the configuration
	// does not name a port. BitTorrent clients point their tracker URLs at
	// 127.0.0.1:<port>.
	DefaultListenPort uint16 = 8080

	DefaultListenAddress = "127.0.0.1"
)
