package policy

import (
	"github.com/AlwaysKaffa/ratioghost/log"

	"github.com/sagernet/sing/common/atomic"
)

// Manager is the single holder of the current rewrite policy. Reads are
// atomic snapshots; updates are a single swap, so no request can observe a
// half-applied policy.
type Manager struct {
	logger log.Logger
	policy atomic.TypedValue[RewritePolicy]
}

func NewManager(logger log.Logger, initial RewritePolicy) *Manager {
	manager := &Manager{
		logger: logger,
	}
	manager.policy.Store(initial)
	return manager
}

func (m *Manager) Snapshot() RewritePolicy {
	return m.policy.Load()
}

// Apply swaps in a new policy. The listen port is fixed at startup; a
// changed port in the update is recorded but takes effect on restart.
func (m *Manager) Apply(policy RewritePolicy) {
	previous := m.policy.Swap(policy)
	if previous == policy {
		return
	}
	m.logger.Info("policy updated: report_zero_download=", policy.ReportZeroDownload,
		" pretend_seed=", policy.PretendSeed)
	if previous.ListenPort != policy.ListenPort {
		m.logger.Warn("listen_port change requires a restart to take effect")
	}
}
