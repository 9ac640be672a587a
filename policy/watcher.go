package policy

import (
	"os"
	"path/filepath"

	"github.com/AlwaysKaffa/ratioghost/log"
	"github.com/AlwaysKaffa/ratioghost/option"

	"github.com/sagernet/fswatch"
	"github.com/sagernet/sing/common"
	E "github.com/sagernet/sing/common/exceptions"
)

// Watcher applies policy changes live when the configuration file is edited
// on disk, so flipping a flag does not require restarting the proxy.
type Watcher struct {
	logger  log.Logger
	manager *Manager
	watcher *fswatch.Watcher
}

func NewWatcher(logger log.Logger, manager *Manager, configPath string) (*Watcher, error) {
	filePath, _ := filepath.Abs(configPath)
	w := &Watcher{
		logger:  logger,
		manager: manager,
	}
	watcher, err := fswatch.NewWatcher(fswatch.Options{
		Path: []string{filePath},
		Callback: func(path string) {
			uErr := w.reload(path)
			if uErr != nil {
				logger.Error(E.Cause(uErr, "reload policy from ", path))
			}
		},
	})
	if err != nil {
		return nil, E.Cause(err, "create config watcher")
	}
	w.watcher = watcher
	return w, nil
}

func (w *Watcher) Start() error {
	return w.watcher.Start()
}

func (w *Watcher) Close() error {
	return common.Close(common.PtrOrNil(w.watcher))
}

func (w *Watcher) reload(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var options option.Options
	err = options.UnmarshalJSON(content)
	if err != nil {
		return err
	}
	policyOptions := common.PtrValueOrDefault(options.Policy)
	policy := w.manager.Snapshot()
	policy.ReportZeroDownload = policyOptions.ReportZeroDownload
	policy.PretendSeed = policyOptions.PretendSeed
	w.manager.Apply(policy)
	return nil
}
