package watcher

import (
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/retrieval"
	"github.com/hyperjump/kensaku/pkg/utils"
)

// PolicySetter receives a reloaded retrieval policy.
type PolicySetter interface {
	SetPolicy(p *retrieval.Policy)
}

// PolicyReloader re-reads the config file and swaps in its retrieval policy.
// Only the retrieval and confidence sections are applied; every other setting
// needs a restart.
type PolicyReloader struct {
	target PolicySetter
	logger *zap.Logger
	load   func(path string) (*config.Config, error)
}

// NewPolicyReloader creates a reloader that updates target.
func NewPolicyReloader(target PolicySetter, logger *zap.Logger) *PolicyReloader {
	return &PolicyReloader{target: target, logger: utils.OrNop(logger), load: config.Load}
}

// Reload applies the policy from path. An invalid file is logged and the
// current policy stays in effect.
func (r *PolicyReloader) Reload(path string) error {
	cfg, err := r.load(path)
	if err != nil {
		r.logger.Warn("config reload failed, keeping current policy", zap.String("path", path), zap.Error(err))
		return err
	}
	policy, err := retrieval.NewPolicy(cfg.Retrieval, cfg.Confidence)
	if err != nil {
		r.logger.Warn("reloaded policy is invalid, keeping current policy", zap.String("path", path), zap.Error(err))
		return err
	}
	r.target.SetPolicy(policy)
	r.logger.Info("retrieval policy reloaded", zap.String("path", path))
	return nil
}

// Watch returns a Watcher that calls Reload whenever path changes.
func (r *PolicyReloader) Watch(path string, opts ...WatcherOption) *Watcher {
	return NewWatcher(path, func(p string) { _ = r.Reload(p) }, opts...)
}
