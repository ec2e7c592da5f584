package listener

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/litehook/litehook/pkg/config"
	"github.com/litehook/litehook/pkg/core"
	llog "github.com/litehook/litehook/pkg/log"
	"github.com/litehook/litehook/pkg/store"
	"github.com/litehook/litehook/pkg/tme"
	"github.com/litehook/litehook/pkg/webhook"
)

// Listener polls one channel's public preview page, persists newly observed
// posts and delivers a webhook notification per batch of new posts. It runs
// until cancelled; all lifecycle calls come from the supervisor.
type Listener struct {
	id     string
	store  *store.Store
	global *config.Watched
	client *http.Client
	logger *llog.Logger

	mu  sync.RWMutex
	raw config.ListenerConfig // per-listener values, before merge
	cfg config.ListenerConfig // effective merged config

	ctx    context.Context
	cancel context.CancelFunc
}

// New validates the configuration, constructs the worker's HTTP client
// (fetching and picking a proxy if one is configured) and creates the
// worker's cancellation handle. cfg holds the per-listener values; global
// supplies defaults for anything unset.
func New(cfg config.ListenerConfig, global *config.Watched, st *store.Store) (*Listener, error) {
	merged := cfg.Merge(global.Get())
	if err := merged.ValidateEffective(); err != nil {
		return nil, err
	}

	logger := llog.ForListener(cfg.ID)
	logger.Infof("initializing listener for %s", merged.ChannelURL)

	client, err := newClient(merged.ProxyListURL, logger)
	if err != nil {
		return nil, fmt.Errorf("building http client for listener %s: %w", cfg.ID, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		id:     cfg.ID,
		store:  st,
		global: global,
		client: client,
		logger: logger,
		raw:    cfg,
		cfg:    merged,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// ID returns the listener id.
func (l *Listener) ID() string {
	return l.id
}

// Config returns a copy of the effective configuration.
func (l *Listener) Config() config.ListenerConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Stop signals cancellation and returns immediately. Run observes the
// cancellation on its next suspension point.
func (l *Listener) Stop() {
	l.logger.Infof("stopping listener for %s", l.Config().ChannelURL)
	l.cancel()
}

// Reconfigure atomically replaces the effective configuration with the merge
// of cfg and global. The poll loop re-reads the interval and webhook URL on
// each iteration; the HTTP client is NOT rebuilt, so a proxy change requires
// removing and re-adding the listener.
func (l *Listener) Reconfigure(global config.GlobalConfig, cfg config.ListenerConfig) error {
	merged := cfg.Merge(global)
	if err := merged.ValidateEffective(); err != nil {
		return err
	}

	l.mu.Lock()
	l.raw = cfg
	l.cfg = merged
	l.mu.Unlock()

	l.logger.Infof("reconfigured listener for %s", merged.ChannelURL)
	return nil
}

// Run is the poll loop. On each iteration it waits on three events:
// cancellation (return nil), a global-config change (re-merge and continue)
// and the end of one poll cycle. A failed cycle terminates the worker unless
// the failure mode is "continue".
func (l *Listener) Run(changed <-chan struct{}) error {
	l.logger.Infof("started listening to %s", l.Config().ChannelURL)
	for {
		select {
		case <-l.ctx.Done():
			l.logger.Infof("exiting loop")
			return nil
		case <-changed:
			l.applyGlobal()
			continue
		default:
		}

		if err := l.poll(); err != nil {
			// A cycle aborted by Stop is shutdown, not failure.
			if l.ctx.Err() != nil {
				l.logger.Infof("exiting loop")
				return nil
			}
			if l.Config().FailureMode == config.FailureContinue {
				l.logger.Errorf("poll cycle failed: %v", err)
			} else {
				return err
			}
		}

		// Sleep one interval, waking early for cancellation or a global
		// config change.
		timer := time.NewTimer(time.Duration(l.Config().PollInterval) * time.Second)
		select {
		case <-l.ctx.Done():
			timer.Stop()
			l.logger.Infof("exiting loop")
			return nil
		case <-changed:
			timer.Stop()
			l.applyGlobal()
		case <-timer.C:
		}
	}
}

// applyGlobal snapshots the global config and re-merges it with the
// per-listener values. If the merge would violate the worker invariants
// (no webhook, interval too low) the previous effective config is kept.
func (l *Listener) applyGlobal() {
	g := l.global.Get()

	l.mu.Lock()
	defer l.mu.Unlock()
	merged := l.raw.Merge(g)
	if err := merged.ValidateEffective(); err != nil {
		l.logger.Warnf("ignoring global config change: %v", err)
		return
	}
	l.cfg = merged
	l.logger.Debugf("applied global config change")
}

// poll runs one fetch, diff, persist, deliver pass.
func (l *Listener) poll() error {
	cfg := l.Config()
	l.logger.Infof("polling %s", cfg.ChannelURL)

	html, err := tme.FetchHTML(l.ctx, l.client, cfg.ChannelURL)
	if err != nil {
		return err
	}
	page, err := tme.ParsePage(html)
	if err != nil {
		return err
	}
	if page == nil {
		return fmt.Errorf("invalid channel: %s", cfg.ChannelURL)
	}

	// Posts are persisted before the webhook fires so a delivery failure
	// never resurrects a post as "new" in the next cycle.
	var newPosts []core.Post
	for _, post := range page.Posts {
		seen, err := l.store.GetPost(post.ID)
		if err != nil {
			return fmt.Errorf("looking up post %s: %w", post.ID, err)
		}
		if seen != nil {
			continue
		}
		if err := l.store.InsertPost(post); err != nil {
			return err
		}
		l.logger.Infof("new post: %s", post.ID)
		newPosts = append(newPosts, post)
	}

	if len(newPosts) == 0 {
		return nil
	}

	payload := webhook.Payload{Channel: page.Channel, NewPosts: newPosts}
	err = webhook.SendWithRetry(l.ctx, l.client, l.logger, cfg.WebhookURL, cfg.WebhookSecret, payload, webhook.DefaultMaxAttempts)
	if err != nil {
		// The posts are already persisted; they will not be re-sent.
		l.logger.Errorf("webhook failed: %v", err)
	}
	return nil
}
