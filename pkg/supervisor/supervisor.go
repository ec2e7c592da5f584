package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/litehook/litehook/pkg/config"
	"github.com/litehook/litehook/pkg/listener"
	llog "github.com/litehook/litehook/pkg/log"
	"github.com/litehook/litehook/pkg/store"
)

// ErrNotFound is returned by UpdateListener when no live worker exists for
// the given id.
var ErrNotFound = errors.New("listener not found")

// commandBuffer bounds the command mailbox. Control-plane callers
// back-pressure when it is full.
const commandBuffer = 100

type cmdKind int

const (
	cmdAdd cmdKind = iota
	cmdRemove
)

type command struct {
	kind cmdKind
	cfg  config.ListenerConfig
	id   string
}

// Server owns the dynamic set of listener workers. All mutations of the
// worker set flow through a single command mailbox consumed by Run, so the
// supervisor loop is the sole mutator; reads from other tasks take the
// read lock.
type Server struct {
	store  *store.Store
	global *config.Watched
	logger *llog.Logger

	cmds chan command

	mu   sync.RWMutex
	live map[string]*listener.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the store at cfg.DBPath and constructs a supervisor with
// cfg.Global as the initial global configuration.
func New(cfg *config.Config) (*Server, error) {
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return NewWithStore(cfg.Global, st), nil
}

// NewWithStore constructs a supervisor around an existing store.
func NewWithStore(global config.GlobalConfig, st *store.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		store:  st,
		global: config.NewWatched(global),
		logger: llog.ForListener("supervisor"),
		cmds:   make(chan command, commandBuffer),
		live:   make(map[string]*listener.Listener),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run restores persisted listeners, then consumes the command mailbox until
// Stop is called. It blocks until every worker has been shut down.
func (s *Server) Run() error {
	s.restore()
	s.logger.Infof("supervisor started")

	for {
		select {
		case <-s.ctx.Done():
			s.stopAll()
			s.logger.Infof("supervisor stopped")
			return nil
		case cmd, ok := <-s.cmds:
			if !ok {
				// Control plane gone; fail fast and tear down.
				s.cancel()
				continue
			}
			switch cmd.kind {
			case cmdAdd:
				s.spawn(cmd.cfg)
			case cmdRemove:
				s.shutdownListener(cmd.id)
			}
		}
	}
}

// Stop signals shutdown. Run drains and stops all workers before returning.
func (s *Server) Stop() {
	s.cancel()
}

// Close closes the underlying store. Call after Run has returned.
func (s *Server) Close() error {
	return s.store.Close()
}

// AddListener validates the configuration, persists the listener row and
// enqueues the spawn command. It returns the listener id (generated when the
// caller left it empty) once the command is enqueued; the worker exists after
// the supervisor loop has processed it. A row-upsert failure is logged but
// not fatal: the live state stays authoritative for the running process.
func (s *Server) AddListener(cfg config.ListenerConfig) (string, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	merged := cfg.Merge(s.global.Get())
	if err := merged.ValidateEffective(); err != nil {
		return "", err
	}

	if err := s.store.InsertListener(rowFromConfig(merged)); err != nil {
		s.logger.Errorf("persisting listener %s: %v", cfg.ID, err)
	}

	s.cmds <- command{kind: cmdAdd, cfg: cfg}
	return cfg.ID, nil
}

// RemoveListener enqueues the removal of the worker and deletes the durable
// row. A row-delete failure is logged but not fatal.
func (s *Server) RemoveListener(id string) {
	s.cmds <- command{kind: cmdRemove, id: id}
	if err := s.store.DeleteListener(id); err != nil {
		s.logger.Errorf("deleting listener %s: %v", id, err)
	}
}

// UpdateListener reconfigures a live worker in place and upserts its durable
// row. It does not go through the mailbox: it mutates one worker under that
// worker's own lock, not the worker set.
func (s *Server) UpdateListener(cfg config.ListenerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	l, ok := s.live[cfg.ID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("updating listener %s: %w", cfg.ID, ErrNotFound)
	}

	global := s.global.Get()
	if err := l.Reconfigure(global, cfg); err != nil {
		return err
	}

	if err := s.store.InsertListener(rowFromConfig(cfg.Merge(global))); err != nil {
		s.logger.Errorf("persisting listener %s: %v", cfg.ID, err)
	}
	return nil
}

// GetListener returns the persisted row for id, or nil. Callers see the
// persisted truth, not the live map.
func (s *Server) GetListener(id string) (*store.ListenerRow, error) {
	return s.store.GetListener(id)
}

// GetAllListeners returns every persisted listener row.
func (s *Server) GetAllListeners() ([]store.ListenerRow, error) {
	return s.store.GetAllListeners()
}

// UpdateGlobalConfig replaces the global defaults and fans the change out to
// every live worker.
func (s *Server) UpdateGlobalConfig(g config.GlobalConfig) {
	s.logger.Infof("updating global config")
	s.global.Set(g)
}

// GlobalConfig returns the current global defaults.
func (s *Server) GlobalConfig() config.GlobalConfig {
	return s.global.Get()
}

// SeedChannels inserts a listener row per channel URL when the listeners
// table is empty (first boot). Rows are picked up by restore, so seeding
// must happen before Run.
func (s *Server) SeedChannels(channelURLs []string) error {
	existing, err := s.store.GetAllListeners()
	if err != nil {
		return fmt.Errorf("checking existing listeners: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	for _, channelURL := range channelURLs {
		cfg := config.ListenerConfig{
			ID:         handleFromURL(channelURL),
			ChannelURL: channelURL,
		}
		merged := cfg.Merge(s.global.Get())
		if err := merged.ValidateEffective(); err != nil {
			return fmt.Errorf("seeding channel %s: %w", channelURL, err)
		}
		if err := s.store.InsertListener(rowFromConfig(merged)); err != nil {
			return fmt.Errorf("seeding channel %s: %w", channelURL, err)
		}
		s.logger.Infof("seeded listener %s for %s", cfg.ID, channelURL)
	}
	return nil
}

// restore spawns a worker for every active persisted listener before any
// mailbox command is processed. Individual spawn failures are logged and
// skipped.
func (s *Server) restore() {
	rows, err := s.store.GetAllListeners()
	if err != nil {
		s.logger.Errorf("restoring listeners: %v", err)
		return
	}
	for _, row := range rows {
		if !row.Active {
			continue
		}
		s.spawn(configFromRow(row))
	}
}

// spawn creates and starts a worker for cfg. At most one live worker per id:
// a duplicate add logs a warning and keeps the existing worker.
func (s *Server) spawn(cfg config.ListenerConfig) {
	s.mu.RLock()
	_, exists := s.live[cfg.ID]
	s.mu.RUnlock()
	if exists {
		s.logger.Warnf("listener %s already running", cfg.ID)
		return
	}

	l, err := listener.New(cfg, s.global, s.store)
	if err != nil {
		s.logger.Errorf("spawning listener %s: %v", cfg.ID, err)
		return
	}

	s.mu.Lock()
	s.live[cfg.ID] = l
	s.mu.Unlock()

	changed, unsubscribe := s.global.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		if err := l.Run(changed); err != nil {
			s.logger.Errorf("listener %s terminated: %v", cfg.ID, err)
		}
		s.reap(cfg.ID, l)
	}()
}

// reap drops a worker whose Run has returned, so a dead listener does not
// linger in the live set and block a later add of the same id. No-op when
// the id has already been removed or replaced.
func (s *Server) reap(id string, l *listener.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live[id] == l {
		delete(s.live, id)
	}
}

// shutdownListener removes the worker from the live map and cancels it.
func (s *Server) shutdownListener(id string) {
	s.mu.Lock()
	l, ok := s.live[id]
	if ok {
		delete(s.live, id)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Warnf("listener %s not running", id)
		return
	}
	l.Stop()
}

// stopAll drains the live map and waits for every worker to return.
func (s *Server) stopAll() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.shutdownListener(id)
	}
	s.wg.Wait()
}

// LiveListeners returns the ids of the currently live workers.
func (s *Server) LiveListeners() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	return ids
}

func rowFromConfig(cfg config.ListenerConfig) store.ListenerRow {
	return store.ListenerRow{
		ID:           cfg.ID,
		Active:       true,
		PollInterval: cfg.PollInterval,
		ChannelURL:   cfg.ChannelURL,
		ProxyListURL: cfg.ProxyListURL,
		WebhookURL:   cfg.WebhookURL,
	}
}

func configFromRow(row store.ListenerRow) config.ListenerConfig {
	return config.ListenerConfig{
		ID:           row.ID,
		ChannelURL:   row.ChannelURL,
		PollInterval: row.PollInterval,
		WebhookURL:   row.WebhookURL,
		ProxyListURL: row.ProxyListURL,
	}
}

func handleFromURL(channelURL string) string {
	handle := strings.TrimPrefix(channelURL, config.ChannelPrefix)
	if handle == "" || handle == channelURL {
		return uuid.NewString()
	}
	return handle
}
