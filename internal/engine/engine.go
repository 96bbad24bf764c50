package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tlejmi/monotorrent/internal/errors"
	"github.com/tlejmi/monotorrent/internal/repository"
	torrentPkg "github.com/tlejmi/monotorrent/pkg/torrent"
)

// ErrEngineNotRunning is returned when an operation requires the engine to be running
var ErrEngineNotRunning = errors.New("engine is not running")

// ErrTorrentAlreadyRegistered is returned when RegisterTorrent is called for
// an infohash the engine already has an active torrent for.
var ErrTorrentAlreadyRegistered = errors.New("torrent already registered for this infohash")

// Engine owns the registry of live torrents shared across streaming
// providers and the store that remembers how far playback got in each.
type Engine struct {
	mu sync.RWMutex

	config    *Config
	positions *repository.BboltPositionStore
	running   bool

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	torrentsMu sync.RWMutex
	torrents   map[[20]byte]*torrentPkg.Torrent
}

// runTask runs a function in a goroutine tracked by the WaitGroup.
func (e *Engine) runTask(task func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		task()
	}()
}

// New creates a new Engine instance.
func New(config *Config) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := os.MkdirAll(config.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	if err := os.MkdirAll(config.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	ctx, cancelFunc := context.WithCancel(context.Background())

	engine := &Engine{
		config:     config,
		ctx:        ctx,
		cancelFunc: cancelFunc,
		torrents:   make(map[[20]byte]*torrentPkg.Torrent),
	}

	return engine, nil
}

// ContainsInfoHash reports whether a torrent with the given infohash is
// currently registered with the engine. Used to enforce at most one
// provider per infohash.
func (e *Engine) ContainsInfoHash(hash [20]byte) bool {
	e.torrentsMu.RLock()
	defer e.torrentsMu.RUnlock()

	_, ok := e.torrents[hash]

	return ok
}

// RegisterTorrent associates an active torrent with its infohash so other
// callers (e.g. a second stream request for the same content) can find and
// reuse it instead of opening a duplicate swarm connection.
func (e *Engine) RegisterTorrent(hash [20]byte, t *torrentPkg.Torrent) error {
	e.torrentsMu.Lock()
	defer e.torrentsMu.Unlock()

	if _, exists := e.torrents[hash]; exists {
		return ErrTorrentAlreadyRegistered
	}

	e.torrents[hash] = t

	return nil
}

// UnregisterTorrent removes a torrent's infohash registration. Safe to call
// even if the hash was never registered.
func (e *Engine) UnregisterTorrent(hash [20]byte) {
	e.torrentsMu.Lock()
	defer e.torrentsMu.Unlock()

	delete(e.torrents, hash)
}

// GetTorrent returns the registered torrent for hash, if any.
func (e *Engine) GetTorrent(hash [20]byte) (*torrentPkg.Torrent, bool) {
	e.torrentsMu.RLock()
	defer e.torrentsMu.RUnlock()

	t, ok := e.torrents[hash]

	return t, ok
}

// Positions returns the engine's playback-position store. Returns nil if
// the engine has not been Init'd.
func (e *Engine) Positions() repository.PositionStore {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.positions == nil {
		return nil
	}
	return e.positions
}

// Init opens the engine's position store and marks it running. Safe to
// call more than once; subsequent calls are no-ops.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	if err := e.initPositionStore(); err != nil {
		return fmt.Errorf("failed to initialize position store: %w", err)
	}

	e.running = true
	return nil
}

// initPositionStore opens the bbolt-backed playback position store.
func (e *Engine) initPositionStore() error {
	configDir := e.config.ConfigDir
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not determine home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".tdm")
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	dbPath := filepath.Join(configDir, "tdm.db")
	store, err := repository.NewBboltPositionStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to create position store: %w", err)
	}

	e.positions = store
	return nil
}

// Shutdown gracefully stops the engine, closing the position store and
// waiting for any background tasks to finish.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}

	log.Println("Starting engine shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e.cancelFunc()

	waitChan := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
		log.Println("All tasks completed gracefully")
	case <-shutdownCtx.Done():
		log.Println("WARNING: Shutdown timed out, some tasks may not have completed")
	}

	if e.positions != nil {
		log.Println("Closing position store...")
		if err := e.positions.Close(); err != nil {
			log.Printf("Error closing position store: %v", err)
		}
	}

	e.running = false
	log.Println("Engine shutdown complete")
	return nil
}
