package engine_test

import (
	"path/filepath"
	"testing"

	"github.com/tlejmi/monotorrent/internal/engine"
	"github.com/tlejmi/monotorrent/internal/repository"
	torrentPkg "github.com/tlejmi/monotorrent/pkg/torrent"
)

func positionFixture() repository.PlaybackPosition {
	return repository.PlaybackPosition{
		InfoHash: "deadbeef",
		FilePath: "movie.mkv",
		Offset:   42,
	}
}

func newTestConfig(t *testing.T) *engine.Config {
	t.Helper()
	dir := t.TempDir()
	return &engine.Config{
		DownloadDir: filepath.Join(dir, "downloads"),
		ConfigDir:   filepath.Join(dir, "config"),
		TempDir:     filepath.Join(dir, "tmp"),
	}
}

func TestNewUsesDefaultConfigWhenNil(t *testing.T) {
	e, err := engine.New(nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if e == nil {
		t.Fatal("Expected a non-nil engine")
	}
}

func TestRegisterAndLookupTorrent(t *testing.T) {
	e, err := engine.New(newTestConfig(t))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	var hash [20]byte
	copy(hash[:], "aaaaaaaaaaaaaaaaaaaa")

	if e.ContainsInfoHash(hash) {
		t.Fatal("Expected no torrent registered yet")
	}

	tr := &torrentPkg.Torrent{}
	if err := e.RegisterTorrent(hash, tr); err != nil {
		t.Fatalf("RegisterTorrent error: %v", err)
	}

	if !e.ContainsInfoHash(hash) {
		t.Fatal("Expected the torrent to be registered")
	}

	got, ok := e.GetTorrent(hash)
	if !ok || got != tr {
		t.Fatalf("Expected GetTorrent to return the registered torrent, got %v, %v", got, ok)
	}

	if err := e.RegisterTorrent(hash, tr); err != engine.ErrTorrentAlreadyRegistered {
		t.Fatalf("Expected ErrTorrentAlreadyRegistered on a duplicate registration, got %v", err)
	}

	e.UnregisterTorrent(hash)
	if e.ContainsInfoHash(hash) {
		t.Fatal("Expected the torrent to be unregistered")
	}

	// Unregistering an already-absent hash must not panic or error.
	e.UnregisterTorrent(hash)
}

func TestPositionsNilBeforeInit(t *testing.T) {
	e, err := engine.New(newTestConfig(t))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if e.Positions() != nil {
		t.Fatal("Expected Positions() to be nil before Init")
	}
}

func TestInitOpensPositionStore(t *testing.T) {
	e, err := engine.New(newTestConfig(t))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if err := e.Init(); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	defer e.Shutdown()

	store := e.Positions()
	if store == nil {
		t.Fatal("Expected a non-nil position store after Init")
	}

	if err := store.SavePosition(positionFixture()); err != nil {
		t.Fatalf("SavePosition error: %v", err)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	e, err := engine.New(newTestConfig(t))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer e.Shutdown()

	if err := e.Init(); err != nil {
		t.Fatalf("first Init error: %v", err)
	}
	if err := e.Init(); err != nil {
		t.Fatalf("second Init error: %v", err)
	}
}

func TestShutdownWithoutInitIsANoOp(t *testing.T) {
	e, err := engine.New(newTestConfig(t))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if err := e.Shutdown(); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}

func TestShutdownClosesThePositionStore(t *testing.T) {
	e, err := engine.New(newTestConfig(t))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if err := e.Init(); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	store := e.Positions()

	if err := e.Shutdown(); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	if err := store.SavePosition(positionFixture()); err == nil {
		t.Fatal("Expected the position store to be closed after Shutdown")
	}
}
