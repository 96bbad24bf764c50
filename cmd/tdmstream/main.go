// Command tdmstream wires an engine and a streaming.Provider together to
// serve a single file from a torrent over HTTP with byte-range support.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/adrg/xdg"

	"github.com/tlejmi/monotorrent/internal/config"
	"github.com/tlejmi/monotorrent/internal/engine"
	"github.com/tlejmi/monotorrent/internal/streaming"
	torrentPkg "github.com/tlejmi/monotorrent/pkg/torrent"
)

func main() {
	appConfig, err := config.GetConfig()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	torrentFile := flag.String("torrent", "", "path to a .torrent file, or a magnet: URI")
	filePath := flag.String("file", "", "path of the file within the torrent to stream, as reported by its metainfo")
	addr := flag.String("addr", ":8080", "address to serve the stream on")
	highPriority := flag.Int("high-priority-count", appConfig.Torrent.HighPriorityCount, "pieces requested with urgent priority ahead of playback")
	lookAhead := flag.Int("look-ahead-count", appConfig.Torrent.LookAheadCount, "additional pieces prefetched beyond high-priority-count")
	flag.Parse()

	if *torrentFile == "" || *filePath == "" {
		log.Fatal("both -torrent and -file are required")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("error getting home directory: %v", err)
	}

	configDir := filepath.Join(homeDir, ".tdm")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		log.Fatalf("error creating config directory: %v", err)
	}

	cfg := engine.DefaultConfig()
	cfg.ConfigDir = configDir
	cfg.DownloadDir = xdg.UserDirs.Download

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("error creating engine: %v", err)
	}

	if err := eng.Init(); err != nil {
		log.Fatalf("error initializing engine: %v", err)
	}

	provider, err := streaming.NewProvider(eng, xdg.UserDirs.Download, *torrentFile, streaming.ProviderOptions{
		UseDHT:            !appConfig.Torrent.DisableDHT,
		PickerStrategy:    torrentPkg.PickerRarest,
		HighPriorityCount: *highPriority,
		LookAheadCount:    *lookAhead,
	})
	if err != nil {
		log.Fatalf("error creating stream provider: %v", err)
	}

	ctx := context.Background()
	if err := provider.Start(ctx); err != nil {
		log.Fatalf("error starting provider: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/stream", provider.CreateHTTPStream(*filePath))

	server := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Printf("serving %q on %s/stream", *filePath, *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	_ = server.Close()
	_ = provider.Stop(ctx)

	if err := eng.Shutdown(); err != nil {
		log.Printf("error during engine shutdown: %v", err)
	}
}
