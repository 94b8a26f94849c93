package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matteo-lafrancesca/streamlayer/internal/api"
	"github.com/matteo-lafrancesca/streamlayer/internal/auth"
	"github.com/matteo-lafrancesca/streamlayer/internal/cache"
	"github.com/matteo-lafrancesca/streamlayer/internal/catalog"
	"github.com/matteo-lafrancesca/streamlayer/internal/config"
	"github.com/matteo-lafrancesca/streamlayer/internal/domain"
	"github.com/matteo-lafrancesca/streamlayer/internal/images"
	"github.com/matteo-lafrancesca/streamlayer/internal/log"
	"github.com/matteo-lafrancesca/streamlayer/internal/player"
	"github.com/matteo-lafrancesca/streamlayer/internal/search"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.Parse()

	if showVersion {
		fmt.Printf("streamlayer %s\n", Version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := log.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = log.NullLogger()
	}
	slog.SetDefault(logger)

	logger.Info("starting streamlayer", "version", Version)

	if !cfg.IsConfigured() {
		return fmt.Errorf("not configured: set STREAMLAYER_PROJECT_ID and STREAMLAYER_PROJECT_REFRESH_TOKEN (a .env file works too)")
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open cache store: %w", err)
	}
	defer store.Close()

	refresher := catalog.NewTokenRefresher(cfg.Project.APIBaseURL, cfg.Project.ID, logger)
	tokens := auth.NewManager(cfg.Project.ID, refresher, logger)
	tokens.SetTokens("", cfg.Project.RefreshToken)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if _, err := tokens.Refresh(ctx); err != nil {
		cancel()
		return fmt.Errorf("initial token exchange failed: %w", err)
	}
	cancel()

	apiClient := api.NewClient(cfg.Project.APIBaseURL, tokens, logger)
	catalogClient := catalog.NewClient(apiClient, tokens, store, logger)

	blobs := cache.NewBlobCache()
	imageSvc := images.NewService(blobs, store, apiClient, tokens, catalogClient, logger)
	searchSvc := search.NewService(logger)

	p := player.NewPlayer(newSimElement(), apiClient, tokens, player.Callbacks{
		OnTrackChange: func(track domain.Track) {
			fmt.Printf("▶ %s — %s\n", track.Title, track.ArtistLine())
		},
		OnPlaybackError: func(trackID string, err error) {
			fmt.Printf("✗ track %s failed: %v\n", trackID, err)
		},
	}, logger)
	defer p.Close()
	p.SetVolume(cfg.Player.Volume)

	return repl(p, catalogClient, imageSvc, searchSvc, logger)
}

// openStore builds the persistent cache backend selected in the config.
func openStore(cfg *config.Config, logger *slog.Logger) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		return cache.NewRedisStore(cache.RedisConfig{
			Host:     cfg.Cache.Redis.Host,
			Port:     cfg.Cache.Redis.Port,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		}, logger)
	default:
		return cache.NewBoltStore(cfg.Cache.Dir, logger)
	}
}

const replHelp = `commands:
  load <playlist-id>   load a playlist into the queue and start
  play | pause         toggle the play intent
  next | prev          navigate the queue
  shuffle | repeat     toggle shuffle / cycle repeat mode
  seek <0-100>         seek to a percentage of the track
  vol <0-100>          set the volume
  find <query>         fuzzy-search the queue and jump to the match
  cover <id> <size>    fetch an album cover into the cache
  status               print the playback state
  quit                 exit`

// repl drives the player from stdin. It is deliberately minimal: the
// library is the product, this loop just exercises it end to end.
func repl(p *player.Player, cat *catalog.Client, imgs *images.Service, searcher *search.Service, logger *slog.Logger) error {
	fmt.Println(replHelp)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "load":
			if len(args) != 1 {
				fmt.Println("usage: load <playlist-id>")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			playlist, err := cat.PlaylistWithTracks(ctx, args[0])
			cancel()
			if err != nil {
				fmt.Printf("load failed: %v\n", err)
				continue
			}
			p.SetQueue(playlist.Tracks, 0)
			p.SetPlaying(true)
			fmt.Printf("loaded %q (%d tracks)\n", playlist.Title, len(playlist.Tracks))

		case "play":
			p.SetPlaying(true)
		case "pause":
			p.SetPlaying(false)
		case "next":
			p.Next()
		case "prev":
			p.Previous()
		case "shuffle":
			p.ToggleShuffle()
			fmt.Printf("shuffle: %v\n", p.Queue().ShuffleEnabled())
		case "repeat":
			fmt.Printf("repeat: %s\n", p.ToggleRepeat())

		case "seek":
			pct, err := parsePercent(args)
			if err != nil {
				fmt.Println("usage: seek <0-100>")
				continue
			}
			if err := p.SeekFraction(float64(pct) / 100); err != nil {
				fmt.Printf("seek failed: %v\n", err)
			}

		case "vol":
			level, err := parsePercent(args)
			if err != nil {
				fmt.Println("usage: vol <0-100>")
				continue
			}
			p.SetVolume(level)

		case "find":
			if len(args) == 0 {
				fmt.Println("usage: find <query>")
				continue
			}
			track, ok := searcher.FindTrack(strings.Join(args, " "), p.Queue().Tracks())
			if !ok {
				fmt.Println("no match")
				continue
			}
			p.PlayTrackByID(track.ID)

		case "cover":
			if len(args) != 2 {
				fmt.Println("usage: cover <album-id> <size>")
				continue
			}
			size, err := strconv.Atoi(args[1])
			if err != nil || size <= 0 {
				fmt.Println("usage: cover <album-id> <size>")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			blob, err := imgs.Cover(ctx, args[0], size)
			cancel()
			if err != nil {
				fmt.Printf("cover fetch failed: %v\n", err)
				continue
			}
			fmt.Printf("cover cached (%d bytes)\n", len(blob.Data))

		case "status":
			printStatus(p.Status())

		case "quit", "exit":
			logger.Info("shutting down")
			return nil

		default:
			fmt.Println(replHelp)
		}
	}
}

func parsePercent(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected one argument")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 100 {
		return 0, fmt.Errorf("out of range")
	}
	return n, nil
}

func printStatus(st player.Status) {
	if !st.HasTrack {
		fmt.Println("queue empty")
		return
	}
	state := "paused"
	if st.IsPlaying {
		state = "playing"
	}
	if st.IsBuffering {
		state += " (buffering)"
	}
	fmt.Printf("%s — %s [%s] %s / -%s  vol %d  shuffle %v  repeat %s\n",
		st.Track.Title, st.Track.ArtistLine(), state,
		st.Progress.Elapsed.Round(time.Second), st.Progress.Remaining.Round(time.Second),
		st.Volume, st.Shuffle, st.Repeat)
}
