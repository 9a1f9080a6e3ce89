package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/leeineian/melody/catalog"
	"github.com/leeineian/melody/home"
	"github.com/leeineian/melody/music"
	"github.com/leeineian/melody/proc"
	"github.com/leeineian/melody/sys"
	"golang.org/x/time/rate"
)

const pidFile = ".bot.pid"

func main() {
	// LogFatal panics so that deferred cleanup still runs.
	defer func() {
		if r := recover(); r != nil {
			if msg, ok := r.(string); ok {
				fmt.Fprintf(os.Stderr, "\n[FATAL] %s\n", msg)
				os.Exit(1)
			}
			panic(r)
		}
	}()

	silent := flag.Bool("silent", false, "Disable all log output")
	skipReg := flag.Bool("skip-reg", false, "Skip command registration")
	forceReg := flag.Bool("force-reg", false, "Re-register commands even if unchanged")
	flag.Parse()

	sys.InitLogger(*silent, true)

	cfg, err := sys.LoadConfig()
	if err != nil {
		sys.LogFatal(sys.MsgConfigFailedToLoad, err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		sys.LogFatal("Failed to create data directory: %v", err)
	}
	if err := sys.InitDatabase(context.Background(), cfg.DatabasePath); err != nil {
		sys.LogFatal("Failed to initialize database: %v", err)
	}
	defer sys.CloseDatabase()

	sys.LogInfo(sys.MsgBotStarting, sys.GetProjectName())

	unlock := lockPID()
	defer unlock()

	if err := run(cfg, *silent, *skipReg, *forceReg); err != nil {
		sys.LogFatal(sys.MsgGenericError, err)
	}
}

// lockPID takes an exclusive lock on the PID file, terminating any instance
// that still holds it.
func lockPID() func() {
	f, err := os.OpenFile(pidFile, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		sys.LogFatal("Failed to open PID file: %v", err)
	}

	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			sys.LogFatal("Failed to lock PID file: %v", err)
		}

		var oldPid int
		_, _ = f.Seek(0, 0)
		if _, err := fmt.Fscanf(f, "%d", &oldPid); err != nil || oldPid == os.Getpid() {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		terminate(oldPid)
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d", os.Getpid())
	_ = f.Sync()

	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		_ = os.Remove(pidFile)
	}
}

func terminate(pid int) {
	process, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	sys.LogInfo(sys.MsgBotKillingOld, pid)
	_ = process.Signal(syscall.SIGTERM)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if process.Signal(syscall.Signal(0)) != nil {
			sys.LogInfo(sys.MsgBotOldTerminated)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	sys.LogWarn("Old process %d is stubborn. Sending SIGKILL...", pid)
	_ = process.Signal(syscall.SIGKILL)
	time.Sleep(500 * time.Millisecond)
}

func run(cfg *sys.Config, silent, skipReg, forceReg bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	sys.SetAppContext(ctx)
	astiav.SetLogLevel(astiav.LogLevelFatal)

	cache := music.OpenCache(filepath.Join(cfg.DataDir, "track_cache.json"), cfg.CacheTTL, sys.ComponentLogger("cache"))
	queues := music.NewQueueStore(filepath.Join(cfg.DataDir, "queues"), sys.ComponentLogger("queue"))

	autoplaylist := music.LoadAutoplaylist(cfg.AutoplaylistFile, cfg.AutoplaylistPrune, sys.ComponentLogger("autoplaylist"))
	sys.LogAutoplaylist(sys.MsgAutoplaylistLoaded, autoplaylist.Len(), cfg.AutoplaylistFile)

	resolverLog := sys.ComponentLogger("resolver")
	finder := catalog.NewFinder(resolverLog)
	ytdlp := catalog.NewYtdlp(cfg.YtdlpPath, cfg.YoutubeProxy, finder, resolverLog)
	spotify := catalog.NewSpotify(cfg.SpotifyClientID, cfg.SpotifyClientSecret, sys.HttpClient, resolverLog)
	if !cfg.HasSpotifyCredentials() {
		sys.LogWarn("Spotify credentials are not set, only single tracks can be resolved")
	}

	resolver := music.NewResolver(ytdlp, []music.MetadataProvider{spotify}, cache, home.SkipLog{}, music.ResolverOptions{
		BatchSize:   cfg.ResolveBatchSize,
		Concurrency: cfg.ResolveConcurrency,
		Timeout:     cfg.ResolveTimeout,
		Limiter:     rate.NewLimiter(rate.Limit(cfg.ResolveRate), cfg.ResolveConcurrency),
	}, resolverLog)

	client, err := sys.CreateClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}
	defer client.Close(context.Background())

	transport := proc.NewVoiceTransport(client, sys.ComponentLogger("voice"))
	// Rooms outlive the signal context so that Shutdown can still reach them.
	registry := music.NewRegistry(context.WithoutCancel(ctx), music.Deps{
		Queue:        queues,
		Cache:        cache,
		Autoplaylist: autoplaylist,
		Resolver:     resolver,
		Links:        ytdlp,
		Transport:    transport,
		Notifier:     home.NewChannelNotifier(client),
		Settings:     home.Settings{},
		MaxRetries:   cfg.MaxRetries,
		Logger:       sys.ComponentLogger("room"),
	})

	home.Setup(home.Env{
		Registry:     registry,
		Finder:       finder,
		Autoplaylist: autoplaylist,
		Cache:        cache,
		Transport:    transport,
	})
	proc.WatchAutoplaylist(autoplaylist)
	proc.RotatePresence(registry, autoplaylist)

	if !skipReg {
		if err := sys.RegisterCommands(client, cfg.GuildID, forceReg); err != nil {
			sys.LogError(sys.MsgBotRegisterFail, err)
		}
	} else {
		sys.LogInfo("Skipping command registration as requested.")
	}

	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	<-ctx.Done()
	if !silent {
		fmt.Println()
	}

	if botUser, ok := client.Caches.SelfUser(); ok {
		sys.LogInfo(sys.MsgBotShutdown, botUser.Username)
	} else {
		sys.LogInfo(sys.MsgBotShutdown, sys.GetProjectName())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	registry.Shutdown(shutdownCtx)
	transport.Shutdown(shutdownCtx)
	sys.ShutdownDaemons(shutdownCtx)
	return nil
}
