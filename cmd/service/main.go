package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parMaster/meetsync/client"
	"github.com/parMaster/meetsync/config"
	"github.com/parMaster/meetsync/repo"
	"github.com/parMaster/meetsync/storage"
	"github.com/parMaster/meetsync/storage/bolt"
	"github.com/parMaster/meetsync/storage/model"
	"github.com/parMaster/meetsync/storage/sqlite"

	"github.com/parMaster/mcache"

	"github.com/go-pkgz/lgr"
	flags "github.com/umputun/go-flags"
)

type Server struct {
	cfg      *config.Parameters
	gw       repo.Gateway
	store    *storage.Cached
	engine   *repo.Engine
	sync     *repo.Synchronizer
	meetings *repo.MeetingService
	importer *repo.Importer
	feed     *feed
	cache    mcache.Cacher
	trigger  chan struct{}
	jobsCtx  context.Context // outlives requests, jobs started by the api run in it
}

func NewServer(conf *config.Parameters) *Server {
	return &Server{cfg: conf, feed: newFeed(100), cache: mcache.NewCache(), trigger: make(chan struct{}, 1)}
}

func LoadStorage(ctx context.Context, cfg config.Storage, s *storage.Storer) error {
	var err error
	switch cfg.Type {
	case "sqlite":
		*s, err = sqlite.NewStorage(ctx, cfg.Path)
		if err != nil {
			return fmt.Errorf("failed to init SQLite storage: %w", err)
		}
	case "":
		return errors.New("storage is not configured")
	default:
		return fmt.Errorf("storage type %s is not supported", cfg.Type)
	}
	return err
}

// setup wires the engine, the synchronizer and the meeting service around the stores
func (s *Server) setup(ctx context.Context, gw repo.Gateway, tr repo.Transferer, store storage.Storer, markers storage.MarkerStorer) {
	s.jobsCtx = ctx
	s.gw = gw
	s.store = storage.NewCached(store, s.cfg.Storage.CacheTTL)
	s.store.OnInvalidate(func(userId, eventId string) {
		s.feed.Notify(model.Event{Kind: model.EventInvalidated, UserId: userId, EventId: eventId, At: time.Now()})
	})

	notify := repo.WithNotifier(repo.Notifiers{repo.LogNotifier{}, s.feed})
	s.engine = repo.NewEngine(gw, tr, s.store, markers, s.cfg, notify)
	s.sync = repo.NewSynchronizer(gw, s.store, s.cfg.Sync, notify)
	s.meetings = repo.NewMeetingService(gw, s.store)
	s.importer = repo.NewImporter(s.cfg.Storage)
}

func (s *Server) Run(ctx context.Context) {
	var store storage.Storer
	if err := LoadStorage(ctx, s.cfg.Storage, &store); err != nil {
		log.Fatalf("[ERROR] failed to init storage: %v", err)
	}
	markers, err := bolt.NewMarkerStorage(ctx, s.cfg.Storage.MarkersPath)
	if err != nil {
		log.Fatalf("[ERROR] failed to init markers storage: %v", err)
	}

	s.setup(ctx, client.NewAPIClient(ctx, s.cfg.Gateway), client.NewTransfer(), store, markers)

	log.Printf("[INFO] starting server at %s", s.cfg.Server.Listen)
	go s.startServer(ctx)

	if s.cfg.Server.ResumePending {
		n, err := s.engine.ResumeAll(ctx)
		if err != nil {
			log.Printf("[ERROR] failed to resume pending jobs: %v", err)
		}
		log.Printf("[INFO] resumed %d pending jobs", n)
	}

	if s.cfg.Server.UserId != "" {
		log.Printf("[INFO] starting sync job for %s", s.cfg.Server.UserId)
		go s.sync.SyncJob(ctx, s.cfg.Server.UserId, s.trigger)
	}

	<-ctx.Done()
	s.engine.Wait()
}

func (s *Server) startServer(ctx context.Context) {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.router(),
		ReadHeaderTimeout: time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ERROR] http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[INFO] Terminating http server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] shutdown http server: %v", err)
	}
}

type Options struct {
	Config  string `long:"config" env:"CONFIG" default:"config.yml" description:"yaml config file name"`
	Dbg     bool   `long:"dbg" env:"DEBUG" description:"show debug info"`
	Version bool   `short:"v" description:"Show version and exit"`
}

var version = "undefined" // version is set during build

func main() {
	// Parsing cmd parameters
	var opts Options
	p := flags.NewParser(&opts, flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		if err.(*flags.Error).Type != flags.ErrHelp {
			fmt.Printf("%v\n", err)
			os.Exit(1)
		}
		p.WriteHelp(os.Stderr)
		os.Exit(2)
	}

	// Version
	if opts.Version {
		fmt.Printf("Version: %s\n", version)
		os.Exit(0)
	}
	log.Printf("[DEBUG] Pid: %d, ver: %s", os.Getpid(), version)

	conf, err := config.NewConfig(opts.Config)
	if err != nil {
		log.Fatalf("[ERROR] can't load config, %s", err)
	}
	if opts.Dbg {
		conf.Server.Dbg = opts.Dbg
	}

	// Logger setup
	logOpts := []lgr.Option{
		lgr.LevelBraces,
		lgr.StackTraceOnError,
		lgr.Secret(conf.Gateway.Token),
	}
	if conf.Server.Dbg {
		logOpts = append(logOpts, lgr.Debug)
	}
	lgr.SetupStdLogger(logOpts...)

	// Graceful termination
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		log.Println("Shutdown signal received\n*********************************")
		cancel()
	}()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic: %+v", x)
		}
	}()

	NewServer(conf).Run(ctx)
}
