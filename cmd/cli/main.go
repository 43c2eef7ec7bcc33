package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-pkgz/lgr"
	flags "github.com/umputun/go-flags"

	"github.com/parMaster/meetsync/client"
	"github.com/parMaster/meetsync/config"
	"github.com/parMaster/meetsync/repo"
	"github.com/parMaster/meetsync/storage"
	"github.com/parMaster/meetsync/storage/bolt"
	"github.com/parMaster/meetsync/storage/sqlite"
)

type Commander struct {
	cfg     *config.Parameters
	client  *client.APIClient
	store   storage.Storer
	markers storage.MarkerStorer
}

func NewCommander(ctx context.Context, conf *config.Parameters) *Commander {
	return &Commander{cfg: conf, client: client.NewAPIClient(ctx, conf.Gateway)}
}

func (s *Commander) Run(ctx context.Context, opts Options) error {
	log.Printf("[INFO] starting cli commander")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := LoadStorage(ctx, s.cfg.Storage, &s.store); err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	markers, err := bolt.NewMarkerStorage(ctx, s.cfg.Storage.MarkersPath)
	if err != nil {
		return fmt.Errorf("failed to init markers storage: %w", err)
	}
	s.markers = markers

	userId := opts.User
	if userId == "" {
		userId = s.cfg.Server.UserId
	}

	engine := repo.NewEngine(s.client, client.NewTransfer(), s.store, s.markers, s.cfg)
	meetings := repo.NewMeetingService(s.client, s.store)

	switch opts.Cmd {
	case "sync":
		log.Printf("[INFO] starting sync for %s", userId)
		res, err := repo.NewSynchronizer(s.client, s.store, s.cfg.Sync).Sync(ctx, userId)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		log.Printf("[INFO] sync: OK, %d remote, %d saved, %d failed in %v", res.Remote, res.Saved, res.Failed, res.Duration)
	case "upload":
		artifact := repo.Artifact{Path: opts.File, Name: filepath.Base(opts.File)}
		if opts.URL != "" {
			if artifact, err = repo.NewImporter(s.cfg.Storage).Import(ctx, opts.URL); err != nil {
				return fmt.Errorf("import: %w", err)
			}
		}
		// Ctrl-C cancels the upload, or stops watching once the job is submitted
		snap, err := engine.Run(ctx, repo.StartRequest{UserId: userId, Title: opts.Title, Artifact: artifact})
		if errors.Is(err, repo.ErrBudgetExhausted) || (errors.Is(err, repo.ErrCancelled) && snap.EventId != "") {
			log.Printf("[INFO] %s is still processing, resume it with '--cmd resume --event %s'", snap.EventId, snap.EventId)
			return nil
		}
		if err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		log.Printf("[INFO] upload: OK, %s is ready", snap.EventId)
	case "pending":
		pending, err := engine.Recover(ctx)
		if err != nil {
			return fmt.Errorf("pending: %w", err)
		}
		for _, m := range pending {
			log.Printf("[INFO] %s %q submitted at %s", m.EventId, m.Title, m.SubmittedAt.Local().Format("2006-01-02 15:04:05"))
		}
		log.Printf("[INFO] pending: %d jobs", len(pending))
	case "resume":
		if opts.Event == "" {
			n, err := engine.ResumeAll(ctx)
			if err != nil {
				return fmt.Errorf("resume: %w", err)
			}
			log.Printf("[INFO] resuming %d jobs", n)
		} else if _, err := engine.Resume(ctx, opts.Event); err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		engine.Wait()
	case "dismiss":
		if opts.Event == "" {
			return errors.New("dismiss: '--event' option is not set")
		}
		if err := engine.Dismiss(ctx, opts.Event); err != nil {
			return fmt.Errorf("dismiss: %w", err)
		}
	case "delete":
		if opts.Event == "" {
			return errors.New("delete: '--event' option is not set")
		}
		if err := meetings.Delete(ctx, opts.Event); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
	case "rename":
		if opts.Event == "" || opts.Title == "" {
			return errors.New("rename: '--event' and '--title' options are required")
		}
		m, err := meetings.Rename(ctx, opts.Event, opts.Title)
		if err != nil {
			return fmt.Errorf("rename: %w", err)
		}
		log.Printf("[INFO] rename: OK, %s is %q", m.EventId, m.Title)
	default:
		if err := s.ShowUI(ctx, userId); err != nil {
			return err
		}
	}

	log.Printf("[INFO] cli job done\n*********************************")
	return nil
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

type Options struct {
	Config string `long:"config" env:"CONFIG" default:"config_cli.yml" description:"yaml config file name"`
	Dbg    bool   `long:"dbg" env:"DEBUG" description:"show debug info"`
	Cmd    string `long:"cmd" description:"run command: sync, upload, pending, resume, dismiss, delete, rename"`
	User   string `long:"user" description:"user id, server.user_id of the config by default"`
	File   string `long:"file" description:"recording to upload"`
	URL    string `long:"url" description:"remote recording to download and upload"`
	Title  string `long:"title" description:"meeting title"`
	Event  string `long:"event" description:"event id of the meeting or the pending job"`
}

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

	if err := NewCommander(ctx, conf).Run(ctx, opts); err != nil {
		log.Printf("[ERROR] Commander returned error: %v\n", err)
	}
}
