package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/parMaster/meetsync/storage/model"
	"gopkg.in/yaml.v3"
)

// Parameters is the main configuration struct
type Parameters struct {
	Server  Server  `yaml:"server"`
	Gateway Gateway `yaml:"gateway"`
	Storage Storage `yaml:"storage"`
	Upload  Upload  `yaml:"upload"`
	Submit  Submit  `yaml:"submit"`
	Poll    Poll    `yaml:"poll"`
	Sync    Sync    `yaml:"sync"`
}

type Server struct {
	Listen        string `yaml:"listen"`         // Address or/and Port for http server to listen to
	Dbg           bool   `yaml:"dbg"`            // Debug mode
	UserId        string `yaml:"user_id"`        // user whose meetings are synced
	ResumePending bool   `yaml:"resume_pending"` // resume watching pending jobs on start
}

// Gateway is the remote meeting service configuration
type Gateway struct {
	BaseURL      string        `yaml:"base_url"`
	Token        string        `yaml:"token"`
	Timeout      time.Duration `yaml:"timeout"`       // per request, not applied to uploads
	ProbeTimeout time.Duration `yaml:"probe_timeout"` // connectivity check
}

type Storage struct {
	// Type of storage to use
	// Currently supported: sqlite
	Type        string         `yaml:"type"`
	Path        string         `yaml:"path"`         // Path to the database file
	MarkersPath string         `yaml:"markers_path"` // bolt file with pending job markers
	CacheTTL    int64          `yaml:"cache_ttl"`    // seconds
	ImportDir   string         `yaml:"import_dir"`   // remote artifacts are downloaded here
	KeepFree    model.FileSize `yaml:"keep_free"`    // refuse imports leaving less free space
}

// Upload thresholds only change messaging and poll cadence
type Upload struct {
	LargeSize       model.FileSize `yaml:"large_size"`
	VeryLargeSize   model.FileSize `yaml:"very_large_size"`
	SettleLarge     time.Duration  `yaml:"settle_large"`
	SettleVeryLarge time.Duration  `yaml:"settle_very_large"`
	ContentType     string         `yaml:"content_type"`
}

type Submit struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Factor         float64       `yaml:"factor"`
	OverloadFactor float64       `yaml:"overload_factor"`
}

type Poll struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	Interval         time.Duration `yaml:"interval"`
	LargeWidenAfter  int           `yaml:"large_widen_after"`
	LargeWidenFactor float64       `yaml:"large_widen_factor"`
	MaxErrors        int           `yaml:"max_errors"`
	MaxErrorsLarge   int           `yaml:"max_errors_large"`
	NotifyEvery      int           `yaml:"notify_every"`
	NotifyEveryLarge int           `yaml:"notify_every_large"`
}

type Sync struct {
	Interval time.Duration `yaml:"interval"`
	PageSize int           `yaml:"page_size"`
}

// NewConfig creates a new Parameters from the given file
func NewConfig(fname string) (*Parameters, error) {
	p := &Parameters{}
	data, err := os.ReadFile(fname)
	if err != nil {
		log.Printf("[ERROR] can't read config %s: %v", fname, err)
		return nil, fmt.Errorf("can't read config %s: %w", fname, err)
	}
	if err = yaml.Unmarshal(data, &p); err != nil {
		log.Printf("[ERROR] failed to parse config %s: %v", fname, err)
		return nil, fmt.Errorf("failed to parse config %s: %w", fname, err)
	}
	p.SetDefaults()
	return p, nil
}

// Default returns parameters with every default applied
func Default() *Parameters {
	p := &Parameters{}
	p.SetDefaults()
	return p
}

// SetDefaults fills zero values
func (p *Parameters) SetDefaults() {
	setDefault(&p.Server.Listen, ":8099")
	setDefault(&p.Gateway.Timeout, 30*time.Second)
	setDefault(&p.Gateway.ProbeTimeout, 5*time.Second)

	setDefault(&p.Storage.Type, "sqlite")
	setDefault(&p.Storage.Path, "file:meetsync.db?mode=rwc&_journal_mode=WAL")
	setDefault(&p.Storage.MarkersPath, "markers.db")
	setDefault(&p.Storage.CacheTTL, 600)
	setDefault(&p.Storage.ImportDir, os.TempDir())

	setDefault(&p.Upload.LargeSize, 50*1024*1024)
	setDefault(&p.Upload.VeryLargeSize, 100*1024*1024)
	setDefault(&p.Upload.SettleLarge, 5*time.Second)
	setDefault(&p.Upload.SettleVeryLarge, 10*time.Second)
	setDefault(&p.Upload.ContentType, "audio/mp4")

	setDefault(&p.Submit.MaxAttempts, 10)
	setDefault(&p.Submit.BaseDelay, 10*time.Second)
	setDefault(&p.Submit.MaxDelay, 120*time.Second)
	setDefault(&p.Submit.Factor, 1.5)
	setDefault(&p.Submit.OverloadFactor, 2)

	setDefault(&p.Poll.MaxAttempts, 60)
	setDefault(&p.Poll.Interval, 15*time.Second)
	setDefault(&p.Poll.LargeWidenAfter, 10)
	setDefault(&p.Poll.LargeWidenFactor, 1.5)
	setDefault(&p.Poll.MaxErrors, 5)
	setDefault(&p.Poll.MaxErrorsLarge, 10)
	setDefault(&p.Poll.NotifyEvery, 3)
	setDefault(&p.Poll.NotifyEveryLarge, 2)

	setDefault(&p.Sync.Interval, 5*time.Minute)
	setDefault(&p.Sync.PageSize, 1000)
}

func setDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}
