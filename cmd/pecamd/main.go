package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/go-chi/chi"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"
	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/pecam/camera"
	"github.com/nasa-jpl/pecam/generichttp"
	"github.com/nasa-jpl/pecam/imgrec"
	"github.com/nasa-jpl/pecam/pecam"
	"github.com/nasa-jpl/pecam/roi"
	"github.com/nasa-jpl/pecam/server/middleware/locker"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "pecamd.yml"
	k              = koanf.New(".")
)

const pkg = "pecamd: "

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root" koanf:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix" koanf:"Prefix"`
}

type logConfig struct {
	// File is the path of the log file, rotated by size
	File string `yaml:"File" koanf:"File"`

	// Level is one of Debug, Info, Warning, Error
	Level string `yaml:"Level" koanf:"Level"`

	// MaxSize is the size in MB at which the file is rotated
	MaxSize int `yaml:"MaxSize" koanf:"MaxSize"`

	// MaxBackups is the number of rotated files kept
	MaxBackups int `yaml:"MaxBackups" koanf:"MaxBackups"`

	// MaxAge is the number of days rotated files are kept
	MaxAge int `yaml:"MaxAge" koanf:"MaxAge"`
}

type mockConfig struct {
	Width     int     `yaml:"Width" koanf:"Width"`
	Height    int     `yaml:"Height" koanf:"Height"`
	FrameRate float64 `yaml:"FrameRate" koanf:"FrameRate"`
	Level     uint16  `yaml:"Level" koanf:"Level"`
}

type config struct {
	Addr        string       `yaml:"Addr" koanf:"Addr"`
	Root        string       `yaml:"Root" koanf:"Root"`
	Driver      string       `yaml:"Driver" koanf:"Driver"`
	CameraIndex int          `yaml:"CameraIndex" koanf:"CameraIndex"`
	ROIFile     string       `yaml:"ROIFile" koanf:"ROIFile"`
	AutoStart   bool         `yaml:"AutoStart" koanf:"AutoStart"`
	Metrics     bool         `yaml:"Metrics" koanf:"Metrics"`
	Log         logConfig    `yaml:"Log" koanf:"Log"`
	Recorder    recorder     `yaml:"Recorder" koanf:"Recorder"`
	Mock        mockConfig   `yaml:"Mock" koanf:"Mock"`
	Camera      pecam.Config `yaml:"Camera" koanf:"Camera"`
}

// driver makes the opener for a camera
type driver func(config) (camera.Opener, error)

// drivers are the camera drivers compiled in.  Hardware drivers add
// themselves under build tags.
var drivers = map[string]driver{
	"mock": func(c config) (camera.Opener, error) {
		m := camera.NewMock(c.Mock.Width, c.Mock.Height)
		m.FrameRate = c.Mock.FrameRate
		m.Level = c.Mock.Level
		// a slow diagonal ramp so the preview has something to show
		m.Pattern = func(x, y, n int) uint16 {
			return c.Mock.Level + uint16((x+y+4*n)%256)
		}
		return m.Opener(), nil
	},
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:    ":8000",
		Root:    "/",
		Driver:  "mock",
		ROIFile: "rois.json",
		Metrics: true,
		Log: logConfig{
			File:       "pecamd.log",
			Level:      "Info",
			MaxSize:    500,
			MaxBackups: 10,
			MaxAge:     28,
		},
		Mock:   mockConfig{Width: 2048, Height: 2048, FrameRate: 5, Level: 1100},
		Camera: pecam.DefaultConfig(),
	}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `pecamd runs a photoelectron camera over HTTP
It acquires frames continuously, converts them to photoelectrons,
reports totals over the frame and over regions of interest, and
logs them to SQLite files while external triggering is on.

Usage:
	pecamd <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	str := `pecamd is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.
The command mkconf generates the configuration file with the default values.

Driver selects the camera.  This build includes: %s
The mock driver simulates a sensor of Mock.Width x Mock.Height free running at
Mock.FrameRate.

The Camera section holds the starting acquisition parameters.  Exposure, trigger,
crop and scan mode can be changed over HTTP while running; the values in the
file are not updated.

ROI definitions are kept in ROIFile and rewritten on every change.
Time series logs are written to Camera.LogDir as full_frame.sqlite and
roi_<name>.sqlite, and are recreated each time a triggered session starts.

GET /endpoints lists the HTTP interface.`
	fmt.Printf(str+"\n", strings.Join(names, ", "))
}

func loadconf() config {
	c := config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func mkconf() {
	c := loadconf()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconf()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("pecamd version %v\n", Version)
}

func logLevel(s string) int8 {
	switch strings.ToLower(s) {
	case "debug":
		return logging.Debug
	case "warning":
		return logging.Warning
	case "error":
		return logging.Error
	default:
		return logging.Info
	}
}

func run() {
	cfg := loadconf()

	var w io.Writer = os.Stderr
	if cfg.Log.File != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSize,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAge,
		})
	}
	l := logging.New(logLevel(cfg.Log.Level), w, true)
	l.Info(pkg+"starting", "version", Version, "driver", cfg.Driver)

	mk, ok := drivers[strings.ToLower(cfg.Driver)]
	if !ok {
		l.Fatal(pkg+"unknown camera driver, see pecamd help", "driver", cfg.Driver)
	}
	open, err := mk(cfg)
	if err != nil {
		l.Fatal(pkg+"could not set up camera driver", "error", err)
	}

	svc, err := pecam.New(cfg.Camera, open, roi.FileStore{Path: cfg.ROIFile}, l)
	if err != nil {
		l.Fatal(pkg+"invalid configuration", "error", err)
	}

	rec := &imgrec.Recorder{Root: cfg.Recorder.Root, Prefix: cfg.Recorder.Prefix}
	hw := pecam.NewHTTPWrapper(svc, rec, l)
	lck := locker.New()
	locker.Inject(hw, lck)

	// clean up the submux string
	hndlrS := generichttp.SubMuxSanitize(cfg.Root)
	rootMux := chi.NewRouter()
	mux := chi.NewRouter()
	mux.Use(lck.Check)
	hw.RT().Bind(mux)
	rootMux.Mount(hndlrS, mux)

	if cfg.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := pecam.RegisterMetrics(reg, svc); err != nil {
			l.Fatal(pkg+"could not register metrics", "error", err)
		}
		rootMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	if cfg.AutoStart {
		if err := svc.Start(); err != nil {
			l.Error(pkg+"could not start acquisition at boot", "error", err)
		}
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: rootMux}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		l.Info(pkg + "shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	l.Info(pkg+"now listening for requests", "addr", cfg.Addr+hndlrS)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		l.Error(pkg+"server failed", "error", err)
	}
	if err := svc.Close(); err != nil {
		l.Error(pkg+"error closing camera service", "error", err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
