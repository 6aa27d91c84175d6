package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/ini.v1"

	"github.com/popgen/structure-threader/internal/constants"
)

// HarnessConfig holds operator defaults that apply to every sweep. Flags
// given on the command line always win over these values.
//
// INI format:
//
//	[run]
//	threads = 4
//	replicates = 20
//	seed = 1235813
//	log = false
//
//	[interpreters]
//	python = python2
//	rscript = Rscript
//
//	[plot]
//	format = png
//	width_cm = 24
//	height_cm = 8
//
//	[publish]
//	target = s3://bucket/prefix
//	region = eu-west-1
//	endpoint =
//	notify_url =
type HarnessConfig struct {
	Run          RunDefaults
	Interpreters Interpreters
	Plot         PlotDefaults
	Publish      PublishDefaults
}

// RunDefaults are the [run] section values.
type RunDefaults struct {
	Threads    int
	Replicates int
	Seed       int64
	Log        bool
}

// PlotDefaults are the [plot] section values.
type PlotDefaults struct {
	Format   string // "png" or "svg"
	WidthCm  float64
	HeightCm float64
}

// PublishDefaults are the [publish] section values.
type PublishDefaults struct {
	Target    string // s3://bucket/prefix or az://container/prefix
	Region    string
	Endpoint  string
	NotifyURL string
}

// Environment overrides, applied after the file.
const (
	EnvThreads = "THREADER_THREADS"
	EnvSeed    = "THREADER_SEED"
)

// NewHarnessConfig returns the built-in defaults.
func NewHarnessConfig() *HarnessConfig {
	return &HarnessConfig{
		Run: RunDefaults{
			Threads:    constants.DefaultThreads,
			Replicates: constants.DefaultReplicates,
			Seed:       constants.DefaultMasterSeed,
		},
		Interpreters: Interpreters{
			Python:  "python2",
			Rscript: "Rscript",
		},
		Plot: PlotDefaults{
			Format:   "png",
			WidthCm:  constants.DefaultPlotWidthCm,
			HeightCm: constants.DefaultPlotHeightCm,
		},
	}
}

// DefaultHarnessConfigPath returns the per-user location of threader.ini.
func DefaultHarnessConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "structure-threader", "threader.ini"), nil
}

// LoadHarnessConfig reads path (or the default location when empty).
// A missing file yields the defaults and no error; a malformed one is an error.
func LoadHarnessConfig(path string) (*HarnessConfig, error) {
	cfg := NewHarnessConfig()

	if path == "" {
		var err error
		path, err = DefaultHarnessConfigPath()
		if err != nil {
			return cfg.applyEnv()
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg.applyEnv()
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	run := iniFile.Section("run")
	cfg.Run.Threads = run.Key("threads").MustInt(cfg.Run.Threads)
	cfg.Run.Replicates = run.Key("replicates").MustInt(cfg.Run.Replicates)
	cfg.Run.Seed = run.Key("seed").MustInt64(cfg.Run.Seed)
	cfg.Run.Log = run.Key("log").MustBool(false)

	interp := iniFile.Section("interpreters")
	cfg.Interpreters.Python = interp.Key("python").MustString(cfg.Interpreters.Python)
	cfg.Interpreters.Rscript = interp.Key("rscript").MustString(cfg.Interpreters.Rscript)

	plot := iniFile.Section("plot")
	cfg.Plot.Format = plot.Key("format").In(cfg.Plot.Format, []string{"png", "svg"})
	cfg.Plot.WidthCm = plot.Key("width_cm").MustFloat64(cfg.Plot.WidthCm)
	cfg.Plot.HeightCm = plot.Key("height_cm").MustFloat64(cfg.Plot.HeightCm)

	publish := iniFile.Section("publish")
	cfg.Publish.Target = publish.Key("target").String()
	cfg.Publish.Region = publish.Key("region").String()
	cfg.Publish.Endpoint = publish.Key("endpoint").String()
	cfg.Publish.NotifyURL = publish.Key("notify_url").String()

	return cfg.applyEnv()
}

func (cfg *HarnessConfig) applyEnv() (*HarnessConfig, error) {
	if v := os.Getenv(EnvThreads); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s=%q: %w", EnvThreads, v, err)
		}
		cfg.Run.Threads = n
	}
	if v := os.Getenv(EnvSeed); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s=%q: %w", EnvSeed, v, err)
		}
		cfg.Run.Seed = n
	}
	return cfg, nil
}

// SaveHarnessConfig writes cfg to path, creating parent directories.
func SaveHarnessConfig(cfg *HarnessConfig, path string) error {
	if path == "" {
		var err error
		path, err = DefaultHarnessConfigPath()
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	run, err := iniFile.NewSection("run")
	if err != nil {
		return fmt.Errorf("failed to create run section: %w", err)
	}
	run.Key("threads").SetValue(strconv.Itoa(cfg.Run.Threads))
	run.Key("replicates").SetValue(strconv.Itoa(cfg.Run.Replicates))
	run.Key("seed").SetValue(strconv.FormatInt(cfg.Run.Seed, 10))
	run.Key("log").SetValue(strconv.FormatBool(cfg.Run.Log))

	interp, err := iniFile.NewSection("interpreters")
	if err != nil {
		return fmt.Errorf("failed to create interpreters section: %w", err)
	}
	interp.Key("python").SetValue(cfg.Interpreters.Python)
	interp.Key("rscript").SetValue(cfg.Interpreters.Rscript)

	plot, err := iniFile.NewSection("plot")
	if err != nil {
		return fmt.Errorf("failed to create plot section: %w", err)
	}
	plot.Key("format").SetValue(cfg.Plot.Format)
	plot.Key("width_cm").SetValue(strconv.FormatFloat(cfg.Plot.WidthCm, 'g', -1, 64))
	plot.Key("height_cm").SetValue(strconv.FormatFloat(cfg.Plot.HeightCm, 'g', -1, 64))

	publish, err := iniFile.NewSection("publish")
	if err != nil {
		return fmt.Errorf("failed to create publish section: %w", err)
	}
	publish.Key("target").SetValue(cfg.Publish.Target)
	publish.Key("region").SetValue(cfg.Publish.Region)
	publish.Key("endpoint").SetValue(cfg.Publish.Endpoint)
	publish.Key("notify_url").SetValue(cfg.Publish.NotifyURL)

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}
