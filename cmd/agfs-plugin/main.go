package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/huanghantao/agfs/pkg/filesystem"
	"github.com/huanghantao/agfs/pkg/plugin"
	"github.com/huanghantao/agfs/pkg/plugin/api"
	"github.com/huanghantao/agfs/pkg/plugin/config"
)

// Env collects environment defaults so scripted runs need no flags.
type Env struct {
	Plugin string `envconfig:"AGFS_PLUGIN" default:""`
	Config string `envconfig:"AGFS_PLUGIN_CONFIG" default:""`
	Debug  bool   `envconfig:"AGFS_PLUGIN_DEBUG" default:"false"`
}

// kvFlags accumulates repeated -set key=value flags.
type kvFlags []string

func (f *kvFlags) String() string {
	return strings.Join(*f, ",")
}

func (f *kvFlags) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		log.Fatalf("Read environment failed: %v", err)
	}

	var sets kvFlags
	var (
		pluginPath = flag.String("plugin", env.Plugin, "Path to a .so or .wasm plugin")
		configPath = flag.String("config", env.Config, "YAML configuration file passed to the plugin")
		debug      = flag.Bool("debug", env.Debug, "Enable debug output")
	)
	flag.Var(&sets, "set", "Configuration override key=value (repeatable)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Inspect a filesystem plugin without mounting it.\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  info            Show plugin name, config parameters and readme\n")
		fmt.Fprintf(os.Stderr, "  ls [path]       List a directory (default /)\n")
		fmt.Fprintf(os.Stderr, "  cat <path>      Print file content\n")
		fmt.Fprintf(os.Stderr, "  stat [path]     Show file details (default /)\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -plugin ./memfs.so info\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -plugin ./hellofs.wasm cat /hello\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -plugin ./sqlfs.so -set backend=sqlite -set db_path=/tmp/fs.db ls /\n", os.Args[0])
	}

	flag.Parse()

	log.SetOutput(os.Stderr)
	if *debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}

	if *pluginPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -plugin is required (or set AGFS_PLUGIN)\n\n")
		flag.Usage()
		os.Exit(1)
	}
	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "info"
	}

	cfg, err := loadConfig(*configPath, sets)
	if err != nil {
		log.Fatalf("Load configuration failed: %v", err)
	}

	p, closeHost, err := loadPlugin(*pluginPath)
	if err != nil {
		log.Fatalf("Load plugin %s failed: %v", *pluginPath, err)
	}

	var once sync.Once
	initialized := false
	cleanup := func() {
		once.Do(func() {
			if initialized {
				if err := p.Shutdown(); err != nil {
					log.Warnf("Shutdown failed: %v", err)
				}
			}
			closeHost()
		})
	}
	defer cleanup()

	// A plugin may hold real resources once initialized, so Ctrl+C during a
	// long cat still releases them.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cleanup()
		os.Exit(1)
	}()

	switch cmd {
	case "info":
		runInfo(p)

	case "ls", "cat", "stat":
		if err := p.Validate(cfg); err != nil {
			log.Fatalf("Configuration rejected: %v", err)
		}
		if err := p.Initialize(cfg); err != nil {
			log.Fatalf("Initialize failed: %v", err)
		}
		initialized = true

		fs := p.GetFileSystem()
		if fs == nil {
			log.Fatalf("Plugin %s returned no filesystem", p.Name())
		}

		path := flag.Arg(1)
		switch cmd {
		case "ls":
			err = runLs(fs, path)
		case "cat":
			if path == "" {
				log.Fatalf("cat needs a path")
			}
			err = runCat(fs, path)
		case "stat":
			err = runStat(fs, path)
		}
		if err != nil {
			log.Fatalf("%s failed: %v", cmd, err)
		}

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(1)
	}
}

// loadConfig builds the plugin configuration from an optional YAML file and
// -set overrides.
func loadConfig(path string, sets kvFlags) (*config.Config, error) {
	cfg := config.New()
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid -set %q (want key=value)", kv)
		}
		cfg.Set(k, v)
	}
	return cfg, nil
}

// loadPlugin picks the binding from the file extension: .wasm goes through
// the sandboxed runtime, everything else through the native loader.
func loadPlugin(path string) (plugin.ServicePlugin, func(), error) {
	if strings.HasSuffix(path, ".wasm") {
		rt := api.NewWASMRuntime(context.Background())
		p, err := rt.Load(path)
		if err != nil {
			rt.Close()
			return nil, nil, err
		}
		return p, func() {
			if err := rt.Close(); err != nil {
				log.Warnf("Close runtime failed: %v", err)
			}
		}, nil
	}

	p, err := api.LoadNativePlugin(path)
	if err != nil {
		return nil, nil, err
	}
	return p, func() {}, nil
}

func runInfo(p plugin.ServicePlugin) {
	fmt.Printf("Plugin: %s\n", p.Name())

	if params := p.GetConfigParams(); len(params) > 0 {
		fmt.Printf("\nConfiguration parameters:\n")
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tTYPE\tREQUIRED\tDEFAULT\tDESCRIPTION")
		for _, param := range params {
			def := param.Default
			if def == "" {
				def = "-"
			}
			fmt.Fprintf(w, "  %s\t%s\t%v\t%s\t%s\n", param.Name, param.Type, param.Required, def, param.Description)
		}
		w.Flush()
	}

	fmt.Printf("\n%s\n", p.GetReadme())
}

func runLs(fs filesystem.FileSystem, path string) error {
	if path == "" {
		path = "/"
	}
	entries, err := fs.ReadDir(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name
		fm := os.FileMode(e.Mode & 0777)
		if e.IsDir {
			fm |= os.ModeDir
			name += "/"
		}
		mtime := "-"
		if !e.ModTime.IsZero() {
			mtime = e.ModTime.Format(time.RFC3339)
		}
		fmt.Printf("%s %10d  %-20s  %s\n", fm.String(), e.Size, mtime, name)
	}
	return nil
}

func runCat(fs filesystem.FileSystem, path string) error {
	rc, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(os.Stdout, rc)
	return err
}

func runStat(fs filesystem.FileSystem, path string) error {
	if path == "" {
		path = "/"
	}
	info, err := fs.Stat(path)
	if err != nil {
		return err
	}

	fm := os.FileMode(info.Mode & 0777)
	if info.IsDir {
		fm |= os.ModeDir
	}
	fmt.Printf("Name:    %s\n", info.Name)
	fmt.Printf("Size:    %d\n", info.Size)
	fmt.Printf("Mode:    %04o (%s)\n", info.Mode, fm.String())
	if info.ModTime.IsZero() {
		fmt.Printf("ModTime: -\n")
	} else {
		fmt.Printf("ModTime: %s\n", info.ModTime.Format(time.RFC3339))
	}
	fmt.Printf("IsDir:   %v\n", info.IsDir)
	fmt.Printf("Plugin:  %s\n", info.Meta.Name)
	fmt.Printf("Type:    %s\n", info.Meta.Type)
	if len(info.Meta.Content) > 0 {
		blob, err := sonic.MarshalString(info.Meta.Content)
		if err != nil {
			return err
		}
		fmt.Printf("Meta:    %s\n", blob)
	}
	return nil
}
