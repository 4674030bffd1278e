// keyrecalld captures local keyboard activity, masks PII before it is
// persisted, and serves lexical and semantic search over the stored
// stream.
//
//	keyrecalld daemon            Run the capture pipeline
//	keyrecalld search <query>    Search stored activity
//	keyrecalld stats             Show store statistics
//	keyrecalld rules             Manage masking rules
//	keyrecalld clear             Wipe all stored events
//	keyrecalld vacuum            Compact the database
//
// Builds need the sqlite_fts5 tag so the bundled sqlite driver
// includes the FTS5 extension:
//
//	go build -tags sqlite_fts5 ./cmd/keyrecalld
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"keyrecall/internal/agent"
	"keyrecall/internal/config"
	"keyrecall/internal/embedding"
	"keyrecall/internal/logging"
	"keyrecall/internal/masker"
	"keyrecall/internal/metrics"
	"keyrecall/internal/search"
	"keyrecall/internal/store"
)

var configPath = flag.String("config", "", "path to config file")

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	switch cmd := flag.Arg(0); cmd {
	case "daemon":
		cmdDaemon()
	case "search":
		cmdSearch(flag.Args()[1:])
	case "stats":
		cmdStats()
	case "rules":
		cmdRules(flag.Args()[1:])
	case "clear":
		cmdClear(flag.Args()[1:])
	case "vacuum":
		cmdVacuum()
	case "status":
		cmdStatus()
	case "config":
		cmdConfig()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `keyrecalld - Private local keyboard activity recall

USAGE:
    keyrecalld [options] <command> [args]

COMMANDS:
    daemon              Run the capture pipeline in the foreground
    search <query>      Search stored activity (text, semantic, or hybrid)
    stats               Show store statistics
    rules [action]      List rules; actions: test <text>, add <name> <pattern>,
                        remove <name>
    clear               Delete all stored events and embeddings
    vacuum              Compact the database and optimize the text index
    status              Show daemon and database status
    config              Print the resolved configuration
    help                Show this help message

OPTIONS:
    -config <path>      Path to config file (default: platform config dir)

PRIVACY NOTE:
    Events are masked before they are written to disk. Window titles,
    application names, and typed text never reach storage with raw
    identifiers in them.`)
}

func loadConfig() *config.Config {
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if created {
		fmt.Fprintf(os.Stderr, "Created default config at %s\n", path)
	}
	return cfg
}

func openStore(cfg *config.Config) *store.Store {
	s, err := store.Open(cfg.Storage.Path, store.Options{
		BusyTimeoutMs: cfg.Storage.BusyTimeoutMs,
		Passphrase:    readPassphrase(cfg.Storage.KeyFile),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	return s
}

func readPassphrase(keyFile string) string {
	if keyFile == "" {
		return ""
	}
	data, err := os.ReadFile(keyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading key file: %v\n", err)
		os.Exit(1)
	}
	return strings.TrimSpace(string(data))
}

func buildMasker(cfg *config.Config) *masker.Masker {
	if !cfg.Masking.Enabled {
		fmt.Fprintln(os.Stderr, "WARNING: masking disabled, raw text will be stored")
		return new(masker.Masker)
	}
	m := masker.New()
	if cfg.Masking.RulesFile != "" {
		if err := m.LoadRules(cfg.Masking.RulesFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading masking rules: %v\n", err)
			os.Exit(1)
		}
	}
	return m
}

func buildEncoder(cfg *config.Config) embedding.Encoder {
	if cfg.Search.Provider != "openai" {
		return nil
	}
	enc, err := embedding.NewOpenAIEncoder("",
		embedding.WithModel(cfg.Search.Model),
		embedding.WithDimensions(cfg.Search.Dimensions))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, semantic search disabled\n", err)
		return nil
	}
	return enc
}

func searchOptions(cfg *config.Config) search.Options {
	return search.Options{
		Limit:          cfg.Search.Limit,
		TextWeight:     cfg.Search.TextWeight,
		SemanticWeight: cfg.Search.SemanticWeight,
		MinScore:       cfg.Search.MinScore,
	}
}

func cmdDaemon() {
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	defer log.Close()
	logging.SetDefault(log)

	s := openStore(cfg)
	defer s.Close()

	m := buildMasker(cfg)
	pm := metrics.NewPipelineMetrics(nil)
	a := agent.New(cfg, s, m, nil, nil, log, pm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		log.Error("agent start failed", "error", err)
		os.Exit(1)
	}
	if active, reason := a.CaptureStatus(); !active {
		log.Warn("running without capture", "reason", reason)
	}

	writePidFile()
	defer removePidFile()

	// Hot-reload config and masking rules while running.
	loader.OnChange(func(next *config.Config) {
		if err := a.UpdateConfig(next); err != nil {
			log.Warn("config reload rejected", "error", err)
		}
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config watch unavailable", "error", err)
	}
	defer loader.Close()

	ruleStop := make(chan struct{})
	defer close(ruleStop)
	if cfg.Masking.Enabled && cfg.Masking.RulesFile != "" {
		errs, err := m.WatchRules(cfg.Masking.RulesFile, ruleStop)
		if err != nil {
			log.Warn("rule watch unavailable", "error", err)
		} else {
			go func() {
				for err := range errs {
					log.Warn("rule reload failed", "error", err)
				}
			}()
		}
	}

	log.Info("keyrecalld running",
		"db", cfg.Storage.Path,
		"buffer_size", cfg.Capture.BufferSize,
		"flush_interval_secs", cfg.Capture.FlushIntervalSecs)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	if err := a.Stop(); err != nil {
		log.Error("agent stop failed", "error", err)
	}
}

func cmdSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	mode := fs.String("mode", "hybrid", "search mode: text, semantic, or hybrid")
	limit := fs.Int("limit", 0, "maximum results (0 = config default)")
	asJSON := fs.Bool("json", false, "emit results as JSON")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: keyrecalld search [options] <query>")
		os.Exit(1)
	}
	query := strings.Join(fs.Args(), " ")

	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	opts := searchOptions(cfg)
	if *limit > 0 {
		opts.Limit = *limit
	}
	eng := search.New(s, buildEncoder(cfg), opts, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var results []search.Result
	var err error
	switch *mode {
	case "text":
		results, err = eng.SearchText(ctx, query, opts.Limit)
	case "semantic":
		results, err = eng.SearchSemantic(ctx, query, opts.Limit)
	case "hybrid":
		results, err = eng.SearchHybrid(ctx, query, &opts)
	default:
		fmt.Fprintf(os.Stderr, "Unknown mode: %s\n", *mode)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		json.NewEncoder(os.Stdout).Encode(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, r := range results {
		ts := time.UnixMilli(r.Timestamp).Format("2006-01-02 15:04:05")
		fmt.Printf("%3d. [%.4f] %s  %q", i+1, r.Score, ts, r.Text)
		if r.Application != "" {
			fmt.Printf("  (%s)", r.Application)
		}
		fmt.Println()
	}
}

func cmdStats() {
	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	stats, err := s.GetStats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading stats: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== keyrecall Store ===")
	fmt.Printf("Database:     %s\n", cfg.Storage.Path)
	fmt.Printf("Total events: %d\n", stats.TotalEvents)
	fmt.Printf("Embeddings:   %d\n", stats.Embeddings)
	fmt.Printf("Size on disk: %s\n", formatBytes(stats.TotalSizeBytes))
	if stats.OldestEvent != nil {
		fmt.Printf("Oldest event: %s\n", time.UnixMilli(*stats.OldestEvent).Format(time.RFC3339))
	}
	if stats.NewestEvent != nil {
		fmt.Printf("Newest event: %s\n", time.UnixMilli(*stats.NewestEvent).Format(time.RFC3339))
	}
}

func cmdRules(args []string) {
	cfg := loadConfig()
	m := buildMasker(cfg)

	if len(args) == 0 {
		fmt.Println("Masking rules (applied in order):")
		for _, name := range m.Rules() {
			fmt.Printf("  - %s\n", name)
		}
		if cfg.Masking.RulesFile != "" {
			fmt.Printf("Custom rules file: %s\n", cfg.Masking.RulesFile)
		}
		return
	}

	switch args[0] {
	case "test":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: keyrecalld rules test <text>")
			os.Exit(1)
		}
		fmt.Println(m.MaskText(strings.Join(args[1:], " ")))

	case "add":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "Usage: keyrecalld rules add <name> <pattern>")
			os.Exit(1)
		}
		name, pattern := args[1], args[2]
		if err := m.AddRule(name, pattern); err != nil {
			fmt.Fprintf(os.Stderr, "Rule rejected: %v\n", err)
			os.Exit(1)
		}
		rf := loadRuleFile(rulesFilePath(cfg))
		rf.SetRule(name, pattern)
		saveRuleFile(rf, rulesFilePath(cfg))
		fmt.Printf("Rule %q saved to %s\n", name, rulesFilePath(cfg))

	case "remove":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "Usage: keyrecalld rules remove <name>")
			os.Exit(1)
		}
		rf := loadRuleFile(rulesFilePath(cfg))
		if !rf.DeleteRule(args[1]) {
			fmt.Fprintf(os.Stderr, "No such rule: %s\n", args[1])
			os.Exit(1)
		}
		saveRuleFile(rf, rulesFilePath(cfg))
		fmt.Printf("Rule %q removed\n", args[1])

	default:
		fmt.Fprintf(os.Stderr, "Unknown rules action: %s\n", args[0])
		os.Exit(1)
	}
}

func rulesFilePath(cfg *config.Config) string {
	if cfg.Masking.RulesFile != "" {
		return cfg.Masking.RulesFile
	}
	return filepath.Join(config.DataDir(), "rules.json")
}

func loadRuleFile(path string) *masker.RuleFile {
	rf, err := masker.ReadRuleFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading rules file: %v\n", err)
		os.Exit(1)
	}
	return rf
}

func saveRuleFile(rf *masker.RuleFile, path string) {
	os.MkdirAll(filepath.Dir(path), 0o700)
	if err := rf.Save(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving rules file: %v\n", err)
		os.Exit(1)
	}
}

func cmdClear(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	yes := fs.Bool("yes", false, "skip confirmation")
	fs.Parse(args)

	if !*yes {
		fmt.Fprintln(os.Stderr, "This deletes all stored events. Re-run with -yes to confirm.")
		os.Exit(1)
	}

	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	if err := s.ClearAll(); err != nil {
		fmt.Fprintf(os.Stderr, "Clear failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("All events cleared.")
}

func cmdVacuum() {
	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	if err := s.Vacuum(); err != nil {
		fmt.Fprintf(os.Stderr, "Vacuum failed: %v\n", err)
		os.Exit(1)
	}
	if err := s.Optimize(); err != nil {
		fmt.Fprintf(os.Stderr, "Optimize failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Database compacted.")
}

func cmdStatus() {
	cfg := loadConfig()

	fmt.Println("=== keyrecalld Status ===")
	pid, running := readPidFile()
	if running {
		fmt.Printf("Daemon:   RUNNING (PID %d)\n", pid)
	} else if pid != 0 {
		fmt.Printf("Daemon:   STALE PID FILE (PID %d not found)\n", pid)
	} else {
		fmt.Println("Daemon:   NOT RUNNING")
	}

	if info, err := os.Stat(cfg.Storage.Path); err == nil {
		fmt.Printf("Database: %s (%s)\n", cfg.Storage.Path, formatBytes(info.Size()))
	} else {
		fmt.Printf("Database: %s (not created yet)\n", cfg.Storage.Path)
	}
	fmt.Printf("Masking:  enabled=%v\n", cfg.Masking.Enabled)
	fmt.Printf("Semantic: provider=%s\n", cfg.Search.Provider)
}

func cmdConfig() {
	cfg := loadConfig()
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding config: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

// Helper functions

func newLogger(cfg *config.Config) *logging.Logger {
	lc := logging.DefaultConfig()
	if lvl, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		lc.Level = lvl
	}
	lc.Format = logging.ParseFormat(cfg.Logging.Format)
	if cfg.Logging.Output != "" {
		lc.Output = cfg.Logging.Output
	}
	if cfg.Logging.FilePath != "" {
		lc.FilePath = cfg.Logging.FilePath
	}
	if cfg.Logging.MaxSizeMB > 0 {
		lc.MaxSize = cfg.Logging.MaxSizeMB
	}
	if cfg.Logging.MaxBackups > 0 {
		lc.MaxBackups = cfg.Logging.MaxBackups
	}
	if cfg.Logging.MaxAgeDays > 0 {
		lc.MaxAge = cfg.Logging.MaxAgeDays
	}

	log, err := logging.New(lc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		os.Exit(1)
	}
	return log
}

func pidPath() string {
	return filepath.Join(config.DataDir(), "keyrecalld.pid")
}

func writePidFile() {
	os.MkdirAll(config.DataDir(), 0o700)
	os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePidFile() {
	os.Remove(pidPath())
}

func readPidFile() (int, bool) {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, processExists(pid)
}

func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
