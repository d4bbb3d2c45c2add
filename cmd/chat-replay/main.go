package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/floegence/redeven-console/internal/chat/journal"
	"github.com/floegence/redeven-console/internal/config"
)

func main() {
	scenarioPath := flag.String("scenario", "", "scenario yaml path")
	configPath := flag.String("config", "", "optional console config path")
	expect := flag.String("expect", "", "optional expectation: pass|fail")
	flag.Parse()

	if strings.TrimSpace(*scenarioPath) == "" {
		fatalf("--scenario is required")
	}

	sc, err := loadScenario(*scenarioPath)
	if err != nil {
		fatalf("load scenario: %v", err)
	}

	var opts replayOptions
	if path := strings.TrimSpace(*configPath); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			fatalf("load config: %v", err)
		}
		logger, err := config.NewLogger(cfg.LogFormat, cfg.LogLevel)
		if err != nil {
			fatalf("build logger: %v", err)
		}
		opts.logger = logger
		opts.historyLimit = cfg.HistoryLimit
		if journalPath := strings.TrimSpace(cfg.JournalPath); journalPath != "" {
			store, err := journal.Open(journalPath)
			if err != nil {
				fatalf("open journal: %v", err)
			}
			defer store.Close()
			opts.journal = store
		}
	}

	report, err := runReplay(sc, opts)
	if err != nil {
		fatalf("replay failed: %v", err)
	}

	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))

	expected := strings.TrimSpace(strings.ToLower(*expect))
	if expected == "" {
		if report.Status != "pass" {
			os.Exit(2)
		}
		return
	}
	if expected != "pass" && expected != "fail" {
		fatalf("invalid --expect: %s", expected)
	}
	if report.Status != expected {
		os.Exit(3)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[chat-replay] "+format+"\n", args...)
	os.Exit(1)
}
