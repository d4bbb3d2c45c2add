package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type scenarioFile struct {
	Version string         `yaml:"version"`
	Session string         `yaml:"session"`
	History []historyPage  `yaml:"history"`
	Steps   []scenarioStep `yaml:"steps"`
	Expect  scenarioExpect `yaml:"expect"`
}

type historyPage struct {
	Messages      []historyMessage `yaml:"messages"`
	ThinkingLevel string           `yaml:"thinking_level"`
}

type historyMessage struct {
	ID   string `yaml:"id"`
	Role string `yaml:"role"`
	Text string `yaml:"text"`
}

// scenarioStep carries exactly one action.
type scenarioStep struct {
	Send        string         `yaml:"send"`
	Abort       bool           `yaml:"abort"`
	LoadHistory bool           `yaml:"load_history"`
	Event       *scenarioEvent `yaml:"event"`
}

type scenarioEvent struct {
	State string `yaml:"state"`
	// Run is the run id the event belongs to. The placeholder "$active"
	// substitutes the run id produced by the most recent send step.
	Run     string `yaml:"run"`
	Session string `yaml:"session"`
	Text    string `yaml:"text"`
	Error   string `yaml:"error"`
}

type scenarioExpect struct {
	Messages        *int    `yaml:"messages"`
	Loading         *bool   `yaml:"loading"`
	RunActive       *bool   `yaml:"run_active"`
	StreamText      *string `yaml:"stream_text"`
	StreamCleared   *bool   `yaml:"stream_cleared"`
	LastError       *string `yaml:"last_error"`
	LastMessageText *string `yaml:"last_message_text"`
}

func loadScenario(path string) (*scenarioFile, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("missing scenario path")
	}
	cleanPath = filepath.Clean(cleanPath)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, err
	}
	var sc scenarioFile
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sc.Session) == "" {
		return nil, fmt.Errorf("scenario has no session")
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario has no steps")
	}
	for i, step := range sc.Steps {
		actions := 0
		if strings.TrimSpace(step.Send) != "" {
			actions++
		}
		if step.Abort {
			actions++
		}
		if step.LoadHistory {
			actions++
		}
		if step.Event != nil {
			actions++
			state := strings.TrimSpace(strings.ToLower(step.Event.State))
			switch state {
			case "delta", "final", "aborted", "error":
			default:
				return nil, fmt.Errorf("step %d has invalid event state: %s", i, step.Event.State)
			}
		}
		if actions != 1 {
			return nil, fmt.Errorf("step %d must have exactly one action", i)
		}
	}
	return &sc, nil
}
