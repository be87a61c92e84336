package main

import (
	"classifier-backend/pkg/client"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/caarlos0/env/v11"
)

type CLIConfig struct {
	APIURL      string `env:"CLASSIFIER_API_URL" envDefault:"http://localhost:8001/api/v1"`
	SessionFile string `env:"CLASSIFIER_SESSION_FILE" envDefault:""`
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, c *cli, args []string) error
}

var commands = []command{
	{"register", "register -username NAME -password PASS", runRegister},
	{"login", "login -username NAME -password PASS", runLogin},
	{"datasets", "datasets", runDatasets},
	{"train", "train -dataset NAME -epochs N", runTrain},
	{"watch", "watch [-interval 1s]", runWatch},
	{"finish", "finish", runFinish},
	{"history", "history [-limit 20] [-offset 0]", runHistory},
	{"models", "models", runModels},
	{"upload", "upload -file PATH [-name NAME]", runUpload},
	{"predict", "predict -model ID -image PATH", runPredict},
	{"evaluate", "evaluate -model ID -dataset NAME", runEvaluate},
}

type cli struct {
	client      *client.Client
	sessionFile string
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "classifier", "session")
}

func (c *cli) saveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(c.sessionFile), 0700); err != nil {
		return fmt.Errorf("error creating session directory: %w", err)
	}
	if err := os.WriteFile(c.sessionFile, []byte(token), 0600); err != nil {
		return fmt.Errorf("error saving session: %w", err)
	}
	return nil
}

func (c *cli) loadToken() {
	data, err := os.ReadFile(c.sessionFile)
	if err != nil {
		return
	}
	c.client.SetToken(strings.TrimSpace(string(data)))
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cli <command> [flags]")
	fmt.Fprintln(os.Stderr, "commands:")
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %s\n", cmd.usage)
	}
}

func main() {
	log.SetFlags(0)

	var cfg CLIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = defaultSessionFile()
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	c := &cli{client: client.New(cfg.APIURL), sessionFile: cfg.SessionFile}
	c.loadToken()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	name := os.Args[1]
	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		if err := cmd.run(ctx, c, os.Args[2:]); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				os.Exit(2)
			}
			log.Fatalf("%s: %v", name, err)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
	usage()
	os.Exit(2)
}
