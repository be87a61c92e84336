package main

import (
	"classifier-backend/internal/training"
	"classifier-backend/plugin/shared"
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-plugin"
)

type TrainerConfig struct {
	LearningRate float64 `env:"TRAINER_LEARNING_RATE" envDefault:"0.1"`
	BatchSize    int     `env:"TRAINER_BATCH_SIZE" envDefault:"32"`
	ImageSize    int     `env:"TRAINER_IMAGE_SIZE" envDefault:"28"`
	Seed         int64   `env:"TRAINER_SEED" envDefault:"42"`
}

// The trainer binary is only ever started by the API server through
// go-plugin. Stdout is reserved for the plugin handshake, so all logging goes
// to stderr where the host picks it up.
func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	var cfg TrainerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := training.NewWorker(ctx, &training.SoftmaxTrainer{
		LearningRate: cfg.LearningRate,
		BatchSize:    cfg.BatchSize,
		ImageSize:    cfg.ImageSize,
		Seed:         cfg.Seed,
	})

	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: shared.Handshake,
		Plugins: map[string]plugin.Plugin{
			shared.TrainerPluginName: &shared.TrainerPlugin{Impl: worker},
		},
	})
}
