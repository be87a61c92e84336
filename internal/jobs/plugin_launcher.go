package jobs

import (
	"classifier-backend/internal/status"
	"classifier-backend/plugin/shared"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/rpc"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
)

// PluginLauncher runs every job in its own trainer process using go-plugin.
type PluginLauncher struct {
	pluginPath string
	logger     hclog.Logger

	running sync.WaitGroup
}

var _ Launcher = (*PluginLauncher)(nil)

func NewPluginLauncher(pluginPath string) *PluginLauncher {
	return &PluginLauncher{
		pluginPath: pluginPath,
		logger: hclog.New(&hclog.LoggerOptions{
			Name:   "trainer",
			Output: os.Stderr,
			Level:  hclog.Info,
		}),
	}
}

func (l *PluginLauncher) start() (*plugin.Client, shared.Trainer, error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  shared.Handshake,
		Plugins:          shared.PluginMap,
		Cmd:              exec.Command(l.pluginPath),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		Logger:           l.logger,
		StartTimeout:     30 * time.Second,
		Managed:          true,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("error establishing RPC connection: %w", err)
	}

	raw, err := rpcClient.Dispense(shared.TrainerPluginName)
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("error dispensing '%s': %w", shared.TrainerPluginName, err)
	}

	trainer, ok := raw.(shared.Trainer)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("dispensed interface '%s' is not of expected type shared.Trainer (actual type: %T)", shared.TrainerPluginName, raw)
	}

	return client, trainer, nil
}

func (l *PluginLauncher) Launch(ctx context.Context, params LaunchParams, sink status.Sink) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	if err := prepareOutputDir(params.OutputDir); err != nil {
		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	client, trainer, err := l.start()
	if err != nil {
		if err := os.RemoveAll(params.OutputDir); err != nil {
			slog.Error("error removing output directory after failed launch", "task_id", params.TaskId, "error", err)
		}
		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	req := shared.TrainRequest{
		TaskId:     params.TaskId,
		Epochs:     params.Epochs,
		Dataset:    params.Dataset,
		DatasetDir: params.DatasetDir,
		OutputDir:  params.OutputDir,
	}

	l.running.Add(1)
	go func() {
		defer l.running.Done()
		defer client.Kill()

		err := trainer.Train(req, sink)

		var serverErr rpc.ServerError
		switch {
		case err == nil:
			slog.Info("training worker exited", "task_id", params.TaskId)
		case errors.As(err, &serverErr):
			slog.Warn("training worker reported failure", "task_id", params.TaskId, "error", err)
		default:
			// The worker died without reporting, so its status is left as is.
			slog.Error("training worker terminated unexpectedly", "task_id", params.TaskId, "error", err)
		}
	}()

	slog.Info("launched training worker", "task_id", params.TaskId, "dataset", params.Dataset, "epochs", params.Epochs)

	return nil
}

// call runs fn against a fresh worker and kills it afterwards.
func call[T any](ctx context.Context, l *PluginLauncher, fn func(shared.Trainer) (T, error)) (T, error) {
	var zero T

	client, trainer, err := l.start()
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	defer client.Kill()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(trainer)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (l *PluginLauncher) Predict(ctx context.Context, req shared.PredictRequest) (shared.Prediction, error) {
	return call(ctx, l, func(t shared.Trainer) (shared.Prediction, error) {
		return t.Predict(req)
	})
}

func (l *PluginLauncher) Evaluate(ctx context.Context, req shared.EvaluateRequest) (shared.Evaluation, error) {
	return call(ctx, l, func(t shared.Trainer) (shared.Evaluation, error) {
		return t.Evaluate(req)
	})
}

// Wait blocks until every launched training worker has exited.
func (l *PluginLauncher) Wait() {
	l.running.Wait()
}
