package jobs_test

import (
	"bytes"
	"classifier-backend/internal/jobs"
	"classifier-backend/internal/status"
	"classifier-backend/internal/training"
	"classifier-backend/plugin/shared"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// When set, the test binary serves the trainer plugin instead of running
// tests. The plugin launcher passes the environment through to the child.
const helperModeEnv = "TRAINER_HELPER_MODE"

type crashingTrainer struct{}

func (crashingTrainer) Train(ctx context.Context, req shared.TrainRequest, reporter training.Reporter) (training.Result, error) {
	_ = reporter.Epoch(0.9, 0.5)
	os.Exit(3)
	return training.Result{}, nil
}

func serveHelper(mode string) {
	var trainer training.Trainer
	switch mode {
	case "crash":
		trainer = crashingTrainer{}
	default:
		trainer = mnistTrainer(2)
	}

	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: shared.Handshake,
		Plugins: map[string]plugin.Plugin{
			shared.TrainerPluginName: &shared.TrainerPlugin{Impl: training.NewWorker(context.Background(), trainer)},
		},
	})
}

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperModeEnv); mode != "" {
		serveHelper(mode)
		os.Exit(0)
	}

	code := m.Run()
	plugin.CleanupClients()
	os.Exit(code)
}

func newPluginLauncher(t *testing.T, mode string) *jobs.PluginLauncher {
	t.Setenv(helperModeEnv, mode)
	executable, err := os.Executable()
	require.NoError(t, err)
	launcher := jobs.NewPluginLauncher(executable)
	t.Cleanup(launcher.Wait)
	return launcher
}

func launchParams(t *testing.T) jobs.LaunchParams {
	return jobs.LaunchParams{
		TaskId:     uuid.New(),
		Epochs:     2,
		Dataset:    "mnist",
		DatasetDir: t.TempDir(),
		OutputDir:  filepath.Join(t.TempDir(), "model"),
	}
}

func TestPluginLauncherTrain(t *testing.T) {
	launcher := newPluginLauncher(t, "train")
	store := status.NewStore()
	params := launchParams(t)

	require.NoError(t, launcher.Launch(context.Background(), params, store))

	require.Eventually(t, func() bool {
		return store.Get(params.TaskId).Status == status.Finished
	}, 30*time.Second, 50*time.Millisecond)

	record := store.Get(params.TaskId)
	require.NotNil(t, record.Data)
	assert.Empty(t, record.Data.MissingResults())
	assert.Equal(t, []float64{1, 0.5}, record.Data.Losses)
	assert.FileExists(t, training.WeightsPath(params.OutputDir))
}

func TestPluginLauncherCrashedWorker(t *testing.T) {
	launcher := newPluginLauncher(t, "crash")
	store := status.NewStore()
	params := launchParams(t)

	require.NoError(t, launcher.Launch(context.Background(), params, store))
	launcher.Wait()

	record := store.Get(params.TaskId)
	assert.Equal(t, status.Running, record.Status)
	require.NotNil(t, record.Data)
	assert.Equal(t, 1, record.Data.Epoch)
}

func encodePNG(t *testing.T) []byte {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.SetGray(0, 0, color.Gray{Y: 200})
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestPluginLauncherPredict(t *testing.T) {
	launcher := newPluginLauncher(t, "train")

	path := filepath.Join(t.TempDir(), "weights.bin")
	require.NoError(t, training.NewWeights([]string{"cat", "dog"}, 2).Save(path))

	prediction, err := launcher.Predict(context.Background(), shared.PredictRequest{WeightsFile: path, Image: encodePNG(t)})
	require.NoError(t, err)
	assert.Equal(t, "cat", prediction.Label)
	assert.InDelta(t, 0.5, prediction.Confidence, 1e-9)
	assert.Len(t, prediction.Scores, 2)

	_, err = launcher.Predict(context.Background(), shared.PredictRequest{WeightsFile: filepath.Join(t.TempDir(), "missing.bin")})
	assert.Error(t, err)
}

func TestPluginLauncherMissingBinary(t *testing.T) {
	launcher := jobs.NewPluginLauncher(filepath.Join(t.TempDir(), "no-such-trainer"))
	params := launchParams(t)

	err := launcher.Launch(context.Background(), params, status.NewStore())
	assert.ErrorIs(t, err, jobs.ErrLaunch)
	assert.NoDirExists(t, params.OutputDir)
}

func TestPluginLauncherOutputDirInUse(t *testing.T) {
	launcher := jobs.NewPluginLauncher(filepath.Join(t.TempDir(), "no-such-trainer"))
	params := launchParams(t)

	require.NoError(t, os.MkdirAll(params.OutputDir, 0755))
	existing := filepath.Join(params.OutputDir, "old.bin")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0644))

	err := launcher.Launch(context.Background(), params, status.NewStore())
	assert.ErrorIs(t, err, jobs.ErrLaunch)
	assert.ErrorContains(t, err, "not empty")
	assert.FileExists(t, existing)
}

func TestPluginLauncherCancelledContext(t *testing.T) {
	launcher := jobs.NewPluginLauncher(filepath.Join(t.TempDir(), "no-such-trainer"))
	params := launchParams(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := launcher.Launch(ctx, params, status.NewStore())
	assert.ErrorIs(t, err, jobs.ErrLaunch)
	assert.NoDirExists(t, params.OutputDir)
}
