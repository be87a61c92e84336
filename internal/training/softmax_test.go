package training_test

import (
	"bytes"
	"classifier-backend/internal/status"
	"classifier-backend/internal/training"
	"classifier-backend/plugin/shared"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeImage(t *testing.T, level uint8, variant int) []byte {
	img := image.NewGray(image.Rect(0, 0, 12, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 12; x++ {
			img.SetGray(x, y, color.Gray{Y: level + uint8((x+y+variant)%8)})
		}
	}
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

// writeDataset creates a two class dataset where "dark" images are near
// black and "light" images are near white.
func writeDataset(t *testing.T) string {
	dir := t.TempDir()
	levels := map[string]uint8{"dark": 10, "light": 230}
	for _, split := range []string{"train", "test"} {
		for label, level := range levels {
			labelDir := filepath.Join(dir, split, label)
			require.NoError(t, os.MkdirAll(labelDir, 0755))
			for i := 0; i < 6; i++ {
				path := filepath.Join(labelDir, fmt.Sprintf("%d.png", i))
				require.NoError(t, os.WriteFile(path, encodeImage(t, level, i), 0644))
			}
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train", "dark", "README.txt"), []byte("ignored"), 0644))
	return dir
}

func newTrainer() *training.SoftmaxTrainer {
	return &training.SoftmaxTrainer{LearningRate: 0.5, BatchSize: 4, ImageSize: 8, Seed: 1}
}

func TestSoftmaxTrainer(t *testing.T) {
	datasetDir := writeDataset(t)
	taskId := uuid.New()
	outputDir := filepath.Join(t.TempDir(), taskId.String())
	require.NoError(t, os.MkdirAll(outputDir, 0755))

	store := status.NewStore()
	req := shared.TrainRequest{TaskId: taskId, Epochs: 5, Dataset: "shades", DatasetDir: datasetDir, OutputDir: outputDir}

	require.NoError(t, training.RunJob(context.Background(), newTrainer(), req, store))

	record := store.Get(taskId)
	require.Equal(t, status.Finished, record.Status)
	assert.Len(t, record.Data.Losses, 5)
	assert.Len(t, record.Data.Accuracies, 5)
	assert.Less(t, record.Data.Losses[4], record.Data.Losses[0])
	assert.Equal(t, 1.0, *record.Data.TrainAccuracy)
	assert.Equal(t, 1.0, *record.Data.TestAccuracy)

	weightsFile := filepath.Join(outputDir, taskId.String()+".bin")
	assert.Equal(t, weightsFile, training.WeightsPath(outputDir))

	weights, err := training.LoadWeights(weightsFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"dark", "light"}, weights.Classes)

	worker := training.NewWorker(context.Background(), newTrainer())

	prediction, err := worker.Predict(shared.PredictRequest{WeightsFile: weightsFile, Image: encodeImage(t, 240, 3)})
	require.NoError(t, err)
	assert.Equal(t, "light", prediction.Label)
	assert.Greater(t, prediction.Confidence, 0.5)
	assert.InDelta(t, 1.0, prediction.Scores["dark"]+prediction.Scores["light"], 1e-9)

	evaluation, err := worker.Evaluate(shared.EvaluateRequest{WeightsFile: weightsFile, Dataset: "shades", DatasetDir: datasetDir})
	require.NoError(t, err)
	assert.Equal(t, shared.Evaluation{Accuracy: 1, Samples: 12}, evaluation)
}

func TestSoftmaxTrainerMissingDataset(t *testing.T) {
	store := status.NewStore()
	taskId := uuid.New()

	req := shared.TrainRequest{TaskId: taskId, Epochs: 2, DatasetDir: filepath.Join(t.TempDir(), "missing"), OutputDir: t.TempDir()}
	err := training.RunJob(context.Background(), newTrainer(), req, store)
	assert.ErrorContains(t, err, "error loading training split")

	record := store.Get(taskId)
	assert.Equal(t, status.Failed, record.Status)
	assert.Contains(t, record.Data.Error, "error loading training split")
}

func TestSoftmaxTrainerUnknownTestLabel(t *testing.T) {
	datasetDir := writeDataset(t)
	require.NoError(t, os.MkdirAll(filepath.Join(datasetDir, "test", "grey"), 0755))

	store := status.NewStore()
	req := shared.TrainRequest{TaskId: uuid.New(), Epochs: 1, DatasetDir: datasetDir, OutputDir: t.TempDir()}
	err := training.RunJob(context.Background(), newTrainer(), req, store)
	assert.ErrorContains(t, err, `label "grey"`)
}

func TestDecodeWeights(t *testing.T) {
	_, err := training.DecodeWeights(bytes.NewReader([]byte("not a weights file")))
	assert.ErrorIs(t, err, training.ErrInvalidWeights)

	path := filepath.Join(t.TempDir(), "w.bin")
	require.NoError(t, (&training.Weights{Classes: []string{"a"}, ImageSize: 2, W: [][]float64{{0, 0, 0, 0}}, B: []float64{0}}).Save(path))
	_, err = training.LoadWeights(path)
	assert.ErrorIs(t, err, training.ErrInvalidWeights)

	valid := training.NewWeights([]string{"a", "b"}, 2)
	require.NoError(t, valid.Save(path))
	loaded, err := training.LoadWeights(path)
	require.NoError(t, err)
	assert.Equal(t, valid, loaded)
}

func TestSaveWeights(t *testing.T) {
	weights := training.NewWeights([]string{"dark", "light"}, 2)
	weights.W[1][3] = 0.25
	weights.B[0] = -1

	err := weights.Save(filepath.Join(t.TempDir(), "missing", "w.bin"))
	assert.ErrorContains(t, err, "error creating weights file")

	dir := filepath.Join(t.TempDir(), "task")
	require.NoError(t, os.MkdirAll(dir, os.ModePerm))
	path := training.WeightsPath(dir)

	require.NoError(t, training.NewWeights([]string{"x", "y", "z"}, 3).Save(path))
	require.NoError(t, weights.Save(path))

	loaded, err := training.LoadWeights(path)
	require.NoError(t, err)
	assert.Equal(t, weights, loaded)
}
