package api

import (
	"classifier-backend/internal/database"
	"classifier-backend/internal/datasets"
	"classifier-backend/internal/jobs"
	"classifier-backend/plugin/shared"
	"classifier-backend/pkg/api"
)

func convertModel(m database.Model) api.Model {
	return api.Model{
		Id:           m.Id,
		Name:         m.Name,
		Uploaded:     m.Uploaded,
		CreationTime: m.CreationTime,
	}
}

func convertModels(ms []database.Model) []api.Model {
	models := make([]api.Model, 0, len(ms))
	for _, m := range ms {
		models = append(models, convertModel(m))
	}
	return models
}

func convertTrainingRecord(r database.TrainingRecord) api.TrainingRecord {
	return api.TrainingRecord{
		Id:            r.Id,
		ModelId:       r.ModelId,
		TaskId:        r.TaskId,
		Dataset:       r.Dataset,
		Epochs:        r.Epochs,
		Losses:        r.Losses,
		Accuracies:    r.Accuracies,
		TrainAccuracy: r.TrainAccuracy,
		TestAccuracy:  r.TestAccuracy,
		CreationTime:  r.CreationTime,
	}
}

func convertTrainingRecords(rs []database.TrainingRecord) []api.TrainingRecord {
	records := make([]api.TrainingRecord, 0, len(rs))
	for _, r := range rs {
		records = append(records, convertTrainingRecord(r))
	}
	return records
}

func convertProgress(s jobs.JobStatus) api.TrainingProgress {
	progress := api.TrainingProgress{
		TaskId:     s.TaskId,
		Status:     string(s.Record.Status),
		Losses:     []float64{},
		Accuracies: []float64{},
	}
	if data := s.Record.Data; data != nil {
		progress.Epoch = data.Epoch
		progress.Epochs = data.Epochs
		if data.Losses != nil {
			progress.Losses = data.Losses
		}
		if data.Accuracies != nil {
			progress.Accuracies = data.Accuracies
		}
		progress.TrainAccuracy = data.TrainAccuracy
		progress.TestAccuracy = data.TestAccuracy
		progress.Error = data.Error
	}
	return progress
}

func convertPrediction(p shared.Prediction) api.Prediction {
	return api.Prediction{
		Label:      p.Label,
		Confidence: p.Confidence,
		Scores:     p.Scores,
	}
}

func convertEvaluation(e database.ModelEvaluation) api.Evaluation {
	return api.Evaluation{
		Id:           e.Id,
		ModelId:      e.ModelId,
		Dataset:      e.Dataset,
		Accuracy:     e.Accuracy,
		Samples:      e.Samples,
		CreationTime: e.CreationTime,
	}
}

func convertEvaluations(es []database.ModelEvaluation) []api.Evaluation {
	evaluations := make([]api.Evaluation, 0, len(es))
	for _, e := range es {
		evaluations = append(evaluations, convertEvaluation(e))
	}
	return evaluations
}

func convertDatasets(ds []datasets.Dataset) []api.Dataset {
	out := make([]api.Dataset, 0, len(ds))
	for _, d := range ds {
		out = append(out, api.Dataset{Name: d.Name, Description: d.Description})
	}
	return out
}
