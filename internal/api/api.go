package api

import (
	"classifier-backend/internal/auth"
	"classifier-backend/internal/database"
	"classifier-backend/internal/jobs"
	"classifier-backend/internal/training"
	"classifier-backend/pkg/api"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultRecordLimit = 20
	maxRecordLimit     = 100

	maxUsernameLength = 80
	// bcrypt only looks at the first 72 bytes.
	maxPasswordLength = 72
	minPasswordLength = 8

	multipartMemory = 32 << 20
)

type BackendService struct {
	db             *gorm.DB
	manager        *jobs.Manager
	auth           *auth.Authenticator
	maxUploadBytes int64
}

func NewBackendService(db *gorm.DB, manager *jobs.Manager, authenticator *auth.Authenticator, maxUploadBytes int64) *BackendService {
	return &BackendService{
		db:             db,
		manager:        manager,
		auth:           authenticator,
		maxUploadBytes: maxUploadBytes,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Post("/register", RestHandler(s.Register))
	r.Post("/login", SessionHandler(s.Login))
	r.Get("/datasets", RestHandler(s.ListDatasets))

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Post("/logout", SessionHandler(s.Logout))
		r.Get("/me", RestHandler(s.Me))

		r.Route("/training", func(r chi.Router) {
			r.Post("/", RestHandler(s.StartTraining))
			r.Get("/progress", RestHandler(s.TrainingProgress))
			r.Post("/finish", RestHandler(s.FinishTraining))
			r.Get("/records", RestHandler(s.ListTrainingRecords))
			r.Get("/records/latest", RestHandler(s.LatestTrainingRecord))
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", RestHandler(s.ListModels))
			r.With(LimitBody(s.maxUploadBytes)).Post("/", RestHandler(s.UploadModel))
			r.Route("/{model_id}", func(r chi.Router) {
				r.With(LimitBody(s.maxUploadBytes)).Post("/predict", RestHandler(s.Predict))
				r.Post("/evaluate", RestHandler(s.Evaluate))
				r.Get("/evaluations", RestHandler(s.ListEvaluations))
			})
		})
	})
}

// jobError maps job manager errors onto response codes.
func jobError(err error) error {
	switch {
	case errors.Is(err, jobs.ErrConflict):
		return CodedError(http.StatusConflict, err)
	case errors.Is(err, jobs.ErrJobFailed):
		return CodedError(http.StatusUnprocessableEntity, err)
	case errors.Is(err, jobs.ErrNotReady):
		return CodedError(http.StatusTooEarly, err)
	case errors.Is(err, jobs.ErrMalformedResult):
		return CodedError(http.StatusUnprocessableEntity, err)
	case errors.Is(err, jobs.ErrLaunch):
		return CodedError(http.StatusServiceUnavailable, err)
	case errors.Is(err, jobs.ErrNoActiveJob), errors.Is(err, jobs.ErrModelNotFound):
		return CodedError(http.StatusNotFound, err)
	case errors.Is(err, jobs.ErrInvalidJob), errors.Is(err, jobs.ErrInvalidModel):
		return CodedError(http.StatusBadRequest, err)
	case errors.Is(err, jobs.ErrWorkerRequest):
		return CodedError(http.StatusUnprocessableEntity, err)
	default:
		return CodedErrorf(http.StatusInternalServerError, "%v", err)
	}
}

func (s *BackendService) Register(r *http.Request) (any, error) {
	req, err := ParseRequest[api.RegisterRequest](r)
	if err != nil {
		return nil, err
	}

	if len(req.Username) == 0 || len(req.Username) > maxUsernameLength {
		return nil, CodedErrorf(http.StatusBadRequest, "username must be between 1 and %d characters", maxUsernameLength)
	}
	if err := validateName("username", req.Username); err != nil {
		return nil, err
	}
	if len(req.Password) < minPasswordLength || len(req.Password) > maxPasswordLength {
		return nil, CodedErrorf(http.StatusBadRequest, "password must be between %d and %d bytes", minPasswordLength, maxPasswordLength)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error creating user")
	}

	user, err := database.CreateUser(r.Context(), s.db, req.Username, hash)
	if err != nil {
		if errors.Is(err, database.ErrUsernameTaken) {
			return nil, CodedErrorf(http.StatusConflict, "username '%s' is already taken", req.Username)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error creating user")
	}

	slog.Info("registered user", "user_id", user.Id, "username", user.Username)

	return api.User{Id: user.Id, Username: user.Username}, nil
}

func (s *BackendService) Login(w http.ResponseWriter, r *http.Request) (any, error) {
	req, err := ParseRequest[api.LoginRequest](r)
	if err != nil {
		return nil, err
	}

	user, err := database.GetUserByName(r.Context(), s.db, req.Username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, CodedError(http.StatusUnauthorized, auth.ErrInvalidCredentials)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error loading user")
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		return nil, CodedError(http.StatusUnauthorized, err)
	}

	session, err := s.auth.Issue(user.Id, user.Username)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error creating session")
	}
	s.auth.SetSession(w, session)

	return api.LoginResponse{
		User:    api.User{Id: user.Id, Username: user.Username},
		Token:   session.Token,
		Expires: session.Expires,
	}, nil
}

func (s *BackendService) Logout(w http.ResponseWriter, r *http.Request) (any, error) {
	s.auth.ClearSession(w)
	return nil, nil
}

func (s *BackendService) Me(r *http.Request) (any, error) {
	claims, err := auth.CurrentClaims(r)
	if err != nil {
		return nil, CodedError(http.StatusUnauthorized, err)
	}
	return api.User{Id: claims.UserId, Username: claims.Username}, nil
}

func currentUser(r *http.Request) (uuid.UUID, error) {
	userId, err := auth.CurrentUser(r)
	if err != nil {
		return uuid.Nil, CodedError(http.StatusUnauthorized, err)
	}
	return userId, nil
}

func (s *BackendService) ListDatasets(r *http.Request) (any, error) {
	return convertDatasets(s.manager.Datasets()), nil
}

func (s *BackendService) StartTraining(r *http.Request) (any, error) {
	userId, err := currentUser(r)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.StartTrainingRequest](r)
	if err != nil {
		return nil, err
	}

	taskId, err := s.manager.StartJob(r.Context(), userId, req.Epochs, req.Dataset)
	if err != nil {
		return nil, jobError(err)
	}

	return api.StartTrainingResponse{TaskId: taskId}, nil
}

func (s *BackendService) TrainingProgress(r *http.Request) (any, error) {
	userId, err := currentUser(r)
	if err != nil {
		return nil, err
	}

	job, err := s.manager.Poll(userId)
	if err != nil {
		return nil, jobError(err)
	}

	return convertProgress(job), nil
}

func (s *BackendService) FinishTraining(r *http.Request) (any, error) {
	userId, err := currentUser(r)
	if err != nil {
		return nil, err
	}

	result, err := s.manager.Finish(r.Context(), userId)
	if err != nil {
		if errors.Is(err, jobs.ErrAlreadyReconciled) {
			taskId, _ := s.manager.LastReconciled(userId)
			return api.FinishTrainingResponse{TaskId: taskId, AlreadyReconciled: true}, nil
		}
		return nil, jobError(err)
	}

	model := convertModel(result.Model)
	record := convertTrainingRecord(result.Record)

	return api.FinishTrainingResponse{TaskId: result.Record.TaskId, Model: &model, Record: &record}, nil
}

func (s *BackendService) ListTrainingRecords(r *http.Request) (any, error) {
	userId, err := currentUser(r)
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.ListRecordsParams](r)
	if err != nil {
		return nil, err
	}

	if params.Limit < 0 || params.Offset < 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "limit and offset must not be negative")
	}
	if params.Limit == 0 {
		params.Limit = defaultRecordLimit
	}
	params.Limit = min(params.Limit, maxRecordLimit)

	records, err := s.manager.ListRecords(r.Context(), userId, params.Limit, params.Offset)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing training records")
	}

	return convertTrainingRecords(records), nil
}

func (s *BackendService) LatestTrainingRecord(r *http.Request) (any, error) {
	userId, err := currentUser(r)
	if err != nil {
		return nil, err
	}

	record, err := s.manager.LatestRecord(r.Context(), userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "no training records found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error loading training record")
	}

	return convertTrainingRecord(record), nil
}

func (s *BackendService) ListModels(r *http.Request) (any, error) {
	userId, err := currentUser(r)
	if err != nil {
		return nil, err
	}

	models, err := s.manager.ListModels(r.Context(), userId)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing models")
	}

	return convertModels(models), nil
}

// readFormFile returns the contents of a multipart file field.
func readFormFile(r *http.Request, field string) ([]byte, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, nil, CodedErrorf(http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", maxBytesErr.Limit)
		}
		slog.Error("error parsing multipart form", "error", err)
		return nil, nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart form")
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, nil, CodedErrorf(http.StatusBadRequest, "missing '%s' file in request", field)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		slog.Error("error reading uploaded file", "field", field, "error", err)
		return nil, nil, CodedErrorf(http.StatusBadRequest, "unable to read '%s' file", field)
	}

	return data, header, nil
}

func (s *BackendService) UploadModel(r *http.Request) (any, error) {
	userId, err := currentUser(r)
	if err != nil {
		return nil, err
	}

	data, header, err := readFormFile(r, "model")
	if err != nil {
		return nil, err
	}

	ext := filepath.Ext(header.Filename)
	if ext != training.WeightsExtension {
		return nil, CodedErrorf(http.StatusBadRequest, "model file must have extension %s", training.WeightsExtension)
	}

	name := r.FormValue("name")
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(header.Filename), ext)
	}
	if err := validateName("model name", name); err != nil {
		return nil, err
	}

	model, err := s.manager.UploadModel(r.Context(), userId, name, data)
	if err != nil {
		return nil, jobError(err)
	}

	return convertModel(model), nil
}

func (s *BackendService) Predict(r *http.Request) (any, error) {
	userId, err := currentUser(r)
	if err != nil {
		return nil, err
	}

	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return nil, err
	}

	image, _, err := readFormFile(r, "image")
	if err != nil {
		return nil, err
	}

	prediction, err := s.manager.Predict(r.Context(), userId, modelId, image)
	if err != nil {
		return nil, jobError(err)
	}

	return convertPrediction(prediction), nil
}

func (s *BackendService) Evaluate(r *http.Request) (any, error) {
	userId, err := currentUser(r)
	if err != nil {
		return nil, err
	}

	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.EvaluateRequest](r)
	if err != nil {
		return nil, err
	}

	evaluation, err := s.manager.Evaluate(r.Context(), userId, modelId, req.Dataset)
	if err != nil {
		return nil, jobError(err)
	}

	return convertEvaluation(evaluation), nil
}

func (s *BackendService) ListEvaluations(r *http.Request) (any, error) {
	userId, err := currentUser(r)
	if err != nil {
		return nil, err
	}

	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return nil, err
	}

	evaluations, err := s.manager.ListEvaluations(r.Context(), userId, modelId)
	if err != nil {
		return nil, jobError(err)
	}

	return convertEvaluations(evaluations), nil
}
