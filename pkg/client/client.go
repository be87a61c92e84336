package client

import (
	"classifier-backend/pkg/api"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// StatusError is returned for any non 2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var serr *StatusError
	return errors.As(err, &serr) && serr.Code == code
}

type Client struct {
	client *resty.Client
}

func New(baseURL string) *Client {
	return &Client{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(2 * time.Minute),
	}
}

// SetToken authenticates subsequent requests with a session token.
func (c *Client) SetToken(token string) {
	c.client.SetAuthToken(token)
}

func do[T any](ctx context.Context, req *resty.Request, method, path string) (T, error) {
	var result T
	res, err := req.SetContext(ctx).SetResult(&result).Execute(method, path)
	if err != nil {
		return result, fmt.Errorf("error sending request to %s: %w", path, err)
	}
	if res.IsError() {
		return result, &StatusError{Code: res.StatusCode(), Message: strings.TrimSpace(res.String())}
	}
	return result, nil
}

func (c *Client) Register(ctx context.Context, username, password string) (api.User, error) {
	return do[api.User](ctx, c.client.R().SetBody(api.RegisterRequest{Username: username, Password: password}), http.MethodPost, "/register")
}

// Login authenticates the client for subsequent requests.
func (c *Client) Login(ctx context.Context, username, password string) (api.LoginResponse, error) {
	res, err := do[api.LoginResponse](ctx, c.client.R().SetBody(api.LoginRequest{Username: username, Password: password}), http.MethodPost, "/login")
	if err != nil {
		return res, err
	}
	c.SetToken(res.Token)
	return res, nil
}

func (c *Client) Me(ctx context.Context) (api.User, error) {
	return do[api.User](ctx, c.client.R(), http.MethodGet, "/me")
}

func (c *Client) Datasets(ctx context.Context) ([]api.Dataset, error) {
	return do[[]api.Dataset](ctx, c.client.R(), http.MethodGet, "/datasets")
}

func (c *Client) StartTraining(ctx context.Context, epochs int, dataset string) (uuid.UUID, error) {
	res, err := do[api.StartTrainingResponse](ctx, c.client.R().SetBody(api.StartTrainingRequest{Epochs: epochs, Dataset: dataset}), http.MethodPost, "/training")
	return res.TaskId, err
}

func (c *Client) Progress(ctx context.Context) (api.TrainingProgress, error) {
	return do[api.TrainingProgress](ctx, c.client.R(), http.MethodGet, "/training/progress")
}

func (c *Client) Finish(ctx context.Context) (api.FinishTrainingResponse, error) {
	return do[api.FinishTrainingResponse](ctx, c.client.R(), http.MethodPost, "/training/finish")
}

func (c *Client) TrainingRecords(ctx context.Context, limit, offset int) ([]api.TrainingRecord, error) {
	req := c.client.R().SetQueryParams(map[string]string{
		"limit":  strconv.Itoa(limit),
		"offset": strconv.Itoa(offset),
	})
	return do[[]api.TrainingRecord](ctx, req, http.MethodGet, "/training/records")
}

func (c *Client) LatestTrainingRecord(ctx context.Context) (api.TrainingRecord, error) {
	return do[api.TrainingRecord](ctx, c.client.R(), http.MethodGet, "/training/records/latest")
}

func (c *Client) Models(ctx context.Context) ([]api.Model, error) {
	return do[[]api.Model](ctx, c.client.R(), http.MethodGet, "/models")
}

func (c *Client) UploadModel(ctx context.Context, path, name string) (api.Model, error) {
	req := c.client.R().SetFile("model", path)
	if name != "" {
		req.SetFormData(map[string]string{"name": name})
	}
	return do[api.Model](ctx, req, http.MethodPost, "/models")
}

func (c *Client) Predict(ctx context.Context, modelId uuid.UUID, imagePath string) (api.Prediction, error) {
	req := c.client.R().SetFile("image", imagePath)
	return do[api.Prediction](ctx, req, http.MethodPost, fmt.Sprintf("/models/%s/predict", modelId))
}

func (c *Client) Evaluate(ctx context.Context, modelId uuid.UUID, dataset string) (api.Evaluation, error) {
	req := c.client.R().SetBody(api.EvaluateRequest{Dataset: dataset})
	return do[api.Evaluation](ctx, req, http.MethodPost, fmt.Sprintf("/models/%s/evaluate", modelId))
}

func (c *Client) Evaluations(ctx context.Context, modelId uuid.UUID) ([]api.Evaluation, error) {
	return do[[]api.Evaluation](ctx, c.client.R(), http.MethodGet, fmt.Sprintf("/models/%s/evaluations", modelId))
}
