package client_test

import (
	"classifier-backend/pkg/api"
	"classifier-backend/pkg/client"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJson(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func fakeServer(t *testing.T) *httptest.Server {
	r := chi.NewRouter()

	r.Post("/login", func(w http.ResponseWriter, r *http.Request) {
		var req api.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "password123" {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)
			return
		}
		writeJson(w, api.LoginResponse{User: api.User{Username: req.Username}, Token: "token-" + req.Username})
	})

	r.Post("/training", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-alice" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		http.Error(w, "a training job is already running for this user", http.StatusConflict)
	})

	r.Get("/training/records", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		writeJson(w, []api.TrainingRecord{{Dataset: "mnist", Epochs: 3}})
	})

	r.Post("/models/{model_id}/predict", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		writeJson(w, api.Prediction{Label: header.Filename + ":" + string(data)})
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func TestLoginSetsToken(t *testing.T) {
	server := fakeServer(t)
	c := client.New(server.URL)
	ctx := context.Background()

	_, err := c.StartTraining(ctx, 1, "mnist")
	assert.True(t, client.IsStatus(err, http.StatusUnauthorized))

	_, err = c.Login(ctx, "alice", "wrong")
	assert.True(t, client.IsStatus(err, http.StatusUnauthorized))

	res, err := c.Login(ctx, "alice", "password123")
	require.NoError(t, err)
	assert.Equal(t, "token-alice", res.Token)

	_, err = c.StartTraining(ctx, 1, "mnist")
	var serr *client.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusConflict, serr.Code)
	assert.Equal(t, "a training job is already running for this user", serr.Message)
}

func TestTrainingRecords(t *testing.T) {
	server := fakeServer(t)
	c := client.New(server.URL + "/")

	records, err := c.TrainingRecords(context.Background(), 5, 10)
	require.NoError(t, err)
	assert.Equal(t, []api.TrainingRecord{{Dataset: "mnist", Epochs: 3}}, records)
}

func TestPredictUploadsFile(t *testing.T) {
	server := fakeServer(t)
	c := client.New(server.URL)

	path := filepath.Join(t.TempDir(), "digit.png")
	require.NoError(t, os.WriteFile(path, []byte("pixels"), 0644))

	prediction, err := c.Predict(context.Background(), uuid.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "digit.png:pixels", prediction.Label)
}

func TestConnectionError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	_, err := client.New(server.URL).Models(context.Background())
	require.Error(t, err)
	assert.False(t, client.IsStatus(err, http.StatusNotFound))
}
