package shared

import (
	"classifier-backend/internal/status"
	"net/rpc"

	"github.com/google/uuid"
	"github.com/hashicorp/go-plugin"
)

const TrainerPluginName = "trainer"

var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "CLASSIFIER_TRAINER_PLUGIN",
	MagicCookieValue: "b7c1e9d2-trainer",
}

// PluginMap is the map of plugins the host can dispense. The worker binary
// serves the same map with Impl set.
var PluginMap = map[string]plugin.Plugin{
	TrainerPluginName: &TrainerPlugin{},
}

type TrainRequest struct {
	TaskId     uuid.UUID
	Epochs     int
	Dataset    string
	DatasetDir string
	OutputDir  string
}

type PredictRequest struct {
	WeightsFile string
	Image       []byte
}

type Prediction struct {
	Label      string
	Confidence float64
	Scores     map[string]float64
}

type EvaluateRequest struct {
	WeightsFile string
	Dataset     string
	DatasetDir  string
}

type Evaluation struct {
	Accuracy float64
	Samples  int
}

// Trainer is the interface served by the worker process.
type Trainer interface {
	// Train blocks until the job reached a terminal status. Status updates
	// are written to sink as the job progresses.
	Train(req TrainRequest, sink status.Sink) error

	Predict(req PredictRequest) (Prediction, error)

	Evaluate(req EvaluateRequest) (Evaluation, error)
}

type TrainerPlugin struct {
	Impl Trainer
}

func (p *TrainerPlugin) Server(broker *plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl, broker: broker}, nil
}

func (p *TrainerPlugin) Client(broker *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c, broker: broker}, nil
}
