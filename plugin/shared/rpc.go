package shared

import (
	"classifier-backend/internal/status"
	"encoding/json"
	"fmt"
	"net/rpc"

	"github.com/google/uuid"
	"github.com/hashicorp/go-plugin"
)

type TrainArgs struct {
	Request TrainRequest
	SinkId  uint32
}

// RPCClient is the host side of the trainer plugin.
type RPCClient struct {
	client *rpc.Client
	broker *plugin.MuxBroker
}

// Train serves sink on a fresh broker stream so the worker can write status
// updates back while the Train call is in flight.
func (c *RPCClient) Train(req TrainRequest, sink status.Sink) error {
	sinkId := c.broker.NextId()
	go c.broker.AcceptAndServe(sinkId, &SinkRPCServer{Impl: sink})

	var ok bool
	return c.client.Call("Plugin.Train", TrainArgs{Request: req, SinkId: sinkId}, &ok)
}

func (c *RPCClient) Predict(req PredictRequest) (Prediction, error) {
	var resp Prediction
	err := c.client.Call("Plugin.Predict", req, &resp)
	return resp, err
}

func (c *RPCClient) Evaluate(req EvaluateRequest) (Evaluation, error) {
	var resp Evaluation
	err := c.client.Call("Plugin.Evaluate", req, &resp)
	return resp, err
}

// RPCServer runs inside the worker and forwards calls to the real trainer.
type RPCServer struct {
	Impl   Trainer
	broker *plugin.MuxBroker
}

func (s *RPCServer) Train(args TrainArgs, resp *bool) error {
	conn, err := s.broker.Dial(args.SinkId)
	if err != nil {
		return fmt.Errorf("error connecting to status sink: %w", err)
	}
	client := rpc.NewClient(conn)
	defer client.Close()

	if err := s.Impl.Train(args.Request, &SinkRPCClient{client: client}); err != nil {
		return err
	}
	*resp = true
	return nil
}

func (s *RPCServer) Predict(req PredictRequest, resp *Prediction) error {
	v, err := s.Impl.Predict(req)
	*resp = v
	return err
}

func (s *RPCServer) Evaluate(req EvaluateRequest, resp *Evaluation) error {
	v, err := s.Impl.Evaluate(req)
	*resp = v
	return err
}

// SetArgs carries the record as JSON. Gob omits zero values, which would
// turn a pointer to a 0.0 accuracy into nil on the host.
type SetArgs struct {
	TaskId uuid.UUID
	Record []byte
}

// SinkRPCClient is the status sink handed to the trainer inside the worker.
type SinkRPCClient struct {
	client *rpc.Client
}

func (c *SinkRPCClient) Set(taskId uuid.UUID, record status.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("error encoding status record: %w", err)
	}

	var ok bool
	return c.client.Call("Plugin.Set", SetArgs{TaskId: taskId, Record: data}, &ok)
}

type SinkRPCServer struct {
	Impl status.Sink
}

func (s *SinkRPCServer) Set(args SetArgs, resp *bool) error {
	var record status.Record
	if err := json.Unmarshal(args.Record, &record); err != nil {
		return fmt.Errorf("error decoding status record: %w", err)
	}

	if err := s.Impl.Set(args.TaskId, record); err != nil {
		return err
	}
	*resp = true
	return nil
}
