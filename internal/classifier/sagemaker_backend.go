package classifier

import (
	"context"
	"encoding/json"
	"fmt"

	"LinkMonitorAPI/internal/models"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime/sagemakerruntimeiface"
)

type sageMakerRequest struct {
	Instances []sageMakerInstance `json:"instances"`
}

type sageMakerInstance struct {
	Features []float64 `json:"features"`
}

type sageMakerResponse struct {
	Scores []struct {
		Score float64 `json:"score"`
	} `json:"scores"`
}

// SageMakerBackend scores readings with an anomaly model hosted on a
// SageMaker endpoint. A reading is a warning when its score exceeds the
// threshold.
type SageMakerBackend struct {
	client    sagemakerruntimeiface.SageMakerRuntimeAPI
	endpoint  string
	threshold float64
}

func NewSageMakerBackend(region, endpoint string, threshold float64) (*SageMakerBackend, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, err
	}
	return NewSageMakerBackendWithClient(sagemakerruntime.New(sess), endpoint, threshold), nil
}

func NewSageMakerBackendWithClient(client sagemakerruntimeiface.SageMakerRuntimeAPI, endpoint string, threshold float64) *SageMakerBackend {
	return &SageMakerBackend{client: client, endpoint: endpoint, threshold: threshold}
}

func (b *SageMakerBackend) Score(ctx context.Context, readings []models.Reading) ([]models.WarningState, error) {
	payload := sageMakerRequest{Instances: make([]sageMakerInstance, len(readings))}
	for i, r := range readings {
		payload.Instances[i] = sageMakerInstance{Features: []float64{r.PDR, r.RSS}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	output, err := b.client.InvokeEndpointWithContext(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(b.endpoint),
		Body:         body,
		ContentType:  aws.String("application/json"),
		Accept:       aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke endpoint: %w", err)
	}

	var response sageMakerResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(response.Scores) != len(readings) {
		return nil, fmt.Errorf("endpoint returned %d scores for %d readings", len(response.Scores), len(readings))
	}

	states := make([]models.WarningState, len(readings))
	for i, s := range response.Scores {
		states[i] = models.WarningFromBool(s.Score > b.threshold)
	}
	return states, nil
}
