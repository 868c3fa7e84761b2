package metrics

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	namespace                = "MAGDA/Bebop"
	httpStatusServerError    = 500
	cloudwatchTimeoutSeconds = 5
)

// Client wraps CloudWatch client for custom metrics
type Client struct {
	client      *cloudwatch.Client
	enabled     bool
	environment string
}

// NewClient creates a new CloudWatch metrics client
func NewClient(ctx context.Context, environment string) (*Client, error) {
	// Only enable in production
	if environment != "production" {
		log.Printf("📊 CloudWatch Metrics: DISABLED (environment: %s)", environment)
		return &Client{
			enabled:     false,
			environment: environment,
		}, nil
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Printf("⚠️  Failed to load AWS config for CloudWatch: %v", err)
		return &Client{enabled: false}, nil
	}

	client := cloudwatch.NewFromConfig(cfg)
	log.Printf("📊 CloudWatch Metrics: ✅ ENABLED (namespace: %s)", namespace)

	return &Client{
		client:      client,
		enabled:     true,
		environment: environment,
	}, nil
}

// Enabled reports whether metrics are shipped
func (m *Client) Enabled() bool {
	return m != nil && m.enabled
}

// RecordAPIRequest records an API request metric
func (m *Client) RecordAPIRequest(endpoint string, statusCode int, duration time.Duration) {
	if !m.Enabled() {
		return
	}

	go func() {
		ctx := context.Background()
		metricName := "APIRequests"
		if statusCode >= httpStatusServerError {
			metricName = "APIErrors"
		}

		dimensions := m.dimensions("Endpoint", endpoint)

		if err := m.putMetric(ctx, metricName, 1, types.StandardUnitCount, dimensions); err != nil {
			log.Printf("Failed to record %s metric: %v", metricName, err)
		}

		latencyMs := float64(duration.Milliseconds())
		if err := m.putMetric(ctx, "APILatency", latencyMs, types.StandardUnitMilliseconds, dimensions); err != nil {
			log.Printf("Failed to record APILatency metric: %v", err)
		}
	}()
}

// RecordRetrieval records a retrieval outcome and its latency
func (m *Client) RecordRetrieval(outcome string, duration time.Duration) {
	if !m.Enabled() {
		return
	}

	go func() {
		ctx := context.Background()
		dimensions := m.dimensions("Outcome", outcome)

		if err := m.putMetric(ctx, "Retrievals", 1, types.StandardUnitCount, dimensions); err != nil {
			log.Printf("Failed to record Retrievals metric: %v", err)
		}

		latencyMs := float64(duration.Microseconds()) / 1000
		if err := m.putMetric(ctx, "RetrievalLatency", latencyMs, types.StandardUnitMilliseconds, dimensions); err != nil {
			log.Printf("Failed to record RetrievalLatency metric: %v", err)
		}
	}()
}

// RecordBuild records the size of a finished database build
func (m *Client) RecordBuild(filesProcessed, fragmentsIndexed, failures int) {
	if !m.Enabled() {
		return
	}

	go func() {
		ctx := context.Background()
		dimensions := m.dimensions("", "")

		if err := m.putMetric(ctx, "BuildFiles", float64(filesProcessed), types.StandardUnitCount, dimensions); err != nil {
			log.Printf("Failed to record BuildFiles metric: %v", err)
		}
		if err := m.putMetric(ctx, "BuildFragments", float64(fragmentsIndexed), types.StandardUnitCount, dimensions); err != nil {
			log.Printf("Failed to record BuildFragments metric: %v", err)
		}
		if failures > 0 {
			if err := m.putMetric(ctx, "BuildFailures", float64(failures), types.StandardUnitCount, dimensions); err != nil {
				log.Printf("Failed to record BuildFailures metric: %v", err)
			}
		}
	}()
}

func (m *Client) dimensions(name, value string) []types.Dimension {
	dims := []types.Dimension{
		{
			Name:  aws.String("Environment"),
			Value: aws.String(m.environment),
		},
	}
	if name != "" {
		dims = append(dims, types.Dimension{Name: aws.String(name), Value: aws.String(value)})
	}
	return dims
}

// putMetric sends a metric to CloudWatch
func (m *Client) putMetric(
	_ context.Context,
	metricName string,
	value float64,
	unit types.StandardUnit,
	dimensions []types.Dimension,
) error {
	if !m.enabled || m.client == nil {
		return nil
	}

	timeout := time.Duration(cloudwatchTimeoutSeconds) * time.Second
	cwCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := m.client.PutMetricData(cwCtx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(metricName),
				Value:      aws.Float64(value),
				Unit:       unit,
				Timestamp:  aws.Time(time.Now()),
				Dimensions: dimensions,
			},
		},
	})

	return err
}
