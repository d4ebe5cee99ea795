package telemetry

import (
	"context"
	"fmt"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"tts-batch/internal/domain"
)

// Measurement is the InfluxDB measurement task transitions are written to.
const Measurement = "tts_task"

const writeTimeout = 3 * time.Second

// pointWriter is the part of api.WriteAPIBlocking the recorder needs.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Influx writes one point per task transition.
type Influx struct {
	client influxdb2.Client
	writer pointWriter
	now    func() time.Time
}

// NewInflux connects to InfluxDB 2 and checks its health.
func NewInflux(url, token, org, bucket string) (*Influx, error) {
	log.Printf("[TELEMETRY] Initializing InfluxDB client: url=%s, org=%s, bucket=%s", url, org, bucket)

	client := influxdb2.NewClient(url, token)
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		log.Printf("[TELEMETRY] InfluxDB health check returned status: %s", health.Status)
	}

	return &Influx{
		client: client,
		writer: client.WriteAPIBlocking(org, bucket),
		now:    time.Now,
	}, nil
}

// RecordTransition writes the task's new status. Write failures are logged only.
func (i *Influx) RecordTransition(batchID string, index int, task domain.Task) {
	point := newPoint(batchID, index, task, i.now())

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := i.writer.WritePoint(ctx, point); err != nil {
		log.Printf("[TELEMETRY] Failed to write transition for %s: %v", task.ModelKey, err)
	}
}

// Close releases the client.
func (i *Influx) Close() {
	if i.client != nil {
		i.client.Close()
	}
}

func newPoint(batchID string, index int, task domain.Task, at time.Time) *write.Point {
	return influxdb2.NewPoint(Measurement,
		map[string]string{
			"batch":  batchID,
			"model":  task.ModelKey,
			"status": string(task.Status),
		},
		map[string]interface{}{
			"retry_count": task.RetryCount,
			"index":       index,
		},
		at)
}
