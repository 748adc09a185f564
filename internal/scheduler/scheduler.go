// Package scheduler builds one repeated polling job per device and
// publishes each tick's batch of tag reads as a single JSON array.
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"modbus-mqtt-gateway/internal/device"
	"modbus-mqtt-gateway/internal/model"
)

// Publisher is the outbound side the scheduler hands batched results to;
// the MQTT bridge implements it.
type Publisher interface {
	Publish(deviceName string, payload []byte) error
}

// Tag is the subset of *device.Device the scheduler needs; it is an
// interface so tests can drive the ticking/batching logic without a real
// transport.
type Tag interface {
	Read(ctx context.Context) (model.TagResponse, *model.ReadError)
	DeviceName() string
	Mode() model.Mode
	Freq() model.ReadFrequency
}

var _ Tag = (*device.Device)(nil)

type job struct {
	deviceName string
	freq       time.Duration
	tags       []Tag
}

// Scheduler owns one goroutine per device that has at least one Read-mode
// tag. Devices with zero Read-mode tags produce no job, matching the
// contract that Write-mode tags never generate scheduled traffic.
type Scheduler struct {
	logger    *zap.Logger
	publisher Publisher
	jobs      []*job
	wg        sync.WaitGroup
}

// New groups devices by device name and builds a job for each group's
// Read-mode tags.
func New(devices []Tag, publisher Publisher, logger *zap.Logger) *Scheduler {
	byDevice := make(map[string][]Tag)
	order := make([]string, 0)
	for _, d := range devices {
		if d.Mode() != model.Read {
			continue
		}
		if _, seen := byDevice[d.DeviceName()]; !seen {
			order = append(order, d.DeviceName())
		}
		byDevice[d.DeviceName()] = append(byDevice[d.DeviceName()], d)
	}

	s := &Scheduler{logger: logger, publisher: publisher}
	for _, name := range order {
		tags := byDevice[name]
		s.jobs = append(s.jobs, &job{
			deviceName: name,
			freq:       tags[0].Freq().ToDuration(),
			tags:       tags,
		})
	}
	return s
}

// Start launches every job's ticker loop. It returns immediately; jobs run
// until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		j := j
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJob(ctx, j)
		}()
	}
}

// Wait blocks until every job goroutine has returned (i.e. ctx is done).
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.freq)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, j)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, j *job) {
	results := make([]model.ReadResult, len(j.tags))

	var wg sync.WaitGroup
	for i, tag := range j.tags {
		i, tag := i, tag
		wg.Add(1)
		go func() {
			defer wg.Done()
			readCtx, cancel := context.WithTimeout(ctx, device.OperationTimeout)
			defer cancel()
			resp, readErr := tag.Read(readCtx)
			if readErr != nil {
				results[i] = model.ReadErr(readErr)
				return
			}
			results[i] = model.ReadOK(resp)
		}()
	}
	wg.Wait()

	payload, err := json.Marshal(results)
	if err != nil {
		s.logger.Error("failed to marshal scheduled batch", zap.String("device", j.deviceName), zap.Error(err))
		return
	}

	if err := s.publisher.Publish(j.deviceName, payload); err != nil {
		// Scheduler jobs never propagate errors upward; a publish
		// failure is logged and the next tick proceeds regardless.
		s.logger.Error("failed to publish scheduled batch", zap.String("device", j.deviceName), zap.Error(err))
	}
}
