package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"roomwatch/internal/core/domain"
	"roomwatch/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "roomwatch:reports:"

// ReportChannel is the pub/sub channel reports of a room are published on.
func ReportChannel(room string) string {
	return channelPrefix + room
}

// envelope tags a report with the instance that produced it.
type envelope struct {
	InstanceID string               `json:"instance_id"`
	Report     domain.QualityReport `json:"report"`
}

// ReportRelay shares quality reports between service instances over Redis
// pub/sub, so a dashboard connected to one instance sees participants
// monitored by another.
type ReportRelay struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
}

func NewReportRelay(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *ReportRelay {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ReportRelay{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Record publishes a locally produced report.
func (r *ReportRelay) Record(ctx context.Context, report domain.QualityReport) error {
	data, err := json.Marshal(envelope{InstanceID: r.instanceID, Report: report})
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := r.client.Publish(ctx, ReportChannel(report.Room), data).Err(); err != nil {
		return fmt.Errorf("failed to publish report: %w", err)
	}
	return nil
}

// Forget is a no-op; subscribers only ever see live reports.
func (r *ReportRelay) Forget(context.Context, domain.SessionID) error {
	return nil
}

// Run delivers reports published by other instances to sink until ctx is
// done.
func (r *ReportRelay) Run(ctx context.Context, sink ports.ReportSink) error {
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to reports: %w", err)
	}
	r.logger.Infow("relaying quality reports", "instance_id", r.instanceID)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg, sink)
		}
	}
}

func (r *ReportRelay) handle(ctx context.Context, msg *redis.Message, sink ports.ReportSink) {
	report, from, err := decode(msg.Channel, msg.Payload)
	if err != nil {
		r.logger.Warnw("dropping malformed relayed report", "channel", msg.Channel, "error", err)
		return
	}
	if from == r.instanceID {
		return
	}
	if err := sink.Record(ctx, report); err != nil {
		r.logger.Warnw("failed to deliver relayed report",
			"session_id", report.SessionID,
			"from", from,
			"error", err,
		)
	}
}

func decode(channel, payload string) (domain.QualityReport, string, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return domain.QualityReport{}, "", err
	}
	room := strings.TrimPrefix(channel, channelPrefix)
	if env.Report.Room != room {
		return domain.QualityReport{}, "", fmt.Errorf("report for room %q on channel of %q", env.Report.Room, room)
	}
	return env.Report, env.InstanceID, nil
}
