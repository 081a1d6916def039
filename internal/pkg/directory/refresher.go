package directory

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/anicoll/smart-canopy/internal/pkg/model"
)

type DeviceSource interface {
	FetchDevices(ctx context.Context) ([]model.DeviceDescriptor, error)
}

type DeviceSink interface {
	UpdateDevices(devices []model.DeviceDescriptor)
}

// Refresher pushes the directory's device list into the controller.
type Refresher struct {
	source DeviceSource
	sink   DeviceSink
	logger *zap.Logger
}

func NewRefresher(source DeviceSource, sink DeviceSink) *Refresher {
	return &Refresher{
		source: source,
		sink:   sink,
		logger: zap.L().With(zap.String("component", "directory")),
	}
}

func (r *Refresher) Refresh(ctx context.Context) error {
	devices, err := r.source.FetchDevices(ctx)
	if err != nil {
		return err
	}
	r.sink.UpdateDevices(devices)
	r.logger.Debug("devices refreshed", zap.Int("count", len(devices)))
	return nil
}

// Run refreshes once, then on schedule until ctx is done. Fetch failures are
// logged and retried on the next tick; only a bad schedule is returned.
func (r *Refresher) Run(ctx context.Context, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if err := r.Refresh(ctx); err != nil {
			r.logger.Warn("device refresh failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("device refresh schedule %q: %w", schedule, err)
	}

	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("initial device refresh failed", zap.Error(err))
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
