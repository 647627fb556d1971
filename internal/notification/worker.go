package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"laundry-reservation-backend/internal/model"
	"laundry-reservation-backend/internal/reservation"
)

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real implementation of Sender using the webpush
// library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool manages a pool of workers delivering device-availability pushes.
// It implements reservation.IdleNotifier: the engine dispatches a job when a
// device transitions to idle.
type WorkerPool struct {
	size    int
	jobs    chan int64
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
	logger  *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, logger *zap.Logger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int64, size*4),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		logger:  logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Debug("notification worker started", zap.Int("worker", id))
	for {
		select {
		case deviceID := <-wp.jobs:
			wp.sendForDevice(ctx, deviceID)
		case <-ctx.Done():
			wp.logger.Debug("notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// NotifyIdle queues a push job for a device that just became available. The
// queue never blocks the caller: a full queue drops the job.
func (wp *WorkerPool) NotifyIdle(state reservation.DeviceState) {
	select {
	case wp.jobs <- state.ID:
	default:
		wp.logger.Warn("notification queue full, dropping job", zap.Int64("device_id", state.ID))
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan int64 {
	return wp.jobs
}

// sendForDevice fetches subscriptions for the device and sends the pushes.
func (wp *WorkerPool) sendForDevice(ctx context.Context, deviceID int64) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_device_mapping sdm ON sdm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("sdm.device_id = ?", deviceID).
		Find(&subscriptions).Error
	if err != nil {
		wp.logger.Error("failed to fetch subscriptions", zap.Int64("device_id", deviceID), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	deviceLabel := fmt.Sprintf("%d", deviceID)
	var device model.Device
	if err := wp.db.WithContext(ctx).Select("name").First(&device, deviceID).Error; err != nil {
		wp.logger.Warn("failed to fetch device name", zap.Int64("device_id", deviceID), zap.Error(err))
	} else if device.Name != "" {
		deviceLabel = device.Name
	}

	wp.logger.Info("sending availability notifications",
		zap.Int64("device_id", deviceID),
		zap.Int("subscriptions", len(subscriptions)))

	message := fmt.Sprintf("%s is now available!", deviceLabel)
	for _, sub := range subscriptions {
		wp.send(ctx, sub, []byte(message))
	}
}

// send delivers a single web push notification.
func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.logger.Error("failed to send notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Expired subscriptions are pruned.
	if resp.StatusCode == http.StatusGone {
		wp.logger.Info("deleting expired subscription", zap.String("endpoint", sub.Endpoint))
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.logger.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
