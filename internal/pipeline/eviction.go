package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"drivewatch/internal/crossing"
	"drivewatch/internal/fileutil"
	"drivewatch/internal/journal"
	"drivewatch/internal/logging"
	"drivewatch/internal/notifications"
	"drivewatch/internal/services"
	"drivewatch/internal/services/homeassistant"
	"drivewatch/internal/tracking"
	"drivewatch/internal/video"
)

var (
	errQueueFull  = errors.New("eviction queue full")
	errNoHDFrame  = errors.New("no high resolution frame cached for object")
	errEmptyCrop  = errors.New("plate crop outside frame bounds")
	errNoGeometry = errors.New("low stream size unknown")
)

// enqueue is the ledger eviction callback. It runs on the ingest goroutine
// and never blocks; the ledger logs the returned error.
func (p *Pipeline) enqueue(obj *tracking.TrackedObject) error {
	select {
	case p.queue <- obj:
		return nil
	default:
		p.dropped.Add(1)
		return fmt.Errorf("%w (capacity %d), dropped track %d", errQueueFull, cap(p.queue), obj.TrackID)
	}
}

func (p *Pipeline) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(logging.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		case obj := <-p.queue:
			if obj == nil {
				continue
			}
			itemCtx := services.WithRequestID(services.WithTrackID(ctx, obj.TrackID), uuid.NewString())
			if err := p.process(itemCtx, obj); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(logger, "eviction processing failed", "eviction_failed",
					logging.Int64(logging.FieldTrackID, obj.TrackID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "crossing was not reported"),
				)
			}
		}
	}
}

// process analyzes one departed object and publishes its direction. Only
// objects that crossed the reference line get a plate read, a journal entry
// and a plate notification.
func (p *Pipeline) process(ctx context.Context, obj *tracking.TrackedObject) error {
	defer p.processed.Add(1)
	logger := logging.WithContext(ctx, p.logger)

	lowSize, analyzer := p.geometry()
	if lowSize.X <= 0 {
		return errNoGeometry
	}
	ev := analyzer.Analyze(obj)
	attrs := []logging.Attr{
		logging.String("action", string(ev.Action)),
		logging.String("side", string(ev.Side)),
		logging.Int("samples", obj.Len()),
		logging.Duration("visible", obj.Duration()),
		logging.Int("hd_frames", len(obj.HDFrames())),
	}

	var plate, cropPath string
	if ev.Crossed() {
		p.crossings.Add(1)
		logger.Info("crossing detected", logging.Args(append(attrs,
			logging.Int("crossing_index", ev.CrossingIndex),
			logging.Time("crossed_at", ev.CrossedAt),
		)...)...)

		plate, cropPath = p.readPlate(ctx, obj, ev, lowSize)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if plate != "" {
			p.platesRead.Add(1)
		}
	} else {
		logger.Info("object left without crossing", logging.Args(attrs...)...)
	}

	p.publish(ctx, homeassistant.Reading{
		Plate:      plate,
		Direction:  string(ev.Action),
		DetectedAt: obj.FirstSeen,
	})
	if !ev.Crossed() {
		return nil
	}

	if p.deps.Journal != nil {
		entry, err := p.deps.Journal.Record(ctx, journal.Entry{
			TrackID:   obj.TrackID,
			Action:    string(ev.Action),
			Side:      string(ev.Side),
			CrossedAt: ev.CrossedAt,
			FirstSeen: obj.FirstSeen,
			LastSeen:  obj.LastSeen,
			Samples:   obj.Len(),
			Plate:     plate,
			CropPath:  cropPath,
		})
		if err != nil {
			logging.WarnWithContext(logger, "journal write failed", "journal_write_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check journal path permissions and disk space"),
				logging.String(logging.FieldImpact, "crossing missing from event history"),
			)
		} else {
			logger.Debug("crossing journaled", logging.String("entry_id", entry.ID))
		}
	}

	p.notify(ctx, notifications.EventPlateRead, notifications.Payload{
		"plate":      plate,
		"direction":  string(ev.Action),
		"detectedAt": obj.FirstSeen,
	})
	return nil
}

func (p *Pipeline) publish(ctx context.Context, reading homeassistant.Reading) {
	if p.deps.Publisher == nil {
		return
	}
	if err := p.deps.Publisher.PublishPlate(ctx, reading); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "mqtt publish failed", "mqtt_publish_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check broker connectivity and credentials"),
			logging.String(logging.FieldImpact, "Home Assistant did not receive this reading"),
		)
	}
}

// readPlate crops the object from its crossing frame and asks the reader for
// the plate. Failures are logged and yield an empty plate.
func (p *Pipeline) readPlate(ctx context.Context, obj *tracking.TrackedObject, ev crossing.Event, lowSize image.Point) (string, string) {
	logger := logging.WithContext(ctx, p.logger)
	img, frame, err := plateCrop(obj, ev, lowSize, p.cfg.OCR.MinCropWidth)
	if err != nil {
		logging.WarnWithContext(logger, "plate crop unavailable", "plate_crop_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "reading published without a plate"),
		)
		return "", ""
	}

	var cropPath string
	if p.cfg.Pipeline.SaveCrops {
		cropPath, err = p.saveCrop(obj.TrackID, frame.CapturedAt, img)
		if err != nil {
			logging.WarnWithContext(logger, "save crop failed", "crop_save_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check crops_dir permissions"),
			)
		}
	}

	if p.deps.Reader == nil {
		return "", cropPath
	}
	plate, err := p.deps.Reader.ReadPlate(ctx, img)
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(logger, "plate read failed", "plate_read_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the OCR endpoint and model"),
				logging.String(logging.FieldImpact, "plate reported as unknown"),
			)
		}
		return "", cropPath
	}
	logger.Info("plate read",
		logging.String("plate", plate),
	)
	return plate, cropPath
}

// plateCrop selects the observation at the crossing index, falling back to
// the latest observation with a cached frame, and crops its box from that
// frame after scaling it from detection space.
func plateCrop(obj *tracking.TrackedObject, ev crossing.Event, lowSize image.Point, minWidth int) (image.Image, video.Frame, error) {
	obs, frame, ok := crossingObservation(obj, ev)
	if !ok {
		return nil, video.Frame{}, errNoHDFrame
	}
	box := video.ScaleBox(obs.Box, lowSize, image.Pt(frame.Width, frame.Height))
	rect := video.CropRect(box, frame.Bounds())
	if rect.Empty() {
		return nil, frame, errEmptyCrop
	}
	img, err := video.Crop(frame, rect)
	if err != nil {
		return nil, frame, err
	}
	return video.UpscaleToWidth(img, minWidth), frame, nil
}

func crossingObservation(obj *tracking.TrackedObject, ev crossing.Event) (tracking.Observation, video.Frame, bool) {
	if ev.CrossingIndex >= 0 && ev.CrossingIndex < obj.Len() {
		obs := obj.Observation(ev.CrossingIndex)
		if frame, ok := obj.HDFrame(obs.FrameID); ok {
			return obs, frame, true
		}
	}
	for i := obj.Len() - 1; i >= 0; i-- {
		obs := obj.Observation(i)
		if frame, ok := obj.HDFrame(obs.FrameID); ok {
			return obs, frame, true
		}
	}
	return tracking.Observation{}, video.Frame{}, false
}

func (p *Pipeline) saveCrop(trackID int64, at time.Time, img image.Image) (string, error) {
	dir := p.cfg.Paths.CropsDir
	if dir == "" {
		return "", errors.New("crops_dir not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create crops dir: %w", err)
	}
	if at.IsZero() {
		at = p.now()
	}
	data, err := video.EncodeJPEG(img, video.DefaultJPEGQuality)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_track%d.jpg", at.UTC().Format("20060102T150405.000Z"), trackID)
	path := filepath.Join(dir, name)
	if err := fileutil.WriteAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write crop: %w", err)
	}
	return path, nil
}
