package pipeline

import (
	"context"
	"errors"

	"drivewatch/internal/logging"
	"drivewatch/internal/notifications"
	"drivewatch/internal/tracking"
	"drivewatch/internal/video"
)

const defaultMaxConsecutiveErrors = 30

func (p *Pipeline) runIngest(ctx context.Context) {
	defer p.wg.Done()

	recovering := make(map[string]bool, 2)
	lastStats := p.now()
	for ctx.Err() == nil {
		low, ok := p.ensureSources(ctx, recovering)
		if !ok {
			if p.sleep(ctx, rebuildDelay) != nil {
				return
			}
			continue
		}

		frame, got := low.Read()
		if !got {
			if p.sleep(ctx, p.cfg.Pipeline.IdleSleep()) != nil {
				return
			}
			continue
		}
		if recovering[StreamLow] {
			delete(recovering, StreamLow)
			p.streamRecovered(ctx, StreamLow)
		}

		p.handleFrame(ctx, frame, recovering)

		if interval := p.cfg.Pipeline.StatsInterval(); interval > 0 && p.now().Sub(lastStats) >= interval {
			p.logStats()
			lastStats = p.now()
		}
	}
}

// ensureSources rebuilds closed or missing captures. It reports false when no
// low source is available.
func (p *Pipeline) ensureSources(ctx context.Context, recovering map[string]bool) (Source, bool) {
	p.mu.RLock()
	low, high := p.low, p.high
	p.mu.RUnlock()

	if low == nil || low.Closed() {
		fresh, err := p.rebuild(ctx, StreamLow, low, recovering)
		if err != nil {
			return nil, false
		}
		low = fresh
	}
	if p.cfg.Streams.HasHighStream() && (high == nil || high.Closed()) && !p.now().Before(p.highRetryAt) {
		if _, err := p.rebuild(ctx, StreamHigh, high, recovering); err != nil {
			p.highRetryAt = p.now().Add(rebuildDelay)
		}
	}
	return low, true
}

func (p *Pipeline) rebuild(ctx context.Context, stream string, old Source, recovering map[string]bool) (Source, error) {
	if old != nil {
		st := old.Stats()
		logging.WarnWithContext(p.logger, "capture closed; rebuilding", "stream_closed",
			logging.String(logging.FieldStream, stream),
			logging.Uint64("restarts", st.Restarts),
			logging.Uint64("frames", st.Frames),
			logging.String(logging.FieldErrorHint, "check camera power, network and stream URL"),
			logging.String(logging.FieldImpact, "no frames are processed from this stream until it reconnects"),
		)
		p.notify(ctx, notifications.EventStreamClosed, notifications.Payload{
			"stream": stream,
			"reason": describe(stream, st),
		})
		if err := old.Release(); err != nil {
			p.logger.Debug("release closed source failed", logging.String(logging.FieldStream, stream), logging.Error(err))
		}
		p.swap(stream, nil)
		recovering[stream] = true
	}

	if p.deps.NewSource == nil {
		err := errors.New("no source factory configured")
		p.setLastError(err)
		return nil, err
	}
	src, err := p.deps.NewSource(ctx, stream)
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(p.logger, "open capture failed", "capture_open_failed",
				logging.String(logging.FieldStream, stream),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "verify the stream URL and ffmpeg installation"),
				logging.String(logging.FieldImpact, "stream remains unavailable; retrying"),
			)
			p.setLastError(err)
		}
		return nil, err
	}
	p.swap(stream, src)
	if stream == StreamLow {
		p.setLowSize(src.Size())
	}
	p.logger.Info("capture opened", logging.String(logging.FieldStream, stream))
	return src, nil
}

func (p *Pipeline) swap(stream string, src Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stream == StreamHigh {
		p.high = src
		return
	}
	p.low = src
}

func (p *Pipeline) streamRecovered(ctx context.Context, stream string) {
	p.logger.Info("stream recovered",
		logging.String(logging.FieldStream, stream),
		logging.String(logging.FieldEventType, "stream_recovered"),
	)
	p.notify(ctx, notifications.EventStreamRecovered, notifications.Payload{"stream": stream})
}

func (p *Pipeline) handleFrame(ctx context.Context, frame video.Frame, recovering map[string]bool) {
	p.frames.Add(1)
	at := frame.CapturedAt
	if at.IsZero() {
		at = p.now()
	}
	p.monitor.Tick(at)

	if size, _ := p.geometry(); size.X != frame.Width || size.Y != frame.Height {
		p.setLowSize(frame.Width, frame.Height)
	}

	batch, err := p.deps.Detector.Detect(ctx, frame)
	var dets []tracking.Detection
	switch {
	case err == nil:
		dets, err = batch.Detections()
		if err != nil {
			p.malformed(frame, err)
			dets = nil
		}
		p.detectorSucceeded()
	case errors.Is(err, tracking.ErrMalformedBatch):
		p.malformed(frame, err)
		p.detectorSucceeded()
	default:
		if ctx.Err() != nil {
			return
		}
		p.detectorFailed(ctx, err)
		// Failed cycles still age live objects so departures are reported
		// during a detector outage.
		p.recordLedger(p.ledger.Update(nil, nil))
		return
	}

	live := p.ledger.Update(dets, nil)
	if len(live) > 0 {
		p.attachHD(ctx, frame, recovering)
	}
	p.recordLedger(live)
}

func (p *Pipeline) recordLedger(live []*tracking.TrackedObject) {
	p.mu.Lock()
	p.ledgerSt = p.ledger.Stats()
	p.live = len(live)
	p.mu.Unlock()
}

// attachHD pairs the current logical frame with a high resolution frame.
// The low frame stands in when no high frame is ready.
func (p *Pipeline) attachHD(ctx context.Context, low video.Frame, recovering map[string]bool) {
	p.mu.RLock()
	high := p.high
	p.mu.RUnlock()

	if high != nil && high.Grab() {
		if frame, ok := high.Retrieve(); ok {
			if recovering[StreamHigh] {
				delete(recovering, StreamHigh)
				p.streamRecovered(ctx, StreamHigh)
			}
			p.ledger.AssignFrame(frame)
			return
		}
	}
	p.ledger.AssignFrame(low)
}

func (p *Pipeline) malformed(frame video.Frame, err error) {
	logging.WarnWithContext(p.logger, "malformed detection batch", "detector_malformed_batch",
		logging.Uint64("frame_seq", frame.Seq),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check detector response schema"),
		logging.String(logging.FieldImpact, "frame treated as having no detections"),
	)
}

func (p *Pipeline) detectorSucceeded() {
	prev := p.consecutive.Swap(0)
	if prev > int64(p.maxConsecutiveErrors()) {
		p.logger.Info("detector recovered", logging.Int64("failed_cycles", prev))
		p.setLastError(nil)
	}
}

func (p *Pipeline) detectorFailed(ctx context.Context, err error) {
	p.detectorErrors.Add(1)
	p.setLastError(err)
	n := p.consecutive.Add(1)
	limit := int64(p.maxConsecutiveErrors())

	switch {
	case n == 1:
		logging.WarnWithContext(p.logger, "detector request failed", "detector_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the detector service at "+p.cfg.Detector.URL),
			logging.String(logging.FieldImpact, "frames are skipped until the detector responds"),
		)
	case n <= limit:
		p.logger.Debug("detector request failed", logging.Int64("consecutive_errors", n), logging.Error(err))
	case n == limit+1:
		logging.ErrorWithContext(p.logger, "detector failing repeatedly; backing off", "detector_unavailable",
			logging.Int64("consecutive_errors", n),
			logging.Duration("backoff", errorBackoff),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "restart or inspect the detector service"),
		)
		p.notify(ctx, notifications.EventError, notifications.Payload{
			"context": "detector",
			"error":   err,
		})
	}
	if n > limit {
		_ = p.sleep(ctx, errorBackoff)
	}
}

func (p *Pipeline) maxConsecutiveErrors() int {
	if n := p.cfg.Pipeline.MaxConsecutiveErrors; n > 0 {
		return n
	}
	return defaultMaxConsecutiveErrors
}

func (p *Pipeline) logStats() {
	st := p.monitor.Stats()
	p.mu.RLock()
	ls := p.ledgerSt
	p.mu.RUnlock()
	p.logger.Info("pipeline stats",
		logging.Float64("fps", st.FPS),
		logging.Duration("frame_interval", st.MeanInterval),
		logging.Duration("frame_jitter", st.StdDev),
		logging.Uint64("frames", p.frames.Load()),
		logging.Int("live", ls.Live),
		logging.Int("cached_frames", ls.CachedFrames),
		logging.Uint64("evicted", ls.Evicted),
		logging.Uint64("reported", ls.Reported),
		logging.Uint64("dropped_evictions", p.dropped.Load()),
		logging.Uint64("crossings", p.crossings.Load()),
		logging.Uint64("plates_read", p.platesRead.Load()),
	)
}
