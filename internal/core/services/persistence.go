package services

import (
	"context"
	"time"

	"acqbridge/internal/core/domain"
	apperrors "acqbridge/pkg/errors"
	"acqbridge/pkg/tracing"
	"acqbridge/pkg/utils"
	"acqbridge/pkg/validation"

	"go.opentelemetry.io/otel/attribute"
)

// EnablePersistence allocates a fresh directory and points every active
// stream's storage at it. Empty request fields fall back to the current
// settings; non-empty ones replace them.
func (s *CameraService) EnablePersistence(ctx context.Context, req domain.PersistenceRequest) (*domain.AcquisitionRun, error) {
	var run *domain.AcquisitionRun
	err := s.traced(ctx, "enable_persistence", func(ctx context.Context) error {
		if err := s.requireIdle("enable persistence"); err != nil {
			return err
		}
		if err := s.requireInit(); err != nil {
			return err
		}

		format, root, prefix, metadata := s.persistenceTarget(req)
		if !domain.IsStreamFormat(format) {
			return apperrors.New(apperrors.ErrCodeConfigureFailed, "stream format %q is not one of %v", format, domain.StreamFormats)
		}
		if err := validation.ValidateSaveRoot(root); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "save root")
		}
		if err := validation.ValidateSavePrefix(prefix); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "save prefix")
		}
		if err := validation.ValidateMetadata(metadata); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "metadata")
		}

		dir, err := s.allocator.Allocate(root, prefix)
		if err != nil {
			s.logger.Errorw("allocating acquisition directory failed", "root", root, "prefix", prefix, "error", err)
			return err
		}
		files := s.allocator.StreamFiles(dir, format)

		if err := s.manager.Reconfigure(func(stream int, sc *domain.StreamConfig) {
			sc.Storage = domain.DeviceIdentifier{Kind: domain.DeviceKindStorage, Name: format}
			sc.StorageSettings.Filename = files[stream]
			sc.StorageSettings.Metadata = metadata
		}); err != nil {
			return err
		}

		s.settings.StreamFormat = format
		s.settings.SaveRoot = root
		s.settings.SavePrefix = prefix
		s.settings.Metadata = metadata

		s.closePersistenceRun(ctx, domain.RunStatusCompleted)
		run = &domain.AcquisitionRun{
			ID:        utils.GenerateRunID(),
			Kind:      domain.RunKindPersistence,
			Cameras:   s.cameraList(),
			Directory: dir,
			Format:    format,
			Prefix:    prefix,
			Status:    domain.RunStatusActive,
			StartedAt: time.Now(),
		}
		s.saveRun(ctx, run, false)
		s.persistRun = run

		tracing.AddSpanAttributes(ctx,
			tracing.RunIDKey.String(run.ID),
			attribute.String("acq.directory", dir),
		)
		s.logger.Infow("persistence enabled", "directory", dir, "format", format, "run_id", run.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *run
	return &cp, nil
}

func (s *CameraService) persistenceTarget(req domain.PersistenceRequest) (format, root, prefix, metadata string) {
	format, root, prefix, metadata = s.settings.StreamFormat, s.settings.SaveRoot, s.settings.SavePrefix, s.settings.Metadata
	if req.Format != "" {
		format = req.Format
	}
	if req.Root != "" {
		root = req.Root
	}
	if req.Prefix != "" {
		prefix = req.Prefix
	}
	if req.Metadata != "" {
		metadata = req.Metadata
	}
	return format, root, prefix, metadata
}

// DisablePersistence routes every active stream back to the Trash sink.
func (s *CameraService) DisablePersistence(ctx context.Context) error {
	return s.traced(ctx, "disable_persistence", func(ctx context.Context) error {
		if err := s.requireIdle("disable persistence"); err != nil {
			return err
		}
		if err := s.requireInit(); err != nil {
			return err
		}

		if err := s.manager.Reconfigure(func(_ int, sc *domain.StreamConfig) {
			sc.Storage = domain.DeviceIdentifier{Kind: domain.DeviceKindStorage, Name: domain.StorageTrash}
			sc.StorageSettings.Filename = ""
		}); err != nil {
			return err
		}

		s.closePersistenceRun(ctx, domain.RunStatusCompleted)
		s.logger.Infow("persistence disabled")
		return nil
	})
}

func (s *CameraService) closePersistenceRun(ctx context.Context, status domain.RunStatus) {
	if s.persistRun == nil {
		return
	}
	run := s.persistRun
	ended := time.Now()
	run.EndedAt = &ended
	run.Status = status
	s.saveRun(ctx, run, true)
	s.persistRun = nil
}
