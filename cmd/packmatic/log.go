package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dmkl/packmatic"
)

// newLogger builds a JSON logger on stderr. Verbose enables entry-level
// progress at debug.
func newLogger(verbose bool) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		level,
	)
	return zap.New(core)
}

// eventLogger bridges encoder lifecycle events to the logger. It always
// continues; the CLI never injects entries.
func eventLogger(logger *zap.Logger) packmatic.Handler {
	return func(ev packmatic.Event) packmatic.Directive {
		switch ev := ev.(type) {
		case packmatic.StreamStarted:
			logger.Info("stream started",
				zap.String("archive_id", ev.ArchiveID),
				zap.Int("entries", ev.EntriesTotal),
			)
		case packmatic.StreamEnded:
			if ev.Err != nil {
				logger.Error("stream halted",
					zap.String("archive_id", ev.ArchiveID),
					zap.Uint64("bytes", ev.BytesEmitted),
					zap.Error(ev.Err),
				)
			} else {
				logger.Info("stream ended",
					zap.String("archive_id", ev.ArchiveID),
					zap.Uint64("bytes", ev.BytesEmitted),
				)
			}
		case packmatic.EntryStarted:
			logger.Debug("entry started",
				zap.String("archive_id", ev.ArchiveID),
				zap.String("path", ev.Entry.Path),
			)
		case packmatic.EntryUpdated:
			logger.Debug("entry progress",
				zap.String("archive_id", ev.ArchiveID),
				zap.String("path", ev.Entry.Path),
				zap.Uint64("read", ev.BytesRead),
				zap.Uint64("emitted", ev.BytesEmitted),
			)
		case packmatic.EntryCompleted:
			logger.Debug("entry completed",
				zap.String("archive_id", ev.ArchiveID),
				zap.String("path", ev.Entry.Path),
			)
		case packmatic.EntryFailed:
			logger.Warn("entry failed",
				zap.String("archive_id", ev.ArchiveID),
				zap.String("path", ev.Entry.Path),
				zap.Error(ev.Err),
			)
		}
		return packmatic.Continue()
	}
}
