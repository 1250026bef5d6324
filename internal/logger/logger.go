package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// FieldCommand is the structured log field key for the running subcommand.
	FieldCommand = "cmd"

	stderr = "stderr"
)

type Options struct {
	JSON  bool
	Debug bool
	// Command, when set, is attached to every entry.
	Command string
	// Outputs defaults to stderr.
	Outputs []string
}

// New builds the CLI logger. Console encoding is used unless JSON is set.
func New(opts Options) (*zap.Logger, error) {
	logger, err := opts.config().Build()
	if err != nil {
		return nil, err
	}
	defer logger.Sync()

	if opts.Command != "" {
		logger = logger.With(zap.String(FieldCommand, opts.Command))
	}

	return logger, nil
}

func (o Options) config() zap.Config {
	level := zapcore.InfoLevel
	if o.Debug {
		level = zapcore.DebugLevel
	}

	outputs := o.Outputs
	if len(outputs) == 0 {
		outputs = []string{stderr}
	}

	encoder := zapcore.EncoderConfig{
		MessageKey: "msg",

		LevelKey:    "level",
		EncodeLevel: zapcore.LowercaseLevelEncoder,

		TimeKey:    "time",
		EncodeTime: zapcore.RFC3339TimeEncoder,

		CallerKey:    "caller",
		EncodeCaller: zapcore.ShortCallerEncoder,

		EncodeDuration: zapcore.StringDurationEncoder,
	}

	encoding := "json"
	if !o.JSON {
		encoding = "console"
		// a terminal gets a compact line: level and message only, unless debugging
		encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if !o.Debug {
			encoder.TimeKey = zapcore.OmitKey
			encoder.CallerKey = zapcore.OmitKey
		}
	}

	return zap.Config{
		Encoding:          encoding,
		Level:             zap.NewAtomicLevelAt(level),
		Development:       o.Debug,
		DisableStacktrace: !o.Debug,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{stderr},
		EncoderConfig:     encoder,
	}
}
