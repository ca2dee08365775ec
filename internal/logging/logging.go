package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the level and file of the process logger.
type Options struct {
	Level string
	Path  string
	// Stderr sends console output to stderr, leaving stdout to command
	// output.
	Stderr bool
}

// New builds the process logger. Output goes to stdout and to a rotating file
// at opts.Path; if the file cannot be used the logger writes to stdout only.
// The returned closer flushes and closes the file.
func New(opts Options) (*zap.Logger, io.Closer, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return nil, nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if level.Level() == zapcore.DebugLevel {
		encCfg = zap.NewDevelopmentEncoderConfig()
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	console := os.Stdout
	if opts.Stderr {
		console = os.Stderr
	}
	sinks := []zapcore.WriteSyncer{zapcore.Lock(console)}
	var file *lumberjack.Logger
	var fileErr error
	if opts.Path != "" {
		if fileErr = os.MkdirAll(filepath.Dir(opts.Path), 0755); fileErr == nil {
			file = &lumberjack.Logger{
				Filename:   opts.Path,
				MaxSize:    50, // megabytes
				MaxBackups: 5,
				MaxAge:     28, // days
			}
			sinks = append(sinks, zapcore.AddSync(file))
		}
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), level)
	logger := zap.New(core, zap.AddCaller())
	if fileErr != nil {
		logger.Warn("cannot create log directory, logging to stdout only", zap.String("path", opts.Path), zap.Error(fileErr))
	}
	return logger, closer{logger: logger, file: file}, nil
}

type closer struct {
	logger *zap.Logger
	file   *lumberjack.Logger
}

func (c closer) Close() error {
	_ = c.logger.Sync()
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}

// ReadTail returns the last n lines of the log file at path.
func ReadTail(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan log file: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}
