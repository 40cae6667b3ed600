package logging

import (
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// When unset or empty, logging is silent (no zap output).
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "WBEMD_LOG_LEVEL"

// maxDumpLength caps hex and ascii dumps of wire data.
const maxDumpLength = 256

var (
	logger = zap.NewNop()
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Initialize creates the logger. An empty level falls back to
// WBEMD_LOG_LEVEL; with neither set the logger stays silent.
func Initialize(lvl string) error {
	if lvl == "" {
		lvl = os.Getenv(LogLevelEnvVar)
	}
	if lvl == "" {
		logger = zap.NewNop()
		return nil
	}

	// Unknown names log at info rather than failing start-up.
	if err := SetLevel(lvl); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	encoder := zap.NewDevelopmentEncoderConfig()
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder.EncodeCaller = zapcore.ShortCallerEncoder
	encoder.EncodeLevel = zapcore.CapitalLevelEncoder
	if term.IsTerminal(int(os.Stdout.Fd())) {
		encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config := zap.Config{
		Level:            level,
		Encoding:         "console",
		EncoderConfig:    encoder,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = l
	return nil
}

// InitializeFromEnv initializes the logger from WBEMD_LOG_LEVEL only.
func InitializeFromEnv() error {
	return Initialize("")
}

// SetLevel changes the level of a running logger. It has no effect while
// logging is silent.
func SetLevel(lvl string) error {
	parsed, err := zapcore.ParseLevel(lvl)
	if err != nil {
		return err
	}
	level.SetLevel(parsed)
	return nil
}

// Level returns the current level name.
func Level() string {
	return level.Level().String()
}

// SetLogger replaces the global logger. Tests use it with zaptest or
// observer cores.
func SetLogger(l *zap.Logger) {
	logger = l
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func Info(msg string, fields ...zap.Field)  { GetLogger().Info(msg, fields...) }
func Debug(msg string, fields ...zap.Field) { GetLogger().Debug(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { GetLogger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetLogger().Error(msg, fields...) }

// Fatal logs and exits the process.
func Fatal(msg string, fields ...zap.Field) { GetLogger().Fatal(msg, fields...) }

// LogConnection records a connection lifecycle event such as "accepted",
// "connected", "closed" or "idle_timeout".
func LogConnection(remoteAddr string, event string, fields ...zap.Field) {
	Info("Connection "+event, append([]zap.Field{zap.String("remote_addr", remoteAddr)}, fields...)...)
}

// LogTLSHandshake records the negotiated parameters of a finished handshake.
func LogTLSHandshake(remoteAddr string, version uint16, cipherSuite uint16, serverName string) {
	fields := []zap.Field{
		zap.String("remote_addr", remoteAddr),
		zap.String("tls_version", tls.VersionName(version)),
		zap.String("cipher_suite", tls.CipherSuiteName(cipherSuite)),
	}
	if serverName != "" {
		fields = append(fields, zap.String("server_name", serverName))
	}
	Info("TLS handshake completed", fields...)
}

// LogHTTPRequest records the start line of a complete inbound request.
func LogHTTPRequest(remoteAddr string, method string, uri string, length int) {
	Debug("HTTP request received",
		zap.String("remote_addr", remoteAddr),
		zap.String("method", method),
		zap.String("uri", uri),
		zap.Int("length", length),
	)
}

// LogHTTPResponse records a response once its last fragment was written.
func LogHTTPResponse(remoteAddr string, written int, requests uint64) {
	Debug("HTTP response sent",
		zap.String("remote_addr", remoteAddr),
		zap.Int("bytes_written", written),
		zap.Uint64("requests_on_connection", requests),
	)
}

// LogRawBytes dumps wire data at debug level, truncated to 256 bytes.
func LogRawBytes(label string, data []byte) {
	if !GetLogger().Core().Enabled(zapcore.DebugLevel) {
		return
	}
	hexText, asciiText := dump(data)
	Debug(label,
		zap.Int("length", len(data)),
		zap.String("hex", hexText),
		zap.String("ascii", asciiText),
	)
}

// dump renders data as hex and printable ascii, with "..." marking
// truncation.
func dump(data []byte) (string, string) {
	suffix := ""
	if len(data) > maxDumpLength {
		data, suffix = data[:maxDumpLength], "..."
	}
	printable := make([]byte, len(data))
	for i, b := range data {
		printable[i] = '.'
		if b >= ' ' && b <= '~' {
			printable[i] = b
		}
	}
	return hex.EncodeToString(data) + suffix, string(printable) + suffix
}

// Sync flushes any buffered log entries
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
