package cliutil

import (
	"io"

	ipfslog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap/zapcore"
)

// SetIpfsWriter points the zap core used by the IPFS libraries (flatfs, blockstore) at the same output as slog.
func SetIpfsWriter(out io.Writer, format string, level string) {
	cfg := zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		NameKey:     "system",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	var ze zapcore.Encoder
	if format == "json" {
		ze = zapcore.NewJSONEncoder(cfg)
	} else {
		ze = zapcore.NewConsoleEncoder(cfg)
	}

	zl, err := zapcore.ParseLevel(level)
	if err != nil {
		zl = zapcore.InfoLevel
	}
	ipfslog.SetPrimaryCore(zapcore.NewCore(ze, zapcore.AddSync(out), zl))
}
