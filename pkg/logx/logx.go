// Package logx 提供基于 zerolog 的日志构造与默认值处理。
package logx

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config 日志配置。
type Config struct {
	Level  string    `yaml:"level"`  // debug / info / warn / error，默认 info
	Format string    `yaml:"format"` // json / console，默认 json
	Output io.Writer `yaml:"-"`
}

// New 根据配置构建 Logger。
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Or 返回 l 指向的 Logger；l 为 nil 时返回 Nop Logger。
func Or(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return *l
}

// Component 派生带 component 字段的子 Logger。
func Component(l *zerolog.Logger, name string) zerolog.Logger {
	base := Or(l)
	return base.With().Str("component", name).Logger()
}
