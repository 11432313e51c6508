package logging

import (
	"io"
	"os"

	"github.com/lvdashuaibi/roundvote/config"
	"github.com/sirupsen/logrus"
)

// New 根据配置创建日志实例
func New(cfg config.LogConfig) *logrus.Logger {
	return NewWithOutput(cfg, os.Stdout)
}

func NewWithOutput(cfg config.LogConfig, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.Out = out

	if cfg.Format == "text" {
		log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	} else {
		log.Formatter = &logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "severity",
				logrus.FieldKeyMsg:   "message",
			},
		}
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.Level = level
	return log
}

// Discard 测试用的静默日志
func Discard() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}
