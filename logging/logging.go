// Package logging implements logger.Logger writing JSON encoded logs to io.Writers.
package logging

import (
	"encoding/json"
	"io"
	"time"

	"github.com/bartossh/echoledger/logger"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	levelDebug = "debug"
	levelInfo  = "info"
	levelWarn  = "warn"
	levelError = "error"
	levelFatal = "fatal"
)

// Helper helps with writing logs to io.Writers.
// Helper implements logger.Logger interface.
// Writing is done concurrently with out blocking the current thread.
type Helper struct {
	source    string
	callOnErr func(error)
	writers   []io.Writer
}

// New creates new Helper. Source names the replica or tool the logs come from.
func New(source string, callOnErr func(error), writers ...io.Writer) Helper {
	return Helper{source: source, callOnErr: callOnErr, writers: writers}
}

// Debug writes debug log.
func (h Helper) Debug(msg string) {
	h.write(levelDebug, msg)
}

// Info writes info log.
func (h Helper) Info(msg string) {
	h.write(levelInfo, msg)
}

// Warn writes warning log.
func (h Helper) Warn(msg string) {
	h.write(levelWarn, msg)
}

// Error writes error log.
func (h Helper) Error(msg string) {
	h.write(levelError, msg)
}

// Fatal writes fatal log.
func (h Helper) Fatal(msg string) {
	h.write(levelFatal, msg)
}

func (h Helper) write(level, msg string) {
	l := logger.Log{
		ID:        primitive.NewObjectID(),
		CreatedAt: time.Now(),
		Level:     level,
		Source:    h.source,
		Msg:       msg,
	}
	go func() {
		raw, err := json.Marshal(&l)
		if err != nil {
			h.callOnErr(err)
			return
		}
		raw = append(raw, '\n')
		for _, w := range h.writers {
			if _, err := w.Write(raw); err != nil {
				h.callOnErr(err)
			}
		}
	}()
}
