package store

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// LogSink is an ErrorSink that writes audit records to the structured log.
// It is the fallback when no relational store is configured.
type LogSink struct{}

func (LogSink) RecordError(_ context.Context, rec ErrorRecord) error {
	log.WithFields(log.Fields{
		"api_key":    MaskKey(rec.APIKey),
		"error_kind": rec.Kind,
		"detail":     rec.Detail,
	}).Error(rec.Message)
	return nil
}

// MaskKey elides the middle of a credential for logs and API responses.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
