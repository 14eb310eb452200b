// Package extract parses API response payloads into records ready for
// persistence and publishing.
package extract

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Record is one extracted entity, kept schemaless since each project
// targets a different API.
type Record map[string]any

// ID returns the record's identity field as a string, empty when the
// field is missing.
func (r Record) ID(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// Extractor pulls record lists out of JSON payloads. When ListKey is
// set the payload is expected to be an object holding the list under
// that key; otherwise the payload itself must be an array.
type Extractor struct {
	listKey string
	idKey   string
	logger  *zap.Logger
}

// New builds an Extractor. idKey names the field that identifies a
// record; entries missing it are skipped, not errors.
func New(listKey, idKey string, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{listKey: listKey, idKey: idKey, logger: logger}
}

// Extract parses one payload into records. A payload that is not valid
// JSON of the expected shape is an error; individual malformed entries
// are skipped.
func (e *Extractor) Extract(payload []byte) ([]Record, error) {
	var entries []json.RawMessage

	if e.listKey != "" {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return nil, fmt.Errorf("parse payload: %w", err)
		}
		raw, ok := envelope[e.listKey]
		if !ok {
			return nil, fmt.Errorf("payload missing list key %q", e.listKey)
		}
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("parse %q list: %w", e.listKey, err)
		}
	} else if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}

	records := make([]Record, 0, len(entries))
	for i, entry := range entries {
		var record Record
		if err := json.Unmarshal(entry, &record); err != nil {
			e.logger.Debug("skipping malformed entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		if e.idKey != "" && record.ID(e.idKey) == "" {
			e.logger.Debug("skipping entry without id", zap.Int("index", i), zap.String("id_key", e.idKey))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// ExtractBatch runs Extract over every payload of a batch, absorbing
// per-payload errors the way the executor absorbs per-request ones.
// It returns the extracted records and the count of failed payloads.
func (e *Extractor) ExtractBatch(payloads [][]byte) ([]Record, int) {
	var (
		records []Record
		failed  int
	)
	for _, payload := range payloads {
		extracted, err := e.Extract(payload)
		if err != nil {
			failed++
			e.logger.Warn("payload extraction failed", zap.Error(err))
			continue
		}
		records = append(records, extracted...)
	}
	return records, failed
}
