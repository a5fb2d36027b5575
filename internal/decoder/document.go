package decoder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-sleep/internal/models"
)

// documentSchema 描述一种结构化来源的字段命名与时间格式
//
// 会话级必填字段：startDate、endDate、phases。
// 阶段条目使用 stageField + startField，再加 endField 或 durationField 之一。
type documentSchema struct {
	stageField      string
	startField      string
	endField        string
	durationField   string
	sampleTimeField string
	parseTime       func(raw json.RawMessage) (int64, error)
}

var documentSchemas = map[models.SourceKind]documentSchema{
	// Samsung Health：毫秒时间戳，阶段编码 40001..40004
	models.SourceSamsungHealth: {
		stageField:      "stage",
		startField:      "startDate",
		endField:        "endDate",
		sampleTimeField: "time",
		parseTime:       parseEpochInt,
	},
	// Apple Health：RFC 3339 时间，转换为 Unix 秒
	models.SourceAppleHealth: {
		stageField:      "value",
		startField:      "startDate",
		endField:        "endDate",
		sampleTimeField: "date",
		parseTime:       parseRFC3339Seconds,
	},
	// 手动导入：Unix 秒，阶段时长以分钟给出
	models.SourceManualImport: {
		stageField:      "type",
		startField:      "start",
		durationField:   "minutes",
		sampleTimeField: "time",
		parseTime:       parseEpochInt,
	},
}

type fields map[string]json.RawMessage

func (f fields) has(name string) bool {
	raw, ok := f[name]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeDocument(source models.SourceKind, schema documentSchema, data []byte) (*models.DecodedBatch, error) {
	var doc fields
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &models.DecodeError{Kind: models.ErrInvalidField, Source: source, Err: err}
	}

	for _, name := range []string{"startDate", "endDate", "phases"} {
		if !doc.has(name) {
			return nil, models.MissingField(source, name)
		}
	}

	d := &docDecoder{source: source, schema: schema}
	batch := &models.DecodedBatch{Source: source}

	start, err := d.time(doc, "startDate")
	if err != nil {
		return nil, err
	}
	end, err := d.time(doc, "endDate")
	if err != nil {
		return nil, err
	}
	if end < start {
		return nil, &models.DecodeError{Kind: models.ErrInvalidField, Source: source, Field: "endDate",
			Err: fmt.Errorf("end %d before start %d", end, start)}
	}
	batch.Meta.StartOffset = &start
	batch.Meta.EndOffset = &end

	if batch.Events, err = d.phases(doc["phases"]); err != nil {
		return nil, err
	}
	if doc.has("heartRate") {
		if batch.HeartRate, err = d.heartRate(doc["heartRate"]); err != nil {
			return nil, err
		}
	}
	if doc.has("motion") {
		if batch.Motion, err = d.motion(doc["motion"]); err != nil {
			return nil, err
		}
	}
	if doc.has("awakenings") {
		n, err := d.int(doc, "awakenings")
		if err != nil {
			return nil, err
		}
		batch.Meta.Awakenings = &n
	}
	if doc.has("timeInBed") {
		n, err := d.int(doc, "timeInBed")
		if err != nil {
			return nil, err
		}
		batch.Meta.TimeInBedMinutes = &n
	}

	return batch, nil
}

type docDecoder struct {
	source models.SourceKind
	schema documentSchema
}

func (d *docDecoder) invalid(field string, err error) error {
	return &models.DecodeError{Kind: models.ErrInvalidField, Source: d.source, Field: field, Err: err}
}

func (d *docDecoder) list(raw json.RawMessage, field string) ([]fields, error) {
	var items []fields
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, d.invalid(field, err)
	}
	return items, nil
}

func (d *docDecoder) time(f fields, name string) (int64, error) {
	v, err := d.schema.parseTime(f[name])
	if err != nil {
		return 0, d.invalid(name, err)
	}
	return v, nil
}

func (d *docDecoder) int(f fields, name string) (int, error) {
	var n int
	if err := json.Unmarshal(f[name], &n); err != nil {
		return 0, d.invalid(name, err)
	}
	if n < 0 {
		return 0, d.invalid(name, fmt.Errorf("negative value %d", n))
	}
	return n, nil
}

func (d *docDecoder) float(f fields, name, path string, def float64) (float64, error) {
	if !f.has(name) {
		return def, nil
	}
	var v float64
	if err := json.Unmarshal(f[name], &v); err != nil {
		return 0, d.invalid(path, err)
	}
	return v, nil
}

func (d *docDecoder) phases(raw json.RawMessage) ([]models.RawPhaseEvent, error) {
	items, err := d.list(raw, "phases")
	if err != nil {
		return nil, err
	}

	events := make([]models.RawPhaseEvent, 0, len(items))
	for i, item := range items {
		path := func(name string) string { return fmt.Sprintf("phases[%d].%s", i, name) }

		if !item.has(d.schema.stageField) {
			return nil, models.MissingField(d.source, path(d.schema.stageField))
		}
		if !item.has(d.schema.startField) {
			return nil, models.MissingField(d.source, path(d.schema.startField))
		}
		code, err := parseCode(item[d.schema.stageField])
		if err != nil {
			return nil, d.invalid(path(d.schema.stageField), err)
		}
		start, err := d.schema.parseTime(item[d.schema.startField])
		if err != nil {
			return nil, d.invalid(path(d.schema.startField), err)
		}

		var duration int64
		if d.schema.durationField != "" {
			if !item.has(d.schema.durationField) {
				return nil, models.MissingField(d.source, path(d.schema.durationField))
			}
			if err := json.Unmarshal(item[d.schema.durationField], &duration); err != nil {
				return nil, d.invalid(path(d.schema.durationField), err)
			}
		} else {
			if !item.has(d.schema.endField) {
				return nil, models.MissingField(d.source, path(d.schema.endField))
			}
			end, err := d.schema.parseTime(item[d.schema.endField])
			if err != nil {
				return nil, d.invalid(path(d.schema.endField), err)
			}
			duration = end - start
		}
		if duration < 0 {
			return nil, d.invalid(path("duration"), fmt.Errorf("negative duration %d", duration))
		}

		events = append(events, models.RawPhaseEvent{
			PhaseCode:     code,
			StartOffset:   start,
			DurationUnits: duration,
		})
	}
	return events, nil
}

func (d *docDecoder) heartRate(raw json.RawMessage) ([]models.RawHeartRateSample, error) {
	items, err := d.list(raw, "heartRate")
	if err != nil {
		return nil, err
	}

	samples := make([]models.RawHeartRateSample, 0, len(items))
	for i, item := range items {
		path := func(name string) string { return fmt.Sprintf("heartRate[%d].%s", i, name) }

		if !item.has(d.schema.sampleTimeField) {
			return nil, models.MissingField(d.source, path(d.schema.sampleTimeField))
		}
		if !item.has("bpm") {
			return nil, models.MissingField(d.source, path("bpm"))
		}
		ts, err := d.schema.parseTime(item[d.schema.sampleTimeField])
		if err != nil {
			return nil, d.invalid(path(d.schema.sampleTimeField), err)
		}
		bpm, err := d.float(item, "bpm", path("bpm"), 0)
		if err != nil {
			return nil, err
		}
		confidence, err := d.float(item, "confidence", path("confidence"), DefaultConfidence)
		if err != nil {
			return nil, err
		}

		samples = append(samples, models.RawHeartRateSample{
			Offset:     ts,
			BPM:        int(bpm + 0.5),
			Confidence: confidence,
		})
	}
	return samples, nil
}

func (d *docDecoder) motion(raw json.RawMessage) ([]models.RawMotionSample, error) {
	items, err := d.list(raw, "motion")
	if err != nil {
		return nil, err
	}

	samples := make([]models.RawMotionSample, 0, len(items))
	for i, item := range items {
		path := func(name string) string { return fmt.Sprintf("motion[%d].%s", i, name) }

		if !item.has(d.schema.sampleTimeField) {
			return nil, models.MissingField(d.source, path(d.schema.sampleTimeField))
		}
		ts, err := d.schema.parseTime(item[d.schema.sampleTimeField])
		if err != nil {
			return nil, d.invalid(path(d.schema.sampleTimeField), err)
		}

		var axes [3]float64
		for j, axis := range []string{"x", "y", "z"} {
			// 缺失的轴按 0.0 处理
			if axes[j], err = d.float(item, axis, path(axis), 0); err != nil {
				return nil, err
			}
		}

		samples = append(samples, models.RawMotionSample{Offset: ts, X: axes[0], Y: axes[1], Z: axes[2]})
	}
	return samples, nil
}

// parseCode 阶段编码既可能是数字也可能是字符串，统一转为文本
func parseCode(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func parseEpochInt(raw json.RawMessage) (int64, error) {
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func parseRFC3339Seconds(raw json.RawMessage) (int64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}
