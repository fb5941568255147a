package storage

import (
	"encoding/json"
	"errors"

	"fewseg/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeEvalRun(r model.EvalRunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeEvalRun(data []byte) (model.EvalRunRecord, error) {
	var record model.EvalRunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.EvalRunRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.EvalRunRecord{}, err
	}
	return record, nil
}

func EncodeReport(r model.EvalReportRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeReport(data []byte) (model.EvalReportRecord, error) {
	var record model.EvalReportRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.EvalReportRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.EvalReportRecord{}, err
	}
	return record, nil
}

// Stamp sets the current schema and codec versions on a record.
func Stamp() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: CurrentSchemaVersion,
		CodecVersion:  CurrentCodecVersion,
	}
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
