package storage

import (
	"encoding/json"
	"errors"

	"ipcoal/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned stamps the current schema and codec versions.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(run model.RunRecord) ([]byte, error) {
	return json.Marshal(run)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeResults(results model.RunResults) ([]byte, error) {
	return json.Marshal(results)
}

func DecodeResults(data []byte) (model.RunResults, error) {
	var results model.RunResults
	if err := json.Unmarshal(data, &results); err != nil {
		return model.RunResults{}, err
	}
	if err := checkVersion(results.VersionedRecord); err != nil {
		return model.RunResults{}, err
	}
	if s := results.Seqs; s != nil && len(s.Data) != s.NLoci*s.NSamples*s.NSites {
		return model.RunResults{}, errors.New("sequence array size does not match its shape")
	}
	return results, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
