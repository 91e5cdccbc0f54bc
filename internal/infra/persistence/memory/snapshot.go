package memory

import (
	"encoding/json"
	"fmt"

	"genomicore/pkg/domain"
)

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	SampleSets        map[string]domain.SampleSet         `json:"sample_sets"`
	SampleMembers     map[string]domain.SampleMember      `json:"sample_members"`
	JobRuns           map[string]domain.JobRun            `json:"job_runs"`
	FilesProcessed    map[string]domain.FileProcessed     `json:"files_processed"`
	ManifestFiles     map[string]domain.ManifestFile      `json:"manifest_files"`
	ManifestFeedback  map[string]domain.ManifestFeedback  `json:"manifest_feedback"`
	ValidationMetrics map[string]domain.ValidationMetrics `json:"validation_metrics"`
	Incidents         map[string]domain.Incident          `json:"incidents"`
	RawRecords        map[string]domain.RawManifestRecord `json:"raw_records"`
	DataFiles         map[string]domain.DataFile          `json:"data_files"`
	StagedObjects     map[string]domain.StagedObject      `json:"staged_objects"`
	BiobankSamples    map[string]domain.BiobankSample     `json:"biobank_samples"`
}

// Buckets lists the snapshot buckets in the order SQL backends persist them.
var Buckets = []string{
	"sample_sets",
	"sample_members",
	"job_runs",
	"files_processed",
	"manifest_files",
	"manifest_feedback",
	"validation_metrics",
	"incidents",
	"raw_records",
	"data_files",
	"staged_objects",
	"biobank_samples",
}

// BucketTargets maps each bucket name to a pointer suitable for json.Unmarshal.
func (s *Snapshot) BucketTargets() map[string]any {
	return map[string]any{
		"sample_sets":        &s.SampleSets,
		"sample_members":     &s.SampleMembers,
		"job_runs":           &s.JobRuns,
		"files_processed":    &s.FilesProcessed,
		"manifest_files":     &s.ManifestFiles,
		"manifest_feedback":  &s.ManifestFeedback,
		"validation_metrics": &s.ValidationMetrics,
		"incidents":          &s.Incidents,
		"raw_records":        &s.RawRecords,
		"data_files":         &s.DataFiles,
		"staged_objects":     &s.StagedObjects,
		"biobank_samples":    &s.BiobankSamples,
	}
}

// BucketPayloads encodes every bucket as JSON.
func (s *Snapshot) BucketPayloads() (map[string][]byte, error) {
	targets := s.BucketTargets()
	out := make(map[string][]byte, len(targets))
	for _, bucket := range Buckets {
		payload, err := json.Marshal(targets[bucket])
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", bucket, err)
		}
		out[bucket] = payload
	}
	return out, nil
}

// DecodeBucket unmarshals one bucket payload into the snapshot. Unknown
// buckets are ignored so older tables keep loading.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	target, ok := s.BucketTargets()[bucket]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	return Snapshot{
		SampleSets:        cloneMap(state.sets, identity[domain.SampleSet]),
		SampleMembers:     cloneMap(state.members, cloneMember),
		JobRuns:           cloneMap(state.jobRuns, cloneJobRun),
		FilesProcessed:    cloneMap(state.files, identity[domain.FileProcessed]),
		ManifestFiles:     cloneMap(state.manifests, identity[domain.ManifestFile]),
		ManifestFeedback:  cloneMap(state.feedback, cloneFeedback),
		ValidationMetrics: cloneMap(state.metrics, cloneMetrics),
		Incidents:         cloneMap(state.incidents, cloneIncident),
		RawRecords:        cloneMap(state.raw, cloneRaw),
		DataFiles:         cloneMap(state.dataFiles, identity[domain.DataFile]),
		StagedObjects:     cloneMap(state.staged, identity[domain.StagedObject]),
		BiobankSamples:    cloneMap(state.biobank, identity[domain.BiobankSample]),
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	return memoryState{
		sets:      cloneMap(s.SampleSets, identity[domain.SampleSet]),
		members:   cloneMap(s.SampleMembers, cloneMember),
		jobRuns:   cloneMap(s.JobRuns, cloneJobRun),
		files:     cloneMap(s.FilesProcessed, identity[domain.FileProcessed]),
		manifests: cloneMap(s.ManifestFiles, identity[domain.ManifestFile]),
		feedback:  cloneMap(s.ManifestFeedback, cloneFeedback),
		metrics:   cloneMap(s.ValidationMetrics, cloneMetrics),
		incidents: cloneMap(s.Incidents, cloneIncident),
		raw:       cloneMap(s.RawRecords, cloneRaw),
		dataFiles: cloneMap(s.DataFiles, identity[domain.DataFile]),
		staged:    cloneMap(s.StagedObjects, identity[domain.StagedObject]),
		biobank:   cloneMap(s.BiobankSamples, identity[domain.BiobankSample]),
	}
}

func ensureMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return make(map[string]V)
	}
	return m
}

// migrateSnapshot initialises missing buckets and drops rows whose parent
// record no longer exists.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	snapshot.SampleSets = ensureMap(snapshot.SampleSets)
	snapshot.SampleMembers = ensureMap(snapshot.SampleMembers)
	snapshot.JobRuns = ensureMap(snapshot.JobRuns)
	snapshot.FilesProcessed = ensureMap(snapshot.FilesProcessed)
	snapshot.ManifestFiles = ensureMap(snapshot.ManifestFiles)
	snapshot.ManifestFeedback = ensureMap(snapshot.ManifestFeedback)
	snapshot.ValidationMetrics = ensureMap(snapshot.ValidationMetrics)
	snapshot.Incidents = ensureMap(snapshot.Incidents)
	snapshot.RawRecords = ensureMap(snapshot.RawRecords)
	snapshot.DataFiles = ensureMap(snapshot.DataFiles)
	snapshot.StagedObjects = ensureMap(snapshot.StagedObjects)
	snapshot.BiobankSamples = ensureMap(snapshot.BiobankSamples)

	for id, m := range snapshot.SampleMembers {
		if m.SampleSetID == "" {
			continue
		}
		if _, ok := snapshot.SampleSets[m.SampleSetID]; !ok {
			delete(snapshot.SampleMembers, id)
		}
	}
	for memberID := range snapshot.ValidationMetrics {
		if _, ok := snapshot.SampleMembers[memberID]; !ok {
			delete(snapshot.ValidationMetrics, memberID)
		}
	}
	for id, f := range snapshot.ManifestFeedback {
		if _, ok := snapshot.ManifestFiles[f.InputManifestFileID]; !ok {
			delete(snapshot.ManifestFeedback, id)
		}
	}
	return snapshot
}
