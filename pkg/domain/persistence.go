package domain

import "context"

// MemberFilter narrows ListSampleMembers. Zero fields match everything.
type MemberFilter struct {
	States      []GenomicState
	GenomeType  GenomeType
	SampleSetID string
}

// Matches reports whether the member satisfies the filter.
func (f MemberFilter) Matches(m SampleMember) bool {
	if f.GenomeType != "" && m.GenomeType != f.GenomeType {
		return false
	}
	if f.SampleSetID != "" && m.SampleSetID != f.SampleSetID {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if m.State == s {
			return true
		}
	}
	return false
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	ListSampleSets() []SampleSet
	FindSampleSet(id string) (SampleSet, bool)
	ListSampleMembers(filter MemberFilter) []SampleMember
	FindSampleMember(id string) (SampleMember, bool)
	FindMemberBySampleID(sampleID string, genome GenomeType) (SampleMember, bool)
	FindMemberByCollectionTube(tubeID string, genome GenomeType) (SampleMember, bool)
	ListMembersByCollectionTube(tubeID string) []SampleMember

	ListJobRuns(kind JobKind) []JobRun
	FindJobRun(id string) (JobRun, bool)

	FindFileProcessedByPath(path string) (FileProcessed, bool)
	ListFileProcessed(jobRunID string) []FileProcessed

	FindManifestFile(id string) (ManifestFile, bool)
	FindManifestFileByPath(path string) (ManifestFile, bool)
	ListManifestFiles(manifestType ManifestType) []ManifestFile

	ListManifestFeedback() []ManifestFeedback
	FindFeedbackByInputManifest(manifestFileID string) (ManifestFeedback, bool)

	FindValidationMetrics(memberID string) (ValidationMetrics, bool)

	ListIncidents() []Incident
	FindIncident(id string) (Incident, bool)

	ListRawRecords(filePath string) []RawManifestRecord
	ListRawRecordsByType(manifestType ManifestType) []RawManifestRecord

	FindDataFileByPath(path string) (DataFile, bool)
	ListDataFiles(genome GenomeType, identifier string) []DataFile
	ListStagedObjects() []StagedObject

	ListBiobankSamples() []BiobankSample
	FindBiobankSample(collectionTubeID string) (BiobankSample, bool)
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Lookups see the transaction's own writes.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView

	CreateSampleSet(SampleSet) (SampleSet, error)
	CreateSampleMember(SampleMember) (SampleMember, error)
	UpdateSampleMember(id string, mutator func(*SampleMember) error) (SampleMember, error)

	CreateJobRun(JobRun) (JobRun, error)
	UpdateJobRun(id string, mutator func(*JobRun) error) (JobRun, error)

	CreateFileProcessed(FileProcessed) (FileProcessed, error)
	UpdateFileProcessed(id string, mutator func(*FileProcessed) error) (FileProcessed, error)

	CreateManifestFile(ManifestFile) (ManifestFile, error)
	UpdateManifestFile(id string, mutator func(*ManifestFile) error) (ManifestFile, error)

	CreateManifestFeedback(ManifestFeedback) (ManifestFeedback, error)
	UpdateManifestFeedback(id string, mutator func(*ManifestFeedback) error) (ManifestFeedback, error)

	// UpsertValidationMetrics creates the member's metrics row on first use
	// and applies the mutator to the existing row afterwards.
	UpsertValidationMetrics(memberID string, mutator func(*ValidationMetrics) error) (ValidationMetrics, error)

	CreateIncident(Incident) (Incident, error)
	UpdateIncident(id string, mutator func(*Incident) error) (Incident, error)

	CreateRawRecord(RawManifestRecord) (RawManifestRecord, error)
	CreateDataFile(DataFile) (DataFile, error)
	ReplaceStagedObjects(objects []StagedObject) error
	UpsertBiobankSample(BiobankSample) (BiobankSample, error)
}

// PersistentStore is a minimal abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
