// Package domain defines the persistent genomic entities, lifecycle enums, and
// rule evaluation primitives used by genomicore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntitySampleSet identifies a batch of members created together.
	EntitySampleSet EntityType = "sample_set"
	// EntitySampleMember identifies one sample's genomic lifecycle record.
	EntitySampleMember EntityType = "sample_member"
	// EntityJobRun identifies one execution of a named job.
	EntityJobRun EntityType = "job_run"
	// EntityFileProcessed identifies one parse pass over one file.
	EntityFileProcessed EntityType = "file_processed"
	// EntityManifestFile identifies an inbound or outbound manifest.
	EntityManifestFile EntityType = "manifest_file"
	// EntityManifestFeedback identifies a feedback completion record.
	EntityManifestFeedback EntityType = "manifest_feedback"
	// EntityValidationMetrics identifies per-member QC metrics.
	EntityValidationMetrics EntityType = "validation_metrics"
	// EntityIncident identifies a recorded failure or validation event.
	EntityIncident       EntityType = "incident"
	EntityRawRecord      EntityType = "raw_manifest_record"
	EntityDataFile       EntityType = "data_file"
	EntityStagedObject   EntityType = "staged_object"
	EntityBiobankSample  EntityType = "biobank_sample"
)

// GenomeType distinguishes the genotyping array pipeline from whole genome sequencing.
type GenomeType string

const (
	GenomeArray GenomeType = "aou_array"
	GenomeWGS   GenomeType = "aou_wgs"
)

// Valid reports whether the genome type is one of the supported pipelines.
func (g GenomeType) Valid() bool {
	return g == GenomeArray || g == GenomeWGS
}

// ManifestType names an inbound or outbound manifest stage.
type ManifestType string

// Manifest stages exchanged with genome centers and downstream partners.
const (
	ManifestBiobank ManifestType = "BIOBANK"
	ManifestAW0     ManifestType = "AW0"
	ManifestAW1     ManifestType = "AW1"
	ManifestAW1F    ManifestType = "AW1F"
	ManifestAW2     ManifestType = "AW2"
	ManifestAW2F    ManifestType = "AW2F"
	ManifestAW3     ManifestType = "AW3"
	ManifestA1      ManifestType = "A1"
	ManifestA2      ManifestType = "A2"
	ManifestW1      ManifestType = "W1"
	ManifestW2      ManifestType = "W2"
	ManifestW3      ManifestType = "W3"
)

// ValidationFlag marks a reason a member may not be sent to a genome center.
type ValidationFlag string

const (
	ValidationAge        ValidationFlag = "invalid_age"
	ValidationConsent    ValidationFlag = "invalid_consent"
	ValidationSexAtBirth ValidationFlag = "invalid_sex_at_birth"
	ValidationZipCode    ValidationFlag = "invalid_zip_code"
	ValidationWithdrawn  ValidationFlag = "withdrawn"
)

// ContaminationCategory classifies a sample's contamination risk.
type ContaminationCategory string

const (
	ContaminationUnset             ContaminationCategory = ""
	ContaminationNoExtract         ContaminationCategory = "NO_EXTRACT"
	ContaminationExtractWGS        ContaminationCategory = "EXTRACT_WGS"
	ContaminationExtractBoth       ContaminationCategory = "EXTRACT_BOTH"
	ContaminationTerminalNoExtract ContaminationCategory = "TERMINAL_NO_EXTRACT"
)

// DataFileType names one kind of data file a genome center delivers per sample.
type DataFileType string

// Data file types for both pipelines. The suffix tables binding them to file
// names live with the reconciler.
const (
	FileHardFilteredVCF      DataFileType = "hf_vcf"
	FileHardFilteredVCFIndex DataFileType = "hf_vcf_tbi"
	FileHardFilteredVCFMD5   DataFileType = "hf_vcf_md5"
	FileRawVCF               DataFileType = "raw_vcf"
	FileRawVCFIndex          DataFileType = "raw_vcf_tbi"
	FileRawVCFMD5            DataFileType = "raw_vcf_md5"
	FileCRAM                 DataFileType = "cram"
	FileCRAMMD5              DataFileType = "cram_md5"
	FileCRAMIndex            DataFileType = "crai"
	FileGVCF                 DataFileType = "gvcf"
	FileGVCFMD5              DataFileType = "gvcf_md5"
	FileIDATRed              DataFileType = "idat_red"
	FileIDATGreen            DataFileType = "idat_green"
	FileIDATRedMD5           DataFileType = "idat_red_md5"
	FileIDATGreenMD5         DataFileType = "idat_green_md5"
	FileVCF                  DataFileType = "vcf"
	FileVCFIndex             DataFileType = "vcf_tbi"
	FileVCFMD5               DataFileType = "vcf_md5"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SampleSet groups the members created by one coupling run. Valid is derived
// from the members on read and is ignored on write.
type SampleSet struct {
	Base
	Criteria string `json:"criteria"`
	Version  int    `json:"version"`
	Valid    bool   `json:"valid"`
}

// SampleMember is one sample's genomic lifecycle record.
type SampleMember struct {
	Base
	SampleSetID      string     `json:"sample_set_id"`
	ParticipantID    string     `json:"participant_id"`
	BiobankID        string     `json:"biobank_id"`
	CollectionTubeID string     `json:"collection_tube_id"`
	SampleID         string     `json:"sample_id,omitempty"`
	GenomeType       GenomeType `json:"genome_type"`
	SexAtBirth       string     `json:"sex_at_birth,omitempty"`

	State               GenomicState `json:"state"`
	StateModifiedAt     time.Time    `json:"state_modified_at"`
	StateOverrideReason string       `json:"state_override_reason,omitempty"`

	GCSiteID               string `json:"gc_site_id,omitempty"`
	BoxPlateID             string `json:"box_plate_id,omitempty"`
	WellPosition           string `json:"well_position,omitempty"`
	FailureMode            string `json:"failure_mode,omitempty"`
	FailureModeDescription string `json:"failure_mode_description,omitempty"`

	ValidationFlags []ValidationFlag `json:"validation_flags,omitempty"`
	QCStatus        string           `json:"qc_status,omitempty"`

	BlockResearch       bool   `json:"block_research"`
	BlockResearchReason string `json:"block_research_reason,omitempty"`
	BlockResults        bool   `json:"block_results"`
	BlockResultsReason  string `json:"block_results_reason,omitempty"`

	AW0ManifestFileID   string `json:"aw0_manifest_file_id,omitempty"`
	AW1ManifestFileID   string `json:"aw1_manifest_file_id,omitempty"`
	AW1FileProcessedID  string `json:"aw1_file_processed_id,omitempty"`
	AW2FileProcessedID  string `json:"aw2_file_processed_id,omitempty"`
	AW3ManifestJobRunID string `json:"aw3_manifest_job_run_id,omitempty"`
	A1ManifestFileID    string `json:"a1_manifest_file_id,omitempty"`
	A2FileProcessedID   string `json:"a2_file_processed_id,omitempty"`
	W1ManifestFileID    string `json:"w1_manifest_file_id,omitempty"`
	W2FileProcessedID   string `json:"w2_file_processed_id,omitempty"`
	W3ManifestFileID    string `json:"w3_manifest_file_id,omitempty"`
}

// IsValid reports whether the member carries no validation flags.
func (m SampleMember) IsValid() bool {
	return len(m.ValidationFlags) == 0
}

// DeriveSetValidity reports whether a set is valid: it has members and every
// member passed validation.
func DeriveSetValidity(members []SampleMember) bool {
	if len(members) == 0 {
		return false
	}
	for _, m := range members {
		if !m.IsValid() {
			return false
		}
	}
	return true
}

// JobKind names an orchestrated job.
type JobKind string

// Orchestrated jobs. Each value doubles as the task endpoint name.
const (
	JobBiobankLoad          JobKind = "load_biobank_samples"
	JobCreateSampleSet      JobKind = "create_sample_set"
	JobAW0Manifest          JobKind = "aw0_manifest"
	JobAW1Ingestion         JobKind = "ingest_aw1_manifest"
	JobAW1FIngestion        JobKind = "ingest_aw1f_manifest"
	JobMetricsIngestion     JobKind = "ingest_aw2_manifest"
	JobA1Manifest           JobKind = "a1_manifest"
	JobA2Ingestion          JobKind = "ingest_a2_manifest"
	JobW1Manifest           JobKind = "w1_manifest"
	JobW2Ingestion          JobKind = "ingest_w2_manifest"
	JobW3Manifest           JobKind = "w3_manifest"
	JobAW3ArrayManifest     JobKind = "aw3_array_manifest"
	JobAW3WGSManifest       JobKind = "aw3_wgs_manifest"
	JobAW2FManifest         JobKind = "aw2f_manifest"
	JobReconcileArrayData   JobKind = "reconcile_array_data"
	JobReconcileWGSData     JobKind = "reconcile_wgs_data"
	JobReconcileDataFiles   JobKind = "reconcile_data_file_index"
	JobFeedbackReconcile    JobKind = "feedback_record_reconciliation"
	JobCalculateRecordCount JobKind = "calculate_record_count"
	JobUpdateMembers        JobKind = "update_members"
)

// JobRun is one execution of a named job.
type JobRun struct {
	Base
	Kind      JobKind      `json:"kind"`
	StartTime time.Time    `json:"start_time"`
	EndTime   *time.Time   `json:"end_time,omitempty"`
	Status    JobRunStatus `json:"status"`
	Result    RunResult    `json:"result"`
}

// FileStatus tracks a FileProcessed row through its parse pass.
type FileStatus string

const (
	FileStatusQueued    FileStatus = "QUEUED"
	FileStatusCompleted FileStatus = "COMPLETED"
)

// FileProcessed is one parse pass over one file. Its existence is the
// idempotency checkpoint for ingestion.
type FileProcessed struct {
	Base
	JobRunID       string     `json:"job_run_id"`
	FilePath       string     `json:"file_path"`
	BucketName     string     `json:"bucket_name"`
	FileName       string     `json:"file_name"`
	Status         FileStatus `json:"status"`
	Result         RunResult  `json:"result"`
	ManifestFileID string     `json:"manifest_file_id,omitempty"`
	UploadDate     time.Time  `json:"upload_date"`
}

// ManifestFile is the persisted identity of an inbound or outbound manifest.
type ManifestFile struct {
	Base
	FilePath     string       `json:"file_path"`
	BucketName   string       `json:"bucket_name"`
	FileName     string       `json:"file_name"`
	ManifestType ManifestType `json:"manifest_type"`
	Outbound     bool         `json:"outbound"`
	RecordCount  int          `json:"record_count"`
	UploadDate   time.Time    `json:"upload_date"`
}

// ManifestFeedback tracks the round-trip acknowledgement of an input manifest.
type ManifestFeedback struct {
	Base
	InputManifestFileID    string     `json:"input_manifest_file_id"`
	FeedbackManifestFileID string     `json:"feedback_manifest_file_id,omitempty"`
	FeedbackRecordCount    int        `json:"feedback_record_count"`
	FeedbackComplete       bool       `json:"feedback_complete"`
	FeedbackCompleteDate   *time.Time `json:"feedback_complete_date,omitempty"`
	Version                int        `json:"version"`
}

// ValidationMetrics holds per-member QC measurements and the data files
// received for the sample. A file type is received when its path is present.
type ValidationMetrics struct {
	Base
	MemberID              string                  `json:"member_id"`
	FileProcessedID       string                  `json:"file_processed_id,omitempty"`
	ChipWellBarcode       string                  `json:"chipwellbarcode,omitempty"`
	CallRate              string                  `json:"call_rate,omitempty"`
	MeanCoverage          string                  `json:"mean_coverage,omitempty"`
	Contamination         float64                 `json:"contamination"`
	ContaminationCategory ContaminationCategory   `json:"contamination_category,omitempty"`
	SexConcordance        string                  `json:"sex_concordance,omitempty"`
	SexPloidy             string                  `json:"sex_ploidy,omitempty"`
	ProcessingStatus      string                  `json:"processing_status,omitempty"`
	Notes                 string                  `json:"notes,omitempty"`
	SiteID                string                  `json:"site_id,omitempty"`
	DataFiles             map[DataFileType]string `json:"data_files,omitempty"`
}

// Received reports whether the given data file type has been seen.
func (m ValidationMetrics) Received(t DataFileType) bool {
	return m.DataFiles[t] != ""
}

// IncidentCode is a stable identifier for a class of incident.
type IncidentCode string

const (
	IncidentUnknown             IncidentCode = "UNKNOWN"
	IncidentInvalidFileName     IncidentCode = "FILE_VALIDATION_INVALID_FILE_NAME"
	IncidentInvalidStructure    IncidentCode = "FILE_VALIDATION_FAILED_STRUCTURE"
	IncidentMemberNotFound      IncidentCode = "UNABLE_TO_FIND_MEMBER"
	IncidentMetricsNotFound     IncidentCode = "UNABLE_TO_FIND_METRIC"
	IncidentManifestNotFound    IncidentCode = "UNABLE_TO_FIND_MANIFEST"
	IncidentMalformedRow        IncidentCode = "MALFORMED_ROW"
	IncidentMissingFiles        IncidentCode = "MISSING_FILES"
	IncidentSampleFailure       IncidentCode = "GC_SAMPLE_FAILURE"
	IncidentNotificationFailure IncidentCode = "NOTIFICATION_FAILURE"
)

// IncidentStatus tracks whether an incident still needs attention.
type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "OPEN"
	IncidentResolved IncidentStatus = "RESOLVED"
)

// Incident is a recorded failure or validation event.
type Incident struct {
	Base
	Code            IncidentCode   `json:"code"`
	Message         string         `json:"message"`
	JobRunID        string         `json:"job_run_id,omitempty"`
	FileProcessedID string         `json:"file_processed_id,omitempty"`
	MemberID        string         `json:"member_id,omitempty"`
	SampleID        string         `json:"sample_id,omitempty"`
	SiteID          string         `json:"site_id,omitempty"`
	DataFileName    string         `json:"data_file_name,omitempty"`
	Status          IncidentStatus `json:"status"`
	Notified        bool           `json:"notified"`
	NotifiedAt      *time.Time     `json:"notified_at,omitempty"`
}

// RawManifestRecord is the staging copy of one inbound manifest row.
type RawManifestRecord struct {
	Base
	FilePath     string            `json:"file_path"`
	ManifestType ManifestType      `json:"manifest_type"`
	BiobankID    string            `json:"biobank_id,omitempty"`
	SampleID     string            `json:"sample_id,omitempty"`
	Fields       map[string]string `json:"fields"`
}

// IdentifierType names the key a data file is indexed under.
type IdentifierType string

const (
	IdentifierChipWellBarcode IdentifierType = "chipwellbarcode"
	IdentifierSampleID        IdentifierType = "sample_id"
)

// DataFile is the persisted index entry for one object-store data file.
type DataFile struct {
	Base
	FilePath        string         `json:"file_path"`
	BucketName      string         `json:"bucket_name"`
	FileName        string         `json:"file_name"`
	FileType        DataFileType   `json:"file_type"`
	GenomeType      GenomeType     `json:"genome_type"`
	IdentifierType  IdentifierType `json:"identifier_type"`
	IdentifierValue string         `json:"identifier_value"`
	SiteID          string         `json:"site_id,omitempty"`
	UploadDate      time.Time      `json:"upload_date"`
}

// StagedObject is one bucket listing entry staged for diffing against DataFile.
type StagedObject struct {
	Base
	FilePath   string     `json:"file_path"`
	BucketName string     `json:"bucket_name"`
	GenomeType GenomeType `json:"genome_type"`
	UploadDate time.Time  `json:"upload_date"`
}

// BiobankSample is a biobank hand-off record eligible for coupling.
type BiobankSample struct {
	Base
	CollectionTubeID    string `json:"collection_tube_id"`
	ParticipantID       string `json:"participant_id"`
	BiobankID           string `json:"biobank_id"`
	SexAtBirth          string `json:"sex_at_birth,omitempty"`
	Age                 int    `json:"age"`
	ZipCode             string `json:"zip_code,omitempty"`
	ConsentCohort       string `json:"consent_cohort,omitempty"`
	EnrollmentMilestone string `json:"enrollment_milestone,omitempty"`
	ConsentedGenomics   bool   `json:"consented_genomics"`
	Withdrawn           bool   `json:"withdrawn"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured for rule evaluation. Genomic records are never deleted.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock && v.Message != "" {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}
