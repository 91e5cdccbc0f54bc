// Package memory provides an in-memory implementation of the genomic
// persistence store used for tests, ephemeral environments, and as the
// transactional core of the SQL snapshot backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"genomicore/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	sets      map[string]domain.SampleSet
	members   map[string]domain.SampleMember
	jobRuns   map[string]domain.JobRun
	files     map[string]domain.FileProcessed
	manifests map[string]domain.ManifestFile
	feedback  map[string]domain.ManifestFeedback
	metrics   map[string]domain.ValidationMetrics // keyed by member id
	incidents map[string]domain.Incident
	raw       map[string]domain.RawManifestRecord
	dataFiles map[string]domain.DataFile
	staged    map[string]domain.StagedObject
	biobank   map[string]domain.BiobankSample // keyed by collection tube id
}

func newMemoryState() memoryState {
	return memoryState{
		sets:      make(map[string]domain.SampleSet),
		members:   make(map[string]domain.SampleMember),
		jobRuns:   make(map[string]domain.JobRun),
		files:     make(map[string]domain.FileProcessed),
		manifests: make(map[string]domain.ManifestFile),
		feedback:  make(map[string]domain.ManifestFeedback),
		metrics:   make(map[string]domain.ValidationMetrics),
		incidents: make(map[string]domain.Incident),
		raw:       make(map[string]domain.RawManifestRecord),
		dataFiles: make(map[string]domain.DataFile),
		staged:    make(map[string]domain.StagedObject),
		biobank:   make(map[string]domain.BiobankSample),
	}
}

func cloneMap[V any](in map[string]V, cloneFn func(V) V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = cloneFn(v)
	}
	return out
}

func identity[V any](v V) V { return v }

func (s memoryState) clone() memoryState {
	return memoryState{
		sets:      cloneMap(s.sets, identity[domain.SampleSet]),
		members:   cloneMap(s.members, cloneMember),
		jobRuns:   cloneMap(s.jobRuns, cloneJobRun),
		files:     cloneMap(s.files, identity[domain.FileProcessed]),
		manifests: cloneMap(s.manifests, identity[domain.ManifestFile]),
		feedback:  cloneMap(s.feedback, cloneFeedback),
		metrics:   cloneMap(s.metrics, cloneMetrics),
		incidents: cloneMap(s.incidents, cloneIncident),
		raw:       cloneMap(s.raw, cloneRaw),
		dataFiles: cloneMap(s.dataFiles, identity[domain.DataFile]),
		staged:    cloneMap(s.staged, identity[domain.StagedObject]),
		biobank:   cloneMap(s.biobank, identity[domain.BiobankSample]),
	}
}

func cloneMember(m domain.SampleMember) domain.SampleMember {
	if m.ValidationFlags != nil {
		m.ValidationFlags = append([]domain.ValidationFlag(nil), m.ValidationFlags...)
	}
	return m
}

func cloneJobRun(r domain.JobRun) domain.JobRun {
	r.EndTime = cloneTime(r.EndTime)
	return r
}

func cloneFeedback(f domain.ManifestFeedback) domain.ManifestFeedback {
	f.FeedbackCompleteDate = cloneTime(f.FeedbackCompleteDate)
	return f
}

func cloneMetrics(m domain.ValidationMetrics) domain.ValidationMetrics {
	if m.DataFiles != nil {
		files := make(map[domain.DataFileType]string, len(m.DataFiles))
		for k, v := range m.DataFiles {
			files[k] = v
		}
		m.DataFiles = files
	}
	return m
}

func cloneIncident(i domain.Incident) domain.Incident {
	i.NotifiedAt = cloneTime(i.NotifiedAt)
	return i
}

func cloneRaw(r domain.RawManifestRecord) domain.RawManifestRecord {
	if r.Fields != nil {
		fields := make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			fields[k] = v
		}
		r.Fields = fields
	}
	return r
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// decorateSampleSet fills the derived validity flag from the set's members.
func decorateSampleSet(state *memoryState, set domain.SampleSet) domain.SampleSet {
	var members []domain.SampleMember
	for _, m := range state.members {
		if m.SampleSetID == set.ID {
			members = append(members, m)
		}
	}
	set.Valid = domain.DeriveSetValidity(members)
	return set
}

// Option configures a Store.
type Option func(*Store)

// WithNowFunc overrides the clock used to stamp created and updated times.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// Store provides an in-memory transactional store for the genomic domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the live state only when fn succeeds and no rule blocks.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	tx.transactionView = transactionView{state: &tx.state}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx.transactionView, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(transactionView{state: &snapshot})
}

type transaction struct {
	transactionView
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return tx.transactionView
}

// CreateSampleSet stores a new sample set. Validity is derived on read.
func (tx *transaction) CreateSampleSet(set domain.SampleSet) (domain.SampleSet, error) {
	set.ID = tx.newID(set.ID)
	if _, exists := tx.state.sets[set.ID]; exists {
		return domain.SampleSet{}, fmt.Errorf("sample set %q already exists", set.ID)
	}
	set.Valid = false
	set.CreatedAt = tx.now
	set.UpdatedAt = tx.now
	tx.state.sets[set.ID] = set
	tx.recordChange(Change{Entity: domain.EntitySampleSet, Action: domain.ActionCreate, After: set})
	return decorateSampleSet(&tx.state, set), nil
}

// CreateSampleMember stores a new member; its set must exist.
func (tx *transaction) CreateSampleMember(m domain.SampleMember) (domain.SampleMember, error) {
	m.ID = tx.newID(m.ID)
	if _, exists := tx.state.members[m.ID]; exists {
		return domain.SampleMember{}, fmt.Errorf("sample member %q already exists", m.ID)
	}
	if m.SampleSetID != "" {
		if _, ok := tx.state.sets[m.SampleSetID]; !ok {
			return domain.SampleMember{}, fmt.Errorf("sample set %q not found", m.SampleSetID)
		}
	}
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	if m.StateModifiedAt.IsZero() {
		m.StateModifiedAt = tx.now
	}
	tx.state.members[m.ID] = cloneMember(m)
	tx.recordChange(Change{Entity: domain.EntitySampleMember, Action: domain.ActionCreate, After: cloneMember(m)})
	return cloneMember(m), nil
}

// UpdateSampleMember mutates a member using the provided mutator function.
func (tx *transaction) UpdateSampleMember(id string, mutator func(*domain.SampleMember) error) (domain.SampleMember, error) {
	current, ok := tx.state.members[id]
	if !ok {
		return domain.SampleMember{}, fmt.Errorf("sample member %q not found", id)
	}
	before := cloneMember(current)
	if err := mutator(&current); err != nil {
		return domain.SampleMember{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.members[id] = cloneMember(current)
	tx.recordChange(Change{Entity: domain.EntitySampleMember, Action: domain.ActionUpdate, Before: before, After: cloneMember(current)})
	return cloneMember(current), nil
}

// CreateJobRun stores a new job run.
func (tx *transaction) CreateJobRun(run domain.JobRun) (domain.JobRun, error) {
	run.ID = tx.newID(run.ID)
	if _, exists := tx.state.jobRuns[run.ID]; exists {
		return domain.JobRun{}, fmt.Errorf("job run %q already exists", run.ID)
	}
	run.CreatedAt = tx.now
	run.UpdatedAt = tx.now
	if run.StartTime.IsZero() {
		run.StartTime = tx.now
	}
	tx.state.jobRuns[run.ID] = cloneJobRun(run)
	tx.recordChange(Change{Entity: domain.EntityJobRun, Action: domain.ActionCreate, After: cloneJobRun(run)})
	return cloneJobRun(run), nil
}

// UpdateJobRun mutates an existing job run.
func (tx *transaction) UpdateJobRun(id string, mutator func(*domain.JobRun) error) (domain.JobRun, error) {
	current, ok := tx.state.jobRuns[id]
	if !ok {
		return domain.JobRun{}, fmt.Errorf("job run %q not found", id)
	}
	before := cloneJobRun(current)
	if err := mutator(&current); err != nil {
		return domain.JobRun{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.jobRuns[id] = cloneJobRun(current)
	tx.recordChange(Change{Entity: domain.EntityJobRun, Action: domain.ActionUpdate, Before: before, After: cloneJobRun(current)})
	return cloneJobRun(current), nil
}

// CreateFileProcessed stores a new parse pass record. Paths are unique.
func (tx *transaction) CreateFileProcessed(f domain.FileProcessed) (domain.FileProcessed, error) {
	f.ID = tx.newID(f.ID)
	if _, exists := tx.state.files[f.ID]; exists {
		return domain.FileProcessed{}, fmt.Errorf("file processed %q already exists", f.ID)
	}
	if existing, ok := tx.FindFileProcessedByPath(f.FilePath); ok {
		return domain.FileProcessed{}, fmt.Errorf("file %q already processed as %q", f.FilePath, existing.ID)
	}
	f.CreatedAt = tx.now
	f.UpdatedAt = tx.now
	tx.state.files[f.ID] = f
	tx.recordChange(Change{Entity: domain.EntityFileProcessed, Action: domain.ActionCreate, After: f})
	return f, nil
}

// UpdateFileProcessed mutates a parse pass record.
func (tx *transaction) UpdateFileProcessed(id string, mutator func(*domain.FileProcessed) error) (domain.FileProcessed, error) {
	current, ok := tx.state.files[id]
	if !ok {
		return domain.FileProcessed{}, fmt.Errorf("file processed %q not found", id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.FileProcessed{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.files[id] = current
	tx.recordChange(Change{Entity: domain.EntityFileProcessed, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateManifestFile stores a manifest identity. Paths are unique.
func (tx *transaction) CreateManifestFile(m domain.ManifestFile) (domain.ManifestFile, error) {
	m.ID = tx.newID(m.ID)
	if _, exists := tx.state.manifests[m.ID]; exists {
		return domain.ManifestFile{}, fmt.Errorf("manifest file %q already exists", m.ID)
	}
	if _, ok := tx.FindManifestFileByPath(m.FilePath); ok {
		return domain.ManifestFile{}, fmt.Errorf("manifest file for %q already exists", m.FilePath)
	}
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.manifests[m.ID] = m
	tx.recordChange(Change{Entity: domain.EntityManifestFile, Action: domain.ActionCreate, After: m})
	return m, nil
}

// UpdateManifestFile mutates a manifest identity.
func (tx *transaction) UpdateManifestFile(id string, mutator func(*domain.ManifestFile) error) (domain.ManifestFile, error) {
	current, ok := tx.state.manifests[id]
	if !ok {
		return domain.ManifestFile{}, fmt.Errorf("manifest file %q not found", id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.ManifestFile{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.manifests[id] = current
	tx.recordChange(Change{Entity: domain.EntityManifestFile, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateManifestFeedback stores a feedback record for an input manifest.
func (tx *transaction) CreateManifestFeedback(f domain.ManifestFeedback) (domain.ManifestFeedback, error) {
	f.ID = tx.newID(f.ID)
	if _, exists := tx.state.feedback[f.ID]; exists {
		return domain.ManifestFeedback{}, fmt.Errorf("manifest feedback %q already exists", f.ID)
	}
	if _, ok := tx.state.manifests[f.InputManifestFileID]; !ok {
		return domain.ManifestFeedback{}, fmt.Errorf("manifest file %q not found", f.InputManifestFileID)
	}
	f.CreatedAt = tx.now
	f.UpdatedAt = tx.now
	tx.state.feedback[f.ID] = cloneFeedback(f)
	tx.recordChange(Change{Entity: domain.EntityManifestFeedback, Action: domain.ActionCreate, After: cloneFeedback(f)})
	return cloneFeedback(f), nil
}

// UpdateManifestFeedback mutates a feedback record.
func (tx *transaction) UpdateManifestFeedback(id string, mutator func(*domain.ManifestFeedback) error) (domain.ManifestFeedback, error) {
	current, ok := tx.state.feedback[id]
	if !ok {
		return domain.ManifestFeedback{}, fmt.Errorf("manifest feedback %q not found", id)
	}
	before := cloneFeedback(current)
	if err := mutator(&current); err != nil {
		return domain.ManifestFeedback{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.feedback[id] = cloneFeedback(current)
	tx.recordChange(Change{Entity: domain.EntityManifestFeedback, Action: domain.ActionUpdate, Before: before, After: cloneFeedback(current)})
	return cloneFeedback(current), nil
}

// UpsertValidationMetrics creates or mutates the metrics row for a member.
func (tx *transaction) UpsertValidationMetrics(memberID string, mutator func(*domain.ValidationMetrics) error) (domain.ValidationMetrics, error) {
	if _, ok := tx.state.members[memberID]; !ok {
		return domain.ValidationMetrics{}, fmt.Errorf("sample member %q not found", memberID)
	}
	current, exists := tx.state.metrics[memberID]
	action := domain.ActionUpdate
	var before any
	if exists {
		before = cloneMetrics(current)
	} else {
		action = domain.ActionCreate
		current = domain.ValidationMetrics{Base: domain.Base{ID: uuid.NewString(), CreatedAt: tx.now}, MemberID: memberID}
	}
	if err := mutator(&current); err != nil {
		return domain.ValidationMetrics{}, err
	}
	current.MemberID = memberID
	current.UpdatedAt = tx.now
	tx.state.metrics[memberID] = cloneMetrics(current)
	tx.recordChange(Change{Entity: domain.EntityValidationMetrics, Action: action, Before: before, After: cloneMetrics(current)})
	return cloneMetrics(current), nil
}

// CreateIncident stores a new incident.
func (tx *transaction) CreateIncident(i domain.Incident) (domain.Incident, error) {
	i.ID = tx.newID(i.ID)
	if _, exists := tx.state.incidents[i.ID]; exists {
		return domain.Incident{}, fmt.Errorf("incident %q already exists", i.ID)
	}
	if i.Status == "" {
		i.Status = domain.IncidentOpen
	}
	i.CreatedAt = tx.now
	i.UpdatedAt = tx.now
	tx.state.incidents[i.ID] = cloneIncident(i)
	tx.recordChange(Change{Entity: domain.EntityIncident, Action: domain.ActionCreate, After: cloneIncident(i)})
	return cloneIncident(i), nil
}

// UpdateIncident mutates an incident.
func (tx *transaction) UpdateIncident(id string, mutator func(*domain.Incident) error) (domain.Incident, error) {
	current, ok := tx.state.incidents[id]
	if !ok {
		return domain.Incident{}, fmt.Errorf("incident %q not found", id)
	}
	before := cloneIncident(current)
	if err := mutator(&current); err != nil {
		return domain.Incident{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.incidents[id] = cloneIncident(current)
	tx.recordChange(Change{Entity: domain.EntityIncident, Action: domain.ActionUpdate, Before: before, After: cloneIncident(current)})
	return cloneIncident(current), nil
}

// CreateRawRecord stages one inbound manifest row.
func (tx *transaction) CreateRawRecord(r domain.RawManifestRecord) (domain.RawManifestRecord, error) {
	r.ID = tx.newID(r.ID)
	if _, exists := tx.state.raw[r.ID]; exists {
		return domain.RawManifestRecord{}, fmt.Errorf("raw record %q already exists", r.ID)
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.raw[r.ID] = cloneRaw(r)
	tx.recordChange(Change{Entity: domain.EntityRawRecord, Action: domain.ActionCreate, After: cloneRaw(r)})
	return cloneRaw(r), nil
}

// CreateDataFile indexes a data file. Paths are unique.
func (tx *transaction) CreateDataFile(f domain.DataFile) (domain.DataFile, error) {
	f.ID = tx.newID(f.ID)
	if _, exists := tx.state.dataFiles[f.ID]; exists {
		return domain.DataFile{}, fmt.Errorf("data file %q already exists", f.ID)
	}
	if _, ok := tx.FindDataFileByPath(f.FilePath); ok {
		return domain.DataFile{}, fmt.Errorf("data file %q already indexed", f.FilePath)
	}
	f.CreatedAt = tx.now
	f.UpdatedAt = tx.now
	tx.state.dataFiles[f.ID] = f
	tx.recordChange(Change{Entity: domain.EntityDataFile, Action: domain.ActionCreate, After: f})
	return f, nil
}

// ReplaceStagedObjects swaps the whole staging table for a fresh listing.
func (tx *transaction) ReplaceStagedObjects(objects []domain.StagedObject) error {
	staged := make(map[string]domain.StagedObject, len(objects))
	for _, obj := range objects {
		obj.ID = tx.newID(obj.ID)
		obj.CreatedAt = tx.now
		obj.UpdatedAt = tx.now
		staged[obj.ID] = obj
	}
	tx.state.staged = staged
	return nil
}

// UpsertBiobankSample inserts or replaces a biobank sample keyed by collection tube.
func (tx *transaction) UpsertBiobankSample(b domain.BiobankSample) (domain.BiobankSample, error) {
	if b.CollectionTubeID == "" {
		return domain.BiobankSample{}, fmt.Errorf("biobank sample requires a collection tube id")
	}
	action := domain.ActionCreate
	var before any
	if existing, ok := tx.state.biobank[b.CollectionTubeID]; ok {
		action = domain.ActionUpdate
		before = existing
		b.ID = existing.ID
		b.CreatedAt = existing.CreatedAt
	} else {
		b.ID = tx.newID(b.ID)
		b.CreatedAt = tx.now
	}
	b.UpdatedAt = tx.now
	tx.state.biobank[b.CollectionTubeID] = b
	tx.recordChange(Change{Entity: domain.EntityBiobankSample, Action: action, Before: before, After: b})
	return b, nil
}

// transactionView exposes read-only lookups over a state snapshot.
type transactionView struct {
	state *memoryState
}

func sortedValues[V any](in map[string]V, keep func(V) bool, cloneFn func(V) V, less func(a, b V) bool) []V {
	out := make([]V, 0, len(in))
	for _, v := range in {
		if keep == nil || keep(v) {
			out = append(out, cloneFn(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func baseLess(a, b domain.Base) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (v transactionView) ListSampleSets() []domain.SampleSet {
	out := sortedValues(v.state.sets, nil, identity[domain.SampleSet], func(a, b domain.SampleSet) bool { return baseLess(a.Base, b.Base) })
	for i := range out {
		out[i] = decorateSampleSet(v.state, out[i])
	}
	return out
}

func (v transactionView) FindSampleSet(id string) (domain.SampleSet, bool) {
	set, ok := v.state.sets[id]
	if !ok {
		return domain.SampleSet{}, false
	}
	return decorateSampleSet(v.state, set), true
}

func (v transactionView) ListSampleMembers(filter domain.MemberFilter) []domain.SampleMember {
	return sortedValues(v.state.members, filter.Matches, cloneMember, func(a, b domain.SampleMember) bool { return baseLess(a.Base, b.Base) })
}

func (v transactionView) FindSampleMember(id string) (domain.SampleMember, bool) {
	m, ok := v.state.members[id]
	if !ok {
		return domain.SampleMember{}, false
	}
	return cloneMember(m), true
}

// FindMemberBySampleID returns the member carrying the sample id. Members in
// an absorbing state are skipped so a replated sample resolves to its live record.
func (v transactionView) FindMemberBySampleID(sampleID string, genome domain.GenomeType) (domain.SampleMember, bool) {
	return v.findMember(func(m domain.SampleMember) bool {
		return sampleID != "" && m.SampleID == sampleID && (genome == "" || m.GenomeType == genome)
	})
}

func (v transactionView) FindMemberByCollectionTube(tubeID string, genome domain.GenomeType) (domain.SampleMember, bool) {
	return v.findMember(func(m domain.SampleMember) bool {
		return tubeID != "" && m.CollectionTubeID == tubeID && (genome == "" || m.GenomeType == genome)
	})
}

func (v transactionView) findMember(match func(domain.SampleMember) bool) (domain.SampleMember, bool) {
	var found domain.SampleMember
	ok := false
	for _, m := range v.state.members {
		if !match(m) || m.State.Absorbing() {
			continue
		}
		if !ok || baseLess(found.Base, m.Base) {
			found = m
			ok = true
		}
	}
	if !ok {
		return domain.SampleMember{}, false
	}
	return cloneMember(found), true
}

func (v transactionView) ListMembersByCollectionTube(tubeID string) []domain.SampleMember {
	return sortedValues(v.state.members, func(m domain.SampleMember) bool { return m.CollectionTubeID == tubeID }, cloneMember,
		func(a, b domain.SampleMember) bool { return baseLess(a.Base, b.Base) })
}

func (v transactionView) ListJobRuns(kind domain.JobKind) []domain.JobRun {
	return sortedValues(v.state.jobRuns, func(r domain.JobRun) bool { return kind == "" || r.Kind == kind }, cloneJobRun,
		func(a, b domain.JobRun) bool { return baseLess(a.Base, b.Base) })
}

func (v transactionView) FindJobRun(id string) (domain.JobRun, bool) {
	r, ok := v.state.jobRuns[id]
	if !ok {
		return domain.JobRun{}, false
	}
	return cloneJobRun(r), true
}

func (v transactionView) FindFileProcessedByPath(path string) (domain.FileProcessed, bool) {
	for _, f := range v.state.files {
		if f.FilePath == path {
			return f, true
		}
	}
	return domain.FileProcessed{}, false
}

func (v transactionView) ListFileProcessed(jobRunID string) []domain.FileProcessed {
	return sortedValues(v.state.files, func(f domain.FileProcessed) bool { return jobRunID == "" || f.JobRunID == jobRunID },
		identity[domain.FileProcessed], func(a, b domain.FileProcessed) bool { return baseLess(a.Base, b.Base) })
}

func (v transactionView) FindManifestFile(id string) (domain.ManifestFile, bool) {
	m, ok := v.state.manifests[id]
	return m, ok
}

func (v transactionView) FindManifestFileByPath(path string) (domain.ManifestFile, bool) {
	for _, m := range v.state.manifests {
		if m.FilePath == path {
			return m, true
		}
	}
	return domain.ManifestFile{}, false
}

func (v transactionView) ListManifestFiles(manifestType domain.ManifestType) []domain.ManifestFile {
	return sortedValues(v.state.manifests, func(m domain.ManifestFile) bool { return manifestType == "" || m.ManifestType == manifestType },
		identity[domain.ManifestFile], func(a, b domain.ManifestFile) bool { return baseLess(a.Base, b.Base) })
}

func (v transactionView) ListManifestFeedback() []domain.ManifestFeedback {
	return sortedValues(v.state.feedback, nil, cloneFeedback, func(a, b domain.ManifestFeedback) bool { return baseLess(a.Base, b.Base) })
}

func (v transactionView) FindFeedbackByInputManifest(manifestFileID string) (domain.ManifestFeedback, bool) {
	for _, f := range v.state.feedback {
		if f.InputManifestFileID == manifestFileID {
			return cloneFeedback(f), true
		}
	}
	return domain.ManifestFeedback{}, false
}

func (v transactionView) FindValidationMetrics(memberID string) (domain.ValidationMetrics, bool) {
	m, ok := v.state.metrics[memberID]
	if !ok {
		return domain.ValidationMetrics{}, false
	}
	return cloneMetrics(m), true
}

func (v transactionView) ListIncidents() []domain.Incident {
	return sortedValues(v.state.incidents, nil, cloneIncident, func(a, b domain.Incident) bool { return baseLess(a.Base, b.Base) })
}

func (v transactionView) FindIncident(id string) (domain.Incident, bool) {
	i, ok := v.state.incidents[id]
	if !ok {
		return domain.Incident{}, false
	}
	return cloneIncident(i), true
}

func (v transactionView) ListRawRecords(filePath string) []domain.RawManifestRecord {
	return sortedValues(v.state.raw, func(r domain.RawManifestRecord) bool { return r.FilePath == filePath }, cloneRaw,
		func(a, b domain.RawManifestRecord) bool { return baseLess(a.Base, b.Base) })
}

func (v transactionView) ListRawRecordsByType(manifestType domain.ManifestType) []domain.RawManifestRecord {
	return sortedValues(v.state.raw, func(r domain.RawManifestRecord) bool { return r.ManifestType == manifestType }, cloneRaw,
		func(a, b domain.RawManifestRecord) bool { return baseLess(a.Base, b.Base) })
}

func (v transactionView) FindDataFileByPath(path string) (domain.DataFile, bool) {
	for _, f := range v.state.dataFiles {
		if f.FilePath == path {
			return f, true
		}
	}
	return domain.DataFile{}, false
}

func (v transactionView) ListDataFiles(genome domain.GenomeType, identifier string) []domain.DataFile {
	keep := func(f domain.DataFile) bool {
		return (genome == "" || f.GenomeType == genome) && (identifier == "" || f.IdentifierValue == identifier)
	}
	return sortedValues(v.state.dataFiles, keep, identity[domain.DataFile], func(a, b domain.DataFile) bool { return a.FilePath < b.FilePath })
}

func (v transactionView) ListStagedObjects() []domain.StagedObject {
	return sortedValues(v.state.staged, nil, identity[domain.StagedObject], func(a, b domain.StagedObject) bool { return a.FilePath < b.FilePath })
}

func (v transactionView) ListBiobankSamples() []domain.BiobankSample {
	return sortedValues(v.state.biobank, nil, identity[domain.BiobankSample], func(a, b domain.BiobankSample) bool {
		return a.CollectionTubeID < b.CollectionTubeID
	})
}

func (v transactionView) FindBiobankSample(collectionTubeID string) (domain.BiobankSample, bool) {
	b, ok := v.state.biobank[collectionTubeID]
	return b, ok
}
