package genomic

import (
	"context"
	"errors"
	"testing"
	"time"

	"genomicore/pkg/domain"
)

const aw1Header = "biobank_id,sample_id,collection_tube_id,box_id/plate_id,well_position,failure_mode,failure_mode_desc\n"

const aw2Header = "Biobank ID,Sample ID,Contamination,Processing Status,Mean Coverage\n"

func incidentsByCode(incs []domain.Incident, code domain.IncidentCode) []domain.Incident {
	var out []domain.Incident
	for _, inc := range incs {
		if inc.Code == code {
			out = append(out, inc)
		}
	}
	return out
}

func TestIngestAW1ReconcilesAndFailsRows(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	members := fx.seed(t,
		wgsMember("T1", "", domain.StateAW0),
		wgsMember("T2", "", domain.StateAW0),
	)
	fx.put(t, inboxBucket, "aw1/BCM_AoU_SEQ_PKG-2104-026571.csv", aw1Header+
		"A1,S1,T1,BOX1,a01,,\n"+
		"A2,S2,T2,BOX1,A02,extraction,low yield\n")

	run, sub, err := fx.svc.Run(ctx, JobRequest{
		Kind: domain.JobAW1Ingestion,
		File: FileRef{Bucket: inboxBucket, Subfolder: "aw1"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Result != domain.ResultSuccess || run.Status != domain.JobCompleted {
		t.Fatalf("unexpected run %+v", run)
	}
	if len(sub.Files) != 1 || sub.Files[0].Rows != 2 {
		t.Fatalf("unexpected files %+v", sub.Files)
	}

	first := fx.member(t, members[0].ID)
	second := fx.member(t, members[1].ID)
	if first.State != domain.StateAW1 || first.SampleID != "S1" || first.GCSiteID != "bcm" ||
		first.BoxPlateID != "BOX1" || first.WellPosition != "A01" {
		t.Fatalf("unexpected reconciled member %+v", first)
	}
	if second.State != domain.StateAW1FPre || second.FailureMode != "extraction" || second.FailureModeDescription != "low yield" {
		t.Fatalf("unexpected failed member %+v", second)
	}

	path := inboxBucket + "/aw1/BCM_AoU_SEQ_PKG-2104-026571.csv"
	fx.view(t, func(v domain.TransactionView) {
		fp, ok := v.FindFileProcessedByPath(path)
		if !ok || fp.Status != domain.FileStatusCompleted || fp.Result != domain.ResultSuccess || fp.JobRunID != run.ID {
			t.Fatalf("unexpected file processed %+v", fp)
		}
		mf, ok := v.FindManifestFileByPath(path)
		if !ok || mf.ManifestType != domain.ManifestAW1 || mf.Outbound {
			t.Fatalf("unexpected manifest file %+v", mf)
		}
		if first.AW1ManifestFileID != mf.ID || first.AW1FileProcessedID != fp.ID || fp.ManifestFileID != mf.ID {
			t.Fatalf("back references not set: %+v", first)
		}
		if mf.RecordCount != 2 {
			t.Fatalf("record count follow-up not applied, got %d", mf.RecordCount)
		}
		if _, ok := v.FindFeedbackByInputManifest(mf.ID); !ok {
			t.Fatalf("expected feedback record for AW1 manifest")
		}
		if got := len(v.ListRawRecords(path)); got != 2 {
			t.Fatalf("expected 2 raw records, got %d", got)
		}
		counts := v.ListJobRuns(domain.JobCalculateRecordCount)
		if len(counts) != 1 || counts[0].Result != domain.ResultSuccess {
			t.Fatalf("expected one record count run, got %+v", counts)
		}
	})

	_, sub, err = fx.svc.Run(ctx, JobRequest{Kind: domain.JobAW1Ingestion, File: FileRef{Bucket: inboxBucket, Subfolder: "aw1"}})
	if err != nil || sub.Result != domain.ResultNoFiles {
		t.Fatalf("second pass must find nothing new: %+v %v", sub, err)
	}
}

func TestIngestUsesConfiguredSource(t *testing.T) {
	fx := newFixture(t, WithSources(map[domain.JobKind]Source{
		domain.JobAW1Ingestion: {Bucket: inboxBucket, Subfolder: "aw1"},
	}), WithDispatcher(recordingDispatcher()))
	fx.seed(t, wgsMember("T1", "", domain.StateAW0))
	fx.put(t, inboxBucket, "aw1/BCM_AoU_SEQ_PKG-1.csv", aw1Header+"A1,S1,T1,,,,\n")
	fx.put(t, inboxBucket, "other/BCM_AoU_SEQ_PKG-2.csv", aw1Header+"A9,S9,T9,,,,\n")

	_, sub, err := fx.svc.Run(context.Background(), JobRequest{Kind: domain.JobAW1Ingestion})
	if err != nil || sub.Result != domain.ResultSuccess || len(sub.Files) != 1 {
		t.Fatalf("unexpected result %+v %v", sub, err)
	}
	if _, err := fx.svc.Ingest(context.Background(), fx.begin(t, domain.JobW2Ingestion), FileRef{}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestIngestInvalidFileName(t *testing.T) {
	fx := newFixture(t, WithDispatcher(recordingDispatcher()))
	fx.put(t, inboxBucket, "aw1/not_a_manifest.csv", aw1Header)

	run, sub, err := fx.svc.Run(context.Background(), JobRequest{Kind: domain.JobAW1Ingestion, File: FileRef{Bucket: inboxBucket, Subfolder: "aw1"}})
	if err != nil {
		t.Fatalf("file failures are not run errors: %v", err)
	}
	if sub.Files[0].Result != domain.ResultInvalidFileName || run.Result != domain.ResultError {
		t.Fatalf("unexpected results file=%s run=%s", sub.Files[0].Result, run.Result)
	}
	var fve *FileValidationError
	if !errors.As(sub.Files[0].Err, &fve) {
		t.Fatalf("expected file validation error, got %v", sub.Files[0].Err)
	}
	incs := fx.incidents(t)
	named := incidentsByCode(incs, domain.IncidentInvalidFileName)
	if len(named) != 1 || named[0].DataFileName != "not_a_manifest.csv" || named[0].FileProcessedID == "" {
		t.Fatalf("unexpected file name incidents %+v", named)
	}
	if len(incidentsByCode(incs, domain.IncidentUnknown)) != 1 {
		t.Fatalf("expected the failed run to raise an incident")
	}
	fx.view(t, func(v domain.TransactionView) {
		fp, ok := v.FindFileProcessedByPath(inboxBucket + "/aw1/not_a_manifest.csv")
		if !ok || fp.Result != domain.ResultInvalidFileName || fp.Status != domain.FileStatusCompleted {
			t.Fatalf("unexpected file processed %+v", fp)
		}
		if _, ok := v.FindManifestFileByPath(fp.FilePath); ok {
			t.Fatalf("invalid names must not get a manifest identity")
		}
	})
}

func TestIngestInvalidStructure(t *testing.T) {
	fx := newFixture(t, WithDispatcher(recordingDispatcher()))
	fx.put(t, inboxBucket, "aw2/BCM_AoU_SEQ_DataManifest_1.csv", "biobank_id,sample_id\nA1,S1\n")
	fx.put(t, inboxBucket, "aw2/BCM_AoU_SEQ_DataManifest_2.csv", "")

	h := fx.begin(t, domain.JobMetricsIngestion)
	sub, err := fx.svc.Ingest(context.Background(), h, FileRef{Bucket: inboxBucket, Subfolder: "aw2"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(sub.Files) != 2 {
		t.Fatalf("expected two files, got %d", len(sub.Files))
	}
	for _, fo := range sub.Files {
		if fo.Result != domain.ResultInvalidFileStructure || fo.Rows != 0 {
			t.Fatalf("unexpected outcome %+v", fo)
		}
	}
	if got := len(incidentsByCode(fx.incidents(t), domain.IncidentInvalidStructure)); got != 2 {
		t.Fatalf("expected two structure incidents, got %d", got)
	}
}

func TestIngestLookupErrorAbortsOnlyItsFile(t *testing.T) {
	d := recordingDispatcher()
	fx := newFixture(t, WithDispatcher(d), WithBatchSize(1))
	members := fx.seed(t,
		wgsMember("T1", "S1", domain.StateAW1),
		wgsMember("T2", "S2", domain.StateAW1),
	)
	bad := "aw2/BCM_AoU_SEQ_DataManifest_1.csv"
	good := "aw2/BCM_AoU_SEQ_DataManifest_2.csv"
	fx.put(t, inboxBucket, bad, aw2Header+"A1,S1,0.001,pass,30\nA9,S9,0.001,pass,30\n")
	fx.put(t, inboxBucket, good, aw2Header+"A2,S2,0.001,pass,31\n")

	h := fx.begin(t, domain.JobMetricsIngestion)
	sub, err := fx.svc.Ingest(context.Background(), h, FileRef{Bucket: inboxBucket, Subfolder: "aw2"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sub.Result != domain.ResultError {
		t.Fatalf("expected aggregate ERROR, got %s", sub.Result)
	}
	outcomes := map[string]FileOutcome{}
	for _, fo := range sub.Files {
		outcomes[fo.Path] = fo
	}
	badOutcome := outcomes[inboxBucket+"/"+bad]
	var le *LookupError
	if badOutcome.Result != domain.ResultError || badOutcome.Rows != 1 || !errors.As(badOutcome.Err, &le) || le.Row != 3 {
		t.Fatalf("unexpected bad file outcome %+v", badOutcome)
	}
	if outcomes[inboxBucket+"/"+good].Result != domain.ResultSuccess {
		t.Fatalf("good file must still succeed: %+v", outcomes[inboxBucket+"/"+good])
	}
	// the first batch of the failed file stays committed
	if got := fx.member(t, members[0].ID).State; got != domain.StateAW2 {
		t.Fatalf("expected committed row to advance, got %s", got)
	}
	if got := fx.member(t, members[1].ID).State; got != domain.StateAW2 {
		t.Fatalf("expected good file member in AW2, got %s", got)
	}
	notFound := incidentsByCode(fx.incidents(t), domain.IncidentMemberNotFound)
	if len(notFound) != 1 || notFound[0].SampleID != "S9" {
		t.Fatalf("unexpected lookup incidents %+v", notFound)
	}
	sent := d.Tasks()
	if len(sent) != 1 || sent[0].Job != domain.JobCalculateRecordCount || sent[0].Payload.FilePath != inboxBucket+"/"+good {
		t.Fatalf("only the successful file gets a record count task: %+v", sent)
	}
}

func TestIngestAW2MetricsAndFailure(t *testing.T) {
	fx := newFixture(t, WithDispatcher(recordingDispatcher()))
	members := fx.seed(t,
		wgsMember("T1", "S1", domain.StateAW1),
		wgsMember("T2", "S2", domain.StateAW1),
		wgsMember("T2", "S0", domain.StateAW2),
	)
	fx.put(t, inboxBucket, "aw2/BCM_AoU_SEQ_DataManifest_1.csv", aw2Header+
		"A1,S1,0.02,PASS,32.1\n"+
		"A2,S2,0.02,Fail,12\n")

	_, sub, err := fx.svc.Run(context.Background(), JobRequest{Kind: domain.JobMetricsIngestion, File: FileRef{Bucket: inboxBucket, Subfolder: "aw2"}})
	if err != nil || sub.Result != domain.ResultSuccess {
		t.Fatalf("run: %+v %v", sub, err)
	}
	if got := fx.member(t, members[0].ID); got.State != domain.StateAW2 || got.AW2FileProcessedID == "" {
		t.Fatalf("unexpected passing member %+v", got)
	}
	if got := fx.member(t, members[1].ID).State; got != domain.StateAW2Fail {
		t.Fatalf("expected AW2_FAIL, got %s", got)
	}
	fx.view(t, func(v domain.TransactionView) {
		vm, ok := v.FindValidationMetrics(members[0].ID)
		if !ok || vm.ContaminationCategory != domain.ContaminationExtractWGS || vm.MeanCoverage != "32.1" ||
			vm.ProcessingStatus != "pass" || vm.SiteID != "bcm" {
			t.Fatalf("unexpected metrics %+v", vm)
		}
		vm, ok = v.FindValidationMetrics(members[1].ID)
		if !ok || vm.ContaminationCategory != domain.ContaminationTerminalNoExtract {
			t.Fatalf("re-extracted tube must be terminal, got %+v", vm)
		}
	})
}

func TestIngestMalformedRow(t *testing.T) {
	fx := newFixture(t, WithDispatcher(recordingDispatcher()))
	fx.seed(t, wgsMember("T1", "S1", domain.StateAW1))
	fx.put(t, inboxBucket, "aw2/BCM_AoU_SEQ_DataManifest_1.csv", aw2Header+"A1,S1,high,pass,30\n")
	h := fx.begin(t, domain.JobMetricsIngestion)
	sub, err := fx.svc.Ingest(context.Background(), h, FileRef{Bucket: inboxBucket, Subfolder: "aw2"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sub.Files[0].Result != domain.ResultError || sub.Files[0].Rows != 0 {
		t.Fatalf("unexpected outcome %+v", sub.Files[0])
	}
	if len(incidentsByCode(fx.incidents(t), domain.IncidentMalformedRow)) != 1 {
		t.Fatalf("expected a malformed row incident")
	}
}

func TestIngestA2AndW2(t *testing.T) {
	fx := newFixture(t, WithDispatcher(recordingDispatcher()))
	members := fx.seed(t,
		arrayMember("T1", "S1", domain.StateA1),
		arrayMember("T2", "S2", domain.StateA1),
		wgsMember("T3", "S3", domain.StateW1),
	)
	fx.put(t, inboxBucket, "a2/BI_AoU_GEM_A2_manifest_2020-07-11.csv", "biobank_id,sample_id,success,date_of_import\nA1,S1,pass,2020-07-11\nA2,S2,fail,2020-07-11\n")
	fx.put(t, inboxBucket, "w2/RDR_AoU_CVL_W2_20210101.csv", "biobank_id,sample_id,date_of_ingestion\nA3,S3,2021-01-01\n")
	ctx := context.Background()

	if _, sub, err := fx.svc.Run(ctx, JobRequest{Kind: domain.JobA2Ingestion, File: FileRef{Bucket: inboxBucket, Subfolder: "a2"}}); err != nil || sub.Result != domain.ResultSuccess {
		t.Fatalf("a2: %+v %v", sub, err)
	}
	if _, sub, err := fx.svc.Run(ctx, JobRequest{Kind: domain.JobW2Ingestion, File: FileRef{Bucket: inboxBucket, Subfolder: "w2"}}); err != nil || sub.Result != domain.ResultSuccess {
		t.Fatalf("w2: %+v %v", sub, err)
	}
	if got := fx.member(t, members[0].ID).State; got != domain.StateA2 {
		t.Fatalf("expected A2, got %s", got)
	}
	if got := fx.member(t, members[1].ID).State; got != domain.StateA2F {
		t.Fatalf("expected A2F, got %s", got)
	}
	if got := fx.member(t, members[2].ID); got.State != domain.StateW2 || got.W2FileProcessedID == "" {
		t.Fatalf("unexpected W2 member %+v", got)
	}
}

func TestIngestAW1FNotifiesSite(t *testing.T) {
	fx := newFixture(t, WithDispatcher(recordingDispatcher()),
		WithSiteRecipients(map[string][]string{"bcm": {"gc@bcm.example"}}, []string{"drc@example"}))
	members := fx.seed(t, wgsMember("T1", "S1", domain.StateAW1))
	fx.put(t, inboxBucket, "aw1f/BCM_AoU_SEQ_PKG-1_FAILURE.csv", "biobank_id,sample_id,failure_mode,failure_mode_desc\nA1,S1,contaminated,swap suspected\n")

	_, sub, err := fx.svc.Run(context.Background(), JobRequest{Kind: domain.JobAW1FIngestion, File: FileRef{Bucket: inboxBucket, Subfolder: "aw1f"}})
	if err != nil || sub.Result != domain.ResultSuccess {
		t.Fatalf("run: %+v %v", sub, err)
	}
	if got := fx.member(t, members[0].ID); got.State != domain.StateAW1FPost || got.FailureMode != "contaminated" {
		t.Fatalf("unexpected member %+v", got)
	}
	if len(fx.mailer.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(fx.mailer.sent))
	}
	msg := fx.mailer.sent[0]
	if msg.Recipients[0] != "gc@bcm.example" || msg.CCRecipients[0] != "drc@example" ||
		msg.Subject != "GC Manifest Ingestion Failure: BCM_AoU_SEQ_PKG-1_FAILURE.csv" {
		t.Fatalf("unexpected email %+v", msg)
	}
}

func TestIngestAW1FMailerFailureRaisesIncident(t *testing.T) {
	fx := newFixture(t, WithDispatcher(recordingDispatcher()),
		WithSiteRecipients(map[string][]string{"bcm": {"gc@bcm.example"}}, nil))
	fx.mailer.err = errors.New("relay down")
	fx.seed(t, wgsMember("T1", "S1", domain.StateAW1))
	fx.put(t, inboxBucket, "aw1f/BCM_AoU_SEQ_PKG-1_FAILURE.csv", "biobank_id,sample_id,failure_mode\nA1,S1,contaminated\n")

	_, sub, err := fx.svc.Run(context.Background(), JobRequest{Kind: domain.JobAW1FIngestion, File: FileRef{Bucket: inboxBucket, Subfolder: "aw1f"}})
	if err != nil || sub.Result != domain.ResultSuccess {
		t.Fatalf("mail failures must not fail the file: %+v %v", sub, err)
	}
	incs := incidentsByCode(fx.incidents(t), domain.IncidentNotificationFailure)
	if len(incs) != 1 || incs[0].SiteID != "bcm" || incs[0].Notified {
		t.Fatalf("unexpected notification incidents %+v", incs)
	}
}

func TestIngestFanOutDispatchesPerFile(t *testing.T) {
	d := recordingDispatcher()
	fx := newFixture(t, WithDispatcher(d), WithFanOut(true))
	fx.seed(t, wgsMember("T1", "", domain.StateAW0))
	fx.put(t, inboxBucket, "aw1/BCM_AoU_SEQ_PKG-1.csv", aw1Header+"A1,S1,T1,,,,\n")
	fx.put(t, inboxBucket, "aw1/BCM_AoU_SEQ_PKG-2.csv", aw1Header)

	_, sub, err := fx.svc.Run(context.Background(), JobRequest{Kind: domain.JobAW1Ingestion, File: FileRef{Bucket: inboxBucket, Subfolder: "aw1"}})
	if err != nil || sub.Result != domain.ResultSuccess || len(sub.Files) != 2 {
		t.Fatalf("fan-out run: %+v %v", sub, err)
	}
	sent := d.Tasks()
	if len(sent) != 2 || sent[0].Job != domain.JobAW1Ingestion || sent[0].Payload.FilePath != inboxBucket+"/aw1/BCM_AoU_SEQ_PKG-1.csv" ||
		sent[0].Payload.BucketName != inboxBucket || sent[0].Payload.UploadDate == "" {
		t.Fatalf("unexpected tasks %+v", sent)
	}
	fx.view(t, func(v domain.TransactionView) {
		if _, ok := v.FindFileProcessedByPath(sent[0].Payload.FilePath); ok {
			t.Fatalf("fan-out must leave file processing to the task")
		}
	})

	result, err := fx.svc.RunTask(context.Background(), sent[0].Job, sent[0].Payload)
	if err != nil || result != domain.ResultSuccess {
		t.Fatalf("task run = %s %v", result, err)
	}
	fx.view(t, func(v domain.TransactionView) {
		if _, ok := v.FindFileProcessedByPath(sent[0].Payload.FilePath); !ok {
			t.Fatalf("task must record the file")
		}
	})
}

func TestIngestSinceWatermark(t *testing.T) {
	floor := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	fx := newFixture(t, WithDispatcher(recordingDispatcher()), WithDefaultWatermark(floor))
	fx.setBlobClock(t, inboxBucket, floor.Add(-time.Hour))
	fx.put(t, inboxBucket, "w2/RDR_AoU_CVL_W2_old.csv", "biobank_id,sample_id\n")
	fx.setBlobClock(t, inboxBucket, floor.Add(time.Hour))
	fx.put(t, inboxBucket, "w2/RDR_AoU_CVL_W2_new.csv", "biobank_id,sample_id\n")

	h := fx.begin(t, domain.JobW2Ingestion)
	sub, err := fx.svc.Ingest(context.Background(), h, FileRef{Bucket: inboxBucket, Subfolder: "w2", SinceWatermark: true})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(sub.Files) != 1 || sub.Files[0].Path != inboxBucket+"/w2/RDR_AoU_CVL_W2_new.csv" {
		t.Fatalf("expected only the new file, got %+v", sub.Files)
	}
}

func TestIngestSingleKeyAndForce(t *testing.T) {
	fx := newFixture(t, WithDispatcher(recordingDispatcher()))
	fx.put(t, inboxBucket, "w2/RDR_AoU_CVL_W2_1.csv", "biobank_id,sample_id\n")
	ctx := context.Background()
	ref := FileRef{Bucket: inboxBucket, Key: "w2/RDR_AoU_CVL_W2_1.csv"}

	first, err := fx.svc.Ingest(ctx, fx.begin(t, domain.JobW2Ingestion), ref)
	if err != nil || len(first.Files) != 1 {
		t.Fatalf("first ingest: %+v %v", first, err)
	}
	again, err := fx.svc.Ingest(ctx, fx.begin(t, domain.JobW2Ingestion), ref)
	if err != nil || len(again.Files) != 0 || again.Result != domain.ResultNoFiles {
		t.Fatalf("processed key must be skipped: %+v %v", again, err)
	}
	ref.Force = true
	h := fx.begin(t, domain.JobW2Ingestion)
	forced, err := fx.svc.Ingest(ctx, h, ref)
	if err != nil || len(forced.Files) != 1 {
		t.Fatalf("forced ingest: %+v %v", forced, err)
	}
	fx.view(t, func(v domain.TransactionView) {
		fp, _ := v.FindFileProcessedByPath(inboxBucket + "/w2/RDR_AoU_CVL_W2_1.csv")
		if fp.JobRunID != h.Run.ID {
			t.Fatalf("forced ingest must reuse the file row for the new run, got %+v", fp)
		}
	})
	if _, err := fx.svc.Ingest(ctx, h, FileRef{Bucket: inboxBucket, Key: "w2/missing.csv"}); err == nil {
		t.Fatalf("expected stat error for a missing key")
	}
}
