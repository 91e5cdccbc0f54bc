package genomic

import (
	"testing"
	"time"

	"genomicore/pkg/domain"
)

func TestDetectFileTypePrefersLongestSuffix(t *testing.T) {
	cases := []struct {
		genome domain.GenomeType
		name   string
		want   domain.DataFileType
	}{
		{domain.GenomeWGS, "BCM_A100_S1_v1.hard-filtered.vcf.gz", domain.FileHardFilteredVCF},
		{domain.GenomeWGS, "BCM_A100_S1_v1.hard-filtered.vcf.gz.tbi", domain.FileHardFilteredVCFIndex},
		{domain.GenomeWGS, "BCM_A100_S1_v1.hard-filtered.gvcf.gz", domain.FileGVCF},
		{domain.GenomeWGS, "BCM_A100_S1_v1.vcf.gz", domain.FileRawVCF},
		{domain.GenomeWGS, "BCM_A100_S1_v1.cram.crai", domain.FileCRAMIndex},
		{domain.GenomeArray, "204_R01C01_Red.idat", domain.FileIDATRed},
		{domain.GenomeArray, "204_R01C01_Grn.idat.md5sum", domain.FileIDATGreenMD5},
		{domain.GenomeArray, "204_R01C01.vcf.gz", domain.FileVCF},
	}
	for _, tc := range cases {
		got, ok := DetectFileType(tc.genome, tc.name)
		if !ok || got != tc.want {
			t.Fatalf("DetectFileType(%s, %s) = %s %v, want %s", tc.genome, tc.name, got, ok, tc.want)
		}
	}
	if _, ok := DetectFileType(domain.GenomeWGS, "notes.txt"); ok {
		t.Fatalf("expected unknown suffix to be rejected")
	}
}

func TestRequiredFileTypes(t *testing.T) {
	if got := len(RequiredFileTypes(domain.GenomeWGS)); got != 8 {
		t.Fatalf("expected 8 required wgs types, got %d", got)
	}
	if got := len(RequiredFileTypes(domain.GenomeArray)); got != 7 {
		t.Fatalf("expected 7 required array types, got %d", got)
	}
	if RequiredFileTypes("other") != nil {
		t.Fatalf("expected no types for unknown genome")
	}
}

func TestIdentifierHelpers(t *testing.T) {
	if got := ChipWellBarcode("204_R01C01_Red.idat"); got != "204_R01C01" {
		t.Fatalf("unexpected chipwellbarcode %q", got)
	}
	if got := ChipWellBarcode("204_R01C01.vcf.gz.tbi"); got != "204_R01C01" {
		t.Fatalf("unexpected vcf chipwellbarcode %q", got)
	}
	if got := ChipWellBarcode("short.idat"); got != "" {
		t.Fatalf("expected empty chipwellbarcode, got %q", got)
	}
	if got := WGSSampleID("BCM_A100_S1_v1.cram"); got != "S1" {
		t.Fatalf("unexpected sample id %q", got)
	}
	if got := WGSSampleID("BCM_A100.cram"); got != "" {
		t.Fatalf("expected empty sample id, got %q", got)
	}
	if got := WGSSiteFromName("dir/RDR_A100_S1_v1.cram"); got != "rdr" {
		t.Fatalf("unexpected wgs site %q", got)
	}
	if got := ArraySiteFromBucket("prod-genomics-data-Broad"); got != "bi" {
		t.Fatalf("unexpected array site %q", got)
	}
	if got := ArraySiteFromBucket("somewhere-else"); got != "" {
		t.Fatalf("expected no site, got %q", got)
	}
}

func TestDescribeObject(t *testing.T) {
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	df, ok := describeObject(domain.StagedObject{
		FilePath:   dataBucket + "/idats/204_R01C01_Red.idat",
		GenomeType: domain.GenomeArray,
		UploadDate: at,
	})
	if !ok {
		t.Fatalf("expected array object to be indexed")
	}
	if df.BucketName != dataBucket || df.FileName != "204_R01C01_Red.idat" || df.IdentifierValue != "204_R01C01" ||
		df.IdentifierType != domain.IdentifierChipWellBarcode || df.SiteID != "bcm" || !df.UploadDate.Equal(at) {
		t.Fatalf("unexpected data file %+v", df)
	}
	df, ok = describeObject(domain.StagedObject{FilePath: "wgs-bucket/BCM_A100_S1_v1.cram", GenomeType: domain.GenomeWGS})
	if !ok || df.IdentifierValue != "S1" || df.SiteID != "bcm" || df.FileType != domain.FileCRAM {
		t.Fatalf("unexpected wgs data file %+v %v", df, ok)
	}
	if _, ok := describeObject(domain.StagedObject{FilePath: "b/readme.md", GenomeType: domain.GenomeWGS}); ok {
		t.Fatalf("expected unknown file type to be skipped")
	}
	if _, ok := describeObject(domain.StagedObject{FilePath: "b/x.cram", GenomeType: domain.GenomeWGS}); ok {
		t.Fatalf("expected name without sample id to be skipped")
	}
}

func TestManifestNameHelpers(t *testing.T) {
	if genomeFromManifestName("BCM_AoU_SEQ_PKG-1.csv") != domain.GenomeWGS {
		t.Fatalf("expected wgs genome")
	}
	if genomeFromManifestName("uw_aou_gen_pkg-1.csv") != domain.GenomeArray {
		t.Fatalf("expected array genome")
	}
	if genomeFromManifestName("other.csv") != "" {
		t.Fatalf("expected no genome")
	}
	if siteFromManifestName("sub/BCM_AoU_SEQ_PKG-1.csv") != "bcm" {
		t.Fatalf("unexpected site")
	}
	bucket, key := splitPath("/b/dir/file.csv")
	if bucket != "b" || key != "dir/file.csv" || joinPath(bucket, key) != "b/dir/file.csv" {
		t.Fatalf("unexpected split %q %q", bucket, key)
	}
}
