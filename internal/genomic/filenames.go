package genomic

import (
	"path"
	"sort"
	"strings"

	"genomicore/pkg/domain"
)

// FileTypeSpec binds a file name suffix to a data file type.
type FileTypeSpec struct {
	Type     domain.DataFileType
	Suffix   string
	Required bool
}

var wgsFileTypes = []FileTypeSpec{
	{domain.FileHardFilteredVCF, ".hard-filtered.vcf.gz", true},
	{domain.FileHardFilteredVCFIndex, ".hard-filtered.vcf.gz.tbi", true},
	{domain.FileHardFilteredVCFMD5, ".hard-filtered.vcf.gz.md5sum", true},
	{domain.FileRawVCF, ".vcf.gz", false},
	{domain.FileRawVCFIndex, ".vcf.gz.tbi", false},
	{domain.FileRawVCFMD5, ".vcf.gz.md5sum", false},
	{domain.FileCRAM, ".cram", true},
	{domain.FileCRAMMD5, ".cram.md5sum", true},
	{domain.FileCRAMIndex, ".cram.crai", true},
	{domain.FileGVCF, ".hard-filtered.gvcf.gz", true},
	{domain.FileGVCFMD5, ".hard-filtered.gvcf.gz.md5sum", true},
}

var arrayFileTypes = []FileTypeSpec{
	{domain.FileIDATRed, "_Red.idat", true},
	{domain.FileIDATGreen, "_Grn.idat", true},
	{domain.FileIDATRedMD5, "_Red.idat.md5sum", true},
	{domain.FileIDATGreenMD5, "_Grn.idat.md5sum", true},
	{domain.FileVCF, ".vcf.gz", true},
	{domain.FileVCFIndex, ".vcf.gz.tbi", true},
	{domain.FileVCFMD5, ".vcf.gz.md5sum", true},
}

// longest suffix first so ".hard-filtered.vcf.gz" wins over ".vcf.gz".
var wgsBySuffix, arrayBySuffix = bySuffixLength(wgsFileTypes), bySuffixLength(arrayFileTypes)

func bySuffixLength(specs []FileTypeSpec) []FileTypeSpec {
	out := append([]FileTypeSpec(nil), specs...)
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].Suffix) > len(out[j].Suffix) })
	return out
}

// FileTypes returns the suffix table for a genome type in declaration order.
func FileTypes(genome domain.GenomeType) []FileTypeSpec {
	switch genome {
	case domain.GenomeWGS:
		return append([]FileTypeSpec(nil), wgsFileTypes...)
	case domain.GenomeArray:
		return append([]FileTypeSpec(nil), arrayFileTypes...)
	}
	return nil
}

// RequiredFileTypes lists the types a complete sample must have.
func RequiredFileTypes(genome domain.GenomeType) []domain.DataFileType {
	var out []domain.DataFileType
	for _, spec := range FileTypes(genome) {
		if spec.Required {
			out = append(out, spec.Type)
		}
	}
	return out
}

// DetectFileType matches a file name against the genome type's suffix table.
func DetectFileType(genome domain.GenomeType, fileName string) (domain.DataFileType, bool) {
	table := wgsBySuffix
	if genome == domain.GenomeArray {
		table = arrayBySuffix
	}
	for _, spec := range table {
		if strings.HasSuffix(fileName, spec.Suffix) {
			return spec.Type, true
		}
	}
	return "", false
}

var arraySiteSuffixes = map[string]string{
	"baylor":    "bcm",
	"broad":     "bi",
	"northwest": "uw",
}

// ArraySiteFromBucket derives the genome center from the bucket name suffix.
func ArraySiteFromBucket(bucket string) string {
	b := strings.ToLower(bucket)
	for suffix, site := range arraySiteSuffixes {
		if strings.HasSuffix(b, suffix) {
			return site
		}
	}
	return ""
}

// WGSSiteFromName derives the genome center from the leading file name token.
func WGSSiteFromName(fileName string) string {
	tok := strings.SplitN(path.Base(fileName), "_", 2)
	if len(tok) < 2 {
		return ""
	}
	return strings.ToLower(tok[0])
}

// ChipWellBarcode returns the chip and well tokens of an array file name,
// e.g. 204_R01C01 for both 204_R01C01_Red.idat and 204_R01C01.vcf.gz.
func ChipWellBarcode(fileName string) string {
	stem, _, _ := strings.Cut(path.Base(fileName), ".")
	tok := strings.Split(stem, "_")
	if len(tok) < 2 || tok[0] == "" || tok[1] == "" {
		return ""
	}
	return tok[0] + "_" + tok[1]
}

// WGSSampleID returns the third underscore token of a WGS file name.
func WGSSampleID(fileName string) string {
	tok := strings.Split(path.Base(fileName), "_")
	if len(tok) < 4 {
		return ""
	}
	return tok[2]
}

// describeObject derives the index entry for one listed object. ok is false
// when the name does not follow the genome type's conventions.
func describeObject(obj domain.StagedObject) (domain.DataFile, bool) {
	bucket, key := splitPath(obj.FilePath)
	name := path.Base(key)
	fileType, ok := DetectFileType(obj.GenomeType, name)
	if !ok {
		return domain.DataFile{}, false
	}
	df := domain.DataFile{
		FilePath:   obj.FilePath,
		BucketName: bucket,
		FileName:   name,
		FileType:   fileType,
		GenomeType: obj.GenomeType,
		UploadDate: obj.UploadDate,
	}
	switch obj.GenomeType {
	case domain.GenomeArray:
		df.IdentifierType = domain.IdentifierChipWellBarcode
		df.IdentifierValue = ChipWellBarcode(name)
		df.SiteID = ArraySiteFromBucket(bucket)
	case domain.GenomeWGS:
		df.IdentifierType = domain.IdentifierSampleID
		df.IdentifierValue = WGSSampleID(name)
		df.SiteID = WGSSiteFromName(name)
	default:
		return domain.DataFile{}, false
	}
	if df.IdentifierValue == "" {
		return domain.DataFile{}, false
	}
	return df, true
}

// joinPath and splitPath convert between bucket/key pairs and stored paths.
func joinPath(bucket, key string) string { return bucket + "/" + key }

func splitPath(p string) (bucket, key string) {
	p = strings.TrimPrefix(p, "/")
	bucket, key, _ = strings.Cut(p, "/")
	return bucket, key
}

// genomeFromManifestName reads the pipeline marker of an AW1/AW2 file name.
func genomeFromManifestName(name string) domain.GenomeType {
	upper := strings.ToUpper(path.Base(name))
	switch {
	case strings.Contains(upper, "_GEN_"):
		return domain.GenomeArray
	case strings.Contains(upper, "_SEQ_"):
		return domain.GenomeWGS
	}
	return ""
}

// siteFromManifestName returns the lowercased leading token of a manifest name.
func siteFromManifestName(name string) string {
	tok, _, found := strings.Cut(path.Base(name), "_")
	if !found {
		return ""
	}
	return strings.ToLower(tok)
}
