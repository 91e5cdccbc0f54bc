package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"genomicore/internal/blob/core"
)

type fakeBlob struct {
	body        []byte
	contentType string
	meta        map[string]string
}

// fakeAccount serves the handful of Blob REST calls the store issues.
type fakeAccount struct {
	mu    sync.Mutex
	blobs map[string]fakeBlob
}

const lastModified = "Mon, 01 Jan 2024 00:00:00 GMT"

func notFound(w http.ResponseWriter, code string) {
	w.Header().Set("x-ms-error-code", code)
	w.WriteHeader(http.StatusNotFound)
}

func (f *fakeAccount) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	container := parts[0]
	q := r.URL.Query()
	if r.Method == http.MethodGet && q.Get("comp") == "list" {
		f.list(w, container, q.Get("prefix"))
		return
	}
	key := container + "/"
	if len(parts) == 2 {
		key += parts[1]
	}
	switch r.Method {
	case http.MethodPut:
		if _, exists := f.blobs[key]; exists && r.Header.Get("If-None-Match") == "*" {
			w.Header().Set("x-ms-error-code", "BlobAlreadyExists")
			w.WriteHeader(http.StatusConflict)
			return
		}
		body, _ := io.ReadAll(r.Body)
		meta := map[string]string{}
		for h, v := range r.Header {
			if strings.HasPrefix(strings.ToLower(h), "x-ms-meta-") {
				meta[strings.ToLower(strings.TrimPrefix(strings.ToLower(h), "x-ms-meta-"))] = v[0]
			}
		}
		f.blobs[key] = fakeBlob{body: body, contentType: r.Header.Get("x-ms-blob-content-type"), meta: meta}
		w.Header().Set("ETag", `"0x1"`)
		w.Header().Set("Last-Modified", lastModified)
		w.WriteHeader(http.StatusCreated)
	case http.MethodHead, http.MethodGet:
		b, ok := f.blobs[key]
		if !ok {
			notFound(w, "BlobNotFound")
			return
		}
		for k, v := range b.meta {
			w.Header().Set("x-ms-meta-"+k, v)
		}
		w.Header().Set("Content-Type", b.contentType)
		w.Header().Set("Content-Length", fmt.Sprint(len(b.body)))
		w.Header().Set("ETag", `"0x1"`)
		w.Header().Set("Last-Modified", lastModified)
		w.Header().Set("x-ms-blob-type", "BlockBlob")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(b.body)
		}
	case http.MethodDelete:
		if _, ok := f.blobs[key]; !ok {
			notFound(w, "BlobNotFound")
			return
		}
		delete(f.blobs, key)
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (f *fakeAccount) list(w http.ResponseWriter, container, prefix string) {
	var names []string
	for k := range f.blobs {
		if strings.HasPrefix(k, container+"/"+prefix) {
			names = append(names, strings.TrimPrefix(k, container+"/"))
		}
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?><EnumerationResults ContainerName="` + container + `"><Blobs>`)
	for _, n := range names {
		blob := f.blobs[container+"/"+n]
		fmt.Fprintf(&b, `<Blob><Name>%s</Name><Properties><Last-Modified>%s</Last-Modified><Etag>0x1</Etag><Content-Length>%d</Content-Length><Content-Type>%s</Content-Type><BlobType>BlockBlob</BlobType></Properties></Blob>`,
			n, lastModified, len(blob.body), blob.contentType)
	}
	b.WriteString(`</Blobs><NextMarker /></EnumerationResults>`)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, b.String())
}

func newTestStore(t *testing.T) core.Store {
	t.Helper()
	srv := httptest.NewServer(&fakeAccount{blobs: map[string]fakeBlob{}})
	t.Cleanup(srv.Close)
	p, err := NewProvider(Config{ServiceURL: srv.URL + "/", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	if p.Driver() != core.DriverAzure {
		t.Fatalf("unexpected driver %s", p.Driver())
	}
	st, err := p.Bucket(context.Background(), "genomic-data")
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	return st
}

func TestAzurePutGetHeadList(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	info, err := st.Put(ctx, "AW1_genotyping_sample_manifests/RDR_AoU_GEN_001.csv", strings.NewReader("a,b\n1,2\n"),
		core.PutOptions{ContentType: "text/csv", Metadata: map[string]string{"site": "rdr"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 8 || info.ETag != "0x1" || info.Metadata["site"] != "rdr" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := st.Put(ctx, "AW1_genotyping_sample_manifests/RDR_AoU_GEN_001.csv", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, rc, err := st.Get(ctx, "AW1_genotyping_sample_manifests/RDR_AoU_GEN_001.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "a,b\n1,2\n" || got.ContentType != "text/csv" {
		t.Fatalf("unexpected get %q %+v", body, got)
	}
	if _, err := st.Put(ctx, "other/file.txt", strings.NewReader("z"), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	list, err := st.List(ctx, "AW1_")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Size != 8 || list[0].LastModified.IsZero() {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestAzureMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	if _, err := st.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found on head, got %v", err)
	}
	if _, _, err := st.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found on get, got %v", err)
	}
	if ok, err := st.Delete(ctx, "nope"); err != nil || ok {
		t.Fatalf("delete missing = %v %v", ok, err)
	}
	if _, err := st.Put(ctx, "k", strings.NewReader("v"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, err := st.Delete(ctx, "k"); err != nil || !ok {
		t.Fatalf("delete existing = %v %v", ok, err)
	}
	if _, err := st.PresignURL(ctx, "k", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported presign, got %v", err)
	}
}
