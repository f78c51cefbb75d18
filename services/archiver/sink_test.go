package archiver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"invoicefetch/lib/scrapers/storefront"
	"invoicefetch/lib/timezone"

	"github.com/stretchr/testify/require"
)

func TestFilename(t *testing.T) {
	order := storefront.Order{
		ID:   "304-1234567-1234567",
		Date: time.Date(2024, time.December, 30, 0, 0, 0, 0, timezone.Location),
	}

	require.Equal(t, "AMZ_20241230_304-1234567-1234567.pdf", Filename(order, 1, 1))
	require.Equal(t, "AMZ_20241230_304-1234567-1234567_2.pdf", Filename(order, 2, 3))

	// path separators in a garbled id never escape the output dir
	garbled := order
	garbled.ID = "304/1234567\\1234567:x"
	require.Equal(t, "AMZ_20241230_304-1234567-1234567-x.pdf", Filename(garbled, 1, 1))
}

func TestLocalSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "invoices")
	sink, err := NewLocalSink(dir)
	require.NoError(t, err)
	require.Equal(t, "local", sink.Name())

	inv := Invoice{
		Order:    storefront.Order{ID: "304-1234567-1234567"},
		Ref:      storefront.InvoiceRef{Ref: "ref-a"},
		Filename: "AMZ_20241230_304-1234567-1234567.pdf",
	}
	delivery, err := sink.Deliver(context.Background(), inv, []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, inv.Filename), delivery.LocalPath)
	require.Empty(t, delivery.RemoteID)

	data, err := os.ReadFile(delivery.LocalPath)
	require.NoError(t, err)
	require.Equal(t, []byte("%PDF-1.4"), data)
}

func TestPaperlessSink(t *testing.T) {
	var received *http.Request
	var form map[string][]string
	var document []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/documents/post_document/", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		received = r
		form = r.MultipartForm.Value

		file, header, err := r.FormFile("document")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "AMZ_20241230_304-1234567-1234567.pdf", header.Filename)
		document, err = io.ReadAll(file)
		require.NoError(t, err)

		w.Write([]byte(`"7a1f3c52-4b4f-4f6e-9f6b-2b8f2f9f0c11"`))
	}))
	defer server.Close()

	sink := NewPaperlessSink(PaperlessConfig{
		Url:           server.URL,
		Token:         "secret-token",
		Correspondent: 3,
		DocumentType:  5,
		StoragePath:   1,
		Tags:          []int{7, 9},
	})
	require.Equal(t, "paperless", sink.Name())

	inv := Invoice{
		Order: storefront.Order{
			ID:       "304-1234567-1234567",
			Date:     time.Date(2024, time.December, 30, 0, 0, 0, 0, timezone.Location),
			DateText: "30. Dezember 2024",
		},
		Ref:      storefront.InvoiceRef{Ref: "ref-a"},
		Filename: "AMZ_20241230_304-1234567-1234567.pdf",
	}
	delivery, err := sink.Deliver(context.Background(), inv, []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.Equal(t, "7a1f3c52-4b4f-4f6e-9f6b-2b8f2f9f0c11", delivery.RemoteID)
	require.Empty(t, delivery.LocalPath)

	require.Equal(t, "Token secret-token", received.Header.Get("Authorization"))
	require.Equal(t, []byte("%PDF-1.4"), document)
	require.Equal(t, []string{"Amazon Invoice 304-1234567-1234567 - 30. Dezember 2024"}, form["title"])
	require.Equal(t, []string{"2024-12-30"}, form["created"])
	require.Equal(t, []string{"3"}, form["correspondent"])
	require.Equal(t, []string{"5"}, form["document_type"])
	require.Equal(t, []string{"1"}, form["storage_path"])
	require.Equal(t, []string{"7", "9"}, form["tags"])
}

func TestPaperlessSinkRejectsNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sink := NewPaperlessSink(PaperlessConfig{Url: server.URL, Token: "secret"})
	_, err := sink.Deliver(context.Background(), Invoice{Filename: "x.pdf"}, []byte("%PDF"))
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "503"))
}
