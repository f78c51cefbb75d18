package archiver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"invoicefetch/lib/telemetry"

	"github.com/go-resty/resty/v2"
)

type PaperlessConfig struct {
	Url   string `json:"url"`
	Token string `json:"token"`
	// optional classification metadata, 0 / empty = unset
	Correspondent int   `json:"correspondent"`
	DocumentType  int   `json:"document_type"`
	StoragePath   int   `json:"storage_path"`
	Tags          []int `json:"tags"`
}

func (c PaperlessConfig) Configured() bool {
	return c.Url != "" && c.Token != ""
}

// PaperlessSink uploads invoice documents to a paperless-ngx instance
// via its REST consumption endpoint.
type PaperlessSink struct {
	http   *resty.Client
	config PaperlessConfig
}

func NewPaperlessSink(config PaperlessConfig) PaperlessSink {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(config.Url, "/"))
	client.SetHeader("Authorization", "Token "+config.Token)
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "archiver/paperless")

	return PaperlessSink{
		http:   client,
		config: config,
	}
}

func (s PaperlessSink) Name() string {
	return "paperless"
}

func (s PaperlessSink) Deliver(ctx context.Context, inv Invoice, data []byte) (Delivery, error) {
	req := s.http.R().
		SetContext(ctx).
		SetMultipartField("document", inv.Filename, "application/pdf", bytes.NewReader(data)).
		SetMultipartFormData(map[string]string{
			"title": fmt.Sprintf("Amazon Invoice %s - %s", inv.Order.ID, inv.Order.DateText),
		})

	if !inv.Order.Date.IsZero() {
		req.SetMultipartFormData(map[string]string{
			"created": inv.Order.Date.Format("2006-01-02"),
		})
	}
	if s.config.Correspondent > 0 {
		req.SetMultipartFormData(map[string]string{
			"correspondent": strconv.Itoa(s.config.Correspondent),
		})
	}
	if s.config.DocumentType > 0 {
		req.SetMultipartFormData(map[string]string{
			"document_type": strconv.Itoa(s.config.DocumentType),
		})
	}
	if s.config.StoragePath > 0 {
		req.SetMultipartFormData(map[string]string{
			"storage_path": strconv.Itoa(s.config.StoragePath),
		})
	}
	// paperless expects one "tags" form field per tag id
	for _, tag := range s.config.Tags {
		req.SetMultipartFields(&resty.MultipartField{
			Param:  "tags",
			Reader: strings.NewReader(strconv.Itoa(tag)),
		})
	}

	res, err := req.Post("/api/documents/post_document/")
	if err != nil {
		return Delivery{}, fmt.Errorf("upload to paperless: %w", err)
	}
	if res.StatusCode() != http.StatusOK {
		return Delivery{}, fmt.Errorf("upload to paperless: status %s: %s", res.Status(), res.String())
	}

	// the endpoint answers with the consumption task uuid as a json
	// string
	var taskID string
	err = json.Unmarshal(res.Body(), &taskID)
	if err != nil {
		taskID = strings.Trim(strings.TrimSpace(res.String()), `"`)
	}
	if taskID == "" {
		return Delivery{}, fmt.Errorf("upload to paperless: empty task id in response")
	}
	return Delivery{RemoteID: taskID}, nil
}
