// Package oai is a small OAI-PMH ListRecords client for MARCXML feeds.
package oai

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/metrics"
	"github.com/Ramsey-B/mef/pkg/tracing"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize is the maximum response body size (64MB)
	MaxResponseSize = 64 * 1024 * 1024

	// DateLayout is the day granularity every supported repository accepts.
	DateLayout = "2006-01-02"
)

// Client issues OAI-PMH requests
type Client struct {
	client    *http.Client
	logger    ectologger.Logger
	userAgent string
}

// Config holds HTTP client configuration
type Config struct {
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	UserAgent       string
}

// DefaultConfig returns default HTTP client configuration
func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
		UserAgent:       "mef-harvester",
	}
}

// NewClient creates a new OAI-PMH client
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:    cfg.MaxIdleConns,
		IdleConnTimeout: cfg.IdleConnTimeout,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		logger:    logger,
		userAgent: cfg.UserAgent,
	}
}

// Request is one ListRecords call. With a ResumptionToken every other selective
// argument is ignored, as the protocol requires.
type Request struct {
	// Source labels metrics and logs.
	Source          string
	BaseURL         string
	MetadataPrefix  string
	Set             string
	From            time.Time
	Until           time.Time
	ResumptionToken string
}

func (r Request) url() (string, error) {
	u, err := url.Parse(r.BaseURL)
	if err != nil {
		return "", mefErrors.Wrap(mefErrors.CodeMisconfiguration, err, "invalid OAI base url")
	}
	q := u.Query()
	q.Set("verb", "ListRecords")
	if r.ResumptionToken != "" {
		q.Set("resumptionToken", r.ResumptionToken)
	} else {
		q.Set("metadataPrefix", r.MetadataPrefix)
		if r.Set != "" {
			q.Set("set", r.Set)
		}
		if !r.From.IsZero() {
			q.Set("from", r.From.UTC().Format(DateLayout))
		}
		if !r.Until.IsZero() {
			q.Set("until", r.Until.UTC().Format(DateLayout))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ListRecords fetches one page. Network failures, 5xx and 429 answers are
// REMOTE_TRANSIENT; protocol errors other than noRecordsMatch are
// MISCONFIGURATION.
func (c *Client) ListRecords(ctx context.Context, req Request) (*Page, error) {
	ctx, span := tracing.StartSpan(ctx, "oai.Client.ListRecords")
	defer span.End()

	target, err := req.url()
	if err != nil {
		return nil, err
	}
	log := c.logger.WithContext(ctx).WithFields(map[string]any{"source": req.Source, "url": target})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, mefErrors.Wrap(mefErrors.CodeMisconfiguration, err, "build OAI request")
	}
	httpReq.Header.Set("Accept", "text/xml, application/xml")
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		metrics.RecordOAIRequest(req.Source, "error", time.Since(start).Seconds())
		log.WithError(err).Warn("OAI request failed")
		return nil, mefErrors.Wrap(mefErrors.CodeRemoteTransient, err, "OAI request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	metrics.RecordOAIRequest(req.Source, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())
	if err != nil {
		return nil, mefErrors.Wrap(mefErrors.CodeRemoteTransient, err, "read OAI response")
	}
	if len(body) > MaxResponseSize {
		return nil, mefErrors.Newf(mefErrors.CodeRemoteTransient, "OAI response larger than %d bytes", MaxResponseSize)
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, mefErrors.Newf(mefErrors.CodeRemoteTransient, "OAI answered %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, mefErrors.Newf(mefErrors.CodeMisconfiguration, "OAI answered %d", resp.StatusCode)
	}

	log.WithFields(map[string]any{
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("OAI page fetched")
	return Parse(body)
}

// Parse decodes a ListRecords response.
func Parse(body []byte) (*Page, error) {
	var env envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		// A truncated page is usually a dropped connection.
		return nil, mefErrors.Wrap(mefErrors.CodeRemoteTransient, err, "decode OAI response")
	}
	if env.Error != nil {
		if env.Error.Code == "noRecordsMatch" {
			return &Page{}, nil
		}
		return nil, mefErrors.Newf(mefErrors.CodeMisconfiguration, "OAI error %s: %s", env.Error.Code, env.Error.Message)
	}
	if env.ListRecords == nil {
		return nil, fmt.Errorf("OAI response without ListRecords")
	}

	page := &Page{Records: make([]Record, 0, len(env.ListRecords.Records))}
	for _, r := range env.ListRecords.Records {
		rec := Record{Header: r.Header}
		if r.Metadata != nil && r.Metadata.Record != nil {
			rec.Metadata = r.Metadata.Record
		}
		page.Records = append(page.Records, rec)
	}
	if tok := env.ListRecords.Token; tok != nil {
		page.ResumptionToken = strings.TrimSpace(tok.Value)
		page.CompleteListSize, _ = strconv.Atoi(tok.CompleteListSize)
	}
	return page, nil
}
