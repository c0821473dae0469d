package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AnalysisClient runs the billable work behind the comments and analysis
// endpoints. The ledger only needs to know whether it succeeded.
type AnalysisClient interface {
	FetchComments(ctx context.Context, videoID string, maxComments int) (*CommentBatch, error)
	Analyze(ctx context.Context, videoID string) (*AnalysisReport, error)
}

type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Likes     int64     `json:"likes"`
	Published time.Time `json:"published"`
}

type CommentBatch struct {
	VideoID  string    `json:"video_id"`
	Comments []Comment `json:"comments"`
}

type AnalysisReport struct {
	VideoID   string             `json:"video_id"`
	Sentiment map[string]float64 `json:"sentiment"`
	Topics    []string           `json:"topics"`
	Summary   string             `json:"summary"`
}

// HTTPAnalysisClient calls the analysis pipeline over HTTP.
type HTTPAnalysisClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAnalysisClient(baseURL string, timeout time.Duration) *HTTPAnalysisClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPAnalysisClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPAnalysisClient) FetchComments(ctx context.Context, videoID string, maxComments int) (*CommentBatch, error) {
	var batch CommentBatch
	body := map[string]any{"video_id": videoID, "max_comments": maxComments}
	if err := c.post(ctx, "/comments", body, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (c *HTTPAnalysisClient) Analyze(ctx context.Context, videoID string) (*AnalysisReport, error) {
	var report AnalysisReport
	if err := c.post(ctx, "/analyze", map[string]any{"video_id": videoID}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *HTTPAnalysisClient) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("analysis service %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("analysis service %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
