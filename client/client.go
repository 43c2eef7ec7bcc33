package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/parMaster/meetsync/config"
	"github.com/parMaster/meetsync/storage/model"
)

// APIClient talks to the remote meeting service. Requests carry the bearer token,
// the upload target is served by Transfer which has no credentials at all.
type APIClient struct {
	cfg    *config.Gateway
	client *http.Client
	probe  *http.Client
}

func NewAPIClient(ctx context.Context, cfg config.Gateway) *APIClient {
	client := &http.Client{}
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
		client = oauth2.NewClient(ctx, ts)
	}
	client.Timeout = cfg.Timeout

	return &APIClient{cfg: &cfg, client: client, probe: &http.Client{Timeout: cfg.ProbeTimeout}}
}

func (c *APIClient) endpoint(path string, params url.Values) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// do sends the request and decodes a json response into out (if not nil)
func (c *APIClient) do(ctx context.Context, op, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Add(`Accept`, "application/json")
	if in != nil {
		req.Header.Add(`Content-Type`, "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("[ERROR] failed to close response: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if isUnreachable(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrNoNetwork, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{Code: resp.StatusCode, Op: op, Body: strings.TrimSpace(string(b))}
}

// Online probes the backend without credentials, any http response means we're online
func (c *APIClient) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.endpoint("", nil), nil)
	if err != nil {
		return false
	}
	resp, err := c.probe.Do(req)
	if err != nil {
		log.Printf("[DEBUG] connectivity probe failed: %v", err)
		return false
	}
	resp.Body.Close()
	return true
}

// RequestUploadTarget asks for a one-time pre-signed upload url
func (c *APIClient) RequestUploadTarget(ctx context.Context) (*model.UploadTarget, error) {
	params := url.Values{}
	params.Add(`only_pre_signed_url`, "true")

	target := &model.UploadTarget{}
	if err := c.do(ctx, "request upload target", http.MethodPost, c.endpoint("/uploads", params), nil, target); err != nil {
		return nil, err
	}
	if target.UploadURL == "" || target.FileRef == "" {
		return nil, fmt.Errorf("request upload target: incomplete response %+v", *target)
	}
	return target, nil
}

// SubmitProcessingJob starts remote processing of an uploaded file
func (c *APIClient) SubmitProcessingJob(ctx context.Context, r model.SubmitRequest) (*model.JobTicket, error) {
	ticket := &model.JobTicket{}
	if err := c.do(ctx, "submit processing job", http.MethodPost, c.endpoint("/meetings/process", nil), r, ticket); err != nil {
		return nil, err
	}
	if ticket.EventId == "" {
		return nil, errors.New("submit processing job: response without event_id")
	}
	return ticket, nil
}

// GetJobStatus returns the processing status of the event
func (c *APIClient) GetJobStatus(ctx context.Context, eventId string) (*model.StatusReport, error) {
	report := &model.StatusReport{}
	u := c.endpoint("/meetings/"+url.PathEscape(eventId)+"/status", nil)
	if err := c.do(ctx, "get job status", http.MethodGet, u, nil, report); err != nil {
		return nil, err
	}
	return report, nil
}

// ListMeetings returns the user's meetings, following pages until Total is reached
func (c *APIClient) ListMeetings(ctx context.Context, userId string, f model.MeetingFilter) ([]model.MeetingSummary, error) {
	params := url.Values{}
	params.Add(`user_id`, userId)
	if f.PageSize > 0 {
		params.Add(`page_size`, strconv.Itoa(f.PageSize))
	}
	if f.CategoryId != "" {
		params.Add(`category_id`, f.CategoryId)
	}
	if f.From != "" {
		params.Add(`from`, f.From)
	}
	if f.To != "" {
		params.Add(`to`, f.To)
	}

	meetings := []model.MeetingSummary{}
	page := f.Page
	if page < 1 {
		page = 1
	}
	for {
		params.Set(`page`, strconv.Itoa(page))
		log.Printf("[DEBUG] params = %s", params.Encode())

		resp := &model.MeetingsPage{}
		if err := c.do(ctx, "list meetings", http.MethodGet, c.endpoint("/meetings", params), nil, resp); err != nil {
			return nil, err
		}
		meetings = append(meetings, resp.Meetings...)

		if len(resp.Meetings) == 0 || len(meetings) >= resp.Total {
			break
		}
		page++

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	return meetings, nil
}

// GetMeetingDetail returns the full meeting record
func (c *APIClient) GetMeetingDetail(ctx context.Context, eventId string) (*model.Meeting, error) {
	m := &model.Meeting{}
	if err := c.do(ctx, "get meeting detail", http.MethodGet, c.endpoint("/meetings/"+url.PathEscape(eventId), nil), nil, m); err != nil {
		return nil, err
	}
	if m.EventId == "" {
		m.EventId = eventId
	}
	return m, nil
}

// DeleteMeeting deletes the meeting remotely. 404 means it's already gone, not an error.
func (c *APIClient) DeleteMeeting(ctx context.Context, eventId string) error {
	err := c.do(ctx, "delete meeting", http.MethodDelete, c.endpoint("/meetings/"+url.PathEscape(eventId), nil), nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		log.Printf("[DEBUG] meeting %s is already deleted", eventId)
		return nil
	}
	return err
}

func (c *APIClient) RenameMeeting(ctx context.Context, eventId, title string) error {
	return c.UpdateMeeting(ctx, eventId, model.MeetingPatch{Title: &title})
}

// UpdateMeeting sends the set fields of the patch
func (c *APIClient) UpdateMeeting(ctx context.Context, eventId string, patch model.MeetingPatch) error {
	return c.do(ctx, "update meeting", http.MethodPatch, c.endpoint("/meetings/"+url.PathEscape(eventId), nil), patch, nil)
}
