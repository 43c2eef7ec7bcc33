package client

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
)

// Transfer puts bytes to a pre-signed upload target. The target url carries its
// own authorization, so this client never sends the gateway token.
type Transfer struct {
	client *http.Client
}

func NewTransfer() *Transfer {
	return &Transfer{client: &http.Client{}}
}

// Put streams body to uploadURL, cancelling ctx aborts the transfer
func (t *Transfer) Put(ctx context.Context, uploadURL string, body io.Reader, size int64, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set(`Content-Type`, contentType)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return transportError("transfer", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("[ERROR] failed to close response: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError("transfer", resp)
	}
	return nil
}
