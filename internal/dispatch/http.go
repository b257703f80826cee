package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Wire shapes for the long-poll transport. The serving side (admin
// process) exposes GET /dispatch/{endpoint} returning a PollResponse, and
// POST /dispatch/{endpoint} accepting a RespondRequest.

// PollResponse is one pending call handed to a poller.
type PollResponse struct {
	ID    string `json:"id"`
	Offer string `json:"offer"`
}

// RespondRequest carries a poller's answer back to the broker.
type RespondRequest struct {
	ID     string `json:"id"`
	Answer string `json:"answer,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Listener serves a local answer function against a remote broker over
// HTTP long-poll. It is the client-process half of the dispatch channel.
type Listener struct {
	baseURL string
	client  *http.Client
}

// NewListener creates a Listener for a broker served at baseURL (e.g.
// "http://127.0.0.1:4000"). client may be nil.
func NewListener(baseURL string, client *http.Client) *Listener {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Listener{baseURL: baseURL, client: client}
}

// Serve polls endpoint and answers each incoming offer with fn until ctx
// ends. Handler errors are reported back to the caller, not treated as
// fatal for the listener.
func (l *Listener) Serve(ctx context.Context, endpoint string, fn AnswerFunc) error {
	url := fmt.Sprintf("%s/dispatch/%s", l.baseURL, endpoint)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		poll, err := l.poll(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("dispatch poll %s: %v", endpoint, err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if poll == nil {
			continue // poll window expired with no call
		}

		resp := RespondRequest{ID: poll.ID}
		answer, err := fn(ctx, poll.Offer)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Answer = answer
		}
		if err := l.respond(ctx, url, resp); err != nil {
			log.Printf("dispatch respond %s: %v", endpoint, err)
		}
	}
}

func (l *Listener) poll(ctx context.Context, url string) (*PollResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var poll PollResponse
		if err := json.NewDecoder(res.Body).Decode(&poll); err != nil {
			return nil, fmt.Errorf("decoding poll response: %w", err)
		}
		return &poll, nil
	default:
		return nil, fmt.Errorf("poll returned status %d", res.StatusCode)
	}
}

func (l *Listener) respond(ctx context.Context, url string, resp RespondRequest) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("respond returned status %d", res.StatusCode)
	}
	return nil
}
