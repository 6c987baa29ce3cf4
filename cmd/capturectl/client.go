package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Dannytownkins/Ember-sub000/internal/api"
	"github.com/Dannytownkins/Ember-sub000/internal/api/respond"
	"github.com/Dannytownkins/Ember-sub000/internal/capture"
	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/wake"
)

// client talks to the capture service on behalf of one profile.
type client struct {
	http *resty.Client
}

func newClient(baseURL, profileID string, timeout time.Duration) *client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader(api.ProfileHeader, profileID).
		SetTimeout(timeout)
	return &client{http: c}
}

// apiError is a non-2xx reply from the service.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

func check(resp *resty.Response, err error, want int) error {
	if err != nil {
		return err
	}
	if resp.StatusCode() == want {
		return nil
	}
	out := &apiError{Status: resp.StatusCode(), Message: resp.String()}
	if e, ok := resp.Error().(*respond.ErrorResponse); ok && e.Message != "" {
		out.Message = e.Message
	}
	return out
}

func (c *client) Submit(ctx context.Context, in capture.Input) (*api.SubmitResponse, error) {
	var out api.SubmitResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(in).
		SetResult(&out).
		SetError(&respond.ErrorResponse{}).
		Post("/api/captures")
	if err := check(resp, err, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) Status(ctx context.Context, captureID string) (*model.CaptureStatusView, error) {
	var out model.CaptureStatusView
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("captureId", captureID).
		SetResult(&out).
		SetError(&respond.ErrorResponse{}).
		Get("/api/captures/{captureId}")
	if err := check(resp, err, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Wait polls Status every interval until the capture reaches a terminal state.
func (c *client) Wait(ctx context.Context, captureID string, interval time.Duration) (*model.CaptureStatusView, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		view, err := c.Status(ctx, captureID)
		if err != nil {
			return nil, err
		}
		if view.Status.Terminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *client) Memories(ctx context.Context, category string, limit int) (*api.ListMemoriesResponse, error) {
	var out api.ListMemoriesResponse
	req := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&respond.ErrorResponse{})
	if category != "" {
		req.SetQueryParam("category", category)
	}
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/api/memories")
	if err := check(resp, err, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) Wake(ctx context.Context, budget int) (*wake.Prompt, error) {
	var out wake.Prompt
	req := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&respond.ErrorResponse{})
	if budget > 0 {
		req.SetQueryParam("budget", strconv.Itoa(budget))
	}
	resp, err := req.Get("/api/wake-prompt")
	if err := check(resp, err, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
