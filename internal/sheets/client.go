// Package sheets is a thin client for the Google Sheets values API, scoped
// to the three operations the pipeline needs: read headers, read data rows,
// write one status cell.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://sheets.googleapis.com/v4/spreadsheets"

// Data rows start at sheet row 2; row 1 is the header.
const (
	headerRange = "Sheet1!1:1"
	dataRange   = "Sheet1!A2:Z"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
	}
}

type valuesResponse struct {
	Values [][]string `json:"values"`
}

// GetColumns returns the header row of the sheet.
func (c *Client) GetColumns(ctx context.Context, accessToken, sheetID string) ([]string, error) {
	values, err := c.getValues(ctx, accessToken, sheetID, headerRange)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return []string{}, nil
	}
	return values[0], nil
}

// GetRows returns all data rows, row 2 onward.
func (c *Client) GetRows(ctx context.Context, accessToken, sheetID string) ([][]string, error) {
	return c.getValues(ctx, accessToken, sheetID, dataRange)
}

// UpdateCell writes a single value into cellRange, e.g. "Sheet1!G5".
func (c *Client) UpdateCell(ctx context.Context, accessToken, sheetID, cellRange, value string) error {
	endpoint := fmt.Sprintf("%s/%s/values/%s?valueInputOption=RAW",
		c.baseURL, url.PathEscape(sheetID), url.PathEscape(cellRange))

	body, err := json.Marshal(map[string]interface{}{
		"values": [][]string{{value}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cell update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sheet update request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sheet update request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("sheet update rejected (status %d): %s", resp.StatusCode, raw)
	}
	return nil
}

func (c *Client) getValues(ctx context.Context, accessToken, sheetID, rng string) ([][]string, error) {
	endpoint := fmt.Sprintf("%s/%s/values/%s", c.baseURL, url.PathEscape(sheetID), url.PathEscape(rng))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build sheet read request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sheet read request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("sheet read rejected (status %d): %s", resp.StatusCode, raw)
	}

	var parsed valuesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode sheet values: %w", err)
	}
	if parsed.Values == nil {
		return [][]string{}, nil
	}
	return parsed.Values, nil
}

// StatusRange builds the write-back range for a recipient row given the
// campaign's configured status column letter.
func StatusRange(statusColumn string, rowIndex int) string {
	return fmt.Sprintf("Sheet1!%s%d", statusColumn, rowIndex)
}
