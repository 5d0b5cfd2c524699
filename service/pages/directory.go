// Package pages implements the REST-backed page directory: page listing and
// lifecycle plus per-page shape loading. The sync session never calls it; the
// host application does, around page switches.
package pages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/itiky/drawsync/model"
)

type (
	// Directory is the page persistence client.
	Directory struct {
		baseUrl    string
		httpClient *http.Client
	}
)

// NewDirectory creates a Directory client for the relay at baseUrl
// (http://host:port).
func NewDirectory(baseUrl string) (*Directory, error) {
	if baseUrl == "" {
		return nil, fmt.Errorf("%s: empty", "baseUrl")
	}
	if !strings.HasPrefix(baseUrl, "http://") && !strings.HasPrefix(baseUrl, "https://") {
		return nil, fmt.Errorf("%s: must use the http/https scheme", "baseUrl")
	}

	return &Directory{
		baseUrl:    strings.TrimRight(baseUrl, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// ListPages returns the ordered page collection of a board.
func (d *Directory) ListPages(boardId string) ([]model.PageInfo, error) {
	var pages []model.PageInfo
	err := d.call(http.MethodGet, fmt.Sprintf("/boards/%s/pages", url.PathEscape(boardId)), nil, &pages)
	if err != nil {
		return nil, err
	}

	return pages, nil
}

// CreatePage creates a board page with the given title.
func (d *Directory) CreatePage(boardId, title string) (model.PageInfo, error) {
	page := model.PageInfo{}
	body := map[string]string{"pageTitle": title}
	err := d.call(http.MethodPost, fmt.Sprintf("/boards/%s/pages", url.PathEscape(boardId)), body, &page)
	if err != nil {
		return model.PageInfo{}, err
	}

	return page, nil
}

// RenamePage replaces a page title.
func (d *Directory) RenamePage(pageId, newTitle string) error {
	body := map[string]string{"pageTitle": newTitle}
	return d.call(http.MethodPut, fmt.Sprintf("/pages/%s", url.PathEscape(pageId)), body, nil)
}

// DeletePage removes a page with all of its shapes.
func (d *Directory) DeletePage(pageId string) error {
	return d.call(http.MethodDelete, fmt.Sprintf("/pages/%s", url.PathEscape(pageId)), nil, nil)
}

// PageShapes loads the persisted shape records of a page.
func (d *Directory) PageShapes(pageId string) ([]model.Record, error) {
	var shapes []model.Record
	err := d.call(http.MethodGet, fmt.Sprintf("/pages/%s/shapes", url.PathEscape(pageId)), nil, &shapes)
	if err != nil {
		return nil, err
	}

	return shapes, nil
}

// call performs one JSON request/response round trip.
func (d *Directory) call(method, path string, body, out interface{}) error {
	var reqBody *bytes.Buffer = bytes.NewBuffer(nil)
	if body != nil {
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return fmt.Errorf("%s %s: request encode: %w", method, path, err)
		}
	}

	req, err := http.NewRequest(method, d.baseUrl+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status: %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: response decode: %w", method, path, err)
		}
	}

	return nil
}
