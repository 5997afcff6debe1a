package contentful

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/3cpo-dev/cmsadmin/internal/config"
	cs "github.com/3cpo-dev/cmsadmin/internal/contentstore"
)

const mediaType = "application/vnd.contentful.management.v1+json"

type Store struct {
	baseURL string
	space   string
	env     string
	token   string
	http    *cs.RetryableHTTPClient
}

// New builds a management API client. All requests issued by the returned
// store share one rate limiter.
func New(cfg config.Config) *Store {
	c := cfg.Store
	retry := cs.DefaultRetryConfig()
	retry.MaxRetries = cfg.RetryLimit()
	retry.InitialDelay = time.Duration(c.Retry.InitialDelayMS) * time.Millisecond
	retry.MaxDelay = time.Duration(c.Retry.MaxDelayMS) * time.Millisecond
	return &Store{
		baseURL: strings.TrimRight(c.Contentful.BaseURL, "/"),
		space:   c.Contentful.SpaceID,
		env:     c.Contentful.Environment,
		token:   c.Contentful.Token,
		http: cs.NewRetryableHTTPClient(
			cfg.StoreTimeout(),
			cs.NewRateLimiter(c.RateLimit.RequestsPerSecond, c.RateLimit.Burst),
			retry,
		),
	}
}

func (s *Store) Name() string { return "contentful" }

type sysLink struct {
	Sys struct {
		ID string `json:"id"`
	} `json:"sys"`
}

type entrySys struct {
	ID               string  `json:"id"`
	Version          int     `json:"version"`
	PublishedVersion int     `json:"publishedVersion,omitempty"`
	ArchivedVersion  int     `json:"archivedVersion,omitempty"`
	ContentType      sysLink `json:"contentType"`
}

type entryResp struct {
	Sys    entrySys  `json:"sys"`
	Fields cs.Fields `json:"fields"`
}

type updateReq struct {
	Fields cs.Fields `json:"fields"`
}

func (r *entryResp) toEntry() *cs.Entry {
	state := cs.Draft
	if r.Sys.PublishedVersion > 0 {
		state = cs.Published
	}
	fields := r.Fields
	if fields == nil {
		fields = cs.Fields{}
	}
	return &cs.Entry{
		ID:          r.Sys.ID,
		ContentType: r.Sys.ContentType.Sys.ID,
		Version:     r.Sys.Version,
		State:       state,
		Fields:      fields,
	}
}

func (s *Store) entryURL(id string, suffix ...string) string {
	parts := []string{s.baseURL, "spaces", url.PathEscape(s.space), "environments", url.PathEscape(s.env), "entries", url.PathEscape(id)}
	return strings.Join(append(parts, suffix...), "/")
}

func (s *Store) FetchEntry(ctx context.Context, id string) (*cs.Entry, error) {
	var out entryResp
	if err := s.doJSON(ctx, http.MethodGet, s.entryURL(id), 0, nil, &out); err != nil {
		return nil, cs.FetchError(id, err)
	}
	return out.toEntry(), nil
}

func (s *Store) UpdateEntry(ctx context.Context, id string, version int, fields cs.Fields) (*cs.Entry, error) {
	var out entryResp
	if err := s.doJSON(ctx, http.MethodPut, s.entryURL(id), version, updateReq{Fields: fields}, &out); err != nil {
		return nil, cs.UpdateError(id, err)
	}
	return out.toEntry(), nil
}

func (s *Store) PublishEntry(ctx context.Context, id string, version int) (*cs.Entry, error) {
	var out entryResp
	if err := s.doJSON(ctx, http.MethodPut, s.entryURL(id, "published"), version, nil, &out); err != nil {
		return nil, cs.PublishError(id, err)
	}
	return out.toEntry(), nil
}

func (s *Store) UnpublishEntry(ctx context.Context, id string, version int) (*cs.Entry, error) {
	var out entryResp
	if err := s.doJSON(ctx, http.MethodDelete, s.entryURL(id, "published"), version, nil, &out); err != nil {
		return nil, cs.UnpublishError(id, err)
	}
	return out.toEntry(), nil
}

// Ping fetches the environment resource to check credentials and reachability.
func (s *Store) Ping(ctx context.Context) error {
	u := strings.Join([]string{s.baseURL, "spaces", url.PathEscape(s.space), "environments", url.PathEscape(s.env)}, "/")
	return s.doJSON(ctx, http.MethodGet, u, 0, nil, nil)
}

func (s *Store) doJSON(ctx context.Context, method, target string, version int, body interface{}, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", mediaType)
	}
	if version > 0 {
		req.Header.Set("X-Contentful-Version", strconv.Itoa(version))
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &cs.APIError{Status: resp.StatusCode, Body: string(errorBody)}
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", cs.ErrNotFound, apiErr)
		case http.StatusConflict:
			return fmt.Errorf("%w: %v", cs.ErrVersionConflict, apiErr)
		}
		return apiErr
	}
	if out != nil {
		dec := json.NewDecoder(resp.Body)
		return dec.Decode(out)
	}
	return nil
}
