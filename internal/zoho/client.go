package zoho

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"zoho-image-sync/internal/ratelimit"
)

const (
	defaultBaseURL  = "https://creator.zoho.com/api/v2"
	defaultPageSize = 200

	// 429 responses trigger a flat cooldown before retrying the same page.
	defaultCooldown = 60 * time.Second

	// Transient failures are retried this many times with exponential backoff.
	maxFetchAttempts = 3

	zohoCriteriaLayout = "02-Jan-2006 15:04:05"
)

var errRateLimited = errors.New("rate limited by Zoho API")

// Iterator walks a paginated record feed lazily.
type Iterator interface {
	// Next returns the next record; ok is false once the feed is exhausted.
	Next(ctx context.Context) (rec Record, ok bool, err error)
}

// Client reads records and attachments from a Zoho Creator report. All
// outbound calls, record pages and attachment downloads alike, go through one
// shared rate limiter.
type Client struct {
	// BaseURL, PageSize and Cooldown have working defaults; exposed for tests.
	BaseURL  string
	PageSize int
	Cooldown time.Duration

	auth         TokenProvider
	accountOwner string
	appLinkName  string
	limiter      *ratelimit.Limiter
	clock        ratelimit.Clock
	httpClient   *http.Client
	log          *slog.Logger
}

func NewClient(auth TokenProvider, accountOwner, appLinkName string, callsPerSecond float64, log *slog.Logger) *Client {
	return &Client{
		BaseURL:      defaultBaseURL,
		PageSize:     defaultPageSize,
		Cooldown:     defaultCooldown,
		auth:         auth,
		accountOwner: accountOwner,
		appLinkName:  appLinkName,
		limiter:      ratelimit.New(callsPerSecond),
		clock:        ratelimit.RealClock{},
		log:          log,
		httpClient: &http.Client{
			// Attachments can be large: short connect timeout, long overall
			// deadline. Redirects are followed by default.
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
			},
		},
	}
}

// FetchRecords returns a lazy iterator over all records of a report,
// requesting fixed-size pages until an empty page signals the end. The
// iterator keeps no resume state beyond the in-flight page; offset bookkeeping
// for resumption belongs to the caller.
func (c *Client) FetchRecords(report string, modifiedSince *time.Time) Iterator {
	return &recordIterator{c: c, report: report, modifiedSince: modifiedSince}
}

type recordIterator struct {
	c             *Client
	report        string
	modifiedSince *time.Time

	page      []Record
	pos       int
	fromIndex int
	done      bool
}

func (it *recordIterator) Next(ctx context.Context) (Record, bool, error) {
	for {
		if it.pos < len(it.page) {
			rec := it.page[it.pos]
			it.pos++
			return rec, true, nil
		}
		if it.done {
			return nil, false, nil
		}

		page, err := it.c.fetchPage(ctx, it.report, it.modifiedSince, it.fromIndex)
		if err != nil {
			return nil, false, err
		}
		if len(page) == 0 {
			it.done = true
			return nil, false, nil
		}
		it.page = page
		it.pos = 0
		it.fromIndex += it.c.PageSize
	}
}

// fetchPage retrieves one report page. A 429 from Zoho means cooldown and
// retry the same page without advancing; other transient failures go through
// bounded exponential backoff inside getPage.
func (c *Client) fetchPage(ctx context.Context, report string, modifiedSince *time.Time, from int) ([]Record, error) {
	for {
		page, err := c.getPage(ctx, report, modifiedSince, from)
		if errors.Is(err, errRateLimited) {
			c.log.Warn("rate limited by Zoho API, cooling down", "cooldown", c.Cooldown, "from", from)
			if serr := c.clock.Sleep(ctx, c.Cooldown); serr != nil {
				return nil, serr
			}
			continue
		}
		return page, err
	}
}

func (c *Client) getPage(ctx context.Context, report string, modifiedSince *time.Time, from int) ([]Record, error) {
	var records []Record
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		token, err := c.auth.Token(ctx)
		if err != nil {
			return err
		}

		url := fmt.Sprintf("%s/%s/%s/report/%s", c.BaseURL, c.accountOwner, c.appLinkName, report)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		q := req.URL.Query()
		q.Set("from", strconv.Itoa(from))
		q.Set("limit", strconv.Itoa(c.PageSize))
		if modifiedSince != nil {
			q.Set("criteria", fmt.Sprintf("Modified_Time >= '%s'", modifiedSince.Format(zohoCriteriaLayout)))
		}
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Authorization", "Zoho-oauthtoken "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return backoff.Permanent(errRateLimited)
		case resp.StatusCode >= 500:
			return fmt.Errorf("report request failed: %s", resp.Status)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("report request failed: %s", resp.Status))
		}

		var payload struct {
			Data []Record `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return fmt.Errorf("failed to decode report page: %w", err)
		}
		records = payload.Data
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 30 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxFetchAttempts-1), ctx)); err != nil {
		return nil, err
	}
	return records, nil
}

// DownloadAttachment fetches the raw bytes behind an attachment URL,
// rate-limited and authenticated like every other Zoho call.
func (c *Client) DownloadAttachment(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	token, err := c.auth.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment download failed: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment body: %w", err)
	}
	return data, nil
}
