package ttc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
	"github.com/tamrielwatch/ttcwatch/internal/domain"
	"go.uber.org/zap"
)

const (
	// TTC shows the cheapest sellers first; rows past the first page
	// chunk never hold the minimum.
	maxListingRows = 15

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Options configures a Client. BaseURL is the regional TTC host, e.g.
// https://eu.tamrieltradecentre.com.
type Options struct {
	BaseURL          string
	Timeout          time.Duration
	ChallengeTimeout time.Duration
	SessionPath      string
	Index            *ItemIndex
	Solver           domain.ChallengeSolver
	Cache            domain.ListingCache
	Logger           *zap.Logger
}

// Client queries TTC sell listings and negotiates its captcha wall.
type Client struct {
	baseURL          string
	client           *http.Client
	index            *ItemIndex
	solver           domain.ChallengeSolver
	cache            domain.ListingCache
	sessionPath      string
	challengeTimeout time.Duration
	logger           *zap.Logger

	sessionMu sync.Mutex
}

func NewClient(opts Options) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:          strings.TrimRight(opts.BaseURL, "/"),
		client:           &http.Client{Timeout: opts.Timeout, Jar: jar},
		index:            opts.Index,
		solver:           opts.Solver,
		cache:            opts.Cache,
		sessionPath:      opts.SessionPath,
		challengeTimeout: opts.ChallengeTimeout,
		logger:           opts.Logger,
	}
	if c.index == nil {
		c.index = &ItemIndex{names: map[string]int{}}
	}
	c.restoreSession()
	return c, nil
}

func (c *Client) restoreSession() {
	if c.sessionPath == "" {
		return
	}
	cookies, err := loadSessionCookies(c.sessionPath)
	if err != nil {
		c.logger.Info("no saved ttc session", zap.String("path", c.sessionPath), zap.Error(err))
		return
	}
	if base, err := url.Parse(c.baseURL); err == nil {
		c.client.Jar.SetCookies(base, cookies)
		c.logger.Info("ttc session restored", zap.Int("cookies", len(cookies)))
	}
}

// Fetch queries current sell listings for the item. A detected captcha
// is either negotiated through the solver (interactive fetches) or
// reported as ErrChallengeRequired (scheduled fetches).
func (c *Client) Fetch(ctx context.Context, itemName string, opts domain.FetchOptions) (*domain.FetchResult, error) {
	key := domain.NormalizeItemName(itemName)
	if key == "" {
		return nil, domain.ErrItemNotFound
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, key); ok {
			c.logger.Debug("listing cache hit", zap.String("item", key))
			return cached, nil
		}
	}

	searchURL := c.searchURL(key)
	doc, err := c.fetchDocument(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	if hasChallenge(doc) {
		if !opts.Interactive || c.solver == nil {
			return nil, fmt.Errorf("captcha at %s: %w", searchURL, domain.ErrChallengeRequired)
		}
		if err := c.resolveChallenge(ctx, searchURL); err != nil {
			return nil, err
		}
		// one retry with the solved session
		doc, err = c.fetchDocument(ctx, searchURL)
		if err != nil {
			return nil, err
		}
		if hasChallenge(doc) {
			return nil, fmt.Errorf("captcha persisted after resolution: %w", domain.ErrChallengeUnresolved)
		}
	}

	result, err := c.parseListings(doc, key, searchURL)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Put(ctx, key, result)
	}
	return result, nil
}

func (c *Client) searchURL(item string) string {
	params := url.Values{}
	if id, ok := c.index.Resolve(item); ok {
		params.Set("ItemID", strconv.Itoa(id))
	}
	params.Set("ItemNamePattern", item)
	params.Set("TradeType", "Sell")
	params.Set("SortBy", "Price")
	params.Set("Order", "asc")
	params.Set("lang", "en-US")
	return c.baseURL + "/pc/Trade/SearchResult?" + params.Encode()
}

func (c *Client) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	var doc *goquery.Document

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("User-Agent", userAgent)

			start := time.Now()
			resp, err := c.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			c.logger.Debug(
				"ttc request complete",
				zap.String("url", pageURL),
				zap.Int("status", resp.StatusCode),
				zap.Duration("duration", time.Since(start)),
			)

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			parsed, err := goquery.NewDocumentFromReader(resp.Body)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			doc = parsed
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("retrying ttc fetch", zap.Uint("attempt", n), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return doc, nil
}

func hasChallenge(doc *goquery.Document) bool {
	return doc.Find("#captcha-modal").Length() > 0
}

func (c *Client) resolveChallenge(ctx context.Context, challengeURL string) error {
	solveCtx, cancel := context.WithTimeout(ctx, c.challengeTimeout)
	defer cancel()

	c.logger.Info("captcha detected, opening interactive session", zap.String("url", challengeURL))
	cookies, err := c.solver.Solve(solveCtx, challengeURL)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrChallengeUnresolved, err)
	}
	c.importCookies(cookies)
	return nil
}

func (c *Client) importCookies(cookies []*http.Cookie) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return
	}
	c.client.Jar.SetCookies(base, cookies)

	if c.sessionPath == "" {
		return
	}
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if err := saveSessionCookies(c.sessionPath, cookies); err != nil {
		c.logger.Warn("failed to persist ttc session", zap.Error(err))
	} else {
		c.logger.Info("ttc session saved", zap.Int("cookies", len(cookies)))
	}
}

func (c *Client) parseListings(doc *goquery.Document, item, searchURL string) (*domain.FetchResult, error) {
	now := time.Now()
	listings := make([]domain.Listing, 0, maxListingRows)

	doc.Find("table.trade-list-table tbody tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		if i >= maxListingRows {
			return false
		}

		priceCell := row.Find("td.gold-amount").First()
		if priceCell.Length() == 0 {
			priceCell = row.Find("td").Eq(3)
		}
		price, err := ParsePriceText(priceCell.Text())
		if err != nil {
			return true
		}

		cells := row.Find("td")
		listings = append(listings, domain.Listing{
			ItemName:  item,
			UnitPrice: price,
			Guild:     strings.TrimSpace(cells.Eq(1).Text()),
			Location:  strings.TrimSpace(cells.Eq(2).Text()),
			FetchedAt: now,
		})
		return true
	})

	if len(listings) == 0 {
		return nil, fmt.Errorf("no listings for %q: %w", item, domain.ErrItemNotFound)
	}
	return &domain.FetchResult{Listings: listings, SearchURL: searchURL, FetchedAt: now}, nil
}
