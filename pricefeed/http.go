package pricefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/metrics"
)

// HTTPConfig configures an HTTP price source.
type HTTPConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// RequestsPerSecond limits calls to the price provider, 0 disables the limit.
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
}

// DefaultHTTPConfig returns the defaults for a local price provider.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		URL:               "http://localhost:3101",
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
	}
}

type priceRequest struct {
	Feeds []inter.FeedName `json:"feeds"`
}

type feedPrice struct {
	Feed  inter.FeedName `json:"feed"`
	Price *float64       `json:"price"`
}

type priceResponse struct {
	VotingRoundID inter.VotingRoundID `json:"votingRoundId"`
	FeedPriceData []feedPrice         `json:"feedPriceData"`
}

// HTTP asks an external price provider for prices:
// POST {url}/preparePriceFeeds/{votingRoundId} with the requested feeds.
type HTTP struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

// NewHTTP creates an HTTP price source.
func NewHTTP(cfg HTTPConfig, log logrus.FieldLogger) (*HTTP, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("price provider url is not set")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &HTTP{
		url:     strings.TrimRight(cfg.URL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		log:     log.WithField("module", "pricefeed"),
	}, nil
}

// Name implements Source.
func (s *HTTP) Name() string { return "http" }

// GetValues implements Source. Any 2xx status is a success; feeds missing
// from the response or without a price get no value.
func (s *HTTP) GetValues(ctx context.Context, round inter.VotingRoundID, feeds []inter.Feed) ([]*int32, error) {
	prices, err := s.fetch(ctx, round, feeds)
	if err != nil {
		metrics.PriceSourceRequests.WithLabelValues(s.Name(), "error").Inc()
		s.log.WithFields(logrus.Fields{"round": round, "err": err}).Warn("Price provider request failed")
		return nil, err
	}
	metrics.PriceSourceRequests.WithLabelValues(s.Name(), "ok").Inc()

	res := make([]*int32, len(feeds))
	for i, f := range feeds {
		if p, ok := prices[f.Name]; ok {
			res[i] = Scale(p, f.Decimals)
		}
	}
	return res, nil
}

func (s *HTTP) fetch(ctx context.Context, round inter.VotingRoundID, feeds []inter.Feed) (map[inter.FeedName]float64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body := priceRequest{Feeds: make([]inter.FeedName, len(feeds))}
	for i, f := range feeds {
		body.Feeds[i] = f.Name
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/preparePriceFeeds/%d", s.url, round), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("price provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}
	prices := make(map[inter.FeedName]float64, len(out.FeedPriceData))
	for _, fp := range out.FeedPriceData {
		if fp.Price != nil {
			prices[fp.Feed] = *fp.Price
		}
	}
	return prices, nil
}
