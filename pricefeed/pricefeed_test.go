package pricefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-ftso-provider/inter"
)

var (
	btc = inter.Feed{Name: inter.MustFeedName("BTC", "USD"), Decimals: 2}
	eth = inter.Feed{Name: inter.MustFeedName("ETH", "USD"), Decimals: 3}
	flr = inter.Feed{Name: inter.MustFeedName("FLR", "USD"), Decimals: 5}
)

func TestScale(t *testing.T) {
	for _, tt := range []struct {
		price    float64
		decimals int8
		want     *int32
	}{
		{38573.26, 2, ptr(3857326)},
		{0.02042, 5, ptr(2042)},
		{-1.5, 0, ptr(-2)},
		{1e12, 2, nil},
		{-2147483648, 0, nil},
	} {
		require.Equal(t, tt.want, Scale(tt.price, tt.decimals), "%v", tt.price)
	}
}

func ptr(v int32) *int32 { return &v }

func TestStatic(t *testing.T) {
	s := NewStatic(map[inter.FeedName]float64{btc.Name: 100.5})
	values, err := s.GetValues(context.Background(), 1, []inter.Feed{btc, eth})
	require.NoError(t, err)
	require.Equal(t, []*int32{ptr(10050), nil}, values)
}

func TestRandom(t *testing.T) {
	base := map[inter.FeedName]float64{btc.Name: 1000, flr.Name: 0.02}
	a := NewRandom(base, 0.01, 7)
	b := NewRandom(base, 0.01, 7)
	for i := 0; i < 20; i++ {
		va, err := a.GetValues(context.Background(), 1, []inter.Feed{btc, eth})
		require.NoError(t, err)
		vb, _ := b.GetValues(context.Background(), 1, []inter.Feed{btc, eth})
		require.Equal(t, va, vb)
		require.Nil(t, va[1])
		require.InDelta(t, 100000, *va[0], 1000)
	}
}

func TestHTTP(t *testing.T) {
	var got priceRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		price := 2175.1234
		_ = json.NewEncoder(w).Encode(priceResponse{
			VotingRoundID: 42,
			FeedPriceData: []feedPrice{{Feed: eth.Name, Price: &price}, {Feed: btc.Name}},
		})
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.URL = srv.URL + "/"
	s, err := NewHTTP(cfg, logrus.New())
	require.NoError(t, err)
	values, err := s.GetValues(context.Background(), 42, []inter.Feed{btc, eth, flr})
	require.NoError(t, err)
	require.Equal(t, "/preparePriceFeeds/42", path)
	require.Equal(t, []inter.FeedName{btc.Name, eth.Name, flr.Name}, got.Feeds)
	require.Equal(t, []*int32{nil, ptr(2175123), nil}, values)
}

func TestHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no prices yet", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.URL = srv.URL
	s, err := NewHTTP(cfg, logrus.New())
	require.NoError(t, err)
	_, err = s.GetValues(context.Background(), 1, []inter.Feed{btc})
	require.ErrorContains(t, err, "503")
}

func TestNew(t *testing.T) {
	cfg := DefaultConfig()
	for _, kind := range []string{KindStatic, KindRandom, KindHTTP} {
		cfg.Kind = kind
		s, err := New(cfg, nil)
		require.NoError(t, err)
		require.Equal(t, kind, s.Name())
	}
	cfg.Kind = "oracle"
	_, err := New(cfg, nil)
	require.Error(t, err)

	cfg.Kind = KindStatic
	cfg.Prices = map[string]float64{"BTCUSD": 1}
	_, err = New(cfg, nil)
	require.Error(t, err)
}
