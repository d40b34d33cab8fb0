package correios

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/BearBump/TrackSync/internal/integrations/carrier"
	"github.com/BearBump/TrackSync/internal/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	defaultBatchSize = 50
	// обновляем токен заранее, чтобы не получить 401 посреди пачки
	tokenRefreshSkew = 60 * time.Second
	defaultTokenTTL  = 30 * time.Minute
	authTimeout      = 10 * time.Second
)

var (
	ErrUnauthorized = errors.New("correios: unauthorized")
	ErrRateLimited  = errors.New("correios: rate limit (429)")
)

// RateLimiter is a shared per-window counter (see rediscache.RateLimiter).
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Client struct {
	baseURL  string
	username string
	apiKey   string
	httpc    *http.Client
	log      *zap.Logger
	now      func() time.Time

	batchSize int
	pacer     *rate.Limiter

	rl          RateLimiter
	rlPerMinute int64

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	sf        singleflight.Group
}

func New(baseURL, username, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.correios.com.br"
	}
	return &Client{
		baseURL:   baseURL,
		username:  username,
		apiKey:    apiKey,
		httpc:     &http.Client{Timeout: 10 * time.Second},
		log:       zap.NewNop(),
		now:       time.Now,
		batchSize: defaultBatchSize,
	}
}

func (c *Client) WithLogger(l *zap.Logger) *Client {
	if l != nil {
		c.log = l
	}
	return c
}

func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.httpc.Timeout = d
	}
	return c
}

func (c *Client) WithBatchSize(n int) *Client {
	if n > 0 {
		c.batchSize = n
	}
	return c
}

// WithRateLimit paces outgoing requests inside this process.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		c.pacer = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return c
}

// WithSharedRateLimit caps requests per minute across all worker instances.
func (c *Client) WithSharedRateLimit(rl RateLimiter, perMinute int64) *Client {
	if rl != nil && perMinute > 0 {
		c.rl = rl
		c.rlPerMinute = perMinute
	}
	return c
}

type tokenResp struct {
	Token    string `json:"token"`
	ExpiraEm string `json:"expiraEm"`
}

// Authenticate returns a valid bearer token, refreshing it when needed.
// Concurrent callers share a single refresh.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if tok, ok := c.cachedToken(); ok {
		return tok, nil
	}
	ch := c.sf.DoChan("token", func() (any, error) {
		if tok, ok := c.cachedToken(); ok {
			return tok, nil
		}
		// обновление общее: отмена первого вызывающего не должна валить остальных
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), authTimeout)
		defer cancel()
		tok, exp, err := c.requestToken(rctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token, c.expiresAt = tok, exp
		c.mu.Unlock()
		return tok, nil
	})
	select {
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), "authenticate")
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || !c.now().Add(tokenRefreshSkew).Before(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

// invalidate drops tok only if nobody has replaced it yet.
func (c *Client) invalidate(tok string) {
	c.mu.Lock()
	if c.token == tok {
		c.token = ""
		c.expiresAt = time.Time{}
	}
	c.mu.Unlock()
}

func (c *Client) requestToken(ctx context.Context) (string, time.Time, error) {
	u, err := c.endpoint("/token/v1/autentica")
	if err != nil {
		return "", time.Time{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "new request")
	}
	req.SetBasicAuth(c.username, c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.CarrierRequests.WithLabelValues("auth", "error").Inc()
		return "", time.Time{}, errors.Wrap(err, "do auth request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		metrics.CarrierRequests.WithLabelValues("auth", "unauthorized").Inc()
		return "", time.Time{}, ErrUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		metrics.CarrierRequests.WithLabelValues("auth", "error").Inc()
		return "", time.Time{}, fmt.Errorf("correios auth http %d", resp.StatusCode)
	}

	var tr tokenResp
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", time.Time{}, errors.Wrap(err, "decode token")
	}
	if tr.Token == "" {
		return "", time.Time{}, errors.New("correios auth: empty token")
	}
	metrics.CarrierRequests.WithLabelValues("auth", "ok").Inc()

	return tr.Token, c.parseExpiry(tr.ExpiraEm), nil
}

func (c *Client) parseExpiry(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return c.now().Add(defaultTokenTTL)
}

func (c *Client) TrackOne(ctx context.Context, code string) (*carrier.RawTrackingResult, error) {
	res, err := c.TrackMany(ctx, []string{code})
	if err != nil {
		return nil, err
	}
	r, ok := res[code]
	if !ok {
		return nil, fmt.Errorf("correios: no result for %s", code)
	}
	return r, nil
}

func (c *Client) TrackMany(ctx context.Context, codes []string) (map[string]*carrier.RawTrackingResult, error) {
	uniq := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		uniq = append(uniq, code)
	}

	out := make(map[string]*carrier.RawTrackingResult, len(uniq))
	var lastErr error
	for start := 0; start < len(uniq); start += c.batchSize {
		end := start + c.batchSize
		if end > len(uniq) {
			end = len(uniq)
		}
		chunk := uniq[start:end]

		res, err := c.fetch(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			lastErr = err
			c.log.Warn("correios batch failed", zap.Int("codes", len(chunk)), zap.Error(err))
			continue
		}
		for k, v := range res {
			out[k] = v
		}
	}
	if lastErr != nil {
		return out, errors.Wrap(lastErr, "track many")
	}
	return out, nil
}

type trackResp struct {
	Objetos []struct {
		CodObjeto string             `json:"codObjeto"`
		Mensagem  string             `json:"mensagem,omitempty"`
		Eventos   []carrier.RawEvent `json:"eventos"`
	} `json:"objetos"`
}

func (c *Client) fetch(ctx context.Context, codes []string) (map[string]*carrier.RawTrackingResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	tok, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.doTrack(ctx, tok, codes)
	if errors.Is(err, ErrUnauthorized) {
		// токен мог протухнуть раньше expiraEm: сбрасываем и пробуем один раз заново
		c.invalidate(tok)
		if tok, err = c.Authenticate(ctx); err != nil {
			return nil, err
		}
		resp, err = c.doTrack(ctx, tok, codes)
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]*carrier.RawTrackingResult, len(resp.Objetos))
	for _, o := range resp.Objetos {
		if o.CodObjeto == "" {
			continue
		}
		if o.Mensagem != "" && len(o.Eventos) == 0 {
			c.log.Debug("correios object without events", zap.String("code", o.CodObjeto), zap.String("message", o.Mensagem))
		}
		out[o.CodObjeto] = &carrier.RawTrackingResult{Code: o.CodObjeto, Eventos: o.Eventos}
	}
	return out, nil
}

func (c *Client) doTrack(ctx context.Context, tok string, codes []string) (*trackResp, error) {
	u, err := c.endpoint("/srorastro/v1/objetos")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	for _, code := range codes {
		q.Add("codigosObjetos", code)
	}
	q.Set("resultado", "T")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.CarrierRequests.WithLabelValues("track", "error").Inc()
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		metrics.CarrierRequests.WithLabelValues("track", "unauthorized").Inc()
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.CarrierRequests.WithLabelValues("track", "rate_limited").Inc()
		return nil, ErrRateLimited
	case resp.StatusCode/100 != 2:
		metrics.CarrierRequests.WithLabelValues("track", "error").Inc()
		return nil, fmt.Errorf("correios http %d", resp.StatusCode)
	}

	var tr trackResp
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	metrics.CarrierRequests.WithLabelValues("track", "ok").Inc()
	return &tr, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return errors.Wrap(err, "rate limiter wait")
		}
	}
	if c.rl == nil {
		return nil
	}

	minuteKey := fmt.Sprintf("rl:carrier:correios:%s", c.now().UTC().Format("200601021504"))
	allowed, n, err := c.rl.Allow(ctx, minuteKey, c.rlPerMinute, 70*time.Second)
	if err != nil {
		// Redis недоступен: не блокируем трекинг, лимит перевозчика всё равно вернёт 429
		c.log.Warn("shared rate limiter failed", zap.Error(err))
		return nil
	}
	if !allowed {
		c.log.Warn("carrier rate limit exceeded", zap.Int64("count", n))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil
}

func (c *Client) endpoint(path string) (*url.URL, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = path
	return u, nil
}
