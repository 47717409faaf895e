package portal

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"billfetch/internal/components/telemetry"
	"billfetch/lib/htmlutil"
	"billfetch/lib/restyutil"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const report_probe = "probe.reachable"

// unavailablePhrases appear on the placeholder pages served while the portal is down.
var unavailablePhrases = []string{
	"under maintenance",
	"service unavailable",
	"temporarily unavailable",
}

// Prober checks that the portal answers before a browser is spent on it.
type Prober interface {
	Probe(ctx context.Context, portalURL string) error
}

// HttpProber issues a plain GET against the portal home page.
type HttpProber struct {
	http    *resty.Client
	limiter *rate.Limiter
	tel     telemetry.API
}

func NewHttpProber(portalURL, userAgent string, timeout time.Duration, tel telemetry.API) (HttpProber, error) {
	parsed, err := url.Parse(portalURL)
	if err != nil {
		return HttpProber{}, err
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = time.Second * 30
	}

	client := resty.New()
	client.SetHeader("user-agent", userAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(parsed.Hostname()))
	client.SetTimeout(timeout)

	return HttpProber{
		http:    client,
		limiter: rate.NewLimiter(rate.Every(time.Second*3), 1),
		tel:     telemetry.NewScopedAPI("portal", tel),
	}, nil
}

// Instrument dumps every probe exchange to `output`, used with verbose logging.
func (p HttpProber) Instrument(output restyutil.InstrumentOutput) {
	restyutil.InstrumentClient(p.http, tracer, output, p.tel)
}

func (p HttpProber) Probe(ctx context.Context, portalURL string) error {
	err := p.limiter.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%w: probe rate limit: %v", ErrSessionFailure, err)
	}

	start := time.Now()
	res, err := p.http.R().
		SetContext(ctx).
		Get(portalURL)
	if err != nil {
		p.tel.ReportWarning(report_probe, err, portalURL)
		return fmt.Errorf("%w: portal unreachable: %v", ErrSessionFailure, err)
	}
	if res.StatusCode() >= 400 {
		err := fmt.Errorf("%w: portal answered %s", ErrSessionFailure, res.Status())
		p.tel.ReportWarning(report_probe, err, portalURL)
		return err
	}

	page, err := htmlutil.Summarize(ctx, res.Body())
	if err != nil {
		p.tel.ReportWarning(report_probe, err, portalURL)
		return nil
	}
	if page.Mentions(unavailablePhrases...) {
		err := fmt.Errorf("%w: portal reports %q", ErrSessionFailure, page.Title)
		p.tel.ReportWarning(report_probe, err, portalURL)
		return err
	}

	p.tel.ReportDebug("portal reachable", res.Status(), page.Title, time.Since(start).String())
	return nil
}
