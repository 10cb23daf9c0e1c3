package metrics

// HTTP middleware adapted from github.com/zsais/go-gin-prometheus: push gateway
// and basic-auth variants removed, zap logging, and an extra label for the
// response envelope code since every reply is HTTP 200.

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var reqCnt = &Metric{
	ID:          "reqCnt",
	Name:        "req_total",
	Description: "How many HTTP requests processed, partitioned by status, envelope code, method and route.",
	Type:        "counter_vec",
	Args:        []string{"status", "code", "method", "url"},
}

var reqDur = &Metric{
	ID:          "reqDur",
	Name:        "req_dur_ms",
	Description: "The HTTP request latencies in milliseconds.",
	Type:        "histogram_vec",
	Args:        []string{"status", "method", "url"},
}

var reqSz = &Metric{
	ID:          "reqSz",
	Name:        "req_sz_bytes",
	Description: "The HTTP request sizes in bytes.",
	Type:        "summary_vec",
	Args:        []string{"method", "url"},
}

var resSz = &Metric{
	ID:          "resSz",
	Name:        "resp_sz_bytes",
	Description: "The HTTP response sizes in bytes.",
	Type:        "summary_vec",
	Args:        []string{"method", "url"},
}

const defaultMetricPath = "/metrics"

// RequestCounterURLLabelMappingFn controls the cardinality of the "url" label,
// e.g. by returning the route template instead of the raw path.
type RequestCounterURLLabelMappingFn func(c *gin.Context) string

// Prometheus holds the HTTP collectors and where they are exposed.
type Prometheus struct {
	reqCnt       *prometheus.CounterVec
	reqDur       *prometheus.HistogramVec
	reqSz, resSz *prometheus.SummaryVec

	listenAddress string
	metricsPath   string
	urlLabel      RequestCounterURLLabelMappingFn
	codeKey       string
	log           *zap.SugaredLogger
}

type NewPrometheusOptions struct {
	Subsystem               string
	MetricsPath             string
	ReqCntURLLabelMappingFn RequestCounterURLLabelMappingFn
	// CodeContextKey is the gin.Context key holding the response envelope code.
	CodeContextKey string
	Registerer     prometheus.Registerer
	Logger         *zap.SugaredLogger
}

func NewPrometheus(options NewPrometheusOptions) *Prometheus {
	p := &Prometheus{
		metricsPath: options.MetricsPath,
		urlLabel:    options.ReqCntURLLabelMappingFn,
		codeKey:     options.CodeContextKey,
		log:         options.Logger,
	}
	if p.metricsPath == "" {
		p.metricsPath = defaultMetricPath
	}
	if p.urlLabel == nil {
		p.urlLabel = func(c *gin.Context) string { return c.Request.URL.Path }
	}
	if p.log == nil {
		p.log = zap.NewNop().Sugar()
	}
	reg := options.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	subsystem := options.Subsystem
	if subsystem == "" {
		subsystem = "http"
	}
	p.reqCnt = p.register(reg, reqCnt, subsystem).(*prometheus.CounterVec)
	p.reqDur = p.register(reg, reqDur, subsystem).(*prometheus.HistogramVec)
	p.reqSz = p.register(reg, reqSz, subsystem).(*prometheus.SummaryVec)
	p.resSz = p.register(reg, resSz, subsystem).(*prometheus.SummaryVec)
	return p
}

func (p *Prometheus) register(reg prometheus.Registerer, m *Metric, subsystem string) prometheus.Collector {
	c := NewMetric(m, subsystem)
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		p.log.Errorf("%s could not be registered in Prometheus, err=%v", m.Name, err)
	}
	return c
}

// SetListenAddress exposes metrics on a separate listener instead of the
// application engine, which keeps scrapes out of the API access log.
func (p *Prometheus) SetListenAddress(address string) {
	p.listenAddress = address
}

// Use installs the middleware on e. Without a listen address the scrape
// endpoint is mounted on e too; otherwise the caller runs ListenerServer.
func (p *Prometheus) Use(e *gin.Engine) {
	e.Use(p.HandlerFunc())
	if p.listenAddress == "" {
		e.GET(p.metricsPath, prometheusHandler())
	}
}

// ListenerServer returns the server for the separate metrics listener, or nil
// when metrics share the application engine. The caller owns its lifecycle.
func (p *Prometheus) ListenerServer() *http.Server {
	if p.listenAddress == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(p.metricsPath, promhttp.Handler())
	return &http.Server{Addr: p.listenAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func (p *Prometheus) HandlerFunc() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == p.metricsPath {
			c.Next()
			return
		}

		start := time.Now()
		size := computeApproximateRequestSize(c.Request)

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		url := p.urlLabel(c)
		code := "0"
		if p.codeKey != "" {
			if v, ok := c.Get(p.codeKey); ok {
				code = fmt.Sprint(v)
			}
		}

		p.reqCnt.WithLabelValues(status, code, c.Request.Method, url).Inc()
		p.reqDur.WithLabelValues(status, c.Request.Method, url).Observe(MillisecondsSince(start))
		p.reqSz.WithLabelValues(c.Request.Method, url).Observe(float64(size))
		p.resSz.WithLabelValues(c.Request.Method, url).Observe(float64(c.Writer.Size()))
	}
}
