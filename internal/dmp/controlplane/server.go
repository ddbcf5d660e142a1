// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package controlplane

import (
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asch/dmp/internal/dmp/stats"
)

const (
	VolumesPath = "/stat/volumes"
	MetricsPath = "/metrics"

	readHeaderTimeout = 5 * time.Second
)

// Source of the statistics. Satisfied by *stats.Aggregator.
type Source interface {
	Snapshot() stats.Snapshot
}

// Server of the read-only endpoints.
type Server struct {
	ln  net.Listener
	srv *http.Server
}

// Listen creates the endpoint on addr. Requests are not served until Serve()
// is called.
func Listen(addr string, src Source) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &Server{
		ln: ln,
		srv: &http.Server{
			Handler:           NewHandler(src),
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

// NewHandler returns router with all endpoints. Other methods than GET are
// refused with 405.
func NewHandler(src Source) http.Handler {
	router := httprouter.New()

	router.GET(VolumesPath, func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, Render(src.Snapshot()))
	})

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(newCollector(src))
	router.Handler(http.MethodGet, MetricsPath, promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))

	return router
}

// Address the endpoint listens on.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve blocks until Close() is called.
func (s *Server) Serve() error {
	err := s.srv.Serve(s.ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// Close removes the endpoint.
func (s *Server) Close() error {
	return s.srv.Close()
}

// Exports the aggregator counters. One snapshot is taken per scrape.
type collector struct {
	src Source

	readReqs   *prometheus.Desc
	writeReqs  *prometheus.Desc
	readBytes  *prometheus.Desc
	writeBytes *prometheus.Desc
}

func newCollector(src Source) *collector {
	return &collector{
		src:        src,
		readReqs:   prometheus.NewDesc("dmp_read_requests_total", "Read requests passed through all volumes.", nil, nil),
		writeReqs:  prometheus.NewDesc("dmp_write_requests_total", "Write requests passed through all volumes.", nil, nil),
		readBytes:  prometheus.NewDesc("dmp_read_bytes_total", "Bytes read through all volumes.", nil, nil),
		writeBytes: prometheus.NewDesc("dmp_write_bytes_total", "Bytes written through all volumes.", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.readReqs
	ch <- c.writeReqs
	ch <- c.readBytes
	ch <- c.writeBytes
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.readReqs, prometheus.CounterValue, float64(s.ReadRequests))
	ch <- prometheus.MustNewConstMetric(c.writeReqs, prometheus.CounterValue, float64(s.WriteRequests))
	ch <- prometheus.MustNewConstMetric(c.readBytes, prometheus.CounterValue, float64(s.ReadBytes))
	ch <- prometheus.MustNewConstMetric(c.writeBytes, prometheus.CounterValue, float64(s.WriteBytes))
}
