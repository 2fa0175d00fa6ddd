package main

import (
	"net/http"
	"strconv"

	"github.com/codahale/metrics"
)

// Counters:
//
//	deploy.ok, deploy.ok.<kind>
//	deploy.rejected.<code>
//	deploy.rollback
//	observer.errors
//	requests, respcode.NNN
func countDeployOK(kind AssetKind) {
	metrics.Counter("deploy.ok").Add()
	metrics.Counter("deploy.ok." + kind.String()).Add()
}

func countDeployRejected(err error) {
	metrics.Counter("deploy.rejected." + errorCode(err)).Add()
}

func countRollback() {
	metrics.Counter("deploy.rollback").Add()
}

func countObserverError() {
	metrics.Counter("observer.errors").Add()
}

// MetricsSnapshot returns every counter and gauge recorded in this process.
func MetricsSnapshot() map[string]interface{} {
	counters, gauges := metrics.Snapshot()
	snapshot := make(map[string]interface{}, len(counters)+len(gauges))
	for name, value := range counters {
		snapshot[name] = value
	}
	for name, value := range gauges {
		snapshot[name] = value
	}
	return snapshot
}

// metricsMiddleware counts requests and response codes.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.Counter("requests").Add()
		next.ServeHTTP(&codeCountResponse{ResponseWriter: w}, r)
	})
}

type codeCountResponse struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *codeCountResponse) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	metrics.Counter("respcode." + strconv.Itoa(code)).Add()
	w.ResponseWriter.WriteHeader(code)
}

func (w *codeCountResponse) Write(p []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.ResponseWriter.Write(p)
}
