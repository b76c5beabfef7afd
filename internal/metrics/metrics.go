// Package metrics exports ONVIF request traffic as Prometheus metrics
package metrics

import (
	"net/url"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/SridarDhandapani/onvif/v2/xmltree"
)

const namespace = "onvif"

// Observer counts raw envelopes exchanged with one camera. It implements
// onvif.Observer.
type Observer struct {
	requests      *prometheus.CounterVec
	responses     *prometheus.CounterVec
	requestBytes  *prometheus.CounterVec
	responseBytes *prometheus.CounterVec
	connects      prometheus.Counter
}

// New registers the collectors with reg. camera is attached as a constant
// label so several observers can share a registry.
func New(reg prometheus.Registerer, camera string) (*Observer, error) {
	labels := prometheus.Labels{"camera": camera}

	o := &Observer{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "requests_total",
			Help:        "SOAP requests sent, by service path and operation.",
			ConstLabels: labels,
		}, []string{"service", "operation"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "responses_total",
			Help:        "SOAP responses received, by service path and outcome.",
			ConstLabels: labels,
		}, []string{"service", "outcome"}),
		requestBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "request_bytes_total",
			Help:        "Bytes of SOAP envelopes sent.",
			ConstLabels: labels,
		}, []string{"service"}),
		responseBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "response_bytes_total",
			Help:        "Bytes of SOAP envelopes received.",
			ConstLabels: labels,
		}, []string{"service"}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connects_total",
			Help:        "Completed connection bootstraps.",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{o.requests, o.responses, o.requestBytes, o.responseBytes, o.connects} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Annotate(err, "failed to register collector")
		}
	}
	return o, nil
}

// RawRequest counts an outbound envelope
func (o *Observer) RawRequest(endpoint string, envelope []byte) {
	service := servicePath(endpoint)
	o.requests.WithLabelValues(service, operation(envelope)).Inc()
	o.requestBytes.WithLabelValues(service).Add(float64(len(envelope)))
}

// RawResponse counts an inbound envelope
func (o *Observer) RawResponse(endpoint string, envelope []byte) {
	service := servicePath(endpoint)
	o.responses.WithLabelValues(service, outcome(envelope)).Inc()
	o.responseBytes.WithLabelValues(service).Add(float64(len(envelope)))
}

// Connected counts a completed bootstrap
func (o *Observer) Connected() {
	o.connects.Inc()
}

func servicePath(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func operation(envelope []byte) string {
	root, err := xmltree.Parse(envelope)
	if err != nil {
		return "unknown"
	}
	if ops := root.Child("Body").Elements(); len(ops) > 0 {
		return ops[0].Name
	}
	return "unknown"
}

func outcome(envelope []byte) string {
	root, err := xmltree.Parse(envelope)
	if err != nil || root.Child("Body") == nil {
		return "malformed"
	}
	if root.Path("Body", "Fault") != nil {
		return "fault"
	}
	return "ok"
}
