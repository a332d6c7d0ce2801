// Package ingest turns observed traffic into graph mutations.
//
// Every request lands on the node of its hostname, created on first sight.
// Traffic crossing hostnames also lands on the edge between them, created on
// first sight with the type of the traffic that opened it.
package ingest

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/alvmarrod/traffic-weaver/internal/graph"
)

// Handler feeds one graph
type Handler struct {
	graph *graph.Graph
	log   *logrus.Entry
}

// NewHandler creates a handler writing into g
func NewHandler(g *graph.Graph) *Handler {
	return &Handler{
		graph: g,
		log:   logrus.WithField("component", "ingest"),
	}
}

// outcome separates observer failures, which leave the mutation applied,
// from failures that stop ingestion of the event
type outcome struct {
	observed error
}

func (o *outcome) check(err error) error {
	if err != nil && graph.IsObserver(err) {
		o.observed = multierr.Append(o.observed, err)
		return nil
	}
	return err
}

func (o *outcome) abort(err error) error {
	return multierr.Append(err, o.observed)
}

// AddRequest records req issued while loading rootURL. The request is
// appended to its node; a cross-domain request also lands on the dependency
// edge from the root's node.
func (h *Handler) AddRequest(rootURL string, req graph.Request) error {
	var o outcome

	rootHost, err := graph.Hostname(rootURL)
	if err != nil {
		return errors.Wrap(err, "root url")
	}
	host, err := graph.Hostname(req.URL)
	if err != nil {
		return errors.Wrap(err, "request url")
	}

	if err := o.check(h.ensureNode(host)); err != nil {
		return o.abort(err)
	}
	if _, err := h.graph.AddRequestToNode(req); o.check(err) != nil {
		return o.abort(err)
	}

	if rootHost == host {
		return o.observed
	}

	if err := o.check(h.ensureNode(rootHost)); err != nil {
		return o.abort(err)
	}
	if err := o.check(h.ensureEdge(rootHost, host, graph.EdgeDependency)); err != nil {
		return o.abort(err)
	}
	if _, err := h.graph.AddRequestToEdge(rootURL, req); o.check(err) != nil {
		return o.abort(err)
	}
	return o.observed
}

// AddRedirect records a redirection. Redirects within one hostname only
// make sure the node exists.
func (h *Handler) AddRedirect(r graph.Redirect) error {
	var o outcome

	fromHost, err := graph.Hostname(r.InitialURL)
	if err != nil {
		return errors.Wrap(err, "redirect source")
	}
	toHost, err := graph.Hostname(r.FinalURL)
	if err != nil {
		return errors.Wrap(err, "redirect target")
	}

	if err := o.check(h.ensureNode(fromHost)); err != nil {
		return o.abort(err)
	}
	if fromHost == toHost {
		return o.observed
	}
	if err := o.check(h.ensureNode(toHost)); err != nil {
		return o.abort(err)
	}
	if err := o.check(h.ensureEdge(fromHost, toHost, graph.EdgeRedirect)); err != nil {
		return o.abort(err)
	}
	if _, err := h.graph.AddRedirectToEdge(r); o.check(err) != nil {
		return o.abort(err)
	}
	return o.observed
}

// AddReferral records a navigation from fromURL to req.URL. The request
// itself is recorded when the target page is loaded.
func (h *Handler) AddReferral(fromURL string, req graph.Request) error {
	var o outcome

	fromHost, err := graph.Hostname(fromURL)
	if err != nil {
		return errors.Wrap(err, "referrer url")
	}
	toHost, err := graph.Hostname(req.URL)
	if err != nil {
		return errors.Wrap(err, "referred url")
	}
	if fromHost == toHost {
		return nil
	}

	for _, host := range []string{fromHost, toHost} {
		if err := o.check(h.ensureNode(host)); err != nil {
			return o.abort(err)
		}
	}
	if err := o.check(h.ensureEdge(fromHost, toHost, graph.EdgeDependency)); err != nil {
		return o.abort(err)
	}
	if _, err := h.graph.AddReferralToEdge(fromURL, req); o.check(err) != nil {
		return o.abort(err)
	}
	return o.observed
}

func (h *Handler) ensureNode(host string) error {
	if h.graph.ExistsNode(host) {
		return nil
	}
	_, err := h.graph.CreateNode(host)
	return err
}

// ensureEdge keeps an existing edge whatever its type
func (h *Handler) ensureEdge(fromHost, toHost string, edgeType graph.EdgeType) error {
	if h.graph.ExistsEdge(fromHost, toHost) {
		return nil
	}
	h.log.Debugf("New %s edge %s -> %s", edgeType, fromHost, toHost)
	_, err := h.graph.CreateEdge(fromHost, toHost, edgeType)
	return err
}
