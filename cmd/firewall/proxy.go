package main

import (
	"net/http/httputil"
	"net/url"
)

// newReverseProxy builds the minimal forwarding handler the pipeline wraps.
// The application server itself is an external collaborator (spec.md §1);
// this is just enough plumbing to exercise the decision pipeline end to end.
func newReverseProxy(backendAddr string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(backendAddr)
	if err != nil {
		return nil, err
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}
