package auth

import (
	"net/http"
	"strings"
)

// Policy maps requests to the access they need.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds the service policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request skips authentication.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// Required resolves what the request needs. ok is false for paths no
// service serves.
func (p Policy) Required(r *http.Request) (req Requirement, ok bool) {
	if r == nil {
		return Requirement{}, false
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	root, rest, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if root == "" {
		return Requirement{}, false
	}

	access := AccessWrite
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		access = AccessRead
	case http.MethodDelete:
		access = AccessManage
	}

	switch root {
	case "orders":
		req.Area = AreaOrders
	case "inventory":
		req.Area = AreaInventory
		if strings.HasPrefix(rest, "stock/") && access == AccessWrite {
			access = AccessManage
		}
	case "accounts", "transactions", "invoices":
		req.Area = AreaFinance
		if strings.HasSuffix(rest, "/statement.xlsx") || strings.HasSuffix(rest, "/statement.pdf") {
			// Statements leave the system, so reading one is a finance write.
			access = AccessWrite
		}
	case "categories":
		req.Area = AreaFinance
		if access == AccessWrite {
			access = AccessManage
		}
	default:
		return Requirement{}, false
	}
	req.Access = access
	return req, true
}
