package provider

import "context"

// Source is a thin per-provider struct supplying only a BaseURL and a
// BuildRequest function to the shared Adapter pipeline — no business logic
// about what an enriched field means, per spec §1's explicit OUT-OF-SCOPE
// boundary on provider schemas. Grounded on the outbound call shapes in
// original_source/workers/services/linkedin_service.py,
// builtwith_service.py, apollo_service.py, and jina_reader_service.py,
// without carrying over any of their response-parsing semantics.
type Source struct {
	Name        string
	BaseURL     string
	BuildRequest func(path string, params map[string]string) Request
	adapter     *Adapter
}

func NewSource(name, baseURL string, adapter *Adapter) *Source {
	return &Source{
		Name:    name,
		BaseURL: baseURL,
		adapter: adapter,
		BuildRequest: func(path string, params map[string]string) Request {
			return Request{Method: "GET", URL: baseURL + path, Params: params}
		},
	}
}

// Fetch builds and executes a request through the shared pipeline.
func (s *Source) Fetch(ctx context.Context, path string, params map[string]string, tenantID string, forceRefresh bool) (Response, error) {
	req := s.BuildRequest(path, params)
	req.TenantID = tenantID
	req.ForceRefresh = forceRefresh
	return s.adapter.Call(ctx, req)
}

// LinkedInAdapter fetches profile/company data from the LinkedIn scraper
// source named in the spec overview's data-source list.
type LinkedInAdapter struct{ *Source }

func NewLinkedInAdapter(adapter *Adapter, baseURL string) *LinkedInAdapter {
	return &LinkedInAdapter{Source: NewSource("linkedin", baseURL, adapter)}
}

// BuiltWithAdapter fetches a target domain's technology-stack fingerprint.
type BuiltWithAdapter struct{ *Source }

func NewBuiltWithAdapter(adapter *Adapter, baseURL string) *BuiltWithAdapter {
	return &BuiltWithAdapter{Source: NewSource("builtwith", baseURL, adapter)}
}

// ApolloAdapter fetches contact/company records from Apollo's people and
// organization search endpoints.
type ApolloAdapter struct{ *Source }

func NewApolloAdapter(adapter *Adapter, baseURL string) *ApolloAdapter {
	return &ApolloAdapter{Source: NewSource("apollo", baseURL, adapter)}
}

// JinaReaderAdapter fetches a cleaned, LLM-ready text rendering of a web
// page via the Jina Reader proxy (r.jina.ai-style URL-prefix API).
type JinaReaderAdapter struct{ *Source }

func NewJinaReaderAdapter(adapter *Adapter, baseURL string) *JinaReaderAdapter {
	return &JinaReaderAdapter{Source: NewSource("jina_reader", baseURL, adapter)}
}
