// Package callback implements the PaginatedCallbackClient named in spec
// §4.9, grounded directly on
// _examples/original_source/workers/services/django_callback_service_paginated.py:
// the pagination algorithm (ID-aligned chunking, canonical lead ordering,
// trace_id preservation) is a line-for-line port of that file's
// _should_paginate/_paginate_data, and the OIDC-bearer POST + 300s timeout +
// retryable-status-code handling of _send_single_callback grounds client.go.
package callback

import (
	"github.com/userport/enrichment-worker/task"
)

// LeadsPerPage matches the original service's LEADS_PER_PAGE constant.
const LeadsPerPage = 20

// Lead is the minimal shape the paginator needs: every lead list entry must
// carry an "id" so chunks can be aligned across qualified/structured/all.
type Lead = map[string]interface{}

// LeadSet bundles the three lead lists a terminal enrichment callback may
// carry, mirroring processed_data's qualified_leads/structured_leads/all_leads.
type LeadSet struct {
	Qualified []Lead
	Structured []Lead
	All        []Lead
}

func leadID(l Lead) string {
	id, _ := l["id"].(string)
	return id
}

func indexByID(leads []Lead) map[string]Lead {
	m := make(map[string]Lead, len(leads))
	for _, l := range leads {
		m[leadID(l)] = l
	}
	return m
}

// ShouldPaginate reports whether a terminal envelope's lead set is large
// enough to require splitting, per the original's _should_paginate: the
// longer of qualified/structured exceeds LeadsPerPage.
func ShouldPaginate(leads LeadSet) bool {
	max := len(leads.Qualified)
	if len(leads.Structured) > max {
		max = len(leads.Structured)
	}
	return max > LeadsPerPage
}

// Paginate splits a terminal CallbackEnvelope into ID-aligned pages. Each
// page is a full envelope copy carrying only its chunk's leads plus a
// PaginationMeta; trace_id is copied onto every page verbatim. The
// canonical ID order starts from All, then appends any qualified/structured
// ID not already seen — identical to the original's all_ids_ordered
// construction.
func Paginate(base task.CallbackEnvelope, leads LeadSet) []task.CallbackEnvelope {
	qualifiedByID := indexByID(leads.Qualified)
	structuredByID := indexByID(leads.Structured)
	allByID := indexByID(leads.All)

	seen := make(map[string]struct{}, len(leads.All))
	var orderedIDs []string
	for _, l := range leads.All {
		id := leadID(l)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		orderedIDs = append(orderedIDs, id)
	}
	for _, l := range leads.Qualified {
		id := leadID(l)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		orderedIDs = append(orderedIDs, id)
	}
	for _, l := range leads.Structured {
		id := leadID(l)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		orderedIDs = append(orderedIDs, id)
	}

	totalLeads := len(orderedIDs)
	totalPages := (totalLeads + LeadsPerPage - 1) / LeadsPerPage
	if totalPages == 0 {
		totalPages = 1
	}

	pages := make([]task.CallbackEnvelope, 0, totalPages)
	for pageNum := 0; pageNum < totalPages; pageNum++ {
		start := pageNum * LeadsPerPage
		end := start + LeadsPerPage
		if end > len(orderedIDs) {
			end = len(orderedIDs)
		}
		chunkIDs := orderedIDs[start:end]

		var pagedQualified, pagedStructured, pagedAll []Lead
		for _, id := range chunkIDs {
			if l, ok := qualifiedByID[id]; ok {
				pagedQualified = append(pagedQualified, l)
			}
			if l, ok := structuredByID[id]; ok {
				pagedStructured = append(pagedStructured, l)
			}
			if l, ok := allByID[id]; ok {
				pagedAll = append(pagedAll, l)
			}
		}

		page := base
		page.ProcessedData = cloneProcessedData(base.ProcessedData)
		page.ProcessedData["qualified_leads"] = pagedQualified
		page.ProcessedData["structured_leads"] = pagedStructured
		page.ProcessedData["all_leads"] = pagedAll
		page.Pagination = &task.PaginationMeta{
			Page:         pageNum + 1,
			TotalPages:   totalPages,
			LeadsPerPage: LeadsPerPage,
			TotalLeads:   totalLeads,
			CurrentChunk: map[string]int{
				"qualified_leads": len(pagedQualified),
				"structured_leads": len(pagedStructured),
				"all_leads":        len(pagedAll),
			},
		}
		page.TraceID = base.TraceID

		pages = append(pages, page)
	}

	return pages
}

func cloneProcessedData(src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(src)+3)
	for k, v := range src {
		out[k] = v
	}
	return out
}
