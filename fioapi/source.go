package fioapi

import (
	"context"

	"github.com/lumafield/fio-dashboard/fiomark"
)

const defaultPageSize = MaxListLimit

// Source adapts a Client to the record source a dashboard is built from,
// paging through the listing on behalf of one caller.
type Source struct {
	Client Client
	Auth   AuthContext
	// PageSize defaults to the largest page the backend serves.
	PageSize int
	// MaxRecords stops paging early; zero means no limit.
	MaxRecords int
	// Strict drops records whose raw JSON fails validation before decoding
	// can paper over missing fields.
	Strict bool
}

func (s *Source) FetchTestRuns(ctx context.Context, filters fiomark.FilterState) ([]fiomark.TestRun, error) {
	pageSize := s.PageSize
	if pageSize <= 0 || pageSize > MaxListLimit {
		pageSize = defaultPageSize
	}

	var records []fiomark.TestRun
	for offset := 0; ; offset += pageSize {
		resp, err := s.Client.ListTestRuns(ctx, s.Auth, ListOptions{
			Filters: filters,
			Limit:   pageSize,
			Offset:  offset,
		})
		if err != nil {
			return nil, err
		}

		page := resp.Items
		if s.Strict {
			page = resp.ValidItems()
		}
		records = append(records, page...)

		if s.MaxRecords > 0 && len(records) >= s.MaxRecords {
			return records[:s.MaxRecords], nil
		}
		// a bare array carries no total, so only a full page hints at more
		received := len(resp.Items) + resp.Skipped
		if received != pageSize {
			return records, nil
		}
		if resp.Total != nil && offset+received >= *resp.Total {
			return records, nil
		}
	}
}
