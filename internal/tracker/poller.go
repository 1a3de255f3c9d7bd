package tracker

import (
	"context"

	"jobwatch/pkg/gateway"
	"jobwatch/pkg/model"
)

const defaultPollPageSize = 50

// PollResult is the answer for one handle: a status or a transient error.
type PollResult struct {
	Status gateway.RemoteStatus
	Err    error
}

// Poller batches status lookups against a gateway in bounded pages.
type Poller struct {
	gw       gateway.Gateway
	pageSize int
}

// NewPoller returns a Poller issuing at most pageSize handles per call.
func NewPoller(gw gateway.Gateway, pageSize int) *Poller {
	if pageSize < 1 {
		pageSize = defaultPollPageSize
	}
	return &Poller{gw: gw, pageSize: pageSize}
}

// Poll returns one result per handle. A failing page marks all of its
// handles with a *PollError; so does a handle the gateway left out.
func (p *Poller) Poll(ctx context.Context, handles []model.JobHandle) map[model.JobHandle]PollResult {
	results := make(map[model.JobHandle]PollResult, len(handles))

	for start := 0; start < len(handles); start += p.pageSize {
		end := start + p.pageSize
		if end > len(handles) {
			end = len(handles)
		}
		page := handles[start:end]

		statuses, err := p.gw.Poll(ctx, page)
		for _, h := range page {
			if err != nil {
				results[h] = PollResult{Err: &PollError{Handle: h, Err: err}}
				continue
			}
			st, ok := statuses[h]
			if !ok {
				results[h] = PollResult{Err: &PollError{Handle: h}}
				continue
			}
			results[h] = PollResult{Status: st}
		}
	}
	return results
}
