package crawler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/praetorian-inc/orgcrawler/pkg/orgs"
)

// Timer measures one unit of crawler work. The timestamps are wall clock
// values for reporting; the elapsed figure comes from the monotonic
// clock.
type Timer struct {
	StartTime   time.Time `json:"start_time" yaml:"start_time"`
	EndTime     time.Time `json:"end_time" yaml:"end_time"`
	ElapsedTime float64   `json:"elapsed_time" yaml:"elapsed_time"`
}

// Start records the beginning of the timed section.
func (t *Timer) Start() {
	t.StartTime = time.Now()
}

// Stop records the end of the timed section and computes the elapsed
// seconds. Stopping a timer that never started is a no-op.
func (t *Timer) Stop() {
	if t.StartTime.IsZero() {
		return
	}
	t.EndTime = time.Now()
	t.ElapsedTime = t.EndTime.Sub(t.StartTime).Seconds()
}

// PayloadError describes a payload failure on one (account, region)
// task.
type PayloadError struct {
	PayloadName string `json:"payload_name" yaml:"payload_name"`
	Account     string `json:"account" yaml:"account"`
	Region      string `json:"region" yaml:"region"`
	Message     string `json:"message" yaml:"message"`
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("payload %s failed in %s/%s: %s", e.PayloadName, e.Account, e.Region, e.Message)
}

// Response is the outcome of one payload call. Exactly one of
// PayloadOutput and ErrorInfo is set.
type Response struct {
	Region        string        `json:"region" yaml:"region"`
	Account       *orgs.Account `json:"account" yaml:"account"`
	PayloadOutput any           `json:"payload_output,omitempty" yaml:"payload_output,omitempty"`
	ErrorInfo     *PayloadError `json:"error_info,omitempty" yaml:"error_info,omitempty"`
	Timer         Timer         `json:"timer" yaml:"timer"`
}

// Execution records one payload run across the crawler's matrix.
type Execution struct {
	PayloadName string      `json:"payload_name" yaml:"payload_name"`
	ExecutionID string      `json:"execution_id" yaml:"execution_id"`
	Responses   []*Response `json:"responses" yaml:"responses"`
	Errors      bool        `json:"errors" yaml:"errors"`
	Timer       Timer       `json:"timer" yaml:"timer"`

	mu sync.Mutex
}

// appendResponse is the one collection point workers write concurrently.
func (e *Execution) appendResponse(response *Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Responses = append(e.Responses, response)
	if response.ErrorInfo != nil {
		e.Errors = true
	}
}

// ErrorCount returns how many responses carry error info.
func (e *Execution) ErrorCount() int {
	count := 0
	for _, response := range e.Responses {
		if response.ErrorInfo != nil {
			count++
		}
	}
	return count
}

// FirstError returns the first recorded payload error, or nil when every
// task succeeded.
func (e *Execution) FirstError() *PayloadError {
	for _, response := range e.Responses {
		if response.ErrorInfo != nil {
			return response.ErrorInfo
		}
	}
	return nil
}

// PurgeEmptyResponses filters an execution's responses down to those
// whose payload output is a single-entry map holding a non-empty value,
// dropping obviously empty results before display.
func PurgeEmptyResponses(execution *Execution) []*Response {
	kept := []*Response{}
	for _, response := range execution.Responses {
		if singleEntryWithContent(response.PayloadOutput) {
			kept = append(kept, response)
		}
	}
	return kept
}

func singleEntryWithContent(output any) bool {
	switch mapped := output.(type) {
	case map[string]any:
		if len(mapped) != 1 {
			return false
		}
		for _, value := range mapped {
			switch v := value.(type) {
			case nil:
				return false
			case []any:
				return len(v) > 0
			case []string:
				return len(v) > 0
			}
		}
		return true
	case map[string][]string:
		if len(mapped) != 1 {
			return false
		}
		for _, value := range mapped {
			return len(value) > 0
		}
	}
	return false
}

// AccountReport groups one account's outputs by region for display.
type AccountReport struct {
	Account string         `json:"Account" yaml:"Account"`
	Regions []RegionOutput `json:"Regions" yaml:"Regions"`
}

type RegionOutput struct {
	Region string `json:"Region" yaml:"Region"`
	Output any    `json:"Output" yaml:"Output"`
}

// FormatResponses groups an execution's non-empty responses by account
// name, sorted ascending, with one entry per region.
func FormatResponses(execution *Execution) []AccountReport {
	byAccount := map[string][]*Response{}
	for _, response := range PurgeEmptyResponses(execution) {
		name := response.Account.Name
		byAccount[name] = append(byAccount[name], response)
	}

	names := make([]string, 0, len(byAccount))
	for name := range byAccount {
		names = append(names, name)
	}
	sort.Strings(names)

	reports := []AccountReport{}
	for _, name := range names {
		report := AccountReport{Account: name}
		for _, response := range byAccount[name] {
			report.Regions = append(report.Regions, RegionOutput{
				Region: response.Region,
				Output: response.PayloadOutput,
			})
		}
		reports = append(reports, report)
	}
	return reports
}
