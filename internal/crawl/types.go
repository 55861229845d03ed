// Package crawl defines core types shared across subsystems.
package crawl

import "time"

// Kind identifies which document family a fetch or extraction targets.
type Kind string

// Target kinds recognized by discovery and extraction.
const (
	KindRules   Kind = "rules"
	KindPricing Kind = "pricing"
)

// Kinds lists every target kind in the order the orchestrator processes them.
var Kinds = []Kind{KindRules, KindPricing}

// Firm is the subject entity being crawled. Read-only input to the pipeline.
type Firm struct {
	ID          string `json:"firm_id"`
	WebsiteRoot string `json:"website_root"`
}

// FetchStatus classifies the terminal outcome of one logical fetch.
type FetchStatus string

// Fetch outcome values. Only StatusOK carries a usable body.
const (
	StatusOK             FetchStatus = "ok"
	StatusHTTPError      FetchStatus = "http_error"
	StatusNetworkError   FetchStatus = "network_error"
	StatusBudgetExceeded FetchStatus = "budget_exceeded"
	StatusCaptchaBlocked FetchStatus = "captcha_blocked"
	StatusEmptyBody      FetchStatus = "empty_body"
)

// FetchResult is the transient outcome of one logical "get me this URL" operation.
// It is never persisted; evidence rows are derived from it.
type FetchResult struct {
	URL         string
	FinalURL    string
	StatusCode  int
	Body        []byte
	ContentType string
	Truncated   bool
	Rendered    bool
	Repaired    bool
	Status      FetchStatus
	ErrText     string

	// Text is the extracted plain text (HTML main text or PDF text layer/OCR).
	Text string
	// Captcha is set when a challenge was detected on the page.
	Captcha *CaptchaSignal
}

// OK reports whether the fetch produced a usable body.
func (r FetchResult) OK() bool {
	return r.Status == StatusOK && len(r.Body) > 0
}

// EvidenceRecord is one immutable row of the evidence ledger.
// (FirmID, Key, ContentHash) is unique; duplicate inserts are no-ops.
type EvidenceRecord struct {
	FirmID      string
	Key         string
	SourceURL   string
	ContentHash string
	ObjectURI   string
	Excerpt     string
	CreatedAt   time.Time
}

// Datapoint is one append-only extracted value for a firm/key pair.
// The current value for a key is the most recently created row.
type Datapoint struct {
	FirmID       string
	Key          string
	Value        any
	ValueText    string
	SourceURL    string
	EvidenceHash string
	CreatedAt    time.Time
}

// CandidateURL is a ranked, not-yet-fetched page believed relevant to a kind.
type CandidateURL struct {
	URL   string
	Score float64
}

// CaptchaKind classifies a detected bot challenge.
type CaptchaKind string

// Recognized challenge families.
const (
	CaptchaRecaptcha  CaptchaKind = "recaptcha"
	CaptchaHCaptcha   CaptchaKind = "hcaptcha"
	CaptchaCloudflare CaptchaKind = "cloudflare"
	CaptchaGeneric    CaptchaKind = "generic"
)

// CaptchaSignal records a challenge observed on a page, solved or not.
type CaptchaSignal struct {
	URL     string      `json:"url"`
	Kind    CaptchaKind `json:"kind"`
	SiteKey string      `json:"site_key,omitempty"`
	Solved  bool        `json:"solved"`
	Outcome string      `json:"outcome"`
}
