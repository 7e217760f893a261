// Package contacts discovers decision-maker contacts through an external
// scraper binary. The binary drives a headless browser, so it runs as a
// subprocess with a hard kill deadline.
package contacts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-worker/internal/isolate"
)

// Contact is one discovered person at a company.
type Contact struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	Email   string `json:"email,omitempty"`
	Source  string `json:"source,omitempty"`
	Profile string `json:"profile,omitempty"`
}

// Scraper finds contacts for a company.
type Scraper interface {
	FindContacts(ctx context.Context, companyName, website string) ([]Contact, error)
}

var _ Scraper = (*BinaryScraper)(nil)

// BinaryScraper shells out to the contact-scraper CLI.
type BinaryScraper struct {
	binPath string
	timeout time.Duration
	grace   time.Duration
}

// NewBinaryScraper creates a scraper. If binPath is empty,
// "contact-scraper" is used.
func NewBinaryScraper(binPath string, timeout, grace time.Duration) *BinaryScraper {
	if binPath == "" {
		binPath = "contact-scraper"
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &BinaryScraper{binPath: binPath, timeout: timeout, grace: grace}
}

// FindContacts runs the scraper and decodes its JSON output. The scraper
// prints a JSON array of contacts on stdout.
func (s *BinaryScraper) FindContacts(ctx context.Context, companyName, website string) ([]Contact, error) {
	args := []string{"--company", companyName, "--format", "json"}
	if website != "" {
		args = append(args, "--website", website)
	}

	res, err := isolate.Exec(ctx, "contact-scraper", s.timeout, s.grace, s.binPath, args...)
	if err != nil {
		return nil, err
	}

	var contacts []Contact
	if err := json.Unmarshal([]byte(res.Stdout), &contacts); err != nil {
		return nil, eris.Wrap(err, "contacts: decode scraper output")
	}

	zap.L().Debug("contacts: scraper finished",
		zap.String("company", companyName), zap.Int("found", len(contacts)))
	return contacts, nil
}
