// Package htmltable implements the HTML-flavored half of spec.md §1 ("Each
// upstream server exposes a distinct HTTP/JSON (or HTML) endpoint"): a
// source whose only public interface is a rendered HTML table of bans, one
// row per ban, scraped with github.com/PuerkitoBio/goquery. It never
// exposes a stable upstream ban identifier, so SupportsBanIDs is always
// false and the reconciler falls back to the tuple identity relation
// (spec.md §4.1).
package htmltable

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.banwarden.dev/banwarden/internal/adapter"
	"go.banwarden.dev/banwarden/internal/joberr"
	"go.banwarden.dev/banwarden/internal/models"
)

const kind = "html_table"

func init() {
	adapter.Register(kind, New)
}

const defaultRequestTimeout = 30 * time.Second

// Adapter scrapes one HTML ban-listing page.
type Adapter struct {
	sourceName string
	url        string
	rowSel     string
	client     *http.Client
}

// New builds an Adapter from its config section. Recognized keys:
//
//	url        the ban-listing page to GET
//	rowSelector  a goquery selector for one ban row, default "table.bans tbody tr"
func New(name string, cfg adapter.Config) (adapter.Adapter, error) {
	url, ok := cfg["url"]
	if !ok || strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("htmltable adapter %q: missing required \"url\" config key", name)
	}

	rowSel := cfg["rowSelector"]
	if rowSel == "" {
		rowSel = "table.bans tbody tr"
	}

	return &Adapter{
		sourceName: name,
		url:        url,
		rowSel:     rowSel,
		client:     &http.Client{Timeout: defaultRequestTimeout},
	}, nil
}

func (a *Adapter) Sources() map[string]models.BanSource {
	return map[string]models.BanSource{a.sourceName: {Name: a.sourceName}}
}

func (a *Adapter) SupportsBanIDs() bool { return false }

func (a *Adapter) FetchAll(ctx context.Context) ([]models.Ban, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, joberr.SourceUnavailable(a.sourceName, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, joberr.SourceUnavailable(a.sourceName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, joberr.SourceUnavailable(a.sourceName, fmt.Errorf("HTTP %d from %s", resp.StatusCode, a.url))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, joberr.MalformedPayload(a.sourceName, fmt.Errorf("parse html: %w", err))
	}

	var bans []models.Ban
	var parseErr error
	doc.Find(a.rowSel).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		ban, err := a.parseRow(row)
		if err != nil {
			parseErr = err
			return false
		}
		bans = append(bans, ban)
		return true
	})
	if parseErr != nil {
		return nil, joberr.MalformedPayload(a.sourceName, parseErr)
	}

	return bans, nil
}

// FetchNew re-scrapes the whole page: an HTML table offers no "changed
// since" query. Overshooting is safe per spec.md §4.2.
func (a *Adapter) FetchNew(ctx context.Context) ([]models.Ban, error) {
	return a.FetchAll(ctx)
}

func (a *Adapter) parseRow(row *goquery.Selection) (models.Ban, error) {
	cell := func(class string) string {
		return strings.TrimSpace(row.Find("." + class).First().Text())
	}

	ckeyVal := cell("ckey")
	if ckeyVal == "" {
		return models.Ban{}, fmt.Errorf("row missing .ckey cell")
	}
	bannedBy := cell("admin")
	reason := cell("reason")

	bannedOnRaw := cell("date")
	bannedOn, err := time.Parse("2006-01-02 15:04:05", bannedOnRaw)
	if err != nil {
		return models.Ban{}, fmt.Errorf("row date %q: %w", bannedOnRaw, err)
	}

	var expires *time.Time
	if expRaw := cell("expires"); expRaw != "" && expRaw != "never" {
		t, err := time.Parse("2006-01-02 15:04:05", expRaw)
		if err != nil {
			return models.Ban{}, fmt.Errorf("row expires %q: %w", expRaw, err)
		}
		expires = &t
	}

	var unbannedBy *string
	if ub := cell("unbanned-by"); ub != "" {
		unbannedBy = &ub
	}

	banType := models.BanTypeServer
	var jobBans []models.JobBan
	if jobsRaw := cell("jobs"); jobsRaw != "" {
		banType = models.BanTypeJob
		for _, job := range strings.Split(jobsRaw, ",") {
			job = strings.TrimSpace(job)
			if job != "" {
				jobBans = append(jobBans, models.JobBan{Job: job})
			}
		}
	}

	return models.Ban{
		Ckey:       ckeyVal,
		BanType:    banType,
		BannedOn:   bannedOn.UTC(),
		BannedBy:   bannedBy,
		Expires:    expires,
		Reason:     reason,
		UnbannedBy: unbannedBy,
		JobBans:    jobBans,
		Source:     &models.BanSource{Name: a.sourceName},
	}, nil
}
