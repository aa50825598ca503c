// Package ssjson implements the one generic paginated-JSON source shape
// spec.md §6 documents:
//
//	GET /bans/{perPage}/{page}
//	200 → { "value": { "bans": [ ... ], "lastPage": <int> } }
//
// It is grounded in the teacher's internal/core/remote_ban_sync.go (a plain
// http.Client with a fixed timeout, no retry — spec.md §7 makes retrying the
// scheduler's job, not the adapter's) and in cmd/server/main.go's use of
// golang.org/x/sync/errgroup for bounded concurrency.
package ssjson

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.banwarden.dev/banwarden/internal/adapter"
	"go.banwarden.dev/banwarden/internal/joberr"
	"go.banwarden.dev/banwarden/internal/models"
	"golang.org/x/sync/errgroup"
)

const kind = "ss_json"

func init() {
	adapter.Register(kind, New)
}

const (
	defaultPerPage        = 200
	defaultFanOut         = 6
	defaultRequestTimeout = 30 * time.Second
)

// Source is a sub-community hosted behind one base URL that this adapter
// instance owns.
type Source struct {
	Name    string
	BaseURL string
}

// Adapter fetches bans from one or more ss_json-shaped upstreams.
type Adapter struct {
	instanceName   string
	sources        []Source
	supportsBanIDs bool
	perPage        int
	fanOut         int
	client         *http.Client
}

// New builds an Adapter from its config section. Recognized keys:
//
//	sources       comma-separated "name=baseURL" pairs
//	supportsIds   "true" (default) or "false"
//	perPage       page size, default 200
//	fanOut        max concurrent page requests, default 6 (spec.md §4.2)
func New(name string, cfg adapter.Config) (adapter.Adapter, error) {
	raw, ok := cfg["sources"]
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("ssjson adapter %q: missing required \"sources\" config key", name)
	}

	var sources []Source
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		nameURL := strings.SplitN(pair, "=", 2)
		if len(nameURL) != 2 {
			return nil, fmt.Errorf("ssjson adapter %q: malformed source entry %q, want name=url", name, pair)
		}
		sources = append(sources, Source{Name: strings.TrimSpace(nameURL[0]), BaseURL: strings.TrimRight(strings.TrimSpace(nameURL[1]), "/")})
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("ssjson adapter %q: \"sources\" produced zero entries", name)
	}

	perPage := defaultPerPage
	if v, ok := cfg["perPage"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			perPage = n
		}
	}

	fanOut := defaultFanOut
	if v, ok := cfg["fanOut"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			fanOut = n
		}
	}

	supportsBanIDs := true
	if v, ok := cfg["supportsIds"]; ok {
		supportsBanIDs = v != "false"
	}

	return &Adapter{
		instanceName:   name,
		sources:        sources,
		supportsBanIDs: supportsBanIDs,
		perPage:        perPage,
		fanOut:         fanOut,
		client:         &http.Client{Timeout: defaultRequestTimeout},
	}, nil
}

func (a *Adapter) Sources() map[string]models.BanSource {
	out := make(map[string]models.BanSource, len(a.sources))
	for _, s := range a.sources {
		out[s.Name] = models.BanSource{Name: s.Name}
	}
	return out
}

func (a *Adapter) SupportsBanIDs() bool { return a.supportsBanIDs }

// FetchAll pages through every configured source's ban listing to exhaustion.
func (a *Adapter) FetchAll(ctx context.Context) ([]models.Ban, error) {
	var all []models.Ban
	for _, src := range a.sources {
		bans, err := a.fetchSource(ctx, src)
		if err != nil {
			return nil, err
		}
		all = append(all, bans...)
	}
	return all, nil
}

// FetchNew returns the same data as FetchAll: this upstream shape exposes no
// cheaper "recently changed" query, so every incremental refresh overshoots
// by re-fetching everything. Spec.md §4.2 explicitly allows this ("emph
// overshooting is safe — the reconciler is idempotent on identical inputs").
func (a *Adapter) FetchNew(ctx context.Context) ([]models.Ban, error) {
	return a.FetchAll(ctx)
}

type pageEnvelope struct {
	Value struct {
		Bans     []wireBan `json:"bans"`
		LastPage int       `json:"lastPage"`
	} `json:"value"`
}

type wireBan struct {
	ID             *int64   `json:"id"`
	BanApplyTime   string   `json:"banApplyTime"`
	BanExpireTime  *string  `json:"banExpireTime"`
	AdminCkey      string   `json:"adminCkey"`
	BannedCkey     string   `json:"bannedCkey"`
	Role           []string `json:"role"`
	Reason         string   `json:"reason"`
	UnbannedByCkey *string  `json:"unbannedByCkey"`
}

func (a *Adapter) fetchSource(ctx context.Context, src Source) ([]models.Ban, error) {
	first, err := a.fetchPage(ctx, src, 0)
	if err != nil {
		return nil, err
	}

	bans := make([]models.Ban, 0, len(first.Value.Bans))
	for _, wb := range first.Value.Bans {
		ban, err := toBan(src.Name, wb)
		if err != nil {
			return nil, joberr.MalformedPayload(src.Name, err)
		}
		bans = append(bans, ban)
	}

	lastPage := first.Value.LastPage
	if lastPage <= 0 {
		return bans, nil
	}

	pageBans := make([][]models.Ban, lastPage+1)
	pageBans[0] = bans

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(a.fanOut)
	for page := 1; page <= lastPage; page++ {
		page := page
		group.Go(func() error {
			env, err := a.fetchPage(gctx, src, page)
			if err != nil {
				return err
			}
			converted := make([]models.Ban, 0, len(env.Value.Bans))
			for _, wb := range env.Value.Bans {
				ban, err := toBan(src.Name, wb)
				if err != nil {
					return joberr.MalformedPayload(src.Name, err)
				}
				converted = append(converted, ban)
			}
			pageBans[page] = converted
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	for _, page := range pageBans[1:] {
		bans = append(bans, page...)
	}
	return bans, nil
}

func (a *Adapter) fetchPage(ctx context.Context, src Source, page int) (*pageEnvelope, error) {
	url := fmt.Sprintf("%s/bans/%d/%d", src.BaseURL, a.perPage, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, joberr.SourceUnavailable(src.Name, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, joberr.SourceUnavailable(src.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, joberr.SourceUnavailable(src.Name, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url))
	}

	var env pageEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, joberr.MalformedPayload(src.Name, fmt.Errorf("decode %s: %w", url, err))
	}
	return &env, nil
}

func toBan(sourceName string, wb wireBan) (models.Ban, error) {
	bannedOn, err := parseUpstreamTime(wb.BanApplyTime)
	if err != nil {
		return models.Ban{}, fmt.Errorf("banApplyTime: %w", err)
	}

	var expires *time.Time
	if wb.BanExpireTime != nil && *wb.BanExpireTime != "" {
		t, err := parseUpstreamTime(*wb.BanExpireTime)
		if err != nil {
			return models.Ban{}, fmt.Errorf("banExpireTime: %w", err)
		}
		expires = &t
	}

	if len(wb.Role) == 0 {
		return models.Ban{}, fmt.Errorf("ban %v has empty role array", wb.ID)
	}

	banType := models.BanTypeJob
	var jobBans []models.JobBan
	if wb.Role[0] == "Server" {
		banType = models.BanTypeServer
	} else {
		jobBans = make([]models.JobBan, len(wb.Role))
		for i, job := range wb.Role {
			jobBans[i] = models.JobBan{Job: job}
		}
	}

	return models.Ban{
		SourceBanID: wb.ID,
		Ckey:        wb.BannedCkey,
		BanType:     banType,
		BannedOn:    bannedOn,
		BannedBy:    wb.AdminCkey,
		Expires:     expires,
		Reason:      wb.Reason,
		UnbannedBy:  wb.UnbannedByCkey,
		JobBans:     jobBans,
		Source:      &models.BanSource{Name: sourceName},
	}, nil
}

// parseUpstreamTime accepts RFC3339 and coerces bare (unqualified) local
// timestamps to UTC, per spec.md §4.2 point 2 ("coercing ambiguous local
// times if the upstream does not qualify them").
func parseUpstreamTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	const noZone = "2006-01-02T15:04:05"
	if t, err := time.Parse(noZone, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
