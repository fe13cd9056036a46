// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package modelcache maintains a time-bounded view of the Bedrock
// foundation models and inference profiles available to this proxy, and
// resolves client-supplied model strings (e.g. "anthropic/claude-opus-4-6"
// or a raw Bedrock id) to the identifier that must appear in the outbound
// Invoke path.
package modelcache

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aigwproxy/bedrock-openai-proxy/internal/apischema/bedrock"
)

// Model is one entry of the /v1/models listing, in the shape this proxy
// exposes northbound.
type Model struct {
	ID      string
	Created int64
	OwnedBy string
}

// ErrorKind discriminates the ways cache population or resolution can
// fail.
type ErrorKind int

// The kinds of Error this package raises.
const (
	InvalidURL ErrorKind = iota
	RequestFailed
	ModelNotFound
)

// Error is the typed error this package raises; Status is only
// meaningful for RequestFailed.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	switch e.Kind {
	case RequestFailed:
		return fmt.Sprintf("modelcache: request failed (status %d): %s", e.Status, e.Message)
	case ModelNotFound:
		return fmt.Sprintf("modelcache: model not found: %s", e.Message)
	default:
		return fmt.Sprintf("modelcache: invalid url: %s", e.Message)
	}
}

// Fetcher is the control-plane collaborator this cache repopulates
// itself from. Implemented by internal/bedrockclient.Client.
type Fetcher interface {
	ListFoundationModels(ctx context.Context) (bedrock.ListFoundationModelsResponse, error)
	ListInferenceProfiles(ctx context.Context) (bedrock.ListInferenceProfilesResponse, error)
}

type entry struct {
	models           []Model
	clientToBedrock  map[string]string
	bedrockToProfile map[string]string
	fetchedAt        time.Time
}

// Cache is the process-wide, internally-synchronized model cache.
// Repopulation under contention may run more than once concurrently; the
// result is idempotent, so no single-flight guarantee is required.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration

	mu    sync.RWMutex
	entry entry
}

// New constructs a Cache backed by fetcher, with entries considered
// fresh for ttl.
func New(fetcher Fetcher, ttl time.Duration) *Cache {
	return &Cache{fetcher: fetcher, ttl: ttl}
}

func (c *Cache) fresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.entry.fetchedAt.IsZero() && time.Since(c.entry.fetchedAt) < c.ttl
}

func (c *Cache) snapshot() entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entry
}

// ensureFresh repopulates the cache if stale. Errors fetching the
// foundation-model list propagate; errors fetching inference profiles
// are swallowed and the profile mapping is left empty (best-effort).
func (c *Cache) ensureFresh(ctx context.Context) error {
	if c.fresh() {
		return nil
	}

	fm, err := c.fetcher.ListFoundationModels(ctx)
	if err != nil {
		return err
	}
	models, clientToBedrock := translateFoundationModels(fm)

	bedrockToProfile := map[string]string{}
	if profiles, err := c.fetcher.ListInferenceProfiles(ctx); err == nil {
		bedrockToProfile = mergeInferenceProfiles(profiles)
	}

	c.mu.Lock()
	c.entry = entry{
		models:           models,
		clientToBedrock:  clientToBedrock,
		bedrockToProfile: bedrockToProfile,
		fetchedAt:        time.Now(),
	}
	c.mu.Unlock()
	return nil
}

// List returns the cached model list, repopulating first if stale.
func (c *Cache) List(ctx context.Context) ([]Model, error) {
	if err := c.ensureFresh(ctx); err != nil {
		return nil, err
	}
	return c.snapshot().models, nil
}

// Get returns the single cached model with the given id.
func (c *Cache) Get(ctx context.Context, id string) (Model, error) {
	models, err := c.List(ctx)
	if err != nil {
		return Model{}, err
	}
	for _, m := range models {
		if m.ID == id {
			return m, nil
		}
	}
	return Model{}, &Error{Kind: ModelNotFound, Message: id}
}

// Resolve maps a client-supplied model string to the Bedrock runtime id
// (base model id or, if one exists, its inference profile id) that must
// appear in the outbound Invoke path.
func (c *Cache) Resolve(ctx context.Context, clientModel string) (string, error) {
	base := strings.TrimPrefix(clientModel, "anthropic/")

	var bedrockID string
	if strings.Contains(base, "anthropic.") {
		bedrockID = base
	} else {
		if err := c.ensureFresh(ctx); err != nil {
			return "", err
		}
		snap := c.snapshot()
		if id, ok := snap.clientToBedrock[base]; ok {
			bedrockID = id
		} else {
			normalized := strings.ReplaceAll(base, ".", "-")
			found := ""
			for _, m := range snap.models {
				if strings.HasPrefix(m.ID, normalized) {
					found = m.ID
					break
				}
			}
			if found == "" {
				return "", &Error{Kind: ModelNotFound, Message: clientModel}
			}
			bedrockID = snap.clientToBedrock[found]
		}
	}

	if profile, ok := c.snapshot().bedrockToProfile[bedrockID]; ok {
		return profile, nil
	}
	return bedrockID, nil
}

var trailingVersionSuffix = regexp.MustCompile(`-v\d+:\d+$`)
var embeddedDate = regexp.MustCompile(`\d{8}`)

// translateFoundationModels derives the northbound Model list and the
// client→Bedrock id map, per the foundation-model translation rules.
func translateFoundationModels(resp bedrock.ListFoundationModelsResponse) ([]Model, map[string]string) {
	models := make([]Model, 0, len(resp.ModelSummaries))
	clientToBedrock := make(map[string]string, len(resp.ModelSummaries))

	for _, s := range resp.ModelSummaries {
		if s.ModelLifecycle.Status != "ACTIVE" {
			continue
		}
		userFacing := strings.TrimPrefix(s.ModelID, "anthropic.")
		userFacing = trailingVersionSuffix.ReplaceAllString(userFacing, "")

		models = append(models, Model{
			ID:      userFacing,
			Created: embeddedUnixSeconds(s.ModelID),
			OwnedBy: strings.ToLower(s.ProviderName),
		})
		clientToBedrock[userFacing] = s.ModelID
	}

	sort.SliceStable(models, func(i, j int) bool { return models[i].Created > models[j].Created })
	return models, clientToBedrock
}

// embeddedUnixSeconds scans id for the first 8-digit run, interprets it
// as YYYYMMDD, range-checks it, and converts it to Unix seconds via
// integer proleptic-Gregorian arithmetic. Returns 0 if no valid date is
// embedded.
func embeddedUnixSeconds(id string) int64 {
	digits := embeddedDate.FindString(id)
	if digits == "" {
		return 0
	}
	year, _ := strconv.ParseInt(digits[0:4], 10, 64)
	month, _ := strconv.ParseInt(digits[4:6], 10, 64)
	day, _ := strconv.ParseInt(digits[6:8], 10, 64)
	if year < 1970 || year > 2100 || month < 1 || month > 12 || day < 1 || day > 31 {
		return 0
	}
	return daysFromCivil(year, month, day) * 86400
}

// daysFromCivil converts a proleptic-Gregorian (y, m, d) to the count of
// days since the Unix epoch (1970-01-01), using Howard Hinnant's
// date-algorithm formulation. No time.Time or timezone-sensitive API is
// involved.
func daysFromCivil(y, m, d int64) int64 {
	if m <= 2 {
		y--
	}
	era := y
	if y < 0 {
		era -= 399
	}
	era /= 400
	yoe := y - era*400 // [0, 399]
	var mp int64
	if m > 2 {
		mp = m - 3
	} else {
		mp = m + 9
	}
	doy := (153*mp+2)/5 + d - 1             // [0, 365]
	doe := yoe*365 + yoe/4 - yoe/100 + doy // [0, 146096]
	return era*146097 + doe - 719468
}

// mergeInferenceProfiles derives the bedrock-id→profile-id mapping,
// keeping only ACTIVE Anthropic profiles.
func mergeInferenceProfiles(resp bedrock.ListInferenceProfilesResponse) map[string]string {
	out := map[string]string{}
	for _, p := range resp.InferenceProfileSummaries {
		if p.Status != "ACTIVE" || !strings.Contains(p.InferenceProfileID, "anthropic.") {
			continue
		}
		for _, m := range p.Models {
			idx := strings.LastIndex(m.ModelArn, "/")
			if idx < 0 {
				continue
			}
			bedrockID := m.ModelArn[idx+1:]
			out[bedrockID] = p.InferenceProfileID
		}
	}
	return out
}
