package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/samber/lo"

	"tts-batch/internal/domain"
)

// ListModels fetches the model catalog, sorted by group name and model name.
func (c *Client) ListModels(ctx context.Context) ([]domain.ModelGroup, error) {
	target := c.baseURL + "/tts/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: http.MethodGet, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "read " + http.MethodGet, URL: target, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newHTTPError(resp.StatusCode, data)
	}

	return ParseModelGroups(data)
}

// ParseModelGroups validates and decodes a /tts/models payload.
func ParseModelGroups(data []byte) ([]domain.ModelGroup, error) {
	if err := validateJSON(modelsSchema, data); err != nil {
		return nil, err
	}

	var groups []domain.ModelGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("decode models: %v", err), Body: truncate(string(data))}
	}
	return SortGroups(groups), nil
}

// SortGroups returns groups ordered by name with each model list sorted.
// Nil language and model lists become empty.
func SortGroups(groups []domain.ModelGroup) []domain.ModelGroup {
	sorted := make([]domain.ModelGroup, 0, len(groups))
	for _, group := range groups {
		models := append([]string{}, group.Models...)
		sort.Strings(models)
		languages := append([]string{}, group.Language...)
		sorted = append(sorted, domain.ModelGroup{Name: group.Name, Language: languages, Models: models})
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})
	return sorted
}

// CommonLanguages returns the languages every selected group supports, in
// the order of the first selected group. Selections naming unknown groups
// contribute an empty list.
func CommonLanguages(groups []domain.ModelGroup, selections []domain.Selection) []string {
	if len(selections) == 0 {
		return []string{}
	}

	byName := lo.KeyBy(groups, func(group domain.ModelGroup) string {
		return group.Name
	})
	names := lo.Uniq(lo.Map(selections, func(sel domain.Selection, _ int) string {
		return sel.GroupName
	}))

	common := append([]string{}, byName[names[0]].Language...)
	for _, name := range names[1:] {
		next := byName[name].Language
		common = lo.Filter(common, func(language string, _ int) bool {
			return lo.Contains(next, language)
		})
	}
	return common
}
