// Package nflverse downloads NFL schedules and final scores from the nflverse
// games.csv dataset.
package nflverse

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Game is one row of games.csv. Scores are nil until the game is played.
type Game struct {
	ID        string
	Season    int
	GameType  string
	Week      int
	GameDay   time.Time
	HomeTeam  string
	AwayTeam  string
	HomeScore *int
	AwayScore *int
}

// Final reports whether both scores are known.
func (g Game) Final() bool {
	return g.HomeScore != nil && g.AwayScore != nil
}

// Client fetches games.csv.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a Client for the CSV at url.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{url: url, httpClient: &http.Client{Timeout: timeout}}
}

// Games downloads games.csv and returns the rows of the given seasons, or
// every row when seasons is empty.
func (c *Client) Games(ctx context.Context, seasons []int) ([]Game, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("nflverse: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nflverse: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("nflverse: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	games, err := ParseGames(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(seasons) == 0 {
		return games, nil
	}
	return slices.DeleteFunc(games, func(g Game) bool {
		return !slices.Contains(seasons, g.Season)
	}), nil
}

var requiredColumns = []string{"game_id", "season", "gameday", "home_team", "away_team", "home_score", "away_score"}

// ParseGames decodes games.csv. Columns are located by header name.
func ParseGames(r io.Reader) ([]Game, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("nflverse: read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("nflverse: missing column %q", name)
		}
	}
	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var games []Game
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("nflverse: line %d: %w", line, err)
		}

		season, err := strconv.Atoi(get(rec, "season"))
		if err != nil {
			return nil, fmt.Errorf("nflverse: line %d: season: %w", line, err)
		}
		day, err := time.Parse(time.DateOnly, get(rec, "gameday"))
		if err != nil {
			return nil, fmt.Errorf("nflverse: line %d: gameday: %w", line, err)
		}
		week, _ := strconv.Atoi(get(rec, "week"))

		games = append(games, Game{
			ID:        get(rec, "game_id"),
			Season:    season,
			GameType:  get(rec, "game_type"),
			Week:      week,
			GameDay:   day,
			HomeTeam:  get(rec, "home_team"),
			AwayTeam:  get(rec, "away_team"),
			HomeScore: parseScore(get(rec, "home_score")),
			AwayScore: parseScore(get(rec, "away_score")),
		})
	}
	return games, nil
}

// parseScore returns nil for blank or "NA" cells.
func parseScore(s string) *int {
	if s == "" || s == "NA" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	v := int(f)
	return &v
}
